// Package commands implements the CLI commands for carwatch.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/carwatch/internal/config"
	"github.com/jmylchreest/carwatch/internal/logger"
	"github.com/jmylchreest/carwatch/internal/output"
	"github.com/jmylchreest/carwatch/pkg/carwatch"
)

var rootCmd = &cobra.Command{
	Use:   "carwatch",
	Short: "Track turbo.az vehicle listings and their price changes",
	Long: `Carwatch collects vehicle listings from turbo.az, stores every
observation and records price changes between runs.

Examples:
  # One run over all Kia listings, first 5 result pages
  carwatch scrape --make 23 --pages 5

  # What did the last run find?
  carwatch sessions list
  carwatch sessions show 12

  # Run every Monday and Friday at 08:30
  carwatch jobs create --name kia --kind weekly --time 08:30 --days 1,5 --make 23

  # Run the scheduler with a Prometheus endpoint
  carwatch serve --metrics-addr :9090`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default $HOME/.carwatch.yaml)")
	flags.Bool("debug", false, "enable debug logging")
	flags.BoolP("quiet", "q", false, "suppress progress output")
	flags.StringP("format", "f", "table", "output format: table, json, jsonl, yaml")
	flags.String("db", "", "database DSN (overrides storage.dsn)")
	flags.String("driver", "", "database driver: sqlite, postgres (overrides storage.driver)")

	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("quiet", flags.Lookup("quiet"))
	_ = viper.BindPFlag("storage.dsn", flags.Lookup("db"))
	_ = viper.BindPFlag("storage.driver", flags.Lookup("driver"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	config.Init(viper.GetViper(), cfgFile)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads configuration and sets up logging.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logError("%v", err)
		return config.Config{}, err
	}
	logger.Init(logger.Options{Debug: cfg.Debug, Quiet: cfg.Quiet})
	return cfg, nil
}

// openService builds the service from the loaded configuration.
func openService(ctx context.Context, opts ...carwatch.Option) (*carwatch.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	svc, err := carwatch.New(ctx, append([]carwatch.Option{carwatch.WithConfig(cfg)}, opts...)...)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return nil, err
	}
	return svc, nil
}

// render writes v to stdout in the --format chosen.
func render(cmd *cobra.Command, v any) error {
	name, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(name)
	if err != nil {
		return err
	}
	return output.Render(cmd.OutOrStdout(), format, v)
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// logInfo prints an info message to stderr (unless quiet mode).
func logInfo(format string, args ...any) {
	if !viper.GetBool("quiet") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
