package commands

import (
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Look up make and model ids for filters",
}

var catalogMakesCmd = &cobra.Command{
	Use:   "makes",
	Short: "List vehicle makes",
	Args:  cobra.NoArgs,
	RunE:  runCatalogMakes,
}

var catalogModelsCmd = &cobra.Command{
	Use:   "models <make-id>",
	Short: "List the models of a make",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogModels,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogMakesCmd, catalogModelsCmd)
	catalogCmd.PersistentFlags().Bool("refresh", false, "reload from the site even if the cache is fresh")
}

func runCatalogMakes(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
		if err := svc.RefreshCatalog(ctx); err != nil {
			return err
		}
	}
	makes, err := svc.Makes(ctx)
	if err != nil {
		return err
	}
	return render(cmd, makeList(makes))
}

func runCatalogModels(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
		if err := svc.RefreshCatalog(ctx); err != nil {
			return err
		}
	}
	models, err := svc.Models(ctx, args[0])
	if err != nil {
		return err
	}
	return render(cmd, modelList(models))
}
