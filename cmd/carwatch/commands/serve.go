package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/carwatch/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job scheduler and expose Prometheus metrics",
	Long: `Serve keeps the scheduler running until interrupted. Due jobs run one
at a time; on shutdown a job already running is allowed to finish.

Metrics are served at /metrics and a liveness probe at /healthz. Pass
--metrics-addr "" to disable the HTTP endpoint.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("metrics-addr", ":9090", "listen address for /metrics")
	flags.Duration("poll-interval", time.Minute, "how often to look for due jobs")

	_ = viper.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	_ = viper.BindPFlag("scheduler.poll_interval", flags.Lookup("poll-interval"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	var srv *http.Server
	if addr := svc.Config().Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			if !svc.SchedulerRunning() {
				http.Error(w, "scheduler stopped", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok\n"))
		})
		srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("metrics server started", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped with error", "error", err)
			}
		}()
	}

	svc.StartScheduler(ctx)
	logInfo("Scheduler running, press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("shutting down")
	svc.StopScheduler()

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown error", "error", err)
		}
	}
	return nil
}
