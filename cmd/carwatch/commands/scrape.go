package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/carwatch/internal/logger"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one acquisition and record it as a session",
	Long: `Fetch the result pages for a filter set, parse the listings and
commit them. Listings seen for the first time are recorded as new; a
listing whose price moved gets a price history entry.

Examples:
  # Every Kia Sportage between 2018 and 2021, first 3 pages
  carwatch scrape --make 23 --model 880 --year-from 2018 --year-to 2021 --pages 3

  # Include view counts from each detail page
  carwatch scrape --make 23 --details

  # Look without writing anything
  carwatch scrape --make 23 --dry-run -f json`,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	flags := scrapeCmd.Flags()
	addFilterFlags(flags)
	flags.Int("pages", 0, "page budget (0 = every result page)")
	flags.Bool("details", false, "fetch detail pages for view counts")
	flags.Bool("dry-run", false, "print listings instead of committing them")
	flags.String("fetch-mode", "", "pin a backend: auto, static, impersonate, browser")
	flags.Duration("timeout", 0, "per-request timeout (overrides fetch.timeout)")
	flags.String("flaresolverr-url", "", "FlareSolverr endpoint for the browser backend")

	_ = viper.BindPFlag("fetch.mode", flags.Lookup("fetch-mode"))
	_ = viper.BindPFlag("fetch.timeout", flags.Lookup("timeout"))
	_ = viper.BindPFlag("fetch.browser.flaresolverr_url", flags.Lookup("flaresolverr-url"))
}

func runScrape(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	filters := filtersFromFlags(cmd.Flags())
	pages, _ := cmd.Flags().GetInt("pages")
	details, _ := cmd.Flags().GetBool("details")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	logger.Debug("scrape command starting",
		"filters", filters, "pages", pages, "details", details, "mode", svc.Config().Fetch.Mode)

	start := time.Now()
	if dryRun {
		res, err := svc.Crawl(ctx, filters, pages, details)
		if err != nil {
			logger.Error("crawl failed", "error", err)
			return err
		}
		logInfo("Fetched %d/%d pages, %d listings, %d errors in %s (backend %s)",
			res.PagesFetched, res.PagesPlanned, len(res.Listings), res.Errors,
			res.Elapsed.Round(time.Millisecond), res.Backend)
		return render(cmd, listingList(res.Listings))
	}

	stats, err := svc.RunAcquisition(ctx, filters, pages, details)
	if err != nil {
		logger.Error("acquisition failed", "error", err)
		if stats.SessionID == 0 {
			return err
		}
	}
	for _, f := range stats.Failed {
		logger.Warn("listing not stored", "listing", f.ListingID, "error", f.Error)
	}
	logInfo("Session %d finished in %s", stats.SessionID, time.Since(start).Round(time.Millisecond))
	if rerr := render(cmd, statsView(stats)); rerr != nil {
		return rerr
	}
	return err
}
