package commands

import (
	"github.com/spf13/cobra"

	"github.com/jmylchreest/carwatch/pkg/carwatch"
)

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "Query stored listings",
}

var listingsSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search stored listings",
	Long: `Search the listings collected so far.

Sort keys: views, price_asc, price_desc, year, newest.

Examples:
  carwatch listings search --brand kia --max-price 30000 --sort price_asc`,
	Args: cobra.NoArgs,
	RunE: runListingsSearch,
}

var listingsHistoryCmd = &cobra.Command{
	Use:   "history <listing-id>",
	Short: "Show the price history of a listing",
	Args:  cobra.ExactArgs(1),
	RunE:  runListingsHistory,
}

func init() {
	rootCmd.AddCommand(listingsCmd)
	listingsCmd.AddCommand(listingsSearchCmd, listingsHistoryCmd)

	flags := listingsSearchCmd.Flags()
	flags.String("brand", "", "brand name (case-insensitive substring)")
	flags.Int64("min-price", 0, "minimum price")
	flags.Int64("max-price", 0, "maximum price")
	flags.Int("min-year", 0, "minimum model year")
	flags.String("sort", "newest", "sort key")
	flags.Int("limit", 50, "number of listings")
}

func runListingsSearch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	flags := cmd.Flags()
	var q carwatch.ListingQuery
	q.Brand, _ = flags.GetString("brand")
	q.Sort, _ = flags.GetString("sort")
	q.Limit, _ = flags.GetInt("limit")
	if flags.Changed("min-price") {
		v, _ := flags.GetInt64("min-price")
		q.MinPrice = &v
	}
	if flags.Changed("max-price") {
		v, _ := flags.GetInt64("max-price")
		q.MaxPrice = &v
	}
	if flags.Changed("min-year") {
		v, _ := flags.GetInt("min-year")
		q.MinYear = &v
	}

	listings, err := svc.SearchListings(ctx, q)
	if err != nil {
		return err
	}
	return render(cmd, listingList(listings))
}

func runListingsHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	history, err := svc.PriceHistory(ctx, args[0])
	if err != nil {
		return err
	}
	if len(history) == 0 {
		logInfo("No price changes recorded for listing %s", args[0])
	}
	return render(cmd, historyList(history))
}
