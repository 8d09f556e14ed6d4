package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old price history",
	Long: `Delete price history entries recorded before a cutoff. Listings and
sessions are kept.

Examples:
  carwatch prune --older-than 180d
  carwatch prune --older-than 720h`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().String("older-than", "365d", "age cutoff; Go duration or whole days like 90d")
}

func runPrune(cmd *cobra.Command, _ []string) error {
	raw, _ := cmd.Flags().GetString("older-than")
	age, err := parseAge(raw)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	cutoff := time.Now().Add(-age)
	n, err := svc.PruneHistory(ctx, cutoff)
	if err != nil {
		return err
	}
	logInfo("Deleted %d price history entries recorded before %s", n, cutoff.Format("2006-01-02"))
	return nil
}

// parseAge accepts time.ParseDuration syntax plus a whole-day "Nd" form.
func parseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid age %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	return d, nil
}
