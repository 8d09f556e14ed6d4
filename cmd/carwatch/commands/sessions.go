package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/carwatch/pkg/carwatch"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect recorded acquisition sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the listings a session touched",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd)

	sessionsListCmd.Flags().Int("limit", 20, "number of sessions")
	sessionsShowCmd.Flags().Int("limit", 100, "number of records")
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	limit, _ := cmd.Flags().GetInt("limit")
	sessions, err := svc.ListSessions(ctx, limit)
	if err != nil {
		return err
	}
	return render(cmd, sessionList(sessions))
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session id %q", args[0])
	}

	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	session, err := svc.GetSession(ctx, id)
	if errors.Is(err, carwatch.ErrNotFound) {
		return fmt.Errorf("session %d not found", id)
	}
	if err != nil {
		return err
	}
	logInfo("Session %d: %s, %d total, %d new, %d updated, %d price changes",
		session.ID, session.Status, session.Total, session.New, session.Updated, session.PriceChanges)

	limit, _ := cmd.Flags().GetInt("limit")
	records, err := svc.GetSessionRecords(ctx, id, limit)
	if err != nil {
		return err
	}
	return render(cmd, recordList(records))
}
