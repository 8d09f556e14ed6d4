package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/carwatch/internal/model"
	"github.com/jmylchreest/carwatch/pkg/carwatch"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scheduled acquisitions",
	Long: `Jobs repeat an acquisition on a schedule. Kinds:

  hourly   at the top of every hour
  daily    every day at --time
  weekly   on --days (1=Mon ... 7=Sun, default Mon) at --time

Jobs only run while ` + "`carwatch serve`" + ` is up, or on demand with ` + "`jobs run`" + `.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs by next run",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a job",
	Args:  cobra.NoArgs,
	RunE:  runJobsCreate,
}

var jobsUpdateCmd = &cobra.Command{
	Use:   "update <job-id>",
	Short: "Change a job; only the given flags are applied",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsUpdate,
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job and its run history",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDelete,
}

var jobsEnableCmd = &cobra.Command{
	Use:   "enable <job-id>",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return toggleJob(cmd, args[0], true) },
}

var jobsDisableCmd = &cobra.Command{
	Use:   "disable <job-id>",
	Short: "Pause a job",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return toggleJob(cmd, args[0], false) },
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run a job now",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRun,
}

var jobsRunsCmd = &cobra.Command{
	Use:   "runs <job-id>",
	Short: "Show recent runs of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRuns,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsCreateCmd, jobsUpdateCmd, jobsDeleteCmd,
		jobsEnableCmd, jobsDisableCmd, jobsRunCmd, jobsRunsCmd)

	jobsListCmd.Flags().Bool("all", false, "include paused jobs")
	jobsRunsCmd.Flags().Int("limit", 20, "number of runs")

	for _, c := range []*cobra.Command{jobsCreateCmd, jobsUpdateCmd} {
		addJobFlags(c.Flags())
	}
	_ = jobsCreateCmd.MarkFlagRequired("name")
}

func addJobFlags(flags *pflag.FlagSet) {
	flags.String("name", "", "job name")
	flags.String("kind", "daily", "recurrence: hourly, daily, weekly")
	flags.String("time", "09:00", "time of day, HH:MM")
	flags.IntSlice("days", nil, "weekdays for weekly jobs, 1=Mon ... 7=Sun")
	flags.Int("pages", 0, "page budget per run (0 = default)")
	flags.Bool("details", false, "fetch detail pages for view counts")
	addFilterFlags(flags)
}

func jobSpecFromFlags(flags *pflag.FlagSet) carwatch.JobSpec {
	var spec carwatch.JobSpec
	spec.Name, _ = flags.GetString("name")
	kind, _ := flags.GetString("kind")
	spec.Kind = model.JobKind(kind)
	spec.TimeOfDay, _ = flags.GetString("time")
	spec.Days, _ = flags.GetIntSlice("days")
	spec.MaxPages, _ = flags.GetInt("pages")
	spec.WithDetails, _ = flags.GetBool("details")
	spec.Filters = filtersFromFlags(flags)
	return spec
}

// jobUpdateFromFlags turns the flags the user set into a partial update.
func jobUpdateFromFlags(flags *pflag.FlagSet) carwatch.JobUpdate {
	spec := jobSpecFromFlags(flags)
	var u carwatch.JobUpdate
	if flags.Changed("name") {
		u.Name = &spec.Name
	}
	if flags.Changed("kind") {
		u.Kind = &spec.Kind
	}
	if flags.Changed("time") {
		u.TimeOfDay = &spec.TimeOfDay
	}
	if flags.Changed("days") {
		u.Days = &spec.Days
	}
	if flags.Changed("pages") {
		u.MaxPages = &spec.MaxPages
	}
	if flags.Changed("details") {
		u.WithDetails = &spec.WithDetails
	}
	if filtersChanged(flags) {
		u.Filters = &spec.Filters
	}
	return u
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	all, _ := cmd.Flags().GetBool("all")
	jobs, err := svc.ListJobs(ctx, all)
	if err != nil {
		return err
	}
	return render(cmd, jobList(jobs))
}

func runJobsCreate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	job, err := svc.CreateJob(ctx, jobSpecFromFlags(cmd.Flags()))
	if err != nil {
		return err
	}
	logInfo("Created job %s, next run %s", job.ID, job.NextRun.Local().Format("2006-01-02 15:04"))
	return render(cmd, jobList{job})
}

func runJobsUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	job, err := svc.UpdateJob(ctx, args[0], jobUpdateFromFlags(cmd.Flags()))
	if err != nil {
		return jobError(args[0], err)
	}
	return render(cmd, jobList{job})
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if err := svc.DeleteJob(ctx, args[0]); err != nil {
		return jobError(args[0], err)
	}
	logInfo("Deleted job %s", args[0])
	return nil
}

func toggleJob(cmd *cobra.Command, id string, active bool) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	job, err := svc.ToggleJob(ctx, id, active)
	if err != nil {
		return jobError(id, err)
	}
	return render(cmd, jobList{job})
}

func runJobsRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	run, err := svc.RunJobNow(ctx, args[0])
	if err != nil {
		return jobError(args[0], err)
	}
	if err := render(cmd, runList{run}); err != nil {
		return err
	}
	if run.Status == model.StatusFailed {
		return fmt.Errorf("job %s failed: %s", args[0], run.Error)
	}
	return nil
}

func runJobsRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := svc.GetJobRuns(ctx, args[0], limit)
	if err != nil {
		return err
	}
	return render(cmd, runList(runs))
}

func jobError(id string, err error) error {
	if errors.Is(err, carwatch.ErrJobNotFound) {
		return fmt.Errorf("job %s not found", id)
	}
	return err
}
