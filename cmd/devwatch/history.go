package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/deviation-watch/internal/cli"
	"github.com/Veraticus/deviation-watch/internal/common"
	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/service"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse previous deviation runs",
	}
	cmd.AddCommand(historyListCmd(), historyShowCmd())
	return cmd
}

func historyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := service.RunFilter{}
			filter.ModelCode, _ = cmd.Flags().GetString("model")
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			if since, _ := cmd.Flags().GetString("since"); since != "" {
				t, err := parseSince(since, time.Now())
				if err != nil {
					return common.NewUserError(fmt.Sprintf("invalid --since %q: use a date (2006-01-02) or a duration (72h)", since), err)
				}
				filter.Since = &t
			}

			store, err := openHistory(cmd.Context(), viper.GetViper())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				_, _ = fmt.Fprintln(out, cli.FormatInfo("No runs recorded"))
				return nil
			}
			_, _ = fmt.Fprintln(out, cli.RenderRuns(runs))
			return nil
		},
	}
	cmd.Flags().String("model", "", "Only runs for this model code")
	cmd.Flags().String("since", "", "Only runs since a date (2006-01-02) or within a duration (72h)")
	cmd.Flags().Int("limit", 20, "Maximum runs to list")
	return cmd
}

func historyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the records of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minSeverity := model.Severity("")
			if s, _ := cmd.Flags().GetString("min-severity"); s != "" {
				minSeverity = model.Severity(s)
				if !minSeverity.Valid() {
					return common.NewUserError(fmt.Sprintf("invalid --min-severity %q: use Normal, Warning or Critical", s), common.ErrInvalidConfig)
				}
			}

			store, err := openHistory(cmd.Context(), viper.GetViper())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return common.NewUserError(fmt.Sprintf("run %s not found", args[0]), err)
			}
			records, err := store.GetRunRecords(cmd.Context(), run.ID, minSeverity)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("Run %s", run.ID)))
			_, _ = fmt.Fprintf(out, "%s  model %s  process S/N %s  %d records (%d warning, %d critical)\n",
				run.StartedAt.Local().Format("2006-01-02 15:04"), run.ModelCode, run.ProcessSerial,
				run.RecordCount, run.WarningCount, run.CriticalCount)
			if len(records) == 0 {
				_, _ = fmt.Fprintln(out, cli.FormatInfo("No records at this severity"))
				return nil
			}
			_, _ = fmt.Fprintln(out, cli.RenderStoredRecords(records))
			return nil
		},
	}
	cmd.Flags().String("min-severity", "", "Only records at or above this severity")
	return cmd
}

// parseSince accepts a calendar date or a duration back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-d), nil
}
