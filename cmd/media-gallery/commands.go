package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"media-gallery/internal/indexer"
	"media-gallery/internal/indexing"
	"media-gallery/internal/metrics"
	"media-gallery/internal/scheduler"
	"media-gallery/internal/startup"
)

func newSyncCommand() *cobra.Command {
	var skipJobs bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror the media library into the cache once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.coord.Sync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Field", "Value"}, syncRows(result), []columnAlignment{alignLeft, alignRight}))

			if skipJobs || len(result.Scheduled) == 0 {
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Waiting for %s...\n", strings.Join(result.Scheduled, ", "))
			if err := waitIdle(cmd.Context(), a.sched); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobResults(a.jobs))
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipJobs, "skip-jobs", false, "Exit after the sync without waiting for index jobs")
	return cmd
}

func newReindexCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reindex <job>",
		Short: "Run one index job to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			handle, err := a.coord.Reindex(args[0], force)
			if err != nil {
				return fmt.Errorf("%w (available: %s)", err, strings.Join(jobNames(a.jobs), ", "))
			}
			status, err := handle.Wait(cmd.Context())
			if err != nil {
				return err
			}
			if status.State != scheduler.Succeeded {
				return fmt.Errorf("%s %s: %s", status.Job, strings.ToLower(status.State.String()), status.Error)
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderJobResults(a.jobs))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Recompute every item on jobs that support it")
	return cmd
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache and index record counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.db.Stats(cmd.Context())
			if err != nil {
				return err
			}
			marker, _, err := a.db.VersionMarker(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Table", "Rows"}, statsRows(stats), []columnAlignment{alignLeft, alignRight}))
			if marker != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Version marker: %s\n", marker)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := startup.GetBuildInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "media-gallery %s (commit %s, built %s, %s %s/%s)\n",
				info.Version, info.Commit, info.BuildTime, info.GoVersion, info.OS, info.Arch)
			return nil
		},
	}
}

func syncRows(r indexer.SyncResult) [][]string {
	if r.UpToDate {
		return [][]string{
			{"Status", "up to date"},
			{"Marker", string(r.Marker)},
		}
	}
	return [][]string{
		{"Inserted", humanize.Comma(int64(r.Inserted))},
		{"Updated", humanize.Comma(int64(r.Updated))},
		{"Removed", humanize.Comma(int64(r.Removed))},
		{"Index records pruned", humanize.Comma(r.IndexPruned)},
		{"Duration", r.Duration.Round(time.Millisecond).String()},
	}
}

func statsRows(s metrics.Stats) [][]string {
	rows := [][]string{{"media", humanize.Comma(int64(s.MediaItems))}}

	names := make([]string, 0, len(s.IndexRecords))
	for name := range s.IndexRecords {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows = append(rows, []string{name, humanize.Comma(int64(s.IndexRecords[name]))})
	}
	return rows
}

func renderJobResults(jobs []indexing.Runner) string {
	var rows [][]string
	for _, j := range jobs {
		res, ok := j.LastResult()
		if !ok {
			rows = append(rows, []string{j.Name(), "-", "-", "-", "-", "-"})
			continue
		}
		rows = append(rows, []string{
			j.Name(),
			strconv.Itoa(res.Candidates),
			strconv.Itoa(res.Processed),
			strconv.Itoa(res.Failed),
			strconv.FormatInt(res.Pruned, 10),
			res.Duration.Round(time.Millisecond).String(),
		})
	}
	return renderTable(
		[]string{"Job", "Candidates", "Processed", "Failed", "Pruned", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	)
}
