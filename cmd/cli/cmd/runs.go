package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dex-analysis/internal/service"
	"github.com/dex-analysis/pkg/model"
	"github.com/dex-analysis/pkg/utils"
)

var (
	runsContainer string
	runsLimit     int
	runsJSON      bool
)

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs [uuid]",
	Short: "List persisted runs, or show one",
	Long: `Without arguments, list the most recent runs saved with --persist, newest
first. With a run UUID, show that run's category totals and failed blobs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsContainer, "container", "", "Only list runs of this container")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to list")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Print JSON instead of a table")

	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	svc, err := service.New(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		run, err := svc.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if runsJSON {
			return printJSON(out, run)
		}
		printRun(out, run)
		return nil
	}

	runs, err := svc.ListRuns(cmd.Context(), model.RunFilter{Container: runsContainer, Limit: runsLimit})
	if err != nil {
		return err
	}
	if runsJSON {
		return printJSON(out, runs)
	}
	printRuns(out, runs)
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRuns(w io.Writer, runs []*model.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UUID\tCONTAINER\tGRANULARITY\tSTATUS\tSIZE\tBLOBS\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.UUID, r.Container, r.Granularity, r.Status,
			utils.FormatBytes(r.TotalSize), r.BlobCount,
			r.CreatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func printRun(w io.Writer, r *model.Run) {
	fmt.Fprintf(w, "Run:         %s\n", r.UUID)
	fmt.Fprintf(w, "Container:   %s\n", r.Container)
	fmt.Fprintf(w, "Granularity: %s\n", r.Granularity)
	fmt.Fprintf(w, "Status:      %s\n", r.Status)
	fmt.Fprintf(w, "Total:       %s (%d attributed)\n", utils.FormatBytes(r.TotalSize), r.AttributedSize)
	fmt.Fprintf(w, "Blobs:       %d (%d classes)\n", r.BlobCount, r.ClassCount)
	if r.ReportKey != "" {
		fmt.Fprintf(w, "Report:      %s\n", r.ReportKey)
	}
	fmt.Fprintf(w, "Duration:    %s\n", r.Duration)

	if len(r.Categories) > 0 {
		fmt.Fprintln(w, "\nCategories:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, c := range r.Categories {
			fmt.Fprintf(tw, "  %s\t%d\t%.1f%%\n", c.Category, c.Size, c.Percent)
		}
		tw.Flush()
	}
	if len(r.Failures) > 0 {
		fmt.Fprintln(w, "\nFailed blobs:")
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  %s: %s: %s\n", f.Path, f.Kind, f.Message)
		}
	}
}
