package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dex-analysis/internal/service"
)

var (
	granularity string
	sortOutput  bool
	format      string
	outputFile  string
	fromStorage bool
	upload      bool
	persist     bool
	maxDepth    int
	minSize     uint64
	runUUID     string
)

// packagesCmd represents the packages command
var packagesCmd = &cobra.Command{
	Use:   "packages <apk>",
	Short: "Break down DEX size by package, class or method",
	Long: `Parse every classes*.dex in the container and attribute each byte to the
package, class or method that first references it.

Blobs that fail to parse are left out of the tree and listed in the report.
The command still succeeds in that case.`,
	Args: cobra.ExactArgs(1),
	RunE: runPackages,
}

func init() {
	f := packagesCmd.Flags()
	f.StringVar(&granularity, "granularity", "", "Leaf level: package, class or method (default from config)")
	f.BoolVar(&sortOutput, "sort", false, "Sort siblings by size, largest first")
	f.StringVar(&format, "format", "", "Report format: text, json, json.gz, json.zst, folded or pprof (default from config)")
	f.StringVarP(&outputFile, "output", "o", "", "Write the report to this file instead of stdout")
	f.BoolVar(&fromStorage, "from-storage", false, "Treat the argument as an object storage key")
	f.BoolVar(&upload, "upload", false, "Upload the rendered report to object storage")
	f.BoolVar(&persist, "persist", false, "Record the run in the database")
	f.IntVar(&maxDepth, "max-depth", 0, "Collapse the tree below this depth (0 keeps everything)")
	f.Uint64Var(&minSize, "min-size", 0, "Fold nodes smaller than this many bytes into their parent")
	f.StringVar(&runUUID, "uuid", "", "Run UUID (generated when empty)")

	rootCmd.AddCommand(packagesCmd)
}

func runPackages(cmd *cobra.Command, args []string) error {
	req := packagesRequest(cmd, args[0])

	svc, err := service.New(cfg, logger, service.WithStdout(cmd.OutOrStdout()))
	if err != nil {
		return err
	}
	defer svc.Close()

	logger.Debug("Analyzing %s (granularity=%s, format=%s)", req.Input, req.Granularity, req.Format)
	resp, err := svc.Run(cmd.Context(), req)
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	if resp.Report.HasFailures() {
		fmt.Fprintf(stderr, "%d of %d blobs could not be parsed:\n",
			len(resp.Report.Failures), len(resp.Report.Failures)+len(resp.Report.Blobs))
		for _, f := range resp.Report.Failures {
			fmt.Fprintf(stderr, "  %s: %s: %s\n", f.Path, f.Kind, f.Message)
		}
	}
	if resp.ReportURL != "" {
		fmt.Fprintf(stderr, "Report: %s\n", resp.ReportURL)
	}
	if resp.Run != nil {
		fmt.Fprintf(stderr, "Run %s saved (%s)\n", resp.Run.UUID, resp.Run.Status)
	}
	return nil
}

// packagesRequest merges flags over the loaded config. Flags only win when
// set on the command line.
func packagesRequest(cmd *cobra.Command, input string) service.Request {
	req := service.Request{
		Input:       input,
		FromStorage: fromStorage,
		Granularity: cfg.Analysis.Granularity,
		Format:      cfg.Report.Format,
		Sort:        cfg.Analysis.SortOutput,
		MaxDepth:    cfg.Report.MaxDepth,
		MinSize:     cfg.Report.MinSize,
		Output:      cfg.Report.Output,
		Upload:      upload,
		Persist:     persist,
		RunUUID:     runUUID,
	}

	flags := cmd.Flags()
	if flags.Changed("granularity") {
		req.Granularity = granularity
	}
	if flags.Changed("format") {
		req.Format = format
	}
	if flags.Changed("sort") {
		req.Sort = sortOutput
	}
	if flags.Changed("max-depth") {
		req.MaxDepth = maxDepth
	}
	if flags.Changed("min-size") {
		req.MinSize = minSize
	}
	if flags.Changed("output") {
		req.Output = outputFile
	}
	return req
}
