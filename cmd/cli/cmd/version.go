package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version information, set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"

	versionShort bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the build version. The analysis version recorded with persisted
runs comes from analysis.version in the config and is shown as well.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if versionShort {
			fmt.Fprintln(out, Version)
			return
		}
		for _, kv := range versionInfo() {
			fmt.Fprintf(out, "  %-12s %s\n", kv[0]+":", kv[1])
		}
	},
}

func versionInfo() [][2]string {
	info := [][2]string{
		{"Version", Version},
		{"Git Commit", GitCommit},
		{"Build Time", BuildTime},
		{"Go Version", runtime.Version()},
		{"OS/Arch", runtime.GOOS + "/" + runtime.GOARCH},
	}
	if cfg != nil {
		info = append(info, [2]string{"Analysis", cfg.Analysis.Version})
	}
	return info
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version number")
	rootCmd.AddCommand(versionCmd)
}
