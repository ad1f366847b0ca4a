package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dex-analysis/pkg/config"
	"github.com/dex-analysis/pkg/pprof"
	"github.com/dex-analysis/pkg/telemetry"
	"github.com/dex-analysis/pkg/utils"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	// Pprof flags
	pprofDir      string
	pprofProfiles string

	cfg               *config.Config
	logger            utils.Logger
	shutdownTelemetry telemetry.ShutdownFunc
	pprofCollector    *pprof.Collector
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "dex-analysis",
	Short: "Attribute DEX bytecode size to packages, classes and methods",
	Long: `dex-analysis breaks down the DEX bytecode inside an APK by package, class
or method. Every byte of every classes*.dex is claimed by at most one owner, so
sizes add up and shared pool entries are never counted twice.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		logger, err = buildLogger(cfg.Log, cmd)
		if err != nil {
			return err
		}

		tcfg := telemetry.LoadFromEnv(Version)
		shutdownTelemetry, err = telemetry.Init(cmd.Context(), tcfg)
		if err != nil {
			logger.Warn("Telemetry disabled: %v", err)
			shutdownTelemetry = nil
		}

		if pprofDir != "" {
			profiles, err := pprof.ParseProfileTypes(pprofProfiles)
			if err != nil {
				return err
			}
			pprofCollector = pprof.NewCollector(pprofDir, profiles)
			if err := pprofCollector.Start(); err != nil {
				return err
			}
			logger.Debug("pprof collection started in %s", pprofDir)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		stopPprof()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(context.Background()); err != nil {
				logger.Warn("Failed to flush telemetry: %v", err)
			}
			shutdownTelemetry = nil
		}
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure. SIGINT and
// SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	stopPprof()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./config.yaml, ./configs or /etc/dex-analysis)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&pprofDir, "pprof-dir", "", "Profile this run and write pprof files here")
	rootCmd.PersistentFlags().StringVar(&pprofProfiles, "pprof-profiles", "cpu,heap", "Comma-separated profile types: cpu,heap,allocs,goroutine,block,mutex")

	binName := BinName()
	rootCmd.Example = `  # Package breakdown of an APK
  ` + binName + ` packages app.apk

  # Method granularity, sorted, as JSON
  ` + binName + ` packages app.apk --granularity method --sort --format json -o app.json

  # Analyze an APK from object storage, upload the report and record the run
  ` + binName + ` packages uploads/app.apk --from-storage --upload --persist

  # Feed a flame graph renderer
  ` + binName + ` packages app.apk --format folded | flamegraph.pl > app.svg

  # Profile the analyzer itself
  ` + binName + ` packages app.apk --pprof-dir ./pprof --pprof-profiles cpu,heap,allocs

  # Recent runs
  ` + binName + ` runs --limit 10`
}

// stopPprof flushes profiles; it runs on both the success and error paths.
func stopPprof() {
	if pprofCollector == nil {
		return
	}
	files, err := pprofCollector.Stop()
	pprofCollector = nil
	if err != nil {
		logger.Warn("Failed to write pprof data: %v", err)
	}
	for _, f := range files {
		logger.Info("pprof data saved to %s", f)
	}
}

// buildLogger writes to stderr so stdout stays reserved for reports.
func buildLogger(lc config.LogConfig, cmd *cobra.Command) (utils.Logger, error) {
	level := utils.ParseLogLevel(lc.Level)
	if verbose {
		level = utils.LevelDebug
	}

	var l *utils.DefaultLogger
	if lc.OutputPath != "" {
		var err error
		l, err = utils.NewFileLogger(level, lc.OutputPath)
		if err != nil {
			return nil, err
		}
	} else {
		l = utils.NewDefaultLogger(level, cmd.ErrOrStderr())
	}
	l.SetFormat(utils.ParseLogFormat(lc.Format))
	return l, nil
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}
