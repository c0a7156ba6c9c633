package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/icecream/pkg/compile"
	"github.com/cuemby/icecream/pkg/daemon"
	"github.com/cuemby/icecream/pkg/discovery"
	"github.com/cuemby/icecream/pkg/health"
	"github.com/cuemby/icecream/pkg/job"
	"github.com/cuemby/icecream/pkg/log"
	"github.com/cuemby/icecream/pkg/metrics"
	"github.com/cuemby/icecream/pkg/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "iceccd",
	Short: "iceccd - icecream compile node daemon",
	Long: `iceccd accepts compile jobs from icecc clients on this network and
runs them on the local machine, at most max-kids at a time.

The daemon finds the scheduler through broadcast discovery unless one is
named with --scheduler or USE_SCHEDULER, logs in, and reports its load and
every finished job.`,
	Version:      Version,
	SilenceUsage: true,
	RunE:         runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"iceccd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error); defaults to ICECC_DEBUG")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log in JSON format")

	rootCmd.Flags().String("config", "", "YAML configuration file")
	rootCmd.Flags().String("env-file", "", "Load environment variables from this file")
	rootCmd.Flags().StringP("scheduler", "s", "", "Scheduler host[:port]; skips discovery")
	rootCmd.Flags().StringP("netname", "n", discovery.DefaultNetName, "Network name to discover schedulers on")
	rootCmd.Flags().IntP("max-kids", "m", 0, "Maximum concurrent jobs (default: CPUs + 1)")
	rootCmd.Flags().IntP("port", "p", daemon.DefaultStartPort, "First port to try for client connections")
	rootCmd.Flags().String("listen", "0.0.0.0", "Address to listen on")
	rootCmd.Flags().String("node-id", "", "Node identifier (default: random)")
	rootCmd.Flags().StringSlice("env", nil, "Toolchain environments this node offers")
	rootCmd.Flags().String("data-dir", "", "Directory for the job history (disabled when empty)")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9245", "Address for /metrics and health endpoints (empty to disable)")
	rootCmd.Flags().Duration("check-interval", health.DefaultConfig().Interval, "How often the compilers are checked")

	historyCmd.Flags().String("data-dir", "", "Directory holding the job history")
	historyCmd.Flags().Int("limit", 50, "Show at most this many jobs (0 for all)")

	rootCmd.AddCommand(runJobCmd)
	rootCmd.AddCommand(historyCmd)
}

func initLogging(cmd *cobra.Command) {
	level, _ := cmd.Flags().GetString("log-level")
	jsonOut, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.ResolveLevel(level, log.InfoLevel),
		JSONOutput: jsonOut,
	})
}

// loadConfig builds the daemon configuration from the optional YAML file
// and the flags set on the command line, which take precedence.
func loadConfig(cmd *cobra.Command) (daemon.Config, error) {
	cfg := daemon.DefaultConfig()
	flags := cmd.Flags()

	if path, _ := flags.GetString("config"); path != "" {
		if err := daemon.LoadConfigFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if flags.Changed("scheduler") {
		cfg.SchedulerHost, _ = flags.GetString("scheduler")
	}
	if flags.Changed("netname") || cfg.NetName == "" {
		cfg.NetName, _ = flags.GetString("netname")
	}
	if flags.Changed("max-kids") {
		cfg.MaxKids, _ = flags.GetInt("max-kids")
	}
	if flags.Changed("port") {
		cfg.StartPort, _ = flags.GetInt("port")
	}
	if flags.Changed("listen") {
		cfg.ListenHost, _ = flags.GetString("listen")
	}
	if flags.Changed("node-id") {
		cfg.NodeID, _ = flags.GetString("node-id")
	}
	if flags.Changed("env") {
		cfg.Environments, _ = flags.GetStringSlice("env")
	}
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	initLogging(cmd)
	logger := log.WithComponent("iceccd")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	checkCfg := health.DefaultConfig()
	checkCfg.Interval, _ = cmd.Flags().GetDuration("check-interval")

	if err := daemon.EnterProcessGroup(); err != nil {
		logger.Warn().Err(err).Msg("Running outside a process group of its own")
	}

	var opts []daemon.Option
	if cfg.DataDir != "" {
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, daemon.WithStore(store))
	}

	d, err := daemon.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	checkers := compilerCheckers()
	critical := []string{"listener"}
	for _, c := range checkers {
		critical = append(critical, c.Name())
	}
	metrics.SetVersion(Version)
	metrics.SetCriticalComponents(critical...)

	ctx := context.Background()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	return runUntilSignal(ctx, sigCh, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return d.Run(gctx)
		})
		g.Go(func() error {
			return metrics.Serve(gctx, metricsAddr)
		})
		for _, c := range checkers {
			c := c
			g.Go(func() error {
				return health.Watch(gctx, c, checkCfg)
			})
		}
		return g.Wait()
	}, forwardToGroup)
}

// runUntilSignal runs serve until it fails or a signal arrives. On a
// signal serve's context is cancelled, which makes the daemon say End to
// its scheduler, and only once serve has returned is the signal forwarded
// to the job processes.
func runUntilSignal(ctx context.Context, signals <-chan os.Signal, serve func(context.Context) error, forward func(os.Signal)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- serve(ctx) }()

	select {
	case err := <-done:
		return err
	case sig := <-signals:
		logger := log.WithComponent("iceccd")
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		// The whole group gets it below, the daemon included
		signal.Ignore(sig)
		cancel()
		err := <-done
		forward(sig)
		return err
	}
}

func forwardToGroup(sig os.Signal) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return
	}
	if err := daemon.SignalGroup(s); err != nil {
		logger := log.WithComponent("iceccd")
		logger.Warn().Err(err).Msg("Failed to signal job processes")
	}
}

// compilerCheckers covers the compilers jobs run with when the client
// names none
func compilerCheckers() []health.Checker {
	cc := (&job.Job{Language: job.LanguageC}).CompilerName()
	cxx := (&job.Job{Language: job.LanguageCXX}).CompilerName()
	return []health.Checker{
		health.NewCompilerChecker(cc),
		health.NewCompilerChecker(cxx),
	}
}

// runJobCmd is what the daemon re-executes for every accepted job. The
// client socket arrives as fd 3 and the counter pipe as fd 4.
var runJobCmd = &cobra.Command{
	Use:    "run-job",
	Short:  "Serve one compile job (started by the daemon)",
	Hidden: true,
	Args:   cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		initLogging(cmd)

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
		defer cancel()

		sock := os.NewFile(daemon.ChildClientFD, "client")
		stats := os.NewFile(daemon.ChildStatsFD, "stats")
		code, err := compile.RunJob(ctx, os.Stdin, sock, stats)
		if err != nil {
			logger := log.WithComponent("run-job")
			logger.Error().Err(err).Msg("Job failed")
		}
		cancel()
		os.Exit(code)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List jobs this node finished",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		limit, _ := cmd.Flags().GetInt("limit")
		if dataDir == "" {
			return fmt.Errorf("--data-dir is required")
		}

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		jobs, err := store.ListJobs(limit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs recorded")
			return nil
		}

		fmt.Printf("%-10s %-20s %-5s %-10s %-10s %-10s %-8s\n",
			"JOB", "FINISHED", "EXIT", "REAL", "IN", "OUT", "REPORTED")
		for _, j := range jobs {
			fmt.Printf("%-10d %-20s %-5d %-10s %-10d %-10d %-8t\n",
				j.JobID,
				j.FinishedAt.Local().Format("2006-01-02 15:04:05"),
				j.ExitCode,
				(time.Duration(j.RealMsec) * time.Millisecond).String(),
				j.InUncompressed,
				j.OutUncompressed,
				j.Reported,
			)
		}
		return nil
	},
}
