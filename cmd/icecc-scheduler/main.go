package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/icecream/pkg/discovery"
	"github.com/cuemby/icecream/pkg/log"
	"github.com/cuemby/icecream/pkg/metrics"
	"github.com/cuemby/icecream/pkg/scheduler"
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
	Use:   "icecc-scheduler",
	Short: "icecc-scheduler - assigns compile jobs to icecream daemons",
	Long: `icecc-scheduler keeps track of every iceccd on the network and tells
clients which one should compile their next job.

It listens for daemons, clients and monitors on a TCP port and answers
discovery broadcasts on the same UDP port number.`,
	Version:      Version,
	SilenceUsage: true,
	RunE:         runScheduler,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"icecc-scheduler version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	def := scheduler.DefaultConfig()
	rootCmd.Flags().String("env-file", "", "Load environment variables from this file")
	rootCmd.Flags().String("listen", def.ListenHost, "Address to listen on")
	rootCmd.Flags().IntP("port", "p", def.Port, "TCP and discovery UDP port")
	rootCmd.Flags().StringP("netname", "n", def.NetName, "Network name announced to discovery probes")
	rootCmd.Flags().Duration("node-timeout", def.NodeTimeout, "Drop daemons silent for this long")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9246", "Address for /metrics and health endpoints (empty to disable)")
	rootCmd.Flags().String("log-level", "", "Log level (trace, debug, info, warn, error); defaults to ICECC_DEBUG")
	rootCmd.Flags().Bool("log-json", false, "Log in JSON format")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	level, _ := cmd.Flags().GetString("log-level")
	jsonOut, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.ResolveLevel(level, log.InfoLevel), JSONOutput: jsonOut})
	logger := log.WithComponent("icecc-scheduler")

	cfg := scheduler.DefaultConfig()
	cfg.ListenHost, _ = cmd.Flags().GetString("listen")
	cfg.Port, _ = cmd.Flags().GetInt("port")
	cfg.NetName, _ = cmd.Flags().GetString("netname")
	cfg.NodeTimeout, _ = cmd.Flags().GetDuration("node-timeout")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	addr := net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	responder, err := discovery.ListenResponder(addr, cfg.NetName)
	if err != nil {
		ln.Close()
		return err
	}

	s := scheduler.NewScheduler(cfg)
	s.Start()
	defer s.Stop()

	collector := metrics.NewCollector(s, 10*time.Second)
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("listener", true, ln.Addr().String())
	metrics.RegisterComponent("discovery", true, responder.Addr().String())
	metrics.SetCriticalComponents("listener", "discovery")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(gctx, ln)
	})
	g.Go(func() error {
		defer responder.Close()
		return responder.Serve(gctx)
	})
	g.Go(func() error {
		return metrics.Serve(gctx, metricsAddr)
	})

	err = g.Wait()
	logger.Info().Msg("Scheduler stopped")
	return err
}
