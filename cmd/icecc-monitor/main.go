package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/icecream/pkg/comm"
	"github.com/cuemby/icecream/pkg/discovery"
	"github.com/cuemby/icecream/pkg/log"
	"github.com/cuemby/icecream/pkg/protocol"
	"github.com/spf13/cobra"
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
	Use:          "icecc-monitor",
	Short:        "icecc-monitor - follow the jobs of an icecream network",
	Version:      Version,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runMonitor,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"icecc-monitor version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().StringP("scheduler", "s", "", "Scheduler host[:port]; skips discovery")
	rootCmd.Flags().StringP("netname", "n", discovery.DefaultNetName, "Network name to discover schedulers on")
	rootCmd.Flags().String("log-level", "", "Log level (trace, debug, info, warn, error); defaults to ICECC_DEBUG")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	log.Init(log.Config{Level: log.ResolveLevel(level, log.WarnLevel)})

	host, _ := cmd.Flags().GetString("scheduler")
	netName, _ := cmd.Flags().GetString("netname")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loc, err := discovery.NewLocator(host, 0, discovery.Config{NetName: netName}).Locate(ctx)
	if err != nil {
		return fmt.Errorf("no scheduler found: %w", err)
	}
	ch, err := comm.Connect(ctx, loc.Host, loc.Port, nil)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ch.Close()
	}()

	if err := ch.Send(&protocol.MonitorLogin{}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Connected to scheduler %s:%d\n", loc.Host, loc.Port)

	err = follow(ch, cmd.OutOrStdout())
	if ctx.Err() != nil {
		_ = ch.Send(&protocol.End{})
		return nil
	}
	return err
}

type receiver interface {
	Receive() (protocol.Message, error)
}

// follow prints monitor messages until the scheduler ends the session
func follow(ch receiver, w io.Writer) error {
	for {
		msg, err := ch.Receive()
		if err != nil {
			return err
		}
		if msg.Type() == protocol.TypeEnd {
			return nil
		}
		if line := formatEvent(msg, time.Now()); line != "" {
			fmt.Fprintln(w, line)
		}
	}
}

func formatEvent(msg protocol.Message, now time.Time) string {
	ts := now.Format("15:04:05")
	switch m := msg.(type) {
	case *protocol.MonitorGetCompileServer:
		return fmt.Sprintf("%s job %-6d requested  %s (%s) from %s env=%q",
			ts, m.JobID, m.Filename, m.Lang, m.Client, m.Version)
	case *protocol.MonitorJobBegin:
		return fmt.Sprintf("%s job %-6d started    on %s", ts, m.JobID, m.Host)
	case *protocol.MonitorJobDone:
		return fmt.Sprintf("%s job %-6d finished   on %s exit=%d real=%s in=%d out=%d",
			ts, m.JobID, m.Host, m.ExitCode,
			time.Duration(m.RealMsec)*time.Millisecond,
			m.InUncompressed, m.OutUncompressed)
	default:
		return ""
	}
}
