package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cuemby/icecream/pkg/comm"
	"github.com/cuemby/icecream/pkg/compile"
	"github.com/cuemby/icecream/pkg/job"
	"github.com/cuemby/icecream/pkg/log"
	"github.com/cuemby/icecream/pkg/protocol"
	"github.com/rs/zerolog"
)

const (
	// DefaultDaemonPort is where the local daemon listens
	DefaultDaemonPort = 10245

	// VersionEnv names the toolchain environment requested from the
	// scheduler
	VersionEnv = "ICECC_VERSION"
)

// ErrNoScheduler is returned when the local daemon knows no scheduler
var ErrNoScheduler = errors.New("local daemon has no scheduler")

// Client distributes one compiler invocation
type Client struct {
	DaemonHost  string
	DaemonPort  int
	Environment string

	// Timeout bounds each answer from the daemon and the scheduler
	Timeout time.Duration

	Stdout io.Writer
	Stderr io.Writer

	logger zerolog.Logger
}

// New returns a client for the daemon on this machine
func New() *Client {
	return &Client{
		DaemonHost:  "127.0.0.1",
		DaemonPort:  DefaultDaemonPort,
		Environment: os.Getenv(VersionEnv),
		Timeout:     10 * time.Second,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		logger:      log.WithComponent("icecc"),
	}
}

// Build compiles argv, whose first element is the compiler, remotely when
// possible. Every failure of the distributed path falls back to running
// the compiler locally. The result is the compiler's exit code.
func (c *Client) Build(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return 1, errors.New("no compiler given")
	}

	args := ClassifyArguments(argv[1:])
	j := args.Job(FindCompiler(argv[0]))
	j.EnvironmentVersion = c.Environment
	j.Args = argv[1:]

	sched, err := c.findScheduler(ctx)
	if err != nil {
		c.logger.Info().Err(err).Msg("No scheduler, compiling locally")
		return compile.RunCompilerLocally(ctx, j)
	}
	defer func() {
		if err := sched.Send(&protocol.End{}); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to end scheduler session")
		}
		sched.Close()
	}()

	if args.ForceLocal {
		c.logger.Debug().Str("reason", args.Reason).Msg("Compiling locally")
		return compile.RunCompilerLocally(ctx, j)
	}

	code, err := c.buildRemote(ctx, sched, j)
	if err != nil {
		c.logger.Warn().Err(err).Str("input", j.InputFile).Msg("Remote build failed, compiling locally")
		return compile.RunCompilerLocally(ctx, j)
	}
	return code, nil
}

// findScheduler asks the local daemon for its scheduler and connects to it
func (c *Client) findScheduler(ctx context.Context) (*comm.Channel, error) {
	daemon, err := comm.Connect(ctx, c.DaemonHost, c.DaemonPort, nil)
	if err != nil {
		return nil, fmt.Errorf("no local daemon: %w", err)
	}
	defer daemon.Close()

	if err := daemon.Send(&protocol.GetScheduler{}); err != nil {
		return nil, err
	}
	msg, err := daemon.ReceiveTimeout(c.Timeout)
	if err != nil {
		return nil, err
	}

	var use *protocol.UseScheduler
	switch m := msg.(type) {
	case *protocol.UseScheduler:
		use = m
	case *protocol.End:
		return nil, ErrNoScheduler
	default:
		return nil, protocol.Unexpected(msg, protocol.TypeUseScheduler, protocol.TypeEnd)
	}

	sched, err := comm.Connect(ctx, use.Hostname, int(use.Port), nil)
	if err != nil {
		return nil, fmt.Errorf("scheduler %s:%d unreachable: %w", use.Hostname, use.Port, err)
	}
	return sched, nil
}

func (c *Client) buildRemote(ctx context.Context, sched *comm.Channel, j *job.Job) (int, error) {
	var source, diag bytes.Buffer
	if err := compile.Preprocess(ctx, j, &source, &diag); err != nil {
		return 0, err
	}

	err := sched.Send(&protocol.GetCompileServer{
		Version:  j.EnvironmentVersion,
		Filename: j.InputFile,
		Lang:     j.Language,
	})
	if err != nil {
		return 0, err
	}
	msg, err := sched.ReceiveTimeout(c.Timeout)
	if err != nil {
		return 0, err
	}
	use, ok := msg.(*protocol.UseCompileServer)
	if !ok {
		return 0, protocol.Unexpected(msg, protocol.TypeUseCompileServer)
	}

	j.ID = use.JobID
	if use.Environment != "" {
		j.EnvironmentVersion = use.Environment
	}
	logger := log.WithJobID(j.ID).With().
		Str("server", fmt.Sprintf("%s:%d", use.Hostname, use.Port)).
		Logger()

	server, err := comm.Connect(ctx, use.Hostname, int(use.Port), nil)
	if err != nil {
		return 0, err
	}
	defer server.Close()

	if err := server.Send(protocol.NewCompileFileRequest(j)); err != nil {
		return 0, err
	}
	if _, _, err := compile.SendFile(server, &source); err != nil {
		return 0, err
	}

	msg, err = server.ReceiveTimeout(compile.TransferTimeout)
	if err != nil {
		return 0, err
	}
	result, ok := msg.(*protocol.CompileResult)
	if !ok {
		return 0, protocol.Unexpected(msg, protocol.TypeCompileResult)
	}
	io.WriteString(c.Stdout, result.Out)
	io.WriteString(c.Stderr, result.Err)

	if result.Status != 0 {
		if _, _, err := compile.ReceiveFile(server, io.Discard); err != nil {
			logger.Debug().Err(err).Msg("Compile node hung up after failure")
		}
		return int(result.Status), nil
	}

	if err := receiveObject(server, j.OutputFile); err != nil {
		return 0, err
	}
	logger.Debug().Str("output", j.OutputFile).Msg("Compiled remotely")
	return 0, nil
}

// receiveObject writes the object next to its final name and renames it
// into place once complete.
func receiveObject(ch *comm.Channel, path string) error {
	tmp := path + ".icecc-tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	_, _, err = compile.ReceiveFile(ch, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to receive object: %w", err)
	}
	return os.Rename(tmp, path)
}

// FindCompiler resolves name on PATH, skipping entries that are this
// program under another name, as when icecc is installed as a gcc symlink.
func FindCompiler(name string) string {
	self, err := os.Executable()
	if err != nil {
		return name
	}
	self, _ = filepath.EvalSymlinks(self)

	if filepath.IsAbs(name) || filepath.Base(name) != name {
		return name
	}
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		candidate := filepath.Join(dir, name)
		path, err := exec.LookPath(candidate)
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(path); err == nil && resolved == self {
			continue
		}
		return path
	}
	return name
}
