package daemon

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/icecream/pkg/comm"
	"github.com/cuemby/icecream/pkg/job"
	"github.com/cuemby/icecream/pkg/protocol"
)

// Request is a compile job waiting for a free slot, together with the
// client connection that will receive the result.
type Request struct {
	Job  *job.Job
	Conn *comm.Channel
}

// Usage is the resource usage of a finished child
type Usage struct {
	UserTime    time.Duration
	SysTime     time.Duration
	MaxRSSBytes int64
	IdRSSBytes  int64
	MajFlt      int64
	NSwap       int64
}

// Exit describes how a child ended
type Exit struct {
	PID      int
	ExitCode int
	Usage    Usage
	Err      error
}

// Child is a running job process
type Child interface {
	PID() int

	// Results carries the four transfer counters the child writes when
	// it is done with the client
	Results() io.ReadCloser

	// Wait blocks until the child exits
	Wait() Exit
}

// Spawner starts job processes
type Spawner interface {
	Spawn(req Request) (Child, error)

	// Terminate asks every running child to stop
	Terminate()
}

// Child file descriptors set up by ProcessSpawner
const (
	ChildClientFD = 3
	ChildStatsFD  = 4
)

// ProcessSpawner runs every job in a fresh process of the daemon binary.
// The child gets the client socket as fd 3, the write end of the result
// pipe as fd 4, and the encoded CompileFileRequest on stdin.
type ProcessSpawner struct {
	Executable string
	Args       []string
	Env        []string

	mu       sync.Mutex
	children map[int]*os.Process
}

// NewProcessSpawner re-executes the running binary with the run-job
// subcommand.
func NewProcessSpawner() (*ProcessSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &ProcessSpawner{
		Executable: exe,
		Args:       []string{"run-job"},
		children:   make(map[int]*os.Process),
	}, nil
}

type filer interface {
	File() (*os.File, error)
}

func (s *ProcessSpawner) Spawn(req Request) (Child, error) {
	fc, ok := req.Conn.Conn().(filer)
	if !ok {
		return nil, fmt.Errorf("client connection %T cannot be passed to a child", req.Conn.Conn())
	}
	sock, err := fc.File()
	if err != nil {
		return nil, fmt.Errorf("failed to duplicate client socket: %w", err)
	}
	defer sock.Close()

	var stdin bytes.Buffer
	if err := protocol.Encode(&stdin, protocol.NewCompileFileRequest(req.Job)); err != nil {
		return nil, err
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create result pipe: %w", err)
	}

	cmd := exec.Command(s.Executable, s.Args...)
	cmd.Stdin = &stdin
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{sock, w}
	if s.Env != nil {
		cmd.Env = s.Env
	}

	err = cmd.Start()
	w.Close()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to start job process: %w", err)
	}

	s.mu.Lock()
	s.children[cmd.Process.Pid] = cmd.Process
	s.mu.Unlock()

	return &processChild{cmd: cmd, results: r, spawner: s}, nil
}

func (s *ProcessSpawner) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.children {
		_ = p.Signal(syscall.SIGTERM)
	}
}

func (s *ProcessSpawner) forget(pid int) {
	s.mu.Lock()
	delete(s.children, pid)
	s.mu.Unlock()
}

type processChild struct {
	cmd     *exec.Cmd
	results *os.File
	spawner *ProcessSpawner
}

func (c *processChild) PID() int {
	return c.cmd.Process.Pid
}

func (c *processChild) Results() io.ReadCloser {
	return c.results
}

func (c *processChild) Wait() Exit {
	err := c.cmd.Wait()
	pid := c.cmd.Process.Pid
	c.spawner.forget(pid)

	exit := Exit{PID: pid, ExitCode: -1}
	state := c.cmd.ProcessState
	if state == nil {
		exit.Err = err
		return exit
	}
	exit.ExitCode = state.ExitCode()
	exit.Usage.UserTime = state.UserTime()
	exit.Usage.SysTime = state.SystemTime()
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok {
		// Linux reports resident sizes in kilobytes
		exit.Usage.MaxRSSBytes = int64(ru.Maxrss) * 1024
		exit.Usage.IdRSSBytes = int64(ru.Idrss) * 1024
		exit.Usage.MajFlt = int64(ru.Majflt)
		exit.Usage.NSwap = int64(ru.Nswap)
	}
	return exit
}
