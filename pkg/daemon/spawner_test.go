package daemon

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/cuemby/icecream/pkg/comm"
	"github.com/cuemby/icecream/pkg/compile"
	"github.com/cuemby/icecream/pkg/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// childScript stands in for "iceccd run-job": it drains the request,
// greets the client on fd 3, reports counters 1..4 on fd 4 and fails.
const childScript = `cat >/dev/null
printf hi >&3
printf '\000\000\000\001\000\000\000\002\000\000\000\003\000\000\000\004' >&4
exit 3
`

func TestProcessSpawnerRunsChild(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	ch, err := comm.Connect(context.Background(), "127.0.0.1", ln.Addr().(*net.TCPAddr).Port, nil)
	require.NoError(t, err)
	defer ch.Close()

	var client net.Conn
	select {
	case client = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
	}
	defer client.Close()

	s, err := NewProcessSpawner()
	require.NoError(t, err)
	s.Executable = "/bin/sh"
	s.Args = []string{"-c", childScript}

	child, err := s.Spawn(Request{
		Job:  &job.Job{ID: 9, Language: job.LanguageC, InputFile: "main.c"},
		Conn: ch,
	})
	require.NoError(t, err)
	assert.Positive(t, child.PID())

	// The client socket reached the child as fd 3
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	greeting := make([]byte, 2)
	_, err = io.ReadFull(client, greeting)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(greeting))

	counters, err := compile.ReadCounters(child.Results())
	require.NoError(t, err)
	assert.Equal(t, compile.Counters{InCompressed: 1, InUncompressed: 2, OutCompressed: 3, OutUncompressed: 4}, counters)
	child.Results().Close()

	exit := child.Wait()
	assert.NoError(t, exit.Err)
	assert.Equal(t, child.PID(), exit.PID)
	assert.Equal(t, 3, exit.ExitCode)
	assert.Positive(t, exit.Usage.MaxRSSBytes)
	assert.Zero(t, exit.Usage.MaxRSSBytes%1024, "resident size is whole kilobytes")

	s.mu.Lock()
	assert.Empty(t, s.children)
	s.mu.Unlock()
}

func TestProcessSpawnerRejectsPipeConnections(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	ch, err := comm.NewChannel(a, comm.Identity{Name: "pipe", IP: net.IPv4(127, 0, 0, 1), Port: 1}, nil)
	require.NoError(t, err)
	defer ch.Close()

	s, err := NewProcessSpawner()
	require.NoError(t, err)
	_, err = s.Spawn(Request{Job: &job.Job{ID: 1}, Conn: ch})
	assert.Error(t, err)
}
