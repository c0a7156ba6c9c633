package scheduler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/icecream/pkg/comm"
	"github.com/cuemby/icecream/pkg/job"
	"github.com/cuemby/icecream/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

func startScheduler(t *testing.T, cfg Config) (*Scheduler, int) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewScheduler(cfg)
	s.Start()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		s.Stop()
		<-done
	})
	return s, ln.Addr().(*net.TCPAddr).Port
}

func dial(t *testing.T, port int) *comm.Channel {
	t.Helper()
	ch, err := comm.Connect(context.Background(), "127.0.0.1", port, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

func loginDaemon(t *testing.T, s *Scheduler, port int, login *protocol.Login) *comm.Channel {
	t.Helper()
	before := s.DaemonCount()
	ch := dial(t, port)
	require.NoError(t, ch.Send(login))
	require.Eventually(t, func() bool { return s.DaemonCount() == before+1 }, waitFor, 10*time.Millisecond)
	return ch
}

func request(t *testing.T, ch *comm.Channel, version string) protocol.Message {
	t.Helper()
	require.NoError(t, ch.Send(&protocol.GetCompileServer{Version: version, Filename: "main.c", Lang: job.LanguageC}))
	msg, err := ch.ReceiveTimeout(waitFor)
	require.NoError(t, err)
	return msg
}

func TestAssignsLoggedInDaemon(t *testing.T) {
	s, port := startScheduler(t, Config{})
	loginDaemon(t, s, port, &protocol.Login{Port: 10245, MaxKids: 2, Envs: []string{"x86_64"}})

	client := dial(t, port)
	use, ok := request(t, client, "x86_64").(*protocol.UseCompileServer)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", use.Hostname)
	assert.Equal(t, uint32(10245), use.Port)
	assert.Equal(t, "x86_64", use.Environment)
	assert.NotZero(t, use.JobID)

	// A second request on the same session gets a new job id
	second, ok := request(t, client, "").(*protocol.UseCompileServer)
	require.True(t, ok)
	assert.NotEqual(t, use.JobID, second.JobID)
	assert.Equal(t, "x86_64", second.Environment)
}

func TestNoMatchingDaemon(t *testing.T) {
	s, port := startScheduler(t, Config{})
	loginDaemon(t, s, port, &protocol.Login{Port: 10245, MaxKids: 2, Envs: []string{"x86_64"}})

	client := dial(t, port)
	assert.Equal(t, protocol.TypeEnd, request(t, client, "aarch64").Type())
}

func TestPrefersLeastLoadedDaemon(t *testing.T) {
	s, port := startScheduler(t, Config{})
	busy := loginDaemon(t, s, port, &protocol.Login{Port: 10001, MaxKids: 4})
	idle := loginDaemon(t, s, port, &protocol.Login{Port: 10002, MaxKids: 4})

	require.NoError(t, busy.Send(&protocol.Stats{Load: 800}))
	require.NoError(t, idle.Send(&protocol.Stats{Load: 100}))
	require.Eventually(t, func() bool {
		loads := map[uint32]uint32{}
		for _, n := range s.Nodes() {
			loads[n.Port] = n.Load
		}
		return loads[10001] == 800 && loads[10002] == 100
	}, waitFor, 10*time.Millisecond)

	client := dial(t, port)
	use, ok := request(t, client, "").(*protocol.UseCompileServer)
	require.True(t, ok)
	assert.Equal(t, uint32(10002), use.Port)
}

func TestDaemonLoginReplacesSameHost(t *testing.T) {
	s, port := startScheduler(t, Config{})
	old := loginDaemon(t, s, port, &protocol.Login{Port: 10245, MaxKids: 1})

	ch := dial(t, port)
	require.NoError(t, ch.Send(&protocol.Login{Port: 10245, MaxKids: 3}))

	// The old session is closed by the scheduler
	_, err := old.ReceiveTimeout(waitFor)
	require.Error(t, err)
	assert.True(t, comm.IsTransport(err))

	require.Eventually(t, func() bool {
		nodes := s.Nodes()
		return len(nodes) == 1 && nodes[0].MaxKids == 3
	}, waitFor, 10*time.Millisecond)
}

func TestDaemonLogout(t *testing.T) {
	s, port := startScheduler(t, Config{})
	d := loginDaemon(t, s, port, &protocol.Login{Port: 10245, MaxKids: 1})

	require.NoError(t, d.Send(&protocol.End{}))
	require.Eventually(t, func() bool { return s.DaemonCount() == 0 }, waitFor, 10*time.Millisecond)
}

func TestSweepDropsSilentDaemons(t *testing.T) {
	s, port := startScheduler(t, Config{NodeTimeout: 200 * time.Millisecond, SweepInterval: 50 * time.Millisecond})
	d := loginDaemon(t, s, port, &protocol.Login{Port: 10245, MaxKids: 1})

	require.Eventually(t, func() bool { return s.DaemonCount() == 0 }, waitFor, 10*time.Millisecond)
	_, err := d.ReceiveTimeout(waitFor)
	assert.Error(t, err)
}

func TestMonitorReceivesJobLifecycle(t *testing.T) {
	s, port := startScheduler(t, Config{})

	monitor := dial(t, port)
	require.NoError(t, monitor.Send(&protocol.MonitorLogin{}))
	require.Eventually(t, func() bool { return s.MonitorCount() == 1 }, waitFor, 10*time.Millisecond)

	d := loginDaemon(t, s, port, &protocol.Login{Port: 10245, MaxKids: 2})
	client := dial(t, port)
	use, ok := request(t, client, "").(*protocol.UseCompileServer)
	require.True(t, ok)

	require.NoError(t, d.Send(&protocol.JobBegin{JobID: use.JobID, StartTime: 1700000000}))
	require.NoError(t, d.Send(&protocol.JobDone{JobID: use.JobID, ExitCode: 0, RealMsec: 120}))

	next := func() protocol.Message {
		msg, err := monitor.ReceiveTimeout(waitFor)
		require.NoError(t, err)
		return msg
	}

	get, ok := next().(*protocol.MonitorGetCompileServer)
	require.True(t, ok)
	assert.Equal(t, use.JobID, get.JobID)
	assert.Equal(t, "main.c", get.Filename)

	begin, ok := next().(*protocol.MonitorJobBegin)
	require.True(t, ok)
	assert.Equal(t, use.JobID, begin.JobID)
	assert.Equal(t, "127.0.0.1:10245", begin.Host)

	done, ok := next().(*protocol.MonitorJobDone)
	require.True(t, ok)
	assert.Equal(t, uint32(120), done.RealMsec)

	require.NoError(t, monitor.Send(&protocol.End{}))
	require.Eventually(t, func() bool { return s.MonitorCount() == 0 }, waitFor, 10*time.Millisecond)
}

func TestUnexpectedFirstMessage(t *testing.T) {
	_, port := startScheduler(t, Config{})
	ch := dial(t, port)
	require.NoError(t, ch.Send(&protocol.Stats{Load: 1}))

	_, err := ch.ReceiveTimeout(waitFor)
	assert.Error(t, err)
}
