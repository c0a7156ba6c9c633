package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startResponder(t *testing.T, netName string) *Responder {
	t.Helper()
	r, err := ListenResponder("127.0.0.1:0", netName)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func TestDiscoverFindsResponder(t *testing.T) {
	r := startResponder(t, "IceCream")

	res, err := Discover(context.Background(), Config{
		NetName:      "ICECREAM",
		Targets:      []*net.UDPAddr{r.Addr()},
		Window:       2 * time.Second,
		PollInterval: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", res.Host)
	assert.Equal(t, r.Addr().Port, res.Port, "scheduler port is the reply source port")
	assert.Equal(t, "IceCream", res.NetName)
}

func TestDiscoverIgnoresOtherNetworks(t *testing.T) {
	r := startResponder(t, "OTHERNET")

	start := time.Now()
	_, err := Discover(context.Background(), Config{
		NetName:      "ICECREAM",
		Targets:      []*net.UDPAddr{r.Addr()},
		Window:       300 * time.Millisecond,
		PollInterval: 100 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrNoScheduler)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestDiscoverTimesOutWithoutReplies(t *testing.T) {
	silent, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer silent.Close()

	start := time.Now()
	_, err = Discover(context.Background(), Config{
		Targets:      []*net.UDPAddr{silent.LocalAddr().(*net.UDPAddr)},
		Window:       400 * time.Millisecond,
		PollInterval: 150 * time.Millisecond,
	})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrNoScheduler)
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second, "window must bound the wait")
}

func TestDiscoverRejectsBadChecksum(t *testing.T) {
	fake, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer fake.Close()

	go func() {
		buf := make([]byte, 16)
		_, from, err := fake.ReadFromUDP(buf)
		if err != nil {
			return
		}
		reply := encodeReply("ICECREAM")
		reply[0] = Probe
		_, _ = fake.WriteToUDP(reply, from)
	}()

	_, err = Discover(context.Background(), Config{
		Targets:      []*net.UDPAddr{fake.LocalAddr().(*net.UDPAddr)},
		Window:       300 * time.Millisecond,
		PollInterval: 100 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrNoScheduler)
}

func TestDiscoverHonoursContext(t *testing.T) {
	silent, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer silent.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Discover(ctx, Config{
		Targets:      []*net.UDPAddr{silent.LocalAddr().(*net.UDPAddr)},
		Window:       time.Second,
		PollInterval: 100 * time.Millisecond,
	})
	assert.Error(t, err)
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name  string
		reply []byte
		want  string
		ok    bool
	}{
		{name: "padded", reply: encodeReply("ICECREAM"), want: "ICECREAM", ok: true},
		{name: "unterminated", reply: []byte{Probe + 1, 'a', 'b'}, want: "ab", ok: true},
		{name: "too short", reply: []byte{Probe + 1}, ok: false},
		{name: "wrong checksum", reply: []byte{Probe, 'a', 0}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, ok := parseReply(tt.reply)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, name)
			}
		})
	}
}

func TestEncodeReplyTruncatesLongNames(t *testing.T) {
	reply := encodeReply("averyveryverylongnetworkname")
	assert.Len(t, reply, ReplySize)
	assert.Equal(t, byte(0), reply[ReplySize-1])
}

func TestBroadcastAddr(t *testing.T) {
	_, n, err := net.ParseCIDR("192.168.1.10/24")
	require.NoError(t, err)
	n.IP = net.ParseIP("192.168.1.10")
	assert.Equal(t, "192.168.1.255", broadcastAddr(n).String())

	_, lo, err := net.ParseCIDR("127.0.0.1/8")
	require.NoError(t, err)
	lo.IP = net.ParseIP("127.0.0.1")
	assert.Nil(t, broadcastAddr(lo))
}

func TestLocator(t *testing.T) {
	t.Setenv(SchedulerEnv, "")

	l := NewLocator("sched.lan:9000", 0, Config{})
	res, err := l.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Host: "sched.lan", Port: 9000}, res)

	l = NewLocator("sched.lan", 0, Config{})
	res, err = l.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, res.Port)

	t.Setenv(SchedulerEnv, "10.1.1.1:7000")
	l = NewLocator("", 0, Config{})
	assert.Equal(t, "10.1.1.1", l.Host)
	assert.Equal(t, 7000, l.Port)
}
