package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/cuemby/icecream/pkg/comm"
	"github.com/cuemby/icecream/pkg/discovery"
	"github.com/cuemby/icecream/pkg/events"
	"github.com/cuemby/icecream/pkg/log"
	"github.com/cuemby/icecream/pkg/metrics"
	"github.com/cuemby/icecream/pkg/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds scheduler configuration
type Config struct {
	ListenHost string
	Port       int
	NetName    string

	// NodeTimeout drops daemons that sent nothing for this long
	NodeTimeout time.Duration

	// SweepInterval is how often silent daemons are looked for
	SweepInterval time.Duration
}

// DefaultConfig returns the scheduler defaults
func DefaultConfig() Config {
	return Config{
		ListenHost:    "0.0.0.0",
		Port:          discovery.DefaultPort,
		NetName:       discovery.DefaultNetName,
		NodeTimeout:   30 * time.Second,
		SweepInterval: 5 * time.Second,
	}
}

// Node is a daemon logged in to the scheduler
type Node struct {
	ID       string
	Host     string
	Port     uint32
	MaxKids  uint32
	Envs     []string
	Load     uint32
	Jobs     int
	LastSeen time.Time

	ch *comm.Channel
}

// Name is how clients and monitors address the node
func (n *Node) Name() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// Scheduler assigns compile jobs to logged in daemons
type Scheduler struct {
	cfg      Config
	logger   zerolog.Logger
	registry *comm.Registry
	broker   *events.Broker

	mu        sync.RWMutex
	nodes     map[*comm.Channel]*Node
	monitors  int
	nextJobID uint32
	jobs      map[uint32]*Node

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = def.NodeTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.NetName == "" {
		cfg.NetName = def.NetName
	}
	return &Scheduler{
		cfg:      cfg,
		logger:   log.WithComponent("scheduler"),
		registry: comm.NewRegistry(),
		broker:   events.NewBroker(),
		nodes:    make(map[*comm.Channel]*Node),
		jobs:     make(map[uint32]*Node),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop and monitor event distribution
func (s *Scheduler) Start() {
	s.broker.Start()
	go s.run()
}

// Stop stops the scheduler loops. Open sessions end when their
// connections close.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.broker.Stop()
	})
}

// run is the sweep loop
func (s *Scheduler) run() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// sweep closes daemons that went silent. Closing the channel ends their
// session goroutine, which removes them.
func (s *Scheduler) sweep(now time.Time) {
	s.mu.RLock()
	var stale []*Node
	for _, n := range s.nodes {
		if now.Sub(n.LastSeen) > s.cfg.NodeTimeout {
			stale = append(stale, n)
		}
	}
	s.mu.RUnlock()

	for _, n := range stale {
		s.logger.Warn().Str("node", n.Name()).Msg("Daemon went silent, dropping")
		n.ch.Close()
	}
}

// Serve accepts connections on ln until ctx is cancelled
func (s *Scheduler) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Str("netname", s.cfg.NetName).Msg("Scheduler listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		ch, err := comm.Accept(conn, s.registry)
		if err != nil {
			s.logger.Warn().Err(err).Str("peer", conn.RemoteAddr().String()).Msg("Rejected connection")
			conn.Close()
			continue
		}
		go s.handle(ctx, ch)
	}
}

// handle dispatches a connection on its first message
func (s *Scheduler) handle(ctx context.Context, ch *comm.Channel) {
	defer ch.Close()

	msg, err := ch.Receive()
	if err != nil {
		s.logger.Debug().Err(err).Str("peer", ch.Peer().String()).Msg("Connection closed before first message")
		return
	}

	switch m := msg.(type) {
	case *protocol.Login:
		s.serveDaemon(ch, m)
	case *protocol.GetCompileServer:
		s.serveClient(ch, m)
	case *protocol.MonitorLogin:
		s.serveMonitor(ctx, ch)
	default:
		s.logger.Warn().
			Err(protocol.Unexpected(msg, protocol.TypeLogin, protocol.TypeGetCompileServer, protocol.TypeMonitorLogin)).
			Str("peer", ch.Peer().String()).
			Msg("Dropping connection")
	}
}

// login registers a daemon. A daemon logging in again from the same host
// and port replaces its previous session.
func (s *Scheduler) login(ch *comm.Channel, m *protocol.Login) *Node {
	peer := ch.Peer()
	n := &Node{
		ID:       uuid.New().String(),
		Host:     peer.IP.String(),
		Port:     m.Port,
		MaxKids:  m.MaxKids,
		Envs:     m.Envs,
		LastSeen: time.Now(),
		ch:       ch,
	}

	s.mu.Lock()
	var replaced []*Node
	for other, old := range s.nodes {
		if old.Port == n.Port && other.Peer().SameHost(peer) {
			replaced = append(replaced, old)
			delete(s.nodes, other)
		}
	}
	s.nodes[ch] = n
	count := len(s.nodes)
	s.mu.Unlock()

	for _, old := range replaced {
		s.logger.Info().Str("node", old.Name()).Msg("Daemon logged in again, dropping old session")
		old.ch.Close()
	}
	metrics.SchedulerDaemons.Set(float64(count))
	return n
}

func (s *Scheduler) logout(n *Node) {
	s.mu.Lock()
	if s.nodes[n.ch] == n {
		delete(s.nodes, n.ch)
	}
	for id, owner := range s.jobs {
		if owner == n {
			delete(s.jobs, id)
		}
	}
	count := len(s.nodes)
	s.mu.Unlock()
	metrics.SchedulerDaemons.Set(float64(count))
}

func (s *Scheduler) serveDaemon(ch *comm.Channel, login *protocol.Login) {
	n := s.login(ch, login)
	defer s.logout(n)

	logger := log.WithPeer(n.Name()).With().Str("component", "scheduler").Logger()
	logger.Info().
		Uint32("max_kids", n.MaxKids).
		Strs("environments", n.Envs).
		Msg("Daemon logged in")

	for {
		msg, err := ch.Receive()
		if err != nil {
			logger.Info().Err(err).Msg("Daemon disconnected")
			return
		}
		s.touch(n)

		switch m := msg.(type) {
		case *protocol.Stats:
			s.mu.Lock()
			n.Load = min(m.Load, protocol.MaxLoad)
			s.mu.Unlock()
		case *protocol.JobBegin:
			s.broker.Publish(events.NewEvent(events.EventJobBegin, n.Name(), &protocol.MonitorJobBegin{
				JobID:     m.JobID,
				StartTime: m.StartTime,
				Host:      n.Name(),
			}))
		case *protocol.JobDone:
			s.jobDone(n, m.JobID)
			s.broker.Publish(events.NewEvent(events.EventJobDone, n.Name(), &protocol.MonitorJobDone{
				JobDone: *m,
				Host:    n.Name(),
			}))
		case *protocol.Ping:
		case *protocol.End:
			logger.Info().Msg("Daemon logged out")
			return
		default:
			logger.Warn().Err(protocol.Unexpected(msg, protocol.TypeStats, protocol.TypeJobBegin, protocol.TypeJobDone, protocol.TypeEnd)).Msg("Dropping daemon")
			return
		}
	}
}

func (s *Scheduler) touch(n *Node) {
	s.mu.Lock()
	n.LastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Scheduler) jobDone(n *Node, id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[id] == n {
		delete(s.jobs, id)
		if n.Jobs > 0 {
			n.Jobs--
		}
	}
}

// serveClient answers compile server requests until the client ends the
// session.
func (s *Scheduler) serveClient(ch *comm.Channel, first *protocol.GetCompileServer) {
	req := first
	for {
		if !s.assign(ch, req) {
			return
		}

		msg, err := ch.Receive()
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case *protocol.GetCompileServer:
			req = m
		case *protocol.End:
			return
		default:
			s.logger.Debug().Err(protocol.Unexpected(msg, protocol.TypeGetCompileServer, protocol.TypeEnd)).Msg("Dropping client")
			return
		}
	}
}

// assign picks a daemon for req and tells the client. Without a suitable
// daemon the client gets End and builds locally.
func (s *Scheduler) assign(ch *comm.Channel, req *protocol.GetCompileServer) bool {
	s.mu.Lock()
	n := selectNode(s.candidates(), req.Version)
	var jobID uint32
	if n != nil {
		s.nextJobID++
		if s.nextJobID == 0 {
			s.nextJobID++
		}
		jobID = s.nextJobID
		s.jobs[jobID] = n
		n.Jobs++
		// Assume the job's share of load until the daemon reports again
		if n.MaxKids > 0 {
			n.Load = min(n.Load+protocol.MaxLoad/n.MaxKids, protocol.MaxLoad)
		}
	}
	s.mu.Unlock()

	if n == nil {
		metrics.SchedulerAssignments.WithLabelValues("no_server").Inc()
		s.logger.Debug().Str("version", req.Version).Str("file", req.Filename).Msg("No compile server available")
		return ch.Send(&protocol.End{}) == nil
	}

	metrics.SchedulerAssignments.WithLabelValues("assigned").Inc()
	s.broker.Publish(events.NewEvent(events.EventJobRequested, n.Name(), &protocol.MonitorGetCompileServer{
		GetCompileServer: *req,
		JobID:            jobID,
		Client:           ch.Peer().String(),
	}))
	jobLog := log.WithJobID(jobID)
	jobLog.Debug().
		Str("file", req.Filename).
		Str("node", n.Name()).
		Msg("Assigned job")

	env := req.Version
	if env == "" && len(n.Envs) > 0 {
		env = n.Envs[0]
	}
	return ch.Send(&protocol.UseCompileServer{
		JobID:       jobID,
		Port:        n.Port,
		Hostname:    n.Host,
		Environment: env,
	}) == nil
}

// candidates returns a snapshot of the logged in nodes. Callers hold mu.
func (s *Scheduler) candidates() []*Node {
	nodes := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	return nodes
}

// selectNode returns the least loaded node that offers version and has
// capacity left. Ties go to the node running fewer jobs, then to the
// lowest ID.
func selectNode(nodes []*Node, version string) *Node {
	var selected *Node
	for _, n := range filterCandidates(nodes, version) {
		if selected == nil ||
			n.Load < selected.Load ||
			(n.Load == selected.Load && n.Jobs < selected.Jobs) ||
			(n.Load == selected.Load && n.Jobs == selected.Jobs && n.ID < selected.ID) {
			selected = n
		}
	}
	return selected
}

// filterCandidates keeps nodes that can take a job for version. An empty
// version matches every node.
func filterCandidates(nodes []*Node, version string) []*Node {
	var ready []*Node
	for _, n := range nodes {
		if n.MaxKids == 0 || n.Load >= protocol.MaxLoad {
			continue
		}
		if version != "" && !slices.Contains(n.Envs, version) {
			continue
		}
		ready = append(ready, n)
	}
	return ready
}

// serveMonitor forwards monitor events until the monitor or the scheduler
// goes away.
func (s *Scheduler) serveMonitor(ctx context.Context, ch *comm.Channel) {
	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	s.mu.Lock()
	s.monitors++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.monitors--
		s.mu.Unlock()
	}()

	logger := s.logger.With().Str("monitor", ch.Peer().String()).Logger()
	logger.Info().Msg("Monitor logged in")

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			msg, err := ch.Receive()
			if err != nil || msg.Type() == protocol.TypeEnd {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := ch.Send(ev.Message); err != nil {
				logger.Debug().Err(err).Msg("Monitor unreachable")
				return
			}
		case <-gone:
			logger.Info().Msg("Monitor logged out")
			return
		case <-ctx.Done():
			_ = ch.Send(&protocol.End{})
			return
		case <-s.stopCh:
			_ = ch.Send(&protocol.End{})
			return
		}
	}
}

// Nodes returns a copy of every logged in daemon
func (s *Scheduler) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		c := *n
		c.ch = nil
		out = append(out, c)
	}
	return out
}

// DaemonCount returns the number of logged in daemons
func (s *Scheduler) DaemonCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// MonitorCount returns the number of connected monitors
func (s *Scheduler) MonitorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.monitors
}
