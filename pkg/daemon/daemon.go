package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cuemby/icecream/pkg/comm"
	"github.com/cuemby/icecream/pkg/compile"
	"github.com/cuemby/icecream/pkg/discovery"
	"github.com/cuemby/icecream/pkg/log"
	"github.com/cuemby/icecream/pkg/metrics"
	"github.com/cuemby/icecream/pkg/protocol"
	"github.com/cuemby/icecream/pkg/storage"
	"github.com/rs/zerolog"
)

// State is the scheduler session state
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateLoggingIn
	StateActive
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLoggingIn:
		return "logging-in"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Locator finds the scheduler to log in to
type Locator interface {
	Locate(ctx context.Context) (discovery.Result, error)
}

// Snapshot is a copy of the loop state taken between two iterations
type Snapshot struct {
	State       State
	CurrentKids int
	MaxKids     int
	Queued      int
	Tracked     int
	Sockets     int
}

// runningJob accumulates the JobDone message of one child
type runningJob struct {
	done    *protocol.JobDone
	timer   *metrics.Timer
	results io.ReadCloser
}

type incoming struct {
	ch  *comm.Channel
	msg protocol.Message
	err error
}

type schedulerMsg struct {
	ch  *comm.Channel
	msg protocol.Message
	err error
}

type connectResult struct {
	ch  *comm.Channel
	res discovery.Result
	err error
}

type childEventKind int

const (
	childReport childEventKind = iota
	childExited
)

type childEvent struct {
	kind     childEventKind
	pid      int
	counters compile.Counters
	err      error
	exit     Exit
}

// Daemon executes compile jobs for a scheduler.
//
// A single goroutine, the one running Run, owns the scheduler session, the
// request queue, the running job records and the result sockets. Every
// other goroutine only produces events for it.
type Daemon struct {
	cfg    Config
	logger zerolog.Logger

	locator  Locator
	spawner  Spawner
	load     LoadSampler
	store    storage.Store
	registry *comm.Registry
	listener net.Listener
	port     int

	// loop state
	state         State
	scheduler     *comm.Channel
	queue         []Request
	jobs          map[int]*runningJob
	resultSockets map[io.ReadCloser]int
	currentKids   int
	maxKids       int
	lastStats     time.Time
	retryAt       time.Time

	incoming    chan incoming
	schedMsgs   chan schedulerMsg
	connected   chan connectResult
	childEvents chan childEvent
	fatal       chan error
	done        chan struct{}

	observe func(Snapshot)
}

// Option configures a Daemon
type Option func(*Daemon)

// WithLocator replaces scheduler discovery
func WithLocator(l Locator) Option {
	return func(d *Daemon) { d.locator = l }
}

// WithSpawner replaces the process spawner
func WithSpawner(s Spawner) Option {
	return func(d *Daemon) { d.spawner = s }
}

// WithLoadSampler replaces the Stats load computation
func WithLoadSampler(l LoadSampler) Option {
	return func(d *Daemon) { d.load = l }
}

// WithStore records finished jobs in s
func WithStore(s storage.Store) Option {
	return func(d *Daemon) { d.store = s }
}

// WithListener serves clients on an already bound listener
func WithListener(ln net.Listener) Option {
	return func(d *Daemon) { d.listener = ln }
}

// New creates a daemon. Unless overridden by options it discovers the
// scheduler, runs jobs in child processes of the current binary and binds
// the first free port from cfg.StartPort.
func New(cfg Config, opts ...Option) (*Daemon, error) {
	cfg = cfg.withDefaults()

	d := &Daemon{
		cfg:           cfg,
		logger:        log.WithNodeID(cfg.NodeID).With().Str("component", "daemon").Logger(),
		registry:      comm.NewRegistry(),
		maxKids:       cfg.MaxKids,
		jobs:          make(map[int]*runningJob),
		resultSockets: make(map[io.ReadCloser]int),
		incoming:      make(chan incoming),
		schedMsgs:     make(chan schedulerMsg),
		connected:     make(chan connectResult, 1),
		childEvents:   make(chan childEvent),
		fatal:         make(chan error, 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.locator == nil {
		d.locator = discovery.NewLocator(cfg.SchedulerHost, cfg.SchedulerPort, discovery.Config{NetName: cfg.NetName})
	}
	if d.load == nil {
		d.load = NewProcLoad()
	}
	if d.spawner == nil {
		s, err := NewProcessSpawner()
		if err != nil {
			return nil, err
		}
		d.spawner = s
	}
	if d.listener == nil {
		ln, _, err := Listen(cfg.ListenHost, cfg.StartPort, cfg.PortAttempts)
		if err != nil {
			return nil, err
		}
		d.listener = ln
	}
	if tcp, ok := d.listener.Addr().(*net.TCPAddr); ok {
		d.port = tcp.Port
	}

	metrics.DaemonMaxKids.Set(float64(d.maxKids))
	metrics.RegisterComponent("listener", true, d.listener.Addr().String())
	metrics.RegisterComponent("scheduler", false, "not connected")
	return d, nil
}

// Port returns the port clients connect to
func (d *Daemon) Port() int {
	return d.port
}

// Run serves until ctx is cancelled. Cancellation sends End to the
// scheduler and asks every running child to terminate. Run only fails when
// the listener breaks.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info().
		Int("port", d.port).
		Int("max_kids", d.maxKids).
		Strs("environments", d.cfg.Environments).
		Msg("Daemon started")

	go d.acceptLoop(ctx)
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case err := <-d.fatal:
			d.shutdown()
			return err
		default:
		}

		d.step(ctx)
		if d.observe != nil {
			d.observe(d.snapshot())
		}
	}
}

// step runs one loop iteration: start a queued job, else handle one child
// event, else send due stats, else wait for the next event.
func (d *Daemon) step(ctx context.Context) {
	d.maybeConnect(ctx)

	if d.state == StateActive && len(d.queue) > 0 && d.currentKids < d.maxKids {
		if d.spawnNext() {
			return
		}
	}

	select {
	case ev := <-d.childEvents:
		d.handleChildEvent(ev)
		return
	default:
	}

	if d.state == StateActive && time.Since(d.lastStats) >= d.cfg.StatsInterval {
		d.sendStats()
	}

	d.wait(ctx)
}

func (d *Daemon) wait(ctx context.Context) {
	timeout := d.cfg.PollInterval
	if d.state == StateActive {
		if untilStats := d.cfg.StatsInterval - time.Since(d.lastStats); untilStats < timeout {
			timeout = max(untilStats, 0)
		}
	}
	if d.state == StateDisconnected {
		if untilRetry := time.Until(d.retryAt); untilRetry < timeout {
			timeout = max(untilRetry, 0)
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case err := <-d.fatal:
		d.fatal <- err
	case in := <-d.incoming:
		d.handleIncoming(in)
	case ev := <-d.childEvents:
		d.handleChildEvent(ev)
	case res := <-d.connected:
		d.handleConnected(res)
	case m := <-d.schedMsgs:
		d.handleSchedulerMessage(m)
	case <-timer.C:
	}
}

func (d *Daemon) snapshot() Snapshot {
	return Snapshot{
		State:       d.state,
		CurrentKids: d.currentKids,
		MaxKids:     d.maxKids,
		Queued:      len(d.queue),
		Tracked:     len(d.jobs),
		Sockets:     len(d.resultSockets),
	}
}

func (d *Daemon) acceptLoop(ctx context.Context) {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case d.fatal <- fmt.Errorf("accept failed: %w", err):
			default:
			}
			return
		}
		go d.readFirstMessage(conn)
	}
}

// readFirstMessage decodes the single message a client opens with and
// hands it to the loop.
func (d *Daemon) readFirstMessage(conn net.Conn) {
	ch, err := comm.Accept(conn, d.registry)
	if err != nil {
		d.logger.Warn().Err(err).Str("peer", conn.RemoteAddr().String()).Msg("Rejected connection")
		conn.Close()
		return
	}

	msg, err := ch.ReceiveTimeout(d.cfg.AcceptTimeout)
	if err == nil {
		if _, timedOut := msg.(*protocol.Timeout); timedOut {
			err = fmt.Errorf("no message within %s", d.cfg.AcceptTimeout)
		}
	}

	select {
	case d.incoming <- incoming{ch: ch, msg: msg, err: err}:
	case <-d.done:
		ch.Close()
	}
}

func (d *Daemon) handleIncoming(in incoming) {
	logger := d.logger.With().Str("peer", in.ch.Peer().String()).Logger()
	if in.err != nil {
		logger.Warn().Err(in.err).Msg("No usable message from client")
		in.ch.Close()
		return
	}

	switch m := in.msg.(type) {
	case *protocol.GetScheduler:
		var reply protocol.Message = &protocol.End{}
		if d.state == StateActive && d.scheduler != nil {
			peer := d.scheduler.Peer()
			reply = &protocol.UseScheduler{Hostname: peer.Name, Port: uint32(peer.Port)}
		}
		if err := in.ch.Send(reply); err != nil {
			logger.Debug().Err(err).Msg("Failed to answer scheduler query")
		}
		in.ch.Close()

	case *protocol.CompileFileRequest:
		j, err := m.TakeJob()
		if err != nil {
			logger.Error().Err(err).Msg("Compile request without job")
			in.ch.Close()
			return
		}
		d.queue = append(d.queue, Request{Job: j, Conn: in.ch})
		metrics.DaemonQueueLength.Set(float64(len(d.queue)))
		logger.Debug().
			Uint32("job_id", j.ID).
			Int("queued", len(d.queue)).
			Int("current_kids", d.currentKids).
			Msg("Queued compile request")

	default:
		logger.Error().Err(protocol.Unexpected(in.msg, protocol.TypeGetScheduler, protocol.TypeCompileFile)).Msg("Dropping client")
		in.ch.Close()
	}
}

// spawnNext starts the job at the head of the queue. On failure the
// request stays queued and is retried on a later iteration.
func (d *Daemon) spawnNext() bool {
	req := d.queue[0]
	logger := log.WithJobID(req.Job.ID)

	child, err := d.spawner.Spawn(req)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start job, keeping it queued")
		return false
	}

	d.queue[0] = Request{}
	d.queue = d.queue[1:]
	d.currentKids++
	metrics.DaemonQueueLength.Set(float64(len(d.queue)))
	metrics.DaemonCurrentKids.Set(float64(d.currentKids))

	pid := child.PID()
	now := time.Now()
	results := child.Results()
	d.jobs[pid] = &runningJob{
		done:    &protocol.JobDone{JobID: req.Job.ID},
		timer:   metrics.NewTimer(),
		results: results,
	}
	d.resultSockets[results] = pid
	go d.watchChild(child)

	// The child owns the client connection from here on
	req.Conn.Close()

	logger.Info().Int("pid", pid).Int("current_kids", d.currentKids).Msg("Started job")

	if d.scheduler != nil {
		if err := d.scheduler.Send(&protocol.JobBegin{JobID: req.Job.ID, StartTime: uint32(now.Unix())}); err != nil {
			d.dropScheduler(fmt.Errorf("job begin: %w", err))
		}
	}
	return true
}

// watchChild reports the child's transfer counters and then its exit, in
// that order, so the loop never reaps a child whose counters are pending.
func (d *Daemon) watchChild(child Child) {
	ev := childEvent{kind: childReport, pid: child.PID()}
	ev.counters, ev.err = compile.ReadCounters(child.Results())
	select {
	case d.childEvents <- ev:
	case <-d.done:
	}

	exit := child.Wait()
	exit.PID = child.PID()
	select {
	case d.childEvents <- childEvent{kind: childExited, pid: exit.PID, exit: exit}:
	case <-d.done:
	}
}

func (d *Daemon) handleChildEvent(ev childEvent) {
	switch ev.kind {
	case childReport:
		rj, ok := d.jobs[ev.pid]
		if !ok {
			return
		}
		if ev.err != nil {
			logger := log.WithJobID(rj.done.JobID)
			logger.Debug().Err(ev.err).Msg("Job reported no transfer counters")
		} else {
			rj.done.InCompressed = ev.counters.InCompressed
			rj.done.InUncompressed = ev.counters.InUncompressed
			rj.done.OutCompressed = ev.counters.OutCompressed
			rj.done.OutUncompressed = ev.counters.OutUncompressed
		}
		d.closeResults(rj)
	case childExited:
		d.reap(ev.exit)
	}
}

func (d *Daemon) closeResults(rj *runningJob) {
	if rj.results == nil {
		return
	}
	if _, ok := d.resultSockets[rj.results]; ok {
		delete(d.resultSockets, rj.results)
		rj.results.Close()
	}
	rj.results = nil
}

// reap finishes the bookkeeping of an exited child. The job record is
// removed whether or not a scheduler is there to receive it.
func (d *Daemon) reap(exit Exit) {
	rj, ok := d.jobs[exit.PID]
	if !ok {
		d.logger.Warn().Int("pid", exit.PID).Msg("Exit of unknown child")
		return
	}
	delete(d.jobs, exit.PID)
	d.closeResults(rj)
	d.currentKids--
	metrics.DaemonCurrentKids.Set(float64(d.currentKids))

	elapsed := rj.timer.Duration()
	done := rj.done
	done.ExitCode = int32(exit.ExitCode)
	done.RealMsec = uint32(elapsed.Milliseconds())
	done.UserMsec = uint32(exit.Usage.UserTime.Milliseconds())
	done.SysMsec = uint32(exit.Usage.SysTime.Milliseconds())
	done.MaxRSS = uint32((exit.Usage.MaxRSSBytes + 1023) / 1024)
	done.IdRSS = uint32((exit.Usage.IdRSSBytes + 1023) / 1024)
	done.MajFlt = uint32(exit.Usage.MajFlt)
	done.NSwap = uint32(exit.Usage.NSwap)

	result := "success"
	if exit.ExitCode != 0 || exit.Err != nil {
		result = "failed"
	}
	metrics.DaemonJobsTotal.WithLabelValues(result).Inc()
	rj.timer.ObserveDuration(metrics.DaemonJobDuration)

	logger := log.WithJobID(done.JobID)
	logger.Info().
		Int("pid", exit.PID).
		Int("exit_code", exit.ExitCode).
		Uint32("real_msec", done.RealMsec).
		Int("current_kids", d.currentKids).
		Msg("Job finished")

	reported := false
	if d.scheduler != nil {
		if err := d.scheduler.Send(done); err != nil {
			d.dropScheduler(fmt.Errorf("job done: %w", err))
		} else {
			reported = true
		}
	}

	if d.store != nil {
		if err := d.store.RecordJob(storage.NewJobRecord(done, time.Now(), reported)); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to record job")
		}
	}
}

func (d *Daemon) sendStats() {
	load := d.load.Load(d.currentKids, d.maxKids)
	if err := d.scheduler.Send(&protocol.Stats{Load: load}); err != nil {
		d.dropScheduler(fmt.Errorf("stats: %w", err))
		return
	}
	d.lastStats = time.Now()
	d.logger.Trace().Uint32("load", load).Msg("Sent stats")
}

func (d *Daemon) shutdown() {
	d.logger.Info().Int("current_kids", d.currentKids).Msg("Shutting down")
	d.listener.Close()

	if d.scheduler != nil {
		if err := d.scheduler.Send(&protocol.End{}); err != nil {
			d.logger.Debug().Err(err).Msg("Failed to say goodbye to scheduler")
		}
		d.scheduler.Close()
		d.scheduler = nil
	}
	d.state = StateDisconnected

	for _, req := range d.queue {
		req.Conn.Close()
	}
	d.queue = nil

	d.spawner.Terminate()

	if d.store != nil {
		if n, err := d.store.PruneBefore(time.Now().Add(-d.cfg.HistoryRetention)); err == nil && n > 0 {
			d.logger.Debug().Int("pruned", n).Msg("Pruned job history")
		}
	}
}
