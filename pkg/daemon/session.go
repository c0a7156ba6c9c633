package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/icecream/pkg/comm"
	"github.com/cuemby/icecream/pkg/metrics"
	"github.com/cuemby/icecream/pkg/protocol"
)

// connectTimeout bounds one discovery plus connect attempt
const connectTimeout = 10 * time.Second

// maybeConnect starts a background attempt to reach the scheduler when the
// daemon is disconnected and the retry delay has passed. At most one
// attempt is in flight.
func (d *Daemon) maybeConnect(ctx context.Context) {
	if d.state != StateDisconnected || time.Now().Before(d.retryAt) {
		return
	}
	d.state = StateConnecting

	go func() {
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		res, err := d.locator.Locate(cctx)
		if err != nil {
			d.connected <- connectResult{err: err}
			return
		}
		ch, err := comm.Connect(cctx, res.Host, res.Port, nil)
		d.connected <- connectResult{ch: ch, res: res, err: err}
	}()
}

// handleConnected logs in to a freshly connected scheduler
func (d *Daemon) handleConnected(r connectResult) {
	if r.err != nil {
		d.state = StateDisconnected
		d.retryAt = time.Now().Add(d.cfg.RetryDelay)
		d.logger.Warn().Err(r.err).Msg("No scheduler found, retrying")
		metrics.UpdateComponent("scheduler", false, r.err.Error())
		return
	}

	d.state = StateLoggingIn
	d.scheduler = r.ch
	login := &protocol.Login{
		Port:    uint32(d.port),
		MaxKids: uint32(d.maxKids),
		Envs:    d.cfg.Environments,
	}
	if err := r.ch.Send(login); err != nil {
		d.dropScheduler(fmt.Errorf("login: %w", err))
		return
	}

	d.state = StateActive
	d.lastStats = time.Time{}
	go d.readScheduler(r.ch)

	metrics.DaemonSchedulerReconnects.Inc()
	metrics.DaemonSchedulerConnected.Set(1)
	metrics.UpdateComponent("scheduler", true, r.ch.Peer().String())
	d.logger.Info().
		Str("scheduler", r.ch.Peer().String()).
		Str("netname", r.res.NetName).
		Msg("Logged in to scheduler")

	if d.store != nil {
		if n, err := d.store.PruneBefore(time.Now().Add(-d.cfg.HistoryRetention)); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to prune job history")
		} else if n > 0 {
			d.logger.Debug().Int("pruned", n).Msg("Pruned job history")
		}
	}
}

// readScheduler forwards everything the scheduler sends until the
// connection breaks.
func (d *Daemon) readScheduler(ch *comm.Channel) {
	for {
		msg, err := ch.Receive()
		select {
		case d.schedMsgs <- schedulerMsg{ch: ch, msg: msg, err: err}:
		case <-d.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (d *Daemon) handleSchedulerMessage(m schedulerMsg) {
	if m.ch != d.scheduler {
		// left over from a dropped session
		return
	}
	if m.err != nil {
		d.dropScheduler(m.err)
		return
	}
	switch m.msg.(type) {
	case *protocol.End:
		d.dropScheduler(errors.New("scheduler ended the session"))
	case *protocol.Ping:
	default:
		d.logger.Debug().
			Err(protocol.Unexpected(m.msg, protocol.TypeEnd, protocol.TypePing)).
			Msg("Ignoring scheduler message")
	}
}

// dropScheduler closes the scheduler session. Queued requests stay queued
// and running children keep running; they are reported to the next
// session only through the job history.
func (d *Daemon) dropScheduler(reason error) {
	if d.scheduler != nil {
		d.scheduler.Close()
		d.scheduler = nil
	}
	d.state = StateDisconnected
	d.retryAt = time.Now().Add(d.cfg.RetryDelay)

	metrics.DaemonSchedulerConnected.Set(0)
	metrics.UpdateComponent("scheduler", false, reason.Error())
	d.logger.Warn().Err(reason).Msg("Lost scheduler")
}
