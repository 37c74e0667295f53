// Package poller drives repeated result checks for one published request
// until the companion answers, the attempt budget runs out, or the caller
// cancels.
package poller

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/oob-signer/internal/channel"
	"github.com/jmehdipour/oob-signer/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultMaxAttempts = 120
)

type Config struct {
	Interval    time.Duration // pause between attempts
	MaxAttempts int           // attempts before TimedOut
	// RoutesInApp marks environments that deliver the request through another
	// in-app mechanism, so a missing presentation handle is not fatal.
	RoutesInApp bool
}

// Outcome is the terminal result of Run. Only Completed carries Data.
type Outcome struct {
	State           State
	Data            json.RawMessage
	Attempts        int
	TransientErrors int
}

func (o Outcome) OK() bool { return o.State == Completed }

type Poller struct {
	ch  channel.Poller
	cfg Config
	log *zap.Logger

	// OnTransientError observes every swallowed poll failure.
	OnTransientError func(attempt int, err error)
	OnStateChange    func(from, to State)
}

func New(ch channel.Poller, cfg Config, log *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{ch: ch, cfg: cfg, log: log}
}

func (p *Poller) Config() Config { return p.cfg }

// Run polls sessionID. presented reports whether the out-of-band surface was
// opened. Run never returns an error: timeouts, a missing surface and
// cancellation are all reported through Outcome.State.
func (p *Poller) Run(ctx context.Context, sessionID string, presented bool) Outcome {
	m := newMachine(p.OnStateChange)
	log := p.log.With(zap.String("session_id", sessionID))

	if !presented && !p.cfg.RoutesInApp {
		m.advance(Cancelled)
		log.Info("presentation unavailable, not polling")
		return Outcome{State: Cancelled}
	}

	m.advance(Opened)
	if ctx.Err() != nil {
		m.advance(Cancelled)
		return Outcome{State: Cancelled}
	}

	m.advance(Polling)

	var out Outcome
	finish := func(st State) Outcome {
		m.advance(st)
		out.State = st
		log.Debug("poll finished",
			zap.String("state", st.String()),
			zap.Int("attempts", out.Attempts),
			zap.Int("transient_errors", out.TransientErrors))
		return out
	}

	timer := time.NewTimer(p.cfg.Interval)
	timer.Stop()
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return finish(Cancelled)
		}

		res, err := p.ch.Poll(ctx, sessionID)
		out.Attempts = attempt

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return finish(Cancelled)
			}
			out.TransientErrors++
			metrics.PollAttemptsTotal.WithLabelValues("transient").Inc()
			log.Warn("poll failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
			if p.OnTransientError != nil {
				p.OnTransientError(attempt, err)
			}
		case res.Present:
			metrics.PollAttemptsTotal.WithLabelValues("data").Inc()
			out.Data = res.Data
			return finish(Completed)
		default:
			metrics.PollAttemptsTotal.WithLabelValues("empty").Inc()
		}

		if attempt >= p.cfg.MaxAttempts {
			return finish(TimedOut)
		}

		timer.Reset(p.cfg.Interval)
		select {
		case <-ctx.Done():
			return finish(Cancelled)
		case <-timer.C:
		}
	}
}
