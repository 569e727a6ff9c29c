package gameclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chaseio/chase-client/internal/logging"
	"github.com/chaseio/chase-client/internal/observability"
	"github.com/chaseio/chase-client/model"
	"github.com/chaseio/chase-client/timectrl"
)

// Updater performs one update_game round-trip.
type Updater interface {
	UpdateGame(ctx context.Context, req model.UpdateRequest) (model.WorldSnapshot, error)
}

// Sink receives snapshots; it reports whether the snapshot was newer than
// everything it already holds.
type Sink interface {
	Apply(ctx context.Context, snap model.WorldSnapshot) bool
}

// PollMetrics receives poll outcomes.
type PollMetrics interface {
	ObservePoll(outcome string, took time.Duration)
	ObserveSkip(reason string)
}

// PollerConfig describes the local player and the poll cadence.
type PollerConfig struct {
	Username string
	PlayerID uuid.UUID
	// Radius is sent with every update. The backend sets the play radius
	// at start_game, so updates normally send 0.
	Radius   float64
	Interval time.Duration
}

// Poller periodically sends the local position to the backend and hands
// the returned snapshots to a Sink.
//
// At most one request is in flight: a tick that fires while the previous
// round-trip is outstanding is skipped. Each request carries a strictly
// increasing sequence number which is copied onto the snapshot so the sink
// can discard responses that arrive out of order.
type Poller struct {
	cfg      PollerConfig
	updater  Updater
	location LocationSource
	sink     Sink

	log     logging.Logger
	metrics PollMetrics
	now     func() time.Time

	started  atomic.Bool
	inFlight atomic.Bool
	seq      atomic.Uint64
	wg       sync.WaitGroup
}

// PollerOption customises a Poller.
type PollerOption func(*Poller)

// WithPollLogger attaches a logger to the poller.
func WithPollLogger(l logging.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.log = l
		}
	}
}

// WithPollMetrics attaches a metrics recorder.
func WithPollMetrics(m PollMetrics) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

// WithClock overrides time.Now for ReceivedAt stamps.
func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPoller wires a poller. It does not poll until MarkStarted is called.
func NewPoller(cfg PollerConfig, updater Updater, location LocationSource, sink Sink, opts ...PollerOption) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = timectrl.DefaultInterval
	}
	p := &Poller{
		cfg:      cfg,
		updater:  updater,
		location: location,
		sink:     sink,
		log:      logging.Noop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MarkStarted enables polling, normally after StartGame succeeded.
func (p *Poller) MarkStarted() { p.started.Store(true) }

// Started reports whether polling is enabled.
func (p *Poller) Started() bool { return p.started.Load() }

// Request builds the body for the next update at the given position.
func (p *Poller) Request(at model.Coordinate) model.UpdateRequest {
	return model.UpdateRequest{
		Coordinate: at,
		Username:   p.cfg.Username,
		Radius:     p.cfg.Radius,
		UUID:       strings.ToLower(p.cfg.PlayerID.String()),
	}
}

// Tick issues one asynchronous update_game request unless the game has not
// started, no location fix is available, or a request is still in flight.
// It reports whether a request was issued.
func (p *Poller) Tick(ctx context.Context) bool {
	if !p.started.Load() {
		p.skip(observability.SkipNotStarted)
		return false
	}

	// Claim the slot before reading the location so a skipped tick does
	// not consume a replayed fix.
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skip(observability.SkipInFlight)
		return false
	}

	at, err := p.location.Location(ctx)
	if err != nil {
		p.inFlight.Store(false)
		if !errors.Is(err, ErrNoFix) {
			p.log.Warn(ctx, "location source failed", logging.Err(err))
		} else {
			p.log.Debug(ctx, "can't find location")
		}
		p.skip(observability.SkipNoLocation)
		return false
	}

	seq := p.seq.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		p.roundTrip(ctx, seq, p.Request(at))
	}()
	return true
}

func (p *Poller) roundTrip(ctx context.Context, seq uint64, req model.UpdateRequest) {
	ctx = logging.ContextWithPollID(ctx, seq)
	ctx, log := logging.WithPollLogger(ctx, p.log)
	ctx = logging.ContextWithLogger(ctx, log)

	start := p.now()
	snap, err := p.updater.UpdateGame(ctx, req)
	took := p.now().Sub(start)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn(ctx, "update_game failed", logging.Err(err))
		}
		p.observe(observability.OutcomeError, took)
		return
	}

	snap.Seq = seq
	snap.ReceivedAt = p.now()
	if !p.sink.Apply(ctx, snap) {
		p.observe(observability.OutcomeStale, took)
		return
	}
	p.observe(observability.OutcomeApplied, took)
	log.Debug(ctx, "update successful",
		logging.Int("players", len(snap.Players)),
		logging.Int("pickups", len(snap.Pickups)),
	)
}

// Run ticks every Interval until ctx is cancelled, then waits for the
// outstanding request to finish.
func (p *Poller) Run(ctx context.Context) error {
	ticker := timectrl.NewTicker(p.cfg.Interval)
	ticker.AddListener(func(ctx context.Context, _ uint64, _ time.Time) {
		p.Tick(ctx)
	})

	p.log.Info(ctx, "polling backend", logging.String("interval", p.cfg.Interval.String()))
	<-ticker.Start(ctx, 0)
	p.Wait()
	return ctx.Err()
}

// Wait blocks until every issued request has completed.
func (p *Poller) Wait() { p.wg.Wait() }

func (p *Poller) skip(reason string) {
	if p.metrics != nil {
		p.metrics.ObserveSkip(reason)
	}
}

func (p *Poller) observe(outcome string, took time.Duration) {
	if p.metrics != nil {
		p.metrics.ObservePoll(outcome, took)
	}
}
