// Package worldstate owns the most recently applied world snapshot and the
// annotations projected from it.
package worldstate

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chaseio/chase-client/core"
	"github.com/chaseio/chase-client/internal/logging"
	"github.com/chaseio/chase-client/internal/observability"
	"github.com/chaseio/chase-client/model"
)

// Batch is everything derived from one applied snapshot. Batches are
// replaced wholesale; callers must treat the slices as read-only.
type Batch struct {
	Snapshot    model.WorldSnapshot
	Annotations []model.ProjectedAnnotation
	Region      model.Region
	// LocalPlayer is the local player's entry, valid when LocalFound.
	LocalPlayer model.Player
	LocalFound  bool
}

// Seq is the sequence of the snapshot the batch was built from.
func (b Batch) Seq() uint64 { return b.Snapshot.Seq }

// MetricsRecorder receives world counts after each applied snapshot.
type MetricsRecorder interface {
	SetWorldCounts(players, pickups, annotations, secondsRemaining int)
	StaleDropped()
}

// Option customises Store construction.
type Option func(*Store)

// WithProjector replaces the default 30° projector.
func WithProjector(p *core.Projector) Option {
	return func(s *Store) {
		if p != nil {
			s.projector = p
		}
	}
}

// WithRingMode selects ring projection (true) or one pin per entity.
func WithRingMode(ring bool) Option {
	return func(s *Store) { s.ringMode = ring }
}

// WithLocalPlayer sets the display name used to recentre the region.
func WithLocalPlayer(name string) Option {
	return func(s *Store) { s.localName = name }
}

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Store) { s.metrics = m }
}

// Store applies snapshots in sequence order and fans each new batch out to
// subscribers. A snapshot whose Seq is not greater than the last applied
// one is dropped, so a slow response can never overwrite a newer world.
type Store struct {
	// applyMu serialises Apply so subscribers observe batches in sequence
	// order. mu guards the fields read by Current.
	applyMu sync.Mutex
	mu      sync.RWMutex

	projector *core.Projector
	ringMode  bool
	localName string

	current Batch
	applied bool

	subs    map[int]func(Batch)
	nextSub int

	log     logging.Logger
	metrics MetricsRecorder
}

// NewStore builds an empty store showing core.DefaultRegion.
func NewStore(opts ...Option) *Store {
	s := &Store{
		projector: core.NewProjector(core.ProjectorConfig{}),
		ringMode:  true,
		current:   Batch{Region: core.DefaultRegion()},
		subs:      make(map[int]func(Batch)),
		log:       logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetLocalPlayer changes the name used for recentring. It takes effect on
// the next applied snapshot.
func (s *Store) SetLocalPlayer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localName = name
}

// LocalPlayer returns the configured local display name.
func (s *Store) LocalPlayer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localName
}

// RingMode reports whether ring projection is active.
func (s *Store) RingMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ringMode
}

// LastSeq returns the sequence of the applied snapshot, or 0 if none.
func (s *Store) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.applied {
		return 0
	}
	return s.current.Snapshot.Seq
}

// Apply projects snap and makes it current unless a snapshot with an equal
// or greater Seq has already been applied. It reports whether snap was
// applied. Subscribers run synchronously after the swap and must not call
// Apply themselves.
func (s *Store) Apply(ctx context.Context, snap model.WorldSnapshot) bool {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	log := logging.FromContext(ctx, s.log)
	ctx, span := observability.StartSpan(ctx, "chase.apply_snapshot", trace.SpanKindInternal,
		attribute.Int64("chase.seq", int64(snap.Seq)),
		attribute.Int("chase.entities", snap.EntityCount()),
	)
	defer observability.EndSpan(span, nil)

	s.mu.RLock()
	stale := s.applied && snap.Seq <= s.current.Snapshot.Seq
	lastSeq := s.current.Snapshot.Seq
	prevRegion := s.current.Region
	name := s.localName
	ring := s.ringMode
	s.mu.RUnlock()

	if stale {
		span.SetAttributes(attribute.Bool("chase.stale", true))
		log.Debug(ctx, "dropping out-of-order snapshot",
			logging.Uint64("seq", snap.Seq),
			logging.Uint64("last_seq", lastSeq),
		)
		if s.metrics != nil {
			s.metrics.StaleDropped()
		}
		return false
	}

	batch := Batch{
		Snapshot:    snap,
		Annotations: s.projector.Project(snap, name, ring),
	}
	batch.LocalPlayer, batch.LocalFound = core.FindLocalPlayer(snap.Players, name)
	if batch.LocalFound {
		batch.Region = core.RegionAround(batch.LocalPlayer)
	} else {
		batch.Region = prevRegion
	}

	s.mu.Lock()
	s.current = batch
	s.applied = true
	subs := make([]func(Batch), 0, len(s.subs))
	for _, id := range sortedKeys(s.subs) {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()

	if !batch.LocalFound && name != "" {
		log.Debug(ctx, "local player not in snapshot; keeping previous region",
			logging.String("player", name),
			logging.Uint64("seq", snap.Seq),
		)
	}
	if s.metrics != nil {
		remaining := -1
		if snap.SecondsRemaining != nil {
			remaining = *snap.SecondsRemaining
		}
		s.metrics.SetWorldCounts(len(snap.Players), len(snap.Pickups), len(batch.Annotations), remaining)
	}

	for _, fn := range subs {
		fn(batch)
	}
	return true
}

// Current returns the latest batch; ok is false before the first Apply, in
// which case the batch only carries the default region.
func (s *Store) Current() (batch Batch, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.applied
}

// Subscribe registers fn to receive every applied batch. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(Batch)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (s *Store) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func sortedKeys(m map[int]func(Batch)) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
