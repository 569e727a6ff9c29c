package gameclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chaseio/chase-client/internal/observability"
	"github.com/chaseio/chase-client/model"
)

type fakeUpdater struct {
	mu       sync.Mutex
	requests []model.UpdateRequest
	block    chan struct{}
	err      error
	snap     model.WorldSnapshot
}

func (f *fakeUpdater) UpdateGame(ctx context.Context, req model.UpdateRequest) (model.WorldSnapshot, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return model.WorldSnapshot{}, ctx.Err()
		}
	}
	return f.snap, f.err
}

func (f *fakeUpdater) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeSink struct {
	mu      sync.Mutex
	applied []model.WorldSnapshot
	accept  bool
}

func (f *fakeSink) Apply(_ context.Context, snap model.WorldSnapshot) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, snap)
	return f.accept
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes []string
	skips    []string
}

func (f *fakeMetrics) ObservePoll(outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeMetrics) ObserveSkip(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skips = append(f.skips, reason)
}

var here = FixedLocation{Latitude: 51.4988, Longitude: -0.1749}

func newTestPoller(u Updater, loc LocationSource, s Sink, m PollMetrics) *Poller {
	return NewPoller(PollerConfig{
		Username: "alice",
		PlayerID: uuid.MustParse("9E4C1D7A-3B2F-4E5A-8C6D-1F2A3B4C5D6E"),
		Interval: time.Millisecond,
	}, u, loc, s, WithPollMetrics(m))
}

func TestTickSkipsUntilStarted(t *testing.T) {
	u, s, m := &fakeUpdater{}, &fakeSink{accept: true}, &fakeMetrics{}
	p := newTestPoller(u, here, s, m)

	if p.Tick(context.Background()) {
		t.Fatalf("tick issued a request before the game started")
	}
	p.Wait()
	if u.count() != 0 || len(m.skips) != 1 || m.skips[0] != observability.SkipNotStarted {
		t.Fatalf("requests=%d skips=%v", u.count(), m.skips)
	}
}

func TestTickSendsRequestAndAppliesSnapshot(t *testing.T) {
	u := &fakeUpdater{snap: model.WorldSnapshot{Players: []model.Player{{Name: "alice"}}}}
	s, m := &fakeSink{accept: true}, &fakeMetrics{}
	p := newTestPoller(u, here, s, m)
	p.MarkStarted()

	if !p.Tick(context.Background()) {
		t.Fatalf("tick did not issue a request")
	}
	p.Wait()

	req := u.requests[0]
	if req.UUID != "9e4c1d7a-3b2f-4e5a-8c6d-1f2a3b4c5d6e" {
		t.Fatalf("uuid not lower-cased: %q", req.UUID)
	}
	if req.Username != "alice" || req.Radius != 0 || req.Coordinate != model.Coordinate(here) {
		t.Fatalf("request = %+v", req)
	}
	if len(s.applied) != 1 || s.applied[0].Seq != 1 || s.applied[0].ReceivedAt.IsZero() {
		t.Fatalf("applied = %+v", s.applied)
	}
	if len(m.outcomes) != 1 || m.outcomes[0] != observability.OutcomeApplied {
		t.Fatalf("outcomes = %v", m.outcomes)
	}
}

func TestTickSkipsWhileRequestInFlight(t *testing.T) {
	u := &fakeUpdater{block: make(chan struct{})}
	s, m := &fakeSink{accept: true}, &fakeMetrics{}
	p := newTestPoller(u, here, s, m)
	p.MarkStarted()

	if !p.Tick(context.Background()) {
		t.Fatalf("first tick did not issue a request")
	}
	if p.Tick(context.Background()) {
		t.Fatalf("second tick overlapped the first request")
	}
	close(u.block)
	p.Wait()

	if !p.Tick(context.Background()) {
		t.Fatalf("tick after completion did not issue a request")
	}
	p.Wait()

	if u.count() != 2 {
		t.Fatalf("requests = %d, want 2", u.count())
	}
	if len(m.skips) != 1 || m.skips[0] != observability.SkipInFlight {
		t.Fatalf("skips = %v", m.skips)
	}
	if s.applied[0].Seq != 1 || s.applied[1].Seq != 2 {
		t.Fatalf("sequences = %d, %d", s.applied[0].Seq, s.applied[1].Seq)
	}
}

func TestSkippedTickKeepsReplayedFix(t *testing.T) {
	track := []model.Coordinate{{Latitude: 1, Longitude: 1}, {Latitude: 2, Longitude: 2}, {Latitude: 3, Longitude: 3}}
	u := &fakeUpdater{block: make(chan struct{})}
	s, m := &fakeSink{accept: true}, &fakeMetrics{}
	p := newTestPoller(u, NewReplayLocation(track), s, m)
	p.MarkStarted()

	if !p.Tick(context.Background()) {
		t.Fatalf("first tick did not issue a request")
	}
	if p.Tick(context.Background()) {
		t.Fatalf("second tick overlapped the first request")
	}
	close(u.block)
	p.Wait()

	if !p.Tick(context.Background()) {
		t.Fatalf("tick after completion did not issue a request")
	}
	p.Wait()

	for i, want := range track[:2] {
		if got := u.requests[i].Coordinate; got != want {
			t.Fatalf("request %d sent %+v, want %+v", i, got, want)
		}
	}
}

func TestTickReleasesSlotWithoutLocation(t *testing.T) {
	u, s, m := &fakeUpdater{}, &fakeSink{accept: true}, &fakeMetrics{}
	p := newTestPoller(u, NewReplayLocation(nil), s, m)
	p.MarkStarted()

	p.Tick(context.Background())
	p.Tick(context.Background())

	for i, reason := range m.skips {
		if reason != observability.SkipNoLocation {
			t.Fatalf("skip %d = %q, want %q", i, reason, observability.SkipNoLocation)
		}
	}
	if len(m.skips) != 2 {
		t.Fatalf("skips = %v", m.skips)
	}
}

func TestTickSkipsWithoutLocation(t *testing.T) {
	u, s, m := &fakeUpdater{}, &fakeSink{accept: true}, &fakeMetrics{}
	p := newTestPoller(u, NewReplayLocation(nil), s, m)
	p.MarkStarted()

	if p.Tick(context.Background()) {
		t.Fatalf("tick issued a request without a fix")
	}
	if len(m.skips) != 1 || m.skips[0] != observability.SkipNoLocation {
		t.Fatalf("skips = %v", m.skips)
	}
}

func TestRoundTripErrorIsRecorded(t *testing.T) {
	u := &fakeUpdater{err: errors.New("connection refused")}
	s, m := &fakeSink{accept: true}, &fakeMetrics{}
	p := newTestPoller(u, here, s, m)
	p.MarkStarted()

	p.Tick(context.Background())
	p.Wait()

	if len(s.applied) != 0 {
		t.Fatalf("failed round-trip reached the sink")
	}
	if len(m.outcomes) != 1 || m.outcomes[0] != observability.OutcomeError {
		t.Fatalf("outcomes = %v", m.outcomes)
	}
}

func TestStaleSnapshotIsRecorded(t *testing.T) {
	u, s, m := &fakeUpdater{}, &fakeSink{accept: false}, &fakeMetrics{}
	p := newTestPoller(u, here, s, m)
	p.MarkStarted()

	p.Tick(context.Background())
	p.Wait()

	if len(m.outcomes) != 1 || m.outcomes[0] != observability.OutcomeStale {
		t.Fatalf("outcomes = %v", m.outcomes)
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	u, s := &fakeUpdater{}, &fakeSink{accept: true}
	p := newTestPoller(u, here, s, nil)
	p.MarkStarted()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for u.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d requests after 2s", u.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestLoadReplayLocation(t *testing.T) {
	track := `{"latitude": 1, "longitude": 2}

{"latitude": 3, "longitude": 4}
`
	r, err := LoadReplayLocation(strings.NewReader(track))
	if err != nil {
		t.Fatalf("LoadReplayLocation: %v", err)
	}

	want := []model.Coordinate{{Latitude: 1, Longitude: 2}, {Latitude: 3, Longitude: 4}, {Latitude: 3, Longitude: 4}}
	for i, w := range want {
		got, err := r.Location(context.Background())
		if err != nil || got != w {
			t.Fatalf("fix %d = %+v, %v; want %+v", i, got, err, w)
		}
	}
}

func TestLoadReplayLocationRejectsOutOfRange(t *testing.T) {
	if _, err := LoadReplayLocation(strings.NewReader(`{"latitude": 91, "longitude": 0}`)); err == nil {
		t.Fatalf("expected range error")
	}
}
