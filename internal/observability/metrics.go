package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll outcomes used as the "outcome" label of chase_polls_total.
const (
	OutcomeApplied = "applied"
	OutcomeStale   = "stale"
	OutcomeError   = "error"
)

// Skip reasons used as the "reason" label of chase_poll_skips_total.
const (
	SkipNotStarted = "not_started"
	SkipInFlight   = "in_flight"
	SkipNoLocation = "no_location"
)

// ClientCollector bundles the Prometheus metrics of the game client.
type ClientCollector struct {
	gatherer prometheus.Gatherer

	Polls          *prometheus.CounterVec
	PollDurations  prometheus.Histogram
	PollSkips      *prometheus.CounterVec
	StaleSnapshots prometheus.Counter

	Players          prometheus.Gauge
	Pickups          prometheus.Gauge
	Annotations      prometheus.Gauge
	SecondsRemaining prometheus.Gauge
	FeedSubscribers  prometheus.Gauge
	FeedDropped      prometheus.Counter
}

// NewClientCollector registers the client metrics against reg, defaulting to
// the global Prometheus registry when nil. Registering twice against the
// same registry returns the existing collectors.
func NewClientCollector(reg prometheus.Registerer) (*ClientCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	polls, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chase_polls_total",
		Help: "update_game round-trips, labeled by outcome (applied, stale, error).",
	}, []string{"outcome"}), "chase_polls_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chase_poll_duration_seconds",
		Help:    "update_game round-trip latency in seconds.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}), "chase_poll_duration_seconds")
	if err != nil {
		return nil, err
	}

	skips, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chase_poll_skips_total",
		Help: "Poll ticks that issued no request, labeled by reason.",
	}, []string{"reason"}), "chase_poll_skips_total")
	if err != nil {
		return nil, err
	}

	gauges := make(map[string]prometheus.Gauge)
	for name, help := range map[string]string{
		"chase_world_players":           "Players in the last applied snapshot.",
		"chase_world_pickups":           "Pickups in the last applied snapshot.",
		"chase_world_annotations":       "Annotations projected from the last applied snapshot.",
		"chase_world_seconds_remaining": "Seconds remaining reported by the last applied snapshot.",
		"chase_feed_subscribers":        "Connected render feed subscribers.",
	} {
		g, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help}), name)
		if err != nil {
			return nil, err
		}
		gauges[name] = g
	}

	stale, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chase_snapshots_stale_total",
		Help: "Snapshots dropped because a newer one was already applied.",
	}), "chase_snapshots_stale_total")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chase_feed_dropped_total",
		Help: "Render feed messages dropped because a subscriber fell behind.",
	}), "chase_feed_dropped_total")
	if err != nil {
		return nil, err
	}

	return &ClientCollector{
		gatherer:         gatherer,
		Polls:            polls,
		PollDurations:    durations,
		PollSkips:        skips,
		StaleSnapshots:   stale,
		Players:          gauges["chase_world_players"],
		Pickups:          gauges["chase_world_pickups"],
		Annotations:      gauges["chase_world_annotations"],
		SecondsRemaining: gauges["chase_world_seconds_remaining"],
		FeedSubscribers:  gauges["chase_feed_subscribers"],
		FeedDropped:      dropped,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ClientCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObservePoll records one finished update_game round-trip.
func (c *ClientCollector) ObservePoll(outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.Polls.WithLabelValues(outcome).Inc()
	c.PollDurations.Observe(took.Seconds())
}

// ObserveSkip records a tick that issued no request.
func (c *ClientCollector) ObserveSkip(reason string) {
	if c == nil {
		return
	}
	c.PollSkips.WithLabelValues(reason).Inc()
}

// SetWorldCounts updates the world gauges after a snapshot is applied.
// secondsRemaining < 0 means the backend did not report a countdown.
func (c *ClientCollector) SetWorldCounts(players, pickups, annotations, secondsRemaining int) {
	if c == nil {
		return
	}
	c.Players.Set(float64(players))
	c.Pickups.Set(float64(pickups))
	c.Annotations.Set(float64(annotations))
	if secondsRemaining >= 0 {
		c.SecondsRemaining.Set(float64(secondsRemaining))
	}
}

// StaleDropped records a snapshot that lost the ordering race.
func (c *ClientCollector) StaleDropped() {
	if c == nil {
		return
	}
	c.StaleSnapshots.Inc()
}

// SubscriberDelta moves the feed subscriber gauge by delta.
func (c *ClientCollector) SubscriberDelta(delta int) {
	if c == nil {
		return
	}
	c.FeedSubscribers.Add(float64(delta))
}

// FeedMessageDropped counts one message skipped for a slow subscriber.
func (c *ClientCollector) FeedMessageDropped() {
	if c == nil {
		return
	}
	c.FeedDropped.Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
