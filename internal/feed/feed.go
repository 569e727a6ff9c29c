// Package feed pushes styled map markers to browser map surfaces over
// WebSocket, one message per applied world snapshot.
package feed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaseio/chase-client/internal/logging"
	"github.com/chaseio/chase-client/internal/render"
	"github.com/chaseio/chase-client/internal/worldstate"
	"github.com/chaseio/chase-client/model"
)

const (
	defaultQueueSize    = 8
	defaultWriteTimeout = 5 * time.Second
)

// Message is the JSON document sent for every batch.
type Message struct {
	Seq              uint64          `json:"seq"`
	SecondsRemaining *int            `json:"secondsRemaining,omitempty"`
	Region           model.Region    `json:"region"`
	Markers          []render.Marker `json:"markers"`
}

// Source is the world-state view the feed reads from.
type Source interface {
	Current() (worldstate.Batch, bool)
	Subscribe(fn func(worldstate.Batch)) (cancel func())
	LocalPlayer() string
}

// Metrics receives subscriber and drop counts.
type Metrics interface {
	SubscriberDelta(delta int)
	FeedMessageDropped()
}

// HandlerConfig tunes the feed.
type HandlerConfig struct {
	Style        render.Style
	QueueSize    int
	WriteTimeout time.Duration
	Logger       logging.Logger
	Metrics      Metrics
}

// Handler upgrades requests to WebSocket and streams batches.
type Handler struct {
	src      Source
	cfg      HandlerConfig
	log      logging.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds a feed handler over src.
func NewHandler(src Source, cfg HandlerConfig) *Handler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Style == (render.Style{}) {
		cfg.Style = render.DefaultStyle()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}

	return &Handler{
		src: src,
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// NewMux serves the feed on /ws and a liveness probe on /healthz.
func NewMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "ok\n")
	})
	return mux
}

// Encode renders a batch into a feed message.
func Encode(b worldstate.Batch, localName string, style render.Style) Message {
	return Message{
		Seq:              b.Seq(),
		SecondsRemaining: b.Snapshot.SecondsRemaining,
		Region:           b.Region,
		Markers:          render.Build(b.Annotations, localName, style),
	}
}

type outbound struct {
	seq  uint64
	data []byte
}

func (h *Handler) marshal(b worldstate.Batch) (outbound, error) {
	data, err := json.Marshal(Encode(b, h.src.LocalPlayer(), h.cfg.Style))
	return outbound{seq: b.Seq(), data: data}, err
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "feed upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := h.log.With(logging.String("remote", r.RemoteAddr))

	queue := make(chan outbound, h.cfg.QueueSize)
	unsubscribe := h.src.Subscribe(func(b worldstate.Batch) {
		msg, err := h.marshal(b)
		if err != nil {
			log.Error(ctx, "encode feed message", logging.Err(err))
			return
		}
		if dropped := enqueueLatest(queue, msg); dropped > 0 && h.cfg.Metrics != nil {
			for i := 0; i < dropped; i++ {
				h.cfg.Metrics.FeedMessageDropped()
			}
		}
	})
	defer unsubscribe()

	if h.cfg.Metrics != nil {
		h.cfg.Metrics.SubscriberDelta(1)
		defer h.cfg.Metrics.SubscriberDelta(-1)
	}
	log.Info(ctx, "feed subscriber connected")
	defer log.Info(ctx, "feed subscriber disconnected")

	// Control frames are only processed while reading.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var (
		lastSeq uint64
		sent    bool
	)
	if current, ok := h.src.Current(); ok {
		msg, err := h.marshal(current)
		if err != nil {
			log.Error(ctx, "encode feed message", logging.Err(err))
			return
		}
		if err := h.write(conn, msg.data); err != nil {
			return
		}
		lastSeq, sent = msg.seq, true
	}

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case msg := <-queue:
			if sent && msg.seq <= lastSeq {
				continue
			}
			if err := h.write(conn, msg.data); err != nil {
				log.Debug(ctx, "feed write failed", logging.Err(err))
				return
			}
			lastSeq, sent = msg.seq, true
		}
	}
}

// enqueueLatest queues msg, evicting the oldest queued messages while the
// queue is full so the newest batch always reaches the writer. It returns
// the number of evicted messages. Only one goroutine may enqueue at a time;
// the store delivers batches serially.
func enqueueLatest(queue chan outbound, msg outbound) (dropped int) {
	for {
		select {
		case queue <- msg:
			return dropped
		default:
		}
		select {
		case <-queue:
			dropped++
		default:
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
