// Package gameclient talks to the chase backend: it starts the game and
// polls update_game, feeding each world snapshot to a sink.
package gameclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/chaseio/chase-client/internal/logging"
	"github.com/chaseio/chase-client/internal/observability"
	"github.com/chaseio/chase-client/model"
)

const (
	apiStartGame  = "start_game"
	apiUpdateGame = "update_game"

	// DefaultRequestTimeout bounds every backend round-trip.
	DefaultRequestTimeout = 10 * time.Second

	startAccepted = "200"
	maxErrorBody  = 512
)

// maxResponseBytes bounds how much of a backend response is read.
var maxResponseBytes int64 = 8 << 20

// Client is a thin JSON-over-HTTP client for the game backend.
type Client struct {
	base    *url.URL
	http    *http.Client
	log     logging.Logger
	timeout time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTimeout sets the per-request timeout; non-positive values keep the
// default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New returns a client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q: scheme must be http or https", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	c := &Client{
		base:    u,
		http:    http.DefaultClient,
		log:     logging.Noop(),
		timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StartGame registers the player with the backend. The backend answers
// with the literal body "200" on success.
func (c *Client) StartGame(ctx context.Context, req model.UpdateRequest) error {
	body, err := c.post(ctx, apiStartGame, req)
	if err != nil {
		return err
	}
	if got := strings.TrimSpace(string(body)); got != startAccepted {
		return fmt.Errorf("%w: backend answered %q", ErrStartRejected, truncate(got))
	}
	c.log.Info(ctx, "game started",
		logging.String("player", req.Username),
		logging.String("uuid", req.UUID),
	)
	return nil
}

// UpdateGame reports the player's position and returns the world state.
// Seq and ReceivedAt of the result are left for the caller to fill in.
func (c *Client) UpdateGame(ctx context.Context, req model.UpdateRequest) (model.WorldSnapshot, error) {
	body, err := c.post(ctx, apiUpdateGame, req)
	if err != nil {
		return model.WorldSnapshot{}, err
	}

	var snap model.WorldSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return model.WorldSnapshot{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return snap, nil
}

func (c *Client) post(ctx context.Context, api string, payload any) (_ []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.base.ResolveReference(&url.URL{Path: api})
	ctx, span := observability.StartSpan(ctx, "chase."+api, trace.SpanKindClient,
		attribute.String("http.request.method", http.MethodPost),
		attribute.String("url.full", endpoint.String()),
	)
	defer func() { observability.EndSpan(span, err) }()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", api, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", api, err)
	}
	// The backend reads the raw body regardless of the declared type and
	// has always been sent this header.
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json; charset=utf-8")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", api, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", api, err)
	}
	if int64(len(body)) > maxResponseBytes {
		return nil, fmt.Errorf("%s: response exceeds %d bytes", api, maxResponseBytes)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{API: api, StatusCode: resp.StatusCode, Body: truncate(string(body))}
	}
	return body, nil
}

// truncate shortens s to at most maxErrorBody bytes without splitting a
// UTF-8 sequence.
func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
