// Package terra is a small client for the Terra biometric API, used to link
// a player's wearable to the game.
package terra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chaseio/chase-client/internal/logging"
	"github.com/chaseio/chase-client/internal/observability"
)

const (
	DefaultAPIBaseURL = "https://api.tryterra.co"
	DefaultWSBaseURL  = "https://ws.tryterra.co"

	defaultTimeout = 10 * time.Second
)

// maxResponseBytes bounds how much of a Terra response is read.
var maxResponseBytes int64 = 1 << 20

// ErrNoUsers is returned when a reference id maps to no Terra user.
var ErrNoUsers = errors.New("terra: no user for reference id")

// APIError reports a non-2xx Terra response.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("terra %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Config holds the developer credentials and endpoints.
type Config struct {
	DevID  string
	APIKey string

	APIBaseURL string // defaults to DefaultAPIBaseURL
	WSBaseURL  string // defaults to DefaultWSBaseURL

	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     logging.Logger
}

// Client calls the Terra REST endpoints the game needs.
type Client struct {
	cfg  Config
	http *http.Client
	log  logging.Logger
}

// New validates cfg and returns a client.
func New(cfg Config) (*Client, error) {
	if cfg.DevID == "" || cfg.APIKey == "" {
		return nil, errors.New("terra: dev id and api key are required")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = DefaultWSBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}
	return &Client{cfg: cfg, http: hc, log: log}, nil
}

type userInfoResponse struct {
	Users []struct {
		UserID uuid.UUID `json:"user_id"`
	} `json:"users"`
}

// UserIDFromReferenceID resolves the Terra user created for ref by the
// widget flow.
func (c *Client) UserIDFromReferenceID(ctx context.Context, ref uuid.UUID) (uuid.UUID, error) {
	q := url.Values{"reference_id": {referenceID(ref)}}
	endpoint := strings.TrimRight(c.cfg.APIBaseURL, "/") + "/v2/userInfo?" + q.Encode()

	var resp userInfoResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return uuid.Nil, err
	}
	if len(resp.Users) == 0 {
		return uuid.Nil, fmt.Errorf("%w %s", ErrNoUsers, ref)
	}
	return resp.Users[0].UserID, nil
}

// GenerateToken issues a streaming token for userID.
func (c *Client) GenerateToken(ctx context.Context, userID uuid.UUID) (string, error) {
	q := url.Values{"id": {strings.ToLower(userID.String())}}
	endpoint := strings.TrimRight(c.cfg.WSBaseURL, "/") + "/auth/user?" + q.Encode()

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("terra: empty token in response")
	}
	return resp.Token, nil
}

type widgetSessionRequest struct {
	ReferenceID string `json:"reference_id"`
	Providers   string `json:"providers"`
	Language    string `json:"language"`
}

type widgetSessionResponse struct {
	Status    string `json:"status"`
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

// WidgetSession is the hosted connect page for one reference id.
type WidgetSession struct {
	URL       string
	SessionID string
}

// GenerateWidgetSession opens a connect-widget session for ref.
func (c *Client) GenerateWidgetSession(ctx context.Context, ref uuid.UUID) (WidgetSession, error) {
	endpoint := strings.TrimRight(c.cfg.APIBaseURL, "/") + "/v2/auth/generateWidgetSession"
	body := widgetSessionRequest{ReferenceID: referenceID(ref), Providers: "GOOGLE", Language: "EN"}

	var resp widgetSessionResponse
	if err := c.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return WidgetSession{}, err
	}
	if resp.URL == "" {
		return WidgetSession{}, fmt.Errorf("terra: widget session status %q without url", resp.Status)
	}
	c.log.Info(ctx, "terra widget session created", logging.String("session_id", resp.SessionID))
	return WidgetSession{URL: resp.URL, SessionID: resp.SessionID}, nil
}

// referenceID formats ref the way the mobile app registered it with Terra:
// canonical upper-case hex.
func referenceID(ref uuid.UUID) string {
	return strings.ToUpper(ref.String())
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "terra."+method, trace.SpanKindClient,
		attribute.String("http.request.method", method),
	)
	defer func() { observability.EndSpan(span, err) }()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("terra: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("terra: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("dev-id", c.cfg.DevID)
	req.Header.Set("x-api-key", c.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("terra: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return fmt.Errorf("terra: read response: %w", err)
	}
	if int64(len(data)) > maxResponseBytes {
		return fmt.Errorf("terra: %s response exceeds %d bytes", req.URL.Path, maxResponseBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		path := req.URL.Path
		return &APIError{Endpoint: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("terra: decode %s: %w", req.URL.Path, err)
	}
	return nil
}
