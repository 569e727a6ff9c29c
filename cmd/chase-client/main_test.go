package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chaseio/chase-client/internal/config"
	"github.com/chaseio/chase-client/internal/gameclient"
	"github.com/chaseio/chase-client/internal/logging"
	"github.com/chaseio/chase-client/model"
)

type fakeBackend struct {
	mu        sync.Mutex
	startBody string
	starts    []model.UpdateRequest
	updates   []model.UpdateRequest
}

func (b *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/start_game", func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		b.mu.Lock()
		b.starts = append(b.starts, req)
		body := b.startBody
		b.mu.Unlock()
		io.WriteString(w, body)
	})
	mux.HandleFunc("/update_game", func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		b.mu.Lock()
		b.updates = append(b.updates, req)
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"players": []map[string]any{{
				"uuid":       req.UUID,
				"username":   req.Username,
				"points":     1,
				"radius":     20,
				"coordinate": req.Coordinate,
			}},
			"pickups":          []any{},
			"secondsRemaining": 60,
		})
	})
	return mux
}

func (b *fakeBackend) counts() (starts, updates int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.starts), len(b.updates)
}

func decodeRequest(t *testing.T, r *http.Request) model.UpdateRequest {
	var req model.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Errorf("decode %s body: %v", r.URL.Path, err)
	}
	return req
}

func testConfig(backend string) config.Config {
	cfg := config.Default()
	cfg.BackendURL = backend
	cfg.PlayerName = "alice"
	cfg.PlayerID = uuid.MustParse("A1B2C3D4-0000-4000-8000-000000000001")
	cfg.PollInterval = 10 * time.Millisecond
	cfg.FeedAddr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	return cfg
}

func TestRunStartsGameAndPolls(t *testing.T) {
	backend := &fakeBackend{startBody: "200"}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	at := model.Coordinate{Latitude: 37.3349, Longitude: -122.00902}
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, testConfig(srv.URL), gameclient.FixedLocation(at), logging.Noop())
	}()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, updates := backend.counts(); updates >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("backend never received two updates")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.starts) != 1 {
		t.Fatalf("expected one start_game, got %d", len(backend.starts))
	}
	start := backend.starts[0]
	if start.Radius != 20 {
		t.Fatalf("start_game radius = %v", start.Radius)
	}
	if start.UUID != "a1b2c3d4-0000-4000-8000-000000000001" {
		t.Fatalf("uuid not lower-cased: %q", start.UUID)
	}
	if backend.updates[0].Radius != 0 || backend.updates[0].Coordinate != at {
		t.Fatalf("unexpected update body %+v", backend.updates[0])
	}
}

func TestRunStopsWhenStartRejected(t *testing.T) {
	backend := &fakeBackend{startBody: "409"}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := testConfig(srv.URL)
	cfg.FeedAddr = ""
	err := run(ctx, cfg, gameclient.FixedLocation(model.Coordinate{Latitude: 1, Longitude: 2}), logging.Noop())
	if err == nil {
		t.Fatalf("expected start rejection to fail run")
	}
	if !strings.Contains(err.Error(), "start_game") {
		t.Fatalf("unexpected error %v", err)
	}
	if _, updates := backend.counts(); updates != 0 {
		t.Fatalf("no updates expected before the game starts, got %d", updates)
	}
}

func clearChaseEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvBackendURL, config.EnvPollInterval, config.EnvRingMode,
		config.EnvPlayerName, config.EnvPlayerID, config.EnvFeedAddr,
		config.EnvMetricsAddr, config.EnvTerraDevID, config.EnvTerraAPIKey,
	} {
		t.Setenv(key, "")
	}
}

func TestAppFlagsOverrideEnvironment(t *testing.T) {
	clearChaseEnv(t)
	t.Setenv(config.EnvBackendURL, "http://env.example.com/")
	t.Setenv(config.EnvPlayerName, "from-env")
	t.Setenv(config.EnvMetricsAddr, ":9999")

	var (
		gotCfg config.Config
		gotLoc gameclient.LocationSource
	)
	app := newApp(func(ctx context.Context, cfg config.Config, loc gameclient.LocationSource, log logging.Logger) error {
		gotCfg, gotLoc = cfg, loc
		return nil
	})

	err := app.Run([]string{"chase-client",
		"--env-file", filepath.Join(t.TempDir(), "missing.env"),
		"--backend", "https://flag.example.com/",
		"--ring=false",
		"--interval", "2s",
		"--lat", "10.5",
		"--lon", "-20.25",
	})
	if err != nil {
		t.Fatalf("app.Run: %v", err)
	}

	if gotCfg.BackendURL != "https://flag.example.com/" {
		t.Fatalf("flag did not override backend: %q", gotCfg.BackendURL)
	}
	if gotCfg.PlayerName != "from-env" {
		t.Fatalf("env player name lost: %q", gotCfg.PlayerName)
	}
	if gotCfg.MetricsAddr != ":9999" {
		t.Fatalf("env metrics addr lost: %q", gotCfg.MetricsAddr)
	}
	if gotCfg.RingMode {
		t.Fatalf("--ring=false ignored")
	}
	if gotCfg.PollInterval != 2*time.Second {
		t.Fatalf("interval = %v", gotCfg.PollInterval)
	}
	if gotCfg.PlayerID == uuid.Nil {
		t.Fatalf("player id should be generated")
	}
	fix, err := gotLoc.Location(context.Background())
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if fix != (model.Coordinate{Latitude: 10.5, Longitude: -20.25}) {
		t.Fatalf("unexpected fix %+v", fix)
	}
}

func TestAppReplaysTrackFile(t *testing.T) {
	clearChaseEnv(t)
	dir := t.TempDir()
	track := filepath.Join(dir, "track.jsonl")
	lines := `{"latitude":1,"longitude":2}` + "\n" + `{"latitude":3,"longitude":4}` + "\n"
	if err := os.WriteFile(track, []byte(lines), 0o600); err != nil {
		t.Fatalf("write track: %v", err)
	}

	var gotLoc gameclient.LocationSource
	app := newApp(func(ctx context.Context, cfg config.Config, loc gameclient.LocationSource, log logging.Logger) error {
		gotLoc = loc
		return nil
	})
	err := app.Run([]string{"chase-client",
		"--env-file", filepath.Join(dir, "missing.env"),
		"--backend", "http://localhost:8000",
		"--name", "alice",
		"--track", track,
	})
	if err != nil {
		t.Fatalf("app.Run: %v", err)
	}

	for _, want := range []model.Coordinate{{Latitude: 1, Longitude: 2}, {Latitude: 3, Longitude: 4}, {Latitude: 3, Longitude: 4}} {
		got, err := gotLoc.Location(context.Background())
		if err != nil {
			t.Fatalf("Location: %v", err)
		}
		if got != want {
			t.Fatalf("fix = %+v, want %+v", got, want)
		}
	}
}

func TestAppRejectsIncompleteInput(t *testing.T) {
	cases := map[string][]string{
		"no location": {"--backend", "http://localhost:8000", "--name", "alice"},
		"no backend":  {"--name", "alice", "--lat", "1", "--lon", "2"},
		"bad lat":     {"--backend", "http://localhost:8000", "--name", "alice", "--lat", "91", "--lon", "2"},
		"bad id":      {"--backend", "http://localhost:8000", "--name", "alice", "--player-id", "nope", "--lat", "1", "--lon", "2"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			clearChaseEnv(t)
			called := false
			app := newApp(func(context.Context, config.Config, gameclient.LocationSource, logging.Logger) error {
				called = true
				return nil
			})
			argv := append([]string{"chase-client", "--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...)
			if err := app.Run(argv); err == nil {
				t.Fatalf("expected an error")
			}
			if called {
				t.Fatalf("run body should not be invoked")
			}
		})
	}
}
