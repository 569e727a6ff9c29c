package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	perrors "github.com/pingcap/errors"
	"github.com/urfave/cli"

	"github.com/chaseio/chase-client/internal/config"
	"github.com/chaseio/chase-client/internal/feed"
	"github.com/chaseio/chase-client/internal/gameclient"
	"github.com/chaseio/chase-client/internal/logging"
	"github.com/chaseio/chase-client/internal/observability"
	"github.com/chaseio/chase-client/internal/terra"
	"github.com/chaseio/chase-client/internal/worldstate"
	"github.com/chaseio/chase-client/model"
)

// runFunc is the body of the client once configuration is resolved.
type runFunc func(ctx context.Context, cfg config.Config, loc gameclient.LocationSource, log logging.Logger) error

func main() {
	if err := newApp(run).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "chase-client: %+v\n", err)
		os.Exit(1)
	}
}

func newApp(body runFunc) *cli.App {
	app := cli.NewApp()
	app.Name = "chase-client"
	app.Usage = "report a player's position to a chase game and stream the projected map"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "env-file", Value: ".env", Usage: "optional dotenv file loaded before reading the environment"},
		cli.StringFlag{Name: "backend", Usage: "game backend base URL (" + config.EnvBackendURL + ")"},
		cli.StringFlag{Name: "name", Usage: "local player name (" + config.EnvPlayerName + ")"},
		cli.StringFlag{Name: "player-id", Usage: "local player UUID (" + config.EnvPlayerID + ")"},
		cli.DurationFlag{Name: "interval", Usage: "update_game poll interval (" + config.EnvPollInterval + ")"},
		cli.BoolTFlag{Name: "ring", Usage: "draw radius rings instead of single pins (" + config.EnvRingMode + ")"},
		cli.StringFlag{Name: "feed-addr", Usage: "listen address of the WebSocket map feed (" + config.EnvFeedAddr + ")"},
		cli.StringFlag{Name: "metrics-addr", Usage: "listen address of /metrics (" + config.EnvMetricsAddr + ")"},
		cli.Float64Flag{Name: "lat", Usage: "fixed latitude of the local player"},
		cli.Float64Flag{Name: "lon", Usage: "fixed longitude of the local player"},
		cli.StringFlag{Name: "track", Usage: "JSON-lines file of coordinates replayed one per poll"},
	}
	app.Action = func(c *cli.Context) error {
		if err := config.LoadDotEnv(c.String("env-file")); err != nil {
			return perrors.Trace(err)
		}
		cfg, err := configFromContext(c)
		if err != nil {
			return err
		}
		loc, err := locationFromContext(c)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return body(ctx, cfg, loc, logging.NewFromEnv())
	}
	return app
}

// configFromContext overlays explicitly set flags on the environment.
func configFromContext(c *cli.Context) (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, perrors.Annotate(err, "read environment")
	}

	if c.IsSet("backend") {
		cfg.BackendURL = c.String("backend")
	}
	if c.IsSet("name") {
		cfg.PlayerName = c.String("name")
	}
	if c.IsSet("player-id") {
		vars := map[string]string{config.EnvPlayerID: c.String("player-id")}
		parsed, err := config.FromMap(vars)
		if err != nil {
			return config.Config{}, perrors.Annotate(err, "--player-id")
		}
		cfg.PlayerID = parsed.PlayerID
	}
	if c.IsSet("interval") {
		cfg.PollInterval = c.Duration("interval")
	}
	if c.IsSet("ring") {
		cfg.RingMode = c.BoolT("ring")
	}
	if c.IsSet("feed-addr") {
		cfg.FeedAddr = c.String("feed-addr")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, perrors.Errorf("invalid configuration: %v", err)
	}
	return cfg, nil
}

func locationFromContext(c *cli.Context) (gameclient.LocationSource, error) {
	if path := c.String("track"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, perrors.Annotatef(err, "open track %s", path)
		}
		defer f.Close()
		track, err := gameclient.LoadReplayLocation(f)
		if err != nil {
			return nil, perrors.Annotatef(err, "load track %s", path)
		}
		return track, nil
	}

	if !c.IsSet("lat") || !c.IsSet("lon") {
		return nil, perrors.Errorf("a location is required: pass --track or both --lat and --lon")
	}
	at := model.Coordinate{Latitude: c.Float64("lat"), Longitude: c.Float64("lon")}
	if !at.Valid() {
		return nil, perrors.Errorf("coordinate %v,%v out of range", at.Latitude, at.Longitude)
	}
	return gameclient.FixedLocation(at), nil
}

func run(ctx context.Context, cfg config.Config, loc gameclient.LocationSource, log logging.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return perrors.Annotate(err, "init tracing")
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewClientCollector(nil)
	if err != nil {
		return perrors.Annotate(err, "init metrics")
	}

	store := worldstate.NewStore(
		worldstate.WithRingMode(cfg.RingMode),
		worldstate.WithLocalPlayer(cfg.PlayerName),
		worldstate.WithLogger(log),
		worldstate.WithMetricsRecorder(collector),
	)

	client, err := gameclient.New(cfg.BackendURL, gameclient.WithLogger(log))
	if err != nil {
		return perrors.Trace(err)
	}
	poller := gameclient.NewPoller(
		gameclient.PollerConfig{
			Username: cfg.PlayerName,
			PlayerID: cfg.PlayerID,
			Interval: cfg.PollInterval,
		},
		client,
		loc,
		store,
		gameclient.WithPollLogger(log),
		gameclient.WithPollMetrics(collector),
	)

	var servers []*http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		srv, err := serve(ctx, "metrics", cfg.MetricsAddr, mux, log)
		if err != nil {
			return err
		}
		servers = append(servers, srv)
	}
	if cfg.FeedAddr != "" {
		handler := feed.NewHandler(store, feed.HandlerConfig{Logger: log, Metrics: collector})
		srv, err := serve(ctx, "feed", cfg.FeedAddr, feed.NewMux(handler), log)
		if err != nil {
			return err
		}
		servers = append(servers, srv)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
	}()

	if cfg.TerraEnabled() {
		if err := linkTerra(ctx, cfg, log); err != nil {
			log.Warn(ctx, "terra link failed", logging.Err(err))
		}
	}

	if err := startGame(ctx, client, poller, loc, cfg); err != nil {
		return err
	}
	log.Info(ctx, "joined game",
		logging.String("player", cfg.PlayerName),
		logging.Stringer("player_id", cfg.PlayerID),
		logging.Bool("ring_mode", cfg.RingMode),
	)

	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return perrors.Trace(err)
	}
	log.Info(context.Background(), "shutting down chase client", logging.Uint64("last_seq", store.LastSeq()))
	return nil
}

func startGame(ctx context.Context, client *gameclient.Client, poller *gameclient.Poller, loc gameclient.LocationSource, cfg config.Config) error {
	at, err := loc.Location(ctx)
	if err != nil {
		return perrors.Annotate(err, "locate player for start_game")
	}
	req := poller.Request(at)
	req.Radius = cfg.StartRadius
	if err := client.StartGame(ctx, req); err != nil {
		return perrors.Annotate(err, "start_game")
	}
	poller.MarkStarted()
	return nil
}

// serve binds addr synchronously so a bad address fails startup, then
// serves in the background.
func serve(ctx context.Context, name, addr string, handler http.Handler, log logging.Logger) (*http.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, perrors.Annotatef(err, "listen %s on %s", name, addr)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), name+" server exited", logging.Err(err))
		}
	}()
	log.Info(ctx, "serving "+name, logging.String("addr", lis.Addr().String()))
	return srv, nil
}

// linkTerra prints the widget URL the player opens to connect a wearable
// and reports whether the player already has a linked Terra user.
func linkTerra(ctx context.Context, cfg config.Config, log logging.Logger) error {
	tc, err := terra.New(terra.Config{DevID: cfg.TerraDevID, APIKey: cfg.TerraAPIKey, Logger: log})
	if err != nil {
		return err
	}

	userID, err := tc.UserIDFromReferenceID(ctx, cfg.PlayerID)
	switch {
	case err == nil:
		if _, err := tc.GenerateToken(ctx, userID); err != nil {
			return err
		}
		log.Info(ctx, "terra user linked", logging.Stringer("terra_user_id", userID))
		return nil
	case !errors.Is(err, terra.ErrNoUsers):
		return err
	}

	session, err := tc.GenerateWidgetSession(ctx, cfg.PlayerID)
	if err != nil {
		return err
	}
	log.Info(ctx, "open the terra widget to connect a wearable",
		logging.String("url", session.URL),
		logging.String("session_id", session.SessionID),
	)
	return nil
}
