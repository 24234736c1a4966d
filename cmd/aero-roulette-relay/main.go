package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-roulette-relay",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"config_file", cfg.ConfigFile,
		"max_connections", cfg.MaxConnections,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"signaling_send_queue_bytes", cfg.SignalingSendQueueBytes,
		"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"signaling_ws_ping_interval", cfg.SignalingWSPingInterval,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)

	logStartupWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	if err := run(ctx, cfg, logger, ln, httpserver.BuildInfo{Commit: commit, BuildTime: built}); err != nil {
		logger.Error("relay exited", "err", err)
		os.Exit(1)
	}
}

// run serves the relay on ln until ctx is cancelled or the HTTP server fails.
// It takes ownership of ln.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger, ln net.Listener, build httpserver.BuildInfo) error {
	m := metrics.New()
	svc := relay.NewService(relay.Config{
		Logger:         logger,
		Metrics:        m,
		MaxConnections: cfg.MaxConnections,
	})
	if err := registerStatsGauges(m, svc); err != nil {
		_ = ln.Close()
		return err
	}

	srv, err := httpserver.New(cfg, logger, build)
	if err != nil {
		_ = ln.Close()
		return err
	}
	srv.SetStatsSource(svc.Stats)

	origins, err := cfg.OriginPolicy()
	if err != nil {
		_ = ln.Close()
		return err
	}
	sig := signaling.NewServer(signaling.Config{
		Relay:           svc,
		Logger:          logger,
		Metrics:         m,
		Origins:         origins,
		MaxMessageBytes: cfg.MaxSignalingMessageBytes,
		SendQueueBytes:  cfg.SignalingSendQueueBytes,
		IdleTimeout:     cfg.SignalingWSIdleTimeout,
		PingInterval:    cfg.SignalingWSPingInterval,
	})
	sig.RegisterRoutes(srv.Mux())
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// Signaling sockets are hijacked, so Shutdown does not wait for them.
		svc.Close()
		if err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func registerStatsGauges(m *metrics.Metrics, svc *relay.Service) error {
	gauges := []struct {
		name string
		help string
		fn   func(relay.Stats) int
	}{
		{"connections", "Registered signaling connections.", func(s relay.Stats) int { return s.Connections }},
		{"searching_connections", "Connections waiting in the search pool.", func(s relay.Stats) int { return s.Searching }},
		{"paired_connections", "Connections currently paired with a partner.", func(s relay.Stats) int { return s.Paired }},
	}
	for _, g := range gauges {
		fn := g.fn
		if err := m.GaugeFunc(g.name, g.help, func() float64 { return float64(fn(svc.Stats())) }); err != nil {
			return fmt.Errorf("register gauge %s: %w", g.name, err)
		}
	}
	return nil
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info when
	// available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
