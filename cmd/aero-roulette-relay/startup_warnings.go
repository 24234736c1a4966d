package main

import (
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/origin"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, origin.Wildcard) {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxConnections <= 0 {
		logger.Warn("startup security warning: MAX_CONNECTIONS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_connections_unlimited_in_prod",
			"max_connections", cfg.MaxConnections,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (every relayed message is buffered in full)",
			"warning_code", "max_signaling_message_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && strings.EqualFold(safeURLScheme(cfg.PublicBaseURL), "http") {
		logger.Warn("startup security warning: PUBLIC_BASE_URL is plain http while --mode=prod",
			"warning_code", "public_base_url_insecure",
			"public_base_url", cfg.PublicBaseURL,
			"mode", cfg.Mode,
		)
	}

	switch {
	case len(cfg.ICEServers) == 0:
		logger.Warn("startup warning: no ICE servers configured; peers will only find host candidates",
			"warning_code", "ice_servers_empty",
			"mode", cfg.Mode,
		)
	case !config.HasTURN(cfg.ICEServers):
		logger.Warn("startup warning: no TURN server configured; peers behind symmetric NAT will fail to connect",
			"warning_code", "ice_servers_no_turn",
			"ice_servers", len(cfg.ICEServers),
			"mode", cfg.Mode,
		)
	}
}

func safeURLScheme(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Scheme
}
