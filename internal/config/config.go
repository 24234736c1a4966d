package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/wilsonzlin/aero/proxy/roulette-relay/internal/origin"
)

const (
	envVarConfigFile      = "AERO_ROULETTE_RELAY_CONFIG"
	envVarListenAddr      = "AERO_ROULETTE_RELAY_LISTEN_ADDR"
	envVarPublicBaseURL   = "AERO_ROULETTE_RELAY_PUBLIC_BASE_URL"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "AERO_ROULETTE_RELAY_LOG_FORMAT"
	envVarLogLevel        = "AERO_ROULETTE_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_ROULETTE_RELAY_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_ROULETTE_RELAY_MODE"

	envVarMaxConnections           = "MAX_CONNECTIONS"
	envVarMaxSignalingMessageBytes = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarSignalingSendQueueBytes  = "SIGNALING_SEND_QUEUE_BYTES"
	envVarSignalingWSIdleTimeout   = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval  = "SIGNALING_WS_PING_INTERVAL"

	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"

	DefaultListenAddr                 = "127.0.0.1:8080"
	DefaultShutdown                   = 15 * time.Second
	DefaultMode                  Mode = ModeDev
	DefaultMaxSignalingMessageBytes   = int64(64 * 1024)
	DefaultSignalingSendQueueBytes    = 1 << 20 // 1MiB
	DefaultSignalingWSIdleTimeout     = 60 * time.Second
	DefaultSignalingWSPingInterval    = 20 * time.Second
	DefaultTURNRESTTTLSeconds         = int64(3600)
	DefaultTURNRESTUsernamePrefix     = "aero-roulette"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	PublicBaseURL   string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode
	// ConfigFile is the YAML file the settings were layered from, if any.
	ConfigFile string

	// MaxConnections caps concurrently registered signaling connections.
	// 0 means unlimited.
	MaxConnections int

	MaxSignalingMessageBytes int64
	SignalingSendQueueBytes  int
	SignalingWSIdleTimeout   time.Duration
	SignalingWSPingInterval  time.Duration

	// ICEServers is the list handed to browsers via /webrtc/ice. TURN entries
	// may omit credentials when TURNREST is enabled.
	ICEServers []webrtc.ICEServer
	TURNREST   TURNRESTConfig
}

// TURNRESTConfig configures ephemeral TURN credentials. It is disabled when
// SharedSecret is empty.
type TURNRESTConfig struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
}

func (c TURNRESTConfig) Enabled() bool {
	return c.SharedSecret != ""
}

// OriginPolicy builds the browser origin policy for AllowedOrigins.
func (c Config) OriginPolicy() (*origin.Policy, error) {
	return origin.NewPolicy(c.AllowedOrigins)
}

// Load resolves configuration from built-in defaults, an optional YAML file,
// environment variables and command-line flags, in increasing precedence.
func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(envLookup func(string) (string, bool), args []string) (Config, error) {
	configFile, err := configFilePath(envLookup, args)
	if err != nil {
		return Config{}, err
	}
	lookup := envLookup
	if configFile != "" {
		fileValues, err := readFile(configFile)
		if err != nil {
			return Config{}, err
		}
		lookup = layered(envLookup, fileValues)
	}

	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))
	logFormatDefault := envOrDefault(lookup, envVarLogFormat, "")
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, "")

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	publicBaseURL := envOrDefault(lookup, envVarPublicBaseURL, "")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	maxConnections, err := envIntOrDefault(lookup, envVarMaxConnections, 0)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, int(DefaultMaxSignalingMessageBytes))
	if err != nil {
		return Config{}, err
	}
	sendQueueBytes, err := envIntOrDefault(lookup, envVarSignalingSendQueueBytes, DefaultSignalingSendQueueBytes)
	if err != nil {
		return Config{}, err
	}
	idleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	pingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	turnRESTTTLSeconds, err := envIntOrDefault(lookup, envVarTURNRESTTTLSeconds, int(DefaultTURNRESTTTLSeconds))
	if err != nil {
		return Config{}, err
	}

	fs := pflag.NewFlagSet("aero-roulette-relay", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr       string
		logFormatStr  string
		logLevelStr   string
		maxMessageArg int64
	)

	fs.String("config", configFile, "YAML config file (env "+envVarConfigFile+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&publicBaseURL, "public-base-url", publicBaseURL, "Public base URL (optional; used for logging)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json (default depends on mode)")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error (default depends on mode)")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.IntVar(&maxConnections, "max-connections", maxConnections, "Maximum concurrent signaling connections (0 = unlimited)")
	fs.Int64Var(&maxMessageArg, "max-signaling-message-bytes", int64(maxMessageBytes), "Max inbound signaling message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&sendQueueBytes, "signaling-send-queue-bytes", sendQueueBytes, "Per-connection outbound buffer in bytes (env "+envVarSignalingSendQueueBytes+")")
	fs.DurationVar(&idleTimeout, "signaling-ws-idle-timeout", idleTimeout, "Close signaling sockets idle for this long (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&pingInterval, "signaling-ws-ping-interval", pingInterval, "Interval between server pings (env "+envVarSignalingWSPingInterval+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret; enables ephemeral TURN credentials ("+envVarTURNRESTSharedSecret+")")
	fs.IntVar(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if logFormatStr == "" {
		logFormatStr = defaultLogFormatForMode(mode)
	}
	if logLevelStr == "" {
		logLevelStr = defaultLogLevelForMode(mode)
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if _, _, err := net.SplitHostPort(listenAddr); err != nil {
		return Config{}, fmt.Errorf("invalid %s/--listen-addr %q: %w", envVarListenAddr, listenAddr, err)
	}
	if publicBaseURL != "" {
		u, err := url.Parse(publicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Config{}, fmt.Errorf("invalid %s/--public-base-url %q", envVarPublicBaseURL, publicBaseURL)
		}
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if maxConnections < 0 {
		return Config{}, fmt.Errorf("%s/--max-connections must be >= 0", envVarMaxConnections)
	}
	if maxMessageArg <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if sendQueueBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-send-queue-bytes must be > 0", envVarSignalingSendQueueBytes)
	}
	if int64(sendQueueBytes) < maxMessageArg {
		return Config{}, fmt.Errorf("%s/--signaling-send-queue-bytes must be >= %s/--max-signaling-message-bytes", envVarSignalingSendQueueBytes, envVarMaxSignalingMessageBytes)
	}
	if idleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdleTimeout)
	}
	if pingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
	}
	if pingInterval >= idleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}

	turnREST := TURNRESTConfig{
		SharedSecret:   strings.TrimSpace(turnRESTSharedSecret),
		TTL:            time.Duration(turnRESTTTLSeconds) * time.Second,
		UsernamePrefix: strings.TrimSpace(turnRESTUsernamePrefix),
	}
	if turnREST.Enabled() {
		if turnRESTTTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s/--turn-rest-ttl-seconds must be > 0 when %s is set", envVarTURNRESTTTLSeconds, envVarTURNRESTSharedSecret)
		}
		if turnREST.UsernamePrefix == "" {
			return Config{}, fmt.Errorf("%s/--turn-rest-username-prefix must be non-empty when %s is set", envVarTURNRESTUsernamePrefix, envVarTURNRESTSharedSecret)
		}
		if strings.Contains(turnREST.UsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s/--turn-rest-username-prefix must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential, turnREST.Enabled())
	if err != nil {
		return Config{}, err
	}
	if turnREST.Enabled() && !HasTURN(iceServers) {
		return Config{}, fmt.Errorf("%s is set but no TURN urls are configured", envVarTURNRESTSharedSecret)
	}

	return Config{
		ListenAddr:               listenAddr,
		PublicBaseURL:            publicBaseURL,
		AllowedOrigins:           allowedOrigins,
		LogFormat:                logFormat,
		LogLevel:                 logLevel,
		ShutdownTimeout:          shutdownTimeout,
		Mode:                     mode,
		ConfigFile:               configFile,
		MaxConnections:           maxConnections,
		MaxSignalingMessageBytes: maxMessageArg,
		SignalingSendQueueBytes:  sendQueueBytes,
		SignalingWSIdleTimeout:   idleTimeout,
		SignalingWSPingInterval:  pingInterval,
		ICEServers:               iceServers,
		TURNREST:                 turnREST,
	}, nil
}

// configFilePath finds --config ahead of the main parse so the file can supply
// flag defaults.
func configFilePath(lookup func(string) (string, bool), args []string) (string, error) {
	path := envOrDefault(lookup, envVarConfigFile, "")

	fs := pflag.NewFlagSet("config-path", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", path, "")
	if err := fs.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

func parseAllowedOrigins(raw string) ([]string, error) {
	entries := splitCommaSeparated(raw)
	if len(entries) == 0 {
		return nil, nil
	}
	if _, err := origin.NewPolicy(entries); err != nil {
		return nil, fmt.Errorf("%s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}
	return entries, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}
