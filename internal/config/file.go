package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML config file layout. Every key mirrors an environment
// variable; values set in the environment win over the file.
type fileConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	PublicBaseURL   string   `yaml:"public_base_url"`
	Mode            string   `yaml:"mode"`
	LogFormat       string   `yaml:"log_format"`
	LogLevel        string   `yaml:"log_level"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`

	MaxConnections           *int   `yaml:"max_connections"`
	MaxSignalingMessageBytes *int64 `yaml:"max_signaling_message_bytes"`
	SignalingSendQueueBytes  *int   `yaml:"signaling_send_queue_bytes"`
	SignalingWSIdleTimeout   string `yaml:"signaling_ws_idle_timeout"`
	SignalingWSPingInterval  string `yaml:"signaling_ws_ping_interval"`

	ICEServers     []iceServerJSON `yaml:"ice_servers"`
	STUNURLs       []string        `yaml:"stun_urls"`
	TURNURLs       []string        `yaml:"turn_urls"`
	TURNUsername   string          `yaml:"turn_username"`
	TURNCredential string          `yaml:"turn_credential"`

	TURNRESTSharedSecret   string `yaml:"turn_rest_shared_secret"`
	TURNRESTTTLSeconds     *int   `yaml:"turn_rest_ttl_seconds"`
	TURNRESTUsernamePrefix string `yaml:"turn_rest_username_prefix"`
}

func readFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return parseFile(raw)
}

func parseFile(raw []byte) (map[string]string, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return fc.values()
}

// values flattens the file into environment-variable form.
func (fc fileConfig) values() (map[string]string, error) {
	out := map[string]string{
		envVarListenAddr:              fc.ListenAddr,
		envVarPublicBaseURL:           fc.PublicBaseURL,
		envVarMode:                    fc.Mode,
		envVarLogFormat:               fc.LogFormat,
		envVarLogLevel:                fc.LogLevel,
		envVarShutdownTimeout:         fc.ShutdownTimeout,
		envVarAllowedOrigins:          strings.Join(fc.AllowedOrigins, ","),
		envVarSignalingWSIdleTimeout:  fc.SignalingWSIdleTimeout,
		envVarSignalingWSPingInterval: fc.SignalingWSPingInterval,
		envStunURLs:                   strings.Join(fc.STUNURLs, ","),
		envTurnURLs:                   strings.Join(fc.TURNURLs, ","),
		envTurnUsername:               fc.TURNUsername,
		envTurnCredential:             fc.TURNCredential,
		envVarTURNRESTSharedSecret:    fc.TURNRESTSharedSecret,
		envVarTURNRESTUsernamePrefix:  fc.TURNRESTUsernamePrefix,
	}
	if fc.MaxConnections != nil {
		out[envVarMaxConnections] = strconv.Itoa(*fc.MaxConnections)
	}
	if fc.MaxSignalingMessageBytes != nil {
		out[envVarMaxSignalingMessageBytes] = strconv.FormatInt(*fc.MaxSignalingMessageBytes, 10)
	}
	if fc.SignalingSendQueueBytes != nil {
		out[envVarSignalingSendQueueBytes] = strconv.Itoa(*fc.SignalingSendQueueBytes)
	}
	if fc.TURNRESTTTLSeconds != nil {
		out[envVarTURNRESTTTLSeconds] = strconv.Itoa(*fc.TURNRESTTTLSeconds)
	}
	if len(fc.ICEServers) > 0 {
		b, err := json.Marshal(fc.ICEServers)
		if err != nil {
			return nil, fmt.Errorf("config file ice_servers: %w", err)
		}
		out[envICEServersJSON] = string(b)
	}
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out, nil
}

// layered consults the environment first and falls back to file values.
func layered(env func(string) (string, bool), file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := env(key); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}
