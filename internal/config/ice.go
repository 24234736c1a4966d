package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

// parseICEServersFromValues prefers the JSON list and falls back to the
// STUN/TURN convenience settings. With dynamicTURN, TURN servers may omit
// credentials because they are issued per request.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string, dynamicTURN bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := parseICEServersJSON(raw, dynamicTURN)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return parseConvenienceICEServers(stunURLs, turnURLs, turnUsername, turnCredential, dynamicTURN)
}

// iceServerJSON is the browser RTCIceServer shape, also accepted in the YAML
// config file.
type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls" yaml:"urls"`
	Username   string              `json:"username,omitempty" yaml:"username"`
	Credential string              `json:"credential,omitempty" yaml:"credential"`
}

// stringOrStringSlice accepts either "url" or ["url", ...].
type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

func (s *stringOrStringSlice) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = []string{node.Value}
		return nil
	}
	var many []string
	if err := node.Decode(&many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses and validates an RTCIceServer JSON array.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	return parseICEServersJSON(raw, false)
}

func parseICEServersJSON(raw string, dynamicTURN bool) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		pcServer := webrtc.ICEServer{
			URLs:     splitList(server.URLs),
			Username: strings.TrimSpace(server.Username),
		}
		if strings.TrimSpace(server.Credential) != "" {
			pcServer.Credential = server.Credential
		}
		if err := validateICEServer(pcServer, dynamicTURN); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, pcServer)
	}
	return out, nil
}

// ParseICEServersFromConvenienceEnv builds an ICE server list from
// comma-separated STUN and TURN URL lists. TURN requires both credentials.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	return parseConvenienceICEServers(stunURLs, turnURLs, turnUsername, turnCredential, false)
}

func parseConvenienceICEServers(stunURLs, turnURLs, turnUsername, turnCredential string, dynamicTURN bool) ([]webrtc.ICEServer, error) {
	stunList := splitCommaSeparated(stunURLs)
	turnList := splitCommaSeparated(turnURLs)

	var servers []webrtc.ICEServer
	if len(stunList) > 0 {
		server := webrtc.ICEServer{URLs: stunList}
		if err := validateICEServer(server, false); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if len(turnList) > 0 {
		turnUsername = strings.TrimSpace(turnUsername)
		turnCredential = strings.TrimSpace(turnCredential)
		server := webrtc.ICEServer{URLs: turnList}
		switch {
		case turnUsername != "" && turnCredential != "":
			server.Username = turnUsername
			server.Credential = turnCredential
		case dynamicTURN && turnUsername == "" && turnCredential == "":
			// issued per request
		default:
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		if err := validateICEServer(server, dynamicTURN); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

// HasTURN reports whether any server offers a TURN relay.
func HasTURN(servers []webrtc.ICEServer) bool {
	for _, server := range servers {
		for _, url := range server.URLs {
			if isTURNURL(url) {
				return true
			}
		}
	}
	return false
}

func splitCommaSeparated(value string) []string {
	return splitList(strings.Split(value, ","))
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func validateICEServer(server webrtc.ICEServer, dynamicTURN bool) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	requiresTurnCreds := false
	for _, url := range server.URLs {
		if !isAllowedICEScheme(url) {
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
		if isTURNURL(url) {
			requiresTurnCreds = true
		}
	}

	if requiresTurnCreds && !(dynamicTURN && server.Username == "" && server.Credential == nil) {
		if server.Username == "" {
			return errors.New("turn urls require username")
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}

func isTURNURL(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "turn:") || strings.HasPrefix(lower, "turns:")
}

func isAllowedICEScheme(url string) bool {
	lower := strings.ToLower(url)
	for _, scheme := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}
