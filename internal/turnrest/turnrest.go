// Package turnrest issues short-lived coturn TURN REST credentials so browsers
// never see the long-term TURN secret.
//
//	username   = <unix_expiry>:<prefix>:<nonce>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// See https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	Now      func() time.Time
	NewNonce func() string
}

type Issuer struct {
	secret   []byte
	ttl      time.Duration
	prefix   string
	now      func() time.Time
	newNonce func() string
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTL < time.Second {
		return nil, errors.New("TTL must be at least 1s")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("username prefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("username prefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewNonce == nil {
		cfg.NewNonce = uuid.NewString
	}
	return &Issuer{
		secret:   []byte(cfg.SharedSecret),
		ttl:      cfg.TTL,
		prefix:   cfg.UsernamePrefix,
		now:      cfg.Now,
		newNonce: cfg.NewNonce,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

// Issue returns credentials valid until now+TTL (second precision, UTC).
func (i *Issuer) Issue() (Credentials, error) {
	nonce := i.newNonce()
	if nonce == "" || strings.Contains(nonce, ":") {
		return Credentials{}, fmt.Errorf("invalid nonce %q", nonce)
	}
	expires := i.now().UTC().Add(i.ttl).Truncate(time.Second)
	username := fmt.Sprintf("%d:%s:%s", expires.Unix(), i.prefix, nonce)
	return Credentials{
		Username:   username,
		Credential: Sign(i.secret, username),
		Expires:    expires,
	}, nil
}

// Apply returns a copy of servers in which every TURN server without a
// username carries one freshly issued credential pair. Servers with static
// credentials and STUN servers are returned unchanged.
func (i *Issuer) Apply(servers []webrtc.ICEServer) ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, len(servers))
	copy(out, servers)

	var creds *Credentials
	for idx, server := range out {
		if server.Username != "" || !hasTURNURL(server) {
			continue
		}
		if creds == nil {
			c, err := i.Issue()
			if err != nil {
				return nil, err
			}
			creds = &c
		}
		out[idx].Username = creds.Username
		out[idx].Credential = creds.Credential
	}
	return out, nil
}

// Sign computes the coturn credential for username.
func Sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}
