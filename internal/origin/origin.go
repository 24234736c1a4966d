package origin

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Wildcard in an allow-list admits every origin.
const Wildcard = "*"

// Normalize validates a browser Origin header and returns it as
// scheme://host[:port] together with the host[:port] part. Default ports are
// dropped. The opaque origin "null" is returned as-is with an empty host.
func Normalize(originHeader string) (normalized string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeAuthority(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Policy decides which browser origins may reach the relay.
//
// With an empty allow-list only same-host requests are admitted; the scheme is
// not compared because TLS is commonly terminated in front of the relay.
type Policy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewPolicy builds a Policy from allow-list entries, each "*", "null" or an
// origin accepted by Normalize.
func NewPolicy(allowedOrigins []string) (*Policy, error) {
	p := &Policy{allowed: make(map[string]struct{}, len(allowedOrigins))}
	for _, raw := range allowedOrigins {
		entry := strings.TrimSpace(raw)
		if entry == Wildcard {
			p.allowAll = true
			continue
		}
		normalized, _, ok := Normalize(entry)
		if !ok {
			return nil, fmt.Errorf("invalid allowed origin %q", raw)
		}
		p.allowed[normalized] = struct{}{}
	}
	return p, nil
}

// AllowsAll reports whether the allow-list contains "*".
func (p *Policy) AllowsAll() bool { return p.allowAll }

// Allow checks an Origin header against the policy for a request addressed to
// requestHost. It returns the normalized origin when allowed.
func (p *Policy) Allow(originHeader, requestHost string) (string, bool) {
	normalized, host, ok := Normalize(originHeader)
	if !ok {
		return "", false
	}
	if p.allowAll {
		return normalized, true
	}
	if len(p.allowed) > 0 {
		_, ok := p.allowed[normalized]
		return normalized, ok
	}

	scheme, _, found := strings.Cut(normalized, "://")
	if !found {
		return "", false
	}
	reqHost, ok := normalizeAuthority(strings.TrimSpace(requestHost), scheme)
	if !ok || reqHost != host {
		return "", false
	}
	return normalized, true
}

// CheckRequest admits requests without an Origin header (non-browser clients)
// and otherwise applies Allow. It fits websocket.Upgrader.CheckOrigin.
func (p *Policy) CheckRequest(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if strings.TrimSpace(header) == "" {
		return true
	}
	_, ok := p.Allow(header, r.Host)
	return ok
}

// normalizeAuthority lowercases host[:port], brackets IPv6 literals and drops
// the scheme's default port.
func normalizeAuthority(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(strings.ToLower(authority))
	if !ok || hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 literals must be bracketed and are
// returned without brackets.
func splitHostPort(raw string) (hostname, port string, ok bool) {
	if strings.HasPrefix(raw, "[") {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return "", "", false
		}
		hostname, rest := raw[1:end], raw[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		port, found := strings.CutPrefix(rest, ":")
		if !found || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(raw, ":") {
	case 0:
		return raw, "", raw != ""
	case 1:
		hostname, port, _ := strings.Cut(raw, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		return "", "", false
	}
}
