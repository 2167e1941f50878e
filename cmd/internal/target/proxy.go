// Package target describes where a session connects: an endpoint and an
// optional forward proxy. Targets are immutable once built.
package target

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"

	"tether/cmd/internal/fault"
	"tether/cmd/security/redact"
)

// Supported proxy schemes.
const (
	SchemeSOCKS5  = "socks5"
	SchemeSOCKS5H = "socks5h"
	SchemeHTTP    = "http"
	SchemeHTTPS   = "https"
)

// Proxy is a parsed forward-proxy descriptor: scheme://[user:pass@]host:port.
type Proxy struct {
	Scheme   string
	Username string
	Password string
	Host     string
	Port     int
}

// ParseProxy parses and validates a proxy descriptor.
func ParseProxy(raw string) (*Proxy, error) {
	const op = "target.ParseProxy"

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fault.Configuration(op, "empty proxy descriptor")
	}
	if !strings.Contains(raw, "://") {
		return nil, fault.Configuration(op, "missing scheme (want scheme://host:port)")
	}

	u, err := url.Parse(raw)
	if err != nil {
		// url.Error echoes the input, which may carry credentials.
		return nil, fault.Configuration(op, "unparseable proxy descriptor")
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case SchemeSOCKS5, SchemeSOCKS5H, SchemeHTTP, SchemeHTTPS:
	default:
		return nil, fault.Configuration(op, fmt.Sprintf("unsupported proxy scheme %q", u.Scheme))
	}
	if u.Path != "" && u.Path != "/" {
		return nil, fault.Configuration(op, "proxy descriptor must not carry a path")
	}

	host, port, err := splitHostPortStrict(u.Host)
	if err != nil {
		return nil, fault.Configuration(op, err.Error())
	}

	p := &Proxy{Scheme: scheme, Host: host, Port: port}
	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
		if p.Username == "" {
			return nil, fault.Configuration(op, "credentials without username")
		}
	}
	return p, nil
}

// ParseProxies parses every descriptor, failing on the first invalid one.
func ParseProxies(raws []string) ([]*Proxy, error) {
	out := make([]*Proxy, 0, len(raws))
	for i, raw := range raws {
		p, err := ParseProxy(raw)
		if err != nil {
			return nil, fmt.Errorf("proxy #%d: %w", i+1, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Address returns host:port.
func (p *Proxy) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// HasAuth reports whether the descriptor carries credentials.
func (p *Proxy) HasAuth() bool { return p.Username != "" }

// URL returns the descriptor as a URL including credentials.
// Never log it; use String or LogValue.
func (p *Proxy) URL() *url.URL {
	u := &url.URL{Scheme: p.Scheme, Host: p.Address()}
	if p.HasAuth() {
		if p.Password != "" {
			u.User = url.UserPassword(p.Username, p.Password)
		} else {
			u.User = url.User(p.Username)
		}
	}
	return u
}

// String renders the descriptor with credentials masked.
func (p *Proxy) String() string {
	if p == nil {
		return "direct"
	}
	if p.HasAuth() {
		return p.Scheme + "://" + redact.Mask + "@" + p.Address()
	}
	return p.Scheme + "://" + p.Address()
}

// LogValue implements slog.LogValuer; credentials are fingerprinted.
func (p *Proxy) LogValue() slog.Value {
	if p == nil {
		return slog.StringValue("direct")
	}
	attrs := []slog.Attr{
		slog.String("scheme", p.Scheme),
		slog.String("host", p.Host),
		slog.Int("port", p.Port),
	}
	if p.HasAuth() {
		attrs = append(attrs, slog.String("cred_fp", redact.Run().Fingerprint(p.Username+":"+p.Password)))
	}
	return slog.GroupValue(attrs...)
}

// splitHostPortStrict splits host:port, requiring a non-empty host and a numeric port in 1..65535.
func splitHostPortStrict(hp string) (string, int, error) {
	host, port, err := net.SplitHostPort(hp)
	if err != nil {
		return "", 0, fmt.Errorf("invalid host:port %q", hp)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", port)
	}
	if strings.TrimSpace(host) == "" {
		return "", 0, fmt.Errorf("empty host")
	}
	return host, n, nil
}
