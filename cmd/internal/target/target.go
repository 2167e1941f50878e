package target

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"tether/cmd/internal/fault"
)

// DefaultEndpoints are the remote targets used when none are configured.
var DefaultEndpoints = []string{
	"wss://proxy.wynd.network:4650/",
	"wss://proxy.wynd.network:4444",
}

// Target is one (endpoint, optional proxy) pair. One session runs per Target.
type Target struct {
	Endpoint *url.URL
	Proxy    *Proxy
}

// Proxied reports whether the target tunnels through a proxy.
func (t Target) Proxied() bool { return t.Proxy != nil }

// String renders the target for humans; proxy credentials are masked.
func (t Target) String() string {
	return t.Endpoint.String() + " via " + t.Proxy.String()
}

// LogValue implements slog.LogValuer.
func (t Target) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("endpoint", t.Endpoint.String()),
		slog.Any("proxy", t.Proxy),
	)
}

// ParseEndpoint validates a ws:// or wss:// endpoint URI.
func ParseEndpoint(raw string) (*url.URL, error) {
	const op = "target.ParseEndpoint"

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fault.Configuration(op, err.Error())
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fault.Configuration(op, fmt.Sprintf("unsupported scheme %q (want ws or wss)", u.Scheme))
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, fault.Configuration(op, "missing host")
	}
	if u.User != nil {
		return nil, fault.Configuration(op, "endpoint must not carry credentials")
	}
	return u, nil
}

// ParseEndpoints parses every endpoint, failing on the first invalid one.
func ParseEndpoints(raws []string) ([]*url.URL, error) {
	out := make([]*url.URL, 0, len(raws))
	for _, raw := range raws {
		u, err := ParseEndpoint(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Build returns the working set of targets.
//
// With useProxy it is the cross-product proxies x endpoints, proxy-major;
// otherwise one direct target per endpoint.
func Build(endpoints []*url.URL, proxies []*Proxy, useProxy bool) ([]Target, error) {
	const op = "target.Build"

	if len(endpoints) == 0 {
		return nil, fault.Configuration(op, "no endpoints configured")
	}

	if !useProxy {
		out := make([]Target, 0, len(endpoints))
		for _, ep := range endpoints {
			out = append(out, Target{Endpoint: ep})
		}
		return out, nil
	}

	if len(proxies) == 0 {
		return nil, fault.Configuration(op, "proxying enabled but no proxies configured")
	}

	out := make([]Target, 0, len(proxies)*len(endpoints))
	for _, p := range proxies {
		for _, ep := range endpoints {
			out = append(out, Target{Endpoint: ep, Proxy: p})
		}
	}
	return out, nil
}
