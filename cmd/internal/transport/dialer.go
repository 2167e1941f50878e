// Package transport opens websocket channels to session targets, directly or
// tunnelled through SOCKS5 / HTTP CONNECT proxies.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/net/proxy"

	"tether/cmd/internal/fault"
	"tether/cmd/internal/target"
)

// Options configures a Dialer. Zero durations fall back to package defaults,
// except ReadIdleTimeout: zero or negative means Receive waits until a frame
// arrives, the peer closes, or ctx is done.
type Options struct {
	// Header is presented on every handshake (client identification).
	Header http.Header

	// InsecureSkipVerify disables certificate chain and hostname validation.
	// Off unless explicitly enabled.
	InsecureSkipVerify bool

	ProxyConnectTimeout time.Duration
	WriteTimeout        time.Duration
	ReadIdleTimeout     time.Duration
	ReadLimit           int64
	InboxSize           int
}

func (o Options) withDefaults() Options {
	if o.ProxyConnectTimeout <= 0 {
		o.ProxyConnectTimeout = DefaultProxyConnectTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.ReadIdleTimeout < 0 {
		o.ReadIdleTimeout = 0
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.InboxSize <= 0 {
		o.InboxSize = defaultInboxSize
	}
	if o.Header == nil {
		o.Header = http.Header{}
	}
	return o
}

// Dialer opens Conns. It is safe for concurrent use.
type Dialer struct {
	log  *slog.Logger
	opts Options
}

// NewDialer constructs a Dialer.
func NewDialer(log *slog.Logger, opts Options) *Dialer {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Dialer{log: log, opts: opts.withDefaults()}
}

// Options returns the effective options.
func (d *Dialer) Options() Options { return d.opts }

// Open establishes a websocket connection to t.Endpoint, through t.Proxy when set.
// Proxied dials are bounded by ProxyConnectTimeout.
func (d *Dialer) Open(ctx context.Context, t target.Target) (*Conn, error) {
	const op = "transport.Open"

	client, err := d.httpClient(t.Proxy)
	if err != nil {
		return nil, fault.Transport(op, err)
	}

	dialCtx := ctx
	if t.Proxied() {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d.opts.ProxyConnectTimeout)
		defer cancel()
	}

	start := time.Now()
	ws, resp, err := websocket.Dial(dialCtx, t.Endpoint.String(), &websocket.DialOptions{
		HTTPClient: client,
		HTTPHeader: d.opts.Header.Clone(),
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		client.CloseIdleConnections()
		switch {
		case ctx.Err() != nil:
			return nil, fault.Transport(op, ctx.Err())
		case t.Proxied() && errors.Is(dialCtx.Err(), context.DeadlineExceeded):
			return nil, fault.Transport(op, fmt.Errorf("proxy connect timeout after %s: %w", d.opts.ProxyConnectTimeout, context.DeadlineExceeded))
		default:
			return nil, fault.Transport(op, err)
		}
	}

	ws.SetReadLimit(d.opts.ReadLimit)

	d.log.Debug("transport.open",
		"target", t,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return newConn(ws, d.opts), nil
}

// httpClient builds the handshake client for one target.
// A client per dial keeps proxy routing local to that target.
func (d *Dialer) httpClient(p *target.Proxy) (*http.Client, error) {
	tr := &http.Transport{
		// #nosec G402 -- InsecureSkipVerify is an explicit operator opt-in.
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: d.opts.InsecureSkipVerify,
		},
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// Never inherit HTTP(S)_PROXY from the environment: routing is per target.
		Proxy: nil,
	}

	if p != nil {
		switch p.Scheme {
		case target.SchemeSOCKS5, target.SchemeSOCKS5H:
			var auth *proxy.Auth
			if p.HasAuth() {
				auth = &proxy.Auth{User: p.Username, Password: p.Password}
			}
			forward := &net.Dialer{Timeout: d.opts.ProxyConnectTimeout, KeepAlive: 30 * time.Second}
			pd, err := proxy.SOCKS5("tcp", p.Address(), auth, forward)
			if err != nil {
				return nil, fmt.Errorf("socks5 dialer: %w", err)
			}
			cd, ok := pd.(proxy.ContextDialer)
			if !ok {
				return nil, errors.New("socks5 dialer does not support contexts")
			}
			tr.DialContext = cd.DialContext

		case target.SchemeHTTP, target.SchemeHTTPS:
			tr.Proxy = http.ProxyURL(p.URL())
			tr.DialContext = (&net.Dialer{
				Timeout:   d.opts.ProxyConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext

		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", p.Scheme)
		}
	}

	return &http.Client{Transport: tr}, nil
}
