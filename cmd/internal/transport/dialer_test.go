package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	v1 "tether/shared/contracts/relay/v1"

	"github.com/coder/websocket"

	"tether/cmd/internal/fault"
)

// echoChallenge answers the first frame with an auth challenge and keeps the connection open.
func echoChallenge(ctx context.Context, c *websocket.Conn, _ *http.Request) {
	if _, _, err := c.Read(ctx); err != nil {
		return
	}
	_ = c.Write(ctx, websocket.MessageText, []byte(`{"id":"c1"}`))
	drain(ctx, c)
}

func handshake(t *testing.T, conn *Conn) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Send(ctx, v1.NewPing("p1")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	m, err := conn.Receive(ctx, v1.KindAuthChallenge)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if m.CorrelationID() != "c1" {
		t.Fatalf("id=%q want c1", m.CorrelationID())
	}
}

func TestOptions_Defaults(t *testing.T) {
	t.Parallel()

	o := Options{}.withDefaults()
	if o.InsecureSkipVerify {
		t.Fatalf("InsecureSkipVerify defaults to true")
	}
	if o.ProxyConnectTimeout != 10*time.Second {
		t.Fatalf("ProxyConnectTimeout=%v want 10s", o.ProxyConnectTimeout)
	}
	if o.WriteTimeout != DefaultWriteTimeout {
		t.Fatalf("WriteTimeout=%v want %v", o.WriteTimeout, DefaultWriteTimeout)
	}
	if o.ReadIdleTimeout != 0 {
		t.Fatalf("ReadIdleTimeout=%v want 0 (no idle limit by default)", o.ReadIdleTimeout)
	}
	if o.ReadLimit != DefaultReadLimit || o.InboxSize != defaultInboxSize || o.Header == nil {
		t.Fatalf("defaults=%+v", o)
	}

	if got := (Options{ReadIdleTimeout: -1}).withDefaults().ReadIdleTimeout; got != 0 {
		t.Fatalf("negative ReadIdleTimeout -> %v want 0 (disabled)", got)
	}
}

func TestDialer_TLSVerificationIsOptIn(t *testing.T) {
	t.Parallel()

	srv := newWSServer(t, true, echoChallenge)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := testDialer(Options{}).Open(ctx, wsTarget(t, srv, nil))
	if !fault.IsTransport(err) {
		t.Fatalf("Open with verification err=%v want transport error (self-signed cert)", err)
	}

	conn, err := testDialer(Options{InsecureSkipVerify: true}).Open(ctx, wsTarget(t, srv, nil))
	if err != nil {
		t.Fatalf("Open with InsecureSkipVerify: %v", err)
	}
	defer conn.Close()
	handshake(t, conn)
}

func TestDialer_DirectRefused(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := newWSServer(t, false, echoChallenge)
	tg := wsTarget(t, srv, nil)
	tg.Endpoint.Host = refusedAddr(t)

	_, err := testDialer(Options{}).Open(ctx, tg)
	if !fault.IsTransport(err) {
		t.Fatalf("Open err=%v want transport error", err)
	}
}

func TestDialer_SOCKS5(t *testing.T) {
	t.Parallel()

	srv := newWSServer(t, false, echoChallenge)
	addr, stats := newSOCKS5Proxy(t, "", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := testDialer(Options{}).Open(ctx, wsTarget(t, srv, mustProxy(t, "socks5://"+addr)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()
	handshake(t, conn)

	if n, _ := stats.snapshot(); n != 1 {
		t.Fatalf("proxy tunnels=%d want 1", n)
	}
}

func TestDialer_SOCKS5WithCredentials(t *testing.T) {
	t.Parallel()

	srv := newWSServer(t, false, echoChallenge)
	addr, stats := newSOCKS5Proxy(t, "udk390", "32384")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := testDialer(Options{}).Open(ctx, wsTarget(t, srv, mustProxy(t, "socks5://udk390:32384@"+addr)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()
	handshake(t, conn)

	if _, users := stats.snapshot(); len(users) != 1 || users[0] != "udk390" {
		t.Fatalf("proxy users=%v want [udk390]", users)
	}

	_, err = testDialer(Options{}).Open(ctx, wsTarget(t, srv, mustProxy(t, "socks5://udk390:wrong@"+addr)))
	if !fault.IsTransport(err) {
		t.Fatalf("Open with bad credentials err=%v want transport error", err)
	}
}

func TestDialer_HTTPConnectProxy(t *testing.T) {
	t.Parallel()

	srv := newWSServer(t, true, echoChallenge)
	addr, stats := newConnectProxy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := testDialer(Options{InsecureSkipVerify: true})
	conn, err := d.Open(ctx, wsTarget(t, srv, mustProxy(t, "http://alice:s3cret@"+addr)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()
	handshake(t, conn)

	n, auths := stats.snapshot()
	if n != 1 {
		t.Fatalf("proxy tunnels=%d want 1", n)
	}
	if !strings.HasPrefix(auths[0], "Basic ") {
		t.Fatalf("Proxy-Authorization=%q want Basic credentials", auths[0])
	}
}

func TestDialer_ProxyRefused(t *testing.T) {
	t.Parallel()

	srv := newWSServer(t, false, echoChallenge)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := testDialer(Options{}).Open(ctx, wsTarget(t, srv, mustProxy(t, "socks5://"+refusedAddr(t))))
	if !fault.IsTransport(err) {
		t.Fatalf("Open err=%v want transport error", err)
	}
}

func TestDialer_ProxyConnectTimeout(t *testing.T) {
	t.Parallel()

	srv := newWSServer(t, false, echoChallenge)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := testDialer(Options{ProxyConnectTimeout: 200 * time.Millisecond}).
		Open(ctx, wsTarget(t, srv, mustProxy(t, "socks5://"+blackholeAddr(t))))
	if !fault.IsTransport(err) {
		t.Fatalf("Open err=%v want transport error", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Open err=%v want DeadlineExceeded cause", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Open took %v, proxy budget not applied", elapsed)
	}
}

func TestDialer_OpenHonoursCancellation(t *testing.T) {
	t.Parallel()

	srv := newWSServer(t, false, echoChallenge)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testDialer(Options{}).Open(ctx, wsTarget(t, srv, nil))
	if got := fault.Kind(err); got != "canceled" {
		t.Fatalf("fault.Kind(%v)=%q want canceled", err, got)
	}
}
