package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"tether/cmd/internal/target"
)

type wsHandler func(ctx context.Context, c *websocket.Conn, r *http.Request)

// newWSServer starts an httptest server that upgrades every request and runs h.
func newWSServer(t *testing.T, tlsServer bool, h wsHandler) *httptest.Server {
	t.Helper()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.CloseNow() }()
		h(r.Context(), c, r)
	})

	var srv *httptest.Server
	if tlsServer {
		srv = httptest.NewTLSServer(handler)
	} else {
		srv = httptest.NewServer(handler)
	}
	t.Cleanup(srv.Close)
	return srv
}

func wsTarget(t *testing.T, srv *httptest.Server, p *target.Proxy) target.Target {
	t.Helper()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/"
	return target.Target{Endpoint: u, Proxy: p}
}

// drain keeps reading until the peer goes away so close handshakes complete.
func drain(ctx context.Context, c *websocket.Conn) {
	for {
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
	}
}

func mustProxy(t *testing.T, raw string) *target.Proxy {
	t.Helper()
	p, err := target.ParseProxy(raw)
	if err != nil {
		t.Fatalf("ParseProxy(%q): %v", raw, err)
	}
	return p
}

// refusedAddr returns a loopback address with nothing listening.
func refusedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// blackholeAddr accepts TCP connections and never answers.
func blackholeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}

// ---- minimal forward proxies ----

type proxyStats struct {
	mu      sync.Mutex
	tunnels int
	users   []string
}

func (s *proxyStats) record(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tunnels++
	s.users = append(s.users, user)
}

func (s *proxyStats) snapshot() (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tunnels, append([]string(nil), s.users...)
}

// newConnectProxy serves HTTP CONNECT tunnels (used by wss targets).
func newConnectProxy(t *testing.T) (string, *proxyStats) {
	t.Helper()

	stats := &proxyStats{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			http.Error(w, "connect only", http.StatusMethodNotAllowed)
			return
		}
		upstream, err := net.DialTimeout("tcp", r.Host, 2*time.Second)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		hj, ok := w.(http.Hijacker)
		if !ok {
			_ = upstream.Close()
			http.Error(w, "no hijack", http.StatusInternalServerError)
			return
		}
		client, buf, err := hj.Hijack()
		if err != nil {
			_ = upstream.Close()
			return
		}
		if _, err := client.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
			_ = client.Close()
			_ = upstream.Close()
			return
		}
		stats.record(r.Header.Get("Proxy-Authorization"))
		pipe(client, buf.Reader, upstream)
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://"), stats
}

// newSOCKS5Proxy serves SOCKS5 CONNECT with "no auth", or "user/pass" when user is set.
func newSOCKS5Proxy(t *testing.T, user, pass string) (string, *proxyStats) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	stats := &proxyStats{}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSOCKS5(c, user, pass, stats)
		}
	}()
	return ln.Addr().String(), stats
}

func serveSOCKS5(c net.Conn, user, pass string, stats *proxyStats) {
	r := bufio.NewReader(c)
	fail := func() { _ = c.Close() }

	// greeting: VER NMETHODS METHODS...
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(r, hdr); err != nil || hdr[0] != 5 {
		fail()
		return
	}
	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(r, methods); err != nil {
		fail()
		return
	}
	want := byte(0x00)
	if user != "" {
		want = 0x02
	}
	if !strings.ContainsRune(string(methods), rune(want)) {
		_, _ = c.Write([]byte{5, 0xff})
		fail()
		return
	}
	_, _ = c.Write([]byte{5, want})

	gotUser := ""
	if want == 0x02 {
		// RFC 1929: VER ULEN UNAME PLEN PASSWD
		v := make([]byte, 2)
		if _, err := io.ReadFull(r, v); err != nil {
			fail()
			return
		}
		u := make([]byte, v[1])
		if _, err := io.ReadFull(r, u); err != nil {
			fail()
			return
		}
		pl, err := r.ReadByte()
		if err != nil {
			fail()
			return
		}
		p := make([]byte, pl)
		if _, err := io.ReadFull(r, p); err != nil {
			fail()
			return
		}
		if string(u) != user || string(p) != pass {
			_, _ = c.Write([]byte{1, 1})
			fail()
			return
		}
		_, _ = c.Write([]byte{1, 0})
		gotUser = string(u)
	}

	// request: VER CMD RSV ATYP DST.ADDR DST.PORT
	req := make([]byte, 4)
	if _, err := io.ReadFull(r, req); err != nil || req[1] != 1 {
		fail()
		return
	}
	var host string
	switch req[3] {
	case 1:
		b := make([]byte, 4)
		if _, err := io.ReadFull(r, b); err != nil {
			fail()
			return
		}
		host = net.IP(b).String()
	case 3:
		l, err := r.ReadByte()
		if err != nil {
			fail()
			return
		}
		b := make([]byte, l)
		if _, err := io.ReadFull(r, b); err != nil {
			fail()
			return
		}
		host = string(b)
	case 4:
		b := make([]byte, 16)
		if _, err := io.ReadFull(r, b); err != nil {
			fail()
			return
		}
		host = net.IP(b).String()
	default:
		fail()
		return
	}
	pb := make([]byte, 2)
	if _, err := io.ReadFull(r, pb); err != nil {
		fail()
		return
	}
	addr := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(pb))))

	upstream, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		_, _ = c.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
		fail()
		return
	}
	_, _ = c.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0})
	stats.record(gotUser)
	pipe(c, r, upstream)
}

func pipe(client net.Conn, clientR io.Reader, upstream net.Conn) {
	go func() {
		_, _ = io.Copy(upstream, clientR)
		_ = upstream.Close()
	}()
	go func() {
		_, _ = io.Copy(client, upstream)
		_ = client.Close()
	}()
}
