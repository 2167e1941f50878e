package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	v1 "tether/shared/contracts/relay/v1"

	"github.com/coder/websocket"

	"tether/cmd/internal/fault"
)

// Conn is one open channel. Send and Receive may be called from one goroutine
// at a time each; Close is idempotent and safe from any goroutine.
//
// A read pump runs for the lifetime of the Conn so control frames (ping/close)
// are serviced while the owner sleeps between exchanges. Data frames are queued
// in a bounded inbox until Receive takes them.
type Conn struct {
	ws *websocket.Conn

	writeTimeout time.Duration
	readIdle     time.Duration

	inbox    chan []byte
	readDone chan struct{}
	readErr  error

	stopRead  context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

func newConn(ws *websocket.Conn, opts Options) *Conn {
	readCtx, stop := context.WithCancel(context.Background())
	c := &Conn{
		ws:           ws,
		writeTimeout: opts.WriteTimeout,
		readIdle:     opts.ReadIdleTimeout,
		inbox:        make(chan []byte, opts.InboxSize),
		readDone:     make(chan struct{}),
		stopRead:     stop,
	}
	go c.readLoop(readCtx)
	return c
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.readDone)

	for {
		mt, data, err := c.ws.Read(ctx)
		if err != nil {
			c.readErr = classifyReadErr(err)
			return
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			c.readErr = fault.Transport("transport.read", fmt.Errorf("unsupported message type: %v", mt))
			return
		}

		select {
		case c.inbox <- data:
		default:
			c.readErr = fault.Transport("transport.read", errors.New("inbox overflow: consumer too slow"))
			return
		}
	}
}

// Send encodes m and writes it as one text frame.
func (c *Conn) Send(ctx context.Context, m v1.Message) error {
	const op = "transport.Send"

	b, err := v1.Encode(m)
	if err != nil {
		return fault.Protocol(op, err)
	}

	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	if err := c.ws.Write(wctx, websocket.MessageText, b); err != nil {
		if ctx.Err() != nil {
			return fault.Transport(op, ctx.Err())
		}
		return fault.Transport(op, err)
	}
	return nil
}

// Receive blocks until one frame arrives and decodes it as want.
func (c *Conn) Receive(ctx context.Context, want v1.Kind) (v1.Message, error) {
	const op = "transport.Receive"

	var idle <-chan time.Time
	if c.readIdle > 0 {
		t := time.NewTimer(c.readIdle)
		defer t.Stop()
		idle = t.C
	}

	var data []byte
	select {
	case data = <-c.inbox:
	case <-c.readDone:
		// Frames queued before the pump stopped are still delivered.
		select {
		case data = <-c.inbox:
		default:
			return nil, c.readErr
		}
	case <-ctx.Done():
		return nil, fault.Transport(op, ctx.Err())
	case <-idle:
		return nil, fault.Transport(op, fmt.Errorf("read idle timeout after %s", c.readIdle))
	}

	m, err := v1.Decode(data, want)
	if err != nil {
		return nil, fault.Protocol(op, err)
	}
	return m, nil
}

// Close performs the close handshake once and stops the read pump.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		err := c.ws.Close(websocket.StatusNormalClosure, "bye")
		c.stopRead()

		select {
		case <-c.readDone:
		case <-time.After(closeGrace):
		}

		if err != nil && !errors.Is(err, net.ErrClosed) && websocket.CloseStatus(err) == -1 {
			c.closeErr = fault.Transport("transport.Close", err)
		}
	})
	return c.closeErr
}

// ---- read error classification ----

func classifyReadErr(err error) error {
	const op = "transport.read"

	if st := websocket.CloseStatus(err); st != -1 {
		return fault.Transport(op, fmt.Errorf("closed by peer (status %d): %w", st, err))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fault.Transport(op, err)
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return fault.Transport(op, fmt.Errorf("connection closed: %w", err))
	}
	return fault.Transport(op, err)
}
