// Command relay-stub runs a local relay that answers tether's handshake and
// heartbeats, for trying the client without the remote service:
//
//	go run ./cmd/relay-stub --addr 127.0.0.1:4650
//	go run ./cmd/tether --user-id dev --endpoint ws://127.0.0.1:4650/ --log-format pretty
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"tether/cmd/internal/relaystub"
)

type options struct {
	addr           string
	heartbeatDelay time.Duration
	maxHeartbeats  int
	malformedAfter int
	certFile       string
	keyFile        string
	verbose        bool
}

func parseFlags(args []string, out io.Writer) (options, error) {
	var o options
	fs := pflag.NewFlagSet("relay-stub", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.addr, "addr", "127.0.0.1:4650", "listen address")
	fs.DurationVar(&o.heartbeatDelay, "heartbeat-delay", 2*time.Second, "wait after each client PING before the next challenge")
	fs.IntVar(&o.maxHeartbeats, "max-heartbeats", 0, "hang up after this many PONGs (0: never)")
	fs.IntVar(&o.malformedAfter, "malformed-after", 0, "send a malformed challenge after this many PONGs (0: never)")
	fs.StringVar(&o.certFile, "tls-cert", "", "serve wss with this certificate")
	fs.StringVar(&o.keyFile, "tls-key", "", "key for --tls-cert")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if (o.certFile == "") != (o.keyFile == "") {
		return options{}, errors.New("--tls-cert and --tls-key go together")
	}
	if o.heartbeatDelay < 0 || o.maxHeartbeats < 0 || o.malformedAfter < 0 {
		return options{}, errors.New("negative delay or count")
	}
	return o, nil
}

// run serves until ctx is done. ready, if non-nil, receives the bound address.
func run(ctx context.Context, o options, out io.Writer, ready chan<- net.Addr) error {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	stub := relaystub.New(relaystub.Options{
		HeartbeatDelay: o.heartbeatDelay,
		MaxHeartbeats:  o.maxHeartbeats,
		MalformedAfter: o.malformedAfter,
		Log:            log,
	})

	ln, err := net.Listen("tcp", o.addr)
	if err != nil {
		return err
	}
	if ready != nil {
		ready <- ln.Addr()
	}

	srv := &http.Server{
		Handler:           stub,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("stub.listen", "addr", ln.Addr().String(), "tls", o.certFile != "")
		var err error
		if o.certFile != "" {
			err = srv.ServeTLS(ln, o.certFile, o.keyFile)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)

	st := stub.Stats()
	log.Info("stub.stopped",
		"accepted", st.Accepted,
		"authenticated", st.Authenticated,
		"pongs", st.Pongs,
		"violations", st.Violations,
	)
	return nil
}

func main() {
	o, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay-stub: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o, os.Stdout, nil); err != nil {
		fmt.Fprintf(os.Stderr, "relay-stub: %v\n", err)
		os.Exit(1)
	}
}
