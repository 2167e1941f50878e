package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"tether/cmd/internal/fault"
)

// ErrHelp is returned by ParseFlags after usage was printed for -h/--help.
var ErrHelp = pflag.ErrHelp

// ParseFlags overrides cfg with command-line flags. Flag defaults are the
// values already in cfg, so the environment supplies defaults and flags win.
func ParseFlags(name string, args []string, cfg Config, out io.Writer) (Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.SortFlags = false

	fs.StringVar(&cfg.UserID, "user-id", cfg.UserID, "account id reported in every AUTH result")
	fs.BoolVar(&cfg.UseProxy, "use-proxy", cfg.UseProxy, "route sessions through the configured proxies")
	fs.StringArrayVar(&cfg.Proxies, "proxy", cfg.Proxies, "proxy descriptor scheme://[user:pass@]host:port (repeatable)")
	fs.StringVar(&cfg.ProxyFile, "proxy-file", cfg.ProxyFile, "file with proxy descriptors (YAML list or one per line)")
	fs.StringArrayVar(&cfg.Endpoints, "endpoint", cfg.Endpoints, "relay endpoint URL (repeatable, defaults to the built-in pair)")
	fs.BoolVar(&cfg.InsecureSkipVerify, "insecure-skip-verify", cfg.InsecureSkipVerify, "disable TLS certificate validation")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "handshake User-Agent (default: generated Chrome UA)")
	fs.StringVar(&cfg.AuthUserAgent, "auth-user-agent", cfg.AuthUserAgent, "user_agent reported in AUTH results")
	fs.IntVar(&cfg.MaxDials, "max-dials", cfg.MaxDials, "maximum concurrent connection attempts")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "json, text or pretty")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also write JSON logs to this rotating file")

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "status server address (empty disables it)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres URL for the session event log")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return cfg, ErrHelp
		}
		return cfg, fault.Configuration("app.ParseFlags", err.Error())
	}
	if rest := fs.Args(); len(rest) > 0 {
		return cfg, fault.Configuration("app.ParseFlags", fmt.Sprintf("unexpected argument %q", rest[0]))
	}
	return cfg, nil
}
