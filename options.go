package wsbridge

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gossip-lsp/wsbridge/config"
	"github.com/gossip-lsp/wsbridge/middleware"
	"github.com/gossip-lsp/wsbridge/transport"
)

// Option configures a Server during construction.
type Option func(*Server)

// WithLogger sets a custom slog logger on the server.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMiddleware adds middleware to the server's dispatch chain.
// Middleware is applied in order: the first middleware is outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) {
		s.middlewares = append(s.middlewares, mws...)
	}
}

// WithMaxMessageSize caps the size of one inbound JSON-RPC message.
func WithMaxMessageSize(n int) Option {
	return func(s *Server) {
		s.maxMessageSize = n
	}
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

func WithSupervisorLogger(l *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// WithHandshaker selects the WebSocket implementation.
func WithHandshaker(h transport.Handshaker) SupervisorOption {
	return func(s *Supervisor) {
		s.handshaker = h
	}
}

// WithHandshakeTimeout bounds the HTTP upgrade of each connection.
func WithHandshakeTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

func WithMetrics(m *Metrics) SupervisorOption {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// Flags holds the command-line overrides understood by FromArgs. Empty
// fields leave the configuration alone.
type Flags struct {
	Config  string
	Listen  string
	Backend string
	Library string
}

// Apply copies the set flags onto cfg.
func (f Flags) Apply(cfg *config.Config) {
	if f.Listen != "" {
		cfg.Listen = f.Listen
	}
	if f.Backend != "" {
		cfg.Backend = f.Backend
	}
	if f.Library != "" {
		cfg.WebSocket.Library = f.Library
	}
}

// ErrHelp is returned by FromArgs for -h and --help.
var ErrHelp = errors.New("wsbridge: help requested")

// FromArgs parses command-line arguments (without the program name).
// Supported flags, each also accepted as --flag=value:
//
//	--ws ADDR                 listen address, host:port or unix:/path
//	--config PATH             TOML or YAML config file
//	--backend stub|process
//	--ws-library gorilla|xnet
func FromArgs(args []string) (Flags, error) {
	var f Flags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")

		var dst *string
		switch name {
		case "--ws":
			dst = &f.Listen
		case "--config":
			dst = &f.Config
		case "--backend":
			dst = &f.Backend
		case "--ws-library":
			dst = &f.Library
		case "-h", "--help":
			return f, ErrHelp
		default:
			return f, fmt.Errorf("unknown argument %q", arg)
		}

		if !hasValue {
			if i+1 >= len(args) || strings.HasPrefix(args[i+1], "--") {
				return f, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		if value == "" {
			return f, fmt.Errorf("%s requires a value", name)
		}
		*dst = value
	}
	return f, nil
}

// Usage is printed for --help and argument errors.
const Usage = `usage: wsbridge [--ws ADDR] [--config PATH] [--backend stub|process] [--ws-library gorilla|xnet]`
