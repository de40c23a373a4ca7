package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gossip-lsp/wsbridge/config"
	"github.com/gossip-lsp/wsbridge/middleware"
	"github.com/gossip-lsp/wsbridge/transport"
)

// Version is reported in serverInfo by the stub server.
const Version = "0.1.0"

// ServerFactory builds the Server for one connection. Run passes the
// logger, middleware and limits it wants applied.
type ServerFactory func(opts ...Option) *Server

// StubServer is the default ServerFactory: lifecycle handling only.
func StubServer(opts ...Option) *Server {
	return NewServer("wsbridge", Version, opts...)
}

// Run parses args, loads the configuration and serves until ctx ends. The
// config file, when given, is watched and reloaded. factory builds the
// in-process server for the stub backend; nil uses StubServer.
func Run(ctx context.Context, args []string, factory ServerFactory) error {
	flags, err := FromArgs(args)
	if err != nil {
		return err
	}
	if factory == nil {
		factory = StubServer
	}

	cfg := config.Default()
	if flags.Config != "" {
		if cfg, err = config.Load(flags.Config, cfg); err != nil {
			return err
		}
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, level, err := NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	store := config.NewStore(cfg)
	store.OnChange(func(_, next *config.Config) {
		if l, err := config.ParseLevel(next.Log.Level); err == nil {
			level.Set(l)
		}
	})
	if flags.Config != "" {
		r := config.NewReloader(store, flags.Config, config.Default(), logger)
		if err := r.Watch(); err != nil {
			logger.Warn("config hot reload disabled", "path", flags.Config, "error", err)
		} else {
			defer r.Close()
		}
	}

	ws := cfg.WebSocket
	handshaker, err := transport.New(ws.Library, transport.Options{
		ReadBufferSize:  ws.ReadBufferSize,
		WriteBufferSize: ws.WriteBufferSize,
		ReadLimit:       ws.MaxMessageSize,
		WriteTimeout:    ws.WriteTimeout.Duration,
		QueueLength:     ws.QueueLength,
		Subprotocols:    ws.Subprotocols,
		CheckOrigin: func(r *http.Request) bool {
			return store.Get().WebSocket.OriginAllowed(r.Header.Get("Origin"))
		},
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var backend Backend
	switch cfg.Backend {
	case config.BackendProcess:
		backend = NewProcessBackend(func() config.ProcessConfig { return store.Get().Process }, logger)
	default:
		rpcMetrics := middleware.NewMetrics(reg)
		opts := []Option{
			WithLogger(logger),
			WithMaxMessageSize(int(ws.MaxMessageSize)),
			WithMiddleware(
				middleware.Recovery(logger),
				middleware.Tracing(),
				middleware.Logging(logger),
				middleware.Telemetry(rpcMetrics),
			),
		}
		backend = ServerBackend(func() *Server { return factory(opts...) })
	}

	sup := NewSupervisor(backend,
		WithSupervisorLogger(logger),
		WithHandshaker(handshaker),
		WithHandshakeTimeout(ws.HandshakeTimeout.Duration),
		WithMetrics(NewMetrics(reg)),
	)

	ln, err := transport.Listen(cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- sup.Serve(ctx, ln) }()
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := ServeMetrics(ctx, cfg.Metrics.Listen, cfg.Metrics.Path, reg, logger); err != nil {
				errc <- fmt.Errorf("metrics endpoint: %w", err)
			}
		}()
	}
	logger.Info("wsbridge started", "listen", cfg.Listen, "backend", cfg.Backend, "library", ws.Library)

	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if serr := sup.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("shutdown did not finish", "error", serr)
	}
	logger.Info("wsbridge stopped")

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrSupervisorClosed) {
		return nil
	}
	return err
}
