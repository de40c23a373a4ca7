package wsbridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	json "github.com/goccy/go-json"
	"go.uber.org/multierr"

	"github.com/gossip-lsp/wsbridge/config"
	"github.com/gossip-lsp/wsbridge/jsonrpc"
	mw "github.com/gossip-lsp/wsbridge/middleware"
	"github.com/gossip-lsp/wsbridge/stream"
	"github.com/gossip-lsp/wsbridge/transport"
)

// Backend consumes one connection's byte stream. ServeStream owns rwc until
// it returns and is called once per connection, concurrently with other
// connections.
type Backend interface {
	ServeStream(ctx context.Context, rwc io.ReadWriteCloser) error
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, rwc io.ReadWriteCloser) error

func (f BackendFunc) ServeStream(ctx context.Context, rwc io.ReadWriteCloser) error {
	return f(ctx, rwc)
}

// ServerBackend serves every connection with a fresh Server from factory, so
// no handler state is shared between connections.
func ServerBackend(factory func() *Server) Backend {
	return BackendFunc(func(ctx context.Context, rwc io.ReadWriteCloser) error {
		return Serve(ctx, factory(), rwc)
	})
}

// ProcessBackend spawns a language server per connection and forwards bytes
// between the connection and the child's stdio.
type ProcessBackend struct {
	config func() config.ProcessConfig
	logger *slog.Logger
}

// NewProcessBackend creates a ProcessBackend. cfg is called for every new
// connection, so a reloaded configuration applies to the next child. A nil
// logger uses slog.Default.
func NewProcessBackend(cfg func() config.ProcessConfig, logger *slog.Logger) *ProcessBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessBackend{config: cfg, logger: logger}
}

func (b *ProcessBackend) ServeStream(ctx context.Context, rwc io.ReadWriteCloser) error {
	cfg := b.config()
	logger := b.logger
	if id := mw.ConnID(ctx); id != "" {
		logger = logger.With("conn", id)
	}

	if err := SeedWorkspace(cfg.Workspace, cfg.Files); err != nil {
		return err
	}

	p, err := transport.StartProcess(ctx, transport.ProcessConfig{
		Command: cfg.Command,
		Args:    cfg.Args,
		Dir:     cfg.Workspace,
		Env:     cfg.Env,
		Stderr:  &lineLogger{logger: logger.With("command", cfg.Command)},
		Grace:   cfg.ShutdownGrace.Duration,
	})
	if err != nil {
		return err
	}
	logger.Info("language server started", "command", cfg.Command, "pid", p.Pid())

	toChild, toClient := copyBytes, copyBytes
	if cfg.Framing == config.FramingMessage {
		toChild, toClient = frameMessages, unframeMessages
	}
	errc := make(chan error, 2)
	go func() { errc <- toChild(p, rwc) }()
	go func() { errc <- toClient(rwc, p) }()

	// Whichever side ends first tears the other down.
	first := <-errc
	exitErr := p.Close()
	closeErr := rwc.Close()
	second := <-errc
	if torndown(second) {
		second = nil
	}
	logger.Info("language server exited", "pid", p.Pid(), "status", exitStatus(exitErr))

	return multierr.Combine(first, second, closeErr)
}

func copyBytes(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	return err
}

// frameMessages reads the bare JSON messages a client sends and writes each
// to dst with a Content-Length header.
func frameMessages(dst io.Writer, src io.Reader) error {
	dec := json.NewDecoder(src)
	out := jsonrpc.NewCodec(nil, dst)
	for {
		var msg json.RawMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decoding client message: %w", err)
		}
		if err := out.Write(msg); err != nil {
			return err
		}
	}
}

// unframeMessages reads Content-Length framed messages from src and writes
// each body to dst in one Write, so a message-oriented dst sends one
// message per body.
func unframeMessages(dst io.Writer, src io.Reader) error {
	in := jsonrpc.NewCodec(src, nil)
	in.SetMaxMessageSize(0)
	for {
		body, err := in.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading language server output: %w", err)
		}
		if _, err := dst.Write(body); err != nil {
			return err
		}
	}
}

// torndown reports errors the losing copy sees once the other side has been
// closed under it.
func torndown(err error) bool {
	return errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, stream.ErrShutdown) ||
		errors.Is(err, syscall.EPIPE)
}

func exitStatus(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

// SeedWorkspace creates dir and writes each file that does not exist yet.
// Existing files are left untouched.
func SeedWorkspace(dir string, files map[string]string) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	var errs error
	for name, content := range files {
		if !filepath.IsLocal(name) {
			errs = multierr.Append(errs, fmt.Errorf("workspace file %q escapes the workspace", name))
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		_, werr := f.WriteString(content)
		errs = multierr.Append(errs, multierr.Append(werr, f.Close()))
	}
	return errs
}

// lineLogger logs a child's stderr one line at a time. os/exec writes to it
// from a single goroutine.
type lineLogger struct {
	logger *slog.Logger
	buf    []byte
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimRight(w.buf[:i], "\r"); len(line) > 0 {
			w.logger.Info("language server stderr", "line", string(line))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
