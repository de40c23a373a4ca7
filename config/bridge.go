package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backends the bridge can put behind a connection.
const (
	BackendStub    = "stub"
	BackendProcess = "process"
)

// Framings of the process backend.
const (
	FramingStream  = "stream"
	FramingMessage = "message"
)

// Config is the bridge's full configuration. Fields tagged for both TOML and
// YAML so either file format can be used.
type Config struct {
	// Listen is a TCP host:port or "unix:/path/to.sock". Fixed at start.
	Listen    string          `toml:"listen" yaml:"listen"`
	Backend   string          `toml:"backend" yaml:"backend"`
	WebSocket WebSocketConfig `toml:"websocket" yaml:"websocket"`
	Process   ProcessConfig   `toml:"process" yaml:"process"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`
	Log       LogConfig       `toml:"log" yaml:"log"`
}

type WebSocketConfig struct {
	// Library selects the WebSocket implementation: "gorilla" or "xnet".
	Library          string   `toml:"library" yaml:"library"`
	HandshakeTimeout Duration `toml:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     Duration `toml:"write_timeout" yaml:"write_timeout"`
	ReadBufferSize   int      `toml:"read_buffer_size" yaml:"read_buffer_size"`
	WriteBufferSize  int      `toml:"write_buffer_size" yaml:"write_buffer_size"`
	MaxMessageSize   int64    `toml:"max_message_size" yaml:"max_message_size"`
	QueueLength      int      `toml:"queue_length" yaml:"queue_length"`
	// AllowedOrigins is matched against the Origin header. Empty allows all.
	AllowedOrigins []string `toml:"allowed_origins" yaml:"allowed_origins"`
	Subprotocols   []string `toml:"subprotocols" yaml:"subprotocols"`
}

// ProcessConfig describes the language server spawned per connection by the
// process backend.
type ProcessConfig struct {
	Command string   `toml:"command" yaml:"command"`
	Args    []string `toml:"args" yaml:"args"`
	Env     []string `toml:"env" yaml:"env"`
	// Workspace is the working directory of the child.
	Workspace string `toml:"workspace" yaml:"workspace"`
	// Files seeds the workspace: relative path to content, written only
	// when the file does not exist yet.
	Files         map[string]string `toml:"files" yaml:"files"`
	ShutdownGrace Duration          `toml:"shutdown_grace" yaml:"shutdown_grace"`
	// Framing selects how client messages map to the child's stdio:
	// FramingStream copies bytes as they are, FramingMessage expects one
	// bare JSON message per WebSocket message and adds or strips the
	// Content-Length headers the child speaks.
	Framing string `toml:"framing" yaml:"framing"`
}

type MetricsConfig struct {
	// Listen enables the metrics endpoint when non-empty.
	Listen string `toml:"listen" yaml:"listen"`
	Path   string `toml:"path" yaml:"path"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:  "127.0.0.1:3000",
		Backend: BackendStub,
		WebSocket: WebSocketConfig{
			Library:          "gorilla",
			HandshakeTimeout: Duration{10 * time.Second},
			WriteTimeout:     Duration{10 * time.Second},
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			MaxMessageSize:   32 << 20,
			QueueLength:      16,
		},
		Process: ProcessConfig{
			Workspace:     ".",
			ShutdownGrace: Duration{2 * time.Second},
			Framing:       FramingStream,
		},
		Metrics: MetricsConfig{Path: "/metrics"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	switch c.Backend {
	case BackendStub:
	case BackendProcess:
		if c.Process.Command == "" {
			errs = append(errs, errors.New("process backend needs process.command"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	switch c.WebSocket.Library {
	case "", "gorilla", "xnet":
	default:
		errs = append(errs, fmt.Errorf("unknown websocket library %q", c.WebSocket.Library))
	}
	if c.WebSocket.HandshakeTimeout.Duration < 0 || c.WebSocket.WriteTimeout.Duration < 0 {
		errs = append(errs, errors.New("websocket timeouts must not be negative"))
	}
	if c.WebSocket.MaxMessageSize < 0 || c.WebSocket.QueueLength < 0 {
		errs = append(errs, errors.New("websocket limits must not be negative"))
	}
	switch c.Process.Framing {
	case "", FramingStream, FramingMessage:
	default:
		errs = append(errs, fmt.Errorf("unknown process framing %q", c.Process.Framing))
	}
	for name := range c.Process.Files {
		if filepath.IsAbs(name) || !filepath.IsLocal(name) {
			errs = append(errs, fmt.Errorf("workspace file %q escapes the workspace", name))
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// OriginAllowed reports whether a handshake carrying origin may proceed.
// Requests without an Origin header come from non-browser clients and are
// always allowed.
func (w *WebSocketConfig) OriginAllowed(origin string) bool {
	if len(w.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, o := range w.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// ParseLevel maps debug, info, warn and error to slog levels. Empty is info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// Duration is a time.Duration written as a string such as "5s" in both
// TOML and YAML.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

func (d *Duration) UnmarshalText(text []byte) error {
	dd, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = dd
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
