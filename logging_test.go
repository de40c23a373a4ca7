package wsbridge

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/gossip-lsp/wsbridge/config"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, level, err := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "conn", "c-1")
	level.Set(slog.LevelDebug)
	logger.Debug("now visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown","conn":"c-1"`) || !strings.Contains(out, "now visible") {
		t.Errorf("unexpected output: %s", out)
	}

	if _, _, err := NewLogger(config.LogConfig{Level: "chatty"}, &buf); err == nil {
		t.Error("accepted an unknown level")
	}
}

func TestLineLogger(t *testing.T) {
	var buf bytes.Buffer
	w := &lineLogger{logger: slog.New(slog.NewTextHandler(&buf, nil))}
	w.Write([]byte("error: first\r\nerror: sec"))
	w.Write([]byte("ond\n\npartial"))

	out := buf.String()
	if strings.Count(out, "language server stderr") != 2 {
		t.Fatalf("want two lines logged, got:\n%s", out)
	}
	if !strings.Contains(out, `line="error: first"`) || !strings.Contains(out, `line="error: second"`) {
		t.Errorf("lines not split correctly:\n%s", out)
	}
	if strings.Contains(out, "partial") {
		t.Error("logged an unterminated line")
	}
}
