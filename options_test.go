package wsbridge

import (
	"errors"
	"testing"

	"github.com/gossip-lsp/wsbridge/config"
)

func TestFromArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    Flags
		wantErr bool
	}{
		{name: "none", args: nil},
		{
			name: "separate values",
			args: []string{"--ws", "unix:/tmp/b.sock", "--config", "bridge.toml"},
			want: Flags{Listen: "unix:/tmp/b.sock", Config: "bridge.toml"},
		},
		{
			name: "equals form",
			args: []string{"--backend=process", "--ws-library=xnet"},
			want: Flags{Backend: "process", Library: "xnet"},
		},
		{name: "missing value", args: []string{"--ws"}, wantErr: true},
		{name: "flag as value", args: []string{"--ws", "--backend", "stub"}, wantErr: true},
		{name: "empty value", args: []string{"--config="}, wantErr: true},
		{name: "unknown", args: []string{"--stdio"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	if _, err := FromArgs([]string{"--help"}); !errors.Is(err, ErrHelp) {
		t.Errorf("--help = %v, want ErrHelp", err)
	}
}

func TestFlagsApply(t *testing.T) {
	cfg := config.Default()
	Flags{Listen: ":9000", Library: "xnet"}.Apply(cfg)
	if cfg.Listen != ":9000" || cfg.WebSocket.Library != "xnet" || cfg.Backend != config.BackendStub {
		t.Errorf("got %+v", cfg)
	}
}
