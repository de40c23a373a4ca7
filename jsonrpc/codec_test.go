package jsonrpc

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

type countingWriter struct {
	writes [][]byte
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, bytes.Clone(p))
	return len(p), nil
}

func TestCodecWriteIsOneCall(t *testing.T) {
	w := &countingWriter{}
	c := NewCodec(strings.NewReader(""), w)

	if err := c.Write([]byte(`{"jsonrpc":"2.0","method":"x"}`)); err != nil {
		t.Fatal(err)
	}
	if len(w.writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(w.writes))
	}
	want := "Content-Length: 30\r\n\r\n" + `{"jsonrpc":"2.0","method":"x"}`
	if got := string(w.writes[0]); got != want {
		t.Errorf("frame = %q, want %q", got, want)
	}
}

func TestCodecRead(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr error
	}{
		{
			name:    "two messages",
			input:   "Content-Length: 2\r\n\r\n{}Content-Length: 7\r\n\r\n{\"a\":1}",
			want:    []string{"{}", `{"a":1}`},
			wantErr: io.EOF,
		},
		{
			name:    "extra headers and case",
			input:   "content-length: 2\r\nContent-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n[]",
			want:    []string{"[]"},
			wantErr: io.EOF,
		},
		{
			name:    "empty stream",
			input:   "",
			wantErr: io.EOF,
		},
		{
			name:    "truncated body",
			input:   "Content-Length: 10\r\n\r\n{}",
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "truncated header",
			input:   "Content-Len",
			wantErr: io.ErrUnexpectedEOF,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCodec(strings.NewReader(tt.input), io.Discard)
			var got []string
			var err error
			for {
				var body []byte
				body, err = c.Read()
				if err != nil {
					break
				}
				got = append(got, string(body))
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("messages = %q, want %q", got, tt.want)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("final error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == io.EOF && err != io.EOF {
				t.Errorf("clean end should be io.EOF itself, got %v", err)
			}
		})
	}
}

func TestCodecMissingContentLength(t *testing.T) {
	c := NewCodec(strings.NewReader("Content-Type: x\r\n\r\n{}"), io.Discard)
	if _, err := c.Read(); err == nil {
		t.Error("Read accepted a message without Content-Length")
	}
}

func TestCodecMaxMessageSize(t *testing.T) {
	c := NewCodec(strings.NewReader("Content-Length: 100\r\n\r\n"), io.Discard)
	c.SetMaxMessageSize(10)
	if _, err := c.Read(); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Read = %v, want ErrMessageTooLarge", err)
	}
}
