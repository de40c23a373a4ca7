package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gossip-lsp/wsbridge/stream"
)

func TestMessagePipe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, peer := MessagePipe(1)
	defer conn.Close()
	src, sink := conn.Split(ctx)
	a := stream.New(ctx, src, sink)

	if err := peer.Send(ctx, stream.Message{Kind: stream.Text, Data: []byte("abc")}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 8)
	if n, err := a.Read(buf); err != nil || string(buf[:n]) != "abc" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}

	if _, err := a.Write([]byte("xyz")); err != nil {
		t.Fatal(err)
	}
	m, err := peer.Recv(ctx)
	if err != nil || m.Kind != stream.Binary || string(m.Data) != "xyz" {
		t.Fatalf("Recv = %v %q, %v", m.Kind, m.Data, err)
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := peer.Recv(ctx); err != io.EOF {
		t.Errorf("Recv after Close = %v, want io.EOF", err)
	}
}

func TestMessagePipeFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, peer := MessagePipe(1)
	defer conn.Close()
	src, sink := conn.Split(ctx)
	a := stream.New(ctx, src, sink)

	boom := errors.New("connection reset")
	peer.Fail(boom)
	if _, err := a.Read(make([]byte, 4)); !errors.Is(err, boom) {
		t.Errorf("Read = %v, want %v", err, boom)
	}
}

func TestListenUnix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.sock")
	ln, err := Listen("unix:" + path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	if ln.Addr().Network() != "unix" {
		t.Errorf("network = %q, want unix", ln.Addr().Network())
	}

	go func() {
		c, err := net.Dial("unix", path)
		if err == nil {
			c.Close()
		}
	}()
	c, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	c.Close()
}

func TestListenTCP(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	if ln.Addr().Network() != "tcp" {
		t.Errorf("network = %q, want tcp", ln.Addr().Network())
	}
}

func TestProcessEcho(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	var stderr strings.Builder
	p, err := StartProcess(context.Background(), ProcessConfig{Command: "cat", Stderr: &stderr})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}

	if _, err := io.WriteString(p, "Content-Length: 2\r\n\r\n{}"); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len("Content-Length: 2\r\n\r\n{}"))
	if _, err := io.ReadFull(p, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "Content-Length: 2\r\n\r\n{}" {
		t.Errorf("echo = %q", buf)
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	select {
	case <-p.Done():
	default:
		t.Error("process still running after Close")
	}
}

func TestProcessEmptyCommand(t *testing.T) {
	if _, err := StartProcess(context.Background(), ProcessConfig{}); err == nil {
		t.Error("StartProcess accepted an empty command")
	}
}
