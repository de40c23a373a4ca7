package stream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestInboxDeliversQueuedBeforeEnd(t *testing.T) {
	b := NewInbox(2)
	ctx := context.Background()
	b.Push(ctx, Message{Kind: Text, Data: []byte("a")})
	b.Push(ctx, Message{Kind: Text, Data: []byte("b")})
	b.End()

	for _, want := range []string{"a", "b"} {
		m, err := b.TryNext()
		if err != nil || string(m.Data) != want {
			t.Fatalf("TryNext = (%q, %v), want %q", m.Data, err, want)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := b.TryNext(); err != io.EOF {
			t.Fatalf("TryNext after end error = %v, want EOF", err)
		}
	}
}

func TestInboxPushBlocksWhenFull(t *testing.T) {
	b := NewInbox(1)
	ctx := context.Background()
	if err := b.Push(ctx, Message{Kind: Binary, Data: []byte("1")}); err != nil {
		t.Fatal(err)
	}

	pushed := make(chan error, 1)
	go func() { pushed <- b.Push(ctx, Message{Kind: Binary, Data: []byte("2")}) }()

	select {
	case <-pushed:
		t.Fatal("second push did not wait for the consumer")
	case <-time.After(20 * time.Millisecond):
	}

	if m, err := b.TryNext(); err != nil || string(m.Data) != "1" {
		t.Fatalf("TryNext = (%q, %v)", m.Data, err)
	}
	if err := <-pushed; err != nil {
		t.Fatalf("second push: %v", err)
	}
	if m, err := b.TryNext(); err != nil || string(m.Data) != "2" {
		t.Fatalf("TryNext = (%q, %v)", m.Data, err)
	}
}

func TestInboxCloseReleasesProducer(t *testing.T) {
	b := NewInbox(1)
	ctx := context.Background()
	b.Push(ctx, Message{Kind: Binary})

	pushed := make(chan error, 1)
	go func() { pushed <- b.Push(ctx, Message{Kind: Binary}) }()
	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-pushed:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("push error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after Close")
	}
	if _, err := b.TryNext(); err != io.EOF {
		t.Fatalf("TryNext after close error = %v, want EOF", err)
	}
}

func TestInboxFirstTerminalWins(t *testing.T) {
	boom := errors.New("boom")
	b := NewInbox(1)
	b.Fail(boom)
	b.End()
	if _, err := b.TryNext(); !errors.Is(err, boom) {
		t.Fatalf("TryNext error = %v, want %v", err, boom)
	}
}

func TestInboxPushHonoursContext(t *testing.T) {
	b := NewInbox(1)
	b.Push(context.Background(), Message{Kind: Binary})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.Push(ctx, Message{Kind: Binary}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("push error = %v, want deadline exceeded", err)
	}
}
