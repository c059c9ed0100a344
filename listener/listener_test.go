package listener

import (
	"context"
	"testing"
	"time"

	"raknet/session"
	"raknet/wire"
)

func dialListener(t *testing.T, l *Listener) *session.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientCh := make(chan *session.Session, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := session.Dial(ctx, "", l.conn.LocalAddr().String(), 0xC1150, session.Config{
			TickInterval: 10 * time.Millisecond,
			PingInterval: time.Second,
		})
		if err != nil {
			errCh <- err
			return
		}
		clientCh <- c
	}()

	select {
	case c := <-clientCh:
		return c
	case err := <-errCh:
		t.Fatalf("Dial() = %v", err)
	case <-ctx.Done():
		t.Fatal("Dial() timed out")
	}
	return nil
}

func TestListenerAcceptsClientHandshake(t *testing.T) {
	l, err := Listen("127.0.0.1:0", 0xA77, "raknet test server", Config{
		Session: session.Config{TickInterval: 10 * time.Millisecond, PingInterval: time.Second},
	})
	if err != nil {
		t.Fatalf("Listen() = %v", err)
	}
	defer l.Close()

	client := dialListener(t, l)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept() = %v", err)
	}
	defer server.Close()

	if got := client.State(); got != session.Connected {
		t.Fatalf("client State() = %v, want Connected", got)
	}
	if got := server.State(); got != session.Connected {
		t.Fatalf("server State() = %v, want Connected", got)
	}
}

func TestListenerRoundTripsReliableOrderedPayload(t *testing.T) {
	l, err := Listen("127.0.0.1:0", 0xA78, "raknet test server", Config{
		Session: session.Config{TickInterval: 10 * time.Millisecond, PingInterval: time.Second},
	})
	if err != nil {
		t.Fatalf("Listen() = %v", err)
	}
	defer l.Close()

	client := dialListener(t, l)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept() = %v", err)
	}
	defer server.Close()

	want := []byte("hello from client")
	if err := client.Send(want, wire.ReliableOrdered); err != nil {
		t.Fatalf("client.Send() = %v", err)
	}

	recvCtx, recvCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer recvCancel()
	got, err := server.Recv(recvCtx)
	if err != nil {
		t.Fatalf("server.Recv() = %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("server.Recv() = %q, want %q", got, want)
	}
}

func TestListenTwiceOnSameAddrFails(t *testing.T) {
	l, err := Listen("127.0.0.1:0", 0xA7A, "first", Config{})
	if err != nil {
		t.Fatalf("Listen() #1 = %v", err)
	}
	defer l.Close()

	if second, err := Listen(l.conn.LocalAddr().String(), 0xA7B, "second", Config{}); err == nil {
		second.Close()
		t.Fatal("Listen() #2 on the same address succeeded, want a bind error")
	}
}

func TestListenerCloseStopsAccepting(t *testing.T) {
	l, err := Listen("127.0.0.1:0", 0xA79, "raknet test server", Config{})
	if err != nil {
		t.Fatalf("Listen() = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := l.Accept(ctx); err == nil {
		t.Fatal("Accept() on a closed listener succeeded, want an error")
	}
}
