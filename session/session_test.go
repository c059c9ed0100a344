package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"raknet/wire"
)

// pairedSocket delivers every write synchronously to the peer session's
// HandleDatagram, standing in for a pair of loopback UDP sockets without
// touching the network.
type pairedSocket struct {
	peer *Session
}

func (p *pairedSocket) WriteToUDP(b []byte, _ *net.UDPAddr) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	_ = p.peer.HandleDatagram(time.Now(), cp)
	return len(b), nil
}

var testAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 19132}

// connectedPair builds two sessions wired directly to each other, already
// in the Connected state, skipping the offline handshake this test doesn't
// exercise (listener_test.go covers that end to end).
func connectedPair(t *testing.T) (a, b *Session) {
	t.Helper()
	a = New(&pairedSocket{}, testAddr, 1400, Config{TickInterval: 10 * time.Millisecond})
	b = New(&pairedSocket{}, testAddr, 1400, Config{TickInterval: 10 * time.Millisecond})
	a.sock.(*pairedSocket).peer = b
	b.sock.(*pairedSocket).peer = a

	a.mu.Lock()
	a.state = Connected
	a.mu.Unlock()
	b.mu.Lock()
	b.state = Connected
	b.mu.Unlock()
	return a, b
}

// pump drives both sessions' Tick until deadline passes, so queued sends
// make it across the paired sockets.
func pump(a, b *Session, rounds int) {
	now := time.Now()
	for i := 0; i < rounds; i++ {
		now = now.Add(10 * time.Millisecond)
		_ = a.Tick(now)
		_ = b.Tick(now)
	}
}

func TestSendRecvRoundTrip(t *testing.T) {
	a, b := connectedPair(t)
	defer a.Close()
	defer b.Close()

	want := []byte("hello session")
	if err := a.Send(want, wire.ReliableOrdered); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	pump(a, b, 5)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := b.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv() = %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("Recv() = %q, want %q", got, want)
	}
}

func TestSendRejectedWhenNotConnected(t *testing.T) {
	s := New(&pairedSocket{}, testAddr, 1400, Config{})
	if err := s.Send([]byte("x"), wire.Reliable); err != ErrNotConnected {
		t.Fatalf("Send() on a handshaking session = %v, want ErrNotConnected", err)
	}
}

func TestFragmentedMessageReassemblesAcrossSessions(t *testing.T) {
	a, b := connectedPair(t)
	defer a.Close()
	defer b.Close()

	maxLen := a.sendQ.MaxPayloadLen()
	want := make([]byte, maxLen*3+17)
	for i := range want {
		want[i] = byte(i)
	}
	// Payloads are dispatched on their first byte; 0x00 is ConnectedPing,
	// so lead with an id outside the system-packet range.
	want[0] = 0xfe
	if err := a.Send(want, wire.ReliableOrdered); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	pump(a, b, 10)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := b.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv() = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Recv() length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestOrderingPreservedAcrossMultipleSends(t *testing.T) {
	a, b := connectedPair(t)
	defer a.Close()
	defer b.Close()

	messages := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, m := range messages {
		if err := a.Send(m, wire.ReliableOrdered); err != nil {
			t.Fatalf("Send(%q) = %v", m, err)
		}
	}
	pump(a, b, 10)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, want := range messages {
		got, err := b.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv() = %v", err)
		}
		if string(got) != string(want) {
			t.Fatalf("Recv() = %q, want %q", got, want)
		}
	}
}

func TestCloseIsIdempotentAndUnblocksRecv(t *testing.T) {
	a, b := connectedPair(t)
	defer a.Close()

	if err := b.Close(); err != nil {
		t.Fatalf("Close() #1 = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() #2 = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := b.Recv(ctx); err == nil {
		t.Fatal("Recv() on a closed session succeeded, want an error")
	}
}

func TestPeerDisconnectSurfacesConnectionReset(t *testing.T) {
	a, b := connectedPair(t)
	defer b.Close()

	// a's DisconnectionNotification lands in b synchronously through the
	// paired socket.
	if err := a.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := b.Recv(ctx); !errors.Is(err, ErrConnectionReset) {
		t.Fatalf("Recv() after peer disconnect = %v, want ErrConnectionReset", err)
	}
	if got := b.State(); got != Disconnected {
		t.Fatalf("State() = %v, want Disconnected", got)
	}
}

// blackholeSocket pretends every write succeeded while delivering nothing,
// standing in for a path that drops all of this session's datagrams.
type blackholeSocket struct{}

func (blackholeSocket) WriteToUDP(b []byte, _ *net.UDPAddr) (int, error) { return len(b), nil }

func TestRetransmitExhaustionDisconnectsWithTimeout(t *testing.T) {
	s := New(blackholeSocket{}, testAddr, 1400, Config{})
	s.mu.Lock()
	s.state = Connected
	s.mu.Unlock()

	if err := s.Send([]byte("into the void"), wire.Reliable); err != nil {
		t.Fatalf("Send() = %v", err)
	}

	// Each synthetic tick jumps far past the maximum RTO, so every pass
	// counts as one failed retransmission of the original frame.
	now := time.Now()
	for i := 0; i < 8 && s.State() != Disconnected; i++ {
		now = now.Add(20 * time.Second)
		_ = s.Tick(now)
	}

	if got := s.State(); got != Disconnected {
		t.Fatalf("State() after retransmit exhaustion = %v, want Disconnected", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := s.Recv(ctx); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("Recv() after retransmit exhaustion = %v, want ErrTimedOut", err)
	}
}

func TestStatsReflectTraffic(t *testing.T) {
	a, b := connectedPair(t)
	defer a.Close()
	defer b.Close()

	if err := a.Send([]byte("stat me"), wire.Reliable); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	pump(a, b, 5)

	st := a.Stats()
	if st.DatagramsSent == 0 {
		t.Fatal("Stats().DatagramsSent = 0, want at least one datagram sent")
	}
	if st.Cwnd == 0 {
		t.Fatal("Stats().Cwnd = 0, want a positive congestion window")
	}
}
