package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send/Recv when the session is not in
	// the Connected state.
	ErrNotConnected = errors.New("session: not connected")
	// ErrConnectionReset is returned after the peer sends a
	// DisconnectionNotification.
	ErrConnectionReset = errors.New("session: connection reset by peer")
	// ErrTimedOut is returned after the send queue exhausts its
	// retransmission budget for some frame without an ack.
	ErrTimedOut = errors.New("session: timed out")
	// ErrHandshakeFailed is returned by Dial when the client exhausts its
	// handshake retry budget without completing the connection. It wraps
	// ErrNotConnected.
	ErrHandshakeFailed = fmt.Errorf("session: handshake failed: %w", ErrNotConnected)
)
