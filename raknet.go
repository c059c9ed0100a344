// Package raknet is a reliable, ordered, fragmenting transport over UDP in
// the RakNet family: CUBIC congestion control, RFC 6298 retransmission
// timeouts, and five per-message reliability levels multiplexed over one
// socket per peer.
//
// The protocol's pieces live in their own packages (wire, cubic, recvqueue,
// sendqueue, session, listener); this file only re-exports the handful of
// entry points an application actually calls.
package raknet

import (
	"context"
	"net"
	"time"

	"raknet/listener"
	"raknet/session"
)

// Socket is the UDP transport surface the protocol runs over; *net.UDPConn
// satisfies it. The send queue and session each declare a narrower
// interface holding only WriteToUDP.
type Socket interface {
	WriteToUDP([]byte, *net.UDPAddr) (int, error)
	SetReadDeadline(time.Time) error
}

// Session is one peer connection: handshake state, receive/send queues,
// and the keepalive/teardown logic tying them together.
type Session = session.Session

// Listener accepts inbound sessions on one bound UDP socket.
type Listener = listener.Listener

// Listen binds a UDP socket at addr and returns a Listener ready to Accept
// connections from it.
func Listen(addr string, guid uint64, motd string, cfg listener.Config) (*Listener, error) {
	return listener.Listen(addr, guid, motd, cfg)
}

// Dial performs the client-side offline handshake against remoteAddr and
// returns a Session in the Connected state. localAddr may be empty to let
// the kernel choose an ephemeral port.
func Dial(ctx context.Context, localAddr, remoteAddr string, guid uint64, cfg session.Config) (*Session, error) {
	return session.Dial(ctx, localAddr, remoteAddr, guid, cfg)
}
