package session

import (
	"context"
	"fmt"
	"net"
	"time"

	"raknet/wire"
)

// ProtocolVersion is the offline-handshake protocol identifier this
// implementation speaks and accepts.
const ProtocolVersion uint8 = 0x0A

// MaxMTU is the largest MTU ever negotiated, per the handshake's clamp.
const MaxMTU = 1400

// mtuProbes are attempted from largest to smallest until the server
// answers, mirroring how a client widens its discovery net.
var mtuProbes = []uint16{1496, 1204, 584, 0}

const (
	handshakeAttempt  = 4
	handshakeInterval = 500 * time.Millisecond
)

// Dial performs the full client-side offline handshake against remoteAddr
// and returns a Session in the Connected state. localAddr may be empty to
// let the kernel choose an ephemeral port.
func Dial(ctx context.Context, localAddr, remoteAddr string, guid uint64, cfg Config) (*Session, error) {
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("session: resolve remote addr: %w", err)
	}
	var laddr *net.UDPAddr
	if localAddr != "" {
		if laddr, err = net.ResolveUDPAddr("udp", localAddr); err != nil {
			return nil, fmt.Errorf("session: resolve local addr: %w", err)
		}
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("session: listen: %w", err)
	}

	mtu, err := probeMTU(ctx, conn, raddr)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := openConnection(ctx, conn, raddr, guid, mtu); err != nil {
		conn.Close()
		return nil, err
	}

	s := New(conn, raddr, mtu, cfg)
	connected := make(chan struct{})
	var closeOnce bool
	s.SetOnConnected(func() {
		if !closeOnce {
			closeOnce = true
			close(connected)
		}
	})

	// ctx bounds only the handshake; the session's reader and ticker run
	// until the session itself closes.
	readerCtx, cancelReader := context.WithCancel(context.Background())
	go readLoop(readerCtx, conn, s)
	go func() {
		_ = s.Run(readerCtx)
		cancelReader()
	}()

	// The session is still Handshaking, so this bypasses Send's
	// connected-state gate and enqueues on the send queue directly.
	req := &wire.ConnectionRequest{GUID: guid, Time: uint64(time.Now().UnixMilli())}
	s.mu.Lock()
	s.sendQ.Send(req.Encode(), wire.ReliableOrdered)
	s.mu.Unlock()

	select {
	case <-connected:
		return s, nil
	case <-ctx.Done():
		cancelReader()
		conn.Close()
		return nil, ctx.Err()
	case <-time.After(handshakeAttempt * handshakeInterval * 3):
		cancelReader()
		conn.Close()
		return nil, ErrHandshakeFailed
	}
}

// readLoop feeds every datagram received on conn into the session, until
// the context is canceled.
func readLoop(ctx context.Context, conn *net.UDPConn, s *Session) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		_ = s.HandleDatagram(time.Now(), buf[:n])
	}
}

// probeMTU sends OpenConnectionRequest1 at decreasing sizes until the
// server replies, returning the MTU it offered (clamped to MaxMTU).
func probeMTU(ctx context.Context, conn *net.UDPConn, raddr *net.UDPAddr) (uint16, error) {
	buf := make([]byte, 65535)
	for _, probe := range mtuProbes {
		req := &wire.OpenConnectionRequest1{ProtocolVersion: ProtocolVersion, MTU: probe}
		data := req.Encode()

		for attempt := 0; attempt < handshakeAttempt; attempt++ {
			if _, err := conn.WriteToUDP(data, raddr); err != nil {
				return 0, err
			}
			conn.SetReadDeadline(time.Now().Add(handshakeInterval))
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil {
					return 0, ctx.Err()
				}
				continue
			}
			if n > 0 && buf[0] == wire.IDOpenConnectionReply1 {
				reply, err := wire.DecodeOpenConnectionReply1(buf[:n])
				if err != nil {
					continue
				}
				mtu := reply.MTU
				if mtu > MaxMTU {
					mtu = MaxMTU
				}
				return mtu, nil
			}
			if n > 0 && buf[0] == wire.IDIncompatibleProtocolVersion {
				return 0, fmt.Errorf("session: %w: incompatible protocol version", ErrHandshakeFailed)
			}
		}
	}
	return 0, ErrHandshakeFailed
}

// openConnection completes the handshake's second phase, returning the
// address the server believes the client is connecting from.
func openConnection(ctx context.Context, conn *net.UDPConn, raddr *net.UDPAddr, guid uint64, mtu uint16) (*net.UDPAddr, error) {
	buf := make([]byte, 65535)
	req := &wire.OpenConnectionRequest2{ServerAddr: raddr, MTU: mtu, GUID: guid}
	data, err := req.Encode()
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < handshakeAttempt; attempt++ {
		if _, err := conn.WriteToUDP(data, raddr); err != nil {
			return nil, err
		}
		conn.SetReadDeadline(time.Now().Add(handshakeInterval))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if n > 0 && buf[0] == wire.IDOpenConnectionReply2 {
			reply, err := wire.DecodeOpenConnectionReply2(buf[:n])
			if err != nil {
				continue
			}
			return reply.ClientAddr, nil
		}
	}
	return nil, ErrHandshakeFailed
}
