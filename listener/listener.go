// Package listener implements the server-side multiplexer: one shared UDP
// socket fanned out to per-peer sessions, plus the offline handshake that
// promotes a new address into a Session.
package listener

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"raknet/internal/obs"
	"raknet/session"
	"raknet/wire"
)

// Config configures a Listener and the sessions it accepts.
type Config struct {
	GUID         uint64
	MOTD         string
	Session      session.Config
	AcceptBuffer int // pending-accept channel capacity; default 16

	// Registerer exposes every accepted session's transport health to
	// Prometheus under one shared set of collectors labeled by remote
	// address. A nil Registerer disables metrics. Session.Metrics, if set
	// directly on Config.Session, is overridden with the listener's shared
	// collector so every peer reports through the same registration.
	Registerer prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.AcceptBuffer <= 0 {
		c.AcceptBuffer = 16
	}
	return c
}

// Listener accepts inbound sessions on one bound UDP socket.
type Listener struct {
	conn *net.UDPConn
	guid uint64
	motd string
	cfg  Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	peers      map[string]*session.Session
	handshakes map[string]*pendingHandshake
	closed     bool

	accepted chan *session.Session
	metrics  *obs.Metrics
}

type pendingHandshake struct {
	mtu uint16
}

// Listen binds a UDP socket at addr and returns a Listener ready to Accept
// connections.
func Listen(addr string, guid uint64, motd string, cfg Config) (*Listener, error) {
	cfg = cfg.withDefaults()
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listener: resolve addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listener: listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		conn:       conn,
		guid:       guid,
		motd:       motd,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		peers:      make(map[string]*session.Session),
		handshakes: make(map[string]*pendingHandshake),
		accepted:   make(chan *session.Session, cfg.AcceptBuffer),
		metrics:    obs.NewMetrics(cfg.Registerer),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.readLoop()
	}()
	return l, nil
}

// Accept blocks until a new session reaches the Connected state, the
// listener closes, or ctx is done.
func (l *Listener) Accept(ctx context.Context) (*session.Session, error) {
	select {
	case s := <-l.accepted:
		return s, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the listener's socket down and stops accepting new peers.
// Accepted sessions share that socket and run under the listener's
// context, so their tickers stop as well; Close does not call their Close
// or send their peers a DisconnectionNotification.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	err := l.conn.Close()
	l.wg.Wait()
	return err
}

// SessionDropped implements session.DropNotifier.
func (l *Listener) SessionDropped(addr *net.UDPAddr) {
	l.mu.Lock()
	delete(l.peers, addr.String())
	l.mu.Unlock()
}

func (l *Listener) readLoop() {
	buf := make([]byte, 65535)
	for {
		if l.ctx.Err() != nil {
			return
		}
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			continue
		}
		l.handle(time.Now(), addr, append([]byte(nil), buf[:n]...))
	}
}

func (l *Listener) handle(now time.Time, addr *net.UDPAddr, data []byte) {
	if len(data) == 0 {
		return
	}

	l.mu.Lock()
	s, isPeer := l.peers[addr.String()]
	l.mu.Unlock()
	if isPeer {
		_ = s.HandleDatagram(now, data)
		return
	}

	switch data[0] {
	case wire.IDUnconnectedPing:
		l.handleUnconnectedPing(addr, data)
	case wire.IDOpenConnectionRequest1:
		l.handleOpenConnectionRequest1(addr, data)
	case wire.IDOpenConnectionRequest2:
		l.handleOpenConnectionRequest2(addr, data)
	}
}

func (l *Listener) handleUnconnectedPing(addr *net.UDPAddr, data []byte) {
	ping, err := wire.DecodeUnconnectedPing(data)
	if err != nil {
		return
	}
	pong := &wire.UnconnectedPong{Time: ping.Time, GUID: l.guid, MOTD: l.motd}
	_, _ = l.conn.WriteToUDP(pong.Encode(), addr)
}

func (l *Listener) handleOpenConnectionRequest1(addr *net.UDPAddr, data []byte) {
	req, err := wire.DecodeOpenConnectionRequest1(data)
	if err != nil {
		return
	}
	if req.ProtocolVersion != session.ProtocolVersion {
		reply := &wire.IncompatibleProtocolVersion{ServerProtocol: session.ProtocolVersion, ServerGUID: l.guid}
		_, _ = l.conn.WriteToUDP(reply.Encode(), addr)
		return
	}
	mtu := req.MTU
	if mtu > session.MaxMTU {
		mtu = session.MaxMTU
	}
	l.mu.Lock()
	l.handshakes[addr.String()] = &pendingHandshake{mtu: mtu}
	l.mu.Unlock()

	reply := &wire.OpenConnectionReply1{GUID: l.guid, UseEncryption: false, MTU: mtu}
	_, _ = l.conn.WriteToUDP(reply.Encode(), addr)
}

func (l *Listener) handleOpenConnectionRequest2(addr *net.UDPAddr, data []byte) {
	req, err := wire.DecodeOpenConnectionRequest2(data)
	if err != nil {
		return
	}

	l.mu.Lock()
	hs, ok := l.handshakes[addr.String()]
	if ok {
		delete(l.handshakes, addr.String())
	}
	l.mu.Unlock()
	mtu := req.MTU
	if ok && hs.mtu < mtu {
		mtu = hs.mtu
	}
	if mtu > session.MaxMTU {
		mtu = session.MaxMTU
	}

	reply := &wire.OpenConnectionReply2{GUID: l.guid, ClientAddr: addr, MTU: mtu, UseEncryption: false}
	replyData, err := reply.Encode()
	if err != nil {
		return
	}
	if _, err := l.conn.WriteToUDP(replyData, addr); err != nil {
		return
	}

	sessCfg := l.cfg.Session
	sessCfg.Metrics = l.metrics
	s := session.New(l.conn, addr, mtu, sessCfg)
	s.SetDropNotifier(l)

	var once bool
	s.SetOnConnected(func() {
		if once {
			return
		}
		once = true
		select {
		case l.accepted <- s:
		case <-l.ctx.Done():
		}
	})

	l.mu.Lock()
	l.peers[addr.String()] = s
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		_ = s.Run(l.ctx)
	}()
}
