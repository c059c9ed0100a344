// Package session implements the per-peer connection state machine: the
// offline handshake, ping/pong keepalive, and the glue between the receive
// and send queues that the wire-level datagrams flow through.
package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"raknet/internal/obs"
	"raknet/recvqueue"
	"raknet/sendqueue"
	"raknet/wire"
)

// State is one node of the connection state machine.
type State int

const (
	Offline State = iota
	Handshaking
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Protocol timing defaults.
const (
	DefaultPingInterval  = 4500 * time.Millisecond
	DefaultTickInterval  = 50 * time.Millisecond
	DefaultResendLimit   = 4
	DefaultEventCapacity = 128
)

// Config configures a Session's timing and behavior. Zero values are
// replaced with the package defaults by New (which Dial calls).
type Config struct {
	GUID          uint64
	PingInterval  time.Duration
	TickInterval  time.Duration
	ResendLimit   int
	EventCapacity int
	Nodelay       bool

	// Logger receives structured logs of state transitions, congestion
	// events, and decode failures. A nil Logger discards everything.
	Logger *logrus.Logger
	// Metrics exposes this session's transport health to Prometheus, keyed
	// by remote address. Build one with obs.NewMetrics and share it across
	// every session a listener accepts (or a single Dial call); a nil
	// Metrics, or one built with a nil Registerer, is a safe no-op.
	Metrics *obs.Metrics
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.ResendLimit <= 0 {
		c.ResendLimit = DefaultResendLimit
	}
	if c.EventCapacity <= 0 {
		c.EventCapacity = DefaultEventCapacity
	}
	return c
}

// Stats is a point-in-time snapshot of a session's transport health.
type Stats struct {
	State         State
	SRTT          time.Duration
	RTO           time.Duration
	Cwnd          uint32
	InFlight      int
	DatagramsSent uint64
	DatagramsRecv uint64
	BytesSent     uint64
	BytesRecv     uint64
	Retransmits   uint64
}

// socket is the transport a Session writes datagrams to; *net.UDPConn and
// the listener's shared socket both satisfy it.
type socket interface {
	WriteToUDP([]byte, *net.UDPAddr) (int, error)
}

// DropNotifier is notified when a session leaves the Connected state, so a
// listener can remove it from its peer map.
type DropNotifier interface {
	SessionDropped(addr *net.UDPAddr)
}

// Session is one peer connection: its handshake progress, receive and send
// queues, and the keepalive/teardown logic that ties them together.
type Session struct {
	mu sync.Mutex

	sock     socket
	addr     *net.UDPAddr
	cfg      Config
	peerGUID uint64

	state State

	recvQ *recvqueue.Queue
	sendQ *sendqueue.Queue

	lastPingSent time.Time
	lastRecv     time.Time

	events    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
	closed    bool
	err       error

	onConnected func()
	dropNotify  DropNotifier

	stats Stats

	log     *logrus.Entry
	metrics *obs.Metrics

	metricsDatagramsSent uint64
	metricsBytesSent     uint64
}

// New returns a session in the Handshaking state for a peer reached at
// addr over sock, with the given MTU already negotiated.
func New(sock socket, addr *net.UDPAddr, mtu uint16, cfg Config) *Session {
	cfg = cfg.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = obs.Discard()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = obs.NewMetrics(nil)
	}
	s := &Session{
		sock:    sock,
		addr:    addr,
		cfg:     cfg,
		state:   Handshaking,
		recvQ:   recvqueue.New(),
		sendQ:   sendqueue.New(mtu),
		events:  make(chan []byte, cfg.EventCapacity),
		closeCh: make(chan struct{}),
		log:     logger.WithFields(obs.SessionFields(addr.String(), Handshaking.String())),
		metrics: metrics,
	}
	s.sendQ.SetNodelay(cfg.Nodelay)
	return s
}

// SetDropNotifier registers a listener-style callback invoked once when the
// session leaves the Connected state.
func (s *Session) SetDropNotifier(d DropNotifier) {
	s.mu.Lock()
	s.dropNotify = d
	s.mu.Unlock()
}

// SetOnConnected registers a callback invoked once the session first
// reaches the Connected state. Used by a listener to complete its Accept
// future and by Dial to unblock the caller.
func (s *Session) SetOnConnected(fn func()) {
	s.mu.Lock()
	s.onConnected = fn
	s.mu.Unlock()
}

// RemoteAddr returns the peer's address.
func (s *Session) RemoteAddr() *net.UDPAddr { return s.addr }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetNodelay toggles Nagle-style coalescing of small sends; it takes
// effect on the next SendNext.
func (s *Session) SetNodelay(v bool) {
	s.mu.Lock()
	s.sendQ.SetNodelay(v)
	s.mu.Unlock()
}

// Nodelay reports the current nodelay setting.
func (s *Session) Nodelay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendQ.Nodelay()
}

// Stats returns a snapshot of the session's current transport health.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.State = s.state
	st.Cwnd = s.sendQ.Cwnd()
	st.InFlight = s.sendQ.InFlight()
	st.SRTT = s.sendQ.SRTT()
	st.RTO = s.sendQ.RTO()
	st.DatagramsSent = s.sendQ.DatagramsSent()
	st.BytesSent = s.sendQ.BytesSent()
	return st
}

// Send queues a payload for delivery under the given reliability. It
// returns ErrNotConnected if the session is not in the Connected state.
func (s *Session) Send(payload []byte, r wire.Reliability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return ErrNotConnected
	}
	s.sendQ.Send(payload, r)
	return nil
}

// Recv blocks until a reassembled, ordered application payload is ready,
// the session closes, or ctx is done.
func (s *Session) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-s.events:
		if !ok {
			return nil, s.closeErr()
		}
		return b, nil
	case <-s.closeCh:
		return nil, s.closeErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) closeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return ErrNotConnected
}

// Close tears the session down, making a best-effort attempt to notify the
// peer first.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	addr := s.addr
	sock := s.sock
	s.transitionLocked(Disconnected, nil)
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.closeCh) })

	p := &wire.DisconnectionNotification{}
	_, _ = sock.WriteToUDP(p.Encode(), addr)
	return nil
}

// transitionLocked moves the session to a new state and, when leaving
// Connected, notifies the drop callback and records the terminal error.
// Callers must hold mu.
func (s *Session) transitionLocked(to State, err error) {
	if s.state == to {
		return
	}
	wasConnected := s.state == Connected
	s.state = to
	if err != nil {
		s.err = err
	}
	s.log = s.log.WithField("session_state", to.String())
	if err != nil {
		s.log.WithError(err).Info("session state transition")
	} else {
		s.log.Info("session state transition")
	}
	if to != Connected && wasConnected && s.dropNotify != nil {
		go s.dropNotify.SessionDropped(s.addr)
	}
}

// HandleDatagram routes one raw UDP payload received from this peer: ack,
// nack, or frameset, depending on its flag byte.
func (s *Session) HandleDatagram(now time.Time, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	switch {
	case data[0] == wire.AckID:
		ranges, err := wire.DecodeAck(data)
		if err != nil {
			s.log.WithError(err).Error("decode ack")
			return err
		}
		s.mu.Lock()
		for _, r := range ranges {
			s.sendQ.Ack(now, r.Min, r.Max)
		}
		s.mu.Unlock()
		return nil

	case data[0] == wire.NackID:
		ranges, err := wire.DecodeNack(data)
		if err != nil {
			s.log.WithError(err).Error("decode nack")
			return err
		}
		s.mu.Lock()
		for _, r := range ranges {
			s.sendQ.Nack(now, r.Min, r.Max)
			s.stats.Retransmits++
		}
		s.mu.Unlock()
		s.log.Warn("congestion event: nack received")
		s.metrics.AddRetransmit(s.addr.String())
		return nil

	case data[0]&wire.FlagDatagram != 0:
		return s.handleFrameset(now, data)

	default:
		return s.handleConnectedSystemPacket(now, data)
	}
}

func (s *Session) handleFrameset(now time.Time, data []byte) error {
	dg, err := wire.DecodeDatagram(data)
	if err != nil {
		s.log.WithError(err).Error("decode datagram")
		return err
	}

	var delivered [][]byte
	s.mu.Lock()
	s.lastRecv = now
	s.stats.DatagramsRecv++
	s.stats.BytesRecv += uint64(len(data))
	s.metrics.AddDatagramRecv(s.addr.String(), len(data))
	if s.recvQ.OnDatagram(dg.Sequence) {
		for _, f := range dg.Frames {
			for _, m := range s.recvQ.Accept(f) {
				delivered = append(delivered, m.Payload)
			}
		}
	}
	s.mu.Unlock()

	for _, payload := range delivered {
		if err := s.dispatch(now, payload); err != nil {
			return err
		}
	}
	return nil
}

// dispatch hands one fully reassembled payload either to the connected
// system-packet handler (ConnectedPing/Pong, DisconnectionNotification) or
// to the application event channel.
func (s *Session) dispatch(now time.Time, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	switch payload[0] {
	case wire.IDConnectedPing, wire.IDConnectedPong, wire.IDDisconnectionNotification,
		wire.IDConnectionRequest, wire.IDConnectionRequestAccepted, wire.IDNewIncomingConnections:
		return s.handleConnectedSystemPacket(now, payload)
	default:
		s.deliver(payload)
		return nil
	}
}

// deliver pushes an application payload onto the event channel without
// holding the session guard, so a full channel backpressures the caller
// instead of deadlocking other session work.
func (s *Session) deliver(payload []byte) {
	select {
	case s.events <- payload:
	case <-s.closeCh:
	}
}

func (s *Session) handleConnectedSystemPacket(now time.Time, data []byte) error {
	switch data[0] {
	case wire.IDConnectedPing:
		p, err := wire.DecodeConnectedPing(data)
		if err != nil {
			return err
		}
		pong := &wire.ConnectedPong{ClientTimestamp: p.ClientTimestamp, ServerTimestamp: uint64(now.UnixMilli())}
		s.mu.Lock()
		s.sendQ.Send(pong.Encode(), wire.Reliable)
		s.mu.Unlock()
		return nil

	case wire.IDConnectedPong:
		return nil

	case wire.IDDisconnectionNotification:
		s.mu.Lock()
		s.transitionLocked(Disconnected, ErrConnectionReset)
		s.mu.Unlock()
		s.closeOnce.Do(func() { close(s.closeCh) })
		return nil

	case wire.IDConnectionRequest:
		return s.handleConnectionRequest(now, data)

	case wire.IDConnectionRequestAccepted:
		return s.handleConnectionRequestAccepted(now, data)

	case wire.IDNewIncomingConnections:
		s.mu.Lock()
		s.transitionLocked(Connected, nil)
		fn := s.onConnected
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
		return nil
	}
	return nil
}

func (s *Session) handleConnectionRequest(now time.Time, data []byte) error {
	req, err := wire.DecodeConnectionRequest(data)
	if err != nil {
		return err
	}
	accepted := &wire.ConnectionRequestAccepted{
		ClientAddr:      s.addr,
		RequestTime:     req.Time,
		AcceptTimestamp: uint64(now.UnixMilli()),
	}
	enc, err := accepted.Encode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.peerGUID = req.GUID
	s.sendQ.Send(enc, wire.ReliableOrdered)
	s.mu.Unlock()
	return nil
}

func (s *Session) handleConnectionRequestAccepted(now time.Time, data []byte) error {
	accepted, err := wire.DecodeConnectionRequestAccepted(data)
	if err != nil {
		return err
	}
	nic := &wire.NewIncomingConnections{
		ServerAddr:      s.addr,
		RequestTime:     accepted.RequestTime,
		AcceptTimestamp: accepted.AcceptTimestamp,
	}
	enc, err := nic.Encode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sendQ.Send(enc, wire.ReliableOrdered)
	s.transitionLocked(Connected, nil)
	fn := s.onConnected
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// Tick drives periodic work: flushing acks/nacks, pacing the send queue,
// retransmitting timed-out frames, and sending keepalive pings. It should
// be called roughly every cfg.TickInterval.
func (s *Session) Tick(now time.Time) error {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return nil
	}

	for {
		min, max, ok := s.recvQ.GetAck()
		if !ok {
			break
		}
		data := wire.EncodeAck([]wire.AckRange{{Min: min, Max: max}})
		s.mu.Unlock()
		if _, err := s.sock.WriteToUDP(data, s.addr); err != nil {
			return err
		}
		s.mu.Lock()
	}
	for {
		min, max, ok := s.recvQ.GetNack()
		if !ok {
			break
		}
		data := wire.EncodeNack([]wire.AckRange{{Min: min, Max: max}})
		s.mu.Unlock()
		if _, err := s.sock.WriteToUDP(data, s.addr); err != nil {
			return err
		}
		s.mu.Lock()
	}

	if s.state == Connected && now.Sub(s.lastPingSent) >= s.cfg.PingInterval {
		ping := &wire.ConnectedPing{ClientTimestamp: uint64(now.UnixMilli())}
		s.sendQ.Send(ping.Encode(), wire.Reliable)
		s.lastPingSent = now
	}

	timedOut := s.sendQ.Tick(now, s.cfg.ResendLimit)

	// The guard stays held across SendNext: the send queue's state is not
	// safe to mutate concurrently with the Ack/Nack paths, and a UDP write
	// does not block long enough to justify releasing it.
	sendErr := s.sendQ.SendNext(now, s.sock, s.addr)

	addrStr := s.addr.String()
	s.metrics.SetCwnd(addrStr, s.sendQ.Cwnd())
	s.metrics.SetInFlight(addrStr, s.sendQ.InFlight())
	s.metrics.SetRTO(addrStr, s.sendQ.RTO().Seconds())
	s.metrics.SetSRTT(addrStr, s.sendQ.SRTT().Seconds())

	newSent := s.sendQ.DatagramsSent()
	newBytes := s.sendQ.BytesSent()
	s.metrics.AddDatagramsSent(addrStr, newSent-s.metricsDatagramsSent, newBytes-s.metricsBytesSent)
	s.metricsDatagramsSent = newSent
	s.metricsBytesSent = newBytes
	s.stats.DatagramsSent = newSent
	s.stats.BytesSent = newBytes
	s.mu.Unlock()

	if sendErr != nil {
		return sendErr
	}

	if timedOut {
		s.log.Warn("retransmission budget exhausted, closing session")
		s.mu.Lock()
		s.transitionLocked(Disconnected, ErrTimedOut)
		s.mu.Unlock()
		s.closeOnce.Do(func() { close(s.closeCh) })
	}
	return nil
}

// run starts the session's ticker loop; it exits when ctx is canceled or
// the session closes.
func (s *Session) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-s.closeCh:
				return nil
			case t := <-ticker.C:
				if err := s.Tick(t); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}

// Run starts the session's background ticker and blocks until it stops.
// Callers typically invoke this in its own goroutine.
func (s *Session) Run(ctx context.Context) error {
	return s.run(ctx)
}
