// Package sendqueue buffers outbound messages, splits them into frames that
// fit the negotiated MTU, paces datagrams onto the wire under a congestion
// window, and retransmits on NACK or retransmission timeout.
package sendqueue

import (
	"net"
	"time"

	"raknet/cubic"
	"raknet/wire"
)

// Socket is the minimal transport a send queue needs; *net.UDPConn
// satisfies it directly.
type Socket interface {
	WriteToUDP([]byte, *net.UDPAddr) (int, error)
}

// UDPHeaderOverhead accounts for the IP and UDP headers that occupy part of
// the path MTU but never appear in a captured payload.
const UDPHeaderOverhead = wire.UDPHeaderLen

// datagramPreamble is the flag byte plus the 24-bit sequence number at the
// head of every frameset datagram.
const datagramPreamble = 4

// maxDatagramFrames caps how many frames one datagram may carry, a
// secondary bound on top of the MTU byte budget.
const maxDatagramFrames = 120

// pending is one outstanding reliable frame, tracked until acked, nacked,
// or timed out.
type pending struct {
	frame       *wire.Frame
	sequence    uint32 // datagram sequence number it was last sent under
	sentAt      time.Time
	resendCount int
}

// group is one not-yet-sent user message, queued until SendNext can afford
// to turn it into one or more frames.
type group struct {
	reliability wire.Reliability
	payload     []byte
}

// Queue is the send-side state for one session.
type Queue struct {
	mtu uint16

	nextMessageIndex uint32
	nextOrderIndex   uint32
	nextSequenceIdx  uint32
	nextGroupID      uint16
	nextDatagramSeq  uint32

	pendingGroups []group
	backlog       []*wire.Frame       // already-split frames awaiting a retransmit slot
	inFlight      map[uint32]*pending // keyed by MIndex
	resendCounts  map[uint32]int      // keyed by MIndex, survives across retransmits

	nodelay bool

	rto   *cubic.RTOEstimator
	cubic *cubic.Cubic

	datagramsSent uint64
	bytesSent     uint64
}

// New returns an empty send queue sized for the given path MTU.
func New(mtu uint16) *Queue {
	return &Queue{
		mtu:          mtu,
		inFlight:     make(map[uint32]*pending),
		resendCounts: make(map[uint32]int),
		rto:          cubic.NewRTOEstimator(),
		cubic:        cubic.New(mtu),
	}
}

// MaxPayloadLen is the largest single-frame payload that fits in one
// datagram once the IP/UDP headers and the largest possible frame header
// are accounted for.
func (q *Queue) MaxPayloadLen() int {
	return int(q.mtu) - UDPHeaderOverhead - datagramPreamble - wire.HeaderSize(wire.ReliableOrdered, true)
}

// maxFrameBytes is the room one datagram has for encoded frames.
func (q *Queue) maxFrameBytes() int {
	return int(q.mtu) - UDPHeaderOverhead - datagramPreamble
}

// SetNodelay toggles Nagle-style coalescing of small sends.
func (q *Queue) SetNodelay(v bool) { q.nodelay = v }

// Nodelay reports the current nodelay setting.
func (q *Queue) Nodelay() bool { return q.nodelay }

// Send queues a payload for delivery under the given reliability. The
// payload is copied; callers may reuse their buffer.
func (q *Queue) Send(payload []byte, r wire.Reliability) {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	q.pendingGroups = append(q.pendingGroups, group{reliability: r, payload: buf})
}

// InFlight reports the number of reliable frames awaiting acknowledgement.
func (q *Queue) InFlight() int { return len(q.inFlight) }

// Cwnd returns the current congestion window, in datagrams.
func (q *Queue) Cwnd() uint32 { return q.cubic.Cwnd() }

// SRTT returns the smoothed round-trip time estimate.
func (q *Queue) SRTT() time.Duration { return q.rto.SRTT() }

// RTO returns the current retransmission timeout.
func (q *Queue) RTO() time.Duration { return q.rto.RTO() }

// DatagramsSent and BytesSent report cumulative wire traffic this queue has
// written, regardless of reliability.
func (q *Queue) DatagramsSent() uint64 { return q.datagramsSent }
func (q *Queue) BytesSent() uint64     { return q.bytesSent }

// buildFrames turns one queued group into one or more frames, fragmenting
// it if it doesn't fit in a single datagram.
func (q *Queue) buildFrames(g group) []*wire.Frame {
	maxLen := q.MaxPayloadLen()
	if len(g.payload) <= maxLen {
		f := &wire.Frame{Reliability: g.reliability, Payload: g.payload}
		q.assignIndices(f, false)
		return []*wire.Frame{f}
	}

	r := g.reliability.UpgradeForFragment()
	groupID := q.nextGroupID
	q.nextGroupID++

	var pieceLen int
	if maxLen > 0 {
		pieceLen = maxLen
	} else {
		pieceLen = 1
	}
	total := uint32((len(g.payload) + pieceLen - 1) / pieceLen)

	frames := make([]*wire.Frame, 0, total)
	var oindex, sindex uint32
	if r == wire.ReliableOrdered {
		oindex = q.nextOrderIndex
		q.nextOrderIndex++
	}
	if r.IsSequenced() {
		sindex = q.nextSequenceIdx
		q.nextSequenceIdx++
	}

	for i := uint32(0); i < total; i++ {
		start := int(i) * pieceLen
		end := start + pieceLen
		if end > len(g.payload) {
			end = len(g.payload)
		}
		f := &wire.Frame{
			Reliability: r,
			Fragment:    true,
			TotalCount:  total,
			GroupID:     groupID,
			PieceIndex:  i,
			OIndex:      oindex,
			SIndex:      sindex,
			Payload:     g.payload[start:end],
		}
		if r.IsReliable() {
			f.MIndex = q.nextMessageIndex
			q.nextMessageIndex++
		}
		frames = append(frames, f)
	}
	return frames
}

func (q *Queue) assignIndices(f *wire.Frame, fragment bool) {
	r := f.Reliability
	if fragment {
		r = r.UpgradeForFragment()
		f.Reliability = r
	}
	if r.IsReliable() {
		f.MIndex = q.nextMessageIndex
		q.nextMessageIndex++
	}
	if r == wire.ReliableOrdered {
		f.OIndex = q.nextOrderIndex
		q.nextOrderIndex++
	}
	if r.IsSequenced() {
		f.SIndex = q.nextSequenceIdx
		q.nextSequenceIdx++
	}
}

// SendNext drains queued groups and any backlog (retransmits or frames
// that missed the congestion window on a prior call) into datagrams, up
// to what the current congestion window allows, and writes them to sock.
// now is used to timestamp reliable frames for RTO tracking. Without
// nodelay, a lone small pending group waits for more to coalesce with it
// rather than going out alone, but only while something else is already
// in flight to coalesce behind; with nothing outstanding there is nothing
// to wait for, so it still goes out on this call. nodelay skips the wait
// entirely.
func (q *Queue) SendNext(now time.Time, sock Socket, addr *net.UDPAddr) error {
	if !q.nodelay && len(q.backlog) == 0 && len(q.pendingGroups) == 1 &&
		len(q.inFlight) > 0 && len(q.pendingGroups[0].payload) < q.MaxPayloadLen()/4 {
		return nil
	}

	ready := q.backlog
	q.backlog = nil
	for len(q.pendingGroups) > 0 {
		g := q.pendingGroups[0]
		q.pendingGroups = q.pendingGroups[1:]
		ready = append(ready, q.buildFrames(g)...)
	}

	budget := int(q.cubic.Cwnd()) - len(q.inFlight)
	for budget > 0 && len(ready) > 0 {
		// Fill one datagram: as many whole frames as fit in the MTU, up to
		// the per-datagram frame cap. The first frame always goes in, since
		// fragmentation has already bounded every frame to fit alone.
		var batch []*wire.Frame
		batchBytes := 0
		for len(ready) > 0 && len(batch) < maxDatagramFrames {
			f := ready[0]
			frameBytes := wire.HeaderSize(f.Reliability, f.Fragment) + len(f.Payload)
			if len(batch) > 0 && batchBytes+frameBytes > q.maxFrameBytes() {
				break
			}
			batch = append(batch, f)
			batchBytes += frameBytes
			ready = ready[1:]
		}

		seq := q.nextDatagramSeq
		q.nextDatagramSeq = wire.U24Add(seq, 1)

		d := &wire.Datagram{Sequence: seq, Frames: batch}
		encoded := d.Encode()
		if _, err := sock.WriteToUDP(encoded, addr); err != nil {
			return err
		}
		q.datagramsSent++
		q.bytesSent += uint64(len(encoded))

		for _, f := range batch {
			if f.Reliability.IsReliable() {
				q.inFlight[f.MIndex] = &pending{
					frame:       f,
					sequence:    seq,
					sentAt:      now,
					resendCount: q.resendCounts[f.MIndex],
				}
			}
		}
		budget--
	}
	if len(ready) > 0 {
		// Congestion window exhausted; whatever couldn't be sent this
		// round waits for the next SendNext call.
		q.requeueFrames(ready)
	}
	return nil
}

// requeueFrames puts already-split frames back at the front of the
// backlog so they go out before newly queued groups on the next
// SendNext call.
func (q *Queue) requeueFrames(frames []*wire.Frame) {
	if len(frames) == 0 {
		return
	}
	q.backlog = append(frames, q.backlog...)
}

// Ack removes all in-flight frames covered by [min, max] and folds their
// round-trip sample into the RTO estimator and CUBIC window.
func (q *Queue) Ack(now time.Time, min, max uint32) {
	var count uint32
	var sampleRTT time.Duration
	var latestSent time.Time
	haveSample := false
	for mindex, p := range q.inFlight {
		if !inRange(p.sequence, min, max) {
			continue
		}
		delete(q.inFlight, mindex)
		delete(q.resendCounts, mindex)
		count++
		if !haveSample || p.sentAt.After(latestSent) {
			latestSent = p.sentAt
			sampleRTT = now.Sub(p.sentAt)
		}
		haveSample = true
	}
	if count == 0 {
		return
	}
	if haveSample {
		q.rto.Sample(sampleRTT)
	}
	q.cubic.OnAck(now, count, sampleRTT)
}

// Nack requeues every in-flight frame covered by [min, max] for
// retransmission under a new sequence number and folds a congestion event
// into the window.
func (q *Queue) Nack(now time.Time, min, max uint32) {
	var lost []*wire.Frame
	for mindex, p := range q.inFlight {
		if !inRange(p.sequence, min, max) {
			continue
		}
		delete(q.inFlight, mindex)
		if !p.frame.Reliability.IsReliable() {
			continue // unreliable frames are simply dropped
		}
		lost = append(lost, p.frame)
		q.cubic.OnCongestionEvent(now, p.sentAt, false)
	}
	q.requeueFrames(lost)
}

// Tick requeues for retransmission any reliable frame whose RTO has
// elapsed, doubling the estimator's timeout (Karn's algorithm) once per
// call however many frames expired. It returns true if any frame has now
// timed out resendLimit or more times; that frame is dropped rather than
// requeued, and the session should treat this as a connection timeout.
func (q *Queue) Tick(now time.Time, resendLimit int) (timedOut bool) {
	var lost []*wire.Frame
	for mindex, p := range q.inFlight {
		if now.Sub(p.sentAt) < q.rto.RTO() {
			continue
		}
		delete(q.inFlight, mindex)
		p.resendCount++
		if p.resendCount >= resendLimit {
			timedOut = true
			delete(q.resendCounts, mindex)
			continue
		}
		q.resendCounts[mindex] = p.resendCount
		q.cubic.OnCongestionEvent(now, p.sentAt, true)
		lost = append(lost, p.frame)
	}
	if len(lost) > 0 {
		// One backoff per tick, however many frames expired together.
		q.rto.Backoff()
	}
	q.requeueFrames(lost)
	return timedOut
}

func inRange(v, min, max uint32) bool {
	return !wire.U24Less(v, min) && !wire.U24Less(max, v)
}
