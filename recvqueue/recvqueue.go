// Package recvqueue tracks inbound datagram sequence numbers and reliable
// message frames for one session: which sequences still need acking, which
// are missing, which fragments are still incomplete, and which ordered
// messages are ready to hand to the application.
package recvqueue

import (
	"github.com/bits-and-blooms/bitset"

	"raknet/wire"
)

// Message is a fully reassembled, deduplicated payload ready for delivery,
// tagged with the reliability it arrived under.
type Message struct {
	Reliability wire.Reliability
	Payload     []byte
}

// fragmentGroup accumulates pieces of one split message, keyed by GroupID.
type fragmentGroup struct {
	total   uint32
	pieces  [][]byte
	have    *bitset.BitSet
	gotSize uint32
}

func newFragmentGroup(total uint32) *fragmentGroup {
	return &fragmentGroup{
		total:  total,
		pieces: make([][]byte, total),
		have:   bitset.New(uint(total)),
	}
}

func (g *fragmentGroup) add(piece uint32, payload []byte) ([]byte, bool) {
	if piece >= g.total || g.have.Test(uint(piece)) {
		return nil, false
	}
	g.pieces[piece] = payload
	g.have.Set(uint(piece))
	g.gotSize += uint32(len(payload))
	if uint32(g.have.Count()) != g.total {
		return nil, false
	}
	out := make([]byte, 0, g.gotSize)
	for _, p := range g.pieces {
		out = append(out, p...)
	}
	return out, true
}

// Queue is the receive-side state for a single session.
type Queue struct {
	// ackNext is the lowest datagram sequence not yet accounted for by
	// either an ack or a nack range.
	ackNext uint32
	// received holds every sequence seen at or above ackNext, so runs of
	// contiguous sequences can be folded into ack/nack ranges.
	received map[uint32]struct{}

	// orderedNext is the next ReliableOrdered message index expected per
	// channel; orderedBuffer holds messages that arrived ahead of it.
	orderedNext   map[uint8]uint32
	orderedBuffer map[uint8]map[uint32]Message

	// sequencedNewest is the highest sequenced index delivered per
	// channel, used to drop stale UnreliableSequenced/ReliableSequenced
	// frames that arrive after a newer one already has.
	sequencedNewest map[uint8]uint32

	fragments map[uint16]*fragmentGroup

	// missing holds gap ranges GetAck has already skipped over (advancing
	// ackNext past them) but that GetNack hasn't reported yet. GetAck
	// must skip gaps itself so a contiguous run past one isn't stuck
	// waiting for GetNack to be called first.
	missing [][2]uint32
}

// New returns an empty receive queue.
func New() *Queue {
	return &Queue{
		received:        make(map[uint32]struct{}),
		orderedNext:     make(map[uint8]uint32),
		orderedBuffer:   make(map[uint8]map[uint32]Message),
		sequencedNewest: make(map[uint8]uint32),
		fragments:       make(map[uint16]*fragmentGroup),
	}
}

// channel is the ordering channel every frame belongs to. The wire format
// carries no explicit channel id, so every ordered or sequenced stream
// shares channel 0.
const channel = 0

// OnDatagram records a datagram's sequence number as received, so it can
// later be folded into an ack or nack range. It returns false if the
// sequence was already seen (a duplicate datagram, which should still be
// acked but must not be processed twice).
func (q *Queue) OnDatagram(seq uint32) (isNew bool) {
	if wire.U24Less(seq, q.ackNext) {
		return false // older than everything we still need to ack; ignore
	}
	if _, dup := q.received[seq]; dup {
		return false
	}
	q.received[seq] = struct{}{}
	return true
}

// GetAck extracts and removes the next contiguous run of received
// sequences starting at ackNext, returning it as an inclusive [min, max]
// range. If ackNext itself is a gap, GetAck skips over it first (recording
// the gap for a later GetNack) and looks for a run starting at the
// sequence beyond it, so a run following a gap is still reachable without
// an intervening GetNack call. It returns ok=false once no run can be
// found, either because nothing beyond ackNext has arrived yet or because
// the gap can't yet be bounded (nothing received above it).
func (q *Queue) GetAck() (min, max uint32, ok bool) {
	q.skipGap()
	if _, present := q.received[q.ackNext]; !present {
		return 0, 0, false
	}
	min = q.ackNext
	cur := q.ackNext
	for {
		delete(q.received, cur)
		next := wire.U24Add(cur, 1)
		if _, present := q.received[next]; !present {
			max = cur
			q.ackNext = next
			return min, max, true
		}
		cur = next
	}
}

// skipGap advances ackNext past a gap at the current position, recording
// the skipped range in missing for GetNack to report. It does nothing if
// ackNext is already present or if there's no received sequence above it
// to bound the gap with yet.
func (q *Queue) skipGap() {
	if _, present := q.received[q.ackNext]; present {
		return
	}
	lowest, found := uint32(0), false
	for seq := range q.received {
		if !found || wire.U24Less(seq, lowest) {
			lowest = seq
			found = true
		}
	}
	if !found || lowest == q.ackNext {
		return
	}
	gapMax := wire.U24Add(lowest, ^uint32(0)) // lowest - 1, mod 2^24
	q.missing = append(q.missing, [2]uint32{q.ackNext, gapMax})
	q.ackNext = lowest
}

// GetNack returns the next gap range presumed lost, as an inclusive
// [min, max] range. It first drains any gap GetAck has already skipped
// over, then falls back to detecting a fresh gap between ackNext and the
// lowest received sequence above it. It returns ok=false when there is
// none to report.
func (q *Queue) GetNack() (min, max uint32, ok bool) {
	if len(q.missing) > 0 {
		g := q.missing[0]
		q.missing = q.missing[1:]
		return g[0], g[1], true
	}

	if len(q.received) == 0 {
		return 0, 0, false
	}
	lowest, found := uint32(0), false
	for seq := range q.received {
		if !found || wire.U24Less(seq, lowest) {
			lowest = seq
			found = true
		}
	}
	if !found || lowest == q.ackNext {
		return 0, 0, false
	}
	min = q.ackNext
	max = wire.U24Add(lowest, ^uint32(0)) // lowest - 1, mod 2^24
	q.ackNext = lowest
	return min, max, true
}

// Accept folds one decoded frame into the queue's reassembly and ordering
// state. It returns the messages now ready for delivery, in delivery order
// (zero or more; a frame may complete zero, one, or — for an ordered
// message that unblocks buffered successors — several).
func (q *Queue) Accept(f *wire.Frame) []Message {
	payload := f.Payload
	if f.Fragment {
		complete, ok := q.reassemble(f)
		if !ok {
			return nil
		}
		payload = complete
	}

	switch {
	case f.Reliability.IsSequenced():
		newest := q.sequencedNewest[channel]
		if f.SIndex != 0 || newest != 0 {
			if wire.U24Less(f.SIndex, newest) || f.SIndex == newest {
				return nil // stale, a newer sequenced message already arrived
			}
		}
		q.sequencedNewest[channel] = f.SIndex
		return []Message{{Reliability: f.Reliability, Payload: payload}}

	case f.Reliability.IsOrdered():
		return q.acceptOrdered(f.Reliability, f.OIndex, payload)

	default:
		return []Message{{Reliability: f.Reliability, Payload: payload}}
	}
}

func (q *Queue) reassemble(f *wire.Frame) ([]byte, bool) {
	g, ok := q.fragments[f.GroupID]
	if !ok {
		g = newFragmentGroup(f.TotalCount)
		q.fragments[f.GroupID] = g
	}
	complete, done := g.add(f.PieceIndex, f.Payload)
	if done {
		delete(q.fragments, f.GroupID)
	}
	return complete, done
}

func (q *Queue) acceptOrdered(r wire.Reliability, oindex uint32, payload []byte) []Message {
	expected := q.orderedNext[channel]
	if wire.U24Less(oindex, expected) {
		return nil // already delivered
	}
	if oindex != expected {
		buf, ok := q.orderedBuffer[channel]
		if !ok {
			buf = make(map[uint32]Message)
			q.orderedBuffer[channel] = buf
		}
		if _, dup := buf[oindex]; !dup {
			buf[oindex] = Message{Reliability: r, Payload: payload}
		}
		return nil
	}

	out := []Message{{Reliability: r, Payload: payload}}
	expected = wire.U24Add(expected, 1)
	buf := q.orderedBuffer[channel]
	for {
		msg, ok := buf[expected]
		if !ok {
			break
		}
		out = append(out, msg)
		delete(buf, expected)
		expected = wire.U24Add(expected, 1)
	}
	q.orderedNext[channel] = expected
	return out
}
