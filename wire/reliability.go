package wire

import "fmt"

// Reliability selects the per-frame delivery guarantee.
type Reliability uint8

const (
	Unreliable          Reliability = 0
	UnreliableSequenced Reliability = 1
	Reliable            Reliability = 2
	ReliableOrdered     Reliability = 3
	ReliableSequenced   Reliability = 4
)

// Valid reports whether r is one of the five defined reliability tags.
func (r Reliability) Valid() bool { return r <= ReliableSequenced }

// IsReliable reports whether frames of this reliability consume a
// retransmission-tracked mindex.
func (r Reliability) IsReliable() bool {
	return r == Reliable || r == ReliableOrdered || r == ReliableSequenced
}

// IsSequenced reports whether frames of this reliability consume a sindex
// and are subject to newest-wins delivery.
func (r Reliability) IsSequenced() bool {
	return r == UnreliableSequenced || r == ReliableSequenced
}

// IsOrdered reports whether r is ReliableOrdered or one of the two
// sequenced classes. Only ReliableOrdered frames carry an oindex and join
// the single monotone oindex delivery stream; sequenced frames carry an
// sindex and are delivered newest-wins.
func (r Reliability) IsOrdered() bool {
	return r == ReliableOrdered || r.IsSequenced()
}

func (r Reliability) String() string {
	switch r {
	case Unreliable:
		return "Unreliable"
	case UnreliableSequenced:
		return "UnreliableSequenced"
	case Reliable:
		return "Reliable"
	case ReliableOrdered:
		return "ReliableOrdered"
	case ReliableSequenced:
		return "ReliableSequenced"
	default:
		return fmt.Sprintf("Reliability(%d)", uint8(r))
	}
}

// UpgradeForFragment returns the reliability a fragmented send must use:
// fragmented traffic must be recoverable, so Unreliable and
// UnreliableSequenced are promoted to their reliable counterparts.
func (r Reliability) UpgradeForFragment() Reliability {
	switch r {
	case Unreliable:
		return Reliable
	case UnreliableSequenced:
		return ReliableSequenced
	default:
		return r
	}
}

// U24Mask is the modulus 24-bit counters (mindex, sindex, oindex, sequence,
// fragment piece indices where applicable) wrap at.
const U24Mask = 1 << 24

// U24Less compares two 24-bit counters modulo 2^24 using the conventional
// half-window rule: a is "less than" b if advancing a by less than half the
// counter space reaches b.
func U24Less(a, b uint32) bool {
	a &= U24Mask - 1
	b &= U24Mask - 1
	diff := (b - a) & (U24Mask - 1)
	return diff != 0 && diff < U24Mask/2
}

// U24Add adds delta to a 24-bit counter with wraparound.
func U24Add(a uint32, delta uint32) uint32 {
	return (a + delta) & (U24Mask - 1)
}
