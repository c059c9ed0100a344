package wire

import "fmt"

// FragmentFlag marks bit 0x10 of a frame's flag byte: this frame is one
// piece of a fragmented application write.
const FragmentFlag = 0x10

// Frame is one logical application message, or one fragment of one, with
// its reliability header. Indices are populated only for the reliability
// classes that use them: MIndex for reliable frames, SIndex for sequenced
// frames, and OIndex (plus the one-byte order-channel padding RakNet
// always sends alongside it) for ReliableOrdered frames only.
type Frame struct {
	Reliability Reliability
	MIndex      uint32
	SIndex      uint32
	OIndex      uint32

	Fragment   bool
	TotalCount uint32
	GroupID    uint16
	PieceIndex uint32

	Payload []byte
}

// HeaderSize returns the encoded size in bytes of a frame header (flag byte
// through the optional fragment header, excluding the payload) for the
// given reliability and fragment-ness.
func HeaderSize(r Reliability, fragment bool) int {
	size := 1 + 2 // flag byte + length-in-bits
	if r.IsReliable() {
		size += 3
	}
	if r.IsSequenced() {
		size += 3
	}
	if r == ReliableOrdered {
		size += 3 + 1 // order index + order-channel padding byte
	}
	if fragment {
		size += 4 + 2 + 4 // total_count, group_id, piece_index
	}
	return size
}

// Encode appends the frame's header and payload to w.
func (f *Frame) Encode(w *Writer) {
	flag := byte(f.Reliability) << 5
	if f.Fragment {
		flag |= FragmentFlag
	}
	w.WriteUint8(flag)
	w.WriteUint16(uint16(len(f.Payload)) * 8)

	if f.Reliability.IsReliable() {
		w.WriteUint24LE(f.MIndex)
	}
	if f.Reliability.IsSequenced() {
		w.WriteUint24LE(f.SIndex)
	}
	if f.Reliability == ReliableOrdered {
		w.WriteUint24LE(f.OIndex)
		w.WriteUint8(0) // order-channel padding byte; single channel only
	}
	if f.Fragment {
		w.WriteUint32(f.TotalCount)
		w.WriteUint16(f.GroupID)
		w.WriteUint32(f.PieceIndex)
	}
	w.WriteBytes(f.Payload)
}

// DecodeFrame reads one frame from r. It returns ErrInvalidData if the
// reliability discriminant is out of range.
func DecodeFrame(r *Reader) (*Frame, error) {
	flagByte, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	f := &Frame{
		Reliability: Reliability(flagByte >> 5),
		Fragment:    flagByte&FragmentFlag != 0,
	}
	if !f.Reliability.Valid() {
		return nil, fmt.Errorf("wire: %w: reliability discriminant %d out of range", ErrInvalidData, f.Reliability)
	}

	lengthBits, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	payloadLen := int(lengthBits) / 8

	if f.Reliability.IsReliable() {
		if f.MIndex, err = r.ReadUint24LE(); err != nil {
			return nil, err
		}
	}
	if f.Reliability.IsSequenced() {
		if f.SIndex, err = r.ReadUint24LE(); err != nil {
			return nil, err
		}
	}
	if f.Reliability == ReliableOrdered {
		if f.OIndex, err = r.ReadUint24LE(); err != nil {
			return nil, err
		}
		if err = r.Skip(1); err != nil { // order-channel padding byte
			return nil, err
		}
	}
	if f.Fragment {
		if f.TotalCount, err = r.ReadUint32(); err != nil {
			return nil, err
		}
		if f.GroupID, err = r.ReadUint16(); err != nil {
			return nil, err
		}
		if f.PieceIndex, err = r.ReadUint32(); err != nil {
			return nil, err
		}
	}

	f.Payload, err = r.ReadBytes(payloadLen)
	if err != nil {
		return nil, err
	}
	return f, nil
}
