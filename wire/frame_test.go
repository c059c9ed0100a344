package wire

import (
	"bytes"
	"testing"
)

func TestFrameEncodeDecodeReliableOrdered(t *testing.T) {
	f := &Frame{
		Reliability: ReliableOrdered,
		MIndex:      100,
		OIndex:      7,
		Payload:     []byte{0xaa, 0xbb, 0xcc},
	}
	w := NewWriter(0)
	f.Encode(w)

	if got, want := w.Len(), HeaderSize(ReliableOrdered, false)+len(f.Payload); got != want {
		t.Fatalf("encoded length = %d, want %d", got, want)
	}

	got, err := DecodeFrame(NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("DecodeFrame() = %v", err)
	}
	if got.Reliability != f.Reliability || got.MIndex != f.MIndex || got.OIndex != f.OIndex {
		t.Fatalf("decoded = %+v, want %+v", got, f)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("decoded payload = %x, want %x", got.Payload, f.Payload)
	}
}

func TestFrameEncodeDecodeFragment(t *testing.T) {
	f := &Frame{
		Reliability: Reliable,
		MIndex:      42,
		Fragment:    true,
		TotalCount:  3,
		GroupID:     9,
		PieceIndex:  1,
		Payload:     []byte{1, 2, 3, 4},
	}
	w := NewWriter(0)
	f.Encode(w)

	got, err := DecodeFrame(NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("DecodeFrame() = %v", err)
	}
	if !got.Fragment || got.TotalCount != 3 || got.GroupID != 9 || got.PieceIndex != 1 {
		t.Fatalf("decoded fragment header = %+v", got)
	}
}

func TestFrameEncodeDecodeUnreliable(t *testing.T) {
	f := &Frame{Reliability: Unreliable, Payload: []byte{9, 9}}
	w := NewWriter(0)
	f.Encode(w)
	if w.Len() != HeaderSize(Unreliable, false)+2 {
		t.Fatalf("encoded length = %d, want %d", w.Len(), HeaderSize(Unreliable, false)+2)
	}
	got, err := DecodeFrame(NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("DecodeFrame() = %v", err)
	}
	if got.MIndex != 0 || got.OIndex != 0 || got.SIndex != 0 {
		t.Fatalf("unreliable frame decoded non-zero indices: %+v", got)
	}
}

func TestDecodeFrameInvalidReliability(t *testing.T) {
	w := NewWriter(0)
	w.WriteUint8(7 << 5) // reliability discriminant 7 is out of range
	w.WriteUint16(0)
	if _, err := DecodeFrame(NewReader(w.Bytes())); err == nil {
		t.Fatal("DecodeFrame() with reliability 7 = nil error, want ErrInvalidData")
	}
}

func TestHeaderSize(t *testing.T) {
	cases := []struct {
		r        Reliability
		fragment bool
		want     int
	}{
		{Unreliable, false, 3},
		{Reliable, false, 6},
		{UnreliableSequenced, false, 6},
		{ReliableSequenced, false, 9},
		{ReliableOrdered, false, 10},
		{ReliableOrdered, true, 20},
	}
	for _, c := range cases {
		if got := HeaderSize(c.r, c.fragment); got != c.want {
			t.Errorf("HeaderSize(%v, %v) = %d, want %d", c.r, c.fragment, got, c.want)
		}
	}
}
