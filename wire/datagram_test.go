package wire

import (
	"bytes"
	"testing"
)

func TestDatagramEncodeDecode(t *testing.T) {
	d := &Datagram{
		Sequence: 0x010203,
		Frames: []*Frame{
			{Reliability: Unreliable, Payload: []byte{1, 2}},
			{Reliability: Reliable, MIndex: 5, Payload: []byte{3, 4, 5}},
		},
	}
	data := d.Encode()
	if data[0] != DataDatagramID {
		t.Fatalf("flag byte = 0x%02x, want 0x%02x", data[0], DataDatagramID)
	}

	got, err := DecodeDatagram(data)
	if err != nil {
		t.Fatalf("DecodeDatagram() = %v", err)
	}
	if got.Sequence != d.Sequence {
		t.Fatalf("Sequence = 0x%06x, want 0x%06x", got.Sequence, d.Sequence)
	}
	if len(got.Frames) != 2 {
		t.Fatalf("len(Frames) = %d, want 2", len(got.Frames))
	}
	if !bytes.Equal(got.Frames[1].Payload, []byte{3, 4, 5}) || got.Frames[1].MIndex != 5 {
		t.Fatalf("Frames[1] = %+v", got.Frames[1])
	}
}

func TestAckEncodeDecodeSingleRange(t *testing.T) {
	ranges := []AckRange{{Min: 5, Max: 5}}
	data := EncodeAck(ranges)
	if data[0] != AckID {
		t.Fatalf("id byte = 0x%02x, want 0x%02x", data[0], AckID)
	}
	// 1 (id) + 2 (count) + 1 (max_equals_min) + 3 (min) = 7 bytes
	if len(data) != 7 {
		t.Fatalf("len(data) = %d, want 7", len(data))
	}

	got, err := DecodeAck(data)
	if err != nil {
		t.Fatalf("DecodeAck() = %v", err)
	}
	if len(got) != 1 || got[0] != ranges[0] {
		t.Fatalf("DecodeAck() = %+v, want %+v", got, ranges)
	}
}

func TestAckEncodeDecodeMultipleRanges(t *testing.T) {
	ranges := []AckRange{{Min: 0, Max: 3}, {Min: 6, Max: 9}}
	data := EncodeNack(ranges)
	if data[0] != NackID {
		t.Fatalf("id byte = 0x%02x, want 0x%02x", data[0], NackID)
	}
	got, err := DecodeNack(data)
	if err != nil {
		t.Fatalf("DecodeNack() = %v", err)
	}
	if len(got) != 2 || got[0] != ranges[0] || got[1] != ranges[1] {
		t.Fatalf("DecodeNack() = %+v, want %+v", got, ranges)
	}
}

func TestDecodeAckWrongID(t *testing.T) {
	data := EncodeNack([]AckRange{{Min: 1, Max: 1}})
	if _, err := DecodeAck(data); err == nil {
		t.Fatal("DecodeAck() on a NACK packet = nil error, want ErrInvalidData")
	}
}
