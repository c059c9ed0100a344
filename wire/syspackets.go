package wire

import (
	"fmt"
	"net"
)

// Packet IDs for offline (pre-session) and connected system packets. Every
// system packet is prefixed by one of these on the wire; Encode/Decode below
// add and strip it.
const (
	IDConnectedPing               = 0x00
	IDUnconnectedPing             = 0x01
	IDConnectedPong               = 0x03
	IDOpenConnectionRequest1      = 0x05
	IDOpenConnectionReply1        = 0x06
	IDOpenConnectionRequest2      = 0x07
	IDOpenConnectionReply2        = 0x08
	IDConnectionRequest           = 0x09
	IDConnectionRequestAccepted   = 0x10
	IDNewIncomingConnections      = 0x13
	IDDisconnectionNotification   = 0x15
	IDIncompatibleProtocolVersion = 0x19
	IDUnconnectedPong             = 0x1C
)

func expectID(r *Reader, want byte) error {
	got, err := r.ReadUint8()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("wire: %w: expected packet id 0x%02x, got 0x%02x", ErrInvalidData, want, got)
	}
	return nil
}

// UnconnectedPing is the client's discovery probe.
type UnconnectedPing struct {
	Time uint64
	GUID uint64
}

func (p *UnconnectedPing) Encode() []byte {
	w := NewWriter(32)
	w.WriteUint8(IDUnconnectedPing)
	w.WriteUint64(p.Time)
	w.WriteMagic()
	w.WriteUint64(p.GUID)
	return w.Bytes()
}

func DecodeUnconnectedPing(data []byte) (*UnconnectedPing, error) {
	r := NewReader(data)
	if err := expectID(r, IDUnconnectedPing); err != nil {
		return nil, err
	}
	p := &UnconnectedPing{}
	var err error
	if p.Time, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	if err = r.ReadMagic(); err != nil {
		return nil, err
	}
	if p.GUID, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	return p, nil
}

// UnconnectedPong answers an UnconnectedPing with the server's MOTD.
type UnconnectedPong struct {
	Time uint64
	GUID uint64
	MOTD string
}

func (p *UnconnectedPong) Encode() []byte {
	w := NewWriter(48 + len(p.MOTD))
	w.WriteUint8(IDUnconnectedPong)
	w.WriteUint64(p.Time)
	w.WriteUint64(p.GUID)
	w.WriteMagic()
	w.WriteString(p.MOTD)
	return w.Bytes()
}

func DecodeUnconnectedPong(data []byte) (*UnconnectedPong, error) {
	r := NewReader(data)
	if err := expectID(r, IDUnconnectedPong); err != nil {
		return nil, err
	}
	p := &UnconnectedPong{}
	var err error
	if p.Time, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	if p.GUID, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	if err = r.ReadMagic(); err != nil {
		return nil, err
	}
	if p.MOTD, err = r.ReadString(); err != nil {
		return nil, err
	}
	return p, nil
}

// OpenConnectionRequest1 carries an MTU probe: the client pads the packet so
// that its total size implies the requested MTU.
type OpenConnectionRequest1 struct {
	ProtocolVersion uint8
	MTU             uint16
}

func (p *OpenConnectionRequest1) Encode() []byte {
	w := NewWriter(int(p.MTU))
	w.WriteUint8(IDOpenConnectionRequest1)
	w.WriteMagic()
	w.WriteUint8(p.ProtocolVersion)
	padLen := int(p.MTU) - 50 // 32 (UDP header) + 18 (preamble: id+magic+protocol)
	if padLen > 0 {
		w.WritePad(padLen)
	}
	return w.Bytes()
}

func DecodeOpenConnectionRequest1(data []byte) (*OpenConnectionRequest1, error) {
	r := NewReader(data)
	if err := expectID(r, IDOpenConnectionRequest1); err != nil {
		return nil, err
	}
	if err := r.ReadMagic(); err != nil {
		return nil, err
	}
	protocolVersion, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	return &OpenConnectionRequest1{
		ProtocolVersion: protocolVersion,
		MTU:             uint16(len(data) + UDPHeaderLen),
	}, nil
}

// OpenConnectionReply1 is the server's answer, offering the clamped MTU.
type OpenConnectionReply1 struct {
	GUID          uint64
	UseEncryption bool
	MTU           uint16
}

func (p *OpenConnectionReply1) Encode() []byte {
	w := NewWriter(32)
	w.WriteUint8(IDOpenConnectionReply1)
	w.WriteMagic()
	w.WriteUint64(p.GUID)
	w.WriteBool(p.UseEncryption)
	w.WriteUint16(p.MTU)
	return w.Bytes()
}

func DecodeOpenConnectionReply1(data []byte) (*OpenConnectionReply1, error) {
	r := NewReader(data)
	if err := expectID(r, IDOpenConnectionReply1); err != nil {
		return nil, err
	}
	p := &OpenConnectionReply1{}
	if err := r.ReadMagic(); err != nil {
		return nil, err
	}
	var err error
	if p.GUID, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	if p.UseEncryption, err = r.ReadBool(); err != nil {
		return nil, err
	}
	if p.MTU, err = r.ReadUint16(); err != nil {
		return nil, err
	}
	return p, nil
}

// OpenConnectionRequest2 completes the handshake's first phase, naming the
// server address the client resolved and the MTU it settled on.
type OpenConnectionRequest2 struct {
	ServerAddr *net.UDPAddr
	MTU        uint16
	GUID       uint64
}

func (p *OpenConnectionRequest2) Encode() ([]byte, error) {
	w := NewWriter(32)
	w.WriteUint8(IDOpenConnectionRequest2)
	w.WriteMagic()
	if err := w.WriteSocketAddr(p.ServerAddr); err != nil {
		return nil, err
	}
	w.WriteUint16(p.MTU)
	w.WriteUint64(p.GUID)
	return w.Bytes(), nil
}

func DecodeOpenConnectionRequest2(data []byte) (*OpenConnectionRequest2, error) {
	r := NewReader(data)
	if err := expectID(r, IDOpenConnectionRequest2); err != nil {
		return nil, err
	}
	p := &OpenConnectionRequest2{}
	if err := r.ReadMagic(); err != nil {
		return nil, err
	}
	var err error
	if p.ServerAddr, err = r.ReadSocketAddr(); err != nil {
		return nil, err
	}
	if p.MTU, err = r.ReadUint16(); err != nil {
		return nil, err
	}
	if p.GUID, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	return p, nil
}

// OpenConnectionReply2 admits the session; a connection is created on a
// successful exchange of this packet.
type OpenConnectionReply2 struct {
	GUID          uint64
	ClientAddr    *net.UDPAddr
	MTU           uint16
	UseEncryption bool
}

func (p *OpenConnectionReply2) Encode() ([]byte, error) {
	w := NewWriter(32)
	w.WriteUint8(IDOpenConnectionReply2)
	w.WriteMagic()
	w.WriteUint64(p.GUID)
	if err := w.WriteSocketAddr(p.ClientAddr); err != nil {
		return nil, err
	}
	w.WriteUint16(p.MTU)
	w.WriteBool(p.UseEncryption)
	return w.Bytes(), nil
}

func DecodeOpenConnectionReply2(data []byte) (*OpenConnectionReply2, error) {
	r := NewReader(data)
	if err := expectID(r, IDOpenConnectionReply2); err != nil {
		return nil, err
	}
	p := &OpenConnectionReply2{}
	if err := r.ReadMagic(); err != nil {
		return nil, err
	}
	var err error
	if p.GUID, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	if p.ClientAddr, err = r.ReadSocketAddr(); err != nil {
		return nil, err
	}
	if p.MTU, err = r.ReadUint16(); err != nil {
		return nil, err
	}
	if p.UseEncryption, err = r.ReadBool(); err != nil {
		return nil, err
	}
	return p, nil
}

// IncompatibleProtocolVersion is sent instead of OpenConnectionReply1 when
// the client's protocol version doesn't match the server's.
type IncompatibleProtocolVersion struct {
	ServerProtocol uint8
	ServerGUID     uint64
}

func (p *IncompatibleProtocolVersion) Encode() []byte {
	w := NewWriter(32)
	w.WriteUint8(IDIncompatibleProtocolVersion)
	w.WriteUint8(p.ServerProtocol)
	w.WriteMagic()
	w.WriteUint64(p.ServerGUID)
	return w.Bytes()
}

func DecodeIncompatibleProtocolVersion(data []byte) (*IncompatibleProtocolVersion, error) {
	r := NewReader(data)
	if err := expectID(r, IDIncompatibleProtocolVersion); err != nil {
		return nil, err
	}
	p := &IncompatibleProtocolVersion{}
	var err error
	if p.ServerProtocol, err = r.ReadUint8(); err != nil {
		return nil, err
	}
	if err = r.ReadMagic(); err != nil {
		return nil, err
	}
	if p.ServerGUID, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	return p, nil
}

// ConnectedPing is sent periodically over an established session to measure
// round-trip time and keep it alive.
type ConnectedPing struct {
	ClientTimestamp uint64
}

func (p *ConnectedPing) Encode() []byte {
	w := NewWriter(9)
	w.WriteUint8(IDConnectedPing)
	w.WriteUint64(p.ClientTimestamp)
	return w.Bytes()
}

func DecodeConnectedPing(data []byte) (*ConnectedPing, error) {
	r := NewReader(data)
	if err := expectID(r, IDConnectedPing); err != nil {
		return nil, err
	}
	p := &ConnectedPing{}
	var err error
	if p.ClientTimestamp, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	return p, nil
}

// ConnectedPong answers a ConnectedPing.
type ConnectedPong struct {
	ClientTimestamp uint64
	ServerTimestamp uint64
}

func (p *ConnectedPong) Encode() []byte {
	w := NewWriter(17)
	w.WriteUint8(IDConnectedPong)
	w.WriteUint64(p.ClientTimestamp)
	w.WriteUint64(p.ServerTimestamp)
	return w.Bytes()
}

func DecodeConnectedPong(data []byte) (*ConnectedPong, error) {
	r := NewReader(data)
	if err := expectID(r, IDConnectedPong); err != nil {
		return nil, err
	}
	p := &ConnectedPong{}
	var err error
	if p.ClientTimestamp, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	if p.ServerTimestamp, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	return p, nil
}

// ConnectionRequest is the first packet sent over the session proper, by
// the client, requesting admission.
type ConnectionRequest struct {
	GUID          uint64
	Time          uint64
	UseEncryption bool
}

func (p *ConnectionRequest) Encode() []byte {
	w := NewWriter(18)
	w.WriteUint8(IDConnectionRequest)
	w.WriteUint64(p.GUID)
	w.WriteUint64(p.Time)
	w.WriteBool(p.UseEncryption)
	return w.Bytes()
}

func DecodeConnectionRequest(data []byte) (*ConnectionRequest, error) {
	r := NewReader(data)
	if err := expectID(r, IDConnectionRequest); err != nil {
		return nil, err
	}
	p := &ConnectionRequest{}
	var err error
	if p.GUID, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	if p.Time, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	if p.UseEncryption, err = r.ReadBool(); err != nil {
		return nil, err
	}
	return p, nil
}

// connectionRequestAcceptedPadLen is the number of 0x06 filler bytes placed
// after the address(es) in ConnectionRequestAccepted / NewIncomingConnections.
const connectionRequestAcceptedPadLen = 10

// ConnectionRequestAccepted admits the client into the Connected state.
type ConnectionRequestAccepted struct {
	ClientAddr      *net.UDPAddr
	SystemIndex     uint16
	RequestTime     uint64
	AcceptTimestamp uint64
}

func (p *ConnectionRequestAccepted) Encode() ([]byte, error) {
	w := NewWriter(48)
	w.WriteUint8(IDConnectionRequestAccepted)
	if err := w.WriteSocketAddr(p.ClientAddr); err != nil {
		return nil, err
	}
	w.WriteUint16(p.SystemIndex)
	w.WritePadByte(connectionRequestAcceptedPadLen, 0x06)
	w.WriteUint64(p.RequestTime)
	w.WriteUint64(p.AcceptTimestamp)
	return w.Bytes(), nil
}

func DecodeConnectionRequestAccepted(data []byte) (*ConnectionRequestAccepted, error) {
	r := NewReader(data)
	if err := expectID(r, IDConnectionRequestAccepted); err != nil {
		return nil, err
	}
	p := &ConnectionRequestAccepted{}
	var err error
	if p.ClientAddr, err = r.ReadSocketAddr(); err != nil {
		return nil, err
	}
	if p.SystemIndex, err = r.ReadUint16(); err != nil {
		return nil, err
	}
	if err = r.Seek(len(data) - 16); err != nil {
		return nil, err
	}
	if p.RequestTime, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	if p.AcceptTimestamp, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewIncomingConnections completes the handshake, sent by the client once
// it has processed ConnectionRequestAccepted.
type NewIncomingConnections struct {
	ServerAddr      *net.UDPAddr
	RequestTime     uint64
	AcceptTimestamp uint64
}

func (p *NewIncomingConnections) Encode() ([]byte, error) {
	w := NewWriter(40)
	w.WriteUint8(IDNewIncomingConnections)
	if err := w.WriteSocketAddr(p.ServerAddr); err != nil {
		return nil, err
	}
	w.WritePadByte(connectionRequestAcceptedPadLen, 0x06)
	w.WriteUint64(p.RequestTime)
	w.WriteUint64(p.AcceptTimestamp)
	return w.Bytes(), nil
}

func DecodeNewIncomingConnections(data []byte) (*NewIncomingConnections, error) {
	r := NewReader(data)
	if err := expectID(r, IDNewIncomingConnections); err != nil {
		return nil, err
	}
	p := &NewIncomingConnections{}
	var err error
	if p.ServerAddr, err = r.ReadSocketAddr(); err != nil {
		return nil, err
	}
	if err = r.Seek(len(data) - 16); err != nil {
		return nil, err
	}
	if p.RequestTime, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	if p.AcceptTimestamp, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	return p, nil
}

// DisconnectionNotification carries no fields beyond its ID.
type DisconnectionNotification struct{}

func (p *DisconnectionNotification) Encode() []byte {
	return []byte{IDDisconnectionNotification}
}

func DecodeDisconnectionNotification(data []byte) (*DisconnectionNotification, error) {
	r := NewReader(data)
	if err := expectID(r, IDDisconnectionNotification); err != nil {
		return nil, err
	}
	return &DisconnectionNotification{}, nil
}
