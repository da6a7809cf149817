// Package transport implements the RAOP wire layer: the RTP-derived
// packet formats carried over the session's UDP ports and a minimal UDP
// transport used to send them.
//
// Packet layouts follow the AirPlay audio protocol byte for byte. All
// fields are serialized explicitly in network byte order; no native
// struct layout or alignment is relied on.
//
// Example:
//
//	pkt := transport.NewSyncPacket(seq, now, rtpTime, latency, first)
//	err = udp.Send(pkt.Marshal(), controlAddr)
package transport

import (
	"encoding/binary"
	"errors"

	"github.com/pion/rtp"

	"github.com/opd-ai/raop/timing"
)

// RTP payload types used by RAOP streams.
const (
	// PayloadTypeAudio carries an audio chunk on the audio port.
	PayloadTypeAudio = 0x60
	// PayloadTypeSync carries a time synchronization packet on the
	// control port.
	PayloadTypeSync = 0x54
	// PayloadTypeRange is the retransmit request type on the control
	// port.
	PayloadTypeRange = 0x55
)

const (
	headerSize     = 4
	syncPacketSize = headerSize + 4 + 8 + 4
)

// ErrPacketTooShort indicates a buffer smaller than the fixed layout.
var ErrPacketTooShort = errors.New("packet too short")

// Header is the 4-byte prefix common to every RAOP packet:
// protocol/version byte, payload type byte, 16-bit sequence number.
type Header struct {
	Proto    uint8
	Type     uint8
	Sequence uint16
}

// Marshal serializes the header into a fresh 4-byte slice.
func (h *Header) Marshal() []byte {
	buf := make([]byte, headerSize)
	buf[0] = h.Proto
	buf[1] = h.Type
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	return buf
}

// ParseHeader reads the common header from the front of a packet.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < headerSize {
		return nil, ErrPacketTooShort
	}
	return &Header{
		Proto:    data[0],
		Type:     data[1],
		Sequence: binary.BigEndian.Uint16(data[2:4]),
	}, nil
}

// SyncPacket binds the receiver's render clock to the sender's wall
// clock. It is sent on the control port once per second and immediately
// after a stream (re)starts.
//
// Layout: header, latency-adjusted RTP timestamp (4), NTP time (8),
// current RTP timestamp (4).
type SyncPacket struct {
	Header
	// RTPTimestampLatency is the RTP timestamp the receiver should be
	// rendering right now: the current timestamp minus the latency.
	RTPTimestampLatency timing.Timestamp
	// CurrentTime is the sender's NTP time matching RTPTimestamp.
	CurrentTime timing.NtpTime
	// RTPTimestamp is the sample timestamp being written now.
	RTPTimestamp timing.Timestamp
}

// NewSyncPacket builds a sync packet. The first packet after a flush is
// flagged in the protocol byte so the receiver re-anchors its clock
// instead of slewing toward it.
func NewSyncPacket(seq uint16, now timing.NtpTime, rtpTime, latency timing.Timestamp, first bool) *SyncPacket {
	proto := uint8(0x80)
	if first {
		proto |= 0x10
	}
	return &SyncPacket{
		Header: Header{
			Proto:    proto,
			Type:     PayloadTypeSync | 0x80,
			Sequence: seq,
		},
		RTPTimestampLatency: rtpTime - latency,
		CurrentTime:         now,
		RTPTimestamp:        rtpTime,
	}
}

// Marshal serializes the sync packet in network byte order.
func (p *SyncPacket) Marshal() []byte {
	buf := make([]byte, syncPacketSize)
	copy(buf, p.Header.Marshal())
	binary.BigEndian.PutUint32(buf[4:8], uint32(p.RTPTimestampLatency))
	binary.BigEndian.PutUint64(buf[8:16], uint64(p.CurrentTime))
	binary.BigEndian.PutUint32(buf[16:20], uint32(p.RTPTimestamp))
	return buf
}

// ParseSyncPacket decodes a sync packet from the wire.
func ParseSyncPacket(data []byte) (*SyncPacket, error) {
	if len(data) < syncPacketSize {
		return nil, ErrPacketTooShort
	}
	hdr, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	return &SyncPacket{
		Header:              *hdr,
		RTPTimestampLatency: timing.Timestamp(binary.BigEndian.Uint32(data[4:8])),
		CurrentTime:         timing.NtpTime(binary.BigEndian.Uint64(data[8:16])),
		RTPTimestamp:        timing.Timestamp(binary.BigEndian.Uint32(data[16:20])),
	}, nil
}

// NewAudioPacket builds an RTP audio packet carrying one chunk of
// samples. The audio layout (timestamp then SSRC after the common header)
// is exactly RFC 3550, so the packet is assembled and marshaled with
// pion/rtp rather than by hand.
//
// The marker bit is set on the first packet after a flush, telling the
// receiver this packet anchors a new timeline.
func NewAudioPacket(seq uint16, ts timing.Timestamp, ssrc uint32, payload []byte, first bool) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         first,
			PayloadType:    PayloadTypeAudio,
			SequenceNumber: seq,
			Timestamp:      uint32(ts),
			SSRC:           ssrc,
		},
		Payload: payload,
	}
}
