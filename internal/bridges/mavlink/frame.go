package mavlink

import (
	"encoding/binary"
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// MAVLink wire format constants.
const (
	// magicV1 is the start-of-frame marker for MAVLink v1.
	magicV1 = 0xFE

	// magicV2 is the start-of-frame marker for MAVLink v2.
	magicV2 = 0xFD

	// headerLenV1 is the v1 header size: magic, len, seq, sysid, compid, msgid.
	headerLenV1 = 6

	// headerLenV2 is the v2 header size: magic, len, incompat, compat, seq,
	// sysid, compid, msgid (3 bytes).
	headerLenV2 = 10

	// checksumLen is the trailing CRC size for both versions.
	checksumLen = 2

	// signatureLen is the v2 signature block size (link ID + timestamp + sig).
	signatureLen = 13

	// incompatFlagSigned marks a signed v2 frame.
	incompatFlagSigned = 0x01
)

// Version identifies the MAVLink wire protocol version of a packet.
type Version int

// Protocol versions.
const (
	V1 Version = 1
	V2 Version = 2
)

func (v Version) String() string {
	if v == V1 {
		return "v1"
	}
	return "v2"
}

// Packet is a parsed view over raw MAVLink wire bytes.
//
// Raw is never mutated after parsing; all other fields are read-only views
// derived from it. Used for raw-frame injection via MQTT and for header
// inspection without a full dialect decode.
type Packet struct {
	Raw           []byte
	Version       Version
	PayloadLen    uint8
	Seq           uint8
	SystemID      uint8
	ComponentID   uint8
	MessageID     uint32
	IncompatFlags uint8
	CompatFlags   uint8
	Signed        bool
}

// ParsePacket validates a raw MAVLink v1 or v2 frame and extracts its header.
//
// The buffer must contain exactly one complete frame. Truncated, oversized,
// or unrecognized buffers return an error wrapping ErrFrameParse.
//
// Parameters:
//   - raw: Complete wire frame including magic byte and checksum
//
// Returns:
//   - *Packet: Parsed header view over raw
//   - error: Wrapping ErrFrameParse if the buffer is not a valid frame
func ParsePacket(raw []byte) (*Packet, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrFrameParse)
	}

	switch raw[0] {
	case magicV1:
		return parseV1(raw)
	case magicV2:
		return parseV2(raw)
	default:
		return nil, fmt.Errorf("%w: bad magic byte 0x%02X", ErrFrameParse, raw[0])
	}
}

func parseV1(raw []byte) (*Packet, error) {
	if len(raw) < headerLenV1+checksumLen {
		return nil, fmt.Errorf("%w: v1 frame too short (%d bytes)", ErrFrameParse, len(raw))
	}

	p := &Packet{
		Raw:         raw,
		Version:     V1,
		PayloadLen:  raw[1],
		Seq:         raw[2],
		SystemID:    raw[3],
		ComponentID: raw[4],
		MessageID:   uint32(raw[5]),
	}

	if len(raw) != p.TotalLen() {
		return nil, fmt.Errorf("%w: v1 length mismatch: have %d bytes, header declares %d",
			ErrFrameParse, len(raw), p.TotalLen())
	}

	return p, nil
}

func parseV2(raw []byte) (*Packet, error) {
	if len(raw) < headerLenV2+checksumLen {
		return nil, fmt.Errorf("%w: v2 frame too short (%d bytes)", ErrFrameParse, len(raw))
	}

	p := &Packet{
		Raw:           raw,
		Version:       V2,
		PayloadLen:    raw[1],
		IncompatFlags: raw[2],
		CompatFlags:   raw[3],
		Seq:           raw[4],
		SystemID:      raw[5],
		ComponentID:   raw[6],
		MessageID:     uint32(raw[7]) | uint32(raw[8])<<8 | uint32(raw[9])<<16,
		Signed:        raw[2]&incompatFlagSigned != 0,
	}

	if len(raw) != p.TotalLen() {
		return nil, fmt.Errorf("%w: v2 length mismatch: have %d bytes, header declares %d",
			ErrFrameParse, len(raw), p.TotalLen())
	}

	return p, nil
}

// TotalLen returns the complete frame length the header declares, including
// magic, header, payload, checksum, and signature when present.
func (p *Packet) TotalLen() int {
	switch p.Version {
	case V1:
		return headerLenV1 + int(p.PayloadLen) + checksumLen
	default:
		n := headerLenV2 + int(p.PayloadLen) + checksumLen
		if p.Signed {
			n += signatureLen
		}
		return n
	}
}

// Payload returns the message payload bytes (a sub-slice of Raw).
func (p *Packet) Payload() []byte {
	if p.Version == V1 {
		return p.Raw[headerLenV1 : headerLenV1+int(p.PayloadLen)]
	}
	return p.Raw[headerLenV2 : headerLenV2+int(p.PayloadLen)]
}

// Checksum returns the frame CRC (little-endian, located after the payload).
func (p *Packet) Checksum() uint16 {
	var off int
	if p.Version == V1 {
		off = headerLenV1 + int(p.PayloadLen)
	} else {
		off = headerLenV2 + int(p.PayloadLen)
	}
	return binary.LittleEndian.Uint16(p.Raw[off : off+checksumLen])
}

// ToFrame converts the packet into a gomavlib frame carrying the payload as
// an opaque message. The checksum is recomputed by the node on write, so a
// truncated-but-valid source frame re-encodes correctly.
//
// Returns:
//   - frame.Frame: V1Frame or V2Frame matching the packet's version
func (p *Packet) ToFrame() frame.Frame {
	msg := &message.MessageRaw{
		ID:      p.MessageID,
		Payload: p.Payload(),
	}

	if p.Version == V1 {
		return &frame.V1Frame{
			SequenceNumber: p.Seq,
			SystemID:       p.SystemID,
			ComponentID:    p.ComponentID,
			Message:        msg,
			Checksum:       p.Checksum(),
		}
	}

	return &frame.V2Frame{
		IncompatibilityFlag: p.IncompatFlags &^ incompatFlagSigned,
		CompatibilityFlag:   p.CompatFlags,
		SequenceNumber:      p.Seq,
		SystemID:            p.SystemID,
		ComponentID:         p.ComponentID,
		Message:             msg,
		Checksum:            p.Checksum(),
	}
}
