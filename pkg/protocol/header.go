package protocol

import (
    "encoding/binary"
    "errors"
)

// Fixed header layout (32 bytes) for fast parsing over any channel.
// All integer fields are little-endian.
//
//  0  ..1   Magic   'S''L' (0x534c)
//  2        Version u8
//  3        Type    u8
//  4  ..7   Flags   u32
//  8        Status  u8
//  9        Reserved u8
//  10 ..13  PayloadLen u32
//  14 ..29  CorrelationID [16]byte
//  30 ..31  Reserved2 u16
const (
    headerSize = 32
    magicWord  = uint16(0x534c) // 'S''L'
)

// Version is the wire protocol revision carried in every header.
// Bump whenever the field order of any body type changes.
const Version = 1

// Header describes metadata for an envelope.
type Header struct {
    Version     uint8
    Type        uint8
    Flags       uint32
    Status      uint8
    PayloadLen  uint32
    Correlation [16]byte
}

// MarshalBinary encodes header to a 32-byte buffer.
func (h *Header) MarshalBinary() ([]byte, error) {
    buf := make([]byte, headerSize)
    binary.LittleEndian.PutUint16(buf[0:2], magicWord)
    buf[2] = h.Version
    buf[3] = h.Type
    binary.LittleEndian.PutUint32(buf[4:8], h.Flags)
    buf[8] = h.Status
    // buf[9] reserved
    binary.LittleEndian.PutUint32(buf[10:14], h.PayloadLen)
    copy(buf[14:30], h.Correlation[:])
    // 30..31 reserved2 stays zero
    return buf, nil
}

// UnmarshalBinary decodes header from a 32-byte buffer.
func (h *Header) UnmarshalBinary(buf []byte) error {
    if len(buf) < headerSize {
        return errors.New("short header")
    }
    if binary.LittleEndian.Uint16(buf[0:2]) != magicWord {
        return errors.New("bad magic")
    }
    h.Version = buf[2]
    h.Type = buf[3]
    h.Flags = binary.LittleEndian.Uint32(buf[4:8])
    h.Status = buf[8]
    h.PayloadLen = binary.LittleEndian.Uint32(buf[10:14])
    copy(h.Correlation[:], buf[14:30])
    return nil
}
