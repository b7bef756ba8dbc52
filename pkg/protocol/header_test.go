package protocol

import (
    "bytes"
    "testing"
)

func TestHeaderRoundTrip(t *testing.T) {
    h := Header{
        Version:    Version,
        Type:       MsgCall,
        Flags:      FlagTask,
        Status:     StatusOK,
        PayloadLen: 1234,
    }
    copy(h.Correlation[:], []byte("0123456789abcdef"))

    b, err := h.MarshalBinary()
    if err != nil {
        t.Fatalf("marshal: %v", err)
    }
    if len(b) != headerSize {
        t.Fatalf("header size = %d, want %d", len(b), headerSize)
    }

    var got Header
    if err := got.UnmarshalBinary(b); err != nil {
        t.Fatalf("unmarshal: %v", err)
    }
    if got != h {
        t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
    }
}

func TestHeaderBadMagic(t *testing.T) {
    h := Header{Version: Version, Type: MsgResult}
    b, _ := h.MarshalBinary()
    b[0] = 0xff
    var got Header
    if err := got.UnmarshalBinary(b); err == nil {
        t.Fatal("expected error for corrupted magic")
    }
}

func TestHeaderShortBuffer(t *testing.T) {
    var got Header
    if err := got.UnmarshalBinary(bytes.Repeat([]byte{0}, headerSize-1)); err == nil {
        t.Fatal("expected error for short buffer")
    }
}
