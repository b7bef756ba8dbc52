package codec

import (
    cbor "github.com/fxamacker/cbor/v2"
)

var (
    cborEnc cbor.EncMode
    cborDec cbor.DecMode
)

func init() {
    var err error
    cborEnc, err = cbor.CanonicalEncOptions().EncMode()
    if err != nil { panic(err) }
    cborDec, err = cbor.DecOptions{}.DecMode()
    if err != nil { panic(err) }
}

type cborCodec struct{}

// CBOR returns a deterministic CBOR codec (RFC 8949, canonical profile).
// Same input value always yields the same bytes.
func CBOR() Codec { return cborCodec{} }

func (cborCodec) ContentType() string { return "application/cbor" }
func (cborCodec) Marshal(v any) ([]byte, error) { return cborEnc.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return cborDec.Unmarshal(data, v) }
