// Package sim exposes the vehicle-simulation API surface: the typed wire
// structures exchanged with a simulator and a client wrapping the RPC
// session, plus a reference in-memory backend.
package sim

import (
    cbor "github.com/fxamacker/cbor/v2"
)

// Wire structures encode as ordered field tuples (CBOR arrays). Field order
// is fixed; reordering requires a protocol version bump.

// Vector3 is a 3D point or direction in the simulator's NED frame.
type Vector3 struct {
    _       struct{} `cbor:",toarray"`
    X, Y, Z float32
}

// Quaternion is a rotation, w first.
type Quaternion struct {
    _          struct{} `cbor:",toarray"`
    W, X, Y, Z float32
}

// Identity returns the no-rotation quaternion.
func Identity() Quaternion { return Quaternion{W: 1} }

// Pose combines position and orientation.
type Pose struct {
    _           struct{} `cbor:",toarray"`
    Position    Vector3
    Orientation Quaternion
}

// GeoPoint is a geographic coordinate; altitude in meters.
type GeoPoint struct {
    _         struct{} `cbor:",toarray"`
    Latitude  float64
    Longitude float64
    Altitude  float32
}

// ImageType selects which render pass a camera capture returns.
type ImageType int

const (
    ImageScene ImageType = iota
    ImageDepthPlanar
    ImageDepthPerspective
    ImageDepthVis
    ImageDisparityNormalized
    ImageSegmentation
    ImageSurfaceNormals
)

// ImageRequest names one camera capture.
type ImageRequest struct {
    _             struct{} `cbor:",toarray"`
    CameraID      int
    ImageType     ImageType
    PixelsAsFloat bool // planar float pixels instead of compressed PNG
    Compress      bool
}

// ImageResponse carries one captured image plus capture metadata.
type ImageResponse struct {
    _                 struct{} `cbor:",toarray"`
    ImageData         Blob
    CameraPosition    Vector3
    CameraOrientation Quaternion
    TimeStamp         uint64 // monotonic nanoseconds
    Message           string
    PixelsAsFloat     bool
    Compress          bool
    Width             int
    Height            int
    ImageType         ImageType
}

// CollisionInfo is the most recent collision record for the vehicle.
type CollisionInfo struct {
    _                struct{} `cbor:",toarray"`
    HasCollided      bool
    Normal           Vector3
    ImpactPoint      Vector3
    Position         Vector3
    PenetrationDepth float32
    TimeStamp        uint64 // monotonic nanoseconds
    ObjectName       string
    ObjectID         int
    CollisionCount   int // cumulative since simulation start
}

// CameraInfo describes a camera's pose and field of view (degrees).
type CameraInfo struct {
    _    struct{} `cbor:",toarray"`
    Pose Pose
    FOV  float32
}

// LogSeverity maps to the simulator's on-screen message levels.
type LogSeverity uint8

const (
    LogDebug LogSeverity = iota
    LogInfo
    LogWarn
    LogError
)

// Blob is a binary payload (e.g. an encoded image) passed through the wire
// codec unmodified, except for one quirk inherited from the reference
// protocol: an empty blob travels as a single placeholder byte, and any
// single-byte blob decodes back to empty. Real single-byte payloads are
// therefore not representable; no image encoding produces one.
type Blob []byte

// MarshalCBOR writes the placeholder byte for empty blobs.
func (b Blob) MarshalCBOR() ([]byte, error) {
    if len(b) == 0 {
        return cbor.Marshal([]byte{0})
    }
    return cbor.Marshal([]byte(b))
}

// UnmarshalCBOR restores single-byte wire blobs to empty.
func (b *Blob) UnmarshalCBOR(data []byte) error {
    var raw []byte
    if err := cbor.Unmarshal(data, &raw); err != nil {
        return err
    }
    if len(raw) == 1 {
        *b = nil
        return nil
    }
    *b = raw
    return nil
}
