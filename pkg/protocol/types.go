package protocol

// Message types (fits in uint8)
const (
    MsgUnknown uint8 = iota
    MsgCall           // named remote call with argument tuple
    MsgResult         // result or error for a call, matched by correlation
    MsgTaskDone       // completion notice for a long-running task
)

// Flags bitmask (uint32)
const (
    FlagTask uint32 = 1 << 0 // call starts a long-running server-side task
)

// Status codes carried in MsgResult headers.
const (
    StatusOK            uint8 = iota
    StatusRemoteError         // method ran and reported a failure
    StatusUnknownMethod       // method not in the server's operation table
    StatusBadPayload          // arguments could not be decoded
)

// ContentType is optional hint for payload decoding.
// Kept as constants to avoid coupling; not serialized in header.
const (
    ContentUnknown = "application/octet-stream"
    ContentCBOR    = "application/cbor"
    ContentJSON    = "application/json"
    ContentProto   = "application/x-protobuf"
)
