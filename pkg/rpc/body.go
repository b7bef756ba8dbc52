package rpc

// On-wire bodies for MsgCall/MsgResult/MsgTaskDone envelopes. Each is an
// ordered field tuple (CBOR array); field order is part of the protocol and
// never reordered without a protocol version bump. Arguments and result
// values are individually encoded with the session codec so the tuple layout
// stays format-agnostic.

type callBody struct {
    _      struct{} `cbor:",toarray"`
    Method string   `json:"method"`
    Args   [][]byte `json:"args,omitempty"`
}

type resultBody struct {
    _      struct{} `cbor:",toarray"`
    TaskID string   `json:"task_id,omitempty"`
    Value  []byte   `json:"value,omitempty"`
    Error  string   `json:"error,omitempty"`
}

type taskDoneBody struct {
    _       struct{} `cbor:",toarray"`
    TaskID  string   `json:"task_id"`
    Outcome uint8    `json:"outcome"`
    Error   string   `json:"error,omitempty"`
}
