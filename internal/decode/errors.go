package decode

import "fmt"

// DecodeError reports a malformed or schema-incompatible frame. It
// carries the raw frame length and the byte offset at which decoding
// failed so the failure can be correlated with captured frames.
type DecodeError struct {
	FrameLen int    // Total length of the rejected frame
	Offset   int    // Byte offset of the failure
	Reason   string // Human-readable cause
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes) at offset %d: %s", e.FrameLen, e.Offset, e.Reason)
}
