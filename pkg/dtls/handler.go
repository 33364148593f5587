package dtls

import "github.com/yly97/dtlscore/pkg/layer"

// Engine event codes passed to the Event callback with level 0. Values
// below 256 are alert descriptions.
const (
	EventConnected        uint16 = 256
	EventHandshakeTimeout uint16 = 257
)

// Key is a pre-shared key together with the identity it is filed under.
type Key struct {
	Identity []byte
	Value    []byte
}

// Handler is the capability record binding the engine to its application.
// All callbacks run synchronously on the caller's stack inside an engine
// entry point and must not re-enter the Context.
//
// Write transmits one datagram towards the session's address and returns
// the number of bytes sent, negative on error; short writes are not
// retried. Read delivers verified application plaintext. Event reports
// alerts (level > 0, code < 256) and engine events (level 0, code >= 256);
// a nil Event is ignored. GetKey resolves pre-shared keys: with id == nil
// it must return the local identity/key pair to present, otherwise the
// key filed under id, or an error when there is none.
type Handler struct {
	Write  func(ctx *Context, session Session, data []byte) int
	Read   func(ctx *Context, session Session, data []byte)
	Event  func(ctx *Context, session Session, level layer.Level, code uint16)
	GetKey func(ctx *Context, session Session, id []byte) (*Key, error)
}
