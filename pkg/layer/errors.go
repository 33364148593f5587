package layer

import "errors"

// ErrFragmented marks a handshake message whose fragment bounds do not
// cover the whole message. Reassembly is unsupported; callers drop these.
var ErrFragmented = errors.New("fragmented handshake message")

var (
	errSequenceNumberOverflow   = errors.New("sequence number overflow")
	errBufferTooSmall           = errors.New("buffer too small")
	errUnsupportedVersion       = errors.New("unsupported protocol version")
	errInvalidDTLSType          = errors.New("invalid DTLS type")
	errInvalidHandshakeType     = errors.New("invalid handshake type")
	errCookieTooLong            = errors.New("cookie too long")
	errLengthMismatch           = errors.New("length mismatch")
	errInvalidCompressionMethod = errors.New("invalid compression method")
	errHandshakeMessageUnset    = errors.New("handshake message unset")
	errInvalidChangeCipherSpec  = errors.New("invalid change cipher spec")
)
