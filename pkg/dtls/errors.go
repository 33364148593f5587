package dtls

import (
	"errors"
	"fmt"

	"github.com/yly97/dtlscore/pkg/layer"
)

// API misuse and resource errors surfaced to the application.
var (
	ErrContextClosed     = errors.New("dtls: context closed")
	ErrUnknownPeer       = errors.New("dtls: unknown peer")
	ErrNotConnected      = errors.New("dtls: peer not connected")
	ErrRecordTooLarge    = errors.New("dtls: record exceeds MTU")
	ErrResourceExhausted = errors.New("dtls: peer table full")
)

var (
	errEmptyDatagram        = errors.New("empty datagram")
	errVersionMismatch      = errors.New("protocol version mismatch")
	errUnexpectedHandshake  = errors.New("unexpected handshake message")
	errUnexpectedCipherSpec = errors.New("change cipher spec without pending keys")
	errBadCipherSuite       = errors.New("cipher suite not offered or not supported")
	errVerifyDataMismatch   = errors.New("finished verification failed")
	errUnknownIdentity      = errors.New("no key for presented identity")
	errMissingKeyCallback   = errors.New("no key callback configured")
	errSequenceExhausted    = errors.New("record sequence space exhausted")
	errNoCipherForEpoch     = errors.New("no cipher state for epoch")
	errDecryptRecord        = errors.New("record decryption failed")
	errDecodeRecord         = errors.New("protected record malformed")
)

// AlertError couples a failure with the alert that reports it on the
// wire. Record and handshake processing return it; the peer teardown path
// sends the alert, raises the event and destroys the peer.
type AlertError struct {
	Alert layer.Alert
	err   error
}

func wrapAlertError(alert layer.Alert, err error) *AlertError {
	return &AlertError{Alert: alert, err: err}
}

func fatalAlert(description layer.Description, err error) *AlertError {
	return wrapAlertError(layer.Alert{Level: layer.Fatal, Description: description}, err)
}

func (e *AlertError) Error() string {
	return fmt.Sprintf("%s: %v", e.Alert.String(), e.err)
}

func (e *AlertError) Unwrap() error {
	return e.err
}
