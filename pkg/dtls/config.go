package dtls

import (
	"time"

	"github.com/yly97/dtlscore/pkg/layer"
)

// Config carries the engine knobs. The zero value of every field selects
// a default, so Config{} is a working configuration.
type Config struct {
	// Version is the protocol version offered and required on the wire.
	Version layer.DTLSVersion

	// MTU bounds the application data records Write seals: payload plus
	// record overhead must fit. Handshake flights and alerts are not
	// checked against it.
	MTU int

	// CookieRotation is the lifetime of the hello-verify cookie secret.
	// A superseded secret stays acceptable for one further period.
	CookieRotation time.Duration

	// Retransmission backoff for handshake flights: initial interval,
	// doubling up to the maximum, for at most RetransmitAttempts tries.
	RetransmitInitial  time.Duration
	RetransmitMax      time.Duration
	RetransmitAttempts int

	// IdleTimeout evicts peers with no verified traffic. Zero disables
	// eviction.
	IdleTimeout time.Duration

	// MaxPeers bounds the registry. Zero means unbounded.
	MaxPeers int

	// Clock is the time source; tests inject their own.
	Clock func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Version == 0 {
		c.Version = layer.Version1_2
	}
	if c.MTU == 0 {
		c.MTU = 1400
	}
	if c.CookieRotation == 0 {
		c.CookieRotation = time.Hour
	}
	if c.RetransmitInitial == 0 {
		c.RetransmitInitial = time.Second
	}
	if c.RetransmitMax == 0 {
		c.RetransmitMax = 60 * time.Second
	}
	if c.RetransmitAttempts == 0 {
		c.RetransmitAttempts = 7
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}
