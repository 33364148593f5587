package dtls

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"time"

	"github.com/pion/dtls/v2/pkg/protocol"
	log "github.com/sirupsen/logrus"
	"github.com/yly97/dtlscore/pkg/layer"
	"github.com/yly97/dtlscore/pkg/util"
)

const (
	cookieSecretLength = 12
	// CookieLength is the size of hello-verify cookies this server emits.
	CookieLength = 16
)

// cookieJar keys the stateless hello-verify exchange. Cookies are never
// stored; each ClientHello is checked by recomputing the MAC. The secret
// rotates after the configured period and the superseded secret stays
// valid for one further period so peers mid-exchange are not cut off.
type cookieJar struct {
	rotation   time.Duration
	secret     [cookieSecretLength]byte
	prevSecret [cookieSecretLength]byte
	hasPrev    bool
	born       time.Time
}

func newCookieJar(rotation time.Duration, now time.Time) (*cookieJar, error) {
	j := &cookieJar{rotation: rotation, born: now}
	if _, err := rand.Read(j.secret[:]); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *cookieJar) rotate(now time.Time) {
	if now.Sub(j.born) <= j.rotation {
		return
	}
	j.prevSecret = j.secret
	j.hasPrev = true
	if _, err := rand.Read(j.secret[:]); err != nil {
		// keep the old secret rather than serve an undefined one
		j.secret = j.prevSecret
		log.Errorf("cookie secret rotation failed: %v", err)
		return
	}
	j.born = now
	log.Debug("cookie secret rotated")
}

func (j *cookieJar) generate(session Session, hello *layer.MessageClientHello) []byte {
	return j.mac(&j.secret, session, hello)
}

func (j *cookieJar) verify(session Session, hello *layer.MessageClientHello, now time.Time) bool {
	if len(hello.Cookie) != CookieLength {
		return false
	}
	if hmac.Equal(hello.Cookie, j.mac(&j.secret, session, hello)) {
		return true
	}
	if j.hasPrev && now.Sub(j.born) <= j.rotation {
		return hmac.Equal(hello.Cookie, j.mac(&j.prevSecret, session, hello))
	}
	return false
}

// mac binds the cookie to the client address and the offered hello
// parameters: addr || client_random || version || cipher_suites ||
// compression_methods, truncated to CookieLength.
func (j *cookieJar) mac(secret *[cookieSecretLength]byte, session Session, hello *layer.MessageClientHello) []byte {
	w := util.NewWriter()
	w.PutBytes(session.marshalBinary())
	w.PutBytes(hello.Random[:])
	w.PutUint16(uint16(hello.Version))
	for _, suite := range hello.CipherSuites {
		w.PutUint16(suite)
	}
	w.PutBytes(protocol.EncodeCompressionMethods(hello.CompressionMethods))

	mac := hmac.New(sha256.New, secret[:])
	mac.Write(w.Bytes())
	return mac.Sum(nil)[:CookieLength]
}
