package dtls

import (
	"crypto/sha256"
	"hash"
)

// transcript is the running hash over handshake messages, header
// included, in protocol order. HelloVerifyRequest never enters it and the
// client resets it after the cookie round so only the post-cookie
// ClientHello is covered.
type transcript struct {
	hash hash.Hash
}

func newTranscript() *transcript {
	return &transcript{hash: sha256.New()}
}

func (t *transcript) update(data []byte) {
	t.hash.Write(data)
}

func (t *transcript) reset() {
	t.hash.Reset()
}

func (t *transcript) sum() []byte {
	return t.hash.Sum(nil)
}
