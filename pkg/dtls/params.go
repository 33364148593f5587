package dtls

import "github.com/yly97/dtlscore/pkg/ciphersuite"

// securityParams is one parameter-set slot: the suite, the epoch its
// keys belong to, the master secret and the initialised record cipher.
// A peer holds two slots; the pending one is written only by the
// handshake and becomes current at ChangeCipherSpec.
type securityParams struct {
	suite        uint16
	epoch        uint16
	masterSecret []byte
	cipher       *ciphersuite.TLSPskWithAes128Ccm8
}

func (sp *securityParams) initialized() bool {
	return sp != nil && sp.cipher != nil && sp.cipher.IsInitialized()
}

// zeroize scrubs the slot's key material. Called on peer destruction, on
// fatal paths and when a superseded slot is retired.
func (sp *securityParams) zeroize() {
	if sp == nil {
		return
	}
	for i := range sp.masterSecret {
		sp.masterSecret[i] = 0
	}
	sp.masterSecret = nil
	sp.cipher = nil
}
