// Package prf implements the TLS 1.2 pseudo-random function (RFC 5246
// §5) over HMAC-SHA-256 and the key-schedule derivations the PSK suites
// need from it.
package prf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

const (
	MasterSecretLength = 48
	VerifyDataLength   = 12

	masterSecretLabel   = "master secret"
	keyExpansionLabel   = "key expansion"
	clientFinishedLabel = "client finished"
	serverFinishedLabel = "server finished"
)

func hmacSHA256(key []byte, data ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, d := range data {
		mac.Write(d)
	}
	return mac.Sum(nil)
}

// pHash is the P_SHA256 expansion: successive HMACs over an iterated
// seed, truncated to the requested length.
func pHash(secret, seed []byte, requestedLength int) []byte {
	var out []byte
	a := hmacSHA256(secret, seed)
	for len(out) < requestedLength {
		out = append(out, hmacSHA256(secret, a, seed)...)
		a = hmacSHA256(secret, a)
	}
	return out[:requestedLength]
}

// PRF computes PRF(secret, label, seed) truncated to requestedLength.
func PRF(secret []byte, label string, seed []byte, requestedLength int) []byte {
	labeledSeed := append([]byte(label), seed...)
	return pHash(secret, labeledSeed, requestedLength)
}

// PSKPreMasterSecret builds the RFC 4279 premaster secret for a plain PSK
// exchange: uint16(N) || N zero octets || uint16(N) || psk.
func PSKPreMasterSecret(psk []byte) []byte {
	n := len(psk)
	out := make([]byte, 2+n+2, 2+n+2+n)
	binary.BigEndian.PutUint16(out, uint16(n))
	binary.BigEndian.PutUint16(out[2+n:], uint16(n))
	return append(out, psk...)
}

// MasterSecret derives the 48-byte master secret.
func MasterSecret(preMasterSecret, clientRandom, serverRandom []byte) []byte {
	seed := append(append([]byte{}, clientRandom...), serverRandom...)
	return PRF(preMasterSecret, masterSecretLabel, seed, MasterSecretLength)
}

// KeyBlock holds the expanded traffic keys for one connection. The AEAD
// suites carry no MAC keys, so the block starts at the write keys.
type KeyBlock struct {
	ClientWriteKey []byte
	ServerWriteKey []byte
	ClientWriteIV  []byte
	ServerWriteIV  []byte
}

// GenerateKeyBlock expands the master secret into traffic keys. Note the
// seed order: server random before client random.
func GenerateKeyBlock(masterSecret, clientRandom, serverRandom []byte, keyLength, ivLength int) *KeyBlock {
	seed := append(append([]byte{}, serverRandom...), clientRandom...)
	material := PRF(masterSecret, keyExpansionLabel, seed, 2*keyLength+2*ivLength)

	kb := &KeyBlock{}
	kb.ClientWriteKey, material = material[:keyLength], material[keyLength:]
	kb.ServerWriteKey, material = material[:keyLength], material[keyLength:]
	kb.ClientWriteIV, material = material[:ivLength], material[ivLength:]
	kb.ServerWriteIV = material[:ivLength]
	return kb
}

// VerifyDataClient computes the client Finished verify_data over the
// SHA-256 transcript hash.
func VerifyDataClient(masterSecret, transcriptHash []byte) []byte {
	return PRF(masterSecret, clientFinishedLabel, transcriptHash, VerifyDataLength)
}

// VerifyDataServer computes the server Finished verify_data.
func VerifyDataServer(masterSecret, transcriptHash []byte) []byte {
	return PRF(masterSecret, serverFinishedLabel, transcriptHash, VerifyDataLength)
}
