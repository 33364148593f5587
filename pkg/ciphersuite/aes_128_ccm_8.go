// Package ciphersuite implements record protection for
// TLS_PSK_WITH_AES_128_CCM_8 (RFC 6655) on DTLS records.
package ciphersuite

import (
	"crypto/aes"
	"encoding/binary"
	"errors"

	"github.com/pion/dtls/v2/pkg/crypto/ccm"
	"github.com/yly97/dtlscore/pkg/layer"
	"github.com/yly97/dtlscore/pkg/prf"
	"github.com/yly97/dtlscore/pkg/util"
)

const (
	keyLength           = 16
	ivLength            = 4
	tagLength           = 8
	nonceLength         = 12
	explicitNonceLength = 8
)

var (
	errNotInitialized  = errors.New("cipher suite not initialized")
	errPayloadTooShort = errors.New("ciphertext shorter than nonce and tag")
	errDecryptFailed   = errors.New("authentication tag mismatch")
)

// TLSPskWithAes128Ccm8 seals and opens whole marshalled records. Init
// derives the traffic keys for both write directions; Encrypt uses the
// local direction, Decrypt the remote one.
type TLSPskWithAes128Ccm8 struct {
	localCCM, remoteCCM         ccm.CCM
	localWriteIV, remoteWriteIV []byte
}

func (c *TLSPskWithAes128Ccm8) ID() uint16 {
	return layer.CipherSuitePSKWithAES128CCM8
}

func (c *TLSPskWithAes128Ccm8) IsInitialized() bool {
	return c.localCCM != nil && c.remoteCCM != nil
}

func (c *TLSPskWithAes128Ccm8) Init(masterSecret, clientRandom, serverRandom []byte, isClient bool) error {
	keys := prf.GenerateKeyBlock(masterSecret, clientRandom, serverRandom, keyLength, ivLength)

	localKey, localIV := keys.ClientWriteKey, keys.ClientWriteIV
	remoteKey, remoteIV := keys.ServerWriteKey, keys.ServerWriteIV
	if !isClient {
		localKey, remoteKey = remoteKey, localKey
		localIV, remoteIV = remoteIV, localIV
	}

	localBlock, err := aes.NewCipher(localKey)
	if err != nil {
		return err
	}
	remoteBlock, err := aes.NewCipher(remoteKey)
	if err != nil {
		return err
	}

	if c.localCCM, err = ccm.NewCCM(localBlock, tagLength, nonceLength); err != nil {
		return err
	}
	if c.remoteCCM, err = ccm.NewCCM(remoteBlock, tagLength, nonceLength); err != nil {
		return err
	}
	c.localWriteIV = localIV
	c.remoteWriteIV = remoteIV

	return nil
}

// Encrypt seals a marshalled plaintext record. The returned record keeps
// the header, its payload becomes explicit_nonce || ciphertext || tag and
// the length field is updated.
func (c *TLSPskWithAes128Ccm8) Encrypt(h *layer.RecordHeader, raw []byte) ([]byte, error) {
	if !c.IsInitialized() {
		return nil, errNotInitialized
	}

	payload := raw[layer.RecordHeaderSize:]
	nonce := append(append([]byte{}, c.localWriteIV...), raw[3:11]...)
	sealed := c.localCCM.Seal(nil, nonce, payload, additionalData(h, len(payload)))

	out := make([]byte, 0, layer.RecordHeaderSize+explicitNonceLength+len(sealed))
	out = append(out, raw[:layer.RecordHeaderSize]...)
	out = append(out, raw[3:11]...)
	out = append(out, sealed...)
	binary.BigEndian.PutUint16(out[11:], uint16(len(out)-layer.RecordHeaderSize))

	return out, nil
}

// Decrypt opens a sealed record and returns the marshalled plaintext
// record. Tag mismatch yields errDecryptFailed without further detail.
func (c *TLSPskWithAes128Ccm8) Decrypt(raw []byte) ([]byte, error) {
	if !c.IsInitialized() {
		return nil, errNotInitialized
	}

	h := &layer.RecordHeader{}
	if err := h.Unmarshal(raw); err != nil {
		return nil, err
	}

	payload := raw[layer.RecordHeaderSize:]
	if len(payload) < explicitNonceLength+tagLength {
		return nil, errPayloadTooShort
	}

	nonce := append(append([]byte{}, c.remoteWriteIV...), payload[:explicitNonceLength]...)
	plainLength := len(payload) - explicitNonceLength - tagLength

	plain, err := c.remoteCCM.Open(nil, nonce, payload[explicitNonceLength:], additionalData(h, plainLength))
	if err != nil {
		return nil, errDecryptFailed
	}

	out := make([]byte, 0, layer.RecordHeaderSize+len(plain))
	out = append(out, raw[:layer.RecordHeaderSize]...)
	out = append(out, plain...)
	binary.BigEndian.PutUint16(out[11:], uint16(len(plain)))

	return out, nil
}

// additionalData is the TLS 1.2 AEAD associated data:
// seq_num(8) || type(1) || version(2) || plaintext length(2), where
// seq_num is the epoch concatenated with the 48-bit record sequence.
func additionalData(h *layer.RecordHeader, payloadLength int) []byte {
	out := make([]byte, 13)
	binary.BigEndian.PutUint16(out, h.Epoch)
	util.BigEndian.PutUint48(out[2:], h.SequenceNumber)
	out[8] = byte(h.ContentType)
	binary.BigEndian.PutUint16(out[9:], uint16(h.Version))
	binary.BigEndian.PutUint16(out[11:], uint16(payloadLength))
	return out
}
