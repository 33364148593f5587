package layer

import (
	"github.com/pion/dtls/v2/pkg/protocol"
	"github.com/yly97/dtlscore/pkg/util"
)

type MessageServerHello struct {
	Version           DTLSVersion
	Random            [RandomLength]byte
	SessionID         []byte
	CipherSuite       uint16
	CompressionMethod protocol.CompressionMethod
	Extensions        []byte
}

func (m *MessageServerHello) Marshal() ([]byte, error) {
	w := util.NewWriter()
	w.PutUint16(uint16(m.Version))
	w.PutBytes(m.Random[:])
	if err := w.PutVector(1, m.SessionID); err != nil {
		return nil, err
	}
	w.PutUint16(m.CipherSuite)
	w.PutUint8(byte(m.CompressionMethod.ID))
	if err := w.PutVector(2, m.Extensions); err != nil {
		return nil, err
	}

	return w.Bytes(), nil
}

func (m *MessageServerHello) Unmarshal(data []byte) error {
	r := util.NewReader(data)

	version, err := r.Uint16()
	if err != nil {
		return errBufferTooSmall
	}
	m.Version = DTLSVersion(version)

	random, err := r.Bytes(RandomLength)
	if err != nil {
		return errBufferTooSmall
	}
	copy(m.Random[:], random)

	if m.SessionID, err = r.Vector(1); err != nil {
		return errBufferTooSmall
	}

	if m.CipherSuite, err = r.Uint16(); err != nil {
		return errBufferTooSmall
	}

	compressionID, err := r.Uint8()
	if err != nil {
		return errBufferTooSmall
	}
	if method, ok := protocol.CompressionMethods()[protocol.CompressionMethodID(compressionID)]; ok {
		m.CompressionMethod = *method
	} else {
		return errInvalidCompressionMethod
	}

	if r.Remaining() == 0 {
		m.Extensions = nil
		return nil
	}
	if m.Extensions, err = r.Vector(2); err != nil {
		return errBufferTooSmall
	}

	return nil
}

func (m *MessageServerHello) MessageType() MessageType {
	return TypeServerHello
}
