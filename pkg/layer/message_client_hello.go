package layer

import (
	"github.com/pion/dtls/v2/pkg/protocol"
	"github.com/yly97/dtlscore/pkg/util"
)

const (
	RandomLength    = 32
	MaxCookieLength = 32
)

type MessageClientHello struct {
	Version            DTLSVersion
	Random             [RandomLength]byte
	SessionID          []byte
	Cookie             []byte
	CipherSuites       []uint16
	CompressionMethods []*protocol.CompressionMethod
	Extensions         []byte
}

func (m *MessageClientHello) Marshal() ([]byte, error) {
	if len(m.Cookie) > MaxCookieLength {
		return nil, errCookieTooLong
	}

	w := util.NewWriter()
	w.PutUint16(uint16(m.Version))
	w.PutBytes(m.Random[:])
	if err := w.PutVector(1, m.SessionID); err != nil {
		return nil, err
	}
	if err := w.PutVector(1, m.Cookie); err != nil {
		return nil, err
	}
	w.PutBytes(encodeCipherSuiteIDs(m.CipherSuites))
	w.PutBytes(protocol.EncodeCompressionMethods(m.CompressionMethods))
	if err := w.PutVector(2, m.Extensions); err != nil {
		return nil, err
	}

	return w.Bytes(), nil
}

func (m *MessageClientHello) Unmarshal(data []byte) error {
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
	if m.Cookie, err = r.Vector(1); err != nil {
		return errBufferTooSmall
	}
	if len(m.Cookie) > MaxCookieLength {
		return errCookieTooLong
	}

	suites, err := decodeCipherSuiteIDs(data[r.Offset():])
	if err != nil {
		return err
	}
	m.CipherSuites = suites
	if err = r.Skip(2 + 2*len(suites)); err != nil {
		return errBufferTooSmall
	}

	compressionMethods, err := protocol.DecodeCompressionMethods(data[r.Offset():])
	if err != nil {
		return errInvalidCompressionMethod
	}
	m.CompressionMethods = compressionMethods
	if err = r.Skip(1 + len(compressionMethods)); err != nil {
		return errBufferTooSmall
	}

	// Extensions are carried opaque; absence of the vector is tolerated.
	if r.Remaining() == 0 {
		m.Extensions = nil
		return nil
	}
	if m.Extensions, err = r.Vector(2); err != nil {
		return errBufferTooSmall
	}

	return nil
}

func (m *MessageClientHello) MessageType() MessageType {
	return TypeClientHello
}
