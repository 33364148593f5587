package layer

import "github.com/yly97/dtlscore/pkg/util"

// MessageClientKeyExchange carries the PSK identity the client elected to
// use (RFC 4279 §2).
type MessageClientKeyExchange struct {
	Identity []byte
}

func (m *MessageClientKeyExchange) Marshal() ([]byte, error) {
	w := util.NewWriter()
	if err := w.PutVector(2, m.Identity); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (m *MessageClientKeyExchange) Unmarshal(data []byte) error {
	r := util.NewReader(data)
	identity, err := r.Vector(2)
	if err != nil {
		return errBufferTooSmall
	}
	m.Identity = identity
	return nil
}

func (m *MessageClientKeyExchange) MessageType() MessageType {
	return TypeClientKeyExchange
}
