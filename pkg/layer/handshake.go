package layer

import (
	"encoding/binary"

	"github.com/yly97/dtlscore/pkg/util"
)

const HandshakeHeaderSize = 12

// HandshakeHeader
type HandshakeHeader struct {
	MessageType     MessageType
	MessageLength   uint32 // uint24
	MessageSequence uint16
	FragmentOffset  uint32 // uint24
	FragmentLength  uint32 // uint24
}

func (h *HandshakeHeader) Marshal() ([]byte, error) {
	out := make([]byte, HandshakeHeaderSize)
	out[0] = byte(h.MessageType)
	util.BigEndian.PutUint24(out[1:], h.MessageLength)
	binary.BigEndian.PutUint16(out[4:], h.MessageSequence)
	util.BigEndian.PutUint24(out[6:], h.FragmentOffset)
	util.BigEndian.PutUint24(out[9:], h.FragmentLength)

	return out, nil
}

func (h *HandshakeHeader) Unmarshal(data []byte) error {
	if len(data) < HandshakeHeaderSize {
		return errBufferTooSmall
	}

	h.MessageType = MessageType(data[0])
	h.MessageLength = util.BigEndian.Uint24(data[1:])
	h.MessageSequence = binary.BigEndian.Uint16(data[4:])
	h.FragmentOffset = util.BigEndian.Uint24(data[6:])
	h.FragmentLength = util.BigEndian.Uint24(data[9:])

	return nil
}

// Handshake is one handshake message with its header. Fragmented messages
// are rejected on both marshal and unmarshal; every message must fit one
// record.
type Handshake struct {
	Header  HandshakeHeader
	Message Message
}

func (h *Handshake) Marshal() ([]byte, error) {
	if h.Message == nil {
		return nil, errHandshakeMessageUnset
	} else if h.Header.FragmentOffset != 0 {
		return nil, ErrFragmented
	}

	message, err := h.Message.Marshal()
	if err != nil {
		return nil, err
	}

	h.Header.MessageType = h.Message.MessageType()
	h.Header.MessageLength = uint32(len(message))
	h.Header.FragmentLength = h.Header.MessageLength
	header, err := h.Header.Marshal()
	if err != nil {
		return nil, err
	}
	return append(header, message...), nil
}

func (h *Handshake) Unmarshal(data []byte) error {
	if err := h.Header.Unmarshal(data); err != nil {
		return err
	}

	if h.Header.FragmentOffset != 0 || h.Header.FragmentLength != h.Header.MessageLength {
		return ErrFragmented
	}
	if uint32(len(data)-HandshakeHeaderSize) != h.Header.MessageLength {
		return errLengthMismatch
	}

	switch h.Header.MessageType {
	case TypeClientHello:
		h.Message = &MessageClientHello{}
	case TypeServerHello:
		h.Message = &MessageServerHello{}
	case TypeHelloVerifyRequest:
		h.Message = &MessageHelloVerifyRequest{}
	case TypeServerHelloDone:
		h.Message = &MessageServerHelloDone{}
	case TypeClientKeyExchange:
		h.Message = &MessageClientKeyExchange{}
	case TypeFinished:
		h.Message = &MessageFinished{}
	default:
		return errInvalidHandshakeType
	}

	return h.Message.Unmarshal(data[HandshakeHeaderSize:])
}

func (h *Handshake) DTLSType() DTLSType {
	return DTLSTypeHandshake
}
