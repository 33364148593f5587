package layer

// MessageType values follow the TLS HandshakeType registry.
type MessageType uint8

const (
	TypeHelloRequest       MessageType = 0
	TypeClientHello        MessageType = 1
	TypeServerHello        MessageType = 2
	TypeHelloVerifyRequest MessageType = 3
	TypeServerHelloDone    MessageType = 14
	TypeClientKeyExchange  MessageType = 16
	TypeFinished           MessageType = 20
)

func (t MessageType) String() string {
	switch t {
	case TypeHelloRequest:
		return "HelloRequest"
	case TypeClientHello:
		return "ClientHello"
	case TypeServerHello:
		return "ServerHello"
	case TypeHelloVerifyRequest:
		return "HelloVerifyRequest"
	case TypeServerHelloDone:
		return "ServerHelloDone"
	case TypeClientKeyExchange:
		return "ClientKeyExchange"
	case TypeFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

type Message interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
	MessageType() MessageType
}
