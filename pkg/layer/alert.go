package layer

type Level byte

const (
	Warning Level = 1
	Fatal   Level = 2
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "Warning"
	case Fatal:
		return "Fatal"
	default:
		return "Invalid Alert Level"
	}
}

type Description byte

const (
	CloseNotify          Description = 0
	UnexpectedMessage    Description = 10
	BadRecordMac         Description = 20
	DecryptionFailed     Description = 21
	RecordOverflow       Description = 22
	DecompressionFailure Description = 30
	HandshakeFailure     Description = 40
	IllegalParameter     Description = 47
	AccessDenied         Description = 49
	DecodeError          Description = 50
	DecryptError         Description = 51
	ProtocolVersion      Description = 70
	InsufficientSecurity Description = 71
	InternalError        Description = 80
	UserCanceled         Description = 90
	NoRenegotiation      Description = 100
	UnsupportedExtension Description = 110
	UnknownPskIdentity   Description = 115
)

func (d Description) String() string {
	switch d {
	case CloseNotify:
		return "CloseNotify"
	case UnexpectedMessage:
		return "UnexpectedMessage"
	case BadRecordMac:
		return "BadRecordMac"
	case DecryptionFailed:
		return "DecryptionFailed"
	case RecordOverflow:
		return "RecordOverflow"
	case DecompressionFailure:
		return "DecompressionFailure"
	case HandshakeFailure:
		return "HandshakeFailure"
	case IllegalParameter:
		return "IllegalParameter"
	case AccessDenied:
		return "AccessDenied"
	case DecodeError:
		return "DecodeError"
	case DecryptError:
		return "DecryptError"
	case ProtocolVersion:
		return "ProtocolVersion"
	case InsufficientSecurity:
		return "InsufficientSecurity"
	case InternalError:
		return "InternalError"
	case UserCanceled:
		return "UserCanceled"
	case NoRenegotiation:
		return "NoRenegotiation"
	case UnsupportedExtension:
		return "UnsupportedExtension"
	case UnknownPskIdentity:
		return "UnknownPskIdentity"
	default:
		return "Invalid alert description"
	}
}

type Alert struct {
	Level       Level
	Description Description
}

func (a *Alert) Marshal() ([]byte, error) {
	return []byte{byte(a.Level), byte(a.Description)}, nil
}

func (a *Alert) Unmarshal(data []byte) error {
	if len(data) < 2 {
		return errBufferTooSmall
	}

	a.Level = Level(data[0])
	a.Description = Description(data[1])

	return nil
}

func (a *Alert) DTLSType() DTLSType {
	return DTLSTypeAlert
}

func (a *Alert) String() string {
	return "Alert " + a.Level.String() + " " + a.Description.String()
}
