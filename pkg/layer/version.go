package layer

// DTLSVersion is the on-wire protocol version: the one's complement of
// the major and minor version numbers, so DTLS 1.2 is 0xfefd.
type DTLSVersion uint16

const (
	Version1_0 DTLSVersion = 0xfeff
	Version1_2 DTLSVersion = 0xfefd
)

func (v DTLSVersion) String() string {
	switch v {
	case Version1_0:
		return "DTLS 1.0"
	case Version1_2:
		return "DTLS 1.2"
	default:
		return "Unknown Version"
	}
}
