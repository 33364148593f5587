package dtls

import (
	"time"

	"github.com/yly97/dtlscore/pkg/layer"
)

// flightEntry is one record of a buffered flight, kept as plaintext so a
// retransmission reuses message_seq and epoch but draws fresh record
// sequence numbers.
type flightEntry struct {
	contentType layer.DTLSType
	epoch       uint16
	payload     []byte
}

// flight is the last outbound handshake flight together with its
// retransmission schedule.
type flight struct {
	entries  []flightEntry
	sendTime time.Time
	interval time.Duration
	attempts int
}

func changeCipherSpecEntry(epoch uint16) flightEntry {
	return flightEntry{
		contentType: layer.DTLSTypeChangeCipherSpec,
		epoch:       epoch,
		payload:     []byte{0x01},
	}
}
