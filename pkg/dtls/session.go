package dtls

import (
	"net/netip"
	"strconv"

	"github.com/yly97/dtlscore/pkg/util"
)

// Session identifies a remote endpoint: transport address plus the local
// interface the datagrams arrive on. Sessions are comparable values and
// key the peer registry directly; they are copied into peers and never
// mutated afterwards.
type Session struct {
	Addr    netip.AddrPort
	Ifindex int
}

func NewSession(addr netip.AddrPort) Session {
	return Session{Addr: addr}
}

func (s Session) String() string {
	if s.Ifindex == 0 {
		return s.Addr.String()
	}
	return s.Addr.String() + "%" + strconv.Itoa(s.Ifindex)
}

// marshalBinary returns the canonical byte form used as MAC input by the
// cookie service.
func (s Session) marshalBinary() []byte {
	addr := s.Addr.Addr().As16()
	w := util.NewWriter()
	w.PutBytes(addr[:])
	w.PutUint16(s.Addr.Port())
	w.PutUint32(uint32(s.Ifindex))
	return w.Bytes()
}
