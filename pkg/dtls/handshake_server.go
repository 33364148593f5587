package dtls

import (
	"crypto/hmac"
	"crypto/rand"

	"github.com/pion/dtls/v2/pkg/protocol"
	log "github.com/sirupsen/logrus"
	"github.com/yly97/dtlscore/pkg/layer"
	"github.com/yly97/dtlscore/pkg/prf"
)

// serverAccept creates the peer for a ClientHello whose cookie verified
// and answers with the ServerHello flight. rawHandshake is the hello with
// its handshake header, the first transcript entry.
func (c *Context) serverAccept(session Session, hello *layer.MessageClientHello, rawHandshake []byte, messageSeq uint16) {
	now := c.now()
	peer := newPeer(session, roleServer, now)
	// the stateless round consumed handshake seq 0 and record seq 0
	peer.hs.sendSequence = 1
	peer.hs.recvSequence = messageSeq + 1
	peer.sendSequence[0] = 1
	peer.hs.clientRandom = hello.Random
	peer.hs.cookie = append([]byte{}, hello.Cookie...)
	if _, err := rand.Read(peer.hs.serverRandom[:]); err != nil {
		log.Errorf("no entropy for server random: %v", err)
		return
	}

	c.peers[session] = peer
	peer.hs.transcript.update(rawHandshake)
	log.Debugf("[handshake] %s: accepted ClientHello, sending ServerHello", session)

	serverHello := &layer.MessageServerHello{
		Version:           c.config.Version,
		Random:            peer.hs.serverRandom,
		CipherSuite:       layer.CipherSuitePSKWithAES128CCM8,
		CompressionMethod: protocol.CompressionMethod{},
	}
	helloEntry, err := peer.buildHandshakeEntry(serverHello, 0)
	if err != nil {
		c.destroyPeer(peer)
		return
	}
	doneEntry, err := peer.buildHandshakeEntry(&layer.MessageServerHelloDone{}, 0)
	if err != nil {
		c.destroyPeer(peer)
		return
	}

	peer.state = StateServerHello
	if err := peer.sendFlight(c, []flightEntry{helloEntry, doneEntry}); err != nil {
		peer.shutdownWithAlert(c, fatalAlert(layer.InternalError, err))
	}
}

func (p *Peer) serverProcess(c *Context, raw []byte, handshake *layer.Handshake) error {
	switch msg := handshake.Message.(type) {
	case *layer.MessageClientKeyExchange:
		if p.state != StateServerHello {
			return fatalAlert(layer.UnexpectedMessage, errUnexpectedHandshake)
		}
		return p.serverHandleClientKeyExchange(c, raw, msg)
	case *layer.MessageFinished:
		if p.state != StateWaitFinished {
			return fatalAlert(layer.UnexpectedMessage, errUnexpectedHandshake)
		}
		return p.serverHandleFinished(c, raw, msg)
	default:
		return fatalAlert(layer.UnexpectedMessage, errUnexpectedHandshake)
	}
}

func (p *Peer) serverHandleClientKeyExchange(c *Context, raw []byte, msg *layer.MessageClientKeyExchange) error {
	key, err := c.getKey(p.session, msg.Identity)
	if err != nil || key == nil {
		return fatalAlert(layer.UnknownPskIdentity, errUnknownIdentity)
	}
	p.hs.identity = append([]byte{}, msg.Identity...)
	p.hs.transcript.update(raw)

	if err := p.initPendingParams(key.Value); err != nil {
		return fatalAlert(layer.InternalError, err)
	}
	p.state = StateKeyExchange
	return nil
}

// serverHandleFinished verifies the client Finished and answers with the
// final ChangeCipherSpec/Finished flight.
func (p *Peer) serverHandleFinished(c *Context, raw []byte, msg *layer.MessageFinished) error {
	master := p.handshakeParams().masterSecret
	expected := prf.VerifyDataClient(master, p.hs.transcript.sum())
	if !hmac.Equal(expected, msg.VerifyData) {
		return fatalAlert(layer.DecryptError, errVerifyDataMismatch)
	}
	p.hs.transcript.update(raw)

	cipherSpec := changeCipherSpecEntry(p.writeEpoch)
	p.promoteWrite()
	verifyData := prf.VerifyDataServer(master, p.hs.transcript.sum())
	finishedEntry, err := p.buildHandshakeEntry(&layer.MessageFinished{VerifyData: verifyData}, p.writeEpoch)
	if err != nil {
		return fatalAlert(layer.InternalError, err)
	}

	p.state = StateConnected
	if err := p.sendFlight(c, []flightEntry{cipherSpec, finishedEntry}); err != nil {
		return fatalAlert(layer.InternalError, err)
	}
	log.Infof("peer %s connected", p.session)
	c.event(p.session, 0, EventConnected)
	return nil
}
