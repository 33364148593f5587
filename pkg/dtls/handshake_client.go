package dtls

import (
	"crypto/hmac"
	"crypto/rand"

	"github.com/pion/dtls/v2/pkg/protocol"
	log "github.com/sirupsen/logrus"
	"github.com/yly97/dtlscore/pkg/layer"
	"github.com/yly97/dtlscore/pkg/prf"
)

// clientStart creates the peer for an outbound connection and sends the
// first ClientHello (empty cookie).
func (c *Context) clientStart(session Session) error {
	peer := newPeer(session, roleClient, c.now())
	if _, err := rand.Read(peer.hs.clientRandom[:]); err != nil {
		return err
	}
	c.peers[session] = peer
	peer.state = StateClientHello
	log.Debugf("[handshake] %s: sending ClientHello", session)
	if err := peer.clientSendHello(c); err != nil {
		c.destroyPeer(peer)
		return err
	}
	return nil
}

// clientSendHello sends the ClientHello carrying whatever cookie we hold:
// empty on the first attempt, the echoed cookie after HelloVerifyRequest.
func (p *Peer) clientSendHello(c *Context) error {
	hello := &layer.MessageClientHello{
		Version:            c.config.Version,
		Random:             p.hs.clientRandom,
		Cookie:             p.hs.cookie,
		CipherSuites:       []uint16{layer.CipherSuitePSKWithAES128CCM8},
		CompressionMethods: []*protocol.CompressionMethod{{}},
	}
	entry, err := p.buildHandshakeEntry(hello, 0)
	if err != nil {
		return fatalAlert(layer.InternalError, err)
	}
	return p.sendFlight(c, []flightEntry{entry})
}

func (p *Peer) clientProcess(c *Context, raw []byte, handshake *layer.Handshake) error {
	switch msg := handshake.Message.(type) {
	case *layer.MessageHelloVerifyRequest:
		if p.state != StateClientHello {
			return fatalAlert(layer.UnexpectedMessage, errUnexpectedHandshake)
		}
		return p.clientHandleHelloVerify(c, msg)
	case *layer.MessageServerHello:
		if p.state != StateClientHello {
			return fatalAlert(layer.UnexpectedMessage, errUnexpectedHandshake)
		}
		return p.clientHandleServerHello(c, raw, msg)
	case *layer.MessageServerHelloDone:
		if p.state != StateWaitServerHelloDone {
			return fatalAlert(layer.UnexpectedMessage, errUnexpectedHandshake)
		}
		p.hs.transcript.update(raw)
		return p.clientSendSecondFlight(c)
	case *layer.MessageFinished:
		if p.state != StateWaitServerFinished {
			return fatalAlert(layer.UnexpectedMessage, errUnexpectedHandshake)
		}
		return p.clientHandleFinished(c, raw, msg)
	default:
		return fatalAlert(layer.UnexpectedMessage, errUnexpectedHandshake)
	}
}

// clientHandleHelloVerify resends the ClientHello with the returned
// cookie. The transcript restarts so only the post-cookie hello is part
// of the Finished hash; the HelloVerifyRequest itself never enters it.
func (p *Peer) clientHandleHelloVerify(c *Context, msg *layer.MessageHelloVerifyRequest) error {
	p.hs.cookie = append([]byte{}, msg.Cookie...)
	p.hs.transcript.reset()
	log.Debugf("[handshake] %s: got %d-byte cookie, resending ClientHello", p.session, len(msg.Cookie))
	return p.clientSendHello(c)
}

func (p *Peer) clientHandleServerHello(c *Context, raw []byte, msg *layer.MessageServerHello) error {
	if msg.Version != c.config.Version {
		return fatalAlert(layer.ProtocolVersion, errVersionMismatch)
	}
	if msg.CipherSuite != layer.CipherSuitePSKWithAES128CCM8 {
		return fatalAlert(layer.HandshakeFailure, errBadCipherSuite)
	}
	p.hs.serverRandom = msg.Random
	p.hs.transcript.update(raw)
	p.state = StateWaitServerHelloDone
	return nil
}

// clientSendSecondFlight answers ServerHelloDone with ClientKeyExchange,
// ChangeCipherSpec and Finished, deriving the traffic keys in between.
func (p *Peer) clientSendSecondFlight(c *Context) error {
	key, err := c.getKey(p.session, nil)
	if err != nil || key == nil {
		return fatalAlert(layer.InternalError, errMissingKeyCallback)
	}
	p.hs.identity = append([]byte{}, key.Identity...)

	keyExchange := &layer.MessageClientKeyExchange{Identity: key.Identity}
	exchangeEntry, err := p.buildHandshakeEntry(keyExchange, 0)
	if err != nil {
		return fatalAlert(layer.InternalError, err)
	}
	if err := p.initPendingParams(key.Value); err != nil {
		return fatalAlert(layer.InternalError, err)
	}

	master := p.handshakeParams().masterSecret
	cipherSpec := changeCipherSpecEntry(p.writeEpoch)
	p.promoteWrite()
	verifyData := prf.VerifyDataClient(master, p.hs.transcript.sum())
	finishedEntry, err := p.buildHandshakeEntry(&layer.MessageFinished{VerifyData: verifyData}, p.writeEpoch)
	if err != nil {
		return fatalAlert(layer.InternalError, err)
	}

	p.state = StateWaitServerFinished
	return p.sendFlight(c, []flightEntry{exchangeEntry, cipherSpec, finishedEntry})
}

func (p *Peer) clientHandleFinished(c *Context, raw []byte, msg *layer.MessageFinished) error {
	master := p.handshakeParams().masterSecret
	expected := prf.VerifyDataServer(master, p.hs.transcript.sum())
	if !hmac.Equal(expected, msg.VerifyData) {
		return fatalAlert(layer.DecryptError, errVerifyDataMismatch)
	}
	p.hs.transcript.update(raw)

	p.state = StateConnected
	p.clearFlight()
	log.Infof("peer %s connected", p.session)
	c.event(p.session, 0, EventConnected)
	return nil
}
