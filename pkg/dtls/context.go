// Package dtls is a connectionless DTLS 1.2 endpoint for the mandatory
// PSK suite. The engine performs no I/O and keeps no goroutines or
// timers of its own: the application feeds datagrams to HandleMessage,
// transmits through the Write callback and drives retransmission by
// ticking CheckRetransmit. A single Context multiplexes any number of
// peer sessions; it is not safe for concurrent use.
package dtls

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/yly97/dtlscore/pkg/layer"
)

// recordOverhead is the worst-case framing added to application data:
// record header, explicit nonce and authentication tag.
const recordOverhead = layer.RecordHeaderSize + 8 + 8

// Context is the engine state shared by all peers of one endpoint.
type Context struct {
	config  Config
	handler Handler
	app     any
	cookies *cookieJar
	peers   map[Session]*Peer
}

// New creates a Context. config may be nil for all defaults.
func New(app any, handler Handler, config *Config) (*Context, error) {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	cfg = cfg.withDefaults()

	cookies, err := newCookieJar(cfg.CookieRotation, cfg.Clock())
	if err != nil {
		return nil, err
	}
	return &Context{
		config:  cfg,
		handler: handler,
		app:     app,
		cookies: cookies,
		peers:   make(map[Session]*Peer),
	}, nil
}

func (c *Context) App() any {
	return c.app
}

func (c *Context) SetApp(app any) {
	c.app = app
}

// State reports a peer's engine state, StateClosed when none exists.
func (c *Context) State(session Session) State {
	if peer, ok := c.peers[session]; ok {
		return peer.state
	}
	return StateClosed
}

// Free tears the context down. All peers detach and their key material
// is scrubbed; no alerts are sent.
func (c *Context) Free() {
	for _, peer := range c.peers {
		c.destroyPeer(peer)
	}
	c.peers = nil
}

// Connect starts a handshake towards session. It reports false when a
// peer for the session already exists and true when a ClientHello went
// out; completion is signalled by the Connected event.
func (c *Context) Connect(session Session) (bool, error) {
	if c.peers == nil {
		return false, ErrContextClosed
	}
	if _, ok := c.peers[session]; ok {
		return false, nil
	}
	if c.config.MaxPeers > 0 && len(c.peers) >= c.config.MaxPeers {
		return false, ErrResourceExhausted
	}
	if err := c.clientStart(session); err != nil {
		return false, err
	}
	return true, nil
}

// Write seals application data towards a connected peer and hands the
// datagram to the write callback. It returns the number of plaintext
// bytes consumed.
func (c *Context) Write(session Session, data []byte) (int, error) {
	if c.peers == nil {
		return 0, ErrContextClosed
	}
	peer, ok := c.peers[session]
	if !ok {
		return 0, ErrUnknownPeer
	}
	if peer.state != StateConnected {
		return 0, ErrNotConnected
	}
	if len(data)+recordOverhead > c.config.MTU {
		return 0, ErrRecordTooLarge
	}

	if err := peer.sendRecord(c, layer.DTLSTypeApplicationData, peer.writeEpoch, data); err != nil {
		if err == errSequenceExhausted {
			peer.shutdownWithAlert(c, fatalAlert(layer.InternalError, err))
		}
		return 0, err
	}
	return len(data), nil
}

// Close starts an orderly shutdown: close_notify goes out and the peer
// lingers in Closing until the peer answers or the close grace passes.
func (c *Context) Close(session Session) error {
	if c.peers == nil {
		return ErrContextClosed
	}
	peer, ok := c.peers[session]
	if !ok {
		return ErrUnknownPeer
	}
	if peer.state == StateClosing {
		return nil
	}

	peer.sendAlert(c, layer.Warning, layer.CloseNotify)
	peer.state = StateClosing
	peer.clearFlight()
	peer.closeDeadline = c.now().Add(c.config.RetransmitInitial)
	return nil
}

// HandleMessage feeds one received datagram into the engine. Protocol
// failures are handled internally (dropped or answered with alerts); an
// error return means the call itself was invalid.
func (c *Context) HandleMessage(session Session, datagram []byte) error {
	if c.peers == nil {
		return ErrContextClosed
	}
	if len(datagram) == 0 {
		return errEmptyDatagram
	}
	c.cookies.rotate(c.now())

	records, err := layer.UnpackDatagram(datagram)
	if err != nil {
		log.Debugf("discarded malformed datagram from %s: %v", session, err)
		return nil
	}
	for _, raw := range records {
		// the peer may appear or vanish between records
		if peer, ok := c.peers[session]; ok {
			peer.handleRecord(c, raw)
			continue
		}
		c.handleStateless(session, raw)
	}
	return nil
}

// handleStateless processes records for unknown sessions. Only a
// ClientHello elicits a reaction; everything else is dropped without a
// trace so blind probes learn nothing.
func (c *Context) handleStateless(session Session, raw []byte) {
	header := &layer.RecordHeader{}
	if err := header.Unmarshal(raw); err != nil {
		return
	}
	if header.ContentType != layer.DTLSTypeHandshake || header.Epoch != 0 {
		return
	}

	handshake := &layer.Handshake{}
	if err := handshake.Unmarshal(raw[layer.RecordHeaderSize:]); err != nil {
		return
	}
	hello, ok := handshake.Message.(*layer.MessageClientHello)
	if !ok {
		return
	}

	if hello.Version != c.config.Version {
		c.sendStatelessAlert(session, layer.ProtocolVersion)
		return
	}
	if !offersSuite(hello.CipherSuites, layer.CipherSuitePSKWithAES128CCM8) {
		c.sendStatelessAlert(session, layer.HandshakeFailure)
		return
	}

	if !c.cookies.verify(session, hello, c.now()) {
		c.sendHelloVerifyRequest(session, handshake.Header.MessageSequence, hello)
		return
	}
	if c.config.MaxPeers > 0 && len(c.peers) >= c.config.MaxPeers {
		log.Debugf("dropped ClientHello from %s: %v", session, ErrResourceExhausted)
		return
	}
	c.serverAccept(session, hello, raw[layer.RecordHeaderSize:], handshake.Header.MessageSequence)
}

// sendHelloVerifyRequest answers a ClientHello without allocating peer
// state. The handshake sequence echoes the hello's; the record sequence
// is the reserved 0 of the future peer's epoch 0.
func (c *Context) sendHelloVerifyRequest(session Session, messageSeq uint16, hello *layer.MessageClientHello) {
	verify := &layer.MessageHelloVerifyRequest{
		Version: c.config.Version,
		Cookie:  c.cookies.generate(session, hello),
	}
	handshake := &layer.Handshake{
		Header:  layer.HandshakeHeader{MessageSequence: messageSeq},
		Message: verify,
	}
	payload, err := handshake.Marshal()
	if err != nil {
		return
	}
	header := &layer.RecordHeader{
		ContentType:   layer.DTLSTypeHandshake,
		Version:       c.config.Version,
		ContentLength: uint16(len(payload)),
	}
	raw, err := header.Marshal()
	if err != nil {
		return
	}
	log.Debugf("[handshake] %s: sending HelloVerifyRequest", session)
	c.writeDatagram(session, append(raw, payload...))
}

func (c *Context) sendStatelessAlert(session Session, description layer.Description) {
	payload, _ := (&layer.Alert{Level: layer.Fatal, Description: description}).Marshal()
	header := &layer.RecordHeader{
		ContentType:   layer.DTLSTypeAlert,
		Version:       c.config.Version,
		ContentLength: uint16(len(payload)),
	}
	raw, err := header.Marshal()
	if err != nil {
		return
	}
	c.writeDatagram(session, append(raw, payload...))
}

// CheckRetransmit is the application's timer tick. It retransmits due
// flights with exponential backoff, destroys peers whose handshake
// exceeded the attempt ceiling, finishes lingering closes and evicts
// idle peers.
func (c *Context) CheckRetransmit(now time.Time) {
	if c.peers == nil {
		return
	}
	peers := make([]*Peer, 0, len(c.peers))
	for _, peer := range c.peers {
		peers = append(peers, peer)
	}

	for _, peer := range peers {
		if peer.state == StateClosing {
			if now.After(peer.closeDeadline) {
				c.destroyPeer(peer)
			}
			continue
		}
		if c.config.IdleTimeout > 0 && now.Sub(peer.lastActivity) > c.config.IdleTimeout {
			log.Debugf("evicting idle peer %s", peer.session)
			c.destroyPeer(peer)
			continue
		}
		if peer.flight == nil || now.Sub(peer.flight.sendTime) < peer.flight.interval {
			continue
		}

		if peer.flight.attempts >= c.config.RetransmitAttempts {
			if peer.state == StateConnected {
				// final flight was implicitly acknowledged or given up on;
				// the channel itself stays up
				peer.clearFlight()
				continue
			}
			log.Debugf("handshake with %s timed out", peer.session)
			c.event(peer.session, 0, EventHandshakeTimeout)
			c.destroyPeer(peer)
			continue
		}

		peer.flight.attempts++
		peer.flight.sendTime = now
		peer.flight.interval *= 2
		if peer.flight.interval > c.config.RetransmitMax {
			peer.flight.interval = c.config.RetransmitMax
		}
		log.Debugf("retransmitting flight to %s (attempt %d)", peer.session, peer.flight.attempts)
		if err := peer.transmitFlight(c); err != nil {
			peer.shutdownWithAlert(c, fatalAlert(layer.InternalError, err))
		}
	}
}

// destroyPeer detaches a peer and scrubs every byte of key material it
// ever held.
func (c *Context) destroyPeer(p *Peer) {
	p.state = StateClosed
	for _, params := range p.params {
		params.zeroize()
	}
	p.flight = nil
	p.held = nil
	p.hs = newHsState()
	delete(c.peers, p.session)
	log.Debugf("peer %s destroyed", p.session)
}

func (c *Context) now() time.Time {
	return c.config.Clock()
}

func (c *Context) writeDatagram(session Session, data []byte) {
	if c.handler.Write == nil {
		return
	}
	if sent := c.handler.Write(c, session, data); sent < len(data) {
		log.Debugf("short write to %s: %d of %d bytes", session, sent, len(data))
	}
}

func (c *Context) read(session Session, data []byte) {
	if c.handler.Read != nil {
		c.handler.Read(c, session, data)
	}
}

func (c *Context) event(session Session, level layer.Level, code uint16) {
	if c.handler.Event != nil {
		c.handler.Event(c, session, level, code)
	}
}

func (c *Context) getKey(session Session, id []byte) (*Key, error) {
	if c.handler.GetKey == nil {
		return nil, errMissingKeyCallback
	}
	return c.handler.GetKey(c, session, id)
}

func offersSuite(suites []uint16, want uint16) bool {
	for _, suite := range suites {
		if suite == want {
			return true
		}
	}
	return false
}
