package dtls

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/yly97/dtlscore/pkg/ciphersuite"
	"github.com/yly97/dtlscore/pkg/layer"
	"github.com/yly97/dtlscore/pkg/prf"
)

// State is the engine state of one peer.
type State uint8

const (
	StateInit State = iota
	StateServerHello
	StateKeyExchange
	StateWaitFinished
	StateFinished
	StateClientHello
	StateWaitServerHelloDone
	StateWaitServerFinished
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateServerHello:
		return "ServerHello"
	case StateKeyExchange:
		return "KeyExchange"
	case StateWaitFinished:
		return "WaitFinished"
	case StateFinished:
		return "Finished"
	case StateClientHello:
		return "ClientHello"
	case StateWaitServerHelloDone:
		return "WaitServerHelloDone"
	case StateWaitServerFinished:
		return "WaitServerFinished"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

type peerRole uint8

const (
	roleServer peerRole = iota
	roleClient
)

// maxFutureHandshakes bounds the buffer for out-of-order handshake
// messages with a message_seq ahead of the expected one.
const maxFutureHandshakes = 2

// hsState is the handshake scratch: message sequence counters, the
// running transcript, both randoms, the echoed cookie, the negotiated
// identity and the out-of-order buffer.
type hsState struct {
	sendSequence uint16
	recvSequence uint16
	transcript   *transcript
	clientRandom [layer.RandomLength]byte
	serverRandom [layer.RandomLength]byte
	cookie       []byte
	identity     []byte
	future       map[uint16][]byte
}

func newHsState() *hsState {
	return &hsState{
		transcript: newTranscript(),
		future:     make(map[uint16][]byte),
	}
}

// Peer is the per-session protocol state, owned by the Context.
type Peer struct {
	session Session
	role    peerRole
	state   State

	readEpoch  uint16
	writeEpoch uint16
	// outbound record counters, one per epoch; each starts at 0 and is
	// monotonically increasing within its epoch
	sendSequence []uint64
	window       replayWindow

	// config selects the current securityParams slot; the other slot is
	// pending during a handshake
	config int
	params [2]*securityParams

	hs     *hsState
	flight *flight
	// one-slot queue for a next-epoch record that overtook the
	// ChangeCipherSpec promoting its keys
	held []byte

	lastActivity  time.Time
	closeDeadline time.Time
}

func newPeer(session Session, role peerRole, now time.Time) *Peer {
	return &Peer{
		session:      session,
		role:         role,
		state:        StateInit,
		sendSequence: []uint64{0},
		params:       [2]*securityParams{{}, nil},
		hs:           newHsState(),
		lastActivity: now,
	}
}

func (p *Peer) Session() Session {
	return p.session
}

func (p *Peer) State() State {
	return p.state
}

func (p *Peer) currentParams() *securityParams {
	return p.params[p.config]
}

func (p *Peer) pendingParams() *securityParams {
	if p.params[1^p.config] == nil {
		p.params[1^p.config] = &securityParams{}
	}
	return p.params[1^p.config]
}

// handshakeParams is the parameter set the handshake is agreeing on: the
// slot with the highest epoch, regardless of promotion progress.
func (p *Peer) handshakeParams() *securityParams {
	current, pending := p.params[p.config], p.params[1^p.config]
	if pending != nil && pending.epoch > current.epoch {
		return pending
	}
	return current
}

func (p *Peer) cipherForEpoch(epoch uint16) *ciphersuite.TLSPskWithAes128Ccm8 {
	for _, sp := range p.params {
		if sp.initialized() && sp.epoch == epoch {
			return sp.cipher
		}
	}
	return nil
}

func (p *Peer) nextSequence(epoch uint16) (uint64, error) {
	for len(p.sendSequence) <= int(epoch) {
		p.sendSequence = append(p.sendSequence, 0)
	}
	seq := p.sendSequence[epoch]
	if seq > layer.MaxSequenceNumber {
		return 0, errSequenceExhausted
	}
	p.sendSequence[epoch]++
	return seq, nil
}

// initPendingParams derives the master secret from the PSK and fills the
// pending slot with initialised traffic keys for the next epoch.
func (p *Peer) initPendingParams(psk []byte) error {
	preMaster := prf.PSKPreMasterSecret(psk)
	master := prf.MasterSecret(preMaster, p.hs.clientRandom[:], p.hs.serverRandom[:])
	for i := range preMaster {
		preMaster[i] = 0
	}

	pending := p.pendingParams()
	pending.suite = layer.CipherSuitePSKWithAES128CCM8
	pending.epoch = p.currentParams().epoch + 1
	pending.masterSecret = master
	pending.cipher = &ciphersuite.TLSPskWithAes128Ccm8{}
	return pending.cipher.Init(master, p.hs.clientRandom[:], p.hs.serverRandom[:], p.role == roleClient)
}

func (p *Peer) promoteRead() {
	pending := p.params[1^p.config]
	p.readEpoch = pending.epoch
	p.window.reset()
	p.maybeFlipConfig()
}

func (p *Peer) promoteWrite() {
	pending := p.params[1^p.config]
	p.writeEpoch = pending.epoch
	p.maybeFlipConfig()
}

// maybeFlipConfig makes the pending slot current once both directions
// run at its epoch, retiring and scrubbing the superseded parameters.
func (p *Peer) maybeFlipConfig() {
	pending := p.params[1^p.config]
	if pending == nil || p.readEpoch != pending.epoch || p.writeEpoch != pending.epoch {
		return
	}
	old := p.params[p.config]
	p.config ^= 1
	old.zeroize()
	p.params[1^p.config] = nil
}

// awaitingPromotion reports whether a record one epoch ahead may be held
// for the ChangeCipherSpec still in flight.
func (p *Peer) awaitingPromotion() bool {
	if p.role == roleServer {
		return p.state == StateKeyExchange
	}
	return p.state == StateWaitServerFinished
}

func (p *Peer) clearFlight() {
	p.flight = nil
}

// marshalRecord frames payload as one record in the given epoch, sealing
// it for epochs past 0.
func (p *Peer) marshalRecord(c *Context, contentType layer.DTLSType, epoch uint16, payload []byte) ([]byte, error) {
	seq, err := p.nextSequence(epoch)
	if err != nil {
		return nil, err
	}

	header := &layer.RecordHeader{
		ContentType:    contentType,
		Version:        c.config.Version,
		Epoch:          epoch,
		SequenceNumber: seq,
		ContentLength:  uint16(len(payload)),
	}
	raw, err := header.Marshal()
	if err != nil {
		return nil, err
	}
	raw = append(raw, payload...)

	if epoch == 0 {
		return raw, nil
	}
	cipher := p.cipherForEpoch(epoch)
	if cipher == nil {
		return nil, errNoCipherForEpoch
	}
	return cipher.Encrypt(header, raw)
}

func (p *Peer) sendRecord(c *Context, contentType layer.DTLSType, epoch uint16, payload []byte) error {
	raw, err := p.marshalRecord(c, contentType, epoch, payload)
	if err != nil {
		return err
	}
	c.writeDatagram(p.session, raw)
	return nil
}

// sendFlight buffers the records for retransmission and transmits them.
func (p *Peer) sendFlight(c *Context, entries []flightEntry) error {
	p.flight = &flight{
		entries:  entries,
		sendTime: c.now(),
		interval: c.config.RetransmitInitial,
	}
	return p.transmitFlight(c)
}

// transmitFlight sends the buffered flight as one datagram. Sequence
// numbers are freshly drawn; everything else is reused verbatim.
func (p *Peer) transmitFlight(c *Context) error {
	datagram := []byte{}
	for _, entry := range p.flight.entries {
		raw, err := p.marshalRecord(c, entry.contentType, entry.epoch, entry.payload)
		if err != nil {
			return err
		}
		datagram = append(datagram, raw...)
	}
	c.writeDatagram(p.session, datagram)
	return nil
}

// buildHandshakeEntry marshals msg under the next outbound message_seq,
// feeds the transcript and returns the flight entry for the given epoch.
func (p *Peer) buildHandshakeEntry(msg layer.Message, epoch uint16) (flightEntry, error) {
	handshake := &layer.Handshake{
		Header:  layer.HandshakeHeader{MessageSequence: p.hs.sendSequence},
		Message: msg,
	}
	raw, err := handshake.Marshal()
	if err != nil {
		return flightEntry{}, err
	}
	p.hs.sendSequence++
	p.hs.transcript.update(raw)
	return flightEntry{contentType: layer.DTLSTypeHandshake, epoch: epoch, payload: raw}, nil
}

func (p *Peer) sendAlert(c *Context, level layer.Level, description layer.Description) {
	payload, _ := (&layer.Alert{Level: level, Description: description}).Marshal()
	if err := p.sendRecord(c, layer.DTLSTypeAlert, p.writeEpoch, payload); err != nil {
		log.Debugf("failed to send alert to %s: %v", p.session, err)
	}
}

// shutdownWithAlert reports a fatal failure: alert on the wire (while we
// still hold write keys), event to the application, peer destroyed.
func (p *Peer) shutdownWithAlert(c *Context, ae *AlertError) {
	log.Debugf("peer %s: %v", p.session, ae)
	p.sendAlert(c, ae.Alert.Level, ae.Alert.Description)
	c.event(p.session, ae.Alert.Level, uint16(ae.Alert.Description))
	c.destroyPeer(p)
}

// handleRecord processes one raw record from the wire. Protocol failures
// never propagate: they either drop the record or tear the peer down.
func (p *Peer) handleRecord(c *Context, raw []byte) {
	header := &layer.RecordHeader{}
	if err := header.Unmarshal(raw); err != nil {
		log.Debugf("discarded broken record from %s: %v", p.session, err)
		return
	}
	if header.Version != c.config.Version {
		p.shutdownWithAlert(c, fatalAlert(layer.ProtocolVersion, errVersionMismatch))
		return
	}

	if header.Epoch != p.readEpoch {
		if header.Epoch == p.readEpoch+1 && p.awaitingPromotion() && p.held == nil {
			log.Tracef("holding epoch %d record from %s until cipher spec change", header.Epoch, p.session)
			p.held = append([]byte{}, raw...)
		} else {
			log.Tracef("dropped epoch %d record from %s (read epoch %d)", header.Epoch, p.session, p.readEpoch)
		}
		return
	}

	plain := raw
	if header.Epoch > 0 {
		cipher := p.cipherForEpoch(header.Epoch)
		if cipher == nil {
			log.Debugf("dropped record from %s: %v", p.session, errNoCipherForEpoch)
			return
		}
		var err error
		plain, err = cipher.Decrypt(raw)
		if err != nil {
			p.shutdownWithAlert(c, fatalAlert(layer.BadRecordMac, errDecryptRecord))
			return
		}
	}

	if err := p.window.update(header.SequenceNumber); err != nil {
		log.Debugf("dropped record seq %d from %s: %v", header.SequenceNumber, p.session, err)
		return
	}
	p.lastActivity = c.now()

	record := &layer.Record{}
	if err := record.Unmarshal(plain); err != nil {
		if errors.Is(err, layer.ErrFragmented) {
			log.Debugf("dropped fragmented handshake message from %s", p.session)
			return
		}
		if header.Epoch > 0 {
			p.shutdownWithAlert(c, fatalAlert(layer.DecodeError, errDecodeRecord))
			return
		}
		log.Debugf("discarded malformed record from %s: %v", p.session, err)
		return
	}

	var err error
	switch content := record.Content.(type) {
	case *layer.Handshake:
		err = p.handleHandshake(c, plain[layer.RecordHeaderSize:], content)
	case *layer.ChangeCipherSpec:
		err = p.handleChangeCipherSpec(c)
	case *layer.Alert:
		p.handleAlert(c, content)
	case *layer.ApplicationData:
		p.handleApplicationData(c, header, content)
	}
	if err != nil {
		var ae *AlertError
		if errors.As(err, &ae) {
			p.shutdownWithAlert(c, ae)
			return
		}
		log.Debugf("peer %s: dropped record: %v", p.session, err)
	}
}

// handleHandshake orders handshake messages by message_seq: stale ones
// are dropped, future ones buffered (bound maxFutureHandshakes), the
// expected one is processed followed by any buffered successors. Any
// in-sequence or newer message is progress and cancels the
// retransmission timer.
func (p *Peer) handleHandshake(c *Context, raw []byte, handshake *layer.Handshake) error {
	seq := handshake.Header.MessageSequence
	if seq < p.hs.recvSequence {
		log.Tracef("dropped stale handshake %s (seq %d) from %s", handshake.Header.MessageType, seq, p.session)
		return nil
	}
	p.clearFlight()

	if seq > p.hs.recvSequence {
		if _, ok := p.hs.future[seq]; !ok && len(p.hs.future) < maxFutureHandshakes {
			log.Tracef("buffered out-of-order handshake %s (seq %d) from %s", handshake.Header.MessageType, seq, p.session)
			p.hs.future[seq] = append([]byte{}, raw...)
		}
		return nil
	}

	if err := p.processHandshake(c, raw, handshake); err != nil {
		return err
	}
	for {
		buffered, ok := p.hs.future[p.hs.recvSequence]
		if !ok {
			return nil
		}
		delete(p.hs.future, p.hs.recvSequence)
		next := &layer.Handshake{}
		if err := next.Unmarshal(buffered); err != nil {
			log.Debugf("discarded buffered handshake from %s: %v", p.session, err)
			return nil
		}
		if err := p.processHandshake(c, buffered, next); err != nil {
			return err
		}
	}
}

func (p *Peer) processHandshake(c *Context, raw []byte, handshake *layer.Handshake) error {
	log.Debugf("[handshake] %s %s: received %s", p.session, p.state, handshake.Header.MessageType)
	p.hs.recvSequence = handshake.Header.MessageSequence + 1
	if p.role == roleServer {
		return p.serverProcess(c, raw, handshake)
	}
	return p.clientProcess(c, raw, handshake)
}

// handleChangeCipherSpec promotes the pending parameters for reading and
// releases a held next-epoch record. Duplicates are ignored.
func (p *Peer) handleChangeCipherSpec(c *Context) error {
	pending := p.params[1^p.config]
	if !pending.initialized() {
		if p.readEpoch > 0 {
			// retransmitted cipher spec change from an epoch we already left
			return nil
		}
		return fatalAlert(layer.UnexpectedMessage, errUnexpectedCipherSpec)
	}

	switch {
	case p.role == roleServer && p.state == StateKeyExchange:
		p.promoteRead()
		p.state = StateWaitFinished
	case p.role == roleClient && p.state == StateWaitServerFinished:
		p.promoteRead()
	default:
		log.Tracef("ignored change cipher spec from %s in state %s", p.session, p.state)
		return nil
	}
	log.Debugf("[handshake] %s: read epoch is now %d", p.session, p.readEpoch)

	if p.held != nil {
		held := p.held
		p.held = nil
		p.handleRecord(c, held)
	}
	return nil
}

func (p *Peer) handleAlert(c *Context, alert *layer.Alert) {
	log.Debugf("received %s from %s", alert, p.session)
	c.event(p.session, alert.Level, uint16(alert.Description))

	switch {
	case alert.Description == layer.CloseNotify:
		if p.state != StateClosing {
			p.sendAlert(c, layer.Warning, layer.CloseNotify)
		}
		c.destroyPeer(p)
	case alert.Level == layer.Fatal:
		c.destroyPeer(p)
	}
}

func (p *Peer) handleApplicationData(c *Context, header *layer.RecordHeader, content *layer.ApplicationData) {
	if p.state != StateConnected || header.Epoch == 0 {
		log.Debugf("dropped application data from %s in state %s", p.session, p.state)
		return
	}
	// verified traffic in the new epoch acknowledges our final flight
	p.clearFlight()
	c.read(p.session, content.Data)
}
