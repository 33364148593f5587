package dtls

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yly97/dtlscore/pkg/layer"
)

type eventRecord struct {
	level layer.Level
	code  uint16
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

func (f *fakeClock) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// testEndpoint is one side of an in-memory wire: datagrams written by
// the engine queue in outbox until a test moves them across.
type testEndpoint struct {
	ctx    *Context
	outbox [][]byte
	reads  [][]byte
	events []eventRecord
	getKey func(id []byte) (*Key, error)
}

func (ep *testEndpoint) pop(t *testing.T) []byte {
	t.Helper()
	require.NotEmpty(t, ep.outbox, "no datagram queued")
	d := ep.outbox[0]
	ep.outbox = ep.outbox[1:]
	return d
}

func (ep *testEndpoint) tryPop() ([]byte, bool) {
	if len(ep.outbox) == 0 {
		return nil, false
	}
	d := ep.outbox[0]
	ep.outbox = ep.outbox[1:]
	return d, true
}

func (ep *testEndpoint) handle(t *testing.T, from Session, datagram []byte) {
	t.Helper()
	require.NoError(t, ep.ctx.HandleMessage(from, datagram))
}

type testPair struct {
	clock      *fakeClock
	client     *testEndpoint
	server     *testEndpoint
	clientAddr Session // the client as the server sees it
	serverAddr Session // the server as the client sees it
}

func defaultGetKey(id []byte) (*Key, error) {
	if id != nil && string(id) != "Client_identity" {
		return nil, errUnknownIdentity
	}
	return &Key{Identity: []byte("Client_identity"), Value: []byte("secretPSK")}, nil
}

func newTestPair(t *testing.T, mutate func(*Config)) *testPair {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	pair := &testPair{
		clock:      clock,
		clientAddr: Session{Addr: netip.MustParseAddrPort("10.0.0.1:5684")},
		serverAddr: Session{Addr: netip.MustParseAddrPort("10.0.0.2:5684")},
	}

	build := func() *testEndpoint {
		ep := &testEndpoint{getKey: defaultGetKey}
		cfg := Config{Clock: clock.Now}
		if mutate != nil {
			mutate(&cfg)
		}
		ctx, err := New(nil, Handler{
			Write: func(_ *Context, _ Session, data []byte) int {
				ep.outbox = append(ep.outbox, append([]byte{}, data...))
				return len(data)
			},
			Read: func(_ *Context, _ Session, data []byte) {
				ep.reads = append(ep.reads, append([]byte{}, data...))
			},
			Event: func(_ *Context, _ Session, level layer.Level, code uint16) {
				ep.events = append(ep.events, eventRecord{level, code})
			},
			GetKey: func(_ *Context, _ Session, id []byte) (*Key, error) {
				return ep.getKey(id)
			},
		}, &cfg)
		require.NoError(t, err)
		ep.ctx = ctx
		return ep
	}
	pair.client = build()
	pair.server = build()
	return pair
}

// deliverAll shuttles queued datagrams between the endpoints until both
// queues drain.
func (p *testPair) deliverAll(t *testing.T) {
	t.Helper()
	for {
		if d, ok := p.client.tryPop(); ok {
			p.server.handle(t, p.clientAddr, d)
			continue
		}
		if d, ok := p.server.tryPop(); ok {
			p.client.handle(t, p.serverAddr, d)
			continue
		}
		return
	}
}

func (p *testPair) connect(t *testing.T) {
	t.Helper()
	started, err := p.client.ctx.Connect(p.serverAddr)
	require.NoError(t, err)
	require.True(t, started)
}

func (p *testPair) completeHandshake(t *testing.T) {
	t.Helper()
	p.connect(t)
	p.deliverAll(t)
	require.Equal(t, StateConnected, p.client.ctx.State(p.serverAddr))
	require.Equal(t, StateConnected, p.server.ctx.State(p.clientAddr))
}

func parseHeaders(t *testing.T, datagram []byte) []*layer.RecordHeader {
	t.Helper()
	raws, err := layer.UnpackDatagram(datagram)
	require.NoError(t, err)
	headers := make([]*layer.RecordHeader, len(raws))
	for i, raw := range raws {
		headers[i] = &layer.RecordHeader{}
		require.NoError(t, headers[i].Unmarshal(raw))
	}
	return headers
}

func parseHandshake(t *testing.T, raw []byte) *layer.Handshake {
	t.Helper()
	handshake := &layer.Handshake{}
	require.NoError(t, handshake.Unmarshal(raw[layer.RecordHeaderSize:]))
	return handshake
}

func TestCookieExchange(t *testing.T) {
	p := newTestPair(t, nil)
	p.connect(t)

	// first ClientHello carries no cookie
	first := p.client.pop(t)
	hello, ok := parseHandshake(t, first).Message.(*layer.MessageClientHello)
	require.True(t, ok)
	assert.Empty(t, hello.Cookie)

	// the server answers statelessly with a 16-byte cookie
	p.server.handle(t, p.clientAddr, first)
	assert.Equal(t, StateClosed, p.server.ctx.State(p.clientAddr), "no peer state before cookie round")
	verifyDatagram := p.server.pop(t)
	verify, ok := parseHandshake(t, verifyDatagram).Message.(*layer.MessageHelloVerifyRequest)
	require.True(t, ok)
	assert.Len(t, verify.Cookie, CookieLength)

	// the client echoes the cookie and the server proceeds to ServerHello
	p.client.handle(t, p.serverAddr, verifyDatagram)
	second := p.client.pop(t)
	hello, ok = parseHandshake(t, second).Message.(*layer.MessageClientHello)
	require.True(t, ok)
	assert.Equal(t, verify.Cookie, hello.Cookie)

	p.server.handle(t, p.clientAddr, second)
	assert.Equal(t, StateServerHello, p.server.ctx.State(p.clientAddr))
	flight := p.server.pop(t)
	headers := parseHeaders(t, flight)
	require.Len(t, headers, 2)
	raws, err := layer.UnpackDatagram(flight)
	require.NoError(t, err)
	assert.Equal(t, layer.TypeServerHello, parseHandshake(t, raws[0]).Header.MessageType)
	assert.Equal(t, layer.TypeServerHelloDone, parseHandshake(t, raws[1]).Header.MessageType)
}

func TestFullHandshake(t *testing.T) {
	p := newTestPair(t, nil)
	p.completeHandshake(t)

	assert.Contains(t, p.client.events, eventRecord{0, EventConnected})
	assert.Contains(t, p.server.events, eventRecord{0, EventConnected})
}

func TestApplicationEcho(t *testing.T) {
	p := newTestPair(t, nil)
	p.completeHandshake(t)

	n, err := p.client.ctx.Write(p.serverAddr, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	ping := p.client.pop(t)
	headers := parseHeaders(t, ping)
	require.Len(t, headers, 1)
	assert.Equal(t, layer.DTLSTypeApplicationData, headers[0].ContentType)
	assert.Equal(t, uint16(1), headers[0].Epoch)
	// the Finished message took sequence 0 of epoch 1
	assert.Equal(t, uint64(1), headers[0].SequenceNumber)
	assert.NotContains(t, string(ping), "ping", "plaintext leaked onto the wire")

	p.server.handle(t, p.clientAddr, ping)
	require.Len(t, p.server.reads, 1)
	assert.Equal(t, []byte("ping"), p.server.reads[0])

	_, err = p.server.ctx.Write(p.clientAddr, []byte("ping"))
	require.NoError(t, err)
	pong := p.server.pop(t)
	headers = parseHeaders(t, pong)
	assert.Equal(t, uint16(1), headers[0].Epoch)
	assert.Equal(t, uint64(1), headers[0].SequenceNumber)

	p.client.handle(t, p.serverAddr, pong)
	require.Len(t, p.client.reads, 1)
	assert.Equal(t, []byte("ping"), p.client.reads[0])

	// a second record draws the next sequence number
	_, err = p.client.ctx.Write(p.serverAddr, []byte("more"))
	require.NoError(t, err)
	headers = parseHeaders(t, p.client.pop(t))
	assert.Equal(t, uint64(2), headers[0].SequenceNumber)
}

func TestReplayIsDropped(t *testing.T) {
	p := newTestPair(t, nil)
	p.completeHandshake(t)

	_, err := p.client.ctx.Write(p.serverAddr, []byte("ping"))
	require.NoError(t, err)
	ping := p.client.pop(t)

	p.server.handle(t, p.clientAddr, ping)
	p.server.handle(t, p.clientAddr, ping)
	assert.Len(t, p.server.reads, 1, "replayed record must be dropped silently")
	assert.Equal(t, StateConnected, p.server.ctx.State(p.clientAddr))
	assert.Empty(t, p.server.outbox, "replay must not elicit a response")
}

func TestTamperedRecordIsFatal(t *testing.T) {
	p := newTestPair(t, nil)
	p.completeHandshake(t)

	_, err := p.client.ctx.Write(p.serverAddr, []byte("ping"))
	require.NoError(t, err)
	ping := p.client.pop(t)
	ping[len(ping)-1] ^= 0x01

	p.server.handle(t, p.clientAddr, ping)
	assert.Empty(t, p.server.reads)
	assert.Contains(t, p.server.events, eventRecord{layer.Fatal, uint16(layer.BadRecordMac)})
	assert.Equal(t, StateClosed, p.server.ctx.State(p.clientAddr))

	// the alert reaches the client and tears its side down too
	alert := p.server.pop(t)
	headers := parseHeaders(t, alert)
	require.Len(t, headers, 1)
	assert.Equal(t, layer.DTLSTypeAlert, headers[0].ContentType)
	p.client.handle(t, p.serverAddr, alert)
	assert.Contains(t, p.client.events, eventRecord{layer.Fatal, uint16(layer.BadRecordMac)})
	assert.Equal(t, StateClosed, p.client.ctx.State(p.serverAddr))
}

func TestServerRetransmitsFinalFlight(t *testing.T) {
	p := newTestPair(t, nil)
	p.connect(t)

	p.server.handle(t, p.clientAddr, p.client.pop(t)) // ClientHello
	p.client.handle(t, p.serverAddr, p.server.pop(t)) // HelloVerifyRequest
	p.server.handle(t, p.clientAddr, p.client.pop(t)) // ClientHello+cookie
	p.client.handle(t, p.serverAddr, p.server.pop(t)) // ServerHello, Done
	p.server.handle(t, p.clientAddr, p.client.pop(t)) // KeyExchange, CCS, Finished
	require.Equal(t, StateConnected, p.server.ctx.State(p.clientAddr))

	// the final flight is lost
	lost := p.server.pop(t)
	require.Equal(t, StateWaitServerFinished, p.client.ctx.State(p.serverAddr))

	p.clock.advance(1100 * time.Millisecond)
	p.server.ctx.CheckRetransmit(p.clock.Now())
	retransmitted := p.server.pop(t)

	lostHeaders := parseHeaders(t, lost)
	reHeaders := parseHeaders(t, retransmitted)
	require.Len(t, lostHeaders, 2)
	require.Len(t, reHeaders, 2)
	assert.Equal(t, layer.DTLSTypeChangeCipherSpec, reHeaders[0].ContentType)
	assert.Equal(t, layer.DTLSTypeHandshake, reHeaders[1].ContentType)
	for i := range reHeaders {
		assert.Equal(t, lostHeaders[i].Epoch, reHeaders[i].Epoch)
		assert.Equal(t, lostHeaders[i].SequenceNumber+1, reHeaders[i].SequenceNumber,
			"retransmission must draw a fresh record sequence")
	}

	// the retransmission alone completes the handshake
	p.client.handle(t, p.serverAddr, retransmitted)
	assert.Equal(t, StateConnected, p.client.ctx.State(p.serverAddr))
	assert.Contains(t, p.client.events, eventRecord{0, EventConnected})
}

func TestHandshakeTimeout(t *testing.T) {
	p := newTestPair(t, nil)
	p.connect(t)
	p.client.outbox = nil // the ClientHello vanishes

	for i := 0; i < 10; i++ {
		p.clock.advance(2 * time.Minute)
		p.client.ctx.CheckRetransmit(p.clock.Now())
		p.client.outbox = nil
	}
	assert.Contains(t, p.client.events, eventRecord{0, EventHandshakeTimeout})
	assert.Equal(t, StateClosed, p.client.ctx.State(p.serverAddr))
}

func TestReorderedServerFlightIsBuffered(t *testing.T) {
	p := newTestPair(t, nil)
	p.connect(t)

	p.server.handle(t, p.clientAddr, p.client.pop(t))
	p.client.handle(t, p.serverAddr, p.server.pop(t))
	p.server.handle(t, p.clientAddr, p.client.pop(t))

	flight, err := layer.UnpackDatagram(p.server.pop(t))
	require.NoError(t, err)
	require.Len(t, flight, 2)

	// ServerHelloDone overtakes ServerHello
	p.client.handle(t, p.serverAddr, flight[1])
	assert.Empty(t, p.client.outbox, "out-of-order message must only be buffered")
	p.client.handle(t, p.serverAddr, flight[0])
	require.NotEmpty(t, p.client.outbox, "buffered message must be replayed in order")

	p.deliverAll(t)
	assert.Equal(t, StateConnected, p.client.ctx.State(p.serverAddr))
	assert.Equal(t, StateConnected, p.server.ctx.State(p.clientAddr))
}

func TestFinishedHeldUntilCipherSpecChange(t *testing.T) {
	p := newTestPair(t, nil)
	p.connect(t)

	p.server.handle(t, p.clientAddr, p.client.pop(t))
	p.client.handle(t, p.serverAddr, p.server.pop(t))
	p.server.handle(t, p.clientAddr, p.client.pop(t))
	p.client.handle(t, p.serverAddr, p.server.pop(t))
	p.server.handle(t, p.clientAddr, p.client.pop(t))

	flight, err := layer.UnpackDatagram(p.server.pop(t))
	require.NoError(t, err)
	require.Len(t, flight, 2)

	// the epoch-1 Finished overtakes the ChangeCipherSpec
	p.client.handle(t, p.serverAddr, flight[1])
	assert.Equal(t, StateWaitServerFinished, p.client.ctx.State(p.serverAddr))
	p.client.handle(t, p.serverAddr, flight[0])
	assert.Equal(t, StateConnected, p.client.ctx.State(p.serverAddr))
}

func TestCloseNotify(t *testing.T) {
	p := newTestPair(t, nil)
	p.completeHandshake(t)

	require.NoError(t, p.client.ctx.Close(p.serverAddr))
	assert.Equal(t, StateClosing, p.client.ctx.State(p.serverAddr))

	p.server.handle(t, p.clientAddr, p.client.pop(t))
	assert.Contains(t, p.server.events, eventRecord{layer.Warning, uint16(layer.CloseNotify)})
	assert.Equal(t, StateClosed, p.server.ctx.State(p.clientAddr))

	// the answering close_notify finishes the client side as well
	p.client.handle(t, p.serverAddr, p.server.pop(t))
	assert.Equal(t, StateClosed, p.client.ctx.State(p.serverAddr))
}

func TestUnknownIdentity(t *testing.T) {
	p := newTestPair(t, nil)
	p.server.getKey = func(id []byte) (*Key, error) {
		return nil, errUnknownIdentity
	}

	p.connect(t)
	p.deliverAll(t)

	assert.Contains(t, p.server.events, eventRecord{layer.Fatal, uint16(layer.UnknownPskIdentity)})
	assert.Contains(t, p.client.events, eventRecord{layer.Fatal, uint16(layer.UnknownPskIdentity)})
	assert.Equal(t, StateClosed, p.server.ctx.State(p.clientAddr))
	assert.Equal(t, StateClosed, p.client.ctx.State(p.serverAddr))
}

func TestConnectIsIdempotent(t *testing.T) {
	p := newTestPair(t, nil)
	p.connect(t)

	started, err := p.client.ctx.Connect(p.serverAddr)
	require.NoError(t, err)
	assert.False(t, started, "second connect must report the existing peer")
}

func TestWriteRequiresConnection(t *testing.T) {
	p := newTestPair(t, nil)

	_, err := p.client.ctx.Write(p.serverAddr, []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownPeer)

	p.connect(t)
	_, err = p.client.ctx.Write(p.serverAddr, []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestWriteRespectsMTU(t *testing.T) {
	p := newTestPair(t, func(cfg *Config) {
		cfg.MTU = 128
	})
	p.completeHandshake(t)

	_, err := p.client.ctx.Write(p.serverAddr, make([]byte, 256))
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestMaxPeersBound(t *testing.T) {
	p := newTestPair(t, func(cfg *Config) {
		cfg.MaxPeers = 1
	})
	p.connect(t)

	other := Session{Addr: netip.MustParseAddrPort("10.0.0.3:5684")}
	_, err := p.client.ctx.Connect(other)
	assert.ErrorIs(t, err, ErrResourceExhausted)
}

func TestIdleEviction(t *testing.T) {
	p := newTestPair(t, func(cfg *Config) {
		cfg.IdleTimeout = time.Minute
	})
	p.completeHandshake(t)

	p.clock.advance(2 * time.Minute)
	p.server.ctx.CheckRetransmit(p.clock.Now())
	assert.Equal(t, StateClosed, p.server.ctx.State(p.clientAddr))
}

func TestFreeScrubsKeyMaterial(t *testing.T) {
	p := newTestPair(t, nil)
	p.completeHandshake(t)

	peer, ok := p.server.ctx.peers[p.clientAddr]
	require.True(t, ok)
	master := peer.currentParams().masterSecret
	require.NotEmpty(t, master)

	p.server.ctx.Free()
	for _, b := range master {
		assert.Zero(t, b, "master secret must be scrubbed on teardown")
	}
	assert.ErrorIs(t, p.server.ctx.HandleMessage(p.clientAddr, []byte{1}), ErrContextClosed)
	_, err := p.server.ctx.Connect(p.clientAddr)
	assert.ErrorIs(t, err, ErrContextClosed)
}

func TestStatelessNonHelloIsIgnored(t *testing.T) {
	p := newTestPair(t, nil)

	payload, err := (&layer.Record{
		Header:  layer.RecordHeader{Version: layer.Version1_2},
		Content: &layer.Alert{Level: layer.Fatal, Description: layer.InternalError},
	}).Marshal()
	require.NoError(t, err)

	p.server.handle(t, p.clientAddr, payload)
	assert.Empty(t, p.server.outbox, "non-ClientHello for an unknown peer must be dropped silently")
	assert.Empty(t, p.server.events)
}

func TestServerRejectsWrongVersionHello(t *testing.T) {
	p := newTestPair(t, func(cfg *Config) {
		cfg.Version = layer.Version1_2
	})
	p.connect(t)
	hello := p.client.pop(t)
	// rewrite the record and hello versions to DTLS 1.0
	hello[1], hello[2] = 0xfe, 0xff
	hello[layer.RecordHeaderSize+layer.HandshakeHeaderSize] = 0xfe
	hello[layer.RecordHeaderSize+layer.HandshakeHeaderSize+1] = 0xff

	p.server.handle(t, p.clientAddr, hello)
	require.NotEmpty(t, p.server.outbox)
	headers := parseHeaders(t, p.server.pop(t))
	assert.Equal(t, layer.DTLSTypeAlert, headers[0].ContentType)
	assert.Equal(t, StateClosed, p.server.ctx.State(p.clientAddr))
}

func TestHandleMessageArgumentChecks(t *testing.T) {
	p := newTestPair(t, nil)
	assert.Error(t, p.server.ctx.HandleMessage(p.clientAddr, nil))

	var freed Context
	assert.ErrorIs(t, (&freed).HandleMessage(p.clientAddr, []byte{1}), ErrContextClosed)
}
