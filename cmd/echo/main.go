// Command echo is a secure UDP echo server and client built on the DTLS
// engine. The engine does no I/O of its own, so this program owns the
// socket, pumps received datagrams into the context and ticks the
// retransmission timer.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/yly97/dtlscore/pkg/dtls"
	"github.com/yly97/dtlscore/pkg/layer"
)

const tickInterval = 200 * time.Millisecond

var (
	listen   string
	connect  string
	identity string
	psk      string
	verbose  int
)

func main() {
	flag.StringVar(&listen, "listen", "", "UDP address to serve on")
	flag.StringVar(&connect, "connect", "", "UDP address to dial")
	flag.StringVar(&identity, "identity", "Client_identity", "PSK identity")
	flag.StringVar(&psk, "psk", "secretPSK", "pre-shared key")
	flag.IntVar(&verbose, "verbose", 2, "Set log level(0:trace, 1:debug, 2:info)")
	flag.Parse()

	switch verbose {
	case 0:
		log.SetLevel(log.TraceLevel)
	case 1:
		log.SetLevel(log.DebugLevel)
	}

	switch {
	case listen != "":
		runServer(listen)
	case connect != "":
		runClient(connect)
	default:
		fmt.Fprintln(os.Stderr, "either -listen or -connect is required")
		os.Exit(2)
	}
}

func handler(conn *net.UDPConn, onRead func(ctx *dtls.Context, session dtls.Session, data []byte)) dtls.Handler {
	return dtls.Handler{
		Write: func(_ *dtls.Context, session dtls.Session, data []byte) int {
			n, err := conn.WriteToUDPAddrPort(data, session.Addr)
			if err != nil {
				log.Errorf("send to %s failed: %v", session, err)
				return -1
			}
			return n
		},
		Read: onRead,
		Event: func(_ *dtls.Context, session dtls.Session, level layer.Level, code uint16) {
			if level > 0 {
				log.Infof("alert from %s: %s %s", session, level, layer.Description(code))
				return
			}
			switch code {
			case dtls.EventConnected:
				log.Infof("channel with %s established", session)
			case dtls.EventHandshakeTimeout:
				log.Warnf("handshake with %s timed out", session)
			}
		},
		GetKey: func(_ *dtls.Context, session dtls.Session, id []byte) (*dtls.Key, error) {
			if id != nil && string(id) != identity {
				return nil, fmt.Errorf("unknown identity %q", id)
			}
			return &dtls.Key{Identity: []byte(identity), Value: []byte(psk)}, nil
		},
	}
}

// pump drives one socket: received datagrams go into the context, and
// the retransmission timer ticks between reads.
func pump(ctx *dtls.Context, conn *net.UDPConn, input <-chan func()) {
	buf := make([]byte, 2048)
	for {
		select {
		case fn, ok := <-input:
			if !ok {
				return
			}
			fn()
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(tickInterval)); err != nil {
			log.Fatal(err)
		}
		n, addr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				ctx.CheckRetransmit(time.Now())
				continue
			}
			log.Fatal(err)
		}
		if err := ctx.HandleMessage(dtls.Session{Addr: addr}, buf[:n]); err != nil {
			log.Errorf("handle message: %v", err)
		}
		ctx.CheckRetransmit(time.Now())
	}
}

func runServer(addr string) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		log.Fatal(err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	// replies are queued and sent from the pump loop: the Read callback
	// runs inside HandleMessage and must not re-enter the context
	replies := make(chan func(), 64)
	echo := func(ctx *dtls.Context, session dtls.Session, data []byte) {
		log.Infof("read %q from %s", data, session)
		select {
		case replies <- func() {
			if _, err := ctx.Write(session, data); err != nil {
				log.Errorf("echo to %s failed: %v", session, err)
			}
		}:
		default:
			log.Warnf("echo queue full, dropped reply to %s", session)
		}
	}
	ctx, err := dtls.New(conn, handler(conn, echo), &dtls.Config{IdleTimeout: 5 * time.Minute})
	if err != nil {
		log.Fatal(err)
	}
	defer ctx.Free()

	log.Infof("serving on %s", conn.LocalAddr())
	pump(ctx, conn, replies)
}

func runClient(addr string) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		log.Fatal(err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	session := dtls.Session{Addr: udpAddr.AddrPort()}
	show := func(_ *dtls.Context, session dtls.Session, data []byte) {
		log.Infof("read %q from %s", data, session)
	}
	ctx, err := dtls.New(conn, handler(conn, show), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer ctx.Free()

	if _, err := ctx.Connect(session); err != nil {
		log.Fatal(err)
	}

	// lines from stdin become application records once the channel is up
	input := make(chan func())
	go func() {
		defer close(input)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := append([]byte{}, scanner.Bytes()...)
			input <- func() {
				if _, err := ctx.Write(session, line); err != nil {
					log.Warnf("write failed: %v", err)
				}
			}
		}
	}()

	pump(ctx, conn, input)
	if err := ctx.Close(session); err != nil && !errors.Is(err, dtls.ErrUnknownPeer) {
		log.Debugf("close: %v", err)
	}
}
