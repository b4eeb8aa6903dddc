package quic

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whitekyo/quicker/internal/handshake"
	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
	"github.com/whitekyo/quicker/internal/wire"
)

// CryptoSetupFactory builds a fresh handshake.CryptoSetup for each new
// incoming connection a Listener accepts.
type CryptoSetupFactory func() handshake.CryptoSetup

// Listener demultiplexes UDP datagrams arriving on a single socket
// across many QUIC connections, keyed by destination connection ID -
// the same way a single quic-go server process fans incoming packets
// out to one goroutine per connection.
type Listener struct {
	conn   *net.UDPConn
	config *Config
	newCS  CryptoSetupFactory

	mu    sync.Mutex
	conns map[string]*Connection

	acceptQueue chan *Connection
	closed      chan struct{}
}

// ListenUDP starts accepting connections on addr.
func ListenUDP(addr string, newCS CryptoSetupFactory, config *Config) (*Listener, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	udpConn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		conn:        udpConn,
		config:      config,
		newCS:       newCS,
		conns:       make(map[string]*Connection),
		acceptQueue: make(chan *Connection, 16),
		closed:      make(chan struct{}),
	}
	go l.run()
	return l, nil
}

func (l *Listener) run() {
	readLoop(l.conn, l.handlePacket)
}

func (l *Listener) handlePacket(p *receivedPacket) {
	if wire.IsVersionNegotiationPacket(p.data) {
		return // servers never receive Version Negotiation packets
	}

	destConnID, ok := destConnIDOf(p.data)
	if !ok {
		return
	}
	key := string(destConnID)

	l.mu.Lock()
	conn, ok := l.conns[key]
	l.mu.Unlock()
	if ok {
		conn.handlePacket(p)
		return
	}

	if !wire.IsLongHeaderPacket(p.data[0]) {
		return // short header packet for an unknown connection; drop it
	}
	hdr, _, err := wire.ParseLongHeader(p.data)
	if err != nil {
		return
	}

	// A version mismatch on an Initial is not connection-fatal: reply
	// with a Version Negotiation packet and create no connection state,
	// so the client's retried Initial at PN 0 finds an empty PN space.
	if hdr.Version != protocol.Version1 {
		l.sendVersionNegotiation(p.remoteAddr, hdr)
		return
	}
	if hdr.Type != wire.PacketTypeInitial {
		return // unknown CID with a non-Initial long header: not ours, drop it
	}

	srcConnID, err := generateConnectionID(protocol.DefaultConnectionIDLength)
	if err != nil {
		return
	}
	newConn := newConnection(protocol.PerspectiveServer, protocol.Version1, srcConnID, destConnID, l.conn, p.remoteAddr, l.newCS(), l.config)

	l.mu.Lock()
	l.conns[key] = newConn
	l.mu.Unlock()

	go newConn.run()
	newConn.handlePacket(p)

	select {
	case l.acceptQueue <- newConn:
	default:
	}
}

// sendVersionNegotiation replies to an Initial carrying an unsupported
// version, swapping the connection IDs per the wire format: our CID
// becomes the dest the client chose, and we echo its CID back as ours.
func (l *Listener) sendVersionNegotiation(addr net.Addr, hdr *wire.Header) {
	vn := &wire.VersionNegotiationPacket{
		DestConnectionID:  hdr.SrcConnectionID,
		SrcConnectionID:   hdr.DestConnectionID,
		SupportedVersions: []protocol.Version{protocol.Version1},
	}
	b := &bytes.Buffer{}
	if err := vn.Write(b); err != nil {
		return
	}
	l.conn.WriteTo(b.Bytes(), addr)
}

// Accept blocks until a new connection arrives.
func (l *Listener) Accept() (*Connection, error) {
	select {
	case c := <-l.acceptQueue:
		return c, nil
	case <-l.closed:
		return nil, fmt.Errorf("quic: listener closed")
	}
}

// Close stops accepting new connections, closes every live connection
// concurrently, and closes the underlying socket.
func (l *Listener) Close() error {
	close(l.closed)

	l.mu.Lock()
	conns := make([]*Connection, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	var g errgroup.Group
	for _, c := range conns {
		c := c
		g.Go(func() error {
			return c.CloseWithError(qerr.NoError, false, "server shutting down")
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return l.conn.Close()
}

// destConnIDOf extracts the destination connection ID from a raw
// datagram without decrypting it, so the listener can route packets to
// the right connection's run loop before any keys are involved.
func destConnIDOf(data []byte) (protocol.ConnectionID, bool) {
	if len(data) == 0 {
		return nil, false
	}
	if wire.IsLongHeaderPacket(data[0]) {
		hdr, _, err := wire.ParseLongHeader(data)
		if err != nil {
			return nil, false
		}
		return hdr.DestConnectionID, true
	}
	if len(data) < 1+protocol.DefaultConnectionIDLength {
		return nil, false
	}
	return protocol.ConnectionID(data[1 : 1+protocol.DefaultConnectionIDLength]), true
}

// readLoop reads datagrams off conn until it's closed, handing each one
// to handle. Both the client and the listener run one of these per
// socket; all per-connection state changes happen on the connection's
// own run loop, never here.
func readLoop(conn *net.UDPConn, handle func(*receivedPacket)) {
	buf := make([]byte, protocol.MaxPacketSizeIPv4)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		handle(&receivedPacket{data: data, rcvTime: time.Now(), remoteAddr: raddr})
	}
}
