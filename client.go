package quic

import (
	"crypto/rand"
	"fmt"
	"net"

	"github.com/whitekyo/quicker/internal/handshake"
	"github.com/whitekyo/quicker/internal/protocol"
)

// DialUDP establishes a client connection to addr over a fresh UDP
// socket, driving the handshake via cryptoSetup. The demo binaries
// construct cryptoSetup with handshake.NewInsecureCryptoSetup; a real
// deployment would plug in a TLS 1.3 engine behind the same interface.
func DialUDP(addr string, cryptoSetup handshake.CryptoSetup, config *Config) (*Connection, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, err
	}

	srcConnID, err := generateConnectionID(protocol.DefaultConnectionIDLength)
	if err != nil {
		udpConn.Close()
		return nil, err
	}
	destConnID, err := generateConnectionID(protocol.DefaultConnectionIDLength)
	if err != nil {
		udpConn.Close()
		return nil, err
	}

	conn := newConnection(protocol.PerspectiveClient, protocol.Version1, srcConnID, destConnID, udpConn, raddr, cryptoSetup, config)

	go conn.run()
	go readLoop(udpConn, func(p *receivedPacket) {
		if p.remoteAddr.String() != raddr.String() {
			return
		}
		conn.handlePacket(p)
	})

	return conn, nil
}

func generateConnectionID(length int) (protocol.ConnectionID, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("quic: generating connection ID: %w", err)
	}
	return protocol.ConnectionID(b), nil
}
