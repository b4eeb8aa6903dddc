// Command quicker-echo is a minimal echo client/server built on the
// quicker transport core, using the insecure test-double handshake
// since no real TLS 1.3 engine is wired in.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	quic "github.com/whitekyo/quicker"
	"github.com/whitekyo/quicker/internal/handshake"
	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
	"github.com/whitekyo/quicker/internal/utils"
)

func main() {
	serve := flag.Bool("serve", false, "run as the echo server")
	addr := flag.String("addr", "127.0.0.1:4433", "address to listen on / connect to")
	flag.Parse()

	logger := utils.NewDefaultLogger(os.Stderr, utils.LogLevelInfo)

	if *serve {
		if err := runServer(*addr, logger); err != nil {
			log.Fatal(err)
		}
		return
	}
	if err := runClient(*addr, logger); err != nil {
		log.Fatal(err)
	}
}

const connSecret = "quicker-echo-demo-secret"

func runServer(addr string, logger utils.Logger) error {
	ln, err := quic.ListenUDP(addr, func() handshake.CryptoSetup {
		return handshake.NewInsecureCryptoSetup(protocol.PerspectiveServer, []byte(connSecret))
	}, &quic.Config{Logger: logger})
	if err != nil {
		return err
	}
	logger.Infof("listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go serveConnection(conn)
	}
}

func serveConnection(conn *quic.Connection) {
	for {
		stream, err := conn.AcceptStream()
		if err != nil {
			return
		}
		go func() {
			if _, err := io.Copy(stream, stream); err != nil && err != io.EOF {
				stream.CancelWrite(uint16(qerr.InternalError))
				return
			}
			stream.Close()
		}()
	}
}

func runClient(addr string, logger utils.Logger) error {
	cryptoSetup := handshake.NewInsecureCryptoSetup(protocol.PerspectiveClient, []byte(connSecret))
	conn, err := quic.DialUDP(addr, cryptoSetup, &quic.Config{Logger: logger})
	if err != nil {
		return err
	}

	stream, err := conn.OpenStream()
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprintln(os.Stderr, "type a line and press enter; it will be echoed back")
	for scanner.Scan() {
		line := scanner.Text()
		if _, err := stream.Write([]byte(line + "\n")); err != nil {
			return err
		}
		buf := make([]byte, 4096)
		n, err := stream.Read(buf)
		if err != nil && err != io.EOF {
			return err
		}
		fmt.Printf("echo: %s", buf[:n])
	}
	return stream.Close()
}
