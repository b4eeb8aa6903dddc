package quic

import (
	"errors"
	"time"

	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/utils"
)

// Config configures a Connection, Dial or Listen call. A nil Config uses
// defaults throughout.
type Config struct {
	// HandshakeTimeout is populated with a default, but no connection
	// reads it: a connection that stays in the handshaking state is not
	// abandoned when it elapses.
	HandshakeTimeout time.Duration
	// MaxIdleTimeout bounds how long the run loop waits for an event
	// before it wakes up again. The connection is not closed when the
	// timeout elapses without a received packet.
	MaxIdleTimeout time.Duration

	// InitialMaxStreamDataBidiLocal/Remote/Uni seed the transport
	// parameters sent to the peer for per-stream flow control.
	InitialMaxStreamDataBidiLocal  protocol.ByteCount
	InitialMaxStreamDataBidiRemote protocol.ByteCount
	InitialMaxStreamDataUni        protocol.ByteCount
	// InitialMaxData seeds the connection-level flow control window.
	InitialMaxData protocol.ByteCount

	// MaxIncomingStreams and MaxIncomingUniStreams bound how many
	// peer-initiated streams may be open concurrently.
	MaxIncomingStreams    int64
	MaxIncomingUniStreams int64

	// ConnectionIDLength is populated with a default but not read when
	// connection IDs are generated or matched: DialUDP and the Listener
	// always generate, and route by, protocol.DefaultConnectionIDLength-
	// byte IDs, and a connection parses short headers using the length of
	// its own ID.
	ConnectionIDLength int

	Logger utils.Logger
}

func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

func validateConfig(config *Config) error {
	if config == nil {
		return nil
	}
	if config.MaxIncomingStreams > 1<<60 {
		return errors.New("quic: invalid value for Config.MaxIncomingStreams")
	}
	if config.MaxIncomingUniStreams > 1<<60 {
		return errors.New("quic: invalid value for Config.MaxIncomingUniStreams")
	}
	return nil
}

func populateConfig(config *Config) *Config {
	if config == nil {
		config = &Config{}
	} else {
		config = config.Clone()
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = protocol.DefaultHandshakeTimeout
	}
	if config.MaxIdleTimeout == 0 {
		config.MaxIdleTimeout = protocol.DefaultIdleTimeout
	}
	if config.InitialMaxStreamDataBidiLocal == 0 {
		config.InitialMaxStreamDataBidiLocal = protocol.DefaultInitialMaxStreamData
	}
	if config.InitialMaxStreamDataBidiRemote == 0 {
		config.InitialMaxStreamDataBidiRemote = protocol.DefaultInitialMaxStreamData
	}
	if config.InitialMaxStreamDataUni == 0 {
		config.InitialMaxStreamDataUni = protocol.DefaultInitialMaxStreamData
	}
	if config.InitialMaxData == 0 {
		config.InitialMaxData = protocol.DefaultInitialMaxData
	}
	if config.MaxIncomingStreams == 0 {
		config.MaxIncomingStreams = protocol.DefaultMaxIncomingStreams
	} else if config.MaxIncomingStreams < 0 {
		config.MaxIncomingStreams = 0
	}
	if config.MaxIncomingUniStreams == 0 {
		config.MaxIncomingUniStreams = protocol.DefaultMaxIncomingStreams
	} else if config.MaxIncomingUniStreams < 0 {
		config.MaxIncomingUniStreams = 0
	}
	if config.ConnectionIDLength == 0 {
		config.ConnectionIDLength = protocol.DefaultConnectionIDLength
	}
	if config.Logger == nil {
		config.Logger = utils.NopLogger
	}
	return config
}
