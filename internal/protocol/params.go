package protocol

import "time"

// MaxPacketSizeIPv4/IPv6 bound the UDP datagram payload this core will
// produce, matching the design's MTU discussion; DefaultMaxDatagramSize
// is the practical default used absent path MTU discovery.
const (
	MaxPacketSizeIPv4      ByteCount = 1252
	MaxPacketSizeIPv6      ByteCount = 1232
	DefaultMaxDatagramSize ByteCount = 1200
)

// Congestion-control constants, sized in bytes rather than packets since
// the design's congestion module tracks bytes_in_flight directly.
const (
	InitialCongestionWindow    ByteCount = 10 * DefaultMaxDatagramSize
	DefaultMaxCongestionWindow ByteCount = 10 * 1024 * 1024
	MinCongestionWindow        ByteCount = 2 * DefaultMaxDatagramSize
)

// MinPacingDelay and TimerGranularity bound the pacer's token-bucket
// timer, mirroring the design's loss-detection timer granularity.
const (
	MinPacingDelay    = time.Millisecond
	TimerGranularity  = time.Millisecond
	MaxAckDelayDefault = 25 * time.Millisecond
)

// BytesPerSecond converts a bits/s bandwidth figure into bytes/s.
const BytesPerSecond = 8

// Connection defaults used to populate a nil or partially-set Config.
const (
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultIdleTimeout          = 30 * time.Second
	DefaultInitialMaxStreamData ByteCount = 512 * 1024
	DefaultInitialMaxData       ByteCount = 1536 * 1024
	DefaultMaxIncomingStreams   int64     = 100
	DefaultConnectionIDLength             = 8
)

// Version1 is this module's sole supported wire version, numbered per the
// IETF working-group draft convention (0xff000000 | draft number).
const Version1 Version = 0xff00000c

