package quic

import "github.com/whitekyo/quicker/internal/qerr"

// A StreamError is returned by Stream methods when the peer (or the
// local side) reset the stream.
type StreamError = qerr.TransportError

// ErrorCode re-exports qerr's wire error code type for callers that
// construct their own application-level CONNECTION_CLOSE.
type ErrorCode = qerr.ErrorCode
