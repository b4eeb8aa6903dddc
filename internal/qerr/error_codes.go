// Package qerr defines the transport error codes carried in
// CONNECTION_CLOSE / APPLICATION_CLOSE frames, and the error type used
// throughout the core for anything wire-visible.
package qerr

import "fmt"

// ErrorCode is a QUIC transport error code, as carried on the wire in a
// CONNECTION_CLOSE frame.
type ErrorCode uint16

const (
	NoError                 ErrorCode = 0x0
	InternalError           ErrorCode = 0x1
	ServerBusy              ErrorCode = 0x2
	FlowControlError        ErrorCode = 0x3
	StreamIDError           ErrorCode = 0x4
	StreamStateError        ErrorCode = 0x5
	FinalOffsetError        ErrorCode = 0x6
	FrameEncodingError      ErrorCode = 0x7
	TransportParameterError ErrorCode = 0x8
	VersionNegotiationError ErrorCode = 0x9
	ProtocolViolation       ErrorCode = 0xA
)

func (e ErrorCode) String() string {
	switch e {
	case NoError:
		return "NO_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case ServerBusy:
		return "SERVER_BUSY"
	case FlowControlError:
		return "FLOW_CONTROL_ERROR"
	case StreamIDError:
		return "STREAM_ID_ERROR"
	case StreamStateError:
		return "STREAM_STATE_ERROR"
	case FinalOffsetError:
		return "FINAL_OFFSET_ERROR"
	case FrameEncodingError:
		return "FRAME_ENCODING_ERROR"
	case TransportParameterError:
		return "TRANSPORT_PARAMETER_ERROR"
	case VersionNegotiationError:
		return "VERSION_NEGOTIATION_ERROR"
	case ProtocolViolation:
		return "PROTOCOL_VIOLATION"
	default:
		return fmt.Sprintf("unknown error code: 0x%x", uint16(e))
	}
}

// TransportError is a connection-fatal error, reported to the peer in a
// CONNECTION_CLOSE or APPLICATION_CLOSE frame.
type TransportError struct {
	ErrorCode          ErrorCode
	IsApplicationError bool
	Remote             bool // set when this error originated from the peer
	Reason             string
}

func NewError(code ErrorCode, reason string) *TransportError {
	return &TransportError{ErrorCode: code, Reason: reason}
}

func NewApplicationError(code ErrorCode, reason string) *TransportError {
	return &TransportError{ErrorCode: code, IsApplicationError: true, Reason: reason}
}

func (e *TransportError) Error() string {
	if e.Reason == "" {
		return e.ErrorCode.String()
	}
	return fmt.Sprintf("%s: %s", e.ErrorCode.String(), e.Reason)
}

// Is lets errors.Is match a target *TransportError (for example one built
// with NewError) with the same ErrorCode and IsApplicationError, ignoring
// the reason phrase. A bare ErrorCode target does not match.
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return e.ErrorCode == t.ErrorCode && e.IsApplicationError == t.IsApplicationError
}
