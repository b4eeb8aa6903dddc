package wire

// IsFrameAckEliciting reports whether a frame counts towards making its
// packet ack-eliciting. Per the design: a packet is ack-eliciting iff it
// carries at least one non-ACK, non-PADDING, non-CONNECTION_CLOSE frame.
func IsFrameAckEliciting(f Frame) bool {
	switch f.(type) {
	case *AckFrame, *PaddingFrame, *ConnectionCloseFrame:
		return false
	default:
		return true
	}
}

// HasAckElicitingFrames reports whether any frame in fs is ack-eliciting.
func HasAckElicitingFrames(fs []Frame) bool {
	for _, f := range fs {
		if IsFrameAckEliciting(f) {
			return true
		}
	}
	return false
}

// IsFrameInFlightEligible reports whether a frame's presence makes its
// packet count as "in flight" for the congestion controller's ledger: any
// non-ACK-only payload.
func IsFrameInFlightEligible(f Frame) bool {
	switch f.(type) {
	case *AckFrame:
		return false
	default:
		return true
	}
}

// HasInFlightEligibleFrames reports whether the packet carrying fs is
// in-flight eligible.
func HasInFlightEligibleFrames(fs []Frame) bool {
	for _, f := range fs {
		if IsFrameInFlightEligible(f) {
			return true
		}
	}
	return false
}
