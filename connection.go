package quic

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/whitekyo/quicker/internal/ackhandler"
	"github.com/whitekyo/quicker/internal/congestion"
	"github.com/whitekyo/quicker/internal/flowcontrol"
	"github.com/whitekyo/quicker/internal/handshake"
	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
	"github.com/whitekyo/quicker/internal/utils"
	"github.com/whitekyo/quicker/internal/wire"
)

// connState is the connection's state machine, run single-threaded from
// the run loop: handshaking -> established -> closing -> draining -> dead.
type connState uint8

const (
	stateHandshaking connState = iota
	stateEstablished
	stateClosing
	stateDraining
	stateDead
)

type receivedPacket struct {
	data     []byte
	rcvTime  time.Time
	remoteAddr net.Addr
}

// rawSender is the minimal interface a connection needs to write
// encrypted datagrams onto the wire; *net.UDPConn satisfies it directly.
type rawSender interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// Connection is one QUIC connection: a single-goroutine event loop
// driving the handshake, loss detection, flow control and the streams
// multiplexed over it.
type Connection struct {
	perspective protocol.Perspective
	version     protocol.Version
	config      *Config

	srcConnID  protocol.ConnectionID
	destConnID protocol.ConnectionID
	remoteAddr net.Addr

	conn rawSender

	cryptoSetup  handshake.CryptoSetup
	cryptoStream *handshake.CryptoStream

	sentPacketHandler *ackhandler.SentPacketHandler
	rttStats          *utils.RTTStats
	pacer             *congestion.Pacer
	pacedUntil        time.Time

	connFlowController *flowcontrol.ConnectionFlowController
	streamsMap         *streamsMap
	framer             *framer
	packer             *packetPacker
	unpacker           *packetUnpacker
	connIDManager      *connIDManager

	mu     sync.Mutex
	state  connState
	runErr error

	receivedPackets chan *receivedPacket
	closeOnce       sync.Once
	closeRequested  chan struct{}
	closeFrame      *wire.ConnectionCloseFrame
	done            chan struct{}
	handshakeDone   chan struct{}

	ackQueues map[protocol.EncryptionLevel][]protocol.PacketNumber

	largestReceivedMu sync.Mutex
	largestReceivedPN map[protocol.EncryptionLevel]protocol.PacketNumber

	logger utils.Logger
}

func newConnection(
	perspective protocol.Perspective,
	version protocol.Version,
	src, dest protocol.ConnectionID,
	conn rawSender,
	remoteAddr net.Addr,
	cryptoSetup handshake.CryptoSetup,
	config *Config,
) *Connection {
	config = populateConfig(config)
	rttStats := &utils.RTTStats{}

	c := &Connection{
		perspective:         perspective,
		version:             version,
		config:              config,
		srcConnID:           src,
		destConnID:          dest,
		conn:                conn,
		remoteAddr:          remoteAddr,
		cryptoSetup:         cryptoSetup,
		cryptoStream:        &handshake.CryptoStream{},
		rttStats:            rttStats,
		connFlowController:  flowcontrol.NewConnectionFlowController(config.InitialMaxData),
		receivedPackets:     make(chan *receivedPacket, 32),
		closeRequested:      make(chan struct{}),
		done:                make(chan struct{}),
		handshakeDone:       make(chan struct{}),
		ackQueues:           make(map[protocol.EncryptionLevel][]protocol.PacketNumber),
		largestReceivedPN:   make(map[protocol.EncryptionLevel]protocol.PacketNumber),
		logger:              config.Logger,
	}
	c.sentPacketHandler = ackhandler.New(perspective, rttStats, config.Logger)
	c.pacer = congestion.NewPacer(c.estimatedBandwidth, protocol.DefaultMaxDatagramSize)
	c.framer = newFramer(func(id protocol.StreamID) *Stream { return c.streamsMap.getStream(id) })
	c.streamsMap = newStreamsMap(perspective, c, c.connFlowController, config)
	c.packer = newPacketPacker(perspective, src, dest, version, cryptoSetup, c.framer, c.sentPacketHandler)
	c.unpacker = newPacketUnpacker(cryptoSetup, len(src), c.getLargestReceived)
	c.connIDManager = newConnIDManager()
	return c
}

func (c *Connection) getLargestReceived(level protocol.EncryptionLevel) protocol.PacketNumber {
	c.largestReceivedMu.Lock()
	defer c.largestReceivedMu.Unlock()
	if pn, ok := c.largestReceivedPN[level]; ok {
		return pn
	}
	return protocol.InvalidPacketNumber
}

func (c *Connection) updateLargestReceived(level protocol.EncryptionLevel, pn protocol.PacketNumber) {
	c.largestReceivedMu.Lock()
	defer c.largestReceivedMu.Unlock()
	if pn > c.largestReceivedPN[level] {
		c.largestReceivedPN[level] = pn
	}
}

// resetLargestReceived drops the tracked largest-received packet number
// for level back to absent, so the next packet's truncated packet number
// is reconstructed against PN 0 rather than whatever was seen before a
// version-negotiation restart.
func (c *Connection) resetLargestReceived(level protocol.EncryptionLevel) {
	c.largestReceivedMu.Lock()
	defer c.largestReceivedMu.Unlock()
	delete(c.largestReceivedPN, level)
}

// queueControlFrame and onHasStreamData implement streamFrameSender,
// letting a Stream hand data off to the framer without reaching into the
// connection's other internals. Neither wakes the run loop: queued data
// goes out the next time the loop sends, after an inbound packet or a
// timer.
func (c *Connection) queueControlFrame(f wire.Frame) { c.framer.QueueControlFrame(f) }
func (c *Connection) onHasStreamData(id protocol.StreamID) { c.framer.AddActiveStream(id) }

// run is the connection's single event-loop goroutine: it drives the
// handshake, processes incoming packets, and sends whatever the framer
// has queued whenever there's something to say or a timer fires.
func (c *Connection) run() error {
	defer close(c.done)

	if c.perspective == protocol.PerspectiveClient {
		if err := c.sendCryptoEvents(); err != nil {
			c.closeLocal(err)
			return c.runClosingPeriod()
		}
		if err := c.sendPackets(); err != nil {
			c.closeLocal(err)
			return c.runClosingPeriod()
		}
	}

	for {
		deadline := c.nextTimeout()
		timer := time.NewTimer(time.Until(deadline))

		select {
		case p := <-c.receivedPackets:
			if err := c.handlePacketImpl(p); err != nil {
				timer.Stop()
				c.closeLocal(err)
				return c.runClosingPeriod()
			}
		case <-timer.C:
			if err := c.onTimeout(); err != nil {
				c.closeLocal(err)
				return c.runClosingPeriod()
			}
		case <-c.closeRequested:
			timer.Stop()
			c.sendPackets()
			return c.runClosingPeriod()
		}
		timer.Stop()

		if err := c.sendPackets(); err != nil {
			c.closeLocal(err)
			return c.runClosingPeriod()
		}
	}
}

// closingPeriod is how long the closing and draining states hold the
// connection open: 3x the current probe timeout, per spec.
func (c *Connection) closingPeriod() time.Duration {
	handshakeConfirmed := false
	select {
	case <-c.handshakeDone:
		handshakeConfirmed = true
	default:
	}
	return 3 * c.rttStats.PTO(handshakeConfirmed)
}

// runClosingPeriod keeps the run loop alive for one closingPeriod after
// the connection has left stateEstablished, then marks it dead and
// reports the error (if any) that ended the connection. While closing,
// every inbound datagram gets the close packet repeated at it; while
// draining, inbound datagrams are silently absorbed and nothing is sent.
func (c *Connection) runClosingPeriod() error {
	timer := time.NewTimer(c.closingPeriod())
	defer timer.Stop()

	for {
		select {
		case <-c.receivedPackets:
			if c.stateIs(stateClosing) {
				c.resendClosePacket()
			}
		case <-timer.C:
			c.setState(stateDead)
			return c.runErr
		}
	}
}

// resendClosePacket re-queues and flushes the connection's close frame,
// ignoring any send error: by the time this runs the connection is
// already tearing down, and there's nothing left to react to a failure.
func (c *Connection) resendClosePacket() {
	if c.closeFrame == nil {
		return
	}
	c.queueControlFrame(c.closeFrame)
	c.sendPackets()
}

func (c *Connection) nextTimeout() time.Time {
	deadline := time.Now().Add(c.config.MaxIdleTimeout)
	if t := c.sentPacketHandler.GetLossDetectionTimeout(); !t.IsZero() && t.Before(deadline) {
		deadline = t
	}
	if !c.pacedUntil.IsZero() && c.pacedUntil.Before(deadline) {
		deadline = c.pacedUntil
	}
	return deadline
}

// estimatedBandwidth feeds the pacer a rough send-rate estimate: the
// current congestion window spread across one smoothed RTT. Before the
// first RTT sample exists, it reports 0 so the pacer falls back to its
// own minimum rate.
func (c *Connection) estimatedBandwidth() protocol.ByteCount {
	srtt := c.rttStats.SmoothedRTT()
	if srtt <= 0 {
		return 0
	}
	return protocol.ByteCount(float64(c.sentPacketHandler.CongestionWindow()) / srtt.Seconds())
}

func (c *Connection) onTimeout() error {
	lost, _, probeCount, err := c.sentPacketHandler.OnLossDetectionTimeout(time.Now())
	if err != nil {
		return err
	}
	c.requeueLostFrames(lost)
	// The probe's encryption level isn't forced here: the framer's control
	// queue is shared across levels, and sendPackets already drains it
	// into whichever level has a sealer ready next, same as every other
	// queued control frame.
	for i := 0; i < probeCount; i++ {
		c.queueControlFrame(&wire.PingFrame{})
	}
	return nil
}

func (c *Connection) stateIs(s connState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == s
}

func (c *Connection) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// handlePacket is the entry point used by the demultiplexer: it queues
// data for the run loop rather than processing it inline, keeping all
// connection state single-threaded.
func (c *Connection) handlePacket(p *receivedPacket) {
	select {
	case c.receivedPackets <- p:
	case <-c.done:
	}
}

func (c *Connection) handlePacketImpl(p *receivedPacket) error {
	if wire.IsVersionNegotiationPacket(p.data) {
		return c.handleVersionNegotiationPacket(p.data)
	}

	c.sentPacketHandler.ReceivedBytes(protocol.ByteCount(len(p.data)))

	unpacked, _, err := c.unpacker.Unpack(p.data)
	if err != nil {
		return err
	}
	c.sentPacketHandler.ReceivedPacket()
	c.updateLargestReceived(unpacked.encLevel, unpacked.packetNumber)

	frames, err := wire.ParseFrames(unpacked.data)
	if err != nil {
		return err
	}
	c.ackQueues[unpacked.encLevel] = append(c.ackQueues[unpacked.encLevel], unpacked.packetNumber)

	for _, f := range frames {
		if err := c.handleFrame(f, unpacked.encLevel, p.rcvTime); err != nil {
			return err
		}
	}
	return nil
}

// handleVersionNegotiationPacket reacts to a server's Version
// Negotiation reply. Only the client ever needs to: a stray VN arriving
// at a server, or one arriving after the handshake is already underway
// on a supported version, is ignored.
func (c *Connection) handleVersionNegotiationPacket(data []byte) error {
	if c.perspective != protocol.PerspectiveClient || !c.stateIs(stateHandshaking) {
		return nil
	}
	vn, err := wire.ParseVersionNegotiationPacket(data)
	if err != nil {
		return nil
	}
	for _, v := range vn.SupportedVersions {
		if v == c.version {
			return nil // our version is among theirs; this VN is stale
		}
	}
	// None of the server's supported versions match ours. This module
	// speaks exactly one version, so there is no fallback to retry
	// with; discard the Initial-space receive state exactly as a real
	// restart would, then report the mismatch as connection-fatal.
	c.resetLargestReceived(protocol.EncryptionInitial)
	return qerr.NewError(qerr.VersionNegotiationError, "server does not support our QUIC version")
}

func (c *Connection) handleFrame(f wire.Frame, level protocol.EncryptionLevel, rcvTime time.Time) error {
	switch frame := f.(type) {
	case *wire.CryptoFrame:
		c.cryptoStream.HandleCryptoFrame(frame)
		if err := c.cryptoSetup.HandleMessage(c.cryptoStream.GetData(), level); err != nil {
			return err
		}
		return c.sendCryptoEvents()
	case *wire.AckFrame:
		lost, err := c.sentPacketHandler.ReceivedAck(frame, level, rcvTime)
		if err != nil {
			return err
		}
		c.requeueLostFrames(lost)
	case *wire.StreamFrame:
		s, err := c.streamsMap.getOrOpenPeerStream(frame.StreamID)
		if err != nil {
			return err
		}
		return s.handleStreamFrame(frame)
	case *wire.RstStreamFrame:
		s, err := c.streamsMap.getOrOpenPeerStream(frame.StreamID)
		if err != nil {
			return err
		}
		return s.handleRstStreamFrame(frame)
	case *wire.MaxDataFrame:
		c.connFlowController.UpdateSendWindow(frame.MaximumData)
	case *wire.MaxStreamDataFrame:
		if s := c.streamsMap.getStream(frame.StreamID); s != nil {
			s.sendFC.UpdateSendWindow(frame.MaximumData)
		}
	case *wire.NewConnectionIDFrame:
		if err := c.connIDManager.Add(frame.SequenceNumber, frame.ConnectionID, frame.StatelessResetToken); err != nil {
			return err
		}
	case *wire.MaxStreamIDFrame:
		c.streamsMap.updatePeerMaxStreamID(frame.MaxStreamID)
	case *wire.StopSendingFrame:
		s, err := c.streamsMap.getOrOpenPeerStream(frame.StreamID)
		if err != nil {
			return err
		}
		return s.handleStopSendingFrame(frame)
	case *wire.PathChallengeFrame:
		c.queueControlFrame(&wire.PathResponseFrame{Data: frame.Data})
	case *wire.PathResponseFrame:
		// no-op; this module never probes alternate paths itself, so no
		// PATH_CHALLENGE of ours is ever outstanding to match this against.
	case *wire.PingFrame:
		c.queueControlFrame(&wire.PongFrame{})
	case *wire.PongFrame:
		// no-op; nothing currently solicits a PONG of its own.
	case *wire.BlockedFrame, *wire.StreamBlockedFrame, *wire.StreamIDBlockedFrame:
		// informational only; the sender is telling us it's flow-control
		// limited, but RaiseMaxDataLocal's auto-tuning already grows our
		// advertised windows independently of this signal.
	case *wire.ConnectionCloseFrame:
		c.setState(stateDraining)
		return qerr.NewError(qerr.ErrorCode(frame.ErrorCode), frame.ReasonPhrase)
	case *wire.PaddingFrame:
		// no-op; wire.IsFrameAckEliciting does not count PADDING, so
		// PADDING alone does not make a packet ack-eliciting.
	}
	return nil
}

func (c *Connection) requeueLostFrames(lost []ackhandler.LossEvent) {
	for _, l := range lost {
		for _, f := range l.Frames {
			switch frame := f.(type) {
			case *wire.CryptoFrame:
				c.queueControlFrame(frame)
			case *wire.StreamFrame:
				// data still lives in the stream's send buffer offset
				// tracking; mark it active again so the framer re-pulls it.
				c.framer.AddActiveStream(frame.StreamID)
			default:
				if wire.IsFrameAckEliciting(f) {
					c.queueControlFrame(f)
				}
			}
		}
	}
}

func (c *Connection) sendCryptoEvents() error {
	for {
		ev := c.cryptoSetup.NextEvent()
		switch ev.Kind {
		case handshake.EventNoEvent:
			return nil
		case handshake.EventWriteInitialData:
			c.queueControlFrame(&wire.CryptoFrame{Data: ev.Data})
		case handshake.EventWriteHandshakeData:
			c.queueControlFrame(&wire.CryptoFrame{Data: ev.Data})
		case handshake.EventHandshakeComplete:
			c.setState(stateEstablished)
			c.sentPacketHandler.SetHandshakeConfirmed()
			close(c.handshakeDone)
		}
	}
}

func (c *Connection) sendPackets() error {
	for _, level := range []protocol.EncryptionLevel{protocol.EncryptionInitial, protocol.EncryptionHandshake, protocol.Encryption1RTT} {
		for {
			ack := c.popPendingAck(level)
			// ACKs aren't congestion controlled; only gate and pace
			// packets that would otherwise carry retransmittable data.
			if ack == nil {
				if !c.sentPacketHandler.CanSend() {
					break
				}
				now := time.Now()
				if d := c.pacer.TimeUntilSend(now, protocol.DefaultMaxDatagramSize); d > 0 {
					c.pacedUntil = now.Add(d)
					break
				}
				if !c.framer.HasData() {
					break
				}
			}
			packed, err := c.packer.PackPacket(level, ack, time.Now())
			if err != nil {
				return err
			}
			if packed == nil {
				break
			}
			c.sentPacketHandler.SentPacket(packed.packet)
			c.pacer.SentPacket(packed.packet.SendTime, packed.packet.Length)
			if _, err := c.conn.WriteTo(packed.raw, c.remoteAddr); err != nil {
				return err
			}
		}
	}
	return nil
}

// popPendingAck builds an ACK frame covering every packet number queued
// for level since the last one was sent, collapsing the set into
// contiguous ranges (largest range first) rather than just acking the
// single largest PN seen.
func (c *Connection) popPendingAck(level protocol.EncryptionLevel) *wire.AckFrame {
	pns := c.ackQueues[level]
	if len(pns) == 0 {
		return nil
	}
	c.ackQueues[level] = nil

	sorted := append([]protocol.PacketNumber{}, pns...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })

	ranges := []wire.AckRange{{Smallest: sorted[0], Largest: sorted[0]}}
	for _, pn := range sorted[1:] {
		last := &ranges[len(ranges)-1]
		switch {
		case pn == last.Smallest-1:
			last.Smallest = pn
		case pn == last.Smallest:
			// duplicate PN, already covered by the current range
		default:
			ranges = append(ranges, wire.AckRange{Smallest: pn, Largest: pn})
		}
	}
	return &wire.AckFrame{Largest: sorted[0], Ranges: ranges}
}

// closeLocal records the error that's ending the connection and, unless
// it's already draining on a close frame received from the peer, moves
// to the closing state and queues our own CONNECTION_CLOSE. It's the
// single entry point into the closing/draining period on failure; the
// caller is responsible for then running runClosingPeriod.
func (c *Connection) closeLocal(err error) error {
	c.mu.Lock()
	if c.state == stateClosing || c.state == stateDead {
		c.mu.Unlock()
		return c.runErr
	}
	draining := c.state == stateDraining
	if !draining {
		c.state = stateClosing
	}
	c.runErr = err
	c.mu.Unlock()
	c.streamsMap.closeWithError(err)

	if !draining {
		code, isApplication, reason := errorToCloseFrame(err)
		c.closeFrame = &wire.ConnectionCloseFrame{IsApplicationError: isApplication, ErrorCode: uint16(code), ReasonPhrase: reason}
		c.queueControlFrame(c.closeFrame)
	}
	return err
}

// errorToCloseFrame maps a Go error into the fields a CONNECTION_CLOSE
// frame needs, preserving the original transport error code and reason
// when there is one, and falling back to INTERNAL_ERROR otherwise.
func errorToCloseFrame(err error) (code qerr.ErrorCode, isApplication bool, reason string) {
	if te, ok := err.(*qerr.TransportError); ok {
		return te.ErrorCode, te.IsApplicationError, te.Reason
	}
	return qerr.InternalError, false, err.Error()
}

// CloseWithError closes the connection locally, sending a
// CONNECTION_CLOSE (or APPLICATION_CLOSE) to the peer and holding the
// connection open for one closing period to repeat it.
func (c *Connection) CloseWithError(code qerr.ErrorCode, isApplication bool, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.state == stateDead {
			c.mu.Unlock()
			return
		}
		c.state = stateClosing
		c.mu.Unlock()

		c.closeFrame = &wire.ConnectionCloseFrame{IsApplicationError: isApplication, ErrorCode: uint16(code), ReasonPhrase: reason}
		c.queueControlFrame(c.closeFrame)
		close(c.closeRequested)
	})
	return nil
}

// OpenStream opens a new local bidirectional stream.
func (c *Connection) OpenStream() (*Stream, error) { return c.streamsMap.OpenStream() }

// OpenUniStream opens a new local unidirectional stream.
func (c *Connection) OpenUniStream() (*Stream, error) { return c.streamsMap.OpenUniStream() }

// AcceptStream blocks until the peer opens a new stream.
func (c *Connection) AcceptStream() (*Stream, error) { return c.streamsMap.AcceptStream() }

// RemoteAddr returns the peer's address. Connection has no LocalAddr.
func (c *Connection) RemoteAddr() net.Addr { return c.remoteAddr }

func (c *Connection) String() string {
	return fmt.Sprintf("connection %s -> %s", c.srcConnID, c.destConnID)
}
