package ctcp

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/soypat/ctcp/internal/ilist"
)

// Connection is one cTCP endpoint: the segment codec plus send/receive
// sliding-window state, retransmission timer, cumulative ACK logic,
// out-of-order reassembly, flow control, and the FIN-based shutdown
// handshake. A Connection never blocks and never spawns a goroutine; all
// work happens inline inside its four event handlers.
type Connection struct {
	// Entry links this Connection into an Engine's registry list. Embedded
	// so *Connection satisfies ilist.Linker without a wrapper type.
	ilist.Entry

	state State

	snd sendQueue
	rcv recvQueue

	finSent     bool
	finSentSeq  Value
	finSentAck  bool
	finRecv     bool

	transport Transport
	source    Source
	sink      Sink
	clock     Clock
	log       logger
	metrics   *Metrics

	id string // opaque, caller-assigned, used only for logging/metrics.
}

// SetMetrics attaches m so the connection's send queue and decode path
// report into it. Pass nil to stop reporting.
func (c *Connection) SetMetrics(m *Metrics) {
	c.metrics = m
	c.snd.metrics = m
}

// NewConnection constructs a Connection ready to exchange segments.
// iss/irs are the initial send/receive sequence values; since cTCP has no
// handshake these are typically 0 or caller-chosen, agreed out of band.
func NewConnection(id string, iss, irs Value, cfg Config, transport Transport, source Source, sink Sink, clock Clock, slogger *slog.Logger) *Connection {
	if clock == nil {
		clock = SystemClock{}
	}
	c := &Connection{
		id:        id,
		state:     StateEstablished,
		transport: transport,
		source:    source,
		sink:      sink,
		clock:     clock,
		log:       newLogger(slogger),
	}
	c.snd.reset(iss, cfg, c.log)
	c.rcv.reset(irs, cfg.RecvWindow, c.log)
	return c
}

// State reports the connection's current lifecycle state.
func (c *Connection) State() State { return c.state }

// ID returns the caller-assigned connection identifier.
func (c *Connection) ID() string { return c.id }

// RecvWindowAvail is the receive-buffer-backed flow-control value advertised
// to the peer in every outgoing segment.
func (c *Connection) RecvWindowAvail() Size { return c.rcv.windowAvail() }

// PeerSendWindow is the most recently advertised window from the peer,
// constraining how many bytes this side may have in flight.
func (c *Connection) PeerSendWindow() Size { return c.snd.sendWnd }

// OnReceive processes one datagram arriving from the peer. Corrupt segments
// are silently dropped, matching the wire-level corruption policy.
func (c *Connection) OnReceive(buf []byte) error {
	seg, err := Decode(buf)
	if err != nil {
		if c.metrics != nil {
			c.metrics.incCorrupt()
		}
		c.log.debug("rx: drop corrupt segment", slog.String("err", err.Error()))
		return nil
	}
	if c.metrics != nil {
		c.metrics.incReceived()
	}
	c.log.traceSeg("rx", seg)

	if seg.Flags.HasAny(FlagACK) {
		retiredFIN := c.snd.onACK(seg.Ack, seg.Window)
		if retiredFIN {
			c.finSentAck = true
		}
	}

	ackDue := false
	if len(seg.Payload) > 0 && c.state.CanReceive() {
		err := c.rcv.onData(seg.Seq, seg.Payload)
		switch err {
		case nil:
			ackDue = true
		case errDuplicate:
			ackDue = true
		case errOutOfWindow:
			// drop without ACKing; peer will time out and retransmit.
		default:
			return errors.Wrapf(err, "ctcp: connection %s: reassembly", c.id)
		}
	}

	// CanReceive alone would exclude StateClosing/StateTimeWait, which is
	// right for fresh payload but wrong here: a FIN retransmission can
	// legitimately arrive after this side has already advanced into one of
	// those states, and it still needs re-acking.
	if seg.Flags.HasAny(FlagFIN) && c.state != StateClosed {
		finSeq := seg.Seq
		if len(seg.Payload) > 0 {
			finSeq = Add(seg.Seq, Size(len(seg.Payload)))
		}
		switch {
		case finSeq == c.rcv.recvNext:
			c.rcv.recvNext = Add(c.rcv.recvNext, 1)
			c.finRecv = true
			ackDue = true
			if c.sink != nil {
				if _, err := c.sink.Write(nil); err != nil {
					return errors.Wrapf(err, "ctcp: connection %s: eof signal", c.id)
				}
			}
			c.advanceAfterPeerFIN()
		case c.finRecv && Add(finSeq, 1) == c.rcv.recvNext:
			// The peer never saw our first FIN-ACK and retransmitted the
			// same FIN. recvNext has already moved past it, so there is
			// nothing left to advance or signal — but it still needs an ACK,
			// or the peer exhausts its own retransmit ceiling and aborts
			// instead of closing gracefully.
			ackDue = true
		}
	}

	if err := c.deliverAndAck(ackDue); err != nil {
		return err
	}
	return c.maybeDestroy()
}

// advanceAfterPeerFIN moves the state machine forward once the peer's FIN
// has been observed.
func (c *Connection) advanceAfterPeerFIN() {
	switch c.state {
	case StateEstablished:
		c.state = StateClosing
	case StateFinWait:
		c.state = StateTimeWait
	}
}

// OnRead is called when application data is available from source. It
// drains source into the send queue subject to available peer window, then
// pumps whatever fits onto the wire.
func (c *Connection) OnRead() error {
	if !c.state.CanSend() {
		return nil
	}
	avail := c.snd.sendWnd
	if c.snd.cfg.SendWindow < avail {
		avail = c.snd.cfg.SendWindow
	}
	if c.snd.inFlight() >= avail {
		return nil // no room to admit more; retransmission of in-flight data still proceeds via OnTimer.
	}
	buf := make([]byte, int(avail-c.snd.inFlight()))
	n, err := c.source.Read(buf)
	if n > 0 {
		c.snd.admit(buf[:n], false)
	}
	if err != nil {
		c.beginLocalShutdown()
	}
	_, err = c.pumpAndTrack()
	return err
}

// beginLocalShutdown is invoked on local EOF: it marks fin_sent and enqueues
// a bare FIN segment, consuming one sequence number.
func (c *Connection) beginLocalShutdown() {
	if c.finSent {
		return
	}
	c.finSentSeq = c.snd.sendNext
	c.snd.admit(nil, true)
	c.finSent = true
	if c.state == StateClosing {
		c.state = StateTimeWait // peer's FIN already received.
	} else {
		c.state = StateFinWait
	}
}

// OnOutput is called when the local sink has drained and can accept more
// bytes; it resumes delivery from the reassembly buffer.
func (c *Connection) OnOutput() error {
	if err := c.rcv.deliver(c.sink); err != nil {
		return errors.Wrapf(err, "ctcp: connection %s: deliver", c.id)
	}
	return c.maybeDestroy()
}

// OnTimer is the periodic retransmission/timeout sweep. now is the current
// time as reported by Clock; rtTimeout is read from Config.
func (c *Connection) OnTimer(now timeInstant) error {
	elapsed := func(sent timeInstant) bool {
		return now.Sub(sent) > c.snd.cfg.RTTimeout
	}
	ack := c.rcv.recvNext
	wnd := c.rcv.windowAvail()
	err := c.snd.onTick(c.transport, ack, wnd, now, elapsed)
	if err == errRetransmitCeiling {
		c.log.logerr("peer unresponsive, aborting", slog.String("conn", c.id))
		c.state = StateClosed
		return err
	}
	if err != nil {
		return errors.Wrapf(err, "ctcp: connection %s: retransmit", c.id)
	}
	return c.maybeDestroy()
}

// pumpAndTrack transmits any admitted-but-unsent records and returns how many
// went out, so callers can tell whether a freshly pumped segment already
// piggybacked the current cumulative ACK.
func (c *Connection) pumpAndTrack() (int, error) {
	ack := c.rcv.recvNext
	wnd := c.rcv.windowAvail()
	now := c.clock.Now()
	sent, err := c.snd.pump(c.transport, ack, wnd, now)
	if err != nil {
		return sent, errors.Wrapf(err, "ctcp: connection %s: pump", c.id)
	}
	return sent, nil
}

// deliverAndAck runs the delivery step and, if ackDue, emits a bare ACK
// segment carrying the current cumulative ack and advertised window — unless
// pump already transmitted a segment this call, since every outgoing segment
// carries the cumulative ack and a second one would be redundant. deliver
// always runs at the end of OnReceive, per the single delivery-point rule.
func (c *Connection) deliverAndAck(ackDue bool) error {
	if err := c.rcv.deliver(c.sink); err != nil {
		return errors.Wrapf(err, "ctcp: connection %s: deliver", c.id)
	}
	sent, err := c.pumpAndTrack()
	if err != nil {
		return err
	}
	if !ackDue || sent > 0 {
		return nil
	}
	seg := Segment{
		Seq:    c.snd.sendNext,
		Ack:    c.rcv.recvNext,
		Window: c.rcv.windowAvail(),
		Flags:  FlagACK,
	}
	buf := make([]byte, HeaderSize)
	out, err := Encode(buf, seg)
	if err != nil {
		return errors.Wrapf(err, "ctcp: connection %s: encode ack", c.id)
	}
	if _, err := c.transport.Send(out); err != nil {
		return errors.Wrapf(err, "ctcp: connection %s: send ack", c.id)
	}
	c.log.traceSeg("tx ack", seg)
	return nil
}

// maybeDestroy transitions to StateClosed once both FINs have been
// exchanged and acked and no unacked data remains.
func (c *Connection) maybeDestroy() error {
	if c.finSent && c.finSentAck && c.finRecv && c.snd.empty() {
		c.state = StateClosed
	}
	return nil
}
