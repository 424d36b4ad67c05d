package ctcp

import "log/slog"

// outSegment is a single outbound, value-owned segment record awaiting
// transmission or cumulative ACK.
type outSegment struct {
	seq      Value
	flags    Flags
	payload  []byte // nil for pure control segments (bare FIN).
	sent     bool
	timeSent timeInstant
	retrans  int
}

// sendQueue holds the unacked outbound segments for one connection: an
// ordered, value-owned slice of segment records, not a shared ring buffer —
// partial acks trim the oldest record's payload directly rather than moving
// ring offsets.
type sendQueue struct {
	records  []outSegment
	sendBase Value // smallest unacked seqno.
	sendNext Value // seqno to assign to the next new byte.
	sendWnd  Size  // bytes the peer currently allows in flight.
	cfg      Config
	log      logger
	metrics  *Metrics
}

func (q *sendQueue) reset(iss Value, cfg Config, log logger) {
	q.records = q.records[:0]
	q.sendBase = iss
	q.sendNext = iss
	q.sendWnd = cfg.SendWindow
	q.cfg = cfg
	q.log = log
}

// inFlight returns the number of bytes currently between sendBase and
// sendNext: admitted but not yet cumulatively acked.
func (q *sendQueue) inFlight() Size { return Sizeof(q.sendBase, q.sendNext) }

// admit fragments data into chunks no larger than cfg.MaxSegmentData,
// assigns each a seqno, and appends it to records unsent. It does not
// transmit; call pump for that. finalFIN, if true, appends a bare FIN record
// after the data chunks (or as the sole record if data is empty).
func (q *sendQueue) admit(data []byte, finalFIN bool) {
	for len(data) > 0 {
		n := len(data)
		if n > int(q.cfg.MaxSegmentData) {
			n = int(q.cfg.MaxSegmentData)
		}
		chunk := make([]byte, n)
		copy(chunk, data[:n])
		q.records = append(q.records, outSegment{seq: q.sendNext, payload: chunk})
		q.sendNext = Add(q.sendNext, Size(n))
		data = data[n:]
	}
	if finalFIN {
		q.records = append(q.records, outSegment{seq: q.sendNext, flags: FlagFIN})
		q.sendNext = Add(q.sendNext, 1)
	}
}

// pump transmits every not-yet-sent record whose end seqno still fits within
// min(sendWnd, cfg.SendWindow) bytes of sendBase, via transport. now stamps
// each segment sent this call. It returns the number of segments actually
// transmitted, so a caller that only needs a bare ACK when nothing else went
// out this tick can tell the two cases apart.
//
// Transport.Send may, through a caller-supplied loopback transport, reenter
// this connection's onACK in the same call stack and retire or trim
// q.records out from under this loop. transmit therefore takes a seqno, not
// a pointer, and re-locates the record by seqno after Send returns — if it
// was already retired by a reentrant ack, there is nothing left to stamp.
func (q *sendQueue) pump(transport Transport, ack Value, recvWnd Size, now timeInstant) (int, error) {
	limit := q.sendWnd
	if q.cfg.SendWindow < limit {
		limit = q.cfg.SendWindow
	}
	sent := 0
	buf := make([]byte, HeaderSize+int(q.cfg.MaxSegmentData))
	for i := 0; i < len(q.records); i++ {
		rec := q.records[i]
		if rec.sent {
			continue
		}
		end := recordEnd(&rec)
		if Sizeof(q.sendBase, end) > limit {
			break // window exhausted; stop, respecting send order.
		}
		if err := q.transmit(transport, rec.seq, rec.flags, rec.payload, ack, recvWnd, now, buf); err != nil {
			return sent, err
		}
		sent++
	}
	q.logState("pump")
	return sent, nil
}

// transmit encodes and sends one segment identified by seq, then stamps the
// matching record as sent if it still exists in q.records afterward.
func (q *sendQueue) transmit(transport Transport, seq Value, flags Flags, payload []byte, ack Value, recvWnd Size, now timeInstant, buf []byte) error {
	seg := Segment{
		Seq:     seq,
		Ack:     ack,
		Window:  recvWnd,
		Flags:   flags | FlagACK,
		Payload: payload,
	}
	out, err := Encode(buf, seg)
	if err != nil {
		return err
	}
	if _, err := transport.Send(out); err != nil {
		return err
	}
	q.log.traceSeg("tx", seg)
	idx := q.indexOfSeq(seq)
	if idx < 0 {
		return nil // already retired by a reentrant ack; nothing left to stamp.
	}
	rec := &q.records[idx]
	rec.sent = true
	rec.timeSent = now
	rec.retrans++
	if q.metrics != nil {
		q.metrics.incSent()
		if rec.retrans > 1 {
			q.metrics.incRetransmitted()
		}
	}
	return nil
}

func (q *sendQueue) indexOfSeq(seq Value) int {
	for i := range q.records {
		if q.records[i].seq == seq {
			return i
		}
	}
	return -1
}

// onACK applies an incoming cumulative ack and the peer's newly advertised
// window. Records fully covered by ack are retired; a partial ack on the
// oldest in-flight record trims it in place rather than retiring it early,
// matching the rule that retirement only ever happens whole-segment... with
// one necessary relaxation: cTCP acks are byte-cumulative, so a partial ack
// covering only part of the oldest unsent-turned-sent record IS honored by
// shrinking that record, since the bytes it covers truly were received.
func (q *sendQueue) onACK(ack Value, peerWindow Size) (retiredFIN bool) {
	q.sendWnd = peerWindow
	if !q.sendBase.LessThan(ack) {
		return false // duplicate or stale ack: no retirement, window already applied.
	}
	i := 0
	for ; i < len(q.records); i++ {
		rec := &q.records[i]
		end := recordEnd(rec)
		if !end.LessThanEq(ack) {
			break
		}
		if rec.flags.HasAny(FlagFIN) {
			retiredFIN = true
		}
	}
	if i > 0 {
		q.records = append(q.records[:0], q.records[i:]...)
	}
	if len(q.records) > 0 && q.records[0].sent {
		rec := &q.records[0]
		covered := Sizeof(rec.seq, ack)
		if covered > 0 && int(covered) < len(rec.payload) {
			rec.payload = rec.payload[covered:]
			rec.seq = ack
		}
	}
	q.sendBase = ack
	q.logState("ack")
	return retiredFIN
}

// onTick resends every sent-but-unacked record whose retransmission timer
// has elapsed. It returns errRetransmitCeiling if any record has already
// reached the maximum attempt count (initial send plus five retransmits);
// the caller tears the connection down abortively in that case.
func (q *sendQueue) onTick(transport Transport, ack Value, recvWnd Size, now timeInstant, elapsed func(timeInstant) bool) error {
	buf := make([]byte, HeaderSize+int(q.cfg.MaxSegmentData))
	for i := 0; i < len(q.records); i++ {
		rec := q.records[i]
		if !rec.sent || !elapsed(rec.timeSent) {
			continue
		}
		if rec.retrans >= maxRetransmitAttempts {
			return errRetransmitCeiling
		}
		if err := q.transmit(transport, rec.seq, rec.flags, rec.payload, ack, recvWnd, now, buf); err != nil {
			return err
		}
	}
	q.logState("tick")
	return nil
}

// maxRetransmitAttempts is the total number of times a segment may be sent
// (one initial send plus five retransmissions) before the connection
// backing it is considered dead.
const maxRetransmitAttempts = 6

func (q *sendQueue) empty() bool { return len(q.records) == 0 }

func recordEnd(rec *outSegment) Value {
	n := Size(len(rec.payload))
	if rec.flags.HasAny(FlagFIN) {
		n++
	}
	return Add(rec.seq, n)
}

func (q *sendQueue) logState(msg string) {
	if !q.log.enabled(levelTrace) {
		return
	}
	q.log.trace(msg,
		slog.Uint64("snd.base", uint64(q.sendBase)),
		slog.Uint64("snd.next", uint64(q.sendNext)),
		slog.Uint64("snd.wnd", uint64(q.sendWnd)),
		slog.Int("snd.records", len(q.records)),
	)
}
