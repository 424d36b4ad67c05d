package ctcp

import "sort"

// inSegment is a single received-but-undelivered payload, owned by recvQueue
// until deliver hands it to the sink.
type inSegment struct {
	seq     Value
	payload []byte
}

// recvQueue reassembles out-of-order segments into an ordered, sparse
// buffer keyed by seqno: a seqno-sorted slice with binary-searched insert,
// rather than a linear-scan list, so lookups stay logarithmic even with many
// outstanding gaps; an insert finds its position by binary search and then
// shifts the tail of the slice.
type recvQueue struct {
	entries     []inSegment
	recvNext    Value // next in-order byte expected; our cumulative ACK target.
	deliverNext Value // next byte to hand to the sink; trails recvNext under backpressure.
	cap         Size  // cfg.RecvWindow: total reassembly buffer capacity.
	log         logger
}

func (q *recvQueue) reset(irs Value, recvWindow Size, log logger) {
	q.entries = q.entries[:0]
	q.recvNext = irs
	q.deliverNext = irs
	q.cap = recvWindow
	q.log = log
}

// buffered returns the number of not-yet-delivered bytes currently held in
// entries, in order or not, i.e. occupying reassembly capacity.
func (q *recvQueue) buffered() Size {
	var n Size
	for i := range q.entries {
		n += Size(len(q.entries[i].payload))
	}
	return n
}

// windowAvail is the advertised receive window: reassembly capacity not
// currently occupied by buffered (undelivered) bytes.
func (q *recvQueue) windowAvail() Size {
	b := q.buffered()
	if b >= q.cap {
		return 0
	}
	return q.cap - b
}

// onData admits a received payload at seq. It reports errDuplicate when seq
// is fully covered by data already accounted for (recvNext has already
// passed it) — the caller still ACKs in that case — and errOutOfWindow when
// the payload does not fit the remaining reassembly capacity, in which case
// the caller must not ACK.
func (q *recvQueue) onData(seq Value, payload []byte) error {
	end := Add(seq, Size(len(payload)))
	if end.LessThanEq(q.recvNext) {
		return errDuplicate
	}
	if Size(len(payload)) > q.windowAvail() {
		return errOutOfWindow
	}
	idx, found := q.search(seq)
	if found {
		return errDuplicate // already-buffered copy at this exact seqno wins.
	}
	entry := inSegment{seq: seq, payload: append([]byte(nil), payload...)}
	q.entries = append(q.entries, inSegment{})
	copy(q.entries[idx+1:], q.entries[idx:])
	q.entries[idx] = entry

	q.advanceRecvNext()
	return nil
}

// advanceRecvNext extends recvNext across any run of contiguous entries
// starting at recvNext. Entries are not removed here; deliver retires them.
func (q *recvQueue) advanceRecvNext() {
	for {
		i, found := q.search(q.recvNext)
		if !found {
			return
		}
		q.recvNext = Add(q.recvNext, Size(len(q.entries[i].payload)))
	}
}

// deliver writes contiguous, in-order payload starting at deliverNext to
// sink, stopping when the next entry is missing, out of order, or the sink
// backpressures (Free reports less room than the next entry's payload, or a
// Write is short).
func (q *recvQueue) deliver(sink Sink) error {
	for len(q.entries) > 0 {
		i, found := q.search(q.deliverNext)
		if !found {
			return nil // gap at deliverNext: nothing more to deliver yet.
		}
		entry := &q.entries[i]
		if sink.Free() < len(entry.payload) {
			return nil // backpressure: stop, preserve the entry for later.
		}
		n, err := sink.Write(entry.payload)
		if err != nil {
			return err
		}
		q.deliverNext = Add(q.deliverNext, Size(n))
		if n < len(entry.payload) {
			entry.payload = entry.payload[n:]
			entry.seq = q.deliverNext
			return nil
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
	}
	return nil
}

// search returns the index of the entry with the given seq, and whether one
// was found, using a binary search over the seqno-sorted slice.
func (q *recvQueue) search(seq Value) (int, bool) {
	n := len(q.entries)
	i := sort.Search(n, func(i int) bool {
		return !q.entries[i].seq.LessThan(seq)
	})
	if i < n && q.entries[i].seq == seq {
		return i, true
	}
	return i, false
}
