package ctcp

import (
	"testing"
	"time"
)

// queuedTransport models the non-blocking, fire-and-forget Send contract:
// a sent datagram becomes visible to the peer only on a later, separate
// OnReceive call, never synchronously inside Send itself. This matters
// because a real Transport never calls back into this connection from
// within Send, and tests must not either — a synchronous loopback would
// reenter the send queue mid-pump.
type queuedTransport struct {
	pending *[][]byte
}

func (q *queuedTransport) Send(buf []byte) (int, error) {
	*q.pending = append(*q.pending, append([]byte(nil), buf...))
	return len(buf), nil
}

type bytesSource struct {
	data []byte
	eof  bool
}

func (s *bytesSource) Read(buf []byte) (int, error) {
	if len(s.data) == 0 {
		if s.eof {
			return 0, errConnClosed // sentinel stands in for io.EOF in this harness.
		}
		return 0, nil
	}
	n := copy(buf, s.data)
	s.data = s.data[n:]
	return n, nil
}

type connPair struct {
	a, b       *Connection
	outA, outB [][]byte
	src        *bytesSource
	sinkB      *fakeSink
}

func newConnPair(t *testing.T, cfgA, cfgB Config) *connPair {
	t.Helper()
	p := &connPair{src: &bytesSource{}, sinkB: newFakeSink(1 << 20)}
	p.a = NewConnection("A", 0, 0, cfgA, &queuedTransport{pending: &p.outA}, p.src, nil, SystemClock{}, nil)
	p.b = NewConnection("B", 0, 0, cfgB, &queuedTransport{pending: &p.outB}, nil, p.sinkB, SystemClock{}, nil)
	return p
}

// drain delivers every queued datagram to its destination, repeating until
// neither side has anything left to send — the test-harness analogue of
// the link eventually delivering everything with no loss.
func (p *connPair) drain(t *testing.T) {
	t.Helper()
	for len(p.outA) > 0 || len(p.outB) > 0 {
		for len(p.outA) > 0 {
			msg := p.outA[0]
			p.outA = p.outA[1:]
			if err := p.b.OnReceive(msg); err != nil {
				t.Fatalf("B.OnReceive: %v", err)
			}
		}
		for len(p.outB) > 0 {
			msg := p.outB[0]
			p.outB = p.outB[1:]
			if err := p.a.OnReceive(msg); err != nil {
				t.Fatalf("A.OnReceive: %v", err)
			}
		}
	}
}

func TestConnectionCleanOneShot(t *testing.T) {
	cfg := testConfig()
	p := newConnPair(t, cfg, cfg)
	p.src.data = []byte("hello")
	if err := p.a.OnRead(); err != nil {
		t.Fatalf("OnRead: %v", err)
	}
	p.drain(t)
	if p.sinkB.buf.String() != "hello" {
		t.Fatalf("want B to receive %q, got %q", "hello", p.sinkB.buf.String())
	}
	if p.a.snd.sendBase != 5 {
		t.Fatalf("want A's sendBase advanced to 5 after ack, got %d", p.a.snd.sendBase)
	}
	if !p.a.snd.empty() {
		t.Fatal("want A's send queue empty once its only segment is acked")
	}
}

func TestConnectionGracefulShutdown(t *testing.T) {
	cfg := testConfig()
	p := newConnPair(t, cfg, cfg)
	p.src.data = []byte("bye")
	p.src.eof = true
	// B has nothing of its own to send and hits local EOF immediately too,
	// so it independently queues its own FIN once it gets around to it —
	// exactly as scenario 5 describes B sending its own FIN after A's.
	p.b.source = &bytesSource{eof: true}

	if err := p.a.OnRead(); err != nil { // sends "bye".
		t.Fatalf("OnRead data: %v", err)
	}
	p.drain(t)
	if err := p.a.OnRead(); err != nil { // source.Read now returns the sentinel EOF, queues FIN.
		t.Fatalf("OnRead eof: %v", err)
	}
	if err := p.b.OnRead(); err != nil { // B's own local EOF, queues its FIN.
		t.Fatalf("OnRead eof (B): %v", err)
	}
	p.drain(t)

	if !p.a.finSent {
		t.Fatal("want A to have queued its FIN after local EOF")
	}
	if p.sinkB.buf.String() != "bye" {
		t.Fatalf("want B to receive %q before its EOF, got %q", "bye", p.sinkB.buf.String())
	}
	if !p.sinkB.eof {
		t.Fatal("want B's sink to observe EOF once A's FIN arrives")
	}
	if !p.b.finRecv {
		t.Fatal("want B to record peer FIN received")
	}
	if p.a.State() != StateClosed {
		t.Fatalf("want A fully closed once both FINs are exchanged and acked, got %v", p.a.State())
	}
	if p.b.State() != StateClosed {
		t.Fatalf("want B fully closed once both FINs are exchanged and acked, got %v", p.b.State())
	}
}

func TestConnectionRetransmitCeilingAbortsConnection(t *testing.T) {
	cfg := testConfig()
	a := NewConnection("A", 0, 0, cfg, &fakeTransport{}, &bytesSource{}, nil, SystemClock{}, nil)
	a.snd.admit([]byte("ab"), false)
	t0 := time.Unix(0, 0)
	if _, err := a.snd.pump(a.transport, 0, 1024, t0); err != nil {
		t.Fatalf("pump: %v", err)
	}
	var lastErr error
	for i := 0; i < maxRetransmitAttempts; i++ {
		lastErr = a.OnTimer(t0.Add(time.Duration(i+1) * time.Second))
	}
	if lastErr != errRetransmitCeiling {
		t.Fatalf("want errRetransmitCeiling, got %v", lastErr)
	}
	if a.State() != StateClosed {
		t.Fatalf("want connection closed after retransmit ceiling, got %v", a.State())
	}
}

func TestConnectionDuplicateSegmentStillAcks(t *testing.T) {
	cfg := testConfig()
	p := newConnPair(t, cfg, cfg)
	p.b.rcv.recvNext = 7
	p.b.rcv.deliverNext = 7
	if err := p.b.OnReceive(mustEncode(t, Segment{Seq: 1, Ack: 0, Flags: FlagACK, Payload: []byte("abc")})); err != nil {
		t.Fatalf("OnReceive: %v", err)
	}
	if len(p.outB) == 0 {
		t.Fatal("want B to still ACK a duplicate segment")
	}
	ack, err := Decode(p.outB[len(p.outB)-1])
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Ack != 7 {
		t.Fatalf("want ack=7 for a segment fully covered by recvNext, got %d", ack.Ack)
	}
	if p.sinkB.buf.Len() != 0 {
		t.Fatal("duplicate payload must not be delivered")
	}
}

// TestConnectionRetransmittedFINStillAcks covers the case where B's first
// FIN-ACK never reaches A (dropped on the wire) and A retransmits its FIN.
// B must still ACK it even though it already recorded finRecv and advanced
// past it, or A's retransmit ceiling eventually aborts instead of closing.
func TestConnectionRetransmittedFINStillAcks(t *testing.T) {
	cfg := testConfig()
	p := newConnPair(t, cfg, cfg)
	fin := mustEncode(t, Segment{Seq: 0, Ack: 0, Flags: FlagACK | FlagFIN})

	if err := p.b.OnReceive(fin); err != nil {
		t.Fatalf("first OnReceive: %v", err)
	}
	if !p.b.finRecv {
		t.Fatal("want finRecv set after the first FIN")
	}
	p.outB = p.outB[:0] // discard B's first FIN-ACK, simulating it being lost.

	if err := p.b.OnReceive(fin); err != nil { // A retransmits the same FIN.
		t.Fatalf("retransmitted OnReceive: %v", err)
	}
	if len(p.outB) == 0 {
		t.Fatal("want B to ACK a retransmitted FIN it already recorded")
	}
	ack, err := Decode(p.outB[len(p.outB)-1])
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Ack != 1 {
		t.Fatalf("want ack=1 covering the single FIN sequence number, got %d", ack.Ack)
	}
}

func mustEncode(t *testing.T, seg Segment) []byte {
	t.Helper()
	buf := make([]byte, HeaderSize+len(seg.Payload))
	out, err := Encode(buf, seg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return out
}
