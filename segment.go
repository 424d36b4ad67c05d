package ctcp

import (
	"encoding/binary"
	"fmt"

	"github.com/soypat/ctcp/internal/xsum"
)

// HeaderSize is the fixed size in bytes of a cTCP segment header: seqno(4) +
// ackno(4) + len(2) + flags(4) + window(2) + cksum(2).
const HeaderSize = 18

// Segment is the decoded, host-order representation of a cTCP segment,
// independent of its wire encoding.
type Segment struct {
	Seq     Value // byte-offset of the first payload byte (or next byte to send, for pure control segments).
	Ack     Value // next expected in-order byte-offset from the peer.
	Window  Size  // payload bytes the sender currently advertises willingness to receive.
	Flags   Flags
	Payload []byte // nil or empty for pure control segments.
}

// Len returns the segment's length in the sequence space: payload length,
// plus one if FIN is set, since FIN consumes one sequence number for
// ACK-matching purposes.
func (seg *Segment) Len() Size {
	n := Size(len(seg.Payload))
	if seg.Flags.HasAny(FlagFIN) {
		n++
	}
	return n
}

// Last returns the sequence number of the segment's last occupied octet,
// i.e. Seq if the segment is zero-length (a bare ACK), else Seq+Len-1.
func (seg *Segment) Last() Value {
	n := seg.Len()
	if n == 0 {
		return seg.Seq
	}
	return Add(seg.Seq, n) - 1
}

func (seg Segment) String() string {
	return fmt.Sprintf("<SEQ=%d><ACK=%d><WND=%d>%s data=%d", seg.Seq, seg.Ack, seg.Window, seg.Flags, len(seg.Payload))
}

// Mask returns flags with every bit outside flagMask cleared.
func (flags Flags) Mask() Flags { return flags & flagMask }

// Frame wraps a raw byte buffer holding an encoded cTCP segment and provides
// field-level accessors. Frame methods never allocate.
type Frame struct {
	buf []byte
}

// ErrShortBuffer is returned by NewFrame when buf cannot possibly hold a
// valid header.
var ErrShortBuffer = newErr("ctcp: buffer shorter than header")

// NewFrame wraps buf as a Frame. buf must be at least HeaderSize bytes; the
// caller must still call Decode before trusting Payload().
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, ErrShortBuffer
	}
	return Frame{buf: buf}, nil
}

// RawData returns the underlying buffer the Frame was constructed from.
func (f Frame) RawData() []byte { return f.buf }

func (f Frame) Seq() Value   { return Value(binary.BigEndian.Uint32(f.buf[0:4])) }
func (f Frame) Ack() Value   { return Value(binary.BigEndian.Uint32(f.buf[4:8])) }
func (f Frame) Len() uint16  { return binary.BigEndian.Uint16(f.buf[8:10]) }
func (f Frame) rawFlags() Flags {
	return Flags(binary.BigEndian.Uint32(f.buf[10:14]))
}
func (f Frame) Flags() Flags  { return f.rawFlags().Mask() }
func (f Frame) Window() uint16 { return binary.BigEndian.Uint16(f.buf[14:16]) }
func (f Frame) cksumField() uint16 { return binary.BigEndian.Uint16(f.buf[16:18]) }

// Payload returns the tail of the frame past HeaderSize. The caller must
// have validated Len() against len(buf) first (Decode does this).
func (f Frame) Payload() []byte { return f.buf[HeaderSize:] }

func (f Frame) setSeq(v Value)         { binary.BigEndian.PutUint32(f.buf[0:4], uint32(v)) }
func (f Frame) setAck(v Value)         { binary.BigEndian.PutUint32(f.buf[4:8], uint32(v)) }
func (f Frame) setLen(v uint16)        { binary.BigEndian.PutUint16(f.buf[8:10], v) }
func (f Frame) setFlags(v Flags)       { binary.BigEndian.PutUint32(f.buf[10:14], uint32(v)) }
func (f Frame) setWindow(v uint16)     { binary.BigEndian.PutUint16(f.buf[14:16], v) }
func (f Frame) setCksumField(v uint16) { binary.BigEndian.PutUint16(f.buf[16:18], v) }

// Encode lays out seg into buf in wire format and returns the encoded byte
// slice (buf[:HeaderSize+len(seg.Payload)]). len(buf) must be at least the
// full header plus payload; otherwise Encode returns ErrShortBuffer.
func Encode(buf []byte, seg Segment) ([]byte, error) {
	total := HeaderSize + len(seg.Payload)
	if len(buf) < total {
		return nil, ErrShortBuffer
	}
	if seg.Window > 0xffff {
		return nil, errWindowTooWide
	}
	buf = buf[:total]
	frm := Frame{buf: buf}
	frm.setSeq(seg.Seq)
	frm.setAck(seg.Ack)
	frm.setLen(uint16(total))
	frm.setFlags(seg.Flags.Mask())
	frm.setWindow(uint16(seg.Window))
	frm.setCksumField(0)
	copy(buf[HeaderSize:], seg.Payload)
	sum := xsum.NeverZero(xsum.Checksum(buf))
	frm.setCksumField(sum)
	return buf, nil
}

// Decode parses buf as a cTCP segment, validating its checksum, declared
// length, and reserved bits. It returns ErrCorrupt (never a typed panic) on
// any inconsistency: a checksum failure, a short read, a declared length
// inconsistent with the received byte count, or a reserved flag bit set. The
// caller is expected to silently drop the segment rather than propagate the
// error to the peer.
func Decode(buf []byte) (Segment, error) {
	if len(buf) < HeaderSize {
		return Segment{}, ErrCorrupt
	}
	frm := Frame{buf: buf}
	declared := frm.Len()
	if int(declared) != len(buf) || declared < HeaderSize {
		return Segment{}, ErrCorrupt
	}
	gotCksum := frm.cksumField()
	frm.setCksumField(0)
	wantCksum := xsum.NeverZero(xsum.Checksum(buf))
	frm.setCksumField(gotCksum) // restore; Decode must not mutate buf observably.
	if gotCksum != wantCksum {
		return Segment{}, ErrCorrupt
	}
	rawFlags := frm.rawFlags()
	if rawFlags&^flagMask != 0 {
		return Segment{}, ErrCorrupt
	}
	payload := buf[HeaderSize:]
	seg := Segment{
		Seq:    frm.Seq(),
		Ack:    frm.Ack(),
		Window: Size(frm.Window()),
		Flags:  rawFlags,
	}
	if len(payload) > 0 {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		seg.Payload = cp
	}
	return seg, nil
}
