package ctcp

import "errors"

// newErr names the sentinel-error constructor rather than scattering bare
// errors.New calls across the file.
func newErr(s string) error { return errors.New(s) }

var (
	// ErrCorrupt is returned by Decode when a segment fails checksum
	// validation, declares a length inconsistent with the received byte
	// count, or sets a reserved flag bit. The caller must silently drop
	// the segment, not propagate the error further.
	ErrCorrupt = newErr("ctcp: corrupt segment")

	// errDuplicate marks a segment fully covered by data already delivered
	// or already reassembled. The caller still ACKs it.
	errDuplicate = newErr("ctcp: duplicate segment")

	// errOutOfWindow marks a segment whose payload does not fit the
	// receive buffer. The caller drops it without ACKing.
	errOutOfWindow = newErr("ctcp: segment out of window")

	// errRetransmitCeiling is the internal signal that a connection's
	// unacked segment exceeded the retransmission ceiling (6 total
	// attempts). It triggers abortive teardown and is never surfaced to
	// peers.
	errRetransmitCeiling = newErr("ctcp: retransmit ceiling exceeded")

	errConnClosed    = newErr("ctcp: connection closed")
	errWindowTooWide = newErr("ctcp: window exceeds 16 bits")
)
