package ctcp

// State enumerates the states a cTCP connection progresses through. The
// protocol assumes the connection is already open on creation (there is no
// SYN handshake), so StateEstablished is the entry state rather than
// StateClosed.
type State uint8

const (
	// StateEstablished is the entry state: the normal state for data
	// transfer, entered immediately on connection creation.
	StateEstablished State = iota
	// StateFinWait means the local side has seen local EOF and queued or
	// sent its own FIN, but has not yet seen the peer's FIN.
	StateFinWait
	// StateClosing means the peer's FIN has been received (and ACKed) but
	// the local FIN is still unacked, or not yet sent.
	StateClosing
	// StateTimeWait means the local FIN has been queued or sent and the
	// peer's FIN has been received. The connection moves to StateClosed as
	// soon as the local FIN is ACKed and no unacked data remains; there is
	// no timed hold before teardown.
	StateTimeWait
	// StateClosed is the terminal pseudo-state: the connection has been
	// destroyed and all resources released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait:
		return "FIN-WAIT"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME-WAIT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// IsClosing reports whether the connection is tearing down but not yet
// fully closed.
func (s State) IsClosing() bool {
	return s == StateFinWait || s == StateClosing || s == StateTimeWait
}

// IsClosed reports whether the connection has been fully torn down.
func (s State) IsClosed() bool { return s == StateClosed }

// CanSend reports whether the local side may still admit new payload bytes
// for transmission (i.e. local EOF has not yet been processed).
func (s State) CanSend() bool {
	return s == StateEstablished || s == StateClosing
}

// CanReceive reports whether payload bytes arriving from the peer should
// still be accepted into the reassembly buffer. Once the peer's FIN has been
// seen there is nothing more to reassemble.
func (s State) CanReceive() bool {
	return s == StateEstablished || s == StateFinWait
}
