package main

import "net"

// udpTransport sends encoded segments to a fixed peer address over a
// connected UDP socket. It implements ctcp.Transport; it is plain
// collaborator code, not protocol logic, so it leans on the standard
// library rather than any packet-crafting dependency.
type udpTransport struct {
	conn *net.UDPConn
}

func dialUDP(laddr, raddr string) (*udpTransport, error) {
	local, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	remote, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", local, remote)
	if err != nil {
		return nil, err
	}
	return &udpTransport{conn: conn}, nil
}

func (t *udpTransport) Send(buf []byte) (int, error) {
	return t.conn.Write(buf)
}

func (t *udpTransport) Close() error { return t.conn.Close() }
