// Package transport implements common.Transport over the simulator's
// datagram socket: there is only ever one listener, and addressing is by
// the message's dst field rather than a per-peer network address, since
// every replica and every client multiplexes through the same simulator
// port on localhost.
package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/quietloop/raftkv/common"
)

// UDP is a common.Transport backed by a UDP socket connected to the
// simulator on localhost:port.
type UDP struct {
	conn *net.UDPConn
}

var _ common.Transport = &UDP{}

// Dial opens a UDP socket to the simulator on localhost:port, using an
// ephemeral local port.
func Dial(port int) (*UDP, error) {
	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, err
	}
	return &UDP{conn: conn}, nil
}

// Send encodes and writes m to the simulator socket.
func (u *UDP) Send(m common.Message) error {
	b, err := common.Encode(m)
	if err != nil {
		return err
	}
	_, err = u.conn.Write(b)
	return err
}

// Recv blocks for up to timeout waiting for one datagram from the
// simulator, decoding it into a Message.
func (u *UDP) Recv(timeout time.Duration) (common.Message, bool, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return common.Message{}, false, err
	}
	buf := make([]byte, 64*1024)
	n, err := u.conn.Read(buf)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return common.Message{}, false, nil
		}
		return common.Message{}, false, err
	}
	m, err := common.Decode(buf[:n])
	if err != nil {
		// A malformed datagram is a protocol-level error, not a
		// transport failure: drop it and keep polling rather than tearing
		// down the event loop.
		return common.Message{}, false, nil
	}
	return m, true, nil
}

// Close releases the socket.
func (u *UDP) Close() error {
	return u.conn.Close()
}
