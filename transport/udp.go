package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Transport abstracts the datagram path used for audio, control and
// timing packets. The abstraction keeps the send path testable without a
// network and mirrors how the rest of the client consumes it: bytes out,
// no protocol knowledge.
type Transport interface {
	// Send transmits one serialized packet to the given address.
	Send(data []byte, addr net.Addr) error

	// Close shuts down the transport. Sends after Close fail.
	Close() error

	// LocalAddr returns the local address the transport is bound to.
	LocalAddr() net.Addr
}

// UDPTransport is the datagram transport used for real sessions.
type UDPTransport struct {
	mu     sync.Mutex
	conn   net.PacketConn
	closed bool
}

// NewUDPTransport binds a UDP socket on the first free port in
// [portBase, portBase+portRange) on the given local IP. portBase zero
// lets the OS pick any port; portRange zero means exactly portBase.
func NewUDPTransport(local net.IP, portBase, portRange uint16) (*UDPTransport, error) {
	if portBase == 0 {
		conn, err := net.ListenPacket("udp", net.JoinHostPort(local.String(), "0"))
		if err != nil {
			return nil, fmt.Errorf("failed to bind UDP socket: %w", err)
		}
		return &UDPTransport{conn: conn}, nil
	}

	var lastErr error
	end := uint32(portBase) + uint32(portRange)
	if end == uint32(portBase) {
		end++
	}
	for port := uint32(portBase); port < end && port <= 0xFFFF; port++ {
		conn, err := net.ListenPacket("udp", fmt.Sprintf("%s:%d", local, port))
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"function": "NewUDPTransport",
				"addr":     conn.LocalAddr().String(),
			}).Debug("Bound UDP socket")
			return &UDPTransport{conn: conn}, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free port in range %d-%d: %w", portBase, end-1, lastErr)
}

// Send transmits one serialized packet to the given address.
func (t *UDPTransport) Send(data []byte, addr net.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport is closed")
	}
	if _, err := t.conn.WriteTo(data, addr); err != nil {
		return fmt.Errorf("failed to send packet: %w", err)
	}
	return nil
}

// Close shuts down the underlying socket.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// LocalAddr returns the bound local address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}
