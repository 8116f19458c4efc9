// Package transport sends detection payloads as single UDP datagrams.
package transport

import (
	"NoteDetClient/payload"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
)

var ErrClosed = errors.New("udp sender closed")

// UDPSender is a connectionless socket bound to one destination.
// No acknowledgement, retry or sequencing.
type UDPSender struct {
	mu   sync.Mutex
	conn net.PacketConn
	dest *net.UDPAddr
}

// NewUDPSender resolves ip:port and opens an unconnected socket. The socket is
// not connected so ICMP unreachable replies never surface as write errors.
func NewUDPSender(ip string, port int) (*UDPSender, error) {
	if net.ParseIP(ip) == nil {
		return nil, fmt.Errorf("invalid destination ip %q", ip)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid destination port %d", port)
	}
	dest, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}
	network := "udp4"
	if dest.IP.To4() == nil {
		network = "udp6"
	}
	conn, err := net.ListenPacket(network, ":0")
	if err != nil {
		return nil, fmt.Errorf("open udp socket: %w", err)
	}
	return &UDPSender{conn: conn, dest: dest}, nil
}

func (s *UDPSender) Destination() string {
	return s.dest.String()
}

// Send writes b as exactly one datagram. Payloads above the datagram limit
// are refused with payload.ErrPayloadTooLarge and nothing goes out.
func (s *UDPSender) Send(b []byte) error {
	if !payload.Fits(b) {
		return payload.ErrPayloadTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrClosed
	}
	if _, err := s.conn.WriteTo(b, s.dest); err != nil {
		return fmt.Errorf("send datagram to %s: %w", s.dest, err)
	}
	return nil
}

func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// GetOutboundIP returns the local address the kernel would route external
// traffic from. Dialing UDP sends no packet; only a route is needed.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
