package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	applog "pulse/internal/log"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("UDP sender is closed")

// UDPSender handles sending data packets over UDP.
type UDPSender struct {
	conn       *net.UDPConn
	targetAddr *net.UDPAddr
	mu         sync.Mutex // protects conn during Close
	closed     bool
	failures   int
}

// NewUDPSender creates a new UDPSender targeting "host:port".
func NewUDPSender(targetAddress string) (*UDPSender, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP target address '%s': %w", targetAddress, err)
	}

	// No local bind needed for sending.
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP for target '%s': %w", targetAddress, err)
	}

	applog.Infof("UDPSender: Connection established to %s", conn.RemoteAddr())
	return &UDPSender{conn: conn, targetAddr: udpAddr}, nil
}

// Target returns the resolved destination.
func (s *UDPSender) Target() *net.UDPAddr {
	return s.targetAddr
}

// Send transmits data as one datagram. Consecutive failures (typically
// ECONNREFUSED while no listener is up) are logged once.
func (s *UDPSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, err := s.conn.Write(data); err != nil {
		s.failures++
		if s.failures == 1 {
			applog.Warnf("UDPSender: Error sending packet: %v", err)
		}
		return fmt.Errorf("failed to send UDP packet: %w", err)
	}
	if s.failures > 0 {
		applog.Infof("UDPSender: Sending again after %d failures", s.failures)
		s.failures = 0
	}
	return nil
}

// Close closes the underlying UDP connection.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}

	applog.Infof("UDPSender: Closing connection to %s", s.conn.RemoteAddr())
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close UDP connection: %w", err)
	}
	return nil
}

var _ interface{ Close() error } = (*UDPSender)(nil)
