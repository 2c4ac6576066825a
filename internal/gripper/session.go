package gripper

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// session is one TCP connection to the actuator controller plus the
// correlator bound to it. In persistent mode a single session lives for
// the client's lifetime and its correlator buffer carries partial lines
// across commands; in ephemeral mode each command gets a fresh session.
type session struct {
	id   string
	conn net.Conn
	corr *Correlator
}

// dialSession opens a connection to the controller.
func dialSession(actuator, host string, port int, connectTimeout time.Duration, logger Logger) (*session, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, addr, err)
	}

	return &session{
		id:   uuid.NewString(),
		conn: conn,
		corr: newCorrelator(actuator, conn, logger),
	}, nil
}

// roundTrip writes one command line and awaits its correlated response.
// The timeout covers the write and the wait together.
func (s *session) roundTrip(cmd []byte, expect string, timeout time.Duration) (Response, error) {
	if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("%w: set write deadline: %w", ErrTransport, err)
	}
	if _, err := s.conn.Write(cmd); err != nil {
		return nil, fmt.Errorf("%w: write: %w", ErrTransport, err)
	}

	return s.corr.Await(expect, timeout)
}

// Close closes the underlying connection.
func (s *session) Close() error {
	return s.conn.Close()
}
