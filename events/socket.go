package events

import (
	"fmt"
	"net"
	"os"
	"time"
)

// SocketTransport writes one newline-delimited JSON envelope per Emit call
// to an AF_UNIX SOCK_STREAM socket and closes the connection, per spec.md
// §4.6. An absent socket file is not an error: the control plane may run
// for long stretches with no listener attached.
type SocketTransport struct {
	path string
	dial func(network, addr string) (net.Conn, error)
}

// NewSocketTransport returns a transport targeting the socket at path.
func NewSocketTransport(path string) *SocketTransport {
	return &SocketTransport{path: path, dial: net.Dial}
}

func (s *SocketTransport) Name() string { return "socket" }

func (s *SocketTransport) Emit(env Envelope) error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil
	}

	conn, err := s.dial("unix", s.path)
	if err != nil {
		// The socket file can vanish between the Stat above and Dial
		// here; that race is exactly the "absent socket" case, not a
		// real failure.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("connecting to %s: %w", s.path, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	payload, err := Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}
	payload = append(payload, '\n')

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("writing to %s: %w", s.path, err)
	}
	return nil
}
