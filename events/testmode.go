package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"time"
)

func unmarshal(data []byte, env *Envelope) error {
	return json.Unmarshal(data, env)
}

func unmarshalBody(r *http.Request, env *Envelope) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(env)
}

// TestSocketListener is the ephemeral listener `events --socket`
// spawns: it accepts exactly one connection, decodes one newline-delimited
// JSON envelope, and reports it, narrowed from the teacher's
// ServeUnix/acquireLock accept-loop (mux_server.go) down to a single-shot
// probe listener rather than a persistent command-dispatch daemon (see
// REDESIGN FLAGS).
type TestSocketListener struct {
	Path string

	listener net.Listener
}

// NewTestSocketListener creates (removing any stale socket file first) and
// starts listening at path.
func NewTestSocketListener(path string) (*TestSocketListener, error) {
	os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	return &TestSocketListener{Path: path, listener: l}, nil
}

// Close stops listening and removes the socket file.
func (t *TestSocketListener) Close() error {
	err := t.listener.Close()
	os.Remove(t.Path)
	return err
}

// AcceptOne blocks, with the given deadline, for a single connection and
// returns the one JSON line it wrote.
func (t *TestSocketListener) AcceptOne(timeout time.Duration) (Envelope, error) {
	type accepted struct {
		conn net.Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		conn, err := t.listener.Accept()
		ch <- accepted{conn, err}
	}()

	select {
	case a := <-ch:
		if a.err != nil {
			return Envelope{}, a.err
		}
		defer a.conn.Close()
		a.conn.SetReadDeadline(time.Now().Add(timeout))
		scanner := bufio.NewScanner(a.conn)
		if !scanner.Scan() {
			return Envelope{}, fmt.Errorf("no line received: %w", scanner.Err())
		}
		var env Envelope
		if err := unmarshal(scanner.Bytes(), &env); err != nil {
			return Envelope{}, err
		}
		return env, nil
	case <-time.After(timeout):
		return Envelope{}, fmt.Errorf("timed out waiting for a connection on %s", t.Path)
	}
}

// TestWebhookServer is the per-URL probe target `events --webhook` tests
// against: an httptest.Server recording each request's body so callers can
// assert the envelope shape and headers.
type TestWebhookServer struct {
	*httptest.Server
	Received chan Envelope
}

// NewTestWebhookServer starts an httptest.Server that decodes and records
// every POST body as an Envelope.
func NewTestWebhookServer() *TestWebhookServer {
	received := make(chan Envelope, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env Envelope
		if err := unmarshalBody(r, &env); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- env
		w.WriteHeader(http.StatusOK)
	}))
	return &TestWebhookServer{Server: srv, Received: received}
}
