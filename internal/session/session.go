// Package session implements the per-connection state machine described
// in spec.md §4.D: NEW -> PARSING -> LIVE -> CLOSING -> DEAD.
package session

import (
	"bufio"
	"errors"
	"io"
	"net"

	"github.com/babblehq/babble/internal/protocol"
	"github.com/babblehq/babble/internal/queue"
	"github.com/rs/zerolog"
)

// State is one node of the connection state machine.
type State int

const (
	StateNew State = iota
	StateParsing
	StateLive
	StateClosing
	StateDead
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateParsing:
		return "PARSING"
	case StateLive:
		return "LIVE"
	case StateClosing:
		return "CLOSING"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Selector routes a client key to one of N shard queues (§4.C).
type Selector func(key uint64, numShards int) int

// Session drives one client connection from accept to teardown.
type Session struct {
	conn   net.Conn
	logger zerolog.Logger

	queues   []*queue.Queue
	selector Selector
	idSize   int
	pubSize  int

	state State
	key   uint64 // 0 until LOGIN succeeds
}

// New creates a session for an accepted connection. queues is the full
// shard pool; selector picks one once the client's key is known.
func New(conn net.Conn, logger zerolog.Logger, queues []*queue.Queue, selector Selector, idSize, pubSize int) *Session {
	return &Session{
		conn:     conn,
		logger:   logger.With().Str("component", "session").Str("remote", conn.RemoteAddr().String()).Logger(),
		queues:   queues,
		selector: selector,
		idSize:   idSize,
		pubSize:  pubSize,
		state:    StateNew,
	}
}

// Run drives the session until the connection closes or the command
// queue rejects further work. It always leaves the session in StateDead
// on return and enqueues a synthesized UNREGISTER if the client ever
// reached StateLive (§4.D CLOSING).
func (s *Session) Run() {
	defer s.teardown()

	s.state = StateParsing
	reader := bufio.NewReader(s.conn)

	for {
		frame, err := protocol.Recv(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug().Err(err).Msg("connection read failed")
			}
			return
		}

		cmd, err := protocol.Parse(string(frame), s.idSize, s.pubSize)
		if err != nil {
			s.logger.Debug().Err(err).Msg("malformed command")
			continue
		}
		cmd.Sock = s.conn

		if s.state == StateParsing {
			if cmd.CID != protocol.LOGIN {
				s.logger.Debug().Msg("first command was not LOGIN, dropping")
				continue
			}
			if !s.login(*cmd) {
				return
			}
			continue
		}

		cmd.Key = s.key
		q := s.queueFor(s.key)
		if err := q.Enqueue(*cmd); err != nil {
			s.logger.Debug().Err(err).Msg("enqueue failed, shard is shutting down")
			return
		}
	}
}

// login dispatches a LOGIN command and blocks for its registration
// result before the session is allowed to proceed, since §4.D requires
// a failed LOGIN (registry full or duplicate key) to close the session
// rather than leave it live under a key that was never registered
// (Testable Property 3/S3). It reports whether the session may continue.
func (s *Session) login(cmd protocol.Command) bool {
	key := protocol.HashKey(cmd.Payload)
	cmd.Key = key

	done := make(chan error, 1)
	cmd.Done = done

	q := s.queueFor(key)
	if err := q.Enqueue(cmd); err != nil {
		s.logger.Debug().Err(err).Msg("login enqueue failed, shard is shutting down")
		return false
	}

	if err := <-done; err != nil {
		s.logger.Debug().Err(err).Msg("login failed, closing session")
		return false
	}

	s.key = key
	s.state = StateLive
	return true
}

func (s *Session) queueFor(key uint64) *queue.Queue {
	idx := s.selector(key, len(s.queues))
	return s.queues[idx]
}

// teardown moves the session to CLOSING, synthesizes an UNREGISTER for
// any client that completed LOGIN, and marks the session DEAD.
func (s *Session) teardown() {
	s.state = StateClosing

	if s.key != 0 {
		unregister := protocol.Command{
			CID: protocol.UNREGISTER,
			Key: s.key,
		}
		q := s.queueFor(s.key)
		// best-effort: if the shard is already shutting down there is
		// nothing further to do, the registry entry dies with the process.
		_ = q.Enqueue(unregister)
	}

	_ = s.conn.Close()
	s.state = StateDead
}

// State reports the session's current state, primarily for tests and
// diagnostics.
func (s *Session) State() State {
	return s.state
}
