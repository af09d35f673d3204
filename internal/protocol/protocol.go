// Package protocol defines Babble's wire format and command model.
//
// This package is the Go shape of the spec's "external collaborators"
// (§6): byte-level framing, command parsing, and answer encoding. Their
// business semantics are intentionally thin here — the interesting
// concurrency work lives in registry, queue, shard, executor, session and
// server.
package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"strconv"
	"strings"
)

// CommandID identifies a Babble command. Values are stable across client
// and server, matching the table in spec.md §6.
type CommandID int

const (
	LOGIN CommandID = iota + 1
	PUBLISH
	FOLLOW
	TIMELINE
	FOLLOWCOUNT
	RDV
	UNREGISTER
)

func (c CommandID) String() string {
	switch c {
	case LOGIN:
		return "LOGIN"
	case PUBLISH:
		return "PUBLISH"
	case FOLLOW:
		return "FOLLOW"
	case TIMELINE:
		return "TIMELINE"
	case FOLLOWCOUNT:
		return "FOLLOW_COUNT"
	case RDV:
		return "RDV"
	case UNREGISTER:
		return "UNREGISTER"
	default:
		return fmt.Sprintf("CMD(%d)", int(c))
	}
}

// Command is the value copied into a shard's queue. It owns no resources
// beyond the destination socket reference, and is never mutated after
// construction (§3: "mutated never; value-copied into queue").
//
// Done, when non-nil, is a one-shot channel LOGIN uses to report its
// registration result back to the session synchronously: the session
// blocks on it before deciding whether to enter StateLive or close the
// connection (§4.D: "Registry full / duplicate: LOGIN fails, ack conveys
// failure, session closes"). It is nil for every other command.
type Command struct {
	CID            CommandID
	Key            uint64 // 0 means "not yet assigned" (LOGIN only)
	Payload        string
	AnswerExpected bool
	Streaming      bool
	Sock           net.Conn
	Done           chan error
}

// Answer carries a destination socket and a payload emitted by business
// logic. A nil Answer means "no reply" (streaming commands, UNREGISTER).
type Answer struct {
	Sock    net.Conn
	Payload []byte
}

// HashKey derives a client key by hashing a registered name. Key 0 is
// reserved "unset" (§3); the rare hash collision with 0 is remapped to 1
// so every valid name produces a usable key.
func HashKey(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	key := h.Sum64()
	if key == 0 {
		return 1
	}
	return key
}

// ParseError reports a malformed or oversized command line.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error on %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse turns one line of the wire protocol (already stripped of its
// trailing newline) into a Command. The leading "S " streaming marker, if
// present, is stripped here and reflected in Command.Streaming, matching
// §4.D's "framing layer strips it, setting a flag".
//
// idSize and publicationSize bound LOGIN/FOLLOW and PUBLISH payloads
// respectively (§3).
func Parse(line string, idSize, publicationSize int) (*Command, error) {
	line = strings.TrimRight(line, "\r\n")

	streaming := false
	if strings.HasPrefix(line, "S ") {
		streaming = true
		line = line[2:]
	}

	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 0 || fields[0] == "" {
		return nil, &ParseError{Line: line, Err: fmt.Errorf("empty command")}
	}

	idNum, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, &ParseError{Line: line, Err: fmt.Errorf("invalid command id: %w", err)}
	}
	cid := CommandID(idNum)

	payload := ""
	if len(fields) == 2 {
		payload = fields[1]
	}

	switch cid {
	case LOGIN, FOLLOW:
		if len(payload) > idSize {
			return nil, &ParseError{Line: line, Err: fmt.Errorf("payload exceeds id size %d", idSize)}
		}
	case PUBLISH:
		if len(payload) > publicationSize {
			return nil, &ParseError{Line: line, Err: fmt.Errorf("payload exceeds publication size %d", publicationSize)}
		}
	case TIMELINE, FOLLOWCOUNT, RDV:
		payload = ""
	case UNREGISTER:
		// never sent by a well-behaved client; reject explicitly
		return nil, &ParseError{Line: line, Err: fmt.Errorf("UNREGISTER is server-internal")}
	default:
		return nil, &ParseError{Line: line, Err: fmt.Errorf("unknown command id %d", idNum)}
	}

	cmd := &Command{
		CID:            cid,
		Payload:        payload,
		Streaming:      streaming,
		AnswerExpected: !streaming,
	}
	return cmd, nil
}

// --- Framing ---
//
// send/recv are the byte-level transport collaborator from §6: a 4-byte
// big-endian length prefix followed by that many bytes. The textual
// command line (§6's "ASCII, line-framed") is carried as the payload of
// one such frame; the newline terminator is cosmetic and stripped by
// Parse.

// Send transmits one length-prefixed frame.
func Send(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("send header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("send payload: %w", err)
	}
	return nil
}

// Recv reads the next length-prefixed frame. It returns io.EOF verbatim
// when the peer closed cleanly before sending a header, matching the
// session's NEW/LIVE "recv is 0 or negative -> DEAD" behavior (§4.D).
func Recv(r *bufio.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("recv payload: %w", err)
	}
	return buf, nil
}

// SendTimeline implements §6's two-phase timeline framing: a uint32 item
// count, then a uint32 timeline size, then count-1 framed publications.
// timelineSize is a business-layer-defined size hint (e.g. total bytes);
// Babble reports the number of publications actually returned.
func SendTimeline(w io.Writer, items [][]byte, timelineSize uint32) error {
	count := uint32(len(items)) + 1
	if err := Send(w, uint32Bytes(count)); err != nil {
		return fmt.Errorf("send timeline count: %w", err)
	}
	if err := Send(w, uint32Bytes(timelineSize)); err != nil {
		return fmt.Errorf("send timeline size: %w", err)
	}
	for i, item := range items {
		if err := Send(w, item); err != nil {
			return fmt.Errorf("send timeline item %d: %w", i, err)
		}
	}
	return nil
}

func uint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
