package session

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/babblehq/babble/internal/protocol"
	"github.com/babblehq/babble/internal/queue"
	"github.com/babblehq/babble/internal/shard"
	"github.com/rs/zerolog"
)

func send(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	if err := protocol.Send(conn, []byte(line)); err != nil {
		t.Fatalf("send %q: %v", line, err)
	}
}

func TestRunRoutesLoginThenFollowupsToSameShard(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	queues := []*queue.Queue{queue.New(8), queue.New(8), queue.New(8), queue.New(8)}
	sess := New(server, zerolog.Nop(), queues, shard.Select, 32, 200)

	done := make(chan struct{})
	go func() {
		sess.Run()
		close(done)
	}()

	send(t, client, "1 alice")

	key := protocol.HashKey("alice")
	idx := shard.Select(key, len(queues))

	cmd1, err := queues[idx].Dequeue()
	if err != nil {
		t.Fatalf("dequeue login: %v", err)
	}
	if cmd1.CID != protocol.LOGIN || cmd1.Key != key {
		t.Fatalf("unexpected first command: %+v", cmd1)
	}
	if cmd1.Done == nil {
		t.Fatalf("expected LOGIN command to carry a result channel")
	}
	// simulate the executor completing registration successfully, which
	// is what unblocks the session's synchronous login wait.
	cmd1.Done <- nil

	send(t, client, "2 hello")

	cmd2, err := queues[idx].Dequeue()
	if err != nil {
		t.Fatalf("dequeue publish: %v", err)
	}
	if cmd2.CID != protocol.PUBLISH || cmd2.Key != key {
		t.Fatalf("unexpected second command: %+v", cmd2)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not exit after client closed connection")
	}

	// the teardown's synthesized UNREGISTER should also land on the same shard
	cmd3, err := queues[idx].Dequeue()
	if err != nil {
		t.Fatalf("dequeue unregister: %v", err)
	}
	if cmd3.CID != protocol.UNREGISTER || cmd3.Key != key {
		t.Fatalf("expected synthesized UNREGISTER, got %+v", cmd3)
	}
}

func TestRunDropsNonLoginFirstCommand(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	queues := []*queue.Queue{queue.New(8)}
	sess := New(server, zerolog.Nop(), queues, shard.Select, 32, 200)

	done := make(chan struct{})
	go func() {
		sess.Run()
		close(done)
	}()

	send(t, client, "2 not logged in yet")
	client.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not exit after client closed connection")
	}

	if queues[0].Len() != 0 {
		t.Fatalf("expected no commands queued, got %d", queues[0].Len())
	}
}

func TestRunClosesSessionWhenLoginFails(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	queues := []*queue.Queue{queue.New(8)}
	sess := New(server, zerolog.Nop(), queues, shard.Select, 32, 200)

	done := make(chan struct{})
	go func() {
		sess.Run()
		close(done)
	}()

	send(t, client, "1 alice")

	cmd1, err := queues[0].Dequeue()
	if err != nil {
		t.Fatalf("dequeue login: %v", err)
	}
	if cmd1.Done == nil {
		t.Fatalf("expected LOGIN command to carry a result channel")
	}
	// simulate the executor rejecting the registration (duplicate/full)
	cmd1.Done <- errors.New("registry: key already registered")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not exit after a failed login")
	}

	if got := sess.State(); got != StateDead {
		t.Fatalf("expected session to end in StateDead after failed login, got %v", got)
	}
	// the session never reached StateLive, so no UNREGISTER should have
	// been synthesized for an unregistered key.
	if queues[0].Len() != 0 {
		t.Fatalf("expected no further commands queued after failed login, got %d", queues[0].Len())
	}
}
