// Package executor implements the shard executor pool (§4.E): one
// goroutine per shard, each draining its own bounded queue and dispatching
// commands to business logic in strict per-shard order.
package executor

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/babblehq/babble/internal/business"
	"github.com/babblehq/babble/internal/metrics"
	"github.com/babblehq/babble/internal/protocol"
	"github.com/babblehq/babble/internal/queue"
	"github.com/babblehq/babble/internal/registry"
	"github.com/rs/zerolog"
)

// delayedCommands are the ones the original -r flag's random_delay()
// applies to (§4.E, confirmed in original_source/stage_3/babble_server.c
// process_command). FOLLOW_COUNT and RDV are never delayed.
var delayedCommands = map[protocol.CommandID]bool{
	protocol.PUBLISH:  true,
	protocol.FOLLOW:   true,
	protocol.TIMELINE: true,
}

// minDelay/maxDelay bound the uniform-random sleep applied when random
// delay is enabled, matching the source's band rather than introducing a
// new tunable distribution.
const (
	minDelay = 1 * time.Millisecond
	maxDelay = 50 * time.Millisecond
)

// Pool owns one goroutine per shard queue.
type Pool struct {
	queues      []*queue.Queue
	logic       *business.Logic
	logger      zerolog.Logger
	metrics     *metrics.Collector
	randomDelay bool

	wg sync.WaitGroup
}

// New creates an executor pool with one goroutine per entry in queues.
func New(queues []*queue.Queue, logic *business.Logic, logger zerolog.Logger, m *metrics.Collector, randomDelay bool) *Pool {
	return &Pool{
		queues:      queues,
		logic:       logic,
		logger:      logger.With().Str("component", "executor").Logger(),
		metrics:     m,
		randomDelay: randomDelay,
	}
}

// Start launches one goroutine per shard. Each goroutine runs until its
// queue is shut down.
func (p *Pool) Start(ctx context.Context) {
	for i, q := range p.queues {
		p.wg.Add(1)
		go p.run(ctx, i, q)
	}
}

// Wait blocks until every shard goroutine has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, shardIdx int, q *queue.Queue) {
	defer p.wg.Done()
	log := p.logger.With().Int("shard", shardIdx).Logger()

	for {
		cmd, err := q.Dequeue()
		if err != nil {
			log.Info().Msg("shard queue closed, executor exiting")
			return
		}
		p.dispatch(ctx, log, cmd)
	}
}

// dispatch runs one command's business logic, recovering from panics so
// a single bad payload cannot take the whole shard offline for every
// client sharing it (spec.md's ambient error-handling contract, since a
// production dispatcher cannot let one client's bug wedge its shard
// partners).
func (p *Pool) dispatch(ctx context.Context, log zerolog.Logger, cmd protocol.Command) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("command", cmd.CID.String()).Msg("recovered from panic in dispatch")
		}
	}()

	if p.randomDelay && delayedCommands[cmd.CID] {
		randomDelay()
	}

	start := time.Now()

	if cmd.CID == protocol.LOGIN {
		err := p.logic.Login(cmd.Key, cmd.Payload)
		p.observe(cmd.CID, start)

		if cmd.Done != nil {
			cmd.Done <- err
		}

		if cmd.Streaming || cmd.Sock == nil {
			return
		}
		var answer []byte
		if err != nil {
			answer = errorAnswer(err)
		} else {
			// the ack conveys the assigned key (§6), not a bare "OK"
			answer = []byte(strconv.FormatUint(cmd.Key, 10))
		}
		if sendErr := protocol.Send(cmd.Sock, answer); sendErr != nil {
			log.Warn().Err(sendErr).Msg("failed to send answer")
		}
		return
	}

	if cmd.CID == protocol.TIMELINE {
		tl, err := p.logic.Timeline(cmd.Key)
		p.observe(cmd.CID, start)
		if cmd.Streaming || cmd.Sock == nil {
			return
		}
		if err != nil {
			if sendErr := protocol.Send(cmd.Sock, errorAnswer(err)); sendErr != nil {
				log.Warn().Err(sendErr).Msg("failed to send answer")
			}
			return
		}
		items := make([][]byte, len(tl))
		for i, e := range tl {
			items[i] = []byte(e)
		}
		if err := protocol.SendTimeline(cmd.Sock, items, uint32(len(items))); err != nil {
			log.Warn().Err(err).Msg("failed to send timeline")
		}
		return
	}

	answer := p.execute(cmd)
	p.observe(cmd.CID, start)

	if cmd.Streaming || answer == nil || cmd.Sock == nil {
		return
	}
	if err := protocol.Send(cmd.Sock, answer); err != nil {
		log.Warn().Err(err).Msg("failed to send answer")
	}
}

func (p *Pool) observe(cid protocol.CommandID, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.CommandsDispatched.WithLabelValues(cid.String()).Inc()
	p.metrics.DispatchDuration.WithLabelValues(cid.String()).Observe(time.Since(start).Seconds())
}

func (p *Pool) execute(cmd protocol.Command) []byte {
	switch cmd.CID {
	case protocol.PUBLISH:
		if err := p.logic.Publish(cmd.Key, cmd.Payload); err != nil {
			return errorAnswer(err)
		}
		return okAnswer()

	case protocol.FOLLOW:
		if err := p.logic.Follow(cmd.Key, cmd.Payload, protocol.HashKey); err != nil {
			return errorAnswer(err)
		}
		// the ack must contain the word "follow" (§6), not a bare "OK"
		return []byte("follow")

	case protocol.FOLLOWCOUNT:
		count, err := p.logic.FollowCount(cmd.Key)
		if err != nil {
			return errorAnswer(err)
		}
		return []byte(strconv.Itoa(count))

	case protocol.RDV:
		if _, err := p.logic.Rdv(cmd.Key); err != nil {
			return errorAnswer(err)
		}
		// the ack must contain the literal "rdv_ack" (§6)
		return []byte("rdv_ack")

	case protocol.UNREGISTER:
		_ = p.logic.Unregister(cmd.Key)
		return nil

	default:
		return errorAnswer(registry.ErrNotFound)
	}
}

func okAnswer() []byte             { return []byte("OK") }
func errorAnswer(err error) []byte { return []byte("ERR " + err.Error()) }

func randomDelay() {
	d := minDelay + time.Duration(rand.Int63n(int64(maxDelay-minDelay)))
	time.Sleep(d)
}
