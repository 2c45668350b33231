package sync

import (
	"context"
	"encoding/json"
	"log"
	gosync "sync"
	"time"

	"github.com/nestlog/nestlog/internal/mirror"
)

// pushTimeout bounds one push attempt.
const pushTimeout = 10 * time.Second

// pusher sends documents for one key with at most one push in flight. Values
// offered while a push runs collapse into a single pending slot.
type pusher struct {
	key     string
	channel mirror.Channel
	logger  *log.Logger
	stats   *counters

	mu       gosync.Mutex
	inFlight bool
	pending  json.RawMessage
	closed   bool
	idle     chan struct{} // closed when the running push loop exits
}

func newPusher(key string, channel mirror.Channel, logger *log.Logger, stats *counters) *pusher {
	return &pusher{key: key, channel: channel, logger: logger, stats: stats}
}

// offer queues doc for sending. It never blocks on the network.
func (p *pusher) offer(doc json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if p.inFlight {
		if p.pending != nil {
			p.stats.coalesced.Add(1)
		}
		p.pending = doc
		return
	}

	p.inFlight = true
	p.idle = make(chan struct{})
	go p.run(doc, p.idle)
}

func (p *pusher) run(doc json.RawMessage, idle chan struct{}) {
	defer close(idle)

	for {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		err := p.channel.Push(ctx, p.key, doc)
		cancel()

		if err != nil {
			p.stats.dropped.Add(1)
			p.logger.Printf("Warning: push of %s abandoned: %v", p.key, err)
		} else {
			p.stats.pushed.Add(1)
		}

		p.mu.Lock()
		if p.pending == nil {
			p.inFlight = false
			p.mu.Unlock()
			return
		}
		doc = p.pending
		p.pending = nil
		p.mu.Unlock()
	}
}

// close stops accepting new documents. A pending document is still sent.
func (p *pusher) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// wait blocks until nothing is in flight or pending.
func (p *pusher) wait() {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	if idle != nil {
		<-idle
	}
}
