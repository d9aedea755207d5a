package driver

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/inputemu-core/internal/ipc"
)

// defaultEventBuffer bounds events waiting for the publisher.
const defaultEventBuffer = 128

// publisher fans events out to the IPC server and local listeners from one
// goroutine. Producers run on runtime hook paths and never block.
type publisher struct {
	events  chan ipc.Event
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	logger  Logger

	mu        sync.RWMutex
	server    *ipc.Server
	listeners []func(ipc.Event)
	stopped   bool
}

func newPublisher(buffer int, logger Logger) *publisher {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &publisher{
		events: make(chan ipc.Event, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (p *publisher) start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
}

func (p *publisher) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.events:
			p.deliver(ctx, ev)
		case <-p.done:
			return
		}
	}
}

func (p *publisher) deliver(ctx context.Context, ev ipc.Event) {
	p.mu.RLock()
	srv := p.server
	listeners := p.listeners
	p.mu.RUnlock()

	if srv != nil {
		srv.PublishEvent(ctx, ev)
	}
	for _, fn := range listeners {
		fn(ev)
	}
}

func (p *publisher) setServer(srv *ipc.Server) {
	p.mu.Lock()
	p.server = srv
	p.mu.Unlock()
}

func (p *publisher) addListener(fn func(ipc.Event)) {
	p.mu.Lock()
	p.listeners = append(p.listeners[:len(p.listeners):len(p.listeners)], fn)
	p.mu.Unlock()
}

func (p *publisher) publish(ev ipc.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return
	}
	select {
	case p.events <- ev:
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			p.logger.Warn("event buffer full, dropping", "type", ev.Type, "dropped", n)
		}
	}
}

func (p *publisher) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
}
