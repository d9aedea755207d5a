package ipc

import (
	"context"
	"fmt"
	"sync"
)

// Sender writes frames to a named channel.
type Sender interface {
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// Receiver reads frames from a named channel. Receive returns an error
// wrapping ErrConnection once the receiver is closed.
type Receiver interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// drainer is implemented by receivers that can hand back the frames still
// queued after Close.
type drainer interface {
	Drain() [][]byte
}

// Transport opens named one-way channels. A channel has at most one
// receiver and any number of senders.
type Transport interface {
	OpenSender(name string) (Sender, error)
	OpenReceiver(name string) (Receiver, error)
}

// defaultQueueDepth bounds each in-process channel.
const defaultQueueDepth = 256

// MemoryTransport is an in-process Transport backed by buffered queues.
// Opening a sender to a name without a receiver fails with ErrConnection,
// matching a message queue that was never created.
type MemoryTransport struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	depth  int
}

type memoryQueue struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (q *memoryQueue) close() {
	q.once.Do(func() { close(q.done) })
}

// NewMemoryTransport creates an in-process transport. depth bounds each
// queue; zero uses the default.
func NewMemoryTransport(depth int) *MemoryTransport {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	return &MemoryTransport{queues: make(map[string]*memoryQueue), depth: depth}
}

// OpenReceiver implements Transport.
func (t *MemoryTransport) OpenReceiver(name string) (Receiver, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.queues[name]; exists {
		return nil, fmt.Errorf("%w: channel %q already has a receiver", ErrConnection, name)
	}
	q := &memoryQueue{
		frames: make(chan []byte, t.depth),
		done:   make(chan struct{}),
	}
	t.queues[name] = q
	return &memoryReceiver{t: t, name: name, q: q}, nil
}

// OpenSender implements Transport.
func (t *MemoryTransport) OpenSender(name string) (Sender, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: channel %q does not exist", ErrConnection, name)
	}
	return &memorySender{name: name, q: q}, nil
}

func (t *MemoryTransport) remove(name string, q *memoryQueue) {
	t.mu.Lock()
	if t.queues[name] == q {
		delete(t.queues, name)
	}
	t.mu.Unlock()
}

type memorySender struct {
	name string
	q    *memoryQueue
}

func (s *memorySender) Send(ctx context.Context, frame []byte) error {
	buf := append([]byte(nil), frame...)
	select {
	case <-s.q.done:
		return fmt.Errorf("%w: channel %q closed", ErrConnection, s.name)
	default:
	}
	select {
	case s.q.frames <- buf:
		return nil
	case <-s.q.done:
		return fmt.Errorf("%w: channel %q closed", ErrConnection, s.name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memorySender) Close() error { return nil }

type memoryReceiver struct {
	t    *MemoryTransport
	name string
	q    *memoryQueue
}

func (r *memoryReceiver) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-r.q.frames:
		return frame, nil
	case <-r.q.done:
		return nil, fmt.Errorf("%w: channel %q closed", ErrConnection, r.name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drain returns the frames still queued without blocking.
func (r *memoryReceiver) Drain() [][]byte {
	var frames [][]byte
	for {
		select {
		case frame := <-r.q.frames:
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func (r *memoryReceiver) Close() error {
	r.q.close()
	r.t.remove(r.name, r.q)
	return nil
}
