package device

import (
	"sync"
	"sync/atomic"
)

// defaultRecordQueueDepth bounds records waiting for the worker.
const defaultRecordQueueDepth = 256

type recordKind int

const (
	recordDiscovery recordKind = iota
	recordActivation
)

type record struct {
	kind recordKind
	info Info
}

// AsyncRepository forwards records to another Repository from a single
// worker goroutine, so callers on the runtime's hook path never wait on disk.
//
// Records are dropped when the queue is full; Dropped reports how many.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type AsyncRepository struct {
	inner   Repository
	queue   chan record
	done    chan struct{}
	wg      sync.WaitGroup
	logger  Logger
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewAsyncRepository starts a worker that feeds inner. depth <= 0 selects
// the default queue depth.
func NewAsyncRepository(inner Repository, depth int) *AsyncRepository {
	if depth <= 0 {
		depth = defaultRecordQueueDepth
	}
	a := &AsyncRepository{
		inner:  inner,
		queue:  make(chan record, depth),
		done:   make(chan struct{}),
		logger: noopLogger{},
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

// SetLogger sets the logger for the worker. Call before records arrive.
func (a *AsyncRepository) SetLogger(logger Logger) {
	a.logger = logger
}

func (a *AsyncRepository) loop() {
	defer a.wg.Done()
	for {
		select {
		case rec := <-a.queue:
			a.write(rec)
		case <-a.done:
			// Drain what was accepted before Close.
			for {
				select {
				case rec := <-a.queue:
					a.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (a *AsyncRepository) write(rec record) {
	switch rec.kind {
	case recordDiscovery:
		a.inner.RecordDiscovery(rec.info)
	case recordActivation:
		a.inner.RecordActivation(rec.info)
	}
}

func (a *AsyncRepository) enqueue(rec record) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- rec:
	default:
		if n := a.dropped.Add(1); n == 1 || n%100 == 0 {
			a.logger.Warn("device record queue full, dropping", "serial", rec.info.Serial, "dropped", n)
		}
	}
}

// RecordDiscovery implements Repository.
func (a *AsyncRepository) RecordDiscovery(info Info) {
	a.enqueue(record{kind: recordDiscovery, info: info})
}

// RecordActivation implements Repository.
func (a *AsyncRepository) RecordActivation(info Info) {
	a.enqueue(record{kind: recordActivation, info: info})
}

// Dropped returns the number of records discarded because the queue was full.
func (a *AsyncRepository) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops accepting records, writes everything already queued and
// waits for the worker. Safe to call more than once.
func (a *AsyncRepository) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	close(a.done)
	a.wg.Wait()
}
