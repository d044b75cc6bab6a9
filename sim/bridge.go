package sim

import (
	"fmt"
	"log/slog"
	"sync"
)

// A Bridge lets goroutines that are not processes request event
// notifications. Requests are queued under a mutex and applied by the kernel
// at its next drain point, in the order in which the events were first
// requested. Repeated requests of the same event before a drain are coalesced
// into one firing that accounts for all of them.
//
// All Bridge methods are safe for concurrent use.
type Bridge struct {
	mu sync.Mutex

	order  []EventID
	counts map[EventID]uint64
	names  map[string]EventID

	requested uint64
	dropped   uint64
	producers int
	closed    bool
	stopped   bool

	wake   chan struct{}
	logger *slog.Logger
}

type externalRequest struct {
	id    EventID
	count uint64
}

func newBridge(logger *slog.Logger) *Bridge {
	return &Bridge{
		counts: make(map[EventID]uint64),
		names:  make(map[string]EventID),
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Notify requests that the event with the given ID fires. It never blocks on
// the kernel. Requests arriving after the run finished are dropped.
func (b *Bridge) Notify(id EventID) {
	b.mu.Lock()

	if b.stopped {
		b.dropped++
		b.mu.Unlock()

		b.logger.Warn("external notification after run end dropped",
			"event", uint64(id))

		return
	}

	b.requested++
	if b.counts[id] == 0 {
		b.order = append(b.order, id)
	}
	b.counts[id]++

	b.mu.Unlock()

	b.signal()
}

// NotifyByName is Notify for callers that only know the event name.
func (b *Bridge) NotifyByName(name string) error {
	b.mu.Lock()
	id, found := b.names[name]
	b.mu.Unlock()

	if !found {
		return fmt.Errorf("external notify %q: %w", name, ErrUnknownEvent)
	}

	b.Notify(id)

	return nil
}

// Attach registers a producer. While at least one producer is attached and
// the bridge is open, an idle kernel waits for notifications instead of
// stopping.
func (b *Bridge) Attach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.stopped {
		return ErrBridgeClosed
	}

	b.producers++

	return nil
}

// Detach unregisters a producer.
func (b *Bridge) Detach() {
	b.mu.Lock()
	if b.producers > 0 {
		b.producers--
	}
	b.mu.Unlock()

	b.signal()
}

// Close marks the bridge as permanently closed. Notifications still pending
// are delivered; an idle kernel then stops.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.signal()
}

// Producers returns the number of attached producers.
func (b *Bridge) Producers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.producers
}

// Requested returns the number of notifications accepted so far.
func (b *Bridge) Requested() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.requested
}

// Dropped returns the number of notifications rejected because the run had
// already finished, including those left undelivered when it finished, plus
// those naming an event of another kernel.
func (b *Bridge) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dropped
}

// Pending returns the number of distinct events waiting for the next drain.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.order)
}

// reject counts a request for an event this bridge's kernel does not own.
func (b *Bridge) reject(name string) {
	b.mu.Lock()
	b.dropped++
	b.mu.Unlock()

	b.logger.Warn("external notification of foreign event dropped",
		"event", name)
}

func (b *Bridge) publish(name string, id EventID) {
	b.mu.Lock()
	b.names[name] = id
	b.mu.Unlock()
}

func (b *Bridge) drain() []externalRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.order) == 0 {
		return nil
	}

	reqs := make([]externalRequest, 0, len(b.order))
	for _, id := range b.order {
		reqs = append(reqs, externalRequest{id: id, count: b.counts[id]})
		delete(b.counts, id)
	}

	b.order = b.order[:0]

	return reqs
}

// hasWork reports whether the kernel should keep waiting on the bridge.
func (b *Bridge) hasWork() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.order) > 0 || (!b.closed && b.producers > 0)
}

func (b *Bridge) markStopped() {
	b.mu.Lock()

	b.stopped = true

	var lost uint64
	for _, id := range b.order {
		lost += b.counts[id]
		delete(b.counts, id)
	}

	b.order = nil
	b.dropped += lost

	b.mu.Unlock()

	if lost > 0 {
		b.logger.Warn("pending external notifications dropped at run end",
			"count", lost)
	}
}

func (b *Bridge) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}
