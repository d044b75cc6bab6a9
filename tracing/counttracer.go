package tracing

import (
	"sync"

	"github.com/sarchlab/desim/sim"
)

// CountTracer counts activations per process and firings per event. Names
// are reported in the order they were first seen.
type CountTracer struct {
	lock sync.Mutex

	processNames []string
	activations  map[string]uint64
	eventNames   []string
	fires        map[string]uint64
}

// NewCountTracer creates a new CountTracer.
func NewCountTracer() *CountTracer {
	return &CountTracer{
		activations: make(map[string]uint64),
		fires:       make(map[string]uint64),
	}
}

// Func counts activations and firings.
func (t *CountTracer) Func(ctx sim.HookCtx) {
	t.lock.Lock()
	defer t.lock.Unlock()

	switch ctx.Pos {
	case sim.HookPosBeforeActivation:
		p := ctx.Item.(*sim.Process)
		t.processNames = countName(t.processNames, t.activations, p.Name())
	case sim.HookPosEventFire:
		e := ctx.Item.(*sim.Event)
		t.eventNames = countName(t.eventNames, t.fires, e.Name())
	}
}

// ProcessNames returns the names of the processes that ran.
func (t *CountTracer) ProcessNames() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]string(nil), t.processNames...)
}

// Activations returns how often the named process ran.
func (t *CountTracer) Activations(process string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.activations[process]
}

// EventNames returns the names of the events that fired.
func (t *CountTracer) EventNames() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]string(nil), t.eventNames...)
}

// Fires returns how often the named event fired.
func (t *CountTracer) Fires(event string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.fires[event]
}

func countName(
	names []string,
	counts map[string]uint64,
	name string,
) []string {
	if _, seen := counts[name]; !seen {
		names = append(names, name)
	}

	counts[name]++

	return names
}
