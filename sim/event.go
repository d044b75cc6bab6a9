package sim

// EventID identifies an event within its kernel. IDs are stable for the life
// of the kernel and are the only handle the Bridge ever carries.
type EventID uint64

// An Event is a named condition that processes can wait on and that can be
// fired to wake them.
//
// Events are owned by the kernel that created them. Every firing increments
// the generation counter, even when nobody is waiting.
type Event struct {
	id     EventID
	name   string
	kernel *Kernel

	generation uint64
	waiters    []waiter
}

// waiter pins a process to the suspension it registered in. A waiter whose
// token no longer matches the process is stale and is skipped.
type waiter struct {
	proc  *Process
	token uint64
}

// ID returns the stable identifier of the event.
func (e *Event) ID() EventID {
	return e.id
}

// Name returns the name of the event.
func (e *Event) Name() string {
	return e.name
}

// String returns the name of the event.
func (e *Event) String() string {
	return e.name
}

// Generation returns how many notifications the event has accounted for.
func (e *Event) Generation() uint64 {
	return e.generation
}

// FiredSince reports whether the event fired after generation gen was
// observed.
func (e *Event) FiredSince(gen uint64) bool {
	return e.generation > gen
}

// NumWaiters returns the number of processes currently suspended on the event.
func (e *Event) NumWaiters() int {
	n := 0
	for _, w := range e.waiters {
		if w.proc.suspendedWith(w.token) {
			n++
		}
	}

	return n
}

func (e *Event) addWaiter(p *Process) {
	e.waiters = append(e.waiters, waiter{proc: p, token: p.waitToken})
}

func (e *Event) removeWaiter(p *Process) {
	kept := e.waiters[:0]
	for _, w := range e.waiters {
		if w.proc != p {
			kept = append(kept, w)
		}
	}

	for i := len(kept); i < len(e.waiters); i++ {
		e.waiters[i] = waiter{}
	}

	e.waiters = kept
}

// fire accounts for n notifications and detaches the current waiters. The
// returned processes are in registration order.
func (e *Event) fire(n uint64) []*Process {
	e.generation += n

	var woken []*Process
	for _, w := range e.waiters {
		if w.proc.suspendedWith(w.token) {
			woken = append(woken, w.proc)
		}
	}

	e.waiters = nil

	return woken
}
