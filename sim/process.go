package sim

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/sarchlab/desim/idgen"
)

// ProcessState is the scheduling state of a process.
type ProcessState int

// Process states. A process moves Created -> Runnable -> Running ->
// Suspended -> Runnable -> ... -> Terminated.
const (
	ProcessCreated ProcessState = iota
	ProcessRunnable
	ProcessRunning
	ProcessSuspended
	ProcessTerminated
)

func (s ProcessState) String() string {
	switch s {
	case ProcessCreated:
		return "created"
	case ProcessRunnable:
		return "runnable"
	case ProcessRunning:
		return "running"
	case ProcessSuspended:
		return "suspended"
	case ProcessTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("ProcessState(%d)", int(s))
	}
}

// ProcessKind tells how a process is re-entered.
type ProcessKind int

const (
	// ThreadProcess runs a long-lived body that resumes at its last
	// suspension point.
	ThreadProcess ProcessKind = iota

	// MethodProcess runs a step function from the top on every activation.
	MethodProcess
)

func (k ProcessKind) String() string {
	if k == MethodProcess {
		return "method"
	}

	return "thread"
}

// ThreadFunc is the body of a thread process. Returning from it terminates the
// process.
type ThreadFunc func(p *Process)

// MethodFunc is the body of a method process. It must not block; it runs to
// completion on every activation.
type MethodFunc func(p *Process)

// ProcessOption customizes a process at spawn time.
type ProcessOption func(p *Process)

// SensitiveTo gives the process a static sensitivity. A method re-activates
// every time e fires, unless the activation picked a different next trigger.
// A thread resumes on e when it calls WaitStatic.
func SensitiveTo(e *Event) ProcessOption {
	return func(p *Process) {
		p.sensitivity = e
	}
}

// DontInitialize keeps the process out of the initialization phase. A process
// with static sensitivity then first runs when its event fires. A process
// without one never runs.
func DontInitialize() ProcessOption {
	return func(p *Process) {
		p.dontInit = true
	}
}

type wakeCause int

const (
	wakeNone wakeCause = iota
	wakeEvent
	wakeTimeout
)

type resumeMsg struct {
	kill bool
}

// A Process is a cooperatively scheduled unit of work. All methods that
// suspend or notify must be called by the process itself while it is running.
// They read scheduler state without locking, so calling them from a foreign
// goroutine is a data race rather than an ErrNotRunning. Foreign goroutines
// use Kernel.ExternalNotify instead.
type Process struct {
	id     idgen.ID
	name   string
	kind   ProcessKind
	kernel *Kernel
	state  ProcessState

	thread  ThreadFunc
	method  MethodFunc
	started bool
	killing bool
	resume  chan resumeMsg
	exited  chan struct{}

	waitToken uint64
	waitEvent *Event
	wakeAt    VTime
	hasWakeAt bool
	cause     wakeCause

	sensitivity  *Event
	dontInit     bool
	nextSet      bool
	nextEvent    *Event
	nextDuration Duration

	activations uint64
	err         error
}

// ID returns the kernel-unique identifier of the process.
func (p *Process) ID() idgen.ID {
	return p.id
}

// Name returns the name of the process.
func (p *Process) Name() string {
	return p.name
}

// Kind returns whether the process is a thread or a method.
func (p *Process) Kind() ProcessKind {
	return p.kind
}

// State returns the scheduling state. Read it from the scheduling thread or
// after Run returns.
func (p *Process) State() ProcessState {
	return p.state
}

// Activations returns how many times the process has been run.
func (p *Process) Activations() uint64 {
	return p.activations
}

// Kernel returns the kernel that owns the process.
func (p *Process) Kernel() *Kernel {
	return p.kernel
}

// Now returns the current simulated time.
func (p *Process) Now() VTime {
	return p.kernel.CurrentTime()
}

// WaitingOn returns the event the process is suspended on, if any.
func (p *Process) WaitingOn() *Event {
	if p.state != ProcessSuspended {
		return nil
	}

	return p.waitEvent
}

// WakeAt returns the time of the pending timed wake-up, if any.
func (p *Process) WakeAt() (VTime, bool) {
	if p.state != ProcessSuspended {
		return 0, false
	}

	return p.wakeAt, p.hasWakeAt
}

// Err returns the panic recovered from the process body, if any.
func (p *Process) Err() error {
	return p.err
}

func (p *Process) String() string {
	return p.name
}

// Wait suspends the process until e next fires.
func (p *Process) Wait(e *Event) error {
	if err := p.checkThread("wait"); err != nil {
		return err
	}

	if err := p.kernel.ownEvent(e); err != nil {
		return fmt.Errorf("%s wait: %w", p.name, err)
	}

	p.kernel.suspendOnEvent(p, e)

	return p.yield()
}

// WaitStatic suspends the thread until its static sensitivity next fires.
func (p *Process) WaitStatic() error {
	if err := p.checkThread("wait static"); err != nil {
		return err
	}

	if p.sensitivity == nil {
		return fmt.Errorf("%s wait static: %w", p.name, ErrNoSensitivity)
	}

	p.kernel.suspendOnEvent(p, p.sensitivity)

	return p.yield()
}

// WaitFor suspends the process for d. A zero duration resumes the process in
// the next delta cycle at the same time.
func (p *Process) WaitFor(d Duration) error {
	if err := p.checkThread("wait"); err != nil {
		return err
	}

	if d < 0 {
		return fmt.Errorf("%s wait %s: %w", p.name, d, ErrNegativeDuration)
	}

	p.kernel.suspendForDuration(p, d)

	return p.yield()
}

// WaitTimeout suspends the process until e fires or d elapses, whichever
// comes first. It reports true if the event woke the process.
func (p *Process) WaitTimeout(e *Event, d Duration) (bool, error) {
	if err := p.checkThread("wait"); err != nil {
		return false, err
	}

	if err := p.kernel.ownEvent(e); err != nil {
		return false, fmt.Errorf("%s wait: %w", p.name, err)
	}

	if d < 0 {
		return false, fmt.Errorf("%s wait %s: %w", p.name, d, ErrNegativeDuration)
	}

	p.kernel.suspendOnEvent(p, e)
	p.kernel.suspendForDuration(p, d)

	if err := p.yield(); err != nil {
		return false, err
	}

	return p.cause == wakeEvent, nil
}

// Notify fires e immediately. Current waiters become runnable in the same
// evaluation phase.
func (p *Process) Notify(e *Event) error {
	if err := p.checkRunning("notify"); err != nil {
		return err
	}

	if err := p.kernel.ownEvent(e); err != nil {
		return fmt.Errorf("%s notify: %w", p.name, err)
	}

	p.kernel.fire(e, 1)

	return nil
}

// NotifyAfter schedules e to fire d from now. A zero delay fires e in the next
// delta cycle.
func (p *Process) NotifyAfter(e *Event, d Duration) error {
	if err := p.checkRunning("notify"); err != nil {
		return err
	}

	if err := p.kernel.ownEvent(e); err != nil {
		return fmt.Errorf("%s notify: %w", p.name, err)
	}

	if d < 0 {
		return fmt.Errorf("%s notify %s after %s: %w",
			p.name, e.name, d, ErrNegativeDuration)
	}

	p.kernel.scheduleFire(e, d)

	return nil
}

// NotifyDelta fires e in the next delta cycle.
func (p *Process) NotifyDelta(e *Event) error {
	return p.NotifyAfter(e, 0)
}

// CancelNotify drops every pending delayed or delta notification of e.
func (p *Process) CancelNotify(e *Event) error {
	if err := p.checkRunning("cancel"); err != nil {
		return err
	}

	if err := p.kernel.ownEvent(e); err != nil {
		return fmt.Errorf("%s cancel: %w", p.name, err)
	}

	p.kernel.cancelFire(e)

	return nil
}

// NextTrigger makes a method process run again when e fires, overriding its
// static sensitivity for the next activation.
func (p *Process) NextTrigger(e *Event) error {
	if err := p.checkMethod(); err != nil {
		return err
	}

	if err := p.kernel.ownEvent(e); err != nil {
		return fmt.Errorf("%s next trigger: %w", p.name, err)
	}

	p.nextSet = true
	p.nextEvent = e

	return nil
}

// NextTriggerAfter makes a method process run again after d.
func (p *Process) NextTriggerAfter(d Duration) error {
	if err := p.checkMethod(); err != nil {
		return err
	}

	if d < 0 {
		return fmt.Errorf("%s next trigger %s: %w", p.name, d, ErrNegativeDuration)
	}

	p.nextSet = true
	p.nextEvent = nil
	p.nextDuration = d

	return nil
}

// Stop asks the kernel to end the run once this activation suspends.
func (p *Process) Stop() {
	p.kernel.Stop()
}

func (p *Process) checkRunning(op string) error {
	if p.killing || p.state == ProcessTerminated {
		return fmt.Errorf("%s %s: %w", p.name, op, ErrProcessTerminated)
	}

	if p.kernel.current != p {
		return fmt.Errorf("%s %s: %w", p.name, op, ErrNotRunning)
	}

	return nil
}

func (p *Process) checkThread(op string) error {
	if err := p.checkRunning(op); err != nil {
		return err
	}

	if p.kind == MethodProcess {
		return fmt.Errorf("%s %s: %w", p.name, op, ErrWaitInMethod)
	}

	return nil
}

func (p *Process) checkMethod() error {
	if err := p.checkRunning("next trigger"); err != nil {
		return err
	}

	if p.kind != MethodProcess {
		return fmt.Errorf("%s: %w", p.name, ErrNotMethod)
	}

	return nil
}

// suspendedWith reports whether the process is still parked in the
// suspension identified by token.
func (p *Process) suspendedWith(token uint64) bool {
	return p.state == ProcessSuspended && p.waitToken == token
}

// yield hands control back to the scheduler and blocks until resumed.
func (p *Process) yield() error {
	p.kernel.parked <- p

	msg := <-p.resume
	if msg.kill {
		p.killing = true
		runtime.Goexit()
	}

	return nil
}

func (p *Process) runThread() {
	defer p.exitThread()

	p.thread(p)
}

func (p *Process) exitThread() {
	if r := recover(); r != nil {
		p.err = &ProcessPanicError{
			Process: p.name,
			Value:   r,
			Stack:   debug.Stack(),
		}
	}

	if p.killing {
		close(p.exited)
		return
	}

	p.state = ProcessTerminated
	p.kernel.parked <- p
}

func (p *Process) runMethod() {
	defer func() {
		if r := recover(); r != nil {
			p.err = &ProcessPanicError{
				Process: p.name,
				Value:   r,
				Stack:   debug.Stack(),
			}
		}
	}()

	p.method(p)
}
