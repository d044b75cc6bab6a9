package sim

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/desim/idgen"
)

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	CurrentTime() VTime
}

// StopReason tells why a run ended.
type StopReason int

// Reasons for a run to end.
const (
	StopNone StopReason = iota
	StopRequested
	StopStarved
	StopMaxTime
	StopMaxSteps
	StopIdleTimeout
	StopCancelled
	StopFailed
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopRequested:
		return "stop requested"
	case StopStarved:
		return "no more work"
	case StopMaxTime:
		return "max time reached"
	case StopMaxSteps:
		return "max steps reached"
	case StopIdleTimeout:
		return "idle timeout"
	case StopCancelled:
		return "cancelled"
	case StopFailed:
		return "process failed"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

const (
	runSetup int32 = iota
	runActive
	runFinished
)

// A Kernel is a discrete-event scheduler for cooperatively scheduled
// processes. Exactly one process body executes at a time. Simulated time only
// moves when nothing is runnable.
//
// Everything except CurrentTime, Stop, Pause, Continue, Snapshot and the
// Bridge belongs to the scheduling thread: call it during setup, from inside a
// running process, or after Run returns.
type Kernel struct {
	*HookableBase

	name   string
	logger *slog.Logger
	ids    idgen.Generator

	timeLock   sync.RWMutex
	now        VTime
	deltaCount uint64

	events      []*Event
	eventByName map[string]*Event
	eventByID   map[EventID]*Event
	procs       []*Process
	procByName  map[string]*Process

	runnable []*Process
	delta    []*wakeEntry
	timed    *wakeQueue
	seq      uint64
	current  *Process
	parked   chan *Process

	bridge *Bridge

	maxTime     VTime
	hasMaxTime  bool
	maxSteps    uint64
	idleTimeout time.Duration

	steps         uint64
	runState      atomic.Int32
	stopRequested atomic.Bool
	stopReason    StopReason
	failure       error

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex
}

// NewKernel creates a kernel with default settings.
func NewKernel() *Kernel {
	return MakeBuilder().Build()
}

// Name returns the name of the kernel.
func (k *Kernel) Name() string {
	return k.name
}

// Bridge returns the gateway foreign goroutines use to fire events.
func (k *Kernel) Bridge() *Bridge {
	return k.bridge
}

// CurrentTime returns a snapshot of the simulated time. It is safe to call
// from any goroutine.
func (k *Kernel) CurrentTime() VTime {
	k.timeLock.RLock()
	t := k.now
	k.timeLock.RUnlock()

	return t
}

// DeltaCount returns the number of delta cycles run so far. It is safe to
// call from any goroutine.
func (k *Kernel) DeltaCount() uint64 {
	k.timeLock.RLock()
	d := k.deltaCount
	k.timeLock.RUnlock()

	return d
}

func (k *Kernel) writeNow(t VTime) {
	k.timeLock.Lock()
	k.now = t
	k.timeLock.Unlock()
}

func (k *Kernel) nextDelta() uint64 {
	k.timeLock.Lock()
	k.deltaCount++
	d := k.deltaCount
	k.timeLock.Unlock()

	return d
}

// Steps returns the number of process activations so far.
func (k *Kernel) Steps() uint64 {
	return k.steps
}

// StopReason returns why the last run ended.
func (k *Kernel) StopReason() StopReason {
	return k.stopReason
}

// Running reports whether the kernel is currently running.
func (k *Kernel) Running() bool {
	return k.runState.Load() == runActive
}

// NewEvent creates an event owned by the kernel.
func (k *Kernel) NewEvent(name string) (*Event, error) {
	if name == "" {
		return nil, fmt.Errorf("event: %w", ErrEmptyName)
	}

	if _, found := k.eventByName[name]; found {
		return nil, fmt.Errorf("event %q: %w", name, ErrDuplicateName)
	}

	e := &Event{
		id:     EventID(k.ids.Generate()),
		name:   name,
		kernel: k,
	}

	k.events = append(k.events, e)
	k.eventByName[name] = e
	k.eventByID[e.id] = e
	k.bridge.publish(name, e.id)

	return e, nil
}

// Event looks an event up by name.
func (k *Kernel) Event(name string) (*Event, bool) {
	e, ok := k.eventByName[name]
	return e, ok
}

// EventByID looks an event up by ID.
func (k *Kernel) EventByID(id EventID) (*Event, bool) {
	e, ok := k.eventByID[id]
	return e, ok
}

// Events returns the events in creation order.
func (k *Kernel) Events() []*Event {
	return append([]*Event(nil), k.events...)
}

// Spawn registers a thread process.
func (k *Kernel) Spawn(
	name string,
	body ThreadFunc,
	opts ...ProcessOption,
) (*Process, error) {
	p, err := k.newProcess(name, ThreadProcess, opts)
	if err != nil {
		return nil, err
	}

	p.thread = body
	p.resume = make(chan resumeMsg)
	p.exited = make(chan struct{})

	k.register(p)

	return p, nil
}

// SpawnMethod registers a method process.
func (k *Kernel) SpawnMethod(
	name string,
	body MethodFunc,
	opts ...ProcessOption,
) (*Process, error) {
	p, err := k.newProcess(name, MethodProcess, opts)
	if err != nil {
		return nil, err
	}

	p.method = body

	k.register(p)

	return p, nil
}

func (k *Kernel) newProcess(
	name string,
	kind ProcessKind,
	opts []ProcessOption,
) (*Process, error) {
	if k.runState.Load() == runFinished {
		return nil, fmt.Errorf("process %q: %w", name, ErrAlreadyRun)
	}

	if name == "" {
		return nil, fmt.Errorf("process: %w", ErrEmptyName)
	}

	if _, found := k.procByName[name]; found {
		return nil, fmt.Errorf("process %q: %w", name, ErrDuplicateName)
	}

	p := &Process{
		id:     k.ids.Generate(),
		name:   name,
		kind:   kind,
		kernel: k,
		state:  ProcessCreated,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.sensitivity != nil {
		if err := k.ownEvent(p.sensitivity); err != nil {
			return nil, fmt.Errorf("process %q: %w", name, err)
		}
	}

	return p, nil
}

func (k *Kernel) register(p *Process) {
	k.procs = append(k.procs, p)
	k.procByName[p.name] = p

	if k.runState.Load() == runActive {
		k.initProcess(p)
	}
}

// Process looks a process up by name.
func (k *Kernel) Process(name string) (*Process, bool) {
	p, ok := k.procByName[name]
	return p, ok
}

// Processes returns the processes in registration order.
func (k *Kernel) Processes() []*Process {
	return append([]*Process(nil), k.procs...)
}

// ExternalNotify asks for e to fire at the next drain point. It is safe to
// call from any goroutine. Events of another kernel are dropped and counted
// in Bridge.Dropped.
func (k *Kernel) ExternalNotify(e *Event) {
	if e == nil {
		k.logger.Warn("external notification of nil event ignored")
		return
	}

	if e.kernel != k {
		k.bridge.reject(e.name)
		return
	}

	k.bridge.Notify(e.id)
}

// ExternalNotifyByName is ExternalNotify for callers that only know the name.
func (k *Kernel) ExternalNotifyByName(name string) error {
	return k.bridge.NotifyByName(name)
}

// AttachProducer registers a foreign notification source with the bridge.
func (k *Kernel) AttachProducer() error {
	return k.bridge.Attach()
}

// DetachProducer unregisters a foreign notification source.
func (k *Kernel) DetachProducer() {
	k.bridge.Detach()
}

// Stop ends the run after the current activation. It is safe to call from
// any goroutine.
func (k *Kernel) Stop() {
	k.stopRequested.Store(true)
	k.bridge.signal()
}

// Kill terminates p and removes it from every wait. It must be called from a
// running process other than p, or while the kernel is not running.
func (k *Kernel) Kill(p *Process) error {
	if p.kernel != k {
		return fmt.Errorf("kill %s: %w", p.name, ErrForeignProcess)
	}

	if p == k.current {
		return fmt.Errorf("kill %s: %w", p.name, ErrKillRunning)
	}

	if p.state == ProcessTerminated {
		return nil
	}

	k.release(p)
	k.stopThread(p)
	p.state = ProcessTerminated

	k.InvokeHook(HookCtx{
		Domain: k,
		Pos:    HookPosAfterActivation,
		Item:   p,
		Detail: p.state,
	})

	return nil
}

// release drops every registration p holds.
func (k *Kernel) release(p *Process) {
	if p.waitEvent != nil {
		p.waitEvent.removeWaiter(p)
	}

	p.waitToken++
	p.waitEvent = nil
	p.hasWakeAt = false

	for i, r := range k.runnable {
		if r == p {
			k.runnable = append(k.runnable[:i], k.runnable[i+1:]...)
			break
		}
	}
}

// stopThread unwinds the goroutine of a started thread process.
func (k *Kernel) stopThread(p *Process) {
	if p.kind != ThreadProcess || !p.started || p.killing {
		return
	}

	p.resume <- resumeMsg{kill: true}
	<-p.exited
}

// Pause prevents the kernel from running more activations until Continue is
// called. It must not be called from inside a process.
func (k *Kernel) Pause() {
	k.isPausedLock.Lock()
	defer k.isPausedLock.Unlock()

	if k.isPaused {
		return
	}

	k.pauseLock.Lock()
	k.isPaused = true
}

// Continue allows the kernel to run activations again.
func (k *Kernel) Continue() {
	k.isPausedLock.Lock()
	defer k.isPausedLock.Unlock()

	if !k.isPaused {
		return
	}

	k.pauseLock.Unlock()
	k.isPaused = false
}

func (k *Kernel) ownEvent(e *Event) error {
	if e == nil {
		return ErrNilEvent
	}

	if e.kernel != k {
		return fmt.Errorf("%s: %w", e.name, ErrForeignEvent)
	}

	return nil
}

func (k *Kernel) nextSeq() uint64 {
	k.seq++
	return k.seq
}

func (k *Kernel) suspendOnEvent(p *Process, e *Event) {
	p.state = ProcessSuspended
	p.cause = wakeNone
	p.waitEvent = e
	e.addWaiter(p)
}

func (k *Kernel) suspendForDuration(p *Process, d Duration) {
	p.state = ProcessSuspended
	p.cause = wakeNone
	p.wakeAt = k.now.Add(d)
	p.hasWakeAt = true

	w := &wakeEntry{
		time:  p.wakeAt,
		seq:   k.nextSeq(),
		proc:  p,
		token: p.waitToken,
	}

	if d == 0 {
		k.delta = append(k.delta, w)
		return
	}

	k.timed.Push(w)
}

func (k *Kernel) scheduleFire(e *Event, d Duration) {
	w := &wakeEntry{
		time:  k.now.Add(d),
		seq:   k.nextSeq(),
		event: e,
	}

	if d == 0 {
		k.delta = append(k.delta, w)
		return
	}

	k.timed.Push(w)
}

func (k *Kernel) cancelFire(e *Event) {
	k.timed.CancelEvent(e)

	for _, w := range k.delta {
		if w.event == e {
			w.cancelled = true
		}
	}
}

// fire notifies e n times at once and makes its current waiters runnable.
func (k *Kernel) fire(e *Event, n uint64) {
	woken := e.fire(n)
	for _, p := range woken {
		k.wake(p, wakeEvent)
	}

	k.InvokeHook(HookCtx{
		Domain: k,
		Pos:    HookPosEventFire,
		Item:   e,
		Detail: FireInfo{Count: n, Woken: len(woken)},
	})
}

// wake moves a suspended process to the back of the runnable queue.
func (k *Kernel) wake(p *Process, cause wakeCause) {
	if cause != wakeEvent && p.waitEvent != nil {
		p.waitEvent.removeWaiter(p)
	}

	p.waitToken++
	p.waitEvent = nil
	p.hasWakeAt = false
	p.cause = cause
	p.state = ProcessRunnable

	k.runnable = append(k.runnable, p)
}
