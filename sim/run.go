package sim

import (
	"context"
	"log"
	"time"
)

// Run executes the simulation until it stops, blocking the calling goroutine.
// A kernel runs only once.
//
// Run returns the recovered *ProcessPanicError when a process body panicked,
// ctx.Err() when ctx was cancelled, and nil for every other stop reason.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.runState.CompareAndSwap(runSetup, runActive) {
		return ErrAlreadyRun
	}

	k.logger.Debug("run started",
		"processes", len(k.procs),
		"events", len(k.events))

	k.pauseLock.Lock()
	k.initialize()
	k.pauseLock.Unlock()

	reason := k.loop(ctx)

	k.pauseLock.Lock()
	k.stopReason = reason
	k.teardown()
	k.pauseLock.Unlock()

	k.logger.Info("run finished",
		"reason", k.stopReason.String(),
		"time", k.CurrentTime().String(),
		"delta", k.DeltaCount(),
		"steps", k.steps)

	switch k.stopReason {
	case StopFailed:
		return k.failure
	case StopCancelled:
		return ctx.Err()
	default:
		return nil
	}
}

func (k *Kernel) loop(ctx context.Context) StopReason {
	for {
		if reason := k.checkStop(ctx); reason != StopNone {
			return reason
		}

		k.pauseLock.Lock()
		progressed, reason := k.step()
		k.pauseLock.Unlock()

		if reason != StopNone {
			return reason
		}

		if progressed {
			continue
		}

		if reason := k.idle(ctx); reason != StopNone {
			return reason
		}
	}
}

func (k *Kernel) checkStop(ctx context.Context) StopReason {
	switch {
	case k.failure != nil:
		return StopFailed
	case k.stopRequested.Load():
		return StopRequested
	case ctx.Err() != nil:
		return StopCancelled
	case k.maxSteps > 0 && k.steps >= k.maxSteps:
		return StopMaxSteps
	default:
		return StopNone
	}
}

// step performs one unit of scheduling work. It reports false when the kernel
// has nothing to do until a foreign goroutine posts a notification.
func (k *Kernel) step() (bool, StopReason) {
	if len(k.runnable) > 0 {
		p := k.runnable[0]
		k.runnable[0] = nil
		k.runnable = k.runnable[1:]
		k.activate(p)

		return true, StopNone
	}

	if k.runDelta() {
		return true, StopNone
	}

	if k.drainExternal() {
		return true, StopNone
	}

	return k.advanceTime()
}

func (k *Kernel) initialize() {
	for _, p := range k.procs {
		k.initProcess(p)
	}
}

func (k *Kernel) initProcess(p *Process) {
	if p.state != ProcessCreated {
		return
	}

	if !p.dontInit {
		p.state = ProcessRunnable
		k.runnable = append(k.runnable, p)

		return
	}

	if p.sensitivity != nil {
		k.suspendOnEvent(p, p.sensitivity)
	}
}

func (k *Kernel) activate(p *Process) {
	k.steps++
	p.activations++
	p.state = ProcessRunning
	k.current = p

	k.InvokeHook(HookCtx{
		Domain: k,
		Pos:    HookPosBeforeActivation,
		Item:   p,
	})

	if p.kind == ThreadProcess {
		k.resumeThread(p)
	} else {
		k.stepMethod(p)
	}

	k.current = nil

	if p.err != nil {
		p.state = ProcessTerminated
		if k.failure == nil {
			k.failure = p.err
		}

		k.logger.Error("process panicked",
			"process", p.name,
			"time", k.CurrentTime().String(),
			"err", p.err)
	}

	k.InvokeHook(HookCtx{
		Domain: k,
		Pos:    HookPosAfterActivation,
		Item:   p,
		Detail: p.state,
	})
}

func (k *Kernel) resumeThread(p *Process) {
	if !p.started {
		p.started = true
		go p.runThread()
	} else {
		p.resume <- resumeMsg{}
	}

	parked := <-k.parked
	if parked != p {
		log.Panicf("process %s parked while %s was running", parked.name, p.name)
	}
}

func (k *Kernel) stepMethod(p *Process) {
	p.nextSet = false
	p.nextEvent = nil

	p.runMethod()

	if p.err != nil {
		return
	}

	switch {
	case p.nextSet && p.nextEvent != nil:
		k.suspendOnEvent(p, p.nextEvent)
	case p.nextSet:
		k.suspendForDuration(p, p.nextDuration)
	case p.sensitivity != nil:
		k.suspendOnEvent(p, p.sensitivity)
	default:
		p.state = ProcessTerminated
	}
}

// runDelta applies the notifications and zero-time wakes requested during the
// last evaluation phase. It reports whether any of them had an effect.
func (k *Kernel) runDelta() bool {
	if len(k.delta) == 0 {
		return false
	}

	batch := k.delta
	k.delta = nil

	live := false
	for _, w := range batch {
		if !w.stale() {
			live = true
			break
		}
	}

	if !live {
		return false
	}

	d := k.nextDelta()
	k.InvokeHook(HookCtx{
		Domain: k,
		Pos:    HookPosDeltaCycle,
		Item:   d,
	})

	for _, w := range batch {
		k.apply(w)
	}

	return true
}

// drainExternal fires every event requested through the bridge since the
// last drain, in first-request order.
func (k *Kernel) drainExternal() bool {
	reqs := k.bridge.drain()
	if len(reqs) == 0 {
		return false
	}

	for _, r := range reqs {
		e, ok := k.eventByID[r.id]
		if !ok {
			k.logger.Warn("external notification of unknown event dropped",
				"event", uint64(r.id),
				"count", r.count)

			continue
		}

		k.InvokeHook(HookCtx{
			Domain: k,
			Pos:    HookPosExternalDrain,
			Item:   e,
			Detail: r.count,
		})

		k.fire(e, r.count)
	}

	return true
}

// advanceTime moves the clock to the earliest pending wake and applies every
// wake due at that time.
func (k *Kernel) advanceTime() (bool, StopReason) {
	k.timed.DropStale()

	next := k.timed.Peek()
	if next == nil {
		return false, StopNone
	}

	now := k.CurrentTime()
	if next.time < now {
		log.Panicf("cannot wake at %s, now is %s", next.time, now)
	}

	if k.hasMaxTime && next.time > k.maxTime {
		k.writeNow(k.maxTime)
		return false, StopMaxTime
	}

	k.writeNow(next.time)
	k.InvokeHook(HookCtx{
		Domain: k,
		Pos:    HookPosTimeAdvance,
		Item:   next.time,
	})

	for k.timed.Len() > 0 && k.timed.Peek().time == next.time {
		k.apply(k.timed.Pop())
	}

	return true, StopNone
}

func (k *Kernel) apply(w *wakeEntry) {
	if w.stale() {
		return
	}

	if w.event != nil {
		k.fire(w.event, 1)
		return
	}

	k.wake(w.proc, wakeTimeout)
}

// idle blocks until a foreign goroutine posts a notification or a stop
// condition occurs.
func (k *Kernel) idle(ctx context.Context) StopReason {
	if !k.bridge.hasWork() {
		return StopStarved
	}

	k.logger.Debug("kernel idle", "time", k.CurrentTime().String())

	var timeout <-chan time.Time
	if k.idleTimeout > 0 {
		timer := time.NewTimer(k.idleTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-k.bridge.wake:
		return StopNone
	case <-ctx.Done():
		return StopCancelled
	case <-timeout:
		return StopIdleTimeout
	}
}

// teardown unwinds every live thread. Suspended threads keep their state so
// that the final picture can still be inspected.
func (k *Kernel) teardown() {
	for _, p := range k.procs {
		if p.kind != ThreadProcess || !p.started ||
			p.state == ProcessTerminated {
			continue
		}

		state := p.state
		k.stopThread(p)
		p.state = state
	}

	k.bridge.markStopped()
	k.runState.Store(runFinished)

	k.InvokeHook(HookCtx{
		Domain: k,
		Pos:    HookPosRunEnd,
		Item:   k.stopReason,
	})
}
