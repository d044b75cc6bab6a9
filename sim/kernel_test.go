package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Kernel", func() {
	var (
		mockCtrl *gomock.Controller
		k        *Kernel
		ctx      context.Context
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		k = testBuilder().Build()
		ctx = context.Background()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	newEvent := func(name string) *Event {
		e, err := k.NewEvent(name)
		Expect(err).NotTo(HaveOccurred())

		return e
	}

	spawn := func(name string, body ThreadFunc, opts ...ProcessOption) *Process {
		p, err := k.Spawn(name, body, opts...)
		Expect(err).NotTo(HaveOccurred())

		return p
	}

	spawnMethod := func(name string, body MethodFunc, opts ...ProcessOption) *Process {
		p, err := k.SpawnMethod(name, body, opts...)
		Expect(err).NotTo(HaveOccurred())

		return p
	}

	Context("setup", func() {
		It("should reject duplicate and empty names", func() {
			newEvent("e")
			_, err := k.NewEvent("e")
			Expect(err).To(MatchError(ErrDuplicateName))

			_, err = k.NewEvent("")
			Expect(err).To(MatchError(ErrEmptyName))

			spawn("p", func(*Process) {})
			_, err = k.Spawn("p", func(*Process) {})
			Expect(err).To(MatchError(ErrDuplicateName))

			_, err = k.SpawnMethod("", func(*Process) {})
			Expect(err).To(MatchError(ErrEmptyName))
		})

		It("should reject waits and notifications outside the running process", func() {
			e := newEvent("e")
			p := spawn("p", func(*Process) {})

			Expect(p.Wait(e)).To(MatchError(ErrNotRunning))
			Expect(p.WaitFor(NS)).To(MatchError(ErrNotRunning))
			Expect(p.Notify(e)).To(MatchError(ErrNotRunning))
		})

		It("should look up events and processes", func() {
			e := newEvent("e")
			p := spawn("p", func(*Process) {})

			found, ok := k.Event("e")
			Expect(ok).To(BeTrue())
			Expect(found).To(BeIdenticalTo(e))

			byID, ok := k.EventByID(e.ID())
			Expect(ok).To(BeTrue())
			Expect(byID).To(BeIdenticalTo(e))

			proc, ok := k.Process("p")
			Expect(ok).To(BeTrue())
			Expect(proc).To(BeIdenticalTo(p))
			Expect(k.Processes()).To(ConsistOf(p))
			Expect(k.Events()).To(ConsistOf(e))
		})
	})

	It("should report usage errors at the call site", func() {
		e := newEvent("e")
		other := testBuilder().Build()
		foreign, err := other.NewEvent("foreign")
		Expect(err).NotTo(HaveOccurred())

		var errs []error
		spawn("p", func(p *Process) {
			errs = append(errs,
				p.WaitFor(-1),
				p.NotifyAfter(e, -NS),
				p.Wait(nil),
				p.Wait(foreign),
				p.NextTrigger(e),
			)
		})

		Expect(k.Run(ctx)).To(Succeed())
		Expect(errs).To(HaveLen(5))
		Expect(errs[0]).To(MatchError(ErrNegativeDuration))
		Expect(errs[1]).To(MatchError(ErrNegativeDuration))
		Expect(errs[2]).To(MatchError(ErrNilEvent))
		Expect(errs[3]).To(MatchError(ErrForeignEvent))
		Expect(errs[4]).To(MatchError(ErrNotMethod))
	})

	It("should run a zero-delay chain within one time", func() {
		const n = 5

		hook := NewMockHook(mockCtrl)
		hook.EXPECT().Func(gomock.Any()).Do(func(ctx HookCtx) {
			if ctx.Pos != HookPosBeforeActivation {
				return
			}

			running := 0
			for _, p := range k.Processes() {
				if p.State() == ProcessRunning {
					running++
				}
			}
			Expect(running).To(Equal(1))
		}).AnyTimes()
		k.AcceptHook(hook)

		events := make([]*Event, n)
		for i := range events {
			events[i] = newEvent(fmt.Sprintf("e%d", i))
		}

		var order []int
		for i := 0; i < n; i++ {
			i := i
			spawn(fmt.Sprintf("p%d", i), func(p *Process) {
				if i > 0 {
					must(p.Wait(events[i-1]))
				}

				Expect(p.Now()).To(Equal(VTime(0)))
				order = append(order, i)
				must(p.NotifyDelta(events[i]))
			})
		}

		Expect(k.Run(ctx)).To(Succeed())
		Expect(order).To(Equal([]int{0, 1, 2, 3, 4}))
		Expect(k.CurrentTime()).To(Equal(VTime(0)))
		Expect(k.DeltaCount()).To(Equal(uint64(n)))
		Expect(k.StopReason()).To(Equal(StopStarved))
	})

	It("should resume timed waits in time order and ties in registration order", func() {
		waits := []struct {
			name  string
			delay Duration
		}{
			{"a", 3 * NS},
			{"b", NS},
			{"c", 2 * NS},
			{"d", NS},
		}

		runOnce := func() []string {
			k2 := testBuilder().Build()

			var resumed []string
			for _, w := range waits {
				w := w
				_, err := k2.Spawn(w.name, func(p *Process) {
					must(p.WaitFor(w.delay))
					resumed = append(resumed,
						fmt.Sprintf("%s@%s", p.Name(), p.Now()))
				})
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(k2.Run(ctx)).To(Succeed())

			return resumed
		}

		first := runOnce()
		Expect(first).To(Equal([]string{"b@1 ns", "d@1 ns", "c@2 ns", "a@3 ns"}))
		Expect(runOnce()).To(Equal(first))
	})

	It("should wake all waiters of an immediate notification in registration order", func() {
		e := newEvent("E")

		var out []string
		spawn("P1", func(p *Process) {
			must(p.Wait(e))
			out = append(out, "a")
		})
		spawn("P2", func(p *Process) {
			must(p.Wait(e))
			out = append(out, "b")
		})
		spawn("N", func(p *Process) {
			must(p.Notify(e))
		})

		Expect(k.Run(ctx)).To(Succeed())
		Expect(out).To(Equal([]string{"a", "b"}))
		Expect(e.Generation()).To(Equal(uint64(1)))
		Expect(k.CurrentTime()).To(Equal(VTime(0)))
		Expect(k.DeltaCount()).To(BeZero())
	})

	It("should count a firing with no waiters", func() {
		e := newEvent("E")
		spawn("N", func(p *Process) {
			must(p.Notify(e))
		})

		Expect(k.Run(ctx)).To(Succeed())
		Expect(e.Generation()).To(Equal(uint64(1)))
		Expect(e.NumWaiters()).To(BeZero())
	})

	It("should not wake processes that wait after the firing", func() {
		e := newEvent("E")
		spawn("N", func(p *Process) {
			must(p.Notify(e))
		})
		w := spawn("W", func(p *Process) {
			must(p.Wait(e))
		})

		Expect(k.Run(ctx)).To(Succeed())
		Expect(w.State()).To(Equal(ProcessSuspended))
		Expect(w.WaitingOn()).To(BeIdenticalTo(e))
		Expect(e.NumWaiters()).To(Equal(1))
		Expect(k.StopReason()).To(Equal(StopStarved))
	})

	It("should resume a zero-duration wait in the next delta cycle", func() {
		var out []string
		spawn("A", func(p *Process) {
			out = append(out, "a1")
			must(p.WaitFor(0))
			out = append(out, fmt.Sprintf("a2@%d", k.DeltaCount()))
		})
		spawn("B", func(p *Process) {
			out = append(out, "b")
		})

		Expect(k.Run(ctx)).To(Succeed())
		Expect(out).To(Equal([]string{"a1", "b", "a2@1"}))
		Expect(k.CurrentTime()).To(Equal(VTime(0)))
	})

	It("should fire a delta notification after the current activation", func() {
		e := newEvent("E")

		var out []string
		spawn("W", func(p *Process) {
			must(p.Wait(e))
			out = append(out, fmt.Sprintf("w@%d", k.DeltaCount()))
		})
		spawn("N", func(p *Process) {
			must(p.NotifyDelta(e))
			out = append(out, "n")
		})

		Expect(k.Run(ctx)).To(Succeed())
		Expect(out).To(Equal([]string{"n", "w@1"}))
	})

	It("should fire every delayed notification", func() {
		e := newEvent("E")

		var times []string
		spawn("W", func(p *Process) {
			for i := 0; i < 2; i++ {
				must(p.Wait(e))
				times = append(times, p.Now().String())
			}
		})
		spawn("N", func(p *Process) {
			must(p.NotifyAfter(e, 2*NS))
			must(p.NotifyAfter(e, 4*NS))
		})

		Expect(k.Run(ctx)).To(Succeed())
		Expect(times).To(Equal([]string{"2 ns", "4 ns"}))
		Expect(e.Generation()).To(Equal(uint64(2)))
	})

	It("should cancel pending notifications", func() {
		e := newEvent("E")
		w := spawn("W", func(p *Process) {
			must(p.Wait(e))
		})
		spawn("N", func(p *Process) {
			must(p.NotifyAfter(e, 5*NS))
			must(p.NotifyDelta(e))
			must(p.CancelNotify(e))
		})

		Expect(k.Run(ctx)).To(Succeed())
		Expect(w.State()).To(Equal(ProcessSuspended))
		Expect(e.Generation()).To(BeZero())
		Expect(k.CurrentTime()).To(Equal(VTime(0)))
	})

	It("should tell whether the event or the timeout resumed a wait", func() {
		e := newEvent("E")

		var (
			fired []bool
			times []string
		)
		spawn("W", func(p *Process) {
			for _, d := range []Duration{10 * NS, 3 * NS} {
				ok, err := p.WaitTimeout(e, d)
				must(err)
				fired = append(fired, ok)
				times = append(times, p.Now().String())
			}
		})
		spawn("N", func(p *Process) {
			must(p.WaitFor(2 * NS))
			must(p.Notify(e))
			must(p.WaitFor(10 * NS))
			must(p.Notify(e))
		})

		Expect(k.Run(ctx)).To(Succeed())
		Expect(fired).To(Equal([]bool{true, false}))
		Expect(times).To(Equal([]string{"2 ns", "5 ns"}))
		Expect(e.Generation()).To(Equal(uint64(2)))
		Expect(k.CurrentTime()).To(Equal(VTime(12 * NS)))
	})

	Context("stopping", func() {
		ticker := func(p *Process) {
			for {
				must(p.WaitFor(NS))
			}
		}

		It("should stop after the current activation", func() {
			t := spawn("ticker", func(p *Process) {
				for {
					must(p.WaitFor(NS))
					if p.Now() == VTime(3*NS) {
						p.Stop()
					}
				}
			})

			Expect(k.Run(ctx)).To(Succeed())
			Expect(k.StopReason()).To(Equal(StopRequested))
			Expect(k.CurrentTime()).To(Equal(VTime(3 * NS)))
			Expect(t.State()).To(Equal(ProcessSuspended))
		})

		It("should stop at the maximum time", func() {
			k = testBuilder().WithMaxTime(VTime(5 * NS)).Build()
			t := spawn("ticker", ticker)

			Expect(k.Run(ctx)).To(Succeed())
			Expect(k.StopReason()).To(Equal(StopMaxTime))
			Expect(k.CurrentTime()).To(Equal(VTime(5 * NS)))
			Expect(t.Activations()).To(Equal(uint64(6)))
		})

		It("should stop after the maximum number of steps", func() {
			k = testBuilder().WithMaxSteps(3).Build()
			spawn("ticker", ticker)

			Expect(k.Run(ctx)).To(Succeed())
			Expect(k.StopReason()).To(Equal(StopMaxSteps))
			Expect(k.Steps()).To(Equal(uint64(3)))
			Expect(k.CurrentTime()).To(Equal(VTime(2 * NS)))
		})

		It("should stop when asked from another goroutine", func() {
			Expect(k.AttachProducer()).To(Succeed())

			go func() {
				time.Sleep(10 * time.Millisecond)
				k.Stop()
			}()

			Expect(k.Run(ctx)).To(Succeed())
			Expect(k.StopReason()).To(Equal(StopRequested))
		})

		It("should stop when the context is cancelled", func() {
			Expect(k.AttachProducer()).To(Succeed())

			c, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()

			Expect(k.Run(c)).To(MatchError(context.DeadlineExceeded))
			Expect(k.StopReason()).To(Equal(StopCancelled))
		})

		It("should stop after idling too long", func() {
			k = testBuilder().WithIdleTimeout(20 * time.Millisecond).Build()
			Expect(k.AttachProducer()).To(Succeed())

			Expect(k.Run(ctx)).To(Succeed())
			Expect(k.StopReason()).To(Equal(StopIdleTimeout))
		})

		It("should return a panic as an error", func() {
			bad := spawn("bad", func(p *Process) {
				panic("boom")
			})
			other := spawn("other", func(p *Process) {})

			err := k.Run(ctx)

			var ppe *ProcessPanicError
			Expect(errors.As(err, &ppe)).To(BeTrue())
			Expect(ppe.Process).To(Equal("bad"))
			Expect(ppe.Value).To(Equal("boom"))
			Expect(k.StopReason()).To(Equal(StopFailed))
			Expect(bad.State()).To(Equal(ProcessTerminated))
			Expect(bad.Err()).To(MatchError(ppe))
			Expect(other.Activations()).To(BeZero())
		})

		It("should run only once", func() {
			Expect(k.Run(ctx)).To(Succeed())
			Expect(k.Run(ctx)).To(MatchError(ErrAlreadyRun))

			_, err := k.Spawn("late", func(*Process) {})
			Expect(err).To(MatchError(ErrAlreadyRun))
		})
	})

	Context("method processes", func() {
		It("should run on every firing of the static sensitivity", func() {
			e := newEvent("E")

			count := 0
			m := spawnMethod("m", func(p *Process) {
				count++
			}, SensitiveTo(e), DontInitialize())
			spawn("driver", func(p *Process) {
				for i := 0; i < 3; i++ {
					must(p.Notify(e))
					must(p.WaitFor(NS))
				}
			})

			Expect(k.Run(ctx)).To(Succeed())
			Expect(count).To(Equal(3))
			Expect(m.State()).To(Equal(ProcessSuspended))
			Expect(m.WaitingOn()).To(BeIdenticalTo(e))
		})

		It("should run once during initialization", func() {
			e := newEvent("E")

			count := 0
			spawnMethod("m", func(p *Process) {
				count++
			}, SensitiveTo(e))
			spawn("driver", func(p *Process) {
				must(p.Notify(e))
			})

			Expect(k.Run(ctx)).To(Succeed())
			Expect(count).To(Equal(2))
		})

		It("should refuse to wait", func() {
			e := newEvent("E")

			var errs []error
			m := spawnMethod("m", func(p *Process) {
				errs = append(errs, p.Wait(e), p.WaitFor(NS))
			})

			Expect(k.Run(ctx)).To(Succeed())
			Expect(errs[0]).To(MatchError(ErrWaitInMethod))
			Expect(errs[1]).To(MatchError(ErrWaitInMethod))
			Expect(m.State()).To(Equal(ProcessTerminated))
		})

		It("should follow a timed next trigger", func() {
			var times []string
			m := spawnMethod("m", func(p *Process) {
				times = append(times, p.Now().String())
				if len(times) < 3 {
					must(p.NextTriggerAfter(2 * NS))
				}
			})

			Expect(k.Run(ctx)).To(Succeed())
			Expect(times).To(Equal([]string{"0 s", "2 ns", "4 ns"}))
			Expect(m.State()).To(Equal(ProcessTerminated))
		})

		It("should let a next trigger override the static sensitivity once", func() {
			a := newEvent("a")
			b := newEvent("b")

			var times []string
			spawnMethod("m", func(p *Process) {
				times = append(times, p.Now().String())
				if len(times) == 1 {
					must(p.NextTrigger(b))
				}
			}, SensitiveTo(a))
			spawn("driver", func(p *Process) {
				for _, e := range []*Event{a, b, a} {
					must(p.WaitFor(NS))
					must(p.Notify(e))
				}
			})

			Expect(k.Run(ctx)).To(Succeed())
			Expect(times).To(Equal([]string{"0 s", "2 ns", "3 ns"}))
		})
	})

	Context("thread static sensitivity", func() {
		It("should first run an uninitialized thread on its event", func() {
			e := newEvent("E")

			var times []string
			t := spawn("t", func(p *Process) {
				for {
					times = append(times, p.Now().String())
					must(p.WaitStatic())
				}
			}, SensitiveTo(e), DontInitialize())
			spawn("driver", func(p *Process) {
				for i := 0; i < 2; i++ {
					must(p.WaitFor(NS))
					must(p.Notify(e))
				}
			})

			Expect(t.State()).To(Equal(ProcessCreated))
			Expect(k.Run(ctx)).To(Succeed())
			Expect(times).To(Equal([]string{"1 ns", "2 ns"}))
			Expect(t.Activations()).To(Equal(uint64(2)))
			Expect(t.State()).To(Equal(ProcessSuspended))
			Expect(t.WaitingOn()).To(BeIdenticalTo(e))
		})

		It("should initialize a sensitive thread unless told otherwise", func() {
			e := newEvent("E")

			count := 0
			spawn("t", func(p *Process) {
				for {
					count++
					must(p.WaitStatic())
				}
			}, SensitiveTo(e))
			spawn("driver", func(p *Process) {
				must(p.Notify(e))
			})

			Expect(k.Run(ctx)).To(Succeed())
			Expect(count).To(Equal(2))
		})

		It("should refuse a static wait without sensitivity", func() {
			var waitErr error
			spawn("t", func(p *Process) {
				waitErr = p.WaitStatic()
			})

			var methodErr error
			spawnMethod("m", func(p *Process) {
				methodErr = p.WaitStatic()
			})

			Expect(k.Run(ctx)).To(Succeed())
			Expect(waitErr).To(MatchError(ErrNoSensitivity))
			Expect(methodErr).To(MatchError(ErrWaitInMethod))
		})
	})

	Context("killing", func() {
		It("should remove a killed process from its waits", func() {
			e := newEvent("E")

			resumed := false
			victim := spawn("victim", func(p *Process) {
				must(p.Wait(e))
				resumed = true
			})

			var selfErr error
			spawn("killer", func(p *Process) {
				selfErr = k.Kill(p)
				must(k.Kill(victim))
				must(p.Notify(e))
			})

			Expect(k.Run(ctx)).To(Succeed())
			Expect(selfErr).To(MatchError(ErrKillRunning))
			Expect(resumed).To(BeFalse())
			Expect(victim.State()).To(Equal(ProcessTerminated))
			Expect(e.Generation()).To(Equal(uint64(1)))
			Expect(e.NumWaiters()).To(BeZero())
		})

		It("should keep a process killed before the run from starting", func() {
			p := spawn("p", func(*Process) {})
			Expect(k.Kill(p)).To(Succeed())

			Expect(k.Run(ctx)).To(Succeed())
			Expect(p.Activations()).To(BeZero())
			Expect(p.State()).To(Equal(ProcessTerminated))
		})

		It("should refuse to kill another kernel's process", func() {
			other := testBuilder().Build()
			p, err := other.Spawn("p", func(*Process) {})
			Expect(err).NotTo(HaveOccurred())

			Expect(k.Kill(p)).To(MatchError(ErrForeignProcess))
		})
	})

	It("should initialize processes spawned during the run", func() {
		var times []string
		spawn("parent", func(p *Process) {
			must(p.WaitFor(3 * NS))
			_, err := k.Spawn("child", func(c *Process) {
				times = append(times, c.Now().String())
			})
			must(err)
		})

		Expect(k.Run(ctx)).To(Succeed())
		Expect(times).To(Equal([]string{"3 ns"}))
	})

	It("should invoke hooks", func() {
		var positions []string

		hook := NewMockHook(mockCtrl)
		hook.EXPECT().Func(gomock.Any()).Do(func(ctx HookCtx) {
			positions = append(positions, ctx.Pos.Name)
		}).AnyTimes()

		k = testBuilder().WithHook(hook).Build()
		spawn("p", func(p *Process) {
			must(p.WaitFor(NS))
		})

		Expect(k.Run(ctx)).To(Succeed())
		Expect(positions).To(Equal([]string{
			"BeforeActivation",
			"AfterActivation",
			"TimeAdvance",
			"BeforeActivation",
			"AfterActivation",
			"RunEnd",
		}))
	})

	It("should hold activations while paused", func() {
		spawn("p", func(p *Process) {
			must(p.WaitFor(NS))
		})

		k.Pause()

		done := make(chan error, 1)
		go func() {
			done <- k.Run(ctx)
		}()

		Consistently(done, 50*time.Millisecond).ShouldNot(Receive())
		Expect(k.CurrentTime()).To(Equal(VTime(0)))

		k.Continue()

		Eventually(done).Should(Receive(BeNil()))
		Expect(k.CurrentTime()).To(Equal(VTime(NS)))
		Expect(k.Steps()).To(Equal(uint64(2)))
	})

	It("should describe itself in a snapshot", func() {
		k = testBuilder().WithName("top").WithMaxTime(VTime(2 * NS)).Build()
		e := newEvent("E")
		spawn("W", func(p *Process) {
			must(p.Wait(e))
		})
		spawn("T", func(p *Process) {
			must(p.WaitFor(5 * NS))
		})

		Expect(k.Run(ctx)).To(Succeed())

		s := k.Snapshot()
		Expect(s.Name).To(Equal("top"))
		Expect(s.Now).To(Equal("2 ns"))
		Expect(s.Running).To(BeFalse())
		Expect(s.StopReason).To(Equal("max time reached"))
		Expect(s.Processes).To(HaveLen(2))
		Expect(s.Processes[0].State).To(Equal("suspended"))
		Expect(s.Processes[0].WaitingOn).To(Equal("E"))
		Expect(s.Processes[1].WakeAt).To(Equal("5 ns"))
		Expect(s.Events).To(Equal([]EventStatus{
			{ID: e.ID(), Name: "E", Generation: 0, Waiters: 1},
		}))
	})
})
