// Package tracing records the scheduling decisions taken by a kernel.
//
// A DecisionTracer is a sim.Hook. Attach it to a kernel and every
// activation, suspension, firing, time advance and delta cycle becomes a
// Decision handed to one or more DecisionWriters. Two runs with the same
// setup produce identical decision logs.
package tracing

import (
	"fmt"

	"github.com/sarchlab/desim/sim"
)

// Decision kinds.
const (
	KindActivate  = "activate"
	KindSuspend   = "suspend"
	KindTerminate = "terminate"
	KindFire      = "fire"
	KindAdvance   = "advance"
	KindDelta     = "delta"
	KindExternal  = "external"
	KindStop      = "stop"
)

// A Decision is one scheduling step taken by a kernel.
type Decision struct {
	Seq     uint64
	Time    sim.VTime
	Delta   uint64
	Kind    string
	Subject string
	Detail  string
}

func (d Decision) String() string {
	s := fmt.Sprintf("%d @%s +%d %s %s", d.Seq, d.Time, d.Delta, d.Kind, d.Subject)
	if d.Detail != "" {
		s += " [" + d.Detail + "]"
	}

	return s
}

// A DecisionWriter stores decisions.
type DecisionWriter interface {
	Write(d Decision)
	Flush()
}

// DecisionTracer is a hook that turns kernel hook sites into decisions.
type DecisionTracer struct {
	writers []DecisionWriter
	seq     uint64
}

// NewDecisionTracer creates a tracer that writes into all the given writers.
func NewDecisionTracer(writers ...DecisionWriter) *DecisionTracer {
	return &DecisionTracer{writers: writers}
}

// Func records the decision described by the hook context.
func (t *DecisionTracer) Func(ctx sim.HookCtx) {
	k, ok := ctx.Domain.(*sim.Kernel)
	if !ok {
		return
	}

	d, ok := decide(k, ctx)
	if !ok {
		return
	}

	t.seq++
	d.Seq = t.seq
	d.Time = k.CurrentTime()
	d.Delta = k.DeltaCount()

	for _, w := range t.writers {
		w.Write(d)
	}

	if ctx.Pos == sim.HookPosRunEnd {
		t.Flush()
	}
}

// Flush flushes all writers.
func (t *DecisionTracer) Flush() {
	for _, w := range t.writers {
		w.Flush()
	}
}

func decide(k *sim.Kernel, ctx sim.HookCtx) (Decision, bool) {
	switch ctx.Pos {
	case sim.HookPosBeforeActivation:
		p := ctx.Item.(*sim.Process)
		return Decision{
			Kind:    KindActivate,
			Subject: p.Name(),
			Detail:  p.Kind().String(),
		}, true
	case sim.HookPosAfterActivation:
		return afterActivation(ctx.Item.(*sim.Process))
	case sim.HookPosEventFire:
		info := ctx.Detail.(sim.FireInfo)
		return Decision{
			Kind:    KindFire,
			Subject: ctx.Item.(*sim.Event).Name(),
			Detail:  fmt.Sprintf("x%d woke %d", info.Count, info.Woken),
		}, true
	case sim.HookPosExternalDrain:
		return Decision{
			Kind:    KindExternal,
			Subject: ctx.Item.(*sim.Event).Name(),
			Detail:  fmt.Sprintf("x%d", ctx.Detail),
		}, true
	case sim.HookPosTimeAdvance:
		return Decision{Kind: KindAdvance, Subject: k.Name()}, true
	case sim.HookPosDeltaCycle:
		return Decision{Kind: KindDelta, Subject: k.Name()}, true
	case sim.HookPosRunEnd:
		return Decision{
			Kind:    KindStop,
			Subject: k.Name(),
			Detail:  ctx.Item.(sim.StopReason).String(),
		}, true
	default:
		return Decision{}, false
	}
}

func afterActivation(p *sim.Process) (Decision, bool) {
	switch p.State() {
	case sim.ProcessSuspended:
		return Decision{
			Kind:    KindSuspend,
			Subject: p.Name(),
			Detail:  suspendDetail(p),
		}, true
	case sim.ProcessTerminated:
		d := Decision{Kind: KindTerminate, Subject: p.Name()}
		if err := p.Err(); err != nil {
			d.Detail = err.Error()
		}

		return d, true
	default:
		return Decision{}, false
	}
}

func suspendDetail(p *sim.Process) string {
	detail := ""
	if e := p.WaitingOn(); e != nil {
		detail = "on " + e.Name()
	}

	if t, ok := p.WakeAt(); ok {
		if detail != "" {
			detail += " "
		}

		detail += "until " + t.String()
	}

	return detail
}
