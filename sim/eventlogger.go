package sim

import (
	"log"
)

// LogHookBase provides the common logic for all log hooks.
type LogHookBase struct {
	*log.Logger
}

// ActivationLogger is a hook that prints a line for every process activation
// and every event firing.
type ActivationLogger struct {
	LogHookBase
}

// NewActivationLogger returns a new ActivationLogger which will write into the
// logger.
func NewActivationLogger(logger *log.Logger) *ActivationLogger {
	h := new(ActivationLogger)
	h.Logger = logger

	return h
}

// Func writes the activation information into the logger.
func (h *ActivationLogger) Func(ctx HookCtx) {
	k, ok := ctx.Domain.(*Kernel)
	if !ok {
		return
	}

	switch ctx.Pos {
	case HookPosBeforeActivation:
		p := ctx.Item.(*Process)
		h.Logger.Printf("%s, %d, %s -> %s",
			k.CurrentTime(), k.DeltaCount(), p.Kind(), p.Name())
	case HookPosEventFire:
		e := ctx.Item.(*Event)
		info := ctx.Detail.(FireInfo)
		h.Logger.Printf("%s, %d, fire %s x%d woke %d",
			k.CurrentTime(), k.DeltaCount(), e.Name(), info.Count, info.Woken)
	}
}
