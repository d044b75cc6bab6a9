package sim

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered.
type HookCtx struct {
	// Domain is the hookable object that is raising this hook.
	Domain Hookable

	// Pos identifies the location the hook is firing from.
	Pos *HookPos

	// Item carries the primary subject (process, event, time, stop reason).
	Item any

	// Detail holds optional auxiliary data; hook sites may leave it nil.
	Detail any
}

// Hookable defines an object that accept Hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	//
	// Hooks must be registered before the kernel starts running. Hooks are
	// invoked from the scheduling thread only.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook

	// InvokeHook triggers the registered Hooks.
	InvokeHook(ctx HookCtx)
}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// Kernel hook positions.
var (
	// HookPosBeforeActivation fires before a process runs. Item is the
	// *Process.
	HookPosBeforeActivation = &HookPos{Name: "BeforeActivation"}

	// HookPosAfterActivation fires after a process suspends or terminates.
	// Item is the *Process, Detail its new ProcessState.
	HookPosAfterActivation = &HookPos{Name: "AfterActivation"}

	// HookPosEventFire fires when an event is notified. Item is the *Event,
	// Detail a FireInfo.
	HookPosEventFire = &HookPos{Name: "EventFire"}

	// HookPosDeltaCycle fires at the start of a delta cycle. Item is the
	// kernel-wide delta count.
	HookPosDeltaCycle = &HookPos{Name: "DeltaCycle"}

	// HookPosTimeAdvance fires after the clock moves. Item is the new VTime.
	HookPosTimeAdvance = &HookPos{Name: "TimeAdvance"}

	// HookPosExternalDrain fires for each event drained from the bridge. Item
	// is the *Event, Detail the number of coalesced requests.
	HookPosExternalDrain = &HookPos{Name: "ExternalDrain"}

	// HookPosRunEnd fires once when Run finishes. Item is the StopReason.
	HookPosRunEnd = &HookPos{Name: "RunEnd"}
)

// FireInfo describes a single firing of an event.
type FireInfo struct {
	// Count is how many notifications the firing accounts for. It is larger
	// than one only when external requests were coalesced.
	Count uint64

	// Woken is the number of waiters made runnable.
	Woken int
}

// A HookableBase provides some utility function for other type that implement
// the Hookable interface.
type HookableBase struct {
	hookList []Hook
}

// NewHookableBase creates a HookableBase object.
func NewHookableBase() *HookableBase {
	h := new(HookableBase)
	h.hookList = make([]Hook, 0)

	return h
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.hookList)
}

// Hooks returns all the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	return h.hookList
}

// AcceptHook register a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.mustNotHaveDuplicatedHook(hook)
	h.hookList = append(h.hookList, hook)
}

func (h *HookableBase) mustNotHaveDuplicatedHook(hook Hook) {
	for _, h := range h.hookList {
		if h == hook {
			panic("duplicated hook")
		}
	}
}

// InvokeHook triggers the register Hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hookList {
		hook.Func(ctx)
	}
}

var _ Hookable = (*HookableBase)(nil)
