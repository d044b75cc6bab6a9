package sim

import (
	"errors"
	"fmt"
)

// Usage errors reported by the kernel. They are always returned wrapped with
// the name of the offending process or event; test with errors.Is.
var (
	ErrNotRunning        = errors.New("sim: caller is not the running process")
	ErrWaitInMethod      = errors.New("sim: method processes cannot wait, use NextTrigger")
	ErrNotMethod         = errors.New("sim: only method processes have next triggers")
	ErrNoSensitivity     = errors.New("sim: process has no static sensitivity")
	ErrDuplicateName     = errors.New("sim: duplicate name")
	ErrEmptyName         = errors.New("sim: empty name")
	ErrNegativeDuration  = errors.New("sim: negative duration")
	ErrNilEvent          = errors.New("sim: nil event")
	ErrUnknownEvent      = errors.New("sim: unknown event")
	ErrForeignEvent      = errors.New("sim: event belongs to another kernel")
	ErrForeignProcess    = errors.New("sim: process belongs to another kernel")
	ErrAlreadyRun        = errors.New("sim: kernel has already run")
	ErrKillRunning       = errors.New("sim: cannot kill the running process")
	ErrProcessTerminated = errors.New("sim: process has terminated")
	ErrBridgeClosed      = errors.New("sim: bridge is closed")
)

// ProcessPanicError is returned by Kernel.Run when a process body panics.
type ProcessPanicError struct {
	Process string
	Value   any
	Stack   []byte
}

func (e *ProcessPanicError) Error() string {
	return fmt.Sprintf("sim: process %s panicked: %v", e.Process, e.Value)
}
