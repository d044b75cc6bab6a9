package sim

import (
	"log/slog"
	"time"

	"github.com/sarchlab/desim/idgen"
)

// Builder can be used to build a Kernel.
type Builder struct {
	name        string
	logger      *slog.Logger
	maxTime     VTime
	hasMaxTime  bool
	maxSteps    uint64
	idleTimeout time.Duration
	hooks       []Hook
}

// MakeBuilder creates a new builder with default settings.
func MakeBuilder() Builder {
	return Builder{
		name: "kernel",
	}
}

// WithName sets the name of the kernel.
func (b Builder) WithName(name string) Builder {
	b.name = name
	return b
}

// WithLogger sets the logger for kernel diagnostics. By default the kernel
// logs to slog.Default().
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// WithMaxTime stops the run once no work is left at or before t. The clock
// ends at t.
func (b Builder) WithMaxTime(t VTime) Builder {
	b.maxTime = t
	b.hasMaxTime = true

	return b
}

// WithMaxSteps stops the run after n process activations. Zero means no
// limit.
func (b Builder) WithMaxSteps(n uint64) Builder {
	b.maxSteps = n
	return b
}

// WithIdleTimeout stops the run if the kernel waits on the bridge for longer
// than d of wall-clock time. Zero means wait forever.
func (b Builder) WithIdleTimeout(d time.Duration) Builder {
	b.idleTimeout = d
	return b
}

// WithHook registers a hook on the kernel.
func (b Builder) WithHook(h Hook) Builder {
	b.hooks = append(b.hooks[:len(b.hooks):len(b.hooks)], h)
	return b
}

// Build creates the kernel.
func (b Builder) Build() *Kernel {
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("kernel", b.name)

	k := &Kernel{
		HookableBase: NewHookableBase(),
		name:         b.name,
		logger:       logger,
		ids:          idgen.New(),
		eventByName:  make(map[string]*Event),
		eventByID:    make(map[EventID]*Event),
		procByName:   make(map[string]*Process),
		timed:        newWakeQueue(),
		parked:       make(chan *Process),
		bridge:       newBridge(logger),
		maxTime:      b.maxTime,
		hasMaxTime:   b.hasMaxTime,
		maxSteps:     b.maxSteps,
		idleTimeout:  b.idleTimeout,
	}

	for _, h := range b.hooks {
		k.AcceptHook(h)
	}

	return k
}
