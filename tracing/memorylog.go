package tracing

import "strings"

// MemoryLog keeps decisions in memory.
type MemoryLog struct {
	decisions []Decision
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Write appends a decision.
func (l *MemoryLog) Write(d Decision) {
	l.decisions = append(l.decisions, d)
}

// Flush does nothing.
func (l *MemoryLog) Flush() {}

// Decisions returns the recorded decisions in order.
func (l *MemoryLog) Decisions() []Decision {
	return l.decisions
}

// String renders one decision per line.
func (l *MemoryLog) String() string {
	var b strings.Builder
	for _, d := range l.decisions {
		b.WriteString(d.String())
		b.WriteByte('\n')
	}

	return b.String()
}
