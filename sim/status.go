package sim

import "github.com/sarchlab/desim/idgen"

// Status is a point-in-time picture of a kernel.
type Status struct {
	Name            string          `json:"name"`
	Now             string          `json:"now"`
	NowPS           VTime           `json:"now_ps"`
	Delta           uint64          `json:"delta"`
	Steps           uint64          `json:"steps"`
	Running         bool            `json:"running"`
	Paused          bool            `json:"paused"`
	StopReason      string          `json:"stop_reason"`
	PendingExternal int             `json:"pending_external"`
	Processes       []ProcessStatus `json:"processes"`
	Events          []EventStatus   `json:"events"`
}

// ProcessStatus describes one process in a Status.
type ProcessStatus struct {
	ID          idgen.ID `json:"id"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	State       string   `json:"state"`
	Activations uint64   `json:"activations"`
	WaitingOn   string   `json:"waiting_on,omitempty"`
	WakeAt      string   `json:"wake_at,omitempty"`
}

// EventStatus describes one event in a Status.
type EventStatus struct {
	ID         EventID `json:"id"`
	Name       string  `json:"name"`
	Generation uint64  `json:"generation"`
	Waiters    int     `json:"waiters"`
}

// Snapshot returns the current status of the kernel. It is safe to call from
// any goroutine except a running process, and waits for the current
// activation to finish.
func (k *Kernel) Snapshot() Status {
	k.isPausedLock.Lock()
	defer k.isPausedLock.Unlock()

	if !k.isPaused {
		k.pauseLock.Lock()
		defer k.pauseLock.Unlock()
	}

	s := Status{
		Name:            k.name,
		NowPS:           k.CurrentTime(),
		Delta:           k.DeltaCount(),
		Steps:           k.steps,
		Running:         k.Running(),
		Paused:          k.isPaused,
		StopReason:      k.stopReason.String(),
		PendingExternal: k.bridge.Pending(),
	}
	s.Now = s.NowPS.String()

	for _, p := range k.procs {
		s.Processes = append(s.Processes, p.status())
	}

	for _, e := range k.events {
		s.Events = append(s.Events, EventStatus{
			ID:         e.id,
			Name:       e.name,
			Generation: e.generation,
			Waiters:    e.NumWaiters(),
		})
	}

	return s
}

func (p *Process) status() ProcessStatus {
	ps := ProcessStatus{
		ID:          p.id,
		Name:        p.name,
		Kind:        p.kind.String(),
		State:       p.state.String(),
		Activations: p.activations,
	}

	if e := p.WaitingOn(); e != nil {
		ps.WaitingOn = e.name
	}

	if t, ok := p.WakeAt(); ok {
		ps.WakeAt = t.String()
	}

	return ps
}
