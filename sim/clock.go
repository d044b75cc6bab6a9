package sim

import "fmt"

// A Clock is a thread process that notifies its Posedge event once per
// period, starting at time 0.
type Clock struct {
	freq    Freq
	posedge *Event
	proc    *Process
	cycles  uint64
}

// NewClock creates a clock named name that ticks at freq. The positive edge
// event is called name + ".posedge".
func NewClock(k *Kernel, name string, freq Freq) (*Clock, error) {
	if freq <= 0 {
		return nil, fmt.Errorf("clock %s: frequency must be positive", name)
	}

	posedge, err := k.NewEvent(name + ".posedge")
	if err != nil {
		return nil, err
	}

	c := &Clock{
		freq:    freq,
		posedge: posedge,
	}

	c.proc, err = k.Spawn(name, c.run)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Posedge returns the event notified on every positive edge.
func (c *Clock) Posedge() *Event {
	return c.posedge
}

// Freq returns the frequency of the clock.
func (c *Clock) Freq() Freq {
	return c.freq
}

// Process returns the thread driving the clock.
func (c *Clock) Process() *Process {
	return c.proc
}

// Cycles returns the number of positive edges so far.
func (c *Clock) Cycles() uint64 {
	return c.cycles
}

func (c *Clock) run(p *Process) {
	period := c.freq.Period()

	for {
		// Notify in the next delta so that processes initialized after the
		// clock are already waiting at time 0.
		if err := p.NotifyDelta(c.posedge); err != nil {
			panic(err)
		}

		c.cycles++

		if err := p.WaitFor(period); err != nil {
			panic(err)
		}
	}
}
