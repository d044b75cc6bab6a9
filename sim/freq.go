package sim

import (
	"log"
	"math"
)

// Freq defines the type of frequency
type Freq float64

// Defines the unit of frequency
const (
	Hz  Freq = 1
	KHz Freq = 1e3
	MHz Freq = 1e6
	GHz Freq = 1e9
)

// Period returns the time between two consecutive ticks, rounded to the
// nearest picosecond.
func (f Freq) Period() Duration {
	if f <= 0 {
		log.Panic("frequency must be positive")
	}

	p := Duration(math.Round(float64(Sec) / float64(f)))
	if p == 0 {
		log.Panic("frequency is too high for picosecond resolution")
	}

	return p
}

// Cycle converts a time to the number of whole cycles passed since time 0.
func (f Freq) Cycle(t VTime) uint64 {
	return uint64(t) / uint64(f.Period())
}

// ThisTick returns the current tick time
//
//	               Input
//	               (          ]
//	    |----------|----------|----------|----->
//	                          |
//	                          Output
func (f Freq) ThisTick(now VTime) VTime {
	p := uint64(f.Period())
	return VTime((uint64(now) + p - 1) / p * p)
}

// NextTick returns the next tick time.
//
//	               Input
//	               [          )
//	    |----------|----------|----------|----->
//	                          |
//	                          Output
func (f Freq) NextTick(now VTime) VTime {
	p := uint64(f.Period())
	return VTime((uint64(now)/p + 1) * p)
}

// NCyclesLater returns the time after N cycles
//
// This function will always return a time of an integer number of cycles
func (f Freq) NCyclesLater(n int, now VTime) VTime {
	return f.ThisTick(now).Add(Duration(n) * f.Period())
}
