// Package idgen provides the identifiers used by desim.
//
// Events and processes get small sequential IDs so that runs with the same
// setup produce identical decision logs. Runs themselves get globally unique
// names, which make good default file names for recorders and traces.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// ID is a unique identifier represented as a uint64.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Generator produces unique identifiers.
type Generator interface {
	Generate() ID
}

// New returns a sequential generator whose first emitted ID is "1".
func New() Generator {
	return &sequentialGenerator{}
}

type sequentialGenerator struct {
	next uint64
}

func (g *sequentialGenerator) Generate() ID {
	return ID(atomic.AddUint64(&g.next, 1))
}

// RunID returns a globally unique, sortable name for a simulation run.
func RunID() string {
	return xid.New().String()
}

// RunName returns prefix joined with a fresh RunID.
func RunName(prefix string) string {
	if prefix == "" {
		return RunID()
	}

	return prefix + "_" + RunID()
}
