package cmd

import (
	"io"
	"sort"

	"github.com/sarchlab/desim/examples/asyncnotify"
	"github.com/sarchlab/desim/examples/producerconsumer"
	"github.com/sarchlab/desim/examples/twothreads"
	"github.com/sarchlab/desim/sim"
)

// An example is a system that can be set up on a fresh kernel. The returned
// function, if any, is called after the run.
type example struct {
	name           string
	short          string
	defaultMaxTime string
	setup          func(k *sim.Kernel, out io.Writer) (func(), error)
}

var examples = map[string]example{
	"producerconsumer": {
		name:           "producerconsumer",
		short:          "a producer notifies a shared event every 2 s",
		defaultMaxTime: "10 s",
		setup: func(k *sim.Kernel, out io.Writer) (func(), error) {
			_, err := producerconsumer.MakeBuilder().
				WithOutput(out).
				Build(k)

			return nil, err
		},
	},
	"asyncnotify": {
		name:  "asyncnotify",
		short: "a goroutine triggers a simulation event once per second",
		setup: func(k *sim.Kernel, out io.Writer) (func(), error) {
			s, err := asyncnotify.MakeBuilder().
				WithOutput(out).
				WithSourceOutput(out).
				Build(k)
			if err != nil {
				return nil, err
			}

			s.Start()

			return s.Wait, nil
		},
	},
	"twothreads": {
		name:  "twothreads",
		short: "two threads step in lockstep while one blocks the kernel",
		setup: func(k *sim.Kernel, out io.Writer) (func(), error) {
			_, err := twothreads.MakeBuilder().
				WithOutput(out).
				Build(k)

			return nil, err
		},
	},
}

func exampleNames() []string {
	names := make([]string, 0, len(examples))
	for n := range examples {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}
