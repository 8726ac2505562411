package capture

import (
	"github.com/rs/zerolog"

	"whispr-capture-service/internal/observability/metrics"
)

// Teardown step names, in the order they are pushed during setup.
const (
	stepDestroyTap       = "destroy_tap"
	stepDestroyAggregate = "destroy_aggregate_device"
	stepDestroyIOProc    = "destroy_io_proc"
	stepStopDevice       = "stop_device"
	stepStopInput        = "stop_input"
)

type releaseStep struct {
	name string
	fn   func() error
}

// cleanup is a stack of release actions. Every acquired OS object pushes
// its release right after creation; unwind pops them in reverse. A failing
// step is logged and counted, and the remaining steps still run.
type cleanup struct {
	steps []releaseStep
}

func (c *cleanup) push(name string, fn func() error) {
	c.steps = append(c.steps, releaseStep{name: name, fn: fn})
}

func (c *cleanup) len() int { return len(c.steps) }

// unwind runs every pushed step in reverse and empties the stack. It returns
// the number of failed steps.
func (c *cleanup) unwind(logger zerolog.Logger) int {
	failed := 0
	for i := len(c.steps) - 1; i >= 0; i-- {
		s := c.steps[i]
		if err := s.fn(); err != nil {
			failed++
			metrics.DefaultMetrics.RecordTeardownFailure(s.name)
			logger.Warn().Err(err).Str("step", s.name).Msg("Teardown step failed")
			continue
		}
		logger.Debug().Str("step", s.name).Msg("Teardown step completed")
	}
	c.steps = nil
	return failed
}
