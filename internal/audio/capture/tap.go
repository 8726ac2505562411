package capture

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"whispr-capture-service/internal/audio"
	"whispr-capture-service/internal/audio/hal"
)

// processTap owns the tap, the private aggregate device wrapping it and the
// I/O proc reading from it.
type processTap struct {
	hw     hal.TapHardware
	desc   audio.Descriptor
	logger zerolog.Logger

	state   TapState
	tapID   hal.ObjectID
	aggID   hal.ObjectID
	procID  hal.IOProcID
	format  audio.Format
	release cleanup
}

func newProcessTap(hw hal.TapHardware, desc audio.Descriptor, logger zerolog.Logger) *processTap {
	return &processTap{hw: hw, desc: desc, logger: logger}
}

// prepare creates the tap and the aggregate device. On failure everything
// created so far is released and the tap stays INACTIVE.
func (t *processTap) prepare() (err error) {
	if t.state != TapInactive {
		return fmt.Errorf("prepare in state %s", t.state)
	}
	defer func() {
		if err != nil {
			t.release.unwind(t.logger)
		}
	}()

	process, err := t.hw.ResolveProcess(t.desc.PID)
	if err != nil {
		return fmt.Errorf("%w: resolve pid %d: %w", audio.ErrDeviceUnavailable, t.desc.PID, err)
	}

	tapUID := uuid.NewString()
	tapID, err := t.hw.CreateProcessTap(hal.TapDescription{
		UID:            tapUID,
		Process:        process,
		Name:           fmt.Sprintf("whispr-%s-tap", t.desc.Kind()),
		MuteWhenTapped: t.desc.MuteWhenTapped,
	})
	if err != nil {
		return fmt.Errorf("%w: create process tap: %w", audio.ErrResourceCreationFailed, err)
	}
	t.tapID = tapID
	t.release.push(stepDestroyTap, func() error { return t.hw.DestroyProcessTap(tapID) })

	format, err := t.hw.TapFormat(tapID)
	if err != nil {
		return fmt.Errorf("%w: read tap format: %w", audio.ErrFormatUnsupported, err)
	}
	if !format.Valid() {
		return fmt.Errorf("%w: tap reports %s", audio.ErrFormatUnsupported, format)
	}
	t.format = format

	outputUID, err := t.hw.DefaultOutputDeviceUID()
	if err != nil {
		return fmt.Errorf("%w: default output device: %w", audio.ErrDeviceUnavailable, err)
	}

	aggID, err := t.hw.CreateAggregateDevice(hal.AggregateDescription{
		UID:               uuid.NewString(),
		Name:              fmt.Sprintf("whispr-%s-aggregate", t.desc.Kind()),
		MainSubDevice:     outputUID,
		TapUID:            tapUID,
		Private:           true,
		TapAutoStart:      true,
		DriftCompensation: true,
	})
	if err != nil {
		return fmt.Errorf("%w: create aggregate device: %w", audio.ErrResourceCreationFailed, err)
	}
	t.aggID = aggID
	t.release.push(stepDestroyAggregate, func() error { return t.hw.DestroyAggregateDevice(aggID) })

	t.state = TapPrepared
	t.logger.Debug().
		Uint32("tapId", uint32(tapID)).
		Uint32("aggregateId", uint32(aggID)).
		Str("format", format.String()).
		Msg("Process tap prepared")
	return nil
}

// run attaches proc and starts the aggregate device. On failure the tap is
// fully invalidated.
func (t *processTap) run(proc hal.IOProc) (err error) {
	if t.state != TapPrepared {
		return fmt.Errorf("run in state %s", t.state)
	}
	defer func() {
		if err != nil {
			t.invalidate()
		}
	}()

	procID, err := t.hw.CreateIOProc(t.aggID, proc)
	if err != nil {
		return fmt.Errorf("%w: create io proc: %w", audio.ErrResourceCreationFailed, err)
	}
	t.procID = procID
	aggID := t.aggID
	t.release.push(stepDestroyIOProc, func() error { return t.hw.DestroyIOProc(aggID, procID) })

	if err := t.hw.StartDevice(aggID, procID); err != nil {
		return fmt.Errorf("%w: start device: %w", audio.ErrResourceCreationFailed, err)
	}
	t.release.push(stepStopDevice, func() error { return t.hw.StopDevice(aggID, procID) })

	t.state = TapRunning
	return nil
}

// invalidate releases everything in reverse creation order: stop I/O,
// destroy I/O proc, destroy aggregate device, destroy tap. It always ends
// INACTIVE.
func (t *processTap) invalidate() {
	if t.state == TapInactive && t.release.len() == 0 {
		return
	}
	failed := t.release.unwind(t.logger)
	t.state = TapInactive
	t.tapID, t.aggID, t.procID = hal.Unknown, hal.Unknown, 0
	if failed > 0 {
		t.logger.Warn().Int("failedSteps", failed).Msg("Process tap invalidated with errors")
		return
	}
	t.logger.Debug().Msg("Process tap invalidated")
}
