// Package hal is the boundary to the operating system's audio hardware layer:
// capture permissions, process taps, aggregate devices, I/O procs and input
// device sessions. Concrete drivers live in sub-packages.
package hal

import (
	"context"
	"errors"

	"whispr-capture-service/internal/audio"
)

// ObjectID identifies an OS audio object (process, tap, aggregate device).
// Zero is never a valid object.
type ObjectID uint32

// Unknown is the invalid object ID.
const Unknown ObjectID = 0

// Valid reports whether the ID refers to a live object.
func (id ObjectID) Valid() bool { return id != Unknown }

// IOProcID identifies an I/O proc registered on a device.
type IOProcID uint64

// IOProc is invoked on the hardware's realtime thread for every delivered
// buffer. The buffer's memory is only valid for the duration of the call.
type IOProc func(buf audio.Buffer)

// ErrNotSupported is returned by drivers that lack a capability entirely.
var ErrNotSupported = errors.New("operation not supported by audio driver")

// TapDescription configures a process tap.
type TapDescription struct {
	UID            string
	Process        ObjectID
	Name           string
	MuteWhenTapped bool
	Exclusive      bool
}

// AggregateDescription configures a private aggregate device that combines
// the system output device with a tap.
type AggregateDescription struct {
	UID               string
	Name              string
	MainSubDevice     string
	TapUID            string
	Private           bool
	TapAutoStart      bool
	DriftCompensation bool
}

// Permissions answers whether the user granted capture access.
type Permissions interface {
	CaptureAccess(ctx context.Context, kind audio.SourceKind) (bool, error)
}

// TapHardware is the process-tap half of the hardware layer. Every Create
// call has a matching Destroy that must be invoked exactly once.
type TapHardware interface {
	ResolveProcess(pid int) (ObjectID, error)
	CreateProcessTap(desc TapDescription) (ObjectID, error)
	TapFormat(tap ObjectID) (audio.Format, error)
	DefaultOutputDeviceUID() (string, error)
	CreateAggregateDevice(desc AggregateDescription) (ObjectID, error)
	CreateIOProc(device ObjectID, proc IOProc) (IOProcID, error)
	StartDevice(device ObjectID, proc IOProcID) error
	StopDevice(device ObjectID, proc IOProcID) error
	DestroyIOProc(device ObjectID, proc IOProcID) error
	DestroyAggregateDevice(device ObjectID) error
	DestroyProcessTap(tap ObjectID) error
}

// InputDevice is an enumerable hardware input.
type InputDevice struct {
	ID        string
	Name      string
	IsDefault bool
	Channels  int
}

// InputSession is an open capture session on one input device.
type InputSession interface {
	Format() audio.Format
	Start() error
	Stop() error
}

// InputHardware is the microphone half of the hardware layer.
type InputHardware interface {
	InputDevices() ([]InputDevice, error)
	// OpenInput opens deviceID ("" selects the default device). handler is
	// called from the driver's callback thread once Start succeeds.
	OpenInput(deviceID string, handler IOProc) (InputSession, error)
}

// Driver bundles everything a capture source needs from the OS.
type Driver interface {
	Permissions
	TapHardware
	InputHardware
	Name() string
}
