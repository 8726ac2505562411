//go:build !portaudio

package portaudio

import (
	"errors"

	"whispr-capture-service/internal/audio/hal"
)

// Available reports whether this build includes PortAudio.
const Available = false

// ErrUnavailable is returned when the binary was built without the
// portaudio tag.
var ErrUnavailable = errors.New("portaudio driver not compiled in (build with -tags portaudio)")

// Driver is a placeholder so callers compile without cgo.
type Driver struct {
	hal.Driver
}

// Open always fails in this build.
func Open(int) (*Driver, error) {
	return nil, ErrUnavailable
}

// Close is a no-op.
func (d *Driver) Close() error { return nil }
