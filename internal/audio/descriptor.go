package audio

import (
	"fmt"
	"strings"
)

// SourceKind identifies one of the three independent capture streams.
type SourceKind int

const (
	// SourceSystemAudio taps a process's audio output (system-wide mix target).
	SourceSystemAudio SourceKind = iota
	// SourceApplicationAudio taps a single application's audio output.
	SourceApplicationAudio
	// SourceMicrophone records from a hardware input device.
	SourceMicrophone
)

// SourceKinds lists every kind in display order.
var SourceKinds = []SourceKind{SourceSystemAudio, SourceApplicationAudio, SourceMicrophone}

func (k SourceKind) String() string {
	switch k {
	case SourceSystemAudio:
		return "system"
	case SourceApplicationAudio:
		return "application"
	case SourceMicrophone:
		return "microphone"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseSourceKind accepts the String form of a SourceKind (case-insensitive).
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system", "process":
		return SourceSystemAudio, nil
	case "application", "app":
		return SourceApplicationAudio, nil
	case "microphone", "mic":
		return SourceMicrophone, nil
	}
	return 0, fmt.Errorf("unknown source kind %q", s)
}

// DescriptorType is the variant tag of a Descriptor.
type DescriptorType int

const (
	DescriptorSystemProcess DescriptorType = iota + 1
	DescriptorApplication
	DescriptorHardwareDevice
)

// Descriptor names what a capture source should attach to. It is a tagged
// union: exactly one of the variant constructors below builds a valid value.
type Descriptor struct {
	Type DescriptorType

	// PID is set for SystemProcess and Application.
	PID int
	// BundleID is set for Application when known.
	BundleID string
	// DeviceID is set for HardwareDevice.
	DeviceID string
	// Name is a display name for logs.
	Name string
	// MuteWhenTapped mutes the tapped process for the lifetime of the tap.
	MuteWhenTapped bool
}

// SystemProcess describes a process whose audio is tapped into the system stream.
func SystemProcess(pid int, name string) Descriptor {
	return Descriptor{Type: DescriptorSystemProcess, PID: pid, Name: name}
}

// Application describes a single application whose audio is tapped.
func Application(pid int, bundleID, name string) Descriptor {
	return Descriptor{Type: DescriptorApplication, PID: pid, BundleID: bundleID, Name: name}
}

// HardwareDevice describes an input device such as a microphone.
func HardwareDevice(id, name string) Descriptor {
	return Descriptor{Type: DescriptorHardwareDevice, DeviceID: id, Name: name}
}

// Kind maps the descriptor variant onto the stream it feeds.
func (d Descriptor) Kind() SourceKind {
	switch d.Type {
	case DescriptorApplication:
		return SourceApplicationAudio
	case DescriptorHardwareDevice:
		return SourceMicrophone
	default:
		return SourceSystemAudio
	}
}

// IsTap reports whether the descriptor is captured through a process tap.
func (d Descriptor) IsTap() bool {
	return d.Type == DescriptorSystemProcess || d.Type == DescriptorApplication
}

// Validate checks that the variant carries the fields it needs.
func (d Descriptor) Validate() error {
	switch d.Type {
	case DescriptorSystemProcess, DescriptorApplication:
		if d.PID <= 0 {
			return fmt.Errorf("%w: descriptor %s has no pid", ErrDeviceUnavailable, d)
		}
	case DescriptorHardwareDevice:
		// Empty DeviceID selects the default input device.
	default:
		return fmt.Errorf("%w: descriptor has no variant", ErrDeviceUnavailable)
	}
	return nil
}

func (d Descriptor) String() string {
	switch d.Type {
	case DescriptorSystemProcess:
		return fmt.Sprintf("process(%d %s)", d.PID, d.Name)
	case DescriptorApplication:
		return fmt.Sprintf("application(%d %s)", d.PID, d.BundleID)
	case DescriptorHardwareDevice:
		if d.DeviceID == "" {
			return "device(default)"
		}
		return fmt.Sprintf("device(%s)", d.DeviceID)
	default:
		return "descriptor(none)"
	}
}
