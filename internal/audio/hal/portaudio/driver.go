//go:build portaudio

// Package portaudio is the microphone driver backed by PortAudio. It only
// implements the input half of the hardware layer; process taps report
// hal.ErrNotSupported.
package portaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"

	"whispr-capture-service/internal/audio"
	"whispr-capture-service/internal/audio/hal"
)

// Available reports whether this build includes PortAudio.
const Available = true

// Driver talks to PortAudio. Open must be called before use.
type Driver struct {
	framesPerBuffer int

	mu     sync.Mutex
	opened bool
}

var _ hal.Driver = (*Driver)(nil)

// Open initialises PortAudio.
func Open(framesPerBuffer int) (*Driver, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio initialize: %w", err)
	}
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	log.Info().Str("version", portaudio.VersionText()).Msg("PortAudio initialized")
	return &Driver{framesPerBuffer: framesPerBuffer, opened: true}, nil
}

// Close terminates PortAudio.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return nil
	}
	d.opened = false
	return portaudio.Terminate()
}

func (d *Driver) Name() string { return "portaudio" }

// CaptureAccess always grants; the OS prompts on first stream open.
func (d *Driver) CaptureAccess(_ context.Context, kind audio.SourceKind) (bool, error) {
	return kind == audio.SourceMicrophone, nil
}

func (d *Driver) InputDevices() ([]hal.InputDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var out []hal.InputDevice
	for _, dev := range devices {
		if dev.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, hal.InputDevice{
			ID:        dev.Name,
			Name:      dev.Name,
			IsDefault: def != nil && def.Name == dev.Name,
			Channels:  dev.MaxInputChannels,
		})
	}
	return out, nil
}

func (d *Driver) lookup(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name == deviceID && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no input device %q", deviceID)
}

func (d *Driver) OpenInput(deviceID string, handler hal.IOProc) (hal.InputSession, error) {
	dev, err := d.lookup(deviceID)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.FramesPerBuffer = d.framesPerBuffer

	format := audio.Format{
		Sample:         audio.SampleFloat32,
		Channels:       1,
		SampleRate:     int(params.SampleRate),
		BitsPerChannel: 32,
	}

	s := &session{format: format}
	stream, err := portaudio.OpenStream(params, func(in []float32) {
		handler(audio.NewFloat32Buffer(format, in))
	})
	if err != nil {
		return nil, fmt.Errorf("open stream on %q: %w", dev.Name, err)
	}
	s.stream = stream

	log.Info().
		Str("device", dev.Name).
		Float64("sampleRate", params.SampleRate).
		Int("framesPerBuffer", params.FramesPerBuffer).
		Msg("PortAudio input opened")
	return s, nil
}

type session struct {
	format audio.Format
	stream *portaudio.Stream
}

func (s *session) Format() audio.Format { return s.format }

func (s *session) Start() error { return s.stream.Start() }

func (s *session) Stop() error {
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}

func (d *Driver) ResolveProcess(int) (hal.ObjectID, error) { return hal.Unknown, hal.ErrNotSupported }

func (d *Driver) CreateProcessTap(hal.TapDescription) (hal.ObjectID, error) {
	return hal.Unknown, hal.ErrNotSupported
}

func (d *Driver) TapFormat(hal.ObjectID) (audio.Format, error) {
	return audio.Format{}, hal.ErrNotSupported
}

func (d *Driver) DefaultOutputDeviceUID() (string, error) { return "", hal.ErrNotSupported }

func (d *Driver) CreateAggregateDevice(hal.AggregateDescription) (hal.ObjectID, error) {
	return hal.Unknown, hal.ErrNotSupported
}

func (d *Driver) CreateIOProc(hal.ObjectID, hal.IOProc) (hal.IOProcID, error) {
	return 0, hal.ErrNotSupported
}

func (d *Driver) StartDevice(hal.ObjectID, hal.IOProcID) error   { return hal.ErrNotSupported }
func (d *Driver) StopDevice(hal.ObjectID, hal.IOProcID) error    { return hal.ErrNotSupported }
func (d *Driver) DestroyIOProc(hal.ObjectID, hal.IOProcID) error { return hal.ErrNotSupported }
func (d *Driver) DestroyAggregateDevice(hal.ObjectID) error      { return hal.ErrNotSupported }
func (d *Driver) DestroyProcessTap(hal.ObjectID) error           { return hal.ErrNotSupported }
