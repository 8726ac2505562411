// Package simulated provides an in-memory audio hardware driver. It behaves
// like the OS layer (object IDs, create/destroy pairing, realtime callbacks)
// and synthesises a tone, so the whole pipeline runs without audio hardware.
// Failures can be scripted per operation and every call is recorded.
package simulated

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"whispr-capture-service/internal/audio"
	"whispr-capture-service/internal/audio/hal"
)

// Operation names used by Calls and FailOn.
const (
	OpResolveProcess         = "ResolveProcess"
	OpCreateProcessTap       = "CreateProcessTap"
	OpTapFormat              = "TapFormat"
	OpDefaultOutputDeviceUID = "DefaultOutputDeviceUID"
	OpCreateAggregateDevice  = "CreateAggregateDevice"
	OpCreateIOProc           = "CreateIOProc"
	OpStartDevice            = "StartDevice"
	OpStopDevice             = "StopDevice"
	OpDestroyIOProc          = "DestroyIOProc"
	OpDestroyAggregateDevice = "DestroyAggregateDevice"
	OpDestroyProcessTap      = "DestroyProcessTap"
	OpOpenInput              = "OpenInput"
	OpStartInput             = "StartInput"
	OpStopInput              = "StopInput"
)

// Config shapes the synthetic audio.
type Config struct {
	// Name is reported by Driver.Name. Defaults to "simulated".
	Name         string
	Format       audio.Format
	BufferFrames int
	// Interval between generated buffers. Zero disables the generator; buffers
	// are then only delivered through Deliver.
	Interval  time.Duration
	Frequency float64
	Amplitude float64
	// Processes restricts which PIDs resolve. Nil resolves every positive PID.
	Processes map[int]string
	Devices   []hal.InputDevice
	// NewSource, when set, replaces the tone generator. It is called once per
	// started device or session.
	NewSource func(format audio.Format, frames int) BufferSource
}

// BufferSource produces the buffers a running device delivers. Next returns
// false once the source is exhausted; the device then goes quiet.
type BufferSource interface {
	Next() (audio.Buffer, bool)
}

// DefaultConfig returns a 16 kHz mono float tone generator at 20 ms buffers.
func DefaultConfig() Config {
	return Config{
		Format:       audio.Format{Sample: audio.SampleFloat32, Channels: 1, SampleRate: 16000, BitsPerChannel: 32},
		BufferFrames: 320,
		Interval:     20 * time.Millisecond,
		Frequency:    440,
		Amplitude:    0.25,
		Devices: []hal.InputDevice{
			{ID: "sim-mic", Name: "Simulated Microphone", IsDefault: true, Channels: 1},
		},
	}
}

type ioProc struct {
	device  hal.ObjectID
	fn      hal.IOProc
	running bool
	stop    chan struct{}
}

// Driver is the simulated hal.Driver.
type Driver struct {
	cfg Config

	mu         sync.Mutex
	nextID     uint32
	denied     map[audio.SourceKind]bool
	failures   map[string]error
	calls      []string
	taps       map[hal.ObjectID]hal.TapDescription
	aggregates map[hal.ObjectID]hal.AggregateDescription
	procs      map[hal.IOProcID]*ioProc
	sessions   map[*session]struct{}
	wg         sync.WaitGroup
}

var _ hal.Driver = (*Driver)(nil)

// New creates a simulated driver.
func New(cfg Config) *Driver {
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = 320
	}
	if cfg.Format.Channels <= 0 {
		cfg.Format.Channels = 1
	}
	if cfg.Format.SampleRate <= 0 {
		cfg.Format.SampleRate = 16000
	}
	if cfg.Format.Sample == audio.SampleUnknown && cfg.Format.BitsPerChannel == 0 {
		cfg.Format.Sample = audio.SampleFloat32
		cfg.Format.BitsPerChannel = 32
	}
	return &Driver{
		cfg:        cfg,
		denied:     make(map[audio.SourceKind]bool),
		failures:   make(map[string]error),
		taps:       make(map[hal.ObjectID]hal.TapDescription),
		aggregates: make(map[hal.ObjectID]hal.AggregateDescription),
		procs:      make(map[hal.IOProcID]*ioProc),
		sessions:   make(map[*session]struct{}),
	}
}

// Name returns the driver name.
func (d *Driver) Name() string {
	if d.cfg.Name != "" {
		return d.cfg.Name
	}
	return "simulated"
}

// Deny makes CaptureAccess refuse the given kind.
func (d *Driver) Deny(kind audio.SourceKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denied[kind] = true
}

// FailOn makes the named operation return err until cleared with a nil err.
func (d *Driver) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, op)
		return
	}
	d.failures[op] = err
}

// Calls returns the operations invoked so far, in order.
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// ResetCalls clears the call log.
func (d *Driver) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// LiveObjects counts taps, aggregate devices, I/O procs and input sessions
// that were created and not yet destroyed.
func (d *Driver) LiveObjects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.taps) + len(d.aggregates) + len(d.procs) + len(d.sessions)
}

// Deliver synchronously hands buf to every running I/O proc and input
// session, as the hardware thread would. It returns the number of receivers.
func (d *Driver) Deliver(buf audio.Buffer) int {
	d.mu.Lock()
	var fns []hal.IOProc
	for _, p := range d.procs {
		if p.running {
			fns = append(fns, p.fn)
		}
	}
	for s := range d.sessions {
		if s.running {
			fns = append(fns, s.handler)
		}
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(buf)
	}
	return len(fns)
}

// Close waits for every generator goroutine to exit.
func (d *Driver) Close() {
	d.mu.Lock()
	for _, p := range d.procs {
		if p.running {
			close(p.stop)
			p.running = false
		}
	}
	for s := range d.sessions {
		if s.running {
			close(s.stop)
			s.running = false
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// record logs the call and returns the scripted failure, if any. Callers hold d.mu.
func (d *Driver) record(op string) error {
	d.calls = append(d.calls, op)
	return d.failures[op]
}

func (d *Driver) allocID() hal.ObjectID {
	d.nextID++
	return hal.ObjectID(d.nextID)
}

// CaptureAccess implements hal.Permissions.
func (d *Driver) CaptureAccess(_ context.Context, kind audio.SourceKind) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.denied[kind], nil
}

// ResolveProcess implements hal.TapHardware.
func (d *Driver) ResolveProcess(pid int) (hal.ObjectID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpResolveProcess); err != nil {
		return hal.Unknown, err
	}
	if pid <= 0 {
		return hal.Unknown, fmt.Errorf("no process with pid %d", pid)
	}
	if d.cfg.Processes != nil {
		if _, ok := d.cfg.Processes[pid]; !ok {
			return hal.Unknown, fmt.Errorf("no process with pid %d", pid)
		}
	}
	return hal.ObjectID(1_000_000 + pid), nil
}

// CreateProcessTap implements hal.TapHardware.
func (d *Driver) CreateProcessTap(desc hal.TapDescription) (hal.ObjectID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpCreateProcessTap); err != nil {
		return hal.Unknown, err
	}
	if !desc.Process.Valid() {
		return hal.Unknown, fmt.Errorf("tap target is not a process")
	}
	id := d.allocID()
	d.taps[id] = desc
	return id, nil
}

// TapFormat implements hal.TapHardware.
func (d *Driver) TapFormat(tap hal.ObjectID) (audio.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpTapFormat); err != nil {
		return audio.Format{}, err
	}
	if _, ok := d.taps[tap]; !ok {
		return audio.Format{}, fmt.Errorf("unknown tap %d", tap)
	}
	return d.cfg.Format, nil
}

// DefaultOutputDeviceUID implements hal.TapHardware.
func (d *Driver) DefaultOutputDeviceUID() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpDefaultOutputDeviceUID); err != nil {
		return "", err
	}
	return "sim-output", nil
}

// CreateAggregateDevice implements hal.TapHardware.
func (d *Driver) CreateAggregateDevice(desc hal.AggregateDescription) (hal.ObjectID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpCreateAggregateDevice); err != nil {
		return hal.Unknown, err
	}
	id := d.allocID()
	d.aggregates[id] = desc
	return id, nil
}

// CreateIOProc implements hal.TapHardware.
func (d *Driver) CreateIOProc(device hal.ObjectID, proc hal.IOProc) (hal.IOProcID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpCreateIOProc); err != nil {
		return 0, err
	}
	if _, ok := d.aggregates[device]; !ok {
		return 0, fmt.Errorf("unknown device %d", device)
	}
	id := hal.IOProcID(d.allocID())
	d.procs[id] = &ioProc{device: device, fn: proc}
	return id, nil
}

// StartDevice implements hal.TapHardware.
func (d *Driver) StartDevice(device hal.ObjectID, proc hal.IOProcID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpStartDevice); err != nil {
		return err
	}
	p, ok := d.procs[proc]
	if !ok || p.device != device {
		return fmt.Errorf("unknown io proc %d on device %d", proc, device)
	}
	if p.running {
		return nil
	}
	p.running = true
	p.stop = make(chan struct{})
	d.generate(p.fn, p.stop)
	return nil
}

// StopDevice implements hal.TapHardware.
func (d *Driver) StopDevice(device hal.ObjectID, proc hal.IOProcID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpStopDevice); err != nil {
		return err
	}
	p, ok := d.procs[proc]
	if !ok || p.device != device {
		return fmt.Errorf("unknown io proc %d on device %d", proc, device)
	}
	if p.running {
		close(p.stop)
		p.running = false
	}
	return nil
}

// DestroyIOProc implements hal.TapHardware.
func (d *Driver) DestroyIOProc(device hal.ObjectID, proc hal.IOProcID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpDestroyIOProc); err != nil {
		return err
	}
	p, ok := d.procs[proc]
	if !ok || p.device != device {
		return fmt.Errorf("unknown io proc %d on device %d", proc, device)
	}
	if p.running {
		close(p.stop)
		p.running = false
	}
	delete(d.procs, proc)
	return nil
}

// DestroyAggregateDevice implements hal.TapHardware.
func (d *Driver) DestroyAggregateDevice(device hal.ObjectID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpDestroyAggregateDevice); err != nil {
		return err
	}
	if _, ok := d.aggregates[device]; !ok {
		return fmt.Errorf("unknown device %d", device)
	}
	delete(d.aggregates, device)
	return nil
}

// DestroyProcessTap implements hal.TapHardware.
func (d *Driver) DestroyProcessTap(tap hal.ObjectID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpDestroyProcessTap); err != nil {
		return err
	}
	if _, ok := d.taps[tap]; !ok {
		return fmt.Errorf("unknown tap %d", tap)
	}
	delete(d.taps, tap)
	return nil
}

// InputDevices implements hal.InputHardware.
func (d *Driver) InputDevices() ([]hal.InputDevice, error) {
	return append([]hal.InputDevice(nil), d.cfg.Devices...), nil
}

type session struct {
	d       *Driver
	format  audio.Format
	handler hal.IOProc
	running bool
	stop    chan struct{}
}

// OpenInput implements hal.InputHardware.
func (d *Driver) OpenInput(deviceID string, handler hal.IOProc) (hal.InputSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpOpenInput); err != nil {
		return nil, err
	}
	if deviceID != "" {
		found := false
		for _, dev := range d.cfg.Devices {
			if dev.ID == deviceID {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no input device %q", deviceID)
		}
	}
	s := &session{d: d, format: d.cfg.Format, handler: handler}
	d.sessions[s] = struct{}{}
	return s, nil
}

func (s *session) Format() audio.Format { return s.format }

func (s *session) Start() error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.d.record(OpStartInput); err != nil {
		return err
	}
	if s.running {
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	s.d.generate(s.handler, s.stop)
	return nil
}

func (s *session) Stop() error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	err := s.d.record(OpStopInput)
	if s.running {
		close(s.stop)
		s.running = false
	}
	delete(s.d.sessions, s)
	return err
}

// generate starts the tone goroutine for fn. Callers hold d.mu.
func (d *Driver) generate(fn hal.IOProc, stop <-chan struct{}) {
	if d.cfg.Interval <= 0 {
		return
	}
	var src BufferSource
	if d.cfg.NewSource != nil {
		src = d.cfg.NewSource(d.cfg.Format, d.cfg.BufferFrames)
	} else {
		src = newTone(d.cfg)
	}
	interval := d.cfg.Interval
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				buf, ok := src.Next()
				if !ok {
					<-stop
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Error().Interface("panic", r).Msg("Simulated io proc panicked")
						}
					}()
					fn(buf)
				}()
			}
		}
	}()
}

type tone struct {
	cfg   Config
	phase float64
	step  float64
}

func newTone(cfg Config) *tone {
	return &tone{cfg: cfg, step: 2 * math.Pi * cfg.Frequency / float64(cfg.Format.SampleRate)}
}

func (t *tone) Next() (audio.Buffer, bool) {
	cfg := t.cfg
	ch := cfg.Format.Channels
	switch cfg.Format.Sample {
	case audio.SampleInt16:
		samples := make([]int16, cfg.BufferFrames*ch)
		for i := 0; i < cfg.BufferFrames; i++ {
			v := int16(cfg.Amplitude * math.MaxInt16 * math.Sin(t.phase))
			for c := 0; c < ch; c++ {
				samples[i*ch+c] = v
			}
			t.phase += t.step
		}
		return audio.NewInt16Buffer(cfg.Format, samples), true
	default:
		samples := make([]float32, cfg.BufferFrames*ch)
		for i := 0; i < cfg.BufferFrames; i++ {
			v := float32(cfg.Amplitude * math.Sin(t.phase))
			for c := 0; c < ch; c++ {
				samples[i*ch+c] = v
			}
			t.phase += t.step
		}
		return audio.NewFloat32Buffer(cfg.Format, samples), true
	}
}
