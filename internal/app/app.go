package app

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"whispr-capture-service/internal/audio"
	"whispr-capture-service/internal/audio/capture"
	"whispr-capture-service/internal/audio/hal"
	"whispr-capture-service/internal/audio/hal/portaudio"
	"whispr-capture-service/internal/audio/hal/simulated"
	"whispr-capture-service/internal/audio/hal/wavfile"
	"whispr-capture-service/internal/audio/meter"
	"whispr-capture-service/internal/config"
	"whispr-capture-service/internal/events"
	"whispr-capture-service/internal/observability/logging"
	audioservice "whispr-capture-service/internal/service/audio"
	"whispr-capture-service/internal/service/orchestrator"
	"whispr-capture-service/internal/service/stt"
	"whispr-capture-service/internal/service/stt/google"
	"whispr-capture-service/internal/service/stt/mock"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime  time.Time
	Logger       zerolog.Logger
	Cfg          *config.Config
	Driver       hal.Driver
	Orchestrator *orchestrator.Orchestrator
	Publisher    *events.Publisher

	closeDriver  func() error
	ready        atomic.Bool
	shutdownOnce sync.Once
}

// New wires the driver, recognizer factory, streams, orchestrator and
// publisher described by cfg.
func New(cfg *config.Config) (*Application, error) {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Observability.LogLevel
	logCfg.Format = cfg.Observability.LogFormat
	logging.Init(logCfg)

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	driver, closeDriver, err := newDriver(cfg.Capture)
	if err != nil {
		return nil, err
	}
	a.Driver = driver
	a.closeDriver = closeDriver

	factory, err := newFactory(cfg.STT)
	if err != nil {
		_ = closeDriver()
		return nil, err
	}

	a.Publisher = events.New(&events.Config{
		Enabled:          cfg.Kafka.Enabled,
		Brokers:          cfg.Kafka.Brokers,
		TopicNotes:       cfg.Kafka.TopicNotes,
		TopicTranscripts: cfg.Kafka.TopicTranscripts,
		Principal:        cfg.Kafka.Principal,
	})

	streams := make([]*audioservice.Stream, 0, len(audio.SourceKinds))
	for _, kind := range audio.SourceKinds {
		src := capture.New(driver, kind, capture.Options{LevelInterval: cfg.Capture.LevelInterval})
		streams = append(streams, audioservice.NewStream(kind, src, factory))
	}
	a.Orchestrator = orchestrator.New(streams, a.Publisher, orchestrator.Config{
		CompileInterval: cfg.Notes.CompileInterval,
		NoteID:          cfg.Notes.ID,
		Locale:          cfg.STT.LanguageCode,
	})

	a.Logger.Info().
		Str("driver", driver.Name()).
		Str("sttProvider", cfg.STT.Provider).
		Str("noteId", a.Orchestrator.NoteID()).
		Msg("Whispr capture service application created")
	return a, nil
}

func newDriver(cfg config.CaptureConfig) (hal.Driver, func() error, error) {
	switch cfg.Driver {
	case "simulated":
		d := simulated.New(simulated.DefaultConfig())
		return d, func() error { d.Close(); return nil }, nil
	case "wavfile":
		clip, err := wavfile.Load(cfg.WAVPath)
		if err != nil {
			return nil, nil, err
		}
		d := wavfile.NewDriver(clip, wavfile.Options{Loop: cfg.WAVLoop})
		return d, func() error { d.Close(); return nil }, nil
	case "portaudio":
		d, err := portaudio.Open(cfg.FramesPerBuffer)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown capture driver %q", cfg.Driver)
	}
}

func newFactory(cfg config.STTConfig) (stt.Factory, error) {
	switch cfg.Provider {
	case "mock":
		mc := mock.DefaultConfig()
		mc.QueueSize = cfg.QueueSize
		return mock.NewFactory(mc), nil
	case "google":
		return google.NewFactory(google.Config{
			LanguageCode:   cfg.LanguageCode,
			SampleRateHz:   int32(cfg.SampleRateHz),
			InterimResults: cfg.InterimResults,
			AudioEncoding:  cfg.AudioEncoding,
			Model:          cfg.Model,
			QueueSize:      cfg.QueueSize,
		}), nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.Provider)
	}
}

// Start marks the application ready.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Whispr capture service starting")
	return nil
}

// Ready reports whether Start has run and Shutdown has not.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown stops every stream, flushes the final note and releases the
// driver and publisher. Safe to call more than once.
func (a *Application) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.ready.Store(false)
		a.Logger.Info().Msg("Whispr capture service shutting down")

		a.Orchestrator.StopAll()
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Publisher close failed")
		}
		if err := a.closeDriver(); err != nil {
			a.Logger.Warn().Err(err).Msg("Driver close failed")
		}
	})
}

// SourceStatus is the observable state of one stream.
type SourceStatus struct {
	Source     string       `json:"source"`
	State      string       `json:"state"`
	Recording  bool         `json:"recording"`
	Descriptor string       `json:"descriptor,omitempty"`
	Locale     string       `json:"locale,omitempty"`
	SessionID  string       `json:"sessionId,omitempty"`
	Levels     meter.Levels `json:"levels"`
	Transcript int          `json:"transcriptUtterances"`
	LastError  string       `json:"lastError,omitempty"`
}

// Status is the service-wide state reported on /v1/status.
type Status struct {
	Service   string         `json:"service"`
	Driver    string         `json:"driver"`
	Streaming bool           `json:"streaming"`
	Locale    string         `json:"locale"`
	NoteID    string         `json:"noteId"`
	Note      string         `json:"note"`
	Uptime    string         `json:"uptime,omitempty"`
	Sources   []SourceStatus `json:"sources"`
}

// Status collects the state of every stream.
func (a *Application) Status() Status {
	st := Status{
		Service:   a.Cfg.Service.Name,
		Driver:    a.Driver.Name(),
		Streaming: a.Orchestrator.IsStreaming(),
		Locale:    a.Orchestrator.Locale(),
		NoteID:    a.Orchestrator.NoteID(),
		Note:      a.Orchestrator.FormattedNote(),
	}
	if !a.StartupTime.IsZero() {
		st.Uptime = time.Since(a.StartupTime).Round(time.Second).String()
	}
	for _, kind := range a.Orchestrator.Sources() {
		s, _ := a.Orchestrator.Stream(kind)
		ss := SourceStatus{
			Source:     kind.String(),
			State:      s.State().String(),
			Recording:  s.IsRecording(),
			Locale:     s.Locale(),
			SessionID:  s.SessionID(),
			Levels:     s.Levels(),
			Transcript: len(s.Snapshot().Utterances),
		}
		if s.IsRecording() {
			ss.Descriptor = s.Descriptor().String()
		}
		if err := s.LastError(); err != nil {
			ss.LastError = err.Error()
		}
		st.Sources = append(st.Sources, ss)
	}
	return st
}

// DescriptorRequest names a capture target in caller terms.
type DescriptorRequest struct {
	PID      int    `json:"pid,omitempty"`
	BundleID string `json:"bundleId,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Descriptor builds the descriptor variant for kind, applying the
// configured tap options.
func (a *Application) Descriptor(kind audio.SourceKind, req DescriptorRequest) audio.Descriptor {
	var d audio.Descriptor
	switch kind {
	case audio.SourceSystemAudio:
		d = audio.SystemProcess(req.PID, req.Name)
	case audio.SourceApplicationAudio:
		d = audio.Application(req.PID, req.BundleID, req.Name)
	default:
		d = audio.HardwareDevice(req.DeviceID, req.Name)
	}
	if d.IsTap() {
		d.MuteWhenTapped = a.Cfg.Capture.MuteWhenTapped
	}
	return d
}
