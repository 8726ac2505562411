package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"whispr-capture-service/internal/audio"
	"whispr-capture-service/internal/audio/hal"
	"whispr-capture-service/internal/audio/meter"
	"whispr-capture-service/internal/observability/logging"
	"whispr-capture-service/internal/observability/metrics"
)

// DefaultLevelInterval is the level publish cadence.
const DefaultLevelInterval = 100 * time.Millisecond

// Handler receives every captured buffer on the hardware callback thread.
// It must not block and must Clone the buffer to keep it.
type Handler func(buf audio.Buffer)

// Source is the capture lifecycle shared by taps and microphones.
type Source interface {
	// Start acquires the hardware for desc and begins delivering buffers to
	// handler. It fails with audio.ErrAlreadyStreaming while streaming.
	Start(ctx context.Context, desc audio.Descriptor, handler Handler) error
	// Stop releases the hardware. It is idempotent and never fails.
	Stop()
	State() State
	Levels() meter.Levels
	// SubscribeLevels returns a channel receiving levels on every publish
	// tick. Updates are dropped while the channel is full.
	SubscribeLevels(buffer int) (<-chan meter.Levels, func())
}

// Options configures a Capture.
type Options struct {
	LevelInterval time.Duration
	Table         *meter.Table
}

// Capture implements Source for every descriptor variant.
type Capture struct {
	driver hal.Driver
	kind   audio.SourceKind
	opts   Options
	meter  *meter.Meter
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	desc      audio.Descriptor
	tap       *processTap
	input     cleanup
	format    audio.Format
	startedAt time.Time
	stopLevel context.CancelFunc
	levelDone chan struct{}

	handler atomic.Pointer[Handler]

	subMu   sync.Mutex
	subs    map[int]chan meter.Levels
	nextSub int
}

var _ Source = (*Capture)(nil)

// New creates a stopped capture for one source kind.
func New(driver hal.Driver, kind audio.SourceKind, opts Options) *Capture {
	if opts.LevelInterval <= 0 {
		opts.LevelInterval = DefaultLevelInterval
	}
	return &Capture{
		driver: driver,
		kind:   kind,
		opts:   opts,
		meter:  meter.NewWithTable(opts.Table),
		logger: logging.WithSource(kind.String()),
		subs:   make(map[int]chan meter.Levels),
	}
}

// Kind returns the source kind this capture serves.
func (c *Capture) Kind() audio.SourceKind { return c.kind }

// State returns the current lifecycle state.
func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TapState returns the process tap state, or TapInactive for microphones.
func (c *Capture) TapState() TapState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tap == nil {
		return TapInactive
	}
	return c.tap.state
}

// Descriptor returns the descriptor of the running stream.
func (c *Capture) Descriptor() audio.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desc
}

// Format returns the hardware format of the running stream.
func (c *Capture) Format() audio.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

// Levels returns the most recently published levels.
func (c *Capture) Levels() meter.Levels {
	return c.meter.Levels()
}

// Start implements Source.
func (c *Capture) Start(ctx context.Context, desc audio.Descriptor, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStreaming {
		return fmt.Errorf("%w: %s", audio.ErrAlreadyStreaming, c.kind)
	}
	if err := desc.Validate(); err != nil {
		return err
	}
	if desc.Kind() != c.kind {
		return fmt.Errorf("%w: %s cannot feed the %s source", audio.ErrDeviceUnavailable, desc, c.kind)
	}

	granted, err := c.driver.CaptureAccess(ctx, c.kind)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", audio.ErrPermissionDenied, c.kind, err)
	}
	if !granted {
		return fmt.Errorf("%w: %s", audio.ErrPermissionDenied, c.kind)
	}

	if handler != nil {
		c.handler.Store(&handler)
	}
	c.meter.Reset()

	if desc.IsTap() {
		err = c.startTap(desc)
	} else {
		err = c.startInput(desc)
	}
	if err != nil {
		c.handler.Store(nil)
		c.logger.Error().Err(err).Str("descriptor", desc.String()).Msg("Capture start failed")
		return err
	}

	c.desc = desc
	c.state = StateStreaming
	c.startedAt = time.Now()
	c.startLevelPublisher()

	c.logger.Info().
		Str("descriptor", desc.String()).
		Str("driver", c.driver.Name()).
		Str("format", c.format.String()).
		Msg("Capture started")
	return nil
}

func (c *Capture) startTap(desc audio.Descriptor) error {
	tap := newProcessTap(c.driver, desc, c.logger)
	if err := tap.prepare(); err != nil {
		return err
	}
	if err := tap.run(c.deliver); err != nil {
		return err
	}
	c.tap = tap
	c.format = tap.format
	return nil
}

func (c *Capture) startInput(desc audio.Descriptor) (err error) {
	defer func() {
		if err != nil {
			c.input.unwind(c.logger)
		}
	}()

	session, err := c.driver.OpenInput(desc.DeviceID, c.deliver)
	if err != nil {
		return fmt.Errorf("%w: open input %s: %w", audio.ErrDeviceUnavailable, desc, err)
	}
	c.input.push(stepStopInput, session.Stop)

	format := session.Format()
	if !format.Valid() {
		return fmt.Errorf("%w: input reports %s", audio.ErrFormatUnsupported, format)
	}
	if err := session.Start(); err != nil {
		return fmt.Errorf("%w: start input %s: %w", audio.ErrResourceCreationFailed, desc, err)
	}
	c.format = format
	return nil
}

// deliver is the hardware callback.
func (c *Capture) deliver(buf audio.Buffer) {
	c.meter.Process(buf)
	metrics.DefaultMetrics.RecordAudioReceived(c.kind.String(), len(buf.Data))
	if h := c.handler.Load(); h != nil {
		(*h)(buf)
	}
}

// Stop implements Source.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStopped {
		return
	}

	c.stopLevelPublisher()
	c.handler.Store(nil)

	if c.tap != nil {
		c.tap.invalidate()
		c.tap = nil
	}
	if failed := c.input.unwind(c.logger); failed > 0 {
		c.logger.Warn().Int("failedSteps", failed).Msg("Input session released with errors")
	}

	c.meter.Reset()
	c.publish(meter.Levels{})

	c.logger.Info().
		Str("descriptor", c.desc.String()).
		Dur("duration", time.Since(c.startedAt)).
		Msg("Capture stopped")

	c.state = StateStopped
	c.desc = audio.Descriptor{}
	c.format = audio.Format{}
}

func (c *Capture) startLevelPublisher() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.stopLevel = cancel
	c.levelDone = done

	interval := c.opts.LevelInterval
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.publish(c.meter.Flush())
			}
		}
	}()
}

// stopLevelPublisher cancels the ticker and waits for it to exit.
func (c *Capture) stopLevelPublisher() {
	if c.stopLevel == nil {
		return
	}
	c.stopLevel()
	<-c.levelDone
	c.stopLevel, c.levelDone = nil, nil
}

// SubscribeLevels implements Source.
func (c *Capture) SubscribeLevels(buffer int) (<-chan meter.Levels, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan meter.Levels, buffer)

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (c *Capture) publish(l meter.Levels) {
	metrics.DefaultMetrics.RecordLevels(c.kind.String(), l.Average, l.Peak)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- l:
		default:
			metrics.DefaultMetrics.RecordLevelDropped(c.kind.String())
		}
	}
}
