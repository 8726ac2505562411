// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"whispr-capture-service/internal/audio"
	"whispr-capture-service/internal/observability/metrics"
	"whispr-capture-service/internal/service/stt"
)

const provider = "google"

// Config holds Google Speech-to-Text settings.
type Config struct {
	LanguageCode   string
	SampleRateHz   int32
	InterimResults bool
	AudioEncoding  string
	Model          string
	QueueSize      int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		QueueSize:      64,
	}
}

func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	switch s {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	cfg    Config
	client *speech.Client
	queue  chan audio.Buffer
	logger zerolog.Logger

	mu        sync.Mutex
	stream    speechpb.Speech_StreamingRecognizeClient
	cb        stt.Callback
	started   time.Time
	closed    bool
	cancel    context.CancelFunc
	stopSend  context.CancelFunc
	sendDone  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ stt.Adapter = (*Adapter)(nil)

// New creates a new Google STT adapter.
// Without explicit options, GOOGLE_APPLICATION_CREDENTIALS must be set.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Adapter, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Adapter{
		cfg:    cfg,
		client: c,
		queue:  make(chan audio.Buffer, cfg.QueueSize),
		logger: log.With().Str("sttProvider", provider).Str("languageCode", cfg.LanguageCode).Logger(),
	}, nil
}

// NewFactory returns an stt.Factory that creates one adapter per stream,
// bound to the requested locale. An empty locale keeps cfg.LanguageCode.
func NewFactory(cfg Config, opts ...option.ClientOption) stt.Factory {
	return func(ctx context.Context, locale string) (stt.Adapter, error) {
		c := cfg
		if locale != "" {
			c.LanguageCode = locale
		}
		return New(ctx, c, opts...)
	}
}

// Provider implements stt.Adapter.
func (a *Adapter) Provider() string { return provider }

// Start opens the streaming session and spawns the sender and receiver
// goroutines. The streaming config goes out with the first buffer, once the
// capture format is known.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.ErrClosed
	}
	if a.stream != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("open streaming recognize: %w", err)
	}

	sendCtx, stopSend := context.WithCancel(ctx)
	a.stream = stream
	a.cb = cb
	a.cancel = cancel
	a.stopSend = stopSend
	a.sendDone = make(chan struct{})
	a.started = time.Now()

	a.wg.Add(1)
	go a.send(sendCtx, stream)
	go a.listen(ctx, stream, cb)

	a.logger.Info().Msg("Streaming recognition started")
	return nil
}

// streamingConfig describes audio in format. Buffers are sent at their
// capture rate, so a known rate overrides the configured one.
func (a *Adapter) streamingConfig(format audio.Format) *speechpb.StreamingRecognitionConfig {
	rate := a.cfg.SampleRateHz
	if format.SampleRate > 0 {
		rate = int32(format.SampleRate)
	}
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
			SampleRateHertz:            rate,
			AudioChannelCount:          1,
			LanguageCode:               a.cfg.LanguageCode,
			Model:                      a.cfg.Model,
			EnableWordTimeOffsets:      true,
			EnableWordConfidence:       true,
			EnableAutomaticPunctuation: true,
		},
		InterimResults: a.cfg.InterimResults,
	}
}

// SendAudio enqueues a copy of buf for the sender goroutine.
func (a *Adapter) SendAudio(ctx context.Context, buf audio.Buffer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.ErrClosed
	}
	if a.stream == nil {
		return stt.ErrNotStarted
	}

	select {
	case a.queue <- buf.Clone():
		return nil
	default:
		metrics.DefaultMetrics.RecordSTTDropped(provider)
		return stt.ErrQueueFull
	}
}

// send drains the queue into the stream as LINEAR16, preceded by the
// streaming config built from the first buffer's format.
func (a *Adapter) send(ctx context.Context, stream speechpb.Speech_StreamingRecognizeClient) {
	defer close(a.sendDone)
	configured := false
	for {
		select {
		case <-ctx.Done():
			return
		case buf := <-a.queue:
			pcm, err := downmix(buf)
			if err != nil {
				a.logger.Debug().Err(err).Msg("Skipping buffer")
				continue
			}
			if !configured {
				cfg := a.streamingConfig(buf.Format)
				err = stream.Send(&speechpb.StreamingRecognizeRequest{
					StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
						StreamingConfig: cfg,
					},
				})
				if err != nil {
					a.logger.Warn().Err(err).Msg("Streaming config send failed")
					return
				}
				configured = true
				a.logger.Debug().Int32("sampleRateHz", cfg.GetConfig().GetSampleRateHertz()).Msg("Streaming config sent")
			}
			err = stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: pcm,
				},
			})
			if err != nil {
				if !errors.Is(err, io.EOF) {
					a.logger.Warn().Err(err).Msg("Audio send failed")
				}
				return
			}
		}
	}
}

// listen receives transcript responses from Google and invokes callbacks.
func (a *Adapter) listen(ctx context.Context, stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback) {
	defer a.wg.Done()
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return
			}
			metrics.DefaultMetrics.RecordSTTError(provider, status.Code(err).String())
			cb.OnError(fmt.Errorf("streaming recognize: %w", err))
			return
		}
		if e := resp.GetError(); e != nil {
			metrics.DefaultMetrics.RecordSTTError(provider, codes.Code(e.GetCode()).String())
			cb.OnError(fmt.Errorf("streaming recognize: %s", e.GetMessage()))
			continue
		}

		for _, r := range toResults(resp) {
			metrics.DefaultMetrics.RecordSTTResult(provider, time.Since(a.started).Seconds())
			cb.OnResult(r)
		}
	}
}

// toResults maps each recognition result to an stt.Result. A response
// usually carries one result; the words of its top alternative become the
// segments, so the count resets whenever Google opens a new result.
func toResults(resp *speechpb.StreamingRecognizeResponse) []stt.Result {
	var out []stt.Result
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		alt := alts[0]
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			continue
		}

		var segs []stt.Segment
		for _, w := range alt.GetWords() {
			start := w.GetStartTime().AsDuration()
			segs = append(segs, stt.Segment{
				Text:       w.GetWord(),
				Confidence: float64(w.GetConfidence()),
				Timestamp:  start,
				Duration:   w.GetEndTime().AsDuration() - start,
			})
		}
		if len(segs) == 0 {
			// Interim results carry no word offsets.
			segs = stt.WordSegments(text, float64(alt.GetConfidence()), r.GetResultEndTime().AsDuration())
		}

		out = append(out, stt.Result{
			Transcription: text,
			Segments:      segs,
			IsFinal:       r.GetIsFinal(),
		})
	}
	return out
}

// downmix converts buf to mono LINEAR16.
func downmix(buf audio.Buffer) ([]byte, error) {
	if buf.Format.Channels <= 1 {
		return buf.PCM16()
	}
	ch := buf.Format.Channels
	frames := buf.Samples() / ch
	mono := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < ch; c++ {
			sum += buf.Sample(f*ch + c)
		}
		mono[f] = float32(sum / float64(ch))
	}
	format := buf.Format
	format.Channels = 1
	return audio.NewFloat32Buffer(format, mono).PCM16()
}

// Close ends the streaming session and waits for the goroutines.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		stream, cancel := a.stream, a.cancel
		stopSend, sendDone := a.stopSend, a.sendDone
		a.mu.Unlock()

		if stream != nil {
			// CloseSend must not race with Send.
			stopSend()
			<-sendDone
			if cerr := stream.CloseSend(); cerr != nil && !errors.Is(cerr, io.EOF) {
				err = cerr
			}
			cancel()
			a.wg.Wait()
		}
		if cerr := a.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
		a.logger.Info().Msg("Streaming recognition closed")
	})
	return err
}
