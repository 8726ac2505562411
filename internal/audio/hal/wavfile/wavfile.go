// Package wavfile replays a PCM WAV file through the simulated hardware
// layer in real time, so recordings can be fed to the capture pipeline as if
// they came from a tap or a microphone.
package wavfile

import (
	"errors"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog/log"

	"whispr-capture-service/internal/audio"
	"whispr-capture-service/internal/audio/hal/simulated"
)

// DefaultChunk is the replay buffer duration.
const DefaultChunk = 100 * time.Millisecond

// ErrInvalidFile is returned for files that are not PCM WAV.
var ErrInvalidFile = errors.New("not a PCM WAV file")

// Clip is a decoded file held in memory as interleaved 16-bit samples.
type Clip struct {
	Path    string
	Format  audio.Format
	Samples []int16
}

// Frames returns the number of frames in the clip.
func (c *Clip) Frames() int {
	if c.Format.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Format.Channels
}

// Duration returns the playback length.
func (c *Clip) Duration() time.Duration {
	if c.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.Format.SampleRate)
}

// Load decodes a PCM WAV file. 8, 24 and 32-bit files are rescaled to 16 bits.
func Load(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidFile)
	}
	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("%s: audio format %d: %w", path, dec.WavAudioFormat, ErrInvalidFile)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	bits := int(dec.BitDepth)
	samples := make([]int16, len(pcm.Data))
	for i, v := range pcm.Data {
		samples[i] = rescale(v, bits)
	}

	clip := &Clip{
		Path: path,
		Format: audio.Format{
			Sample:         audio.SampleInt16,
			Channels:       int(dec.NumChans),
			SampleRate:     int(dec.SampleRate),
			BitsPerChannel: 16,
		},
		Samples: samples,
	}

	log.Info().
		Str("path", path).
		Int("channels", clip.Format.Channels).
		Int("sampleRate", clip.Format.SampleRate).
		Int("bitDepth", bits).
		Dur("duration", clip.Duration()).
		Msg("WAV clip loaded")

	return clip, nil
}

func rescale(v, bits int) int16 {
	switch {
	case bits == 8:
		// 8-bit WAV is unsigned.
		return int16((v - 128) << 8)
	case bits > 16:
		return int16(v >> (bits - 16))
	default:
		return int16(v)
	}
}

// Save writes 16-bit samples as a PCM WAV file.
func Save(path string, format audio.Format, samples []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	enc := wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}

// Options controls replay.
type Options struct {
	// Chunk is the duration of each delivered buffer. Defaults to DefaultChunk.
	Chunk time.Duration
	// Loop restarts the clip when it ends instead of going silent.
	Loop bool
}

// NewDriver returns a hardware driver whose taps and input sessions deliver
// the clip at its natural rate.
func NewDriver(clip *Clip, opts Options) *simulated.Driver {
	if opts.Chunk <= 0 {
		opts.Chunk = DefaultChunk
	}
	frames := int(int64(clip.Format.SampleRate) * int64(opts.Chunk) / int64(time.Second))
	if frames <= 0 {
		frames = 1
	}

	cfg := simulated.DefaultConfig()
	cfg.Name = "wavfile"
	cfg.Format = clip.Format
	cfg.BufferFrames = frames
	cfg.Interval = opts.Chunk
	cfg.Devices[0].ID = "wav"
	cfg.Devices[0].Name = clip.Path
	cfg.Devices[0].Channels = clip.Format.Channels
	cfg.NewSource = func(format audio.Format, frames int) simulated.BufferSource {
		return &reader{clip: clip, frames: frames, loop: opts.Loop}
	}
	return simulated.New(cfg)
}

// reader walks a clip in fixed-size chunks.
type reader struct {
	clip   *Clip
	frames int
	pos    int
	loop   bool
}

func (r *reader) Next() (audio.Buffer, bool) {
	ch := r.clip.Format.Channels
	total := len(r.clip.Samples)
	if total == 0 {
		return audio.Buffer{}, false
	}
	if r.pos >= total {
		if !r.loop {
			return audio.Buffer{}, false
		}
		r.pos = 0
	}
	end := r.pos + r.frames*ch
	if end > total {
		end = total
	}
	chunk := r.clip.Samples[r.pos:end]
	r.pos = end
	return audio.NewInt16Buffer(r.clip.Format, chunk), true
}
