// Package mixer records one or more live audio sources into a single encoded
// recording.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"meetrec/audio"
	"meetrec/encoder"
	"meetrec/log"
)

// DefaultTimeslice is how often encoded output is cut into a chunk.
const DefaultTimeslice = time.Second

const channels = 2

type Config struct {
	UseMicrophone  bool
	UseSystemAudio bool
	Quality        Quality
}

// Status is a snapshot of the current session.
type Status struct {
	State          State
	IsRecording    bool
	HasMicrophone  bool
	HasSystemAudio bool
	Level          float64 // RMS of the last mixed block, 0..1
	Chunks         int
	Elapsed        time.Duration
}

// Blob is a finished recording.
type Blob struct {
	SessionID  string
	MIMEType   string
	Extension  string
	Data       []byte
	SampleRate int
	Channels   int
	Bitrate    int // target bitrate of the chosen quality; advisory for lossless formats
	Frames     uint64
	Chunks     int
	EncodeTime time.Duration
}

func (b *Blob) Duration() time.Duration {
	if b.SampleRate == 0 {
		return 0
	}
	return time.Duration(b.Frames) * time.Second / time.Duration(b.SampleRate)
}

func (b *Blob) WriteFile(path string) error {
	return os.WriteFile(path, b.Data, 0644)
}

// ChunkFunc observes each chunk as it is cut. It runs on the encoding
// goroutine and must not modify chunk.
type ChunkFunc func(sessionID string, index int, chunk []byte)

type Option func(*Mixer)

func WithRegistry(r *encoder.Registry) Option {
	return func(m *Mixer) { m.registry = r }
}

// WithEncodings sets the output MIME types to try, most preferred first.
func WithEncodings(mimeTypes ...string) Option {
	return func(m *Mixer) { m.encodings = mimeTypes }
}

func WithTimeslice(d time.Duration) Option {
	return func(m *Mixer) {
		if d > 0 {
			m.timeslice = d
		}
	}
}

func WithChunkObserver(fn ChunkFunc) Option {
	return func(m *Mixer) { m.onChunk = fn }
}

// Mixer runs at most one recording session at a time. Sessions are not
// reused: every Start begins a fresh one.
type Mixer struct {
	provider  audio.Provider
	registry  *encoder.Registry
	encodings []string
	timeslice time.Duration
	onChunk   ChunkFunc

	mu      sync.Mutex
	session *session
	closed  bool
}

func New(provider audio.Provider, opts ...Option) *Mixer {
	m := &Mixer{
		provider:  provider,
		registry:  encoder.DefaultRegistry(),
		encodings: encoder.DefaultPreferences,
		timeslice: DefaultTimeslice,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start acquires the requested sources and begins recording. It returns the
// new session's ID. A system audio source that cannot be acquired is skipped
// as long as something else was; a microphone failure is fatal when the
// microphone is the only source requested.
func (m *Mixer) Start(ctx context.Context, cfg Config) (string, error) {
	if !cfg.UseMicrophone && !cfg.UseSystemAudio {
		return "", fmt.Errorf("%w: no source requested", ErrConfiguration)
	}
	profile, err := cfg.Quality.Profile()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	if m.session != nil && m.session.state.live() {
		m.mu.Unlock()
		return "", ErrAlreadyRecording
	}
	s := &session{
		id:       uuid.NewString(),
		state:    Starting,
		profile:  profile,
		channels: channels,
	}
	m.session = s
	m.mu.Unlock()

	if err := m.start(ctx, s, cfg); err != nil {
		m.mu.Lock()
		s.release()
		s.state = Failed
		m.mu.Unlock()
		log.SessionFailed(s.id, err)
		return "", err
	}
	return s.id, nil
}

func (m *Mixer) start(ctx context.Context, s *session, cfg Config) error {
	format, err := m.registry.Select(m.encodings)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingUnsupported, err)
	}
	enc, err := format.New(encoder.Params{
		SampleRate: s.profile.SampleRate,
		Channels:   s.channels,
		Bitrate:    s.profile.Bitrate,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncodingUnsupported, format.MIMEType, err)
	}
	s.format = format
	s.enc = enc

	var (
		tracks []audio.Track
		causes []error
	)
	if cfg.UseMicrophone {
		t, err := m.provider.Acquire(ctx, audio.Microphone, audio.Constraints{
			SampleRate:       s.profile.SampleRate,
			ChannelCount:     s.channels,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		})
		if err != nil {
			serr := &SourceError{Kind: audio.Microphone, Err: err}
			if !cfg.UseSystemAudio {
				return serr
			}
			log.SourceUnavailable(string(audio.Microphone), err)
			causes = append(causes, serr)
		} else {
			tracks = append(tracks, t)
		}
	}
	if cfg.UseSystemAudio {
		t, err := m.provider.Acquire(ctx, audio.SystemAudio, audio.Constraints{
			SampleRate:   s.profile.SampleRate,
			ChannelCount: s.channels,
		})
		if err != nil {
			log.SourceUnavailable(string(audio.SystemAudio), err)
			causes = append(causes, &SourceError{Kind: audio.SystemAudio, Err: err})
		} else {
			tracks = append(tracks, t)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s.tracks = tracks

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("starting recording: %w", err)
	}
	if m.closed {
		return ErrClosed
	}
	if len(tracks) == 0 {
		return errors.Join(causes...)
	}

	s.run(m.timeslice, m.onChunk)
	s.state = Recording
	log.SessionStart(s.id, format.MIMEType, s.profile.SampleRate, s.profile.Bitrate,
		s.has(audio.Microphone), s.has(audio.SystemAudio))
	return nil
}

// Stop finalizes the current recording. It returns nil, nil when nothing is
// recording. The returned Blob is never nil on success, even if no audio was
// captured.
func (m *Mixer) Stop(ctx context.Context) (*Blob, error) {
	m.mu.Lock()
	s := m.session
	if s == nil || s.state != Recording {
		m.mu.Unlock()
		return nil, nil
	}
	s.state = Stopping
	s.release()
	m.mu.Unlock()

	close(s.stopMix)

	var err error
	select {
	case <-s.encodeDone:
		err = s.encErr
	case <-ctx.Done():
		// A recording that finished encoding wins over an expired ctx.
		select {
		case <-s.encodeDone:
			err = s.encErr
		default:
			err = ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		s.state = Failed
		err = fmt.Errorf("%w: %w", ErrFinalization, err)
		log.SessionFailed(s.id, err)
		return nil, err
	}

	blob := s.assemble()
	s.chunks = nil
	s.state = Stopped
	log.SessionEnd(log.SessionSummary{
		ID:           s.id,
		MIMEType:     blob.MIMEType,
		Chunks:       blob.Chunks,
		Bytes:        len(blob.Data),
		AudioLengthS: blob.Duration().Seconds(),
		EncodeTimeMs: float64(blob.EncodeTime.Milliseconds()),
	})
	return blob, nil
}

// State returns a snapshot consistent with the tracks held right now.
func (m *Mixer) State() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	if s == nil {
		return Status{State: Idle}
	}
	st := Status{
		State:          s.state,
		IsRecording:    s.state == Recording,
		HasMicrophone:  s.has(audio.Microphone),
		HasSystemAudio: s.has(audio.SystemAudio),
	}
	if s.state == Recording {
		st.Level = math.Float64frombits(s.level.Load())
		st.Chunks = int(s.nchunks.Load())
		st.Elapsed = time.Since(s.started)
	}
	return st
}

// Close stops a live recording and discards it, releasing all hardware. A
// Start still acquiring sources fails with ErrClosed. Further Starts are
// refused.
func (m *Mixer) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := m.Stop(ctx)
	return err
}
