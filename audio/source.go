package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// SourceKind names a live audio input.
type SourceKind string

const (
	Microphone  SourceKind = "microphone"
	SystemAudio SourceKind = "systemAudio"
)

// ErrUnsupported is returned when the platform cannot provide a source kind at all.
var ErrUnsupported = errors.New("audio source not supported on this platform")

// Constraints describe how a source should be opened.
type Constraints struct {
	SampleRate       int
	ChannelCount     int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

func (c Constraints) captureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:       uint32(c.SampleRate),
		Channels:         uint32(c.ChannelCount),
		EchoCancellation: c.EchoCancellation,
	}
}

// Track is an acquired, running source. Until a callback is attached its audio
// is discarded. Close releases the underlying device and is safe to call twice.
type Track interface {
	Kind() SourceKind
	Label() string
	SetCallback(cb DataCallback)
	ClearCallback()
	Close()
}

// Provider hands out tracks. Acquire may block on permission prompts or the
// audio server and must honor ctx.
type Provider interface {
	Acquire(ctx context.Context, kind SourceKind, c Constraints) (Track, error)
}

type contextProvider struct {
	ctx Context
	mic *DeviceInfo
}

// NewProvider builds a Provider on top of an audio server connection. mic pins
// the microphone device; nil means the system default.
func NewProvider(ctx Context, mic *DeviceInfo) Provider {
	return &contextProvider{ctx: ctx, mic: mic}
}

func (p *contextProvider) Acquire(ctx context.Context, kind SourceKind, c Constraints) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		dev CaptureDevice
		err error
	)
	switch kind {
	case Microphone:
		dev, err = p.ctx.NewCapture(p.mic, c.captureConfig())
	case SystemAudio:
		dev, err = p.ctx.NewMonitorCapture(c.captureConfig())
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
	if err != nil {
		return nil, err
	}

	t := newDeviceTrack(kind, dev, c)
	if err := dev.Start(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("starting %s: %w", dev.DeviceName(), err)
	}
	if err := ctx.Err(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// deviceTrack runs the software processing chain between a capture device
// and the consumer callback.
type deviceTrack struct {
	kind SourceKind
	dev  CaptureDevice
	proc *processor

	mu        sync.Mutex
	cb        DataCallback
	closeOnce sync.Once
}

func newDeviceTrack(kind SourceKind, dev CaptureDevice, c Constraints) *deviceTrack {
	t := &deviceTrack{
		kind: kind,
		dev:  dev,
		proc: newProcessor(c),
	}
	dev.SetCallback(t.onData)
	return t
}

func (t *deviceTrack) onData(data []byte, frameCount uint32) {
	t.mu.Lock()
	cb := t.cb
	t.mu.Unlock()
	if cb == nil {
		return
	}
	if t.proc != nil {
		samples := BytesToSamples(data)
		t.proc.Process(samples)
		data = SamplesToBytes(samples)
	}
	cb(data, frameCount)
}

func (t *deviceTrack) Kind() SourceKind { return t.kind }
func (t *deviceTrack) Label() string    { return t.dev.DeviceName() }

func (t *deviceTrack) SetCallback(cb DataCallback) {
	t.mu.Lock()
	t.cb = cb
	t.mu.Unlock()
}

func (t *deviceTrack) ClearCallback() {
	t.mu.Lock()
	t.cb = nil
	t.mu.Unlock()
}

func (t *deviceTrack) Close() {
	t.closeOnce.Do(func() {
		t.ClearCallback()
		t.dev.ClearCallback()
		t.dev.Stop()
		t.dev.Close()
	})
}

// BytesToSamples decodes little-endian int16 PCM.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes int16 PCM as little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}
