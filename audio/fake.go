package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"
)

// FakeProvider hands out FakeTracks and records what was acquired and
// released. Failures and blocking acquisitions can be injected per kind.
type FakeProvider struct {
	mu     sync.Mutex
	fail   map[SourceKind]error
	block  map[SourceKind]bool
	tracks []*FakeTrack
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		fail:  make(map[SourceKind]error),
		block: make(map[SourceKind]bool),
	}
}

// Fail makes every later Acquire of kind return err.
func (f *FakeProvider) Fail(kind SourceKind, err error) {
	f.mu.Lock()
	f.fail[kind] = err
	f.mu.Unlock()
}

// Block makes Acquire of kind wait until its context is done, like an
// unanswered permission prompt.
func (f *FakeProvider) Block(kind SourceKind) {
	f.mu.Lock()
	f.block[kind] = true
	f.mu.Unlock()
}

func (f *FakeProvider) Acquire(ctx context.Context, kind SourceKind, c Constraints) (Track, error) {
	f.mu.Lock()
	blocked := f.block[kind]
	err := f.fail[kind]
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	t := &FakeTrack{kind: kind, constraints: c}
	f.mu.Lock()
	f.tracks = append(f.tracks, t)
	f.mu.Unlock()
	return t, nil
}

// Tracks returns every track handed out so far, in acquisition order.
func (f *FakeProvider) Tracks() []*FakeTrack {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeTrack, len(f.tracks))
	copy(out, f.tracks)
	return out
}

// Last returns the most recently acquired track of kind, or nil.
func (f *FakeProvider) Last(kind SourceKind) *FakeTrack {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.tracks) - 1; i >= 0; i-- {
		if f.tracks[i].kind == kind {
			return f.tracks[i]
		}
	}
	return nil
}

// Open counts tracks that were acquired and not yet closed.
func (f *FakeProvider) Open() int {
	n := 0
	for _, t := range f.Tracks() {
		if !t.Closed() {
			n++
		}
	}
	return n
}

type FakeTrack struct {
	kind        SourceKind
	constraints Constraints

	mu     sync.Mutex
	cb     DataCallback
	closed bool
}

func (t *FakeTrack) Kind() SourceKind         { return t.kind }
func (t *FakeTrack) Label() string            { return "fake " + string(t.kind) }
func (t *FakeTrack) Constraints() Constraints { return t.constraints }

func (t *FakeTrack) SetCallback(cb DataCallback) {
	t.mu.Lock()
	t.cb = cb
	t.mu.Unlock()
}

func (t *FakeTrack) ClearCallback() {
	t.mu.Lock()
	t.cb = nil
	t.mu.Unlock()
}

func (t *FakeTrack) Close() {
	t.mu.Lock()
	t.closed = true
	t.cb = nil
	t.mu.Unlock()
}

func (t *FakeTrack) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Emit delivers interleaved samples synchronously, as a backend thread would.
// It reports whether anyone was listening.
func (t *FakeTrack) Emit(samples []int16) bool {
	t.mu.Lock()
	cb := t.cb
	closed := t.closed
	t.mu.Unlock()
	if cb == nil || closed {
		return false
	}
	ch := max(t.constraints.ChannelCount, 1)
	cb(SamplesToBytes(samples), uint32(len(samples)/ch))
	return true
}

const fakeFrameSize = 1024

// FakeContext plays a WAV file through the capture path in real time. It is
// what -test mode records from. System audio is reported unsupported unless
// Monitor is set, in which case it yields silence.
type FakeContext struct {
	pcm      []int16
	rate     int
	channels int
	Monitor  bool
}

func NewFakeContext(wavPath string) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) < WAVHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%s: not a WAV file", wavPath)
	}
	return &FakeContext{
		pcm:      BytesToSamples(data[WAVHeaderSize:]),
		channels: int(binary.LittleEndian.Uint16(data[22:24])),
		rate:     int(binary.LittleEndian.Uint32(data[24:28])),
	}, nil
}

// Duration is the playback length of the loaded file.
func (f *FakeContext) Duration() time.Duration {
	if f.rate <= 0 || f.channels <= 0 {
		return 0
	}
	frames := len(f.pcm) / f.channels
	return time.Duration(frames) * time.Second / time.Duration(f.rate)
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	pcm := convertPCM(f.pcm, f.rate, f.channels, int(config.SampleRate), int(config.Channels))
	return newFakeCapture("fake", pcm, config), nil
}

func (f *FakeContext) NewMonitorCapture(config CaptureConfig) (CaptureDevice, error) {
	if !f.Monitor {
		return nil, ErrUnsupported
	}
	return newFakeCapture("fake monitor", nil, config), nil
}

// convertPCM maps interleaved PCM to another rate and channel count with
// nearest-neighbour resampling. Good enough for test fixtures.
func convertPCM(src []int16, srcRate, srcCh, dstRate, dstCh int) []int16 {
	if srcRate <= 0 || srcCh <= 0 || dstRate <= 0 || dstCh <= 0 {
		return nil
	}
	srcFrames := len(src) / srcCh
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]int16, dstFrames*dstCh)
	for i := range dstFrames {
		j := int(int64(i) * int64(srcRate) / int64(dstRate))
		frame := src[j*srcCh : j*srcCh+srcCh]
		for c := range dstCh {
			if c < srcCh {
				out[i*dstCh+c] = frame[c]
			} else {
				out[i*dstCh+c] = frame[0]
			}
		}
	}
	return out
}

type FakeCapture struct {
	name      string
	pcm       []int16
	config    CaptureConfig
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

func newFakeCapture(name string, pcm []int16, config CaptureConfig) *FakeCapture {
	return &FakeCapture{name: name, pcm: pcm, config: config, audioDone: make(chan struct{})}
}

// AudioDone is closed once the whole file has been fed.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return f.name }

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	channels := max(int(f.config.Channels), 1)
	chunk := fakeFrameSize * channels
	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(max(f.config.SampleRate, 1))

	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]int16, chunk)
		finished := false

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-f.stopCh:
				return
			case <-ticker.C:
			}

			f.mu.Lock()
			cb := f.cb
			f.mu.Unlock()

			block := silence
			if pos < len(f.pcm) {
				end := min(pos+chunk, len(f.pcm))
				block = f.pcm[pos:end]
				pos = end
			} else if !finished {
				finished = true
				close(f.audioDone)
			}
			if cb != nil {
				cb(SamplesToBytes(block), uint32(len(block)/channels))
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
}

func (f *FakeCapture) Close() { f.Stop() }
