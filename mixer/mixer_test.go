package mixer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"meetrec/audio"
	"meetrec/encoder"
)

// nullEncoder produces no bytes at all. A non-nil hold makes Close wait
// until it is closed.
type nullEncoder struct {
	frames uint64
	fail   error
	hold   chan struct{}
}

func (e *nullEncoder) EncodeBlock(block []int16) error {
	e.frames += uint64(len(block) / 2)
	return nil
}

func (e *nullEncoder) Close() error {
	if e.hold != nil {
		<-e.hold
	}
	return e.fail
}

func (e *nullEncoder) Drain() []byte               { return nil }
func (e *nullEncoder) TotalFrames() uint64         { return e.frames }
func (e *nullEncoder) AddEncodeTime(time.Duration) {}
func (e *nullEncoder) EncodeTime() time.Duration   { return 0 }

func nullFormat(closeErr error) encoder.Format {
	return heldFormat(closeErr, nil)
}

func heldFormat(closeErr error, hold chan struct{}) encoder.Format {
	return encoder.Format{
		MIMEType:  "audio/x-null",
		Extension: ".null",
		New: func(encoder.Params) (encoder.Encoder, error) {
			return &nullEncoder{fail: closeErr, hold: hold}, nil
		},
	}
}

// gatedProvider holds system audio acquisition until release is closed.
type gatedProvider struct {
	*audio.FakeProvider
	entered chan struct{}
	release chan struct{}
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{
		FakeProvider: audio.NewFakeProvider(),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (g *gatedProvider) Acquire(ctx context.Context, kind audio.SourceKind, c audio.Constraints) (audio.Track, error) {
	if kind == audio.SystemAudio {
		close(g.entered)
		<-g.release
	}
	return g.FakeProvider.Acquire(ctx, kind, c)
}

type chunkLog struct {
	mu     sync.Mutex
	chunks map[string][][]byte
}

func (c *chunkLog) observe(id string, _ int, chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chunks == nil {
		c.chunks = make(map[string][][]byte)
	}
	c.chunks[id] = append(c.chunks[id], chunk)
}

func (c *chunkLog) total(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ch := range c.chunks[id] {
		n += len(ch)
	}
	return n
}

func wavMixer(p audio.Provider, opts ...Option) *Mixer {
	return New(p, append([]Option{WithEncodings(encoder.MIMEWav)}, opts...)...)
}

func TestStartBothSources(t *testing.T) {
	p := audio.NewFakeProvider()
	m := New(p)
	defer m.Close()

	id, err := m.Start(context.Background(), Config{UseMicrophone: true, UseSystemAudio: true, Quality: High})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Error("empty session id")
	}

	st := m.State()
	if !st.IsRecording || !st.HasMicrophone || !st.HasSystemAudio {
		t.Errorf("State = %+v, want recording with both sources", st)
	}
	if st.State != Recording {
		t.Errorf("State.State = %v, want recording", st.State)
	}
}

func TestStartConstraints(t *testing.T) {
	p := audio.NewFakeProvider()
	m := New(p)
	defer m.Close()

	if _, err := m.Start(context.Background(), Config{UseMicrophone: true, UseSystemAudio: true, Quality: Low}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mic := p.Last(audio.Microphone).Constraints()
	want := audio.Constraints{SampleRate: 16000, ChannelCount: 2, EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true}
	if mic != want {
		t.Errorf("microphone constraints = %+v, want %+v", mic, want)
	}
	sys := p.Last(audio.SystemAudio).Constraints()
	want = audio.Constraints{SampleRate: 16000, ChannelCount: 2}
	if sys != want {
		t.Errorf("system constraints = %+v, want %+v", sys, want)
	}
}

func TestStartSystemAudioUnavailable(t *testing.T) {
	p := audio.NewFakeProvider()
	p.Fail(audio.SystemAudio, audio.ErrUnsupported)
	m := New(p)
	defer m.Close()

	if _, err := m.Start(context.Background(), Config{UseMicrophone: true, UseSystemAudio: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := m.State()
	if !st.IsRecording || !st.HasMicrophone || st.HasSystemAudio {
		t.Errorf("State = %+v, want microphone only", st)
	}
}

func TestStartMicrophoneUnavailableWithSystemAudio(t *testing.T) {
	p := audio.NewFakeProvider()
	p.Fail(audio.Microphone, errors.New("permission denied"))
	m := New(p)
	defer m.Close()

	if _, err := m.Start(context.Background(), Config{UseMicrophone: true, UseSystemAudio: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := m.State()
	if st.HasMicrophone || !st.HasSystemAudio {
		t.Errorf("State = %+v, want system audio only", st)
	}
}

func TestStartSoleMicrophoneUnavailable(t *testing.T) {
	p := audio.NewFakeProvider()
	denied := errors.New("permission denied")
	p.Fail(audio.Microphone, denied)
	m := New(p)

	_, err := m.Start(context.Background(), Config{UseMicrophone: true})
	if !errors.Is(err, ErrSourceUnavailable) || !errors.Is(err, denied) {
		t.Fatalf("err = %v, want ErrSourceUnavailable wrapping the cause", err)
	}
	var serr *SourceError
	if !errors.As(err, &serr) || serr.Kind != audio.Microphone {
		t.Errorf("err = %v, want *SourceError for microphone", err)
	}
	if st := m.State(); st.State != Failed || st.IsRecording {
		t.Errorf("State = %+v, want failed", st)
	}
}

func TestStartAllSourcesUnavailable(t *testing.T) {
	p := audio.NewFakeProvider()
	p.Fail(audio.Microphone, errors.New("no mic"))
	p.Fail(audio.SystemAudio, audio.ErrUnsupported)
	m := New(p)

	_, err := m.Start(context.Background(), Config{UseMicrophone: true, UseSystemAudio: true})
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
	if !errors.Is(err, audio.ErrUnsupported) {
		t.Errorf("err = %v, want system audio cause joined in", err)
	}
	if n := p.Open(); n != 0 {
		t.Errorf("%d tracks still held", n)
	}
	if st := m.State(); st.State != Failed {
		t.Errorf("State = %v, want failed", st.State)
	}
}

func TestStartCancelledReleasesPartialTracks(t *testing.T) {
	p := audio.NewFakeProvider()
	p.Block(audio.SystemAudio)
	m := New(p)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.Start(ctx, Config{UseMicrophone: true, UseSystemAudio: true})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	mic := p.Last(audio.Microphone)
	if mic == nil || !mic.Closed() {
		t.Error("microphone acquired before cancellation was not released")
	}
	if n := p.Open(); n != 0 {
		t.Errorf("%d tracks still held", n)
	}
	st := m.State()
	if st.HasMicrophone || st.HasSystemAudio {
		t.Errorf("State = %+v, want no sources", st)
	}
}

func TestStartNoSourceRequested(t *testing.T) {
	p := audio.NewFakeProvider()
	m := New(p)

	_, err := m.Start(context.Background(), Config{Quality: Medium})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	if len(p.Tracks()) != 0 {
		t.Error("sources acquired for an invalid configuration")
	}
	if st := m.State(); st.State != Idle {
		t.Errorf("State = %v, want idle", st.State)
	}
}

func TestStartEncodingUnsupported(t *testing.T) {
	p := audio.NewFakeProvider()
	m := New(p, WithRegistry(encoder.NewRegistry()))

	_, err := m.Start(context.Background(), Config{UseMicrophone: true})
	if !errors.Is(err, ErrEncodingUnsupported) {
		t.Fatalf("err = %v, want ErrEncodingUnsupported", err)
	}
	if len(p.Tracks()) != 0 {
		t.Error("sources acquired without an encoder")
	}
	if st := m.State(); st.State != Failed {
		t.Errorf("State = %v, want failed", st.State)
	}
}

func TestStartWhileRecording(t *testing.T) {
	m := New(audio.NewFakeProvider())
	defer m.Close()

	if _, err := m.Start(context.Background(), Config{UseMicrophone: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(context.Background(), Config{UseMicrophone: true}); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("err = %v, want ErrAlreadyRecording", err)
	}
}

func TestStopWhenNotRecording(t *testing.T) {
	m := New(audio.NewFakeProvider())

	blob, err := m.Stop(context.Background())
	if blob != nil || err != nil {
		t.Errorf("Stop on idle mixer = (%v, %v), want (nil, nil)", blob, err)
	}

	if _, err := m.Start(context.Background(), Config{UseMicrophone: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	blob, err = m.Stop(context.Background())
	if blob != nil || err != nil {
		t.Errorf("second Stop = (%v, %v), want (nil, nil)", blob, err)
	}
}

func TestStopWithNoOutput(t *testing.T) {
	p := audio.NewFakeProvider()
	m := New(p, WithRegistry(encoder.NewRegistry(nullFormat(nil))), WithEncodings("audio/x-null"))

	if _, err := m.Start(context.Background(), Config{UseMicrophone: true}); err != nil {
		t.Fatal(err)
	}
	blob, err := m.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if blob == nil {
		t.Fatal("Stop returned nil blob for an empty recording")
	}
	if len(blob.Data) != 0 || blob.Chunks != 0 {
		t.Errorf("blob = %d bytes in %d chunks, want empty", len(blob.Data), blob.Chunks)
	}
	if blob.MIMEType != "audio/x-null" {
		t.Errorf("MIMEType = %q", blob.MIMEType)
	}
}

func TestStopReleasesTracks(t *testing.T) {
	p := audio.NewFakeProvider()
	m := New(p)

	if _, err := m.Start(context.Background(), Config{UseMicrophone: true, UseSystemAudio: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := p.Open(); n != 0 {
		t.Errorf("%d tracks still held after Stop", n)
	}
	st := m.State()
	if st.State != Stopped || st.IsRecording || st.HasMicrophone || st.HasSystemAudio {
		t.Errorf("State = %+v, want stopped with no sources", st)
	}
}

func TestStopFinalizationError(t *testing.T) {
	p := audio.NewFakeProvider()
	boom := errors.New("flush failed")
	m := New(p, WithRegistry(encoder.NewRegistry(nullFormat(boom))), WithEncodings("audio/x-null"))

	if _, err := m.Start(context.Background(), Config{UseMicrophone: true}); err != nil {
		t.Fatal(err)
	}
	blob, err := m.Stop(context.Background())
	if !errors.Is(err, ErrFinalization) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrFinalization wrapping the cause", err)
	}
	if blob != nil {
		t.Error("blob returned alongside a finalization error")
	}
	if n := p.Open(); n != 0 {
		t.Errorf("%d tracks still held", n)
	}
	if st := m.State(); st.State != Failed {
		t.Errorf("State = %v, want failed", st.State)
	}
}

func TestStopContextExpired(t *testing.T) {
	p := audio.NewFakeProvider()
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	m := New(p, WithRegistry(encoder.NewRegistry(heldFormat(nil, hold))), WithEncodings("audio/x-null"))

	if _, err := m.Start(context.Background(), Config{UseMicrophone: true, UseSystemAudio: true}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blob, err := m.Stop(ctx)
	if !errors.Is(err, ErrFinalization) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want ErrFinalization wrapping context.Canceled", err)
	}
	if blob != nil {
		t.Error("blob returned alongside a finalization error")
	}
	if n := p.Open(); n != 0 {
		t.Errorf("%d tracks still held", n)
	}
	if st := m.State(); st.State != Failed || st.HasMicrophone || st.HasSystemAudio {
		t.Errorf("State = %+v, want failed with no sources", st)
	}
}

func TestStopFinishedEncodeWinsOverExpiredContext(t *testing.T) {
	p := audio.NewFakeProvider()
	m := wavMixer(p)

	if _, err := m.Start(context.Background(), Config{UseMicrophone: true}); err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()

	// Stop the mix goroutine by hand and wait for the encoder to finish,
	// so Stop sees both a done ctx and a finished encode.
	close(s.stopMix)
	<-s.encodeDone
	s.stopMix = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blob, err := m.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop = %v, want the finished recording", err)
	}
	if blob == nil || blob.MIMEType != encoder.MIMEWav {
		t.Errorf("blob = %+v", blob)
	}
}

func TestCloseDuringStart(t *testing.T) {
	p := newGatedProvider()
	m := New(p)

	errc := make(chan error, 1)
	go func() {
		_, err := m.Start(context.Background(), Config{UseMicrophone: true, UseSystemAudio: true})
		errc <- err
	}()

	<-p.entered
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(p.release)

	if err := <-errc; !errors.Is(err, ErrClosed) {
		t.Fatalf("Start = %v, want ErrClosed", err)
	}
	if len(p.Tracks()) != 2 {
		t.Fatalf("acquired %d tracks, want 2", len(p.Tracks()))
	}
	if n := p.Open(); n != 0 {
		t.Errorf("%d tracks still held", n)
	}
	if st := m.State(); st.State != Failed {
		t.Errorf("State = %v, want failed", st.State)
	}
}

func TestBlobMatchesChunks(t *testing.T) {
	p := audio.NewFakeProvider()
	var log chunkLog
	m := New(p, WithTimeslice(10*time.Millisecond), WithChunkObserver(log.observe))

	id, err := m.Start(context.Background(), Config{UseMicrophone: true, UseSystemAudio: true, Quality: Low})
	if err != nil {
		t.Fatal(err)
	}

	block := make([]int16, 2*1600)
	for i := range block {
		block[i] = int16(i % 500)
	}
	for range 5 {
		p.Last(audio.Microphone).Emit(block)
		p.Last(audio.SystemAudio).Emit(block)
		time.Sleep(15 * time.Millisecond)
	}

	blob, err := m.Stop(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if blob.SessionID != id {
		t.Errorf("SessionID = %q, want %q", blob.SessionID, id)
	}
	if got := log.total(id); got != len(blob.Data) {
		t.Errorf("chunks total %d bytes, blob has %d", got, len(blob.Data))
	}
	if blob.Chunks < 2 {
		t.Errorf("Chunks = %d, want the recording cut into several", blob.Chunks)
	}
	if blob.Frames != 5*1600 {
		t.Errorf("Frames = %d, want %d", blob.Frames, 5*1600)
	}
	if string(blob.Data[:4]) != "fLaC" {
		t.Error("blob is not FLAC")
	}
}

func TestMixedOutputIsSumOfSources(t *testing.T) {
	p := audio.NewFakeProvider()
	m := wavMixer(p)

	if _, err := m.Start(context.Background(), Config{UseMicrophone: true, UseSystemAudio: true, Quality: Low}); err != nil {
		t.Fatal(err)
	}
	mic := []int16{100, 100, 200, 200, 300, 300}
	sys := []int16{10, 20, 30, 40, 50, 60}
	p.Last(audio.Microphone).Emit(mic)
	p.Last(audio.SystemAudio).Emit(sys)

	blob, err := m.Stop(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if blob.MIMEType != encoder.MIMEWav {
		t.Fatalf("MIMEType = %q", blob.MIMEType)
	}
	pcm := blob.Data[44:]
	want := []int16{110, 120, 230, 240, 350, 360}
	if len(pcm) != len(want)*2 {
		t.Fatalf("pcm = %d bytes, want %d", len(pcm), len(want)*2)
	}
	for i, w := range want {
		if got := int16(binary.LittleEndian.Uint16(pcm[i*2:])); got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
	if got := binary.LittleEndian.Uint32(blob.Data[40:44]); got != uint32(len(pcm)) {
		t.Errorf("wav data size = %d, want %d", got, len(pcm))
	}
}

func TestSilentSourceIsPaddedOnStop(t *testing.T) {
	p := audio.NewFakeProvider()
	m := wavMixer(p)

	if _, err := m.Start(context.Background(), Config{UseMicrophone: true, UseSystemAudio: true, Quality: Low}); err != nil {
		t.Fatal(err)
	}
	p.Last(audio.Microphone).Emit([]int16{1, 2, 3, 4})

	blob, err := m.Stop(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blob.Data[44:], audio.SamplesToBytes([]int16{1, 2, 3, 4})) {
		t.Errorf("pcm = %v, want microphone audio unchanged", blob.Data[44:])
	}
}

func TestSequentialSessionsAreIndependent(t *testing.T) {
	p := audio.NewFakeProvider()
	m := wavMixer(p)

	record := func(sample int16) (string, *Blob) {
		t.Helper()
		id, err := m.Start(context.Background(), Config{UseMicrophone: true, Quality: Low})
		if err != nil {
			t.Fatal(err)
		}
		p.Last(audio.Microphone).Emit([]int16{sample, sample})
		blob, err := m.Stop(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return id, blob
	}

	id1, b1 := record(11)
	id2, b2 := record(22)

	if id1 == id2 {
		t.Error("sessions share an id")
	}
	if &b1.Data[0] == &b2.Data[0] {
		t.Error("blobs share a backing array")
	}
	b2.Data[44] = 99
	if got := int16(binary.LittleEndian.Uint16(b1.Data[44:])); got != 11 {
		t.Errorf("first blob sample = %d, want 11", got)
	}
	if len(p.Tracks()) != 2 || p.Open() != 0 {
		t.Errorf("tracks = %d open %d, want 2 acquired and none open", len(p.Tracks()), p.Open())
	}
}

func TestCloseReleasesLiveSession(t *testing.T) {
	p := audio.NewFakeProvider()
	m := New(p)

	if _, err := m.Start(context.Background(), Config{UseMicrophone: true, UseSystemAudio: true}); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := p.Open(); n != 0 {
		t.Errorf("%d tracks still held after Close", n)
	}
	if _, err := m.Start(context.Background(), Config{UseMicrophone: true}); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}

func TestStatusLevel(t *testing.T) {
	p := audio.NewFakeProvider()
	m := New(p)
	defer m.Close()

	if _, err := m.Start(context.Background(), Config{UseMicrophone: true, Quality: Low}); err != nil {
		t.Fatal(err)
	}
	loud := make([]int16, 2*800)
	for i := range loud {
		loud[i] = 16000
	}
	p.Last(audio.Microphone).Emit(loud)

	deadline := time.Now().Add(time.Second)
	for m.State().Level == 0 {
		if time.Now().After(deadline) {
			t.Fatal("level never updated")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBlobDuration(t *testing.T) {
	b := &Blob{SampleRate: 48000, Frames: 96000}
	if got := b.Duration(); got != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", got)
	}
	if got := (&Blob{}).Duration(); got != 0 {
		t.Errorf("Duration of empty blob = %v", got)
	}
}
