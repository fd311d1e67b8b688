// Package doctor probes the capture and encoding path end to end and prints
// one PASS/FAIL/SKIP line per check.
package doctor

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"meetrec/audio"
	"meetrec/encoder"
	"meetrec/mixer"
	"meetrec/transcriber"
)

type Options struct {
	Provider audio.Provider
	// Devices lists capture devices. Nil skips the device check.
	Devices  func() ([]audio.DeviceInfo, error)
	Registry *encoder.Registry
	Quality  mixer.Quality
	// Listen is how long each source is sampled for signal.
	Listen time.Duration
	// Record is the length of the test recording.
	Record time.Duration
	// Transcriber, when set, receives the test recording.
	Transcriber transcriber.Transcriber
	Out         io.Writer
}

type result int

const (
	pass result = iota
	fail
	skip
)

func (r result) String() string {
	switch r {
	case pass:
		return "PASS"
	case fail:
		return "FAIL"
	}
	return "SKIP"
}

type run struct {
	opts   Options
	out    io.Writer
	failed bool
	step   int
	total  int
}

func (r *run) header(title string) {
	r.step++
	fmt.Fprintf(r.out, "\n[%d/%d] %s\n", r.step, r.total, title)
}

func (r *run) report(res result, format string, args ...any) {
	if res == fail {
		r.failed = true
	}
	fmt.Fprintf(r.out, "  %s: %s\n", res, fmt.Sprintf(format, args...))
}

// Run executes every check and returns an exit code (0=no failures, 1=any fail).
func Run(opts Options) int {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Registry == nil {
		opts.Registry = encoder.DefaultRegistry()
	}
	if opts.Listen <= 0 {
		opts.Listen = time.Second
	}
	if opts.Record <= 0 {
		opts.Record = 3 * time.Second
	}
	r := &run{opts: opts, out: opts.Out, total: 6}

	fmt.Fprintln(r.out, "meetrec doctor - system diagnostics")
	fmt.Fprintln(r.out, "===================================")

	profile, err := opts.Quality.Profile()
	if err != nil {
		fmt.Fprintf(r.out, "  FAIL: %v\n", err)
		return 1
	}

	r.checkDevices()
	micOK := r.checkSource(audio.Microphone, profile.SampleRate)
	sysOK := r.checkSource(audio.SystemAudio, profile.SampleRate)
	r.checkEncoders(profile)
	blob := r.checkRecording(micOK, sysOK)
	r.checkTranscription(blob)

	fmt.Fprintln(r.out)
	if r.failed {
		fmt.Fprintln(r.out, "Some checks failed. See details above.")
		return 1
	}
	fmt.Fprintln(r.out, "All checks passed!")
	return 0
}

func (r *run) checkDevices() {
	r.header("Capture devices")
	if r.opts.Devices == nil {
		r.report(skip, "device listing not available")
		return
	}
	devices, err := r.opts.Devices()
	if err != nil {
		r.report(fail, "cannot list devices: %v", err)
		return
	}
	if len(devices) == 0 {
		r.report(fail, "no capture devices found")
		return
	}
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
		if audio.IsBluetooth(d.Name) {
			names[i] += " (bluetooth)"
		}
	}
	r.report(pass, "%d found: %s", len(devices), strings.Join(names, ", "))
}

func (r *run) checkSource(kind audio.SourceKind, rate int) bool {
	if kind == audio.Microphone {
		r.header("Microphone")
	} else {
		r.header("System audio")
	}

	c := audio.Constraints{SampleRate: rate, ChannelCount: 2}
	if kind == audio.Microphone {
		c.EchoCancellation, c.NoiseSuppression, c.AutoGainControl = true, true, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	track, err := r.opts.Provider.Acquire(ctx, kind, c)
	if err != nil {
		// System audio is optional for recording.
		if kind == audio.SystemAudio {
			r.report(skip, "unavailable: %v", err)
		} else {
			r.report(fail, "cannot acquire: %v", err)
		}
		return false
	}
	defer track.Close()

	var (
		mu     sync.Mutex
		peak   float64
		frames uint32
	)
	track.SetCallback(func(data []byte, frameCount uint32) {
		level := audio.Level(data)
		mu.Lock()
		peak = max(peak, level)
		frames += frameCount
		mu.Unlock()
	})
	time.Sleep(r.opts.Listen)
	track.ClearCallback()

	mu.Lock()
	defer mu.Unlock()
	switch {
	case frames == 0:
		r.report(pass, "%s acquired, no audio delivered yet", track.Label())
	case peak == 0:
		r.report(pass, "%s acquired, silent", track.Label())
	default:
		r.report(pass, "%s acquired, peak level %.3f", track.Label(), peak)
	}
	return true
}

func (r *run) checkEncoders(profile mixer.Profile) {
	r.header("Encoders")
	mimeTypes := r.opts.Registry.MIMETypes()
	if len(mimeTypes) == 0 {
		r.report(fail, "no encoders registered")
		return
	}
	for _, mt := range mimeTypes {
		f, _ := r.opts.Registry.Lookup(mt)
		if err := probeEncoder(f, profile); err != nil {
			r.report(fail, "%s: %v", mt, err)
			continue
		}
		r.report(pass, "%s", mt)
	}
}

func probeEncoder(f encoder.Format, profile mixer.Profile) error {
	enc, err := f.New(encoder.Params{SampleRate: profile.SampleRate, Channels: 2, Bitrate: profile.Bitrate})
	if err != nil {
		return err
	}
	if err := enc.EncodeBlock(make([]int16, encoder.BlockSize*2)); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if len(enc.Drain()) == 0 {
		return fmt.Errorf("no output")
	}
	if enc.TotalFrames() != encoder.BlockSize {
		return fmt.Errorf("encoded %d frames, want %d", enc.TotalFrames(), encoder.BlockSize)
	}
	return nil
}

func (r *run) checkRecording(micOK, sysOK bool) *mixer.Blob {
	r.header("Test recording")
	if !micOK && !sysOK {
		r.report(skip, "no source available")
		return nil
	}

	m := mixer.New(r.opts.Provider, mixer.WithRegistry(r.opts.Registry))
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := m.Start(ctx, mixer.Config{UseMicrophone: micOK, UseSystemAudio: sysOK, Quality: r.opts.Quality})
	if err != nil {
		r.report(fail, "start: %v", err)
		return nil
	}
	time.Sleep(r.opts.Record)
	st := m.State()

	blob, err := m.Stop(ctx)
	if err != nil {
		r.report(fail, "stop: %v", err)
		return nil
	}
	if len(blob.Data) == 0 {
		r.report(fail, "session %s produced no data", id)
		return nil
	}
	r.report(pass, "%s, %.1f KB, %.1fs audio, %d chunks (mic=%v system=%v)",
		blob.MIMEType, float64(len(blob.Data))/1024, blob.Duration().Seconds(), blob.Chunks,
		st.HasMicrophone, st.HasSystemAudio)
	return blob
}

func (r *run) checkTranscription(blob *mixer.Blob) {
	r.header("Transcription")
	if r.opts.Transcriber == nil {
		r.report(skip, "no provider configured")
		return
	}
	if blob == nil {
		r.report(skip, "no recording to transcribe")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	name := r.opts.Transcriber.Name()
	if lang := r.opts.Transcriber.GetLanguage(); lang != "" {
		name += " [" + lang + "]"
	}
	res, err := r.opts.Transcriber.Transcribe(ctx, blob.Data, blob.MIMEType)
	if err != nil {
		r.report(fail, "%s: %v", name, err)
		return
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		text = "(no speech detected)"
	}
	r.report(pass, "%s: %s", name, text)
}
