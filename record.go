package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"meetrec/beep"
	"meetrec/clipboard"
	"meetrec/log"
	"meetrec/mixer"
	"meetrec/transcriber"
)

const (
	statusInterval = 100 * time.Millisecond
	startTimeout   = 30 * time.Second
	stopTimeout    = 10 * time.Second
)

// stopper is closed by whichever trigger fires first: Enter, the TUI, or a
// signal.
type stopper struct {
	ch   chan struct{}
	once sync.Once
}

func newStopper() *stopper { return &stopper{ch: make(chan struct{})} }

func (s *stopper) Stop()                 { s.once.Do(func() { close(s.ch) }) }
func (s *stopper) Done() <-chan struct{} { return s.ch }

// recordSession records until stop fires, ctx is cancelled, limit elapses
// (0 means no limit) or silence reports auto-stop. silence may be nil. A
// cancelled ctx still finalizes the recording.
func recordSession(ctx context.Context, m *mixer.Mixer, cfg mixer.Config, stop <-chan struct{}, limit time.Duration, silence *silenceMonitor, sink EventSink) (*mixer.Blob, error) {
	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	id, err := m.Start(startCtx, cfg)
	cancel()
	if err != nil {
		beep.PlayError()
		return nil, err
	}
	beep.PlayStart()
	sink.RecordingStart(id, m.State())

	var timeout <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		timeout = timer.C
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			st := m.State()
			sink.RecordingStatus(st)
			if silence == nil {
				continue
			}
			switch silence.Tick(st.Level >= signalLevel) {
			case SilenceWarn:
				log.Warn("no audio signal")
				beep.PlayError()
				sink.SilenceWarning(true)
			case SilenceWarnClear:
				sink.SilenceWarning(false)
			case SilenceAutoStop:
				log.Info("silence limit reached")
				break loop
			}
		case <-stop:
			break loop
		case <-ctx.Done():
			log.Info("interrupted, finalizing recording")
			break loop
		case <-timeout:
			log.Info("duration limit reached")
			break loop
		}
	}

	sink.RecordingStop()
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	blob, err := m.Stop(stopCtx)
	if err != nil {
		beep.PlayError()
		return nil, err
	}
	beep.PlayEnd()
	return blob, nil
}

// saveBlob writes blob into dir as <timestamp><ext>.
func saveBlob(dir string, blob *mixer.Blob, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	path := filepath.Join(dir, now.Format("2006-01-02_15-04-05")+blob.Extension)
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(dir, now.Format("2006-01-02_15-04-05")+"_"+blob.SessionID[:8]+blob.Extension)
	}
	if err := blob.WriteFile(path); err != nil {
		return "", err
	}
	return path, nil
}

// partialWriter appends every chunk to <dir>/<session>.part as it is cut, so
// a crash mid-recording leaves the audio captured so far on disk.
type partialWriter struct {
	dir string

	mu     sync.Mutex
	f      *os.File
	id     string
	failed bool
}

func (p *partialWriter) chunk(sessionID string, index int, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id != sessionID {
		p.closeLocked()
		p.id = sessionID
		p.failed = false
	}
	if p.failed {
		return
	}
	if p.f == nil {
		if err := os.MkdirAll(p.dir, 0o755); err != nil {
			p.fail(err)
			return
		}
		f, err := os.Create(p.path(sessionID))
		if err != nil {
			p.fail(err)
			return
		}
		p.f = f
	}
	if _, err := p.f.Write(data); err != nil {
		p.fail(err)
	}
}

func (p *partialWriter) fail(err error) {
	p.failed = true
	log.Warnf("partial recording write failed: %v", err)
}

func (p *partialWriter) path(sessionID string) string {
	return filepath.Join(p.dir, sessionID+".part")
}

func (p *partialWriter) closeLocked() {
	if p.f != nil {
		p.f.Close()
		p.f = nil
	}
}

// Discard closes and removes the partial file of sessionID once the finished
// recording is safely written.
func (p *partialWriter) Discard(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id == sessionID {
		p.closeLocked()
	}
	os.Remove(p.path(sessionID))
}

// transcribe uploads blob and logs the network metrics the same way for
// every provider.
func transcribe(ctx context.Context, tr transcriber.Transcriber, blob *mixer.Blob) (*transcriber.Result, error) {
	if w, ok := tr.(transcriber.Warmer); ok {
		w.Warm(ctx)
	}
	start := time.Now()
	res, err := tr.Transcribe(ctx, blob.Data, blob.MIMEType)
	if err != nil {
		return nil, err
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m := log.Metrics{
		AudioLengthS:  blob.Duration().Seconds(),
		UploadKB:      float64(len(blob.Data)) / 1024,
		TotalTimeMs:   float64(time.Since(start).Milliseconds()),
		MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
		Language:      tr.GetLanguage(),
	}
	var reused bool
	var proto string
	if nm := res.Metrics; nm != nil {
		m.DNSTimeMs = float64(nm.DNS.Milliseconds())
		m.TLSTimeMs = float64(nm.TLS.Milliseconds())
		m.TTFBMs = float64(nm.TTFB.Milliseconds())
		m.UploadKB = float64(nm.UploadBytes) / 1024
		m.Prewarmed = nm.Prewarmed
		reused, proto = nm.ConnReused, nm.TLSProtocol
	}
	log.TranscriptionMetrics(m, tr.Name(), blob.MIMEType, reused, proto)
	log.TranscriptionText(res.Text)
	return res, nil
}

func metricLines(res *transcriber.Result, blob *mixer.Blob) []string {
	lines := []string{fmt.Sprintf("audio: %.1fs  upload: %.1f KB", blob.Duration().Seconds(), float64(len(blob.Data))/1024)}
	if nm := res.Metrics; nm != nil {
		lines = append(lines, fmt.Sprintf("total: %dms  tls: %dms  ttfb: %dms", nm.Total.Milliseconds(), nm.TLS.Milliseconds(), nm.TTFB.Milliseconds()))
	}
	if res.RateLimit != "" {
		lines = append(lines, "rate limit: "+res.RateLimit)
	}
	return lines
}

// handoff transcribes the saved recording and optionally copies the text.
func handoff(ctx context.Context, tr transcriber.Transcriber, blob *mixer.Blob, copyText bool, sink EventSink) error {
	res, err := transcribe(ctx, tr, blob)
	if err != nil {
		return fmt.Errorf("transcription: %w", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		sink.Transcription("", nil, false, true)
		return nil
	}
	copied := false
	if copyText {
		if err := clipboard.Copy(text); err != nil {
			log.Warnf("clipboard copy failed: %v", err)
		} else {
			copied = true
		}
	}
	sink.Transcription(text, metricLines(res, blob), copied, false)
	return nil
}
