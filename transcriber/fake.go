package transcriber

import (
	"context"
	"fmt"
	"sync"
)

type FakeTranscriber struct {
	text string
	err  error
	lang string

	mu       sync.Mutex
	got      []byte
	mimeType string
}

func NewFake(text string, err error) *FakeTranscriber {
	return &FakeTranscriber{text: text, err: err}
}

func (f *FakeTranscriber) Name() string            { return "fake" }
func (f *FakeTranscriber) SetLanguage(lang string) { f.lang = lang }
func (f *FakeTranscriber) GetLanguage() string     { return f.lang }

func (f *FakeTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error) {
	f.mu.Lock()
	f.got = audio
	f.mimeType = mimeType
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, fmt.Errorf("fake transcriber error: %w", f.err)
	}
	return &Result{
		Text:      f.text,
		Metrics:   &NetworkMetrics{},
		RateLimit: "?/?",
	}, nil
}

// Received returns the last upload and its MIME type.
func (f *FakeTranscriber) Received() ([]byte, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got, f.mimeType
}
