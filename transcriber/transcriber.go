// Package transcriber hands a finished recording to a speech-to-text API.
package transcriber

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
	UploadBytes int64
	Prewarmed   bool // host was warmed or used within the idle timeout
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

type Segment struct {
	Text         string
	NoSpeechProb float64
	AvgLogProb   float64
	Start        float64
	End          float64
}

type Result struct {
	Text         string
	Metrics      *NetworkMetrics
	RateLimit    string
	Confidence   float64
	NoSpeechProb float64
	Duration     float64
	Segments     []Segment
}

// Transcriber turns one encoded recording into text. mimeType is the
// recording's container type, e.g. "audio/flac".
type Transcriber interface {
	Name() string
	SetLanguage(lang string)
	GetLanguage() string
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error)
}

type baseTranscriber struct {
	client *uploadClient
	apiURL string
	lang   string
}

func (b *baseTranscriber) SetLanguage(lang string) { b.lang = lang }

func (b *baseTranscriber) GetLanguage() string { return b.lang }

// SetEndpoint points the client at another server, such as a proxy.
func (b *baseTranscriber) SetEndpoint(url string) { b.apiURL = url }

// Warmer is implemented by transcribers that can open their connection
// ahead of the upload.
type Warmer interface {
	Warm(ctx context.Context)
}

func (b *baseTranscriber) Warm(ctx context.Context) { b.client.Warm(ctx, b.apiURL) }

// New builds the named provider.
func New(provider, apiKey string) (Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("no API key for %s (set %s_API_KEY)", provider, strings.ToUpper(provider))
	}
	switch provider {
	case "groq":
		return NewGroq(apiKey), nil
	case "openai":
		return NewOpenAI(apiKey), nil
	case "deepgram":
		return NewDeepgram(apiKey), nil
	}
	return nil, fmt.Errorf("unknown transcription provider %q", provider)
}

// fileExtension maps a MIME type to the file suffix Whisper-style APIs use to
// sniff the upload.
func fileExtension(mimeType string) string {
	base := mimeType
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = base[:i]
	}
	switch strings.ToLower(strings.TrimSpace(base)) {
	case "audio/flac", "audio/x-flac":
		return "flac"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/mpeg":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	case "audio/webm":
		return "webm"
	}
	return "bin"
}
