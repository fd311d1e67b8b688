package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcribeFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

// Metrics describes one transcription request.
type Metrics struct {
	AudioLengthS  float64
	UploadKB      float64
	DNSTimeMs     float64
	TLSTimeMs     float64
	TTFBMs        float64
	TotalTimeMs   float64
	MemoryAllocMB float64
	Language      string // empty when the provider detects it
	Prewarmed     bool
}

// SessionSummary is logged when a recording finalizes.
type SessionSummary struct {
	ID           string
	MIMEType     string
	Chunks       int
	Bytes        int
	AudioLengthS float64
	EncodeTimeMs float64
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: MEETREC_LOG_PATH environment variable
	envPath := os.Getenv("MEETREC_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcribePath := filepath.Join(dir, "transcribe_log.txt")
	transcribeFile, err = os.OpenFile(transcribePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcribeFile != nil {
		transcribeFile.Close()
		transcribeFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func TranscriptionMetrics(m Metrics, provider, mimeType string, connReused bool, tlsProto string) {
	if !logReady {
		return
	}

	connStatus := "new"
	if connReused {
		connStatus = "reused"
	}

	ev := diagLog.Info().
		Str("provider", provider).
		Str("mime", mimeType).
		Str("conn", connStatus).
		Bool("prewarmed", m.Prewarmed)
	if m.Language != "" {
		ev = ev.Str("lang", m.Language)
	}
	if tlsProto != "" {
		ev = ev.Str("tls_proto", tlsProto)
	}
	ev.Float64("audio_s", m.AudioLengthS).
		Float64("upload_kb", m.UploadKB).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Float64("mem_mb", m.MemoryAllocMB).
		Msg("transcription")
}

func TranscriptionText(text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	transcribeFile.WriteString(line)
}

func SessionStart(id, mimeType string, sampleRate, bitrate int, mic, system bool) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", id).
		Str("mime", mimeType).
		Int("sample_rate", sampleRate).
		Int("bitrate", bitrate).
		Bool("microphone", mic).
		Bool("system_audio", system).
		Msg("session_start")
}

// SourceUnavailable records a source that could not be acquired. The session
// may still go on with the others.
func SourceUnavailable(kind string, err error) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Str("source", kind).
		Err(err).
		Msg("source_unavailable")
}

func Chunk(id string, index, size int) {
	if !logReady {
		return
	}
	diagLog.Debug().
		Str("session", id).
		Int("index", index).
		Int("bytes", size).
		Msg("chunk")
}

func SessionEnd(s SessionSummary) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", s.ID).
		Str("mime", s.MIMEType).
		Int("chunks", s.Chunks).
		Int("bytes", s.Bytes).
		Float64("audio_s", s.AudioLengthS).
		Float64("encode_ms", s.EncodeTimeMs).
		Msg("session_end")
}

func SessionFailed(id string, err error) {
	if !logReady {
		return
	}
	diagLog.Error().
		Str("session", id).
		Err(err).
		Msg("session_failed")
}
