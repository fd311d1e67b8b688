package encoder

import (
	"errors"
	"strings"
)

// ErrUnsupported is returned when none of the requested encodings is available.
var ErrUnsupported = errors.New("no supported encoding")

const (
	MIMEFlac = "audio/flac"
	MIMEWav  = "audio/wav"
)

// DefaultPreferences is tried in order when the caller names none.
var DefaultPreferences = []string{MIMEFlac, MIMEWav}

// Fallback is the encoding used when no preference is registered.
const Fallback = MIMEWav

type Format struct {
	MIMEType  string
	Extension string
	New       func(Params) (Encoder, error)
}

var (
	Flac = Format{MIMEType: MIMEFlac, Extension: ".flac", New: NewFlac}
	Wav  = Format{MIMEType: MIMEWav, Extension: ".wav", New: NewWav}
)

// Registry is an ordered set of formats keyed by MIME type.
type Registry struct {
	formats []Format
}

func NewRegistry(formats ...Format) *Registry {
	return &Registry{formats: formats}
}

// DefaultRegistry knows every format this package implements.
func DefaultRegistry() *Registry {
	return NewRegistry(Flac, Wav)
}

// Lookup matches a MIME type case-insensitively, ignoring parameters such as
// ";codecs=".
func (r *Registry) Lookup(mimeType string) (Format, bool) {
	want := baseType(mimeType)
	for _, f := range r.formats {
		if f.MIMEType == want {
			return f, true
		}
	}
	return Format{}, false
}

// MIMETypes lists registered types in registration order.
func (r *Registry) MIMETypes() []string {
	out := make([]string, len(r.formats))
	for i, f := range r.formats {
		out[i] = f.MIMEType
	}
	return out
}

// Select returns the first registered preference, else the fallback.
func (r *Registry) Select(preferences []string) (Format, error) {
	if len(preferences) == 0 {
		preferences = DefaultPreferences
	}
	for _, p := range preferences {
		if f, ok := r.Lookup(p); ok {
			return f, nil
		}
	}
	if f, ok := r.Lookup(Fallback); ok {
		return f, nil
	}
	return Format{}, ErrUnsupported
}

func baseType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
