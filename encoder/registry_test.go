package encoder

import (
	"errors"
	"testing"
)

func TestRegistrySelect(t *testing.T) {
	tests := []struct {
		name  string
		reg   *Registry
		prefs []string
		want  string
		err   error
	}{
		{"default prefers flac", DefaultRegistry(), nil, MIMEFlac, nil},
		{"first registered preference", DefaultRegistry(), []string{"audio/webm;codecs=opus", "audio/wav"}, MIMEWav, nil},
		{"case and params ignored", DefaultRegistry(), []string{"Audio/FLAC; level=5"}, MIMEFlac, nil},
		{"fallback when none match", DefaultRegistry(), []string{"audio/ogg"}, MIMEWav, nil},
		{"no fallback registered", NewRegistry(Flac), []string{"audio/ogg"}, "", ErrUnsupported},
		{"empty registry", NewRegistry(), nil, "", ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := tt.reg.Select(tt.prefs)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if f.MIMEType != tt.want {
				t.Errorf("MIMEType = %q, want %q", f.MIMEType, tt.want)
			}
		})
	}
}

func TestRegistryMIMETypes(t *testing.T) {
	got := DefaultRegistry().MIMETypes()
	if len(got) != 2 || got[0] != MIMEFlac || got[1] != MIMEWav {
		t.Errorf("MIMETypes = %v", got)
	}
}
