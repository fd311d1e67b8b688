package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"meetrec/mixer"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MEETREC_OUTPUT_DIR", "MEETREC_QUALITY", "MEETREC_PROVIDER", "MEETREC_DEVICE",
		"MEETREC_TIMESLICE", "GROQ_API_KEY", "OPENAI_API_KEY", "DEEPGRAM_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Quality != mixer.Medium || !cfg.Microphone || cfg.SystemAudio {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Timeslice != time.Second {
		t.Errorf("Timeslice = %v, want 1s", cfg.Timeslice)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
output_dir = "/tmp/rec"
quality = "high"
microphone = false
system_audio = true
device = "USB Mic"
encodings = ["audio/wav"]
timeslice = "250ms"
provider = "deepgram"
language = "de"
copy = true
deepgram_api_key = "dg-file"
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OutputDir != "/tmp/rec" || cfg.Quality != mixer.High || cfg.Microphone || !cfg.SystemAudio {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Device != "USB Mic" || len(cfg.Encodings) != 1 || cfg.Encodings[0] != "audio/wav" {
		t.Errorf("device/encodings = %q %v", cfg.Device, cfg.Encodings)
	}
	if cfg.Timeslice != 250*time.Millisecond || cfg.Provider != "deepgram" || cfg.Language != "de" || !cfg.Copy {
		t.Errorf("cfg = %+v", cfg)
	}
	if got := cfg.APIKey("deepgram"); got != "dg-file" {
		t.Errorf("APIKey(deepgram) = %q", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `quality = "high"`+"\n"+`groq_api_key = "from-file"`)
	t.Setenv("MEETREC_QUALITY", "low")
	t.Setenv("MEETREC_OUTPUT_DIR", "/tmp/env-rec")
	t.Setenv("GROQ_API_KEY", "from-env")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Quality != mixer.Low {
		t.Errorf("Quality = %q, want low", cfg.Quality)
	}
	if cfg.OutputDir != "/tmp/env-rec" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if cfg.APIKey("groq") != "from-env" {
		t.Errorf("APIKey(groq) = %q, want from-env", cfg.APIKey("groq"))
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad toml", `quality = `},
		{"bad quality", `quality = "ultra"`},
		{"bad provider", `provider = "whisper.cpp"`},
		{"bad timeslice", `timeslice = "soon"`},
		{"negative timeslice", `timeslice = "-1s"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := LoadFile(writeConfig(t, tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPathXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := Path(); got != "/tmp/xdg/meetrec/config.toml" {
		t.Errorf("Path = %q", got)
	}
}

func TestSaveDevice(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `quality = "low"`)
	if err := SaveDevice(path, "Headset"); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Device != "Headset" || cfg.Quality != mixer.Low {
		t.Errorf("after save: device %q quality %q", cfg.Device, cfg.Quality)
	}

	fresh := filepath.Join(t.TempDir(), "sub", "config.toml")
	if err := SaveDevice(fresh, "Mic"); err != nil {
		t.Fatalf("SaveDevice on new file: %v", err)
	}
}
