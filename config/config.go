package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"meetrec/mixer"
)

// Providers lists the transcription backends a config may name.
var Providers = []string{"groq", "openai", "deepgram"}

type Config struct {
	OutputDir   string
	Quality     mixer.Quality
	Microphone  bool
	SystemAudio bool
	Device      string   // microphone name; empty is the system default
	Encodings   []string // output MIME types, most preferred first
	Timeslice   time.Duration
	Provider    string
	Language    string
	Copy        bool

	GroqAPIKey     string
	OpenAIAPIKey   string
	DeepgramAPIKey string
}

type fileConfig struct {
	OutputDir      string   `toml:"output_dir,omitempty"`
	Quality        string   `toml:"quality,omitempty"`
	Microphone     *bool    `toml:"microphone,omitempty"`
	SystemAudio    *bool    `toml:"system_audio,omitempty"`
	Device         string   `toml:"device,omitempty"`
	Encodings      []string `toml:"encodings,omitempty"`
	Timeslice      string   `toml:"timeslice,omitempty"`
	Provider       string   `toml:"provider,omitempty"`
	Language       string   `toml:"language,omitempty"`
	Copy           *bool    `toml:"copy,omitempty"`
	GroqAPIKey     string   `toml:"groq_api_key,omitempty"`
	OpenAIAPIKey   string   `toml:"openai_api_key,omitempty"`
	DeepgramAPIKey string   `toml:"deepgram_api_key,omitempty"`
}

func Default() *Config {
	return &Config{
		OutputDir:  defaultOutputDir(),
		Quality:    mixer.Medium,
		Microphone: true,
		Timeslice:  mixer.DefaultTimeslice,
		Provider:   "groq",
		Language:   "en",
	}
}

// LoadFile reads a config file, if present, and applies environment
// overrides. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		var fc fileConfig
		_, err := toml.DecodeFile(path, &fc)
		switch {
		case err == nil:
			if err := cfg.apply(fc); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) apply(fc fileConfig) error {
	if fc.OutputDir != "" {
		cfg.OutputDir = expandTilde(fc.OutputDir)
	}
	if fc.Quality != "" {
		cfg.Quality = mixer.Quality(fc.Quality)
	}
	if fc.Microphone != nil {
		cfg.Microphone = *fc.Microphone
	}
	if fc.SystemAudio != nil {
		cfg.SystemAudio = *fc.SystemAudio
	}
	cfg.Device = fc.Device
	if len(fc.Encodings) > 0 {
		cfg.Encodings = fc.Encodings
	}
	if fc.Timeslice != "" {
		d, err := time.ParseDuration(fc.Timeslice)
		if err != nil {
			return fmt.Errorf("timeslice: %w", err)
		}
		cfg.Timeslice = d
	}
	if fc.Provider != "" {
		cfg.Provider = fc.Provider
	}
	if fc.Language != "" {
		cfg.Language = fc.Language
	}
	if fc.Copy != nil {
		cfg.Copy = *fc.Copy
	}
	cfg.GroqAPIKey = fc.GroqAPIKey
	cfg.OpenAIAPIKey = fc.OpenAIAPIKey
	cfg.DeepgramAPIKey = fc.DeepgramAPIKey
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("MEETREC_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = expandTilde(v)
	}
	if v := os.Getenv("MEETREC_QUALITY"); v != "" {
		cfg.Quality = mixer.Quality(v)
	}
	if v := os.Getenv("MEETREC_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("MEETREC_DEVICE"); v != "" {
		cfg.Device = v
	}
	if v := os.Getenv("MEETREC_TIMESLICE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MEETREC_TIMESLICE: %w", err)
		}
		cfg.Timeslice = d
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.GroqAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("DEEPGRAM_API_KEY"); v != "" {
		cfg.DeepgramAPIKey = v
	}
	return nil
}

func (cfg *Config) Validate() error {
	q, err := mixer.ParseQuality(string(cfg.Quality))
	if err != nil {
		return err
	}
	cfg.Quality = q
	if cfg.Timeslice <= 0 {
		return fmt.Errorf("timeslice must be positive, got %v", cfg.Timeslice)
	}
	if !slices.Contains(Providers, cfg.Provider) {
		return fmt.Errorf("unknown provider %q (use %s)", cfg.Provider, strings.Join(Providers, ", "))
	}
	return nil
}

// APIKey returns the key configured for provider.
func (cfg *Config) APIKey(provider string) string {
	switch provider {
	case "groq":
		return cfg.GroqAPIKey
	case "openai":
		return cfg.OpenAIAPIKey
	case "deepgram":
		return cfg.DeepgramAPIKey
	}
	return ""
}

// Path is where config.toml lives, whether or not it exists.
func Path() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "meetrec", "config.toml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "meetrec", "config.toml")
	}
	return ""
}

// SaveDevice records the chosen microphone in the config file, keeping the
// other keys.
func SaveDevice(path, device string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	fc.Device = device

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(fc); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func defaultOutputDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "recordings")
	}
	return filepath.Join(".", "recordings")
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
