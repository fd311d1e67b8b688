package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"meetrec/audio"
	"meetrec/beep"
	"meetrec/config"
	"meetrec/doctor"
	"meetrec/encoder"
	"meetrec/log"
	"meetrec/mixer"
	"meetrec/shutdown"
	"meetrec/transcriber"
)

var version = "dev"

type flags struct {
	configPath string
	mic        bool
	system     bool
	quality    string
	device     string
	setup      bool
	out        string
	duration   time.Duration
	autostop   time.Duration
	transcribe bool
	provider   string
	lang       string
	copy       bool
	tui        bool
	logPath    string
	doctor     bool
	version    bool
	testWAV    string
}

func parseFlags(fs *flag.FlagSet, args []string) (*flags, map[string]bool, error) {
	f := &flags{}
	fs.StringVar(&f.configPath, "config", config.Path(), "Config file path")
	fs.BoolVar(&f.mic, "mic", true, "Record the microphone")
	fs.BoolVar(&f.system, "system", false, "Record system audio (what the speakers play)")
	fs.StringVar(&f.quality, "quality", "medium", "Quality: low, medium or high")
	fs.StringVar(&f.device, "device", "", "Use named microphone device")
	fs.BoolVar(&f.setup, "setup", false, "Select microphone device and remember it")
	fs.StringVar(&f.out, "out", "", "Output directory (default from config, ~/recordings)")
	fs.DurationVar(&f.duration, "duration", 0, "Stop automatically after this long (e.g. 90m). 0 = until Enter")
	fs.DurationVar(&f.autostop, "autostop", 0, "Stop after this long without audio signal (e.g. 5m). 0 = never")
	fs.BoolVar(&f.transcribe, "transcribe", false, "Transcribe the recording when it is saved")
	fs.StringVar(&f.provider, "provider", "groq", "Transcription provider: groq, openai or deepgram")
	fs.StringVar(&f.lang, "lang", "en", "Language code for transcription (e.g., en, es, fr). Empty = auto-detect")
	fs.BoolVar(&f.copy, "copy", false, "Copy the transcript to the clipboard")
	fs.BoolVar(&f.tui, "tui", true, "Run with terminal UI")
	fs.StringVar(&f.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.BoolVar(&f.doctor, "doctor", false, "Run system diagnostics and exit")
	fs.BoolVar(&f.version, "version", false, "Print version and exit")
	fs.StringVar(&f.testWAV, "test", "", "Test mode: record from this WAV file instead of a device")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return f, set, nil
}

// merge lets explicitly set flags override the config file.
func (f *flags) merge(cfg *config.Config, set map[string]bool) {
	if set["mic"] {
		cfg.Microphone = f.mic
	}
	if set["system"] {
		cfg.SystemAudio = f.system
	}
	if set["quality"] {
		cfg.Quality = mixer.Quality(f.quality)
	}
	if set["device"] {
		cfg.Device = f.device
	}
	if set["out"] {
		cfg.OutputDir = f.out
	}
	if set["provider"] {
		cfg.Provider = f.provider
	}
	if set["lang"] {
		cfg.Language = f.lang
	}
	if set["copy"] {
		cfg.Copy = f.copy
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	f, set, err := parseFlags(flag.CommandLine, args)
	if err != nil {
		return 2
	}
	if f.version {
		fmt.Printf("meetrec %s\n", version)
		return 0
	}

	cfg, err := config.LoadFile(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	f.merge(cfg, set)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(f.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	var (
		actx  audio.Context
		limit = f.duration
	)
	if f.testWAV != "" {
		beep.Disable()
		f.tui = false
		fake, err := audio.NewFakeContext(f.testWAV)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
			return 1
		}
		actx = fake
		if limit == 0 {
			limit = testModeLimit(fake)
		}
	} else {
		actx, err = audio.NewContext()
		if err != nil {
			log.Errorf("audio context init error: %v", err)
			fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
			return 1
		}
	}
	defer actx.Close()

	dev, err := resolveDevice(actx, cfg, f.setup, f.configPath)
	if errors.Is(err, audio.ErrSelectionCancelled) {
		return 1
	}
	if err != nil {
		log.Warnf("device selection failed: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: %v, using the default device\n", err)
	}
	provider := audio.NewProvider(actx, dev)

	var tr transcriber.Transcriber
	if f.transcribe || f.doctor && cfg.APIKey(cfg.Provider) != "" {
		tr, err = transcriber.New(cfg.Provider, cfg.APIKey(cfg.Provider))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		tr.SetLanguage(cfg.Language)
	}

	if f.doctor {
		return doctor.Run(doctor.Options{
			Provider:    provider,
			Devices:     actx.Devices,
			Registry:    encoder.DefaultRegistry(),
			Quality:     cfg.Quality,
			Transcriber: tr,
		})
	}

	return record(f, cfg, provider, dev, tr, limit)
}

func record(f *flags, cfg *config.Config, provider audio.Provider, dev *audio.DeviceInfo, tr transcriber.Transcriber, limit time.Duration) int {
	ctx, stopSignals := shutdown.Context(context.Background())
	defer stopSignals()

	partial := &partialWriter{dir: cfg.OutputDir}
	opts := []mixer.Option{
		mixer.WithTimeslice(cfg.Timeslice),
		mixer.WithChunkObserver(partial.chunk),
	}
	if len(cfg.Encodings) > 0 {
		opts = append(opts, mixer.WithEncodings(cfg.Encodings...))
	}
	m := mixer.New(provider, opts...)
	defer m.Close()

	stop := newStopper()
	var (
		sink EventSink
		ui   *tuiRunner
	)
	if f.tui {
		ui = startTUI(stop.Stop)
		sink = ui
	} else {
		sink = printSink{w: os.Stdout}
		go waitForEnter(stop.Stop)
	}
	sink.DeviceLine(deviceLineText(dev))

	code := func() int {
		blob, err := recordSession(ctx, m, mixer.Config{
			UseMicrophone:  cfg.Microphone,
			UseSystemAudio: cfg.SystemAudio,
			Quality:        cfg.Quality,
		}, stop.Done(), limit, newSilenceMonitor(statusInterval, silenceWarnAfter, f.autostop), sink)
		if err != nil {
			log.Errorf("recording error: %v", err)
			sink.Error(err)
			return 1
		}

		path, err := saveBlob(cfg.OutputDir, blob, time.Now())
		if err != nil {
			log.Errorf("saving recording: %v", err)
			sink.Error(fmt.Errorf("saving recording: %w (partial file kept at %s)", err, partial.path(blob.SessionID)))
			return 1
		}
		partial.Discard(blob.SessionID)
		sink.Saved(path, blob)

		if tr == nil {
			return 0
		}
		tctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := handoff(tctx, tr, blob, cfg.Copy, sink); err != nil {
			log.Errorf("%v", err)
			sink.Error(err)
			return 1
		}
		return 0
	}()

	if ui != nil {
		ui.Wait()
	}
	return code
}

// resolveDevice picks the microphone: interactive picker with -setup, then
// the configured name, then the system default (nil).
func resolveDevice(actx audio.Context, cfg *config.Config, setup bool, configPath string) (*audio.DeviceInfo, error) {
	if setup {
		dev, err := audio.SelectDevice(actx)
		if err != nil {
			return nil, err
		}
		if err := config.SaveDevice(configPath, dev.Name); err != nil {
			log.Warnf("could not save device: %v", err)
		}
		return dev, nil
	}
	if cfg.Device == "" {
		return nil, nil
	}
	return audio.FindDevice(actx, cfg.Device)
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

// waitForEnter stops the recording on the first line read from stdin. EOF
// does not stop it, so a detached run is bounded by -duration or a signal.
func waitForEnter(stop func()) {
	r := bufio.NewReader(os.Stdin)
	if _, err := r.ReadString('\n'); err == nil {
		stop()
	}
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

