package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"meetrec/mixer"
)

// EventSink abstracts the display layer so both the Bubble Tea TUI and
// plain terminal output receive the same recording events.
type EventSink interface {
	RecordingStart(sessionID string, st mixer.Status)
	RecordingStatus(st mixer.Status)
	RecordingStop()
	SilenceWarning(on bool)
	Saved(path string, blob *mixer.Blob)
	Transcription(text string, metrics []string, copied bool, noSpeech bool)
	DeviceLine(text string)
	Error(err error)
}

// printSink writes one line per event. Status updates are not printed.
type printSink struct {
	w io.Writer
}

func (p printSink) RecordingStart(id string, st mixer.Status) {
	fmt.Fprintf(p.w, "Recording %s (%s). Press Enter to stop.\n", id, sourcesText(st))
}

func (p printSink) RecordingStatus(mixer.Status) {}

func (p printSink) RecordingStop() {
	fmt.Fprintln(p.w, "Stopping...")
}

func (p printSink) SilenceWarning(on bool) {
	if on {
		fmt.Fprintln(p.w, "Warning: no audio signal")
	} else {
		fmt.Fprintln(p.w, "Signal resumed")
	}
}

func (p printSink) Saved(path string, blob *mixer.Blob) {
	fmt.Fprintf(p.w, "Saved %s (%s, %.1fs, %.1f KB)\n", path, blob.MIMEType, blob.Duration().Seconds(), float64(len(blob.Data))/1024)
}

func (p printSink) Transcription(text string, metrics []string, copied bool, noSpeech bool) {
	if noSpeech {
		fmt.Fprintln(p.w, "No speech detected.")
		return
	}
	fmt.Fprintln(p.w, text)
	for _, m := range metrics {
		fmt.Fprintln(p.w, "  "+m)
	}
	if copied {
		fmt.Fprintln(p.w, "(copied to clipboard)")
	}
}

func (p printSink) DeviceLine(text string) {
	fmt.Fprintln(p.w, text)
}

func (p printSink) Error(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

func sourcesText(st mixer.Status) string {
	var parts []string
	if st.HasMicrophone {
		parts = append(parts, "mic")
	}
	if st.HasSystemAudio {
		parts = append(parts, "system")
	}
	if len(parts) == 0 {
		return "no sources"
	}
	return strings.Join(parts, " + ")
}

func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
