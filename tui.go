package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"meetrec/log"
	"meetrec/mixer"
)

// TUI message types
type RecordingStartMsg struct {
	SessionID string
	Status    mixer.Status
}
type StatusMsg struct{ Status mixer.Status }
type RecordingStopMsg struct{}
type SilenceMsg struct{ On bool }
type SavedMsg struct {
	Path string
	Info string
}
type TranscriptionMsg struct {
	Text     string
	Metrics  []string
	Copied   bool
	NoSpeech bool // true when no speech was detected
}
type DeviceLineMsg struct{ Text string } // Microphone device name
type ErrorMsg struct{ Text string }
type FinishedMsg struct{}
type tickMsg time.Time

type tuiState int

const (
	tuiStateStarting tuiState = iota
	tuiStateRecording
	tuiStateFinishing
	tuiStateDone
)

const meterWidth = 24

type tuiModel struct {
	state         tuiState
	frame         int
	width, height int
	onStop        func()

	sessionID   string
	status      mixer.Status
	audioLevel  float64
	silent      bool
	deviceLine  string
	savedPath   string
	savedInfo   string
	lastText    string
	lastMetrics []string
	copied      bool
	noSpeech    bool
	errText     string
}

// Pre-computed pixel styles to avoid allocations in render loop
var (
	pixelColorsRec  = []string{"", "226", "220", "214", "208", "196", "160", "124", "88", "52", "236", "236", "236", "236", "255", "249"}
	pixelColorsIdle = []string{"", "231", "224", "217", "210", "160", "124", "88", "52", "236", "236", "236", "236", "236", "255", "249"}
	pixelStylesRec  [16]lipgloss.Style
	pixelStylesIdle [16]lipgloss.Style
	pixelBgRec      [16][16]lipgloss.Style
	pixelBgIdle     [16][16]lipgloss.Style
)

func init() {
	for i, c := range pixelColorsRec {
		if c != "" {
			pixelStylesRec[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
		}
	}
	for i, c := range pixelColorsIdle {
		if c != "" {
			pixelStylesIdle[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
		}
	}
	for i, fg := range pixelColorsRec {
		for j, bg := range pixelColorsRec {
			if fg != "" && bg != "" {
				pixelBgRec[i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg)).Background(lipgloss.Color(bg))
			}
		}
	}
	for i, fg := range pixelColorsIdle {
		for j, bg := range pixelColorsIdle {
			if fg != "" && bg != "" {
				pixelBgIdle[i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg)).Background(lipgloss.Color(bg))
			}
		}
	}
}

func newTUIModel(onStop func()) tuiModel {
	return tuiModel{onStop: onStop}
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch {
		case m.state == tuiStateDone:
			return m, tea.Quit
		case msg.String() == "ctrl+c" && m.state == tuiStateFinishing:
			return m, tea.Quit
		case msg.String() == "ctrl+c", msg.String() == "enter", msg.String() == "q", msg.String() == " ":
			if m.onStop != nil {
				m.onStop()
			}
		}

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case RecordingStartMsg:
		m.state = tuiStateRecording
		m.sessionID = msg.SessionID
		m.status = msg.Status
		m.audioLevel = 0
		m.silent = false

	case StatusMsg:
		if m.state == tuiStateRecording {
			m.status = msg.Status
			m.audioLevel = m.audioLevel*0.6 + msg.Status.Level*0.4
		}

	case SilenceMsg:
		m.silent = msg.On

	case RecordingStopMsg:
		m.state = tuiStateFinishing
		m.audioLevel = 0

	case SavedMsg:
		m.savedPath = msg.Path
		m.savedInfo = msg.Info

	case TranscriptionMsg:
		m.lastText = msg.Text
		m.lastMetrics = msg.Metrics
		m.copied = msg.Copied
		m.noSpeech = msg.NoSpeech

	case DeviceLineMsg:
		m.deviceLine = msg.Text

	case ErrorMsg:
		m.errText = msg.Text

	case FinishedMsg:
		m.state = tuiStateDone
	}
	return m, nil
}

func levelMeter(level float64, width int) string {
	// RMS of speech sits well below full scale; show it on a dB-ish curve.
	frac := 0.0
	if level > 0 {
		frac = min(max((20*math.Log10(level)+60)/60, 0), 1)
	}
	filled := int(math.Round(frac * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func sourceFlag(label string, on bool) string {
	if on {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("✓ " + label)
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("✗ " + label)
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	const eyeWidth = 45
	recording := m.state == tuiStateRecording
	level := m.audioLevel
	if !recording {
		level = 0
	}

	eye := renderHALEye(m.frame, level, recording)

	var infoLines []string
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	switch m.state {
	case tuiStateRecording:
		status := lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true).
			Render("● REC " + formatElapsed(m.status.Elapsed))
		infoLines = append(infoLines, status)
		infoLines = append(infoLines, levelMeter(m.audioLevel, meterWidth))
		if m.silent {
			warn := lipgloss.NewStyle().
				Foreground(lipgloss.Color("208")).
				Render("  ⚠ no signal")
			infoLines = append(infoLines, warn)
		}
	case tuiStateFinishing:
		infoLines = append(infoLines, dim.Render("◌ FINALIZING"))
	case tuiStateDone:
		infoLines = append(infoLines, dim.Render("○ DONE"))
	default:
		infoLines = append(infoLines, dim.Render("○ STARTING"))
	}

	if m.state != tuiStateStarting {
		infoLines = append(infoLines,
			sourceFlag("mic", m.status.HasMicrophone)+"  "+sourceFlag("system", m.status.HasSystemAudio))
		infoLines = append(infoLines, dim.Render(fmt.Sprintf("chunks: %d", m.status.Chunks)))
	}
	if m.deviceLine != "" {
		infoLines = append(infoLines, dim.Render(m.deviceLine))
	}

	infoLines = append(infoLines, "")

	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boldStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	switch m.state {
	case tuiStateDone:
		infoLines = append(infoLines, helpStyle.Render("press any key to exit"))
	default:
		infoLines = append(infoLines, boldStyle.Render("Enter")+helpStyle.Render(" to stop"))
	}
	infoLines = append(infoLines, helpStyle.Render("meetrec "+version))

	for _, line := range infoLines {
		eye += line + "\n"
	}
	eyeLines := strings.Split(eye, "\n")

	logWidth := max(m.width-eyeWidth-1, 20)
	wrapWidth := max(logWidth-2, 10)

	var logContent strings.Builder
	if m.sessionID != "" {
		logContent.WriteString(dim.Render("session "+m.sessionID) + "\n\n")
	}
	if m.errText != "" {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		for _, line := range wrapText("Error: "+m.errText, wrapWidth) {
			logContent.WriteString(errStyle.Render(line) + "\n")
		}
		logContent.WriteString("\n")
	}
	if m.savedPath != "" {
		title := lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Render("Saved")
		logContent.WriteString(title + "\n")
		logContent.WriteString(m.savedPath + "\n")
		logContent.WriteString(dim.Render(m.savedInfo) + "\n\n")
	}

	switch {
	case m.noSpeech:
		logContent.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Render("No speech detected") + "\n")
	case m.lastText != "":
		title := lipgloss.NewStyle().
			Foreground(lipgloss.Color("246")).
			Render("Transcript")
		logContent.WriteString(title + "\n\n")

		textStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
		lines := wrapText(m.lastText, wrapWidth)
		for i, line := range lines {
			logContent.WriteString(textStyle.Render(line))
			if i == len(lines)-1 && m.copied {
				clipboardStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
				logContent.WriteString(" " + clipboardStyle.Render("[✓ copied]"))
			}
			logContent.WriteString("\n")
		}

		if len(m.lastMetrics) > 0 {
			logContent.WriteString("\n")
			metricsStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
			for _, metric := range m.lastMetrics {
				logContent.WriteString(metricsStyle.Render(metric) + "\n")
			}
		}
	}

	logPanel := lipgloss.NewStyle().
		Width(logWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(logContent.String())

	// Pad eye panel to full height (eye at top)
	eyePadded := make([]string, m.height)
	for i := range eyePadded {
		if i < len(eyeLines) {
			eyePadded[i] = eyeLines[i]
		} else {
			eyePadded[i] = strings.Repeat(" ", eyeWidth-1)
		}
	}

	eyePanel := lipgloss.NewStyle().
		Width(eyeWidth - 1).
		Height(m.height).
		Render(strings.Join(eyePadded, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, eyePanel, logPanel)
}

// tuiRunner owns the Bubble Tea program and implements EventSink on top of
// it.
type tuiRunner struct {
	p    *tea.Program
	done chan struct{}
}

func startTUI(onStop func()) *tuiRunner {
	r := &tuiRunner{
		p:    tea.NewProgram(newTUIModel(onStop), tea.WithAltScreen()),
		done: make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		if _, err := r.p.Run(); err != nil {
			log.Errorf("TUI error: %v", err)
		}
		// A closed UI must not leave the recording running.
		onStop()
	}()
	return r
}

func (r *tuiRunner) RecordingStart(id string, st mixer.Status) {
	r.p.Send(RecordingStartMsg{SessionID: id, Status: st})
}
func (r *tuiRunner) RecordingStatus(st mixer.Status) { r.p.Send(StatusMsg{Status: st}) }
func (r *tuiRunner) RecordingStop()                  { r.p.Send(RecordingStopMsg{}) }
func (r *tuiRunner) SilenceWarning(on bool)          { r.p.Send(SilenceMsg{On: on}) }
func (r *tuiRunner) DeviceLine(text string)          { r.p.Send(DeviceLineMsg{Text: text}) }
func (r *tuiRunner) Error(err error)                 { r.p.Send(ErrorMsg{Text: err.Error()}) }

func (r *tuiRunner) Saved(path string, blob *mixer.Blob) {
	info := fmt.Sprintf("%s, %s, %.1f KB", blob.MIMEType, formatElapsed(blob.Duration()), float64(len(blob.Data))/1024)
	r.p.Send(SavedMsg{Path: path, Info: info})
}

func (r *tuiRunner) Transcription(text string, metrics []string, copied bool, noSpeech bool) {
	r.p.Send(TranscriptionMsg{Text: text, Metrics: metrics, Copied: copied, NoSpeech: noSpeech})
}

// Wait shows the final screen until the user dismisses it.
func (r *tuiRunner) Wait() {
	r.p.Send(FinishedMsg{})
	<-r.done
}

func renderHALEye(frame int, level float64, recording bool) string {
	const charsW = 44
	const charsH = 15
	const pixW = charsW
	const pixH = charsH * 2

	centerX := float64(pixW) / 2
	centerY := float64(pixH) / 2

	// Voice-reactive breathing
	var breathe float64
	if recording {
		breathe = math.Sin(float64(frame)*0.10)*0.03 + level*10.0 - 0.05
	} else {
		breathe = math.Sin(float64(frame)*0.08)*0.02 - 0.05
	}

	pixels := make([][]int, pixH)
	for i := range pixels {
		pixels[i] = make([]int, pixW)
	}

	type ring struct {
		radius     float64
		breatheAmt float64
		colorIdx   int
	}

	rings := []ring{
		{0.6, 0.10, 1},
		{1.3, 0.12, 2},
		{2.0, 0.15, 3},
		{2.8, 0.35, 4},  // red rings: high reactivity
		{3.5, 0.40, 5},
		{4.2, 0.38, 6},
		{5.0, 0.30, 7},
		{5.8, 0.15, 8},
		{6.5, 0.03, 9},
		{7.2, 0.0, 10},
		{8.0, 0.0, 11},
		{10.0, 0.0, 12},
		{12.0, 0.0, 13},
	}

	for y := 0; y < pixH; y++ {
		for x := 0; x < pixW; x++ {
			dx := float64(x) - centerX
			dy := float64(y) - centerY
			dist := math.Sqrt(dx*dx + dy*dy)
			for _, r := range rings {
				radius := r.radius + breathe*r.breatheAmt*20
				if radius > 10.0 {
					radius = 10.0
				}
				if dist < radius {
					pixels[y][x] = r.colorIdx
					break
				}
			}
		}
	}

	// Glass reflections
	type spot struct {
		ox, oy float64
		radius float64
		color  int
	}
	dSide := 9.0
	dSide2 := 7.2
	dTop := 10.0
	dTop2 := 8.2
	spots := []spot{
		{-dSide * 0.707, -dSide * 0.707, 0.7, 14},
		{-dSide2 * 0.707, -dSide2 * 0.707, 0.4, 15},
		{0, -dTop, 0.8, 14},
		{0, -dTop2, 0.6, 15},
		{dSide * 0.707, -dSide * 0.707, 0.7, 14},
		{dSide2 * 0.707, -dSide2 * 0.707, 0.4, 15},
		{0, -2.0, 0.6, 14},
	}
	for y := 0; y < pixH; y++ {
		for x := 0; x < pixW; x++ {
			px := float64(x) - centerX
			py := float64(y) - centerY
			for _, s := range spots {
				dx := px - s.ox
				dy := py - s.oy
				rLen := math.Sqrt(s.ox*s.ox + s.oy*s.oy)
				if rLen < 0.001 {
					rLen = 1
				}
				tx, ty := -s.oy/rLen, s.ox/rLen
				dt := dx*tx + dy*ty
				dn := dx*(-ty) + dy*tx
				if (dt*dt)/9.0+dn*dn < s.radius*s.radius {
					pixels[y][x] = s.color
				}
			}
		}
	}

	// Use pre-computed styles based on recording state
	var styles *[16]lipgloss.Style
	var bgStyles *[16][16]lipgloss.Style
	if recording {
		styles = &pixelStylesRec
		bgStyles = &pixelBgRec
	} else {
		styles = &pixelStylesIdle
		bgStyles = &pixelBgIdle
	}

	var result strings.Builder
	for cy := 0; cy < charsH; cy++ {
		for cx := 0; cx < charsW; cx++ {
			topY := cy * 2
			botY := cy*2 + 1
			top := 0
			bot := 0
			if topY < pixH {
				top = pixels[topY][cx]
			}
			if botY < pixH {
				bot = pixels[botY][cx]
			}
			if top == 0 && bot == 0 {
				result.WriteString(" ")
			} else if top == bot {
				result.WriteString(styles[top].Render("█"))
			} else if top != 0 && bot == 0 {
				result.WriteString(styles[top].Render("▀"))
			} else if top == 0 && bot != 0 {
				result.WriteString(styles[bot].Render("▄"))
			} else {
				result.WriteString(bgStyles[top][bot].Render("▀"))
			}
		}
		result.WriteString("\n")
	}
	return result.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
