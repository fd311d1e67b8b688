package main

import "time"

const (
	silenceWarnAfter = 30 * time.Second
	speechMinRatio   = 0.10
	speechClearRatio = 0.25  // higher threshold to clear warning (hysteresis)
	signalLevel      = 0.003 // RMS, about -50 dBFS
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no signal for the warn window
	SilenceWarnClear              // signal resumed after warning
	SilenceAutoStop               // no signal for the stop window
)

// silenceMonitor tracks, per status tick, whether the mixed stream carried a
// signal. A dead microphone or a meeting that has ended shows up as a long
// run of silent ticks.
type silenceMonitor struct {
	warnAt   int
	stopAt   int // 0 disables auto-stop
	windowSz int

	ticks  int
	quiet  int // consecutive silent ticks
	window []bool
	warned bool
}

func newSilenceMonitor(tick, warnAfter, stopAfter time.Duration) *silenceMonitor {
	warnAt := max(int(warnAfter/tick), 1)
	stopAt := 0
	if stopAfter > 0 {
		stopAt = max(int(stopAfter/tick), 1)
	}
	windowSz := max(warnAt, stopAt)
	return &silenceMonitor{
		warnAt:   warnAt,
		stopAt:   stopAt,
		windowSz: windowSz,
		window:   make([]bool, windowSz),
	}
}

func (m *silenceMonitor) ratio(n int) float64 {
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(hasSignal bool) SilenceEvent {
	m.window[m.ticks%m.windowSz] = hasSignal
	m.ticks++
	if hasSignal {
		m.quiet = 0
	} else {
		m.quiet++
	}

	// Auto-stop needs an unbroken silent run; the warning tolerates blips.
	if m.stopAt > 0 && m.quiet >= m.stopAt {
		return SilenceAutoStop
	}

	r := m.ratio(m.warnAt)

	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		return SilenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}
	return SilenceNone
}
