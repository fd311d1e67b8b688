// Package beep plays short cues when a recording starts, stops or fails.
package beep

import (
	"math"
	"sync"
)

var disabled bool

func Disable() { disabled = true }

const (
	sampleRate = 44100

	// Start: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// Stop: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

var (
	startSamples []int16
	endSamples   []int16
	errorSamples []int16
	soundOnce    sync.Once
)

func initSound() {
	// The tail keeps the server buffer filled until the tone has decayed.
	startSamples = generateTick(sampleRate, startFreq, 0.2, startVolume, startDecay, channels)
	endSamples = generateTick(sampleRate, endFreq, 0.2, endVolume, endDecay, channels)
	errorSamples = generateDoubleBeep(sampleRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay, channels)
	initPlayback()
}

func generateTick(sampleRate int, freq, duration, volume, decay float64, channels int) []int16 {
	n := int(float64(sampleRate) * duration)
	samples := make([]int16, n*channels)
	for i := range n {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		s := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
		for c := range channels {
			samples[i*channels+c] = s
		}
	}
	return samples
}

func generateDoubleBeep(sampleRate int, freq, beepDur, gapDur, volume, decay float64, channels int) []int16 {
	beep := generateTick(sampleRate, freq, beepDur, volume, decay, channels)
	gap := make([]int16, int(float64(sampleRate)*gapDur)*channels)
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}

func Init() {
	soundOnce.Do(initSound)
}

func PlayStart() { playCue(&startSamples) }
func PlayEnd()   { playCue(&endSamples) }
func PlayError() { playCue(&errorSamples) }

func playCue(samples *[]int16) {
	if disabled {
		return
	}
	soundOnce.Do(initSound)
	play(*samples)
}
