package audio

import "math"

const (
	agcTarget   = 0.1 // RMS, about -20 dBFS
	agcMaxGain  = 8
	agcMinGain  = 0.25
	agcSmooth   = 0.1
	agcSilence  = 1e-4
	gateOpenRMS = 0.005 // about -46 dBFS
	gateHoldSec = 0.2
)

// processor is the software stand-in for the voice processing a browser or
// OS applies to microphone input. Not safe for concurrent use.
type processor struct {
	agc  bool
	gain float64

	gate     bool
	holdLen  int
	holdLeft int
}

// newProcessor returns nil when c asks for an untouched signal.
func newProcessor(c Constraints) *processor {
	if !c.AutoGainControl && !c.NoiseSuppression {
		return nil
	}
	ch := max(c.ChannelCount, 1)
	return &processor{
		agc:     c.AutoGainControl,
		gain:    1,
		gate:    c.NoiseSuppression,
		holdLen: int(float64(c.SampleRate*ch) * gateHoldSec),
	}
}

// Process rewrites samples in place.
func (p *processor) Process(samples []int16) {
	if len(samples) == 0 {
		return
	}
	level := RMS(samples)

	if p.gate {
		if level >= gateOpenRMS {
			p.holdLeft = p.holdLen
		} else if p.holdLeft > 0 {
			p.holdLeft -= len(samples)
		} else {
			clear(samples)
			return
		}
	}

	if p.agc {
		if level > agcSilence {
			want := min(max(agcTarget/level, agcMinGain), agcMaxGain)
			p.gain += (want - p.gain) * agcSmooth
		}
		applyGain(samples, p.gain)
	}
}

// RMS returns the root mean square of samples scaled to [0,1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func applyGain(samples []int16, gain float64) {
	if gain == 1 {
		return
	}
	for i, s := range samples {
		v := float64(s) * gain
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		samples[i] = int16(v)
	}
}

// Level returns the RMS of little-endian int16 PCM in [0,1].
func Level(data []byte) float64 {
	if len(data) < 2 {
		return 0
	}
	return RMS(BytesToSamples(data))
}
