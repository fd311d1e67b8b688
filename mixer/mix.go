package mixer

import (
	"math"
	"sync"
	"time"

	"meetrec/audio"
)

// maxLag bounds how far one source may run ahead of another before the
// laggard is padded with silence.
const maxLag = 200 * time.Millisecond

// bus collects PCM from every source and sums it into one stream. Writers are
// backend callbacks; the only reader is the mix goroutine.
type bus struct {
	mu           sync.Mutex
	channels     int
	maxLagFrames int
	feeds        [][]int16
	owed         []int // silence frames mixed in for a feed that fell behind
}

func newBus(sampleRate, channels, sources int) *bus {
	return &bus{
		channels:     channels,
		maxLagFrames: int(int64(sampleRate) * int64(maxLag) / int64(time.Second)),
		feeds:        make([][]int16, sources),
		owed:         make([]int, sources),
	}
}

func (b *bus) write(source int, data []byte) {
	samples := audio.BytesToSamples(data)
	b.mu.Lock()
	b.feeds[source] = append(b.feeds[source], samples...)
	b.mu.Unlock()
}

// take mixes as many frames as every source has delivered. When one source
// falls more than maxLag behind, its pending audio is mixed and the rest of the
// block is filled with silence for it. The silence is remembered: once that
// source catches up with a surplus over the others, the surplus is dropped up
// to the owed amount so it lines up again. With final set, everything pending
// is mixed.
func (b *bus) take(final bool) []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.realign()

	lo, hi := math.MaxInt, 0
	for _, f := range b.feeds {
		n := len(f) / b.channels
		lo = min(lo, n)
		hi = max(hi, n)
	}
	n := lo
	switch {
	case final:
		n = hi
	case hi-lo > b.maxLagFrames:
		n = hi - b.maxLagFrames
	}
	if n == 0 {
		return nil
	}

	want := n * b.channels
	out := make([]int16, want)
	acc := make([]int32, want)
	for i, f := range b.feeds {
		k := min(len(f), want)
		for j, s := range f[:k] {
			acc[j] += int32(s)
		}
		b.feeds[i] = f[k:]
		if !final && k < want {
			b.owed[i] += (want - k) / b.channels
		}
	}
	for j, v := range acc {
		out[j] = clip(v)
	}
	return out
}

// realign drops frames a late feed delivered for a gap that was already
// filled with silence.
func (b *bus) realign() {
	if len(b.feeds) < 2 {
		return
	}
	for i, owed := range b.owed {
		if owed == 0 {
			continue
		}
		others := math.MaxInt
		for j, f := range b.feeds {
			if j != i {
				others = min(others, len(f)/b.channels)
			}
		}
		surplus := len(b.feeds[i])/b.channels - others
		if surplus <= 0 {
			continue
		}
		drop := min(surplus, owed)
		b.feeds[i] = b.feeds[i][drop*b.channels:]
		b.owed[i] -= drop
	}
}

func clip(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
