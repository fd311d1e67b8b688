package encoder

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

type FlacEncoder struct {
	params      Params
	buf         bytes.Buffer
	enc         *flac.Encoder
	totalFrames uint64
	encodeTime  time.Duration
	mu          sync.Mutex
}

// NewFlac writes a FLAC stream without seeking back, so the stream info
// carries no sample count. Decoders treat that as unknown length.
func NewFlac(p Params) (Encoder, error) {
	if p.Channels != 1 && p.Channels != 2 {
		return nil, fmt.Errorf("flac: unsupported channel count %d", p.Channels)
	}
	if p.SampleRate <= 0 {
		return nil, fmt.Errorf("flac: invalid sample rate %d", p.SampleRate)
	}
	e := &FlacEncoder{params: p}
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    uint32(p.SampleRate),
		NChannels:     uint8(p.Channels),
		BitsPerSample: BitsPerSample,
	}
	enc, err := flac.NewEncoder(&e.buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

func (e *FlacEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := e.params.Channels
	n := len(block) / ch
	if n == 0 {
		return nil
	}

	subframes := make([]*frame.Subframe, ch)
	for c := range ch {
		samples := make([]int32, n)
		for i := range n {
			samples[i] = int32(block[i*ch+c])
		}
		subframes[c] = &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  n,
		}
	}

	layout := frame.ChannelsMono
	if ch == 2 {
		layout = frame.ChannelsLR
	}
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(n),
			SampleRate:    uint32(e.params.SampleRate),
			Channels:      layout,
			BitsPerSample: BitsPerSample,
		},
		Subframes: subframes,
	}

	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.totalFrames += uint64(n)
	return nil
}

func (e *FlacEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Close()
}

func (e *FlacEncoder) Drain() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return drain(&e.buf)
}

func (e *FlacEncoder) TotalFrames() uint64 {
	return e.totalFrames
}

func (e *FlacEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *FlacEncoder) EncodeTime() time.Duration {
	return e.encodeTime
}

func drain(buf *bytes.Buffer) []byte {
	if buf.Len() == 0 {
		return nil
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	buf.Reset()
	return out
}
