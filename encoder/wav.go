package encoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
)

// unknownSize fills the RIFF and data chunk sizes of a stream whose length is
// not known up front. Most readers then read to end of file.
const unknownSize = 0xFFFFFFFF

var errClosed = errors.New("encoder closed")

type WavEncoder struct {
	params      Params
	buf         bytes.Buffer
	closed      bool
	totalFrames uint64
	encodeTime  time.Duration
	mu          sync.Mutex
}

func NewWav(p Params) (Encoder, error) {
	if p.Channels < 1 || p.SampleRate <= 0 {
		return nil, fmt.Errorf("wav: invalid params %d Hz x %d", p.SampleRate, p.Channels)
	}
	e := &WavEncoder{params: p}
	e.buf.Write(wavHeader(p.SampleRate, p.Channels, unknownSize))
	return e, nil
}

// wavHeader builds a 44-byte PCM header. dataSize of unknownSize marks a
// streamed file.
func wavHeader(sampleRate, channels int, dataSize uint32) []byte {
	h := make([]byte, 44)
	blockAlign := channels * BitsPerSample / 8
	riffSize := uint32(unknownSize)
	if dataSize != unknownSize {
		riffSize = 36 + dataSize
	}
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], riffSize)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], BitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}

func (e *WavEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed
	}
	var tmp [2]byte
	for _, s := range block {
		binary.LittleEndian.PutUint16(tmp[:], uint16(s))
		e.buf.Write(tmp[:])
	}
	e.totalFrames += uint64(len(block) / e.params.Channels)
	return nil
}

func (e *WavEncoder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *WavEncoder) Drain() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return drain(&e.buf)
}

func (e *WavEncoder) TotalFrames() uint64 {
	return e.totalFrames
}

func (e *WavEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *WavEncoder) EncodeTime() time.Duration {
	return e.encodeTime
}

// FixWAVHeader rewrites the size fields of a complete WAV file in memory once
// its length is known.
func FixWAVHeader(data []byte) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[36:40]) != "data" {
		return
	}
	riff, size := wavSizes(int64(len(data) - 44))
	binary.LittleEndian.PutUint32(data[4:8], riff)
	binary.LittleEndian.PutUint32(data[40:44], size)
}

// wavSizes returns the RIFF and data chunk sizes for n bytes of PCM. Past
// what 32 bits can hold both stay unknownSize.
func wavSizes(n int64) (riff, data uint32) {
	if n < 0 || n > unknownSize-36 {
		return unknownSize, unknownSize
	}
	return uint32(36 + n), uint32(n)
}
