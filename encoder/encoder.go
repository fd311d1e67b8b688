package encoder

import "time"

const (
	BitsPerSample = 16
	BlockSize     = 4096 // frames per encoded block
)

// Params describe the PCM fed to an encoder. Bitrate is a target for lossy
// formats; lossless ones record it and otherwise ignore it.
type Params struct {
	SampleRate int
	Channels   int
	Bitrate    int
}

// Encoder turns interleaved int16 PCM into a container stream. Output is
// collected with Drain as it is produced, so a recording can be chunked
// without waiting for Close.
type Encoder interface {
	EncodeBlock(block []int16) error
	// Close flushes everything still buffered. Drain afterwards returns the tail.
	Close() error
	// Drain returns the bytes produced since the previous call. The caller owns them.
	Drain() []byte
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
}
