package mixer

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"meetrec/audio"
	"meetrec/encoder"
	"meetrec/log"
)

type State int

const (
	Idle State = iota
	Starting
	Recording
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// live reports whether a session in this state still owns, or may still
// acquire, hardware.
func (s State) live() bool {
	return s == Starting || s == Recording || s == Stopping
}

// mixInterval is how often source feeds are summed into the output stream.
const mixInterval = 20 * time.Millisecond

// session is one recording attempt. Its fields other than state and tracks are
// written only by the goroutine that owns them: the mix goroutine owns
// pending, the encode goroutine owns enc and chunks until encodeDone closes.
type session struct {
	id       string
	state    State
	profile  Profile
	channels int
	format   encoder.Format
	enc      encoder.Encoder
	tracks   []audio.Track
	bus      *bus
	started  time.Time

	blockChan  chan []int16
	stopMix    chan struct{}
	encodeDone chan struct{}

	chunks [][]byte
	encErr error

	level   atomic.Uint64
	nchunks atomic.Int64
}

func (s *session) has(kind audio.SourceKind) bool {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

// release closes every held track. Callbacks are cleared first so no more
// audio reaches the bus.
func (s *session) release() {
	for _, t := range s.tracks {
		t.ClearCallback()
		t.Close()
	}
	s.tracks = nil
}

// run wires tracks into the bus and starts the mix and encode goroutines.
func (s *session) run(timeslice time.Duration, onChunk ChunkFunc) {
	s.bus = newBus(s.profile.SampleRate, s.channels, len(s.tracks))
	s.blockChan = make(chan []int16, 64)
	s.stopMix = make(chan struct{})
	s.encodeDone = make(chan struct{})
	s.started = time.Now()

	go s.mixLoop()
	go s.encodeLoop(timeslice, onChunk)

	for i, t := range s.tracks {
		t.SetCallback(func(data []byte, _ uint32) {
			s.bus.write(i, data)
		})
	}
}

func (s *session) mixLoop() {
	ticker := time.NewTicker(mixInterval)
	defer ticker.Stop()

	blockLen := encoder.BlockSize * s.channels
	var pending []int16
	mix := func(final bool) {
		mixed := s.bus.take(final)
		if len(mixed) == 0 {
			return
		}
		s.level.Store(math.Float64bits(audio.RMS(mixed)))
		pending = append(pending, mixed...)
		for len(pending) >= blockLen {
			block := make([]int16, blockLen)
			copy(block, pending[:blockLen])
			pending = pending[blockLen:]
			s.blockChan <- block
		}
	}

	for {
		select {
		case <-s.stopMix:
			mix(true)
			if len(pending) > 0 {
				partial := make([]int16, len(pending))
				copy(partial, pending)
				s.blockChan <- partial
			}
			close(s.blockChan)
			return
		case <-ticker.C:
			mix(false)
		}
	}
}

func (s *session) encodeLoop(timeslice time.Duration, onChunk ChunkFunc) {
	defer close(s.encodeDone)
	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	for {
		select {
		case block, ok := <-s.blockChan:
			if !ok {
				if err := s.enc.Close(); err != nil && s.encErr == nil {
					s.encErr = fmt.Errorf("closing encoder: %w", err)
				}
				s.cut(onChunk)
				return
			}
			if s.encErr != nil {
				continue
			}
			start := time.Now()
			if err := s.enc.EncodeBlock(block); err != nil {
				s.encErr = fmt.Errorf("encoding block: %w", err)
				continue
			}
			s.enc.AddEncodeTime(time.Since(start))
		case <-ticker.C:
			s.cut(onChunk)
		}
	}
}

// cut moves whatever the encoder produced since the last cut into a new chunk.
func (s *session) cut(onChunk ChunkFunc) {
	data := s.enc.Drain()
	if len(data) == 0 {
		return
	}
	index := len(s.chunks)
	s.chunks = append(s.chunks, data)
	s.nchunks.Store(int64(len(s.chunks)))
	log.Chunk(s.id, index, len(data))
	if onChunk != nil {
		onChunk(s.id, index, data)
	}
}

// assemble concatenates the chunks. Only valid after encodeDone.
func (s *session) assemble() *Blob {
	total := 0
	for _, c := range s.chunks {
		total += len(c)
	}
	data := make([]byte, 0, total)
	for _, c := range s.chunks {
		data = append(data, c...)
	}
	if s.format.MIMEType == encoder.MIMEWav {
		encoder.FixWAVHeader(data)
	}
	return &Blob{
		SessionID:  s.id,
		MIMEType:   s.format.MIMEType,
		Extension:  s.format.Extension,
		Data:       data,
		SampleRate: s.profile.SampleRate,
		Channels:   s.channels,
		Bitrate:    s.profile.Bitrate,
		Frames:     s.enc.TotalFrames(),
		Chunks:     len(s.chunks),
		EncodeTime: s.enc.EncodeTime(),
	}
}
