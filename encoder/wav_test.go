package encoder

import (
	"encoding/binary"
	"testing"
)

func TestWavEncoder(t *testing.T) {
	enc, err := NewWav(Params{SampleRate: 44100, Channels: 2})
	if err != nil {
		t.Fatalf("NewWav: %v", err)
	}
	if err := enc.EncodeBlock([]int16{1, -1, 2, -2}); err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := enc.EncodeBlock([]int16{3, -3}); err == nil {
		t.Error("EncodeBlock after Close should fail")
	}

	data := enc.Drain()
	if len(data) != 44+8 {
		t.Fatalf("len = %d, want %d", len(data), 44+8)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != unknownSize {
		t.Errorf("data size = %#x, want streaming marker", got)
	}
	if got := binary.LittleEndian.Uint16(data[22:24]); got != 2 {
		t.Errorf("channels = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 44100 {
		t.Errorf("sample rate = %d, want 44100", got)
	}
	if got := int16(binary.LittleEndian.Uint16(data[46:48])); got != -1 {
		t.Errorf("second sample = %d, want -1", got)
	}
	if enc.TotalFrames() != 2 {
		t.Errorf("TotalFrames = %d, want 2", enc.TotalFrames())
	}
}

func TestFixWAVHeader(t *testing.T) {
	enc, _ := NewWav(Params{SampleRate: 16000, Channels: 1})
	enc.EncodeBlock(make([]int16, 100))
	enc.Close()
	data := enc.Drain()

	FixWAVHeader(data)
	if got := binary.LittleEndian.Uint32(data[40:44]); got != 200 {
		t.Errorf("data size = %d, want 200", got)
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != 236 {
		t.Errorf("riff size = %d, want 236", got)
	}
}

func TestWavSizes(t *testing.T) {
	for _, tt := range []struct {
		name       string
		n          int64
		riff, data uint32
	}{
		{"empty", 0, 36, 0},
		{"one second", 176400, 176436, 176400},
		{"largest", unknownSize - 36, unknownSize, unknownSize - 36},
		{"past 4 GiB", 1 << 32, unknownSize, unknownSize},
		{"just over", unknownSize - 35, unknownSize, unknownSize},
	} {
		t.Run(tt.name, func(t *testing.T) {
			riff, data := wavSizes(tt.n)
			if riff != tt.riff || data != tt.data {
				t.Errorf("wavSizes(%d) = %d, %d, want %d, %d", tt.n, riff, data, tt.riff, tt.data)
			}
		})
	}
}
