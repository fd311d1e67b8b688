package audio

import "testing"

func TestIsBluetooth(t *testing.T) {
	for _, tt := range []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"WH-1000XM4", true},
		{"Headset (BT)", true},
		{"Built-in Microphone", false},
		{"Blue Yeti", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBluetooth(tt.name); got != tt.want {
				t.Errorf("IsBluetooth(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestSampleBytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	out := BytesToSamples(SamplesToBytes(in))
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d = %d, want %d", i, out[i], in[i])
		}
	}
	if got := SamplesToBytes([]int16{0x0102}); got[0] != 0x02 || got[1] != 0x01 {
		t.Errorf("not little-endian: % x", got)
	}
}
