package beep

import "testing"

func TestGenerateTick(t *testing.T) {
	s := generateTick(1000, 100, 0.1, 0.5, 10, 2)
	if len(s) != 200 {
		t.Fatalf("len = %d, want 200", len(s))
	}
	for i := 0; i < len(s); i += 2 {
		if s[i] != s[i+1] {
			t.Fatalf("frame %d channels differ: %d vs %d", i/2, s[i], s[i+1])
		}
	}
	var peak int16
	for _, v := range s {
		peak = max(peak, v)
	}
	if peak == 0 || peak > 32767/2 {
		t.Errorf("peak = %d, want within half scale", peak)
	}
}

func TestGenerateDoubleBeep(t *testing.T) {
	s := generateDoubleBeep(1000, 100, 0.05, 0.02, 0.5, 10, 1)
	if len(s) != 50+20+50 {
		t.Fatalf("len = %d, want 120", len(s))
	}
	for _, v := range s[50:70] {
		if v != 0 {
			t.Fatal("gap is not silent")
		}
	}
}

func TestDisabledIsSilent(t *testing.T) {
	Disable()
	PlayStart()
	PlayError()
}
