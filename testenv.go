package main

import (
	"time"

	"meetrec/audio"
)

// testModeTail lets the last fed block reach the encoder before stopping.
const testModeTail = 300 * time.Millisecond

// testModeLimit bounds a -test recording to the WAV's length, so the run
// needs no stdin.
func testModeLimit(fake *audio.FakeContext) time.Duration {
	return fake.Duration() + testModeTail
}
