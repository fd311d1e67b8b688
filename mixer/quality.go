package mixer

import (
	"fmt"
	"strings"
)

type Quality string

const (
	Low    Quality = "low"
	Medium Quality = "medium"
	High   Quality = "high"
)

// Profile is the concrete capture rate and encoder target for a Quality.
type Profile struct {
	SampleRate int
	Bitrate    int
}

var profiles = map[Quality]Profile{
	Low:    {SampleRate: 16000, Bitrate: 64000},
	Medium: {SampleRate: 44100, Bitrate: 128000},
	High:   {SampleRate: 48000, Bitrate: 192000},
}

// Profile resolves q. The empty Quality means Medium.
func (q Quality) Profile() (Profile, error) {
	if q == "" {
		q = Medium
	}
	p, ok := profiles[q]
	if !ok {
		return Profile{}, fmt.Errorf("%w: unknown quality %q", ErrConfiguration, string(q))
	}
	return p, nil
}

func ParseQuality(s string) (Quality, error) {
	q := Quality(strings.ToLower(strings.TrimSpace(s)))
	if _, err := q.Profile(); err != nil {
		return "", err
	}
	if q == "" {
		q = Medium
	}
	return q, nil
}
