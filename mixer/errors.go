package mixer

import (
	"errors"
	"fmt"

	"meetrec/audio"
)

var (
	// ErrConfiguration means the request itself was invalid. Nothing was acquired.
	ErrConfiguration = errors.New("invalid recording configuration")
	// ErrSourceUnavailable means a requested source could not be acquired.
	ErrSourceUnavailable = errors.New("audio source unavailable")
	// ErrEncodingUnsupported means none of the candidate output encodings exist.
	ErrEncodingUnsupported = errors.New("no supported output encoding")
	// ErrFinalization means the encoder did not produce a complete recording.
	ErrFinalization = errors.New("finalizing recording")
	// ErrAlreadyRecording is returned by Start while a session is live.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("mixer closed")
)

// SourceError carries the cause of one failed acquisition. It matches
// ErrSourceUnavailable under errors.Is.
type SourceError struct {
	Kind audio.SourceKind
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool {
	return target == ErrSourceUnavailable
}
