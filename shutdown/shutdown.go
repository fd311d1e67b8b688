// Package shutdown ties process termination signals to a context so a
// recording in progress is stopped and its devices released.
package shutdown

import (
	"context"
	"os"
	"os/signal"
)

func Notify(ch chan os.Signal) {
	signal.Notify(ch, signals...)
}

// Context returns a copy of parent that is cancelled on the first
// termination signal. stop restores default signal handling.
func Context(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}
