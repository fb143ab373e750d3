package health

import (
	"context"
	"errors"

	"github.com/perivale/sonara/internal/history"
	"github.com/perivale/sonara/pkg/provider/stt"
)

// Recognizer builds a [Checker] that reports ready when the speech
// recognizer can accept work.
func Recognizer(p stt.Provider) Checker {
	return Checker{
		Name: "recognizer",
		Check: func(ctx context.Context) error {
			return p.Ready(ctx)
		},
	}
}

// History builds a [Checker] that reports ready when the interaction
// history store is reachable.
func History(store history.Store) Checker {
	return Checker{
		Name: "history",
		Check: func(ctx context.Context) error {
			return store.Ping(ctx)
		},
	}
}

// Device builds a [Checker] that reports ready when a companion audio
// device is connected. Connected is typically the bridge's Connected
// method.
func Device(connected func() bool) Checker {
	return Checker{
		Name: "device",
		Check: func(_ context.Context) error {
			if !connected() {
				return errors.New("no audio device connected")
			}
			return nil
		},
	}
}
