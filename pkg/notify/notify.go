// Package notify delivers messages about recovered build errors to the developer.
package notify

import (
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Notifier receives a short message for every recovered file error
type Notifier interface {
	Notify(title, message string) error
}

// Desktop shows a desktop notification and falls back to the log if that fails
type Desktop struct {
	Log  *zerolog.Logger
	Icon string
}

func (d *Desktop) Notify(title, message string) error {
	err := beeep.Notify(title, message, d.Icon)
	if err != nil {
		if d.Log != nil {
			d.Log.Debug().Err(err).Msg("Desktop notification failed")
			return Log{d.Log}.Notify(title, message)
		}
		return eris.Wrap(err, "failed to show desktop notification")
	}
	return nil
}

// Log writes notifications to a logger
type Log struct {
	Logger *zerolog.Logger
}

func (l Log) Notify(title, message string) error {
	l.Logger.Error().Str("title", title).Msg(message)
	return nil
}

// Message is a notification captured by a Recorder
type Message struct {
	Title   string
	Message string
}

// Recorder keeps every notification in memory
type Recorder struct {
	lock     sync.Mutex
	messages []Message
}

func (r *Recorder) Notify(title, message string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.messages = append(r.messages, Message{Title: title, Message: message})
	return nil
}

// Messages returns a copy of all recorded notifications
func (r *Recorder) Messages() []Message {
	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]Message(nil), r.messages...)
}

// New returns the desktop notifier if enabled and the log notifier otherwise
func New(desktop bool, logger *zerolog.Logger) Notifier {
	if desktop {
		return &Desktop{Log: logger}
	}
	return Log{logger}
}
