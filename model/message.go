package model

import "time"

// Message is a single chat line normalized from either archive encoding.
type Message struct {
	ThreadID    string
	From        string
	To          string
	Body        string
	TimestampMs int64
}

// Time converts the millisecond timestamp into an instant in loc.
func (m Message) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(m.TimestampMs).In(loc)
}

// Conversation is a sealed per-thread log read back from disk.
type Conversation struct {
	ThreadID string
	Path     string
	Messages []Message
}

// Envelope wraps a raw archive record alongside an optional error encountered while decoding.
type Envelope struct {
	Record Record
	Err    error
}
