// Package normalize turns chat records of either archive encoding into
// canonical messages and hands them to a Sink in archive order.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/emersion/go-message/charset"

	"github.com/dhcgn/mbox-to-transcripts/mbox"
	"github.com/dhcgn/mbox-to-transcripts/model"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

var (
	ErrMalformed = errors.New("malformed chat payload")
	ErrGroupChat = errors.New("group chat not supported")
	ErrEmpty     = errors.New("empty chat record")
)

// Sink receives normalized messages.
type Sink interface {
	Append(msg model.Message) error
}

// Counts summarises one normalization pass.
type Counts struct {
	Records    int
	Parsed     int
	Messages   int
	Malformed  int
	GroupChats int
	Empty      int
	Duplicates int
}

// LogAttrs renders the counts as slog key/value pairs.
func (c Counts) LogAttrs() []any {
	return []any{
		"records", c.Records,
		"parsed", c.Parsed,
		"messages", c.Messages,
		"malformed", c.Malformed,
		"groupChats", c.GroupChats,
		"empty", c.Empty,
		"duplicates", c.Duplicates,
	}
}

// Add accumulates other into c.
func (c *Counts) Add(other Counts) {
	c.Records += other.Records
	c.Parsed += other.Parsed
	c.Messages += other.Messages
	c.Malformed += other.Malformed
	c.GroupChats += other.GroupChats
	c.Empty += other.Empty
	c.Duplicates += other.Duplicates
}

// recordFunc normalizes one record into zero or more messages.
type recordFunc func(record model.Record, counts *Counts) ([]model.Message, error)

type base struct {
	stage     stats.Stage
	sink      Sink
	addresses *model.AddressTable
	events    stats.Emitter
	logger    *slog.Logger
}

func newBase(stage stats.Stage, sink Sink, addresses *model.AddressTable, events stats.Emitter, logger *slog.Logger) base {
	if addresses == nil {
		addresses = model.NewAddressTable()
	}
	if events == nil {
		events = stats.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return base{stage: stage, sink: sink, addresses: addresses, events: events, logger: logger}
}

// run streams every record of path through fn and appends the result to the sink.
// Record-level failures are counted and logged; only I/O errors abort.
func (b *base) run(ctx context.Context, path string, fn recordFunc) (Counts, error) {
	var counts Counts

	err := mbox.Read(path, func(env model.Envelope) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		counts.Records++
		threadID := env.Record.ThreadID()

		if env.Err != nil {
			counts.Malformed++
			b.logger.Warn("skipping unreadable chat record", "index", env.Record.Index, "err", env.Err)
			b.emit(stats.EventTypeMalformed, threadID, env.Err)
			return nil
		}

		msgs, err := fn(env.Record, &counts)
		switch {
		case errors.Is(err, ErrGroupChat):
			counts.GroupChats++
			b.logger.Debug("skipping group chat", "thread", threadID)
			b.emit(stats.EventTypeGroupChat, threadID, nil)
			return nil
		case errors.Is(err, ErrEmpty):
			counts.Empty++
			b.logger.Debug("skipping empty chat record", "thread", threadID)
			b.emit(stats.EventTypeEmpty, threadID, nil)
			return nil
		case errors.Is(err, ErrMalformed):
			counts.Malformed++
			b.logger.Warn("skipping malformed chat record", "thread", threadID, "index", env.Record.Index, "err", err)
			b.emit(stats.EventTypeMalformed, threadID, err)
			return nil
		case err != nil:
			return err
		}

		counts.Parsed++
		b.emit(stats.EventTypeParsed, threadID, nil)
		for _, msg := range msgs {
			if err := b.sink.Append(msg); err != nil {
				return fmt.Errorf("thread %s: %w", msg.ThreadID, err)
			}
			counts.Messages++
			b.emit(stats.EventTypeMessage, msg.ThreadID, nil)
		}
		return nil
	})
	if err != nil {
		return counts, fmt.Errorf("%s: %w", b.stage, err)
	}
	return counts, nil
}

func (b *base) emit(typ stats.EventType, threadID string, err error) {
	b.events.EmitEvent(stats.Event{Stage: b.stage, Type: typ, ThreadID: threadID, Err: err})
}
