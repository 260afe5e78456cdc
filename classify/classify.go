// Package classify partitions raw archive records into chat and non-chat, and
// chat records into the pre-migration (multipart XML) and post-migration
// (flat HTML) encodings.
package classify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dhcgn/mbox-to-transcripts/filter"
	"github.com/dhcgn/mbox-to-transcripts/mbox"
	"github.com/dhcgn/mbox-to-transcripts/model"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

const DefaultChatLabel = "Chat"

// Kind is the bucket a record is classified into.
type Kind int

const (
	KindNonChat Kind = iota
	KindOldFormat
	KindNewFormat
)

func (k Kind) String() string {
	switch k {
	case KindOldFormat:
		return "old-format"
	case KindNewFormat:
		return "new-format"
	default:
		return "non-chat"
	}
}

// Classify decides the single bucket of record.
func Classify(record model.Record, chatLabel string) Kind {
	if !record.HasLabel(chatLabel) {
		return KindNonChat
	}
	if record.Multipart {
		return KindOldFormat
	}
	return KindNewFormat
}

type Options struct {
	ChatLabel string
	Filter    *filter.Filter
}

// ExtractCounts summarises the chat extraction pass.
type ExtractCounts struct {
	Scanned  int
	Filtered int
	Rejected int
	Chats    int
}

// SplitCounts summarises the format split pass.
type SplitCounts struct {
	Chats     int
	OldFormat int
	NewFormat int
	Rejected  int
}

type Classifier struct {
	opts   Options
	events stats.Emitter
	logger *slog.Logger
}

func New(opts Options, events stats.Emitter, logger *slog.Logger) *Classifier {
	if opts.ChatLabel == "" {
		opts.ChatLabel = DefaultChatLabel
	}
	if events == nil {
		events = stats.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{opts: opts, events: events, logger: logger}
}

// ExtractChats copies every chat-labelled record of the archive into chatsPath.
func (c *Classifier) ExtractChats(ctx context.Context, archivePath, chatsPath string) (ExtractCounts, error) {
	var counts ExtractCounts

	out, err := mbox.Create(chatsPath)
	if err != nil {
		return counts, err
	}

	c.logger.Info("parsing mbox", "path", archivePath)
	readErr := mbox.Read(archivePath, func(env model.Envelope) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		counts.Scanned++
		c.emit(stats.EventTypeScanned, env.Record, nil)

		if env.Err != nil {
			counts.Rejected++
			c.logger.Warn("skipping unreadable record", "index", env.Record.Index, "err", env.Err)
			c.emit(stats.EventTypeRejected, env.Record, env.Err)
			return nil
		}

		if c.opts.Filter != nil && !c.opts.Filter.Allows(env.Record.Raw) {
			counts.Filtered++
			c.emit(stats.EventTypeFiltered, env.Record, nil)
			return nil
		}

		if Classify(env.Record, c.opts.ChatLabel) == KindNonChat {
			return nil
		}

		if err := out.Write(env.Record); err != nil {
			return fmt.Errorf("record %d: %w", env.Record.Index, err)
		}
		counts.Chats++
		c.emit(stats.EventTypeChat, env.Record, nil)
		return nil
	})

	if err := out.Close(); err != nil && readErr == nil {
		readErr = err
	}
	if readErr != nil {
		return counts, fmt.Errorf("extract chats: %w", readErr)
	}

	c.logger.Info("chat extraction complete",
		"total", counts.Scanned,
		"chats", counts.Chats,
		"filtered", counts.Filtered,
		"rejected", counts.Rejected,
		"stored", chatsPath,
	)
	return counts, nil
}

// SplitFormats separates the chat mbox into old-format and new-format mboxes.
func (c *Classifier) SplitFormats(ctx context.Context, chatsPath, oldPath, newPath string) (SplitCounts, error) {
	var counts SplitCounts

	oldOut, err := mbox.Create(oldPath)
	if err != nil {
		return counts, err
	}
	newOut, err := mbox.Create(newPath)
	if err != nil {
		_ = oldOut.Close()
		return counts, err
	}

	c.logger.Info("separating old-format from new-format chats", "path", chatsPath)
	readErr := mbox.Read(chatsPath, func(env model.Envelope) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if env.Err != nil {
			counts.Rejected++
			c.logger.Warn("skipping unreadable chat record", "index", env.Record.Index, "err", env.Err)
			c.emit(stats.EventTypeRejected, env.Record, env.Err)
			return nil
		}

		counts.Chats++
		switch Classify(env.Record, c.opts.ChatLabel) {
		case KindOldFormat:
			if err := oldOut.Write(env.Record); err != nil {
				return fmt.Errorf("record %d: %w", env.Record.Index, err)
			}
			counts.OldFormat++
			c.emit(stats.EventTypeOldFormat, env.Record, nil)
		case KindNewFormat:
			if err := newOut.Write(env.Record); err != nil {
				return fmt.Errorf("record %d: %w", env.Record.Index, err)
			}
			counts.NewFormat++
			c.emit(stats.EventTypeNewFormat, env.Record, nil)
		default:
			// Only chat-labelled records reach this file.
			counts.Chats--
		}
		return nil
	})

	if err := oldOut.Close(); err != nil && readErr == nil {
		readErr = err
	}
	if err := newOut.Close(); err != nil && readErr == nil {
		readErr = err
	}
	if readErr != nil {
		return counts, fmt.Errorf("split formats: %w", readErr)
	}

	c.logger.Info("format split complete",
		"chats", counts.Chats,
		"oldFormat", counts.OldFormat,
		"newFormat", counts.NewFormat,
	)
	return counts, nil
}

func (c *Classifier) emit(typ stats.EventType, record model.Record, err error) {
	stage := stats.StageClassify
	if typ == stats.EventTypeOldFormat || typ == stats.EventTypeNewFormat {
		stage = stats.StageSplit
	}
	c.events.EmitEvent(stats.Event{Stage: stage, Type: typ, ThreadID: record.ThreadID(), Err: err})
}
