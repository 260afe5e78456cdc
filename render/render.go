// Package render formats sealed conversation logs as column-aligned plain
// text blocks, appended to one fragment file per correspondent.
package render

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dhcgn/mbox-to-transcripts/model"
	"github.com/dhcgn/mbox-to-transcripts/namemap"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

const (
	LineWidth   = 79
	timeWidth   = 5
	timePadding = 2
	namePadding = 1

	// UnsortedExt marks fragments that still need resequencing.
	UnsortedExt = ".conv.unsorted"
)

// Separator opens every conversation block.
var Separator = strings.Repeat("-", 40)

type Options struct {
	NoWrap   bool
	Location *time.Location
}

// Counts summarises a render pass.
type Counts struct {
	Conversations int
	Skipped       int
	Fragments     int
}

type Renderer struct {
	opts   Options
	names  *namemap.NameMap
	events stats.Emitter
	logger *slog.Logger
}

func New(opts Options, names *namemap.NameMap, events stats.Emitter, logger *slog.Logger) *Renderer {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if events == nil {
		events = stats.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{opts: opts, names: names, events: events, logger: logger}
}

// layout holds the column geometry of one conversation block.
type layout struct {
	nameWidth  int
	wrapWidth  int
	indent     string
	timeBlank  string
	nameBlanks string
}

func newLayout(me, other string) layout {
	longest := max(utf8.RuneCountInString(me), utf8.RuneCountInString(other))
	nameWidth := longest + 1 + namePadding
	wrapWidth := max(LineWidth-(timeWidth+timePadding)-nameWidth, 1)
	return layout{
		nameWidth:  nameWidth,
		wrapWidth:  wrapWidth,
		indent:     strings.Repeat(" ", LineWidth-wrapWidth),
		timeBlank:  strings.Repeat(" ", timeWidth+timePadding),
		nameBlanks: strings.Repeat(" ", nameWidth),
	}
}

// Block renders one conversation and returns the display name of the other
// participant together with the text block.
func (r *Renderer) Block(conv model.Conversation) (string, []byte, error) {
	if len(conv.Messages) == 0 {
		return "", nil, fmt.Errorf("thread %s: conversation has no messages", conv.ThreadID)
	}
	me, other := r.names.Resolve(conv.Messages[0])
	lay := newLayout(me, other)

	var buf bytes.Buffer
	buf.WriteString(Separator)

	prevDate, prevClock, prevWho := "", "", ""
	for _, m := range conv.Messages {
		t := m.Time(r.opts.Location)

		date := t.Format("2006-01-02")
		if date != prevDate {
			fmt.Fprintf(&buf, "\n%s\n\n", date)
			prevDate = date
		}

		// compared without the date, so the same clock on a new day stays blank
		clock := t.Format("15:04")
		if clock != prevClock {
			buf.WriteString(clock)
			buf.WriteString(strings.Repeat(" ", timePadding))
			prevClock = clock
		} else {
			buf.WriteString(lay.timeBlank)
		}

		who := r.names.Display(m.From)
		if who != prevWho {
			buf.WriteString(who)
			buf.WriteByte(':')
			buf.WriteString(strings.Repeat(" ", max(lay.nameWidth-utf8.RuneCountInString(who)-1, 0)))
			prevWho = who
		} else {
			buf.WriteString(lay.nameBlanks)
		}

		lines := r.bodyLines(m.Body, lay.wrapWidth)
		if len(lines) == 0 {
			lines = []string{""}
		}
		buf.WriteString(lines[0])
		buf.WriteByte('\n')
		for _, line := range lines[1:] {
			buf.WriteString(lay.indent)
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	return other, buf.Bytes(), nil
}

func (r *Renderer) bodyLines(body string, width int) []string {
	if r.opts.NoWrap {
		return SplitLines(body)
	}
	return Wrap(body, width)
}

// FragmentPath returns the unsorted fragment of a correspondent.
func FragmentPath(dir, other string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", string(filepath.Separator), "_").Replace(other)
	if strings.TrimSpace(name) == "" {
		name = "unknown"
	}
	return filepath.Join(dir, name+UnsortedExt)
}

// RenderAll replaces the contents of textDir with one unsorted fragment per
// correspondent, appending blocks in the order of convs.
func (r *Renderer) RenderAll(convs []model.Conversation, textDir string) (Counts, error) {
	var counts Counts

	if err := os.RemoveAll(textDir); err != nil {
		return counts, fmt.Errorf("clear text dir: %w", err)
	}
	if err := os.MkdirAll(textDir, 0o755); err != nil {
		return counts, fmt.Errorf("create text dir: %w", err)
	}

	r.logger.Info("formatting conversations as text", "conversations", len(convs), "wrap", !r.opts.NoWrap)
	fragments := make(map[string]struct{})
	for _, conv := range convs {
		other, block, err := r.Block(conv)
		if err != nil {
			counts.Skipped++
			r.logger.Warn("skipping conversation", "thread", conv.ThreadID, "err", err)
			continue
		}

		path := FragmentPath(textDir, other)
		if err := appendFile(path, block); err != nil {
			return counts, err
		}
		fragments[path] = struct{}{}
		counts.Conversations++
		r.events.EmitEvent(stats.Event{Stage: stats.StageRender, Type: stats.EventTypeRendered, ThreadID: conv.ThreadID, Detail: other})
	}
	counts.Fragments = len(fragments)

	r.logger.Info("conversations formatted", "conversations", counts.Conversations, "skipped", counts.Skipped, "people", counts.Fragments)
	return counts, nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open fragment: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append fragment: %w", err)
	}
	return f.Close()
}
