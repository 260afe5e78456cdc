// Package conversation owns the per-thread conversation logs: appending
// normalized messages, sealing each log into a well-formed document, reading
// sealed logs back and checking them for out-of-order timestamps.
package conversation

import (
	"bytes"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dhcgn/mbox-to-transcripts/model"
	"github.com/dhcgn/mbox-to-transcripts/state"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

const (
	Ext      = ".conv"
	openTag  = "<conversation>\n"
	closeTag = "</conversation>\n"

	// SealKeyPrefix namespaces seal markers in the state tracker.
	SealKeyPrefix = "sealed:"
)

// Assembler appends messages to xml/<thread>.conv in arrival order.
type Assembler struct {
	dir     string
	events  stats.Emitter
	logger  *slog.Logger
	threads map[string]struct{}
}

func NewAssembler(dir string, events stats.Emitter, logger *slog.Logger) (*Assembler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	if events == nil {
		events = stats.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{dir: dir, events: events, logger: logger, threads: make(map[string]struct{})}, nil
}

// Path returns the log file of a thread.
func Path(dir, threadID string) string {
	return filepath.Join(dir, fileName(threadID)+Ext)
}

func fileName(threadID string) string {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return "unthreaded"
	}
	return strings.NewReplacer("/", "_", "\\", "_").Replace(threadID)
}

// Append writes one message element to the end of its thread's log.
func (a *Assembler) Append(msg model.Message) error {
	f, err := os.OpenFile(Path(a.dir, msg.ThreadID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open conversation log: %w", err)
	}
	if _, err := f.WriteString(formatMessage(msg)); err != nil {
		f.Close()
		return fmt.Errorf("append conversation log: %w", err)
	}
	a.threads[msg.ThreadID] = struct{}{}
	return f.Close()
}

// Threads reports how many distinct threads received messages from this assembler.
func (a *Assembler) Threads() int {
	return len(a.threads)
}

func formatMessage(msg model.Message) string {
	return fmt.Sprintf("  <message to=\"%s\" from=\"%s\">\n    <body>%s</body>\n    <time ms=\"%d\"/>\n  </message>\n",
		html.EscapeString(msg.To),
		html.EscapeString(msg.From),
		html.EscapeString(msg.Body),
		msg.TimestampMs,
	)
}

// SealAll wraps every log in the directory in a conversation element exactly
// once. A log is skipped when the tracker already holds its seal marker, and
// a log that already starts with the opening tag is only marked.
func (a *Assembler) SealAll(tracker state.Tracker, runID string) (int, error) {
	paths, err := logPaths(a.dir)
	if err != nil {
		return 0, err
	}

	sealed := 0
	for _, path := range paths {
		threadID := threadIDOf(path)
		key := SealKeyPrefix + threadID
		if tracker.AlreadyProcessed(key) {
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return sealed, fmt.Errorf("read conversation log: %w", err)
		}
		if !bytes.HasPrefix(content, []byte(openTag)) {
			if err := writeSealed(path, content); err != nil {
				return sealed, err
			}
			sealed++
			a.events.EmitEvent(stats.Event{Stage: stats.StageAssemble, Type: stats.EventTypeSealed, ThreadID: threadID})
		} else {
			a.logger.Debug("conversation log already sealed", "thread", threadID)
		}

		if err := tracker.MarkProcessed(key, runID); err != nil {
			return sealed, fmt.Errorf("mark sealed: %w", err)
		}
	}

	a.logger.Info("conversation logs sealed", "sealed", sealed, "logs", len(paths), "dir", a.dir)
	return sealed, nil
}

// writeSealed replaces path with the wrapped content via a rename so a crash
// leaves either the old or the new file.
func writeSealed(path string, content []byte) error {
	tmp := path + ".tmp"
	var buf bytes.Buffer
	buf.Grow(len(content) + len(openTag) + len(closeTag))
	buf.WriteString(openTag)
	buf.Write(content)
	buf.WriteString(closeTag)

	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write sealed log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace sealed log: %w", err)
	}
	return nil
}

// logPaths lists the conversation logs of dir in thread order.
func logPaths(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+Ext))
	if err != nil {
		return nil, fmt.Errorf("list conversation logs: %w", err)
	}
	sort.Slice(paths, func(i, j int) bool {
		return ThreadLess(threadIDOf(paths[i]), threadIDOf(paths[j]))
	})
	return paths, nil
}

func threadIDOf(path string) string {
	return strings.TrimSuffix(filepath.Base(path), Ext)
}

// ThreadLess orders decimal thread ids numerically and anything else after
// them lexically.
func ThreadLess(a, b string) bool {
	an, bn := isDigits(a), isDigits(b)
	switch {
	case an && bn:
		a, b = strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	case an != bn:
		return an
	default:
		return a < b
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
