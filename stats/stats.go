package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageClassify   Stage = "classify"
	StageSplit      Stage = "split"
	StageOldFormat  Stage = "old-format"
	StageNewFormat  Stage = "new-format"
	StageAssemble   Stage = "assemble"
	StageRender     Stage = "render"
	StageResequence Stage = "resequence"
	StageAnalyze    Stage = "analyze"
)

type EventType string

const (
	EventTypeScanned    EventType = "scanned"
	EventTypeFiltered   EventType = "filtered"
	EventTypeRejected   EventType = "rejected"
	EventTypeChat       EventType = "chat"
	EventTypeOldFormat  EventType = "old_format"
	EventTypeNewFormat  EventType = "new_format"
	EventTypeMalformed  EventType = "malformed"
	EventTypeGroupChat  EventType = "groupchat"
	EventTypeEmpty      EventType = "empty"
	EventTypeDuplicate  EventType = "duplicate"
	EventTypeParsed     EventType = "parsed"
	EventTypeMessage    EventType = "message"
	EventTypeSealed     EventType = "sealed"
	EventTypeRendered   EventType = "rendered"
	EventTypeTranscript EventType = "transcript"
	EventTypeOutOfOrder EventType = "out_of_order"
	EventTypeError      EventType = "error"
)

type Event struct {
	Stage    Stage
	Type     EventType
	ThreadID string
	Err      error
	Detail   string
}

type Summary struct {
	Scanned     int
	Filtered    int
	Rejected    int
	Chats       int
	OldFormat   int
	NewFormat   int
	Malformed   int
	GroupChats  int
	Empty       int
	Duplicates  int
	Parsed      int
	Messages    int
	Sealed      int
	Rendered    int
	Transcripts int
	OutOfOrder  int
	Errors      int
	LastError   error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"filtered", s.Filtered,
		"rejected", s.Rejected,
		"chats", s.Chats,
		"oldFormat", s.OldFormat,
		"newFormat", s.NewFormat,
		"malformed", s.Malformed,
		"groupChats", s.GroupChats,
		"empty", s.Empty,
		"duplicates", s.Duplicates,
		"parsed", s.Parsed,
		"messages", s.Messages,
		"sealed", s.Sealed,
		"rendered", s.Rendered,
		"transcripts", s.Transcripts,
		"outOfOrder", s.OutOfOrder,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Apply folds a single event into the running summary.
func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeRejected:
		c.summary.Rejected++
	case EventTypeChat:
		c.summary.Chats++
	case EventTypeOldFormat:
		c.summary.OldFormat++
	case EventTypeNewFormat:
		c.summary.NewFormat++
	case EventTypeMalformed:
		c.summary.Malformed++
	case EventTypeGroupChat:
		c.summary.GroupChats++
	case EventTypeEmpty:
		c.summary.Empty++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeParsed:
		c.summary.Parsed++
	case EventTypeMessage:
		c.summary.Messages++
	case EventTypeSealed:
		c.summary.Sealed++
	case EventTypeRendered:
		c.summary.Rendered++
	case EventTypeTranscript:
		c.summary.Transcripts++
	case EventTypeOutOfOrder:
		c.summary.OutOfOrder++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

// Emitter is implemented by anything that accepts pipeline events.
type Emitter interface {
	EmitEvent(evt Event)
}

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc func(Event)

func (f EmitterFunc) EmitEvent(evt Event) { f(evt) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(m map[string]int, limit int) {
	for i, p := range TopN(m, limit) {
		fmt.Printf("%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}

// Pair is one entry of a frequency ranking.
type Pair struct {
	Key   string
	Value int
}

// TopN ranks m by descending count, breaking ties by key, and keeps at most limit entries.
func TopN(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}
