package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mbox-to-transcripts/stats"
)

// Bar shows archive scanning progress. It is only drawn at the info log level.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	scanned int
	mu      sync.Mutex
	enabled bool
	stopped bool
}

// New creates an idle bar; Start draws it once the record total is known.
func New(enabled bool, logLevel string) *Bar {
	return &Bar{enabled: enabled && logLevel == "info"}
}

// Start draws the bar for total records.
func (b *Bar) Start(total int, title string) {
	if !b.enabled || total <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	pterm.Info.Printf("Records in mbox: %d\n", total)
	pb, err := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle(title).
		Start()
	if err != nil {
		return
	}
	b.pb = pb
	b.total = total
	b.scanned = 0
	b.stopped = false
}

// Update advances the bar for every scanned record.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pb == nil || b.stopped {
		return
	}

	switch evt.Type {
	case stats.EventTypeScanned:
		b.scanned++
		b.pb.Increment()
		if b.scanned >= b.total {
			b.stopLocked()
		}
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the bar if it is still drawn.
func (b *Bar) Stop() {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

func (b *Bar) stopLocked() {
	if b.pb == nil || b.stopped {
		return
	}
	b.stopped = true
	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
	pterm.Success.Println("Archive scanned")
}

// Subscriber feeds pipeline events into the bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// ProgressReporter draws the bar and prints a summary once the pipeline ends.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)

	summary := pr.collector.Snapshot()
	duration := time.Since(pr.started)

	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
	pterm.Info.Printf("Chats: %d (old format %d, new format %d)\n", summary.Chats, summary.OldFormat, summary.NewFormat)
	pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
	pterm.Info.Printf("Messages: %d\n", summary.Messages)
	pterm.Info.Printf("Skipped: malformed %d, group chats %d, empty %d, duplicates %d\n",
		summary.Malformed, summary.GroupChats, summary.Empty, summary.Duplicates)
	pterm.Info.Printf("Conversation logs sealed: %d\n", summary.Sealed)
	pterm.Info.Printf("Conversations rendered: %d\n", summary.Rendered)
	pterm.Info.Printf("Transcripts written: %d\n", summary.Transcripts)
	if summary.OutOfOrder > 0 {
		pterm.Warning.Printf("Out-of-order timestamps: %d\n", summary.OutOfOrder)
	}
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}

	return nil
}
