package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/mbox-to-transcripts/config"
	"github.com/dhcgn/mbox-to-transcripts/state"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

// StageKeyPrefix namespaces the tracker markers of completed stages.
const StageKeyPrefix = "stage:"

type StageFunc func(context.Context) error

type stage struct {
	name      string
	fn        StageFunc
	artifacts []string
	guarded   bool
}

type flusher interface {
	Flush() error
}

type Runner struct {
	cfg    config.Config
	logger *slog.Logger
	runID  string

	ctx    context.Context
	cancel context.CancelFunc

	tracker state.Tracker
	stages  []stage
	ran     map[string]bool

	subsMu sync.RWMutex
	subs   []chan stats.Event

	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeEventsOnce sync.Once
	since           time.Time
}

func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	tracker, err := state.NewFileTracker(cfg.StateDir, true)
	if err != nil {
		return nil, fmt.Errorf("state tracker: %w", err)
	}
	return NewWithTracker(cfg, logger, tracker), nil
}

// NewWithTracker builds a runner around an existing tracker.
func NewWithTracker(cfg config.Config, logger *slog.Logger, tracker state.Tracker) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	runID := uuid.NewString()
	return &Runner{
		cfg:     cfg,
		logger:  logger.With("run", runID),
		runID:   runID,
		ctx:     ctx,
		cancel:  cancel,
		tracker: tracker,
		ran:     make(map[string]bool),
	}
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

func (r *Runner) RunID() string {
	return r.runID
}

// Ran reports whether the named stage executed during Start.
func (r *Runner) Ran(name string) bool {
	return r.ran[name]
}

// EmitEvent delivers evt to every subscriber.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()
	for _, ch := range r.subs {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
		// keep draining so emitters never block on a finished subscriber
		for range ch {
		}
	}()
}

// AddStage registers a stage that is skipped when a previous run completed
// it and all of its artifacts still exist. Running it removes the artifacts
// first and invalidates every guarded stage after it.
func (r *Runner) AddStage(name string, fn StageFunc, artifacts ...string) {
	r.stages = append(r.stages, stage{name: name, fn: fn, artifacts: artifacts, guarded: true})
}

// AddAlwaysStage registers a stage that runs on every invocation.
func (r *Runner) AddAlwaysStage(name string, fn StageFunc) {
	r.stages = append(r.stages, stage{name: name, fn: fn})
}

func (r *Runner) Start() error {
	r.since = time.Now()

	for i, st := range r.stages {
		if r.ctx.Err() != nil {
			break
		}
		if err := r.runStage(i, st); err != nil {
			r.fail(fmt.Errorf("%s stage: %w", st.name, err))
			break
		}
	}

	r.closeEvents()
	r.statsWG.Wait()
	r.cancel()

	if c, ok := r.tracker.(io.Closer); ok {
		if err := c.Close(); err != nil {
			r.fail(fmt.Errorf("close state: %w", err))
		}
	}

	err := r.err
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) runStage(index int, st stage) error {
	key := StageKeyPrefix + st.name
	if st.guarded && r.tracker.AlreadyProcessed(key) && artifactsExist(st.artifacts) {
		r.logger.Info("stage up to date, skipping", "stage", st.name)
		return nil
	}

	if st.guarded {
		for _, path := range st.artifacts {
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("remove stale %s: %w", path, err)
			}
		}
		for _, later := range r.stages[index:] {
			if !later.guarded {
				continue
			}
			if err := r.tracker.Forget(StageKeyPrefix + later.name); err != nil {
				return fmt.Errorf("invalidate %s: %w", later.name, err)
			}
		}
	}

	started := time.Now()
	r.logger.Debug("stage starting", "stage", st.name)
	if err := st.fn(r.ctx); err != nil {
		return err
	}
	r.ran[st.name] = true
	r.logger.Debug("stage finished", "stage", st.name, "duration", time.Since(started))

	if !st.guarded {
		return nil
	}
	if err := r.tracker.MarkProcessed(key, r.runID); err != nil {
		return fmt.Errorf("mark %s: %w", st.name, err)
	}
	if f, ok := r.tracker.(flusher); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func artifactsExist(paths []string) bool {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.subsMu.Lock()
		defer r.subsMu.Unlock()
		for _, ch := range r.subs {
			close(ch)
		}
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
