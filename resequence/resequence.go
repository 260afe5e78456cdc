// Package resequence orders the conversation blocks of each transcript
// fragment chronologically.
package resequence

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dhcgn/mbox-to-transcripts/render"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

const keyLayout = "2006-01-02T15:04"

// Block is one conversation block of a fragment.
type Block struct {
	Key  time.Time
	Data []byte
}

// Counts summarises a resequencing pass.
type Counts struct {
	Transcripts int
	Blocks      int
	BadKeys     int
}

type Resequencer struct {
	events stats.Emitter
	logger *slog.Logger
}

func New(events stats.Emitter, logger *slog.Logger) *Resequencer {
	if events == nil {
		events = stats.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resequencer{events: events, logger: logger}
}

// Split cuts data at every line that equals the block separator. Bytes before
// the first separator are not part of any block.
func Split(data []byte) [][]byte {
	sentinel := []byte(render.Separator + "\n")
	var offsets []int
	for pos := 0; pos < len(data); {
		end := bytes.IndexByte(data[pos:], '\n')
		if end < 0 {
			end = len(data)
		} else {
			end += pos + 1
		}
		if bytes.Equal(data[pos:end], sentinel) {
			offsets = append(offsets, pos)
		}
		pos = end
	}

	blocks := make([][]byte, 0, len(offsets))
	for i, start := range offsets {
		end := len(data)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		blocks = append(blocks, data[start:end])
	}
	return blocks
}

// Key reads the start minute of a block from its date line and the time on
// its first message line.
func Key(block []byte) (time.Time, error) {
	lines := strings.SplitN(string(block), "\n", 5)
	if len(lines) < 4 {
		return time.Time{}, fmt.Errorf("block too short for a date and time")
	}
	clock, _, _ := strings.Cut(lines[3], " ")
	key, err := time.Parse(keyLayout, lines[1]+"T"+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("block key: %w", err)
	}
	return key, nil
}

// Sort orders the blocks of one fragment. Blocks with equal keys keep their
// relative order; blocks whose key cannot be read sort first.
func (r *Resequencer) Sort(data []byte, source string) ([]Block, int) {
	raw := Split(data)
	blocks := make([]Block, 0, len(raw))
	bad := 0
	for i, b := range raw {
		key, err := Key(b)
		if err != nil {
			bad++
			r.logger.Warn("unreadable conversation block", "fragment", source, "block", i, "err", err)
		}
		blocks = append(blocks, Block{Key: key, Data: b})
	}
	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].Key.Before(blocks[j].Key)
	})
	return blocks, bad
}

// SortFile writes the resequenced blocks of the unsorted fragment at path
// next to it without the unsorted suffix and removes the fragment.
func (r *Resequencer) SortFile(path string) (string, int, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, 0, fmt.Errorf("read fragment: %w", err)
	}
	blocks, bad := r.Sort(data, path)

	var out bytes.Buffer
	out.Grow(len(data))
	for _, b := range blocks {
		out.Write(b.Data)
	}

	target := strings.TrimSuffix(path, render.UnsortedExt) + ".conv"
	if err := os.WriteFile(target, out.Bytes(), 0o644); err != nil {
		return "", 0, 0, fmt.Errorf("write transcript: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return "", 0, 0, fmt.Errorf("remove fragment: %w", err)
	}
	return target, len(blocks), bad, nil
}

// SortAll resequences every unsorted fragment in dir.
func (r *Resequencer) SortAll(dir string) (Counts, error) {
	var counts Counts
	paths, err := filepath.Glob(filepath.Join(dir, "*"+render.UnsortedExt))
	if err != nil {
		return counts, fmt.Errorf("list fragments: %w", err)
	}
	sort.Strings(paths)

	r.logger.Info("sorting transcripts by person", "fragments", len(paths), "dir", dir)
	for _, path := range paths {
		target, blocks, bad, err := r.SortFile(path)
		if err != nil {
			return counts, err
		}
		counts.Transcripts++
		counts.Blocks += blocks
		counts.BadKeys += bad
		r.events.EmitEvent(stats.Event{Stage: stats.StageResequence, Type: stats.EventTypeTranscript, Detail: filepath.Base(target)})
	}

	r.logger.Info("transcripts stored", "people", counts.Transcripts, "conversations", counts.Blocks, "dir", dir)
	return counts, nil
}
