package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-to-transcripts/classify"
	"github.com/dhcgn/mbox-to-transcripts/filter"
	"github.com/dhcgn/mbox-to-transcripts/mbox"
	"github.com/dhcgn/mbox-to-transcripts/model"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

const (
	categoryLabel  = "Label"
	categoryFormat = "Format"
	categoryFrom   = "From"
	categoryTo     = "To"
)

var trackedCategories = []string{categoryLabel, categoryFormat, categoryFrom, categoryTo}

type mboxStatsOptions struct {
	reportDir     string
	topN          int
	chatLabel     string
	includeHeader []string
	excludeHeader []string
}

// NewMboxStatsCmd builds the command that surveys an archive before conversion.
func NewMboxStatsCmd() *cobra.Command {
	opts := &mboxStatsOptions{}
	cmd := &cobra.Command{
		Use:   "mbox-stats [mbox file]",
		Short: "Analyse the mbox file and show label, chat format and sender statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMboxStats(args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.reportDir, "output", "o", ".", "Output directory for CSV reports")
	cmd.Flags().IntVarP(&opts.topN, "top", "t", 10, "Number of top items to display in statistics")
	cmd.Flags().StringVar(&opts.chatLabel, "chat-label", classify.DefaultChatLabel, "Archive label that marks chat records")
	cmd.Flags().StringArrayVar(&opts.includeHeader, "include-header", nil, "Regex allow-list applied to record headers (mutually exclusive with --exclude-header)")
	cmd.Flags().StringArrayVar(&opts.excludeHeader, "exclude-header", nil, "Regex block-list applied to record headers (mutually exclusive with --include-header)")
	return cmd
}

// archiveCounter tallies header values of archive records per category.
type archiveCounter struct {
	counts   map[string]map[string]int
	records  int
	skipped  int
	rejected int
}

func newArchiveCounter() *archiveCounter {
	c := &archiveCounter{counts: make(map[string]map[string]int)}
	for _, category := range trackedCategories {
		c.counts[category] = make(map[string]int)
	}
	return c
}

func (c *archiveCounter) add(record model.Record, chatLabel string) {
	c.records++
	for _, label := range record.Labels() {
		c.counts[categoryLabel][label]++
	}
	c.counts[categoryFormat][classify.Classify(record, chatLabel).String()]++
	if from := record.Header.Get("From"); from != "" {
		c.counts[categoryFrom][from]++
	}
	if to := record.Header.Get("To"); to != "" {
		c.counts[categoryTo][to]++
	}
}

func runMboxStats(mboxPath string, opts *mboxStatsOptions) error {
	fmt.Println("Analyzing mbox file:", mboxPath)

	f, err := filter.New(filter.Options{IncludeHeader: opts.includeHeader, ExcludeHeader: opts.excludeHeader})
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}

	counter := newArchiveCounter()
	printStats := func() {
		// ANSI escape code to clear screen and move cursor to top-left
		fmt.Print("\033[H\033[2J")
		total := counter.records + counter.skipped
		var filterPercent float64
		if total > 0 {
			filterPercent = float64(counter.skipped) / float64(total) * 100
		}
		fmt.Printf("Processed %d records (skipped %d by filters, %.2f%%, %d unreadable)...\n\n",
			counter.records, counter.skipped, filterPercent, counter.rejected)

		filterStats := f.Stats()
		if len(filterStats.IncludeHeaderPatterns) > 0 {
			fmt.Println("Include Header Filters:")
			printFilterHits(filterStats.IncludeHeaderPatterns, filterStats.Hits)
			fmt.Println()
		}
		if len(filterStats.ExcludeHeaderPatterns) > 0 {
			fmt.Println("Exclude Header Filters:")
			printFilterHits(filterStats.ExcludeHeaderPatterns, filterStats.Hits)
			fmt.Println()
		}
		if f.Active() {
			fmt.Println("---")
			fmt.Println()
		}

		for _, category := range trackedCategories {
			fmt.Printf("Top %d %s:\n", opts.topN, category)
			stats.PrettyPrintTop(counter.counts[category], opts.topN)
			fmt.Println()
		}
	}

	err = mbox.Read(mboxPath, func(env model.Envelope) error {
		if env.Err != nil {
			counter.rejected++
			return nil
		}
		if !f.Allows(env.Record.Raw) {
			counter.skipped++
			return nil
		}

		counter.add(env.Record, opts.chatLabel)
		if counter.records%250 == 0 {
			printStats()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error reading mbox file: %w", err)
	}

	printStats()

	if err := saveCSVReports(counter.counts, trackedCategories, opts.reportDir, 1000); err != nil {
		return fmt.Errorf("error saving CSV reports: %w", err)
	}

	fmt.Printf("\nReports saved to directory: %s\n", opts.reportDir)
	return nil
}

func saveCSVReports(counter map[string]map[string]int, categories []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, category := range categories {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeHeaderName(category)))
		if err := writeCSVReport(filePath, stats.TopN(counter[category], limit)); err != nil {
			return err
		}
	}
	return nil
}

func writeCSVReport(path string, pairs []stats.Pair) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func printFilterHits(patterns []string, hits map[string]int) {
	type pair struct {
		Pattern string
		Count   int
	}
	pairs := make([]pair, 0, len(patterns))
	for _, pattern := range patterns {
		pairs = append(pairs, pair{pattern, hits[pattern]})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Pattern < pairs[j].Pattern
	})

	for _, p := range pairs {
		if p.Count > 0 {
			fmt.Printf("  ✓ %s: %d hits\n", p.Pattern, p.Count)
		} else {
			fmt.Printf("  ✗ %s: 0 hits\n", p.Pattern)
		}
	}
}
