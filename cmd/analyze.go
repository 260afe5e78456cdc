package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-to-transcripts/config"
	"github.com/dhcgn/mbox-to-transcripts/conversation"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

type analyzeOptions struct {
	reportDir string
	topN      int
}

// NewAnalyzeCmd builds the command that checks the sealed conversation logs of
// a previous run without touching the archive.
func NewAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Report out-of-order timestamps and the busiest chat addresses of an existing data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadDataConfig(cmd)
			if err != nil {
				return err
			}
			return runAnalyze(cmd.OutOrStdout(), cfg.Paths().XMLDir, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.reportDir, "output", "o", "", "Optional output directory for a CSV address report")
	cmd.Flags().IntVarP(&opts.topN, "top", "t", 10, "Number of top addresses to display")
	return cmd
}

func runAnalyze(out io.Writer, xmlDir string, opts *analyzeOptions) error {
	if _, err := os.Stat(xmlDir); err != nil {
		return fmt.Errorf("no conversation logs at %s, run the conversion first: %w", xmlDir, err)
	}

	convs, err := conversation.LoadAll(xmlDir)
	if err != nil {
		return err
	}

	messages := 0
	for _, conv := range convs {
		messages += len(conv.Messages)
	}
	fmt.Fprintf(out, "Analyzed %d conversations with %d messages\n\n", len(convs), messages)

	findings := conversation.FindOutOfOrder(convs)
	fmt.Fprintf(out, "Out-of-order timestamps: %d\n", len(findings))
	for _, f := range findings {
		fmt.Fprintln(out, "  "+f.String())
	}
	fmt.Fprintln(out)

	counts := conversation.Addresses(convs).Counts()
	fmt.Fprintf(out, "Top %d addresses:\n", opts.topN)
	for i, p := range stats.TopN(counts, opts.topN) {
		fmt.Fprintf(out, "%d. %s (%d)\n", i+1, p.Key, p.Value)
	}

	if opts.reportDir == "" {
		return nil
	}
	if err := os.MkdirAll(opts.reportDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(opts.reportDir, "report_addresses.csv")
	if err := writeCSVReport(path, stats.TopN(counts, -1)); err != nil {
		return fmt.Errorf("error saving CSV report: %w", err)
	}
	fmt.Fprintf(out, "\nReport saved to: %s\n", path)
	return nil
}

// Register attaches every subcommand to root.
func Register(root *cobra.Command) {
	root.AddCommand(NewMboxStatsCmd(), NewAnalyzeCmd())
}
