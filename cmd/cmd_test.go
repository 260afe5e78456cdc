package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mbox-to-transcripts/conversation"
	"github.com/dhcgn/mbox-to-transcripts/model"
	"github.com/dhcgn/mbox-to-transcripts/state"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

const fixture = "../mbox/testdata/archive.mbox"

func TestMboxStats_Reports(t *testing.T) {
	dir := t.TempDir()
	opts := &mboxStatsOptions{reportDir: dir, topN: 3, chatLabel: "Chat"}
	require.NoError(t, runMboxStats(fixture, opts))

	format, err := os.ReadFile(filepath.Join(dir, "report_format.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Value,Count\nnew-format,5\nold-format,4\nnon-chat,1\n", string(format))

	labels, err := os.ReadFile(filepath.Join(dir, "report_label.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(labels), "Chat,9\n")

	for _, name := range []string{"report_from.csv", "report_to.csv"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestMboxStats_ExcludeFilter(t *testing.T) {
	dir := t.TempDir()
	opts := &mboxStatsOptions{reportDir: dir, topN: 3, chatLabel: "Chat", excludeHeader: []string{`^X-GM-THRID: 3001$`}}
	require.NoError(t, runMboxStats(fixture, opts))

	format, err := os.ReadFile(filepath.Join(dir, "report_format.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Value,Count\nold-format,4\nnew-format,1\nnon-chat,1\n", string(format))
}

func TestMboxStats_ConflictingFilters(t *testing.T) {
	opts := &mboxStatsOptions{reportDir: t.TempDir(), includeHeader: []string{"a"}, excludeHeader: []string{"b"}}
	assert.Error(t, runMboxStats(fixture, opts))
}

func TestWriteCSVReport_Quoting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.csv")
	require.NoError(t, writeCSVReport(path, []stats.Pair{{Key: `Bob "B", Jr`, Value: 2}}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Value,Count\n\"Bob \"\"B\"\", Jr\",2\n", string(data))
}

func TestNormalizeHeaderName(t *testing.T) {
	assert.Equal(t, "delivered_to", normalizeHeaderName("Delivered-To"))
	assert.Equal(t, "x_gm_thrid", normalizeHeaderName("X GM-THRID"))
}

func TestAnalyze(t *testing.T) {
	xmlDir := filepath.Join(t.TempDir(), "xml")
	a, err := conversation.NewAssembler(xmlDir, nil, nil)
	require.NoError(t, err)
	for _, m := range []model.Message{
		{ThreadID: "1", From: "bob@example.com", To: "me@example.com", Body: "late", TimestampMs: 2000},
		{ThreadID: "1", From: "me@example.com", To: "bob@example.com", Body: "early", TimestampMs: 1000},
		{ThreadID: "2", From: "carol@example.com", To: "me@example.com", Body: "hey", TimestampMs: 500},
	} {
		require.NoError(t, a.Append(m))
	}
	_, err = a.SealAll(state.NewMemoryTracker(), "test")
	require.NoError(t, err)

	reportDir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, runAnalyze(&out, xmlDir, &analyzeOptions{reportDir: reportDir, topN: 2}))

	text := out.String()
	assert.Contains(t, text, "Analyzed 2 conversations with 3 messages")
	assert.Contains(t, text, "Out-of-order timestamps: 1\n")
	assert.Contains(t, text, `1:1000 "early" < 1:2000 "late"`)
	assert.Contains(t, text, "1. me@example.com (3)\n2. bob@example.com (2)\n")

	report, err := os.ReadFile(filepath.Join(reportDir, "report_addresses.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Value,Count\nme@example.com,3\nbob@example.com,2\ncarol@example.com,1\n", string(report))
}

func TestAnalyze_MissingData(t *testing.T) {
	var out bytes.Buffer
	err := runAnalyze(&out, filepath.Join(t.TempDir(), "xml"), &analyzeOptions{topN: 1})
	assert.Error(t, err)
}
