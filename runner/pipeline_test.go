package runner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mbox-to-transcripts/config"
	"github.com/dhcgn/mbox-to-transcripts/render"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

func fixtureConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		MboxPath:  "../mbox/testdata/archive.mbox",
		DataDir:   dir,
		StateDir:  filepath.Join(dir, "state"),
		ChatLabel: "Chat",
		Analyze:   true,
		LogLevel:  "info",
		Location:  time.UTC,
	}
}

type result struct {
	runner   *Runner
	pipeline *Pipeline
	summary  stats.Summary
}

func runPipeline(t *testing.T, cfg config.Config) result {
	t.Helper()
	r, err := New(cfg, nil)
	require.NoError(t, err)
	reporter := stats.NewReporter(r, nil)
	p, err := NewPipeline(r, nil)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	return result{runner: r, pipeline: p, summary: reporter.Summary()}
}

func readDir(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	files := make(map[string]string, len(entries))
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		files[e.Name()] = string(data)
	}
	return files
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestPipeline_EndToEnd(t *testing.T) {
	cfg := fixtureConfig(t)
	paths := cfg.Paths()

	first := runPipeline(t, cfg)
	for _, name := range []string{StageNameClassify, StageNameSplit, StageNameNormalize, StageNameSeal, StageNameAnalyze, StageNameNameMap, StageNameRender, StageNameResequence} {
		assert.True(t, first.runner.Ran(name), name)
	}
	assert.True(t, first.pipeline.NameMapCreated())
	require.Len(t, first.pipeline.Findings(), 1)
	assert.Equal(t, "2001", first.pipeline.Findings()[0].Message.ThreadID)

	assert.Equal(t, 10, first.summary.Scanned)
	assert.Equal(t, 9, first.summary.Chats)
	assert.Equal(t, 8, first.summary.Messages)
	assert.Equal(t, 4, first.summary.Sealed)
	assert.Equal(t, 4, first.summary.Rendered)
	assert.Equal(t, 3, first.summary.Transcripts)
	assert.Equal(t, 1, first.summary.OutOfOrder)

	logs := readDir(t, paths.XMLDir)
	assert.Equal(t, []string{"2001.conv", "2004.conv", "3001.conv", "3002.conv"}, keys(logs))
	for name, content := range logs {
		assert.True(t, strings.HasPrefix(content, "<conversation>\n"), name)
		assert.True(t, strings.HasSuffix(content, "</conversation>\n"), name)
	}

	transcripts := readDir(t, paths.TextDir)
	assert.Equal(t, []string{"bob@example.com.conv", "carol@example.com.conv", "dave@example.com.conv"}, keys(transcripts))
	bob := transcripts["bob@example.com.conv"]
	assert.Equal(t, 2, strings.Count(bob, render.Separator+"\n"))
	assert.Less(t, strings.Index(bob, "earlier chat"), strings.Index(bob, "hello bob & welcome"))

	nameMap, err := os.ReadFile(paths.NameMap)
	require.NoError(t, err)
	assert.Contains(t, string(nameMap), `"my_address": "me@example.com"`)
}

func TestPipeline_SecondRunIsIdempotent(t *testing.T) {
	cfg := fixtureConfig(t)
	paths := cfg.Paths()

	runPipeline(t, cfg)
	logs := readDir(t, paths.XMLDir)
	transcripts := readDir(t, paths.TextDir)

	second := runPipeline(t, cfg)
	assert.False(t, second.runner.Ran(StageNameClassify))
	assert.False(t, second.runner.Ran(StageNameSplit))
	assert.False(t, second.runner.Ran(StageNameNormalize))
	assert.True(t, second.runner.Ran(StageNameRender))
	assert.False(t, second.pipeline.NameMapCreated())
	assert.Zero(t, second.summary.Sealed)

	assert.Equal(t, logs, readDir(t, paths.XMLDir))
	assert.Equal(t, transcripts, readDir(t, paths.TextDir))
}

func TestPipeline_MissingArtifactRebuildsDownstream(t *testing.T) {
	cfg := fixtureConfig(t)
	paths := cfg.Paths()

	runPipeline(t, cfg)
	logs := readDir(t, paths.XMLDir)
	require.NoError(t, os.Remove(paths.ChatsOld))

	third := runPipeline(t, cfg)
	assert.False(t, third.runner.Ran(StageNameClassify))
	assert.True(t, third.runner.Ran(StageNameSplit))
	assert.True(t, third.runner.Ran(StageNameNormalize))
	assert.Equal(t, 4, third.summary.Sealed)
	assert.Equal(t, logs, readDir(t, paths.XMLDir))
}

func TestPipeline_NameMapEditsApply(t *testing.T) {
	cfg := fixtureConfig(t)
	paths := cfg.Paths()
	runPipeline(t, cfg)

	data, err := os.ReadFile(paths.NameMap)
	require.NoError(t, err)
	edited := strings.Replace(string(data), `"bob@example.com": ""`, `"bob@example.com": "Bob"`, 1)
	require.NoError(t, os.WriteFile(paths.NameMap, []byte(edited), 0o644))

	runPipeline(t, cfg)
	transcripts := readDir(t, paths.TextDir)
	assert.Contains(t, keys(transcripts), "Bob.conv")
	assert.NotContains(t, keys(transcripts), "bob@example.com.conv")
}

func TestNewPipeline_BadFilter(t *testing.T) {
	cfg := fixtureConfig(t)
	cfg.IncludeHeader = []string{"("}
	r, err := New(cfg, nil)
	require.NoError(t, err)
	_, err = NewPipeline(r, nil)
	assert.Error(t, err)
}
