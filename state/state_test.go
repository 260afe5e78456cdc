package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTracker_PersistsAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewFileTracker(dir, true)
	require.NoError(t, err)
	require.NoError(t, tracker.MarkProcessed("stage:classify", "run-1"))
	require.NoError(t, tracker.MarkProcessed("sealed:100", "run-1"))
	require.NoError(t, tracker.MarkProcessed("sealed:200", "run-1"))
	require.NoError(t, tracker.Close())

	reopened, err := NewFileTracker(dir, true)
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.AlreadyProcessed("stage:classify"))
	assert.True(t, reopened.AlreadyProcessed("sealed:100"))
	assert.False(t, reopened.AlreadyProcessed("sealed:300"))
	assert.Equal(t, 3, reopened.Snapshot().Processed)
}

func TestFileTracker_ForgetSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewFileTracker(dir, true)
	require.NoError(t, err)
	require.NoError(t, tracker.MarkProcessed("stage:assemble", "run-1"))
	require.NoError(t, tracker.MarkProcessed("sealed:100", "run-1"))
	require.NoError(t, tracker.Forget("sealed:"))
	assert.False(t, tracker.AlreadyProcessed("sealed:100"))
	require.NoError(t, tracker.MarkProcessed("sealed:200", "run-2"))
	require.NoError(t, tracker.Close())

	reopened, err := NewFileTracker(dir, false)
	require.NoError(t, err)

	assert.True(t, reopened.AlreadyProcessed("stage:assemble"))
	assert.False(t, reopened.AlreadyProcessed("sealed:100"))
	assert.True(t, reopened.AlreadyProcessed("sealed:200"))
}

func TestFileTracker_NoPersist(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewFileTracker(dir, false)
	require.NoError(t, err)
	require.NoError(t, tracker.MarkProcessed("stage:classify", "run-1"))
	assert.True(t, tracker.AlreadyProcessed("stage:classify"))
	require.NoError(t, tracker.Close())

	_, err = os.Stat(filepath.Join(dir, "state.jsonl"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileTracker_CorruptLine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.jsonl"), []byte("{not json\n"), 0o600))

	_, err := NewFileTracker(dir, false)
	assert.ErrorContains(t, err, "parse state line 1")
}

func TestNewFileTracker_EmptyDir(t *testing.T) {
	_, err := NewFileTracker("  ", true)
	assert.Error(t, err)
}
