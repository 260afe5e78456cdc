package resequence

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mbox-to-transcripts/model"
	"github.com/dhcgn/mbox-to-transcripts/namemap"
	"github.com/dhcgn/mbox-to-transcripts/render"
)

func block(date, clock, body string) string {
	return render.Separator + "\n" + date + "\n\n" + clock + "  bob: " + body + "\n"
}

func TestSplit(t *testing.T) {
	data := "preamble\n" + block("2012-01-10", "09:00", "a") + block("2012-01-10", "08:59", "b")
	blocks := Split([]byte(data))
	require.Len(t, blocks, 2)
	assert.Equal(t, block("2012-01-10", "09:00", "a"), string(blocks[0]))
	assert.Equal(t, block("2012-01-10", "08:59", "b"), string(blocks[1]))
}

func TestSplit_SeparatorInsideLineIsIgnored(t *testing.T) {
	data := block("2012-01-10", "09:00", render.Separator)
	assert.Len(t, Split([]byte(data)), 1)
}

func TestKey(t *testing.T) {
	key, err := Key([]byte(block("2012-01-10", "08:59", "x")))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2012, 1, 10, 8, 59, 0, 0, time.UTC), key)

	_, err = Key([]byte(render.Separator + "\nnot a date\n\n??  x\n"))
	assert.Error(t, err)
}

func TestSort_Stable(t *testing.T) {
	first := block("2012-01-10", "09:00", "first")
	earlier := block("2012-01-10", "08:59", "earlier")
	second := block("2012-01-10", "09:00", "second")

	r := New(nil, nil)
	blocks, bad := r.Sort([]byte(first+earlier+second), "test")
	assert.Equal(t, 0, bad)

	var got []string
	for _, b := range blocks {
		got = append(got, string(b.Data))
	}
	assert.Equal(t, []string{earlier, first, second}, got)
}

func TestSort_BadKeysFirst(t *testing.T) {
	good := block("2012-01-10", "09:00", "good")
	broken := render.Separator + "\nbroken\n"

	r := New(nil, nil)
	blocks, bad := r.Sort([]byte(good+broken), "test")
	assert.Equal(t, 1, bad)
	require.Len(t, blocks, 2)
	assert.Equal(t, broken, string(blocks[0].Data))
}

func TestRenderThenResequence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "text")
	names := &namemap.NameMap{MyAddress: "me@example.com"}
	r := render.New(render.Options{Location: time.UTC}, names, nil, nil)

	// Thread order is not chronological order.
	convs := []model.Conversation{
		{ThreadID: "1", Messages: []model.Message{
			{ThreadID: "1", From: "bob@example.com", To: "me@example.com", Body: "later", TimestampMs: 1368551472000},
		}},
		{ThreadID: "2", Messages: []model.Message{
			{ThreadID: "2", From: "me@example.com", To: "bob@example.com", Body: "earliest", TimestampMs: 1326096000000},
			{ThreadID: "2", From: "bob@example.com", To: "me@example.com", Body: "reply", TimestampMs: 1326096060000},
		}},
		{ThreadID: "3", Messages: []model.Message{
			{ThreadID: "3", From: "bob@example.com", To: "me@example.com", Body: "middle", TimestampMs: 1326196800000},
		}},
	}
	_, err := r.RenderAll(convs, dir)
	require.NoError(t, err)

	unsorted, err := os.ReadFile(render.FragmentPath(dir, "bob@example.com"))
	require.NoError(t, err)

	counts, err := New(nil, nil).SortAll(dir)
	require.NoError(t, err)
	assert.Equal(t, Counts{Transcripts: 1, Blocks: 3}, counts)

	_, err = os.Stat(render.FragmentPath(dir, "bob@example.com"))
	assert.True(t, os.IsNotExist(err))

	sorted, err := os.ReadFile(filepath.Join(dir, "bob@example.com.conv"))
	require.NoError(t, err)
	assert.Len(t, sorted, len(unsorted))

	text := string(sorted)
	assert.True(t, strings.HasPrefix(text, render.Separator+"\n2012-01-09\n"))
	assert.Less(t, strings.Index(text, "earliest"), strings.Index(text, "reply"))
	assert.Less(t, strings.Index(text, "reply"), strings.Index(text, "middle"))
	assert.Less(t, strings.Index(text, "middle"), strings.Index(text, "later"))
}
