package normalize

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mbox-to-transcripts/classify"
	"github.com/dhcgn/mbox-to-transcripts/model"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

type sliceSink struct {
	msgs []model.Message
}

func (s *sliceSink) Append(msg model.Message) error {
	s.msgs = append(s.msgs, msg)
	return nil
}

// splitFixture runs the classifier over the shared archive fixture.
func splitFixture(t *testing.T) (oldPath, newPath string) {
	t.Helper()
	dir := t.TempDir()
	c := classify.New(classify.Options{}, nil, nil)
	chats := filepath.Join(dir, "chats_all.mbox")
	_, err := c.ExtractChats(context.Background(), "../mbox/testdata/archive.mbox", chats)
	require.NoError(t, err)

	oldPath = filepath.Join(dir, "chats_old.mbox")
	newPath = filepath.Join(dir, "chats_new.mbox")
	_, err = c.SplitFormats(context.Background(), chats, oldPath, newPath)
	require.NoError(t, err)
	return oldPath, newPath
}

func TestRunFixture(t *testing.T) {
	oldPath, newPath := splitFixture(t)

	sink := &sliceSink{}
	addresses := model.NewAddressTable()
	collector := stats.NewCollector()
	events := stats.EmitterFunc(collector.Apply)

	oldCounts, err := NewOldFormat(sink, addresses, events, nil).Run(context.Background(), oldPath)
	require.NoError(t, err)
	assert.Equal(t, Counts{Records: 4, Parsed: 2, Messages: 4, Malformed: 1, GroupChats: 1, Duplicates: 1}, oldCounts)

	newCounts, err := NewNewFormat(sink, addresses, events, nil).Run(context.Background(), newPath)
	require.NoError(t, err)
	assert.Equal(t, Counts{Records: 5, Parsed: 4, Messages: 4, Empty: 1}, newCounts)

	require.Len(t, sink.msgs, 8)

	got := make([]string, 0, len(sink.msgs))
	for _, m := range sink.msgs {
		got = append(got, m.ThreadID+" "+m.From+" "+m.Body)
	}
	assert.Equal(t, []string{
		"2001 bob@example.com hi",
		"2001 me@example.com hello bob & welcome",
		"2001 bob@example.com hi",
		"2004 carol@example.com see you ✓",
		"3001 dave@example.com Hi there\ncafé & cake?",
		"3001 me@example.com sure",
		"3001 dave@example.com great",
		"3002 bob@example.com earlier chat",
	}, got)

	assert.Equal(t, int64(1326196800000), sink.msgs[0].TimestampMs)
	assert.Equal(t, int64(1326196830000), sink.msgs[1].TimestampMs)
	assert.Equal(t, int64(1322730300000), sink.msgs[3].TimestampMs)
	assert.Equal(t, int64(1368551472000), sink.msgs[4].TimestampMs)
	assert.Equal(t, int64(1368551472001), sink.msgs[5].TimestampMs)
	assert.Equal(t, int64(1368551472002), sink.msgs[6].TimestampMs)
	assert.Equal(t, int64(1326096000000), sink.msgs[7].TimestampMs)

	assert.Equal(t, "me@example.com", addresses.MostFrequent())
	assert.NotContains(t, addresses.Addresses(), "bob@example.com/Talk.v104")

	summary := collector.Snapshot()
	assert.Equal(t, 8, summary.Messages)
	assert.Equal(t, 1, summary.GroupChats)
	assert.Equal(t, 1, summary.Empty)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 1, summary.Malformed)
}

func TestRunMissingFile(t *testing.T) {
	n := NewOldFormat(&sliceSink{}, nil, nil, nil)
	_, err := n.Run(context.Background(), filepath.Join(t.TempDir(), "missing.mbox"))
	assert.Error(t, err)
}

func TestCounts_Add(t *testing.T) {
	c := Counts{Records: 1, Messages: 2}
	c.Add(Counts{Records: 3, Empty: 1})
	assert.Equal(t, Counts{Records: 4, Messages: 2, Empty: 1}, c)
}
