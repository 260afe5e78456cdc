package stats

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollector_Apply(t *testing.T) {
	c := NewCollector()
	boom := errors.New("boom")

	for _, evt := range []Event{
		{Stage: StageClassify, Type: EventTypeScanned},
		{Stage: StageClassify, Type: EventTypeScanned},
		{Stage: StageClassify, Type: EventTypeChat},
		{Stage: StageOldFormat, Type: EventTypeGroupChat},
		{Stage: StageNewFormat, Type: EventTypeEmpty},
		{Stage: StageNewFormat, Type: EventTypeMessage},
		{Stage: StageRender, Type: EventTypeError, Err: boom},
	} {
		c.Apply(evt)
	}

	s := c.Snapshot()
	assert.Equal(t, 2, s.Scanned)
	assert.Equal(t, 1, s.Chats)
	assert.Equal(t, 1, s.GroupChats)
	assert.Equal(t, 1, s.Empty)
	assert.Equal(t, 1, s.Messages)
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, boom, s.LastError)
	assert.Contains(t, s.LogAttrs(), "lastError")
}

func TestCollector_RunStopsOnClose(t *testing.T) {
	c := NewCollector()
	events := make(chan Event, 2)
	events <- Event{Type: EventTypeSealed}
	events <- Event{Type: EventTypeSealed}
	close(events)

	c.Run(context.Background(), events)
	assert.Equal(t, 2, c.Snapshot().Sealed)
}

func TestTopN(t *testing.T) {
	m := map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}

	assert.Equal(t, []Pair{{"c", 5}, {"a", 2}, {"b", 2}}, TopN(m, 3))
	assert.Len(t, TopN(m, 10), 4)
	assert.Empty(t, TopN(nil, 3))
}
