package normalize

import (
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mbox-to-transcripts/mbox"
	"github.com/dhcgn/mbox-to-transcripts/model"
)

func newRecord(t *testing.T, headers, body string) model.Record {
	t.Helper()
	record, err := mbox.ParseRecord([]byte("X-GM-THRID: 9\nX-Gmail-Labels: Chat\n" + headers + "\n" + body))
	require.NoError(t, err)
	return record
}

func TestTieBreaker(t *testing.T) {
	var tb TieBreaker
	in := []int64{5000, 5000, 5000, 7000, 7000, 5000}
	want := []int64{5000, 5001, 5002, 7000, 7001, 5000}

	for i, ms := range in {
		assert.Equal(t, want[i], tb.Next(ms), "call %d", i)
	}
}

func TestTieBreaker_FirstValueIsZero(t *testing.T) {
	var tb TieBreaker
	assert.Equal(t, int64(0), tb.Next(0))
	assert.Equal(t, int64(1), tb.Next(0))
}

func TestNewFormat_SharedTieBreakAcrossThreads(t *testing.T) {
	n := NewNewFormat(&sliceSink{}, nil, nil, nil)
	headers := "From: Bob <bob@example.com>\nTo: me@example.com\nDate: Tue, 14 May 2013 10:11:12 -0700\nContent-Type: text/html\n"

	first, err := n.Normalize(newRecord(t, headers, "one"))
	require.NoError(t, err)
	second, err := n.Normalize(newRecord(t, headers, "two"))
	require.NoError(t, err)

	assert.Equal(t, int64(1368551472000), first.TimestampMs)
	assert.Equal(t, int64(1368551472001), second.TimestampMs)
	assert.Equal(t, "bob@example.com", first.From)
	assert.Equal(t, "me@example.com", first.To)
	assert.Equal(t, "9", first.ThreadID)
}

func TestNewFormat_Empty(t *testing.T) {
	n := NewNewFormat(&sliceSink{}, nil, nil, nil)
	_, err := n.Normalize(newRecord(t, "To: me@example.com\nDate: Tue, 14 May 2013 10:11:12 -0700\n", ""))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestNewFormat_BadDate(t *testing.T) {
	n := NewNewFormat(&sliceSink{}, nil, nil, nil)
	_, err := n.Normalize(newRecord(t, "From: bob@example.com\nTo: me@example.com\nDate: yesterday\n", "hi"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMessageDate(t *testing.T) {
	tests := []struct {
		name string
		date string
		want int64
	}{
		{"plain", "Tue, 14 May 2013 10:11:12 -0700", 1368551472},
		{"trailing zone comment", "Tue, 14 May 2013 10:11:12 -0700 (PDT)", 1368551472},
		{"single digit day", "Mon, 9 Jan 2012 08:00:00 +0000", 1326096000},
		{"no weekday", "14 May 2013 10:11:12 -0700", 1368551472},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h mail.Header
			h.Set("Date", tt.date)
			got, err := messageDate(h)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Unix())
		})
	}
}

func TestCleanHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"line break tag", "Hi there<br>how are you", "Hi there\nhow are you"},
		{"double newlines collapse", "one\r\n\r\ntwo", "one\ntwo"},
		{"tags stripped", "<span style=\"x\">sure</span>", "sure"},
		{"entities", "fish &amp; chips &lt;3 &#8364;", "fish & chips <3 €"},
		{"trimmed", "  \n padded \n ", "padded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanHTML(tt.in))
		})
	}
}

func TestLastAddressToken(t *testing.T) {
	assert.Equal(t, "bob@example.com", lastAddressToken("Bob Example <bob@example.com>"))
	assert.Equal(t, "bob@example.com", lastAddressToken("bob@example.com"))
	assert.Equal(t, "", lastAddressToken("  "))
}
