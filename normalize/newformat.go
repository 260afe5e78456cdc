package normalize

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"

	"github.com/dhcgn/mbox-to-transcripts/model"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

const newFormatDateLayout = "Mon, 2 Jan 2006 15:04:05 -0700"

// NewFormat normalizes flat text/html records, one message per record.
type NewFormat struct {
	base
	ties TieBreaker
}

func NewNewFormat(sink Sink, addresses *model.AddressTable, events stats.Emitter, logger *slog.Logger) *NewFormat {
	return &NewFormat{base: newBase(stats.StageNewFormat, sink, addresses, events, logger)}
}

// Run normalizes every record of the new-format mbox at path.
func (n *NewFormat) Run(ctx context.Context, path string) (Counts, error) {
	n.logger.Info("parsing new-format chats", "path", path)
	counts, err := n.run(ctx, path, n.normalize)
	if err != nil {
		return counts, err
	}
	n.logger.Info("new-format chats parsed", counts.LogAttrs()...)
	return counts, nil
}

// Normalize converts a single record. Successive calls share the tie-break state.
func (n *NewFormat) Normalize(record model.Record) (model.Message, error) {
	msgs, err := n.normalize(record, &Counts{})
	if err != nil {
		return model.Message{}, err
	}
	return msgs[0], nil
}

func (n *NewFormat) normalize(record model.Record, _ *Counts) ([]model.Message, error) {
	header := mail.Header{Header: record.Header}
	fromHeader := strings.TrimSpace(header.Get("From"))
	if fromHeader == "" {
		return nil, ErrEmpty
	}
	from := lastAddressToken(fromHeader)
	to := lastAddressToken(header.Get("To"))
	if to == "" {
		return nil, fmt.Errorf("%w: missing To header", ErrMalformed)
	}

	sent, err := messageDate(header)
	if err != nil {
		return nil, err
	}

	body, err := htmlBody(record.Raw)
	if err != nil {
		return nil, err
	}

	n.addresses.Add(from, to)
	return []model.Message{{
		ThreadID:    record.ThreadID(),
		From:        from,
		To:          to,
		Body:        body,
		TimestampMs: n.ties.Next(sent.Unix() * 1000),
	}}, nil
}

// messageDate reads the Date header at second resolution.
func messageDate(header mail.Header) (time.Time, error) {
	raw := strings.TrimSpace(header.Get("Date"))
	tokens := strings.Split(raw, " ")
	if len(tokens) > 6 {
		tokens = tokens[:6]
	}
	if t, err := time.Parse(newFormatDateLayout, strings.Join(tokens, " ")); err == nil {
		return t, nil
	}
	t, err := header.Date()
	if err != nil || t.IsZero() {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrMalformed, raw)
	}
	return t, nil
}

// lastAddressToken takes the final whitespace separated token of an address
// header, without angle brackets.
func lastAddressToken(value string) string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[len(fields)-1], "<>")
}

// htmlBody decodes the payload and reduces it to plain text.
func htmlBody(raw []byte) (string, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	payload, err := io.ReadAll(entity.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read payload: %v", ErrMalformed, err)
	}
	return cleanHTML(string(payload)), nil
}

func cleanHTML(payload string) string {
	payload = strings.ReplaceAll(payload, "\r\n", "\n")
	payload = strings.ReplaceAll(payload, "\n\n", "\n")
	payload = strings.ReplaceAll(payload, "<br>", "\n")

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(payload))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF at the end of the payload
			break
		}
		if tt == html.TextToken {
			sb.Write(z.Text())
		}
	}
	return strings.TrimSpace(sb.String())
}
