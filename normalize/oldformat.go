package normalize

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/emersion/go-message"

	"github.com/dhcgn/mbox-to-transcripts/model"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

const (
	nsJabberClient = "jabber:client"
	oldFormatType  = "text/xml"
)

// OldFormat normalizes multipart records carrying XMPP-style conversation XML.
type OldFormat struct {
	base
	pruner *Pruner
}

func NewOldFormat(sink Sink, addresses *model.AddressTable, events stats.Emitter, logger *slog.Logger) *OldFormat {
	return &OldFormat{
		base:   newBase(stats.StageOldFormat, sink, addresses, events, logger),
		pruner: NewPruner(OldFormatRules),
	}
}

// Run normalizes every record of the old-format mbox at path.
func (n *OldFormat) Run(ctx context.Context, path string) (Counts, error) {
	n.logger.Info("parsing old-format chats", "path", path)
	counts, err := n.run(ctx, path, n.normalize)
	if err != nil {
		return counts, err
	}
	n.logger.Info("old-format chats parsed", counts.LogAttrs()...)
	return counts, nil
}

// Normalize converts a single record. The returned counts only carry
// per-element outcomes (duplicates, elements without a usable timestamp).
func (n *OldFormat) Normalize(record model.Record) ([]model.Message, Counts, error) {
	var counts Counts
	msgs, err := n.normalize(record, &counts)
	return msgs, counts, err
}

func (n *OldFormat) normalize(record model.Record, counts *Counts) ([]model.Message, error) {
	payload, err := firstXMLPart(record.Raw)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformed)
	}
	if isGroupChat(root) {
		return nil, ErrGroupChat
	}

	n.pruner.Prune(root)

	elements := messageElements(root)
	for _, m := range elements {
		for _, key := range []string{"from", "to"} {
			if a := m.SelectAttr(key); a != nil {
				a.Value = bareAddress(a.Value)
			}
		}
		for _, addr := range []string{m.SelectAttrValue("from", ""), m.SelectAttrValue("to", "")} {
			if addr != "" {
				n.addresses.Add(addr)
			}
		}
	}

	threadID := record.ThreadID()
	var msgs []model.Message
	prev := ""
	for _, m := range elements {
		serialized := serialize(m, &doc.WriteSettings)
		duplicate := serialized == prev
		prev = serialized

		if duplicate {
			counts.Duplicates++
			n.emit(stats.EventTypeDuplicate, threadID, nil)
			continue
		}

		body := childElement(m, "body")
		if body == nil || body.Text() == "" {
			continue
		}

		ms, err := timestampOf(m)
		if err != nil {
			counts.Malformed++
			n.logger.Debug("skipping message element", "thread", threadID, "err", err)
			n.emit(stats.EventTypeMalformed, threadID, err)
			continue
		}

		msgs = append(msgs, model.Message{
			ThreadID:    threadID,
			From:        m.SelectAttrValue("from", ""),
			To:          m.SelectAttrValue("to", ""),
			Body:        body.Text(),
			TimestampMs: ms,
		})
	}
	return msgs, nil
}

// firstXMLPart returns the decoded body of the first MIME part, which must be text/xml.
func firstXMLPart(raw []byte) ([]byte, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	mr := entity.MultipartReader()
	if mr == nil {
		return nil, fmt.Errorf("%w: record is not multipart", ErrMalformed)
	}
	part, err := mr.NextPart()
	if err != nil && (part == nil || (!message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err))) {
		return nil, fmt.Errorf("%w: first part: %v", ErrMalformed, err)
	}

	mediaType, _, _ := part.Header.ContentType()
	if mediaType != oldFormatType {
		return nil, fmt.Errorf("%w: first part is %q", ErrMalformed, mediaType)
	}

	payload, err := io.ReadAll(part.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read first part: %v", ErrMalformed, err)
	}
	return payload, nil
}

func isGroupChat(root *etree.Element) bool {
	found := false
	walk(root, func(e *etree.Element) {
		if e.Tag == "message" && e.NamespaceURI() == nsJabberClient && e.SelectAttrValue("type", "") == "groupchat" {
			found = true
		}
	})
	return found
}

// messageElements lists the message elements left in no namespace after pruning.
func messageElements(root *etree.Element) []*etree.Element {
	var out []*etree.Element
	walk(root, func(e *etree.Element) {
		if e.Space == "" && e.Tag == "message" {
			out = append(out, e)
		}
	})
	return out
}

func walk(e *etree.Element, fn func(*etree.Element)) {
	fn(e)
	for _, child := range e.ChildElements() {
		walk(child, fn)
	}
}

func childElement(e *etree.Element, tag string) *etree.Element {
	for _, child := range e.ChildElements() {
		if child.Space == "" && child.Tag == tag {
			return child
		}
	}
	return nil
}

func timestampOf(m *etree.Element) (int64, error) {
	t := childElement(m, "time")
	if t == nil {
		return 0, fmt.Errorf("%w: message without time", ErrMalformed)
	}
	raw := t.SelectAttrValue("ms", "")
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: time ms %q", ErrMalformed, raw)
	}
	return ms, nil
}

// bareAddress drops the XMPP resource suffix.
func bareAddress(addr string) string {
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		return addr[:i]
	}
	return addr
}

func serialize(e *etree.Element, settings *etree.WriteSettings) string {
	var buf bytes.Buffer
	e.WriteTo(&buf, settings)
	return buf.String()
}
