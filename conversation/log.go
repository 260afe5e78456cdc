package conversation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/dhcgn/mbox-to-transcripts/model"
)

var ErrUnsealed = errors.New("conversation log is not sealed")

// Load reads one sealed conversation log.
func Load(path string) (model.Conversation, error) {
	conv := model.Conversation{ThreadID: threadIDOf(path), Path: path}

	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return conv, fmt.Errorf("parse %s: %w", path, err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "conversation" {
		return conv, fmt.Errorf("%s: %w", path, ErrUnsealed)
	}

	for _, m := range root.SelectElements("message") {
		msg := model.Message{
			ThreadID: conv.ThreadID,
			From:     m.SelectAttrValue("from", ""),
			To:       m.SelectAttrValue("to", ""),
		}
		if body := m.SelectElement("body"); body != nil {
			msg.Body = body.Text()
		}
		t := m.SelectElement("time")
		if t == nil {
			return conv, fmt.Errorf("%s: message %d has no time", path, len(conv.Messages))
		}
		ms, err := strconv.ParseInt(strings.TrimSpace(t.SelectAttrValue("ms", "")), 10, 64)
		if err != nil {
			return conv, fmt.Errorf("%s: message %d time: %w", path, len(conv.Messages), err)
		}
		msg.TimestampMs = ms
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, nil
}

// LoadAll reads every sealed log of dir in thread order.
func LoadAll(dir string) ([]model.Conversation, error) {
	paths, err := logPaths(dir)
	if err != nil {
		return nil, err
	}
	convs := make([]model.Conversation, 0, len(paths))
	for _, path := range paths {
		conv, err := Load(path)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// Addresses rebuilds the endpoint frequency table from sealed logs.
func Addresses(convs []model.Conversation) *model.AddressTable {
	table := model.NewAddressTable()
	for _, conv := range convs {
		for _, m := range conv.Messages {
			table.Add(m.From, m.To)
		}
	}
	return table
}
