package conversation

import (
	"fmt"

	"github.com/dhcgn/mbox-to-transcripts/model"
)

// Finding is a message whose timestamp precedes the message before it while
// both belong to the same pair of endpoints.
type Finding struct {
	Message  model.Message
	Previous model.Message
}

func (f Finding) String() string {
	return fmt.Sprintf("out-of-order timestamp, %s:%d %q < %s:%d %q",
		f.Message.ThreadID, f.Message.TimestampMs, f.Message.Body,
		f.Previous.ThreadID, f.Previous.TimestampMs, f.Previous.Body)
}

// FindOutOfOrder walks the logs in the given order, carrying the previous
// message across log boundaries.
func FindOutOfOrder(convs []model.Conversation) []Finding {
	var findings []Finding
	var prev model.Message
	hasPrev := false

	for _, conv := range convs {
		for _, m := range conv.Messages {
			if hasPrev && m.TimestampMs < prev.TimestampMs && samePair(m, prev) {
				findings = append(findings, Finding{Message: m, Previous: prev})
			}
			prev = m
			hasPrev = true
		}
	}
	return findings
}

func samePair(m, prev model.Message) bool {
	in := func(addr string) bool { return addr == prev.From || addr == prev.To }
	return in(m.From) && in(m.To)
}
