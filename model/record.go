package model

import (
	"strings"

	"github.com/emersion/go-message"
)

const (
	HeaderThreadID = "X-GM-THRID"
	HeaderLabels   = "X-Gmail-Labels"
)

// Record is one raw entry of the source archive.
type Record struct {
	Index     int
	Header    message.Header
	Raw       []byte
	Multipart bool
}

// ThreadID returns the upstream conversation key.
func (r Record) ThreadID() string {
	return strings.TrimSpace(r.Header.Get(HeaderThreadID))
}

// Labels returns the comma separated label set of the record.
func (r Record) Labels() []string {
	raw := r.Header.Get(HeaderLabels)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			labels = append(labels, p)
		}
	}
	return labels
}

// HasLabel reports whether label is one of the record's labels.
func (r Record) HasLabel(label string) bool {
	for _, l := range r.Labels() {
		if l == label {
			return true
		}
	}
	return false
}
