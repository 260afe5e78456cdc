package mbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mbox-to-transcripts/model"
)

var ErrEmptyRecord = errors.New("mbox record is empty")

// openArchive is swapped out by tests that feed embedded fixtures.
var openArchive = func(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Read opens an mbox file and iterates through its records, calling the
// provided callback for each one. Records whose header cannot be parsed are
// handed to the callback as an Envelope carrying the error so the caller can
// count and skip them.
func Read(path string, callback func(env model.Envelope) error) error {
	file, err := openArchive(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)

	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("message %d read: %w", idx, err)
		}

		record, err := ParseRecord(raw)
		record.Index = idx
		env := model.Envelope{Record: record}
		if err != nil {
			env.Err = fmt.Errorf("message %d parse: %w", idx, err)
		}

		if err := callback(env); err != nil {
			return err
		}
	}
}

// CountMessages counts the total number of records in an mbox file.
func CountMessages(path string) (int, error) {
	file, err := openArchive(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)

	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}

		// Just consume the record without parsing
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			count++
			continue
		}

		count++
	}
}

// ParseRecord reads the header block of a raw record. The raw bytes are kept
// untouched so the record can be copied to another mbox verbatim.
func ParseRecord(raw []byte) (model.Record, error) {
	record := model.Record{Raw: raw}
	if len(bytes.TrimSpace(raw)) == 0 {
		return record, ErrEmptyRecord
	}

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return record, err
	}

	record.Header = entity.Header
	mediaType, _, _ := entity.Header.ContentType()
	record.Multipart = strings.HasPrefix(mediaType, "multipart/")
	return record, nil
}

// Writer appends raw records to an mbox file.
type Writer struct {
	file *os.File
	mbox *mboxlib.Writer
	n    int
}

// Create truncates path and returns a Writer for it.
func Create(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create mbox: %w", err)
	}
	return &Writer{file: file, mbox: mboxlib.NewWriter(file)}, nil
}

// Write appends one record, deriving the separator line from its From and Date headers.
func (w *Writer) Write(record model.Record) error {
	from, date := envelopeOf(record.Header)
	mw, err := w.mbox.CreateMessage(from, date)
	if err != nil {
		return fmt.Errorf("mbox separator: %w", err)
	}
	if _, err := mw.Write(record.Raw); err != nil {
		return fmt.Errorf("mbox write: %w", err)
	}
	w.n++
	return nil
}

// Count reports how many records were written so far.
func (w *Writer) Count() int {
	return w.n
}

func (w *Writer) Close() error {
	var firstErr error
	if err := w.mbox.Close(); err != nil {
		firstErr = fmt.Errorf("close mbox stream: %w", err)
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close mbox file: %w", err)
	}
	return firstErr
}

func envelopeOf(h message.Header) (string, time.Time) {
	mh := mail.Header{Header: h}

	from := "MAILER-DAEMON"
	if addrs, err := mh.AddressList("From"); err == nil && len(addrs) > 0 && addrs[0].Address != "" {
		from = addrs[0].Address
	}

	date, err := mh.Date()
	if err != nil {
		date = time.Unix(0, 0).UTC()
	}
	return from, date
}
