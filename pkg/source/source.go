// Package source delivers run headers and events to the job, one at a time
// and in file order.
package source

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ecmcheck/ecmcheck/internal/model"
	"github.com/ecmcheck/ecmcheck/pkg/errors"
)

// Item is either a run header or an event. Exactly one field is set.
type Item struct {
	Run   *model.RunHeader
	Event *model.Event
}

// Source yields items until it returns io.EOF.
type Source interface {
	Next(ctx context.Context) (Item, error)
	Close() error
}

// Record kinds used in JSON-lines input.
const (
	KindRun   = "run"
	KindEvent = "event"
)

// record is one line of JSON-lines input.
type record struct {
	Kind        string                      `json:"kind"`
	Run         int32                       `json:"run"`
	Event       int32                       `json:"event"`
	Detector    string                      `json:"detector,omitempty"`
	Description string                      `json:"description,omitempty"`
	Collections map[string][]model.Particle `json:"collections,omitempty"`
}

// JSONL reads one JSON object per line. Blank lines are skipped.
type JSONL struct {
	reader  *bufio.Reader
	cleanup func() error
	line    int
	done    bool
}

// NewJSONL reads from r.
func NewJSONL(r io.Reader) *JSONL {
	return &JSONL{reader: bufio.NewReaderSize(r, 1<<20), cleanup: func() error { return nil }}
}

// OpenJSONL opens a file, decompressing it when the name ends in .gz.
func OpenJSONL(path string) (*JSONL, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(path)
		}
		return nil, err
	}

	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		s := NewJSONL(file)
		s.cleanup = file.Close
		return s, nil
	}

	gz, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open gzip stream %q: %w", path, err)
	}
	s := NewJSONL(gz)
	s.cleanup = func() error {
		gz.Close()
		return file.Close()
	}
	return s, nil
}

// Next returns the next item or io.EOF.
func (s *JSONL) Next(ctx context.Context) (Item, error) {
	for !s.done {
		if err := ctx.Err(); err != nil {
			return Item{}, errors.ContextCanceled("read", err)
		}

		line, err := s.reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return Item{}, err
		}
		if err == io.EOF {
			s.done = true
		}
		s.line++

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return Item{}, errors.ParseError("jsonl", s.line, err)
		}
		return rec.item(s.line)
	}
	return Item{}, io.EOF
}

func (r *record) item(line int) (Item, error) {
	switch r.Kind {
	case KindRun:
		return Item{Run: &model.RunHeader{Number: r.Run, Detector: r.Detector, Description: r.Description}}, nil
	case KindEvent, "":
		return Item{Event: &model.Event{Run: r.Run, Number: r.Event, Collections: r.Collections}}, nil
	default:
		return Item{}, errors.ParseError("jsonl", line, fmt.Errorf("unknown record kind %q", r.Kind))
	}
}

// Close releases the underlying file.
func (s *JSONL) Close() error {
	return s.cleanup()
}

// Memory replays a fixed list of items.
type Memory struct {
	items []Item
	pos   int
}

// NewMemory creates a source over items.
func NewMemory(items ...Item) *Memory {
	return &Memory{items: items}
}

// RunItem wraps a run header.
func RunItem(number int32) Item {
	return Item{Run: &model.RunHeader{Number: number}}
}

// EventItem wraps an event.
func EventItem(ev *model.Event) Item {
	return Item{Event: ev}
}

// Next returns the next item or io.EOF.
func (m *Memory) Next(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, errors.ContextCanceled("read", err)
	}
	if m.pos >= len(m.items) {
		return Item{}, io.EOF
	}
	it := m.items[m.pos]
	m.pos++
	return it, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Encoder writes items as JSON lines, the format JSONL reads.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes one item.
func (e *Encoder) Encode(it Item) error {
	switch {
	case it.Run != nil:
		return e.enc.Encode(record{Kind: KindRun, Run: it.Run.Number, Detector: it.Run.Detector, Description: it.Run.Description})
	case it.Event != nil:
		return e.enc.Encode(record{Kind: KindEvent, Run: it.Event.Run, Event: it.Event.Number, Collections: it.Event.Collections})
	default:
		return fmt.Errorf("empty item")
	}
}
