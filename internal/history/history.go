// Package history journals handled questions to an append-only JSONL file.
package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

// Outcome is how a question was handled.
type Outcome string

const (
	OutcomeStructured Outcome = "structured"
	OutcomeAnswered   Outcome = "answered"
	OutcomeNoAnswer   Outcome = "no_answer"
	OutcomeFailed     Outcome = "failed"
)

// FileName is the journal file inside the storage directory.
const FileName = "history.jsonl"

// Entry is one journaled question.
type Entry struct {
	Timestamp  time.Time            `json:"timestamp"`
	Sequence   int64                `json:"sequence"`
	Question   string               `json:"question"`
	Categories []inventory.Category `json:"categories,omitempty"`
	Route      string               `json:"route"`
	Model      string               `json:"model,omitempty"`
	Outcome    Outcome              `json:"outcome"`
	Error      string               `json:"error,omitempty"`
}

// Journal appends entries to a JSONL file.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	path     string
}

// Open creates or opens the journal in dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	path := filepath.Join(dir, FileName)
	seq, err := lastSequence(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}

	return &Journal{
		file:     file,
		writer:   bufio.NewWriter(file),
		sequence: seq,
		path:     path,
	}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

// Record appends e, stamping its sequence and, when unset, its timestamp.
func (j *Journal) Record(e Entry) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.sequence++
	e.Sequence = j.sequence
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal entry: %w", err)
	}
	if _, err := j.writer.Write(append(line, '\n')); err != nil {
		return Entry{}, fmt.Errorf("failed to write entry: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return Entry{}, fmt.Errorf("failed to flush: %w", err)
	}
	return e, j.file.Sync()
}

// Reader iterates the entries of a journal file.
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens the journal file at path.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Reader{scanner: scanner, file: file}, nil
}

// Next returns the next entry, or io.EOF.
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay calls handler for each entry recorded after since.
func Replay(path string, since time.Time, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}
}

// Latest returns up to n of the newest entries, oldest first.
func Latest(path string, n int) ([]Entry, error) {
	var ring []Entry
	err := Replay(path, time.Time{}, func(e *Entry) error {
		ring = append(ring, *e)
		if n > 0 && len(ring) > n {
			ring = ring[1:]
		}
		return nil
	})
	return ring, err
}

func lastSequence(path string) (int64, error) {
	var seq int64
	err := Replay(path, time.Time{}, func(e *Entry) error {
		if e.Sequence > seq {
			seq = e.Sequence
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan history: %w", err)
	}
	return seq, nil
}
