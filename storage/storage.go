// Package storage defines the persisted layouts used by flagging and the
// example cache, and an in-memory implementation of each.
//
// A Log is append-only: every record receives the next index, starting at
// 0, and is never modified afterwards. A Table stores one record per
// integer key and is used for cached example outputs.
//
// Implementations must be safe for concurrent use.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/sandutsar/gradio/errors"
)

// Record is one persisted prediction.
type Record struct {
	Index     int       `json:"index"`
	Inputs    []any     `json:"inputs"`
	Outputs   []any     `json:"outputs"`
	Label     string    `json:"label,omitempty"`
	Requester string    `json:"requester,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// Amends is set when the record relabels an earlier one instead of
	// describing a new prediction.
	Amends *int `json:"amends,omitempty"`
}

// Log is an append-only sequence of records.
type Log interface {
	// Append stores rec at the next index and returns that index.
	Append(ctx context.Context, rec Record) (int, error)
	// Get returns the record at index or errors.ErrRecordNotFound.
	Get(ctx context.Context, index int) (Record, error)
	// Len returns the number of records appended so far.
	Len(ctx context.Context) (int, error)
	Close() error
}

// Table stores records by integer key.
type Table interface {
	// Load returns the record under key or errors.ErrRecordNotFound.
	Load(ctx context.Context, key int) (Record, error)
	Store(ctx context.Context, key int, rec Record) error
	Close() error
}

// MemoryLog is a Log held in process memory.
type MemoryLog struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, rec Record) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.Index = len(l.records)
	l.records = append(l.records, rec)
	return rec.Index, nil
}

func (l *MemoryLog) Get(_ context.Context, index int) (Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index < 0 || index >= len(l.records) {
		return Record{}, errors.ErrRecordNotFound
	}
	return l.records[index], nil
}

func (l *MemoryLog) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records), nil
}

func (l *MemoryLog) Close() error { return nil }

// MemoryTable is a Table held in process memory.
type MemoryTable struct {
	mu   sync.RWMutex
	rows map[int]Record
}

// NewMemoryTable creates an empty table.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{rows: make(map[int]Record)}
}

func (t *MemoryTable) Load(_ context.Context, key int) (Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.rows[key]
	if !ok {
		return Record{}, errors.ErrRecordNotFound
	}
	return rec, nil
}

func (t *MemoryTable) Store(_ context.Context, key int, rec Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec.Index = key
	t.rows[key] = rec
	return nil
}

func (t *MemoryTable) Close() error { return nil }

// Resolve returns the record at index with the label of its latest
// amendment applied. Amendment records themselves resolve to their target.
func Resolve(ctx context.Context, log Log, index int) (Record, error) {
	rec, err := log.Get(ctx, index)
	if err != nil {
		return Record{}, err
	}
	if rec.Amends != nil {
		return Resolve(ctx, log, *rec.Amends)
	}

	n, err := log.Len(ctx)
	if err != nil {
		return Record{}, err
	}
	for i := index + 1; i < n; i++ {
		later, err := log.Get(ctx, i)
		if err != nil {
			return Record{}, err
		}
		if later.Amends != nil && *later.Amends == index {
			rec.Label = later.Label
		}
	}
	return rec, nil
}
