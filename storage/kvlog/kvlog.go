// Package kvlog stores flag records and cached examples in a JetStream
// key-value bucket so that several server replicas share one index space.
package kvlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/natsclient"
	"github.com/sandutsar/gradio/pkg/retry"
	"github.com/sandutsar/gradio/storage"
)

// bucket is the part of natsclient.KVStore the log and table use.
type bucket interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
}

// Log is a storage.Log in a KV bucket. Records live under
// "<prefix>.rec.<index>" and "<prefix>.seq" holds the next free index.
// A record is created at the sequence value before the sequence moves, so
// a failed write reserves nothing and indices stay contiguous across
// processes. The sequence lags by at most one record; the next writer that
// collides with that record moves it forward.
type Log struct {
	kv     bucket
	prefix string
	retry  retry.Config
}

// NewLog creates a log under prefix.
func NewLog(kv *natsclient.KVStore, prefix string) *Log {
	return newLog(kv, prefix)
}

func newLog(kv bucket, prefix string) *Log {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 50
	cfg.InitialDelay = 5 * time.Millisecond
	cfg.MaxDelay = 250 * time.Millisecond
	cfg.Retryable = natsclient.IsKVConflictError
	return &Log{kv: kv, prefix: prefix, retry: cfg}
}

func (l *Log) seqKey() string         { return l.prefix + ".seq" }
func (l *Log) recordKey(i int) string { return fmt.Sprintf("%s.rec.%d", l.prefix, i) }

// sequence reads the next free index and its revision, 0 when unset.
func (l *Log) sequence(ctx context.Context) (int, uint64, error) {
	entry, err := l.kv.Get(ctx, l.seqKey())
	if natsclient.IsKVNotFoundError(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	next, err := strconv.Atoi(string(entry.Value))
	if err != nil {
		return 0, 0, retry.NonRetryable(fmt.Errorf("corrupt sequence %q: %w", entry.Value, err))
	}
	return next, entry.Revision, nil
}

// advance moves the sequence from next to next+1. A conflict means another
// writer already moved it.
func (l *Log) advance(ctx context.Context, next int, revision uint64) error {
	value := []byte(strconv.Itoa(next + 1))
	var err error
	if revision == 0 {
		_, err = l.kv.Create(ctx, l.seqKey(), value)
	} else {
		_, err = l.kv.Update(ctx, l.seqKey(), value, revision)
	}
	if natsclient.IsKVConflictError(err) {
		return nil
	}
	return err
}

func (l *Log) Append(ctx context.Context, rec storage.Record) (int, error) {
	if _, err := json.Marshal(rec); err != nil {
		return 0, errors.WrapInvalid(err, "kvlog.Log", "Append", "encode record")
	}

	idx, err := retry.DoWithResult(ctx, l.retry, func() (int, error) {
		next, revision, err := l.sequence(ctx)
		if err != nil {
			return 0, err
		}
		rec.Index = next
		data, err := json.Marshal(rec)
		if err != nil {
			return 0, retry.NonRetryable(err)
		}
		if _, err := l.kv.Create(ctx, l.recordKey(next), data); err != nil {
			if natsclient.IsKVConflictError(err) {
				if aerr := l.advance(ctx, next, revision); aerr != nil {
					return 0, retry.NonRetryable(aerr)
				}
			}
			return 0, err
		}
		// The record is stored; a sequence left behind is repaired by the
		// next writer.
		_ = l.advance(ctx, next, revision)
		return next, nil
	})
	if err != nil {
		return 0, errors.WrapTransient(err, "kvlog.Log", "Append", "write record")
	}
	return idx, nil
}

func (l *Log) Get(ctx context.Context, index int) (storage.Record, error) {
	return get(ctx, l.kv, l.recordKey(index))
}

func (l *Log) Len(ctx context.Context) (int, error) {
	n, _, err := l.sequence(ctx)
	if err != nil {
		if retry.IsNonRetryable(err) {
			return 0, errors.WrapFatal(err, "kvlog.Log", "Len", "parse sequence")
		}
		return 0, errors.WrapTransient(err, "kvlog.Log", "Len", "read sequence")
	}
	// Count a record written by a writer that has not moved the sequence yet.
	_, err = l.kv.Get(ctx, l.recordKey(n))
	switch {
	case err == nil:
		return n + 1, nil
	case natsclient.IsKVNotFoundError(err):
		return n, nil
	default:
		return 0, errors.WrapTransient(err, "kvlog.Log", "Len", "read record")
	}
}

func (l *Log) Close() error { return nil }

// Table is a storage.Table in a KV bucket.
type Table struct {
	kv     bucket
	prefix string
}

// NewTable creates a table under prefix.
func NewTable(kv *natsclient.KVStore, prefix string) *Table {
	return &Table{kv: kv, prefix: prefix}
}

func (t *Table) key(k int) string { return fmt.Sprintf("%s.%d", t.prefix, k) }

func (t *Table) Load(ctx context.Context, key int) (storage.Record, error) {
	return get(ctx, t.kv, t.key(key))
}

func (t *Table) Store(ctx context.Context, key int, rec storage.Record) error {
	rec.Index = key
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapInvalid(err, "kvlog.Table", "Store", "encode record")
	}
	if _, err := t.kv.Put(ctx, t.key(key), data); err != nil {
		return errors.WrapTransient(err, "kvlog.Table", "Store", "write record")
	}
	return nil
}

func (t *Table) Close() error { return nil }

func get(ctx context.Context, kv bucket, key string) (storage.Record, error) {
	entry, err := kv.Get(ctx, key)
	if natsclient.IsKVNotFoundError(err) {
		return storage.Record{}, errors.ErrRecordNotFound
	}
	if err != nil {
		return storage.Record{}, errors.WrapTransient(err, "kvlog", "Get", "read "+key)
	}
	var rec storage.Record
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return storage.Record{}, errors.WrapFatal(err, "kvlog", "Get", "decode "+key)
	}
	return rec, nil
}
