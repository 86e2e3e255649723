// Package filelog persists flag records and cached examples in plain files
// under a directory: an append-only CSV log with one row per record, and a
// JSON-lines table for keyed records.
package filelog

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/storage"
)

var trailer = []string{"flag", "username", "timestamp", "amends"}

// CSVLog is a storage.Log backed by a CSV file. The header row names the
// input and output columns followed by flag, username, timestamp and
// amends. Every cell holding a value is JSON encoded.
type CSVLog struct {
	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	inputs  int
	outputs int
	records []storage.Record
}

// OpenCSVLog opens or creates the log at path. An existing file must have
// the same number of input and output columns.
func OpenCSVLog(path string, inputHeaders, outputHeaders []string) (*CSVLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.WrapFatal(err, "CSVLog", "Open", "create directory")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "CSVLog", "Open", "open "+path)
	}

	l := &CSVLog{
		file:    f,
		writer:  csv.NewWriter(f),
		inputs:  len(inputHeaders),
		outputs: len(outputHeaders),
	}

	header := append(append(append([]string{}, inputHeaders...), outputHeaders...), trailer...)
	if err := l.load(header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

func (l *CSVLog) load(header []string) error {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return errors.WrapFatal(err, "CSVLog", "Open", "seek")
	}
	rows, err := csv.NewReader(l.file).ReadAll()
	if err != nil {
		return errors.WrapFatal(err, "CSVLog", "Open", "read existing rows")
	}

	if len(rows) == 0 {
		if err := l.writer.Write(header); err != nil {
			return errors.WrapFatal(err, "CSVLog", "Open", "write header")
		}
		l.writer.Flush()
		return l.writer.Error()
	}
	if len(rows[0]) != len(header) {
		return errors.WrapFatal(
			fmt.Errorf("header has %d columns, expected %d", len(rows[0]), len(header)),
			"CSVLog", "Open", "validate header")
	}

	for i, row := range rows[1:] {
		rec, err := l.decode(row)
		if err != nil {
			return errors.WrapFatal(err, "CSVLog", "Open", fmt.Sprintf("decode row %d", i))
		}
		rec.Index = i
		l.records = append(l.records, rec)
	}
	return nil
}

func encodeCell(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeCell(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	var v any
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

func (l *CSVLog) encode(rec storage.Record) ([]string, error) {
	if len(rec.Inputs) != l.inputs || len(rec.Outputs) != l.outputs {
		if rec.Amends == nil {
			return nil, fmt.Errorf("record has %d inputs and %d outputs, log expects %d and %d",
				len(rec.Inputs), len(rec.Outputs), l.inputs, l.outputs)
		}
	}

	row := make([]string, 0, l.inputs+l.outputs+len(trailer))
	for i := 0; i < l.inputs+l.outputs; i++ {
		var v any
		switch {
		case i < l.inputs && i < len(rec.Inputs):
			v = rec.Inputs[i]
		case i >= l.inputs && i-l.inputs < len(rec.Outputs):
			v = rec.Outputs[i-l.inputs]
		default:
			row = append(row, "")
			continue
		}
		cell, err := encodeCell(v)
		if err != nil {
			return nil, err
		}
		row = append(row, cell)
	}

	amends := ""
	if rec.Amends != nil {
		amends = strconv.Itoa(*rec.Amends)
	}
	return append(row, rec.Label, rec.Requester, rec.Timestamp.UTC().Format(time.RFC3339Nano), amends), nil
}

func (l *CSVLog) decode(row []string) (storage.Record, error) {
	var rec storage.Record
	for i := 0; i < l.inputs+l.outputs; i++ {
		v, err := decodeCell(row[i])
		if err != nil {
			return rec, err
		}
		if i < l.inputs {
			rec.Inputs = append(rec.Inputs, v)
		} else {
			rec.Outputs = append(rec.Outputs, v)
		}
	}

	t := row[l.inputs+l.outputs:]
	rec.Label = t[0]
	rec.Requester = t[1]
	if t[2] != "" {
		ts, err := time.Parse(time.RFC3339Nano, t[2])
		if err != nil {
			return rec, err
		}
		rec.Timestamp = ts
	}
	if t[3] != "" {
		n, err := strconv.Atoi(t[3])
		if err != nil {
			return rec, err
		}
		rec.Amends = &n
	}
	return rec, nil
}

func (l *CSVLog) Append(_ context.Context, rec storage.Record) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return 0, errors.ErrStorageUnavailable
	}
	row, err := l.encode(rec)
	if err != nil {
		return 0, errors.WrapInvalid(err, "CSVLog", "Append", "encode record")
	}
	if err := l.writer.Write(row); err != nil {
		return 0, errors.WrapTransient(err, "CSVLog", "Append", "write row")
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return 0, errors.WrapTransient(err, "CSVLog", "Append", "flush row")
	}

	rec.Index = len(l.records)
	l.records = append(l.records, rec)
	return rec.Index, nil
}

func (l *CSVLog) Get(_ context.Context, index int) (storage.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.records) {
		return storage.Record{}, errors.ErrRecordNotFound
	}
	return l.records[index], nil
}

func (l *CSVLog) Len(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records), nil
}

func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// JSONTable is a storage.Table backed by a JSON-lines file. Each Store
// appends a line; on open the last line for a key wins.
type JSONTable struct {
	mu   sync.Mutex
	file *os.File
	rows map[int]storage.Record
}

// OpenJSONTable opens or creates the table at path.
func OpenJSONTable(path string) (*JSONTable, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.WrapFatal(err, "JSONTable", "Open", "create directory")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "JSONTable", "Open", "open "+path)
	}

	t := &JSONTable{file: f, rows: make(map[int]storage.Record)}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec storage.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			_ = f.Close()
			return nil, errors.WrapFatal(err, "JSONTable", "Open", "decode line")
		}
		t.rows[rec.Index] = rec
	}
	if err := scanner.Err(); err != nil {
		_ = f.Close()
		return nil, errors.WrapFatal(err, "JSONTable", "Open", "scan file")
	}
	return t, nil
}

func (t *JSONTable) Load(_ context.Context, key int) (storage.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.rows[key]
	if !ok {
		return storage.Record{}, errors.ErrRecordNotFound
	}
	return rec, nil
}

func (t *JSONTable) Store(_ context.Context, key int, rec storage.Record) error {
	rec.Index = key
	line, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapInvalid(err, "JSONTable", "Store", "encode record")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return errors.ErrStorageUnavailable
	}
	if _, err := t.file.Write(append(line, '\n')); err != nil {
		return errors.WrapTransient(err, "JSONTable", "Store", "append line")
	}
	t.rows[key] = rec
	return nil
}

func (t *JSONTable) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
