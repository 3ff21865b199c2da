package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"topiclens/internal/model"
)

// JsonlStorage appends fetched source logs to a JSONL file.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

// PutLogBatch appends a batch of source logs as JSON lines.
func (s *JsonlStorage) PutLogBatch(logs []model.SourceLog) error {
	if len(logs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := NewJSONLWriter(s.path, true)
	if err != nil {
		return err
	}
	for _, record := range logs {
		if err := w.Write(record); err != nil {
			w.Close()
			return fmt.Errorf("write source log: %w", err)
		}
	}
	return w.Close()
}

// JSONLWriter writes one JSON value per line.
type JSONLWriter struct {
	file   *os.File
	writer *bufio.Writer
}

// NewJSONLWriter opens path for writing, creating parent directories. With appendMode
// unset the file is truncated.
func NewJSONLWriter(path string, appendMode bool) (*JSONLWriter, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &JSONLWriter{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (w *JSONLWriter) Write(value interface{}) error {
	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return w.WriteRaw(line)
}

// WriteRaw writes an already encoded JSON value.
func (w *JSONLWriter) WriteRaw(line []byte) error {
	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

func (w *JSONLWriter) Close() error {
	if w == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// JSONLSink writes decoded rows and errors to two JSONL files.
type JSONLSink struct {
	mu   sync.Mutex
	out  *JSONLWriter
	errs *JSONLWriter
}

// NewJSONLSink opens both files. With appendMode unset they are truncated.
func NewJSONLSink(outPath, errorsPath string, appendMode bool) (*JSONLSink, error) {
	out, err := NewJSONLWriter(outPath, appendMode)
	if err != nil {
		return nil, err
	}
	errs, err := NewJSONLWriter(errorsPath, appendMode)
	if err != nil {
		out.Close()
		return nil, err
	}
	return &JSONLSink{out: out, errs: errs}, nil
}

// PutDecodedBatch implements Sink.
func (s *JSONLSink) PutDecodedBatch(_ context.Context, rows []model.DecodedTopics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if err := s.out.Write(row); err != nil {
			return fmt.Errorf("write decoded row %d: %w", row.Seq, err)
		}
	}
	return nil
}

// PutErrorBatch implements Sink.
func (s *JSONLSink) PutErrorBatch(_ context.Context, errs []model.DecodeError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range errs {
		if err := s.errs.Write(rec); err != nil {
			return fmt.Errorf("write decode error %d: %w", rec.Seq, err)
		}
	}
	return nil
}

// Close flushes both files.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	outErr := s.out.Close()
	if err := s.errs.Close(); err != nil {
		return err
	}
	return outErr
}

// LineReader yields the non-blank lines of a JSONL stream with their 1-based line number.
type LineReader struct {
	scanner *bufio.Scanner
	lineNo  uint64
}

// NewLineReader wraps r. Lines up to 10MiB are accepted.
func NewLineReader(r io.Reader) *LineReader {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)
	return &LineReader{scanner: scanner}
}

// Next returns the next non-blank line. The slice is only valid until the following call.
func (r *LineReader) Next() (uint64, []byte, bool) {
	for r.scanner.Scan() {
		r.lineNo++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return r.lineNo, line, true
	}
	return 0, nil, false
}

// Err reports the first read error.
func (r *LineReader) Err() error {
	if err := r.scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}
	return nil
}

// RefOf extracts provenance fields from a raw input line. Lines that carry none, or that
// are not JSON objects, yield the zero LogRef.
func RefOf(line []byte) model.LogRef {
	var ref model.LogRef
	_ = json.Unmarshal(line, &ref)
	return ref
}
