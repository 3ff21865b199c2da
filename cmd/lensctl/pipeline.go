package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"topiclens/internal/decoder"
	"topiclens/internal/model"
	"topiclens/internal/storage"
	"topiclens/internal/stream"
)

// lineSource serves JSONL lines as pull results. A literal null line is an absent pull.
// It remembers the line number and provenance of the last pull for error reporting.
type lineSource struct {
	reader      *storage.LineReader
	abiJSON     []byte
	skipThrough uint64

	seq uint64
	ref model.LogRef
}

var nullLine = []byte("null")

func (s *lineSource) Pull() (stream.Input, error) {
	for {
		seq, line, ok := s.reader.Next()
		if !ok {
			s.seq, s.ref = 0, model.LogRef{}
			return stream.Input{Item: stream.EndOfStream[[]byte]()}, nil
		}
		if seq <= s.skipThrough {
			continue
		}

		s.seq = seq
		if bytes.Equal(line, nullLine) {
			s.ref = model.LogRef{}
			return stream.Input{Item: stream.Absent[[]byte]()}, nil
		}
		s.ref = storage.RefOf(line)
		return stream.Input{Item: stream.Some(withABI(line, s.abiJSON))}, nil
	}
}

// withABI embeds abiJSON into records that carry none. Lines that do not parse are
// returned as they are so the decoder reports them.
func withABI(line, abiJSON []byte) []byte {
	out := make([]byte, len(line))
	copy(out, line)
	if len(abiJSON) == 0 {
		return out
	}
	rec, err := model.ParseInputRecord(line)
	if err != nil || rec.HasABI() {
		return out
	}
	rec.ABI = abiJSON
	encoded, err := json.Marshal(rec)
	if err != nil {
		return out
	}
	return encoded
}

// loadABI resolves the --abi-preset / --abi-file pair. Both empty means no injection.
func loadABI(preset, file string) ([]byte, error) {
	switch {
	case preset != "" && file != "":
		return nil, fmt.Errorf("abi-preset and abi-file are mutually exclusive")
	case preset != "":
		return decoder.Preset(preset)
	case file != "":
		return readABIFile(file)
	default:
		return nil, nil
	}
}

func readABIFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read abi file: %w", err)
	}
	if _, err := decoder.ParseABI(data); err != nil {
		return nil, fmt.Errorf("abi file %s: %w", path, err)
	}
	return data, nil
}

// stepFunc produces the result of one pull.
type stepFunc func(ctx context.Context) (stream.Option[[]byte], error)

// counters tracks pipeline totals.
type counters struct {
	total   int
	decoded int
	absent  int
	failed  int
}

// resultWriter batches decoded rows and errors into a sink.
type resultWriter struct {
	sink      storage.Sink
	logger    *zap.Logger
	batchSize int
	onFlush   func(ctx context.Context, lastSeq uint64) error

	rows    []model.DecodedTopics
	errs    []model.DecodeError
	lastSeq uint64
	counts  counters
}

func (w *resultWriter) value(ctx context.Context, seq uint64, ref model.LogRef, payload []byte) error {
	var out model.OutputRecord
	if err := json.Unmarshal(payload, &out); err != nil {
		return w.failure(ctx, seq, ref, fmt.Errorf("%w: output record: %v", stream.ErrTransport, err))
	}
	w.counts.total++
	w.counts.decoded++
	w.rows = append(w.rows, model.DecodedTopics{Seq: seq, LogRef: ref, OutputRecord: out})
	return w.advance(ctx, seq)
}

func (w *resultWriter) absence(ctx context.Context, seq uint64) error {
	w.counts.total++
	w.counts.absent++
	return w.advance(ctx, seq)
}

func (w *resultWriter) failure(ctx context.Context, seq uint64, ref model.LogRef, err error) error {
	w.counts.total++
	w.counts.failed++
	kind := stream.ErrorKind(err)
	w.logger.Debug("decode failed", zap.Uint64("seq", seq), zap.String("kind", kind), zap.Error(err))
	w.errs = append(w.errs, model.DecodeError{Seq: seq, LogRef: ref, Kind: kind, Error: err.Error()})
	return w.advance(ctx, seq)
}

func (w *resultWriter) advance(ctx context.Context, seq uint64) error {
	if seq > w.lastSeq {
		w.lastSeq = seq
	}
	if len(w.rows)+len(w.errs) >= w.batchSize {
		return w.flush(ctx)
	}
	return nil
}

func (w *resultWriter) flush(ctx context.Context) error {
	if err := w.sink.PutDecodedBatch(ctx, w.rows); err != nil {
		return fmt.Errorf("store decoded rows: %w", err)
	}
	if err := w.sink.PutErrorBatch(ctx, w.errs); err != nil {
		return fmt.Errorf("store decode errors: %w", err)
	}
	w.rows = w.rows[:0]
	w.errs = w.errs[:0]
	if w.onFlush != nil && w.lastSeq > 0 {
		return w.onFlush(ctx, w.lastSeq)
	}
	return nil
}

// drain steps until end-of-stream. fatal decides which step errors abort the run instead
// of being recorded against the current line.
func drain(ctx context.Context, src *lineSource, step stepFunc, w *resultWriter, fatal func(error) bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := step(ctx)
		if err != nil {
			if fatal != nil && fatal(err) {
				return err
			}
			if err := w.failure(ctx, src.seq, src.ref, err); err != nil {
				return err
			}
			continue
		}

		switch out.Kind() {
		case stream.KindEndOfStream:
			if err := src.reader.Err(); err != nil {
				return err
			}
			return w.flush(ctx)
		case stream.KindAbsent:
			if err := w.absence(ctx, src.seq); err != nil {
				return err
			}
		case stream.KindValue:
			payload, _ := out.Get()
			if err := w.value(ctx, src.seq, src.ref, payload); err != nil {
				return err
			}
		default:
			return fmt.Errorf("seq %d: %w", src.seq, stream.ErrInvalidOption)
		}
	}
}
