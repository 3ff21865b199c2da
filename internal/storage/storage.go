package storage

import (
	"context"

	"topiclens/internal/model"
)

// LogSink receives fetched source logs.
type LogSink interface {
	PutLogBatch(logs []model.SourceLog) error
}

// Sink receives decoded rows and the failures of the errors side channel.
type Sink interface {
	PutDecodedBatch(ctx context.Context, rows []model.DecodedTopics) error
	PutErrorBatch(ctx context.Context, errs []model.DecodeError) error
}

// MultiSink fans every batch out to each sink in order and stops at the first failure.
type MultiSink []Sink

// PutDecodedBatch implements Sink.
func (m MultiSink) PutDecodedBatch(ctx context.Context, rows []model.DecodedTopics) error {
	for _, s := range m {
		if err := s.PutDecodedBatch(ctx, rows); err != nil {
			return err
		}
	}
	return nil
}

// PutErrorBatch implements Sink.
func (m MultiSink) PutErrorBatch(ctx context.Context, errs []model.DecodeError) error {
	for _, s := range m {
		if err := s.PutErrorBatch(ctx, errs); err != nil {
			return err
		}
	}
	return nil
}
