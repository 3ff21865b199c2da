package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"topiclens/internal/model"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS decoded_topics (
	source        TEXT    NOT NULL,
	seq           BIGINT  NOT NULL,
	chain_id      BIGINT,
	block_number  BIGINT,
	tx_hash       TEXT,
	log_index     BIGINT,
	address       TEXT,
	index_topic_0 TEXT    NOT NULL,
	index_topic_1 TEXT    NOT NULL,
	index_topic_2 TEXT    NOT NULL,
	index_topic_3 TEXT    NOT NULL,
	index_topic_4 TEXT    NOT NULL,
	value         TEXT    NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (source, seq)
);
CREATE TABLE IF NOT EXISTS decode_errors (
	source       TEXT   NOT NULL,
	seq          BIGINT NOT NULL,
	chain_id     BIGINT,
	block_number BIGINT,
	tx_hash      TEXT,
	log_index    BIGINT,
	address      TEXT,
	kind         TEXT   NOT NULL,
	error        TEXT   NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (source, seq)
);
CREATE TABLE IF NOT EXISTS decode_state (
	name          TEXT PRIMARY KEY,
	last_seq      BIGINT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store persists decoded topics for one input source.
type Store struct {
	pool   *pgxpool.Pool
	source string
}

// NewStore connects to dsn. Rows are keyed by (source, seq) so re-running the same input
// overwrites instead of duplicating.
func NewStore(ctx context.Context, dsn, source string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if source == "" {
		return nil, fmt.Errorf("source name is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, source: source}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const (
	upsertDecodedSQL = `
		INSERT INTO decoded_topics (
			source, seq, chain_id, block_number, tx_hash, log_index, address,
			index_topic_0, index_topic_1, index_topic_2, index_topic_3, index_topic_4, value,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())
		ON CONFLICT (source, seq)
		DO UPDATE SET
			chain_id = EXCLUDED.chain_id,
			block_number = EXCLUDED.block_number,
			tx_hash = EXCLUDED.tx_hash,
			log_index = EXCLUDED.log_index,
			address = EXCLUDED.address,
			index_topic_0 = EXCLUDED.index_topic_0,
			index_topic_1 = EXCLUDED.index_topic_1,
			index_topic_2 = EXCLUDED.index_topic_2,
			index_topic_3 = EXCLUDED.index_topic_3,
			index_topic_4 = EXCLUDED.index_topic_4,
			value = EXCLUDED.value,
			updated_at = now()
	`
	upsertErrorSQL = `
		INSERT INTO decode_errors (
			source, seq, chain_id, block_number, tx_hash, log_index, address, kind, error, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
		ON CONFLICT (source, seq)
		DO UPDATE SET
			chain_id = EXCLUDED.chain_id,
			block_number = EXCLUDED.block_number,
			tx_hash = EXCLUDED.tx_hash,
			log_index = EXCLUDED.log_index,
			address = EXCLUDED.address,
			kind = EXCLUDED.kind,
			error = EXCLUDED.error
	`
	deleteDecodedSQL = `DELETE FROM decoded_topics WHERE source = $1 AND seq = $2`
	deleteErrorSQL   = `DELETE FROM decode_errors WHERE source = $1 AND seq = $2`
)

// PutDecodedBatch inserts or updates decoded rows.
func (s *Store) PutDecodedBatch(ctx context.Context, rows []model.DecodedTopics) error {
	if len(rows) == 0 {
		return nil
	}
	return s.sendBatch(ctx, decodedBatch(s.source, rows))
}

// PutErrorBatch records failed pulls.
func (s *Store) PutErrorBatch(ctx context.Context, errs []model.DecodeError) error {
	if len(errs) == 0 {
		return nil
	}
	return s.sendBatch(ctx, errorBatch(s.source, errs))
}

// decodedBatch upserts each row and drops any error an earlier run stored for the same
// seq. A seq lives in exactly one of the two tables.
func decodedBatch(source string, rows []model.DecodedTopics) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, row := range rows {
		seq := int64(row.Seq)
		batch.Queue(upsertDecodedSQL, append([]any{source, seq}, refArgs(row.LogRef, row.IndexTopic0, row.IndexTopic1, row.IndexTopic2, row.IndexTopic3, row.IndexTopic4, row.Value)...)...)
		batch.Queue(deleteErrorSQL, source, seq)
	}
	return batch
}

// errorBatch is the counterpart of decodedBatch for failed pulls.
func errorBatch(source string, errs []model.DecodeError) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, rec := range errs {
		seq := int64(rec.Seq)
		batch.Queue(upsertErrorSQL, append([]any{source, seq}, refArgs(rec.LogRef, rec.Kind, rec.Error)...)...)
		batch.Queue(deleteDecodedSQL, source, seq)
	}
	return batch
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// refArgs expands provenance into nullable columns followed by extra.
func refArgs(ref model.LogRef, extra ...any) []any {
	args := make([]any, 0, 5+len(extra))
	if ref.IsZero() {
		args = append(args, nil, nil, nil, nil, nil)
	} else {
		args = append(args, int64(ref.ChainID), int64(ref.BlockNumber), ref.TxHash, int64(ref.LogIndex), ref.Address)
	}
	return append(args, extra...)
}

// LoadState returns the last committed seq for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var seq int64
	row := s.pool.QueryRow(ctx, `SELECT last_seq FROM decode_state WHERE name=$1`, name)
	if err := row.Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(seq), true, nil
}

// SaveState upserts the last committed seq for a name.
func (s *Store) SaveState(ctx context.Context, name string, seq uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO decode_state (name, last_seq, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_seq = EXCLUDED.last_seq, updated_at = now()
	`, name, int64(seq))
	return err
}
