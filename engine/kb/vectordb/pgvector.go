package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// pgStore persists chunks in a postgres table with a pgvector embedding
// column. Metadata lands in JSONB so search filters can address arbitrary
// keys with the ->> operator.
type pgStore struct {
	pool      *pgxpool.Pool
	id        string
	table     string
	index     string
	dimension int
	metric    string
	ensureIdx bool
}

func newPGStore(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("vector_db config is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("vector_db %q: connect to postgres: %w", cfg.ID, err)
	}
	tableName := firstNonEmpty(cfg.Table, cfg.Collection, "kb_chunks")
	indexName := cfg.Index
	if indexName == "" {
		indexName = tableName + "_embedding_idx"
	}
	store := &pgStore{
		pool:      pool,
		id:        cfg.ID,
		table:     pgx.Identifier{tableName}.Sanitize(),
		index:     pgx.Identifier{indexName}.Sanitize(),
		dimension: cfg.Dimension,
		metric:    strings.ToLower(strings.TrimSpace(cfg.Metric)),
		ensureIdx: cfg.EnsureIndex,
	}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	trackVectorPool(cfg.ID, pool)
	return store, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (p *pgStore) migrate(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("pgvector: acquire connection: %w", err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("pgvector: enable extension: %w", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		embedding vector(%d),
		document TEXT,
		metadata JSONB,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`, p.table, p.dimension)
	if _, err := conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}
	if !p.ensureIdx {
		return nil
	}
	distance := p.metric
	if distance == "" {
		distance = "cosine"
	}
	indexDDL := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding vector_%s_ops)",
		p.index, p.table, distance,
	)
	if _, err := conn.Exec(ctx, indexDDL); err != nil {
		return fmt.Errorf("pgvector: create index: %w", err)
	}
	return nil
}

func (p *pgStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (id, embedding, document, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    embedding = excluded.embedding,
    document = excluded.document,
    metadata = excluded.metadata,
    updated_at = excluded.updated_at`, p.table)
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for i := range records {
		rec := records[i]
		if len(rec.Embedding) != p.dimension {
			return fmt.Errorf("pgvector: record %q has dimension %d, want %d",
				rec.ID, len(rec.Embedding), p.dimension)
		}
		metadata, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("pgvector: marshal metadata for %q: %w", rec.ID, err)
		}
		batch.Queue(stmt, rec.ID, pgvector.NewVector(rec.Embedding), rec.Text, metadata, now)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		recordVectorError(ctx, "upsert", "pgvector")
		return fmt.Errorf("pgvector: upsert batch: %w", err)
	}
	return nil
}

func (p *pgStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != p.dimension {
		return nil, fmt.Errorf("pgvector: query has dimension %d, want %d", len(query), p.dimension)
	}
	limit := opts.TopK
	if limit <= 0 {
		limit = defaultTopK
	}
	started := time.Now()
	var sql strings.Builder
	fmt.Fprintf(&sql, "SELECT id, document, metadata, 1 - (embedding <=> $1) AS score FROM %s WHERE 1=1", p.table)
	args := []any{pgvector.NewVector(query)}
	next := 2
	for key, value := range opts.Filters {
		fmt.Fprintf(&sql, " AND metadata ->> $%d = $%d", next, next+1)
		args = append(args, key, value)
		next += 2
	}
	if opts.MinScore > 0 {
		fmt.Fprintf(&sql, " AND 1 - (embedding <=> $1) >= $%d", next)
		args = append(args, opts.MinScore)
		next++
	}
	fmt.Fprintf(&sql, " ORDER BY embedding <=> $1 ASC LIMIT $%d", next)
	args = append(args, limit)

	rows, err := p.pool.Query(ctx, sql.String(), args...)
	if err != nil {
		recordVectorError(ctx, "search", "pgvector")
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()
	matches := make([]Match, 0, limit)
	for rows.Next() {
		var (
			id       string
			document string
			rawMeta  []byte
			score    float64
		)
		if err := rows.Scan(&id, &document, &rawMeta, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan row: %w", err)
		}
		meta := make(map[string]any)
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &meta); err != nil {
				return nil, fmt.Errorf("pgvector: decode metadata for %q: %w", id, err)
			}
		}
		matches = append(matches, Match{ID: id, Score: score, Text: document, Metadata: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search rows: %w", err)
	}
	recordVectorSearch(ctx, "pgvector", limit, time.Since(started), len(matches))
	return matches, nil
}

func (p *pgStore) Delete(ctx context.Context, filter Filter) error {
	if len(filter.IDs) == 0 && len(filter.Metadata) == 0 {
		return nil
	}
	var sql strings.Builder
	fmt.Fprintf(&sql, "DELETE FROM %s WHERE 1=1", p.table)
	args := make([]any, 0, 1+2*len(filter.Metadata))
	next := 1
	if len(filter.IDs) > 0 {
		fmt.Fprintf(&sql, " AND id = ANY($%d)", next)
		args = append(args, filter.IDs)
		next++
	}
	for key, value := range filter.Metadata {
		fmt.Fprintf(&sql, " AND metadata ->> $%d = $%d", next, next+1)
		args = append(args, key, value)
		next += 2
	}
	if _, err := p.pool.Exec(ctx, sql.String(), args...); err != nil {
		recordVectorError(ctx, "delete", "pgvector")
		return fmt.Errorf("pgvector: delete: %w", err)
	}
	return nil
}

func (p *pgStore) Stats(ctx context.Context) (Stats, error) {
	var count int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+p.table).Scan(&count); err != nil {
		return Stats{}, fmt.Errorf("pgvector: count records: %w", err)
	}
	return Stats{Provider: ProviderPGVector, Records: count, Dimension: p.dimension}, nil
}

func (p *pgStore) Close(_ context.Context) error {
	untrackVectorPool(p.id)
	p.pool.Close()
	return nil
}
