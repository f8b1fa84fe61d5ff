package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"

	"github.com/inquira/inquira/engine/core"
)

// redisStore maps the index onto a redis vector set. Chunk text and metadata
// travel as the element's JSON attribute payload; metadata values are also
// flattened into meta_* attributes so FILTER expressions can reach them.
type redisStore struct {
	client    *redis.Client
	vectorSet string
	dimension int
	maxTopK   int
}

const (
	redisMaxTopKDefault = 1000
	redisAttrText       = "text"
	redisAttrMetadata   = "_metadata"
	redisAttrMetaPrefix = "meta_"
	redisFallbackSet    = "kb_vectors"
)

func newRedisStore(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("vector_db config is required")
	}
	opt, err := redis.ParseURL(strings.TrimSpace(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("redis vector_db %q: invalid dsn: %w", cfg.ID, err)
	}
	// Vector set commands require RESP3.
	opt.Protocol = 3
	opt.UnstableResp3 = true
	if opt.Username == "" {
		opt.Username = strings.TrimSpace(cfg.Auth["username"])
	}
	if opt.Password == "" {
		opt.Password = cfg.Auth["password"]
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis vector_db %q: ping failed: %w", cfg.ID, err)
	}
	maxTopK := cfg.MaxTopK
	if maxTopK <= 0 {
		maxTopK = redisMaxTopKDefault
	}
	return &redisStore{
		client:    client,
		vectorSet: redisSetName(cfg),
		dimension: cfg.Dimension,
		maxTopK:   maxTopK,
	}, nil
}

// redisSetName picks the first usable naming field, preferring the most
// specific one.
func redisSetName(cfg *Config) string {
	for _, candidate := range []string{cfg.Collection, cfg.Namespace, cfg.Index, cfg.Table, cfg.ID} {
		if name := sanitizeRedisToken(candidate, ":-_"); name != "" {
			return name
		}
	}
	return redisFallbackSet
}

// sanitizeRedisToken lowercases the input and squashes anything outside
// [a-z0-9] plus the allowed punctuation to underscores.
func sanitizeRedisToken(raw string, keep string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
		case strings.ContainsRune(keep, r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_:-")
}

func (r *redisStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, rec := range records {
		if len(rec.Embedding) != r.dimension {
			return fmt.Errorf("redis: record %q has dimension %d, want %d",
				rec.ID, len(rec.Embedding), r.dimension)
		}
		pipe.VAdd(ctx, r.vectorSet, rec.ID, &redis.VectorValues{Val: widenVector(rec.Embedding)})
		pipe.VSetAttr(ctx, r.vectorSet, rec.ID, r.attributePayload(rec))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		recordVectorError(ctx, "upsert", "redis")
		return fmt.Errorf("redis: upsert pipeline: %w", err)
	}
	return nil
}

func (r *redisStore) attributePayload(rec Record) map[string]any {
	attrs := make(map[string]any, len(rec.Metadata)+2)
	attrs[redisAttrText] = rec.Text
	meta := core.CloneMap(rec.Metadata)
	if meta == nil {
		meta = make(map[string]any)
	}
	attrs[redisAttrMetadata] = meta
	for key, value := range rec.Metadata {
		attrs[redisMetaAttr(key)] = fmt.Sprint(value)
	}
	return attrs
}

func redisMetaAttr(key string) string {
	token := sanitizeRedisToken(key, "")
	if token == "" {
		token = "unknown"
	}
	return redisAttrMetaPrefix + token
}

func (r *redisStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != r.dimension {
		return nil, fmt.Errorf("redis: query has dimension %d, want %d", len(query), r.dimension)
	}
	started := time.Now()
	count := opts.TopK
	if count <= 0 {
		count = defaultTopK
	}
	if count > r.maxTopK {
		count = r.maxTopK
	}
	args := &redis.VSimArgs{Count: int64(count), Filter: redisFilterExpr(opts.Filters)}
	scored, err := r.client.VSimWithArgsWithScores(
		ctx,
		r.vectorSet,
		&redis.VectorValues{Val: widenVector(query)},
		args,
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		recordVectorError(ctx, "search", "redis")
		return nil, fmt.Errorf("redis: similarity search: %w", err)
	}
	matches, err := r.hydrateMatches(ctx, scored, opts.MinScore)
	if err != nil {
		return nil, err
	}
	recordVectorSearch(ctx, "redis", count, time.Since(started), len(matches))
	return matches, nil
}

// hydrateMatches fetches each hit's attribute payload in one pipeline and
// decodes text plus metadata out of it. Hits whose attributes vanished
// between VSIM and VGETATTR are dropped.
func (r *redisStore) hydrateMatches(
	ctx context.Context,
	scored []redis.VectorScore,
	minScore float64,
) ([]Match, error) {
	if len(scored) == 0 {
		return nil, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(scored))
	for i := range scored {
		cmds[i] = pipe.VGetAttr(ctx, r.vectorSet, scored[i].Name)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: fetch attributes: %w", err)
	}
	matches := make([]Match, 0, len(scored))
	for i, hit := range scored {
		if minScore > 0 && hit.Score < minScore {
			continue
		}
		payload, err := cmds[i].Result()
		if errors.Is(err, redis.Nil) || strings.TrimSpace(payload) == "" {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: read attributes for %q: %w", hit.Name, err)
		}
		text, meta, err := decodeRedisAttrs(payload)
		if err != nil {
			return nil, fmt.Errorf("redis: parse attributes for %q: %w", hit.Name, err)
		}
		matches = append(matches, Match{ID: hit.Name, Score: hit.Score, Text: text, Metadata: meta})
	}
	return matches, nil
}

func decodeRedisAttrs(payload string) (string, map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return "", nil, err
	}
	text, _ := decoded[redisAttrText].(string)
	meta, ok := decoded[redisAttrMetadata].(map[string]any)
	if !ok || meta == nil {
		meta = make(map[string]any)
	}
	return text, meta, nil
}

func (r *redisStore) Delete(ctx context.Context, filter Filter) error {
	targets := make(map[string]struct{}, len(filter.IDs))
	for _, id := range filter.IDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			targets[trimmed] = struct{}{}
		}
	}
	if len(filter.Metadata) > 0 {
		ids, err := r.matchIDsByMetadata(ctx, filter.Metadata)
		if err != nil {
			return err
		}
		for _, id := range ids {
			targets[id] = struct{}{}
		}
	}
	if len(targets) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for id := range targets {
		pipe.VRem(ctx, r.vectorSet, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		recordVectorError(ctx, "delete", "redis")
		return fmt.Errorf("redis: delete vectors: %w", err)
	}
	return nil
}

// matchIDsByMetadata abuses VSIM with a zero vector and a FILTER expression
// to enumerate members; vector sets have no native scan-by-attribute.
func (r *redisStore) matchIDsByMetadata(ctx context.Context, metadata map[string]string) ([]string, error) {
	expr := redisFilterExpr(metadata)
	if expr == "" {
		return nil, nil
	}
	total, err := r.client.VCard(ctx, r.vectorSet).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: vcard: %w", err)
	}
	if total == 0 {
		return nil, nil
	}
	names, err := r.client.VSimWithArgs(
		ctx,
		r.vectorSet,
		&redis.VectorValues{Val: make([]float64, r.dimension)},
		&redis.VSimArgs{Count: total, Filter: expr},
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: metadata filter query: %w", err)
	}
	return names, nil
}

func (r *redisStore) Stats(ctx context.Context) (Stats, error) {
	total, err := r.client.VCard(ctx, r.vectorSet).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("redis: vcard: %w", err)
	}
	return Stats{Provider: ProviderRedis, Records: total, Dimension: r.dimension}, nil
}

func (r *redisStore) Close(context.Context) error {
	return r.client.Close()
}

func redisFilterExpr(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	escaper := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	clauses := make([]string, 0, len(keys))
	for _, key := range keys {
		clauses = append(clauses, fmt.Sprintf(`.%s == "%s"`, redisMetaAttr(key), escaper.Replace(filters[key])))
	}
	return strings.Join(clauses, " && ")
}

func widenVector(values []float32) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = float64(values[i])
	}
	return out
}
