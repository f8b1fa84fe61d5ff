package vectordb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/inquira/inquira/engine/core"
)

// qdrantStore speaks the Qdrant REST API. Chunk text rides in the point
// payload under the "text" key next to the metadata.
type qdrantStore struct {
	http       *resty.Client
	collection string
	dimension  int
	metric     string
}

const qdrantTimeout = 10 * time.Second

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type qdrantHit struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type qdrantErrorBody struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func newQdrantStore(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("vector_db config is required")
	}
	base := strings.TrimRight(cfg.DSN, "/")
	if base == "" {
		return nil, fmt.Errorf("vector_db %q: qdrant dsn is required", cfg.ID)
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(qdrantTimeout).
		SetHeader("Content-Type", "application/json")
	if key := cfg.Auth["api_key"]; key != "" {
		client.SetHeader("api-key", key)
	}
	store := &qdrantStore{
		http:       client,
		collection: firstNonEmpty(cfg.Collection, cfg.Table, cfg.ID),
		dimension:  cfg.Dimension,
		metric:     qdrantDistance(cfg.Metric),
	}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func qdrantDistance(metric string) string {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "euclid", "euclidean", "l2":
		return "Euclid"
	case "dot", "dotproduct":
		return "Dot"
	default:
		return "Cosine"
	}
}

func (q *qdrantStore) ensureCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{"size": q.dimension, "distance": q.metric},
	}
	return q.call(ctx, resty.MethodPut, "/collections/"+q.collection, body, nil)
}

func (q *qdrantStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]qdrantPoint, 0, len(records))
	for i := range records {
		rec := records[i]
		if len(rec.Embedding) != q.dimension {
			return fmt.Errorf("qdrant: record %q has dimension %d, want %d",
				rec.ID, len(rec.Embedding), q.dimension)
		}
		payload := core.CloneMap(rec.Metadata)
		if payload == nil {
			payload = make(map[string]any)
		}
		payload["text"] = rec.Text
		points = append(points, qdrantPoint{ID: rec.ID, Vector: rec.Embedding, Payload: payload})
	}
	path := fmt.Sprintf("/collections/%s/points", q.collection)
	if err := q.call(ctx, resty.MethodPut, path, map[string]any{"points": points}, nil); err != nil {
		recordVectorError(ctx, "upsert", "qdrant")
		return err
	}
	return nil
}

func (q *qdrantStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != q.dimension {
		return nil, fmt.Errorf("qdrant: query has dimension %d, want %d", len(query), q.dimension)
	}
	limit := opts.TopK
	if limit <= 0 {
		limit = defaultTopK
	}
	started := time.Now()
	body := map[string]any{
		"vector":       query,
		"limit":        limit,
		"with_payload": true,
	}
	if clause := qdrantMustClause(opts.Filters); clause != nil {
		body["filter"] = clause
	}
	var response struct {
		Result []qdrantHit `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", q.collection)
	if err := q.call(ctx, resty.MethodPost, path, body, &response); err != nil {
		recordVectorError(ctx, "search", "qdrant")
		return nil, err
	}
	matches := make([]Match, 0, len(response.Result))
	for _, hit := range response.Result {
		if hit.Score < opts.MinScore {
			continue
		}
		payload := hit.Payload
		if payload == nil {
			payload = make(map[string]any)
		}
		text, _ := payload["text"].(string)
		delete(payload, "text")
		matches = append(matches, Match{
			ID:       fmt.Sprint(hit.ID),
			Score:    hit.Score,
			Text:     text,
			Metadata: payload,
		})
	}
	recordVectorSearch(ctx, "qdrant", limit, time.Since(started), len(matches))
	return matches, nil
}

func (q *qdrantStore) Delete(ctx context.Context, filter Filter) error {
	body := map[string]any{}
	if len(filter.IDs) > 0 {
		body["points"] = filter.IDs
	}
	if clause := qdrantMustClause(filter.Metadata); clause != nil {
		body["filter"] = clause
	}
	if len(body) == 0 {
		return nil
	}
	path := fmt.Sprintf("/collections/%s/points/delete", q.collection)
	if err := q.call(ctx, resty.MethodPost, path, body, nil); err != nil {
		recordVectorError(ctx, "delete", "qdrant")
		return err
	}
	return nil
}

func (q *qdrantStore) Stats(ctx context.Context) (Stats, error) {
	var response struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
		} `json:"result"`
	}
	if err := q.call(ctx, resty.MethodGet, "/collections/"+q.collection, nil, &response); err != nil {
		return Stats{}, err
	}
	return Stats{
		Provider:  ProviderQdrant,
		Records:   response.Result.PointsCount,
		Dimension: q.dimension,
	}, nil
}

func (q *qdrantStore) Close(context.Context) error {
	return nil
}

func qdrantMustClause(filters map[string]string) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	must := make([]any, 0, len(filters))
	for key, value := range filters {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value},
		})
	}
	return map[string]any{"must": must}
}

func (q *qdrantStore) call(ctx context.Context, method, path string, body any, out any) error {
	req := q.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	var apiErr qdrantErrorBody
	req.SetError(&apiErr)
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("qdrant: %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return fmt.Errorf("qdrant: %s (%d): %s", apiErr.Error, resp.StatusCode(), apiErr.Status)
		}
		return fmt.Errorf("qdrant: %s %s failed with status %d", method, path, resp.StatusCode())
	}
	return nil
}
