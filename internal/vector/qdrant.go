package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/latticemcp/lattice/internal/errors"
)

// pointNamespace is the UUIDv5 namespace for deriving qdrant point ids
// from chunk ids. Fixed so the mapping is stable across processes.
var pointNamespace = uuid.MustParse("8c9e6f2a-41d3-4bfb-9c1d-3e2a7f5b8d60")

// PointID derives the deterministic qdrant point id for a chunk id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// QdrantConfig configures the remote backend. Port is the gRPC port
// (6334), not the HTTP one.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantStore is the remote backend over qdrant's gRPC API. The chunk
// id travels in the payload because qdrant point ids must be UUIDs.
type QdrantStore struct {
	client *qdrant.Client
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to a qdrant server.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, errors.VectorUnavailable(err)
	}
	return &QdrantStore{client: client}, nil
}

// CreateCollection implements Store.
func (s *QdrantStore) CreateCollection(ctx context.Context, name string, dim int) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return errors.VectorUnavailable(err)
	}
	if exists {
		current, err := s.CollectionDimensions(ctx, name)
		if err != nil {
			return err
		}
		if current != dim {
			return errors.DimensionMismatch(name, current, dim)
		}
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return errors.VectorUnavailable(err)
	}
	return nil
}

// DeleteCollection implements Store.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return errors.VectorUnavailable(err)
	}
	return nil
}

// CollectionExists implements Store.
func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, errors.VectorUnavailable(err)
	}
	return exists, nil
}

// CollectionDimensions implements Store.
func (s *QdrantStore) CollectionDimensions(ctx context.Context, name string) (int, error) {
	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return 0, errors.VectorUnavailable(err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return int(params.GetSize()), nil
}

// Upsert implements Store. Point ids are UUIDv5 of the chunk id, so
// re-upserting a chunk overwrites its point.
func (s *QdrantStore) Upsert(ctx context.Context, name string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(entries))
	for i, entry := range entries {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(entry.ID)),
			Vectors: qdrant.NewVectors(entry.Vector...),
			Payload: payloadToQdrant(entry.ID, entry.Payload),
		}
	}
	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return errors.VectorUnavailable(err)
	}
	return nil
}

// Delete implements Store.
func (s *QdrantStore) Delete(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(PointID(id))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return errors.VectorUnavailable(err)
	}
	return nil
}

// Search implements Store. Equality filters translate to qdrant match
// conditions; the path-prefix filter is applied client-side.
func (s *QdrantStore) Search(ctx context.Context, name string, vector []float32, k int, filter *Filter) ([]Scored, error) {
	fetch := uint64(k)
	if filter != nil && filter.PathPrefix != "" {
		fetch = uint64(k * 4)
	}
	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(fetch),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filterToQdrant(filter),
	})
	if err != nil {
		return nil, errors.VectorUnavailable(err)
	}

	results := make([]Scored, 0, k)
	for _, point := range res {
		id, payload := payloadFromQdrant(point.GetPayload())
		if id == "" {
			continue
		}
		if filter != nil && filter.PathPrefix != "" && !filter.Matches(payload) {
			continue
		}
		results = append(results, Scored{
			Entry: Entry{ID: id, Payload: payload},
			Score: point.GetScore(),
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Count implements Store.
func (s *QdrantStore) Count(ctx context.Context, name string) (int, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, errors.VectorUnavailable(err)
	}
	return int(count), nil
}

// Close implements Store.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func payloadToQdrant(chunkID string, p Payload) map[string]*qdrant.Value {
	values := map[string]any{
		"chunk_id":     chunkID,
		"project_id":   p.ProjectID,
		"file_path":    p.FilePath,
		"language":     p.Language,
		"symbol_kind":  p.SymbolKind,
		"symbol_name":  p.SymbolName,
		"byte_start":   int64(p.ByteStart),
		"byte_end":     int64(p.ByteEnd),
		"content_hash": p.ContentHash,
		"snippet":      p.Snippet,
	}
	if !p.ModTime.IsZero() {
		values["mtime"] = p.ModTime.UTC().Format(time.RFC3339Nano)
	}
	return qdrant.NewValueMap(values)
}

func payloadFromQdrant(values map[string]*qdrant.Value) (string, Payload) {
	str := func(key string) string {
		if v, ok := values[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	num := func(key string) int {
		if v, ok := values[key]; ok {
			return int(v.GetIntegerValue())
		}
		return 0
	}
	p := Payload{
		ProjectID:   str("project_id"),
		FilePath:    str("file_path"),
		Language:    str("language"),
		SymbolKind:  str("symbol_kind"),
		SymbolName:  str("symbol_name"),
		ByteStart:   num("byte_start"),
		ByteEnd:     num("byte_end"),
		ContentHash: str("content_hash"),
		Snippet:     str("snippet"),
	}
	if raw := str("mtime"); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			p.ModTime = t
		}
	}
	return str("chunk_id"), p
}

func filterToQdrant(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	var conditions []*qdrant.Condition
	add := func(field, value string) {
		if value == "" {
			return
		}
		conditions = append(conditions, qdrant.NewMatch(field, value))
	}
	add("project_id", f.ProjectID)
	add("language", f.Language)
	add("symbol_kind", f.SymbolKind)
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}
