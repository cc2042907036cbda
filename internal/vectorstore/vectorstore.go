// Package vectorstore wraps a Qdrant collection behind the C2 Vector
// Store Client contract: upsert, filtered ANN search, delete-by-document,
// and idempotent collection creation. Grounded on
// Tangerg-lynx/ai/providers/vectorstores/qdrant/store.go's use of
// github.com/qdrant/go-client, adapted from a framework-embeddable
// vectorstore.VectorStore to a narrower point/payload shape
// (confirmed by original_source/rag_service/services/qdrant_service.py,
// which talks to Qdrant directly rather than through pgvector).
package vectorstore

import (
	"context"
	"fmt"

	"github.com/normex/ragbox-normex/internal/apperr"
	"github.com/normex/ragbox-normex/internal/model"
	"github.com/qdrant/go-client/qdrant"
)

// Point is the upsert-time representation of one VectorPoint.
type Point = model.VectorPoint

// SearchHit is one ANN search result.
type SearchHit struct {
	ID      uint64
	Score   float64
	Payload model.VectorPoint
}

// Filter is a conjunction of {key, match_value} constraints over payload
// fields. Values may be string, int64, or bool.
type Filter struct {
	Constraints []Constraint
}

// Constraint is one (key, value) equality match.
type Constraint struct {
	Key   string
	Value any
}

// Client implements the C2 contract against a Qdrant collection.
type Client struct {
	qc         *qdrant.Client
	collection string
}

// Config configures a new Client.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// New dials Qdrant and returns a Client bound to Config.Collection. It
// does not create the collection; call EnsureCollection for that.
func New(cfg Config) (*Client, error) {
	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, apperr.New("vectorstore.New", apperr.Transient, err)
	}
	return &Client{qc: qc, collection: cfg.Collection}, nil
}

// EnsureCollection creates the collection with the given vector size and
// cosine distance if it does not already exist. Idempotent.
func (c *Client) EnsureCollection(ctx context.Context, dim int) error {
	const op = "vectorstore.EnsureCollection"
	exists, err := c.qc.CollectionExists(ctx, c.collection)
	if err != nil {
		return apperr.New(op, apperr.Transient, err)
	}
	if exists {
		return nil
	}

	err = c.qc.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return apperr.New(op, apperr.Transient, err)
	}
	return nil
}

// UpsertPoints upserts points, idempotent by point id.
func (c *Client) UpsertPoints(ctx context.Context, points []Point) error {
	const op = "vectorstore.UpsertPoints"
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payloadOf(p),
		})
	}

	wait := true
	_, err := c.qc.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.collection,
		Points:         structs,
		Wait:           &wait,
	})
	if err != nil {
		return apperr.New(op, apperr.Transient, err)
	}
	return nil
}

// Search performs ANN search over vector, returning up to k hits matching
// filter (nil = unfiltered).
func (c *Client) Search(ctx context.Context, vector []float32, k int, filter *Filter) ([]SearchHit, error) {
	const op = "vectorstore.Search"
	limit := uint64(k)
	withPayload := true

	qp := &qdrant.QueryPoints{
		CollectionName: c.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(withPayload),
	}
	if filter != nil && len(filter.Constraints) > 0 {
		qp.Filter = buildFilter(*filter)
	}

	points, err := c.qc.Query(ctx, qp)
	if err != nil {
		return nil, apperr.New(op, apperr.Transient, err)
	}

	hits := make([]SearchHit, 0, len(points))
	for _, pt := range points {
		hits = append(hits, SearchHit{
			ID:      idOf(pt.Id),
			Score:   float64(pt.Score),
			Payload: payloadFrom(pt.Payload),
		})
	}
	return hits, nil
}

// DeleteByDocument removes all points whose document_id payload field
// matches documentID.
func (c *Client) DeleteByDocument(ctx context.Context, documentID int64) error {
	const op = "vectorstore.DeleteByDocument"
	filter := buildFilter(Filter{Constraints: []Constraint{{Key: "document_id", Value: documentID}}})

	_, err := c.qc.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return apperr.New(op, apperr.Transient, err)
	}
	return nil
}

func buildFilter(f Filter) *qdrant.Filter {
	conds := make([]*qdrant.Condition, 0, len(f.Constraints))
	for _, c := range f.Constraints {
		var match *qdrant.Match
		switch v := c.Value.(type) {
		case string:
			match = qdrant.NewMatch(&qdrant.Match_Keyword{Keyword: v})
		case int:
			match = qdrant.NewMatch(&qdrant.Match_Integer{Integer: int64(v)})
		case int64:
			match = qdrant.NewMatch(&qdrant.Match_Integer{Integer: v})
		case bool:
			match = qdrant.NewMatch(&qdrant.Match_Boolean{Boolean: v})
		default:
			continue
		}
		conds = append(conds, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{Key: c.Key, Match: match},
			},
		})
	}
	return &qdrant.Filter{Must: conds}
}

func payloadOf(p Point) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"document_id":   qdrant.NewValueInt(p.DocumentID),
		"chunk_id":      qdrant.NewValueString(p.ChunkID),
		"code":          qdrant.NewValueString(p.Code),
		"title":         qdrant.NewValueString(p.Title),
		"section_title": qdrant.NewValueString(p.SectionTitle),
		"content":       qdrant.NewValueString(p.Content),
		"chunk_type":    qdrant.NewValueString(string(p.ChunkType)),
		"page":          qdrant.NewValueInt(int64(p.Page)),
		"section":       qdrant.NewValueString(p.Section),
	}
}

func payloadFrom(payload map[string]*qdrant.Value) model.VectorPoint {
	get := func(key string) string {
		if v, ok := payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	getInt := func(key string) int64 {
		if v, ok := payload[key]; ok {
			return v.GetIntegerValue()
		}
		return 0
	}
	return model.VectorPoint{
		DocumentID:   getInt("document_id"),
		ChunkID:      get("chunk_id"),
		Code:         get("code"),
		Title:        get("title"),
		SectionTitle: get("section_title"),
		Content:      get("content"),
		ChunkType:    model.ChunkType(get("chunk_type")),
		Page:         int(getInt("page")),
		Section:      get("section"),
	}
}

func idOf(id *qdrant.PointId) uint64 {
	if id == nil {
		return 0
	}
	return id.GetNum()
}

// PointID derives the deterministic 64-bit point id for a chunk, per
// derived as hash(document_id, chunk_id) mod 2^63.
func PointID(documentID int64, chunkID string) uint64 {
	h := fnv1a(fmt.Sprintf("%d:%s", documentID, chunkID))
	return h % (1 << 63)
}

func fnv1a(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
