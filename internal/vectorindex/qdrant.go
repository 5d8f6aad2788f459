package vectorindex

import (
	"context"
	"fmt"

	"lesson-content-engine/internal/logger"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

var tracer = otel.Tracer("vectorindex")

// QdrantConfig selects the Qdrant instance and collection. One collection
// holds every tenant; isolation is a teacherId payload filter.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimensions int
}

// QdrantIndex implements Index on a Qdrant collection over gRPC.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantIndex connects and creates the collection with cosine distance if it is missing.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	qcfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}
	if !cfg.UseTLS {
		qcfg.GrpcOptions = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	idx := &QdrantIndex{client: client, collection: cfg.Collection}

	if err := idx.ensureCollection(ctx, cfg.Dimensions); err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Info("Qdrant vector index ready", "host", cfg.Host, "collection", cfg.Collection, "dimensions", cfg.Dimensions)
	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dimensions int) error {
	_, err := q.client.GetCollectionInfo(ctx, q.collection)
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); !ok || st.Code() != grpccodes.NotFound {
		return fmt.Errorf("checking collection %s: %w", q.collection, err)
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", q.collection, err)
	}
	return nil
}

// Upsert writes records in batches of UpsertBatchSize.
func (q *QdrantIndex) Upsert(ctx context.Context, records []Record) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("records", len(records)))

	for start := 0; start < len(records); start += UpsertBatchSize {
		batch := records[start:min(start+UpsertBatchSize, len(records))]
		points := make([]*qdrant.PointStruct, len(batch))
		for i, r := range batch {
			meta := r.Metadata
			if meta.ChunkID == "" {
				meta.ChunkID = r.ID
			}
			payload, err := toPayload(EncodeMetadata(meta))
			if err != nil {
				return err
			}
			points[i] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(PointID(r.ID)),
				Vectors: qdrant.NewVectors(r.Vector...),
				Payload: payload,
			}
		}

		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("upserting batch at %d: %w", start, err)
		}
	}
	return nil
}

// Query returns up to topK matches inside filter, best first.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "QdrantIndex.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", topK))

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", q.collection, err)
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		meta, err := DecodeMetadata(fromPayload(p.Payload))
		if err != nil {
			logger.FromContext(ctx).Warn("skipping vector with unreadable metadata", "error", err)
			continue
		}
		matches = append(matches, Match{ID: meta.ChunkID, Score: p.Score, Metadata: meta})
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return matches, nil
}

// DeleteMany removes every point inside filter.
func (q *QdrantIndex) DeleteMany(ctx context.Context, filter Filter) error {
	if err := filter.validate(); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "QdrantIndex.DeleteMany")
	defer span.End()

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: buildFilter(filter)},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from %s: %w", q.collection, err)
	}
	return nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// PointID maps a chunk id onto the UUID Qdrant requires. The mapping is
// stable, so re-indexing a chunk overwrites its point.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func buildFilter(f Filter) *qdrant.Filter {
	must := []*qdrant.Condition{keywordCondition(KeyTeacherID, f.TeacherID)}
	switch len(f.DocumentIDs) {
	case 0:
	case 1:
		must = append(must, keywordCondition(KeyDocumentID, f.DocumentIDs[0]))
	default:
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: KeyDocumentID,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: f.DocumentIDs},
						},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: must}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

// toPayload converts encoded metadata with the client's value builder. String
// lists are widened to []any first since the builder only walks generic lists.
func toPayload(values map[string]any) (map[string]*qdrant.Value, error) {
	widened := make(map[string]any, len(values))
	for k, v := range values {
		if list, ok := v.([]string); ok {
			items := make([]any, len(list))
			for i, s := range list {
				items[i] = s
			}
			v = items
		}
		widened[k] = v
	}
	payload, err := qdrant.TryValueMap(widened)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return payload, nil
}

func fromPayload(payload map[string]*qdrant.Value) map[string]any {
	values := make(map[string]any, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		values[k] = fromValue(v)
	}
	return values
}

func fromValue(v *qdrant.Value) any {
	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_ListValue:
		items := make([]any, 0, len(val.ListValue.GetValues()))
		for _, item := range val.ListValue.GetValues() {
			items = append(items, fromValue(item))
		}
		return items
	}
	return nil
}
