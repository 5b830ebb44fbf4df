package vector

import (
	"context"
	"fmt"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

// QdrantConfig 连接参数
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	// Prefix is prepended to every collection name
	Prefix string
}

// NewQdrantClient dials qdrant over gRPC.
func NewQdrantClient(cfg QdrantConfig) (*qdrant.Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "connect qdrant")
	}
	return client, nil
}

// Qdrant is a remote vector table, one collection per name and dimension.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dim        int
	logger     *zap.Logger
}

var _ rag.VectorStore = (*Qdrant)(nil)

func CollectionName(prefix, name string, dim int) string {
	if prefix == "" {
		return fmt.Sprintf("vdb_%s_%d", name, dim)
	}
	return fmt.Sprintf("%s_vdb_%s_%d", prefix, name, dim)
}

// OpenQdrant ensures the collection exists with the expected size.
func OpenQdrant(ctx context.Context, client *qdrant.Client, prefix, name string, dim int) (*Qdrant, error) {
	q := &Qdrant{
		client:     client,
		collection: CollectionName(prefix, name, dim),
		dim:        dim,
		logger:     logger.Named("qdrant"),
	}

	exists, err := client.CollectionExists(ctx, q.collection)
	if err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "check collection "+q.collection)
	}
	if exists {
		info, err := client.GetCollectionInfo(ctx, q.collection)
		if err != nil {
			return nil, rag.NewError(rag.ErrStorageUnavailable, err, "get collection "+q.collection)
		}
		if size := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()); size != 0 && size != dim {
			return nil, rag.Errorf(rag.ErrDimensionMismatch, nil, "collection %s holds %d-d vectors, engine uses %d", q.collection, size, dim)
		}
		return q, nil
	}

	err = client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "create collection "+q.collection)
	}
	q.logger.Info("collection created", zap.String("collection", q.collection), zap.Int("dim", dim))
	return q, nil
}

func (q *Qdrant) Dim() int {
	return q.dim
}

// pointID maps a chunk id onto a stable uuid, qdrant only accepts uuids or integers.
func pointID(id string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String())
}

func (q *Qdrant) Upsert(ctx context.Context, records []*rag.VectorRecord) error {
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != q.dim {
			return rag.Errorf(rag.ErrDimensionMismatch, nil, "record %s has %d-d vector, table is %d", r.Id, len(r.Vector), q.dim)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(r.Id),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: map[string]*qdrant.Value{
				"chunk_id":  qdrant.NewValueString(r.Id),
				"content":   qdrant.NewValueString(r.Content),
				"file_path": qdrant.NewValueString(r.FilePath),
			},
		})
	}

	batchSize := 100
	for i := 0; i < len(points); i += batchSize {
		end := min(i+batchSize, len(points))
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points[i:end],
		})
		if err != nil {
			return rag.Errorf(rag.ErrStorageUnavailable, err, "upsert batch %d-%d", i, end)
		}
	}
	return nil
}

func (q *Qdrant) Query(ctx context.Context, vector []float32, topK int) ([]*rag.VectorHit, error) {
	if len(vector) != q.dim {
		return nil, rag.Errorf(rag.ErrDimensionMismatch, nil, "query has %d-d vector, table is %d", len(vector), q.dim)
	}
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "query "+q.collection)
	}

	hits := make([]*rag.VectorHit, 0, len(results))
	for _, r := range results {
		payload := r.GetPayload()
		hits = append(hits, &rag.VectorHit{
			Id:       payload["chunk_id"].GetStringValue(),
			Score:    float64(r.GetScore()),
			Content:  payload["content"].GetStringValue(),
			FilePath: payload["file_path"].GetStringValue(),
		})
	}
	return hits, nil
}

func (q *Qdrant) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pids = append(pids, pointID(id))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorIDs(pids),
	})
	if err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "delete from "+q.collection)
	}
	return nil
}

// Drop deletes the whole collection.
func (q *Qdrant) Drop(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "drop "+q.collection)
	}
	return nil
}
