// Package semantic owns the Qdrant collection that stores statute chunks and
// answers similarity queries against it.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/opuslawyer/lexrag/engine/domain"
	"github.com/opuslawyer/lexrag/pkg/fn"
)

// DefaultBatchSize is the number of chunks embedded and written per request.
const DefaultBatchSize = 100

const (
	// scrollPage is the page size used when walking the whole collection.
	scrollPage = 256
	probeText  = "dimension probe"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

type collectionsAPI interface {
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	embedder    Embedder
	dims        int
	logger      *slog.Logger
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr, collection string, embedder Embedder, logger *slog.Logger) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, embedder, logger)
	vs.conn = conn
	return vs, nil
}

// NewWithClients creates a VectorStore over existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string, embedder Embedder, logger *slog.Logger) *VectorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorStore{
		points:      points,
		collections: collections,
		collection:  collection,
		embedder:    embedder,
		logger:      logger,
	}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// Collection returns the collection name.
func (v *VectorStore) Collection() string { return v.collection }

// Prepare probes the embedder for its dimensionality and ensures the
// collection matches it.
func (v *VectorStore) Prepare(ctx context.Context) error {
	if v.embedder == nil {
		return fmt.Errorf("semantic: prepare: %w", domain.ErrNoEmbedder)
	}
	probe, err := v.embedder.Embed(ctx, probeText)
	if err != nil {
		return fmt.Errorf("semantic: probe dimensions: %w", err)
	}
	return v.EnsureCollection(ctx, len(probe))
}

// EnsureCollection creates the cosine collection if it does not exist. An
// existing collection with a different vector size is dropped and recreated,
// so its content has to be indexed again.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	v.dims = dims
	info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.collection})
	if isNotFound(err) {
		return v.create(ctx)
	}
	if err != nil {
		return fmt.Errorf("semantic: get collection %s: %w", v.collection, err)
	}

	stored := int(info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	if stored == dims {
		return nil
	}
	v.logger.Warn("semantic: dimension mismatch, clearing collection for re-indexing",
		"collection", v.collection, "stored", stored, "model", dims,
		"err", domain.ErrDimensionMismatch)
	return v.Clear(ctx)
}

func (v *VectorStore) create(ctx context.Context) error {
	if v.dims <= 0 && v.embedder != nil {
		probe, err := v.embedder.Embed(ctx, probeText)
		if err != nil {
			return fmt.Errorf("semantic: probe dimensions: %w", err)
		}
		v.dims = len(probe)
	}
	if v.dims <= 0 {
		return fmt.Errorf("semantic: create collection %s: unknown vector size", v.collection)
	}
	_, err := v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(v.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Clear drops the collection and recreates it empty with the same vector
// size, or the embedder's when none is known.
func (v *VectorStore) Clear(ctx context.Context) error {
	if v.dims <= 0 {
		if info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.collection}); err == nil {
			v.dims = int(info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		}
	}
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.collection})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return v.create(ctx)
}

// Upsert embeds and writes chunks in batches of batchSize and returns how
// many were written. Re-upserting an id replaces the stored point. A failed
// batch stops the run with a *BatchError.
func (v *VectorStore) Upsert(ctx context.Context, chunks []domain.Chunk, batchSize int) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if v.embedder == nil {
		return 0, fmt.Errorf("semantic: upsert: %w", domain.ErrNoEmbedder)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	added := 0
	for i, batch := range fn.Chunk(chunks, batchSize) {
		if err := v.upsertBatch(ctx, batch); err != nil {
			return added, &BatchError{Batch: i, Added: added, Err: err}
		}
		added += len(batch)
		v.logger.Debug("semantic: batch stored", "batch", i, "chunks", len(batch))
	}
	return added, nil
}

func (v *VectorStore) upsertBatch(ctx context.Context, chunks []domain.Chunk) error {
	texts := fn.Map(chunks, func(c domain.Chunk) string { return c.Content })
	vectors, err := v.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embed: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	points := make([]*pb.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: c.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vectors[i]},
				},
			},
			Payload: sanitize(c),
		}
	}

	wait := true
	_, err = v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search embeds query and returns up to topK hits closest first, restricted
// to points whose payload equals every pair in filter. A missing collection
// yields no hits.
func (v *VectorStore) Search(ctx context.Context, query string, topK int, filter map[string]string) ([]domain.SearchHit, error) {
	if topK <= 0 {
		return nil, nil
	}
	if v.embedder == nil {
		return nil, fmt.Errorf("semantic: search: %w", domain.ErrNoEmbedder)
	}
	vec, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}

	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vec,
		Filter:         filterOf(filter),
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]domain.SearchHit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		content, meta := decode(r.GetPayload())
		distance := 1 - float64(r.GetScore())
		hits[i] = domain.SearchHit{
			ID:         r.GetId().GetUuid(),
			Content:    content,
			Meta:       meta,
			Distance:   distance,
			Similarity: 1 - distance,
		}
	}
	return hits, nil
}

// Count returns the number of stored chunks.
func (v *VectorStore) Count(ctx context.Context) (int, error) {
	return v.count(ctx, nil)
}

func (v *VectorStore) count(ctx context.Context, filter *pb.Filter) (int, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// IsIndexed reports whether the collection holds any chunk.
func (v *VectorStore) IsIndexed(ctx context.Context) (bool, error) {
	n, err := v.Count(ctx)
	return n > 0, err
}

// IsDocumentIndexed reports whether any chunk of source is stored.
func (v *VectorStore) IsDocumentIndexed(ctx context.Context, source string) (bool, error) {
	n, err := v.count(ctx, filterOf(map[string]string{keySource: source}))
	return n > 0, err
}

// ListDocuments returns the chunk count and document type of every stored
// source, sorted by source name.
func (v *VectorStore) ListDocuments(ctx context.Context) ([]domain.IndexedDocument, error) {
	counts := map[string]int{}
	types := map[string]domain.DocType{}
	limit := uint32(scrollPage)
	var offset *pb.PointId
	for {
		resp, err := v.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: v.collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Include{
				Include: &pb.PayloadIncludeSelector{Fields: []string{keySource, keyDocType}},
			}},
		})
		if isNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("semantic: scroll: %w", err)
		}
		for _, p := range resp.GetResult() {
			src := p.GetPayload()[keySource].GetStringValue()
			counts[src]++
			if dt := p.GetPayload()[keyDocType].GetStringValue(); dt != "" && types[src] == "" {
				types[src] = domain.DocType(dt)
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil || len(resp.GetResult()) == 0 {
			break
		}
	}

	docs := make([]domain.IndexedDocument, 0, len(counts))
	for src, n := range counts {
		docs = append(docs, domain.IndexedDocument{Source: src, DocType: types[src], ChunkCount: n})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Source < docs[j].Source })
	return docs, nil
}

// RemoveDocument deletes every chunk of source and returns how many there
// were.
func (v *VectorStore) RemoveDocument(ctx context.Context, source string) (int, error) {
	filter := filterOf(map[string]string{keySource: source})
	n, err := v.count(ctx, filter)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	wait := true
	_, err = v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: delete source %s: %w", source, err)
	}
	return n, nil
}

func isNotFound(err error) bool {
	return err != nil && status.Code(err) == codes.NotFound
}
