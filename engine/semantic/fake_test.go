package semantic

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sort"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// --- Embedder ---

const testDims = 32

// wordEmbedder hashes words into a bag-of-words vector.
type wordEmbedder struct {
	failBatch int // 1-based batch call that fails; 0 never
	calls     int
}

func (e *wordEmbedder) vector(text string) []float32 {
	v := make([]float32, testDims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%testDims]++
	}
	return v
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e *wordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.failBatch == e.calls {
		return nil, errors.New("embedding backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

// --- In-memory Qdrant ---

type memQdrant struct {
	exists bool
	dims   uint64
	order  []string
	points map[string]*pb.PointStruct

	creates int
	deletes int
}

func newMemQdrant() *memQdrant {
	return &memQdrant{points: map[string]*pb.PointStruct{}}
}

func notFound() error { return status.Error(codes.NotFound, "collection not found") }

func (m *memQdrant) Get(_ context.Context, _ *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	if !m.exists {
		return nil, notFound()
	}
	return &pb.GetCollectionInfoResponse{Result: &pb.CollectionInfo{
		Config: &pb.CollectionConfig{Params: &pb.CollectionParams{
			VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: m.dims, Distance: pb.Distance_Cosine},
			}},
		}},
	}}, nil
}

func (m *memQdrant) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.exists = true
	m.dims = in.GetVectorsConfig().GetParams().GetSize()
	m.creates++
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func (m *memQdrant) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	if !m.exists {
		return nil, notFound()
	}
	m.exists = false
	m.order = nil
	m.points = map[string]*pb.PointStruct{}
	m.deletes++
	return &pb.CollectionOperationResponse{Result: true}, nil
}

type memPoints struct{ *memQdrant }

func (m memPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	if !m.exists {
		return nil, notFound()
	}
	for _, p := range in.GetPoints() {
		id := p.GetId().GetUuid()
		if _, ok := m.points[id]; !ok {
			m.order = append(m.order, id)
		}
		m.points[id] = p
	}
	return &pb.PointsOperationResponse{}, nil
}

func (m memPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	if !m.exists {
		return nil, notFound()
	}
	f := in.GetPoints().GetFilter()
	kept := m.order[:0]
	for _, id := range m.order {
		if matches(m.points[id].GetPayload(), f) {
			delete(m.points, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return &pb.PointsOperationResponse{}, nil
}

func (m memPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	if !m.exists {
		return nil, notFound()
	}
	var res []*pb.ScoredPoint
	for _, id := range m.order {
		p := m.points[id]
		if !matches(p.GetPayload(), in.GetFilter()) {
			continue
		}
		res = append(res, &pb.ScoredPoint{
			Id:      p.GetId(),
			Payload: p.GetPayload(),
			Score:   cosine(in.GetVector(), p.GetVectors().GetVector().GetData()),
		})
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Score > res[j].Score })
	if uint64(len(res)) > in.GetLimit() {
		res = res[:in.GetLimit()]
	}
	return &pb.SearchResponse{Result: res}, nil
}

func (m memPoints) Scroll(_ context.Context, in *pb.ScrollPoints, _ ...grpc.CallOption) (*pb.ScrollResponse, error) {
	if !m.exists {
		return nil, notFound()
	}
	start := 0
	if off := in.GetOffset().GetUuid(); off != "" {
		for i, id := range m.order {
			if id == off {
				start = i
			}
		}
	}
	end := min(start+int(in.GetLimit()), len(m.order))
	resp := &pb.ScrollResponse{}
	for _, id := range m.order[start:end] {
		resp.Result = append(resp.Result, &pb.RetrievedPoint{Id: m.points[id].GetId(), Payload: m.points[id].GetPayload()})
	}
	if end < len(m.order) {
		resp.NextPageOffset = m.points[m.order[end]].GetId()
	}
	return resp, nil
}

func (m memPoints) Count(_ context.Context, in *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	if !m.exists {
		return nil, notFound()
	}
	var n uint64
	for _, id := range m.order {
		if matches(m.points[id].GetPayload(), in.GetFilter()) {
			n++
		}
	}
	return &pb.CountResponse{Result: &pb.CountResult{Count: n}}, nil
}

func matches(payload map[string]*pb.Value, f *pb.Filter) bool {
	for _, c := range f.GetMust() {
		fc := c.GetField()
		v := payload[fc.GetKey()]
		switch mv := fc.GetMatch().GetMatchValue().(type) {
		case *pb.Match_Integer:
			if v.GetIntegerValue() != mv.Integer {
				return false
			}
		default:
			if v.GetStringValue() != fc.GetMatch().GetKeyword() {
				return false
			}
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func newMemStore(emb Embedder) (*VectorStore, *memQdrant) {
	mem := newMemQdrant()
	return NewWithClients(memPoints{mem}, mem, "statutes", emb, nil), mem
}
