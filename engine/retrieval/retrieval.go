// Package retrieval assembles grounding material for a question from the
// statute index. It runs single or fanned-out searches, merges hits by
// article, ranks them and decides whether the material is strong enough to
// be presented as authoritative.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opuslawyer/lexrag/engine/domain"
	"github.com/opuslawyer/lexrag/pkg/fn"
	"github.com/opuslawyer/lexrag/pkg/metrics"
)

// Searcher is the index query the orchestrator depends on.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, filter map[string]string) ([]domain.SearchHit, error)
}

// Options holds the tuning constants of the orchestrator.
type Options struct {
	// TopK is the hit count for primary questions.
	TopK int
	// SmalltalkTopK is the hit count for lightweight questions.
	SmalltalkTopK int
	// SmalltalkSources caps how many hits feed citations in smalltalk mode.
	SmalltalkSources int
	// AnalysisTopK is the merged hit count for contract analysis and drafting.
	AnalysisTopK int
	// FanOutPadding is added to each fan-out query's share of the hit budget.
	FanOutPadding int
	// BroadTopK is the hit count of each broad contract query.
	BroadTopK int
	// FallbackThreshold is the mean similarity under which retrieved material
	// is not treated as authoritative.
	FallbackThreshold float64
	// PreviewLen caps citation previews, in runes.
	PreviewLen int
	// Workers bounds concurrent fan-out searches.
	Workers int
	// SearchTimeout bounds each search call. Zero disables it.
	SearchTimeout time.Duration
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		TopK:              60,
		SmalltalkTopK:     20,
		SmalltalkSources:  30,
		AnalysisTopK:      40,
		FanOutPadding:     5,
		BroadTopK:         5,
		FallbackThreshold: 0.35,
		PreviewLen:        300,
		Workers:           4,
		SearchTimeout:     30 * time.Second,
	}
}

// Service is the retrieval orchestrator.
type Service struct {
	search Searcher
	opts   Options
	logger *slog.Logger

	queries  *metrics.Registry
	duration *metrics.Histogram
}

// New creates a Service.
func New(search Searcher, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{search: search, opts: opts, logger: logger}
}

// WithMetrics records query counts and latencies into reg.
func (s *Service) WithMetrics(reg *metrics.Registry) *Service {
	s.queries = reg
	s.duration = reg.Histogram("lexrag_retrieval_search_seconds", "Latency of index searches", nil)
	return s
}

// Options returns the tuning in effect.
func (s *Service) Options() Options { return s.opts }

// Direct runs one search and returns its hits unchanged.
func (s *Service) Direct(ctx context.Context, query string, topK int, filter map[string]string) ([]domain.SearchHit, error) {
	if err := domain.ValidateQuery(query); err != nil {
		return nil, err
	}
	return s.run(ctx, request{query: query, topK: topK, filter: filter})
}

// PerQueryLimit is the hit budget of each of n fan-out queries.
func PerQueryLimit(topK, n, padding int) int {
	if n <= 0 {
		return 0
	}
	return (topK+n-1)/n + padding
}

// FanOut searches every query for its share of topK, keeps the first hit of
// each article in query order, and returns the topK most similar.
func (s *Service) FanOut(ctx context.Context, queries []string, topK int) ([]domain.SearchHit, error) {
	per := PerQueryLimit(topK, len(queries), s.opts.FanOutPadding)
	reqs := make([]request, len(queries))
	for i, q := range queries {
		reqs[i] = request{query: q, topK: per}
	}
	m := newMerger()
	if err := s.fanOut(ctx, reqs, m); err != nil {
		return nil, err
	}
	return m.ranked(topK), nil
}

type request struct {
	query  string
	topK   int
	filter map[string]string
}

// fanOut runs reqs concurrently and feeds their hits to m in request order.
func (s *Service) fanOut(ctx context.Context, reqs []request, m *merger) error {
	results := fn.ParMapResult(reqs, s.opts.Workers, func(r request) fn.Result[[]domain.SearchHit] {
		return fn.FromPair[[]domain.SearchHit](s.run(ctx, r))
	})
	all, err := fn.Collect(results).Unwrap()
	if err != nil {
		return err
	}
	for _, hits := range all {
		m.add(hits)
	}
	return nil
}

func (s *Service) run(ctx context.Context, r request) ([]domain.SearchHit, error) {
	if s.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SearchTimeout)
		defer cancel()
	}
	start := time.Now()
	hits, err := s.search.Search(ctx, r.query, r.topK, r.filter)
	if s.duration != nil {
		s.duration.Since(start)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieval: search %q: %w", r.query, err)
	}
	s.logger.Debug("retrieval: search done", "query_len", len(r.query), "top_k", r.topK, "hits", len(hits))
	return hits, nil
}

func (s *Service) count(name string, kvs ...string) {
	if s.queries != nil {
		s.queries.Counter(metrics.WithLabels(name, kvs...), "").Inc()
	}
}

// merger keeps the first hit seen for each article.
type merger struct {
	seen map[string]bool
	hits []domain.SearchHit
}

func newMerger() *merger { return &merger{seen: map[string]bool{}} }

func (m *merger) add(hits []domain.SearchHit) {
	for _, h := range hits {
		k := h.ArticleKey()
		if m.seen[k] {
			continue
		}
		m.seen[k] = true
		m.hits = append(m.hits, h)
	}
}

// ranked sorts by similarity, highest first, keeping merge order on ties.
func (m *merger) ranked(topK int) []domain.SearchHit {
	out := append([]domain.SearchHit(nil), m.hits...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if topK >= 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
