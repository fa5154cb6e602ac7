package retrieval

import (
	"context"

	"github.com/opuslawyer/lexrag/engine/domain"
)

// Mode selects how a question is grounded.
type Mode string

const (
	// ModeRiskManager retrieves broadly and flags weak material.
	ModeRiskManager Mode = "risk-manager"
	// ModeSmalltalk retrieves fewer hits and never flags fallback.
	ModeSmalltalk Mode = "smalltalk"
)

// ParseMode maps a mode name to a Mode. Unknown names select
// ModeRiskManager.
func ParseMode(s string) Mode {
	if Mode(s) == ModeSmalltalk {
		return ModeSmalltalk
	}
	return ModeRiskManager
}

// Grounding is the retrieved material handed to a text generator.
type Grounding struct {
	Query    string             `json:"query"`
	Mode     Mode               `json:"mode,omitempty"`
	Hits     []domain.SearchHit `json:"-"`
	Fallback bool               `json:"fallback"`
	Context  string             `json:"context"`
	Sources  []domain.Citation  `json:"sources"`
}

// Ground retrieves material for a user question. In risk-manager mode a
// weak result sets Fallback and prefixes the context with
// FallbackInstruction; the search itself is never retried.
func (s *Service) Ground(ctx context.Context, question string, mode Mode) (*Grounding, error) {
	topK := s.opts.TopK
	if mode == ModeSmalltalk {
		topK = s.opts.SmalltalkTopK
	}
	hits, err := s.Direct(ctx, question, topK, nil)
	if err != nil {
		return nil, err
	}
	s.count("lexrag_retrieval_queries_total", "mode", string(mode))

	g := &Grounding{
		Query:   question,
		Mode:    mode,
		Hits:    hits,
		Context: FormatContext(hits),
	}
	cited := hits
	if mode == ModeSmalltalk {
		cited = hits[:min(len(hits), s.opts.SmalltalkSources)]
	} else if ShouldFallback(hits, s.opts.FallbackThreshold) {
		g.Fallback = true
		g.Context = FallbackInstruction + "\n\n" + g.Context
		s.count("lexrag_retrieval_fallback_total")
		s.logger.Info("retrieval: fallback", "hits", len(hits), "mean_similarity", MeanSimilarity(hits))
	}
	g.Sources = FormatSources(cited, s.opts.PreviewLen)
	return g, nil
}

// AnalyzeContract retrieves the statutes relevant to a contract: one query
// per recognized topic, then the broad contract queries, merged by article
// and cut to AnalysisTopK.
func (s *Service) AnalyzeContract(ctx context.Context, contract string) (*Grounding, error) {
	if err := domain.ValidateQuery(contract); err != nil {
		return nil, err
	}
	topics := TopicQueries(contract)
	per := PerQueryLimit(s.opts.AnalysisTopK, len(topics), s.opts.FanOutPadding)

	reqs := make([]request, 0, len(topics)+len(BroadContractQueries))
	for _, q := range topics {
		reqs = append(reqs, request{query: q, topK: per})
	}
	for _, q := range BroadContractQueries {
		reqs = append(reqs, request{query: q, topK: s.opts.BroadTopK})
	}

	m := newMerger()
	if err := s.fanOut(ctx, reqs, m); err != nil {
		return nil, err
	}
	s.count("lexrag_retrieval_queries_total", "mode", "analysis")
	return s.grounding(contract, m.ranked(s.opts.AnalysisTopK)), nil
}

// Draft retrieves the statutes needed to draft a contract of category.
func (s *Service) Draft(ctx context.Context, category string) (*Grounding, error) {
	if err := domain.ValidateQuery(category); err != nil {
		return nil, err
	}
	hits, err := s.FanOut(ctx, GenerationQueries(category), s.opts.AnalysisTopK)
	if err != nil {
		return nil, err
	}
	s.count("lexrag_retrieval_queries_total", "mode", "draft")
	return s.grounding(category, hits), nil
}

func (s *Service) grounding(query string, hits []domain.SearchHit) *Grounding {
	return &Grounding{
		Query:   query,
		Hits:    hits,
		Context: FormatContext(hits),
		Sources: FormatSources(hits, s.opts.PreviewLen),
	}
}
