// Package stack assembles the runtime components shared by the binaries
// from a loaded configuration.
package stack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opuslawyer/lexrag/engine/chunker"
	"github.com/opuslawyer/lexrag/engine/ingest"
	"github.com/opuslawyer/lexrag/engine/outline"
	"github.com/opuslawyer/lexrag/engine/retrieval"
	"github.com/opuslawyer/lexrag/engine/semantic"
	"github.com/opuslawyer/lexrag/pkg/config"
	"github.com/opuslawyer/lexrag/pkg/embed"
	"github.com/opuslawyer/lexrag/pkg/metrics"
	"github.com/opuslawyer/lexrag/pkg/resilience"
)

// Stack holds the connected components.
type Stack struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Registry
	Embedder  embed.Embedder
	Index     *semantic.VectorStore
	Outline   *outline.Store // nil unless Neo4j is configured and reachable
	Indexer   *ingest.Indexer
	Retrieval *retrieval.Service

	closers []func()
}

// Open connects every configured backend. Redis and Neo4j are optional: when
// configured but unreachable they are logged and skipped.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stack{Config: cfg, Logger: logger, Metrics: metrics.New()}

	var kv embed.KV
	if cfg.Cache.Addr != "" {
		rdb, err := embed.DialRedis(ctx, embed.RedisOptions{Addr: cfg.Cache.Addr, Password: cfg.Cache.Password, DB: cfg.Cache.DB})
		if err != nil {
			logger.Warn("stack: query cache disabled", "addr", cfg.Cache.Addr, "err", err)
		} else {
			kv = rdb
			s.closers = append(s.closers, func() { rdb.Close() })
		}
	}

	emb, err := embed.Build(EmbedSettings(cfg, kv, logger))
	if err != nil {
		return nil, fmt.Errorf("stack: %w", err)
	}
	s.Embedder = emb

	vs, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection, emb, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("stack: %w", err)
	}
	s.Index = vs
	s.closers = append(s.closers, func() { vs.Close() })

	if cfg.Neo4j.URI != "" {
		s.openOutline(ctx)
	}

	deps := ingest.Deps{
		Store:     vs,
		Chunker:   chunker.New(chunker.Options{Size: cfg.Chunking.Size, Overlap: cfg.Chunking.Overlap}),
		BatchSize: cfg.Chunking.BatchSize,
		Breaker: resilience.NewBreaker(resilience.BreakerOpts{
			OnChange: func(from, to resilience.State) {
				logger.Warn("stack: index breaker state changed", "from", from, "to", to)
			},
		}),
		Metrics: s.Metrics,
		Logger:  logger,
	}
	if s.Outline != nil {
		deps.Outline = s.Outline
	}
	s.Indexer = ingest.New(deps)
	s.Retrieval = retrieval.New(vs, RetrievalOptions(cfg), logger).WithMetrics(s.Metrics)
	return s, nil
}

func (s *Stack) openOutline(ctx context.Context) {
	cfg := s.Config.Neo4j
	driver, err := outline.Dial(ctx, cfg.URI, cfg.User, cfg.Password)
	if err != nil {
		s.Logger.Warn("stack: outline store disabled", "uri", cfg.URI, "err", err)
		return
	}
	store := outline.New(driver)
	if err := store.EnsureSchema(ctx); err != nil {
		s.Logger.Warn("stack: outline schema", "err", err)
	}
	s.Outline = store
	s.closers = append(s.closers, func() { driver.Close(context.Background()) })
	s.Logger.Info("stack: outline store connected", "uri", cfg.URI)
}

// Close releases every connection in reverse order of opening.
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// EmbedSettings maps the embedder and cache sections of cfg.
func EmbedSettings(cfg *config.Config, kv embed.KV, logger *slog.Logger) embed.Settings {
	e := cfg.Embedder
	return embed.Settings{
		Provider:         e.Provider,
		BaseURL:          e.BaseURL,
		APIKey:           e.APIKey,
		Model:            e.Model,
		Timeout:          e.Timeout,
		Rate:             e.RateLimit,
		Burst:            e.Burst,
		BreakerThreshold: e.BreakerThreshold,
		BreakerTimeout:   e.BreakerTimeout,
		Cache:            kv,
		CacheTTL:         cfg.Cache.TTL,
		Logger:           logger,
	}
}

// RetrievalOptions maps the retrieval section of cfg.
func RetrievalOptions(cfg *config.Config) retrieval.Options {
	r := cfg.Retrieval
	return retrieval.Options{
		TopK:              r.TopK,
		SmalltalkTopK:     r.SmalltalkTopK,
		SmalltalkSources:  r.SmalltalkSources,
		AnalysisTopK:      r.AnalysisTopK,
		FanOutPadding:     r.FanOutPadding,
		BroadTopK:         r.BroadTopK,
		FallbackThreshold: r.FallbackThreshold,
		PreviewLen:        r.PreviewLen,
		Workers:           r.Workers,
		SearchTimeout:     r.SearchTimeout,
	}
}
