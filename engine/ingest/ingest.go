// Package ingest runs source documents through the indexing pipeline:
// validate, classify, parse, chunk, store.
package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/opuslawyer/lexrag/engine/chunker"
	"github.com/opuslawyer/lexrag/engine/classify"
	"github.com/opuslawyer/lexrag/engine/domain"
	"github.com/opuslawyer/lexrag/engine/structure"
	"github.com/opuslawyer/lexrag/pkg/fn"
	"github.com/opuslawyer/lexrag/pkg/metrics"
	"github.com/opuslawyer/lexrag/pkg/resilience"
)

// hashLen is the number of hex digits kept from the document digest.
const hashLen = 12

// Store is the vector index as seen by the pipeline.
type Store interface {
	Upsert(ctx context.Context, chunks []domain.Chunk, batchSize int) (int, error)
	IsDocumentIndexed(ctx context.Context, source string) (bool, error)
	RemoveDocument(ctx context.Context, source string) (int, error)
}

// Outline receives the parsed hierarchy of every indexed document.
type Outline interface {
	Record(ctx context.Context, info domain.DocumentInfo, articles []domain.Article) error
	Remove(ctx context.Context, source string) error
}

// Deps are the collaborators of an Indexer. Store and Chunker are required.
type Deps struct {
	Store     Store
	Chunker   *chunker.Chunker
	BatchSize int
	Outline   Outline
	Breaker   *resilience.Breaker
	Metrics   *metrics.Registry
	Logger    *slog.Logger
}

// Indexer indexes documents one at a time. It is safe for concurrent use as
// long as two calls never index the same source at once.
type Indexer struct {
	deps     Deps
	pipeline fn.Stage[domain.RawDocument, domain.DocumentInfo]
	log      *slog.Logger
}

// New builds an Indexer and its pipeline.
func New(deps Deps) *Indexer {
	if deps.Chunker == nil {
		deps.Chunker = chunker.New(chunker.Options{})
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	ix := &Indexer{deps: deps, log: log}
	ix.pipeline = ix.build()
	return ix
}

// parsed is a classified document and its articles.
type parsed struct {
	doc      domain.RawDocument
	articles []domain.Article
}

// chunked adds the chunks produced from a parsed document.
type chunked struct {
	parsed
	chunks []domain.Chunk
}

// Validate rejects documents without a source or text.
var Validate fn.Stage[domain.RawDocument, domain.RawDocument] = func(_ context.Context, doc domain.RawDocument) fn.Result[domain.RawDocument] {
	if doc.Text == "" {
		doc.Text = domain.JoinBlocks(doc.Blocks)
	}
	if err := domain.ValidateRawDocument(doc); err != nil {
		return fn.Err[domain.RawDocument](err)
	}
	return fn.Ok(doc)
}

// Classify tags the document format unless the caller already did.
var Classify fn.Stage[domain.RawDocument, domain.RawDocument] = func(_ context.Context, doc domain.RawDocument) fn.Result[domain.RawDocument] {
	if doc.Type == "" {
		doc.Type = classify.Classify(doc.Text)
	}
	if doc.ID == "" {
		doc.ID = Hash(doc.Text)
	}
	return fn.Ok(doc)
}

// parseArticles extracts articles with the parser for the document's format.
var parseArticles fn.Stage[domain.RawDocument, parsed] = func(_ context.Context, doc domain.RawDocument) fn.Result[parsed] {
	return fn.Ok(parsed{doc: doc, articles: structure.For(doc.Type).Parse(doc.Text)})
}

func (ix *Indexer) chunk(_ context.Context, p parsed) fn.Result[chunked] {
	chunks := ix.deps.Chunker.Chunk(p.doc.Source, p.doc.Type, p.doc.Text, p.articles)
	if len(chunks) == 0 {
		return fn.Err[chunked](fmt.Errorf("%w: %s", domain.ErrNoContent, p.doc.Source))
	}
	return fn.Ok(chunked{parsed: p, chunks: chunks})
}

func (ix *Indexer) store(ctx context.Context, c chunked) fn.Result[domain.DocumentInfo] {
	added, err := ix.deps.Store.Upsert(ctx, c.chunks, ix.deps.BatchSize)
	ix.counter("lexrag_ingest_chunks_total", "Chunks written to the vector index").Add(int64(added))
	if err != nil {
		return fn.Err[domain.DocumentInfo](fmt.Errorf("store %s: %w", c.doc.Source, err))
	}

	info := domain.DocumentInfo{
		Source:       c.doc.Source,
		Hash:         c.doc.ID,
		DocType:      c.doc.Type,
		ArticleCount: len(c.articles),
		ChunkCount:   len(c.chunks),
		TextLength:   utf8.RuneCountInString(c.doc.Text),
	}
	if ix.deps.Outline != nil {
		if err := ix.deps.Outline.Record(ctx, info, c.articles); err != nil {
			ix.log.Warn("ingest: outline write failed", "source", info.Source, "err", err)
		}
	}
	return fn.Ok(info)
}

func (ix *Indexer) build() fn.Stage[domain.RawDocument, domain.DocumentInfo] {
	store := fn.Stage[chunked, domain.DocumentInfo](ix.store)
	if ix.deps.Breaker != nil {
		store = resilience.BreakerStage(ix.deps.Breaker, store)
	}

	prepared := fn.Then(
		fn.TracedStage("ingest.validate", Validate),
		fn.TracedStage("ingest.classify", Classify),
	)
	withArticles := fn.Then(prepared, fn.TracedStage("ingest.parse", parseArticles))
	withChunks := fn.Then(withArticles, fn.TracedStage("ingest.chunk", fn.Stage[parsed, chunked](ix.chunk)))
	return fn.Then(withChunks, fn.TracedStage("ingest.store", store))
}

// IndexDocument indexes doc. When the source is already in the index it
// returns domain.ErrAlreadyIndexed unless replace is set, in which case the
// old chunks and outline are removed first.
func (ix *Indexer) IndexDocument(ctx context.Context, doc domain.RawDocument, replace bool) (domain.DocumentInfo, error) {
	start := time.Now()
	info, err := ix.index(ctx, doc, replace)

	status := "ok"
	switch {
	case errors.Is(err, domain.ErrAlreadyIndexed):
		status = "skipped"
	case err != nil:
		status = "error"
	}
	ix.counter(metrics.WithLabels("lexrag_ingest_documents_total", "status", status), "Documents processed by the indexer").Inc()
	if ix.deps.Metrics != nil {
		ix.deps.Metrics.Histogram("lexrag_ingest_seconds", "Time to index one document", nil).Since(start)
	}

	if err != nil {
		return domain.DocumentInfo{}, err
	}
	ix.log.Info("ingest: indexed", "source", info.Source, "doc_type", info.DocType,
		"articles", info.ArticleCount, "chunks", info.ChunkCount, "duration", time.Since(start))
	return info, nil
}

func (ix *Indexer) index(ctx context.Context, doc domain.RawDocument, replace bool) (domain.DocumentInfo, error) {
	doc, err := Validate(ctx, doc).Unwrap()
	if err != nil {
		return domain.DocumentInfo{}, fmt.Errorf("ingest: %w", err)
	}
	exists, err := ix.deps.Store.IsDocumentIndexed(ctx, doc.Source)
	if err != nil {
		return domain.DocumentInfo{}, fmt.Errorf("ingest: lookup %s: %w", doc.Source, err)
	}
	if exists {
		if !replace {
			return domain.DocumentInfo{}, fmt.Errorf("ingest: %s: %w", doc.Source, domain.ErrAlreadyIndexed)
		}
		if _, err := ix.Remove(ctx, doc.Source); err != nil {
			return domain.DocumentInfo{}, err
		}
	}

	info, err := ix.pipeline(ctx, doc).Unwrap()
	if err != nil {
		return domain.DocumentInfo{}, fmt.Errorf("ingest: %w", err)
	}
	return info, nil
}

// Remove deletes every chunk and the outline of source and returns how many
// chunks were removed.
func (ix *Indexer) Remove(ctx context.Context, source string) (int, error) {
	n, err := ix.deps.Store.RemoveDocument(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("ingest: remove %s: %w", source, err)
	}
	if ix.deps.Outline != nil {
		if err := ix.deps.Outline.Remove(ctx, source); err != nil {
			ix.log.Warn("ingest: outline remove failed", "source", source, "err", err)
		}
	}
	ix.log.Info("ingest: removed", "source", source, "chunks", n)
	return n, nil
}

// Hash is the short content digest recorded for a document.
func Hash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])[:hashLen]
}

func (ix *Indexer) counter(name, help string) *metrics.Counter {
	if ix.deps.Metrics == nil {
		return &metrics.Counter{}
	}
	return ix.deps.Metrics.Counter(name, help)
}
