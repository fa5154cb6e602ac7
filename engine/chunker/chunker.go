// Package chunker turns parsed articles into bounded, overlapping chunks that
// carry their full statute provenance.
package chunker

import (
	"github.com/google/uuid"

	"github.com/opuslawyer/lexrag/engine/domain"
)

// Defaults for Options.
const (
	DefaultSize    = 1500
	DefaultOverlap = 200
)

// Metadata length caps applied when chunks are built.
const (
	MaxChapterLen = 200
	MaxSectionLen = 100
	MaxTitleLen   = 150
)

// Options configures a Chunker. Zero fields take the defaults.
type Options struct {
	Size    int
	Overlap int
}

// Chunker splits article bodies into chunks.
type Chunker struct {
	splitter Splitter
	newID    func() string
}

// New creates a Chunker.
func New(opts Options) *Chunker {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Size {
		opts.Overlap = min(DefaultOverlap, opts.Size/2)
	}
	return &Chunker{
		splitter: Splitter{Size: opts.Size, Overlap: opts.Overlap, Separators: DefaultSeparators},
		newID:    uuid.NewString,
	}
}

// Size is the configured maximum chunk length in runes.
func (c *Chunker) Size() int { return c.splitter.Size }

// Chunk builds the chunks of one document. Each article is split on its own
// so no overlap crosses article boundaries. With no articles the whole text
// is split and chunks get placeholder provenance.
func (c *Chunker) Chunk(source string, docType domain.DocType, text string, articles []domain.Article) []domain.Chunk {
	if len(articles) == 0 {
		return c.build(c.splitter.Split(text), domain.ChunkMeta{
			Source:         source,
			ArticleNumber:  domain.UnknownArticle,
			ArticleDisplay: domain.UnknownArticle,
			Chapter:        domain.GeneralChapter,
			DocType:        docType,
		})
	}

	var out []domain.Chunk
	for _, a := range articles {
		out = append(out, c.build(c.splitter.Split(a.Content), domain.ChunkMeta{
			Source:         source,
			ArticleNumber:  a.Number,
			ArticleDisplay: a.Display,
			Chapter:        domain.Truncate(a.Chapter, MaxChapterLen),
			ChapterNum:     a.ChapterNum,
			Section:        domain.Truncate(a.Section, MaxSectionLen),
			Title:          domain.Truncate(a.Title, MaxTitleLen),
			DocType:        docType,
		})...)
	}
	return out
}

func (c *Chunker) build(pieces []string, meta domain.ChunkMeta) []domain.Chunk {
	out := make([]domain.Chunk, len(pieces))
	for i, p := range pieces {
		m := meta
		m.ChunkIndex = i
		m.TotalChunks = len(pieces)
		out[i] = domain.Chunk{ID: c.newID(), Content: p, Meta: m}
	}
	return out
}
