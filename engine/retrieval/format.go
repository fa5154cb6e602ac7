package retrieval

import (
	"fmt"
	"strings"

	"github.com/opuslawyer/lexrag/engine/domain"
)

// NoDocumentsContext replaces the context when nothing was retrieved.
const NoDocumentsContext = "No relevant legal documents found."

// FallbackInstruction is prepended to the context when retrieved material is
// too weak to be cited as authoritative.
const FallbackInstruction = `
⚠️ РЕЖИМ FALLBACK: В базе документов НЕ НАЙДЕНО точных совпадений по запросу.

Ваши действия:
1. Используйте общие принципы права Узбекистана
2. Начните ответ с: "⚠️ В текущей базе документов точной нормы не найдено, но..."
3. Дайте практическую рекомендацию на основе общих принципов
4. Укажите, какие законы следует проверить дополнительно
5. Предложите конкретный алгоритм действий
`

// Citation field caps, in runes.
const (
	citationChapterLen = 80
	citationTitleLen   = 100
)

// MeanSimilarity is the arithmetic mean similarity of hits, 0 for none.
func MeanSimilarity(hits []domain.SearchHit) float64 {
	if len(hits) == 0 {
		return 0
	}
	var sum float64
	for _, h := range hits {
		sum += h.Similarity
	}
	return sum / float64(len(hits))
}

// ShouldFallback reports whether hits are missing or their mean similarity
// is below threshold.
func ShouldFallback(hits []domain.SearchHit, threshold float64) bool {
	return len(hits) == 0 || MeanSimilarity(hits) < threshold
}

// articleLabel prefers the display label and falls back to the raw number.
func articleLabel(m domain.ChunkMeta) string {
	switch {
	case m.ArticleDisplay != "":
		return m.ArticleDisplay
	case m.ArticleNumber != "":
		return m.ArticleNumber
	default:
		return domain.UnknownArticle
	}
}

func sourceLabel(m domain.ChunkMeta) string {
	if m.Source == "" {
		return domain.UnknownArticle
	}
	return m.Source
}

// FormatContext renders hits as numbered source blocks for a generation
// prompt.
func FormatContext(hits []domain.SearchHit) string {
	if len(hits) == 0 {
		return NoDocumentsContext
	}
	parts := make([]string, len(hits))
	for i, h := range hits {
		m := h.Meta
		parts[i] = fmt.Sprintf("[Source %d: %s | Статья %s]\nSection: %s\nChapter: %s\nTitle: %s\nContent:\n%s\n---",
			i+1, sourceLabel(m), articleLabel(m), m.Section, m.Chapter, m.Title, h.Content)
	}
	return strings.Join(parts, "\n\n")
}

// FormatSources builds one citation per article, in hit order.
func FormatSources(hits []domain.SearchHit, previewLen int) []domain.Citation {
	seen := map[string]bool{}
	var out []domain.Citation
	for _, h := range hits {
		m := h.Meta
		article, source := articleLabel(m), sourceLabel(m)
		key := source + "_" + article
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, domain.Citation{
			Article:    article,
			Source:     source,
			Chapter:    domain.Truncate(m.Chapter, citationChapterLen),
			Title:      domain.Truncate(m.Title, citationTitleLen),
			Preview:    domain.Ellipsize(h.Content, previewLen),
			Similarity: fmt.Sprintf("%.1f%%", h.Similarity*100),
		})
	}
	return out
}
