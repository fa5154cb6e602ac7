package structure

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/opuslawyer/lexrag/engine/domain"
)

// Decree tuning.
const (
	// MinPoints is the number of numbered points below which paragraphs are
	// also collected.
	MinPoints = 3
	// MinParagraphLen is the rune length a paragraph must exceed to become
	// an article.
	MinParagraphLen = 100
	// ParagraphProbeLen is the prefix length used to detect paragraphs that
	// are already covered by a collected article.
	ParagraphProbeLen = 50

	UnknownDocument = "Unknown Document"
)

var (
	pointHeader   = regexp.MustCompile(`(?m)^(\d+)\.\s+`)
	decreeKeyword = regexp.MustCompile(`(?i)(QONUNI?|QARORI?|FARMONI?|NIZOMI?)\s*\n`)
	titleEnd      = regexp.MustCompile(`\n\n|\n\d+\.`)
)

// Decree parses point-numbered decrees, laws and regulations.
var Decree Parser = ParserFunc(parseDecree)

func parseDecree(text string) []domain.Article {
	title := DocumentTitle(text)
	section := domain.Truncate(title, 100)

	var out []domain.Article
	headers := pointHeader.FindAllStringSubmatchIndex(text, -1)
	for i, h := range headers {
		end := len(text)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		content := strings.TrimSpace(text[h[1]:end])
		if content == "" {
			continue
		}
		num := text[h[2]:h[3]]
		out = append(out, domain.Article{
			Number:  num,
			Display: "пункт " + num,
			Chapter: domain.GeneralChapter,
			Section: section,
			Title:   domain.Ellipsize(content, 100),
			Content: content,
		})
	}

	if len(out) >= MinPoints {
		return out
	}

	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); utf8.RuneCountInString(p) > MinParagraphLen {
			paragraphs = append(paragraphs, p)
		}
	}
	for i, p := range paragraphs {
		if covered(out, domain.Truncate(p, ParagraphProbeLen)) {
			continue
		}
		num := strconv.Itoa(i + 1)
		out = append(out, domain.Article{
			Number:  num,
			Display: "раздел " + num,
			Chapter: domain.GeneralChapter,
			Section: section,
			Title:   domain.Ellipsize(p, 80),
			Content: p,
		})
	}
	return out
}

func covered(articles []domain.Article, probe string) bool {
	for _, a := range articles {
		if strings.Contains(a.Content, probe) {
			return true
		}
	}
	return false
}

// DocumentTitle extracts the heading that follows the first decree keyword
// line, up to the first blank line or numbered point. It returns
// UnknownDocument when there is none.
func DocumentTitle(text string) string {
	for _, m := range decreeKeyword.FindAllStringIndex(text, -1) {
		rest := text[m[1]:]
		if rest == "" {
			continue
		}
		_, first := utf8.DecodeRuneInString(rest)
		loc := titleEnd.FindStringIndex(rest[first:])
		if loc == nil {
			continue
		}
		return domain.Truncate(strings.TrimSpace(rest[:first+loc[0]]), 200)
	}
	return UnknownDocument
}
