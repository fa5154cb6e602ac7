package structure

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/opuslawyer/lexrag/engine/domain"
	"github.com/opuslawyer/lexrag/engine/numbering"
)

// Default section labels used until the first section header.
const (
	RussianGeneralPart = "ОБЩАЯ ЧАСТЬ"
	UzbekGeneralRules  = "UMUMIY QOIDALAR"
)

// codeParser is the line state machine shared by the statute conventions.
// It differs per convention only in its patterns and label formats.
type codeParser struct {
	section *regexp.Regexp
	chapter *regexp.Regexp
	article *regexp.Regexp

	defaultSection string
	chapterLabel   func(num, title string) string

	// display resolves the label of the article whose header starts at the
	// given byte offset. The returned func is built once per document.
	display func(text string) func(num string, offset int) string
}

// Russian parses "Раздел / Глава / Статья" codes and resolves inserted
// sub-article numbers.
var Russian Parser = &codeParser{
	section:        regexp.MustCompile(`(?i)^(РАЗДЕЛ\s+[А-ЯA-Z]+|ОБЩАЯ ЧАСТЬ|ОСОБЕННАЯ ЧАСТЬ)`),
	chapter:        regexp.MustCompile(`(?i)^Глава\s+([IVXLC]+|\d+)[.\s]*(.*)$`),
	article:        regexp.MustCompile(`(?i)^Статья\s+(\d+)[.\s]*(.*)$`),
	defaultSection: RussianGeneralPart,
	chapterLabel: func(num, title string) string {
		return strings.TrimSpace(fmt.Sprintf("Глава %s. %s", num, title))
	},
	display: func(text string) func(string, int) string {
		labels := numbering.DisplayMap(numbering.ScanRussian(text))
		return func(num string, offset int) string {
			if l, ok := labels[offset]; ok {
				return l
			}
			return num
		}
	},
}

// Uzbek parses "BOʻLIM / bob / modda" codes.
var Uzbek Parser = &codeParser{
	section:        regexp.MustCompile(`(?i)^(BIRINCHI|IKKINCHI|UCHINCHI|TOʻRTINCHI|BESHINCHI)?\s*BOʻLIM`),
	chapter:        regexp.MustCompile(`(?i)^([IVXLC]+|\d+)\s*bob[.\s]*(.*)$`),
	article:        regexp.MustCompile(`(?i)^(\d+)-modda[.\s]*(.*)$`),
	defaultSection: UzbekGeneralRules,
	chapterLabel: func(num, title string) string {
		return strings.TrimSpace(fmt.Sprintf("%s bob. %s", num, title))
	},
	display: func(string) func(string, int) string {
		return func(num string, _ int) string { return num + "-modda" }
	},
}

func (p *codeParser) Parse(text string) []domain.Article {
	label := p.display(text)

	var (
		out        []domain.Article
		open       *domain.Article
		body       []string
		section    = p.defaultSection
		chapter    = domain.GeneralChapter
		chapterNum string
	)

	emit := func() {
		if open == nil || len(body) == 0 {
			return
		}
		open.Content = strings.Join(body, "\n")
		out = append(out, *open)
	}

	offset := 0
	for _, line := range strings.Split(text, "\n") {
		lineStart := offset
		offset += len(line) + 1

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if p.section.MatchString(trimmed) {
			section = trimmed
			continue
		}

		if m := p.chapter.FindStringSubmatch(trimmed); m != nil {
			chapterNum = m[1]
			chapter = p.chapterLabel(chapterNum, strings.TrimSpace(m[2]))
			continue
		}

		if m := p.article.FindStringSubmatch(trimmed); m != nil {
			emit()
			headerAt := lineStart + len(line) - len(strings.TrimLeftFunc(line, unicode.IsSpace))
			open = &domain.Article{
				Number:     m[1],
				Display:    label(m[1], headerAt),
				Chapter:    chapter,
				ChapterNum: chapterNum,
				Section:    section,
				Title:      strings.TrimSpace(m[2]),
			}
			body = []string{trimmed}
			continue
		}

		if open != nil {
			body = append(body, trimmed)
		}
	}
	emit()

	return out
}
