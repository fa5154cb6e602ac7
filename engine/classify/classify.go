// Package classify detects the layout convention of an extracted legal document.
package classify

import (
	"regexp"

	"github.com/opuslawyer/lexrag/engine/domain"
)

// MinHeaders is how many article headers a statute needs before its
// convention is trusted.
const MinHeaders = 3

var (
	russianArticle = regexp.MustCompile(`(?i)Статья\s+\d+`)
	uzbekArticle   = regexp.MustCompile(`(?i)\d+-modda`)

	decreeKeywords = []*regexp.Regexp{
		regexp.MustCompile(`(?i)QAROR`),
		regexp.MustCompile(`(?i)NIZOM`),
		regexp.MustCompile(`(?i)QONUN`),
		regexp.MustCompile(`(?i)FARMON`),
		regexp.MustCompile(`(?i)QAROR\s+QILADI`),
	}
)

// Counts holds the pattern occurrence counts a classification is based on.
type Counts struct {
	Russian int
	Uzbek   int
	Decree  int
}

// Count tallies article headers and the number of decree keywords present.
func Count(text string) Counts {
	c := Counts{
		Russian: len(russianArticle.FindAllStringIndex(text, -1)),
		Uzbek:   len(uzbekArticle.FindAllStringIndex(text, -1)),
	}
	for _, re := range decreeKeywords {
		if re.MatchString(text) {
			c.Decree++
		}
	}
	return c
}

// Classify returns the document type for text. Uzbek headers take
// precedence over Russian ones.
func Classify(text string) domain.DocType {
	return FromCounts(Count(text))
}

// FromCounts applies the decision order to precomputed counts.
func FromCounts(c Counts) domain.DocType {
	switch {
	case c.Uzbek >= MinHeaders:
		return domain.DocUzbekCode
	case c.Russian >= MinHeaders:
		return domain.DocRussianCode
	case c.Decree >= 1:
		return domain.DocDecree
	default:
		return domain.DocGeneric
	}
}
