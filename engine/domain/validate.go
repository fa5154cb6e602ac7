package domain

import (
	"strings"
	"unicode/utf8"
)

// ValidateRawDocument checks a document before it enters the indexing pipeline.
func ValidateRawDocument(doc RawDocument) error {
	if strings.TrimSpace(doc.Source) == "" {
		return NewValidationError("source", doc.Source, ErrEmptySource)
	}
	if strings.TrimSpace(doc.Text) == "" {
		return NewValidationError("text", "", ErrEmptyDocument)
	}
	return nil
}

// ValidateQuery checks a retrieval query.
func ValidateQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return NewValidationError("query", q, ErrEmptyQuery)
	}
	return nil
}

// JoinBlocks builds the full text of a document from its extracted blocks.
// Blank blocks are dropped and the rest are joined with blank-line separators.
func JoinBlocks(blocks []string) string {
	kept := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b = strings.TrimSpace(b); b != "" {
			kept = append(kept, b)
		}
	}
	return strings.Join(kept, "\n\n")
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n < 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Ellipsize truncates s to n runes and appends "..." when anything was cut.
func Ellipsize(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return Truncate(s, n) + "..."
}
