// Package structure splits statute text into ordered article records.
//
// Each document convention has its own Parser. All of them are pure and
// never fail: text they cannot make sense of yields no articles, which the
// chunker treats as a request for whole-document segmentation.
package structure

import "github.com/opuslawyer/lexrag/engine/domain"

// Parser turns document text into articles in encounter order.
type Parser interface {
	Parse(text string) []domain.Article
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(text string) []domain.Article

// Parse implements Parser.
func (f ParserFunc) Parse(text string) []domain.Article { return f(text) }

// Generic recognizes no structure.
var Generic Parser = ParserFunc(func(string) []domain.Article { return nil })

// For returns the parser registered for a document type. Unknown types get
// Generic.
func For(t domain.DocType) Parser {
	switch t {
	case domain.DocRussianCode:
		return Russian
	case domain.DocUzbekCode:
		return Uzbek
	case domain.DocDecree:
		return Decree
	default:
		return Generic
	}
}
