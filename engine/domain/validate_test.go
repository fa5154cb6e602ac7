package domain

import (
	"errors"
	"testing"
)

func TestValidateRawDocument(t *testing.T) {
	tests := []struct {
		name string
		doc  RawDocument
		want error
	}{
		{"ok", RawDocument{Source: "civil.docx", Text: "Статья 1. Общие положения"}, nil},
		{"no source", RawDocument{Text: "text"}, ErrEmptySource},
		{"blank text", RawDocument{Source: "a.docx", Text: "  \n\n "}, ErrEmptyDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRawDocument(tt.doc)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestValidateQuery(t *testing.T) {
	if err := ValidateQuery("неустойка"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateQuery("   "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestJoinBlocks(t *testing.T) {
	got := JoinBlocks([]string{" first ", "", "   ", "second", "cell"})
	want := "first\n\nsecond\n\ncell"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if JoinBlocks(nil) != "" {
		t.Fatal("expected empty text for no blocks")
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	if got := Truncate("Статья", 3); got != "Ста" {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("abc", -1); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestArticleKey(t *testing.T) {
	h := SearchHit{Meta: ChunkMeta{Source: "civil.docx", ArticleDisplay: "25.1"}}
	if h.ArticleKey() != "civil.docx_25.1" {
		t.Fatalf("unexpected key %q", h.ArticleKey())
	}
}

func TestEllipsize(t *testing.T) {
	if got := Ellipsize("Статья", 3); got != "Ста..." {
		t.Fatalf("got %q", got)
	}
	if got := Ellipsize("Статья", 6); got != "Статья" {
		t.Fatalf("got %q", got)
	}
}
