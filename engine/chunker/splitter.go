package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried in order: blank-line runs, paragraphs, lines,
// sentences, clauses, words.
var DefaultSeparators = []string{"\n\n\n", "\n\n", "\n", ". ", ", ", " "}

// Splitter breaks text into pieces of at most Size runes, preferring the
// earliest separator that occurs in the text and recursing into pieces that
// are still too long. Consecutive pieces share up to Overlap runes.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// Split returns the trimmed, non-empty pieces of text.
func (s Splitter) Split(text string) []string {
	seps := s.Separators
	if seps == nil {
		seps = DefaultSeparators
	}
	return s.split(text, seps)
}

func (s Splitter) split(text string, seps []string) []string {
	sep := ""
	var rest []string
	if len(seps) > 0 {
		sep = seps[len(seps)-1]
	}
	for i, candidate := range seps {
		if candidate == "" {
			sep = ""
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = seps[i+1:]
			break
		}
	}

	var out, good []string
	for _, piece := range splitKeep(text, sep) {
		if runeLen(piece) < s.Size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			if piece = strings.TrimSpace(piece); piece != "" {
				out = append(out, piece)
			}
		} else {
			out = append(out, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge packs pieces into windows no longer than Size, carrying a tail of
// at most Overlap runes into the next window.
func (s Splitter) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.Size && len(current) > 0 {
			if doc := join(current); doc != "" {
				out = append(out, doc)
			}
			for total > s.Overlap || (total+n > s.Size && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := join(current); doc != "" {
		out = append(out, doc)
	}
	return out
}

// splitKeep splits text on sep, keeping each separator at the start of the
// piece that follows it. Empty pieces are dropped.
func splitKeep(text, sep string) []string {
	var parts []string
	if sep == "" {
		parts = strings.Split(text, "")
	} else {
		raw := strings.Split(text, sep)
		parts = make([]string, 0, len(raw))
		parts = append(parts, raw[0])
		for _, r := range raw[1:] {
			parts = append(parts, sep+r)
		}
	}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func join(pieces []string) string {
	return strings.TrimSpace(strings.Join(pieces, ""))
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
