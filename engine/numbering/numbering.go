// Package numbering resolves article display labels for statutes that encode
// inserted articles by appending a sub-digit to the base number, so that
// article 125 sub 1 is printed as 1251.
package numbering

import (
	"regexp"
	"strconv"
)

// Lookahead is how many following occurrences are scanned when the
// neighbours alone cannot decide.
const Lookahead = 9

// Occurrence is an article number found at a byte offset of the text.
type Occurrence struct {
	Pos    int
	Number int
}

var russianHeader = regexp.MustCompile(`(?i)Статья\s+(\d+)`)

// ScanRussian returns every "Статья N" occurrence in text order. Numbers that
// do not fit an int are skipped.
func ScanRussian(text string) []Occurrence {
	return Scan(russianHeader, text)
}

// Scan collects occurrences of re, whose first group must capture digits.
func Scan(re *regexp.Regexp, text string) []Occurrence {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	out := make([]Occurrence, 0, len(matches))
	for _, m := range matches {
		if len(m) < 4 || m[2] < 0 {
			continue
		}
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		out = append(out, Occurrence{Pos: m[0], Number: n})
	}
	return out
}

// DisplayMap computes the display label of every occurrence keyed by position.
func DisplayMap(occ []Occurrence) map[int]string {
	out := make(map[int]string, len(occ))
	for i := range occ {
		out[occ[i].Pos] = Label(occ, i)
	}
	return out
}

// Label returns the display label for occ[i] given its neighbours.
func Label(occ []Occurrence, i int) string {
	num := occ[i].Number
	literal := strconv.Itoa(num)

	if num < 100 || num%10 == 0 {
		return literal
	}

	base, sub := num/10, num%10
	fractional := strconv.Itoa(base) + "." + strconv.Itoa(sub)

	if num >= 1000 {
		return fractional
	}

	prev, hasPrev := neighbour(occ, i-1)
	next, hasNext := neighbour(occ, i+1)

	if (hasPrev && prev == num-1) || (hasNext && next == num+1) {
		return literal
	}
	if hasPrev && hasNext && prev == base && next == base+1 {
		return fractional
	}
	if hasPrev && (prev == base || (prev >= 100 && prev < 1000 && prev/10 == base)) {
		end := min(i+1+Lookahead, len(occ))
		for j := i + 1; j < end; j++ {
			future := occ[j].Number
			if future == base+1 {
				return fractional
			}
			if future == num+1 || future > base+1 {
				break
			}
		}
	}
	return literal
}

func neighbour(occ []Occurrence, i int) (int, bool) {
	if i < 0 || i >= len(occ) {
		return 0, false
	}
	return occ[i].Number, true
}
