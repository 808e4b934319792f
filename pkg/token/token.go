// Package token splits document text into offset-tagged lexical units and
// maps character spans back onto them. All offsets count runes, not bytes,
// matching how the annotation backend measures spans.
package token

import (
	"errors"
	"unicode"
)

// Token is a minimal lexical unit: a maximal run of word runes, a single
// other printable rune, or a maximal whitespace run. Start and End are rune
// offsets into the document text, End exclusive.
type Token struct {
	Text    string
	Start   int
	End     int
	IsSpace bool
}

// Span is a half-open rune offset range [Start, End) into document text.
type Span struct {
	Start int
	End   int
}

// Range is an inclusive pair of token indices.
type Range struct {
	First int
	Last  int
}

// ErrNoTokens is returned when a span does not overlap any non-space token.
var ErrNoTokens = errors.New("span overlaps no tokens")

// Len returns the span length in runes.
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether two half-open spans share at least one offset.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Contains reports whether the inclusive index range contains idx.
func (r Range) Contains(idx int) bool {
	return idx >= r.First && idx <= r.Last
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokenize splits text into tokens covering the whole input with no gaps and
// no overlaps, so concatenating every Text reproduces the input exactly.
// Pure and deterministic; it is recomputed on every document load and never
// persisted.
func Tokenize(text string) []Token {
	runes := []rune(text)

	var tokens []Token
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			j := i + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			tokens = append(tokens, Token{
				Text:    string(runes[i:j]),
				Start:   i,
				End:     j,
				IsSpace: true,
			})
			i = j
		case isWordRune(r):
			j := i + 1
			for j < len(runes) && isWordRune(runes[j]) {
				j++
			}
			tokens = append(tokens, Token{
				Text:  string(runes[i:j]),
				Start: i,
				End:   j,
			})
			i = j
		default:
			tokens = append(tokens, Token{
				Text:  string(r),
				Start: i,
				End:   i + 1,
			})
			i++
		}
	}
	return tokens
}

// Covering returns the inclusive index range of the non-space tokens whose
// offsets intersect span: the first token with End > span.Start through the
// last token with Start < span.End. Space tokens are never range endpoints.
// Returns ErrNoTokens when no non-space token intersects.
func Covering(tokens []Token, span Span) (Range, error) {
	first := -1
	last := -1
	for i, tok := range tokens {
		if tok.IsSpace {
			continue
		}
		if tok.End > span.Start && tok.Start < span.End {
			if first == -1 {
				first = i
			}
			last = i
		}
	}
	if first == -1 {
		return Range{}, ErrNoTokens
	}
	return Range{First: first, Last: last}, nil
}

// Slice returns the substring of text at span, counted in runes. Out-of-range
// offsets are clamped to the text bounds.
func Slice(text string, span Span) string {
	runes := []rune(text)
	start := span.Start
	end := span.End
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}
