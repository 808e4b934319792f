package token

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Token
	}{
		{
			name: "empty input",
			text: "",
			want: []Token(nil),
		},
		{
			name: "single word",
			text: "hello",
			want: []Token{
				{Text: "hello", Start: 0, End: 5},
			},
		},
		{
			name: "words and spaces",
			text: "hello world foo",
			want: []Token{
				{Text: "hello", Start: 0, End: 5},
				{Text: " ", Start: 5, End: 6, IsSpace: true},
				{Text: "world", Start: 6, End: 11},
				{Text: " ", Start: 11, End: 12, IsSpace: true},
				{Text: "foo", Start: 12, End: 15},
			},
		},
		{
			name: "punctuation is a single token",
			text: "p53, mutated.",
			want: []Token{
				{Text: "p53", Start: 0, End: 3},
				{Text: ",", Start: 3, End: 4},
				{Text: " ", Start: 4, End: 5, IsSpace: true},
				{Text: "mutated", Start: 5, End: 12},
				{Text: ".", Start: 12, End: 13},
			},
		},
		{
			name: "adjacent punctuation stays split",
			text: "(EGFR)",
			want: []Token{
				{Text: "(", Start: 0, End: 1},
				{Text: "EGFR", Start: 1, End: 5},
				{Text: ")", Start: 5, End: 6},
			},
		},
		{
			name: "whitespace runs merge",
			text: "a  \t\nb",
			want: []Token{
				{Text: "a", Start: 0, End: 1},
				{Text: "  \t\n", Start: 1, End: 5, IsSpace: true},
				{Text: "b", Start: 5, End: 6},
			},
		},
		{
			name: "underscore counts as word rune",
			text: "edge_predicate",
			want: []Token{
				{Text: "edge_predicate", Start: 0, End: 14},
			},
		},
		{
			name: "leading and trailing space",
			text: " x ",
			want: []Token{
				{Text: " ", Start: 0, End: 1, IsSpace: true},
				{Text: "x", Start: 1, End: 2},
				{Text: " ", Start: 2, End: 3, IsSpace: true},
			},
		},
		{
			name: "offsets count runes not bytes",
			text: "héllo wörld",
			want: []Token{
				{Text: "héllo", Start: 0, End: 5},
				{Text: " ", Start: 5, End: 6, IsSpace: true},
				{Text: "wörld", Start: 6, End: 11},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestTokenize_Reconstruction(t *testing.T) {
	inputs := []string{
		"",
		"hello world foo",
		"  leading, interior\tand trailing  ",
		"p53 (TP53) — mutated!",
		"多言語 text mixed with ASCII",
		"line one\nline two\r\nline three",
	}
	for _, text := range inputs {
		tokens := Tokenize(text)
		var b strings.Builder
		for _, tok := range tokens {
			if tok.Text == "" {
				t.Fatalf("Tokenize(%q) produced empty token %+v", text, tok)
			}
			if tok.IsSpace != (strings.TrimSpace(tok.Text) == "") {
				t.Fatalf("Tokenize(%q): token %+v has wrong IsSpace", text, tok)
			}
			b.WriteString(tok.Text)
		}
		if b.String() != text {
			t.Fatalf("Tokenize(%q) does not reconstruct input, got %q", text, b.String())
		}
	}
}

func TestTokenize_NoGapsNoOverlaps(t *testing.T) {
	tokens := Tokenize("one  two\tthree, four")
	pos := 0
	for _, tok := range tokens {
		if tok.Start != pos {
			t.Fatalf("token %+v starts at %d, want %d", tok, tok.Start, pos)
		}
		if tok.End <= tok.Start {
			t.Fatalf("token %+v has non-positive length", tok)
		}
		pos = tok.End
	}
}

func TestCovering(t *testing.T) {
	// "hello"[0,5] " "[5,6] "world"[6,11] " "[11,12] "foo"[12,15]
	tokens := Tokenize("hello world foo")

	tests := []struct {
		name    string
		span    Span
		want    Range
		wantErr error
	}{
		{
			name: "sub-token span maps to its token",
			span: Span{Start: 6, End: 10},
			want: Range{First: 2, Last: 2},
		},
		{
			name: "exact token span",
			span: Span{Start: 6, End: 11},
			want: Range{First: 2, Last: 2},
		},
		{
			name: "span across two words includes interior space index",
			span: Span{Start: 4, End: 7},
			want: Range{First: 0, Last: 2},
		},
		{
			name: "whole text",
			span: Span{Start: 0, End: 15},
			want: Range{First: 0, Last: 4},
		},
		{
			name:    "whitespace-only span",
			span:    Span{Start: 5, End: 6},
			wantErr: ErrNoTokens,
		},
		{
			name:    "span beyond text",
			span:    Span{Start: 40, End: 50},
			wantErr: ErrNoTokens,
		},
		{
			name:    "empty span",
			span:    Span{Start: 3, End: 3},
			wantErr: ErrNoTokens,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Covering(tokens, tt.span)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Covering() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Covering() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Covering() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCovering_EmptyTokens(t *testing.T) {
	_, err := Covering(nil, Span{Start: 0, End: 5})
	if !errors.Is(err, ErrNoTokens) {
		t.Fatalf("expected ErrNoTokens, got %v", err)
	}
}

func TestSlice(t *testing.T) {
	tests := []struct {
		name string
		text string
		span Span
		want string
	}{
		{
			name: "interior span",
			text: "hello world foo",
			span: Span{Start: 6, End: 11},
			want: "world",
		},
		{
			name: "rune offsets on non-ascii",
			text: "héllo wörld",
			span: Span{Start: 6, End: 11},
			want: "wörld",
		},
		{
			name: "clamped past end",
			text: "short",
			span: Span{Start: 3, End: 99},
			want: "rt",
		},
		{
			name: "negative start clamped",
			text: "short",
			span: Span{Start: -2, End: 2},
			want: "sh",
		},
		{
			name: "inverted span is empty",
			text: "short",
			span: Span{Start: 4, End: 2},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slice(tt.text, tt.span); got != tt.want {
				t.Errorf("Slice() = %q, want %q", got, tt.want)
			}
		})
	}
}
