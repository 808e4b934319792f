package annot

import (
	"strings"

	"github.com/relmark/relmark/pkg/token"
)

// Selection is a contiguous token-index interval, always normalized so
// Start <= End. The zero interval is not a valid selection; use None.
type Selection struct {
	Start int
	End   int
}

// None is the empty selection.
var None = Selection{Start: -1, End: -1}

// NewSelection builds a normalized selection regardless of drag direction.
func NewSelection(a, b int) Selection {
	if a > b {
		a, b = b, a
	}
	return Selection{Start: a, End: b}
}

// Active reports whether anything is selected.
func (s Selection) Active() bool {
	return s.Start >= 0 && s.End >= s.Start
}

// Extend grows the selection towards idx, keeping Start as the anchor, and
// renormalizes. Extending an empty selection selects just idx.
func (s Selection) Extend(idx int) Selection {
	if !s.Active() {
		return NewSelection(idx, idx)
	}
	return NewSelection(s.Start, idx)
}

// Contains reports whether the token index falls inside the selection.
func (s Selection) Contains(idx int) bool {
	return s.Active() && idx >= s.Start && idx <= s.End
}

// SurfaceText reconstructs the human-readable phrase under the selection:
// the selected tokens' text including interior whitespace, with leading and
// trailing whitespace trimmed.
func SurfaceText(tokens []token.Token, s Selection) string {
	lo, hi, ok := clampInterval(s, len(tokens))
	if !ok {
		return ""
	}
	var b strings.Builder
	for i := lo; i <= hi; i++ {
		b.WriteString(tokens[i].Text)
	}
	return strings.TrimSpace(b.String())
}

// SelectionSpan maps the selection back to a character span over the
// document text, from the first selected token's start to the last one's
// end. Returns false when nothing is selected.
func SelectionSpan(tokens []token.Token, s Selection) (token.Span, bool) {
	lo, hi, ok := clampInterval(s, len(tokens))
	if !ok {
		return token.Span{}, false
	}
	return token.Span{Start: tokens[lo].Start, End: tokens[hi].End}, true
}

func clampInterval(s Selection, n int) (int, int, bool) {
	if !s.Active() || n == 0 {
		return 0, 0, false
	}
	lo := s.Start
	hi := s.End
	if lo >= n {
		return 0, 0, false
	}
	if hi >= n {
		hi = n - 1
	}
	return lo, hi, true
}
