package annot

// TokenHighlight is the render state of one token: which entity covers it,
// that entity's class for styling, and whether the token falls inside the
// current selection. Entity and selection layers are independent; a token
// can carry both.
type TokenHighlight struct {
	EntityID string
	Class    string
	Selected bool
}

// Highlights derives the per-token render state from the current entities
// and selection. It is a pure function of the model: entities paint their
// token ranges in creation order, so a later entity wins tokens it shares
// with an earlier one, and the selection flags its interval on top.
func (d *Document) Highlights(sel Selection) []TokenHighlight {
	hs := make([]TokenHighlight, len(d.tokens))

	for _, e := range d.entities {
		for i := e.TokenRange.First; i <= e.TokenRange.Last; i++ {
			if i < 0 || i >= len(hs) {
				continue
			}
			hs[i].EntityID = e.ID
			hs[i].Class = e.Class
		}
	}

	if sel.Active() {
		lo, hi, ok := clampInterval(sel, len(hs))
		if ok {
			for i := lo; i <= hi; i++ {
				hs[i].Selected = true
			}
		}
	}

	return hs
}
