package workbench

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/relmark/relmark/pkg/annot"
)

// classPalette cycles over these styles when classes are assigned colors.
// Assignment follows the sorted class list, so a class keeps its color for
// as long as the schema holds it.
var classPalette = []color.Attribute{
	color.FgCyan,
	color.FgGreen,
	color.FgYellow,
	color.FgMagenta,
	color.FgBlue,
	color.FgRed,
}

// Renderer paints document text and annotation listings. It owns no model
// state; every method derives its output from the document it is handed.
type Renderer struct {
	styles map[string]*color.Color
	warn   *color.Color
}

// NewRenderer assigns each class a palette color in the order given.
func NewRenderer(classes []string) *Renderer {
	styles := make(map[string]*color.Color, len(classes))
	for i, name := range classes {
		styles[name] = color.New(classPalette[i%len(classPalette)])
	}
	return &Renderer{
		styles: styles,
		warn:   color.New(color.FgRed),
	}
}

// Text writes the document text with entity tokens colored by class and the
// selection wrapped in brackets. The brackets are plain characters, so the
// selected interval stays visible when colors are off.
func (r *Renderer) Text(w io.Writer, doc *annot.Document, sel annot.Selection) {
	tokens := doc.Tokens()
	hs := doc.Highlights(sel)

	first, last := -1, -1
	for i, h := range hs {
		if h.Selected {
			if first < 0 {
				first = i
			}
			last = i
		}
	}

	var b strings.Builder
	for i, tok := range tokens {
		if i == first {
			b.WriteString("[")
		}
		if c := r.styles[hs[i].Class]; c != nil && hs[i].EntityID != "" {
			b.WriteString(c.Sprint(tok.Text))
		} else {
			b.WriteString(tok.Text)
		}
		if i == last {
			b.WriteString("]")
		}
	}
	fmt.Fprintln(w, b.String())
}

// Entities writes one line per entity: id, class, label and character span.
func (r *Renderer) Entities(w io.Writer, doc *annot.Document) {
	for _, e := range doc.Entities() {
		class := e.Class
		if c := r.styles[class]; c != nil {
			class = c.Sprint(class)
		}
		fmt.Fprintf(w, "  %s %s %q [%d,%d)\n", e.ID, class, e.Label, e.Span.Start, e.Span.End)
	}
}

// Relations writes one line per relation, marking the ones the report
// rejected and appending the failure message.
func (r *Renderer) Relations(w io.Writer, doc *annot.Document, report annot.Report) {
	for _, rel := range doc.Relations() {
		mark := " "
		note := ""
		if p, ok := report.ProblemFor(rel.ID); ok {
			mark = r.warn.Sprint("!")
			note = "  " + p.Message
		}

		pred := rel.Predicate
		if pred == "" {
			pred = "?"
		}
		if edge := rel.Attrs["edge_predicate"]; edge != "" {
			pred += "/" + edge
		}

		fmt.Fprintf(w, "%s %s %s(%s -> %s)%s\n",
			mark, rel.ID, pred, orUnset(rel.Subject), orUnset(rel.Object), note)
	}
}

func orUnset(id string) string {
	if id == "" {
		return "?"
	}
	return id
}
