// Package workbench is the interactive terminal front end: a line-oriented
// command loop that drives the annotation session, renders the document
// with per-class colors and collects schema-authoring input.
package workbench

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/relmark/relmark/internal/authoring"
	"github.com/relmark/relmark/internal/session"
	"github.com/relmark/relmark/pkg/annot"
	"github.com/relmark/relmark/pkg/gateway"
	"github.com/relmark/relmark/pkg/schema"
)

// Console couples one line scanner with one output stream. Session
// confirmation prompts read from the same scanner as the command loop, so a
// prompt never races a queued command line.
type Console struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewConsole wraps the given streams.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewScanner(in), out: out}
}

// Printf writes formatted output.
func (c *Console) Printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// ReadLine prints the prompt and returns the next input line, trimmed.
// ok is false once input is exhausted.
func (c *Console) ReadLine(prompt string) (line string, ok bool) {
	fmt.Fprint(c.out, prompt)
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

// Confirm asks a yes/no question. Anything but y or yes counts as no, end
// of input included.
func (c *Console) Confirm(prompt string) bool {
	line, ok := c.ReadLine(prompt + " [y/N] ")
	if !ok {
		return false
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true
	}
	return false
}

// Workbench is the command loop state: the session it drives, the checker
// and client used for schema authoring, and the current token selection.
type Workbench struct {
	session *session.Session
	checker *authoring.Checker
	client  gateway.Client
	console *Console
	render  *Renderer
	sel     annot.Selection
}

type NewWorkbenchParams struct {
	Session *session.Session
	Checker *authoring.Checker
	Client  gateway.Client
	Console *Console
}

func NewWorkbench(params NewWorkbenchParams) *Workbench {
	return &Workbench{
		session: params.Session,
		checker: params.Checker,
		client:  params.Client,
		console: params.Console,
		sel:     annot.None,
	}
}

// Run starts the session and processes commands until quit or end of input.
func (w *Workbench) Run(ctx context.Context) error {
	if err := w.session.Start(ctx); err != nil {
		return err
	}
	w.render = NewRenderer(w.session.Schemas().ClassNames())
	w.console.Printf("%s\n", w.session.Progress())
	w.show()

	for {
		line, ok := w.console.ReadLine(w.prompt())
		if !ok {
			return nil
		}
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		name, args := fields[0], fields[1:]
		if name == "quit" || name == "exit" {
			if w.session.Dirty() && !w.console.Confirm("Discard unsaved edits?") {
				continue
			}
			return nil
		}
		if err := w.dispatch(ctx, name, args); err != nil {
			w.console.Printf("error: %v\n", err)
		}
	}
}

func (w *Workbench) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "help":
		w.help()
		return nil
	case "show":
		w.show()
		return nil
	case "tokens":
		return w.listTokens()
	case "select":
		return w.selectTokens(args)
	case "extend":
		return w.extendSelection(args)
	case "clear":
		w.sel = annot.None
		w.show()
		return nil
	case "entity":
		return w.createEntity(args)
	case "set":
		return w.editEntity(args)
	case "rel":
		return w.createRelation(args)
	case "link":
		return w.linkRelation(args)
	case "pred":
		return w.setPredicate(args)
	case "rset":
		return w.editRelation(args)
	case "del":
		return w.deleteByID(args)
	case "validate":
		return w.validate()
	case "save", "next":
		return w.saveAndNext(ctx)
	case "prev":
		return w.previous(ctx)
	case "refresh":
		return w.refresh(ctx)
	case "suggest":
		return w.suggest(ctx, args)
	case "semantic":
		return w.semantic(ctx, args)
	case "schema":
		return w.describeSchema(args)
	case "enums":
		return w.listEnums(args)
	case "newenum":
		return w.newEnum(ctx, args)
	case "newclass":
		return w.newClass(ctx, args)
	case "newrel":
		return w.newRelation(ctx, args)
	default:
		return fmt.Errorf("unknown command %q (try help)", name)
	}
}

func (w *Workbench) prompt() string {
	doc := w.session.Document()
	if doc == nil {
		return "> "
	}
	dirty := ""
	if w.session.Dirty() {
		dirty = "*"
	}
	return fmt.Sprintf("%s%s> ", doc.TextID(), dirty)
}

func (w *Workbench) doc() (*annot.Document, error) {
	doc := w.session.Document()
	if doc == nil {
		return nil, session.ErrNoDocument
	}
	return doc, nil
}

func (w *Workbench) show() {
	doc := w.session.Document()
	if doc == nil {
		w.console.Printf("no document loaded\n")
		return
	}
	w.render.Text(w.console.out, doc, w.sel)
	w.render.Entities(w.console.out, doc)
	if len(doc.Relations()) > 0 {
		w.render.Relations(w.console.out, doc, doc.Validate())
	}
}

func (w *Workbench) listTokens() error {
	doc, err := w.doc()
	if err != nil {
		return err
	}
	for i, tok := range doc.Tokens() {
		if tok.IsSpace {
			continue
		}
		w.console.Printf("%3d %s\n", i, tok.Text)
	}
	return nil
}

func (w *Workbench) selectTokens(args []string) error {
	doc, err := w.doc()
	if err != nil {
		return err
	}
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: select <first> [last]")
	}
	a, err := parseIndex(args[0], len(doc.Tokens()))
	if err != nil {
		return err
	}
	b := a
	if len(args) == 2 {
		if b, err = parseIndex(args[1], len(doc.Tokens())); err != nil {
			return err
		}
	}
	w.sel = annot.NewSelection(a, b)
	w.console.Printf("selected %q\n", annot.SurfaceText(doc.Tokens(), w.sel))
	return nil
}

func (w *Workbench) extendSelection(args []string) error {
	doc, err := w.doc()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return errors.New("usage: extend <index>")
	}
	idx, err := parseIndex(args[0], len(doc.Tokens()))
	if err != nil {
		return err
	}
	w.sel = w.sel.Extend(idx)
	w.console.Printf("selected %q\n", annot.SurfaceText(doc.Tokens(), w.sel))
	return nil
}

func (w *Workbench) createEntity(args []string) error {
	doc, err := w.doc()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return errors.New("usage: entity <Class> [label]")
	}
	span, ok := annot.SelectionSpan(doc.Tokens(), w.sel)
	if !ok {
		return errors.New("nothing selected")
	}
	label := strings.Join(args[1:], " ")
	if label == "" {
		label = annot.SurfaceText(doc.Tokens(), w.sel)
	}

	ent, err := doc.CreateEntity(args[0], label, span, nil)
	if err != nil {
		return err
	}
	w.sel = annot.None
	w.console.Printf("created %s %s %q\n", ent.ID, ent.Class, ent.Label)
	w.show()
	return nil
}

func (w *Workbench) editEntity(args []string) error {
	doc, err := w.doc()
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errors.New("usage: set <entity> key=value ...")
	}
	ent, ok := doc.Entity(args[0])
	if !ok {
		return fmt.Errorf("no entity %s", args[0])
	}
	pairs, err := parsePairs(args[1:])
	if err != nil {
		return err
	}

	class, label := ent.Class, ent.Label
	attrs := make(map[string]string, len(ent.Attrs)+len(pairs))
	for k, v := range ent.Attrs {
		attrs[k] = v
	}
	for k, v := range pairs {
		switch k {
		case "class":
			class = v
		case "label":
			label = v
		default:
			attrs[k] = v
		}
	}

	if err := doc.EditEntity(ent.ID, class, label, attrs); err != nil {
		return err
	}
	w.show()
	return nil
}

func (w *Workbench) createRelation(args []string) error {
	doc, err := w.doc()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return errors.New("usage: rel <subject entity>")
	}
	rel, err := doc.CreateRelation(args[0])
	if err != nil {
		return err
	}
	w.console.Printf("created %s with subject %s\n", rel.ID, args[0])
	return nil
}

func (w *Workbench) linkRelation(args []string) error {
	doc, err := w.doc()
	if err != nil {
		return err
	}
	if len(args) != 3 {
		return errors.New("usage: link <relation> subject|object <entity>")
	}
	var role annot.Role
	switch args[1] {
	case "subject":
		role = annot.Subject
	case "object":
		role = annot.Object
	default:
		return fmt.Errorf("role must be subject or object, got %q", args[1])
	}
	if err := doc.SetRelationEndpoint(args[0], role, args[2]); err != nil {
		return err
	}
	w.show()
	return nil
}

func (w *Workbench) setPredicate(args []string) error {
	doc, err := w.doc()
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errors.New("usage: pred <relation> <Type> [key=value ...]")
	}
	rel, ok := doc.Relation(args[0])
	if !ok {
		return fmt.Errorf("no relation %s", args[0])
	}
	pairs, err := parsePairs(args[2:])
	if err != nil {
		return err
	}
	if err := doc.SetRelationPredicate(rel.ID, args[1], mergeAttrs(rel.Attrs, pairs), rel.AttrOrder); err != nil {
		return err
	}
	w.show()
	return nil
}

func (w *Workbench) editRelation(args []string) error {
	doc, err := w.doc()
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errors.New("usage: rset <relation> key=value ...")
	}
	rel, ok := doc.Relation(args[0])
	if !ok {
		return fmt.Errorf("no relation %s", args[0])
	}
	if rel.Predicate == "" {
		return errors.New("set a relation type first (pred)")
	}
	pairs, err := parsePairs(args[1:])
	if err != nil {
		return err
	}
	if err := doc.SetRelationPredicate(rel.ID, rel.Predicate, mergeAttrs(rel.Attrs, pairs), rel.AttrOrder); err != nil {
		return err
	}
	w.show()
	return nil
}

func (w *Workbench) deleteByID(args []string) error {
	doc, err := w.doc()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return errors.New("usage: del <id>")
	}
	id := args[0]
	switch {
	case strings.HasPrefix(id, "T"):
		cascade := 0
		for _, rel := range doc.Relations() {
			if rel.Subject == id || rel.Object == id {
				cascade++
			}
		}
		if err := doc.DeleteEntity(id); err != nil {
			return err
		}
		if cascade > 0 {
			w.console.Printf("deleted %s and %d relation(s)\n", id, cascade)
		} else {
			w.console.Printf("deleted %s\n", id)
		}
	case strings.HasPrefix(id, "R"):
		if err := doc.DeleteRelation(id); err != nil {
			return err
		}
		w.console.Printf("deleted %s\n", id)
	default:
		return fmt.Errorf("no entity or relation %s", id)
	}
	w.show()
	return nil
}

func (w *Workbench) validate() error {
	doc, err := w.doc()
	if err != nil {
		return err
	}
	report := doc.Validate()
	if report.OK() {
		w.console.Printf("all relations valid\n")
		return nil
	}
	for _, p := range report.Problems {
		w.console.Printf("%s\n", p.Message)
	}
	return nil
}

func (w *Workbench) saveAndNext(ctx context.Context) error {
	result, err := w.session.SaveAndNext(ctx)
	if err != nil {
		return err
	}
	switch result.Outcome {
	case session.OutcomeInvalid:
		w.console.Printf("not saved, fix these first:\n")
		for _, p := range result.Report.Problems {
			w.console.Printf("  %s\n", p.Message)
		}
		return nil
	case session.OutcomeDeclined:
		w.console.Printf("save declined, nothing written\n")
		return nil
	case session.OutcomeSkipped:
		w.console.Printf("no changes, skipped ahead\n")
	case session.OutcomeOverwritten:
		w.console.Printf("overwrote saved annotations\n")
	default:
		w.console.Printf("saved\n")
	}

	w.sel = annot.None
	if result.AtEnd {
		w.console.Printf("reached the end of the corpus\n")
		return nil
	}
	w.console.Printf("%s\n", w.session.Progress())
	w.show()
	return nil
}

func (w *Workbench) previous(ctx context.Context) error {
	moved, err := w.session.Prev(ctx)
	if err != nil {
		return err
	}
	if !moved {
		w.console.Printf("staying put\n")
		return nil
	}
	w.sel = annot.None
	w.console.Printf("%s\n", w.session.Progress())
	w.show()
	return nil
}

func (w *Workbench) refresh(ctx context.Context) error {
	if err := w.session.Refresh(ctx); err != nil {
		return err
	}
	w.render = NewRenderer(w.session.Schemas().ClassNames())
	w.console.Printf("schema refreshed\n")
	return nil
}

func (w *Workbench) suggest(ctx context.Context, args []string) error {
	kind := "class"
	if len(args) > 0 && (args[0] == "class" || args[0] == "relation") {
		kind = args[0]
		args = args[1:]
	}
	query := strings.Join(args, " ")
	if query == "" {
		if doc := w.session.Document(); doc != nil && w.sel.Active() {
			query = annot.SurfaceText(doc.Tokens(), w.sel)
		}
	}
	if query == "" {
		return errors.New("usage: suggest [class|relation] <query>")
	}

	result := w.session.Suggest(ctx, gateway.SuggestQuery{Kind: kind, Query: query})
	if !result.Ready || len(result.Items) == 0 {
		w.console.Printf("no suggestions\n")
		return nil
	}
	for _, item := range result.Items {
		w.console.Printf("  %.2f %s  %s\n", item.Score, item.ClassName, item.Description)
	}
	return nil
}

func (w *Workbench) semantic(ctx context.Context, args []string) error {
	kind := "class"
	if len(args) > 0 {
		kind = args[0]
	}
	status, err := w.session.SemanticStatus(ctx, kind)
	if err != nil {
		return err
	}
	if !status.Ready {
		w.console.Printf("%s index not built\n", kind)
		return nil
	}
	w.console.Printf("%s index ready: %d entries, model %s\n", kind, status.Size, status.Model)
	return nil
}

func (w *Workbench) describeSchema(args []string) error {
	schemas := w.session.Schemas()
	if len(args) == 0 {
		w.console.Printf("classes:   %s\n", strings.Join(schemas.ClassNames(), " "))
		w.console.Printf("relations: %s\n", strings.Join(schemas.RelationNames(), " "))
		return nil
	}

	name := args[0]
	if class, ok := schemas.Class(name); ok {
		w.console.Printf("%s: %s\n", name, class.Description)
		for _, attr := range sortedNames(class.Attributes) {
			w.console.Printf("  %s %s\n", attr, describeAttr(class.Attributes[attr]))
		}
		return nil
	}
	if rel, ok := schemas.Relation(name); ok {
		w.console.Printf("%s: %s\n", name, rel.Description)
		w.console.Printf("  subject: %s\n", strings.Join(rel.Subject, " "))
		w.console.Printf("  object:  %s\n", strings.Join(rel.Object, " "))
		for _, attr := range sortedNames(rel.Attributes) {
			spec := rel.Attributes[attr]
			line := fmt.Sprintf("  %s (%s) %s", attr, spec.Role, describeAttr(spec))
			if desc, ok := schemas.FieldDescription(name, attr); ok {
				line += "  " + desc
			}
			w.console.Printf("%s\n", line)
		}
		return nil
	}
	return fmt.Errorf("no class or relation %q", name)
}

func (w *Workbench) listEnums(args []string) error {
	schemas := w.session.Schemas()
	if len(args) > 0 {
		values, ok := schemas.EnumValues(args[0])
		if !ok {
			return fmt.Errorf("no enum %q", args[0])
		}
		w.console.Printf("%s: %s\n", args[0], strings.Join(values, " "))
		return nil
	}
	enums := schemas.Enums()
	for _, name := range sortedNames(enums) {
		w.console.Printf("%s (%d values)\n", name, len(enums[name]))
	}
	return nil
}

func (w *Workbench) newEnum(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: newenum <name> <value,value,...>")
	}
	name, values, err := w.checker.CheckEnum(args[0], splitList(strings.Join(args[1:], " ")))
	if err != nil {
		return err
	}
	if err := w.client.CreateEnum(ctx, name, values); err != nil {
		return err
	}
	w.console.Printf("created enum %s\n", name)
	return w.refresh(ctx)
}

func (w *Workbench) newClass(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: newclass <Name> [description]")
	}
	draft := authoring.ClassDraft{
		Name:        args[0],
		Description: strings.Join(args[1:], " "),
	}

	w.console.Printf("attributes as: name type [optional] [value,value] (blank line ends)\n")
	for {
		line, ok := w.console.ReadLine("attr> ")
		if !ok || line == "" {
			break
		}
		attr, err := parseAttrDraft(line)
		if err != nil {
			w.console.Printf("error: %v\n", err)
			continue
		}
		draft.Attributes = append(draft.Attributes, attr)
	}

	proposal, err := w.checker.CheckClass(draft)
	if err != nil {
		return err
	}
	if err := w.client.ProposeClass(ctx, proposal); err != nil {
		return err
	}
	w.console.Printf("proposed class %s for review\n", proposal.Name)
	return nil
}

func (w *Workbench) newRelation(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: newrel <Name> [description]")
	}
	draft := authoring.RelationDraft{
		Name:        args[0],
		Description: strings.Join(args[1:], " "),
	}

	subjects, ok := w.console.ReadLine("subject classes (comma separated)> ")
	if !ok {
		return errors.New("input closed")
	}
	draft.SubjectClasses = splitList(subjects)

	objects, ok := w.console.ReadLine("object classes> ")
	if !ok {
		return errors.New("input closed")
	}
	draft.ObjectClasses = splitList(objects)

	predicates, ok := w.console.ReadLine("predicate choices (optional)> ")
	if !ok {
		return errors.New("input closed")
	}
	draft.PredicateChoices = splitList(predicates)

	w.console.Printf("fields as: name fixed <ENUM_NAME | name=v1,v2 | =v1,v2> | name dynamic <Class,Class> | name free_text [number], append optional (blank line ends)\n")
	for {
		line, ok := w.console.ReadLine("field> ")
		if !ok || line == "" {
			break
		}
		field, err := parseFieldDraft(line)
		if err != nil {
			w.console.Printf("error: %v\n", err)
			continue
		}
		draft.Fields = append(draft.Fields, field)
	}

	proposal, err := w.checker.CheckRelation(draft)
	if err != nil {
		return err
	}
	if err := w.client.ProposeRelation(ctx, proposal); err != nil {
		return err
	}
	w.console.Printf("proposed relation %s for review\n", proposal.Name)
	return nil
}

func (w *Workbench) help() {
	w.console.Printf(`commands:
  show                           redraw text, entities and relations
  tokens                         list selectable tokens with indices
  select <a> [b]                 select a token interval
  extend <b>                     grow the selection
  clear                          drop the selection
  entity <Class> [label]         tag the selection as an entity
  set <T#> [class=] [label=] [attr=]   edit an entity
  rel <T#>                       start a relation from a subject
  link <R#> subject|object <T#>  attach an endpoint
  pred <R#> <Type> [attr=]       set the relation type and attributes
  rset <R#> attr=value           edit relation attributes
  del <T#|R#>                    delete an entity (cascades) or relation
  validate                       check every relation against the schema
  save | next                    save the document and move forward
  prev                           move back, confirming unsaved edits
  refresh                        refetch the schema
  suggest [class|relation] [query]   semantic suggestions
  semantic [class|relation]      semantic index status
  schema [Name]                  browse classes and relations
  enums [NAME]                   browse enums
  newenum <name> <v1,v2,...>     create an enum
  newclass <Name> [desc]         propose a class
  newrel <Name> [desc]           propose a relation
  quit
`)
}

func parseIndex(arg string, n int) (int, error) {
	idx, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("bad token index %q", arg)
	}
	if idx < 0 || idx >= n {
		return 0, fmt.Errorf("token index %d out of range (0..%d)", idx, n-1)
	}
	return idx, nil
}

func parsePairs(args []string) (map[string]string, error) {
	pairs := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		pairs[k] = v
	}
	return pairs, nil
}

func mergeAttrs(attrs, pairs map[string]string) map[string]string {
	merged := make(map[string]string, len(attrs)+len(pairs))
	for k, v := range attrs {
		merged[k] = v
	}
	for k, v := range pairs {
		merged[k] = v
	}
	return merged
}

func parseAttrDraft(line string) (authoring.AttrDraft, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return authoring.AttrDraft{}, errors.New("need at least a name and a type")
	}
	attr := authoring.AttrDraft{Name: fields[0], Type: fields[1]}
	for _, f := range fields[2:] {
		if f == "optional" {
			attr.Optional = true
			continue
		}
		attr.LiteralValues = append(attr.LiteralValues, splitList(f)...)
	}
	return attr, nil
}

func parseFieldDraft(line string) (authoring.FieldDraft, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return authoring.FieldDraft{}, errors.New("need at least a name and a kind")
	}
	field := authoring.FieldDraft{Name: fields[0], Kind: fields[1]}
	rest := fields[2:]
	if n := len(rest); n > 0 && rest[n-1] == "optional" {
		field.Optional = true
		rest = rest[:n-1]
	}

	switch field.Kind {
	case authoring.FieldFixed:
		if len(rest) != 1 {
			return authoring.FieldDraft{}, errors.New("fixed needs an enum name or name=value,value")
		}
		if name, values, ok := strings.Cut(rest[0], "="); ok {
			field.NewEnumName = name
			field.NewEnumValues = splitList(values)
		} else {
			field.EnumName = rest[0]
		}
	case authoring.FieldDynamic:
		if len(rest) != 1 {
			return authoring.FieldDraft{}, errors.New("dynamic needs a class list")
		}
		field.Classes = splitList(rest[0])
	case authoring.FieldFreeText:
		if len(rest) > 1 {
			return authoring.FieldDraft{}, errors.New("free_text takes at most a text type")
		}
		if len(rest) == 1 {
			field.TextType = rest[0]
		}
	}
	return field, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func describeAttr(spec schema.AttrSpec) string {
	desc := spec.Kind.String()
	switch spec.Kind {
	case schema.AttrEnum:
		desc += "[" + strings.Join(spec.Enum, " ") + "]"
	case schema.AttrEntity:
		desc += "[" + strings.Join(spec.Classes, " ") + "]"
	}
	if !spec.Nullable {
		desc += " required"
	}
	return desc
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
