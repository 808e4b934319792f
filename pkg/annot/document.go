package annot

import (
	"fmt"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/relmark/relmark/pkg/schema"
	"github.com/relmark/relmark/pkg/token"
)

// Document is the annotation model for one loaded text. All mutation goes
// through its methods; every successful mutation bumps the version so the
// session controller can track dirty state. Lookup methods return copies,
// not aliases into the model.
type Document struct {
	textID string
	text   string
	tokens []token.Token

	entities  []Entity
	relations []Relation

	entitySeq   int
	relationSeq int

	version uint64

	schema Schema
}

// NewDocumentParams contains what a fresh document model needs.
type NewDocumentParams struct {
	TextID string
	Text   string
	Schema Schema
}

// NewDocument tokenizes the text and returns an empty model for it.
func NewDocument(params NewDocumentParams) *Document {
	return &Document{
		textID: params.TextID,
		text:   params.Text,
		tokens: token.Tokenize(params.Text),
		schema: params.Schema,
	}
}

// TextID returns the backend id of the loaded text.
func (d *Document) TextID() string {
	return d.textID
}

// Text returns the raw document text.
func (d *Document) Text() string {
	return d.text
}

// Tokens returns the token sequence for the text. Callers must not modify
// the returned slice.
func (d *Document) Tokens() []token.Token {
	return d.tokens
}

// Version increments on every successful mutation. Comparing versions is
// how callers detect edits without hooking every operation.
func (d *Document) Version() uint64 {
	return d.version
}

// Entity looks up an entity by id.
func (d *Document) Entity(id string) (Entity, bool) {
	for _, e := range d.entities {
		if e.ID == id {
			return copyEntity(e), true
		}
	}
	return Entity{}, false
}

// Relation looks up a relation by id.
func (d *Document) Relation(id string) (Relation, bool) {
	for _, r := range d.relations {
		if r.ID == id {
			return copyRelation(r), true
		}
	}
	return Relation{}, false
}

// Entities returns all entities in creation order.
func (d *Document) Entities() []Entity {
	out := make([]Entity, len(d.entities))
	for i, e := range d.entities {
		out[i] = copyEntity(e)
	}
	return out
}

// Relations returns all relations in creation order.
func (d *Document) Relations() []Relation {
	out := make([]Relation, len(d.relations))
	for i, r := range d.relations {
		out[i] = copyRelation(r)
	}
	return out
}

// CreateEntity tags the span with a class and label. The token range is
// derived from the span against the document's tokens; the entity id is the
// next in the T sequence. Attributes not defined by the class are dropped.
func (d *Document) CreateEntity(class, label string, span token.Span, attrs map[string]string) (Entity, error) {
	if span.Start >= span.End {
		return Entity{}, fmt.Errorf("failed to create entity: %w", ErrInvalidSpan)
	}
	spec, ok := d.schema.Class(class)
	if !ok {
		return Entity{}, fmt.Errorf("failed to create entity: %q: %w", class, ErrUnknownClass)
	}
	rng, err := token.Covering(d.tokens, span)
	if err != nil {
		return Entity{}, fmt.Errorf("failed to create entity: %w", err)
	}

	d.entitySeq++
	entity := Entity{
		ID:         fmt.Sprintf("T%d", d.entitySeq),
		Class:      class,
		Label:      label,
		Attrs:      filterAttrs(attrs, spec.Attributes),
		Span:       span,
		TokenRange: rng,
	}
	d.entities = append(d.entities, entity)
	d.version++
	return copyEntity(entity), nil
}

// EditEntity replaces class, label and attributes in place. Span and token
// range are untouched.
func (d *Document) EditEntity(id, class, label string, attrs map[string]string) error {
	idx := d.entityIndex(id)
	if idx < 0 {
		return fmt.Errorf("failed to edit entity %s: %w", id, ErrUnknownEntity)
	}
	spec, ok := d.schema.Class(class)
	if !ok {
		return fmt.Errorf("failed to edit entity %s: %q: %w", id, class, ErrUnknownClass)
	}

	d.entities[idx].Class = class
	d.entities[idx].Label = label
	d.entities[idx].Attrs = filterAttrs(attrs, spec.Attributes)
	d.version++
	return nil
}

// DeleteEntity removes the entity and cascades to every relation that
// references it as subject or object.
func (d *Document) DeleteEntity(id string) error {
	idx := d.entityIndex(id)
	if idx < 0 {
		return fmt.Errorf("failed to delete entity %s: %w", id, ErrUnknownEntity)
	}

	d.entities = append(d.entities[:idx], d.entities[idx+1:]...)

	kept := d.relations[:0]
	for _, r := range d.relations {
		if r.Subject == id || r.Object == id {
			continue
		}
		kept = append(kept, r)
	}
	d.relations = kept
	d.version++
	return nil
}

// CreateRelation starts a new relation with the given subject. The object
// stays empty until an entity is dropped on it; the relation id is the next
// in the R sequence regardless of how many relations currently exist.
func (d *Document) CreateRelation(subjectID string) (Relation, error) {
	if d.entityIndex(subjectID) < 0 {
		return Relation{}, fmt.Errorf("failed to create relation: subject %s: %w", subjectID, ErrUnknownEntity)
	}

	d.relationSeq++
	rel := Relation{
		ID:      fmt.Sprintf("R%d", d.relationSeq),
		Subject: subjectID,
		Attrs:   map[string]string{},
	}
	d.relations = append(d.relations, rel)
	d.version++
	return copyRelation(rel), nil
}

// SetRelationEndpoint assigns an entity to one end of a relation. Both ends
// must stay distinct, and once a predicate is chosen the entity's class must
// be permitted on that role.
func (d *Document) SetRelationEndpoint(relID string, role Role, entityID string) error {
	idx := d.relationIndex(relID)
	if idx < 0 {
		return fmt.Errorf("failed to set %s of %s: %w", role, relID, ErrUnknownRelation)
	}
	entIdx := d.entityIndex(entityID)
	if entIdx < 0 {
		return fmt.Errorf("failed to set %s of %s: %s: %w", role, relID, entityID, ErrUnknownEntity)
	}

	rel := &d.relations[idx]
	other := rel.Object
	if role == Object {
		other = rel.Subject
	}
	if other == entityID {
		return fmt.Errorf("failed to set %s of %s: %w", role, relID, ErrSelfRelation)
	}

	if rel.Predicate != "" {
		if spec, ok := d.schema.Relation(rel.Predicate); ok {
			allowed := spec.Subject
			if role == Object {
				allowed = spec.Object
			}
			if !mapset.NewSet[string](allowed...).Contains(d.entities[entIdx].Class) {
				return fmt.Errorf("failed to set %s of %s: class %q: %w",
					role, relID, d.entities[entIdx].Class, ErrClassNotAllowed)
			}
		}
	}

	if role == Object {
		rel.Object = entityID
	} else {
		rel.Subject = entityID
	}
	d.version++
	return nil
}

// SetRelationPredicate sets the relation type plus its attributes and
// display order. When both endpoints are set and only the reverse
// orientation fits the type's class lists, subject and object are swapped;
// when both orientations fit, the pair is left alone. With a single
// endpoint the entity moves to whichever role uniquely permits its class.
// Attributes the type does not define are dropped, and the order lists are
// normalized to permutations of the defined names.
func (d *Document) SetRelationPredicate(relID, predicate string, attrs map[string]string, order AttrOrder) error {
	idx := d.relationIndex(relID)
	if idx < 0 {
		return fmt.Errorf("failed to set predicate of %s: %w", relID, ErrUnknownRelation)
	}
	spec, ok := d.schema.Relation(predicate)
	if !ok {
		return fmt.Errorf("failed to set predicate of %s: %q: %w", relID, predicate, ErrUnknownPredicate)
	}

	rel := &d.relations[idx]
	rel.Predicate = predicate
	d.orientEndpoints(rel, spec)
	rel.Attrs = filterAttrs(attrs, spec.Attributes)
	rel.AttrOrder = normalizeAttrOrder(order, spec)
	d.version++
	return nil
}

// DeleteRelation removes the relation.
func (d *Document) DeleteRelation(relID string) error {
	idx := d.relationIndex(relID)
	if idx < 0 {
		return fmt.Errorf("failed to delete relation %s: %w", relID, ErrUnknownRelation)
	}
	d.relations = append(d.relations[:idx], d.relations[idx+1:]...)
	d.version++
	return nil
}

// RestoreEntity rebuilds a previously saved entity, recomputing the token
// range from the span against the current tokenization. Unlike CreateEntity
// it keeps the saved id, class and attributes verbatim even when the schema
// has since changed; the validator reports any drift. The T counter is
// advanced past the restored ordinal.
func (d *Document) RestoreEntity(id, class, label string, span token.Span, attrs map[string]string) (Entity, error) {
	if span.Start >= span.End {
		return Entity{}, fmt.Errorf("failed to restore entity %s: %w", id, ErrInvalidSpan)
	}
	rng, err := token.Covering(d.tokens, span)
	if err != nil {
		return Entity{}, fmt.Errorf("failed to restore entity %s: %w", id, err)
	}

	entity := Entity{
		ID:         id,
		Class:      class,
		Label:      label,
		Attrs:      copyAttrs(attrs),
		Span:       span,
		TokenRange: rng,
	}
	d.entities = append(d.entities, entity)
	if n, ok := parseOrdinal(id, "T"); ok && n > d.entitySeq {
		d.entitySeq = n
	}
	d.version++
	return copyEntity(entity), nil
}

// RestoreRelation rebuilds a previously saved relation verbatim. The attr
// order is re-derived from the predicate's schema since the wire format
// does not carry it. The R counter is advanced past the restored ordinal.
func (d *Document) RestoreRelation(id, predicate, subjectID, objectID string, attrs map[string]string) (Relation, error) {
	rel := Relation{
		ID:        id,
		Predicate: predicate,
		Subject:   subjectID,
		Object:    objectID,
		Attrs:     copyAttrs(attrs),
	}
	if spec, ok := d.schema.Relation(predicate); ok {
		rel.AttrOrder = normalizeAttrOrder(AttrOrder{}, spec)
	}
	d.relations = append(d.relations, rel)
	if n, ok := parseOrdinal(id, "R"); ok && n > d.relationSeq {
		d.relationSeq = n
	}
	d.version++
	return copyRelation(rel), nil
}

func (d *Document) entityIndex(id string) int {
	for i, e := range d.entities {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (d *Document) relationIndex(id string) int {
	for i, r := range d.relations {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// orientEndpoints reorders subject and object to match an orientation the
// relation type permits. Ambiguous pairs (symmetric relations) are left
// untouched.
func (d *Document) orientEndpoints(rel *Relation, spec schema.Relation) {
	subjSet := mapset.NewSet[string](spec.Subject...)
	objSet := mapset.NewSet[string](spec.Object...)

	subjClass, subjOK := d.entityClass(rel.Subject)
	objClass, objOK := d.entityClass(rel.Object)

	switch {
	case subjOK && objOK:
		fwd := subjSet.Contains(subjClass) && objSet.Contains(objClass)
		rev := subjSet.Contains(objClass) && objSet.Contains(subjClass)
		if !fwd && rev {
			rel.Subject, rel.Object = rel.Object, rel.Subject
		}
	case subjOK:
		// subject-only relation under construction: move the entity to
		// the uniquely permitted role
		if !subjSet.Contains(subjClass) && objSet.Contains(subjClass) {
			rel.Subject, rel.Object = "", rel.Subject
		}
	case objOK:
		if !objSet.Contains(objClass) && subjSet.Contains(objClass) {
			rel.Subject, rel.Object = rel.Object, ""
		}
	}
}

func (d *Document) entityClass(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	idx := d.entityIndex(id)
	if idx < 0 {
		return "", false
	}
	return d.entities[idx].Class, true
}

// filterAttrs copies the given attributes, keeping only names the schema
// defines. Unknown names are dropped, matching how the backend normalizes
// saved payloads.
func filterAttrs(attrs map[string]string, specs map[string]schema.AttrSpec) map[string]string {
	kept := map[string]string{}
	for name, value := range attrs {
		if _, ok := specs[name]; ok {
			kept[name] = value
		}
	}
	return kept
}

// normalizeAttrOrder keeps the caller's ordering for names the relation
// schema defines in each namespace and appends any defined names the caller
// omitted, so each list is always a permutation of the defined names for
// that role.
func normalizeAttrOrder(order AttrOrder, spec schema.Relation) AttrOrder {
	return AttrOrder{
		Subject:   normalizeRoleOrder(order.Subject, spec.AttrNamesByRole(schema.RoleSubject)),
		Object:    normalizeRoleOrder(order.Object, spec.AttrNamesByRole(schema.RoleObject)),
		Statement: normalizeRoleOrder(order.Statement, spec.AttrNamesByRole(schema.RoleStatement)),
	}
}

func normalizeRoleOrder(requested, defined []string) []string {
	if len(defined) == 0 {
		return nil
	}
	definedSet := mapset.NewSet[string](defined...)
	seen := mapset.NewSet[string]()

	out := make([]string, 0, len(defined))
	for _, name := range requested {
		if definedSet.Contains(name) && !seen.Contains(name) {
			out = append(out, name)
			seen.Add(name)
		}
	}
	for _, name := range defined {
		if !seen.Contains(name) {
			out = append(out, name)
			seen.Add(name)
		}
	}
	return out
}

func copyEntity(e Entity) Entity {
	e.Attrs = copyAttrs(e.Attrs)
	return e
}

func copyRelation(r Relation) Relation {
	r.Attrs = copyAttrs(r.Attrs)
	r.AttrOrder = AttrOrder{
		Subject:   append([]string(nil), r.AttrOrder.Subject...),
		Object:    append([]string(nil), r.AttrOrder.Object...),
		Statement: append([]string(nil), r.AttrOrder.Statement...),
	}
	return r
}

func copyAttrs(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// parseOrdinal extracts the numeric part of ids like T12 or R3.
func parseOrdinal(id, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
