// Package annot holds the in-memory annotation model for one loaded
// document: typed entity spans, typed relations between them, and the
// validation and highlight logic that keeps both consistent with the
// server-supplied schema.
package annot

import (
	"errors"

	"github.com/relmark/relmark/pkg/schema"
	"github.com/relmark/relmark/pkg/token"
)

var (
	ErrUnknownEntity    = errors.New("unknown entity id")
	ErrUnknownRelation  = errors.New("unknown relation id")
	ErrUnknownClass     = errors.New("class not in schema")
	ErrUnknownPredicate = errors.New("relation type not in schema")
	ErrInvalidSpan      = errors.New("span start must precede span end")
	ErrSelfRelation     = errors.New("relation endpoints must differ")
	ErrClassNotAllowed  = errors.New("entity class not allowed for role")
)

// Entity is a tagged span of text. ID is unique within a document, assigned
// sequentially (T1, T2, ...) at creation and never reused in a session.
// Span and TokenRange describe the same stretch of text and are derived
// together; they never change after creation.
type Entity struct {
	ID         string
	Class      string
	Label      string
	Attrs      map[string]string
	Span       token.Span
	TokenRange token.Range
}

// Relation is a typed, directed link between two entities. Subject and
// Object hold entity IDs and stay empty while the relation is under
// construction. Predicate names a relation type in the schema once set.
type Relation struct {
	ID        string
	Predicate string
	Subject   string
	Object    string
	Attrs     map[string]string
	AttrOrder AttrOrder
}

// AttrOrder preserves the user-chosen display order of a relation's
// attributes per namespace. Each list is a permutation of the attribute
// names the current predicate defines for that namespace, never an
// arbitrary list.
type AttrOrder struct {
	Subject   []string
	Object    []string
	Statement []string
}

// Role identifies which end of a relation an entity occupies.
type Role int

const (
	Subject Role = iota
	Object
)

// String returns the wire name of the role.
func (r Role) String() string {
	if r == Object {
		return "object"
	}
	return "subject"
}

// Schema is the read view of the schema store the model validates against.
type Schema interface {
	Class(name string) (schema.Class, bool)
	Relation(name string) (schema.Relation, bool)
}
