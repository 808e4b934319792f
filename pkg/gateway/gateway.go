// Package gateway defines the persistence surface of the annotation
// backend: schema definitions, document paging, annotation CRUD and the
// semantic suggestion service. The core model only ever talks to the
// Client interface; the HTTP implementation lives in the httpapi
// subpackage.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/relmark/relmark/pkg/schema"
)

var (
	// ErrNotFound marks a lookup for something the backend does not hold,
	// e.g. annotations for a text that was never saved.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a save rejected because annotations for the text
	// already exist and overwrite was not requested.
	ErrConflict = errors.New("annotations for this text already exist")

	// ErrNoMoreTexts marks paging past either end of the corpus.
	ErrNoMoreTexts = errors.New("no more texts")
)

// Client is the backend the annotation session persists through.
type Client interface {
	// Schema definitions, fetched once per session and on refresh.
	Classes(ctx context.Context) (map[string]schema.Class, error)
	Relations(ctx context.Context) (map[string]schema.Relation, error)
	RefreshRelations(ctx context.Context) error
	Enums(ctx context.Context) (map[string][]string, error)
	CreateEnum(ctx context.Context, name string, values []string) error
	FieldDescriptions(ctx context.Context) (map[string]map[string]string, error)

	// Document paging by cursor. Both return ErrNoMoreTexts past the
	// corpus bounds.
	NextText(ctx context.Context, cursor int) (TextPage, error)
	PrevText(ctx context.Context, cursor int) (TextPage, error)

	// Annotation persistence per text id.
	Annotation(ctx context.Context, textID string) (SavedAnnotation, error)
	AnnotationExists(ctx context.Context, textID string) (bool, error)
	SaveAnnotation(ctx context.Context, payload SavePayload, overwrite bool) (SaveReceipt, error)

	// Schema authoring.
	ProposeClass(ctx context.Context, proposal ProposedClass) error
	ProposeRelation(ctx context.Context, proposal ProposedRelation) error

	// Semantic suggestion service. Callers must degrade gracefully when
	// these fail; an unavailable index is not an annotation error.
	SemanticStatus(ctx context.Context, kind string) (SemanticStatus, error)
	Suggest(ctx context.Context, query SuggestQuery) (SuggestResult, error)
}

// TextPage is one document of the corpus plus its paging position.
type TextPage struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Cursor int    `json:"cursor"`
	Total  int    `json:"total"`
}

// Span is the wire form of a character span, offsets in code points.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Entity is the wire form of a tagged span.
type Entity struct {
	ID         string         `json:"id"`
	Class      string         `json:"class"`
	Label      string         `json:"label"`
	Span       Span           `json:"span"`
	Attributes map[string]any `json:"attributes"`
}

// Relation is the wire form of a typed link between two entities.
type Relation struct {
	ID         string         `json:"id"`
	Predicate  string         `json:"predicate"`
	Subject    string         `json:"subject"`
	Object     string         `json:"object"`
	Attributes map[string]any `json:"attributes"`
}

// SavePayload is the body of a save request. Text rides along so the
// backend can bounds-check the entity spans.
type SavePayload struct {
	TextID    string     `json:"text_id"`
	Text      string     `json:"text"`
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// SavedAnnotation is a previously saved annotation set for one text. The
// backend strips the text itself before persisting.
type SavedAnnotation struct {
	TextID    string     `json:"text_id"`
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// SaveReceipt acknowledges a successful save.
type SaveReceipt struct {
	OK          bool `json:"ok"`
	Overwritten bool `json:"overwritten"`
}

// SemanticStatus describes the suggestion index for one kind.
type SemanticStatus struct {
	Ready       bool   `json:"ready"`
	Size        int    `json:"size"`
	Model       string `json:"model"`
	HasEmbedder bool   `json:"has_embedder"`
}

// SuggestQuery asks the semantic index for classes or relation types
// matching a phrase. Zero values for Kind, TopK and Threshold are filled
// with the backend defaults (class, 10, 0.5) by implementations.
type SuggestQuery struct {
	Kind         string  `json:"kind"`
	Query        string  `json:"query"`
	Label        string  `json:"label"`
	SubjectClass string  `json:"subject_class,omitempty"`
	ObjectClass  string  `json:"object_class,omitempty"`
	TopK         int     `json:"top_k"`
	Threshold    float64 `json:"threshold"`
}

// SuggestItem is one ranked suggestion.
type SuggestItem struct {
	ClassName   string  `json:"class_name"`
	Score       float64 `json:"score"`
	Description string  `json:"description"`
}

// SuggestResult is the ranked suggestion list for one query.
type SuggestResult struct {
	Ready bool          `json:"ready"`
	Total int           `json:"total"`
	Items []SuggestItem `json:"items"`
}

// ProposedAttr is one attribute of a proposed entity class.
type ProposedAttr struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Optional      bool     `json:"optional"`
	Description   string   `json:"description,omitempty"`
	LiteralValues []string `json:"literal_values,omitempty"`
}

// ProposedClass is a schema-authoring request for a new entity class.
type ProposedClass struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Attributes  []ProposedAttr `json:"attributes"`
}

// NewEnum carries the values for an enum created inline with a proposed
// relation field.
type NewEnum struct {
	Name   string   `json:"name,omitempty"`
	Values []string `json:"values"`
}

// ProposedField is one attribute of a proposed relation type: a fixed
// choice backed by an enum, a dynamic entity reference, or free text.
type ProposedField struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Optional    bool     `json:"optional"`
	Description string   `json:"description,omitempty"`
	EnumName    string   `json:"enum_name,omitempty"`
	NewEnum     *NewEnum `json:"new_enum,omitempty"`
	Classes     []string `json:"classes,omitempty"`
	TextType    string   `json:"text_type,omitempty"`
}

// ProposedRelation is a schema-authoring request for a new relation type.
type ProposedRelation struct {
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	SubjectClasses   []string        `json:"subject_classes"`
	ObjectClasses    []string        `json:"object_classes"`
	PredicateChoices []string        `json:"predicate_choices,omitempty"`
	Fields           []ProposedField `json:"fields"`
}

// StringAttrs flattens wire attribute values into the model's string
// attributes. Numbers keep their shortest decimal form.
func StringAttrs(attrs map[string]any) map[string]string {
	out := make(map[string]string, len(attrs))
	for name, value := range attrs {
		switch v := value.(type) {
		case nil:
			out[name] = ""
		case string:
			out[name] = v
		case float64:
			out[name] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[name] = strconv.FormatBool(v)
		default:
			out[name] = fmt.Sprint(v)
		}
	}
	return out
}

// AnyAttrs widens model attributes back into the wire's free-form
// attribute values.
func AnyAttrs(attrs map[string]string) map[string]any {
	out := make(map[string]any, len(attrs))
	for name, value := range attrs {
		out[name] = value
	}
	return out
}
