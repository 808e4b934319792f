// Package authoring validates schema-authoring input locally, mirroring
// the backend's acceptance rules so a round trip is never wasted on a
// payload the server would reject.
package authoring

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-playground/validator"

	"github.com/relmark/relmark/pkg/gateway"
	"github.com/relmark/relmark/pkg/schema"
)

var (
	// ErrBadName marks an identifier the backend would reject.
	ErrBadName = errors.New("name not allowed")

	// ErrUnknownClass marks references to entity classes the schema does
	// not define.
	ErrUnknownClass = errors.New("unknown class")

	// ErrUnknownEnum marks references to enums the schema does not hold.
	ErrUnknownEnum = errors.New("unknown enum")

	// ErrDuplicate marks names the schema already holds.
	ErrDuplicate = errors.New("already exists")

	// ErrNoValues marks enums proposed without a single usable value.
	ErrNoValues = errors.New("at least one value is required")

	// ErrBadField marks a field or attribute draft the backend would
	// reject.
	ErrBadField = errors.New("field not allowed")
)

// Field kinds of a relation draft.
const (
	FieldFixed    = "fixed"
	FieldDynamic  = "dynamic"
	FieldFreeText = "free_text"
)

var (
	classNameRe = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]*$`)
	fieldNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	enumNameRe  = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
	nonWordRe   = regexp.MustCompile(`[^A-Za-z0-9_]+`)
)

// attrTypes are the attribute types the proposed-class generator
// understands.
var attrTypes = mapset.NewSet[string](
	"str", "int", "float", "bool",
	"list[str]", "list[int]", "list[float]", "list[bool]",
	"literal",
)

// NormalizeEnumName applies the backend's enum naming scheme: word
// characters only, uppercased, with an _ENUM suffix.
func NormalizeEnumName(name string) string {
	name = nonWordRe.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.ToUpper(name)
	if !strings.HasSuffix(name, "_ENUM") {
		name += "_ENUM"
	}
	return name
}

// ClassDraft is user input for a proposed entity class.
type ClassDraft struct {
	Name        string `validate:"required"`
	Description string
	Attributes  []AttrDraft `validate:"dive"`
}

// AttrDraft is one attribute on a class draft. Type is one of the
// generator's supported annotations (str, int, float, bool, their list
// forms, or literal with LiteralValues).
type AttrDraft struct {
	Name          string `validate:"required"`
	Type          string `validate:"required"`
	Optional      bool
	Description   string
	LiteralValues []string
}

// FieldDraft is one attribute of a relation draft: a fixed choice
// backed by an enum, a dynamic entity reference, or free text.
type FieldDraft struct {
	Name        string `validate:"required"`
	Kind        string `validate:"required"`
	Optional    bool
	Description string

	// fixed: either an existing enum by name or values for a new one
	EnumName      string
	NewEnumName   string
	NewEnumValues []string

	// dynamic
	Classes []string

	// free_text: "text" or "number", empty means text
	TextType string
}

// RelationDraft is user input for a proposed relation type.
type RelationDraft struct {
	Name             string   `validate:"required"`
	Description      string
	SubjectClasses   []string `validate:"required,min=1"`
	ObjectClasses    []string `validate:"required,min=1"`
	PredicateChoices []string
	Fields           []FieldDraft `validate:"dive"`
}

// Checker validates authoring drafts against the loaded schema.
type Checker struct {
	validate *validator.Validate
	schemas  *schema.Store
}

// NewCheckerParams contains the dependencies of a Checker.
type NewCheckerParams struct {
	Schemas *schema.Store
}

// NewChecker creates a checker backed by the given schema store.
func NewChecker(params NewCheckerParams) *Checker {
	return &Checker{
		validate: validator.New(),
		schemas:  params.Schemas,
	}
}

// CheckEnum normalizes the enum name and cleans the value list the way
// the backend would, rejecting input the backend would refuse. It also
// rejects names the loaded schema already holds.
func (c *Checker) CheckEnum(name string, values []string) (string, []string, error) {
	normalized := NormalizeEnumName(name)
	if !enumNameRe.MatchString(normalized) {
		return "", nil, fmt.Errorf("invalid enum name after normalization: %s: %w", normalized, ErrBadName)
	}

	cleaned := cleanValues(values)
	if len(cleaned) == 0 {
		return "", nil, fmt.Errorf("enum %s: %w", normalized, ErrNoValues)
	}

	if _, ok := c.schemas.EnumValues(normalized); ok {
		return "", nil, fmt.Errorf("enum %s: %w", normalized, ErrDuplicate)
	}
	return normalized, cleaned, nil
}

// CheckClass validates a class draft and builds the proposal payload.
func (c *Checker) CheckClass(draft ClassDraft) (gateway.ProposedClass, error) {
	if err := c.validate.Struct(draft); err != nil {
		return gateway.ProposedClass{}, fmt.Errorf("invalid class draft: %w", err)
	}
	if !classNameRe.MatchString(draft.Name) {
		return gateway.ProposedClass{}, fmt.Errorf("invalid class name %q (use CamelCase): %w", draft.Name, ErrBadName)
	}
	if _, ok := c.schemas.Class(draft.Name); ok {
		return gateway.ProposedClass{}, fmt.Errorf("class %q: %w", draft.Name, ErrDuplicate)
	}

	out := gateway.ProposedClass{
		Name:        draft.Name,
		Description: draft.Description,
		Attributes:  make([]gateway.ProposedAttr, 0, len(draft.Attributes)),
	}
	for _, a := range draft.Attributes {
		if !fieldNameRe.MatchString(a.Name) {
			return gateway.ProposedClass{}, fmt.Errorf("invalid field name %q (use snake_case): %w", a.Name, ErrBadName)
		}
		if !attrTypes.Contains(a.Type) {
			return gateway.ProposedClass{}, fmt.Errorf("attribute %q: unsupported type %q: %w", a.Name, a.Type, ErrBadField)
		}
		if a.Type == "literal" && len(cleanValues(a.LiteralValues)) == 0 {
			return gateway.ProposedClass{}, fmt.Errorf("attribute %q is literal but has no values: %w", a.Name, ErrBadField)
		}
		out.Attributes = append(out.Attributes, gateway.ProposedAttr{
			Name:          a.Name,
			Type:          a.Type,
			Optional:      a.Optional,
			Description:   a.Description,
			LiteralValues: a.LiteralValues,
		})
	}
	return out, nil
}

// CheckRelation validates a relation draft and builds the proposal
// payload. Subject, object and dynamic-field classes must all be known
// to the schema; fixed fields must name an existing enum or carry
// values for a new one.
func (c *Checker) CheckRelation(draft RelationDraft) (gateway.ProposedRelation, error) {
	if err := c.validate.Struct(draft); err != nil {
		return gateway.ProposedRelation{}, fmt.Errorf("invalid relation draft: %w", err)
	}
	if !classNameRe.MatchString(draft.Name) {
		return gateway.ProposedRelation{}, fmt.Errorf("invalid relation name %q (use CamelCase): %w", draft.Name, ErrBadName)
	}
	if _, ok := c.schemas.Relation(draft.Name); ok {
		return gateway.ProposedRelation{}, fmt.Errorf("relation %q: %w", draft.Name, ErrDuplicate)
	}

	if missing := c.unknownClasses(draft.SubjectClasses); len(missing) > 0 {
		return gateway.ProposedRelation{}, fmt.Errorf("subject classes %v: %w", missing, ErrUnknownClass)
	}
	if missing := c.unknownClasses(draft.ObjectClasses); len(missing) > 0 {
		return gateway.ProposedRelation{}, fmt.Errorf("object classes %v: %w", missing, ErrUnknownClass)
	}

	out := gateway.ProposedRelation{
		Name:             draft.Name,
		Description:      draft.Description,
		SubjectClasses:   draft.SubjectClasses,
		ObjectClasses:    draft.ObjectClasses,
		PredicateChoices: cleanValues(draft.PredicateChoices),
		Fields:           make([]gateway.ProposedField, 0, len(draft.Fields)),
	}

	for _, f := range draft.Fields {
		field, err := c.checkField(f)
		if err != nil {
			return gateway.ProposedRelation{}, err
		}
		out.Fields = append(out.Fields, field)
	}
	return out, nil
}

func (c *Checker) checkField(f FieldDraft) (gateway.ProposedField, error) {
	if !fieldNameRe.MatchString(f.Name) {
		return gateway.ProposedField{}, fmt.Errorf("invalid field name %q (use snake_case): %w", f.Name, ErrBadName)
	}

	field := gateway.ProposedField{
		Name:        f.Name,
		Kind:        f.Kind,
		Optional:    f.Optional,
		Description: f.Description,
	}

	switch f.Kind {
	case FieldFixed:
		values := cleanValues(f.NewEnumValues)
		switch {
		case len(values) > 0:
			newEnum := &gateway.NewEnum{Values: values}
			if f.NewEnumName != "" {
				name := NormalizeEnumName(f.NewEnumName)
				if _, ok := c.schemas.EnumValues(name); ok {
					return gateway.ProposedField{}, fmt.Errorf("field %q: enum %s: %w", f.Name, name, ErrDuplicate)
				}
				newEnum.Name = name
			}
			field.NewEnum = newEnum
		case f.EnumName != "":
			if _, ok := c.schemas.EnumValues(f.EnumName); !ok {
				return gateway.ProposedField{}, fmt.Errorf("field %q: enum %q: %w", f.Name, f.EnumName, ErrUnknownEnum)
			}
			field.EnumName = f.EnumName
		default:
			return gateway.ProposedField{}, fmt.Errorf("field %q: choose an existing enum or create a new one: %w", f.Name, ErrBadField)
		}

	case FieldDynamic:
		classes := dedupe(f.Classes)
		if len(classes) == 0 {
			return gateway.ProposedField{}, fmt.Errorf("field %q is dynamic but has no classes: %w", f.Name, ErrBadField)
		}
		if missing := c.unknownClasses(classes); len(missing) > 0 {
			return gateway.ProposedField{}, fmt.Errorf("field %q classes %v: %w", f.Name, missing, ErrUnknownClass)
		}
		field.Classes = classes

	case FieldFreeText:
		textType := f.TextType
		if textType == "" {
			textType = "text"
		}
		if textType != "text" && textType != "number" {
			return gateway.ProposedField{}, fmt.Errorf("field %q: text type %q not supported: %w", f.Name, f.TextType, ErrBadField)
		}
		field.TextType = textType

	default:
		return gateway.ProposedField{}, fmt.Errorf("unsupported field kind %q: %w", f.Kind, ErrBadField)
	}

	return field, nil
}

// unknownClasses returns the given names the schema does not define,
// sorted for stable messages.
func (c *Checker) unknownClasses(names []string) []string {
	known := mapset.NewSet[string](c.schemas.ClassNames()...)
	missing := mapset.NewSet[string](names...).Difference(known)
	if missing.Cardinality() == 0 {
		return nil
	}
	out := missing.ToSlice()
	slices.Sort(out)
	return out
}

// cleanValues trims each value and drops blanks, keeping order.
func cleanValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// dedupe drops repeated entries, keeping first occurrences in order.
func dedupe(values []string) []string {
	seen := mapset.NewSet[string]()
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen.Contains(v) {
			continue
		}
		seen.Add(v)
		out = append(out, v)
	}
	return out
}
