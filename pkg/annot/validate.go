package annot

import (
	"fmt"
	"slices"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/relmark/relmark/pkg/schema"
)

// Reason classifies why a relation failed validation.
type Reason int

const (
	ReasonIncomplete Reason = iota
	ReasonUnknownPredicate
	ReasonDanglingRef
	ReasonClassPair
	ReasonMissingAttr
	ReasonBadEnumValue
	ReasonNotNumeric
	ReasonBadEntityRef
)

// Problem is one validation failure, at most one per relation since checks
// short-circuit. Field names the offending attribute for attribute-level
// reasons and stays empty otherwise.
type Problem struct {
	RelationID string
	Field      string
	Reason     Reason
	Message    string
}

// Report is the result of validating every relation in a document.
type Report struct {
	Problems []Problem
}

// OK reports whether every relation passed.
func (r Report) OK() bool {
	return len(r.Problems) == 0
}

// ProblemFor returns the problem recorded for one relation, if any.
func (r Report) ProblemFor(relID string) (Problem, bool) {
	for _, p := range r.Problems {
		if p.RelationID == relID {
			return p, true
		}
	}
	return Problem{}, false
}

// Validate checks every relation against the schema, in creation order,
// short-circuiting at the first failure per relation: completeness, known
// predicate, resolvable endpoints, endpoint class compatibility in either
// orientation, then per-attribute requirements. It never mutates the model,
// so validating twice without edits yields identical reports.
func (d *Document) Validate() Report {
	var report Report
	for i := range d.relations {
		if p, ok := d.validateRelation(&d.relations[i]); !ok {
			report.Problems = append(report.Problems, p)
		}
	}
	return report
}

func (d *Document) validateRelation(rel *Relation) (Problem, bool) {
	if rel.Subject == "" || rel.Object == "" || rel.Predicate == "" {
		return Problem{
			RelationID: rel.ID,
			Reason:     ReasonIncomplete,
			Message:    fmt.Sprintf("relation %s is incomplete: subject, object and predicate must all be set", rel.ID),
		}, false
	}

	spec, ok := d.schema.Relation(rel.Predicate)
	if !ok {
		return Problem{
			RelationID: rel.ID,
			Reason:     ReasonUnknownPredicate,
			Message:    fmt.Sprintf("relation %s has unknown relation type %q", rel.ID, rel.Predicate),
		}, false
	}

	subjClass, subjOK := d.entityClass(rel.Subject)
	objClass, objOK := d.entityClass(rel.Object)
	if !subjOK || !objOK {
		return Problem{
			RelationID: rel.ID,
			Reason:     ReasonDanglingRef,
			Message:    fmt.Sprintf("relation %s refers to unknown entity id(s)", rel.ID),
		}, false
	}

	subjSet := mapset.NewSet[string](spec.Subject...)
	objSet := mapset.NewSet[string](spec.Object...)
	fwd := subjSet.Contains(subjClass) && objSet.Contains(objClass)
	rev := subjSet.Contains(objClass) && objSet.Contains(subjClass)
	if !fwd && !rev {
		return Problem{
			RelationID: rel.ID,
			Reason:     ReasonClassPair,
			Message: fmt.Sprintf("relation %s pair (%s -> %s) not allowed for %q",
				rel.ID, subjClass, objClass, rel.Predicate),
		}, false
	}

	// deterministic attribute order so repeated runs report the same field
	names := make([]string, 0, len(spec.Attributes))
	for name := range spec.Attributes {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		aspec := spec.Attributes[name]
		value := rel.Attrs[name]

		if value == "" {
			if !aspec.Nullable {
				return Problem{
					RelationID: rel.ID,
					Field:      name,
					Reason:     ReasonMissingAttr,
					Message:    fmt.Sprintf("relation %s: missing required attribute %q", rel.ID, name),
				}, false
			}
			continue
		}

		if p, ok := d.validateAttrValue(rel.ID, name, value, aspec); !ok {
			return p, false
		}
	}

	return Problem{}, true
}

func (d *Document) validateAttrValue(relID, name, value string, aspec schema.AttrSpec) (Problem, bool) {
	switch aspec.Kind {
	case schema.AttrText:
		return Problem{}, true

	case schema.AttrEnum:
		if !mapset.NewSet[string](aspec.Enum...).Contains(value) {
			allowed := append([]string(nil), aspec.Enum...)
			slices.Sort(allowed)
			return Problem{
				RelationID: relID,
				Field:      name,
				Reason:     ReasonBadEnumValue,
				Message: fmt.Sprintf("relation %s: invalid value %q for %q, allowed: %v",
					relID, value, name, allowed),
			}, false
		}
		return Problem{}, true

	case schema.AttrNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return Problem{
				RelationID: relID,
				Field:      name,
				Reason:     ReasonNotNumeric,
				Message:    fmt.Sprintf("relation %s: %q must be numeric", relID, name),
			}, false
		}
		return Problem{}, true

	case schema.AttrEntity:
		target, ok := d.Entity(value)
		if !ok || !mapset.NewSet[string](aspec.Classes...).Contains(target.Class) {
			return Problem{
				RelationID: relID,
				Field:      name,
				Reason:     ReasonBadEntityRef,
				Message: fmt.Sprintf("relation %s: attribute %q must reference an entity with class in %v",
					relID, name, aspec.Classes),
			}, false
		}
		return Problem{}, true

	default:
		// unreachable as long as AttrKind stays closed; treat like text
		return Problem{}, true
	}
}
