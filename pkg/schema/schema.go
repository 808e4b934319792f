// Package schema holds the server-declared vocabulary of entity classes and
// relation types. Definitions are read-only for a document session and
// refreshed on demand through the Store.
package schema

import (
	"encoding/json"
	"slices"
	"strings"
)

// AttrKind identifies the value shape of an attribute.
type AttrKind int

const (
	// AttrText is free text. Unknown kinds decode as text, matching the
	// backend's fallback.
	AttrText AttrKind = iota
	AttrEnum
	AttrNumber
	AttrEntity
)

// ParseAttrKind maps a wire kind string to an AttrKind. Anything
// unrecognized is treated as free text.
func ParseAttrKind(s string) AttrKind {
	switch s {
	case "enum":
		return AttrEnum
	case "number":
		return AttrNumber
	case "entity":
		return AttrEntity
	default:
		return AttrText
	}
}

// String returns the wire name of the kind.
func (k AttrKind) String() string {
	switch k {
	case AttrEnum:
		return "enum"
	case AttrNumber:
		return "number"
	case AttrEntity:
		return "entity"
	default:
		return "text"
	}
}

// AttrRole partitions relation attributes into the namespaces the editor
// renders separately: predicate, subject-side, object-side, statement-level.
type AttrRole int

const (
	RoleUnknown AttrRole = iota
	RoleStatement
	RoleSubject
	RoleObject
	RolePredicate
)

// String returns the wire name of the role.
func (r AttrRole) String() string {
	switch r {
	case RoleStatement:
		return "statement"
	case RoleSubject:
		return "subject"
	case RoleObject:
		return "object"
	case RolePredicate:
		return "predicate"
	default:
		return "unknown"
	}
}

// ParseAttrRole maps a wire role string to an AttrRole. Empty or
// unrecognized strings yield RoleUnknown so the name convention can decide.
func ParseAttrRole(s string) AttrRole {
	switch s {
	case "statement":
		return RoleStatement
	case "subject":
		return RoleSubject
	case "object":
		return RoleObject
	case "predicate":
		return RolePredicate
	default:
		return RoleUnknown
	}
}

// ClassifyAttrName derives an attribute's role from its name: the
// edge_predicate attribute carries the predicate, names prefixed subject_ or
// object_ belong to those endpoints, everything else is statement-level.
func ClassifyAttrName(name string) AttrRole {
	switch {
	case name == "edge_predicate":
		return RolePredicate
	case strings.HasPrefix(name, "subject_"):
		return RoleSubject
	case strings.HasPrefix(name, "object_"):
		return RoleObject
	default:
		return RoleStatement
	}
}

// AttrSpec describes one attribute of a class or relation. Exactly one of
// the kind-specific fields is meaningful: Enum for AttrEnum, Classes for
// AttrEntity. Nullable attributes may be absent or empty in a valid
// annotation; non-nullable ones must carry a value.
type AttrSpec struct {
	Kind     AttrKind
	Enum     []string
	Classes  []string
	Nullable bool
	Role     AttrRole
}

// UnmarshalJSON decodes the backend's attribute spec shape. Nullable
// defaults to true when absent; an explicit role wins over the naming
// convention, which the enclosing Class or Relation applies afterwards.
func (s *AttrSpec) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind     string   `json:"kind"`
		Enum     []string `json:"enum"`
		Classes  []string `json:"classes"`
		Nullable *bool    `json:"nullable"`
		Role     string   `json:"role"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Kind = ParseAttrKind(raw.Kind)
	s.Enum = raw.Enum
	s.Classes = raw.Classes
	s.Nullable = true
	if raw.Nullable != nil {
		s.Nullable = *raw.Nullable
	}
	s.Role = ParseAttrRole(raw.Role)
	return nil
}

// Class describes one entity class.
type Class struct {
	Description string              `json:"description"`
	Attributes  map[string]AttrSpec `json:"attributes"`
}

// UnmarshalJSON decodes a class and fills in attribute roles the wire
// payload did not carry.
func (c *Class) UnmarshalJSON(data []byte) error {
	type plain Class
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Class(p)
	classifyRoles(c.Attributes)
	return nil
}

// Relation describes one relation type: which classes may play subject and
// object, and the attribute specs across all three namespaces.
type Relation struct {
	Description string              `json:"description"`
	Subject     []string            `json:"subject"`
	Object      []string            `json:"object"`
	Attributes  map[string]AttrSpec `json:"attributes"`
}

// UnmarshalJSON decodes a relation and fills in attribute roles the wire
// payload did not carry.
func (r *Relation) UnmarshalJSON(data []byte) error {
	type plain Relation
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Relation(p)
	classifyRoles(r.Attributes)
	return nil
}

func classifyRoles(attrs map[string]AttrSpec) {
	for name, spec := range attrs {
		if spec.Role == RoleUnknown {
			spec.Role = ClassifyAttrName(name)
			attrs[name] = spec
		}
	}
}

// AttrNamesByRole returns the relation's attribute names for one role in
// sorted order. The JSON wire format carries no field order, so sorted names
// are the deterministic default; user-chosen orderings live in the
// annotation model, not here.
func (r Relation) AttrNamesByRole(role AttrRole) []string {
	var names []string
	for name, spec := range r.Attributes {
		if spec.Role == role {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// PredicateChoices returns the allowed values of the edge_predicate
// attribute, or nil when the relation has none.
func (r Relation) PredicateChoices() []string {
	spec, ok := r.Attributes["edge_predicate"]
	if !ok || spec.Kind != AttrEnum {
		return nil
	}
	return spec.Enum
}
