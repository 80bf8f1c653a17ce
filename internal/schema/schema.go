// Package schema implements the schema registry: versioned schema
// definitions with single inheritance, dependency resolution with cycle
// rejection, constraint validation of documents, and a TTL+size bounded
// lookup cache.
package schema

import (
	"fmt"
	"sort"
)

// Kind categorizes what a schema describes.
type Kind string

// Schema kind constants
const (
	KindDocument  Kind = "document"
	KindChunk     Kind = "chunk"
	KindReference Kind = "reference"
	KindMetadata  Kind = "metadata"
)

// IsValid checks if the schema kind value is valid
func (k Kind) IsValid() bool {
	switch k {
	case KindDocument, KindChunk, KindReference, KindMetadata:
		return true
	}
	return false
}

// FieldType is the closed set of types a field definition may declare.
type FieldType string

// Field type constants
const (
	TypeString    FieldType = "string"
	TypeInteger   FieldType = "integer"
	TypeFloat     FieldType = "float"
	TypeBoolean   FieldType = "boolean"
	TypeArray     FieldType = "array"
	TypeObject    FieldType = "object"
	TypeNull      FieldType = "null"
	TypeDatetime  FieldType = "datetime"
	TypeSchemaRef FieldType = "schema_ref"
)

// IsValid checks if the field type value is valid
func (t FieldType) IsValid() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeArray,
		TypeObject, TypeNull, TypeDatetime, TypeSchemaRef:
		return true
	}
	return false
}

// Constraints bound the values a field accepts. Nil pointers mean
// "unconstrained"; a zero Pattern means no pattern check.
type Constraints struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Enum      []any    `json:"enum,omitempty"`
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
}

// FieldDef describes one field of a schema.
type FieldDef struct {
	Type        FieldType   `json:"type"`
	Required    bool        `json:"required,omitempty"`
	Default     any         `json:"default,omitempty"`
	Constraints Constraints `json:"constraints,omitempty"`
	// RefSchema names the referenced schema; mandatory when Type is schema_ref.
	RefSchema string `json:"ref_schema,omitempty"`
	// ItemsSchema optionally names the element schema of array/object fields.
	ItemsSchema string `json:"items_schema,omitempty"`
	// Override must be set when this field redefines one inherited from the
	// parent schema.
	Override bool `json:"override,omitempty"`
}

// Schema is a named, versioned field map with optional single inheritance
// and cross-schema validation references.
type Schema struct {
	Name                string              `json:"name"`
	Version             Version             `json:"version"`
	Kind                Kind                `json:"kind"`
	Fields              map[string]FieldDef `json:"fields"`
	Required            []string            `json:"required,omitempty"`
	Parent              string              `json:"parent,omitempty"`
	CrossValidationRefs []string            `json:"cross_validation_refs,omitempty"`
	Description         string              `json:"description,omitempty"`
}

// Dependencies extracts the direct dependency set: schema_ref targets,
// array/object item schemas, the parent, and every cross-validation
// reference. The result is sorted and deduplicated; self-references are kept
// so registration can reject them as one-node cycles.
//
// A schema_ref field with an empty RefSchema is a registration error,
// reported as ErrMissingRef naming the field.
func (s *Schema) Dependencies() ([]string, error) {
	seen := make(map[string]struct{})
	add := func(name string) {
		if name != "" {
			seen[name] = struct{}{}
		}
	}

	// Visit fields in sorted order so the first missing-ref error is
	// deterministic.
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		field := s.Fields[name]
		switch field.Type {
		case TypeSchemaRef:
			if field.RefSchema == "" {
				return nil, fmt.Errorf("field %q: %w", name, ErrMissingRef)
			}
			add(field.RefSchema)
		case TypeArray, TypeObject:
			add(field.ItemsSchema)
		}
	}
	add(s.Parent)
	for _, ref := range s.CrossValidationRefs {
		add(ref)
	}

	deps := make([]string, 0, len(seen))
	for name := range seen {
		deps = append(deps, name)
	}
	sort.Strings(deps)
	return deps, nil
}

// validate checks the structural rules a schema must satisfy before it can
// be registered. Dependency existence is not checked here; the registry
// resolves that against its own index.
func (s *Schema) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: schema has no name", ErrInvalidSchema)
	}
	if !s.Kind.IsValid() {
		return fmt.Errorf("%w: schema %s: unknown kind %q", ErrInvalidSchema, s.Name, s.Kind)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: schema %s has no fields", ErrInvalidSchema, s.Name)
	}
	for name, field := range s.Fields {
		if !field.Type.IsValid() {
			return fmt.Errorf("%w: schema %s: field %q has unknown type %q",
				ErrInvalidSchema, s.Name, name, field.Type)
		}
		if field.Type == TypeSchemaRef && field.RefSchema == "" {
			return fmt.Errorf("schema %s: field %q: %w", s.Name, name, ErrMissingRef)
		}
		if field.ItemsSchema != "" && field.Type != TypeArray && field.Type != TypeObject {
			return fmt.Errorf("%w: schema %s: field %q sets items_schema on type %q",
				ErrInvalidSchema, s.Name, name, field.Type)
		}
		c := field.Constraints
		if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			return fmt.Errorf("%w: schema %s: field %q: min %g exceeds max %g",
				ErrInvalidSchema, s.Name, name, *c.Min, *c.Max)
		}
		if c.MinLength != nil && c.MaxLength != nil && *c.MinLength > *c.MaxLength {
			return fmt.Errorf("%w: schema %s: field %q: min_length %d exceeds max_length %d",
				ErrInvalidSchema, s.Name, name, *c.MinLength, *c.MaxLength)
		}
	}
	for _, req := range s.Required {
		if _, ok := s.Fields[req]; !ok {
			return fmt.Errorf("%w: schema %s: required field %q is not defined",
				ErrInvalidSchema, s.Name, req)
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := *s
	out.Fields = make(map[string]FieldDef, len(s.Fields))
	for name, field := range s.Fields {
		f := field
		f.Constraints = field.Constraints.clone()
		out.Fields[name] = f
	}
	out.Required = append([]string(nil), s.Required...)
	out.CrossValidationRefs = append([]string(nil), s.CrossValidationRefs...)
	return &out
}

func (c Constraints) clone() Constraints {
	out := c
	if c.Min != nil {
		v := *c.Min
		out.Min = &v
	}
	if c.Max != nil {
		v := *c.Max
		out.Max = &v
	}
	if c.MinLength != nil {
		v := *c.MinLength
		out.MinLength = &v
	}
	if c.MaxLength != nil {
		v := *c.MaxLength
		out.MaxLength = &v
	}
	out.Enum = append([]any(nil), c.Enum...)
	return out
}
