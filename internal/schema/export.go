package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

// ExportJSONSchema renders the active version of the named schema as a JSON
// Schema document. Referenced schemas (schema_ref targets, item schemas)
// become $defs entries addressed by $ref, pulled in transitively. Inherited
// fields are flattened into the root object.
func (r *Registry) ExportJSONSchema(ctx context.Context, name string) (*jsonschema.Schema, error) {
	fields, required, err := r.effectiveFields(ctx, name, r.activeVersion)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", name, err)
	}

	root := r.objectSchema(fields, required)
	root.Defs = make(map[string]*jsonschema.Schema)

	// Pull referenced schemas into $defs, following their refs in turn.
	pendingRefs := collectRefs(fields)
	for len(pendingRefs) > 0 {
		ref := pendingRefs[0]
		pendingRefs = pendingRefs[1:]
		if _, done := root.Defs[ref]; done {
			continue
		}
		refFields, refRequired, err := r.effectiveFields(ctx, ref, r.activeVersion)
		if err != nil {
			return nil, fmt.Errorf("export %s: referenced schema %s: %w", name, ref, err)
		}
		root.Defs[ref] = r.objectSchema(refFields, refRequired)
		pendingRefs = append(pendingRefs, collectRefs(refFields)...)
	}
	if len(root.Defs) == 0 {
		root.Defs = nil
	}
	return root, nil
}

// objectSchema converts a resolved field map to a JSON Schema object node.
func (r *Registry) objectSchema(fields map[string]FieldDef, required map[string]bool) *jsonschema.Schema {
	out := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(fields)),
	}
	for name, field := range fields {
		out.Properties[name] = fieldSchema(field)
		if field.Required || required[name] {
			out.Required = append(out.Required, name)
		}
	}
	sort.Strings(out.Required)
	return out
}

func fieldSchema(field FieldDef) *jsonschema.Schema {
	s := &jsonschema.Schema{}
	switch field.Type {
	case TypeString:
		s.Type = "string"
	case TypeInteger:
		s.Type = "integer"
	case TypeFloat:
		s.Type = "number"
	case TypeBoolean:
		s.Type = "boolean"
	case TypeNull:
		s.Type = "null"
	case TypeDatetime:
		s.Type = "string"
		s.Format = "date-time"
	case TypeArray:
		s.Type = "array"
		if field.ItemsSchema != "" {
			s.Items = &jsonschema.Schema{Ref: defsRef(field.ItemsSchema)}
		}
	case TypeObject:
		s.Type = "object"
		if field.ItemsSchema != "" {
			s.AdditionalProperties = &jsonschema.Schema{Ref: defsRef(field.ItemsSchema)}
		}
	case TypeSchemaRef:
		return &jsonschema.Schema{Ref: defsRef(field.RefSchema)}
	}

	c := field.Constraints
	s.Minimum = c.Min
	s.Maximum = c.Max
	s.Pattern = c.Pattern
	s.MinLength = c.MinLength
	s.MaxLength = c.MaxLength
	if len(c.Enum) > 0 {
		s.Enum = append([]any(nil), c.Enum...)
	}
	if field.Default != nil {
		if raw, err := json.Marshal(field.Default); err == nil {
			s.Default = raw
		}
	}
	return s
}

func defsRef(name string) string {
	return "#/$defs/" + name
}

// collectRefs gathers every schema name a field map points at.
func collectRefs(fields map[string]FieldDef) []string {
	var refs []string
	for _, field := range fields {
		switch field.Type {
		case TypeSchemaRef:
			refs = append(refs, field.RefSchema)
		case TypeArray, TypeObject:
			if field.ItemsSchema != "" {
				refs = append(refs, field.ItemsSchema)
			}
		}
	}
	sort.Strings(refs)
	return refs
}
