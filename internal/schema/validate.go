package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"time"
)

// Validate checks doc against the active version of the named schema,
// applying its field constraints with the full inheritance chain resolved.
// A field of type schema_ref or an array/object with an items schema
// validates its nested values recursively.
func (r *Registry) Validate(ctx context.Context, doc map[string]any, schemaName string) error {
	fields, required, err := r.effectiveFields(ctx, schemaName, r.activeVersion)
	if err != nil {
		return fmt.Errorf("validate against %s: %w", schemaName, err)
	}

	for name, field := range fields {
		value, present := doc[name]
		if !present || value == nil {
			if field.Required || required[name] {
				return fmt.Errorf("%w: %s: missing required field %q", ErrValidation, schemaName, name)
			}
			continue
		}
		if err := r.validateValue(ctx, schemaName, name, field, value); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) validateValue(ctx context.Context, schemaName, fieldName string, field FieldDef, value any) error {
	fail := func(format string, args ...any) error {
		prefix := fmt.Sprintf("%s.%s: ", schemaName, fieldName)
		return fmt.Errorf("%w: %s", ErrValidation, prefix+fmt.Sprintf(format, args...))
	}

	switch field.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return fail("expected string, got %T", value)
		}
		return checkStringConstraints(fail, s, field.Constraints)

	case TypeInteger:
		n, ok := asFloat(value)
		if !ok || n != math.Trunc(n) {
			return fail("expected integer, got %v (%T)", value, value)
		}
		return checkNumberConstraints(fail, n, field.Constraints)

	case TypeFloat:
		n, ok := asFloat(value)
		if !ok {
			return fail("expected number, got %T", value)
		}
		return checkNumberConstraints(fail, n, field.Constraints)

	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fail("expected boolean, got %T", value)
		}
		return checkEnum(fail, value, field.Constraints.Enum)

	case TypeNull:
		if value != nil {
			return fail("expected null, got %T", value)
		}
		return nil

	case TypeDatetime:
		s, ok := value.(string)
		if !ok {
			return fail("expected RFC 3339 string, got %T", value)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fail("invalid datetime %q: %v", s, err)
		}
		return nil

	case TypeArray:
		items, ok := asSlice(value)
		if !ok {
			return fail("expected array, got %T", value)
		}
		c := field.Constraints
		if c.MinLength != nil && len(items) < *c.MinLength {
			return fail("array length %d below min_length %d", len(items), *c.MinLength)
		}
		if c.MaxLength != nil && len(items) > *c.MaxLength {
			return fail("array length %d above max_length %d", len(items), *c.MaxLength)
		}
		if field.ItemsSchema != "" {
			for i, item := range items {
				sub, ok := item.(map[string]any)
				if !ok {
					return fail("element %d: expected object for schema %s, got %T", i, field.ItemsSchema, item)
				}
				if err := r.Validate(ctx, sub, field.ItemsSchema); err != nil {
					return fmt.Errorf("%s.%s[%d]: %w", schemaName, fieldName, i, err)
				}
			}
		}
		return nil

	case TypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return fail("expected object, got %T", value)
		}
		if field.ItemsSchema != "" {
			for key, item := range obj {
				sub, ok := item.(map[string]any)
				if !ok {
					return fail("value of %q: expected object for schema %s, got %T", key, field.ItemsSchema, item)
				}
				if err := r.Validate(ctx, sub, field.ItemsSchema); err != nil {
					return fmt.Errorf("%s.%s[%s]: %w", schemaName, fieldName, key, err)
				}
			}
		}
		return nil

	case TypeSchemaRef:
		sub, ok := value.(map[string]any)
		if !ok {
			return fail("expected object for schema %s, got %T", field.RefSchema, value)
		}
		if err := r.Validate(ctx, sub, field.RefSchema); err != nil {
			return fmt.Errorf("%s.%s: %w", schemaName, fieldName, err)
		}
		return nil
	}
	return fail("unknown field type %q", field.Type)
}

func checkStringConstraints(fail func(string, ...any) error, s string, c Constraints) error {
	if c.MinLength != nil && len(s) < *c.MinLength {
		return fail("length %d below min_length %d", len(s), *c.MinLength)
	}
	if c.MaxLength != nil && len(s) > *c.MaxLength {
		return fail("length %d above max_length %d", len(s), *c.MaxLength)
	}
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return fail("invalid pattern %q: %v", c.Pattern, err)
		}
		if !re.MatchString(s) {
			return fail("%q does not match pattern %q", s, c.Pattern)
		}
	}
	return checkEnum(fail, s, c.Enum)
}

func checkNumberConstraints(fail func(string, ...any) error, n float64, c Constraints) error {
	if c.Min != nil && n < *c.Min {
		return fail("%g below min %g", n, *c.Min)
	}
	if c.Max != nil && n > *c.Max {
		return fail("%g above max %g", n, *c.Max)
	}
	return checkEnum(fail, n, c.Enum)
}

func checkEnum(fail func(string, ...any) error, value any, enum []any) error {
	if len(enum) == 0 {
		return nil
	}
	for _, allowed := range enum {
		if enumEqual(value, allowed) {
			return nil
		}
	}
	return fail("%v not in enum %v", value, enum)
}

// enumEqual compares tolerantly across JSON's numeric decoding: 2 and 2.0
// are the same enum member.
func enumEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// asFloat widens every numeric type JSON or Go callers may hand us.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// asSlice accepts []any and []map[string]any.
func asSlice(v any) ([]any, bool) {
	switch items := v.(type) {
	case []any:
		return items, true
	case []map[string]any:
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}
