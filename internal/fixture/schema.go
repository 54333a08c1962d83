// Package fixture generates randomized, schema-valid request payloads.
package fixture

import (
	"fmt"
	"strings"
)

// Kind names a field generator.
type Kind string

const (
	KindInt       Kind = "int"        // integer in [Min, Max]
	KindBool      Kind = "bool"       // random boolean
	KindWord      Kind = "word"       // any dictionary word
	KindNoun      Kind = "noun"       // a noun
	KindFirstName Kind = "first_name" // person first name
	KindLastName  Kind = "last_name"  // person last name
	KindSentence  Kind = "sentence"   // Min..Max words, 5 when unset
	KindTitle     Kind = "title"      // Prefix, the current local time, then "-" and Max random letters when Max > 0
	KindDate      Kind = "date"       // today offset by [Min, Max] days
	KindDateAfter Kind = "date_after" // sibling After offset by [Min, Max] days, Min >= 1
	KindObject    Kind = "object"     // nested Fields
	KindConst     Kind = "const"      // Value as given
)

// DefaultDateLayout is the ISO-8601 calendar date layout.
const DefaultDateLayout = "2006-01-02"

// DefaultTitleLayout formats the timestamp of a title field.
const DefaultTitleLayout = "2006-01-02 15:04:05"

// maxSuffix bounds the random suffix of a title field.
const maxSuffix = 32

// Field describes one generated member of a fixture.
type Field struct {
	Name   string  `json:"name" yaml:"name"`
	Kind   Kind    `json:"kind" yaml:"kind"`
	Min    int     `json:"min,omitempty" yaml:"min,omitempty"`
	Max    int     `json:"max,omitempty" yaml:"max,omitempty"`
	After  string  `json:"after,omitempty" yaml:"after,omitempty"`
	Prefix string  `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Layout string  `json:"layout,omitempty" yaml:"layout,omitempty"`
	Value  any     `json:"value,omitempty" yaml:"value,omitempty"`
	Fields []Field `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Schema is a named, ordered set of fields. Check, when set, runs on every
// generated fixture; a failure means the fields cannot express the payload's
// rules and is reported as a *SchemaError.
type Schema struct {
	Name   string                `json:"name" yaml:"name"`
	Fields []Field               `json:"fields" yaml:"fields"`
	Check  func(f Fixture) error `json:"-" yaml:"-"`
}

// SchemaError reports a schema that can never produce a valid fixture.
type SchemaError struct {
	Schema string
	Field  string // dotted path, empty for schema-level problems
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("fixture schema %q: %s", e.Schema, e.Reason)
	}
	return fmt.Sprintf("fixture schema %q: field %q: %s", e.Schema, e.Field, e.Reason)
}

// Validate checks the schema for unknown kinds, impossible ranges, bad
// date_after references and duplicate names.
func (s Schema) Validate() error {
	if s.Name == "" {
		return &SchemaError{Reason: "name is required"}
	}
	if len(s.Fields) == 0 {
		return &SchemaError{Schema: s.Name, Reason: "at least one field is required"}
	}
	return validateFields(s.Name, "", s.Fields)
}

func validateFields(schema, parent string, fields []Field) error {
	seen := make(map[string]Kind, len(fields))
	for _, f := range fields {
		path := joinPath(parent, f.Name)
		fail := func(format string, args ...any) error {
			return &SchemaError{Schema: schema, Field: path, Reason: fmt.Sprintf(format, args...)}
		}

		if f.Name == "" {
			return &SchemaError{Schema: schema, Field: parent, Reason: "field name is required"}
		}
		if _, dup := seen[f.Name]; dup {
			return fail("duplicate field name")
		}

		switch f.Kind {
		case KindInt, KindDate, KindSentence:
			if f.Min > f.Max && !(f.Kind == KindSentence && f.Max == 0) {
				return fail("min %d is greater than max %d", f.Min, f.Max)
			}
			if f.Kind == KindSentence && f.Min < 0 {
				return fail("word count cannot be negative")
			}
		case KindDateAfter:
			if f.Min < 1 {
				return fail("date_after needs min >= 1 so the date is strictly later")
			}
			if f.Min > f.Max {
				return fail("min %d is greater than max %d", f.Min, f.Max)
			}
			ref, ok := seen[f.After]
			if !ok {
				return fail("after %q does not name an earlier sibling", f.After)
			}
			if ref != KindDate && ref != KindDateAfter {
				return fail("after %q is a %s field, not a date", f.After, ref)
			}
		case KindObject:
			if len(f.Fields) == 0 {
				return fail("object needs nested fields")
			}
			if err := validateFields(schema, path, f.Fields); err != nil {
				return err
			}
		case KindTitle:
			if f.Max < 0 || f.Max > maxSuffix {
				return fail("title suffix length %d is outside [0, %d]", f.Max, maxSuffix)
			}
		case KindBool, KindWord, KindNoun, KindFirstName, KindLastName, KindConst:
		case "":
			return fail("kind is required")
		default:
			return fail("unknown kind %q", f.Kind)
		}

		if f.Kind != KindObject && len(f.Fields) > 0 {
			return fail("only object fields may have nested fields")
		}
		seen[f.Name] = f.Kind
	}
	return nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func copyFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		f.Fields = copyFields(f.Fields)
		f.Value = deepCopy(f.Value)
		out[i] = f
	}
	return out
}

// String renders the schema as name{field:kind,...} for logs.
func (s Schema) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	writeFields(&b, s.Fields)
	return b.String()
}

func writeFields(b *strings.Builder, fields []Field) {
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f.Name)
		b.WriteByte(':')
		b.WriteString(string(f.Kind))
		if f.Kind == KindObject {
			writeFields(b, f.Fields)
		}
	}
	b.WriteByte('}')
}
