// Package schema normalizes declared tool input descriptions into a
// canonical object schema. Declarations arrive in three shapes: a full
// JSON-Schema-like object, a shorthand of field->type (or field->description)
// string pairs, or something malformed. Normalization never fails; it
// returns a usable (possibly empty) schema plus the validation errors it
// collected, so a misdeclared tool degrades to accepting zero arguments
// instead of failing hard.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind tags the detected shape of a raw schema document.
type Kind int

const (
	// KindInvalid marks null, non-object, or array input.
	KindInvalid Kind = iota
	// KindShorthand marks a document of field->string pairs with no
	// type/properties keys.
	KindShorthand
	// KindCanonical marks everything else; the document is coerced into
	// canonical form field by field.
	KindCanonical
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindShorthand:
		return "shorthand"
	case KindCanonical:
		return "canonical"
	default:
		return "invalid"
	}
}

// knownTypes is the set of recognized property types. A shorthand value
// matching one of these (case-insensitively) is a type; anything else is
// treated as a human description.
var knownTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"array":   true,
	"object":  true,
}

// Property is a single canonical property.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Canonical is the normalized object schema:
// {type:"object", properties:{...}, required:[...]}.
type Canonical struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Empty reports whether the schema declares no properties.
func (c *Canonical) Empty() bool {
	return len(c.Properties) == 0
}

// PropertyNames returns the declared property names, sorted.
func (c *Canonical) PropertyNames() []string {
	names := make([]string, 0, len(c.Properties))
	for name := range c.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParsedSchema is the result of normalizing a raw schema document once at
// the boundary. Downstream code only ever reads Schema; Kind and Errors
// exist for diagnostics.
type ParsedSchema struct {
	Kind   Kind
	Schema *Canonical
	Errors []string
}

// Parse normalizes a raw schema document. It never returns an error: a
// document that cannot be understood yields an empty canonical schema with
// the problems recorded in Errors.
func Parse(raw json.RawMessage) ParsedSchema {
	var doc map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &doc) != nil || doc == nil {
		return ParsedSchema{
			Kind:   KindInvalid,
			Schema: emptySchema(),
			Errors: []string{"schema is not a JSON object"},
		}
	}

	if fields, ok := detectShorthand(doc); ok {
		return normalizeShorthand(fields)
	}
	return normalizeCanonical(doc)
}

// detectShorthand checks whether every value in the document is a plain
// string and the document carries no type/properties keys. It returns the
// decoded field->string pairs when the document is shorthand.
func detectShorthand(doc map[string]json.RawMessage) (map[string]string, bool) {
	if len(doc) == 0 {
		return nil, false
	}
	if _, ok := doc["type"]; ok {
		return nil, false
	}
	if _, ok := doc["properties"]; ok {
		return nil, false
	}
	fields := make(map[string]string, len(doc))
	for name, val := range doc {
		var s string
		if err := json.Unmarshal(val, &s); err != nil {
			return nil, false
		}
		fields[name] = s
	}
	return fields, true
}

// normalizeShorthand turns field->string pairs into canonical properties.
// A value naming a known type becomes the field type with a generated
// description; any other value becomes the description of a string field.
// All shorthand fields are required.
func normalizeShorthand(fields map[string]string) ParsedSchema {
	out := emptySchema()
	for name, val := range fields {
		if t := strings.ToLower(strings.TrimSpace(val)); knownTypes[t] {
			out.Properties[name] = Property{
				Type:        t,
				Description: fmt.Sprintf("The %s parameter", name),
			}
		} else {
			out.Properties[name] = Property{
				Type:        "string",
				Description: val,
			}
		}
		out.Required = append(out.Required, name)
	}
	sort.Strings(out.Required)
	return ParsedSchema{Kind: KindShorthand, Schema: out}
}

// normalizeCanonical coerces a full schema document into canonical form,
// recording an error per violation instead of rejecting the document.
func normalizeCanonical(doc map[string]json.RawMessage) ParsedSchema {
	out := emptySchema()
	var errs []string

	// type is forced to "object" regardless of what was declared.
	var declaredType string
	if raw, ok := doc["type"]; ok {
		if err := json.Unmarshal(raw, &declaredType); err != nil || declaredType != "object" {
			errs = append(errs, fmt.Sprintf("schema type coerced to object (was %s)", strings.TrimSpace(string(raw))))
		}
	}

	var props map[string]json.RawMessage
	if raw, ok := doc["properties"]; ok {
		if err := json.Unmarshal(raw, &props); err != nil {
			errs = append(errs, "properties is not an object, substituting empty")
			props = nil
		}
	} else {
		errs = append(errs, "properties missing, substituting empty")
	}

	for name, raw := range props {
		prop, propErrs := normalizeProperty(name, raw)
		out.Properties[name] = prop
		errs = append(errs, propErrs...)
	}

	// required is filtered to names that actually exist in properties.
	if raw, ok := doc["required"]; ok {
		var required []string
		if err := json.Unmarshal(raw, &required); err != nil {
			errs = append(errs, "required is not an array of names, ignoring")
		} else {
			for _, name := range required {
				if _, ok := out.Properties[name]; ok {
					out.Required = append(out.Required, name)
				} else {
					errs = append(errs, fmt.Sprintf("required name %q not in properties, dropping", name))
				}
			}
		}
	}

	return ParsedSchema{Kind: KindCanonical, Schema: out, Errors: errs}
}

// normalizeProperty coerces one property declaration. A missing or
// unrecognized type defaults to string with an error recorded.
func normalizeProperty(name string, raw json.RawMessage) (Property, []string) {
	var errs []string
	var decl struct {
		Type        string `json:"type"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &decl); err != nil {
		errs = append(errs, fmt.Sprintf("property %q is not an object, defaulting to string", name))
		return Property{Type: "string"}, errs
	}
	if decl.Type == "" {
		errs = append(errs, fmt.Sprintf("property %q has no type, defaulting to string", name))
		decl.Type = "string"
	} else if !knownTypes[strings.ToLower(decl.Type)] {
		errs = append(errs, fmt.Sprintf("property %q has unknown type %q, defaulting to string", name, decl.Type))
		decl.Type = "string"
	} else {
		decl.Type = strings.ToLower(decl.Type)
	}
	return Property{Type: decl.Type, Description: decl.Description}, errs
}

func emptySchema() *Canonical {
	return &Canonical{
		Type:       "object",
		Properties: make(map[string]Property),
	}
}

// Encode serializes a canonical schema back to its wire form.
func Encode(c *Canonical) (json.RawMessage, error) {
	out, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return out, nil
}
