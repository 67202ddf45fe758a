// Package transform applies a mapping configuration to tool-call arguments,
// producing the upstream request payload, and performs {var} template
// substitution for URL paths, query parameters, headers, and cookies.
package transform

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"github.com/toolbridge/toolbridge/internal/domain/catalog"
)

// ExpressionEvaluator evaluates a whitelisted expression with a single
// variable `value` bound to the tool argument. Implemented by the CEL
// adapter.
type ExpressionEvaluator interface {
	EvaluateValue(ctx context.Context, expression string, value interface{}) (interface{}, error)
}

// Arguments is the raw tool-call argument map.
type Arguments map[string]interface{}

// Payload is the transformed upstream request body.
type Payload map[string]interface{}

// Apply computes the upstream payload from the field mappings.
//
// Missing-field policy: when a direct or expression mapping names a tool
// field absent from the arguments, the API field is omitted from the
// payload. It is never written as null and never an error; the upstream
// sees the same request it would for an optional field left out.
//
// Unmapped tool fields are dropped; there is no implicit passthrough.
func Apply(ctx context.Context, fields []catalog.FieldMapping, args Arguments, eval ExpressionEvaluator) (Payload, error) {
	payload := make(Payload, len(fields))
	for _, fm := range fields {
		switch fm.Transformation {
		case catalog.TransformDirect:
			val, ok := args[fm.ToolField]
			if !ok {
				continue
			}
			payload[fm.APIField] = val

		case catalog.TransformConstant:
			payload[fm.APIField] = fm.Value

		case catalog.TransformExpression:
			val, ok := args[fm.ToolField]
			if !ok {
				continue
			}
			if eval == nil {
				return nil, fmt.Errorf("mapping for %q uses an expression but no evaluator is configured", fm.APIField)
			}
			out, err := eval.EvaluateValue(ctx, fm.Expression, val)
			if err != nil {
				return nil, fmt.Errorf("evaluating expression for %q: %w", fm.APIField, err)
			}
			payload[fm.APIField] = out

		default:
			return nil, fmt.Errorf("unknown transformation %q for %q", fm.Transformation, fm.APIField)
		}
	}
	return payload, nil
}

// tokenPattern matches {identifier} placeholders in template strings.
var tokenPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EncodeMode selects how substituted values are percent-encoded.
type EncodeMode int

const (
	// EncodePath escapes for URL path segments.
	EncodePath EncodeMode = iota
	// EncodeQuery escapes for query-string and cookie values.
	EncodeQuery
	// EncodeNone inserts the value verbatim (header values).
	EncodeNone
)

// Substitute replaces {identifier} tokens in a template. A token may name
// either a tool field or an api_field: values resolve from the raw arguments
// first, then from the transformed payload, so templates can reference fields
// produced by the mapping. Unresolved tokens are left unchanged and reported
// as warnings; substitution never fails.
func Substitute(template string, args Arguments, payload Payload, mode EncodeMode) (string, []string) {
	var warnings []string
	result := tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := token[1 : len(token)-1]
		val, ok := args[name]
		if !ok {
			val, ok = payload[name]
		}
		if !ok {
			warnings = append(warnings, fmt.Sprintf("no argument for placeholder %s", token))
			return token
		}
		return encode(stringify(val), mode)
	})
	return result, warnings
}

// stringify renders an argument value for template insertion.
func stringify(val interface{}) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func encode(s string, mode EncodeMode) string {
	switch mode {
	case EncodePath:
		return url.PathEscape(s)
	case EncodeQuery:
		return url.QueryEscape(s)
	default:
		return s
	}
}
