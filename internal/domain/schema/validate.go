package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ArgumentError describes why a set of call arguments was rejected against
// a canonical schema. It names the offending arguments and the accepted set
// so the caller can correct the call without guessing.
type ArgumentError struct {
	Unknown  []string
	Missing  []string
	Accepted []string
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	var parts []string
	if len(e.Unknown) > 0 {
		parts = append(parts, fmt.Sprintf("unknown arguments: %s", strings.Join(e.Unknown, ", ")))
	}
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing required arguments: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Accepted) == 0 {
		parts = append(parts, "tool accepts no arguments")
	} else {
		parts = append(parts, fmt.Sprintf("accepted arguments: %s", strings.Join(e.Accepted, ", ")))
	}
	return strings.Join(parts, "; ")
}

// ValidateArguments checks call arguments against the canonical schema.
// It rejects unknown argument names, missing required names, and any
// arguments at all when the schema declares no properties. It performs
// structural validation only; value types are not checked.
func ValidateArguments(c *Canonical, args map[string]interface{}) error {
	accepted := c.PropertyNames()

	if c.Empty() {
		if len(args) > 0 {
			names := make([]string, 0, len(args))
			for name := range args {
				names = append(names, name)
			}
			sort.Strings(names)
			return &ArgumentError{Unknown: names}
		}
		return nil
	}

	var unknown []string
	for name := range args {
		if _, ok := c.Properties[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)

	var missing []string
	for _, name := range c.Required {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)

	if len(unknown) > 0 || len(missing) > 0 {
		return &ArgumentError{Unknown: unknown, Missing: missing, Accepted: accepted}
	}
	return nil
}
