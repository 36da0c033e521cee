// Package jsfunc parses user-supplied JavaScript functions, exposes them
// as OpenAI-compatible tool schemas, and executes calls inside a
// sandboxed goja runtime with no host capabilities.
package jsfunc

import (
	"regexp"
)

// Parameter is one declared function parameter with JSDoc metadata.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, number, boolean, array, object
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// Function is a parsed, registerable scripting function.
type Function struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	SourceText  string      `json:"sourceText"`
	Parameters  []Parameter `json:"parsedParameters"`
	Returns     string      `json:"returnsDescription"`
	Callable    bool        `json:"callable"`
	GroupID     string      `json:"groupId,omitempty"`
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// ValidName reports whether name is a legal identifier for the registry.
func ValidName(name string) bool {
	return identifierRe.MatchString(name)
}

// jsType maps a JSDoc type annotation onto the JSON Schema type set.
// Unknown annotations degrade to "string".
func jsType(annotation string) string {
	switch annotation {
	case "string":
		return "string"
	case "number", "int", "integer", "float", "double":
		return "number"
	case "boolean", "bool":
		return "boolean"
	case "array":
		return "array"
	case "object":
		return "object"
	default:
		return "string"
	}
}
