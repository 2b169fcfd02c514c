// Package template provides attribute substitution for configuration strings.
// It supports {{name}} placeholders evaluated against unit-of-work attributes,
// with optional default values: {{name | default: "fallback"}}.
package template

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/canectors/keyhash/internal/logger"
)

// Template syntax constants
const (
	// TemplatePrefix is the opening delimiter for template variables
	TemplatePrefix = "{{"
	// TemplateSuffix is the closing delimiter for template variables
	TemplateSuffix = "}}"
	// AttributePrefix is an optional namespace in front of attribute names
	AttributePrefix = "attr."
)

// Error messages for template validation
const (
	ErrMsgInvalidTemplateSyntax = "invalid template syntax"
	ErrMsgEmptyVariablePath     = "empty variable path"
)

// templateVarRegex matches template variables like {{filename}} or {{filename | default: "value"}}
// Group 1: attribute name
// Group 2: optional default value clause
// Group 3: the default value itself (may be empty string)
var templateVarRegex = regexp.MustCompile(`\{\{\s*([^|}]+?)(\s*\|\s*default:\s*"([^"]*)")?\s*\}\}`)

var emptyBracesRegex = regexp.MustCompile(`\{\{\s*\}\}`)

// Variable represents a parsed template variable
type Variable struct {
	FullMatch    string // The full matched string including {{ }}
	Name         string // The attribute name (e.g., "filename")
	DefaultValue string // Default value if specified (empty string if not)
	HasDefault   bool   // Whether a default value was specified
}

// Evaluator evaluates template strings against attribute maps.
//
// Parsed variables are cached per template string. The cache is unbounded and
// grows with the number of distinct templates, which is bounded by the
// configuration. An Evaluator is safe for concurrent use.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string][]Variable
}

// NewEvaluator creates a new template evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string][]Variable),
	}
}

// HasVariables checks if a string contains template variables.
func HasVariables(s string) bool {
	return strings.Contains(s, TemplatePrefix) && strings.Contains(s, TemplateSuffix)
}

// ParseVariables extracts all template variables from a template string.
func (e *Evaluator) ParseVariables(template string) []Variable {
	e.mu.RLock()
	cached, ok := e.cache[template]
	e.mu.RUnlock()
	if ok {
		return cached
	}

	matches := templateVarRegex.FindAllStringSubmatch(template, -1)
	variables := make([]Variable, 0, len(matches))

	for _, match := range matches {
		v := Variable{
			FullMatch: match[0],
			Name:      strings.TrimPrefix(strings.TrimSpace(match[1]), AttributePrefix),
		}
		if match[2] != "" {
			v.DefaultValue = match[3]
			v.HasDefault = true
		}
		variables = append(variables, v)
	}

	e.mu.Lock()
	e.cache[template] = variables
	e.mu.Unlock()

	return variables
}

// Evaluate replaces every variable in template with its attribute value.
// Missing attributes resolve to their default, or to the empty string.
func (e *Evaluator) Evaluate(template string, attrs map[string]string) string {
	if !HasVariables(template) {
		return template
	}

	variables := e.ParseVariables(template)
	if len(variables) == 0 {
		return template
	}

	result := template
	for _, v := range variables {
		result = strings.Replace(result, v.FullMatch, e.resolveVariable(v, attrs), 1)
	}
	return result
}

// Bind replaces every variable with a positional placeholder and returns the
// resolved values in order, for use as query parameters.
func (e *Evaluator) Bind(template, placeholder string, attrs map[string]string) (string, []interface{}) {
	if !HasVariables(template) {
		return template, nil
	}

	variables := e.ParseVariables(template)
	args := make([]interface{}, 0, len(variables))
	result := template
	for _, v := range variables {
		args = append(args, e.resolveVariable(v, attrs))
		result = strings.Replace(result, v.FullMatch, placeholder, 1)
	}
	return result, args
}

func (e *Evaluator) resolveVariable(v Variable, attrs map[string]string) string {
	value, found := attrs[v.Name]
	if found {
		return value
	}
	if v.HasDefault {
		logger.Debug("template variable using default",
			slog.String("attribute", v.Name),
			slog.String("default", v.DefaultValue),
		)
		return v.DefaultValue
	}
	logger.Warn("template attribute missing, using empty string",
		slog.String("attribute", v.Name),
	)
	return ""
}

// ValidateSyntax validates that a template string has valid syntax.
// Returns an error if the syntax is invalid (e.g., unmatched braces).
func ValidateSyntax(template string) error {
	if template == "" {
		return nil
	}

	openCount := strings.Count(template, TemplatePrefix)
	closeCount := strings.Count(template, TemplateSuffix)

	if openCount != closeCount {
		return fmt.Errorf("%s: unmatched template delimiters (found %d '{{' and %d '}}')",
			ErrMsgInvalidTemplateSyntax, openCount, closeCount)
	}
	if openCount == 0 {
		return nil
	}

	if emptyBracesRegex.MatchString(template) {
		return fmt.Errorf("%s: %s", ErrMsgInvalidTemplateSyntax, ErrMsgEmptyVariablePath)
	}

	// Every {{ and }} must belong to a valid match ("}}{{" is balanced but invalid).
	remainder := templateVarRegex.ReplaceAllString(template, "")
	if strings.Contains(remainder, TemplatePrefix) || strings.Contains(remainder, TemplateSuffix) {
		return fmt.Errorf("%s: template delimiters must form valid {{...}} expressions (stray '{{' or '}}' found)",
			ErrMsgInvalidTemplateSyntax)
	}

	return nil
}
