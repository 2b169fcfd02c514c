package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/internal/logger"
)

// Error codes for condition module
const (
	ErrCodeInvalidExpression = "INVALID_EXPRESSION"
	ErrCodeEvaluationFailed  = "EVALUATION_FAILED"
	ErrCodeUnsupportedLang   = "UNSUPPORTED_LANG"
)

// Common errors for condition module
var (
	// ErrEmptyExpression is returned when the expression is empty or whitespace-only
	ErrEmptyExpression = errors.New("expression cannot be empty")
	// ErrInvalidExpression is returned when the expression syntax is invalid
	ErrInvalidExpression = errors.New("invalid expression syntax")
	// ErrUnsupportedLang is returned when the language is not supported
	ErrUnsupportedLang = errors.New("unsupported expression language")
)

// LangSimple is the only supported expression language (expr syntax).
const LangSimple = "simple"

// Routing behavior constants
const (
	OnConditionContinue = "continue"
	OnConditionSkip     = "skip"
)

// ConditionConfig represents the configuration for a condition filter module.
type ConditionConfig struct {
	// Expression is the condition expression string (required)
	Expression string `json:"expression"`
	// Lang is the expression language: "simple" (default)
	Lang string `json:"lang,omitempty"`
	// OnTrue specifies behavior when condition is true: "continue" (default) or "skip"
	OnTrue string `json:"onTrue,omitempty"`
	// OnFalse specifies behavior when condition is false: "continue" or "skip" (default)
	OnFalse string `json:"onFalse,omitempty"`
}

// ConditionModule keeps or drops records based on a boolean expression
// evaluated against the record fields.
type ConditionModule struct {
	expression string
	onTrue     string
	onFalse    string
	program    *vm.Program
}

// ConditionError carries structured context for condition failures.
type ConditionError struct {
	Code       string
	Message    string
	Expression string
	Err        error
}

func (e *ConditionError) Error() string {
	return e.Message
}

func (e *ConditionError) Unwrap() error {
	return e.Err
}

// ParseConditionConfig parses a condition filter configuration from raw config.
func ParseConditionConfig(cfg map[string]interface{}) (ConditionConfig, error) {
	config := ConditionConfig{}

	expression, ok := cfg["expression"].(string)
	if !ok || strings.TrimSpace(expression) == "" {
		return config, fmt.Errorf("required field 'expression' is missing or empty in condition config")
	}
	config.Expression = expression

	if lang, ok := cfg["lang"].(string); ok {
		config.Lang = lang
	}
	if onTrue, ok := cfg["onTrue"].(string); ok {
		config.OnTrue = onTrue
	}
	if onFalse, ok := cfg["onFalse"].(string); ok {
		config.OnFalse = onFalse
	}
	return config, nil
}

// NewConditionFromConfig creates a new condition filter module from configuration.
// The expression is compiled here; missing fields evaluate to nil.
func NewConditionFromConfig(config ConditionConfig) (*ConditionModule, error) {
	if strings.TrimSpace(config.Expression) == "" {
		return nil, &ConditionError{Code: ErrCodeInvalidExpression, Message: ErrEmptyExpression.Error(), Err: ErrEmptyExpression}
	}

	lang := config.Lang
	if lang == "" {
		lang = LangSimple
	}
	if lang != LangSimple {
		return nil, &ConditionError{
			Code:    ErrCodeUnsupportedLang,
			Message: fmt.Sprintf("%v: %s", ErrUnsupportedLang, lang),
			Err:     ErrUnsupportedLang,
		}
	}

	onTrue, err := normalizeRouting("onTrue", config.OnTrue, OnConditionContinue)
	if err != nil {
		return nil, err
	}
	onFalse, err := normalizeRouting("onFalse", config.OnFalse, OnConditionSkip)
	if err != nil {
		return nil, err
	}

	program, err := expr.Compile(config.Expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, &ConditionError{
			Code:       ErrCodeInvalidExpression,
			Message:    fmt.Sprintf("%v: %v", ErrInvalidExpression, err),
			Expression: config.Expression,
			Err:        ErrInvalidExpression,
		}
	}

	logger.Debug("condition module initialized",
		slog.String("expression", config.Expression),
		slog.String("on_true", onTrue),
		slog.String("on_false", onFalse),
	)

	return &ConditionModule{
		expression: config.Expression,
		onTrue:     onTrue,
		onFalse:    onFalse,
		program:    program,
	}, nil
}

func normalizeRouting(field, value, def string) (string, error) {
	switch value {
	case "":
		return def, nil
	case OnConditionContinue, OnConditionSkip:
		return value, nil
	default:
		return "", fmt.Errorf("invalid %s value %q (expected %q or %q)", field, value, OnConditionContinue, OnConditionSkip)
	}
}

// Process evaluates the expression against record and applies onTrue/onFalse.
// Evaluation failures are transform errors.
func (c *ConditionModule) Process(ctx context.Context, record map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	output, err := expr.Run(c.program, record)
	if err != nil {
		return nil, errhandling.NewTransformError("condition filter", &ConditionError{
			Code:       ErrCodeEvaluationFailed,
			Message:    fmt.Sprintf("condition evaluation failed: %v", err),
			Expression: c.expression,
			Err:        err,
		})
	}

	action := c.onFalse
	if toBool(output) {
		action = c.onTrue
	}
	if action == OnConditionSkip {
		return nil, nil
	}
	return record, nil
}

// toBool converts a value to boolean.
func toBool(value interface{}) bool {
	if value == nil {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

var _ Module = (*ConditionModule)(nil)
