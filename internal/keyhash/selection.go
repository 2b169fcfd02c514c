// Package keyhash turns input records into derived hash/plaintext records.
//
// A Transformer evaluates an ordered list of selections against each record.
// Every non-empty matched value becomes one output record holding the keyed
// hash of the value and the value itself.
package keyhash

import (
	"fmt"
	"strings"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/internal/template"
	"github.com/canectors/keyhash/pkg/connector"
)

// Kind tells how a replacement text is interpreted.
type Kind int

const (
	// KindPath texts are path expressions evaluated against the record.
	KindPath Kind = iota
	// KindLiteral texts are emitted as a single match.
	KindLiteral
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	if k == KindLiteral {
		return connector.ValueTypeLiteral
	}
	return connector.ValueTypePath
}

// Replacement is a configured value: either a literal or a path expression.
// Text may contain {{attribute}} placeholders.
type Replacement struct {
	Kind Kind
	Text string
}

// Literal returns a literal replacement.
func Literal(text string) Replacement {
	return Replacement{Kind: KindLiteral, Text: text}
}

// Path returns a path-expression replacement.
func Path(text string) Replacement {
	return Replacement{Kind: KindPath, Text: text}
}

// Selection is one named entry of the selection configuration.
type Selection struct {
	Name  string
	Value Replacement
}

// ResolvedSelection is a Selection whose placeholders have been substituted.
type ResolvedSelection struct {
	Name string
	Kind Kind
	Text string
}

var evaluator = template.NewEvaluator()

// Resolve substitutes unit-of-work attributes into every selection, keeping
// configuration order. It runs once per unit of work.
func Resolve(selections []Selection, attrs map[string]string) []ResolvedSelection {
	resolved := make([]ResolvedSelection, len(selections))
	for i, s := range selections {
		resolved[i] = ResolvedSelection{
			Name: s.Name,
			Kind: s.Value.Kind,
			Text: evaluator.Evaluate(s.Value.Text, attrs),
		}
	}
	return resolved
}

// IsStatic reports whether the replacement has no attribute placeholders, so its
// final text is known at configuration time.
func (r Replacement) IsStatic() bool {
	return !template.HasVariables(r.Text)
}

// SelectionsFromConfig converts configured properties into selections.
// At least one property is required.
func SelectionsFromConfig(props []connector.PropertyConfig) ([]Selection, error) {
	if len(props) == 0 {
		return nil, errhandling.NewConfigurationError("at least one property is required", nil)
	}

	selections := make([]Selection, 0, len(props))
	seen := make(map[string]bool, len(props))
	for i, p := range props {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, errhandling.NewConfigurationError(fmt.Sprintf("properties[%d]: name is required", i), nil)
		}
		if seen[name] {
			return nil, errhandling.NewConfigurationError(fmt.Sprintf("properties[%d]: duplicate name %q", i, name), nil)
		}
		seen[name] = true

		if err := template.ValidateSyntax(p.Value); err != nil {
			return nil, errhandling.NewConfigurationError(fmt.Sprintf("properties[%d] %q", i, name), err)
		}

		switch strings.ToLower(strings.TrimSpace(p.ValueType)) {
		case "", connector.ValueTypePath:
			if strings.TrimSpace(p.Value) == "" {
				return nil, errhandling.NewConfigurationError(fmt.Sprintf("properties[%d] %q: path is empty", i, name), nil)
			}
			selections = append(selections, Selection{Name: name, Value: Path(p.Value)})
		case connector.ValueTypeLiteral:
			selections = append(selections, Selection{Name: name, Value: Literal(p.Value)})
		default:
			return nil, errhandling.NewConfigurationError(
				fmt.Sprintf("properties[%d] %q: unknown valueType %q", i, name, p.ValueType), nil)
		}
	}
	return selections, nil
}
