// Package recordpath compiles, caches and evaluates path expressions over records.
//
// Path notation supports three source syntaxes, all compiled to JSONPath:
//   - JSONPath: "$.user.name", "$.items[*].id", "$..email"
//   - Record paths: "/user/name", "/items[*]/id", "//email", "/*"
//   - Dot notation: "user.name", "items[0].id"
package recordpath

import (
	"errors"
	"fmt"
	"strings"
)

// Path translation errors
var (
	ErrEmptyPath         = errors.New("empty path")
	ErrUnbalancedBracket = errors.New("unbalanced bracket in path")
	ErrEmptySegment      = errors.New("empty segment in path")
)

// ToJSONPath translates a path in any accepted syntax to JSONPath text.
func ToJSONPath(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyPath
	}

	switch text[0] {
	case '$', '@':
		return text, nil
	case '/':
		return translateRecordPath(text)
	case '[':
		return "$" + text, nil
	default:
		return translateSegments("."+text, '.')
	}
}

// translateRecordPath converts "/a/b[0]//c" into "$.a.b[0]..c".
func translateRecordPath(text string) (string, error) {
	return translateSegments(text, '/')
}

// translateSegments converts a sep-delimited path, where a doubled separator
// descends, into JSONPath. text starts with sep.
func translateSegments(text string, sep byte) (string, error) {
	var sb strings.Builder
	sb.WriteString("$")

	i := 0
	for i < len(text) {
		descendant := i+1 < len(text) && text[i+1] == sep
		if descendant {
			i += 2
		} else {
			i++
		}

		end, err := segmentEnd(text, i, sep)
		if err != nil {
			return "", err
		}
		segment := text[i:end]
		i = end

		if segment == "" {
			// A lone separator selects the record itself.
			if !descendant && i >= len(text) && sb.Len() == 1 {
				return "$", nil
			}
			return "", fmt.Errorf("%w: %q", ErrEmptySegment, text)
		}

		if descendant {
			sb.WriteString("..")
		}
		writeSegment(&sb, segment, descendant)
	}

	return sb.String(), nil
}

// segmentEnd returns the index of the next sep outside brackets. Quotes are
// only significant inside brackets.
func segmentEnd(text string, start int, sep byte) (int, error) {
	depth := 0
	var quote byte
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case depth > 0 && (c == '\'' || c == '"'):
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth < 0 {
				return 0, fmt.Errorf("%w: %q", ErrUnbalancedBracket, text)
			}
		case c == sep && depth == 0:
			return i, nil
		}
	}
	if depth != 0 || quote != 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnbalancedBracket, text)
	}
	return len(text), nil
}

// writeSegment appends one record-path segment ("name", "*", "name[0]", "[*]").
func writeSegment(sb *strings.Builder, segment string, afterDescent bool) {
	name := segment
	brackets := ""
	if idx := strings.IndexByte(segment, '['); idx >= 0 {
		name = segment[:idx]
		brackets = segment[idx:]
	}

	switch {
	case name == "":
	case name == "*" || isPlainName(name):
		if !afterDescent {
			sb.WriteByte('.')
		}
		sb.WriteString(name)
	default:
		sb.WriteString("['")
		sb.WriteString(quoteEscaper.Replace(name))
		sb.WriteString("']")
	}
	sb.WriteString(brackets)
}

// quoteEscaper escapes a name for a single-quoted bracket segment.
var quoteEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// isPlainName reports whether a field name can be written in dot form.
func isPlainName(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}
