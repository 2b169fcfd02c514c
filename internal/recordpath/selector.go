package recordpath

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/canectors/keyhash/internal/errhandling"
)

// MatchedValue is one value located by a selector in a record.
type MatchedValue struct {
	// Path is the source text of the selector that produced the match
	Path string

	// Index is the position of the match in traversal order
	Index int

	// Value is the matched value, as stored in the record
	Value interface{}
}

// Select evaluates sel against record and returns the matches in traversal
// order. Object members are visited in key order and array elements in index
// order, so the result is the same on every evaluation. The record is not
// modified.
func Select(sel *Selector, record map[string]interface{}) ([]MatchedValue, error) {
	if sel == nil {
		return nil, errhandling.NewSelectionError("nil selector", nil)
	}
	if record == nil {
		return nil, errhandling.NewSelectionError(fmt.Sprintf("evaluating %q: nil record", sel.text), nil)
	}

	var values []interface{}
	if sel.unordered {
		values = locateSorted(sel.expr, record)
	} else {
		values = sel.expr.Get(record)
	}
	matches := make([]MatchedValue, len(values))
	for i, v := range values {
		matches[i] = MatchedValue{Path: sel.text, Index: i, Value: v}
	}
	return matches, nil
}

// locateSorted resolves every location expr matches and returns the values in
// document order with object keys sorted.
func locateSorted(expr jp.Expr, record map[string]interface{}) []interface{} {
	locs := expr.Locate(record, 0)
	sort.Slice(locs, func(i, j int) bool { return lessLocation(locs[i], locs[j]) })

	values := make([]interface{}, 0, len(locs))
	for i, loc := range locs {
		if i > 0 && !lessLocation(locs[i-1], loc) {
			// descent can reach the same location twice
			continue
		}
		values = append(values, loc.First(record))
	}
	return values
}

// lessLocation orders normalized locations fragment by fragment: a parent
// sorts before its children, keys compare as strings and indexes as numbers.
func lessLocation(a, b jp.Expr) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareFrag(a[i], b[i]); c != 0 {
			return c < 0
		}
	}
	return len(a) < len(b)
}

func compareFrag(a, b jp.Frag) int {
	switch fa := a.(type) {
	case jp.Child:
		if fb, ok := b.(jp.Child); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
		return 1
	case jp.Nth:
		if fb, ok := b.(jp.Nth); ok {
			return int(fa) - int(fb)
		}
		if _, ok := b.(jp.Child); ok {
			return -1
		}
		return 1
	default:
		switch b.(type) {
		case jp.Child, jp.Nth:
			return -1
		}
		return 0
	}
}

var sortedJSON = &ojg.Options{Sort: true}

// StringValue returns the string form of a matched value.
// The boolean is false when the value is absent (nil).
func StringValue(v interface{}) (string, bool, error) {
	switch val := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return val, true, nil
	case []byte:
		return string(val), true, nil
	case bool:
		return strconv.FormatBool(val), true, nil
	case float64:
		return formatFloat(val, 64), true, nil
	case float32:
		return formatFloat(float64(val), 32), true, nil
	case time.Time:
		return val.Format(time.RFC3339Nano), true, nil
	case fmt.Stringer:
		return val.String(), true, nil
	case map[string]interface{}, []interface{}:
		return oj.JSON(val, sortedJSON), true, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true, nil
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float(), 64), true, nil
	case reflect.String:
		return rv.String(), true, nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true, nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes()), true, nil
		}
		return oj.JSON(v, sortedJSON), true, nil
	case reflect.Map, reflect.Array, reflect.Struct:
		return oj.JSON(v, sortedJSON), true, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return "", false, nil
		}
		return StringValue(rv.Elem().Interface())
	default:
		return "", false, errhandling.NewSelectionError(
			fmt.Sprintf("value of type %T has no string form", v), nil)
	}
}

// formatFloat renders integral values without a decimal point or exponent.
func formatFloat(f float64, bitSize int) string {
	if f == float64(int64(f)) && f < 1e15 && f > -1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, bitSize)
}
