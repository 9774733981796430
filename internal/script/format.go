package script

import (
	"fmt"
	"strconv"
	"strings"
)

// formatValue renders a small value the way the Python tool would:
// repr-style scalars, newlines escaped, long strings truncated.
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		formatted := strings.ReplaceAll(x, "\n", "\\n")
		if len(formatted) > 100 {
			return formatted[:97] + "..."
		}
		return formatted
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return pyFloat(x)
	case []interface{}:
		return formatArrayValue(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// formatArrayValue renders an attribute array: numpy style when small,
// a shape summary otherwise.
func formatArrayValue(elems []interface{}) string {
	if len(elems) == 0 {
		return "Empty array with shape (0,)"
	}
	if len(elems) >= 10 {
		return fmt.Sprintf("Array with shape (%d,); dtype %s", len(elems), elemDtype(elems))
	}
	return formatArray(elems)
}

// formatArray renders elements numpy style: space separated in square
// brackets, strings single quoted.
func formatArray(elems []interface{}) string {
	parts := make([]string, len(elems))
	for i, e := range elems {
		if s, ok := e.(string); ok {
			parts[i] = "'" + s + "'"
			continue
		}
		parts[i] = formatValue(e)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func elemDtype(elems []interface{}) string {
	switch elems[0].(type) {
	case int64:
		return "int64"
	case uint64:
		return "uint64"
	case float64:
		return "float64"
	case bool:
		return "bool"
	case string:
		return "object"
	default:
		return "object"
	}
}

// pyFloat prints a float the way Python repr does: integral values
// keep a trailing .0.
func pyFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") && !strings.Contains(s, "Inf") && !strings.Contains(s, "NaN") {
		s += ".0"
	}
	return s
}

// shapeTuple renders a shape as a Python tuple: (100,), (3, 4), ().
func shapeTuple(shape []uint64) string {
	if len(shape) == 0 {
		return "()"
	}
	if len(shape) == 1 {
		return fmt.Sprintf("(%d,)", shape[0])
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.FormatUint(d, 10)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
