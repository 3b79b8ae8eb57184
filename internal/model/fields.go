package model

import (
	"strconv"
	"strings"
)

// Scalar is one of string, int64, float64 or bool.
type Scalar = any

// Fields is the canonical, transport independent representation of one
// event's data.
type Fields map[string]Scalar

func (f Fields) Has(key string) bool {
	v, ok := f[key]
	return ok && v != nil
}

// String renders the value under key as a string. Missing keys yield "".
func (f Fields) String(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Int returns the value under key as an integer. ok is false when the key is
// missing or does not hold a number.
func (f Fields) Int(key string) (int64, bool) {
	switch v := f[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Bool treats true, "true" and 1 as truthy.
func (f Fields) Bool(key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	case int64:
		return v == 1
	case float64:
		return v == 1
	default:
		return false
	}
}
