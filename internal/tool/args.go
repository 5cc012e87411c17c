package tool

import (
	"encoding/json"
	"math"
	"strings"
)

// StringArg returns the trimmed string value of key, or "".
func StringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// IntArg returns the integer value of key, or def when absent or not integral.
// Decoded JSON numbers arrive as float64 or json.Number depending on the decoder.
func IntArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}
