// Package attrs reads slog-style key/value argument lists.
package attrs

// ExtractString returns the string value paired with key in a flat
// [key, value, ...] list, or "" when key is absent or not a string.
func ExtractString(kv []any, key string) string {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); !ok || k != key {
			continue
		}
		v, _ := kv[i+1].(string)
		return v
	}
	return ""
}
