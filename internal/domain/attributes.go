package domain

// Attributes is a freeform attribute map attached to users, sessions,
// messages and memories. Values are dynamically typed (string, float64, bool,
// nested map or list, mirroring JSON); validation happens at the application
// boundary, never in storage.
type Attributes map[string]interface{}

// Copy returns a shallow copy safe to hand across a snapshot boundary.
// Nested containers are copied one level deep, which covers every write path
// in the engine (callers never mutate nested values after handing them over).
func (a Attributes) Copy() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		switch tv := v.(type) {
		case map[string]interface{}:
			m := make(map[string]interface{}, len(tv))
			for mk, mv := range tv {
				m[mk] = mv
			}
			out[k] = m
		case []interface{}:
			l := make([]interface{}, len(tv))
			copy(l, tv)
			out[k] = l
		default:
			out[k] = v
		}
	}
	return out
}

// String returns the string value for key, or "" when absent or not a string.
func (a Attributes) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns the bool value for key, or false when absent or not a bool.
func (a Attributes) Bool(key string) bool {
	v, _ := a[key].(bool)
	return v
}
