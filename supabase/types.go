package supabase

import (
	"encoding/json"
)

// Result is the provider's answer to a call: its HTTP status and its body,
// byte for byte. Callers relay or inspect it; it is never reinterpreted.
type Result struct {
	Status  int
	Payload json.RawMessage
}

// OK reports whether the provider answered 200.
func (r *Result) OK() bool {
	return r != nil && r.Status == 200
}

// Field decodes a top-level field of the payload. It returns false when the
// payload is not an object or the field is absent or null.
func (r *Result) Field(name string) (interface{}, bool) {
	if r == nil || len(r.Payload) == 0 {
		return nil, false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(r.Payload, &obj); err != nil {
		return nil, false
	}
	v, ok := obj[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// StringField returns a top-level string field. Absent fields and values of
// any other JSON type yield "".
func (r *Result) StringField(name string) string {
	v, _ := r.Field(name)
	s, _ := v.(string)
	return s
}

// Identity is the subset of a provider user the gateway cares about
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
}

// credentials is the body of sign-up and password login calls
type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
