package model

import "strings"

// Principal is an authenticated user as seen by routing and listeners.
type Principal struct {
	ID       string         `json:"id"`
	Username string         `json:"username"`
	Email    string         `json:"email,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// Attribute returns the named attribute. Built-in fields take precedence
// over Attrs. Lookups are case-insensitive for built-ins.
func (p *Principal) Attribute(name string) (any, bool) {
	if p == nil {
		return nil, false
	}
	switch strings.ToLower(name) {
	case "id", "pk":
		return p.ID, true
	case "username":
		return p.Username, true
	case "email":
		return p.Email, true
	}
	v, ok := p.Attrs[name]
	return v, ok
}

// String returns the username, which is how a bare "user" strategy renders.
func (p *Principal) String() string {
	if p == nil {
		return ""
	}
	return p.Username
}
