package model

import (
	"strings"
	"time"
)

type GraphNode struct {
	ID         string                 `json:"id"`
	Kind       Kind                   `json:"kind"`
	Name       string                 `json:"name"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	CreatedAt  time.Time              `json:"created_at,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at,omitempty"`
}

// NewNode returns a node with its ID derived from kind and name.
func NewNode(kind Kind, name string, attrs map[string]interface{}) GraphNode {
	return GraphNode{
		ID:         NodeID(kind, name),
		Kind:       kind,
		Name:       name,
		Attributes: attrs,
	}
}

// Description returns the free-text description stored under "desc" or "description".
func (n GraphNode) Description() string {
	for _, key := range []string{"desc", "description"} {
		if v, ok := n.Attributes[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Aliases returns alternative names stored under "aliases", either a list or a
// comma separated string.
func (n GraphNode) Aliases() []string {
	switch v := n.Attributes["aliases"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, a := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '，' || r == ';' }) {
			if a = strings.TrimSpace(a); a != "" {
				out = append(out, a)
			}
		}
		return out
	}
	return nil
}
