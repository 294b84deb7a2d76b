// Package template defines the catalog of pipeline templates and the
// parameter normalization applied before a pipeline is instantiated.
package template

import (
	"fmt"
	"sort"

	"github.com/kaneko-ai/conductor"
)

// Param describes one template parameter: its key, a human label, the
// default applied when the caller omits it, and inclusive bounds.
type Param struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Default int    `json:"default"`
	Min     int    `json:"min"`
	Max     int    `json:"max"`
}

// Template is one catalog entry. Disabled templates stay listed so
// callers can render them, but cannot be instantiated.
type Template struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Enabled        bool    `json:"enabled"`
	DisabledReason string  `json:"disabled_reason,omitempty"`
	Params         []Param `json:"params,omitempty"`
}

// Registry is an immutable, ordered template catalog.
type Registry struct {
	order []string
	byID  map[string]Template
}

// NewRegistry builds a registry preserving the given order.
func NewRegistry(templates ...Template) *Registry {
	r := &Registry{byID: make(map[string]Template, len(templates))}
	for _, t := range templates {
		if _, ok := r.byID[t.ID]; ok {
			continue
		}
		r.order = append(r.order, t.ID)
		r.byID[t.ID] = t
	}
	return r
}

// List returns all templates in registration order.
func (r *Registry) List() []Template {
	out := make([]Template, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Get returns the template with the given id.
func (r *Registry) Get(id string) (Template, error) {
	t, ok := r.byID[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", conductor.ErrTemplateNotFound, id)
	}
	return t, nil
}

// NormalizeParams validates caller-supplied parameters against a
// template's declared schema and fills in defaults. Unknown keys are
// rejected; out-of-range or non-integer values are rejected. The
// returned map always contains exactly the declared keys.
func (r *Registry) NormalizeParams(id string, raw map[string]any) (map[string]int, error) {
	t, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if !t.Enabled {
		return nil, fmt.Errorf("%w: %s (%s)", conductor.ErrTemplateDisabled, id, t.DisabledReason)
	}

	declared := make(map[string]Param, len(t.Params))
	for _, p := range t.Params {
		declared[p.Key] = p
	}

	// Report unknown keys deterministically.
	var unknown []string
	for k := range raw {
		if _, ok := declared[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown keys %v for template %s", conductor.ErrInvalidParams, unknown, id)
	}

	out := make(map[string]int, len(t.Params))
	for _, p := range t.Params {
		v, ok := raw[p.Key]
		if !ok || v == nil {
			out[p.Key] = p.Default
			continue
		}
		n, err := coerceInt(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", conductor.ErrInvalidParams, id, p.Key, err)
		}
		if n < p.Min || n > p.Max {
			return nil, fmt.Errorf("%w: %s.%s = %d out of range [%d, %d]",
				conductor.ErrInvalidParams, id, p.Key, n, p.Min, p.Max)
		}
		out[p.Key] = n
	}
	return out, nil
}

// coerceInt accepts the numeric representations JSON decoding produces.
// Floats are accepted only when they carry no fractional part.
func coerceInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// Builtin returns the catalog shipped with Conductor. Only the tree
// template is executable today; the rest are listed as placeholders so
// clients can render the full catalog.
func Builtin() *Registry {
	return NewRegistry(
		Template{
			ID:          "tree",
			Title:       "Citation tree",
			Description: "Expand a paper's citation graph breadth-first to a bounded depth.",
			Enabled:     true,
			Params: []Param{
				{Key: "depth", Label: "Depth", Default: 2, Min: 1, Max: 2},
				{Key: "max_per_level", Label: "Max per level", Default: 50, Min: 1, Max: 200},
			},
		},
		Template{
			ID:             "map",
			Title:          "Concept map",
			Description:    "Build a concept map from a paper's key terms.",
			DisabledReason: "executor not wired",
		},
		Template{
			ID:             "related",
			Title:          "Related work",
			Description:    "Collect related work recommendations for a paper.",
			DisabledReason: "executor not wired",
		},
		Template{
			ID:             "summary",
			Title:          "Structured summary",
			Description:    "Produce a structured summary of a paper.",
			DisabledReason: "executor not wired",
		},
	)
}
