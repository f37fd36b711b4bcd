package ai

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownModel is returned when a model id is not registered.
var ErrUnknownModel = errors.New("unknown model")

type Tier string

const (
	TierFast    Tier = "fast"
	TierQuality Tier = "quality"
)

// ModelSpec describes one selectable chat model.
type ModelSpec struct {
	ID          string  `yaml:"id" json:"id"`
	Tier        Tier    `yaml:"tier" json:"tier"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
}

// DefaultModels is the built-in two-tier catalogue.
var DefaultModels = []ModelSpec{
	{ID: "gpt-4o-mini", Tier: TierFast, Temperature: 0.7},
	{ID: "gpt-4o", Tier: TierQuality, Temperature: 0.3},
}

// Registry resolves model ids to specs.
type Registry struct {
	models       map[string]ModelSpec
	defaultModel string
}

// NewRegistry builds a registry. An empty defaultID selects the first spec.
func NewRegistry(specs []ModelSpec, defaultID string) (*Registry, error) {
	if len(specs) == 0 {
		specs = DefaultModels
	}
	r := &Registry{models: make(map[string]ModelSpec, len(specs))}
	for _, spec := range specs {
		spec.ID = strings.TrimSpace(spec.ID)
		if spec.ID == "" {
			return nil, fmt.Errorf("model id required")
		}
		if spec.Temperature < 0 || spec.Temperature > 2 {
			return nil, fmt.Errorf("model %s: temperature must be within [0,2]", spec.ID)
		}
		if _, dup := r.models[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate model %s", spec.ID)
		}
		r.models[spec.ID] = spec
	}
	defaultID = strings.TrimSpace(defaultID)
	if defaultID == "" {
		defaultID = strings.TrimSpace(specs[0].ID)
	}
	if _, ok := r.models[defaultID]; !ok {
		return nil, fmt.Errorf("default model %s: %w", defaultID, ErrUnknownModel)
	}
	r.defaultModel = defaultID
	return r, nil
}

// Resolve returns the spec for id, or the default when id is blank.
func (r *Registry) Resolve(id string) (ModelSpec, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = r.defaultModel
	}
	spec, ok := r.models[id]
	if !ok {
		return ModelSpec{}, fmt.Errorf("%q: %w", id, ErrUnknownModel)
	}
	return spec, nil
}

func (r *Registry) Default() ModelSpec { return r.models[r.defaultModel] }

// List returns all specs sorted by id.
func (r *Registry) List() []ModelSpec {
	out := make([]ModelSpec, 0, len(r.models))
	for _, spec := range r.models {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
