// Package pattern defines the lifecycle of visual patterns and a registry that
// creates fresh instances by name.
package pattern

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"stripcast/internal/core"
)

// ErrUnknownPattern is returned when a name is not registered.
var ErrUnknownPattern = errors.New("unknown pattern")

// Params carries numeric pattern parameters by name.
type Params map[string]float64

// Get returns the named value or def when absent.
func (p Params) Get(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// Pattern is a stateful visual algorithm. Initialize is called once before the
// first frame and Cleanup once when the pattern is replaced.
type Pattern interface {
	Initialize(vp *core.Viewport, params Params) error
	Update(dt, total time.Duration)
	Render(vp *core.Viewport)
	Cleanup()
}

// ParamSpec declares one tunable parameter.
type ParamSpec struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Default     float64 `json:"default"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
}

// Descriptor describes a registered pattern and knows how to build instances.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Params      []ParamSpec    `json:"params"`
	New         func() Pattern `json:"-"`
}

// Resolve fills defaults for missing parameters and clamps declared ones to
// their range. Undeclared parameters pass through untouched.
func (d Descriptor) Resolve(in Params) Params {
	out := make(Params, len(in)+len(d.Params))
	for k, v := range in {
		out[k] = v
	}
	for _, spec := range d.Params {
		v, ok := out[spec.Name]
		if !ok {
			v = spec.Default
		}
		if spec.Max > spec.Min {
			if v < spec.Min {
				v = spec.Min
			}
			if v > spec.Max {
				v = spec.Max
			}
		}
		out[spec.Name] = v
	}
	return out
}

// Registry holds pattern descriptors by name.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Descriptor
}

// NewRegistry returns a registry preloaded with the built-in patterns.
func NewRegistry() *Registry {
	r := &Registry{m: make(map[string]Descriptor)}
	r.Register(solidDescriptor())
	r.Register(rainbowDescriptor())
	return r
}

// Register adds or replaces a descriptor.
func (r *Registry) Register(d Descriptor) {
	if d.Name == "" || d.New == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[d.Name] = d
}

// Unregister removes a descriptor. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, name)
}

// Get looks up a descriptor.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.m[name]
	return d, ok
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.m))
	for _, d := range r.m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// New builds a fresh instance and resolves params against its declared specs.
func (r *Registry) New(name string, params Params) (Pattern, Params, error) {
	d, ok := r.Get(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownPattern, name)
	}
	return d.New(), d.Resolve(params), nil
}
