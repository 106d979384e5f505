package capabilities

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"github.com/platinummonkey/gatekeeper/pkg/authzerr"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Registry is an immutable catalog of capabilities indexed by key.
// There is no way to add or remove entries after construction.
type Registry struct {
	byKey    map[string]Capability
	ordered  []Capability
	byModule map[string][]Capability
	modules  []string
}

// Default returns the process-wide registry built from the embedded catalog
func Default() *Registry {
	defaultOnce.Do(func() {
		reg, err := Parse(embeddedCatalog)
		if err != nil {
			panic(fmt.Sprintf("capabilities: embedded catalog is invalid: %v", err))
		}
		defaultRegistry = reg
	})
	return defaultRegistry
}

// Parse builds a registry from a YAML catalog document
func Parse(data []byte) (*Registry, error) {
	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse capability catalog: %w", err)
	}
	return New(file.Capabilities)
}

// New builds a registry from explicit definitions
func New(defs []Capability) (*Registry, error) {
	r := &Registry{
		byKey:    make(map[string]Capability, len(defs)),
		ordered:  make([]Capability, 0, len(defs)),
		byModule: make(map[string][]Capability),
	}

	for _, def := range defs {
		if err := def.validate(); err != nil {
			return nil, err
		}
		if _, exists := r.byKey[def.Key]; exists {
			return nil, fmt.Errorf("duplicate capability key: %s", def.Key)
		}
		r.byKey[def.Key] = def
		r.ordered = append(r.ordered, def)
	}

	sort.Slice(r.ordered, func(i, j int) bool {
		return r.ordered[i].Key < r.ordered[j].Key
	})

	for _, c := range r.ordered {
		if _, seen := r.byModule[c.Module]; !seen {
			r.modules = append(r.modules, c.Module)
		}
		r.byModule[c.Module] = append(r.byModule[c.Module], c)
	}
	sort.Strings(r.modules)

	return r, nil
}

// All returns every capability sorted by key
func (r *Registry) All() []Capability {
	out := make([]Capability, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered capabilities
func (r *Registry) Len() int {
	return len(r.ordered)
}

// Get returns the capability for key
func (r *Registry) Get(key string) (Capability, error) {
	c, ok := r.byKey[key]
	if !ok {
		return Capability{}, &authzerr.NotFoundError{Kind: "capability", ID: key}
	}
	return c, nil
}

// Has reports whether key is registered
func (r *Registry) Has(key string) bool {
	_, ok := r.byKey[key]
	return ok
}

// ByModule returns the capabilities of one module, sorted by key.
// An unknown module yields an empty slice.
func (r *Registry) ByModule(module string) []Capability {
	src := r.byModule[module]
	out := make([]Capability, len(src))
	copy(out, src)
	return out
}

// Modules returns the sorted module names
func (r *Registry) Modules() []string {
	out := make([]string, len(r.modules))
	copy(out, r.modules)
	return out
}

// Keys returns every registered key in sorted order
func (r *Registry) Keys() []string {
	keys := make([]string, len(r.ordered))
	for i, c := range r.ordered {
		keys[i] = c.Key
	}
	return keys
}

// PolicyControlled returns the capabilities an organization may toggle
func (r *Registry) PolicyControlled() []Capability {
	var out []Capability
	for _, c := range r.ordered {
		if c.CanBePolicyControlled {
			out = append(out, c)
		}
	}
	return out
}

// ValidateKeys fails with an InvalidCapabilityError naming every unknown key
func (r *Registry) ValidateKeys(keys []string) error {
	var unknown []string
	seen := make(map[string]bool)
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		if _, ok := r.byKey[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return &authzerr.InvalidCapabilityError{Keys: unknown}
}

// BlockedForCustomRoles returns the subset of keys that a CUSTOM role may
// never hold, sorted. Unknown keys are ignored.
func (r *Registry) BlockedForCustomRoles(keys []string) []string {
	var blocked []string
	seen := make(map[string]bool)
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		if c, ok := r.byKey[k]; ok && c.BlockedForCustomRoles {
			blocked = append(blocked, k)
		}
	}
	sort.Strings(blocked)
	return blocked
}
