package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/swarm/internal/config"
)

// Registry indexes scenario descriptors by name.
//
// Descriptors are added by Register or loaded from module files by Load.
// Names are unique: a second definition of a name is rejected.
type Registry struct {
	mu     sync.RWMutex
	descs  []Descriptor
	byName map[string]int
	kinds  map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]int),
		kinds:  make(map[string]Factory),
	}
}

// moduleEntry is one descriptor definition inside a module file.
type moduleEntry struct {
	Name        string           `json:"name" yaml:"name"`
	Title       string           `json:"title" yaml:"title"`
	Description string           `json:"description" yaml:"description"`
	Kind        string           `json:"kind" yaml:"kind"`
	Params      map[string]Param `json:"params" yaml:"params"`
}

// RegisterKind binds a factory that module files reference by kind.
func (r *Registry) RegisterKind(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = f
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Register adds descriptors. The call fails on the first duplicate name and
// descriptors before it stay registered.
func (r *Registry) Register(descs ...Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range descs {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("scenario descriptor without a name (source %s)", sourceOf(d))
		}
		if d.Create == nil {
			return fmt.Errorf("scenario %s has no factory", d.Name)
		}
		if i, ok := r.byName[d.Name]; ok {
			return &DuplicateScenarioError{Name: d.Name, Source: sourceOf(d), Existing: sourceOf(r.descs[i])}
		}

		params := make(map[string]Param, len(d.Params))
		for k, p := range d.Params {
			if p.Name == "" {
				p.Name = k
			}
			params[k] = p
		}
		d.Params = params

		r.byName[d.Name] = len(r.descs)
		r.descs = append(r.descs, d)
	}
	return nil
}

func sourceOf(d Descriptor) string {
	if d.Source == "" {
		return "builtin"
	}
	return d.Source
}

// Load reads every *.yaml, *.yml and *.json module file in dir, in lexical
// order. Each file holds an array of descriptor definitions whose kind must
// name a registered factory.
func (r *Registry) Load(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read scenarios directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		if err := r.loadFile(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read scenario module: %w", err)
	}

	var defs []moduleEntry
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		err = json.Unmarshal(data, &defs)
	} else {
		err = yaml.Unmarshal(data, &defs)
	}
	if err != nil {
		return fmt.Errorf("failed to parse scenario module %s: %w", path, err)
	}

	descs := make([]Descriptor, 0, len(defs))
	for _, def := range defs {
		r.mu.RLock()
		f, ok := r.kinds[def.Kind]
		r.mu.RUnlock()
		if !ok {
			return fmt.Errorf("scenario %s in %s: unknown kind %q", def.Name, path, def.Kind)
		}
		descs = append(descs, Descriptor{
			Name:        def.Name,
			Title:       def.Title,
			Description: def.Description,
			Params:      def.Params,
			Create:      f,
			Source:      path,
		})
	}
	return r.Register(descs...)
}

// Find returns the descriptor registered under name.
func (r *Registry) Find(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	d := r.descs[i]
	return &d, true
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.descs))
	copy(out, r.descs)
	return out
}

// Resolve looks up the scenario a schema config names, validates its params
// and returns the config with declared defaults merged in.
func (r *Registry) Resolve(sc config.SchemaConfig) (*Descriptor, config.SchemaConfig, error) {
	desc, ok := r.Find(sc.Scenario)
	if !ok {
		return nil, sc, &ScenarioNotFoundError{Name: sc.Scenario}
	}
	if err := ValidateParams(desc, sc.Params); err != nil {
		return nil, sc, err
	}
	out := sc.Clone()
	out.Params = MergeParams(desc, sc.Params)
	return desc, out, nil
}

// Instantiate resolves sc and creates a bound instance.
func (r *Registry) Instantiate(sc config.SchemaConfig, services Services, runtime Runtime) (Instance, error) {
	desc, merged, err := r.Resolve(sc)
	if err != nil {
		return nil, err
	}
	inst, err := desc.Create(&Context{Services: services, Runtime: runtime, Schema: merged})
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario %s: %w", desc.Name, err)
	}
	return inst, nil
}
