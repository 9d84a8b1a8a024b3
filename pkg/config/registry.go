package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Module is an object built from a config section.
type Module interface {
	GetName() string
}

// ModuleFactory builds a module from its section.
type ModuleFactory func(section *Section) (Module, error)

// Registry maps section names to module factories. Exact names win over
// prefixes; among prefixes the longest match wins.
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]ModuleFactory
	prefixes map[string]ModuleFactory
	loaded   map[string]Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]ModuleFactory),
		prefixes: make(map[string]ModuleFactory),
		loaded:   make(map[string]Module),
	}
}

// Register adds a factory for an exact section name, e.g. "firmware_retraction".
func (r *Registry) Register(name string, factory ModuleFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[name] = factory
}

// RegisterWithPrefix adds a factory for named sections, e.g. "stepper_"
// matching [stepper_x] and [stepper_z].
func (r *Registry) RegisterWithPrefix(prefix string, factory ModuleFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes[prefix] = factory
}

// GetFactory returns the factory for a section name, or nil.
func (r *Registry) GetFactory(sectionName string) ModuleFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factoryLocked(sectionName)
}

func (r *Registry) factoryLocked(sectionName string) ModuleFactory {
	if factory, ok := r.exact[sectionName]; ok {
		return factory
	}
	var best string
	for prefix := range r.prefixes {
		if strings.HasPrefix(sectionName, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil
	}
	return r.prefixes[best]
}

// LoadModules builds a module for every section that has a factory, in
// config file order. Sections already loaded are not rebuilt.
func (r *Registry) LoadModules(cfg *Config) ([]Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var modules []Module
	for _, name := range cfg.GetSectionNames() {
		if m, ok := r.loaded[name]; ok {
			modules = append(modules, m)
			continue
		}
		factory := r.factoryLocked(name)
		if factory == nil {
			continue
		}
		module, err := factory(cfg.GetSectionOptional(name))
		if err != nil {
			return nil, fmt.Errorf("failed to load module [%s]: %w", name, err)
		}
		r.loaded[name] = module
		modules = append(modules, module)
	}
	return modules, nil
}

// GetModule returns a loaded module by section name, or nil.
func (r *Registry) GetModule(name string) Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded[name]
}

// RegisteredNames returns the sorted exact names with factories.
func (r *Registry) RegisteredNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.exact))
	for name := range r.exact {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
