// Package plugin resolves processing-unit identities and loads them for
// execution.
//
// A plugin is identified by {name, version} and backed by an executable
// artifact on disk. The loader returns a fresh handle per invocation and
// retains nothing afterwards, so a plugin binary can be replaced between
// runs without fighting file locks.
package plugin

import (
	"os"

	"conveyor/internal/config"
	"conveyor/internal/services"
)

// Descriptor identifies one processing unit.
type Descriptor struct {
	Name     string
	Version  string
	Location string
}

// Registry maps plugin names to descriptors. Lookups are by exact identity.
type Registry struct {
	byName map[string]Descriptor
}

// NewRegistry builds a registry from the configured plugin list.
func NewRegistry(plugins []config.Plugin) *Registry {
	byName := make(map[string]Descriptor, len(plugins))
	for _, p := range plugins {
		byName[p.Name] = Descriptor{Name: p.Name, Version: p.Version, Location: p.Location}
	}
	return &Registry{byName: byName}
}

// Resolve returns the descriptor for the exact name. A missing name or a
// missing backing artifact is an ErrNotFound; the queue drops such items.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	desc, ok := r.byName[name]
	if !ok {
		return Descriptor{}, services.Wrap(services.ErrNotFound, "plugin", "resolve", name, nil)
	}
	if _, err := os.Stat(desc.Location); err != nil {
		return Descriptor{}, services.Wrap(services.ErrNotFound, "plugin", "artifact", desc.Location, err)
	}
	return desc, nil
}
