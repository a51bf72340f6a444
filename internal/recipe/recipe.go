package recipe

import (
	"fmt"
	"sort"

	"github.com/spf13/afero"

	"provkit/internal/action"
	"provkit/internal/config"
	"provkit/internal/provisioner"
	"provkit/internal/scm"
	"provkit/pkg/provision"
)

// Deps are the collaborators step actions are bound to.
type Deps struct {
	Packages provisioner.PackageManager
	Fetcher  action.Fetcher
	Cloner   scm.Cloner
	// Resolver is only consulted when source.gitlab_project is set.
	Resolver scm.Resolver
	Homes    action.HomeLinker
	FS       afero.Fs
}

// Recipe names one concrete provisioning script and builds its step list.
type Recipe struct {
	Name  string
	Label string
	Build func(cfg *config.Config, deps Deps) []provision.Step
}

// Defaults returns the configuration defaults this recipe contributes.
func (r Recipe) Defaults() config.Defaults {
	return config.Defaults{Name: r.Name, Label: r.Label}
}

var registry = map[string]Recipe{}

func register(r Recipe) {
	if _, exists := registry[r.Name]; exists {
		panic(fmt.Sprintf("recipe %s registered twice", r.Name))
	}
	registry[r.Name] = r
}

// Get looks up a recipe by name.
func Get(name string) (Recipe, error) {
	r, ok := registry[name]
	if !ok {
		return Recipe{}, fmt.Errorf("unknown recipe %q (available: %v)", name, Names())
	}
	return r, nil
}

// List returns every recipe sorted by name.
func List() []Recipe {
	recipes := make([]Recipe, 0, len(registry))
	for _, r := range registry {
		recipes = append(recipes, r)
	}
	sort.Slice(recipes, func(i, j int) bool { return recipes[i].Name < recipes[j].Name })
	return recipes
}

// Names returns the sorted recipe names.
func Names() []string {
	var names []string
	for _, r := range List() {
		names = append(names, r.Name)
	}
	return names
}
