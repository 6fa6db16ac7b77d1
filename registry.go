package unarchive

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Constructor builds an instance of a class. It is called with the object's own decoding
// context active, so keyed decode calls on u address the object's fields.
type Constructor func(u *Unarchiver) (any, error)

// Class describes a decodable type.
type Class struct {
	// Name as written into archives.
	Name string

	// Ancestry lists the names of the super classes, nearest first. Allow lists are
	// checked against this declared chain, see [Registry.IsKindOf].
	Ancestry []string

	// SupportsSecureCoding must be set for classes that can be decoded by a session
	// that requires secure coding.
	SupportsSecureCoding bool

	New Constructor
}

func (c *Class) String() string {
	return c.Name
}

// Registry maps class names to decodable classes. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// DefaultRegistry holds the built-in classes and everything registered via [Register].
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{classes: map[string]*Class{}}
}

// Register adds a class to the registry. Registering the same name twice fails.
func (r *Registry) Register(class Class) (*Class, error) {
	if class.Name == "" {
		return nil, errors.New("class name must not be empty")
	}

	if class.New == nil {
		return nil, fmt.Errorf("class %q has no constructor", class.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.classes[class.Name]; exists {
		return nil, fmt.Errorf("class %q is already registered", class.Name)
	}

	registered := &Class{
		Name:                 class.Name,
		Ancestry:             slices.Clone(class.Ancestry),
		SupportsSecureCoding: class.SupportsSecureCoding,
		New:                  class.New,
	}

	r.classes[class.Name] = registered
	return registered, nil
}

// MustRegister is like Register but panics on error. Use it from init functions.
func (r *Registry) MustRegister(class Class) *Class {
	registered, err := r.Register(class)
	if err != nil {
		panic(err)
	}

	return registered
}

// Lookup returns the class registered under name.
func (r *Registry) Lookup(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	class, ok := r.classes[name]
	return class, ok
}

// Names returns the sorted names of all registered classes.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}

	slices.Sort(names)
	return names
}

// Clone returns an independent copy of the registry. Use it to extend the
// [DefaultRegistry] for a single session.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := NewRegistry()
	for name, class := range r.classes {
		clone.classes[name] = class
	}

	return clone
}

// IsKindOf reports whether class is named allowed or declares allowed as an ancestor.
// The ancestry of registered ancestors is followed as well.
func (r *Registry) IsKindOf(class *Class, allowed string) bool {
	if class == nil {
		return false
	}

	visited := map[string]struct{}{}
	queue := []string{class.Name}
	queue = append(queue, class.Ancestry...)

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if name == allowed {
			return true
		}

		if _, seen := visited[name]; seen {
			continue
		}

		visited[name] = struct{}{}

		if ancestor, ok := r.Lookup(name); ok && ancestor != class {
			queue = append(queue, ancestor.Ancestry...)
		}
	}

	return false
}

// Register adds a class to the [DefaultRegistry] and panics on error.
func Register(class Class) *Class {
	return DefaultRegistry.MustRegister(class)
}

// process wide class name remapping, consulted after the session table.
var globalClassMap = struct {
	sync.Mutex
	classes map[string]*Class
}{classes: map[string]*Class{}}

// SetClass remaps the coded class name to class for all sessions. A nil class
// removes the mapping. Prefer [Unarchiver.SetClass], which only affects one session.
func SetClass(name string, class *Class) {
	globalClassMap.Lock()
	defer globalClassMap.Unlock()

	if class == nil {
		delete(globalClassMap.classes, name)
		return
	}

	globalClassMap.classes[name] = class
}

// ClassFor returns the process wide remapping for name, if any.
func ClassFor(name string) *Class {
	globalClassMap.Lock()
	defer globalClassMap.Unlock()

	return globalClassMap.classes[name]
}
