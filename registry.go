package mirror

import (
	"fmt"
	"slices"

	"github.com/drpcorg/mirror/mirror_errors"
	"github.com/drpcorg/mirror/state"
	"github.com/puzpuzpuz/xsync/v3"
)

type registryEntry struct {
	name    string
	factory state.Factory
}

// Registry maps container type tags to constructors. It is an ordinary
// object: each mirror gets the registry it was opened with.
type Registry struct {
	types *xsync.MapOf[state.TypeTag, registryEntry]
}

func NewRegistry() *Registry {
	return &Registry{types: xsync.NewMapOf[state.TypeTag, registryEntry]()}
}

// Register binds a tag once; binding it again is an integration defect.
func (r *Registry) Register(tag state.TypeTag, name string, factory state.Factory) error {
	if factory == nil {
		return fmt.Errorf("%w: nil factory for type %d", mirror_errors.ErrIntegration, tag)
	}
	if prev, loaded := r.types.LoadOrStore(tag, registryEntry{name: name, factory: factory}); loaded {
		return fmt.Errorf("%w: type %d already registered as %q", mirror_errors.ErrIntegration, tag, prev.name)
	}
	return nil
}

func (r *Registry) MustRegister(tag state.TypeTag, name string, factory state.Factory) {
	if err := r.Register(tag, name, factory); err != nil {
		panic(err)
	}
}

// Create makes a blank container of the tagged type.
func (r *Registry) Create(tag state.TypeTag) (state.Container, error) {
	entry, ok := r.types.Load(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %w %d", mirror_errors.ErrIntegration, mirror_errors.ErrUnknownContainerType, tag)
	}
	c := entry.factory()
	if c == nil {
		return nil, fmt.Errorf("%w: factory %q returned nil", mirror_errors.ErrIntegration, entry.name)
	}
	return c, nil
}

func (r *Registry) Name(tag state.TypeTag) string {
	if entry, ok := r.types.Load(tag); ok {
		return entry.name
	}
	return fmt.Sprintf("type#%d", tag)
}

func (r *Registry) Tags() []state.TypeTag {
	tags := make([]state.TypeTag, 0, r.types.Size())
	r.types.Range(func(tag state.TypeTag, _ registryEntry) bool {
		tags = append(tags, tag)
		return true
	})
	slices.Sort(tags)
	return tags
}
