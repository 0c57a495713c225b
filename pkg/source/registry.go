package source

// Registry is an insertion-ordered set of sources keyed by kind. It is
// built once at startup and read concurrently afterwards.
type Registry struct {
	order   []Kind
	sources map[Kind]Source
}

// NewRegistry registers the given sources in order.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[Kind]Source)}
	for _, src := range sources {
		r.Register(src)
	}
	return r
}

// Register adds src. Re-registering a kind replaces the source but keeps
// its original position.
func (r *Registry) Register(src Source) {
	if src == nil {
		return
	}
	name := src.Name()
	if _, ok := r.sources[name]; !ok {
		r.order = append(r.order, name)
	}
	r.sources[name] = src
}

// Get returns the source registered for kind.
func (r *Registry) Get(kind Kind) (Source, bool) {
	src, ok := r.sources[kind]
	return src, ok
}

// List returns the sources in registration order.
func (r *Registry) List() []Source {
	out := make([]Source, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.sources[k])
	}
	return out
}

// Names returns the registered kinds in registration order.
func (r *Registry) Names() []Kind {
	out := make([]Kind, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int { return len(r.order) }

// Authority returns the authority score of an active source.
func (r *Registry) Authority(kind Kind) (float64, bool) {
	src, ok := r.sources[kind]
	if !ok {
		return 0, false
	}
	return src.AuthorityScore(), true
}

// Filter returns a registry holding only the given kinds, in the original
// registration order. Unknown kinds are ignored.
func (r *Registry) Filter(kinds ...Kind) *Registry {
	wanted := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}
	out := NewRegistry()
	for _, k := range r.order {
		if wanted[k] {
			out.Register(r.sources[k])
		}
	}
	return out
}
