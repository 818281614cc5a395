package toolwire

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	gjs "github.com/google/jsonschema-go/jsonschema"
)

// Registry holds tool schemas and their handlers. It is written during startup and becomes
// read-only once sealed (New seals it); the normalizer, validator and dispatcher all read
// the same compiled schemas.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]*registeredTool
	middlewares []Middleware
	sealed      bool
	opts        registryOptions
}

type registeredTool struct {
	schema  *compiledSchema
	raw     Handler // unwrapped, used by Use() to re-apply middlewares from scratch
	handler Handler // wrapped with middlewares, used by the dispatcher
	opts    toolOptions
}

// ToolInfo is the registration metadata of one tool.
type ToolInfo struct {
	Name      string
	Timeout   time.Duration
	Network   bool
	Retryable bool
	Dangerous bool
	Tags      []string
	Version   string
}

// Definition is a tool description in the shape LLM providers expect.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  *gjs.Schema `json:"parameters"`
}

// NewRegistry creates a Registry with the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	o := registryOptions{
		timeout:        60 * time.Second,
		networkTimeout: 30 * time.Second,
		maxConcurrency: 10,
		recoverPanics:  true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{tools: make(map[string]*registeredTool), opts: o}
}

// Register compiles schema and adds the tool. Stored middlewares (see Use) are applied to
// the handler. Registering a name twice or after Seal is an error.
func (r *Registry) Register(schema ToolSchema, h Handler, opts ...ToolOption) error {
	if h == nil {
		return fmt.Errorf("tool %s: nil handler", schema.Name)
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		return err
	}
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		if th, ok := h.(TimeoutHandler); ok {
			o.timeout = th.Timeout()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, ok := r.tools[schema.Name]; ok {
		return fmt.Errorf("tool %s: already registered", schema.Name)
	}
	r.tools[schema.Name] = &registeredTool{
		schema:  compiled,
		raw:     h,
		handler: wrap(h, r.middlewares),
		opts:    o,
	}
	return nil
}

// MustRegister is like Register but panics on error. Intended for startup code.
func (r *Registry) MustRegister(schema ToolSchema, h Handler, opts ...ToolOption) {
	if err := r.Register(schema, h, opts...); err != nil {
		panic(err)
	}
}

// Use stores the given middlewares and reapplies them from scratch to all registered tools
// (onion order: first middleware is outermost). Calling Use again replaces the chain.
func (r *Registry) Use(middlewares ...Middleware) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	r.middlewares = middlewares
	for _, t := range r.tools {
		t.handler = wrap(t.raw, middlewares)
	}
	return nil
}

func wrap(h Handler, middlewares []Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Seal makes the registry read-only. Sealing twice is a no-op.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether the registry is read-only.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Schema returns the registered schema of the named tool.
func (r *Registry) Schema(name string) (ToolSchema, bool) {
	t, ok := r.lookup(name)
	if !ok {
		return ToolSchema{}, false
	}
	return t.schema.ToolSchema, true
}

// Info returns the registration metadata of the named tool.
func (r *Registry) Info(name string) (ToolInfo, bool) {
	t, ok := r.lookup(name)
	if !ok {
		return ToolInfo{}, false
	}
	return ToolInfo{
		Name:      name,
		Timeout:   t.opts.timeout,
		Network:   t.opts.network,
		Retryable: t.opts.retryable,
		Dangerous: t.opts.dangerous,
		Tags:      slices.Clone(t.opts.tags),
		Version:   t.opts.version,
	}, true
}

// Definitions returns every tool's definition (e.g. for exporting to LLM providers), sorted
// by name for deterministic order.
func (r *Registry) Definitions() []Definition {
	names := r.Names()
	out := make([]Definition, 0, len(names))
	for _, name := range names {
		t, ok := r.lookup(name)
		if !ok {
			continue
		}
		out = append(out, Definition{
			Name:        name,
			Description: t.schema.Description,
			Parameters:  t.schema.Definition(),
		})
	}
	return out
}

// Close tears down handlers that implement io.Closer (caches, connection pools).
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(r.tools)) {
		if c, ok := r.tools[name].raw.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// timeoutFor resolves the effective timeout: declared, then network class, then default.
func (r *Registry) timeoutFor(t *registeredTool) time.Duration {
	switch {
	case t.opts.timeout > 0:
		return t.opts.timeout
	case t.opts.network:
		return r.opts.networkTimeout
	default:
		return r.opts.timeout
	}
}

func (r *Registry) lookup(name string) (*registeredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}
