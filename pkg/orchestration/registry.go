package orchestration

import (
	"context"
	"sort"
)

// Document is the evolving key-value record for one entity.
type Document map[string]any

// BaseFunc is the unconditional first step of a build-out. Its return value
// replaces the working document.
type BaseFunc[C any] func(ctx context.Context, doc Document, conn *C) (Document, error)

// OperationFunc fetches one optional expansion. input is either the full
// document or only its identifying fields; it must be treated as read-only.
type OperationFunc[C any] func(ctx context.Context, input Document, conn *C) (any, error)

// Operation describes a flag-selected operation and where its result lands.
type Operation[C any] struct {
	// Flag selects the operation. It must be exactly one declared bit.
	Flag Flag

	// DependsOn lists prerequisite flags. None means the operation depends
	// only on Base, which always runs.
	DependsOn Flag

	// Key is the document key the result is stored under.
	Key string

	// Fn performs the call.
	Fn OperationFunc[C]
}

// Builder collects registrations and produces an immutable Registry.
// A Builder is not safe for concurrent use.
type Builder[C any] struct {
	flags    *FlagSet
	base     BaseFunc[C]
	ops      map[Flag]*Operation[C]
	keys     map[string]Flag
	identity []string
}

// NewBuilder creates a builder for operations selected by flags.
func NewBuilder[C any](flags *FlagSet) *Builder[C] {
	return &Builder[C]{
		flags: flags,
		ops:   make(map[Flag]*Operation[C]),
		keys:  make(map[string]Flag),
	}
}

// RegisterBase sets the Base operation. At most one is allowed.
func (b *Builder[C]) RegisterBase(fn BaseFunc[C]) error {
	if fn == nil {
		return ErrConfiguration("base operation is nil")
	}
	if b.base != nil {
		return ErrConfiguration("base operation already registered")
	}
	b.base = fn
	return nil
}

// Register adds a flag-selected operation.
func (b *Builder[C]) Register(op Operation[C]) error {
	if !op.Flag.single() || !b.flags.Declared(op.Flag) {
		return ErrConfiguration("operation flag %#x is not a single declared flag", uint64(op.Flag)).
			WithOperation(op.Key)
	}
	name := b.flags.Format(op.Flag)
	if op.Key == "" {
		return ErrConfiguration("operation %s has no key", name)
	}
	if op.Fn == nil {
		return ErrConfiguration("operation %s has no function", name).WithOperation(op.Key)
	}
	if _, exists := b.ops[op.Flag]; exists {
		return ErrConfiguration("operation already registered for flag %s", name).WithOperation(op.Key)
	}
	for key, owner := range b.keys {
		if Underscore(key) == Underscore(op.Key) {
			return ErrConfiguration("key %q already claimed by flag %s", op.Key, b.flags.Format(owner)).
				WithOperation(op.Key)
		}
	}
	if op.DependsOn.Has(op.Flag) {
		return ErrConfiguration("operation %s depends on itself", name).WithOperation(op.Key)
	}
	if !b.flags.Declared(op.DependsOn) {
		return ErrConfiguration("operation %s depends on undeclared flags %#x",
			name, uint64(op.DependsOn&^b.flags.All())).WithOperation(op.Key)
	}

	stored := op
	b.ops[op.Flag] = &stored
	b.keys[op.Key] = op.Flag
	return nil
}

// SetIdentityFields names the fields handed to operations when the full
// document is not passed.
func (b *Builder[C]) SetIdentityFields(fields ...string) {
	b.identity = append([]string(nil), fields...)
}

// Build validates the registrations and returns the registry.
func (b *Builder[C]) Build() (*Registry[C], error) {
	if b.base == nil {
		return nil, ErrConfiguration("no base operation registered")
	}
	for _, name := range b.flags.names {
		f := b.flags.MustFlag(name)
		if _, ok := b.ops[f]; !ok {
			return nil, ErrConfiguration("no operation registered for flag %s", name)
		}
	}

	r := &Registry[C]{
		flags:    b.flags,
		base:     b.base,
		ops:      make(map[Flag]*Operation[C], len(b.ops)),
		closure:  make(map[Flag]Flag, len(b.ops)),
		depth:    make(map[Flag]int, len(b.ops)),
		identity: b.identity,
		aliases:  make(map[string]string, len(b.ops)),
	}
	for f, op := range b.ops {
		r.ops[f] = op
		r.aliases[Underscore(op.Key)] = op.Key
	}

	// Depth-first walk over prerequisites: visiting marks the current path,
	// done holds finished nodes with their closure and depth computed.
	visiting := make(map[Flag]bool)
	done := make(map[Flag]bool)
	var visit func(f Flag) error
	visit = func(f Flag) error {
		if done[f] {
			return nil
		}
		if visiting[f] {
			return ErrConfiguration("dependency cycle involving flag %s", b.flags.Format(f))
		}
		visiting[f] = true

		op := r.ops[f]
		var closure Flag
		depth := 0
		for _, dep := range r.bits(op.DependsOn) {
			if err := visit(dep); err != nil {
				return err
			}
			closure |= dep | r.closure[dep]
			if d := r.depth[dep] + 1; d > depth {
				depth = d
			}
		}
		r.closure[f] = closure
		r.depth[f] = depth

		delete(visiting, f)
		done[f] = true
		return nil
	}

	for _, f := range r.bits(b.flags.All()) {
		if err := visit(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Registry is an immutable table of operations for one entity type.
// It is safe for concurrent use.
type Registry[C any] struct {
	flags    *FlagSet
	base     BaseFunc[C]
	ops      map[Flag]*Operation[C]
	closure  map[Flag]Flag
	depth    map[Flag]int
	identity []string

	// aliases maps the underscored form of each operation key to the key.
	aliases map[string]string
}

// NewRegistry registers base and ops and builds the registry in one step.
func NewRegistry[C any](flags *FlagSet, base BaseFunc[C], ops []Operation[C], identity ...string) (*Registry[C], error) {
	b := NewBuilder[C](flags)
	if err := b.RegisterBase(base); err != nil {
		return nil, err
	}
	for _, op := range ops {
		if err := b.Register(op); err != nil {
			return nil, err
		}
	}
	b.SetIdentityFields(identity...)
	return b.Build()
}

// MustRegistry is like NewRegistry but panics on error. It is meant for
// package-level tables built at process start.
func MustRegistry[C any](flags *FlagSet, base BaseFunc[C], ops []Operation[C], identity ...string) *Registry[C] {
	r, err := NewRegistry(flags, base, ops, identity...)
	if err != nil {
		panic(err)
	}
	return r
}

// Flags returns the flag set the registry was built from.
func (r *Registry[C]) Flags() *FlagSet {
	return r.flags
}

// Key returns the document key of the operation registered for f.
func (r *Registry[C]) Key(f Flag) (string, bool) {
	op, ok := r.ops[f]
	if !ok {
		return "", false
	}
	return op.Key, true
}

// Keys returns the document keys of the operations selected by f.
func (r *Registry[C]) Keys(f Flag) []string {
	var keys []string
	for _, bit := range r.bits(f & r.flags.All()) {
		keys = append(keys, r.ops[bit].Key)
	}
	return keys
}

// canonicalize renames keys of doc that spell an operation key in another
// style to that key, so operation results replace them on merge. The key in
// registered form wins over its variants, then the lexically smallest.
func (r *Registry[C]) canonicalize(doc Document) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key, ok := r.aliases[Underscore(k)]
		if !ok || key == k {
			continue
		}
		v := doc[k]
		delete(doc, k)
		if _, exists := doc[key]; !exists {
			doc[key] = v
		}
	}
}

// Resolve returns the requested flags that are declared, plus every
// transitive prerequisite. Undeclared bits are dropped.
func (r *Registry[C]) Resolve(requested Flag) Flag {
	selected := requested & r.flags.All()
	for _, f := range r.bits(selected) {
		selected |= r.closure[f]
	}
	return selected
}

// levels groups the operations selected by f so that every operation comes
// after all of its prerequisites. Ties keep declaration order.
func (r *Registry[C]) levels(f Flag) [][]*Operation[C] {
	var levels [][]*Operation[C]
	for _, bit := range r.bits(f) {
		d := r.depth[bit]
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], r.ops[bit])
	}

	out := levels[:0]
	for _, level := range levels {
		if len(level) > 0 {
			out = append(out, level)
		}
	}
	return out
}

// bits splits f into single flags in declaration order.
func (r *Registry[C]) bits(f Flag) []Flag {
	var out []Flag
	for i := 0; i < r.flags.Len(); i++ {
		bit := Flag(1) << uint(i)
		if f.Has(bit) {
			out = append(out, bit)
		}
	}
	return out
}
