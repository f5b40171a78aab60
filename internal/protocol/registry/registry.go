package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// MaxKinds is the hard ceiling on registered message kinds. Wire indices
// travel as a little-endian uint16 but must stay within the signed 16-bit
// range, so the registry refuses to grow past it.
const MaxKinds = 32767

var (
	ErrUnnamedType  = errors.New("registry: message contract must be a named struct type")
	ErrNilPrototype = errors.New("registry: nil message prototype")
	ErrKindNotFound = errors.New("registry: kind not found")
)

// CapacityError reports a registry build that discovered more kinds than the
// wire index can address.
type CapacityError struct {
	Count int
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("registry: %d kinds exceeds capacity of %d", e.Count, MaxKinds)
}

// Kind is one registered message contract with its stable wire index.
type Kind struct {
	index         int
	qualifiedName string
	rtype         reflect.Type
}

// Index returns the kind's wire index.
func (k Kind) Index() int { return k.index }

// QualifiedName returns the kind's globally unique ordering key.
func (k Kind) QualifiedName() string { return k.qualifiedName }

// New returns a pointer to a fresh zero instance of the contract type.
func (k Kind) New() any { return reflect.New(k.rtype).Interface() }

// Module is a named group of message-contract declarations. It is the
// explicit analogue of scanning a compilation unit for contract types:
// every process that should interoperate declares the same modules.
type Module struct {
	name       string
	prototypes []any
}

// NewModule creates an empty contract module.
func NewModule(name string) *Module {
	return &Module{name: name}
}

// Name returns the module's declared name.
func (m *Module) Name() string { return m.name }

// Declare appends contract prototypes to the module and returns it for
// chaining. Prototypes may be values or pointers; only the type matters.
func (m *Module) Declare(prototypes ...any) *Module {
	m.prototypes = append(m.prototypes, prototypes...)
	return m
}

type entry struct {
	qualifiedName string
	rtype         reflect.Type
}

// Registry is the immutable type↔index mapping shared by every peer that
// declares the same modules. It is built once and safe for concurrent reads
// without synchronization.
type Registry struct {
	kinds   []Kind
	byType  map[reflect.Type]int
	byName  map[string]int
}

// Build constructs a registry from the declared modules. Kinds are
// deduplicated by qualified name and ordered by ascending bytewise
// comparison of that name; the order is the sole determinism guarantee, so
// two processes declaring the same set of contracts always agree on indices.
func Build(modules ...*Module) (*Registry, error) {
	var entries []entry
	for _, mod := range modules {
		for _, proto := range mod.prototypes {
			if proto == nil {
				return nil, fmt.Errorf("%w (module %q)", ErrNilPrototype, mod.name)
			}
			t := reflect.TypeOf(proto)
			for t.Kind() == reflect.Pointer {
				t = t.Elem()
			}
			if t.Name() == "" || t.PkgPath() == "" {
				return nil, fmt.Errorf("%w (module %q, type %v)", ErrUnnamedType, mod.name, t)
			}
			entries = append(entries, entry{
				qualifiedName: t.PkgPath() + "." + t.Name(),
				rtype:         t,
			})
		}
	}
	return newRegistry(entries)
}

func newRegistry(entries []entry) (*Registry, error) {
	seen := make(map[string]struct{}, len(entries))
	deduped := entries[:0:0]
	for _, e := range entries {
		if _, ok := seen[e.qualifiedName]; ok {
			continue
		}
		seen[e.qualifiedName] = struct{}{}
		deduped = append(deduped, e)
	}

	if len(deduped) > MaxKinds {
		return nil, CapacityError{Count: len(deduped)}
	}

	sort.Slice(deduped, func(i, j int) bool {
		return deduped[i].qualifiedName < deduped[j].qualifiedName
	})

	r := &Registry{
		kinds:  make([]Kind, len(deduped)),
		byType: make(map[reflect.Type]int, len(deduped)),
		byName: make(map[string]int, len(deduped)),
	}
	for i, e := range deduped {
		r.kinds[i] = Kind{index: i, qualifiedName: e.qualifiedName, rtype: e.rtype}
		r.byType[e.rtype] = i
		r.byName[e.qualifiedName] = i
	}
	return r, nil
}

// Len returns the number of registered kinds.
func (r *Registry) Len() int { return len(r.kinds) }

// IndexOf resolves the wire index for a message value or pointer.
func (r *Registry) IndexOf(msg any) (int, bool) {
	if msg == nil {
		return 0, false
	}
	t := reflect.TypeOf(msg)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	idx, ok := r.byType[t]
	return idx, ok
}

// KindOf resolves the registered kind for a message value or pointer.
func (r *Registry) KindOf(msg any) (Kind, bool) {
	idx, ok := r.IndexOf(msg)
	if !ok {
		return Kind{}, false
	}
	return r.kinds[idx], true
}

// KindAt returns the kind at a wire index.
func (r *Registry) KindAt(index int) (Kind, bool) {
	if index < 0 || index >= len(r.kinds) {
		return Kind{}, false
	}
	return r.kinds[index], true
}

// KindByName returns the kind registered under a qualified name.
func (r *Registry) KindByName(name string) (Kind, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Kind{}, false
	}
	return r.kinds[idx], true
}

// Kinds returns the registered kinds in index order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, len(r.kinds))
	copy(out, r.kinds)
	return out
}
