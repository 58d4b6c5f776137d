package permission

import (
	"errors"
	"sync"
)

// RootPermission names the reserved root bit.
const RootPermission = "*"

var (
	ErrRegistryFrozen    = errors.New("permission registry frozen")
	ErrPermissionLimit   = errors.New("permission limit exceeded")
	ErrUnknownPermission = errors.New("permission not registered")
)

// Registry maps permission names to bit positions.
type Registry struct {
	rootReserved bool

	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry returns an empty registry. With rootReserved the top bit is
// kept for RootPermission and 63 bits remain for named permissions.
func NewRegistry(rootReserved bool) *Registry {
	return &Registry{
		rootReserved: rootReserved,
		nameToBit:    make(map[string]int),
		bitToName:    make(map[int]string),
	}
}

// Register assigns the next free bit to name and returns it.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.frozen:
		return -1, ErrRegistryFrozen
	case name == "":
		return -1, errors.New("permission name cannot be empty")
	case name == RootPermission:
		return -1, errors.New("root permission is implicit")
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("permission already registered: " + name)
	}

	limit := MaxBits
	if r.rootReserved {
		limit--
	}
	next := len(r.nameToBit)
	if next >= limit {
		return -1, ErrPermissionLimit
	}

	r.nameToBit[name] = next
	r.bitToName[next] = name
	return next, nil
}

// Bit returns the bit for name. RootPermission resolves to the root bit when reserved.
func (r *Registry) Bit(name string) (int, bool) {
	if name == RootPermission {
		return r.RootBit()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Freeze rejects further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

func (r *Registry) RootBit() (int, bool) {
	if !r.rootReserved {
		return -1, false
	}
	return MaxBits - 1, true
}

func (r *Registry) RootReserved() bool { return r.rootReserved }
