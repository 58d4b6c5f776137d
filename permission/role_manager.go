package permission

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// RoleManager maps role names to permission masks.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]Mask64
	frozen bool
}

func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]Mask64),
	}
}

// RegisterRole builds a mask from permission names. Every name must already
// be registered.
func (rm *RoleManager) RegisterRole(role string, permissions []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if role == "" {
		return errors.New("role name empty")
	}
	if _, exists := rm.roles[role]; exists {
		return errors.New("role already registered: " + role)
	}

	var mask Mask64
	for _, p := range permissions {
		bit, ok := rm.registry.Bit(p)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, p)
		}
		mask.Set(bit)
	}
	rm.roles[role] = mask
	return nil
}

func (rm *RoleManager) Mask(role string) (Mask64, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	mask, ok := rm.roles[role]
	return mask, ok
}

// HasPermission reports whether role grants permission. Unknown roles and
// unknown permissions grant nothing.
func (rm *RoleManager) HasPermission(role, permission string) bool {
	mask, ok := rm.Mask(role)
	if !ok {
		return false
	}
	bit, ok := rm.registry.Bit(permission)
	if !ok {
		return false
	}
	return mask.Has(bit, rm.registry.RootReserved())
}

// Permissions lists the named permissions granted by role, sorted.
func (rm *RoleManager) Permissions(role string) []string {
	mask, ok := rm.Mask(role)
	if !ok {
		return nil
	}
	var out []string
	for bit := 0; bit < MaxBits; bit++ {
		if mask&(1<<bit) == 0 {
			continue
		}
		if name, ok := rm.registry.Name(bit); ok {
			out = append(out, name)
		} else if root, ok := rm.registry.RootBit(); ok && bit == root {
			out = append(out, RootPermission)
		}
	}
	sort.Strings(out)
	return out
}

func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	rm.frozen = true
	rm.mu.Unlock()
}

func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}

// Build registers every permission referenced by roles, in sorted order, and
// returns a frozen role manager.
func Build(roles map[string][]string, rootReserved bool) (*RoleManager, error) {
	reg := NewRegistry(rootReserved)

	seen := make(map[string]struct{})
	var names []string
	for _, perms := range roles {
		for _, p := range perms {
			if p == RootPermission {
				continue
			}
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				names = append(names, p)
			}
		}
	}
	sort.Strings(names)
	for _, p := range names {
		if _, err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	reg.Freeze()

	rm := NewRoleManager(reg)
	for role, perms := range roles {
		if err := rm.RegisterRole(role, perms); err != nil {
			return nil, err
		}
	}
	rm.Freeze()
	return rm, nil
}
