// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package welcome

import (
	"errors"
	"sort"
	"sync"
)

// Slot names of the welcome view.
const (
	SlotNovice   = "novice"
	SlotAdvanced = "advanced"
	SlotCallback = "callback"
)

// ErrEmptySlot is returned by Replace when the slot has no occupant.
var ErrEmptySlot = errors.New("slot is empty")

// Registry tracks which unit occupies which slot. A slot holds zero or one
// live unit at any time: mounting into an occupied slot disposes the
// previous occupant before the new one is mounted.
//
// Units are disposed with the registry lock held, so Dispose must not call
// back into the registry.
type Registry struct {
	mu       sync.Mutex
	units    map[string]Unit
	observer func()
}

// NewRegistry returns an empty registry. observer, if not nil, is called
// after every change, outside the lock.
func NewRegistry(observer func()) *Registry {
	return &Registry{units: map[string]Unit{}, observer: observer}
}

func (r *Registry) changed() {
	if r.observer != nil {
		r.observer()
	}
}

// Mount places u in slot, disposing the previous occupant first.
func (r *Registry) Mount(slot string, u Unit) {
	r.mu.Lock()
	if old, ok := r.units[slot]; ok && old != u {
		delete(r.units, slot)
		old.Dispose()
	}
	r.units[slot] = u
	u.Mount(slot)
	r.mu.Unlock()
	r.changed()
}

// Replace is Mount for a slot that must already be occupied.
func (r *Registry) Replace(slot string, u Unit) error {
	r.mu.Lock()
	_, ok := r.units[slot]
	r.mu.Unlock()
	if !ok {
		return ErrEmptySlot
	}
	r.Mount(slot, u)
	return nil
}

// Remove disposes the occupant of slot. It reports whether there was one.
func (r *Registry) Remove(slot string) bool {
	r.mu.Lock()
	old, ok := r.units[slot]
	if ok {
		delete(r.units, slot)
		old.Dispose()
	}
	r.mu.Unlock()
	if ok {
		r.changed()
	}
	return ok
}

// RemoveIf disposes the occupant of slot only if it is u.
func (r *Registry) RemoveIf(slot string, u Unit) bool {
	r.mu.Lock()
	old, ok := r.units[slot]
	ok = ok && old == u
	if ok {
		delete(r.units, slot)
		old.Dispose()
	}
	r.mu.Unlock()
	if ok {
		r.changed()
	}
	return ok
}

// Get returns the occupant of slot or nil.
func (r *Registry) Get(slot string) Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.units[slot]
}

// Snapshot copies the current slot assignment.
func (r *Registry) Snapshot() map[string]Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Unit, len(r.units))
	for k, v := range r.units {
		out[k] = v
	}
	return out
}

// Slots lists the occupied slots in name order.
func (r *Registry) Slots() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.units))
	for k := range r.units {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clear disposes every occupant.
func (r *Registry) Clear() {
	r.mu.Lock()
	n := len(r.units)
	for slot, u := range r.units {
		delete(r.units, slot)
		u.Dispose()
	}
	r.mu.Unlock()
	if n > 0 {
		r.changed()
	}
}
