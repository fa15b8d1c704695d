/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

import (
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Registry is the live, in-memory set of Hosts. Mutation happens only from
// the Commit Engine and the Lease Timer, both driven by the single-threaded
// event loop (spec.md §5); the concurrent map is used anyway, matching the
// teacher's own `tdns.Zones` idiom, so that the observability HTTP API can
// read host/service state from its own goroutine without a second lock.
//
// Ordering matters for the Lease Timer's simultaneous-expiry tie-break
// (spec.md §4.6: "process hosts in registry insertion order"), so the
// registry also keeps an explicit insertion-ordered slice alongside the
// map.
type Registry struct {
	byName cmap.ConcurrentMap[string, *Host]
	order  []string // lowercased names, insertion order
}

func NewRegistry() *Registry {
	return &Registry{byName: cmap.New[*Host]()}
}

// Lookup finds a Host by full_name, case-insensitively (spec.md §3).
func (r *Registry) Lookup(fullName string) *Host {
	h, ok := r.byName.Get(strings.ToLower(fullName))
	if !ok {
		return nil
	}
	return h
}

// Insert adds a brand-new Host to the registry. It must not already be
// present; callers (the commit engine) are expected to have checked via
// Lookup first.
func (r *Registry) Insert(h *Host) {
	key := h.LowerName()
	if _, exists := r.byName.Get(key); !exists {
		r.order = append(r.order, key)
	}
	r.byName.Set(key, h)
}

// Remove deletes a Host entirely, releasing its name. Used by the lease
// timer when KEY-LEASE elapses and by explicit host removal.
func (r *Registry) Remove(fullName string) {
	key := strings.ToLower(fullName)
	r.byName.Remove(key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Clear empties the registry. Called when the lifecycle controller
// transitions to Disabled (spec.md §4.1).
func (r *Registry) Clear() {
	r.byName = cmap.New[*Host]()
	r.order = nil
}

// Count returns the number of hosts currently in the registry.
func (r *Registry) Count() int {
	return len(r.order)
}

// HostsInOrder returns the live hosts in registry insertion order. The
// slice is a fresh copy of the pointers, safe for the caller to iterate
// without racing a concurrent Insert/Remove.
func (r *Registry) HostsInOrder() []*Host {
	out := make([]*Host, 0, len(r.order))
	for _, key := range r.order {
		if h, ok := r.byName.Get(key); ok {
			out = append(out, h)
		}
	}
	return out
}

// FindServiceOwner returns the Host that already owns instanceName, if
// any, and the Service record for it. Used by the commit engine's
// name-conflict check (spec.md §4.5 step 1).
func (r *Registry) FindServiceOwner(instanceName string) (*Host, *Service) {
	for _, h := range r.HostsInOrder() {
		for _, s := range h.Services {
			if s.Description != nil && s.Description.InstanceName == instanceName {
				return h, s
			}
		}
	}
	return nil, nil
}

// Enumerate returns every Host and, per host, the Services matching
// filter. Hosts with zero matching services are still included with an
// empty slice so callers can see host-level state (spec.md §6).
type HostServices struct {
	Host     *Host
	Services []*Service
}

func (r *Registry) Enumerate(filter EnumFilter) []HostServices {
	hosts := r.HostsInOrder()
	out := make([]HostServices, 0, len(hosts))
	for _, h := range hosts {
		var matched []*Service
		for _, s := range h.Services {
			if s.Matches(filter) {
				matched = append(matched, s)
			}
		}
		out = append(out, HostServices{Host: h, Services: matched})
	}
	return out
}
