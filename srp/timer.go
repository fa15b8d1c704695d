/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

import "time"

// leaseDeadline returns the absolute time a registered entity's lease (or
// key-lease, when it has already been marked deleted) runs out, from the
// UpdateTime/Lease pair the commit engine stamped on it.
func leaseDeadline(updateTime time.Time, lease uint32) time.Time {
	return updateTime.Add(time.Duration(lease) * time.Second)
}

// recomputeLeaseDeadlineLocked scans every live Host and Service and keeps
// the earliest upcoming LEASE or KEY-LEASE expiry in s.leaseDeadline, so the
// daemon can arm a single timer rather than one per entity (spec.md §4.6,
// mirroring the same earliest-deadline pattern as the outstanding-update
// timer in transaction.go).
func (s *Server) recomputeLeaseDeadlineLocked() {
	s.hasLeaseDeadline = false
	note := func(t time.Time) {
		if !s.hasLeaseDeadline || t.Before(s.leaseDeadline) {
			s.leaseDeadline = t
			s.hasLeaseDeadline = true
		}
	}

	for _, h := range s.registry.HostsInOrder() {
		note(leaseDeadline(h.UpdateTime, h.KeyLease))
		if !h.IsDeleted() {
			note(leaseDeadline(h.UpdateTime, h.Lease))
		}
		for _, svc := range h.Services {
			d := svc.Description
			note(leaseDeadline(d.UpdateTime, d.KeyLease))
			if !svc.IsDeleted {
				note(leaseDeadline(d.UpdateTime, d.Lease))
			}
		}
	}
}

// NextLeaseDeadline returns the earliest upcoming LEASE/KEY-LEASE expiry
// across the whole registry, or ok=false if nothing is registered.
func (s *Server) NextLeaseDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaseDeadline, s.hasLeaseDeadline
}

// SweepExpiredLeases is the Lease Timer of spec.md §4.6. Call it whenever
// NextLeaseDeadline has passed. It walks hosts in registry insertion order
// and, within a host, services in list order, processing LEASE expiry
// before KEY-LEASE expiry for the same entity as the tie-break spec.md §4.6
// requires for simultaneous deadlines.
func (s *Server) SweepExpiredLeases(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toRemove []string
	for _, h := range s.registry.HostsInOrder() {
		s.sweepHostServicesLocked(h, now)

		if !h.IsDeleted() && !now.Before(leaseDeadline(h.UpdateTime, h.Lease)) {
			h.Lease = 0
			h.MarkAllServicesDeleted()
			s.emit(Event{Kind: LeaseExpired, HostName: h.FullName})
			s.emit(Event{Kind: HostRemoved, HostName: h.FullName})
		}

		if h.IsDeleted() && !now.Before(leaseDeadline(h.UpdateTime, h.KeyLease)) && len(h.Services) == 0 {
			toRemove = append(toRemove, h.FullName)
			s.emit(Event{Kind: KeyLeaseExpired, HostName: h.FullName})
		}
	}

	for _, name := range toRemove {
		s.registry.Remove(name)
	}

	s.recomputeLeaseDeadlineLocked()
}

// sweepHostServicesLocked expires and then frees h's services in place,
// removing freed entries from h.Services so a host whose last service just
// freed is immediately eligible for the host-level KEY-LEASE check above.
func (s *Server) sweepHostServicesLocked(h *Host, now time.Time) {
	kept := h.Services[:0]
	for _, svc := range h.Services {
		d := svc.Description

		if !svc.IsDeleted && !now.Before(leaseDeadline(d.UpdateTime, d.Lease)) {
			svc.IsDeleted = true
			s.emit(Event{Kind: LeaseExpired, HostName: h.FullName, ServiceName: svc.ServiceName})
			s.emit(Event{Kind: ServiceRemoved, HostName: h.FullName, ServiceName: svc.ServiceName})
		}

		if svc.IsDeleted && !now.Before(leaseDeadline(d.UpdateTime, d.KeyLease)) {
			s.emit(Event{Kind: KeyLeaseExpired, HostName: h.FullName, ServiceName: svc.ServiceName})
			if d.Release() {
				d.Host = nil
			}
			continue // drop from kept: service instance is freed
		}

		kept = append(kept, svc)
	}
	h.Services = kept
}
