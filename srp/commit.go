/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

import "time"

// Commit applies (or discards) a staged Host according to code, per the
// Commit Engine design in spec.md §4.5. It is the only place that mutates
// the live Registry outside of the Lease Timer's sweep, and it is called
// from both the synchronous no-handler path and the handler-result /
// timeout paths in transaction.go.
//
// Returns the RCODE to send and the LEASE/KEY-LEASE to echo in the
// response OPT record (both zero on any non-success RCODE).
func (s *Server) Commit(code Code, staged *Host) (rcode int, lease, keyLease uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code != NoError {
		s.counters[code.Rcode()]++
		return code.Rcode(), 0, 0
	}

	if conflict := s.checkInstanceConflictsLocked(staged); conflict != nil {
		s.counters[conflict.Code.Rcode()]++
		return conflict.Code.Rcode(), 0, 0
	}

	s.reassignMovedInstancesLocked(staged)

	now := time.Now()
	staged.UpdateTime = now
	for _, svc := range staged.Services {
		svc.UpdateTime = now
		svc.Description.UpdateTime = now
	}

	existing := s.registry.Lookup(staged.FullName)
	switch {
	case existing == nil && staged.Lease > 0:
		s.registry.Insert(staged)
		s.emit(Event{Kind: HostAdded, HostName: staged.FullName})
		for _, svc := range staged.Services {
			s.emit(Event{Kind: ServiceAdded, HostName: staged.FullName, ServiceName: svc.ServiceName})
		}

	case existing != nil && staged.Lease > 0:
		s.mergeHostLocked(existing, staged)
		s.emit(Event{Kind: HostUpdated, HostName: existing.FullName})

	case existing != nil && staged.Lease == 0:
		s.deleteHostLocked(existing, staged)

	default:
		// staged.Lease == 0 and the host never existed: nothing to delete.
	}

	s.recomputeLeaseDeadlineLocked()

	rcode = NoError.Rcode()
	s.counters[rcode]++
	return rcode, staged.Lease, staged.KeyLease
}

// checkInstanceConflictsLocked implements spec.md §4.5 step 1: reject with
// NotAuth if another Host already owns one of staged's instance names
// under a different key.
func (s *Server) checkInstanceConflictsLocked(staged *Host) *Error {
	for _, svc := range staged.Services {
		owner, _ := s.registry.FindServiceOwner(svc.Description.InstanceName)
		if owner == nil || owner.LowerName() == staged.LowerName() {
			continue
		}
		if !keysEqual(owner.KeyRecord, staged.KeyRecord) {
			return NewError(NotAuth, "instance %s already owned by %s under a different key",
				svc.Description.InstanceName, owner.FullName)
		}
	}
	return nil
}

// reassignMovedInstancesLocked removes, from any *other* Host, every
// service instance that staged is about to claim (already proven
// same-key-owned by checkInstanceConflictsLocked).
func (s *Server) reassignMovedInstancesLocked(staged *Host) {
	for _, svc := range staged.Services {
		owner, ownerSvc := s.registry.FindServiceOwner(svc.Description.InstanceName)
		if owner == nil || owner.LowerName() == staged.LowerName() {
			continue
		}
		s.removeServiceFromHostLocked(owner, ownerSvc)
		s.emit(Event{Kind: ServiceRemoved, HostName: owner.FullName, ServiceName: ownerSvc.ServiceName})
	}
}

// mergeHostLocked implements spec.md §4.5 step 2's merge case: addresses
// are replaced wholesale, services are merged in by instance_name, and
// services not mentioned in staged remain untouched unless staged
// explicitly deletes them.
func (s *Server) mergeHostLocked(existing, staged *Host) {
	existing.Addresses = staged.Addresses
	existing.KeyRecord = staged.KeyRecord
	existing.Ttl = staged.Ttl
	existing.Lease = staged.Lease
	existing.KeyLease = staged.KeyLease
	existing.UpdateTime = staged.UpdateTime

	for _, incoming := range staged.Services {
		existingSvc := existing.FindService(incoming.ServiceName, incoming.Description.InstanceName)
		if existingSvc == nil {
			incoming.Description.Host = existing
			existing.Services = append(existing.Services, incoming)
			s.emit(Event{Kind: ServiceAdded, HostName: existing.FullName, ServiceName: incoming.ServiceName})
			continue
		}
		if incoming.IsDeleted {
			existingSvc.IsDeleted = true
			s.emit(Event{Kind: ServiceRemoved, HostName: existing.FullName, ServiceName: existingSvc.ServiceName})
			continue
		}
		existingSvc.Description.Priority = incoming.Description.Priority
		existingSvc.Description.Weight = incoming.Description.Weight
		existingSvc.Description.Port = incoming.Description.Port
		existingSvc.Description.TxtData = incoming.Description.TxtData
		existingSvc.Description.Ttl = incoming.Description.Ttl
		existingSvc.Description.Lease = incoming.Description.Lease
		existingSvc.Description.KeyLease = incoming.Description.KeyLease
		existingSvc.Description.UpdateTime = incoming.Description.UpdateTime
		existingSvc.UpdateTime = incoming.UpdateTime
		existingSvc.IsCommitted = true
		s.emit(Event{Kind: ServiceUpdated, HostName: existing.FullName, ServiceName: existingSvc.ServiceName})
	}

	// A partial merge only grants fresh leases to the services staged in
	// this update; any service left untouched keeps whatever KeyLease an
	// earlier update granted it. Widen the host's own KeyLease to cover
	// it so the invariant in spec.md §3 holds even when the two diverge.
	if max := existing.MaxServiceKeyLease(); max > existing.KeyLease {
		existing.KeyLease = max
	}
}

// deleteHostLocked implements spec.md §4.5 step 2's delete case: the host
// and all its services move to the deleted-but-retained state; KEY-LEASE
// keeps the name reserved. staged carries the freshly granted KeyLease
// (grantLeases already clamped it for the delete path) which replaces
// existing's stale values.
func (s *Server) deleteHostLocked(existing, staged *Host) {
	existing.Lease = 0
	existing.KeyLease = staged.KeyLease
	existing.Ttl = 0
	existing.UpdateTime = staged.UpdateTime
	existing.MarkAllServicesDeleted()
	for _, svc := range existing.Services {
		svc.Description.Lease = 0
		svc.Description.KeyLease = staged.KeyLease
		svc.Description.Ttl = 0
		svc.Description.UpdateTime = staged.UpdateTime
		svc.UpdateTime = staged.UpdateTime
	}
	s.emit(Event{Kind: HostRemoved, HostName: existing.FullName})
	for _, svc := range existing.Services {
		s.emit(Event{Kind: ServiceRemoved, HostName: existing.FullName, ServiceName: svc.ServiceName})
	}
}

// removeServiceFromHostLocked detaches svc from host, releasing its shared
// description when the last referrer is gone.
func (s *Server) removeServiceFromHostLocked(host *Host, svc *Service) {
	for i, s2 := range host.Services {
		if s2 == svc {
			host.Services = append(host.Services[:i], host.Services[i+1:]...)
			break
		}
	}
	if svc.Description != nil && svc.Description.Release() {
		svc.Description.Host = nil
	}
}
