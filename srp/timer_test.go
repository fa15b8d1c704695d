/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

import (
	"net"
	"testing"
	"time"
)

// buildHost stages a Host with a single service instance, letting host and
// service carry independent LEASE/KEY-LEASE values so tests can expire one
// without the other (unlike the granting path, Commit performs no clamping
// or host/service lease coupling).
func buildHost(hostName, instanceName string, hostLease, hostKeyLease, svcLease, svcKeyLease uint32) *Host {
	h := NewStagedHost(hostName)
	h.Lease = hostLease
	h.KeyLease = hostKeyLease
	h.KeyRecord = testKey(hostName)
	h.AddAddress(net.ParseIP("2001:db8::1"))
	desc := NewServiceDescription(instanceName, h)
	desc.Lease = svcLease
	desc.KeyLease = svcKeyLease
	svc := NewService("_ipps._tcp.default.service.arpa.", desc, false)
	desc.Retain()
	h.Services = append(h.Services, svc)
	return h
}

// commitAndBackdate commits staged, then rewrites UpdateTime throughout so
// the lease timer sees it as having been registered at updateTime instead
// of the current instant.
func commitAndBackdate(s *Server, staged *Host, updateTime time.Time) *Host {
	s.Commit(NoError, staged)
	h := s.Registry().Lookup(staged.FullName)
	h.UpdateTime = updateTime
	for _, svc := range h.Services {
		svc.UpdateTime = updateTime
		svc.Description.UpdateTime = updateTime
	}
	s.recomputeLeaseDeadlineLocked()
	return h
}

func TestSweepExpiredLeasesServiceLease(t *testing.T) {
	s, sink := newCommitServer()
	now := time.Now()
	staged := buildHost("printer.default.service.arpa.", "myprinter._ipps._tcp.default.service.arpa.", 10000, 20000, 100, 20000)
	h := commitAndBackdate(s, staged, now.Add(-200*time.Second))

	s.SweepExpiredLeases(now)

	if !h.Services[0].IsDeleted {
		t.Error("service IsDeleted = false, want true after LEASE expiry")
	}
	if h.IsDeleted() {
		t.Error("host IsDeleted = true, want false (only the service lease expired)")
	}

	var found bool
	for _, e := range sink.events {
		if e.Kind == LeaseExpired && e.ServiceName != "" {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %v, want a service-level LeaseExpired", sink.events)
	}
}

func TestSweepExpiredLeasesServiceKeyLease(t *testing.T) {
	s, _ := newCommitServer()
	now := time.Now()
	staged := buildHost("printer.default.service.arpa.", "myprinter._ipps._tcp.default.service.arpa.", 10000, 20000, 100, 200)
	h := commitAndBackdate(s, staged, now.Add(-300*time.Second))

	s.SweepExpiredLeases(now)

	if len(h.Services) != 0 {
		t.Errorf("len(Services) = %d, want 0 after KEY-LEASE expiry frees the instance", len(h.Services))
	}
}

func TestSweepExpiredLeasesHostLease(t *testing.T) {
	s, sink := newCommitServer()
	now := time.Now()
	staged := buildHost("printer.default.service.arpa.", "myprinter._ipps._tcp.default.service.arpa.", 100, 20000, 10000, 20000)
	h := commitAndBackdate(s, staged, now.Add(-200*time.Second))

	s.SweepExpiredLeases(now)

	if !h.IsDeleted() {
		t.Error("host IsDeleted = false, want true after LEASE expiry")
	}
	if !h.Services[0].IsDeleted {
		t.Error("MarkAllServicesDeleted did not run: service still active after host LEASE expiry")
	}

	var sawHostRemoved bool
	for _, e := range sink.events {
		if e.Kind == HostRemoved {
			sawHostRemoved = true
		}
	}
	if !sawHostRemoved {
		t.Errorf("events = %v, want a HostRemoved", sink.events)
	}
	if s.Registry().Lookup("printer.default.service.arpa.") == nil {
		t.Error("Lookup() returned nil, want name retained through KEY-LEASE window")
	}
}

func TestSweepExpiredLeasesHostKeyLease(t *testing.T) {
	s, sink := newCommitServer()
	now := time.Now()
	staged := buildHost("printer.default.service.arpa.", "myprinter._ipps._tcp.default.service.arpa.", 100, 200, 100, 200)
	commitAndBackdate(s, staged, now.Add(-300*time.Second))

	s.SweepExpiredLeases(now)

	if s.Registry().Lookup("printer.default.service.arpa.") != nil {
		t.Error("Lookup() found a host whose KEY-LEASE (and last service's KEY-LEASE) both elapsed")
	}

	var sawKeyLeaseExpired bool
	for _, e := range sink.events {
		if e.Kind == KeyLeaseExpired && e.HostName == "printer.default.service.arpa." && e.ServiceName == "" {
			sawKeyLeaseExpired = true
		}
	}
	if !sawKeyLeaseExpired {
		t.Errorf("events = %v, want a host-level KeyLeaseExpired", sink.events)
	}
}

func TestRecomputeLeaseDeadlinePicksEarliest(t *testing.T) {
	s, _ := newCommitServer()
	now := time.Now()
	commitAndBackdate(s, buildHost("a.default.service.arpa.", "insta._ipps._tcp.default.service.arpa.", 1000, 20000, 1000, 20000), now)
	commitAndBackdate(s, buildHost("b.default.service.arpa.", "instb._ipps._tcp.default.service.arpa.", 100, 20000, 100, 20000), now)

	deadline, ok := s.NextLeaseDeadline()
	if !ok {
		t.Fatal("NextLeaseDeadline() ok = false, want true")
	}
	want := now.Add(100 * time.Second)
	if !deadline.Equal(want) {
		t.Errorf("NextLeaseDeadline() = %v, want %v (host b's shorter LEASE)", deadline, want)
	}
}
