/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

import (
	"net"
	"testing"

	"github.com/miekg/dns"
)

// sliceSink collects emitted events for assertions, matching the teacher's
// own habit of using a tiny in-test fake instead of a mocking framework.
type sliceSink struct {
	events []Event
}

func (s *sliceSink) HandleEvent(e Event) { s.events = append(s.events, e) }

func (s *sliceSink) kinds() []EventKind {
	out := make([]EventKind, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

func testKey(name string) dns.KEY {
	return dns.KEY{
		DNSKEY: dns.DNSKEY{
			Hdr:       dns.RR_Header{Name: name},
			Algorithm: dns.ECDSAP256SHA256,
			Flags:     256,
			Protocol:  3,
			PublicKey: "abc123",
		},
	}
}

func newCommitServer() (*Server, *sliceSink) {
	s := NewServer()
	sink := &sliceSink{}
	s.SetEventSink(sink)
	return s, sink
}

func stagedHostWithService(hostName, instanceName string, lease, keyLease uint32) *Host {
	h := NewStagedHost(hostName)
	h.Lease = lease
	h.KeyLease = keyLease
	h.KeyRecord = testKey(hostName)
	h.AddAddress(net.ParseIP("2001:db8::1"))
	desc := NewServiceDescription(instanceName, h)
	desc.Lease = lease
	desc.KeyLease = keyLease
	svc := NewService("_ipps._tcp.default.service.arpa.", desc, false)
	desc.Retain()
	h.Services = append(h.Services, svc)
	return h
}

func TestCommitInsertsFreshHost(t *testing.T) {
	s, sink := newCommitServer()
	staged := stagedHostWithService("printer.default.service.arpa.", "myprinter._ipps._tcp.default.service.arpa.", 3600, 86400)

	rcode, lease, keyLease := s.Commit(NoError, staged)
	if rcode != dns.RcodeSuccess {
		t.Fatalf("Commit() rcode = %d, want RcodeSuccess", rcode)
	}
	if lease != 3600 || keyLease != 86400 {
		t.Errorf("Commit() lease/keyLease = %d/%d, want 3600/86400", lease, keyLease)
	}
	if s.Registry().Count() != 1 {
		t.Fatalf("Registry().Count() = %d, want 1", s.Registry().Count())
	}

	kinds := sink.kinds()
	if len(kinds) != 2 || kinds[0] != HostAdded || kinds[1] != ServiceAdded {
		t.Errorf("events = %v, want [HostAdded ServiceAdded]", kinds)
	}
}

func TestCommitMergesExistingHost(t *testing.T) {
	s, _ := newCommitServer()
	first := stagedHostWithService("printer.default.service.arpa.", "myprinter._ipps._tcp.default.service.arpa.", 3600, 86400)
	s.Commit(NoError, first)

	sink := &sliceSink{}
	s.SetEventSink(sink)

	second := stagedHostWithService("printer.default.service.arpa.", "myprinter._ipps._tcp.default.service.arpa.", 1800, 86400)
	second.Services[0].Description.Port = 9999
	rcode, lease, _ := s.Commit(NoError, second)
	if rcode != dns.RcodeSuccess {
		t.Fatalf("Commit() rcode = %d, want RcodeSuccess", rcode)
	}
	if lease != 1800 {
		t.Errorf("Commit() lease = %d, want 1800", lease)
	}

	existing := s.Registry().Lookup("printer.default.service.arpa.")
	if existing.Lease != 1800 {
		t.Errorf("existing.Lease = %d, want 1800", existing.Lease)
	}
	if existing.Services[0].Description.Port != 9999 {
		t.Errorf("existing Service Port = %d, want 9999", existing.Services[0].Description.Port)
	}

	kinds := sink.kinds()
	if len(kinds) != 2 || kinds[0] != ServiceUpdated || kinds[1] != HostUpdated {
		t.Errorf("events = %v, want [ServiceUpdated HostUpdated]", kinds)
	}
}

func TestCommitDeletesHost(t *testing.T) {
	s, _ := newCommitServer()
	first := stagedHostWithService("printer.default.service.arpa.", "myprinter._ipps._tcp.default.service.arpa.", 3600, 86400)
	s.Commit(NoError, first)

	sink := &sliceSink{}
	s.SetEventSink(sink)

	del := NewStagedHost("printer.default.service.arpa.")
	del.Lease = 0
	del.KeyLease = 172800
	del.KeyRecord = testKey("printer.default.service.arpa.")
	rcode, lease, keyLease := s.Commit(NoError, del)
	if rcode != dns.RcodeSuccess {
		t.Fatalf("Commit() rcode = %d, want RcodeSuccess", rcode)
	}
	if lease != 0 || keyLease != 172800 {
		t.Errorf("Commit() lease/keyLease = %d/%d, want 0/172800", lease, keyLease)
	}

	existing := s.Registry().Lookup("printer.default.service.arpa.")
	if existing == nil {
		t.Fatal("Lookup() returned nil, want retained deleted host")
	}
	if !existing.IsDeleted() {
		t.Error("IsDeleted() = false, want true")
	}
	if existing.KeyLease != 172800 {
		t.Errorf("existing.KeyLease = %d, want 172800", existing.KeyLease)
	}
	if !existing.Services[0].IsDeleted {
		t.Error("existing service IsDeleted = false, want true")
	}

	kinds := sink.kinds()
	if len(kinds) != 2 || kinds[0] != HostRemoved || kinds[1] != ServiceRemoved {
		t.Errorf("events = %v, want [HostRemoved ServiceRemoved]", kinds)
	}
}

func TestCommitRejectsInstanceConflict(t *testing.T) {
	s, _ := newCommitServer()
	first := stagedHostWithService("printer.default.service.arpa.", "myprinter._ipps._tcp.default.service.arpa.", 3600, 86400)
	s.Commit(NoError, first)

	intruder := stagedHostWithService("otherhost.default.service.arpa.", "myprinter._ipps._tcp.default.service.arpa.", 3600, 86400)
	intruder.KeyRecord = testKey("otherhost.default.service.arpa.")
	intruder.KeyRecord.PublicKey = "different-key-material"

	rcode, lease, keyLease := s.Commit(NoError, intruder)
	if rcode != dns.RcodeNotAuth {
		t.Errorf("Commit() rcode = %d, want RcodeNotAuth", rcode)
	}
	if lease != 0 || keyLease != 0 {
		t.Errorf("Commit() lease/keyLease = %d/%d, want 0/0 on rejection", lease, keyLease)
	}
	if s.Registry().Count() != 1 {
		t.Errorf("Registry().Count() = %d, want 1 (intruder not committed)", s.Registry().Count())
	}
}

func TestCommitReassignsMovedInstanceUnderSameKey(t *testing.T) {
	s, _ := newCommitServer()
	first := stagedHostWithService("printer.default.service.arpa.", "myprinter._ipps._tcp.default.service.arpa.", 3600, 86400)
	s.Commit(NoError, first)

	mover := stagedHostWithService("printer2.default.service.arpa.", "myprinter._ipps._tcp.default.service.arpa.", 3600, 86400)
	mover.KeyRecord = testKey("printer.default.service.arpa.") // same key material as "first"

	rcode, _, _ := s.Commit(NoError, mover)
	if rcode != dns.RcodeSuccess {
		t.Fatalf("Commit() rcode = %d, want RcodeSuccess", rcode)
	}

	oldHost := s.Registry().Lookup("printer.default.service.arpa.")
	if len(oldHost.Services) != 0 {
		t.Errorf("old host retains %d services, want 0 after instance move", len(oldHost.Services))
	}
	newHost := s.Registry().Lookup("printer2.default.service.arpa.")
	if len(newHost.Services) != 1 {
		t.Errorf("new host has %d services, want 1 after instance move", len(newHost.Services))
	}
}

func TestCommitPassesThroughFailureCode(t *testing.T) {
	s, _ := newCommitServer()
	rcode, lease, keyLease := s.Commit(NotAuth, stagedHostWithService("printer.default.service.arpa.", "myprinter._ipps._tcp.default.service.arpa.", 3600, 86400))
	if rcode != dns.RcodeNotAuth {
		t.Errorf("Commit() rcode = %d, want RcodeNotAuth", rcode)
	}
	if lease != 0 || keyLease != 0 {
		t.Errorf("Commit() lease/keyLease = %d/%d, want 0/0", lease, keyLease)
	}
	if s.Registry().Count() != 0 {
		t.Errorf("Registry().Count() = %d, want 0 (no mutation on failure)", s.Registry().Count())
	}
	if s.Counters()[dns.RcodeNotAuth] != 1 {
		t.Errorf("Counters()[RcodeNotAuth] = %d, want 1", s.Counters()[dns.RcodeNotAuth])
	}
}
