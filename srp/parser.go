/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

import (
	"strings"

	"github.com/miekg/dns"
)

// LeaseOptionCode is the EDNS(0) option code carrying the LEASE/KEY-LEASE
// seconds pair in the Additional section (spec.md §6), encoded as two
// big-endian uint32s. miekg/dns unpacks this code from the wire as an
// EDNS0_UL option; a message built in memory may carry it as EDNS0_LOCAL.
const LeaseOptionCode = 2

// ParseUpdate walks a DNS UPDATE message's Zone/Prereq/Update/Additional
// sections per spec.md §4.2 and produces a staged Host representing the
// complete post-update picture of the single name the update targets. It
// does not touch the live registry and does not verify the SIG(0)
// signature — call VerifySignature separately once the staged Host's KEY
// is known (spec.md §4.2 step 8 runs after steps 1-7 have located that
// key).
//
// ParseUpdate only reads the unpacked msg; the caller keeps the raw wire
// bytes msg was unpacked from and hands them to VerifySignature.
func ParseUpdate(msg *dns.Msg, domain string) (*Host, *Error) {
	if err := checkHeader(msg); err != nil {
		return nil, err
	}
	if err := checkZone(msg, domain); err != nil {
		return nil, err
	}
	if len(msg.Answer) != 0 {
		return nil, NewError(NotImp, "prerequisite section must be empty, got %d records", len(msg.Answer))
	}

	host, err := stageHostDescription(msg)
	if err != nil {
		return nil, err
	}

	if err := stageServices(host, msg); err != nil {
		return nil, err
	}

	lease, keyLease, err := findLeaseOption(msg)
	if err != nil {
		return nil, err
	}
	host.Lease = lease
	host.KeyLease = keyLease
	if host.deleteAllMarker {
		host.Lease = 0
	}

	if err := crossCheck(host); err != nil {
		return nil, err
	}

	return host, nil
}

func checkHeader(msg *dns.Msg) *Error {
	if msg.Opcode != dns.OpcodeUpdate {
		return NewError(FormErr, "opcode %s is not UPDATE", dns.OpcodeToString[msg.Opcode])
	}
	if msg.Response {
		return NewError(FormErr, "QR bit set on a request")
	}
	if len(msg.Question) != 1 {
		return NewError(FormErr, "zone count must be 1, got %d", len(msg.Question))
	}
	return nil
}

func checkZone(msg *dns.Msg, domain string) *Error {
	q := msg.Question[0]
	if q.Qtype != dns.TypeSOA {
		return NewError(NotAuth, "zone record type must be SOA, got %s", dns.TypeToString[q.Qtype])
	}
	if q.Qclass != dns.ClassINET {
		return NewError(NotAuth, "zone record class must be IN")
	}
	if !strings.EqualFold(dns.Fqdn(q.Name), dns.Fqdn(domain)) {
		return NewError(NotAuth, "zone %s does not match configured domain %s", q.Name, domain)
	}
	return nil
}

// isDeleteAllRRsets reports whether rr is an RFC 2136 §2.5.3 "delete all
// RRsets from a name" pseudo-record: CLASS=ANY, TYPE=ANY, TTL=0, RDLENGTH=0.
func isDeleteAllRRsets(rr dns.RR) bool {
	h := rr.Header()
	if h.Class != dns.ClassANY || h.Ttl != 0 {
		return false
	}
	_, ok := rr.(*dns.ANY)
	return ok
}

// stageHostDescription finds the host's KEY record (exactly one, owner
// name becomes the staged Host's name), collects AAAA addresses at that
// name, and records whether a "delete all RRsets" pseudo-record appeared
// at the host name (spec.md §4.2 step 4).
func stageHostDescription(msg *dns.Msg) (*Host, *Error) {
	var keyRR *dns.KEY
	var keyCount int
	for _, rr := range msg.Ns {
		if k, ok := rr.(*dns.KEY); ok {
			keyCount++
			if keyCount > 1 {
				return nil, NewError(FormErr, "more than one KEY record in update section")
			}
			if k.Algorithm != dns.ECDSAP256SHA256 {
				return nil, NewError(NotImp, "unsupported KEY algorithm %d", k.Algorithm)
			}
			keyRR = k
		}
	}
	if keyRR == nil {
		return nil, NewError(FormErr, "no KEY record in update section")
	}

	host := NewStagedHost(keyRR.Hdr.Name)
	host.KeyRecord = *keyRR

	hostDeleteAll := false
	var anyAddress bool
	for _, rr := range msg.Ns {
		if !strings.EqualFold(rr.Header().Name, host.FullName) {
			continue
		}
		switch v := rr.(type) {
		case *dns.AAAA:
			anyAddress = true
			if host.AddAddress(v.AAAA) {
				host.Ttl = v.Hdr.Ttl
			}
		case *dns.KEY:
			// already consumed above
		default:
			if isDeleteAllRRsets(rr) {
				hostDeleteAll = true
			}
		}
	}

	if hostDeleteAll && !host.HasUsableAddress() {
		host.deleteAllMarker = true
	} else if !host.HasUsableAddress() {
		if anyAddress {
			// every address offered was link-local
			return nil, NewError(FormErr, "host %s has no usable (non-link-local) address", host.FullName)
		}
		if !hostDeleteAll {
			return nil, NewError(FormErr, "host %s has neither an address nor a delete-all marker", host.FullName)
		}
	}

	return host, nil
}

// isSubType reports whether serviceName has the sub-type form
// "<sub>._sub.<base>" and, if so, returns the base service name.
func isSubType(serviceName string) (base string, ok bool) {
	labels := dns.SplitDomainName(serviceName)
	for i, l := range labels {
		if strings.EqualFold(l, "_sub") && i > 0 {
			return dns.Fqdn(strings.Join(labels[i+1:], ".")), true
		}
	}
	return "", false
}

// stageServices walks the PTR (service type -> instance), SRV and TXT
// records in the update section to populate host.Services (spec.md §4.2
// steps 5-6), and applies per-instance "delete all RRsets" markers
// (service delete retaining name).
func stageServices(host *Host, msg *dns.Msg) *Error {
	type instanceInfo struct {
		serviceNames []string
		deleteAll    bool
	}
	instances := map[string]*instanceInfo{}
	order := []string{}

	for _, rr := range msg.Ns {
		ptr, ok := rr.(*dns.PTR)
		if !ok {
			continue
		}
		inst := ptr.Ptr
		info, seen := instances[inst]
		if !seen {
			info = &instanceInfo{}
			instances[inst] = info
			order = append(order, inst)
		}
		info.serviceNames = append(info.serviceNames, ptr.Hdr.Name)
	}

	for inst, info := range instances {
		for _, rr := range msg.Ns {
			if isDeleteAllRRsets(rr) && strings.EqualFold(rr.Header().Name, inst) {
				info.deleteAll = true
			}
		}
	}

	for _, inst := range order {
		info := instances[inst]
		desc, derr := buildServiceDescription(host, inst, msg)
		if derr != nil {
			return derr
		}

		for _, svcName := range info.serviceNames {
			base, sub := isSubType(svcName)
			if sub {
				if host.FindBaseService(inst) == nil && findPTRBase(msg, base, inst) == nil {
					return NewError(FormErr, "sub-type %s has no base service for instance %s in this update", svcName, inst)
				}
			}
			svc := NewService(svcName, desc, sub)
			svc.IsDeleted = info.deleteAll
			desc.Retain()
			host.Services = append(host.Services, svc)
		}
	}
	return nil
}

// findPTRBase reports whether a base (non-sub-type) PTR for inst at
// baseName exists elsewhere in this same update's service list.
func findPTRBase(msg *dns.Msg, baseName, inst string) dns.RR {
	for _, rr := range msg.Ns {
		ptr, ok := rr.(*dns.PTR)
		if !ok {
			continue
		}
		if strings.EqualFold(ptr.Hdr.Name, baseName) && strings.EqualFold(ptr.Ptr, inst) {
			return rr
		}
	}
	return nil
}

// buildServiceDescription finds the SRV (required, exactly one) and TXT
// (optional, at most one) records for instance inst and builds the shared
// ServiceDescription (spec.md §4.2 step 6).
func buildServiceDescription(host *Host, inst string, msg *dns.Msg) (*ServiceDescription, *Error) {
	if existing := host.FindServiceDescription(inst); existing != nil {
		return existing, nil
	}

	var srv *dns.SRV
	var txt *dns.TXT
	for _, rr := range msg.Ns {
		if !strings.EqualFold(rr.Header().Name, inst) {
			continue
		}
		switch v := rr.(type) {
		case *dns.SRV:
			if srv != nil {
				return nil, NewError(FormErr, "more than one SRV record for instance %s", inst)
			}
			srv = v
		case *dns.TXT:
			if txt != nil {
				return nil, NewError(FormErr, "more than one TXT record for instance %s", inst)
			}
			txt = v
		}
	}
	if srv == nil {
		return nil, NewError(FormErr, "no SRV record for instance %s", inst)
	}

	desc := NewServiceDescription(inst, host)
	desc.Priority = srv.Priority
	desc.Weight = srv.Weight
	desc.Port = srv.Port
	desc.Ttl = srv.Hdr.Ttl

	if txt != nil {
		desc.TxtData = joinTxt(txt.Txt)
	} else {
		desc.TxtData = []byte{}
	}
	return desc, nil
}

func joinTxt(strs []string) []byte {
	out := make([]byte, 0)
	for _, s := range strs {
		out = append(out, []byte(s)...)
	}
	return out
}

// findLeaseOption extracts LEASE and KEY-LEASE from the OPT record's
// LeaseOptionCode option in the Additional section (spec.md §4.2 step 7).
func findLeaseOption(msg *dns.Msg) (lease, keyLease uint32, rerr *Error) {
	opt := msg.IsEdns0()
	if opt == nil {
		return 0, 0, NewError(FormErr, "no OPT record in additional section")
	}
	for _, o := range opt.Option {
		switch v := o.(type) {
		case *dns.EDNS0_UL:
			return v.Lease, v.KeyLease, nil
		case *dns.EDNS0_LOCAL:
			if v.Code != LeaseOptionCode {
				continue
			}
			if len(v.Data) != 8 {
				return 0, 0, NewError(FormErr, "malformed LEASE option, want 8 bytes got %d", len(v.Data))
			}
			lease = be32(v.Data[0:4])
			keyLease = be32(v.Data[4:8])
			return lease, keyLease, nil
		}
	}
	return 0, 0, NewError(FormErr, "no LEASE option in OPT record")
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// crossCheck applies spec.md §4.2 step 9's final invariants that can only
// be checked once the whole staged Host is assembled.
func crossCheck(host *Host) *Error {
	if !host.IsDeleted() && !host.HasUsableAddress() {
		return NewError(FormErr, "host %s has no usable address and is not a delete", host.FullName)
	}
	seen := map[string]bool{}
	for _, s := range host.Services {
		key := s.ServiceName + "\x00" + s.Description.InstanceName
		if seen[key] {
			return NewError(FormErr, "duplicate (service_name, instance_name) pair %s/%s", s.ServiceName, s.Description.InstanceName)
		}
		seen[key] = true
	}
	return nil
}
