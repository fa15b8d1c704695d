/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

import (
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Host represents one registered host name. A Host owns its Services;
// Services share a ServiceDescription by non-owning reference. Host is
// built in two phases: the parser builds a *staged* Host representing the
// complete post-update picture of a single name (spec.md §4.2), and the
// commit engine is the only code allowed to promote a staged Host into the
// live Registry or merge it into an existing one (spec.md §4.5).
type Host struct {
	FullName   string // fully-qualified, dot-terminated, original case preserved
	Addresses  []net.IP
	KeyRecord  dns.KEY
	Ttl        uint32
	Lease      uint32 // seconds; 0 means "deleted, name retained"
	KeyLease   uint32 // seconds
	UpdateTime time.Time

	Services []*Service

	// deleteAllMarker records that the update carried an explicit RFC 2136
	// §2.5.3 "delete all RRsets" pseudo-record at the host name, forcing
	// Lease to 0 regardless of what the LEASE option requested (spec.md
	// §4.2: "Delete all RRsets at the host name WITHOUT an AAAA addition
	// means full host delete").
	deleteAllMarker bool
}

// NewStagedHost allocates an empty staged Host for fullName. The parser
// fills in addresses/key/services as it walks the update message.
func NewStagedHost(fullName string) *Host {
	return &Host{FullName: fullName}
}

// LowerName returns the case-folded form used for registry lookups and
// uniqueness checks (spec.md §3: "case-insensitive DNS compare").
func (h *Host) LowerName() string {
	return strings.ToLower(h.FullName)
}

// IsDeleted reports whether the host is in the "deleted but name retained"
// state (spec.md §3: Lease == 0).
func (h *Host) IsDeleted() bool {
	return h.Lease == 0
}

// AddAddress appends addr to the host's address set, silently dropping
// link-local addresses as required by spec.md §3/§4.2 step 9. It returns
// false if addr was rejected.
func (h *Host) AddAddress(addr net.IP) bool {
	if addr == nil || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
		return false
	}
	h.Addresses = append(h.Addresses, addr)
	return true
}

// HasUsableAddress reports whether the host has at least one non-link-local
// address, i.e. AddAddress accepted something.
func (h *Host) HasUsableAddress() bool {
	return len(h.Addresses) > 0
}

// FindService returns the Service on this host with the given service name
// and instance name, or nil. Per spec.md §3 the pair (service_name,
// instance_name) is unique within a Host.
func (h *Host) FindService(serviceName, instanceName string) *Service {
	for _, s := range h.Services {
		if s.ServiceName == serviceName && s.Description != nil && s.Description.InstanceName == instanceName {
			return s
		}
	}
	return nil
}

// FindServiceDescription returns the ServiceDescription already present on
// this host for instanceName, or nil. Sub-type Services attach to the same
// description as their base (spec.md §4.2 step 5).
func (h *Host) FindServiceDescription(instanceName string) *ServiceDescription {
	for _, s := range h.Services {
		if s.Description != nil && s.Description.InstanceName == instanceName {
			return s.Description
		}
	}
	return nil
}

// FindBaseService returns the non-sub-type Service on this host whose
// instance matches instanceName, or nil. Used to validate that a sub-type
// PTR references an existing base within the same update (spec.md §4.2
// step 9).
func (h *Host) FindBaseService(instanceName string) *Service {
	for _, s := range h.Services {
		if !s.IsSubType && s.Description != nil && s.Description.InstanceName == instanceName {
			return s
		}
	}
	return nil
}

// MarkAllServicesDeleted flags every service on the host as deleted,
// retaining their names (spec.md §3: "If a Host is deleted, all its
// Services are marked deleted").
func (h *Host) MarkAllServicesDeleted() {
	for _, s := range h.Services {
		s.IsDeleted = true
	}
}

// MaxServiceKeyLease returns the largest KeyLease carried by any service
// still on the host. Used to re-widen the host's own KeyLease after a
// merge touches only some of a host's services, so a service whose
// KeyLease was granted on an earlier, longer-lived update can never
// outlive the host record itself (spec.md §3: "service.key_lease <=
// host.key_lease").
func (h *Host) MaxServiceKeyLease() uint32 {
	var max uint32
	for _, s := range h.Services {
		if s.Description != nil && s.Description.KeyLease > max {
			max = s.Description.KeyLease
		}
	}
	return max
}
