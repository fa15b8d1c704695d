/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

import "time"

// ServiceDescription is the shared, reference-counted per-instance
// aggregate (SRV + TXT + timing) referenced by a base Service and all of
// its sub-type aliases (spec.md §3, §9). The parser's staging step
// creates it and increments the refcount once for every staged Service
// that refers to it; Commit does not increment it when a staged Host is
// inserted or merged. The commit engine and the lease timer only
// decrement it, via Release, when a Service is removed.
type ServiceDescription struct {
	InstanceName string // full instance DNS name, the SRV owner
	Host         *Host  // non-owning back-link; cleared when Host is freed

	TxtData []byte // raw TXT RDATA, possibly empty but never nil after parse

	Priority uint16
	Weight   uint16
	Port     uint16

	Ttl        uint32
	Lease      uint32
	KeyLease   uint32
	UpdateTime time.Time

	refcount int
}

// NewServiceDescription allocates a description with a refcount of zero;
// stageServices in parser.go calls Retain once for each base or sub-type
// Service it attaches to the description.
func NewServiceDescription(instanceName string, host *Host) *ServiceDescription {
	return &ServiceDescription{InstanceName: instanceName, Host: host}
}

func (d *ServiceDescription) Retain() {
	d.refcount++
}

// Release decrements the refcount and reports whether it reached zero.
// The commit engine and the lease timer clear the description's Host
// back-link only when Release returns true.
func (d *ServiceDescription) Release() bool {
	d.refcount--
	return d.refcount <= 0
}

func (d *ServiceDescription) RefCount() int {
	return d.refcount
}

// Service represents either a base service instance or a sub-type alias
// pointing at the same instance. Owned by exactly one Host; destroyed when
// KEY-LEASE expires or the Host is removed (spec.md §3).
type Service struct {
	ServiceName string // e.g. "_ipps._tcp.default.service.arpa." or "<sub>._sub.<base>"
	Description *ServiceDescription

	IsSubType   bool
	IsDeleted   bool
	IsCommitted bool

	UpdateTime time.Time
}

func NewService(serviceName string, desc *ServiceDescription, isSubType bool) *Service {
	return &Service{ServiceName: serviceName, Description: desc, IsSubType: isSubType}
}

// EnumFilter is a bitmask used by Registry.Enumerate and the observability
// API to select which services to include (spec.md §6).
type EnumFilter uint8

const (
	FilterBaseType EnumFilter = 1 << iota
	FilterSubType
	FilterActive
	FilterDeleted
)

// Matches reports whether the service satisfies filter. A filter with no
// type bits set matches any type; likewise for the active/deleted bits.
func (s *Service) Matches(filter EnumFilter) bool {
	typeBits := filter & (FilterBaseType | FilterSubType)
	if typeBits != 0 {
		if s.IsSubType && typeBits&FilterSubType == 0 {
			return false
		}
		if !s.IsSubType && typeBits&FilterBaseType == 0 {
			return false
		}
	}
	stateBits := filter & (FilterActive | FilterDeleted)
	if stateBits != 0 {
		if s.IsDeleted && stateBits&FilterDeleted == 0 {
			return false
		}
		if !s.IsDeleted && stateBits&FilterActive == 0 {
			return false
		}
	}
	return true
}
