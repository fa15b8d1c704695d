/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

import (
	"crypto/rand"
	"encoding/binary"
)

// LifecycleState is the Disabled/Running/Stopped state machine of
// spec.md §4.1.
type LifecycleState int

const (
	Disabled LifecycleState = iota
	Running
	Stopped
)

func (s LifecycleState) String() string {
	switch s {
	case Disabled:
		return "Disabled"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// PortSelector publishes the listening port the Server chooses on every
// Stopped->Running transition. In unicast mode the Server picks a random
// port in [kUdpPortMin, kUdpPortMax] and hands it to PublishUnicast
// (network data publisher, spec.md §4.1); in anycast mode the port is
// fixed at 53 and the sequence number goes to PublishAnycast instead. Both forms of "publish" are
// external collaborators reached through this interface so srp itself has
// no network-data dependency.
type PortSelector interface {
	PublishUnicast(port uint16)
	PublishAnycast(sequenceNumber uint8)
}

type noopPublisher struct{}

func (noopPublisher) PublishUnicast(uint16) {}
func (noopPublisher) PublishAnycast(uint8)  {}

// Preconditions reports whether the network/routing state required to run
// is currently satisfied (spec.md §4.1: "if the network/routing
// preconditions are met"). The border-routing collaborator that knows this
// is external; srp just asks.
type Preconditions interface {
	Ready() bool
}

type alwaysReady struct{}

func (alwaysReady) Ready() bool { return true }

// SetEnabled implements the Disabled<->Stopped<->Running transitions of
// spec.md §4.1. Calling SetEnabled, with either value, clears
// Config.AutoEnable.
func (s *Server) SetEnabled(enabled bool, pub PortSelector, pre Preconditions) {
	if pub == nil {
		pub = noopPublisher{}
	}
	if pre == nil {
		pre = alwaysReady{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.config.AutoEnable = false

	if !enabled {
		s.disableLocked()
		return
	}

	if s.state != Disabled {
		return
	}
	s.state = Stopped
	s.aborted = false
	s.tryStartLocked(pub, pre)
}

// NotePreconditionsChanged re-evaluates whether a Running server should
// drop to Stopped, or a Stopped one should come up, without touching
// registry state either way (spec.md §4.1: "Loss of preconditions ...
// moves Running -> Stopped without wiping state").
func (s *Server) NotePreconditionsChanged(pub PortSelector, pre Preconditions) {
	if pub == nil {
		pub = noopPublisher{}
	}
	if pre == nil {
		pre = alwaysReady{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Running:
		if !pre.Ready() {
			s.state = Stopped
		}
	case Stopped:
		s.tryStartLocked(pub, pre)
	}
}

func (s *Server) tryStartLocked(pub PortSelector, pre Preconditions) {
	if s.state != Stopped || !pre.Ready() {
		return
	}
	switch s.config.AddressMode {
	case Anycast:
		s.port = kAnycastPort
		pub.PublishAnycast(s.config.AnycastSequenceNumber)
	default:
		s.port = randomUnicastPort()
		pub.PublishUnicast(s.port)
	}
	s.state = Running
}

func (s *Server) disableLocked() {
	s.state = Disabled
	s.aborted = true
	s.registry.Clear()
	s.outstanding = make(map[uint32]*UpdateTransaction)
	s.outstandingSeq = nil
	s.hasDeadline = false
	s.hasLeaseDeadline = false
	s.port = 0
}

func randomUnicastPort() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return kUdpPortMin
	}
	span := uint32(kUdpPortMax - kUdpPortMin + 1)
	return uint16(kUdpPortMin) + uint16(binary.BigEndian.Uint16(buf[:])%uint16(span))
}

// SetDomain, SetAddressMode, SetAnycastModeSequenceNumber, SetTtlConfig and
// SetLeaseConfig all fail with InvalidState while Running (spec.md §4.1).

func (s *Server) requireDisabledLocked() *Error {
	if s.state == Running {
		return NewError(InvalidState, "configuration cannot change while Running")
	}
	return nil
}

func (s *Server) SetDomain(domain string) *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireDisabledLocked(); err != nil {
		return err
	}
	cfg := s.config
	cfg.Domain = domain
	if err := cfg.Validate(); err != nil {
		return NewError(InvalidArgs, "%v", err)
	}
	s.config = cfg
	return nil
}

func (s *Server) SetAddressMode(mode AddressMode) *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireDisabledLocked(); err != nil {
		return err
	}
	s.config.AddressMode = mode
	return nil
}

func (s *Server) SetAnycastModeSequenceNumber(seq uint8) *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireDisabledLocked(); err != nil {
		return err
	}
	s.config.AnycastSequenceNumber = seq
	return nil
}

func (s *Server) SetTtlConfig(t TtlConfig) *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireDisabledLocked(); err != nil {
		return err
	}
	if !t.Valid() {
		return NewError(InvalidArgs, "invalid ttl config: %+v", t)
	}
	s.config.Ttl = t
	return nil
}

func (s *Server) SetLeaseConfig(l LeaseConfig) *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireDisabledLocked(); err != nil {
		return err
	}
	if !l.Valid() {
		return NewError(InvalidArgs, "invalid lease config: %+v", l)
	}
	s.config.Lease = l
	return nil
}
