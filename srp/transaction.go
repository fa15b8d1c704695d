/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

import (
	"time"

	"github.com/miekg/dns"
)

// UpdateTransaction is an in-flight call to an external UpdateHandler
// (spec.md §3, §4.4). Staged is non-owning: it's the same *Host the
// parser produced, kept alive by this struct and by the Commit Engine
// call that eventually consumes it.
type UpdateTransaction struct {
	ID         uint32
	ExpireTime time.Time
	Staged     *Host
	Respond    RespondFunc

	// DirectFromClient records the directFromClient argument ProcessUpdate
	// was called with. Lease-timer expiries do not create transactions and
	// are not passed to the handler.
	DirectFromClient bool
}

// ProcessUpdate is the top-level entry point: parse, verify, grant, and
// either commit immediately or stage a transaction for the external
// handler (spec.md §4.2-§4.4). respond is called exactly once, either
// synchronously before ProcessUpdate returns or later from
// HandleServiceUpdateResult/the outstanding-updates timer.
func (s *Server) ProcessUpdate(msg *dns.Msg, raw []byte, respond RespondFunc, directFromClient bool) {
	s.mu.Lock()
	domain := s.config.Domain
	ttlCfg := s.config.Ttl
	leaseCfg := s.config.Lease
	handler := s.handler
	handlerTimeout := s.config.HandlerTimeout
	running := s.state == Running
	s.mu.Unlock()

	if !running {
		s.finish(respond, NewError(ServFail, "server not running").Code, 0, 0)
		return
	}

	host, perr := ParseUpdate(msg, domain)
	if perr != nil {
		s.finish(respond, perr.Code, 0, 0)
		return
	}

	if _, verr := VerifySignature(msg, raw, &host.KeyRecord); verr != nil {
		s.finish(respond, verr.Code, 0, 0)
		return
	}

	if verr := s.checkKeyContinuity(host); verr != nil {
		s.finish(respond, verr.Code, 0, 0)
		return
	}

	s.grantLeases(host, ttlCfg, leaseCfg)

	s.mu.Lock()
	if s.findOutstandingByHostLocked(host.LowerName()) != nil {
		s.mu.Unlock()
		s.finish(respond, ServFail, 0, 0)
		return
	}

	if handler == nil {
		s.mu.Unlock()
		rcode, lease, keyLease := s.Commit(NoError, host)
		respond(rcode, lease, keyLease)
		return
	}

	s.nextUpdateID++
	id := s.nextUpdateID
	txn := &UpdateTransaction{
		ID:               id,
		ExpireTime:       time.Now().Add(time.Duration(handlerTimeout) * time.Second),
		Staged:           host,
		Respond:          respond,
		DirectFromClient: directFromClient,
	}
	s.outstanding[id] = txn
	s.outstandingSeq = append(s.outstandingSeq, id)
	s.recomputeTimerDeadlineLocked()
	s.mu.Unlock()

	handler.HandleServiceUpdate(id, host)
}

func (s *Server) checkKeyContinuity(host *Host) *Error {
	existing := s.registry.Lookup(host.FullName)
	if existing == nil {
		return nil
	}
	if !keysEqual(existing.KeyRecord, host.KeyRecord) {
		return NewError(NotAuth, "host %s already registered with a different key", host.FullName)
	}
	return nil
}

func (s *Server) grantLeases(host *Host, ttlCfg TtlConfig, leaseCfg LeaseConfig) {
	if host.IsDeleted() {
		// explicit host delete: KEY-LEASE still needs granting so the
		// name-retention window is well-defined.
		host.KeyLease = leaseCfg.GrantKeyLease(host.KeyLease)
		host.Ttl = 0
		for _, svc := range host.Services {
			svc.Description.Lease = 0
			svc.Description.KeyLease = host.KeyLease
			svc.Description.Ttl = 0
		}
		return
	}

	requestedLease := host.Lease
	requestedKeyLease := host.KeyLease
	grantedLease := leaseCfg.GrantLease(requestedLease)
	grantedKeyLease := leaseCfg.GrantKeyLease(requestedKeyLease)
	if grantedLease > grantedKeyLease {
		grantedLease = grantedKeyLease
	}
	host.Ttl = ttlCfg.Grant(host.Ttl, grantedLease)
	host.Lease = grantedLease
	host.KeyLease = grantedKeyLease

	for _, svc := range host.Services {
		d := svc.Description
		if d.Lease != 0 || d.KeyLease != 0 {
			continue // already granted (shared description visited via an earlier sub-type)
		}
		if svc.IsDeleted {
			d.Lease = 0
			d.KeyLease = grantedKeyLease
			d.Ttl = 0
			continue
		}
		d.Lease = grantedLease
		d.KeyLease = grantedKeyLease
		d.Ttl = ttlCfg.Grant(d.Ttl, grantedLease)
	}
}

func (s *Server) findOutstandingByHostLocked(lowerName string) *UpdateTransaction {
	for _, id := range s.outstandingSeq {
		if t, ok := s.outstanding[id]; ok && t.Staged.LowerName() == lowerName {
			return t
		}
	}
	return nil
}

// HandleServiceUpdateResult is called by the external handler when it has
// a verdict for update id (spec.md §4.4 step 4). A result for an unknown
// id (already timed out, or the server was disabled meanwhile) is
// silently dropped.
func (s *Server) HandleServiceUpdateResult(id uint32, handlerErr error) {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return
	}
	txn, ok := s.outstanding[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.removeOutstandingLocked(id)
	s.mu.Unlock()

	code := AsCode(handlerErr)
	rcode, lease, keyLease := s.Commit(code, txn.Staged)
	txn.Respond(rcode, lease, keyLease)
}

func (s *Server) removeOutstandingLocked(id uint32) {
	delete(s.outstanding, id)
	for i, v := range s.outstandingSeq {
		if v == id {
			s.outstandingSeq = append(s.outstandingSeq[:i], s.outstandingSeq[i+1:]...)
			break
		}
	}
	s.recomputeTimerDeadlineLocked()
}

// SweepOutstandingTimeouts commits ResponseTimeout for every transaction
// whose ExpireTime has elapsed (spec.md §4.4 step 5). Call this from the
// single timer the daemon arms at Server.NextOutstandingDeadline().
func (s *Server) SweepOutstandingTimeouts(now time.Time) {
	s.mu.Lock()
	var expiredIDs []uint32
	for _, id := range s.outstandingSeq {
		t := s.outstanding[id]
		if t != nil && !now.Before(t.ExpireTime) {
			expiredIDs = append(expiredIDs, id)
		}
	}
	var expired []*UpdateTransaction
	for _, id := range expiredIDs {
		expired = append(expired, s.outstanding[id])
		s.removeOutstandingLocked(id)
	}
	s.mu.Unlock()

	for _, t := range expired {
		rcode, lease, keyLease := s.Commit(ResponseTimeout, t.Staged)
		t.Respond(rcode, lease, keyLease)
	}
}

func (s *Server) recomputeTimerDeadlineLocked() {
	s.hasDeadline = false
	for _, t := range s.outstanding {
		if !s.hasDeadline || t.ExpireTime.Before(s.timerDeadline) {
			s.timerDeadline = t.ExpireTime
			s.hasDeadline = true
		}
	}
}

// NextOutstandingDeadline returns the earliest ExpireTime across all
// outstanding transactions, matching spec.md §9's "maintain a single
// earliest-deadline timer rather than one per transaction".
func (s *Server) NextOutstandingDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timerDeadline, s.hasDeadline
}

func (s *Server) finish(respond RespondFunc, code Code, lease, keyLease uint32) {
	s.bumpCounter(code.Rcode())
	respond(code.Rcode(), lease, keyLease)
}
