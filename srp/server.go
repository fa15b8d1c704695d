/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

import (
	"sync"
	"time"
)

// UpdateHandler is the optional external collaborator consulted after an
// update parses and verifies successfully (spec.md §4.4). It MUST
// eventually call Server.HandleServiceUpdateResult(id, err) exactly once
// for every id it is handed, or the transaction will time out.
type UpdateHandler interface {
	HandleServiceUpdate(id uint32, host *Host)
}

// UpdateHandlerFunc adapts a function to an UpdateHandler.
type UpdateHandlerFunc func(id uint32, host *Host)

func (f UpdateHandlerFunc) HandleServiceUpdate(id uint32, host *Host) { f(id, host) }

// RespondFunc is how the Commit Engine and the handler-timeout path send
// the DNS response for one transaction; it is supplied by the caller of
// ProcessUpdate (the UDP layer) and is opaque to srp. granted is zero for
// error responses.
type RespondFunc func(rcode int, grantedLease, grantedKeyLease uint32)

// Server ties together the Registry, the lease/ttl configuration, the
// outstanding-update transaction table and the lifecycle state machine.
// Every public method that mutates state is meant to be called from a
// single event loop goroutine (spec.md §5); the mutex exists only so the
// read-only observability accessors (State, Port, Config, Counters) can be
// called safely from an HTTP handler goroutine without the event loop
// needing to know about it.
type Server struct {
	mu sync.Mutex

	state    LifecycleState
	config   Config
	registry *Registry
	events   EventSink

	handler        UpdateHandler
	nextUpdateID   uint32
	outstanding    map[uint32]*UpdateTransaction
	outstandingSeq []uint32 // insertion order, for deterministic sweep
	aborted        bool     // set by Disable while a handler callback is in flight

	port                  uint16
	anycastSequenceNumber uint8

	counters map[int]uint64 // dns.Rcode -> count

	timerDeadline time.Time
	hasDeadline   bool

	leaseDeadline    time.Time
	hasLeaseDeadline bool
}

func NewServer() *Server {
	return &Server{
		state:       Disabled,
		config:      DefaultConfig(),
		registry:    NewRegistry(),
		events:      discardSink{},
		outstanding: make(map[uint32]*UpdateTransaction),
		counters:    make(map[int]uint64),
	}
}

func (s *Server) SetEventSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink == nil {
		sink = discardSink{}
	}
	s.events = sink
}

func (s *Server) SetHandler(h UpdateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func (s *Server) State() LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) Port() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Counters returns a snapshot of per-RCODE response totals (spec.md §6).
func (s *Server) Counters() map[int]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]uint64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// ResetCounters zeroes the per-RCODE response totals without touching the
// registry or lifecycle state, for the daemon's SIGHUP hot-apply path
// (spec.md §4.1 still requires Disabled for anything else).
func (s *Server) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[int]uint64)
}

func (s *Server) bumpCounter(rcode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[rcode]++
}

func (s *Server) emit(e Event) {
	s.events.HandleEvent(e)
}
