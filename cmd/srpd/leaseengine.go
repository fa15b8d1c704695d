/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"log"
	"time"

	"github.com/stensrud/srpd/srp"
)

// LeaseEngine is the ticker-driven sweep that retires expired handler
// transactions (spec.md §4.4 step 5) and expired LEASE/KEY-LEASE entries
// (spec.md §4.6). It polls both of the Server's earliest-deadline timers
// on a 1-second tick rather than arming one-shot timers per deadline,
// matching the teacher's RefreshEngine ticker loop in refreshengine.go.
func LeaseEngine(s *srp.Server, stopch chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	log.Printf("LeaseEngine: starting")
	for {
		select {
		case <-stopch:
			log.Printf("LeaseEngine: terminating")
			return

		case now := <-ticker.C:
			if deadline, ok := s.NextOutstandingDeadline(); ok && !now.Before(deadline) {
				s.SweepOutstandingTimeouts(now)
			}
			if deadline, ok := s.NextLeaseDeadline(); ok && !now.Before(deadline) {
				s.SweepExpiredLeases(now)
			}
		}
	}
}
