/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"log"

	"github.com/stensrud/srpd/srp"
)

// DNSSDResponder stands in for the companion mDNS/DNS-SD responder that
// spec.md §1 describes as the consumer of srp's events: it would publish
// or withdraw records as hosts and services come and go. Lacking that
// collaborator, srpd just logs what it would have told it, grounded on
// the teacher's Notifier in logging.go/notify.go which the same way logs
// every notification it would otherwise have shipped out.
type DNSSDResponder struct{}

func (DNSSDResponder) HandleEvent(e srp.Event) {
	if e.ServiceName != "" {
		log.Printf("DNSSDResponder: %s host=%s service=%s", e.Kind, e.HostName, e.ServiceName)
		return
	}
	log.Printf("DNSSDResponder: %s host=%s", e.Kind, e.HostName)
}

// fanoutSink dispatches every event to all of its sinks in order. Used to
// drive both the audit log and the DNSSD responder stand-in off of one
// srp.Server without srp itself knowing there's more than one observer.
type fanoutSink struct {
	sinks []srp.EventSink
}

func (f fanoutSink) HandleEvent(e srp.Event) {
	for _, s := range f.sinks {
		s.HandleEvent(e)
	}
}
