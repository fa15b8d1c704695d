/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"log"

	"github.com/miekg/dns"

	"github.com/stensrud/srpd/srp"
)

// DnsEngine listens on every configured address, UDP and TCP both, and
// dispatches DNS UPDATE messages into the Server's update pipeline.
// QUERY messages get the minimal CHAOS-class id.server/version.server
// treatment and a Refused otherwise; any other opcode gets NotImplemented,
// grounded
// on the teacher's DnsEngine/createHandler in dnshandler.go which
// likewise fronts a single dns.HandleFunc dispatch with a per-opcode
// switch.
func DnsEngine(s *srp.Server, addresses []string) error {
	dns.HandleFunc(".", createHandler(s))

	log.Printf("DnsEngine: addresses: %v", addresses)
	for _, addr := range addresses {
		for _, net := range []string{"udp", "tcp"} {
			go func(addr, net string) {
				server := &dns.Server{Addr: addr, Net: net}
				server.UDPSize = dns.DefaultMsgSize
				log.Printf("DnsEngine: serving on %s (%s)", addr, net)
				if err := server.ListenAndServe(); err != nil {
					log.Printf("DnsEngine: failed to start %s listener on %s: %v", net, addr, err)
				}
			}(addr, net)
		}
	}
	return nil
}

func createHandler(s *srp.Server) func(w dns.ResponseWriter, r *dns.Msg) {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		switch r.Opcode {
		case dns.OpcodeUpdate:
			handleUpdate(s, w, r)
		case dns.OpcodeQuery:
			handleChaosQuery(w, r)
		default:
			log.Printf("DnsHandler: unable to handle opcode %s", dns.OpcodeToString[r.Opcode])
			m := new(dns.Msg)
			m.SetRcode(r, dns.RcodeNotImplemented)
			w.WriteMsg(m)
		}
	}
}

// handleUpdate packs r back into wire form (VerifySignature needs the
// exact bytes the SIG(0) signature covered) and hands it to
// Server.ProcessUpdate, responding with the granted LEASE/KEY-LEASE in
// an EDNS0_LOCAL option that mirrors the one the request carried
// (spec.md §4.2 step 7, §6).
func handleUpdate(s *srp.Server, w dns.ResponseWriter, r *dns.Msg) {
	raw, err := r.Pack()
	if err != nil {
		log.Printf("DnsHandler: failed to repack update for signature verification: %v", err)
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeFormatError)
		w.WriteMsg(m)
		return
	}

	respond := func(rcode int, lease, keyLease uint32) {
		m := new(dns.Msg)
		m.SetRcode(r, rcode)
		if rcode == dns.RcodeSuccess {
			m.Extra = append(m.Extra, leaseOption(lease, keyLease))
		}
		if err := w.WriteMsg(m); err != nil {
			log.Printf("DnsHandler: failed to write update response: %v", err)
		}
	}

	s.ProcessUpdate(r, raw, respond, true)
}

func leaseOption(lease, keyLease uint32) *dns.OPT {
	data := make([]byte, 8)
	be32put(data[0:4], lease)
	be32put(data[4:8], keyLease)
	return &dns.OPT{
		Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT},
		Option: []dns.EDNS0{&dns.EDNS0_LOCAL{
			Code: srp.LeaseOptionCode,
			Data: data,
		}},
	}
}

func be32put(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// handleChaosQuery answers the handful of CH TXT queries every dns.Server
// in this family answers for operational visibility; everything else
// gets Refused, since srpd serves no authoritative zone data.
func handleChaosQuery(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetRcode(r, dns.RcodeRefused)

	if len(r.Question) == 1 {
		q := r.Question[0]
		if q.Qclass == dns.ClassCHAOS && q.Qtype == dns.TypeTXT {
			var txt string
			switch q.Name {
			case "version.server.":
				txt = "srpd"
			case "id.server.":
				txt = "srpd - a Service Registration Protocol registrar"
			}
			if txt != "" {
				m.SetRcode(r, dns.RcodeSuccess)
				m.Answer = append(m.Answer, &dns.TXT{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTXT, Class: dns.ClassCHAOS, Ttl: 3600},
					Txt: []string{txt},
				})
			}
		}
	}
	w.WriteMsg(m)
}
