/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/stensrud/srpd/srp"
)

var appVersion string

func mainloop(s *srp.Server, stopch chan struct{}) {
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	for {
		select {
		case <-hup:
			log.Println("mainloop: SIGHUP received, resetting response counters")
			s.ResetCounters()
		case <-exit:
			log.Println("mainloop: exit signal received, disabling and shutting down")
			s.SetEnabled(false, nil, nil)
			close(stopch)
			return
		}
	}
}

func main() {
	var conf Config

	flag.BoolVarP(&srp.Globals.Debug, "debug", "d", false, "Debug mode")
	flag.BoolVarP(&srp.Globals.Verbose, "verbose", "v", false, "Verbose mode")
	flag.Parse()

	srpCfg, err := ParseConfig(&conf)
	if err != nil {
		log.Fatalf("Error parsing config: %v", err)
	}

	if err := srp.SetupLogging(conf.Log.File); err != nil {
		log.Fatalf("Error setting up logging: %v", err)
	}
	fmt.Printf("srpd version %s starting (verbose: %t, debug: %t)\n", appVersion, srp.Globals.Verbose, srp.Globals.Debug)

	auditLog, err := NewAuditLog(conf.Db.File)
	if err != nil {
		log.Fatalf("Error opening audit log %s: %v", conf.Db.File, err)
	}
	defer auditLog.Close()

	server := srp.NewServer()
	if err := server.SetDomain(srpCfg.Domain); err != nil {
		log.Fatalf("Error setting domain: %v", err)
	}
	if err := server.SetAddressMode(srpCfg.AddressMode); err != nil {
		log.Fatalf("Error setting address mode: %v", err)
	}
	if err := server.SetAnycastModeSequenceNumber(srpCfg.AnycastSequenceNumber); err != nil {
		log.Fatalf("Error setting anycast sequence number: %v", err)
	}
	if err := server.SetTtlConfig(srpCfg.Ttl); err != nil {
		log.Fatalf("Error setting ttl config: %v", err)
	}
	if err := server.SetLeaseConfig(srpCfg.Lease); err != nil {
		log.Fatalf("Error setting lease config: %v", err)
	}

	server.SetEventSink(fanoutSink{sinks: []srp.EventSink{auditLog, DNSSDResponder{}}})
	server.SetHandler(ImmediateUpdateHandler{Server: server})

	if err := DnsEngine(server, conf.DnsEngine.Addresses); err != nil {
		log.Fatalf("Error starting DnsEngine: %v", err)
	}

	APIdispatcher(server, conf.Apiserver.Address, conf.Apiserver.Key)

	stopch := make(chan struct{})
	go LeaseEngine(server, stopch)

	server.SetEnabled(true, nil, nil)
	log.Printf("srpd: enabled, listening on port %d in %s mode", server.Port(), server.Config().AddressMode)

	mainloop(server, stopch)
	fmt.Println("srpd: leaving mainloop")
}
