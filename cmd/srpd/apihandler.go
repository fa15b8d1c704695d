/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gookit/goutil/dump"
	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"

	"github.com/stensrud/srpd/srp"
)

// APIstatus reports the lifecycle state, listening port and per-RCODE
// response counters (spec.md §6).
func APIstatus(s *srp.Server) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			State   string         `json:"state"`
			Port    uint16         `json:"port"`
			Domain  string         `json:"domain"`
			Rcodes  map[int]uint64 `json:"rcodes"`
			HostCnt int            `json:"host_count"`
		}{
			State:   s.State().String(),
			Port:    s.Port(),
			Domain:  s.Config().Domain,
			Rcodes:  s.Counters(),
			HostCnt: s.Registry().Count(),
		}
		writeJSON(w, resp)
	}
}

type serviceView struct {
	ServiceName  string `json:"service_name" yaml:"service_name"`
	InstanceName string `json:"instance_name" yaml:"instance_name"`
	IsSubType    bool   `json:"is_subtype" yaml:"is_subtype"`
	IsDeleted    bool   `json:"is_deleted" yaml:"is_deleted"`
	Port         uint16 `json:"port" yaml:"port"`
	Lease        uint32 `json:"lease" yaml:"lease"`
	KeyLease     uint32 `json:"key_lease" yaml:"key_lease"`
	LeaseExpires string `json:"lease_expires" yaml:"lease_expires"`
}

type hostView struct {
	FullName     string        `json:"full_name" yaml:"full_name"`
	Addresses    []string      `json:"addresses" yaml:"addresses"`
	Lease        uint32        `json:"lease" yaml:"lease"`
	KeyLease     uint32        `json:"key_lease" yaml:"key_lease"`
	LeaseExpires string        `json:"lease_expires" yaml:"lease_expires"`
	Services     []serviceView `json:"services" yaml:"services"`
}

// expiresAt turns a LEASE window's start time and granted duration into
// the absolute deadline, matching the arithmetic the Lease Timer itself
// uses, so LeaseExpires can never drift from what will actually trigger
// an expiry sweep.
func expiresAt(addedAt time.Time, lease uint32) time.Time {
	return addedAt.Add(time.Duration(lease) * time.Second)
}

// buildHostViews projects the registry into the wire view the JSON/YAML
// endpoints serve.
func buildHostViews(s *srp.Server, filter srp.EnumFilter) []hostView {
	entries := s.Registry().Enumerate(filter)
	out := make([]hostView, 0, len(entries))
	for _, e := range entries {
		hv := hostView{
			FullName:     e.Host.FullName,
			Lease:        e.Host.Lease,
			KeyLease:     e.Host.KeyLease,
			LeaseExpires: srp.TtlPrint(expiresAt(e.Host.UpdateTime, e.Host.Lease)),
		}
		for _, a := range e.Host.Addresses {
			hv.Addresses = append(hv.Addresses, a.String())
		}
		for _, svc := range e.Services {
			hv.Services = append(hv.Services, serviceView{
				ServiceName:  svc.ServiceName,
				InstanceName: svc.Description.InstanceName,
				IsSubType:    svc.IsSubType,
				IsDeleted:    svc.IsDeleted,
				Port:         svc.Description.Port,
				Lease:        svc.Description.Lease,
				KeyLease:     svc.Description.KeyLease,
				LeaseExpires: srp.TtlPrint(expiresAt(svc.Description.UpdateTime, svc.Description.Lease)),
			})
		}
		out = append(out, hv)
	}
	return out
}

// APIhosts enumerates every registered Host and its Services (spec.md
// §6's enumeration API), honoring optional ?type= and ?state= query
// filters the way the teacher's /debug rrset inquiry took a qtype
// parameter in apihandler.go. ?format=yaml returns the same data as YAML
// instead of JSON, for operators piping the response straight into a
// file to diff against a previous snapshot.
func APIhosts(s *srp.Server) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		out := buildHostViews(s, parseEnumFilter(r))
		if r.URL.Query().Get("format") == "yaml" {
			w.Header().Set("Content-Type", "application/yaml")
			if err := yaml.NewEncoder(w).Encode(out); err != nil {
				log.Printf("API: error encoding yaml response: %v", err)
			}
			return
		}
		writeJSON(w, out)
	}
}

func parseEnumFilter(r *http.Request) srp.EnumFilter {
	var f srp.EnumFilter
	switch r.URL.Query().Get("type") {
	case "base":
		f |= srp.FilterBaseType
	case "sub":
		f |= srp.FilterSubType
	}
	switch r.URL.Query().Get("state") {
	case "active":
		f |= srp.FilterActive
	case "deleted":
		f |= srp.FilterDeleted
	}
	return f
}

// APIcommand toggles the lifecycle state, mirroring the teacher's
// /command "status"/"stop" dispatch in apihandler.go.
func APIcommand(s *srp.Server) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var cp struct {
			Command string `json:"command"`
		}
		if err := json.NewDecoder(r.Body).Decode(&cp); err != nil {
			log.Printf("APIcommand: error decoding command: %v", err)
		}

		resp := struct {
			Status string `json:"status"`
			Error  bool   `json:"error,omitempty"`
			Msg    string `json:"msg,omitempty"`
		}{Status: "ok"}

		switch cp.Command {
		case "enable":
			s.SetEnabled(true, nil, nil)
			resp.Msg = "enabled"
		case "disable", "stop":
			s.SetEnabled(false, nil, nil)
			resp.Msg = "disabled"
		case "status":
			resp.Msg = s.State().String()
		default:
			resp.Error = true
			resp.Msg = "unknown command: " + cp.Command
		}
		writeJSON(w, resp)
	}
}

// APIdebug dumps the full registry to the server's own stdout via
// gookit/goutil's dump, for interactive troubleshooting; it writes
// nothing to the HTTP response body besides an acknowledgement, matching
// the teacher's own debug-is-side-channel convention in apihandler.go.
func APIdebug(s *srp.Server) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		dump.P(s.Registry().Enumerate(0))
		writeJSON(w, struct{ Status string }{"dumped to server log"})
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: error encoding response: %v", err)
	}
}

func SetupRouter(s *srp.Server, apiKey string) *mux.Router {
	r := mux.NewRouter().StrictSlash(true)
	sr := r.PathPrefix("/api/v1").Headers("X-API-Key", apiKey).Subrouter()
	sr.HandleFunc("/status", APIstatus(s)).Methods("GET")
	sr.HandleFunc("/hosts", APIhosts(s)).Methods("GET")
	sr.HandleFunc("/command", APIcommand(s)).Methods("POST")
	sr.HandleFunc("/debug", APIdebug(s)).Methods("POST")
	return r
}

func APIdispatcher(s *srp.Server, address, apiKey string) {
	router := SetupRouter(s, apiKey)
	log.Printf("APIdispatcher: listening on %s", address)
	go func() {
		if err := http.ListenAndServe(address, router); err != nil {
			log.Printf("APIdispatcher: failed to start: %v", err)
		}
	}()
}
