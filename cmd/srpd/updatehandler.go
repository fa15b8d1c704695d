/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"log"

	"github.com/stensrud/srpd/srp"
)

// ImmediateUpdateHandler is the default srp.UpdateHandler: it accepts
// every syntactically and cryptographically valid update without
// consulting any further policy, reporting success back on its own
// goroutine exactly as the interface requires. It exists so srpd is
// useful standalone; a deployment that wants (say) an allow-list of
// acceptable host names would replace it with its own UpdateHandler,
// grounded on the teacher's channel-fed UpdateHandler in
// updatehandler.go which likewise just drains a queue and reports back.
type ImmediateUpdateHandler struct {
	Server *srp.Server
}

func (h ImmediateUpdateHandler) HandleServiceUpdate(id uint32, host *srp.Host) {
	go func() {
		log.Printf("ImmediateUpdateHandler: accepting update %d for host %s", id, host.FullName)
		h.Server.HandleServiceUpdateResult(id, nil)
	}()
}
