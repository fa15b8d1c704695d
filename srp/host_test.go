/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

import (
	"net"
	"testing"
)

func TestHostAddAddress(t *testing.T) {
	h := NewStagedHost("foo.default.service.arpa.")

	t.Run("GlobalAddress", func(t *testing.T) {
		if !h.AddAddress(net.ParseIP("2001:db8::1")) {
			t.Fatal("AddAddress() rejected a usable address")
		}
		if !h.HasUsableAddress() {
			t.Error("HasUsableAddress() should be true after adding a global address")
		}
	})

	t.Run("LinkLocalRejected", func(t *testing.T) {
		h2 := NewStagedHost("bar.default.service.arpa.")
		if h2.AddAddress(net.ParseIP("fe80::1")) {
			t.Error("AddAddress() accepted a link-local address")
		}
		if h2.HasUsableAddress() {
			t.Error("HasUsableAddress() should be false with only a link-local address")
		}
	})
}

func TestHostIsDeleted(t *testing.T) {
	h := NewStagedHost("foo.default.service.arpa.")
	h.Lease = 3600
	if h.IsDeleted() {
		t.Error("IsDeleted() should be false with a non-zero lease")
	}
	h.Lease = 0
	if !h.IsDeleted() {
		t.Error("IsDeleted() should be true with a zero lease")
	}
}

func TestHostFindService(t *testing.T) {
	h := NewStagedHost("foo.default.service.arpa.")
	desc := NewServiceDescription("myprinter._ipps._tcp.default.service.arpa.", h)
	base := NewService("_ipps._tcp.default.service.arpa.", desc, false)
	sub := NewService("_color._sub._ipps._tcp.default.service.arpa.", desc, true)
	h.Services = append(h.Services, base, sub)

	if got := h.FindService("_ipps._tcp.default.service.arpa.", desc.InstanceName); got != base {
		t.Errorf("FindService() = %v, want base service", got)
	}
	if got := h.FindBaseService(desc.InstanceName); got != base {
		t.Errorf("FindBaseService() = %v, want base service", got)
	}
	if got := h.FindServiceDescription(desc.InstanceName); got != desc {
		t.Errorf("FindServiceDescription() = %v, want %v", got, desc)
	}
}

func TestHostMarkAllServicesDeleted(t *testing.T) {
	h := NewStagedHost("foo.default.service.arpa.")
	desc := NewServiceDescription("myprinter._ipps._tcp.default.service.arpa.", h)
	h.Services = append(h.Services, NewService("_ipps._tcp.default.service.arpa.", desc, false))

	h.MarkAllServicesDeleted()
	if !h.Services[0].IsDeleted {
		t.Error("MarkAllServicesDeleted() left a service marked active")
	}
}
