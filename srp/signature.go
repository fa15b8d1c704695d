/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

import (
	"time"

	"github.com/miekg/dns"
)

// VerifySignature locates the SIG(0) record in msg's Additional section,
// reconstructs the canonical RDATA coverage per RFC 2931 §3 — (SIG RDATA
// excluding the signature field) || (message bytes from the start through
// the SIG owner name, with the SIG record itself excluded) — and verifies
// it against key using ECDSA-P256 (spec.md §4.3). raw must be the exact
// wire bytes the message was parsed from; dns.SIG.Verify does the
// coverage reconstruction and the SHA-256/ECDSA verification itself,
// grounded on tdns/sig0_validate.go's `sig.Verify(&keyrr, msgbuf)`.
//
// Returns the verified SIG record, or a *Error: Code NotImp when the SIG or
// KEY algorithm is not ECDSA-P256, Code NotAuth for every other failure.
func VerifySignature(msg *dns.Msg, raw []byte, key *dns.KEY) (*dns.SIG, *Error) {
	sig := findSig(msg)
	if sig == nil {
		return nil, NewError(NotAuth, "no SIG(0) record in additional section")
	}
	if sig.Algorithm != dns.ECDSAP256SHA256 {
		return nil, NewError(NotImp, "unsupported SIG(0) algorithm %d", sig.Algorithm)
	}
	if key.Algorithm != dns.ECDSAP256SHA256 {
		return nil, NewError(NotImp, "unsupported KEY algorithm %d", key.Algorithm)
	}
	if err := sig.Verify(key, raw); err != nil {
		return nil, NewError(NotAuth, "signature verification failed: %v", err)
	}
	if !sig.ValidityPeriod(time.Now()) {
		return nil, NewError(NotAuth, "signature outside its validity period")
	}
	return sig, nil
}

func findSig(msg *dns.Msg) *dns.SIG {
	for _, rr := range msg.Extra {
		if sig, ok := rr.(*dns.SIG); ok {
			return sig
		}
	}
	return nil
}

// keysEqual reports whether two KEY records carry the same public key
// material, used by the commit engine's "same name, same key" continuity
// check (spec.md §3: "any new registration for the same name MUST present
// the same KEY or is rejected with NotAuth").
func keysEqual(a, b dns.KEY) bool {
	return a.Algorithm == b.Algorithm && a.Protocol == b.Protocol &&
		a.Flags == b.Flags && a.PublicKey == b.PublicKey
}
