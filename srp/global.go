/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

// GlobalStuff holds process-wide flags that are cheap to read from anywhere
// without threading them through every call signature: verbosity/debug mode
// set once at startup from CLI flags. Everything that actually matters to
// correctness (domain, leases, TTLs, the registry handle) is passed
// explicitly; this is deliberately the only piece of ambient global state.
type GlobalStuff struct {
	Verbose bool
	Debug   bool
}

var Globals = GlobalStuff{
	Verbose: false,
	Debug:   false,
}
