/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package srp

import (
	"fmt"
	"time"
)

// TtlPrint renders the time remaining until expiration for the
// observability API's LeaseExpires field (spec.md §6): "expired" once the
// deadline has passed, otherwise every non-zero unit from hours down to
// seconds, e.g. "1h2m", "1h2m5s" or "45s".
func TtlPrint(expiration time.Time) string {
	remaining := time.Until(expiration).Truncate(time.Second)
	if remaining <= 0 {
		return "expired"
	}

	secs := int64(remaining.Seconds())
	units := []struct {
		suffix string
		size   int64
	}{
		{"h", 3600},
		{"m", 60},
		{"s", 1},
	}

	out := ""
	for _, u := range units {
		n := secs / u.size
		if n == 0 && (u.suffix != "s" || out != "") {
			continue
		}
		out += fmt.Sprintf("%d%s", n, u.suffix)
		secs -= n * u.size
	}
	return out
}
