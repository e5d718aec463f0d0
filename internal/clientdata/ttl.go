package clientdata

import "time"

// How long cached payloads count as fresh. Stale rows stay readable
// through Get until the cleanup job removes them.
const (
	// Daily bars change once per trading day
	TTLDaily = 12 * time.Hour
	// Intraday quote
	TTLQuote = 15 * time.Minute
	// Symbol directory rarely changes
	TTLSearch = 7 * 24 * time.Hour
	// Identifier mappings almost never change
	TTLFIGI = 30 * 24 * time.Hour
)
