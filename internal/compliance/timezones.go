package compliance

import (
	"fmt"
	"strings"
	"time"
)

// ZoneTable maps dial-string prefixes to IANA time zones. Longest matching
// prefix wins. The table is injected so the scheduler stays independently
// testable and replaceable.
type ZoneTable struct {
	zones   map[string]string
	defZone string
}

// NewZoneTable builds a table from prefix -> IANA zone name entries with a
// fallback zone for unmatched destinations.
func NewZoneTable(entries map[string]string, defaultZone string) *ZoneTable {
	if defaultZone == "" {
		defaultZone = "UTC"
	}
	zones := make(map[string]string, len(entries))
	for prefix, zone := range entries {
		zones[normalizePrefix(prefix)] = zone
	}
	return &ZoneTable{zones: zones, defZone: defaultZone}
}

// DefaultNorthAmericanTable covers the NANP area codes the service dials,
// keyed by the +1NXX prefix.
func DefaultNorthAmericanTable() *ZoneTable {
	return NewZoneTable(map[string]string{
		"+1212": "America/New_York",
		"+1917": "America/New_York",
		"+1617": "America/New_York",
		"+1305": "America/New_York",
		"+1312": "America/Chicago",
		"+1214": "America/Chicago",
		"+1713": "America/Chicago",
		"+1303": "America/Denver",
		"+1602": "America/Phoenix",
		"+1213": "America/Los_Angeles",
		"+1415": "America/Los_Angeles",
		"+1206": "America/Los_Angeles",
		"+1808": "Pacific/Honolulu",
		"+1907": "America/Anchorage",
	}, "America/New_York")
}

// LocationFor resolves the destination's time zone from its dial string.
func (t *ZoneTable) LocationFor(dialString string) (*time.Location, error) {
	normalized := normalizePrefix(dialString)
	best := ""
	for prefix := range t.zones {
		if strings.HasPrefix(normalized, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}

	name := t.defZone
	if best != "" {
		name = t.zones[best]
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("zone table: load %q: %w", name, err)
	}
	return loc, nil
}

func normalizePrefix(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '+' || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
