// Package models defines the data structures shared across the telemetry engine.
package models

import "time"

// ConnectionRecord is one observed remote endpoint, keyed by IP address.
// Records are replaced wholesale on every successful poll and never patched
// field by field. Geolocation fields are empty until the backend resolves them.
type ConnectionRecord struct {
	IP            string `json:"ip"`
	ASN           string `json:"asn,omitempty"`
	ASName        string `json:"as_name,omitempty"`
	ASDomain      string `json:"as_domain,omitempty"`
	CountryCode   string `json:"country_code,omitempty"`
	Country       string `json:"country,omitempty"`
	ContinentCode string `json:"continent_code,omitempty"`
	Continent     string `json:"continent,omitempty"`
	HitCount      uint64 `json:"hit_count"`
	FirstSeen     string `json:"first_seen"`
	LastSeen      string `json:"last_seen"`
}

// CountryAggregate is the per-country rollup backing the heatmap.
// It is always derived from a connection set, never mutated independently.
type CountryAggregate struct {
	CountryCode string `json:"country_code"`
	Country     string `json:"country"`
	HitCount    uint64 `json:"hit_count"`
	UniqueIPs   uint64 `json:"unique_ips"`
}

// AppStats is the global counter snapshot, replaced wholesale each poll.
type AppStats struct {
	TotalIPs       uint64 `json:"total_ips"`
	TotalHits      uint64 `json:"total_hits"`
	TotalCountries uint64 `json:"total_countries"`
	UptimeSeconds  uint64 `json:"uptime_seconds"`
	IsRunning      bool   `json:"is_running"`
}

// PushEvent is the single push-channel event type: a newly observed IP.
// Geolocation fields may be empty when the backend's lookup failed; the
// event is still delivered.
type PushEvent struct {
	IP          string `json:"ip"`
	CountryCode string `json:"country_code,omitempty"`
	Country     string `json:"country,omitempty"`
	ASN         string `json:"asn,omitempty"`
	ASName      string `json:"as_name,omitempty"`
}

// timestampLayouts are the accepted wire formats, most common first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a record timestamp. The second return value is false
// for empty or malformed input; callers must treat such records as never
// matching a time-range bound rather than failing.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FirstSeenTime parses the record's first_seen field.
func (r ConnectionRecord) FirstSeenTime() (time.Time, bool) {
	return ParseTimestamp(r.FirstSeen)
}

// LastSeenTime parses the record's last_seen field.
func (r ConnectionRecord) LastSeenTime() (time.Time, bool) {
	return ParseTimestamp(r.LastSeen)
}
