// Package filter derives filtered views from the canonical dataset.
//
// Apply is a pure function: identical inputs always yield identical,
// order-stable outputs. The canonical state is never modified.
package filter

import (
	"sort"
	"strings"
	"time"

	"netpulse/pkg/models"
)

// TimeRange bounds a record's lifetime. Either bound may be nil: a nil Start
// behaves as negative infinity, a nil End as positive infinity.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// IsZero reports whether neither bound is set.
func (tr TimeRange) IsZero() bool {
	return tr.Start == nil && tr.End == nil
}

// Criteria is an immutable set of filter predicates. All active predicates
// are AND-combined. The zero value matches everything.
type Criteria struct {
	// Query is a free-text, case-insensitive substring search across IP,
	// AS name, ASN, country name and country code.
	Query string
	// Organization matches the AS name or the ASN exactly.
	Organization string
	// Country matches the country code exactly.
	Country string
	// Range bounds the record's first_seen/last_seen window.
	Range TimeRange
}

// Active reports whether any predicate is set. With no active predicates the
// canonical aggregates are passed through unchanged instead of recomputed.
func (c Criteria) Active() bool {
	return c.Query != "" || c.Organization != "" || c.Country != "" || !c.Range.IsZero()
}

// Apply filters the canonical connections and derives the matching country
// aggregates. When no criteria are active both inputs are returned as-is.
func Apply(conns []models.ConnectionRecord, aggs []models.CountryAggregate, c Criteria) ([]models.ConnectionRecord, []models.CountryAggregate) {
	if !c.Active() {
		return conns, aggs
	}

	filtered := make([]models.ConnectionRecord, 0, len(conns))
	for _, rec := range conns {
		if c.matches(rec) {
			filtered = append(filtered, rec)
		}
	}
	return filtered, Aggregate(filtered)
}

func (c Criteria) matches(rec models.ConnectionRecord) bool {
	if c.Query != "" && !matchQuery(rec, c.Query) {
		return false
	}
	if c.Organization != "" && rec.ASName != c.Organization && rec.ASN != c.Organization {
		return false
	}
	if c.Country != "" && rec.CountryCode != c.Country {
		return false
	}
	return matchRange(rec, c.Range)
}

// matchQuery is an OR across fields: the record matches if any field
// contains the query, case-insensitively.
func matchQuery(rec models.ConnectionRecord, query string) bool {
	q := strings.ToLower(query)
	for _, field := range []string{rec.IP, rec.ASName, rec.ASN, rec.Country, rec.CountryCode} {
		if field != "" && strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// matchRange checks (last_seen >= start OR first_seen >= start) AND
// (first_seen <= end). A malformed timestamp never satisfies the bound that
// needs it.
func matchRange(rec models.ConnectionRecord, tr TimeRange) bool {
	if tr.IsZero() {
		return true
	}

	first, firstOK := rec.FirstSeenTime()
	last, lastOK := rec.LastSeenTime()

	if tr.Start != nil {
		seenAfter := (lastOK && !last.Before(*tr.Start)) || (firstOK && !first.Before(*tr.Start))
		if !seenAfter {
			return false
		}
	}
	if tr.End != nil {
		if !firstOK || first.After(*tr.End) {
			return false
		}
	}
	return true
}

// Aggregate recomputes country aggregates from a connection list: group by
// country code, sum hit counts, count records as unique IPs. The result is
// sorted by hit count descending, country code ascending on ties, so equal
// inputs produce byte-equal output.
func Aggregate(conns []models.ConnectionRecord) []models.CountryAggregate {
	byCountry := make(map[string]*models.CountryAggregate)
	for _, rec := range conns {
		if rec.CountryCode == "" {
			continue
		}
		agg, ok := byCountry[rec.CountryCode]
		if !ok {
			agg = &models.CountryAggregate{
				CountryCode: rec.CountryCode,
				Country:     rec.Country,
			}
			byCountry[rec.CountryCode] = agg
		}
		agg.HitCount += rec.HitCount
		agg.UniqueIPs++
		if agg.Country == "" {
			agg.Country = rec.Country
		}
	}

	out := make([]models.CountryAggregate, 0, len(byCountry))
	for _, agg := range byCountry {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HitCount != out[j].HitCount {
			return out[i].HitCount > out[j].HitCount
		}
		return out[i].CountryCode < out[j].CountryCode
	})
	return out
}
