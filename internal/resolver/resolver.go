// Package resolver caches user supplied toolkit names and the canonical
// toolkit they resolved to, and learns spelling variants as they are used.
package resolver

import (
	"log"
	"strings"
	"sync"
	"time"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// DefaultMaxAge is the cleanup age used by the maintenance scheduler.
const DefaultMaxAge = 30 * 24 * time.Hour

// Mapping is one cached search term → toolkit resolution.
type Mapping struct {
	SearchTerm      string     `json:"search_term"`
	ResolvedToolkit string     `json:"resolved_toolkit"`
	Category        string     `json:"category,omitempty"`
	Confidence      Confidence `json:"confidence"`
	LastUsed        time.Time  `json:"last_used"`
	UsageCount      int        `json:"usage_count"`
	Variations      []string   `json:"variations,omitempty"`
}

// Stats summarises the cache.
type Stats struct {
	TotalMappings   int
	UniqueToolkits  int
	AvgUsageCount   float64
	KnownToolkits   int
	LastToolkitSync time.Time
}

// Resolver is safe for concurrent use.
type Resolver struct {
	mu  sync.Mutex
	now func() time.Time

	mappings map[string]*Mapping
	keys     []string // insertion order, drives the fuzzy scan

	available  map[string]struct{}
	lastSynced time.Time
}

func New() *Resolver {
	return &Resolver{
		now:       time.Now,
		mappings:  make(map[string]*Mapping),
		available: make(map[string]struct{}),
	}
}

// Normalize lowercases a term and strips '-', '_' and whitespace.
func Normalize(term string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(term) {
		switch r {
		case '-', '_', ' ', '\t', '\n', '\r':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetMapping looks the term up exactly (case-insensitive), then by normalized
// form. A normalized hit also stores the literal term so the next lookup is
// exact.
func (r *Resolver) GetMapping(searchTerm string) (Mapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := strings.ToLower(searchTerm)
	if m, ok := r.mappings[k]; ok {
		m.UsageCount++
		m.LastUsed = r.now()
		log.Printf("[Resolver] Exact match for %q: %s", searchTerm, m.ResolvedToolkit)
		return *m, true
	}

	normalized := Normalize(searchTerm)
	for _, key := range r.keys {
		if Normalize(key) != normalized {
			continue
		}
		m := r.mappings[key]
		m.UsageCount++
		m.LastUsed = r.now()
		log.Printf("[Resolver] Fuzzy match for %q: %s", searchTerm, m.ResolvedToolkit)

		found := *m
		backfill := found
		backfill.SearchTerm = k
		backfill.UsageCount = 1
		backfill.Variations = nil
		r.storeLocked(backfill)
		return found, true
	}

	log.Printf("[Resolver] No cached mapping for %q", searchTerm)
	return Mapping{}, false
}

// StoreMapping records a resolution. An identical existing resolution has its
// usage bumped and its confidence upgraded, never downgraded. Separator
// variants of the term are seeded with zero usage.
func (r *Resolver) StoreMapping(m Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storeLocked(m)
}

func (r *Resolver) storeLocked(m Mapping) {
	k := strings.ToLower(m.SearchTerm)
	now := r.now()
	variations := Variations(k)

	if existing, ok := r.mappings[k]; ok && existing.ResolvedToolkit == m.ResolvedToolkit {
		existing.UsageCount++
		existing.LastUsed = now
		if upgrades(existing.Confidence, m.Confidence) {
			existing.Confidence = m.Confidence
		}
		log.Printf("[Resolver] Updated mapping %q: usage=%d", k, existing.UsageCount)
	} else {
		stored := m
		stored.SearchTerm = k
		stored.LastUsed = now
		stored.Variations = variations
		r.setLocked(k, &stored)
		log.Printf("[Resolver] Stored mapping %q -> %q", k, m.ResolvedToolkit)
	}

	for _, v := range variations {
		if _, ok := r.mappings[v]; ok {
			continue
		}
		seeded := m
		seeded.SearchTerm = v
		seeded.UsageCount = 0
		seeded.LastUsed = now
		seeded.Variations = nil
		r.setLocked(v, &seeded)
	}
}

func (r *Resolver) setLocked(k string, m *Mapping) {
	if _, ok := r.mappings[k]; !ok {
		r.keys = append(r.keys, k)
	}
	r.mappings[k] = m
}

func rank(c Confidence) int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

func upgrades(from, to Confidence) bool {
	return rank(to) > rank(from)
}

// Variations returns separator swaps of term and its separator-free form.
func Variations(term string) []string {
	term = strings.ToLower(term)
	var out []string
	add := func(v string) {
		if v == term {
			return
		}
		for _, o := range out {
			if o == v {
				return
			}
		}
		out = append(out, v)
	}
	if strings.Contains(term, "_") {
		add(strings.ReplaceAll(term, "_", " "))
		add(strings.ReplaceAll(term, "_", "-"))
	}
	if strings.Contains(term, " ") {
		add(strings.ReplaceAll(term, " ", "_"))
		add(strings.ReplaceAll(term, " ", "-"))
	}
	if strings.Contains(term, "-") {
		add(strings.ReplaceAll(term, "-", "_"))
		add(strings.ReplaceAll(term, "-", " "))
	}
	add(Normalize(term))
	return out
}

// CleanOldMappings removes entries that are rarely used (fewer than two
// uses), older than maxAge and not high confidence. It returns the number
// removed.
func (r *Resolver) CleanOldMappings(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	kept := r.keys[:0]
	removed := 0
	for _, k := range r.keys {
		m := r.mappings[k]
		if m.Confidence != ConfidenceHigh && m.UsageCount < 2 && m.LastUsed.Before(cutoff) {
			delete(r.mappings, k)
			removed++
			continue
		}
		kept = append(kept, k)
	}
	r.keys = kept
	if removed > 0 {
		log.Printf("[Resolver] Cleaned up %d old mappings", removed)
	}
	return removed
}

func (r *Resolver) UpdateAvailableToolkits(toolkits []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tk := range toolkits {
		r.available[strings.ToLower(tk)] = struct{}{}
	}
	r.lastSynced = r.now()
}

func (r *Resolver) AvailableToolkits() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.available))
	for tk := range r.available {
		out = append(out, tk)
	}
	return out
}

func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	unique := make(map[string]struct{})
	total := 0
	for _, m := range r.mappings {
		unique[m.ResolvedToolkit] = struct{}{}
		total += m.UsageCount
	}
	st := Stats{
		TotalMappings:   len(r.mappings),
		UniqueToolkits:  len(unique),
		KnownToolkits:   len(r.available),
		LastToolkitSync: r.lastSynced,
	}
	if len(r.mappings) > 0 {
		st.AvgUsageCount = float64(total) / float64(len(r.mappings))
	}
	return st
}

// Snapshot returns copies of all mappings in insertion order.
func (r *Resolver) Snapshot() []Mapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Mapping, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, *r.mappings[k])
	}
	return out
}

// Restore replaces the cache with mappings as they were snapshotted.
func (r *Resolver) Restore(mappings []Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings = make(map[string]*Mapping)
	r.keys = nil
	for _, m := range mappings {
		m := m
		r.setLocked(strings.ToLower(m.SearchTerm), &m)
	}
}

func (r *Resolver) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings = make(map[string]*Mapping)
	r.keys = nil
	r.available = make(map[string]struct{})
	r.lastSynced = time.Time{}
}
