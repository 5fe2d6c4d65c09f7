package core

import "time"

// CacheTier names an independent cache namespace.
type CacheTier string

const (
	// TierExploration holds coarse exploration results (directory scans, file inventories).
	TierExploration CacheTier = "exploration"
	// TierContent holds per-item content (file bodies, per-file analysis).
	TierContent CacheTier = "content"
)

// Valid reports whether t is a known tier.
func (t CacheTier) Valid() bool {
	return t == TierExploration || t == TierContent
}

// CacheEntry is a whole value stored under a tier/key pair. Entries are
// immutable until replaced by a later put.
type CacheEntry struct {
	Tier           CacheTier `json:"tier"`
	Key            string    `json:"key"`
	Value          Value     `json:"value"`
	SizeBytes      int       `json:"size_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// CacheState maps tier -> key -> entry.
type CacheState struct {
	Entries map[CacheTier]map[string]CacheEntry `json:"entries,omitempty"`
}

func (c CacheState) clone() CacheState {
	if c.Entries == nil {
		return CacheState{}
	}
	out := CacheState{Entries: make(map[CacheTier]map[string]CacheEntry, len(c.Entries))}
	for tier, entries := range c.Entries {
		m := make(map[string]CacheEntry, len(entries))
		for k, e := range entries {
			m[k] = e
		}
		out.Entries[tier] = m
	}
	return out
}
