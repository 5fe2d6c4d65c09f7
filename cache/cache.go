// Package cache is a two-tier key/value cache scoped to a session. The
// exploration tier holds coarse results such as directory scans; the content
// tier holds per-file content and analysis. Tiers are independent namespaces.
//
// Values are stored whole: a Put replaces the previous entry entirely. There
// is no eviction; entries live until the session is deleted or a caller
// explicitly invalidates them.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
)

// DefaultMaxEntryBytes is the per-entry size limit applied when none is configured.
const DefaultMaxEntryBytes = 1 << 20

// Options configures a Cache.
type Options struct {
	// MaxEntryBytes bounds the canonical encoded size of a single value.
	MaxEntryBytes int
	Logger        logging.Logger
	Clock         func() time.Time
}

// Cache stores values per session, tier and key.
type Cache struct {
	c        *core.Committer
	maxBytes int
}

// New creates a Cache on top of store.
func New(store core.SessionStore, optFns ...func(o *Options)) *Cache {
	opts := Options{MaxEntryBytes: DefaultMaxEntryBytes}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxEntryBytes <= 0 {
		opts.MaxEntryBytes = DefaultMaxEntryBytes
	}
	return &Cache{c: core.NewCommitter(store, opts.Logger, opts.Clock), maxBytes: opts.MaxEntryBytes}
}

// TierStats summarizes one tier.
type TierStats struct {
	Entries int `json:"entries"`
	Bytes   int `json:"bytes"`
}

// Stats summarizes the cache of a session.
type Stats struct {
	Tiers        map[core.CacheTier]TierStats `json:"tiers"`
	TotalEntries int                          `json:"total_entries"`
	TotalBytes   int                          `json:"total_bytes"`
}

// Put stores value under tier/key, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, sessionID string, tier core.CacheTier, key string, value core.Value) (core.CacheEntry, error) {
	const op = "cache.put"
	if err := validate(op, sessionID, tier, key); err != nil {
		return core.CacheEntry{}, err
	}
	size := value.Size()
	if size > c.maxBytes {
		return core.CacheEntry{}, core.NewError(core.ErrCapacityExceeded, op, sessionID, string(tier)+"/"+key,
			fmt.Sprintf("value is %d bytes, limit %d", size, c.maxBytes))
	}

	var entry core.CacheEntry
	_, err := c.c.Update(ctx, op, sessionID, func(st *core.State) error {
		now := c.c.Now()
		entry = core.CacheEntry{
			Tier:           tier,
			Key:            key,
			Value:          value,
			SizeBytes:      size,
			CreatedAt:      now,
			LastAccessedAt: now,
		}
		if st.Cache.Entries == nil {
			st.Cache.Entries = map[core.CacheTier]map[string]core.CacheEntry{}
		}
		if st.Cache.Entries[tier] == nil {
			st.Cache.Entries[tier] = map[string]core.CacheEntry{}
		}
		st.Cache.Entries[tier][key] = entry
		return nil
	})
	if err != nil {
		return core.CacheEntry{}, err
	}
	return entry, nil
}

// Get returns the value stored under tier/key. The boolean is false on a
// miss. Get never writes; use Touch to record an access.
func (c *Cache) Get(ctx context.Context, sessionID string, tier core.CacheTier, key string) (core.Value, bool, error) {
	entry, ok, err := c.Entry(ctx, sessionID, tier, key)
	if err != nil || !ok {
		return core.Null, false, err
	}
	return entry.Value, true, nil
}

// Entry is like Get but returns the full entry with its metadata.
func (c *Cache) Entry(ctx context.Context, sessionID string, tier core.CacheTier, key string) (core.CacheEntry, bool, error) {
	const op = "cache.get"
	if err := validate(op, sessionID, tier, key); err != nil {
		return core.CacheEntry{}, false, err
	}
	st, _, err := c.c.Read(ctx, op, sessionID)
	if err != nil {
		return core.CacheEntry{}, false, err
	}
	entry, ok := st.Cache.Entries[tier][key]
	return entry, ok, nil
}

// Touch records an access to tier/key. A miss fails with ErrNotFound.
func (c *Cache) Touch(ctx context.Context, sessionID string, tier core.CacheTier, key string) error {
	const op = "cache.touch"
	if err := validate(op, sessionID, tier, key); err != nil {
		return err
	}
	_, err := c.c.Update(ctx, op, sessionID, func(st *core.State) error {
		entry, ok := st.Cache.Entries[tier][key]
		if !ok {
			return core.NewError(core.ErrNotFound, op, sessionID, string(tier)+"/"+key, "")
		}
		entry.LastAccessedAt = c.c.Now()
		st.Cache.Entries[tier][key] = entry
		return nil
	})
	return err
}

// Invalidate removes key from the given tiers, or from both tiers when none
// are named, in one commit. It returns the number of entries removed; when
// nothing matches no commit is made.
func (c *Cache) Invalidate(ctx context.Context, sessionID, key string, tiers ...core.CacheTier) (int, error) {
	const op = "cache.invalidate"
	if len(tiers) == 0 {
		tiers = []core.CacheTier{core.TierExploration, core.TierContent}
	}
	for _, tier := range tiers {
		if err := validate(op, sessionID, tier, key); err != nil {
			return 0, err
		}
	}
	st, _, err := c.c.Read(ctx, op, sessionID)
	if err != nil {
		return 0, err
	}
	if countEntries(st, key, tiers) == 0 {
		return 0, nil
	}

	var removed int
	_, err = c.c.Update(ctx, op, sessionID, func(st *core.State) error {
		removed = 0
		for _, tier := range tiers {
			if _, ok := st.Cache.Entries[tier][key]; ok {
				delete(st.Cache.Entries[tier], key)
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func countEntries(st *core.State, key string, tiers []core.CacheTier) int {
	n := 0
	for _, tier := range tiers {
		if _, ok := st.Cache.Entries[tier][key]; ok {
			n++
		}
	}
	return n
}

// Stats reports entry counts and sizes per tier.
func (c *Cache) Stats(ctx context.Context, sessionID string) (Stats, error) {
	st, _, err := c.c.Read(ctx, "cache.stats", sessionID)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(st), nil
}

// Summarize computes cache statistics of an already opened document.
func Summarize(st *core.State) Stats {
	out := Stats{Tiers: map[core.CacheTier]TierStats{
		core.TierExploration: {},
		core.TierContent:     {},
	}}
	for tier, entries := range st.Cache.Entries {
		ts := out.Tiers[tier]
		for _, e := range entries {
			ts.Entries++
			ts.Bytes += e.SizeBytes
		}
		out.Tiers[tier] = ts
		out.TotalEntries += ts.Entries
		out.TotalBytes += ts.Bytes
	}
	return out
}

func validate(op, sessionID string, tier core.CacheTier, key string) error {
	if !tier.Valid() {
		return core.NewError(core.ErrInvalidArgument, op, sessionID, key, fmt.Sprintf("unknown tier %q", tier))
	}
	if key == "" {
		return core.NewError(core.ErrInvalidArgument, op, sessionID, "", "cache key is empty")
	}
	return nil
}
