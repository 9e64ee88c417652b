// Package workingmemory implements the per-robot token-budgeted working
// set: a bounded cache of recently relevant nodes, with composite-score
// eviction and strategy-driven context assembly.
package workingmemory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MycelicMemory/htm/internal/metrics"
)

var met = metrics.Default()

// defaultImportance is used for any entry whose caller never supplies one.
const defaultImportance = 1.0

// Strategy selects how AssembleContext orders entries into one string.
type Strategy string

const (
	StrategyRecent    Strategy = "recent"
	StrategyImportant Strategy = "important"
	StrategyBalanced  Strategy = "balanced"
)

// entry is one node held in a robot's working memory.
type entry struct {
	nodeID      int64
	content     string
	tokenCount  int
	addedAt     time.Time
	accessCount int
	importance  float64
}

// Cache is one robot's token-budgeted working set. Safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	maxTokens int
	entries   map[int64]*entry
	tokens    int
}

// NewCache builds a Cache with the given token budget.
func NewCache(maxTokens int) *Cache {
	if maxTokens <= 0 {
		maxTokens = 128000
	}
	return &Cache{
		maxTokens: maxTokens,
		entries:   make(map[int64]*entry),
	}
}

// Add inserts or touches nodeID. If already present, its access count is
// bumped and nothing else changes. Otherwise, eviction runs first if
// needed to make room, then the entry is inserted. Returns the node ids
// evicted to make room (nil if none). fromRecall only affects logging
// intent at the caller; the accounting is identical either way.
func (c *Cache) Add(nodeID int64, content string, tokenCount int, importance *float64, fromRecall bool) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[nodeID]; ok {
		e.accessCount++
		met.CacheOpsTotal.WithLabelValues("touch").Inc()
		return nil
	}

	imp := defaultImportance
	if importance != nil {
		imp = *importance
	}

	var evicted []int64
	for c.tokens+tokenCount > c.maxTokens && len(c.entries) > 0 {
		id := c.evictOneLocked()
		evicted = append(evicted, id)
	}

	c.entries[nodeID] = &entry{
		nodeID:     nodeID,
		content:    content,
		tokenCount: tokenCount,
		addedAt:    time.Now(),
		importance: imp,
	}
	c.tokens += tokenCount
	met.CacheOpsTotal.WithLabelValues("add").Inc()
	return evicted
}

// NodeIDs returns the node ids currently held, in no particular order.
func (c *Cache) NodeIDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.entries))
	for id := range c.entries {
		out = append(out, id)
	}
	return out
}

// Clear empties the cache, used when a group channel delivers a `cleared`
// event.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int64]*entry)
	c.tokens = 0
	met.CacheOpsTotal.WithLabelValues("clear").Inc()
}

// Remove drops nodeID if present.
func (c *Cache) Remove(nodeID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(nodeID)
	met.CacheOpsTotal.WithLabelValues("remove").Inc()
}

func (c *Cache) removeLocked(nodeID int64) {
	if e, ok := c.entries[nodeID]; ok {
		c.tokens -= e.tokenCount
		delete(c.entries, nodeID)
	}
}

// Contains reports whether nodeID is currently held.
func (c *Cache) Contains(nodeID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[nodeID]
	return ok
}

// NodeCount returns the number of entries currently held.
func (c *Cache) NodeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TokenCount returns the sum of token counts currently held.
func (c *Cache) TokenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// Utilization returns TokenCount()/maxTokens in [0, 1].
func (c *Cache) Utilization() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxTokens == 0 {
		return 0
	}
	return float64(c.tokens) / float64(c.maxTokens)
}

// evictOneLocked removes the lowest-composite-score entry and returns its
// node id. Caller must hold c.mu and guarantee len(c.entries) > 0.
func (c *Cache) evictOneLocked() int64 {
	all := c.snapshotLocked()
	scores := compositeScores(all)

	var worstID int64
	worstScore := 2.0 // scores are always <= 1.0
	for id, score := range scores {
		if score < worstScore {
			worstScore = score
			worstID = id
		}
	}
	c.removeLocked(worstID)
	met.CacheOpsTotal.WithLabelValues("evict").Inc()
	return worstID
}

func (c *Cache) snapshotLocked() []*entry {
	out := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

// compositeScores computes, for every entry, 0.4*recency + 0.4*access +
// 0.2*importance, each normalized to [0, 1] across the supplied entries.
func compositeScores(entries []*entry) map[int64]float64 {
	scores := make(map[int64]float64, len(entries))
	if len(entries) == 0 {
		return scores
	}

	minAdded, maxAdded := entries[0].addedAt, entries[0].addedAt
	minAccess, maxAccess := entries[0].accessCount, entries[0].accessCount
	minImp, maxImp := entries[0].importance, entries[0].importance
	for _, e := range entries {
		if e.addedAt.Before(minAdded) {
			minAdded = e.addedAt
		}
		if e.addedAt.After(maxAdded) {
			maxAdded = e.addedAt
		}
		if e.accessCount < minAccess {
			minAccess = e.accessCount
		}
		if e.accessCount > maxAccess {
			maxAccess = e.accessCount
		}
		if e.importance < minImp {
			minImp = e.importance
		}
		if e.importance > maxImp {
			maxImp = e.importance
		}
	}

	addedSpan := maxAdded.Sub(minAdded).Seconds()
	accessSpan := float64(maxAccess - minAccess)
	impSpan := maxImp - minImp

	for _, e := range entries {
		recency := normalize(e.addedAt.Sub(minAdded).Seconds(), addedSpan)
		access := normalize(float64(e.accessCount-minAccess), accessSpan)
		importance := normalize(e.importance-minImp, impSpan)
		scores[e.nodeID] = 0.4*recency + 0.4*access + 0.2*importance
	}
	return scores
}

// normalize maps value into [0, 1] given the span of values it was drawn
// from; a zero span (every entry tied) normalizes to 1 so ties don't bias
// eviction toward or away from any particular entry.
func normalize(value, span float64) float64 {
	if span <= 0 {
		return 1
	}
	return value / span
}

// AssembleContext concatenates held entries' content, newline-joined, in
// the order strategy specifies, skipping any entry whose addition would
// exceed budget (maxTokens if non-nil, else the cache's own maxTokens);
// later entries that still fit are included.
func (c *Cache) AssembleContext(strategy Strategy, maxTokens *int) string {
	c.mu.Lock()
	all := c.snapshotLocked()
	budget := c.maxTokens
	c.mu.Unlock()

	if maxTokens != nil {
		budget = *maxTokens
	}

	ordered := orderEntries(all, strategy)

	var b strings.Builder
	used := 0
	for _, e := range ordered {
		if used+e.tokenCount > budget {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(e.content)
		used += e.tokenCount
	}
	return b.String()
}

func orderEntries(all []*entry, strategy Strategy) []*entry {
	switch strategy {
	case StrategyImportant:
		sort.SliceStable(all, func(i, j int) bool {
			if all[i].importance != all[j].importance {
				return all[i].importance > all[j].importance
			}
			return all[i].addedAt.After(all[j].addedAt)
		})
		return all
	case StrategyBalanced:
		return interleave(all)
	default: // StrategyRecent
		sort.SliceStable(all, func(i, j int) bool {
			return all[i].addedAt.After(all[j].addedAt)
		})
		return all
	}
}

// interleave alternates highest-importance-first and most-recent-first,
// skipping entries already picked, until every entry has been placed once.
func interleave(all []*entry) []*entry {
	byImportance := append([]*entry(nil), all...)
	sort.SliceStable(byImportance, func(i, j int) bool {
		if byImportance[i].importance != byImportance[j].importance {
			return byImportance[i].importance > byImportance[j].importance
		}
		return byImportance[i].addedAt.After(byImportance[j].addedAt)
	})
	byRecency := append([]*entry(nil), all...)
	sort.SliceStable(byRecency, func(i, j int) bool {
		return byRecency[i].addedAt.After(byRecency[j].addedAt)
	})

	picked := make(map[int64]struct{}, len(all))
	out := make([]*entry, 0, len(all))
	i, j := 0, 0
	pickNext := true
	for len(out) < len(all) {
		if pickNext {
			for i < len(byImportance) {
				e := byImportance[i]
				i++
				if _, done := picked[e.nodeID]; !done {
					picked[e.nodeID] = struct{}{}
					out = append(out, e)
					break
				}
			}
		} else {
			for j < len(byRecency) {
				e := byRecency[j]
				j++
				if _, done := picked[e.nodeID]; !done {
					picked[e.nodeID] = struct{}{}
					out = append(out, e)
					break
				}
			}
		}
		pickNext = !pickNext
	}
	return out
}
