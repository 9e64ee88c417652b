package workingmemory

import "sync"

// Manager owns one Cache per robot, created lazily on first use with the
// configured default token budget.
type Manager struct {
	mu               sync.RWMutex
	defaultMaxTokens int
	caches           map[int64]*Cache
}

// NewManager builds a Manager. defaultMaxTokens seeds every Cache it
// creates (config.WorkingMemoryConfig.DefaultMaxTokens).
func NewManager(defaultMaxTokens int) *Manager {
	return &Manager{
		defaultMaxTokens: defaultMaxTokens,
		caches:           make(map[int64]*Cache),
	}
}

// CacheFor returns robotID's Cache, creating it if this is the first call
// for that robot.
func (m *Manager) CacheFor(robotID int64) *Cache {
	m.mu.RLock()
	c, ok := m.caches[robotID]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.caches[robotID]; ok {
		return c
	}
	c = NewCache(m.defaultMaxTokens)
	m.caches[robotID] = c
	return c
}

// Promote adds the node to robotID's working memory if it is not already
// present, the side effect of a successful recall. Returns the node ids
// evicted to make room, if any.
func (m *Manager) Promote(robotID, nodeID int64, content string, tokenCount int) []int64 {
	return m.CacheFor(robotID).Add(nodeID, content, tokenCount, nil, true)
}

// Forget removes a node from every robot's working memory, used when the
// long-term store hard-deletes or soft-deletes it.
func (m *Manager) Forget(nodeID int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.caches {
		c.Remove(nodeID)
	}
}
