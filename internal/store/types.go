package store

import "time"

// Node is the atomic, immutable unit of memory. Content never changes after
// creation; only embedding, tags, source linkage (LinkSource),
// last_accessed, and the soft-delete timestamp are mutated after the
// initial insert.
type Node struct {
	ID                 int64
	Content            string
	ContentHash        string
	TokenCount         int
	Embedding          []float32
	EmbeddingDimension *int
	Metadata           map[string]any
	SourceID           *int64
	ChunkPosition      *int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastAccessed       time.Time
	DeletedAt          *time.Time
}

// Deleted reports whether the node is currently soft-deleted.
func (n *Node) Deleted() bool { return n.DeletedAt != nil }

// Tag is a node of the hierarchical ontology. Name is colon-separated,
// e.g. "database:postgresql"; every prefix of a valid name is itself a
// valid, materialized Tag (ancestor-closure invariant enforced by
// AttachTags, not by this type).
type Tag struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Depth returns the number of colon-separated segments, e.g. depth("a:b:c") == 3.
func (t *Tag) Depth() int { return tagDepth(t.Name) }

// NodeTag links a Node to a Tag.
type NodeTag struct {
	ID        int64
	NodeID    int64
	TagID     int64
	CreatedAt time.Time
	DeletedAt *time.Time
}

// Robot is an agent identity.
type Robot struct {
	ID         int64
	ExternalID string // UUID, assigned at creation
	Name       string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// RobotNode records one robot's "remember" provenance for one node.
type RobotNode struct {
	ID                int64
	RobotID           int64
	NodeID            int64
	RememberCount     int
	FirstRememberedAt time.Time
	LastRememberedAt  time.Time
	WorkingMemory     bool
	DeletedAt         *time.Time
}

// RobotGroup is a named collection of robots sharing a working-memory view
// and a token budget, synchronized across processes via the group channel.
type RobotGroup struct {
	ID        int64
	Name      string
	MaxTokens int
	CreatedAt time.Time
}

// RobotGroupMember records one robot's role and promotion order within a
// group. Position orders the passive set for failover.
type RobotGroupMember struct {
	ID       int64
	GroupID  int64
	RobotID  int64
	Role     string // "active" | "passive"
	Position int
}

// FileSource is the collaborator-boundary record a file loader writes to
// link chunks back to their origin file. Its internals (frontmatter parsing,
// chunking) are out of scope; only the linkage row lives here.
type FileSource struct {
	ID           int64
	FilePath     string
	FileHash     string
	MTime        *time.Time
	FileSize     *int64
	Frontmatter  map[string]any
	LastSyncedAt *time.Time
}
