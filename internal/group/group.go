// Package group implements cross-process robot-group synchronization: a
// pub/sub channel layered over PostgreSQL LISTEN/NOTIFY that propagates
// working-memory deltas between group members and supports cooperative
// warm-standby failover.
package group

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MycelicMemory/htm/internal/errs"
	"github.com/MycelicMemory/htm/internal/metrics"
	"github.com/MycelicMemory/htm/internal/retrieval"
	"github.com/MycelicMemory/htm/internal/store"
	"github.com/MycelicMemory/htm/internal/workingmemory"
)

var met = metrics.Default()

const (
	roleActive  = "active"
	rolePassive = "passive"
)

// Store is the narrow persistence surface Group needs: group/membership
// CRUD plus node reads to materialize remote channel events.
type Store interface {
	GetGroupByName(ctx context.Context, name string) (*store.RobotGroup, error)
	CreateGroup(ctx context.Context, name string, maxTokens int) (*store.RobotGroup, error)
	ListGroupMembers(ctx context.Context, groupID int64) ([]store.RobotGroupMember, error)
	AddGroupMember(ctx context.Context, groupID, robotID int64, role string) error
	RemoveGroupMember(ctx context.Context, groupID, robotID int64) error
	SetMemberRole(ctx context.Context, groupID, robotID int64, role string, position int) error
	GetNode(ctx context.Context, id int64, includeDeleted bool) (*store.Node, error)
	WorkingMemoryNodeIDs(ctx context.Context, robotID int64) ([]int64, error)
	SetWorkingMemoryFlag(ctx context.Context, robotID, nodeID int64, inWorkingMemory bool) error
}

// Rememberer is the persistence operation a Group's Remember delegates
// to before publishing the resulting Added event.
type Rememberer interface {
	Remember(ctx context.Context, content string, robotID int64) (int64, error)
}

// Recaller is the retrieval operation a Group's Recall delegates to.
type Recaller interface {
	Recall(ctx context.Context, query string, strategy retrieval.Strategy, limit int, tf *retrieval.Timeframe, tagFilter []string, queryEmbedding []float32) ([]retrieval.Result, error)
}

// publisher is the channel operation Group needs; *Channel satisfies it.
// Narrowed so tests can exercise Group's event logic without a live
// Postgres LISTEN/NOTIFY connection.
type publisher interface {
	Publish(ctx context.Context, payload Payload) error
}

// Status summarizes a group's current state from this process's view.
type Status struct {
	Active           []int64
	Passive          []int64
	NodeCount        int
	TokenUtilization float64
	InSync           bool
}

// Group is one process's membership in a named robot group: it owns the
// channel subscription for that group's wire and keeps selfRobotID's local
// working-memory cache converged with the authoritative store.
type Group struct {
	mu sync.RWMutex

	store      Store
	rememberer Rememberer
	recaller   Recaller
	wm         *workingmemory.Manager
	channel    publisher
	shutdown   func()

	id          int64
	name        string
	selfRobotID int64

	active  []int64
	passive []int64

	lastCleared time.Time

	reconcileInterval time.Duration
	stopReconcile     chan struct{}
	wgReconcile       sync.WaitGroup
}

// Open joins selfRobotID to the named group (creating the group row if this
// is the first member), opens the LISTEN/NOTIFY channel, loads membership,
// and starts the periodic reconciliation tick.
func Open(
	ctx context.Context,
	pool *pgxpool.Pool,
	st Store,
	rememberer Rememberer,
	recaller Recaller,
	wm *workingmemory.Manager,
	name string,
	maxTokens int,
	selfRobotID int64,
	initialRole string,
	reconcileInterval time.Duration,
) (*Group, error) {
	g, err := st.GetGroupByName(ctx, name)
	if err != nil {
		if errs.KindOf(err) != errs.KindNotFound {
			return nil, err
		}
		g, err = st.CreateGroup(ctx, name, maxTokens)
		if err != nil {
			return nil, err
		}
	}

	if initialRole != roleActive && initialRole != rolePassive {
		initialRole = rolePassive
	}
	if err := st.AddGroupMember(ctx, g.ID, selfRobotID, initialRole); err != nil {
		return nil, err
	}

	if reconcileInterval <= 0 {
		reconcileInterval = 30 * time.Second
	}

	grp := &Group{
		store:             st,
		rememberer:        rememberer,
		recaller:          recaller,
		wm:                wm,
		id:                g.ID,
		name:              name,
		selfRobotID:       selfRobotID,
		reconcileInterval: reconcileInterval,
		stopReconcile:     make(chan struct{}),
	}

	if err := grp.reloadMembership(ctx); err != nil {
		return nil, err
	}

	channel, err := openChannel(ctx, pool, name, grp.handleNotification)
	if err != nil {
		return nil, err
	}
	grp.channel = channel
	grp.shutdown = channel.Shutdown

	grp.wgReconcile.Add(1)
	go grp.reconcileLoop()

	return grp, nil
}

func (g *Group) reloadMembership(ctx context.Context) error {
	members, err := g.store.ListGroupMembers(ctx, g.id)
	if err != nil {
		return err
	}
	var active, passive []int64
	for _, m := range members {
		if m.Role == roleActive {
			active = append(active, m.RobotID)
		} else {
			passive = append(passive, m.RobotID)
		}
	}
	g.mu.Lock()
	g.active, g.passive = active, passive
	g.mu.Unlock()
	return nil
}

// Remember persists content against the given originator, admits it
// into the originator's local working memory, and publishes Added on the
// group channel so other members converge.
func (g *Group) Remember(ctx context.Context, content string, originatorRobotID int64) (int64, error) {
	nodeID, err := g.rememberer.Remember(ctx, content, originatorRobotID)
	if err != nil {
		return 0, err
	}

	node, err := g.store.GetNode(ctx, nodeID, false)
	if err == nil {
		g.admitToWorkingMemory(ctx, originatorRobotID, node.ID, node.Content, node.TokenCount, false)
	}

	_ = g.channel.Publish(ctx, Payload{
		Event:         EventAdded,
		NodeID:        nodeID,
		OriginRobotID: originatorRobotID,
		TS:            time.Now(),
	})
	return nodeID, nil
}

// Recall delegates to the retrieval engine and promotes every returned node
// into robotID's local working memory.
func (g *Group) Recall(ctx context.Context, query string, strategy retrieval.Strategy, limit int, tf *retrieval.Timeframe, tagFilter []string, queryEmbedding []float32, robotID int64) ([]retrieval.Result, error) {
	results, err := g.recaller.Recall(ctx, query, strategy, limit, tf, tagFilter, queryEmbedding)
	if err != nil {
		return nil, err
	}
	cache := g.wm.CacheFor(robotID)
	for _, r := range results {
		if cache.Contains(r.ID) {
			g.admitToWorkingMemory(ctx, robotID, r.ID, r.Content, 0, true)
			continue
		}
		node, err := g.store.GetNode(ctx, r.ID, false)
		if err != nil {
			continue
		}
		g.admitToWorkingMemory(ctx, robotID, node.ID, node.Content, node.TokenCount, true)
	}
	return results, nil
}

// admitToWorkingMemory promotes (nodeID, content, tokenCount) into robotID's
// cache and persists the resulting admission/eviction to the working_memory
// flag on each affected RobotNode.
func (g *Group) admitToWorkingMemory(ctx context.Context, robotID, nodeID int64, content string, tokenCount int, fromRecall bool) {
	evicted := g.wm.CacheFor(robotID).Add(nodeID, content, tokenCount, nil, fromRecall)
	if err := g.store.SetWorkingMemoryFlag(ctx, robotID, nodeID, true); err != nil {
		log.Warn("failed to set working memory flag", "robot_id", robotID, "node_id", nodeID, "error", err)
	}
	for _, evictedID := range evicted {
		if err := g.store.SetWorkingMemoryFlag(ctx, robotID, evictedID, false); err != nil {
			log.Warn("failed to clear working memory flag", "robot_id", robotID, "node_id", evictedID, "error", err)
		}
	}
}

// Failover promotes the first passive robot to active and removes the
// failing active robot from the active set. Idempotent: failing over a
// group with no passive robots is a no-op that leaves Status().InSync as
// the only signal of degraded capacity.
func (g *Group) Failover(ctx context.Context, failingRobotID int64) (Status, error) {
	g.mu.Lock()
	passive := append([]int64(nil), g.passive...)
	g.mu.Unlock()

	if len(passive) == 0 {
		return g.Status(ctx)
	}

	promoted := passive[0]
	if err := g.store.SetMemberRole(ctx, g.id, promoted, roleActive, 0); err != nil {
		return Status{}, err
	}
	if err := g.store.RemoveGroupMember(ctx, g.id, failingRobotID); err != nil {
		return Status{}, err
	}
	if err := g.SyncRobot(ctx, promoted); err != nil {
		return Status{}, err
	}
	if err := g.reloadMembership(ctx); err != nil {
		return Status{}, err
	}
	return g.Status(ctx)
}

// AddActive adds robotID to the group's active set.
func (g *Group) AddActive(ctx context.Context, robotID int64) error {
	if err := g.store.AddGroupMember(ctx, g.id, robotID, roleActive); err != nil {
		return err
	}
	return g.reloadMembership(ctx)
}

// AddPassive adds robotID to the group's passive set.
func (g *Group) AddPassive(ctx context.Context, robotID int64) error {
	if err := g.store.AddGroupMember(ctx, g.id, robotID, rolePassive); err != nil {
		return err
	}
	return g.reloadMembership(ctx)
}

// SyncRobot reconciles robotID's local working-memory cache against the
// authoritative set recorded in the store: nodes missing locally are
// fetched and added, nodes present locally but absent authoritatively are
// removed.
func (g *Group) SyncRobot(ctx context.Context, robotID int64) error {
	authoritative, err := g.store.WorkingMemoryNodeIDs(ctx, robotID)
	if err != nil {
		return err
	}
	want := make(map[int64]struct{}, len(authoritative))
	for _, id := range authoritative {
		want[id] = struct{}{}
	}

	cache := g.wm.CacheFor(robotID)
	have := cache.NodeIDs()
	haveSet := make(map[int64]struct{}, len(have))
	for _, id := range have {
		haveSet[id] = struct{}{}
	}

	for id := range haveSet {
		if _, ok := want[id]; !ok {
			cache.Remove(id)
		}
	}
	for id := range want {
		if _, ok := haveSet[id]; ok {
			continue
		}
		node, err := g.store.GetNode(ctx, id, false)
		if err != nil {
			continue
		}
		cache.Add(node.ID, node.Content, node.TokenCount, nil, false)
	}
	return nil
}

// Status reports this process's view of the group.
func (g *Group) Status(ctx context.Context) (Status, error) {
	g.mu.RLock()
	active := append([]int64(nil), g.active...)
	passive := append([]int64(nil), g.passive...)
	g.mu.RUnlock()

	cache := g.wm.CacheFor(g.selfRobotID)
	authoritative, err := g.store.WorkingMemoryNodeIDs(ctx, g.selfRobotID)
	if err != nil {
		return Status{}, err
	}
	inSync := sameSet(cache.NodeIDs(), authoritative)
	met.WorkingMemoryUtil.WithLabelValues(strconv.FormatInt(g.selfRobotID, 10)).Set(cache.Utilization())

	return Status{
		Active:           active,
		Passive:          passive,
		NodeCount:        cache.NodeCount(),
		TokenUtilization: cache.Utilization(),
		InSync:           inSync,
	}, nil
}

// Shutdown stops the channel listener and the reconciliation tick.
func (g *Group) Shutdown() {
	close(g.stopReconcile)
	g.wgReconcile.Wait()
	if g.shutdown != nil {
		g.shutdown()
	}
}

func (g *Group) reconcileLoop() {
	defer g.wgReconcile.Done()
	ticker := time.NewTicker(g.reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopReconcile:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), g.reconcileInterval)
			_ = g.SyncRobot(ctx, g.selfRobotID)
			cancel()
		}
	}
}

// handleNotification applies a remote channel event, suppressing events
// this process itself originated.
func (g *Group) handleNotification(p Payload) {
	met.ChannelNotifsTotal.WithLabelValues(g.name).Inc()
	if p.OriginRobotID == g.selfRobotID {
		return
	}
	g.applyEvent(p)
}

func (g *Group) applyEvent(p Payload) {
	g.mu.Lock()
	if p.TS.Before(g.lastCleared) {
		g.mu.Unlock()
		return
	}
	if p.Event == EventCleared && p.TS.After(g.lastCleared) {
		g.lastCleared = p.TS
	}
	g.mu.Unlock()

	cache := g.wm.CacheFor(g.selfRobotID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	switch p.Event {
	case EventAdded:
		node, err := g.store.GetNode(ctx, p.NodeID, false)
		if err != nil {
			log.Warn("failed to materialize added node", "node_id", p.NodeID, "error", err)
			return
		}
		g.admitToWorkingMemory(ctx, g.selfRobotID, node.ID, node.Content, node.TokenCount, false)
	case EventEvicted:
		cache.Remove(p.NodeID)
		if err := g.store.SetWorkingMemoryFlag(ctx, g.selfRobotID, p.NodeID, false); err != nil {
			log.Warn("failed to clear working memory flag", "robot_id", g.selfRobotID, "node_id", p.NodeID, "error", err)
		}
	case EventCleared:
		cleared := cache.NodeIDs()
		cache.Clear()
		for _, id := range cleared {
			if err := g.store.SetWorkingMemoryFlag(ctx, g.selfRobotID, id, false); err != nil {
				log.Warn("failed to clear working memory flag", "robot_id", g.selfRobotID, "node_id", id, "error", err)
			}
		}
	}
}

func sameSet(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[int64]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
