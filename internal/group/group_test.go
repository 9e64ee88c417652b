package group

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MycelicMemory/htm/internal/retrieval"
	"github.com/MycelicMemory/htm/internal/store"
	"github.com/MycelicMemory/htm/internal/workingmemory"
)

type fakeStore struct {
	groups        map[string]*store.RobotGroup
	members       map[int64][]store.RobotGroupMember
	nodes         map[int64]*store.Node
	workingMemory map[int64][]int64
	nextGroupID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		groups:        make(map[string]*store.RobotGroup),
		members:       make(map[int64][]store.RobotGroupMember),
		nodes:         make(map[int64]*store.Node),
		workingMemory: make(map[int64][]int64),
	}
}

func (f *fakeStore) GetGroupByName(ctx context.Context, name string) (*store.RobotGroup, error) {
	g, ok := f.groups[name]
	if !ok {
		return nil, errsNotFound(name)
	}
	return g, nil
}

func (f *fakeStore) CreateGroup(ctx context.Context, name string, maxTokens int) (*store.RobotGroup, error) {
	f.nextGroupID++
	g := &store.RobotGroup{ID: f.nextGroupID, Name: name, MaxTokens: maxTokens}
	f.groups[name] = g
	return g, nil
}

func (f *fakeStore) ListGroupMembers(ctx context.Context, groupID int64) ([]store.RobotGroupMember, error) {
	return f.members[groupID], nil
}

func (f *fakeStore) AddGroupMember(ctx context.Context, groupID, robotID int64, role string) error {
	for i, m := range f.members[groupID] {
		if m.RobotID == robotID {
			f.members[groupID][i].Role = role
			return nil
		}
	}
	pos := 0
	for _, m := range f.members[groupID] {
		if m.Role == role {
			pos++
		}
	}
	f.members[groupID] = append(f.members[groupID], store.RobotGroupMember{
		GroupID: groupID, RobotID: robotID, Role: role, Position: pos,
	})
	return nil
}

func (f *fakeStore) RemoveGroupMember(ctx context.Context, groupID, robotID int64) error {
	out := f.members[groupID][:0]
	for _, m := range f.members[groupID] {
		if m.RobotID != robotID {
			out = append(out, m)
		}
	}
	f.members[groupID] = out
	return nil
}

func (f *fakeStore) SetMemberRole(ctx context.Context, groupID, robotID int64, role string, position int) error {
	for i, m := range f.members[groupID] {
		if m.RobotID == robotID {
			f.members[groupID][i].Role = role
			f.members[groupID][i].Position = position
			return nil
		}
	}
	return errsNotFound("member")
}

func (f *fakeStore) GetNode(ctx context.Context, id int64, includeDeleted bool) (*store.Node, error) {
	n, ok := f.nodes[id]
	if !ok {
		return nil, errsNotFound("node")
	}
	return n, nil
}

func (f *fakeStore) WorkingMemoryNodeIDs(ctx context.Context, robotID int64) ([]int64, error) {
	return f.workingMemory[robotID], nil
}

func (f *fakeStore) SetWorkingMemoryFlag(ctx context.Context, robotID, nodeID int64, inWorkingMemory bool) error {
	ids := f.workingMemory[robotID]
	for i, id := range ids {
		if id == nodeID {
			if inWorkingMemory {
				return nil
			}
			f.workingMemory[robotID] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	if inWorkingMemory {
		f.workingMemory[robotID] = append(ids, nodeID)
	}
	return nil
}

type errNotFound string

func (e errNotFound) Error() string { return string(e) }

func errsNotFound(what string) error { return errNotFound("not found: " + what) }

type fakeRememberer struct {
	nextID int64
}

func (f *fakeRememberer) Remember(ctx context.Context, content string, robotID int64) (int64, error) {
	f.nextID++
	return f.nextID, nil
}

type fakeRecaller struct {
	results []retrieval.Result
}

func (f *fakeRecaller) Recall(ctx context.Context, query string, strategy retrieval.Strategy, limit int, tf *retrieval.Timeframe, tagFilter []string, queryEmbedding []float32) ([]retrieval.Result, error) {
	return f.results, nil
}

type fakePublisher struct {
	published []Payload
}

func (f *fakePublisher) Publish(ctx context.Context, payload Payload) error {
	f.published = append(f.published, payload)
	return nil
}

func newTestGroup(t *testing.T, st *fakeStore, rememberer Rememberer, recaller Recaller, pub *fakePublisher, selfID int64) *Group {
	t.Helper()
	return &Group{
		store:       st,
		rememberer:  rememberer,
		recaller:    recaller,
		wm:          workingmemory.NewManager(1000),
		channel:     pub,
		id:          1,
		name:        "squad",
		selfRobotID: selfID,
	}
}

func TestRememberPublishesAddedAndAdmitsLocally(t *testing.T) {
	st := newFakeStore()
	st.nodes[1] = &store.Node{ID: 1, Content: "hello", TokenCount: 5}
	rememberer := &fakeRememberer{}
	pub := &fakePublisher{}
	g := newTestGroup(t, st, rememberer, nil, pub, 9)

	id, err := g.Remember(context.Background(), "hello", 9)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	require.Len(t, pub.published, 1)
	assert.Equal(t, EventAdded, pub.published[0].Event)
	assert.Equal(t, int64(9), pub.published[0].OriginRobotID)

	assert.True(t, g.wm.CacheFor(9).Contains(1))
}

func TestRecallPromotesResultsIntoWorkingMemory(t *testing.T) {
	st := newFakeStore()
	st.nodes[5] = &store.Node{ID: 5, Content: "recalled", TokenCount: 10}
	recaller := &fakeRecaller{results: []retrieval.Result{{ID: 5, Content: "recalled"}}}
	g := newTestGroup(t, st, nil, recaller, &fakePublisher{}, 3)

	results, err := g.Recall(context.Background(), "q", retrieval.StrategyHybrid, 10, nil, nil, nil, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, g.wm.CacheFor(3).Contains(5))
	assert.Contains(t, st.workingMemory[3], int64(5))
}

func TestRememberPersistsWorkingMemoryFlag(t *testing.T) {
	st := newFakeStore()
	st.nodes[1] = &store.Node{ID: 1, Content: "hello", TokenCount: 5}
	rememberer := &fakeRememberer{}
	g := newTestGroup(t, st, rememberer, nil, &fakePublisher{}, 9)

	id, err := g.Remember(context.Background(), "hello", 9)
	require.NoError(t, err)
	assert.Contains(t, st.workingMemory[9], id)
}

func TestRememberEvictionClearsWorkingMemoryFlag(t *testing.T) {
	st := newFakeStore()
	st.nodes[1] = &store.Node{ID: 1, Content: "one", TokenCount: 1000}
	st.nodes[2] = &store.Node{ID: 2, Content: "two", TokenCount: 1000}
	rememberer := &fakeRememberer{}
	g := newTestGroup(t, st, rememberer, nil, &fakePublisher{}, 9)
	g.wm = workingmemory.NewManager(1000)

	first, err := g.Remember(context.Background(), "one", 9)
	require.NoError(t, err)
	assert.Contains(t, st.workingMemory[9], first)

	second, err := g.Remember(context.Background(), "two", 9)
	require.NoError(t, err)

	assert.False(t, g.wm.CacheFor(9).Contains(first))
	assert.NotContains(t, st.workingMemory[9], first)
	assert.Contains(t, st.workingMemory[9], second)
}

func TestApplyEventOriginSuppression(t *testing.T) {
	st := newFakeStore()
	g := newTestGroup(t, st, nil, nil, &fakePublisher{}, 9)

	g.handleNotification(Payload{Event: EventAdded, NodeID: 1, OriginRobotID: 9, TS: time.Now()})
	assert.False(t, g.wm.CacheFor(9).Contains(1))
}

func TestApplyEventAddedMaterializesRemoteNode(t *testing.T) {
	st := newFakeStore()
	st.nodes[1] = &store.Node{ID: 1, Content: "remote", TokenCount: 3}
	g := newTestGroup(t, st, nil, nil, &fakePublisher{}, 9)

	g.handleNotification(Payload{Event: EventAdded, NodeID: 1, OriginRobotID: 2, TS: time.Now()})
	assert.True(t, g.wm.CacheFor(9).Contains(1))
}

func TestApplyEventClearedEmptiesCache(t *testing.T) {
	st := newFakeStore()
	g := newTestGroup(t, st, nil, nil, &fakePublisher{}, 9)
	g.wm.CacheFor(9).Add(1, "x", 10, nil, false)

	g.handleNotification(Payload{Event: EventCleared, OriginRobotID: 2, TS: time.Now()})
	assert.Equal(t, 0, g.wm.CacheFor(9).NodeCount())
}

func TestApplyEventIgnoresEventsOlderThanLastCleared(t *testing.T) {
	st := newFakeStore()
	st.nodes[1] = &store.Node{ID: 1, Content: "x", TokenCount: 1}
	g := newTestGroup(t, st, nil, nil, &fakePublisher{}, 9)

	now := time.Now()
	g.handleNotification(Payload{Event: EventCleared, OriginRobotID: 2, TS: now})
	g.handleNotification(Payload{Event: EventAdded, NodeID: 1, OriginRobotID: 2, TS: now.Add(-time.Second)})

	assert.False(t, g.wm.CacheFor(9).Contains(1))
}

func TestFailoverPromotesFirstPassive(t *testing.T) {
	st := newFakeStore()
	st.members[1] = []store.RobotGroupMember{
		{GroupID: 1, RobotID: 10, Role: roleActive, Position: 0},
		{GroupID: 1, RobotID: 20, Role: rolePassive, Position: 0},
		{GroupID: 1, RobotID: 21, Role: rolePassive, Position: 1},
	}
	g := newTestGroup(t, st, nil, nil, &fakePublisher{}, 20)
	require.NoError(t, g.reloadMembership(context.Background()))

	status, err := g.Failover(context.Background(), 10)
	require.NoError(t, err)
	assert.Contains(t, status.Active, int64(20))
	assert.NotContains(t, status.Active, int64(10))
}

func TestFailoverNoPassiveIsNoop(t *testing.T) {
	st := newFakeStore()
	st.members[1] = []store.RobotGroupMember{
		{GroupID: 1, RobotID: 10, Role: roleActive, Position: 0},
	}
	g := newTestGroup(t, st, nil, nil, &fakePublisher{}, 10)
	require.NoError(t, g.reloadMembership(context.Background()))

	status, err := g.Failover(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, status.Active)
}

func TestSyncRobotAddsMissingAndRemovesExtra(t *testing.T) {
	st := newFakeStore()
	st.nodes[2] = &store.Node{ID: 2, Content: "two", TokenCount: 2}
	st.workingMemory[9] = []int64{2}
	g := newTestGroup(t, st, nil, nil, &fakePublisher{}, 9)
	g.wm.CacheFor(9).Add(1, "stale", 1, nil, false)

	require.NoError(t, g.SyncRobot(context.Background(), 9))

	cache := g.wm.CacheFor(9)
	assert.False(t, cache.Contains(1))
	assert.True(t, cache.Contains(2))
}

func TestStatusReportsInSync(t *testing.T) {
	st := newFakeStore()
	st.workingMemory[9] = []int64{1}
	g := newTestGroup(t, st, nil, nil, &fakePublisher{}, 9)
	g.wm.CacheFor(9).Add(1, "one", 1, nil, false)

	status, err := g.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.InSync)
}
