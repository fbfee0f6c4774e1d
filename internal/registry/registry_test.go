package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tandem/internal/ident"
	"tandem/internal/store"
	"tandem/internal/store/model"
	"tandem/internal/venue"
)

// fakeStore is an in-memory Store with the same contract as gormstore:
// sentinel errors from internal/store, optimistic version check on
// UpdateOperation.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	ops    map[int64]*model.OperationModel
	legs   map[int64][]*model.LegModel

	anomalies []*model.AnomalyModel

	// failUpdates makes the next N UpdateOperation calls return a
	// version conflict.
	failUpdates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID: 1,
		ops:    make(map[int64]*model.OperationModel),
		legs:   make(map[int64][]*model.LegModel),
	}
}

func (f *fakeStore) InsertOperation(_ context.Context, op *model.OperationModel, legs []*model.LegModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	op.ID = f.nextID
	f.nextID++
	f.ops[op.ID] = op
	for _, leg := range legs {
		leg.ID = f.nextID
		f.nextID++
		leg.OperationID = op.ID
	}
	f.legs[op.ID] = legs
	return nil
}

func (f *fakeStore) FindOpenOperation(_ context.Context, instrument string, agentID, profileID int) (*model.OperationModel, []*model.LegModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, op := range f.ops {
		if op.Instrument == instrument && op.AgentID == agentID && op.ProfileID == profileID && op.ArchivedAtUnix == nil {
			return op, f.legs[id], nil
		}
	}
	return nil, nil, store.ErrNotFound
}

func (f *fakeStore) GetOperation(_ context.Context, id int64) (*model.OperationModel, []*model.LegModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.ops[id]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	return op, f.legs[id], nil
}

func (f *fakeStore) ListOpenOperations(_ context.Context, agentID int) ([]*model.OperationModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.OperationModel
	for _, op := range f.ops {
		if op.AgentID == agentID && op.ArchivedAtUnix == nil {
			out = append(out, op)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateOperation(_ context.Context, op *model.OperationModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdates > 0 {
		f.failUpdates--
		return store.ErrVersionConflict
	}
	cur, ok := f.ops[op.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur != op && cur.Version != op.Version {
		return store.ErrVersionConflict
	}
	op.Version++
	f.ops[op.ID] = op
	return nil
}

func (f *fakeStore) UpdateLeg(_ context.Context, leg *model.LegModel) error {
	return nil
}

func (f *fakeStore) InsertAnomaly(_ context.Context, rec *model.AnomalyModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anomalies = append(f.anomalies, rec)
	return nil
}

func testTriple() Triple {
	return Triple{Instrument: "EURUSD", AgentID: 3, ProfileID: 7}
}

func testLegs(t *testing.T) []Leg {
	t.Helper()
	marketID, err := ident.Encode(3, 7, ident.KindMarket)
	require.NoError(t, err)
	pendingID, err := ident.Encode(3, 7, ident.KindPending)
	require.NoError(t, err)
	return []Leg{
		{Identifier: marketID, Kind: ident.KindMarket, Direction: venue.DirectionLong, RequestedPrice: 1.1000, StopLoss: 1.0950, TakeProfit: 1.1100, Size: 0.4},
		{Identifier: pendingID, Kind: ident.KindPending, Direction: venue.DirectionLong, RequestedPrice: 1.0970, StopLoss: 1.0950, TakeProfit: 1.1100, Size: 0.4},
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	reg := New(newFakeStore())
	ctx := context.Background()

	op, err := reg.Create(ctx, CreateParams{Triple: testTriple(), Conversation: "c-1", Legs: testLegs(t)})
	require.NoError(t, err)
	require.Len(t, op.Legs, 2)
	assert.Equal(t, model.LegRequested, op.Legs[0].Status)

	_, err = reg.Create(ctx, CreateParams{Triple: testTriple(), Conversation: "c-2", Legs: testLegs(t)})
	assert.ErrorIs(t, err, ErrDuplicateOperation)

	// A different profile is a different slot.
	other := testTriple()
	other.ProfileID = 8
	_, err = reg.Create(ctx, CreateParams{Triple: other, Conversation: "c-3", Legs: testLegs(t)})
	assert.NoError(t, err)
}

func TestStatusFollowsLegs(t *testing.T) {
	reg := New(newFakeStore())
	ctx := context.Background()

	op, err := reg.Create(ctx, CreateParams{Triple: testTriple(), Conversation: "c-1", Legs: testLegs(t)})
	require.NoError(t, err)
	assert.Equal(t, model.OperationPendingDecision, op.Status)

	market := op.Legs[0].Identifier
	pending := op.Legs[1].Identifier

	require.NoError(t, reg.MarkLegWorking(ctx, op.ID, market, "t-1"))
	got, err := reg.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OperationOpen, got.Status)

	require.NoError(t, reg.MarkLegWorking(ctx, op.ID, pending, "t-2"))
	require.NoError(t, reg.CloseLeg(ctx, op.ID, market))
	got, err = reg.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OperationPartiallyClosed, got.Status)

	require.NoError(t, reg.MarkLegCancelled(ctx, op.ID, pending))
	got, err = reg.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OperationClosed, got.Status)
}

func TestTerminalLegNeverReverts(t *testing.T) {
	reg := New(newFakeStore())
	ctx := context.Background()

	op, err := reg.Create(ctx, CreateParams{Triple: testTriple(), Conversation: "c-1", Legs: testLegs(t)})
	require.NoError(t, err)
	market := op.Legs[0].Identifier

	require.NoError(t, reg.MarkLegWorking(ctx, op.ID, market, "t-1"))
	require.NoError(t, reg.CloseLeg(ctx, op.ID, market))

	assert.Error(t, reg.MarkLegWorking(ctx, op.ID, market, "t-9"))
	assert.Error(t, reg.MarkLegFilled(ctx, op.ID, market))
	assert.Error(t, reg.AdjustLeg(ctx, op.ID, market, 1.0, 2.0))
	assert.Error(t, reg.MarkLegCancelled(ctx, op.ID, market))
	assert.Error(t, reg.CloseLeg(ctx, op.ID, market))

	// A cancelled leg must not be closable either.
	pending := op.Legs[1].Identifier
	require.NoError(t, reg.MarkLegCancelled(ctx, op.ID, pending))
	assert.Error(t, reg.CloseLeg(ctx, op.ID, pending))

	got, err := reg.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LegClosed, got.Legs[0].Status)
	assert.Equal(t, model.LegCancelled, got.Legs[1].Status)
}

func TestArchiveIfFullyClosed(t *testing.T) {
	reg := New(newFakeStore())
	ctx := context.Background()

	op, err := reg.Create(ctx, CreateParams{Triple: testTriple(), Conversation: "c-1", Legs: testLegs(t)})
	require.NoError(t, err)
	market := op.Legs[0].Identifier
	pending := op.Legs[1].Identifier

	// Not archivable while a leg is live.
	require.NoError(t, reg.MarkLegWorking(ctx, op.ID, market, "t-1"))
	archived, err := reg.ArchiveIfFullyClosed(ctx, op.ID)
	require.NoError(t, err)
	assert.False(t, archived)

	require.NoError(t, reg.CloseLeg(ctx, op.ID, market))
	require.NoError(t, reg.MarkLegCancelled(ctx, op.ID, pending))

	archived, err = reg.ArchiveIfFullyClosed(ctx, op.ID)
	require.NoError(t, err)
	assert.True(t, archived)

	got, err := reg.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)
	assert.Empty(t, got.Conversation)

	// Idempotent.
	archived, err = reg.ArchiveIfFullyClosed(ctx, op.ID)
	require.NoError(t, err)
	assert.False(t, archived)

	// The slot is free again.
	open, err := reg.FindOpen(ctx, testTriple())
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestUpdateRetriesOnceOnConflict(t *testing.T) {
	fs := newFakeStore()
	reg := New(fs)
	ctx := context.Background()

	op, err := reg.Create(ctx, CreateParams{Triple: testTriple(), Conversation: "c-1", Legs: testLegs(t)})
	require.NoError(t, err)

	// One conflict is absorbed by the single retry.
	fs.failUpdates = 1
	require.NoError(t, reg.MarkLegWorking(ctx, op.ID, op.Legs[0].Identifier, "t-1"))

	// Two conflicts in a row surface as ErrConflict.
	fs.failUpdates = 2
	err = reg.CloseLeg(ctx, op.ID, op.Legs[0].Identifier)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSerializeSingleWriterPerTriple(t *testing.T) {
	reg := New(newFakeStore())

	var inside int
	var maxInside int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.Serialize(testTriple(), func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
}

func TestRecordAnomalySwallowsNothingOnSuccess(t *testing.T) {
	fs := newFakeStore()
	reg := New(fs)

	reg.RecordAnomaly(context.Background(), testTriple(), 1, 0, "tick_overlap", "previous cycle still running")
	require.Len(t, fs.anomalies, 1)
	assert.Equal(t, "tick_overlap", fs.anomalies[0].Reason)
	assert.Equal(t, "EURUSD", fs.anomalies[0].Instrument)
}

func TestFindOpenIgnoresArchived(t *testing.T) {
	reg := New(newFakeStore())
	ctx := context.Background()

	op, err := reg.Create(ctx, CreateParams{Triple: testTriple(), Conversation: "c-1", Legs: testLegs(t)})
	require.NoError(t, err)
	require.NoError(t, reg.MarkLegCancelled(ctx, op.ID, op.Legs[0].Identifier))
	require.NoError(t, reg.MarkLegCancelled(ctx, op.ID, op.Legs[1].Identifier))
	_, err = reg.ArchiveIfFullyClosed(ctx, op.ID)
	require.NoError(t, err)

	// New entry on the same triple succeeds after archive.
	_, err = reg.Create(ctx, CreateParams{Triple: testTriple(), Conversation: "c-2", Legs: testLegs(t)})
	assert.NoError(t, err)

	ops, err := reg.ListOpen(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}
