// Package registry owns Operation and Leg lifetimes. It is the only writer
// of operation state: agents funnel every mutation for one
// (instrument, agent, profile) triple through the same per-key lock, so
// timers may fire concurrently for different instruments but never race on
// the same triple.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tandem/internal/decision"
	"tandem/internal/ident"
	"tandem/internal/logger"
	"tandem/internal/store"
	"tandem/internal/store/model"
	"tandem/internal/venue"
)

var (
	// ErrDuplicateOperation guards the one-open-operation-per-triple
	// invariant.
	ErrDuplicateOperation = errors.New("registry: duplicate operation")

	// ErrConflict surfaces a concurrent write that survived one retry.
	ErrConflict = errors.New("registry: persistence conflict")

	ErrNotFound = errors.New("registry: not found")
)

// Store is the persistence the registry runs on. Implemented by
// gormstore.Store; tests substitute an in-memory fake.
type Store interface {
	InsertOperation(ctx context.Context, op *model.OperationModel, legs []*model.LegModel) error
	FindOpenOperation(ctx context.Context, instrument string, agentID, profileID int) (*model.OperationModel, []*model.LegModel, error)
	GetOperation(ctx context.Context, id int64) (*model.OperationModel, []*model.LegModel, error)
	ListOpenOperations(ctx context.Context, agentID int) ([]*model.OperationModel, error)
	UpdateOperation(ctx context.Context, op *model.OperationModel) error
	UpdateLeg(ctx context.Context, leg *model.LegModel) error
	InsertAnomaly(ctx context.Context, rec *model.AnomalyModel) error
}

// Triple keys one logical operation slot.
type Triple struct {
	Instrument string
	AgentID    int
	ProfileID  int
}

func (t Triple) String() string {
	return fmt.Sprintf("%s/agent=%d/profile=%d", t.Instrument, t.AgentID, t.ProfileID)
}

// Leg is the domain view of one venue order.
type Leg struct {
	ID             int64
	Identifier     ident.Identifier
	Kind           ident.Kind
	Direction      venue.Direction
	RequestedPrice float64
	StopLoss       float64
	TakeProfit     float64
	Size           float64
	Ticket         venue.Ticket
	Status         model.LegStatus
}

// Active reports whether the leg still references live venue state.
func (l Leg) Active() bool { return !l.Status.Terminal() }

// Operation is the domain view of one logical decision unit.
type Operation struct {
	ID           int64
	Triple       Triple
	Conversation decision.ConversationHandle
	Status       model.OperationStatus
	Legs         []Leg
	OpenedAt     time.Time
	Archived     bool
}

// Registry serializes and persists operation lifecycles per agent
// namespace. Agents share no registry state; each agent instance owns one.
type Registry struct {
	store Store

	mu    sync.Mutex
	locks map[Triple]*sync.Mutex
}

func New(store Store) *Registry {
	return &Registry{store: store, locks: make(map[Triple]*sync.Mutex)}
}

func (r *Registry) lockFor(t Triple) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[t]
	if !ok {
		l = &sync.Mutex{}
		r.locks[t] = l
	}
	return l
}

// Serialize runs fn under the triple's single-writer lock. Multi-step
// mutations (find, create, submit, record) must run inside one Serialize
// call.
func (r *Registry) Serialize(t Triple, fn func() error) error {
	l := r.lockFor(t)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// FindOpen returns the non-archived operation for the triple, or nil.
func (r *Registry) FindOpen(ctx context.Context, t Triple) (*Operation, error) {
	op, legs, err := r.store.FindOpenOperation(ctx, t.Instrument, t.AgentID, t.ProfileID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return fromModel(op, legs), nil
}

// CreateParams describes a new operation with its initial legs, persisted
// as Requested before anything is submitted to the venue.
type CreateParams struct {
	Triple       Triple
	Conversation decision.ConversationHandle
	EntryPayload []byte
	Legs         []Leg
}

// Create persists a new operation. Fails with ErrDuplicateOperation if a
// non-archived operation already exists for the triple.
func (r *Registry) Create(ctx context.Context, p CreateParams) (*Operation, error) {
	existing, err := r.FindOpen(ctx, p.Triple)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s has open operation id=%d", ErrDuplicateOperation, p.Triple, existing.ID)
	}

	now := time.Now()
	opModel := &model.OperationModel{
		Instrument:   p.Triple.Instrument,
		AgentID:      p.Triple.AgentID,
		ProfileID:    p.Triple.ProfileID,
		Conversation: string(p.Conversation),
		Status:       model.OperationPendingDecision,
		EntryPayload: p.EntryPayload,
		OpenedAtUnix: now.Unix(),
	}
	legModels := make([]*model.LegModel, 0, len(p.Legs))
	for _, leg := range p.Legs {
		legModels = append(legModels, &model.LegModel{
			Identifier:     uint32(leg.Identifier),
			Kind:           int(leg.Kind),
			Direction:      string(leg.Direction),
			RequestedPrice: leg.RequestedPrice,
			StopLoss:       leg.StopLoss,
			TakeProfit:     leg.TakeProfit,
			Size:           leg.Size,
			Status:         model.LegRequested,
		})
	}
	if err := r.store.InsertOperation(ctx, opModel, legModels); err != nil {
		return nil, err
	}
	return fromModel(opModel, legModels), nil
}

// MarkLegWorking records venue acknowledgment of a submitted leg.
func (r *Registry) MarkLegWorking(ctx context.Context, opID int64, id ident.Identifier, ticket venue.Ticket) error {
	return r.mutateLeg(ctx, opID, id, func(leg *model.LegModel) error {
		if model.LegStatus(leg.Status).Terminal() {
			return fmt.Errorf("registry: leg %d is terminal", id)
		}
		leg.Status = model.LegWorking
		leg.Ticket = string(ticket)
		return nil
	})
}

// MarkLegCancelled records a leg whose submission failed or whose pending
// order was cancelled. Terminal, no venue state remains.
func (r *Registry) MarkLegCancelled(ctx context.Context, opID int64, id ident.Identifier) error {
	return r.mutateLeg(ctx, opID, id, func(leg *model.LegModel) error {
		if model.LegStatus(leg.Status) == model.LegClosed {
			return fmt.Errorf("registry: leg %d already closed", id)
		}
		leg.Status = model.LegCancelled
		return nil
	})
}

// MarkLegFilled records that a pending leg got filled.
func (r *Registry) MarkLegFilled(ctx context.Context, opID int64, id ident.Identifier) error {
	return r.mutateLeg(ctx, opID, id, func(leg *model.LegModel) error {
		if model.LegStatus(leg.Status).Terminal() {
			return fmt.Errorf("registry: leg %d is terminal", id)
		}
		leg.Status = model.LegFilled
		return nil
	})
}

// AdjustLeg persists modified protective levels after a venue modify call.
func (r *Registry) AdjustLeg(ctx context.Context, opID int64, id ident.Identifier, stop, target float64) error {
	return r.mutateLeg(ctx, opID, id, func(leg *model.LegModel) error {
		if model.LegStatus(leg.Status).Terminal() {
			return fmt.Errorf("registry: leg %d is terminal", id)
		}
		if stop > 0 {
			leg.StopLoss = stop
		}
		if target > 0 {
			leg.TakeProfit = target
		}
		return nil
	})
}

// CloseLeg marks a leg Closed after the venue close call succeeded.
func (r *Registry) CloseLeg(ctx context.Context, opID int64, id ident.Identifier) error {
	return r.mutateLeg(ctx, opID, id, func(leg *model.LegModel) error {
		if model.LegStatus(leg.Status).Terminal() {
			return fmt.Errorf("registry: leg %d is terminal", id)
		}
		leg.Status = model.LegClosed
		return nil
	})
}

func (r *Registry) mutateLeg(ctx context.Context, opID int64, id ident.Identifier, mutate func(*model.LegModel) error) error {
	op, legs, err := r.store.GetOperation(ctx, opID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: operation id=%d", ErrNotFound, opID)
		}
		return err
	}
	var target *model.LegModel
	for _, leg := range legs {
		if leg.Identifier == uint32(id) {
			target = leg
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: leg %d on operation id=%d", ErrNotFound, id, opID)
	}
	if err := mutate(target); err != nil {
		return err
	}
	if err := r.store.UpdateLeg(ctx, target); err != nil {
		return err
	}
	return r.refreshStatus(ctx, op, legs)
}

// refreshStatus recomputes the operation status from its legs and writes it
// with the conflict-retry discipline.
func (r *Registry) refreshStatus(ctx context.Context, op *model.OperationModel, legs []*model.LegModel) error {
	next := deriveStatus(legs)
	if next == op.Status {
		return nil
	}
	op.Status = next
	return r.updateWithRetry(ctx, op)
}

func deriveStatus(legs []*model.LegModel) model.OperationStatus {
	if len(legs) == 0 {
		return model.OperationPendingDecision
	}
	terminal := 0
	acknowledged := 0
	for _, leg := range legs {
		if leg.Status.Terminal() {
			terminal++
		}
		if leg.Status != model.LegRequested {
			acknowledged++
		}
	}
	switch {
	case terminal == len(legs):
		return model.OperationClosed
	case terminal > 0:
		return model.OperationPartiallyClosed
	case acknowledged > 0:
		return model.OperationOpen
	default:
		return model.OperationPendingDecision
	}
}

// ArchiveIfFullyClosed archives the operation once every leg is terminal
// and releases its conversation handle. Idempotent: archiving an archived
// operation is a no-op. Returns true when this call performed the archive.
func (r *Registry) ArchiveIfFullyClosed(ctx context.Context, opID int64) (bool, error) {
	op, legs, err := r.store.GetOperation(ctx, opID)
	if err != nil {
		if isNotFound(err) {
			return false, fmt.Errorf("%w: operation id=%d", ErrNotFound, opID)
		}
		return false, err
	}
	if op.ArchivedAtUnix != nil {
		return false, nil
	}
	for _, leg := range legs {
		if !leg.Status.Terminal() {
			return false, nil
		}
	}
	now := time.Now().Unix()
	op.Status = model.OperationClosed
	op.ArchivedAtUnix = &now
	op.Conversation = ""
	if err := r.updateWithRetry(ctx, op); err != nil {
		return false, err
	}
	logger.Infof("registry: archived operation id=%d triple=%s/agent=%d/profile=%d",
		op.ID, op.Instrument, op.AgentID, op.ProfileID)
	return true, nil
}

// ListOpen returns the agent's non-archived operations with legs loaded.
func (r *Registry) ListOpen(ctx context.Context, agentID int) ([]*Operation, error) {
	ops, err := r.store.ListOpenOperations(ctx, agentID)
	if err != nil {
		return nil, err
	}
	out := make([]*Operation, 0, len(ops))
	for _, op := range ops {
		full, legs, err := r.store.GetOperation(ctx, op.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, fromModel(full, legs))
	}
	return out, nil
}

// Get reloads one operation.
func (r *Registry) Get(ctx context.Context, opID int64) (*Operation, error) {
	op, legs, err := r.store.GetOperation(ctx, opID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: operation id=%d", ErrNotFound, opID)
		}
		return nil, err
	}
	return fromModel(op, legs), nil
}

// RecordAnomaly persists a skip/anomaly with its triple and reason. Never
// fails the caller: a broken anomaly write is logged and swallowed.
func (r *Registry) RecordAnomaly(ctx context.Context, t Triple, opID int64, id ident.Identifier, reason, detail string) {
	rec := &model.AnomalyModel{
		Instrument:  t.Instrument,
		AgentID:     t.AgentID,
		ProfileID:   t.ProfileID,
		OperationID: opID,
		Identifier:  uint32(id),
		Reason:      reason,
		Detail:      detail,
		TSUnix:      time.Now().Unix(),
	}
	if err := r.store.InsertAnomaly(ctx, rec); err != nil {
		logger.Errorf("registry: anomaly write failed triple=%s reason=%s: %v", t, reason, err)
		return
	}
	logger.Warnf("registry: anomaly triple=%s op=%d leg=%d reason=%s detail=%s", t, opID, id, reason, detail)
}

// updateWithRetry applies the PersistenceConflict rule: one retry on a
// version conflict, then surface.
func (r *Registry) updateWithRetry(ctx context.Context, op *model.OperationModel) error {
	err := r.store.UpdateOperation(ctx, op)
	if err == nil || !errors.Is(err, store.ErrVersionConflict) {
		return err
	}
	fresh, _, gerr := r.store.GetOperation(ctx, op.ID)
	if gerr != nil {
		return fmt.Errorf("%w: reread failed: %v", ErrConflict, gerr)
	}
	op.Version = fresh.Version
	if rerr := r.store.UpdateOperation(ctx, op); rerr != nil {
		return fmt.Errorf("%w: %v", ErrConflict, rerr)
	}
	return nil
}

func fromModel(op *model.OperationModel, legs []*model.LegModel) *Operation {
	out := &Operation{
		ID: op.ID,
		Triple: Triple{
			Instrument: op.Instrument,
			AgentID:    op.AgentID,
			ProfileID:  op.ProfileID,
		},
		Conversation: decision.ConversationHandle(op.Conversation),
		Status:       op.Status,
		OpenedAt:     time.Unix(op.OpenedAtUnix, 0),
		Archived:     op.ArchivedAtUnix != nil,
	}
	for _, leg := range legs {
		out.Legs = append(out.Legs, Leg{
			ID:             leg.ID,
			Identifier:     ident.Identifier(leg.Identifier),
			Kind:           ident.Kind(leg.Kind),
			Direction:      venue.Direction(leg.Direction),
			RequestedPrice: leg.RequestedPrice,
			StopLoss:       leg.StopLoss,
			TakeProfit:     leg.TakeProfit,
			Size:           leg.Size,
			Ticket:         venue.Ticket(leg.Ticket),
			Status:         leg.Status,
		})
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrNotFound)
}
