package engine

import (
	"context"
	"errors"
	"fmt"

	"tandem/internal/decision"
	"tandem/internal/gateway/notifier"
	"tandem/internal/ident"
	"tandem/internal/pkg/retry"
	"tandem/internal/registry"
	"tandem/internal/store/model"
	"tandem/internal/venue"
)

// runReevalCycle re-decides every live leg of the open operation. Legs are
// independent: a malformed or invalid answer for one leg degrades to Hold
// with an anomaly and the siblings still get their decisions. Only a venue
// or decider outage aborts the cycle.
func (e *Engine) runReevalCycle(ctx context.Context, instrument string) error {
	triple := e.triple(instrument)
	log := scopeFor(triple)
	return e.registry.Serialize(triple, func() error {
		op, err := e.registry.FindOpen(ctx, triple)
		if err != nil {
			return err
		}
		if op == nil {
			return nil
		}

		if err := e.syncFills(ctx, op); err != nil {
			return err
		}
		op, err = e.registry.Get(ctx, op.ID)
		if err != nil {
			return err
		}

		var hasActive bool
		for _, leg := range op.Legs {
			if leg.Active() {
				hasActive = true
				break
			}
		}
		if hasActive {
			snap, _, err := e.buildSnapshot(ctx, instrument)
			if err != nil {
				return err
			}
			for _, leg := range op.Legs {
				if !leg.Active() {
					continue
				}
				if err := e.reevalLeg(ctx, triple, op, leg, snap); err != nil {
					return err
				}
			}
		}

		archived, err := e.registry.ArchiveIfFullyClosed(ctx, op.ID)
		if err != nil {
			return err
		}
		if archived {
			log.WithOperation(op.ID).Infof("operation archived")
		}
		return nil
	})
}

// syncFills promotes Working pending legs whose resting order has been
// filled at the venue.
func (e *Engine) syncFills(ctx context.Context, op *registry.Operation) error {
	log := scopeFor(op.Triple).WithOperation(op.ID)
	var positions []venue.Position
	err := retry.Do(ctx, "positions/"+op.Triple.Instrument, func(ctx context.Context) error {
		var err error
		positions, err = e.venue.GetOpenPositions(ctx, venue.PositionFilter{Instrument: op.Triple.Instrument})
		return err
	})
	if err != nil {
		return err
	}
	filled := make(map[uint32]bool, len(positions))
	for _, p := range positions {
		if p.Filled {
			filled[p.Tag] = true
		}
	}
	for _, leg := range op.Legs {
		if leg.Kind != ident.KindPending || !leg.Active() {
			continue
		}
		if filled[uint32(leg.Identifier)] {
			if merr := e.registry.MarkLegFilled(ctx, op.ID, leg.Identifier); merr != nil {
				log.Errorf("fill mark failed leg=%d: %v", leg.Identifier, merr)
			} else {
				log.Infof("pending leg %d filled", leg.Identifier)
			}
		}
	}
	return nil
}

// reevalLeg runs one follow-up decision and applies the result. A decision
// failure specific to this leg never aborts the cycle.
func (e *Engine) reevalLeg(ctx context.Context, triple registry.Triple, op *registry.Operation, leg registry.Leg, snap decision.Snapshot) error {
	log := scopeFor(triple).WithOperation(op.ID)
	resp, err := e.decider.Decide(ctx, decision.Request{
		Role:         decision.RoleFollowup,
		Instrument:   triple.Instrument,
		AgentID:      e.agentID,
		ProfileID:    e.profileID,
		Conversation: op.Conversation,
		Snapshot:     snap,
		Leg: &decision.LegContext{
			Identifier: uint32(leg.Identifier),
			Kind:       kindName(leg.Kind),
			Direction:  string(leg.Direction),
			EntryPrice: leg.RequestedPrice,
			StopLoss:   leg.StopLoss,
			TakeProfit: leg.TakeProfit,
			Size:       leg.Size,
			Ticket:     string(leg.Ticket),
			Filled:     leg.Kind == ident.KindMarket || leg.Status == model.LegFilled,
		},
	})
	if err != nil {
		if errors.Is(err, decision.ErrMalformedResponse) {
			e.registry.RecordAnomaly(ctx, triple, op.ID, leg.Identifier, reasonMalformedResponse, err.Error())
			log.Warnf("leg %d holds on malformed response", leg.Identifier)
			return nil
		}
		return err
	}
	if verr := decision.ValidateFollowup(&resp); verr != nil {
		e.registry.RecordAnomaly(ctx, triple, op.ID, leg.Identifier, reasonMalformedResponse, verr.Error())
		log.Warnf("leg %d holds on invalid follow-up: %v", leg.Identifier, verr)
		return nil
	}

	switch resp.Action {
	case decision.ActionHold:
		log.Debugf("leg %d hold (%s)", leg.Identifier, resp.Reasoning)
		return nil
	case decision.ActionAdjust:
		return e.adjustLeg(ctx, triple, op.ID, leg, resp)
	case decision.ActionExit:
		return e.exitLeg(ctx, triple, op.ID, leg, resp)
	default:
		e.registry.RecordAnomaly(ctx, triple, op.ID, leg.Identifier, reasonMalformedResponse,
			fmt.Sprintf("unexpected follow-up action %q", resp.Action))
		return nil
	}
}

func (e *Engine) adjustLeg(ctx context.Context, triple registry.Triple, opID int64, leg registry.Leg, resp decision.Response) error {
	log := scopeFor(triple).WithOperation(opID)
	mod := venue.Modify{}
	if resp.StopLoss > 0 {
		v := resp.StopLoss
		mod.StopLoss = &v
	}
	if resp.TakeProfit > 0 {
		v := resp.TakeProfit
		mod.TakeProfit = &v
	}
	err := retry.Do(ctx, fmt.Sprintf("modify/%s/%d", triple.Instrument, leg.Identifier), func(ctx context.Context) error {
		return e.venue.ModifyOrder(ctx, leg.Ticket, mod)
	})
	if err != nil {
		e.registry.RecordAnomaly(ctx, triple, opID, leg.Identifier, reasonExternalUnavailable, "adjust: "+err.Error())
		return err
	}
	if merr := e.registry.AdjustLeg(ctx, opID, leg.Identifier, resp.StopLoss, resp.TakeProfit); merr != nil {
		return merr
	}
	log.Infof("leg %d adjusted sl=%v tp=%v", leg.Identifier, resp.StopLoss, resp.TakeProfit)
	return nil
}

func (e *Engine) exitLeg(ctx context.Context, triple registry.Triple, opID int64, leg registry.Leg, resp decision.Response) error {
	log := scopeFor(triple).WithOperation(opID)
	err := retry.Do(ctx, fmt.Sprintf("close/%s/%d", triple.Instrument, leg.Identifier), func(ctx context.Context) error {
		return e.venue.CloseOrder(ctx, leg.Ticket)
	})
	if err != nil {
		e.registry.RecordAnomaly(ctx, triple, opID, leg.Identifier, reasonExternalUnavailable, "exit: "+err.Error())
		return err
	}
	if merr := e.registry.CloseLeg(ctx, opID, leg.Identifier); merr != nil {
		return merr
	}
	e.notify(notifier.ExitMessage(triple.Instrument, uint32(leg.Identifier), resp.Reasoning))
	log.Infof("leg %d closed (%s)", leg.Identifier, resp.Reasoning)
	return nil
}

func kindName(k ident.Kind) string {
	if k == ident.KindPending {
		return "pending"
	}
	return "market"
}
