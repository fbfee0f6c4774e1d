package engine

import (
	"context"
	"errors"
	"fmt"

	"tandem/internal/decision"
	"tandem/internal/gateway/notifier"
	"tandem/internal/ident"
	"tandem/internal/logger"
	"tandem/internal/pkg/retry"
	"tandem/internal/registry"
	"tandem/internal/risk"
	"tandem/internal/venue"
)

// runEntryCycle asks for one entry decision and, on enter, places the
// paired market and pending legs. The whole cycle runs under the triple's
// single-writer lock.
//
// Leg submissions are independent: a failed leg is recorded as Cancelled
// with an anomaly and its sibling is left untouched.
func (e *Engine) runEntryCycle(ctx context.Context, instrument string) error {
	triple := e.triple(instrument)
	log := scopeFor(triple)
	return e.registry.Serialize(triple, func() error {
		existing, err := e.registry.FindOpen(ctx, triple)
		if err != nil {
			return err
		}
		if existing != nil {
			log.Infof("entry skipped, operation id=%d still open", existing.ID)
			return nil
		}

		snap, quote, err := e.buildSnapshot(ctx, instrument)
		if err != nil {
			return err
		}

		conv := decision.NewConversationHandle()
		resp, err := e.decider.Decide(ctx, decision.Request{
			Role:         decision.RoleEntry,
			Instrument:   instrument,
			AgentID:      e.agentID,
			ProfileID:    e.profileID,
			Conversation: conv,
			Snapshot:     snap,
		})
		if err != nil {
			if errors.Is(err, decision.ErrMalformedResponse) {
				e.registry.RecordAnomaly(ctx, triple, 0, 0, reasonMalformedResponse, err.Error())
				return nil
			}
			return err
		}
		if resp.Action == decision.ActionSkip {
			log.Infof("decision is skip (%s)", resp.Reasoning)
			return nil
		}

		observed := quote.Ask
		if resp.Direction == "short" {
			observed = quote.Bid
		}
		if verr := decision.ValidateEntry(&resp, observed); verr != nil {
			e.registry.RecordAnomaly(ctx, triple, 0, 0, reasonInvalidDecision, verr.Error())
			log.Warnf("entry rejected before any venue call: %v", verr)
			return nil
		}

		var spec venue.InstrumentSpec
		if err := retry.Do(ctx, "spec/"+instrument, func(ctx context.Context) error {
			var err error
			spec, err = e.venue.GetInstrumentSpec(ctx, instrument)
			return err
		}); err != nil {
			return err
		}

		riskPct := resp.RiskPct
		if riskPct <= 0 {
			riskPct = e.defaultRiskPct
		}
		marketSize, err := risk.Size(snap.Balance, riskPct, observed, resp.StopLoss, spec)
		if err != nil {
			e.registry.RecordAnomaly(ctx, triple, 0, 0, reasonInvalidDecision, "market leg sizing: "+err.Error())
			return nil
		}
		pendingSize, err := risk.Size(snap.Balance, riskPct, resp.PendingPrice, resp.StopLoss, spec)
		if err != nil {
			e.registry.RecordAnomaly(ctx, triple, 0, 0, reasonInvalidDecision, "pending leg sizing: "+err.Error())
			return nil
		}

		marketID, err := ident.Encode(e.agentID, e.profileID, ident.KindMarket)
		if err != nil {
			return fmt.Errorf("engine: market identifier: %w", err)
		}
		pendingID, err := ident.Encode(e.agentID, e.profileID, ident.KindPending)
		if err != nil {
			return fmt.Errorf("engine: pending identifier: %w", err)
		}

		direction := venue.Direction(resp.Direction)
		op, err := e.registry.Create(ctx, registry.CreateParams{
			Triple:       triple,
			Conversation: conv,
			EntryPayload: []byte(resp.Raw),
			Legs: []registry.Leg{
				{
					Identifier:     marketID,
					Kind:           ident.KindMarket,
					Direction:      direction,
					RequestedPrice: observed,
					StopLoss:       resp.StopLoss,
					TakeProfit:     resp.TakeProfit,
					Size:           marketSize,
				},
				{
					Identifier:     pendingID,
					Kind:           ident.KindPending,
					Direction:      direction,
					RequestedPrice: resp.PendingPrice,
					StopLoss:       resp.StopLoss,
					TakeProfit:     resp.TakeProfit,
					Size:           pendingSize,
				},
			},
		})
		if err != nil {
			if errors.Is(err, registry.ErrDuplicateOperation) {
				log.Warnf("%v", err)
				return nil
			}
			return err
		}

		working := 0
		for _, leg := range op.Legs {
			if e.submitLeg(ctx, triple, op.ID, leg) {
				working++
			}
		}
		if working > 0 {
			e.notify(notifier.EntryMessage(instrument, resp.Direction, observed, resp.PendingPrice,
				resp.StopLoss, resp.TakeProfit, marketSize))
		}
		log.WithOperation(op.ID).Infof("entry placed working=%d/%d conv=%s", working, len(op.Legs), conv)
		return nil
	})
}

// submitLeg pushes one leg to the venue. On failure the leg goes to
// Cancelled; the sibling is not rolled back.
func (e *Engine) submitLeg(ctx context.Context, triple registry.Triple, opID int64, leg registry.Leg) bool {
	log := scopeFor(triple).WithOperation(opID)
	orderType := venue.OrderMarket
	if leg.Kind == ident.KindPending {
		orderType = venue.OrderPending
	}
	var ticket venue.Ticket
	err := retry.Do(ctx, fmt.Sprintf("submit/%s/%d", triple.Instrument, leg.Identifier), func(ctx context.Context) error {
		var err error
		ticket, err = e.venue.SubmitOrder(ctx, venue.SubmitRequest{
			Instrument: triple.Instrument,
			Direction:  leg.Direction,
			Type:       orderType,
			Price:      leg.RequestedPrice,
			Size:       leg.Size,
			StopLoss:   leg.StopLoss,
			TakeProfit: leg.TakeProfit,
			Tag:        uint32(leg.Identifier),
		})
		return err
	})
	if err != nil {
		log.Errorf("leg %d submission failed: %v", leg.Identifier, err)
		if merr := e.registry.MarkLegCancelled(ctx, opID, leg.Identifier); merr != nil {
			log.Errorf("cancel mark failed for leg %d: %v", leg.Identifier, merr)
		}
		e.registry.RecordAnomaly(ctx, triple, opID, leg.Identifier, reasonLegSubmitFailed, err.Error())
		return false
	}
	if merr := e.registry.MarkLegWorking(ctx, opID, leg.Identifier, ticket); merr != nil {
		log.Errorf("working mark failed for leg %d: %v", leg.Identifier, merr)
	}
	return true
}

func (e *Engine) notify(text string) {
	if err := e.notifier.SendText(text); err != nil {
		logger.Warnf("engine: notification failed: %v", err)
	}
}
