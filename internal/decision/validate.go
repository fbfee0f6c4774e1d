package decision

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDecision marks a response that parsed but fails a sanity
	// check. The entry is rejected and no venue call is made.
	ErrInvalidDecision = errors.New("decision: invalid decision")

	// ErrMalformedResponse marks service output that does not conform to
	// the response schema. Callers treat it as Hold plus an anomaly.
	ErrMalformedResponse = errors.New("decision: malformed response")
)

var entryActions = map[string]bool{ActionEnter: true, ActionSkip: true}
var followupActions = map[string]bool{ActionHold: true, ActionAdjust: true, ActionExit: true}

// ValidateEntry checks an entry response against the observed market price.
// Directional sanity: long requires stop < entry < target, short the
// inverse, for both the observed price and the suggested pending price.
func ValidateEntry(r *Response, observedPrice float64) error {
	if !entryActions[r.Action] {
		return fmt.Errorf("%w: entry action %q", ErrInvalidDecision, r.Action)
	}
	if r.Action == ActionSkip {
		return nil
	}
	if r.Direction != "long" && r.Direction != "short" {
		return fmt.Errorf("%w: direction %q", ErrInvalidDecision, r.Direction)
	}
	if observedPrice <= 0 {
		return fmt.Errorf("%w: no observed price for sanity check", ErrInvalidDecision)
	}
	if r.PendingPrice <= 0 || r.StopLoss <= 0 || r.TakeProfit <= 0 {
		return fmt.Errorf("%w: enter requires pending_price, stop_loss and take_profit > 0", ErrInvalidDecision)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("%w: confidence=%d out of [0,100]", ErrInvalidDecision, r.Confidence)
	}
	if r.RiskPct < 0 || r.RiskPct > 100 {
		return fmt.Errorf("%w: risk_pct=%v out of [0,100]", ErrInvalidDecision, r.RiskPct)
	}
	for _, entry := range []float64{observedPrice, r.PendingPrice} {
		if err := checkOrdering(r.Direction, r.StopLoss, entry, r.TakeProfit); err != nil {
			return err
		}
	}
	return nil
}

func checkOrdering(direction string, stop, entry, target float64) error {
	switch direction {
	case "long":
		if !(stop < entry && entry < target) {
			return fmt.Errorf("%w: long requires stop < entry < target (stop=%v entry=%v target=%v)",
				ErrInvalidDecision, stop, entry, target)
		}
	case "short":
		if !(stop > entry && entry > target) {
			return fmt.Errorf("%w: short requires stop > entry > target (stop=%v entry=%v target=%v)",
				ErrInvalidDecision, stop, entry, target)
		}
	}
	return nil
}

// ValidateFollowup checks a follow-up response. Adjust must carry at least
// one level to move.
func ValidateFollowup(r *Response) error {
	if !followupActions[r.Action] {
		return fmt.Errorf("%w: followup action %q", ErrMalformedResponse, r.Action)
	}
	if r.Action == ActionAdjust {
		if r.StopLoss <= 0 && r.TakeProfit <= 0 {
			return fmt.Errorf("%w: adjust without stop_loss or take_profit", ErrMalformedResponse)
		}
		if r.StopLoss < 0 || r.TakeProfit < 0 {
			return fmt.Errorf("%w: negative level", ErrMalformedResponse)
		}
	}
	return nil
}
