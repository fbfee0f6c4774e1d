// Package decision defines the values exchanged with the external decision
// service and the validation applied at that boundary. Responses that do not
// conform to the schema are parse failures, never partially trusted
// decisions.
package decision

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"tandem/internal/venue"
)

// Role tells the service which conversation stage a request belongs to.
type Role string

const (
	RoleEntry    Role = "entry"
	RoleFollowup Role = "followup"
)

// Actions the service may return. Enter/Skip answer entry requests,
// Hold/Adjust/Exit answer follow-ups.
const (
	ActionEnter  = "enter"
	ActionSkip   = "skip"
	ActionHold   = "hold"
	ActionAdjust = "adjust"
	ActionExit   = "exit"
)

// NormalizeAction lowercases and maps the "wait" alias onto hold.
func NormalizeAction(a string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	if a == "wait" {
		return ActionHold
	}
	return a
}

// ConversationHandle correlates all requests for one Operation. Created at
// the first entry decision, released when the operation is archived.
type ConversationHandle string

func NewConversationHandle() ConversationHandle {
	return ConversationHandle(uuid.NewString())
}

// Snapshot is the market context rendered into a request. Built fresh for
// every request; nothing here is cached across cycles.
type Snapshot struct {
	Instrument  string             `json:"instrument"`
	Timeframe   string             `json:"timeframe"`
	GeneratedAt time.Time          `json:"generated_at"`
	Bars        []venue.Bar        `json:"bars,omitempty"`
	Indicators  map[string]float64 `json:"indicators,omitempty"`
	Balance     float64            `json:"balance"`
	Bid         float64            `json:"bid"`
	Ask         float64            `json:"ask"`
}

// LegContext describes the leg a follow-up request is about.
type LegContext struct {
	Identifier uint32  `json:"identifier"`
	Kind       string  `json:"kind"`
	Direction  string  `json:"direction"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Size       float64 `json:"size"`
	Ticket     string  `json:"ticket"`
	Filled     bool    `json:"filled"`
}

// Request is the immutable value sent to the decision service.
type Request struct {
	Role         Role               `json:"role"`
	Instrument   string             `json:"instrument"`
	AgentID      int                `json:"agent_id"`
	ProfileID    int                `json:"profile_id"`
	Conversation ConversationHandle `json:"conversation_id,omitempty"`
	Snapshot     Snapshot           `json:"snapshot"`
	Leg          *LegContext        `json:"leg,omitempty"`
}

// Response is the validated decision. Raw preserves the service output for
// the decision log.
type Response struct {
	Action       string  `json:"action"`
	Direction    string  `json:"direction,omitempty"`
	EntryPrice   float64 `json:"entry_price,omitempty"`
	PendingPrice float64 `json:"pending_price,omitempty"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	TakeProfit   float64 `json:"take_profit,omitempty"`
	RiskPct      float64 `json:"risk_pct,omitempty"`
	Confidence   int     `json:"confidence,omitempty"`
	Reasoning    string  `json:"reasoning,omitempty"`

	Raw string `json:"-"`
}

// Decider issues one decision request and returns the validated response.
type Decider interface {
	Decide(ctx context.Context, req Request) (Response, error)
}
