package model

import (
	"gorm.io/datatypes"
)

type OperationStatus int

const (
	OperationPendingDecision OperationStatus = 0
	OperationOpen            OperationStatus = 1
	OperationPartiallyClosed OperationStatus = 2
	OperationClosed          OperationStatus = 3
)

type LegStatus int

const (
	LegRequested LegStatus = 0
	LegWorking   LegStatus = 1
	LegFilled    LegStatus = 2
	LegCancelled LegStatus = 3
	LegClosed    LegStatus = 4
)

// Terminal reports whether the status can never revert.
func (s LegStatus) Terminal() bool {
	return s == LegCancelled || s == LegClosed
}

// OperationModel is the persisted logical unit for one entry decision.
// ArchivedAtUnix is set exactly once; an archived operation never mutates
// again. Version backs the optimistic write check.
type OperationModel struct {
	ID             int64           `gorm:"column:id;primaryKey"`
	Instrument     string          `gorm:"column:instrument;index:idx_operation_triple,priority:1"`
	AgentID        int             `gorm:"column:agent_id;index:idx_operation_triple,priority:2"`
	ProfileID      int             `gorm:"column:profile_id;index:idx_operation_triple,priority:3"`
	Conversation   string          `gorm:"column:conversation_id"`
	Status         OperationStatus `gorm:"column:status"`
	Version        int64           `gorm:"column:version"`
	EntryPayload   datatypes.JSON  `gorm:"column:entry_payload;type:TEXT"`
	OpenedAtUnix   int64           `gorm:"column:opened_at"`
	ArchivedAtUnix *int64          `gorm:"column:archived_at"`
	CreatedAtUnix  int64           `gorm:"column:created_at"`
	UpdatedAtUnix  int64           `gorm:"column:updated_at"`
}

func (OperationModel) TableName() string { return "operations" }

// LegModel is one venue order/position belonging to an operation.
type LegModel struct {
	ID             int64     `gorm:"column:id;primaryKey"`
	OperationID    int64     `gorm:"column:operation_id;index:idx_leg_operation"`
	Identifier     uint32    `gorm:"column:identifier;index:idx_leg_identifier"`
	Kind           int       `gorm:"column:kind"`
	Direction      string    `gorm:"column:direction"`
	RequestedPrice float64   `gorm:"column:requested_price"`
	StopLoss       float64   `gorm:"column:stop_loss"`
	TakeProfit     float64   `gorm:"column:take_profit"`
	Size           float64   `gorm:"column:size"`
	Ticket         string    `gorm:"column:ticket"`
	Status         LegStatus `gorm:"column:status"`
	CreatedAtUnix  int64     `gorm:"column:created_at"`
	UpdatedAtUnix  int64     `gorm:"column:updated_at"`
}

func (LegModel) TableName() string { return "legs" }

// AnomalyModel records every skip and anomaly with enough context to audit
// a cycle afterwards.
type AnomalyModel struct {
	ID          int64  `gorm:"column:id;primaryKey"`
	Instrument  string `gorm:"column:instrument;index:idx_anomaly_instrument"`
	AgentID     int    `gorm:"column:agent_id"`
	ProfileID   int    `gorm:"column:profile_id"`
	OperationID int64  `gorm:"column:operation_id"`
	Identifier  uint32 `gorm:"column:identifier"`
	Reason      string `gorm:"column:reason"`
	Detail      string `gorm:"column:detail;type:TEXT"`
	TSUnix      int64  `gorm:"column:ts"`
}

func (AnomalyModel) TableName() string { return "anomalies" }

// DecisionLogModel archives request/response traffic with the decision
// service for offline review.
type DecisionLogModel struct {
	ID           int64          `gorm:"column:id;primaryKey"`
	TraceID      string         `gorm:"column:trace_id;index:idx_decision_trace"`
	Role         string         `gorm:"column:role"`
	Instrument   string         `gorm:"column:instrument;index:idx_decision_instrument"`
	AgentID      int            `gorm:"column:agent_id"`
	ProfileID    int            `gorm:"column:profile_id"`
	Conversation string         `gorm:"column:conversation_id"`
	RequestJSON  datatypes.JSON `gorm:"column:request_json;type:TEXT"`
	RawResponse  string         `gorm:"column:raw_response;type:TEXT"`
	Action       string         `gorm:"column:action"`
	Error        string         `gorm:"column:error"`
	TSUnix       int64          `gorm:"column:ts"`
}

func (DecisionLogModel) TableName() string { return "decision_logs" }
