package domain

import "math/big"

type ChainEventType string

const (
	EventFlowCreated     ChainEventType = "flow_created"
	EventApprovalCreated ChainEventType = "approval_created"
	EventApprovalGiven   ChainEventType = "approval_given"
	EventThresholdMet    ChainEventType = "threshold_met"
)

// ChainEvent is a decoded contract event from the factory or the approval
// manager. Fields are populated according to Type.
type ChainEvent struct {
	Type        ChainEventType
	BlockNumber uint64
	TxHash      string

	// flow_created
	FlowAddress string
	Owner       string
	FlowType    FlowType
	Amount      *big.Int

	// approval_*
	ApprovalID        uint64
	Approvers         []string
	RequiredApprovals uint64
	Approver          string
}
