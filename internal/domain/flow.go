package domain

import "math/big"

// FlowStatus mirrors the PaymentFlow contract's status enum.
type FlowStatus uint8

const (
	FlowStatusActive FlowStatus = iota
	FlowStatusPaused
	FlowStatusCompleted
	FlowStatusCancelled
)

func (s FlowStatus) Label() string {
	switch s {
	case FlowStatusActive:
		return "Active"
	case FlowStatusPaused:
		return "Paused"
	case FlowStatusCompleted:
		return "Completed"
	case FlowStatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// FlowType mirrors the PaymentFlow contract's type enum.
type FlowType uint8

const (
	FlowTypeMilestone FlowType = iota
	FlowTypeSplit
	FlowTypeRecurring
	FlowTypeEscrow
)

func (t FlowType) Label() string {
	switch t {
	case FlowTypeMilestone:
		return "Milestone"
	case FlowTypeSplit:
		return "Split"
	case FlowTypeRecurring:
		return "Recurring"
	case FlowTypeEscrow:
		return "Escrow"
	default:
		return "Unknown"
	}
}

// Flow is the aggregate on-chain view of a payment flow contract. The
// service never owns this state; it only caches a read-through copy.
type Flow struct {
	Address         string
	Status          FlowStatus
	TotalAmount     *big.Int
	RemainingAmount *big.Int
	Type            FlowType
	Owner           string
	MilestoneCount  uint64
	SplitCount      uint64
}

// Milestone is an amount/recipient pair within a milestone flow.
// Paid implies Completed; the contract enforces the ordering.
type Milestone struct {
	ID        uint64
	Amount    *big.Int
	Recipient string
	Completed bool
	Paid      bool
}

// Split is a recipient/percentage pair within a split flow.
type Split struct {
	Recipient  string
	Percentage uint64
}

// ApprovalStatus is the approval manager's view of a multi-party request.
type ApprovalStatus struct {
	ID       uint64
	Count    uint64
	Required uint64
	Approved bool
}

// Satisfied reports whether the request has met its threshold. The count
// comparison covers the window where the contract's flag read is stale.
func (s ApprovalStatus) Satisfied() bool {
	return s.Approved || (s.Required > 0 && s.Count >= s.Required)
}

// Receipt is the confirmation record for a submitted transaction.
// CreatedFlow carries the new flow address when the receipt contains a
// FlowCreated event.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Reverted    bool
	CreatedFlow string
}
