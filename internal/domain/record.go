package domain

// TxType classifies a write attempt for the history and activity views.
type TxType string

const (
	TxTypeFlowCreation TxType = "flow_creation"
	TxTypeApproval     TxType = "approval"
	TxTypePayment      TxType = "payment"
	TxTypeMilestone    TxType = "milestone"
	TxTypeSplit        TxType = "split"
	TxTypeOther        TxType = "other"
)

type TxStatus string

const (
	TxStatusPending TxStatus = "pending"
	TxStatusSuccess TxStatus = "success"
	TxStatusFailed  TxStatus = "failed"
)

// TransactionRecord is a client-observed write attempt. Timestamps are unix
// milliseconds so stored payloads stay compatible with the dashboard's
// existing cache format.
type TransactionRecord struct {
	Hash        string   `json:"hash"`
	Type        TxType   `json:"type"`
	Status      TxStatus `json:"status"`
	Timestamp   int64    `json:"timestamp"`
	Description string   `json:"description"`
	Amount      string   `json:"amount,omitempty"`
	To          string   `json:"to,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// PendingApproval bookmarks an on-chain approval request the tracked address
// is expected to act on. It is a cache of interest, not a source of truth.
type PendingApproval struct {
	ApprovalID        uint64 `json:"approvalId"`
	RequiredApprovals uint64 `json:"requiredApprovals"`
	CreatedAt         int64  `json:"createdAt"`
}

// FlowMetadata is the user-supplied display name/description for a flow,
// keyed case-insensitively by flow address.
type FlowMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

type ActivityType string

const (
	ActivityFlowCreated ActivityType = "flow_created"
	ActivityApproval    ActivityType = "approval"
	ActivityPayment     ActivityType = "payment"
	ActivityMilestone   ActivityType = "milestone"
	ActivityDeposit     ActivityType = "deposit"
	ActivityPause       ActivityType = "pause"
	ActivityResume      ActivityType = "resume"
	ActivityCancel      ActivityType = "cancel"
)

// ActivityItem is a feed entry derived from observed chain events.
type ActivityItem struct {
	ID          string       `json:"id"`
	Type        ActivityType `json:"type"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Time        int64        `json:"time"`
	Status      string       `json:"status"`
	TxHash      string       `json:"txHash,omitempty"`
}
