// Package application holds the service logic: transaction
// orchestration, flow reads, the per-address local caches, the chain
// watcher, and the reconciliation sweeps. Chain access and storage are
// injected through the interfaces below.
package application

import (
	"context"
	"math/big"

	"payflow/internal/domain"
)

// ChainReader is the view-call surface of the chain gateway.
type ChainReader interface {
	FlowData(ctx context.Context, flow string) (domain.Flow, error)
	Milestone(ctx context.Context, flow string, index uint64) (domain.Milestone, error)
	Split(ctx context.Context, flow string, index uint64) (domain.Split, error)
	FlowsByOwner(ctx context.Context, owner string) ([]string, error)
	FlowCount(ctx context.Context) (uint64, error)
	ApprovalStatus(ctx context.Context, approvalID uint64) (domain.ApprovalStatus, error)
	NextApprovalID(ctx context.Context) (uint64, error)
	Allowance(ctx context.Context, owner, spender string) (*big.Int, error)
}

// ChainWriter submits signed transactions. Every write takes an explicit
// gas limit; estimation against a freshly approved allowance is unreliable,
// so the orchestrator supplies flat limits.
type ChainWriter interface {
	Signer() (string, bool)
	ApproveToken(ctx context.Context, spender string, amount *big.Int, gasLimit uint64) (string, error)
	CreateFlow(ctx context.Context, flowType domain.FlowType, deposit *big.Int, gasLimit uint64) (string, error)
	Deposit(ctx context.Context, flow string, amount *big.Int, gasLimit uint64) (string, error)
	AddMilestone(ctx context.Context, flow string, amount *big.Int, recipient string, gasLimit uint64) (string, error)
	AddSplit(ctx context.Context, flow string, recipient string, percentage uint64, gasLimit uint64) (string, error)
	MarkMilestoneComplete(ctx context.Context, flow string, milestoneID uint64, gasLimit uint64) (string, error)
	ExecuteMilestonePayment(ctx context.Context, flow string, milestoneID uint64, gasLimit uint64) (string, error)
	ExecuteSplitPayment(ctx context.Context, flow string, gasLimit uint64) (string, error)
	PauseFlow(ctx context.Context, flow string, gasLimit uint64) (string, error)
	ResumeFlow(ctx context.Context, flow string, gasLimit uint64) (string, error)
	CancelFlow(ctx context.Context, flow string, gasLimit uint64) (string, error)
	CreateApproval(ctx context.Context, approvers []string, required uint64, gasLimit uint64) (string, error)
	GiveApproval(ctx context.Context, approvalID uint64, gasLimit uint64) (string, error)
	WaitReceipt(ctx context.Context, hash string) (domain.Receipt, error)
}

// StatusReader resolves already-submitted transactions without blocking,
// used by the reconciliation sweep.
type StatusReader interface {
	TransactionStatus(ctx context.Context, hash string) (domain.TxStatus, bool, error)
}

// EventSource yields decoded contract events over block ranges.
type EventSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterEvents(ctx context.Context, fromBlock, toBlock uint64) ([]domain.ChainEvent, error)
}

// KVStore is the namespaced blob storage behind the local caches.
// Get reports absence via the boolean, not an error.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Observer receives progress callbacks from the watcher and reconciler,
// implemented by the HTTP metrics collector.
type Observer interface {
	OnLatestBlock(block uint64)
	OnApprovalObserved()
	OnApprovalResolved()
	OnReconcileSweep()
}

type nopObserver struct{}

func (nopObserver) OnLatestBlock(uint64) {}
func (nopObserver) OnApprovalObserved()  {}
func (nopObserver) OnApprovalResolved()  {}
func (nopObserver) OnReconcileSweep()    {}

// ActivitySink mirrors activity feed items to an external stream. The
// watcher treats it as best-effort; a failing sink never blocks the feed.
type ActivitySink interface {
	PublishActivity(ctx context.Context, wallet string, item domain.ActivityItem) error
}

// CacheInvalidator drops memoized contract reads after observed writes.
type CacheInvalidator interface {
	InvalidateFlow(ctx context.Context, flow string)
	InvalidateOwners(ctx context.Context)
	InvalidateApproval(ctx context.Context, approvalID uint64)
}
