package application

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"payflow/internal/domain"
)

type memKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	putErr  error
	getHook func(key string) ([]byte, bool, error)
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getHook != nil {
		return m.getHook(key)
	}
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *memKV) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.data[key] = value
	return nil
}

func (m *memKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type submittedTx struct {
	function string
	to       string
	amount   *big.Int
	gas      uint64
}

// mockChain implements ChainReader, ChainWriter, StatusReader, and
// EventSource with scripted behavior.
type mockChain struct {
	signer string

	allowance    *big.Int
	allowanceErr error
	// allowance value after an approve receipt is observed; nil leaves
	// the allowance untouched (simulates a failed approval).
	allowanceAfterApprove *big.Int

	submitted   []submittedTx
	submitErr   error
	revertNext  bool
	createdFlow string
	nextNonce   int

	flows            map[string]domain.Flow
	milestones       map[string][]domain.Milestone
	splits           map[string][]domain.Split
	flowsByOwner     map[string][]string
	flowsByOwnerErr  error
	approvalStatuses map[uint64]domain.ApprovalStatus
	approvalErr      error
	nextApprovalID   uint64

	txStatuses map[string]domain.TxStatus
	statusErr  error

	headMu    sync.Mutex
	head      uint64
	headErr   error
	events    []domain.ChainEvent
	filterErr error

	reverted map[string]bool
}

func newMockChain() *mockChain {
	return &mockChain{
		signer:           "0x00000000000000000000000000000000000000aa",
		allowance:        big.NewInt(0),
		flows:            make(map[string]domain.Flow),
		milestones:       make(map[string][]domain.Milestone),
		splits:           make(map[string][]domain.Split),
		flowsByOwner:     make(map[string][]string),
		approvalStatuses: make(map[uint64]domain.ApprovalStatus),
		txStatuses:       make(map[string]domain.TxStatus),
		reverted:         make(map[string]bool),
	}
}

func (m *mockChain) Signer() (string, bool) {
	if m.signer == "" {
		return "", false
	}
	return m.signer, true
}

func (m *mockChain) submit(function, to string, amount *big.Int, gas uint64) (string, error) {
	if m.submitErr != nil {
		return "", m.submitErr
	}
	m.nextNonce++
	hash := fmt.Sprintf("0xhash%d", m.nextNonce)
	m.submitted = append(m.submitted, submittedTx{function: function, to: to, amount: amount, gas: gas})
	if m.revertNext {
		m.reverted[hash] = true
		m.revertNext = false
	}
	return hash, nil
}

func (m *mockChain) ApproveToken(ctx context.Context, spender string, amount *big.Int, gas uint64) (string, error) {
	hash, err := m.submit("approve", spender, amount, gas)
	if err != nil {
		return "", err
	}
	if m.allowanceAfterApprove != nil {
		m.allowance = m.allowanceAfterApprove
	}
	return hash, nil
}

func (m *mockChain) CreateFlow(ctx context.Context, flowType domain.FlowType, deposit *big.Int, gas uint64) (string, error) {
	return m.submit("create"+flowType.Label()+"Flow", "", deposit, gas)
}

func (m *mockChain) Deposit(ctx context.Context, flow string, amount *big.Int, gas uint64) (string, error) {
	return m.submit("deposit", flow, amount, gas)
}

func (m *mockChain) AddMilestone(ctx context.Context, flow string, amount *big.Int, recipient string, gas uint64) (string, error) {
	hash, err := m.submit("addMilestone", flow, amount, gas)
	if err != nil {
		return "", err
	}
	m.milestones[flow] = append(m.milestones[flow], domain.Milestone{
		ID:        uint64(len(m.milestones[flow])),
		Amount:    amount,
		Recipient: recipient,
	})
	if entry, ok := m.flows[flow]; ok {
		entry.MilestoneCount++
		m.flows[flow] = entry
	}
	return hash, nil
}

func (m *mockChain) AddSplit(ctx context.Context, flow string, recipient string, percentage uint64, gas uint64) (string, error) {
	return m.submit("addSplit", flow, nil, gas)
}

func (m *mockChain) MarkMilestoneComplete(ctx context.Context, flow string, id uint64, gas uint64) (string, error) {
	return m.submit("markMilestoneComplete", flow, nil, gas)
}

func (m *mockChain) ExecuteMilestonePayment(ctx context.Context, flow string, id uint64, gas uint64) (string, error) {
	return m.submit("executeMilestonePayment", flow, nil, gas)
}

func (m *mockChain) ExecuteSplitPayment(ctx context.Context, flow string, gas uint64) (string, error) {
	return m.submit("executeSplitPayment", flow, nil, gas)
}

func (m *mockChain) PauseFlow(ctx context.Context, flow string, gas uint64) (string, error) {
	return m.submit("pause", flow, nil, gas)
}

func (m *mockChain) ResumeFlow(ctx context.Context, flow string, gas uint64) (string, error) {
	return m.submit("resume", flow, nil, gas)
}

func (m *mockChain) CancelFlow(ctx context.Context, flow string, gas uint64) (string, error) {
	return m.submit("cancel", flow, nil, gas)
}

func (m *mockChain) CreateApproval(ctx context.Context, approvers []string, required uint64, gas uint64) (string, error) {
	return m.submit("createApproval", "", nil, gas)
}

func (m *mockChain) GiveApproval(ctx context.Context, approvalID uint64, gas uint64) (string, error) {
	return m.submit("approve", "", nil, gas)
}

func (m *mockChain) WaitReceipt(ctx context.Context, hash string) (domain.Receipt, error) {
	return domain.Receipt{
		TxHash:      hash,
		BlockNumber: 1,
		Reverted:    m.reverted[hash],
		CreatedFlow: m.createdFlow,
	}, nil
}

func (m *mockChain) FlowData(ctx context.Context, flow string) (domain.Flow, error) {
	entry, ok := m.flows[flow]
	if !ok {
		return domain.Flow{}, errors.New("no such flow")
	}
	return entry, nil
}

func (m *mockChain) Milestone(ctx context.Context, flow string, index uint64) (domain.Milestone, error) {
	list := m.milestones[flow]
	if index >= uint64(len(list)) {
		return domain.Milestone{}, errors.New("milestone index out of range")
	}
	return list[index], nil
}

func (m *mockChain) Split(ctx context.Context, flow string, index uint64) (domain.Split, error) {
	list := m.splits[flow]
	if index >= uint64(len(list)) {
		return domain.Split{}, errors.New("split index out of range")
	}
	return list[index], nil
}

func (m *mockChain) FlowsByOwner(ctx context.Context, owner string) ([]string, error) {
	if m.flowsByOwnerErr != nil {
		return nil, m.flowsByOwnerErr
	}
	return m.flowsByOwner[owner], nil
}

func (m *mockChain) FlowCount(ctx context.Context) (uint64, error) {
	return uint64(len(m.flows)), nil
}

func (m *mockChain) ApprovalStatus(ctx context.Context, approvalID uint64) (domain.ApprovalStatus, error) {
	if m.approvalErr != nil {
		return domain.ApprovalStatus{}, m.approvalErr
	}
	status, ok := m.approvalStatuses[approvalID]
	if !ok {
		return domain.ApprovalStatus{}, errors.New("no such approval")
	}
	return status, nil
}

func (m *mockChain) NextApprovalID(ctx context.Context) (uint64, error) {
	if m.approvalErr != nil {
		return 0, m.approvalErr
	}
	return m.nextApprovalID, nil
}

func (m *mockChain) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	if m.allowanceErr != nil {
		return nil, m.allowanceErr
	}
	return new(big.Int).Set(m.allowance), nil
}

func (m *mockChain) TransactionStatus(ctx context.Context, hash string) (domain.TxStatus, bool, error) {
	if m.statusErr != nil {
		return domain.TxStatusPending, false, m.statusErr
	}
	status, ok := m.txStatuses[hash]
	if !ok {
		return domain.TxStatusPending, false, nil
	}
	return status, true, nil
}

func (m *mockChain) LatestBlockNumber(ctx context.Context) (uint64, error) {
	m.headMu.Lock()
	defer m.headMu.Unlock()
	if m.headErr != nil {
		return 0, m.headErr
	}
	return m.head, nil
}

func (m *mockChain) setHead(head uint64) {
	m.headMu.Lock()
	defer m.headMu.Unlock()
	m.head = head
}

func (m *mockChain) FilterEvents(ctx context.Context, fromBlock, toBlock uint64) ([]domain.ChainEvent, error) {
	if m.filterErr != nil {
		return nil, m.filterErr
	}
	var out []domain.ChainEvent
	for _, event := range m.events {
		if event.BlockNumber >= fromBlock && event.BlockNumber <= toBlock {
			out = append(out, event)
		}
	}
	return out, nil
}

type nopInvalidator struct{}

func (nopInvalidator) InvalidateFlow(context.Context, string)     {}
func (nopInvalidator) InvalidateOwners(context.Context)           {}
func (nopInvalidator) InvalidateApproval(context.Context, uint64) {}
