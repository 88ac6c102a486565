package httpapi

import (
	"sync"
	"time"
)

// Metrics aggregates service counters for the text /metrics endpoint.
// Updated from the bus subscriber, the watcher, and the reconciler.
type Metrics struct {
	mu                 sync.RWMutex
	startTime          time.Time
	latestBlock        uint64
	txSubmitted        uint64
	txConfirmed        uint64
	txFailed           uint64
	txReverted         uint64
	approvalsObserved  uint64
	approvalsResolved  uint64
	reconcileSweeps    uint64
	busEvents          uint64
	kafkaPublishErrors uint64
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) OnLatestBlock(block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if block > m.latestBlock {
		m.latestBlock = block
	}
}

func (m *Metrics) OnTransaction(status string, reverted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busEvents++
	switch status {
	case "pending":
		m.txSubmitted++
	case "success":
		m.txConfirmed++
	case "failed":
		m.txFailed++
		if reverted {
			m.txReverted++
		}
	}
}

func (m *Metrics) OnApprovalObserved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvalsObserved++
}

func (m *Metrics) OnApprovalResolved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvalsResolved++
}

func (m *Metrics) OnReconcileSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileSweeps++
}

func (m *Metrics) OnKafkaPublishError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaPublishErrors++
}

type Snapshot struct {
	StartTime          time.Time
	LatestBlock        uint64
	TxSubmitted        uint64
	TxConfirmed        uint64
	TxFailed           uint64
	TxReverted         uint64
	ApprovalsObserved  uint64
	ApprovalsResolved  uint64
	ReconcileSweeps    uint64
	BusEvents          uint64
	KafkaPublishErrors uint64
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		StartTime:          m.startTime,
		LatestBlock:        m.latestBlock,
		TxSubmitted:        m.txSubmitted,
		TxConfirmed:        m.txConfirmed,
		TxFailed:           m.txFailed,
		TxReverted:         m.txReverted,
		ApprovalsObserved:  m.approvalsObserved,
		ApprovalsResolved:  m.approvalsResolved,
		ReconcileSweeps:    m.reconcileSweeps,
		BusEvents:          m.busEvents,
		KafkaPublishErrors: m.kafkaPublishErrors,
	}
}
