// Package events carries transaction lifecycle notifications from the
// orchestrator to the persistence layer, the read cache, and any other
// listener. Delivery is synchronous, in emission order, and best-effort:
// a subscriber registered after an event fires does not receive it, so
// consumers load their initial state from the store instead.
package events

import (
	"sync"

	"payflow/internal/domain"
)

// TransactionEvent is the fixed lifecycle payload. One event is published
// per phase transition: submitted (pending), confirmed (success), and
// reverted-or-failed (failed, with Error set). Reverted distinguishes an
// on-chain revert from a submission or receipt failure.
type TransactionEvent struct {
	Hash         string          `json:"hash"`
	Type         domain.TxType   `json:"type"`
	FunctionName string          `json:"functionName"`
	To           string          `json:"to"`
	Amount       string          `json:"amount,omitempty"`
	Status       domain.TxStatus `json:"status"`
	Error        string          `json:"error,omitempty"`
	Reverted     bool            `json:"reverted,omitempty"`
}

type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]func(TransactionEvent)
	order  []uint64
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]func(TransactionEvent))}
}

// Subscribe registers a handler and returns its unsubscribe function.
// Handlers run on the publisher's goroutine in registration order.
func (b *Bus) Subscribe(handler func(TransactionEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || handler == nil {
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = handler
	b.order = append(b.order, id)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers the event to every current subscriber. The lock is held
// across delivery so events observed by any one subscriber are totally
// ordered; handlers must not publish re-entrantly.
func (b *Bus) Publish(event TransactionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, id := range b.order {
		if handler, ok := b.subs[id]; ok {
			handler(event)
		}
	}
}

// Close drops all subscribers. Used for test isolation and shutdown.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[uint64]func(TransactionEvent))
	b.order = nil
}
