package events

import (
	"testing"

	"payflow/internal/domain"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	var seen []string
	bus.Subscribe(func(event TransactionEvent) {
		seen = append(seen, event.Hash)
	})

	bus.Publish(TransactionEvent{Hash: "0x1", Status: domain.TxStatusPending})
	bus.Publish(TransactionEvent{Hash: "0x2", Status: domain.TxStatusSuccess})
	bus.Publish(TransactionEvent{Hash: "0x3", Status: domain.TxStatusFailed})

	want := []string{"0x1", "0x2", "0x3"}
	if len(seen) != len(want) {
		t.Fatalf("delivered %d events, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestBusSubscriberOrder(t *testing.T) {
	bus := NewBus()
	var order []int
	bus.Subscribe(func(TransactionEvent) { order = append(order, 1) })
	bus.Subscribe(func(TransactionEvent) { order = append(order, 2) })
	bus.Subscribe(func(TransactionEvent) { order = append(order, 3) })

	bus.Publish(TransactionEvent{Hash: "0x1"})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("subscriber order = %v, want [1 2 3]", order)
	}
}

func TestBusNoReplay(t *testing.T) {
	bus := NewBus()
	bus.Publish(TransactionEvent{Hash: "0xearly"})

	var seen []string
	bus.Subscribe(func(event TransactionEvent) {
		seen = append(seen, event.Hash)
	})
	bus.Publish(TransactionEvent{Hash: "0xlate"})

	if len(seen) != 1 || seen[0] != "0xlate" {
		t.Errorf("late subscriber saw %v, want [0xlate] only", seen)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	count := 0
	unsubscribe := bus.Subscribe(func(TransactionEvent) { count++ })

	bus.Publish(TransactionEvent{Hash: "0x1"})
	unsubscribe()
	bus.Publish(TransactionEvent{Hash: "0x2"})

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	count := 0
	bus.Subscribe(func(TransactionEvent) { count++ })
	bus.Close()
	bus.Publish(TransactionEvent{Hash: "0x1"})

	if count != 0 {
		t.Errorf("handler ran after Close")
	}
	if unsub := bus.Subscribe(func(TransactionEvent) {}); unsub == nil {
		t.Errorf("Subscribe after Close returned nil unsubscribe")
	}
}
