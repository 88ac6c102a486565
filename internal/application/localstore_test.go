package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"payflow/internal/domain"
)

const testWallet = "0x00000000000000000000000000000000000000aa"

func newTestStore() (*LocalStore, *memKV) {
	kv := newMemKV()
	return NewLocalStore(kv, discardLogger()), kv
}

func TestRecordTransactionPrependsNewestFirst(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		record := domain.TransactionRecord{
			Hash:      fmt.Sprintf("0x%d", i),
			Status:    domain.TxStatusPending,
			Timestamp: time.Now().UnixMilli(),
		}
		if err := store.RecordTransaction(ctx, testWallet, record); err != nil {
			t.Fatalf("RecordTransaction error: %v", err)
		}
	}

	records := store.History(ctx, testWallet)
	if len(records) != 3 {
		t.Fatalf("history length = %d, want 3", len(records))
	}
	if records[0].Hash != "0x3" || records[2].Hash != "0x1" {
		t.Errorf("order = [%s %s %s], want newest first", records[0].Hash, records[1].Hash, records[2].Hash)
	}
}

func TestRecordTransactionReplacesByHash(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	now := time.Now().UnixMilli()

	for _, hash := range []string{"0x1", "0x2"} {
		record := domain.TransactionRecord{Hash: hash, Status: domain.TxStatusPending, Timestamp: now}
		if err := store.RecordTransaction(ctx, testWallet, record); err != nil {
			t.Fatalf("RecordTransaction error: %v", err)
		}
	}

	// Re-record 0x1 as successful. Length stays put, position stays put.
	updated := domain.TransactionRecord{Hash: "0x1", Status: domain.TxStatusSuccess, Timestamp: now}
	if err := store.RecordTransaction(ctx, testWallet, updated); err != nil {
		t.Fatalf("RecordTransaction error: %v", err)
	}

	records := store.History(ctx, testWallet)
	if len(records) != 2 {
		t.Fatalf("history length = %d, want 2", len(records))
	}
	if records[1].Hash != "0x1" || records[1].Status != domain.TxStatusSuccess {
		t.Errorf("record 0x1 = %+v, want success in place", records[1])
	}
}

func TestRecordTransactionCap(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	now := time.Now().UnixMilli()

	for i := 0; i < historyCap+1; i++ {
		record := domain.TransactionRecord{
			Hash:      fmt.Sprintf("0x%d", i),
			Status:    domain.TxStatusSuccess,
			Timestamp: now,
		}
		if err := store.RecordTransaction(ctx, testWallet, record); err != nil {
			t.Fatalf("RecordTransaction error: %v", err)
		}
	}

	records := store.History(ctx, testWallet)
	if len(records) != historyCap {
		t.Fatalf("history length = %d, want %d", len(records), historyCap)
	}
	// The oldest entry was evicted, the newest kept.
	if records[0].Hash != fmt.Sprintf("0x%d", historyCap) {
		t.Errorf("newest = %s, want 0x%d", records[0].Hash, historyCap)
	}
	for _, record := range records {
		if record.Hash == "0x0" {
			t.Errorf("oldest entry 0x0 survived the cap")
		}
	}
}

func TestHistoryFiltersExpired(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	now := time.Now()
	store.now = func() time.Time { return now }

	fresh := domain.TransactionRecord{Hash: "0xfresh", Status: domain.TxStatusSuccess, Timestamp: now.Add(-time.Hour).UnixMilli()}
	stale := domain.TransactionRecord{Hash: "0xstale", Status: domain.TxStatusSuccess, Timestamp: now.Add(-historyMaxAge - time.Hour).UnixMilli()}
	for _, record := range []domain.TransactionRecord{stale, fresh} {
		if err := store.RecordTransaction(ctx, testWallet, record); err != nil {
			t.Fatalf("RecordTransaction error: %v", err)
		}
	}

	records := store.History(ctx, testWallet)
	if len(records) != 1 || records[0].Hash != "0xfresh" {
		t.Errorf("history = %+v, want only the fresh record", records)
	}
}

func TestHistoryDegradesOnCorruptBlob(t *testing.T) {
	store, kv := newTestStore()
	ctx := context.Background()

	if err := kv.Put(ctx, historyKey(testWallet), []byte("{not json")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if records := store.History(ctx, testWallet); len(records) != 0 {
		t.Errorf("history = %+v, want empty on corrupt blob", records)
	}

	// A fresh write recovers the namespace.
	record := domain.TransactionRecord{Hash: "0x1", Status: domain.TxStatusPending, Timestamp: time.Now().UnixMilli()}
	if err := store.RecordTransaction(ctx, testWallet, record); err != nil {
		t.Fatalf("RecordTransaction error: %v", err)
	}
	if records := store.History(ctx, testWallet); len(records) != 1 {
		t.Errorf("history length = %d after recovery, want 1", len(records))
	}
}

func TestHistoryDegradesOnReadError(t *testing.T) {
	store, kv := newTestStore()
	kv.getErr = errors.New("disk gone")

	if records := store.History(context.Background(), testWallet); len(records) != 0 {
		t.Errorf("history = %+v, want empty on read error", records)
	}
}

func TestResolveTransaction(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	record := domain.TransactionRecord{
		Hash:        "0x1",
		Status:      domain.TxStatusPending,
		Timestamp:   time.Now().UnixMilli(),
		Description: "Deposited funds",
	}
	if err := store.RecordTransaction(ctx, testWallet, record); err != nil {
		t.Fatalf("RecordTransaction error: %v", err)
	}

	found, err := store.ResolveTransaction(ctx, testWallet, "0x1", domain.TxStatusFailed, "reverted")
	if err != nil || !found {
		t.Fatalf("ResolveTransaction = (%v, %v), want (true, nil)", found, err)
	}
	records := store.History(ctx, testWallet)
	if records[0].Status != domain.TxStatusFailed || records[0].Error != "reverted" {
		t.Errorf("resolved record = %+v", records[0])
	}
	if records[0].Description != "Deposited funds" {
		t.Errorf("description lost on resolve: %q", records[0].Description)
	}

	found, err = store.ResolveTransaction(ctx, testWallet, "0xmissing", domain.TxStatusSuccess, "")
	if err != nil || found {
		t.Errorf("ResolveTransaction(missing) = (%v, %v), want (false, nil)", found, err)
	}
}

func TestPendingTransactions(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	now := time.Now().UnixMilli()

	records := []domain.TransactionRecord{
		{Hash: "0x1", Status: domain.TxStatusPending, Timestamp: now},
		{Hash: "0x2", Status: domain.TxStatusSuccess, Timestamp: now},
		{Hash: "local-123", Status: domain.TxStatusPending, Timestamp: now},
	}
	for _, record := range records {
		if err := store.RecordTransaction(ctx, testWallet, record); err != nil {
			t.Fatalf("RecordTransaction error: %v", err)
		}
	}

	pending := store.PendingTransactions(ctx, testWallet)
	if len(pending) != 2 {
		t.Fatalf("pending length = %d, want 2", len(pending))
	}
}

func TestPendingApprovalsDedupAndSort(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	if err := store.AddPendingApproval(ctx, testWallet, domain.PendingApproval{ApprovalID: 1, CreatedAt: 100}); err != nil {
		t.Fatalf("AddPendingApproval error: %v", err)
	}
	if err := store.AddPendingApproval(ctx, testWallet, domain.PendingApproval{ApprovalID: 2, CreatedAt: 200}); err != nil {
		t.Fatalf("AddPendingApproval error: %v", err)
	}
	// Duplicate id is a no-op.
	if err := store.AddPendingApproval(ctx, testWallet, domain.PendingApproval{ApprovalID: 1, CreatedAt: 999}); err != nil {
		t.Fatalf("AddPendingApproval error: %v", err)
	}

	approvals := store.PendingApprovals(ctx, testWallet)
	if len(approvals) != 2 {
		t.Fatalf("pending approvals = %d, want 2", len(approvals))
	}
	if approvals[0].ApprovalID != 2 {
		t.Errorf("first approval = %d, want newest (2)", approvals[0].ApprovalID)
	}

	if err := store.RemovePendingApproval(ctx, testWallet, 2); err != nil {
		t.Fatalf("RemovePendingApproval error: %v", err)
	}
	approvals = store.PendingApprovals(ctx, testWallet)
	if len(approvals) != 1 || approvals[0].ApprovalID != 1 {
		t.Errorf("after removal = %+v, want only approval 1", approvals)
	}
}

func TestSetMetadataCaseInsensitive(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	flow := "0x1234567890abcdef1234567890abcdef1234abcd"

	err := store.SetMetadata(ctx, testWallet, "0x1234567890ABCDEF1234567890ABCDEF1234ABCD", MetadataUpdate{Name: "Payroll"})
	if err != nil {
		t.Fatalf("SetMetadata error: %v", err)
	}

	entries := store.Metadata(ctx, testWallet)
	meta, ok := entries[flow]
	if !ok {
		t.Fatalf("metadata not found under lowercase key; keys: %v", entries)
	}
	if meta.Name != "Payroll" {
		t.Errorf("name = %q, want Payroll", meta.Name)
	}
	if meta.CreatedAt == 0 {
		t.Errorf("CreatedAt not set on first write")
	}
}

func TestSetMetadataPartialUpdate(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	flow := "0x1234567890abcdef1234567890abcdef1234abcd"

	if err := store.SetMetadata(ctx, testWallet, flow, MetadataUpdate{Name: "Payroll", Description: "Monthly run"}); err != nil {
		t.Fatalf("SetMetadata error: %v", err)
	}
	first := store.Metadata(ctx, testWallet)[flow]

	// Description-only update leaves the name and CreatedAt alone.
	if err := store.SetMetadata(ctx, testWallet, flow, MetadataUpdate{Description: "Biweekly run"}); err != nil {
		t.Fatalf("SetMetadata error: %v", err)
	}
	meta := store.Metadata(ctx, testWallet)[flow]
	if meta.Name != "Payroll" {
		t.Errorf("name = %q, want Payroll preserved", meta.Name)
	}
	if meta.Description != "Biweekly run" {
		t.Errorf("description = %q, want Biweekly run", meta.Description)
	}
	if meta.CreatedAt != first.CreatedAt {
		t.Errorf("CreatedAt changed on update")
	}
}

func TestSetMetadataDefaultsName(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	flow := "0x1234567890abcdef1234567890abcdef1234abcd"

	if err := store.SetMetadata(ctx, testWallet, flow, MetadataUpdate{}); err != nil {
		t.Fatalf("SetMetadata error: %v", err)
	}
	if name := store.FlowName(ctx, testWallet, flow); name != "Flow 0x1234...abcd" {
		t.Errorf("FlowName = %q, want Flow 0x1234...abcd", name)
	}
}

func TestAddActivityCap(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	for i := 0; i < activityCap+5; i++ {
		item := domain.ActivityItem{
			ID:    fmt.Sprintf("item-%d", i),
			Type:  domain.ActivityPayment,
			Title: "Payment",
		}
		if err := store.AddActivity(ctx, testWallet, item); err != nil {
			t.Fatalf("AddActivity error: %v", err)
		}
	}

	items := store.Activity(ctx, testWallet)
	if len(items) != activityCap {
		t.Fatalf("activity length = %d, want %d", len(items), activityCap)
	}
	if items[0].ID != fmt.Sprintf("item-%d", activityCap+4) {
		t.Errorf("newest item = %s, want item-%d", items[0].ID, activityCap+4)
	}
	if items[0].Time == 0 {
		t.Errorf("item timestamp not defaulted")
	}
}

func TestNamespacesAreIsolatedPerAddress(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	other := "0x00000000000000000000000000000000000000bb"

	record := domain.TransactionRecord{Hash: "0x1", Status: domain.TxStatusSuccess, Timestamp: time.Now().UnixMilli()}
	if err := store.RecordTransaction(ctx, testWallet, record); err != nil {
		t.Fatalf("RecordTransaction error: %v", err)
	}
	if records := store.History(ctx, other); len(records) != 0 {
		t.Errorf("other address sees %d records, want 0", len(records))
	}
}
