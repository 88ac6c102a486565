package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"payflow/internal/codec"
	"payflow/internal/domain"
)

const (
	historyKeyPrefix   = "payflow_transaction_history_"
	approvalsKeyPrefix = "payflow_pending_approvals_"
	metadataKeyPrefix  = "payflow_flow_metadata_"
	activityKeyPrefix  = "payflow_activity_feed_"

	historyCap    = 100
	activityCap   = 100
	historyMaxAge = 7 * 24 * time.Hour
)

// MetadataUpdate is a partial metadata write. Empty fields leave the
// stored value untouched.
type MetadataUpdate struct {
	Name        string
	Description string
}

// LocalStore is the per-address cache layer: transaction history,
// pending-approval bookmarks, flow metadata, and the activity feed.
// Each namespace is a JSON blob in the KV store, read-modify-written
// under its own mutex so last-write-wins stays deterministic under
// concurrent callers. Corrupted or unreadable blobs degrade to an
// empty cache; loads never fail.
type LocalStore struct {
	kv  KVStore
	log *slog.Logger
	now func() time.Time

	historyMu   sync.Mutex
	approvalsMu sync.Mutex
	metadataMu  sync.Mutex
	activityMu  sync.Mutex
}

func NewLocalStore(kv KVStore, log *slog.Logger) *LocalStore {
	if log == nil {
		log = slog.Default()
	}
	return &LocalStore{kv: kv, log: log, now: time.Now}
}

func (s *LocalStore) load(ctx context.Context, key string, out any) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.log.Warn("cache read failed, treating as empty", "key", key, "error", err)
		return
	}
	if !ok {
		return
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.log.Warn("cache blob corrupted, treating as empty", "key", key, "error", err)
	}
}

func (s *LocalStore) save(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Put(ctx, key, raw)
}

// --- transaction history ---

func historyKey(address string) string {
	return historyKeyPrefix + strings.ToLower(address)
}

// History returns the stored records newer than the retention window,
// newest first. Expired entries are filtered on load, not deleted.
func (s *LocalStore) History(ctx context.Context, address string) []domain.TransactionRecord {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	return s.liveHistory(s.loadHistory(ctx, address))
}

func (s *LocalStore) loadHistory(ctx context.Context, address string) []domain.TransactionRecord {
	var records []domain.TransactionRecord
	s.load(ctx, historyKey(address), &records)
	return records
}

func (s *LocalStore) liveHistory(records []domain.TransactionRecord) []domain.TransactionRecord {
	cutoff := s.now().Add(-historyMaxAge).UnixMilli()
	live := make([]domain.TransactionRecord, 0, len(records))
	for _, record := range records {
		if record.Timestamp >= cutoff {
			live = append(live, record)
		}
	}
	return live
}

// RecordTransaction inserts or replaces a record. A hash matching an
// existing record replaces it in place; a new hash is prepended and the
// list trimmed to the cap, oldest evicted first.
func (s *LocalStore) RecordTransaction(ctx context.Context, address string, record domain.TransactionRecord) error {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	records := s.loadHistory(ctx, address)
	replaced := false
	for i := range records {
		if record.Hash != "" && records[i].Hash == record.Hash {
			records[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		records = append([]domain.TransactionRecord{record}, records...)
		if len(records) > historyCap {
			records = records[:historyCap]
		}
	}
	return s.save(ctx, historyKey(address), records)
}

// PendingTransactions returns the unexpired records still awaiting a receipt.
func (s *LocalStore) PendingTransactions(ctx context.Context, address string) []domain.TransactionRecord {
	var pending []domain.TransactionRecord
	for _, record := range s.History(ctx, address) {
		if record.Status == domain.TxStatusPending && record.Hash != "" {
			pending = append(pending, record)
		}
	}
	return pending
}

// ResolveTransaction flips a stored record to its final status, keeping
// the rest of the record intact. Reports whether the hash was found.
func (s *LocalStore) ResolveTransaction(ctx context.Context, address, hash string, status domain.TxStatus, errMsg string) (bool, error) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	records := s.loadHistory(ctx, address)
	for i := range records {
		if records[i].Hash == hash {
			records[i].Status = status
			records[i].Error = errMsg
			return true, s.save(ctx, historyKey(address), records)
		}
	}
	return false, nil
}

// --- pending approvals ---

func approvalsKey(address string) string {
	return approvalsKeyPrefix + strings.ToLower(address)
}

func (s *LocalStore) PendingApprovals(ctx context.Context, address string) []domain.PendingApproval {
	s.approvalsMu.Lock()
	defer s.approvalsMu.Unlock()

	var approvals []domain.PendingApproval
	s.load(ctx, approvalsKey(address), &approvals)
	sort.Slice(approvals, func(i, j int) bool {
		return approvals[i].CreatedAt > approvals[j].CreatedAt
	})
	return approvals
}

func (s *LocalStore) AddPendingApproval(ctx context.Context, address string, approval domain.PendingApproval) error {
	s.approvalsMu.Lock()
	defer s.approvalsMu.Unlock()

	var approvals []domain.PendingApproval
	s.load(ctx, approvalsKey(address), &approvals)
	for _, existing := range approvals {
		if existing.ApprovalID == approval.ApprovalID {
			return nil
		}
	}
	if approval.CreatedAt == 0 {
		approval.CreatedAt = s.now().UnixMilli()
	}
	approvals = append(approvals, approval)
	return s.save(ctx, approvalsKey(address), approvals)
}

func (s *LocalStore) RemovePendingApproval(ctx context.Context, address string, approvalID uint64) error {
	s.approvalsMu.Lock()
	defer s.approvalsMu.Unlock()

	var approvals []domain.PendingApproval
	s.load(ctx, approvalsKey(address), &approvals)
	kept := approvals[:0]
	for _, approval := range approvals {
		if approval.ApprovalID != approvalID {
			kept = append(kept, approval)
		}
	}
	if len(kept) == len(approvals) {
		return nil
	}
	return s.save(ctx, approvalsKey(address), kept)
}

// --- flow metadata ---

func metadataKey(address string) string {
	return metadataKeyPrefix + strings.ToLower(address)
}

// Metadata returns the full flow-address-to-metadata map for an address.
// Keys are lowercase flow addresses.
func (s *LocalStore) Metadata(ctx context.Context, address string) map[string]domain.FlowMetadata {
	s.metadataMu.Lock()
	defer s.metadataMu.Unlock()

	entries := make(map[string]domain.FlowMetadata)
	s.load(ctx, metadataKey(address), &entries)
	return entries
}

// FlowName resolves a display name, falling back to the short-address label.
func (s *LocalStore) FlowName(ctx context.Context, address, flow string) string {
	entries := s.Metadata(ctx, address)
	if meta, ok := entries[codec.NormalizeAddress(flow)]; ok && meta.Name != "" {
		return meta.Name
	}
	return codec.DefaultFlowName(flow)
}

// SetMetadata merges a partial update onto the stored entry for a flow.
// The flow key is case-insensitive. Name defaults to the short-address
// label and CreatedAt to first-write time when not already present.
func (s *LocalStore) SetMetadata(ctx context.Context, address, flow string, update MetadataUpdate) error {
	s.metadataMu.Lock()
	defer s.metadataMu.Unlock()

	entries := make(map[string]domain.FlowMetadata)
	s.load(ctx, metadataKey(address), &entries)

	key := codec.NormalizeAddress(flow)
	entry := entries[key]
	if update.Name != "" {
		entry.Name = update.Name
	}
	if update.Description != "" {
		entry.Description = update.Description
	}
	if entry.Name == "" {
		entry.Name = codec.DefaultFlowName(flow)
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = s.now().UnixMilli()
	}
	entries[key] = entry
	return s.save(ctx, metadataKey(address), entries)
}

// --- activity feed ---

func activityKey(address string) string {
	return activityKeyPrefix + strings.ToLower(address)
}

func (s *LocalStore) Activity(ctx context.Context, address string) []domain.ActivityItem {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()

	var items []domain.ActivityItem
	s.load(ctx, activityKey(address), &items)
	return items
}

// AddActivity prepends a feed item, trimming to the cap.
func (s *LocalStore) AddActivity(ctx context.Context, address string, item domain.ActivityItem) error {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()

	var items []domain.ActivityItem
	s.load(ctx, activityKey(address), &items)
	if item.Time == 0 {
		item.Time = s.now().UnixMilli()
	}
	items = append([]domain.ActivityItem{item}, items...)
	if len(items) > activityCap {
		items = items[:activityCap]
	}
	return s.save(ctx, activityKey(address), items)
}
