package application

import (
	"context"
	"fmt"

	"payflow/internal/codec"
	"payflow/internal/domain"
)

// FlowView is the labeled, display-ready projection of a flow's on-chain
// state, with the locally stored name merged in.
type FlowView struct {
	Address         string `json:"address"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	Status          string `json:"status"`
	Type            string `json:"type"`
	TotalAmount     string `json:"totalAmount"`
	RemainingAmount string `json:"remainingAmount"`
	Owner           string `json:"owner"`
	MilestoneCount  uint64 `json:"milestoneCount"`
	SplitCount      uint64 `json:"splitCount"`
}

type MilestoneView struct {
	ID        uint64 `json:"id"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
	Completed bool   `json:"completed"`
	Paid      bool   `json:"paid"`
}

type SplitView struct {
	Recipient  string `json:"recipient"`
	Percentage uint64 `json:"percentage"`
}

type ApprovalView struct {
	ID       uint64 `json:"id"`
	Count    uint64 `json:"count"`
	Required uint64 `json:"required"`
	Approved bool   `json:"approved"`
}

// FlowReader serves the dashboard's read surface over the (possibly
// cached) chain reader, merging flow metadata from the local store.
type FlowReader struct {
	reader ChainReader
	store  *LocalStore
}

func NewFlowReader(reader ChainReader, store *LocalStore) *FlowReader {
	return &FlowReader{reader: reader, store: store}
}

// ListFlows returns the labeled flows owned by an address. An empty list
// is a valid result, not an error; an unconfigured factory surfaces as
// ErrContractNotConfigured for the caller to translate.
func (r *FlowReader) ListFlows(ctx context.Context, owner string) ([]FlowView, error) {
	owner = codec.NormalizeAddress(owner)
	addresses, err := r.reader.FlowsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	metadata := r.store.Metadata(ctx, owner)

	views := make([]FlowView, 0, len(addresses))
	for _, address := range addresses {
		flow, err := r.reader.FlowData(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("read flow %s: %w", address, err)
		}
		views = append(views, r.view(flow, metadata))
	}
	return views, nil
}

// Flow returns the aggregate view for one flow address.
func (r *FlowReader) Flow(ctx context.Context, owner, address string) (FlowView, error) {
	flow, err := r.reader.FlowData(ctx, codec.NormalizeAddress(address))
	if err != nil {
		return FlowView{}, err
	}
	metadata := r.store.Metadata(ctx, codec.NormalizeAddress(owner))
	return r.view(flow, metadata), nil
}

func (r *FlowReader) view(flow domain.Flow, metadata map[string]domain.FlowMetadata) FlowView {
	view := FlowView{
		Address:         flow.Address,
		Name:            codec.DefaultFlowName(flow.Address),
		Status:          flow.Status.Label(),
		Type:            flow.Type.Label(),
		TotalAmount:     codec.FormatAmount(flow.TotalAmount),
		RemainingAmount: codec.FormatAmount(flow.RemainingAmount),
		Owner:           flow.Owner,
		MilestoneCount:  flow.MilestoneCount,
		SplitCount:      flow.SplitCount,
	}
	if meta, ok := metadata[flow.Address]; ok {
		if meta.Name != "" {
			view.Name = meta.Name
		}
		view.Description = meta.Description
	}
	return view
}

// Milestones loads each milestone by index. Records load independently;
// the first failing index aborts so callers never see a gap presented as
// a complete list.
func (r *FlowReader) Milestones(ctx context.Context, address string) ([]MilestoneView, error) {
	address = codec.NormalizeAddress(address)
	flow, err := r.reader.FlowData(ctx, address)
	if err != nil {
		return nil, err
	}
	views := make([]MilestoneView, 0, flow.MilestoneCount)
	for i := uint64(0); i < flow.MilestoneCount; i++ {
		milestone, err := r.reader.Milestone(ctx, address, i)
		if err != nil {
			return nil, fmt.Errorf("read milestone %d: %w", i, err)
		}
		views = append(views, MilestoneView{
			ID:        milestone.ID,
			Amount:    codec.FormatAmount(milestone.Amount),
			Recipient: milestone.Recipient,
			Completed: milestone.Completed,
			Paid:      milestone.Paid,
		})
	}
	return views, nil
}

func (r *FlowReader) Splits(ctx context.Context, address string) ([]SplitView, error) {
	address = codec.NormalizeAddress(address)
	flow, err := r.reader.FlowData(ctx, address)
	if err != nil {
		return nil, err
	}
	views := make([]SplitView, 0, flow.SplitCount)
	for i := uint64(0); i < flow.SplitCount; i++ {
		split, err := r.reader.Split(ctx, address, i)
		if err != nil {
			return nil, fmt.Errorf("read split %d: %w", i, err)
		}
		views = append(views, SplitView{
			Recipient:  split.Recipient,
			Percentage: split.Percentage,
		})
	}
	return views, nil
}

func (r *FlowReader) Approval(ctx context.Context, approvalID uint64) (ApprovalView, error) {
	status, err := r.reader.ApprovalStatus(ctx, approvalID)
	if err != nil {
		return ApprovalView{}, err
	}
	return ApprovalView{
		ID:       status.ID,
		Count:    status.Count,
		Required: status.Required,
		Approved: status.Satisfied(),
	}, nil
}

// LatestApprovalID resolves the id assigned to the most recently created
// approval, or false while none exist yet.
func (r *FlowReader) LatestApprovalID(ctx context.Context) (uint64, bool, error) {
	next, err := r.reader.NextApprovalID(ctx)
	if err != nil {
		return 0, false, err
	}
	if next == 0 {
		return 0, false, nil
	}
	return next - 1, true, nil
}
