package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"payflow/internal/codec"
	"payflow/internal/domain"
	"payflow/internal/events"
)

// Flat gas limits. Estimation right after an approval transaction sees a
// stale allowance and underestimates, so writes carry generous overrides.
const (
	GasFlowCreation  = 3_000_000
	GasTokenApproval = 100_000
	GasFlowMutation  = 500_000
)

const depositRevertGuidance = "retry with a zero deposit and fund the flow afterwards"

// Orchestrator turns one logical action into zero, one, or two chain
// transactions and a single outcome. Approval-then-action ordering is
// strict: the primary write is never submitted before the approval
// receipt is confirmed. Nothing here is idempotent; every call submits
// anew.
type Orchestrator struct {
	reader  ChainReader
	writer  ChainWriter
	bus     *events.Bus
	log     *slog.Logger
	factory string
}

func NewOrchestrator(reader ChainReader, writer ChainWriter, bus *events.Bus, factoryAddress string, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		reader:  reader,
		writer:  writer,
		bus:     bus,
		log:     log,
		factory: codec.NormalizeAddress(factoryAddress),
	}
}

// CreateFlow deploys a new flow through the factory, approving the token
// spend first when the deposit is nonzero.
func (o *Orchestrator) CreateFlow(ctx context.Context, flowType domain.FlowType, deposit string) (domain.Receipt, error) {
	amount, err := codec.ParseAmount(deposit)
	if err != nil {
		o.publishFailure("", domain.TxTypeFlowCreation, "createFlow", o.factory, "", err)
		return domain.Receipt{}, err
	}
	functionName := "create" + flowType.Label() + "Flow"
	if err := o.ensureAllowance(ctx, o.factory, amount); err != nil {
		// The logical action failed even though no primary tx was
		// submitted; history records the attempt either way.
		o.publishFailure("", domain.TxTypeFlowCreation, functionName, o.factory, codec.FormatAmount(amount), err)
		return domain.Receipt{}, err
	}

	guidance := ""
	if amount.Sign() > 0 {
		guidance = depositRevertGuidance
	}
	return o.run(ctx, runSpec{
		txType:       domain.TxTypeFlowCreation,
		functionName: functionName,
		to:           o.factory,
		amount:       amount,
		guidance:     guidance,
		submit: func(ctx context.Context) (string, error) {
			return o.writer.CreateFlow(ctx, flowType, amount, GasFlowCreation)
		},
	})
}

// Deposit funds an existing flow. The flow contract pulls the tokens, so
// it is the allowance spender here, not the factory.
func (o *Orchestrator) Deposit(ctx context.Context, flow, depositAmount string) (domain.Receipt, error) {
	flow = codec.NormalizeAddress(flow)
	amount, err := codec.ParseAmount(depositAmount)
	if err != nil {
		o.publishFailure("", domain.TxTypePayment, "deposit", flow, "", err)
		return domain.Receipt{}, err
	}
	if err := o.ensureAllowance(ctx, flow, amount); err != nil {
		o.publishFailure("", domain.TxTypePayment, "deposit", flow, codec.FormatAmount(amount), err)
		return domain.Receipt{}, err
	}
	return o.run(ctx, runSpec{
		txType:       domain.TxTypePayment,
		functionName: "deposit",
		to:           flow,
		amount:       amount,
		submit: func(ctx context.Context) (string, error) {
			return o.writer.Deposit(ctx, flow, amount, GasFlowMutation)
		},
	})
}

func (o *Orchestrator) AddMilestone(ctx context.Context, flow, milestoneAmount, recipient string) (domain.Receipt, error) {
	flow = codec.NormalizeAddress(flow)
	recipient = codec.NormalizeAddress(recipient)
	amount, err := codec.ParseAmount(milestoneAmount)
	if err != nil {
		o.publishFailure("", domain.TxTypeMilestone, "addMilestone", flow, "", err)
		return domain.Receipt{}, err
	}
	return o.run(ctx, runSpec{
		txType:       domain.TxTypeMilestone,
		functionName: "addMilestone",
		to:           flow,
		amount:       amount,
		submit: func(ctx context.Context) (string, error) {
			return o.writer.AddMilestone(ctx, flow, amount, recipient, GasFlowMutation)
		},
	})
}

func (o *Orchestrator) AddSplit(ctx context.Context, flow, recipient string, percentage uint64) (domain.Receipt, error) {
	flow = codec.NormalizeAddress(flow)
	recipient = codec.NormalizeAddress(recipient)
	if percentage < 1 || percentage > 100 {
		err := fmt.Errorf("split percentage %d out of range 1-100", percentage)
		o.publishFailure("", domain.TxTypeSplit, "addSplit", flow, "", err)
		return domain.Receipt{}, err
	}
	return o.run(ctx, runSpec{
		txType:       domain.TxTypeSplit,
		functionName: "addSplit",
		to:           flow,
		submit: func(ctx context.Context) (string, error) {
			return o.writer.AddSplit(ctx, flow, recipient, percentage, GasFlowMutation)
		},
	})
}

func (o *Orchestrator) CompleteMilestone(ctx context.Context, flow string, milestoneID uint64) (domain.Receipt, error) {
	flow = codec.NormalizeAddress(flow)
	return o.run(ctx, runSpec{
		txType:       domain.TxTypeMilestone,
		functionName: "markMilestoneComplete",
		to:           flow,
		submit: func(ctx context.Context) (string, error) {
			return o.writer.MarkMilestoneComplete(ctx, flow, milestoneID, GasFlowMutation)
		},
	})
}

func (o *Orchestrator) PayMilestone(ctx context.Context, flow string, milestoneID uint64) (domain.Receipt, error) {
	flow = codec.NormalizeAddress(flow)
	return o.run(ctx, runSpec{
		txType:       domain.TxTypePayment,
		functionName: "executeMilestonePayment",
		to:           flow,
		submit: func(ctx context.Context) (string, error) {
			return o.writer.ExecuteMilestonePayment(ctx, flow, milestoneID, GasFlowMutation)
		},
	})
}

func (o *Orchestrator) PaySplits(ctx context.Context, flow string) (domain.Receipt, error) {
	flow = codec.NormalizeAddress(flow)
	return o.run(ctx, runSpec{
		txType:       domain.TxTypePayment,
		functionName: "executeSplitPayment",
		to:           flow,
		submit: func(ctx context.Context) (string, error) {
			return o.writer.ExecuteSplitPayment(ctx, flow, GasFlowMutation)
		},
	})
}

func (o *Orchestrator) PauseFlow(ctx context.Context, flow string) (domain.Receipt, error) {
	return o.simpleFlowWrite(ctx, flow, "pause", o.writer.PauseFlow)
}

func (o *Orchestrator) ResumeFlow(ctx context.Context, flow string) (domain.Receipt, error) {
	return o.simpleFlowWrite(ctx, flow, "resume", o.writer.ResumeFlow)
}

func (o *Orchestrator) CancelFlow(ctx context.Context, flow string) (domain.Receipt, error) {
	return o.simpleFlowWrite(ctx, flow, "cancel", o.writer.CancelFlow)
}

func (o *Orchestrator) simpleFlowWrite(ctx context.Context, flow, functionName string, write func(context.Context, string, uint64) (string, error)) (domain.Receipt, error) {
	flow = codec.NormalizeAddress(flow)
	return o.run(ctx, runSpec{
		txType:       domain.TxTypeOther,
		functionName: functionName,
		to:           flow,
		submit: func(ctx context.Context) (string, error) {
			return write(ctx, flow, GasFlowMutation)
		},
	})
}

func (o *Orchestrator) CreateApproval(ctx context.Context, approvers []string, required uint64) (domain.Receipt, error) {
	if required == 0 || required > uint64(len(approvers)) {
		err := fmt.Errorf("required approvals %d out of range 1-%d", required, len(approvers))
		o.publishFailure("", domain.TxTypeApproval, "createApproval", "", "", err)
		return domain.Receipt{}, err
	}
	normalized := make([]string, 0, len(approvers))
	for _, approver := range approvers {
		normalized = append(normalized, codec.NormalizeAddress(approver))
	}
	return o.run(ctx, runSpec{
		txType:       domain.TxTypeApproval,
		functionName: "createApproval",
		submit: func(ctx context.Context) (string, error) {
			return o.writer.CreateApproval(ctx, normalized, required, GasFlowMutation)
		},
	})
}

func (o *Orchestrator) GiveApproval(ctx context.Context, approvalID uint64) (domain.Receipt, error) {
	return o.run(ctx, runSpec{
		txType:       domain.TxTypeApproval,
		functionName: "approve",
		submit: func(ctx context.Context) (string, error) {
			return o.writer.GiveApproval(ctx, approvalID, GasFlowMutation)
		},
	})
}

// ensureAllowance gates deposit-bearing actions. A zero amount skips the
// approval path entirely. When the current allowance is short, the
// orchestrator approves the maximum representable amount so later
// actions never have to approve again, waits for the receipt, and
// re-reads the allowance to confirm the spend is actually covered.
func (o *Orchestrator) ensureAllowance(ctx context.Context, spender string, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	owner, ok := o.writer.Signer()
	if !ok {
		return domain.ErrWalletNotConnected
	}

	tracer := otel.Tracer("payflow/orchestrator")
	ctx, span := tracer.Start(ctx, "orchestrator.ensure_allowance",
		trace.WithAttributes(attribute.String("spender", spender)))
	defer span.End()

	allowance, err := o.reader.Allowance(ctx, owner, spender)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("read allowance: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	if _, err := o.run(ctx, runSpec{
		txType:       domain.TxTypeApproval,
		functionName: "approve",
		to:           spender,
		submit: func(ctx context.Context) (string, error) {
			return o.writer.ApproveToken(ctx, spender, codec.MaxUint256, GasTokenApproval)
		},
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	allowance, err = o.reader.Allowance(ctx, owner, spender)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("re-read allowance: %w", err)
	}
	if allowance.Cmp(amount) < 0 {
		span.SetStatus(codes.Error, domain.ErrTokenApprovalFailed.Error())
		return domain.ErrTokenApprovalFailed
	}
	return nil
}

type runSpec struct {
	txType       domain.TxType
	functionName string
	to           string
	amount       *big.Int
	guidance     string
	submit       func(context.Context) (string, error)
}

// run submits one transaction and walks it through the lifecycle:
// submitted, then confirmed or failed. Every transition is published on
// the bus; failed attempts are published too so history records them.
func (o *Orchestrator) run(ctx context.Context, spec runSpec) (domain.Receipt, error) {
	tracer := otel.Tracer("payflow/orchestrator")
	ctx, span := tracer.Start(ctx, "orchestrator."+spec.functionName,
		trace.WithAttributes(
			attribute.String("tx.type", string(spec.txType)),
			attribute.String("to", spec.to),
		))
	defer span.End()

	displayAmount := ""
	if spec.amount != nil && spec.amount.Sign() > 0 {
		displayAmount = codec.FormatAmount(spec.amount)
	}

	hash, err := spec.submit(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.publishFailure("", spec.txType, spec.functionName, spec.to, displayAmount, err)
		return domain.Receipt{}, err
	}
	span.SetAttributes(attribute.String("tx.hash", hash))
	o.log.Info("transaction submitted", "hash", hash, "function", spec.functionName, "to", spec.to)
	o.bus.Publish(events.TransactionEvent{
		Hash:         hash,
		Type:         spec.txType,
		FunctionName: spec.functionName,
		To:           spec.to,
		Amount:       displayAmount,
		Status:       domain.TxStatusPending,
	})

	receipt, err := o.writer.WaitReceipt(ctx, hash)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.publishFailure(hash, spec.txType, spec.functionName, spec.to, displayAmount, err)
		return domain.Receipt{}, err
	}
	if receipt.Reverted {
		revertErr := &domain.RevertError{Hash: hash, Guidance: spec.guidance}
		span.SetStatus(codes.Error, revertErr.Error())
		o.log.Warn("transaction reverted", "hash", hash, "function", spec.functionName)
		o.publishFailure(hash, spec.txType, spec.functionName, spec.to, displayAmount, revertErr)
		return receipt, revertErr
	}

	o.log.Info("transaction confirmed", "hash", hash, "block", receipt.BlockNumber)
	o.bus.Publish(events.TransactionEvent{
		Hash:         hash,
		Type:         spec.txType,
		FunctionName: spec.functionName,
		To:           spec.to,
		Amount:       displayAmount,
		Status:       domain.TxStatusSuccess,
	})
	return receipt, nil
}

func (o *Orchestrator) publishFailure(hash string, txType domain.TxType, functionName, to, amount string, err error) {
	var revertErr *domain.RevertError
	o.bus.Publish(events.TransactionEvent{
		Hash:         hash,
		Type:         txType,
		FunctionName: functionName,
		To:           to,
		Amount:       amount,
		Status:       domain.TxStatusFailed,
		Error:        domain.Reason(err),
		Reverted:     errors.As(err, &revertErr),
	})
}
