// Package ethereum is the chain gateway: contract reads via eth_call,
// EIP-1559 writes signed with the configured key, receipt waits, and
// incremental log filtering for factory and approval-manager events.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"payflow/internal/domain"
)

const receiptPollInterval = 2 * time.Second

type Config struct {
	RPCURL                 string
	PrivateKey             string
	FlowFactoryAddress     string
	ApprovalManagerAddress string
	MNEETokenAddress       string
}

type Client struct {
	client  *ethclient.Client
	chainID *big.Int

	key    *ecdsa.PrivateKey
	signer common.Address

	factory         common.Address
	approvalManager common.Address
	token           common.Address
	hasFactory      bool
	hasManager      bool
	hasToken        bool

	factoryABI abi.ABI
	flowABI    abi.ABI
	managerABI abi.ABI
	tokenABI   abi.ABI
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("rpc url is required")
	}
	ethClient, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	c := &Client{client: ethClient, chainID: chainID}

	if c.factoryABI, err = abi.JSON(strings.NewReader(flowFactoryABI)); err != nil {
		return nil, err
	}
	if c.flowABI, err = abi.JSON(strings.NewReader(paymentFlowABI)); err != nil {
		return nil, err
	}
	if c.managerABI, err = abi.JSON(strings.NewReader(approvalManagerABI)); err != nil {
		return nil, err
	}
	if c.tokenABI, err = abi.JSON(strings.NewReader(mneeTokenABI)); err != nil {
		return nil, err
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parse signer key: %w", err)
		}
		c.key = key
		c.signer = crypto.PubkeyToAddress(key.PublicKey)
	}

	if common.IsHexAddress(cfg.FlowFactoryAddress) {
		c.factory = common.HexToAddress(cfg.FlowFactoryAddress)
		c.hasFactory = true
	}
	if common.IsHexAddress(cfg.ApprovalManagerAddress) {
		c.approvalManager = common.HexToAddress(cfg.ApprovalManagerAddress)
		c.hasManager = true
	}
	if common.IsHexAddress(cfg.MNEETokenAddress) {
		c.token = common.HexToAddress(cfg.MNEETokenAddress)
		c.hasToken = true
	}

	return c, nil
}

func (c *Client) Close() {
	c.client.Close()
}

func (c *Client) ChainID() uint64 {
	return c.chainID.Uint64()
}

// Signer returns the tracked wallet address, or false when no key is
// configured. Reads work without a signer; writes do not.
func (c *Client) Signer() (string, bool) {
	if c.key == nil {
		return "", false
	}
	return strings.ToLower(c.signer.Hex()), true
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.client.BlockNumber(ctx)
}

// --- reads ---

func (c *Client) callView(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.client.CallContract(ctx, goethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func flowAddressOf(flow string) (common.Address, error) {
	if !common.IsHexAddress(flow) {
		return common.Address{}, fmt.Errorf("%w: flow %q", domain.ErrContractNotConfigured, flow)
	}
	return common.HexToAddress(flow), nil
}

func (c *Client) FlowData(ctx context.Context, flow string) (domain.Flow, error) {
	addr, err := flowAddressOf(flow)
	if err != nil {
		return domain.Flow{}, err
	}

	result := domain.Flow{Address: strings.ToLower(addr.Hex())}

	status, err := c.callView(ctx, addr, c.flowABI, "status")
	if err != nil {
		return domain.Flow{}, err
	}
	result.Status = domain.FlowStatus(status[0].(uint8))

	total, err := c.callView(ctx, addr, c.flowABI, "totalAmount")
	if err != nil {
		return domain.Flow{}, err
	}
	result.TotalAmount = total[0].(*big.Int)

	remaining, err := c.callView(ctx, addr, c.flowABI, "remainingAmount")
	if err != nil {
		return domain.Flow{}, err
	}
	result.RemainingAmount = remaining[0].(*big.Int)

	flowType, err := c.callView(ctx, addr, c.flowABI, "flowType")
	if err != nil {
		return domain.Flow{}, err
	}
	result.Type = domain.FlowType(flowType[0].(uint8))

	owner, err := c.callView(ctx, addr, c.flowABI, "owner")
	if err != nil {
		return domain.Flow{}, err
	}
	result.Owner = strings.ToLower(owner[0].(common.Address).Hex())

	milestoneCount, err := c.callView(ctx, addr, c.flowABI, "getMilestoneCount")
	if err != nil {
		return domain.Flow{}, err
	}
	result.MilestoneCount = milestoneCount[0].(*big.Int).Uint64()

	splitCount, err := c.callView(ctx, addr, c.flowABI, "getSplitCount")
	if err != nil {
		return domain.Flow{}, err
	}
	result.SplitCount = splitCount[0].(*big.Int).Uint64()

	return result, nil
}

func (c *Client) Milestone(ctx context.Context, flow string, index uint64) (domain.Milestone, error) {
	addr, err := flowAddressOf(flow)
	if err != nil {
		return domain.Milestone{}, err
	}
	values, err := c.callView(ctx, addr, c.flowABI, "milestones", new(big.Int).SetUint64(index))
	if err != nil {
		return domain.Milestone{}, err
	}
	return domain.Milestone{
		ID:        values[0].(*big.Int).Uint64(),
		Amount:    values[1].(*big.Int),
		Recipient: strings.ToLower(values[2].(common.Address).Hex()),
		Completed: values[3].(bool),
		Paid:      values[4].(bool),
	}, nil
}

func (c *Client) Split(ctx context.Context, flow string, index uint64) (domain.Split, error) {
	addr, err := flowAddressOf(flow)
	if err != nil {
		return domain.Split{}, err
	}
	values, err := c.callView(ctx, addr, c.flowABI, "splits", new(big.Int).SetUint64(index))
	if err != nil {
		return domain.Split{}, err
	}
	return domain.Split{
		Recipient:  strings.ToLower(values[0].(common.Address).Hex()),
		Percentage: values[1].(*big.Int).Uint64(),
	}, nil
}

func (c *Client) FlowsByOwner(ctx context.Context, owner string) ([]string, error) {
	if !c.hasFactory {
		return nil, fmt.Errorf("%w: flow factory", domain.ErrContractNotConfigured)
	}
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("invalid owner address %q", owner)
	}
	values, err := c.callView(ctx, c.factory, c.factoryABI, "getFlowsByOwner", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	addresses := values[0].([]common.Address)
	flows := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		flows = append(flows, strings.ToLower(addr.Hex()))
	}
	return flows, nil
}

func (c *Client) FlowCount(ctx context.Context) (uint64, error) {
	if !c.hasFactory {
		return 0, fmt.Errorf("%w: flow factory", domain.ErrContractNotConfigured)
	}
	values, err := c.callView(ctx, c.factory, c.factoryABI, "getFlowCount")
	if err != nil {
		return 0, err
	}
	return values[0].(*big.Int).Uint64(), nil
}

func (c *Client) ApprovalStatus(ctx context.Context, approvalID uint64) (domain.ApprovalStatus, error) {
	if !c.hasManager {
		return domain.ApprovalStatus{}, fmt.Errorf("%w: approval manager", domain.ErrContractNotConfigured)
	}
	values, err := c.callView(ctx, c.approvalManager, c.managerABI, "getApprovalStatus", new(big.Int).SetUint64(approvalID))
	if err != nil {
		return domain.ApprovalStatus{}, err
	}
	return domain.ApprovalStatus{
		ID:       approvalID,
		Count:    values[0].(*big.Int).Uint64(),
		Required: values[1].(*big.Int).Uint64(),
		Approved: values[2].(bool),
	}, nil
}

// NextApprovalID is the manager's id counter; the most recently created
// approval is NextApprovalID()-1.
func (c *Client) NextApprovalID(ctx context.Context) (uint64, error) {
	if !c.hasManager {
		return 0, fmt.Errorf("%w: approval manager", domain.ErrContractNotConfigured)
	}
	values, err := c.callView(ctx, c.approvalManager, c.managerABI, "nextApprovalId")
	if err != nil {
		return 0, err
	}
	return values[0].(*big.Int).Uint64(), nil
}

func (c *Client) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	if !c.hasToken {
		return nil, fmt.Errorf("%w: mnee token", domain.ErrContractNotConfigured)
	}
	values, err := c.callView(ctx, c.token, c.tokenABI, "allowance",
		common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, err
	}
	return values[0].(*big.Int), nil
}

func (c *Client) TokenBalance(ctx context.Context, owner string) (*big.Int, error) {
	if !c.hasToken {
		return nil, fmt.Errorf("%w: mnee token", domain.ErrContractNotConfigured)
	}
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("invalid owner address %q", owner)
	}
	values, err := c.callView(ctx, c.token, c.tokenABI, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	return values[0].(*big.Int), nil
}

func (c *Client) TokenDecimals(ctx context.Context) (uint8, error) {
	if !c.hasToken {
		return 0, fmt.Errorf("%w: mnee token", domain.ErrContractNotConfigured)
	}
	values, err := c.callView(ctx, c.token, c.tokenABI, "decimals")
	if err != nil {
		return 0, err
	}
	return values[0].(uint8), nil
}

// TransactionStatus resolves a hash to success/failed once a receipt
// exists. A missing receipt is still pending, not an error.
func (c *Client) TransactionStatus(ctx context.Context, hash string) (domain.TxStatus, bool, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, goethereum.NotFound) {
			return domain.TxStatusPending, false, nil
		}
		return domain.TxStatusPending, false, err
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return domain.TxStatusSuccess, true, nil
	}
	return domain.TxStatusFailed, true, nil
}

// --- writes ---

func (c *Client) writeTx(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (string, error) {
	if c.key == nil {
		return "", domain.ErrWalletNotConnected
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.signer)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	gasTipCap, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas tip: %w", err)
	}
	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("fetch header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	// 2*baseFee + tip keeps the tx valid if the next base fee spikes.
	gasFeeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), gasTipCap)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcast tx: %w", err)
	}
	return signed.Hash().Hex(), nil
}

func (c *Client) ApproveToken(ctx context.Context, spender string, amount *big.Int, gasLimit uint64) (string, error) {
	if !c.hasToken {
		return "", fmt.Errorf("%w: mnee token", domain.ErrContractNotConfigured)
	}
	data, err := c.tokenABI.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return "", err
	}
	return c.writeTx(ctx, c.token, data, gasLimit)
}

func (c *Client) CreateFlow(ctx context.Context, flowType domain.FlowType, deposit *big.Int, gasLimit uint64) (string, error) {
	if !c.hasFactory {
		return "", fmt.Errorf("%w: flow factory", domain.ErrContractNotConfigured)
	}
	if !c.hasToken {
		return "", fmt.Errorf("%w: mnee token", domain.ErrContractNotConfigured)
	}
	var method string
	switch flowType {
	case domain.FlowTypeMilestone:
		method = "createMilestoneFlow"
	case domain.FlowTypeSplit:
		method = "createSplitFlow"
	case domain.FlowTypeRecurring:
		method = "createRecurringFlow"
	default:
		return "", fmt.Errorf("flow type %s cannot be created via the factory", flowType.Label())
	}
	data, err := c.factoryABI.Pack(method, c.token, deposit)
	if err != nil {
		return "", err
	}
	return c.writeTx(ctx, c.factory, data, gasLimit)
}

func (c *Client) Deposit(ctx context.Context, flow string, amount *big.Int, gasLimit uint64) (string, error) {
	return c.flowWrite(ctx, flow, gasLimit, "deposit", amount)
}

func (c *Client) AddMilestone(ctx context.Context, flow string, amount *big.Int, recipient string, gasLimit uint64) (string, error) {
	if !common.IsHexAddress(recipient) {
		return "", fmt.Errorf("invalid recipient address %q", recipient)
	}
	return c.flowWrite(ctx, flow, gasLimit, "addMilestone", amount, common.HexToAddress(recipient))
}

func (c *Client) AddSplit(ctx context.Context, flow string, recipient string, percentage uint64, gasLimit uint64) (string, error) {
	if !common.IsHexAddress(recipient) {
		return "", fmt.Errorf("invalid recipient address %q", recipient)
	}
	return c.flowWrite(ctx, flow, gasLimit, "addSplit", common.HexToAddress(recipient), new(big.Int).SetUint64(percentage))
}

func (c *Client) MarkMilestoneComplete(ctx context.Context, flow string, milestoneID uint64, gasLimit uint64) (string, error) {
	return c.flowWrite(ctx, flow, gasLimit, "markMilestoneComplete", new(big.Int).SetUint64(milestoneID))
}

func (c *Client) ExecuteMilestonePayment(ctx context.Context, flow string, milestoneID uint64, gasLimit uint64) (string, error) {
	return c.flowWrite(ctx, flow, gasLimit, "executeMilestonePayment", new(big.Int).SetUint64(milestoneID))
}

func (c *Client) ExecuteSplitPayment(ctx context.Context, flow string, gasLimit uint64) (string, error) {
	return c.flowWrite(ctx, flow, gasLimit, "executeSplitPayment")
}

func (c *Client) PauseFlow(ctx context.Context, flow string, gasLimit uint64) (string, error) {
	return c.flowWrite(ctx, flow, gasLimit, "pause")
}

func (c *Client) ResumeFlow(ctx context.Context, flow string, gasLimit uint64) (string, error) {
	return c.flowWrite(ctx, flow, gasLimit, "resume")
}

func (c *Client) CancelFlow(ctx context.Context, flow string, gasLimit uint64) (string, error) {
	return c.flowWrite(ctx, flow, gasLimit, "cancel")
}

func (c *Client) flowWrite(ctx context.Context, flow string, gasLimit uint64, method string, args ...any) (string, error) {
	addr, err := flowAddressOf(flow)
	if err != nil {
		return "", err
	}
	data, err := c.flowABI.Pack(method, args...)
	if err != nil {
		return "", err
	}
	return c.writeTx(ctx, addr, data, gasLimit)
}

func (c *Client) CreateApproval(ctx context.Context, approvers []string, required uint64, gasLimit uint64) (string, error) {
	if !c.hasManager {
		return "", fmt.Errorf("%w: approval manager", domain.ErrContractNotConfigured)
	}
	list := make([]common.Address, 0, len(approvers))
	for _, approver := range approvers {
		if !common.IsHexAddress(approver) {
			return "", fmt.Errorf("invalid approver address %q", approver)
		}
		list = append(list, common.HexToAddress(approver))
	}
	data, err := c.managerABI.Pack("createApproval", list, new(big.Int).SetUint64(required))
	if err != nil {
		return "", err
	}
	return c.writeTx(ctx, c.approvalManager, data, gasLimit)
}

func (c *Client) GiveApproval(ctx context.Context, approvalID uint64, gasLimit uint64) (string, error) {
	if !c.hasManager {
		return "", fmt.Errorf("%w: approval manager", domain.ErrContractNotConfigured)
	}
	data, err := c.managerABI.Pack("approve", new(big.Int).SetUint64(approvalID))
	if err != nil {
		return "", err
	}
	return c.writeTx(ctx, c.approvalManager, data, gasLimit)
}

// WaitReceipt polls until the transaction has a receipt or ctx ends. A
// reverted receipt is reported via Receipt.Reverted, not as an error;
// classification is the orchestrator's job.
func (c *Client) WaitReceipt(ctx context.Context, hash string) (domain.Receipt, error) {
	txHash := common.HexToHash(hash)
	for {
		receipt, err := c.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return c.receiptOf(receipt), nil
		}
		if !errors.Is(err, goethereum.NotFound) {
			return domain.Receipt{}, fmt.Errorf("fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return domain.Receipt{}, ctx.Err()
		case <-time.After(receiptPollInterval):
		}
	}
}

func (c *Client) receiptOf(receipt *types.Receipt) domain.Receipt {
	result := domain.Receipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Reverted:    receipt.Status != types.ReceiptStatusSuccessful,
	}
	flowCreatedID := c.factoryABI.Events["FlowCreated"].ID
	for _, entry := range receipt.Logs {
		if len(entry.Topics) >= 2 && entry.Topics[0] == flowCreatedID {
			result.CreatedFlow = strings.ToLower(common.BytesToAddress(entry.Topics[1].Bytes()).Hex())
			break
		}
	}
	return result
}

// --- events ---

// FilterEvents decodes factory and approval-manager events in the given
// inclusive block range. Contracts with no configured address are skipped.
func (c *Client) FilterEvents(ctx context.Context, fromBlock, toBlock uint64) ([]domain.ChainEvent, error) {
	var addresses []common.Address
	if c.hasFactory {
		addresses = append(addresses, c.factory)
	}
	if c.hasManager {
		addresses = append(addresses, c.approvalManager)
	}
	if len(addresses) == 0 {
		return nil, nil
	}

	logs, err := c.client.FilterLogs(ctx, goethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}

	var (
		flowCreatedID     = c.factoryABI.Events["FlowCreated"].ID
		approvalCreatedID = c.managerABI.Events["ApprovalCreated"].ID
		approvalGivenID   = c.managerABI.Events["ApprovalGiven"].ID
		thresholdMetID    = c.managerABI.Events["ApprovalThresholdMet"].ID
	)

	var decoded []domain.ChainEvent
	for _, entry := range logs {
		if len(entry.Topics) == 0 {
			continue
		}
		event := domain.ChainEvent{
			BlockNumber: entry.BlockNumber,
			TxHash:      entry.TxHash.Hex(),
		}
		switch entry.Topics[0] {
		case flowCreatedID:
			if len(entry.Topics) < 3 {
				continue
			}
			values, err := c.factoryABI.Unpack("FlowCreated", entry.Data)
			if err != nil {
				continue
			}
			event.Type = domain.EventFlowCreated
			event.FlowAddress = strings.ToLower(common.BytesToAddress(entry.Topics[1].Bytes()).Hex())
			event.Owner = strings.ToLower(common.BytesToAddress(entry.Topics[2].Bytes()).Hex())
			event.FlowType = domain.FlowType(values[0].(*big.Int).Uint64())
			event.Amount = values[1].(*big.Int)
		case approvalCreatedID:
			if len(entry.Topics) < 2 {
				continue
			}
			values, err := c.managerABI.Unpack("ApprovalCreated", entry.Data)
			if err != nil {
				continue
			}
			event.Type = domain.EventApprovalCreated
			event.ApprovalID = new(big.Int).SetBytes(entry.Topics[1].Bytes()).Uint64()
			for _, approver := range values[0].([]common.Address) {
				event.Approvers = append(event.Approvers, strings.ToLower(approver.Hex()))
			}
			event.RequiredApprovals = values[1].(*big.Int).Uint64()
		case approvalGivenID:
			if len(entry.Topics) < 2 {
				continue
			}
			values, err := c.managerABI.Unpack("ApprovalGiven", entry.Data)
			if err != nil {
				continue
			}
			event.Type = domain.EventApprovalGiven
			event.ApprovalID = new(big.Int).SetBytes(entry.Topics[1].Bytes()).Uint64()
			event.Approver = strings.ToLower(values[0].(common.Address).Hex())
		case thresholdMetID:
			if len(entry.Topics) < 2 {
				continue
			}
			event.Type = domain.EventThresholdMet
			event.ApprovalID = new(big.Int).SetBytes(entry.Topics[1].Bytes()).Uint64()
		default:
			continue
		}
		decoded = append(decoded, event)
	}
	return decoded, nil
}
