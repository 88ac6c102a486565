package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWalletNotConnected is returned by writes when no signer key is
	// configured. Reads still work without one.
	ErrWalletNotConnected = errors.New("wallet not connected: no signer key configured")

	// ErrContractNotConfigured distinguishes a missing/malformed contract
	// address from a query that legitimately returned nothing.
	ErrContractNotConfigured = errors.New("contract address not configured")

	// ErrTokenApprovalFailed means the allowance re-read after a confirmed
	// approval transaction still does not cover the requested amount.
	ErrTokenApprovalFailed = errors.New("token approval failed: allowance still insufficient after approval")
)

// InvalidAmountError reports a deposit string that could not be parsed,
// before any network call is made.
type InvalidAmountError struct {
	Input string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %q", e.Input)
}

// RevertError marks an on-chain revert, distinct from a submission or
// network failure. Guidance carries user-facing remediation advice.
type RevertError struct {
	Hash     string
	Guidance string
}

func (e *RevertError) Error() string {
	msg := fmt.Sprintf("transaction %s reverted on chain", e.Hash)
	if e.Guidance != "" {
		msg += ": " + e.Guidance
	}
	return msg
}

// Reason extracts a human-readable message from an orchestration error,
// falling back to a generic retry prompt. RPC errors often embed multi-line
// dumps; only the first line is kept.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var invalid *InvalidAmountError
	if errors.As(err, &invalid) {
		return invalid.Error()
	}
	var revert *RevertError
	if errors.As(err, &revert) {
		return revert.Error()
	}
	msg := strings.TrimSpace(err.Error())
	if idx := strings.IndexByte(msg, '\n'); idx > 0 {
		msg = msg[:idx]
	}
	if msg == "" {
		return "transaction failed, please try again"
	}
	return msg
}
