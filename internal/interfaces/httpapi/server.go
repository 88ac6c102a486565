// Package httpapi exposes the dashboard surface over HTTP: flow reads,
// orchestrated writes, the per-address caches, and operational endpoints
// (healthz, readyz, metrics, version, status).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"payflow/internal/application"
	"payflow/internal/codec"
	"payflow/internal/config"
	"payflow/internal/domain"
)

// FlowService is the read surface consumed by the GET handlers.
type FlowService interface {
	ListFlows(ctx context.Context, owner string) ([]application.FlowView, error)
	Flow(ctx context.Context, owner, address string) (application.FlowView, error)
	Milestones(ctx context.Context, address string) ([]application.MilestoneView, error)
	Splits(ctx context.Context, address string) ([]application.SplitView, error)
	Approval(ctx context.Context, approvalID uint64) (application.ApprovalView, error)
	LatestApprovalID(ctx context.Context) (uint64, bool, error)
}

// TxService is the orchestrated write surface.
type TxService interface {
	CreateFlow(ctx context.Context, flowType domain.FlowType, deposit string) (domain.Receipt, error)
	Deposit(ctx context.Context, flow, amount string) (domain.Receipt, error)
	AddMilestone(ctx context.Context, flow, amount, recipient string) (domain.Receipt, error)
	AddSplit(ctx context.Context, flow, recipient string, percentage uint64) (domain.Receipt, error)
	CompleteMilestone(ctx context.Context, flow string, milestoneID uint64) (domain.Receipt, error)
	PayMilestone(ctx context.Context, flow string, milestoneID uint64) (domain.Receipt, error)
	PaySplits(ctx context.Context, flow string) (domain.Receipt, error)
	PauseFlow(ctx context.Context, flow string) (domain.Receipt, error)
	ResumeFlow(ctx context.Context, flow string) (domain.Receipt, error)
	CancelFlow(ctx context.Context, flow string) (domain.Receipt, error)
	CreateApproval(ctx context.Context, approvers []string, required uint64) (domain.Receipt, error)
	GiveApproval(ctx context.Context, approvalID uint64) (domain.Receipt, error)
}

// ChainStatus reports connection-level state for readyz and /status.
type ChainStatus interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	ChainID() uint64
	Signer() (string, bool)
	TokenBalance(ctx context.Context, owner string) (*big.Int, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type Server struct {
	cfg       config.Config
	flows     FlowService
	tx        TxService
	store     *application.LocalStore
	chain     ChainStatus
	db        Pinger
	metrics   *Metrics
	buildInfo BuildInfo
	wallet    string
}

func NewServer(cfg config.Config, flows FlowService, tx TxService, store *application.LocalStore, chain ChainStatus, db Pinger, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if flows == nil || tx == nil || store == nil || chain == nil || db == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	wallet, _ := chain.Signer()
	return &Server{
		cfg:       cfg,
		flows:     flows,
		tx:        tx,
		store:     store,
		chain:     chain,
		db:        db,
		metrics:   metrics,
		buildInfo: buildInfo,
		wallet:    wallet,
	}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("GET /flows", s.handleListFlows)
	mux.HandleFunc("POST /flows", s.handleCreateFlow)
	mux.HandleFunc("GET /flows/{addr}", s.handleFlow)
	mux.HandleFunc("GET /flows/{addr}/milestones", s.handleMilestones)
	mux.HandleFunc("GET /flows/{addr}/splits", s.handleSplits)
	mux.HandleFunc("POST /flows/{addr}/deposit", s.handleDeposit)
	mux.HandleFunc("POST /flows/{addr}/milestones", s.handleAddMilestone)
	mux.HandleFunc("POST /flows/{addr}/splits", s.handleAddSplit)
	mux.HandleFunc("POST /flows/{addr}/milestones/{id}/complete", s.handleCompleteMilestone)
	mux.HandleFunc("POST /flows/{addr}/milestones/{id}/pay", s.handlePayMilestone)
	mux.HandleFunc("POST /flows/{addr}/payout", s.handlePayout)
	mux.HandleFunc("POST /flows/{addr}/pause", s.handlePause)
	mux.HandleFunc("POST /flows/{addr}/resume", s.handleResume)
	mux.HandleFunc("POST /flows/{addr}/cancel", s.handleCancel)

	mux.HandleFunc("POST /approvals", s.handleCreateApproval)
	mux.HandleFunc("GET /approvals/pending", s.handlePendingApprovals)
	mux.HandleFunc("GET /approvals/{id}", s.handleApproval)
	mux.HandleFunc("POST /approvals/{id}/approve", s.handleGiveApproval)

	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /activity", s.handleActivity)
	mux.HandleFunc("GET /metadata/{addr}", s.handleGetMetadata)
	mux.HandleFunc("PUT /metadata/{addr}", s.handlePutMetadata)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- operational ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db not ready")
		return
	}
	if _, err := s.chain.LatestBlockNumber(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "rpc not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	snap := s.metrics.Snapshot()
	uptime := time.Since(snap.StartTime).Seconds()

	fmt.Fprintf(w, "payflow_uptime_seconds %.0f\n", uptime)
	fmt.Fprintf(w, "payflow_latest_block %d\n", snap.LatestBlock)
	fmt.Fprintf(w, "payflow_tx_submitted_total %d\n", snap.TxSubmitted)
	fmt.Fprintf(w, "payflow_tx_confirmed_total %d\n", snap.TxConfirmed)
	fmt.Fprintf(w, "payflow_tx_failed_total %d\n", snap.TxFailed)
	fmt.Fprintf(w, "payflow_tx_reverted_total %d\n", snap.TxReverted)
	fmt.Fprintf(w, "payflow_approvals_observed_total %d\n", snap.ApprovalsObserved)
	fmt.Fprintf(w, "payflow_approvals_resolved_total %d\n", snap.ApprovalsResolved)
	fmt.Fprintf(w, "payflow_reconcile_sweeps_total %d\n", snap.ReconcileSweeps)
	fmt.Fprintf(w, "payflow_bus_events_total %d\n", snap.BusEvents)
	fmt.Fprintf(w, "payflow_kafka_publish_errors_total %d\n", snap.KafkaPublishErrors)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	signer, connected := s.chain.Signer()
	status := map[string]any{
		"contracts_deployed": s.cfg.ContractsDeployed(),
		"missing_addresses":  s.cfg.MissingAddresses(),
		"flow_factory":       s.cfg.FlowFactoryAddress,
		"approval_manager":   s.cfg.ApprovalManagerAddress,
		"mnee_token":         s.cfg.MNEETokenAddress,
		"signer":             signer,
		"wallet_connected":   connected,
		"chain_id":           s.chain.ChainID(),
	}
	// Balance is informational; a token read failure does not fail /status.
	if connected {
		if balance, err := s.chain.TokenBalance(r.Context(), signer); err == nil {
			status["token_balance"] = codec.FormatAmount(balance)
		}
	}
	respondJSON(w, http.StatusOK, status)
}

// --- flow reads ---

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	owner := s.ownerParam(r)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "owner is required")
		return
	}
	flows, err := s.flows.ListFlows(r.Context(), owner)
	if err != nil {
		// An unconfigured factory resolves to an empty list; the /status
		// endpoint is the place that explains why.
		if errors.Is(err, domain.ErrContractNotConfigured) {
			respondJSON(w, http.StatusOK, []application.FlowView{})
			return
		}
		respondError(w, http.StatusBadGateway, domain.Reason(err))
		return
	}
	if flows == nil {
		flows = []application.FlowView{}
	}
	respondJSON(w, http.StatusOK, flows)
}

func (s *Server) handleFlow(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	if !codec.IsHexAddress(addr) {
		respondError(w, http.StatusBadRequest, "invalid flow address")
		return
	}
	flow, err := s.flows.Flow(r.Context(), s.ownerParam(r), addr)
	if err != nil {
		respondError(w, http.StatusBadGateway, domain.Reason(err))
		return
	}
	respondJSON(w, http.StatusOK, flow)
}

func (s *Server) handleMilestones(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	if !codec.IsHexAddress(addr) {
		respondError(w, http.StatusBadRequest, "invalid flow address")
		return
	}
	milestones, err := s.flows.Milestones(r.Context(), addr)
	if err != nil {
		respondError(w, http.StatusBadGateway, domain.Reason(err))
		return
	}
	if milestones == nil {
		milestones = []application.MilestoneView{}
	}
	respondJSON(w, http.StatusOK, milestones)
}

func (s *Server) handleSplits(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	if !codec.IsHexAddress(addr) {
		respondError(w, http.StatusBadRequest, "invalid flow address")
		return
	}
	splits, err := s.flows.Splits(r.Context(), addr)
	if err != nil {
		respondError(w, http.StatusBadGateway, domain.Reason(err))
		return
	}
	if splits == nil {
		splits = []application.SplitView{}
	}
	respondJSON(w, http.StatusOK, splits)
}

// --- orchestrated writes ---

type createFlowRequest struct {
	Type        string `json:"type"`
	Deposit     string `json:"deposit"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	if !s.writesAllowed(w) {
		return
	}
	var req createFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	flowType, ok := parseFlowType(req.Type)
	if !ok {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown flow type %q", req.Type))
		return
	}

	receipt, err := s.tx.CreateFlow(r.Context(), flowType, req.Deposit)
	if err != nil {
		s.respondTxError(w, err)
		return
	}
	if receipt.CreatedFlow != "" && (req.Name != "" || req.Description != "") {
		if err := s.store.SetMetadata(r.Context(), s.wallet, receipt.CreatedFlow, application.MetadataUpdate{
			Name:        req.Name,
			Description: req.Description,
		}); err != nil {
			respondJSON(w, http.StatusCreated, map[string]any{
				"receipt":        receiptView(receipt),
				"metadata_error": err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusCreated, map[string]any{"receipt": receiptView(receipt)})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.flowWrite(w, r, func(ctx context.Context, addr string) (domain.Receipt, error) {
		var req struct {
			Amount string `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return domain.Receipt{}, errBadBody
		}
		return s.tx.Deposit(ctx, addr, req.Amount)
	})
}

func (s *Server) handleAddMilestone(w http.ResponseWriter, r *http.Request) {
	s.flowWrite(w, r, func(ctx context.Context, addr string) (domain.Receipt, error) {
		var req struct {
			Amount    string `json:"amount"`
			Recipient string `json:"recipient"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return domain.Receipt{}, errBadBody
		}
		if !codec.IsHexAddress(req.Recipient) {
			return domain.Receipt{}, errBadRecipient
		}
		return s.tx.AddMilestone(ctx, addr, req.Amount, req.Recipient)
	})
}

func (s *Server) handleAddSplit(w http.ResponseWriter, r *http.Request) {
	s.flowWrite(w, r, func(ctx context.Context, addr string) (domain.Receipt, error) {
		var req struct {
			Recipient  string `json:"recipient"`
			Percentage uint64 `json:"percentage"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return domain.Receipt{}, errBadBody
		}
		if !codec.IsHexAddress(req.Recipient) {
			return domain.Receipt{}, errBadRecipient
		}
		return s.tx.AddSplit(ctx, addr, req.Recipient, req.Percentage)
	})
}

func (s *Server) handleCompleteMilestone(w http.ResponseWriter, r *http.Request) {
	s.milestoneWrite(w, r, s.tx.CompleteMilestone)
}

func (s *Server) handlePayMilestone(w http.ResponseWriter, r *http.Request) {
	s.milestoneWrite(w, r, s.tx.PayMilestone)
}

func (s *Server) handlePayout(w http.ResponseWriter, r *http.Request) {
	s.flowWrite(w, r, func(ctx context.Context, addr string) (domain.Receipt, error) {
		return s.tx.PaySplits(ctx, addr)
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.flowWrite(w, r, func(ctx context.Context, addr string) (domain.Receipt, error) {
		return s.tx.PauseFlow(ctx, addr)
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.flowWrite(w, r, func(ctx context.Context, addr string) (domain.Receipt, error) {
		return s.tx.ResumeFlow(ctx, addr)
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.flowWrite(w, r, func(ctx context.Context, addr string) (domain.Receipt, error) {
		return s.tx.CancelFlow(ctx, addr)
	})
}

func (s *Server) flowWrite(w http.ResponseWriter, r *http.Request, action func(context.Context, string) (domain.Receipt, error)) {
	if !s.writesAllowed(w) {
		return
	}
	addr := r.PathValue("addr")
	if !codec.IsHexAddress(addr) {
		respondError(w, http.StatusBadRequest, "invalid flow address")
		return
	}
	receipt, err := action(r.Context(), addr)
	if err != nil {
		s.respondTxError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"receipt": receiptView(receipt)})
}

func (s *Server) milestoneWrite(w http.ResponseWriter, r *http.Request, action func(context.Context, string, uint64) (domain.Receipt, error)) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid milestone id")
		return
	}
	s.flowWrite(w, r, func(ctx context.Context, addr string) (domain.Receipt, error) {
		return action(ctx, addr, id)
	})
}

// --- approvals ---

func (s *Server) handleCreateApproval(w http.ResponseWriter, r *http.Request) {
	if !s.writesAllowed(w) {
		return
	}
	var req struct {
		Approvers []string `json:"approvers"`
		Required  uint64   `json:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, approver := range req.Approvers {
		if !codec.IsHexAddress(approver) {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid approver address %q", approver))
			return
		}
	}
	receipt, err := s.tx.CreateApproval(r.Context(), req.Approvers, req.Required)
	if err != nil {
		s.respondTxError(w, err)
		return
	}
	response := map[string]any{"receipt": receiptView(receipt)}
	// The approval id is needed to vote; resolve it from the manager's
	// counter once the creation is mined. Best effort, like token_balance.
	if !receipt.Reverted {
		if id, ok, err := s.flows.LatestApprovalID(r.Context()); err == nil && ok {
			response["approval_id"] = id
		}
	}
	respondJSON(w, http.StatusCreated, response)
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid approval id")
		return
	}
	approval, err := s.flows.Approval(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusBadGateway, domain.Reason(err))
		return
	}
	respondJSON(w, http.StatusOK, approval)
}

func (s *Server) handleGiveApproval(w http.ResponseWriter, r *http.Request) {
	if !s.writesAllowed(w) {
		return
	}
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid approval id")
		return
	}
	receipt, err := s.tx.GiveApproval(r.Context(), id)
	if err != nil {
		s.respondTxError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"receipt": receiptView(receipt)})
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	approvals := s.store.PendingApprovals(r.Context(), s.addressParam(r))
	if approvals == nil {
		approvals = []domain.PendingApproval{}
	}
	respondJSON(w, http.StatusOK, approvals)
}

// --- local caches ---

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records := s.store.History(r.Context(), s.addressParam(r))
	if records == nil {
		records = []domain.TransactionRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	items := s.store.Activity(r.Context(), s.addressParam(r))
	if items == nil {
		items = []domain.ActivityItem{}
	}
	respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	if !codec.IsHexAddress(addr) {
		respondError(w, http.StatusBadRequest, "invalid flow address")
		return
	}
	entries := s.store.Metadata(r.Context(), s.addressParam(r))
	meta, ok := entries[codec.NormalizeAddress(addr)]
	if !ok {
		meta = domain.FlowMetadata{Name: codec.DefaultFlowName(addr)}
	}
	respondJSON(w, http.StatusOK, meta)
}

func (s *Server) handlePutMetadata(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	if !codec.IsHexAddress(addr) {
		respondError(w, http.StatusBadRequest, "invalid flow address")
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.store.SetMetadata(r.Context(), s.addressParam(r), addr, application.MetadataUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "metadata write failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

var (
	errBadBody      = errors.New("invalid request body")
	errBadRecipient = errors.New("invalid recipient address")
)

func (s *Server) writesAllowed(w http.ResponseWriter) bool {
	if !s.cfg.ContractsDeployed() {
		respondJSON(w, http.StatusConflict, map[string]any{
			"error":             "contracts not configured",
			"missing_addresses": s.cfg.MissingAddresses(),
		})
		return false
	}
	return true
}

func (s *Server) respondTxError(w http.ResponseWriter, err error) {
	var invalid *domain.InvalidAmountError
	var reverted *domain.RevertError
	switch {
	case errors.Is(err, errBadBody), errors.Is(err, errBadRecipient), errors.As(err, &invalid):
		respondError(w, http.StatusBadRequest, domain.Reason(err))
	case errors.Is(err, domain.ErrWalletNotConnected), errors.Is(err, domain.ErrContractNotConfigured):
		respondError(w, http.StatusConflict, domain.Reason(err))
	case errors.Is(err, domain.ErrTokenApprovalFailed), errors.As(err, &reverted):
		respondError(w, http.StatusBadGateway, domain.Reason(err))
	default:
		respondError(w, http.StatusInternalServerError, domain.Reason(err))
	}
}

// ownerParam resolves the owner for read endpoints: explicit query param
// first, the tracked signer otherwise.
func (s *Server) ownerParam(r *http.Request) string {
	if owner := strings.TrimSpace(r.URL.Query().Get("owner")); owner != "" {
		return codec.NormalizeAddress(owner)
	}
	return s.wallet
}

func (s *Server) addressParam(r *http.Request) string {
	if address := strings.TrimSpace(r.URL.Query().Get("address")); address != "" {
		return codec.NormalizeAddress(address)
	}
	return s.wallet
}

func parseFlowType(raw string) (domain.FlowType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "milestone":
		return domain.FlowTypeMilestone, true
	case "split":
		return domain.FlowTypeSplit, true
	case "recurring":
		return domain.FlowTypeRecurring, true
	default:
		return 0, false
	}
}

func receiptView(receipt domain.Receipt) map[string]any {
	view := map[string]any{
		"hash":         receipt.TxHash,
		"block_number": receipt.BlockNumber,
		"reverted":     receipt.Reverted,
	}
	if receipt.CreatedFlow != "" {
		view["created_flow"] = receipt.CreatedFlow
	}
	return view
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
