package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/central-pay/rewards/internal/domain"
	"github.com/central-pay/rewards/internal/reward"
	"github.com/central-pay/rewards/internal/rules"
	"github.com/central-pay/rewards/internal/tiers"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	engine  *reward.Engine
	rules   *rules.Service
	tiers   *tiers.Cache
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(engine *reward.Engine, ruleSvc *rules.Service, tierCache *tiers.Cache, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		engine:  engine,
		rules:   ruleSvc,
		tiers:   tierCache,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	ErrorCode    float64 `json:"errorCode"`
	Description  string  `json:"description"`
	ErrorType    string  `json:"errorType"`
	ErrorMessage string  `json:"errorMessage"`
}

// Error codes carried in the error body alongside the HTTP status.
const (
	codeBadRequest      = 400.00
	codeDuplicateReward = 400.06
	codeConflict        = 400.02
	codeNotFound        = 404.00
	codeRewardClaim     = 404.06
	codeInternal        = 500.00
)

// ProcessTransactionRequest is the request body for POST /rewards.
type ProcessTransactionRequest struct {
	TransactionID string  `json:"transactionId"`
	UserID        string  `json:"userId"`
	Amount        float64 `json:"amount"`
}

// ProcessTransaction handles POST /rewards: synchronous reward
// determination for a completed transaction.
func (h *Handler) ProcessTransaction(w http.ResponseWriter, r *http.Request) {
	var req ProcessTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body", "Bad Request", "invalid JSON request body")
		return
	}

	rwd, err := h.engine.Process(r.Context(), &domain.TransactionEvent{
		TransactionID: req.TransactionID,
		UserID:        req.UserID,
		Amount:        req.Amount,
	})
	if err != nil {
		h.writeProcessError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, rwd.ToResponse())
}

func (h *Handler) writeProcessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, reward.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request", "Bad Request", err.Error())
	case errors.Is(err, reward.ErrDuplicateTransaction):
		writeError(w, http.StatusBadRequest, codeDuplicateReward, "Transaction has already been awarded a reward", "Bad Request", err.Error())
	case errors.Is(err, reward.ErrNoApplicableTier):
		writeError(w, http.StatusNotFound, codeNotFound, "No reward tier applies to the transaction amount", "Not Found", err.Error())
	default:
		slog.Error("reward determination failed", "trace_id", GetTraceID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "Reward determination failed", "Internal Server Error", "internal error")
	}
}

// GetReward handles GET /rewards/{id}.
func (h *Handler) GetReward(w http.ResponseWriter, r *http.Request) {
	rewardID := chi.URLParam(r, "id")

	rwd, err := h.engine.GetReward(r.Context(), rewardID)
	if err != nil {
		switch {
		case errors.Is(err, reward.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request", "Bad Request", err.Error())
		case errors.Is(err, reward.ErrRewardNotFound):
			writeError(w, http.StatusNotFound, codeNotFound, "Reward not found", "Not Found", err.Error())
		default:
			slog.Error("failed to get reward", "trace_id", GetTraceID(r.Context()), "reward_id", rewardID, "error", err)
			writeError(w, http.StatusInternalServerError, codeInternal, "Failed to retrieve reward", "Internal Server Error", "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, rwd.ToResponse())
}

// ClaimReward handles POST /rewards/{id}/claim.
func (h *Handler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	rewardID := chi.URLParam(r, "id")

	resp, err := h.engine.Claim(r.Context(), rewardID)
	if err != nil {
		switch {
		case errors.Is(err, reward.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request", "Bad Request", err.Error())
		case errors.Is(err, reward.ErrRewardNotFound):
			writeError(w, http.StatusNotFound, codeNotFound, "Reward not found", "Not Found", err.Error())
		case errors.Is(err, reward.ErrAlreadyClaimed), errors.Is(err, reward.ErrRewardExpired):
			writeError(w, http.StatusNotFound, codeRewardClaim, "Reward already claimed or reward expired", "IM Used", err.Error())
		default:
			slog.Error("failed to claim reward", "trace_id", GetTraceID(r.Context()), "reward_id", rewardID, "error", err)
			writeError(w, http.StatusInternalServerError, codeInternal, "Failed to claim reward", "Internal Server Error", "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListUserRewards handles GET /users/{userId}/rewards.
func (h *Handler) ListUserRewards(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 20)

	rewards, err := h.engine.ListUserRewards(r.Context(), userID, page, size)
	if err != nil {
		if errors.Is(err, reward.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request", "Bad Request", err.Error())
			return
		}
		slog.Error("failed to list rewards", "trace_id", GetTraceID(r.Context()), "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "Failed to list rewards", "Internal Server Error", "internal error")
		return
	}

	responses := make([]*domain.RewardResponse, 0, len(rewards))
	for _, rwd := range rewards {
		responses = append(responses, rwd.ToResponse())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rewards": responses,
		"page":    page,
		"size":    size,
		"count":   len(responses),
	})
}

// CreateRule handles POST /admin/reward-rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.RewardRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body", "Bad Request", "invalid JSON request body")
		return
	}

	created, err := h.rules.Create(r.Context(), &rule)
	if err != nil {
		h.writeRuleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// BulkCreateRules handles POST /admin/reward-rules/bulk.
func (h *Handler) BulkCreateRules(w http.ResponseWriter, r *http.Request) {
	var ruleList []*domain.RewardRule
	if err := json.NewDecoder(r.Body).Decode(&ruleList); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body", "Bad Request", "invalid JSON request body")
		return
	}

	created, err := h.rules.BulkCreate(r.Context(), ruleList)
	if err != nil {
		h.writeRuleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"rules": created,
		"count": len(created),
	})
}

// GetRule handles GET /admin/reward-rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeRuleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// ListRules handles GET /admin/reward-rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ruleList, err := h.rules.List(r.Context())
	if err != nil {
		h.writeRuleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": ruleList,
		"count": len(ruleList),
	})
}

// ListRulesByTier handles GET /admin/reward-rules/tier/{tierName}.
func (h *Handler) ListRulesByTier(w http.ResponseWriter, r *http.Request) {
	ruleList, err := h.rules.ListByTier(r.Context(), chi.URLParam(r, "tierName"))
	if err != nil {
		h.writeRuleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": ruleList,
		"count": len(ruleList),
	})
}

// UpdateRule handles PUT /admin/reward-rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.RewardRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body", "Bad Request", "invalid JSON request body")
		return
	}
	rule.ID = chi.URLParam(r, "id")

	updated, err := h.rules.Update(r.Context(), &rule)
	if err != nil {
		h.writeRuleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// DeleteRule handles DELETE /admin/reward-rules/{id}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeRuleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReloadRules handles POST /admin/reward-rules/reload: forces a tier cache
// rebuild from storage.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := h.tiers.Refresh(r.Context()); err != nil {
		slog.Error("failed to reload tier cache", "trace_id", GetTraceID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "Failed to reload reward rules", "Internal Server Error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"tiers":  h.tiers.TierCount(),
	})
}

func (h *Handler) writeRuleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rules.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid reward rule", "Bad Request", err.Error())
	case errors.Is(err, rules.ErrRuleExists):
		writeError(w, http.StatusBadRequest, codeConflict, "Reward rule already exists", "Bad Request", err.Error())
	case errors.Is(err, rules.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "Reward rule not found", "Not Found", err.Error())
	default:
		slog.Error("rule operation failed", "trace_id", GetTraceID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "Rule operation failed", "Internal Server Error", "internal error")
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic. The tier
// cache must have loaded at least once.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.tiers != nil && !h.tiers.Loaded() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code float64, description, errorType, message string) {
	writeJSON(w, status, &ErrorResponse{
		ErrorCode:    code,
		Description:  description,
		ErrorType:    errorType,
		ErrorMessage: message,
	})
}
