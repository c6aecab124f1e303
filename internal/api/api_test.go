package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/central-pay/rewards/internal/bus"
	"github.com/central-pay/rewards/internal/domain"
	"github.com/central-pay/rewards/internal/repository"
	"github.com/central-pay/rewards/internal/reward"
	"github.com/central-pay/rewards/internal/rules"
	"github.com/central-pay/rewards/internal/tiers"
)

func newTestServer(t *testing.T, rateLimit domain.RateLimitConfig) *Server {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	value := 50.0
	if err := repo.SaveRewardRule(ctx, &domain.RewardRule{
		ID: "rule-1", TierName: "TIER_1", MinTransactionAmount: 0,
		RewardType: "CASHBACK", Description: "50 cashback", RewardValue: &value,
		Weight: 10, Active: true,
	}); err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}

	tierCache, err := tiers.New(repo)
	if err != nil {
		t.Fatalf("failed to create tier cache: %v", err)
	}
	if err := tierCache.Refresh(ctx); err != nil {
		t.Fatalf("failed to refresh tiers: %v", err)
	}

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	engine := reward.New(repo, tierCache, nil, eventBus)
	ruleSvc := rules.NewService(repo, tierCache)

	cfg := domain.DefaultConfig()
	cfg.RateLimit = rateLimit

	srv := NewServer(cfg, engine, ruleSvc, tierCache, repo, nil, eventBus, "test")
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func noRateLimit() domain.RateLimitConfig {
	return domain.RateLimitConfig{Enabled: false}
}

func TestProcessTransactionEndpoint(t *testing.T) {
	srv := newTestServer(t, noRateLimit())

	rec := doRequest(t, srv, http.MethodPost, "/rewards", ProcessTransactionRequest{
		TransactionID: "txn-api-1",
		UserID:        "user-1",
		Amount:        250,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}

	resp := decodeBody[domain.RewardResponse](t, rec)
	if resp.RewardID == "" || resp.RewardType != "CASHBACK" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Status != domain.StatusUnclaimed {
		t.Errorf("status %s, want UNCLAIMED", resp.Status)
	}
	// The redeem code only surfaces through a successful claim.
	if bytes.Contains(rec.Body.Bytes(), []byte("redeemCode")) {
		t.Error("redeem code leaked in reward response")
	}
}

func TestProcessTransactionDuplicate(t *testing.T) {
	srv := newTestServer(t, noRateLimit())

	req := ProcessTransactionRequest{TransactionID: "txn-dup", UserID: "user-1", Amount: 250}
	if rec := doRequest(t, srv, http.MethodPost, "/rewards", req); rec.Code != http.StatusCreated {
		t.Fatalf("first request failed: %d", rec.Code)
	}

	rec := doRequest(t, srv, http.MethodPost, "/rewards", req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	errResp := decodeBody[ErrorResponse](t, rec)
	if errResp.ErrorCode != 400.06 {
		t.Errorf("errorCode %v, want 400.06", errResp.ErrorCode)
	}
	if errResp.Description != "Transaction has already been awarded a reward" {
		t.Errorf("unexpected description %q", errResp.Description)
	}
}

func TestProcessTransactionValidation(t *testing.T) {
	srv := newTestServer(t, noRateLimit())

	tests := []struct {
		name string
		body ProcessTransactionRequest
	}{
		{"missing transaction id", ProcessTransactionRequest{UserID: "u", Amount: 10}},
		{"missing user id", ProcessTransactionRequest{TransactionID: "t", Amount: 10}},
		{"negative amount", ProcessTransactionRequest{TransactionID: "t", UserID: "u", Amount: -5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, srv, http.MethodPost, "/rewards", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/rewards", bytes.NewBufferString("{broken"))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestGetRewardEndpoint(t *testing.T) {
	srv := newTestServer(t, noRateLimit())

	created := decodeBody[domain.RewardResponse](t, doRequest(t, srv, http.MethodPost, "/rewards", ProcessTransactionRequest{
		TransactionID: "txn-get", UserID: "user-1", Amount: 100,
	}))

	rec := doRequest(t, srv, http.MethodGet, "/rewards/"+created.RewardID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decodeBody[domain.RewardResponse](t, rec)
	if got.RewardID != created.RewardID {
		t.Errorf("unexpected reward: %+v", got)
	}

	rec = doRequest(t, srv, http.MethodGet, "/rewards/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown reward, got %d", rec.Code)
	}
}

func TestClaimRewardEndpoint(t *testing.T) {
	srv := newTestServer(t, noRateLimit())

	created := decodeBody[domain.RewardResponse](t, doRequest(t, srv, http.MethodPost, "/rewards", ProcessTransactionRequest{
		TransactionID: "txn-claim", UserID: "user-1", Amount: 100,
	}))

	rec := doRequest(t, srv, http.MethodPost, "/rewards/"+created.RewardID+"/claim", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	claim := decodeBody[domain.ClaimResponse](t, rec)
	if claim.RewardStatus != domain.StatusClaimed || claim.RedeemCode == "" {
		t.Errorf("unexpected claim response: %+v", claim)
	}

	// Second claim maps to the claim error contract.
	rec = doRequest(t, srv, http.MethodPost, "/rewards/"+created.RewardID+"/claim", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	errResp := decodeBody[ErrorResponse](t, rec)
	if errResp.ErrorCode != 404.06 {
		t.Errorf("errorCode %v, want 404.06", errResp.ErrorCode)
	}
}

func TestListUserRewardsEndpoint(t *testing.T) {
	srv := newTestServer(t, noRateLimit())

	for i := 0; i < 3; i++ {
		doRequest(t, srv, http.MethodPost, "/rewards", ProcessTransactionRequest{
			TransactionID: fmt.Sprintf("txn-list-%d", i), UserID: "user-7", Amount: 100,
		})
	}

	rec := doRequest(t, srv, http.MethodGet, "/users/user-7/rewards?page=0&size=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Rewards []*domain.RewardResponse `json:"rewards"`
		Page    int                      `json:"page"`
		Size    int                      `json:"size"`
		Count   int                      `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.Rewards) != 2 {
		t.Errorf("expected 2 rewards on the page, got %d", resp.Count)
	}

	// Empty page for a user without rewards.
	rec = doRequest(t, srv, http.MethodGet, "/users/nobody/rewards", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for empty list, got %d", rec.Code)
	}
}

func TestRuleAdminEndpoints(t *testing.T) {
	srv := newTestServer(t, noRateLimit())

	value := 5.0
	rec := doRequest(t, srv, http.MethodPost, "/admin/reward-rules", &domain.RewardRule{
		TierName: "TIER_2", MinTransactionAmount: 100,
		RewardType: "POINTS", Description: "5 points", RewardValue: &value,
		Weight: 3, Active: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	created := decodeBody[domain.RewardRule](t, rec)
	if created.ID == "" {
		t.Fatal("expected generated rule id")
	}

	rec = doRequest(t, srv, http.MethodGet, "/admin/reward-rules/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get rule: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/admin/reward-rules/tier/TIER_2", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("list by tier: expected 200, got %d", rec.Code)
	}

	created.Weight = 9
	rec = doRequest(t, srv, http.MethodPut, "/admin/reward-rules/"+created.ID, created)
	if rec.Code != http.StatusOK {
		t.Errorf("update rule: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, srv, http.MethodPost, "/admin/reward-rules/reload", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("reload: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/admin/reward-rules/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete rule: expected 204, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/admin/reward-rules/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted rule: expected 404, got %d", rec.Code)
	}

	// Invalid rule rejected.
	rec = doRequest(t, srv, http.MethodPost, "/admin/reward-rules", &domain.RewardRule{RewardType: "POINTS"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid rule: expected 400, got %d", rec.Code)
	}
}

func TestBulkCreateRulesEndpoint(t *testing.T) {
	srv := newTestServer(t, noRateLimit())

	body := []*domain.RewardRule{
		{TierName: "TIER_3", MinTransactionAmount: 1000, RewardType: "CASHBACK", Description: "a", Weight: 1, Active: true},
		{TierName: "TIER_3", MinTransactionAmount: 1000, RewardType: "POINTS", Description: "b", Weight: 2, Active: true},
	}
	rec := doRequest(t, srv, http.MethodPost, "/admin/reward-rules/bulk", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("expected 2 created rules, got %d", resp.Count)
	}
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, noRateLimit())

	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}
	health := decodeBody[map[string]string](t, rec)
	if health["status"] != "healthy" {
		t.Errorf("unexpected health status %q", health["status"])
	}

	rec = doRequest(t, srv, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("ready: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiting(t *testing.T) {
	srv := newTestServer(t, domain.RateLimitConfig{Enabled: true, Rate: 2, Window: 60})

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.1.2.3:1234"
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		last = rec.Code
	}

	if last != http.StatusTooManyRequests {
		t.Errorf("expected 429 after exhausting tokens, got %d", last)
	}
}

func TestCreateRuleConflict(t *testing.T) {
	srv := newTestServer(t, noRateLimit())

	value := 5.0
	rule := &domain.RewardRule{
		ID: "rule-1", TierName: "TIER_1", MinTransactionAmount: 0,
		RewardType: "POINTS", Description: "5 points", RewardValue: &value,
		Weight: 1, Active: true,
	}

	rec := doRequest(t, srv, http.MethodPost, "/admin/reward-rules", rule)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for taken rule id, got %d: %s", rec.Code, rec.Body.String())
	}
	errResp := decodeBody[ErrorResponse](t, rec)
	if errResp.ErrorCode != codeConflict {
		t.Errorf("expected errorCode %.2f, got %.2f", codeConflict, errResp.ErrorCode)
	}
}
