package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"veostudio/internal/ledger"
	"veostudio/internal/logger"
	"veostudio/pkg/api"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GetBalance handles GET /credits.
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}
	acct, err := h.ledger.Account(r.Context(), accountID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.BalanceResponse{
		AccountID:          acct.ID.String(),
		Balance:            money(acct.Balance),
		TotalVideosCreated: acct.TotalVideosCreated,
		LedgerHalted:       acct.LedgerHalted,
	})
}

// GetLedger handles GET /credits/ledger?limit=&offset=.
func (h *Handlers) GetLedger(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}

	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			h.httpError(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.httpError(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return
		}
		offset = n
	}

	entries, err := h.ledger.Entries(r.Context(), accountID, limit, offset)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	resp := api.LedgerResponse{
		Entries: make([]api.LedgerEntryResponse, 0, len(entries)),
		Limit:   limit,
		Offset:  offset,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toLedgerEntryResponse(e))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ListPackages handles GET /credits/packages.
func (h *Handlers) ListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs := ledger.Packages()
	resp := api.PackagesResponse{Packages: make([]api.CreditPackage, 0, len(pkgs))}
	for _, p := range pkgs {
		resp.Packages = append(resp.Packages, api.CreditPackage{
			ID:         p.ID,
			PriceCents: p.PriceCents,
			Credits:    money(p.Credits),
			Bonus:      money(p.Bonus),
			Total:      money(p.Total()),
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// PaymentWebhook handles POST /webhooks/payments.
// Redelivered confirmations are answered with duplicate=true.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req api.PaymentConfirmation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		h.httpError(w, "Invalid account id", http.StatusBadRequest)
		return
	}
	amount, err := optionalDecimal(req.Amount)
	if err != nil {
		h.httpError(w, "Invalid amount", http.StatusBadRequest)
		return
	}
	bonus, err := optionalDecimal(req.Bonus)
	if err != nil {
		h.httpError(w, "Invalid bonus", http.StatusBadRequest)
		return
	}
	if amount.IsZero() {
		if _, ok := ledger.LookupPackage(req.PackageID); !ok {
			h.httpError(w, "Amount or a known packageId is required", http.StatusBadRequest)
			return
		}
	}

	res, duplicate, err := h.ledger.ApplyPurchase(r.Context(), ledger.PurchaseEvent{
		AccountID:         accountID,
		Amount:            amount,
		Bonus:             bonus,
		ExternalPaymentID: req.ExternalPaymentID,
		PackageID:         req.PackageID,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if duplicate {
		logger.FromContext(r.Context(), h.logger).Warn("duplicate payment confirmation",
			"account_id", accountID, "external_payment_id", req.ExternalPaymentID)
	}
	h.respondJson(w, http.StatusOK, api.PaymentResponse{
		Balance:   money(res.BalanceAfter),
		Duplicate: duplicate,
	})
}

func optionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// CreateAccount handles POST /internal/accounts.
// It is the signup hook; repeated calls for the same account are no-ops.
func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req api.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		h.httpError(w, "Invalid account id", http.StatusBadRequest)
		return
	}

	created, err := h.ledger.OpenAccount(r.Context(), accountID, req.Email, h.signupBonus)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	acct, err := h.ledger.Account(r.Context(), accountID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.respondJson(w, status, api.CreateAccountResponse{
		AccountID: accountID.String(),
		Created:   created,
		Balance:   money(acct.Balance),
	})
}

// VerifyLedger handles POST /internal/accounts/{id}/verify.
// A ledger that does not replay halts the account and answers 409.
func (h *Handlers) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(r, "id")
	if !ok {
		h.httpError(w, "Invalid account id", http.StatusBadRequest)
		return
	}

	err := h.ledger.Verify(r.Context(), accountID)
	if errors.Is(err, ledger.ErrLedgerCorrupted) {
		h.respondJson(w, http.StatusConflict, api.ErrorResponse{
			Error:   "Ledger does not match account balance; account halted",
			Code:    api.CodeLedgerCorrupted,
			Details: err.Error(),
		})
		return
	}
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.VerifyLedgerResponse{AccountID: accountID.String(), Consistent: true})
}

// ReconcileLedger handles POST /internal/accounts/{id}/reconcile.
// The halt is lifted only once the ledger replays cleanly.
func (h *Handlers) ReconcileLedger(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(r, "id")
	if !ok {
		h.httpError(w, "Invalid account id", http.StatusBadRequest)
		return
	}

	err := h.ledger.ClearHalt(r.Context(), accountID)
	if errors.Is(err, ledger.ErrLedgerCorrupted) {
		h.respondJson(w, http.StatusConflict, api.ErrorResponse{
			Error:   "Ledger still does not replay",
			Code:    api.CodeLedgerCorrupted,
			Details: err.Error(),
		})
		return
	}
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.VerifyLedgerResponse{AccountID: accountID.String(), Consistent: true})
}
