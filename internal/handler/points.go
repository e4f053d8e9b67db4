package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cashback-core/internal/middleware"
	"github.com/mmeshcher/cashback-core/internal/model"
	"github.com/mmeshcher/cashback-core/internal/service"
)

type balanceResponse struct {
	CustomerID string `json:"customer_id"`
	Points     int64  `json:"points"`
}

type reconciliationResponse struct {
	CustomerID string `json:"customer_id"`
	Cached     int64  `json:"cached"`
	Derived    int64  `json:"derived"`
	Consistent bool   `json:"consistent"`
}

type movementRequest struct {
	Type        string `json:"type"`
	Points      int64  `json:"points"`
	BranchID    string `json:"branch_id"`
	Description string `json:"description"`
	Date        string `json:"date,omitempty"`
	Reference   string `json:"reference,omitempty"`
	CouponCode  string `json:"coupon_code,omitempty"`
}

type movementResponse struct {
	ID          string `json:"id"`
	CustomerID  string `json:"customer_id"`
	BranchID    string `json:"branch_id"`
	Type        string `json:"type"`
	Points      int64  `json:"points"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Reference   string `json:"reference,omitempty"`
	CouponCode  string `json:"coupon_code,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type purchaseRequest struct {
	Value       decimal.Decimal `json:"value"`
	BranchID    string          `json:"branch_id"`
	Reference   string          `json:"reference,omitempty"`
	Description string          `json:"description,omitempty"`
}

type earningResponse struct {
	MovementID string `json:"movement_id"`
	Points     int64  `json:"points"`
}

type redemptionRequest struct {
	Points      int64  `json:"points"`
	Kind        string `json:"kind"`
	BranchID    string `json:"branch_id"`
	Description string `json:"description,omitempty"`
}

type redemptionResponse struct {
	MovementID string `json:"movement_id"`
	CouponCode string `json:"coupon_code"`
	Points     int64  `json:"points"`
}

type referralRequest struct {
	ReferredID string `json:"referred_id"`
	Points     int64  `json:"points"`
	BranchID   string `json:"branch_id"`
}

type referralResponse struct {
	ReferrerMovementID string `json:"referrer_movement_id"`
	ReferrerPoints     int64  `json:"referrer_points"`
	ReferredMovementID string `json:"referred_movement_id"`
	ReferredPoints     int64  `json:"referred_points"`
}

// branchFor возвращает филиал из запроса, а если он не указан, филиал оператора.
func branchFor(r *http.Request, requested string) string {
	if b := strings.TrimSpace(requested); b != "" {
		return b
	}
	if op, ok := middleware.GetOperatorFromContext(r.Context()); ok {
		return op.BranchID
	}
	return ""
}

// GetBalance возвращает баланс клиента.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	points, err := h.service.BalanceOf(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get balance error", zap.String("customerID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{CustomerID: id, Points: points})
}

// GetReconciliation сравнивает баланс клиента с суммой его журнала.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.service.Reconcile(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "reconcile error", zap.String("customerID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, reconciliationResponse{
		CustomerID: rec.CustomerID,
		Cached:     rec.Cached,
		Derived:    rec.Derived,
		Consistent: rec.Consistent(),
	})
}

// GetMovements возвращает журнал движений клиента.
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	movements, err := h.service.Movements(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get movements error", zap.String("customerID", id))
		return
	}

	if len(movements) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		resp = append(resp, movementResponse{
			ID:          m.ID,
			CustomerID:  m.CustomerID,
			BranchID:    m.BranchID,
			Type:        string(m.Type),
			Points:      m.Points,
			Description: m.Description,
			Date:        m.Date.Format(time.RFC3339),
			Reference:   m.Reference,
			CouponCode:  m.CouponCode,
			CreatedAt:   m.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// RecordMovement записывает движение баллов клиента.
func (h *Handler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var date time.Time
	if req.Date != "" {
		parsed, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		date = parsed
	}

	movementID, err := h.service.RecordMovement(r.Context(), model.MovementRequest{
		CustomerID:  id,
		BranchID:    branchFor(r, req.BranchID),
		Type:        model.MovementType(req.Type),
		Points:      req.Points,
		Description: req.Description,
		Date:        date,
		Reference:   req.Reference,
		CouponCode:  req.CouponCode,
	})
	if err != nil {
		h.writeError(w, err, "record movement error", zap.String("customerID", id))
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"id": movementID})
}

// RecordPurchase начисляет баллы за покупку.
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	earning, err := h.service.EarnForPurchase(r.Context(), service.PurchaseRequest{
		CustomerID:  id,
		BranchID:    branchFor(r, req.BranchID),
		Value:       req.Value,
		Reference:   req.Reference,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(w, err, "record purchase error", zap.String("customerID", id))
		return
	}

	h.writeJSON(w, http.StatusCreated, earningResponse{MovementID: earning.MovementID, Points: earning.Points})
}

// Redeem списывает баллы клиента с выпуском купона.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req redemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	kind := model.CouponKind(req.Kind)
	if req.Kind == "" {
		kind = model.CouponOffline
	}

	redemption, err := h.service.Redeem(r.Context(), service.RedeemRequest{
		CustomerID:  id,
		BranchID:    branchFor(r, req.BranchID),
		Points:      req.Points,
		Kind:        kind,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(w, err, "redeem error", zap.String("customerID", id))
		return
	}

	h.writeJSON(w, http.StatusCreated, redemptionResponse{
		MovementID: redemption.MovementID,
		CouponCode: redemption.CouponCode,
		Points:     redemption.Points,
	})
}

// PayReferral начисляет баллы пригласившему клиенту и приглашённому.
func (h *Handler) PayReferral(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req referralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	payout, err := h.service.PayReferral(r.Context(), id, strings.TrimSpace(req.ReferredID), branchFor(r, req.BranchID), req.Points)
	if err != nil {
		h.writeError(w, err, "pay referral error", zap.String("referrerID", id), zap.String("referredID", req.ReferredID))
		return
	}

	h.writeJSON(w, http.StatusCreated, referralResponse{
		ReferrerMovementID: payout.ReferrerMovementID,
		ReferrerPoints:     payout.ReferrerPoints,
		ReferredMovementID: payout.ReferredMovementID,
		ReferredPoints:     payout.ReferredPoints,
	})
}
