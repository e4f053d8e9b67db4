package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/cashback-core/internal/model"
	"github.com/mmeshcher/cashback-core/internal/repository"
)

type issueCouponsRequest struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

type issueCouponsResponse struct {
	Codes []string `json:"codes"`
}

type couponResponse struct {
	Code       string `json:"code"`
	Valid      bool   `json:"valid"`
	Kind       string `json:"kind,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	Issued     bool   `json:"issued"`
	MovementID string `json:"movement_id,omitempty"`
	UsedAt     string `json:"used_at,omitempty"`
}

// IssueCoupons выпускает пакет купонов.
func (h *Handler) IssueCoupons(w http.ResponseWriter, r *http.Request) {
	var req issueCouponsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Count == 0 {
		req.Count = 1
	}

	codes, err := h.service.IssueCoupons(r.Context(), model.CouponKind(req.Kind), req.Count)
	if err != nil {
		h.writeError(w, err, "issue coupons error", zap.String("kind", req.Kind), zap.Int("count", req.Count))
		return
	}

	h.writeJSON(w, http.StatusCreated, issueCouponsResponse{Codes: codes})
}

// GetCoupon возвращает разбор кода купона и его состояние.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	status, err := h.service.GetCoupon(r.Context(), code)
	if err != nil && !errors.Is(err, repository.ErrCouponNotFound) {
		h.writeError(w, err, "get coupon error", zap.String("coupon", code))
		return
	}

	resp := couponResponse{Code: code, Valid: status.Info.Valid}
	if status.Info.Valid {
		resp.Kind = string(status.Info.Kind)
		resp.Timestamp = status.Info.Timestamp.Format(time.RFC3339Nano)
	}
	if status.Coupon != nil {
		resp.Issued = true
		resp.MovementID = status.Coupon.MovementID
		if status.Coupon.UsedAt != nil {
			resp.UsedAt = status.Coupon.UsedAt.Format(time.RFC3339)
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}
