package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cashback-core/internal/model"
)

type expirationPayload struct {
	Enabled bool `json:"enabled"`
	Days    int  `json:"days"`
}

type settingsPayload struct {
	Policy           model.DuplicatePolicy `json:"policy"`
	PointsPerReal    decimal.Decimal       `json:"points_per_real"`
	MinPurchaseValue decimal.Decimal       `json:"min_purchase_value"`
	Expiration       expirationPayload     `json:"expiration"`
}

// GetSettings возвращает настройки программы.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.GetSettings(r.Context())
	if err != nil {
		h.writeError(w, err, "get settings error")
		return
	}

	h.writeJSON(w, http.StatusOK, settingsPayload{
		Policy:           s.Policy,
		PointsPerReal:    s.PointsPerReal,
		MinPurchaseValue: s.MinPurchaseValue,
		Expiration: expirationPayload{
			Enabled: s.Expiration.Enabled,
			Days:    s.Expiration.Days,
		},
	})
}

// UpdateSettings заменяет настройки программы.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.UpdateSettings(r.Context(), model.ProgramSettings{
		Policy:           req.Policy,
		PointsPerReal:    req.PointsPerReal,
		MinPurchaseValue: req.MinPurchaseValue,
		Expiration: model.ExpirationSettings{
			Enabled: req.Expiration.Enabled,
			Days:    req.Expiration.Days,
		},
	})
	if err != nil {
		h.writeError(w, err, "update settings error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
