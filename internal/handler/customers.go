package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cashback-core/internal/identity"
	"github.com/mmeshcher/cashback-core/internal/model"
	"github.com/mmeshcher/cashback-core/internal/service"
)

type identityRequest struct {
	Document  string `json:"document"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type levelResponse struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Order            int             `json:"order"`
	MinPoints        int64           `json:"min_points"`
	PointsMultiplier decimal.Decimal `json:"points_multiplier"`
	ReferralBonus    decimal.Decimal `json:"referral_bonus"`
}

type customerResponse struct {
	ID               string         `json:"id"`
	Document         string         `json:"document"`
	FirstName        string         `json:"first_name"`
	LastName         string         `json:"last_name"`
	Email            string         `json:"email,omitempty"`
	Phone            string         `json:"phone,omitempty"`
	Points           int64          `json:"points"`
	Level            *levelResponse `json:"level,omitempty"`
	Status           string         `json:"status"`
	DocumentVerified bool           `json:"document_verified"`
	EmailVerified    bool           `json:"email_verified"`
	PhoneVerified    bool           `json:"phone_verified"`
	RegisteredAt     string         `json:"registered_at"`
	UpdatedAt        string         `json:"updated_at"`
}

type conflictsResponse struct {
	DuplicateDocument bool              `json:"duplicate_document"`
	DuplicateEmail    bool              `json:"duplicate_email"`
	DuplicatePhone    bool              `json:"duplicate_phone"`
	ExistingCustomer  *customerResponse `json:"existing_customer,omitempty"`
}

type validationResponse struct {
	Document  string            `json:"document"`
	Email     string            `json:"email,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	IsValid   bool              `json:"is_valid"`
	Conflicts conflictsResponse `json:"conflicts"`
}

func toCustomerResponse(c *model.Customer) *customerResponse {
	if c == nil {
		return nil
	}

	resp := &customerResponse{
		ID:               c.ID,
		Document:         c.Document,
		FirstName:        c.FirstName,
		LastName:         c.LastName,
		Email:            c.Email,
		Phone:            c.Phone,
		Points:           c.Points,
		Status:           string(c.Status),
		DocumentVerified: c.DocumentVerified,
		EmailVerified:    c.EmailVerified,
		PhoneVerified:    c.PhoneVerified,
		RegisteredAt:     c.RegisteredAt.Format(time.RFC3339),
		UpdatedAt:        c.UpdatedAt.Format(time.RFC3339),
	}

	if c.Level != nil {
		resp.Level = &levelResponse{
			ID:               c.Level.ID,
			Name:             c.Level.Name,
			Order:            c.Level.Order,
			MinPoints:        c.Level.MinPoints,
			PointsMultiplier: c.Level.PointsMultiplier,
			ReferralBonus:    c.Level.ReferralBonus,
		}
	}

	return resp
}

func toValidationResponse(res model.ValidationResult) validationResponse {
	return validationResponse{
		Document: res.Document,
		Email:    res.Email,
		Phone:    res.Phone,
		IsValid:  res.IsValid,
		Conflicts: conflictsResponse{
			DuplicateDocument: res.Conflicts.DuplicateDocument,
			DuplicateEmail:    res.Conflicts.DuplicateEmail,
			DuplicatePhone:    res.Conflicts.DuplicatePhone,
			ExistingCustomer:  toCustomerResponse(res.Conflicts.ExistingCustomer),
		},
	}
}

// ValidateCustomer проверяет CPF и конфликты идентичности без регистрации клиента.
func (h *Handler) ValidateCustomer(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.ValidateIdentity(r.Context(), identity.Candidate{
		Document: req.Document,
		Email:    req.Email,
		Phone:    req.Phone,
	})
	if err != nil {
		h.writeError(w, err, "validate identity error")
		return
	}

	h.writeJSON(w, http.StatusOK, toValidationResponse(res))
}

// RegisterCustomer регистрирует нового клиента.
func (h *Handler) RegisterCustomer(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Document == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.RegisterCustomer(r.Context(), service.RegisterRequest{
		Document:  req.Document,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
	})
	if err != nil {
		var conflict *service.IdentityConflictError
		if errors.As(err, &conflict) {
			h.writeJSON(w, http.StatusConflict, toValidationResponse(conflict.Result))
			return
		}
		h.writeError(w, err, "register customer error")
		return
	}

	h.writeJSON(w, http.StatusCreated, toCustomerResponse(c))
}

// GetCustomer возвращает клиента по идентификатору.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := h.service.GetCustomer(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get customer error", zap.String("customerID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, toCustomerResponse(c))
}

type customerPatchRequest struct {
	Status           *string `json:"status,omitempty"`
	DocumentVerified *bool   `json:"document_verified,omitempty"`
	EmailVerified    *bool   `json:"email_verified,omitempty"`
	PhoneVerified    *bool   `json:"phone_verified,omitempty"`
}

// UpdateCustomer меняет статус и флаги верификации клиента.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req customerPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	patch := model.CustomerPatch{
		DocumentVerified: req.DocumentVerified,
		EmailVerified:    req.EmailVerified,
		PhoneVerified:    req.PhoneVerified,
	}
	if req.Status != nil {
		status := model.CustomerStatus(*req.Status)
		patch.Status = &status
	}

	c, err := h.service.UpdateCustomer(r.Context(), id, patch)
	if err != nil {
		h.writeError(w, err, "update customer error", zap.String("customerID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, toCustomerResponse(c))
}
