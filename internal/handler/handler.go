// Package handler содержит HTTP-обработчики API сервиса лояльности.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/cashback-core/internal/coupon"
	"github.com/mmeshcher/cashback-core/internal/identity"
	"github.com/mmeshcher/cashback-core/internal/ledger"
	"github.com/mmeshcher/cashback-core/internal/middleware"
	"github.com/mmeshcher/cashback-core/internal/model"
	"github.com/mmeshcher/cashback-core/internal/repository"
	"github.com/mmeshcher/cashback-core/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterOperator(ctx context.Context, login, password, branchID string) (*model.Operator, error)
	AuthenticateOperator(ctx context.Context, login, password string) (*model.Operator, error)

	ValidateIdentity(ctx context.Context, c identity.Candidate) (model.ValidationResult, error)
	RegisterCustomer(ctx context.Context, req service.RegisterRequest) (*model.Customer, error)
	GetCustomer(ctx context.Context, id string) (*model.Customer, error)
	UpdateCustomer(ctx context.Context, id string, patch model.CustomerPatch) (*model.Customer, error)

	BalanceOf(ctx context.Context, customerID string) (int64, error)
	Reconcile(ctx context.Context, customerID string) (model.Reconciliation, error)
	Movements(ctx context.Context, customerID string) ([]model.PointMovement, error)
	RecordMovement(ctx context.Context, req model.MovementRequest) (string, error)
	EarnForPurchase(ctx context.Context, req service.PurchaseRequest) (service.Earning, error)
	Redeem(ctx context.Context, req service.RedeemRequest) (service.Redemption, error)
	PayReferral(ctx context.Context, referrerID, referredID, branchID string, basePoints int64) (service.ReferralPayout, error)

	IssueCoupons(ctx context.Context, kind model.CouponKind, count int) ([]string, error)
	GetCoupon(ctx context.Context, code string) (service.CouponStatus, error)

	GetSettings(ctx context.Context) (model.ProgramSettings, error)
	UpdateSettings(ctx context.Context, s model.ProgramSettings) error
}

// Handler реализует HTTP-обработчики API сервиса лояльности.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	BranchID string `json:"branch_id,omitempty"`
}

// RegisterOperator регистрирует оператора бэк-офиса и устанавливает cookie авторизации.
func (h *Handler) RegisterOperator(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" || strings.TrimSpace(req.BranchID) == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	op, err := h.service.RegisterOperator(r.Context(), req.Login, req.Password, strings.TrimSpace(req.BranchID))
	if err != nil {
		if errors.Is(err, repository.ErrOperatorExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register operator error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.setAuthCookie(w, op)
}

// Login выполняет аутентификацию оператора и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	op, err := h.service.AuthenticateOperator(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login operator error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.setAuthCookie(w, op)
}

func (h *Handler) setAuthCookie(w http.ResponseWriter, op *model.Operator) {
	if err := h.authMiddleware.SetAuthCookie(w, middleware.Operator{ID: op.ID, BranchID: op.BranchID}); err != nil {
		h.logger.Error("set auth cookie error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// writeJSON кодирует тело ответа в JSON с указанным статусом.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// writeError отображает доменную ошибку в HTTP-статус. Неизвестные ошибки логируются как 500.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, append(fields, zap.Error(err))...)
	}
	http.Error(w, http.StatusText(status), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrCustomerNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInsufficientPoints):
		return http.StatusPaymentRequired
	case errors.Is(err, repository.ErrDocumentExists),
		errors.Is(err, repository.ErrCouponAlreadyUsed),
		errors.Is(err, service.ErrCustomerInactive):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidDocument),
		errors.Is(err, service.ErrInvalidPhone),
		errors.Is(err, service.ErrPurchaseBelowMinimum),
		errors.Is(err, repository.ErrCouponNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrBranchRequired),
		errors.Is(err, ledger.ErrCustomerRequired),
		errors.Is(err, ledger.ErrUnknownMovementType),
		errors.Is(err, ledger.ErrZeroPoints),
		errors.Is(err, ledger.ErrCouponRequired),
		errors.Is(err, ledger.ErrNegativeCredit),
		errors.Is(err, service.ErrInvalidPurchaseValue),
		errors.Is(err, service.ErrInvalidReferral),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidSettings),
		errors.Is(err, coupon.ErrUnknownKind),
		errors.Is(err, coupon.ErrInvalidCount):
		return http.StatusBadRequest
	case errors.Is(err, coupon.ErrIssueExhausted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
