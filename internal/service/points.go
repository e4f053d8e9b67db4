package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cashback-core/internal/coupon"
	"github.com/mmeshcher/cashback-core/internal/ledger"
	"github.com/mmeshcher/cashback-core/internal/model"
	"github.com/mmeshcher/cashback-core/internal/repository"
)

// PurchaseRequest описывает покупку, за которую начисляются баллы.
type PurchaseRequest struct {
	CustomerID  string
	BranchID    string
	Value       decimal.Decimal
	Reference   string
	Description string
}

// RedeemRequest описывает списание баллов с выпуском купона.
type RedeemRequest struct {
	CustomerID  string
	BranchID    string
	Points      int64
	Kind        model.CouponKind
	Description string
}

// Earning описывает результат начисления баллов за покупку.
type Earning struct {
	MovementID string
	Points     int64
}

// Redemption описывает результат списания баллов.
type Redemption struct {
	MovementID string
	CouponCode string
	Points     int64
}

// CouponStatus объединяет разбор кода купона и его сохранённое состояние.
type CouponStatus struct {
	Info   coupon.Info
	Coupon *model.Coupon
}

// RecordMovement записывает движение баллов клиента.
func (s *Service) RecordMovement(ctx context.Context, req model.MovementRequest) (string, error) {
	id, err := s.ledger.Record(ctx, req)
	if err != nil {
		return "", err
	}

	s.logger.Info("points movement recorded",
		zap.String("movementID", id),
		zap.String("customerID", req.CustomerID),
		zap.String("branchID", req.BranchID),
		zap.String("type", string(req.Type)),
		zap.Int64("points", req.Points),
	)
	return id, nil
}

// BalanceOf возвращает баланс клиента.
func (s *Service) BalanceOf(ctx context.Context, customerID string) (int64, error) {
	return s.ledger.BalanceOf(ctx, customerID)
}

// Movements возвращает журнал движений клиента, начиная с последних.
func (s *Service) Movements(ctx context.Context, customerID string) ([]model.PointMovement, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.ledger.Movements(ctx, customerID)
}

// Reconcile сравнивает сохранённый баланс клиента с суммой его журнала.
func (s *Service) Reconcile(ctx context.Context, customerID string) (model.Reconciliation, error) {
	rec, err := s.ledger.Reconcile(ctx, customerID)
	if err != nil {
		return model.Reconciliation{}, err
	}

	if !rec.Consistent() {
		s.logger.Warn("balance drift detected",
			zap.String("customerID", customerID),
			zap.Int64("cached", rec.Cached),
			zap.Int64("derived", rec.Derived),
		)
	}
	return rec, nil
}

// EarnForPurchase начисляет баллы за покупку: сумма × баллы за реал × множитель уровня,
// с округлением вниз.
func (s *Service) EarnForPurchase(ctx context.Context, req PurchaseRequest) (Earning, error) {
	if !req.Value.IsPositive() {
		return Earning{}, ErrInvalidPurchaseValue
	}
	if strings.TrimSpace(req.BranchID) == "" {
		return Earning{}, ledger.ErrBranchRequired
	}

	settings, err := s.GetSettings(ctx)
	if err != nil {
		return Earning{}, err
	}

	if req.Value.LessThan(settings.MinPurchaseValue) {
		return Earning{}, fmt.Errorf("%w: %s < %s", ErrPurchaseBelowMinimum, req.Value, settings.MinPurchaseValue)
	}

	c, err := s.activeCustomer(ctx, req.CustomerID)
	if err != nil {
		return Earning{}, err
	}

	multiplier := decimal.NewFromInt(1)
	if c.Level != nil && c.Level.PointsMultiplier.IsPositive() {
		multiplier = c.Level.PointsMultiplier
	}

	points := req.Value.Mul(settings.PointsPerReal).Mul(multiplier).Floor().IntPart()

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Compra de R$ %s", req.Value.StringFixed(2))
	}

	id, err := s.RecordMovement(ctx, model.MovementRequest{
		CustomerID:  c.ID,
		BranchID:    req.BranchID,
		Type:        model.MovementEarn,
		Points:      points,
		Description: description,
		Reference:   req.Reference,
	})
	if err != nil {
		return Earning{}, err
	}

	return Earning{MovementID: id, Points: points}, nil
}

// Redeem выпускает купон указанного типа и списывает баллы, привязывая списание к купону.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (Redemption, error) {
	if strings.TrimSpace(req.BranchID) == "" {
		return Redemption{}, ledger.ErrBranchRequired
	}
	if req.Points <= 0 {
		return Redemption{}, ledger.ErrZeroPoints
	}
	if !req.Kind.Valid() {
		return Redemption{}, fmt.Errorf("%w: %q", coupon.ErrUnknownKind, req.Kind)
	}

	c, err := s.activeCustomer(ctx, req.CustomerID)
	if err != nil {
		return Redemption{}, err
	}
	if c.Points < req.Points {
		return Redemption{}, repository.ErrInsufficientPoints
	}

	code, err := s.IssueCoupon(ctx, req.Kind)
	if err != nil {
		return Redemption{}, err
	}

	id, err := s.RecordMovement(ctx, model.MovementRequest{
		CustomerID:  c.ID,
		BranchID:    req.BranchID,
		Type:        model.MovementRedeem,
		Points:      req.Points,
		Description: req.Description,
		CouponCode:  code,
	})
	if err != nil {
		if derr := s.repo.DiscardCoupon(ctx, code); derr != nil {
			s.logger.Warn("discard unredeemed coupon error", zap.String("coupon", code), zap.Error(derr))
		}
		return Redemption{}, err
	}

	return Redemption{MovementID: id, CouponCode: code, Points: req.Points}, nil
}

func (s *Service) activeCustomer(ctx context.Context, id string) (*model.Customer, error) {
	c, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CustomerStatusActive {
		return nil, ErrCustomerInactive
	}
	return c, nil
}

// IssueCoupon выпускает один купон указанного типа.
func (s *Service) IssueCoupon(ctx context.Context, kind model.CouponKind) (string, error) {
	code, err := s.issuer.Issue(ctx, kind)
	if err != nil {
		return "", fmt.Errorf("issue coupon: %w", err)
	}
	return code, nil
}

// IssueCoupons выпускает пакет купонов.
func (s *Service) IssueCoupons(ctx context.Context, kind model.CouponKind, count int) ([]string, error) {
	codes, err := s.issuer.IssueBatch(ctx, kind, count)
	if err != nil {
		return nil, err
	}

	s.logger.Info("coupons issued", zap.String("kind", string(kind)), zap.Int("count", len(codes)))
	return codes, nil
}

// ParseCoupon разбирает код купона без обращения к хранилищу.
func (s *Service) ParseCoupon(code string) coupon.Info {
	return coupon.Parse(code)
}

// GetCoupon возвращает разбор кода и, если купон выпускался, его состояние.
func (s *Service) GetCoupon(ctx context.Context, code string) (CouponStatus, error) {
	info := coupon.Parse(code)
	if !info.Valid {
		return CouponStatus{Info: info}, nil
	}

	stored, err := s.issuer.Get(ctx, code)
	if err != nil {
		return CouponStatus{Info: info}, err
	}

	return CouponStatus{Info: info, Coupon: stored}, nil
}
