package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cashback-core/internal/ledger"
	"github.com/mmeshcher/cashback-core/internal/model"
)

// ReferralPayout описывает начисления обеим сторонам рекомендации.
type ReferralPayout struct {
	ReferrerMovementID string
	ReferrerPoints     int64
	ReferredMovementID string
	ReferredPoints     int64
}

// PayReferral начисляет баллы за рекомендацию. Приглашённый получает basePoints,
// пригласивший получает basePoints × бонус рекомендаций своего уровня с округлением вниз.
// Обе записи имеют тип referral и ссылаются на другую сторону.
func (s *Service) PayReferral(ctx context.Context, referrerID, referredID, branchID string, basePoints int64) (ReferralPayout, error) {
	if strings.TrimSpace(branchID) == "" {
		return ReferralPayout{}, ledger.ErrBranchRequired
	}
	if basePoints <= 0 {
		return ReferralPayout{}, fmt.Errorf("%w: points must be positive", ErrInvalidReferral)
	}
	if referrerID == referredID {
		return ReferralPayout{}, fmt.Errorf("%w: customer cannot refer themselves", ErrInvalidReferral)
	}

	referrer, err := s.activeCustomer(ctx, referrerID)
	if err != nil {
		return ReferralPayout{}, err
	}
	referred, err := s.activeCustomer(ctx, referredID)
	if err != nil {
		return ReferralPayout{}, err
	}

	bonus := decimal.NewFromInt(1)
	if referrer.Level != nil && referrer.Level.ReferralBonus.IsPositive() {
		bonus = referrer.Level.ReferralBonus
	}
	referrerPoints := decimal.NewFromInt(basePoints).Mul(bonus).Floor().IntPart()

	referredMovement, err := s.RecordMovement(ctx, model.MovementRequest{
		CustomerID:  referred.ID,
		BranchID:    branchID,
		Type:        model.MovementReferral,
		Points:      basePoints,
		Description: fmt.Sprintf("Indicação de %s", customerName(referrer)),
		Reference:   referrer.ID,
	})
	if err != nil {
		return ReferralPayout{}, fmt.Errorf("credit referred customer: %w", err)
	}

	referrerMovement, err := s.RecordMovement(ctx, model.MovementRequest{
		CustomerID:  referrer.ID,
		BranchID:    branchID,
		Type:        model.MovementReferral,
		Points:      referrerPoints,
		Description: fmt.Sprintf("Indicação de %s", customerName(referred)),
		Reference:   referred.ID,
	})
	if err != nil {
		s.logger.Error("referral paid to referred customer only",
			zap.String("referredMovementID", referredMovement),
			zap.String("referrerID", referrer.ID),
			zap.Error(err),
		)
		return ReferralPayout{}, fmt.Errorf("credit referrer: %w", err)
	}

	return ReferralPayout{
		ReferrerMovementID: referrerMovement,
		ReferrerPoints:     referrerPoints,
		ReferredMovementID: referredMovement,
		ReferredPoints:     basePoints,
	}, nil
}

func customerName(c *model.Customer) string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		return c.Document
	}
	return name
}
