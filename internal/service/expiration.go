package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/cashback-core/internal/model"
)

const expirationBatchSize = 100

// StartExpirationSweeps сразу выполняет сгорание баллов, затем повторяет его с указанным
// интервалом и блокируется до отмены контекста.
func (s *Service) StartExpirationSweeps(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.sweepExpired(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired(ctx)
		}
	}
}

func (s *Service) sweepExpired(ctx context.Context) {
	n, err := s.ExpirePoints(ctx)
	if err != nil {
		s.logger.Error("expiration sweep error", zap.Int("expired", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("points expired", zap.Int("customers", n))
	}
}

// ExpirePoints списывает весь баланс клиентов, у которых не было начислений
// за настроенное число дней. Клиенты обходятся страницами, пока страница заполнена целиком.
// Возвращает число клиентов, баллы которых сгорели.
func (s *Service) ExpirePoints(ctx context.Context) (int, error) {
	settings, err := s.GetSettings(ctx)
	if err != nil {
		return 0, err
	}
	if !settings.Expiration.Enabled || settings.Expiration.Days <= 0 {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -settings.Expiration.Days)
	description := fmt.Sprintf("Expiração de pontos (%d dias sem acúmulo)", settings.Expiration.Days)

	expired := 0
	afterID := ""
	for {
		candidates, err := s.repo.GetCustomersForExpiration(ctx, cutoff, afterID, expirationBatchSize)
		if err != nil {
			return expired, fmt.Errorf("get customers for expiration: %w", err)
		}

		for _, c := range candidates {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}

			_, err := s.ledger.Record(ctx, model.MovementRequest{
				CustomerID:  c.CustomerID,
				BranchID:    s.systemBranch,
				Type:        model.MovementExpire,
				Points:      c.Points,
				Description: description,
			})
			if err != nil {
				s.logger.Warn("expire points error", zap.String("customerID", c.CustomerID), zap.Error(err))
				continue
			}
			expired++
		}

		if len(candidates) < expirationBatchSize {
			return expired, nil
		}
		afterID = candidates[len(candidates)-1].CustomerID
	}
}
