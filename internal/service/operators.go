package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/cashback-core/internal/model"
	"github.com/mmeshcher/cashback-core/internal/repository"
)

// RegisterOperator регистрирует нового оператора бэк-офиса.
func (s *Service) RegisterOperator(ctx context.Context, login, password, branchID string) (*model.Operator, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.repo.CreateOperator(ctx, login, hashed, branchID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("operator registered", zap.Int64("operatorID", id), zap.String("branchID", branchID))
	return &model.Operator{ID: id, Login: login, BranchID: branchID}, nil
}

// AuthenticateOperator проверяет логин и пароль оператора.
func (s *Service) AuthenticateOperator(ctx context.Context, login, password string) (*model.Operator, error) {
	o, err := s.repo.GetOperatorByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrOperatorNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(o.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return o, nil
}
