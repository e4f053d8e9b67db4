package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/cashback-core/internal/identity"
	"github.com/mmeshcher/cashback-core/internal/model"
	"github.com/mmeshcher/cashback-core/internal/repository"
	"github.com/mmeshcher/cashback-core/internal/validation"
)

// RegisterRequest описывает данные нового клиента.
type RegisterRequest struct {
	Document  string
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// ValidateIdentity проверяет CPF кандидата и ищет конфликты с существующими клиентами
// по текущей политике дублирования.
func (s *Service) ValidateIdentity(ctx context.Context, c identity.Candidate) (model.ValidationResult, error) {
	settings, err := s.GetSettings(ctx)
	if err != nil {
		return model.ValidationResult{}, err
	}

	policy := settings.Policy
	document := validation.FormatCPF(c.Document)

	if !validation.IsValidCPF(document) {
		return identity.Resolve(c, policy, identity.Matches{}), nil
	}

	var matches identity.Matches

	matches.ByDocument, err = s.repo.FindCustomerByDocument(ctx, document)
	if err != nil {
		return model.ValidationResult{}, fmt.Errorf("find customer by document: %w", err)
	}

	if strings.TrimSpace(c.Email) != "" && !policy.AllowDuplicateEmail {
		matches.ByEmail, err = s.repo.FindCustomerByEmail(ctx, c.Email, document)
		if err != nil {
			return model.ValidationResult{}, fmt.Errorf("find customer by email: %w", err)
		}
	}

	if validation.NormalizePhone(c.Phone) != "" && !policy.AllowDuplicatePhone {
		matches.ByPhone, err = s.repo.FindCustomerByPhone(ctx, c.Phone, document)
		if err != nil {
			return model.ValidationResult{}, fmt.Errorf("find customer by phone: %w", err)
		}
	}

	return identity.Resolve(c, policy, matches), nil
}

// RegisterCustomer регистрирует нового клиента на начальном уровне программы.
func (s *Service) RegisterCustomer(ctx context.Context, req RegisterRequest) (*model.Customer, error) {
	email := strings.TrimSpace(req.Email)
	phone := strings.TrimSpace(req.Phone)

	res, err := s.ValidateIdentity(ctx, identity.Candidate{Document: req.Document, Email: email, Phone: phone})
	if err != nil {
		return nil, err
	}

	if !validation.IsValidCPF(res.Document) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, res.Document)
	}
	if phone != "" && !validation.IsValidBRMobile(phone) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPhone, phone)
	}
	if !res.IsValid {
		return nil, &IdentityConflictError{Result: res}
	}

	level, err := s.entryLevel(ctx)
	if err != nil {
		return nil, err
	}

	c := &model.Customer{
		ID:        uuid.NewString(),
		Document:  res.Document,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     email,
		Phone:     phone,
		Level:     level,
		Status:    model.CustomerStatusActive,
	}

	if err := s.repo.CreateCustomer(ctx, c); err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}

	s.logger.Info("customer registered", zap.String("customerID", c.ID), zap.String("level", level.Name))
	return c, nil
}

func (s *Service) entryLevel(ctx context.Context) (*model.CustomerLevel, error) {
	levels, err := s.repo.GetLevels(ctx)
	if err != nil {
		return nil, fmt.Errorf("get levels: %w", err)
	}
	if len(levels) == 0 {
		return nil, repository.ErrNoLevels
	}

	entry := levels[0]
	for _, l := range levels[1:] {
		if l.Order < entry.Order {
			entry = l
		}
	}
	return &entry, nil
}

// GetCustomer возвращает клиента по идентификатору.
func (s *Service) GetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// UpdateCustomer меняет статус и флаги верификации клиента.
func (s *Service) UpdateCustomer(ctx context.Context, id string, patch model.CustomerPatch) (*model.Customer, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *patch.Status)
	}

	c, err := s.repo.UpdateCustomer(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	s.logger.Info("customer updated", zap.String("customerID", id), zap.String("status", string(c.Status)))
	return c, nil
}
