// Package service реализует бизнес-логику сервиса лояльности.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cashback-core/internal/coupon"
	"github.com/mmeshcher/cashback-core/internal/ledger"
	"github.com/mmeshcher/cashback-core/internal/model"
	"github.com/mmeshcher/cashback-core/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateCustomer(ctx context.Context, c *model.Customer) error
	GetCustomer(ctx context.Context, id string) (*model.Customer, error)
	FindCustomerByDocument(ctx context.Context, document string) (*model.Customer, error)
	FindCustomerByEmail(ctx context.Context, email, excludeDocument string) (*model.Customer, error)
	FindCustomerByPhone(ctx context.Context, phone, excludeDocument string) (*model.Customer, error)
	UpdateCustomer(ctx context.Context, id string, patch model.CustomerPatch) (*model.Customer, error)
	GetLevels(ctx context.Context) ([]model.CustomerLevel, error)

	AppendMovement(ctx context.Context, m model.PointMovement) (int64, error)
	GetBalance(ctx context.Context, customerID string) (int64, error)
	SumMovements(ctx context.Context, customerID string) (int64, error)
	GetMovementsByCustomer(ctx context.Context, customerID string) ([]model.PointMovement, error)

	SaveCoupon(ctx context.Context, c model.Coupon) error
	GetCoupon(ctx context.Context, code string) (*model.Coupon, error)
	DiscardCoupon(ctx context.Context, code string) error

	EnsureSettings(ctx context.Context, defaults model.ProgramSettings) error
	GetSettings(ctx context.Context) (model.ProgramSettings, error)
	SaveSettings(ctx context.Context, s model.ProgramSettings) error

	CreateOperator(ctx context.Context, login string, passwordHash []byte, branchID string) (int64, error)
	GetOperatorByLogin(ctx context.Context, login string) (*model.Operator, error)

	GetCustomersForExpiration(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]model.ExpirationCandidate, error)
}

var (
	// ErrInvalidDocument возвращается при регистрации клиента с некорректным CPF.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrInvalidPhone возвращается, если указан номер, не являющийся бразильским мобильным.
	ErrInvalidPhone = errors.New("invalid phone")
	// ErrInvalidCredentials возвращается при неверном логине или пароле оператора.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidSettings возвращается при попытке сохранить некорректные настройки.
	ErrInvalidSettings = errors.New("invalid program settings")
	// ErrInvalidStatus возвращается для неизвестного статуса клиента.
	ErrInvalidStatus = errors.New("invalid customer status")
	// ErrCustomerInactive возвращается при операциях с баллами неактивного клиента.
	ErrCustomerInactive = errors.New("customer is inactive")
	// ErrInvalidPurchaseValue возвращается для неположительной суммы покупки.
	ErrInvalidPurchaseValue = errors.New("purchase value must be positive")
	// ErrPurchaseBelowMinimum возвращается, если сумма покупки меньше минимальной.
	ErrPurchaseBelowMinimum = errors.New("purchase value below minimum")
	// ErrInvalidReferral возвращается для некорректной выплаты за рекомендацию.
	ErrInvalidReferral = errors.New("invalid referral")
)

// IdentityConflictError возвращается при регистрации клиента, ключи которого уже заняты.
type IdentityConflictError struct {
	Result model.ValidationResult
}

func (e *IdentityConflictError) Error() string {
	c := e.Result.Conflicts
	return fmt.Sprintf("identity conflict: document=%t email=%t phone=%t",
		c.DuplicateDocument, c.DuplicateEmail, c.DuplicatePhone)
}

// DefaultSettings возвращает настройки программы, используемые до первого сохранения.
func DefaultSettings() model.ProgramSettings {
	return model.ProgramSettings{
		PointsPerReal:    decimal.NewFromInt(1),
		MinPurchaseValue: decimal.Zero,
	}
}

// Service содержит бизнес-логику сервиса лояльности.
type Service struct {
	repo         Repository
	ledger       *ledger.Ledger
	issuer       *coupon.Issuer
	logger       *zap.Logger
	systemBranch string
	now          func() time.Time
}

// Option настраивает Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	reserver     coupon.Reserver
	systemBranch string
}

// WithCouponReserver подключает распределённое резервирование кодов купонов.
func WithCouponReserver(r coupon.Reserver) Option {
	return func(o *serviceOptions) {
		o.reserver = r
	}
}

// WithSystemBranch задаёт филиал, от имени которого выполняются системные движения.
func WithSystemBranch(branchID string) Option {
	return func(o *serviceOptions) {
		o.systemBranch = branchID
	}
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository, logger *zap.Logger, opts ...Option) *Service {
	o := serviceOptions{systemBranch: "matriz"}
	for _, opt := range opts {
		opt(&o)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	var issuerOpts []coupon.Option
	if o.reserver != nil {
		issuerOpts = append(issuerOpts, coupon.WithReserver(o.reserver))
	}

	return &Service{
		repo:         repo,
		ledger:       ledger.New(repo),
		issuer:       coupon.NewIssuer(repo, issuerOpts...),
		logger:       logger,
		systemBranch: o.systemBranch,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// EnsureSettings сохраняет настройки по умолчанию, если они ещё не сохранены.
func (s *Service) EnsureSettings(ctx context.Context, defaults model.ProgramSettings) error {
	if err := validateSettings(defaults); err != nil {
		return err
	}
	return s.repo.EnsureSettings(ctx, defaults)
}

// GetSettings возвращает текущие настройки программы.
func (s *Service) GetSettings(ctx context.Context) (model.ProgramSettings, error) {
	settings, err := s.repo.GetSettings(ctx)
	if errors.Is(err, repository.ErrSettingsNotFound) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return model.ProgramSettings{}, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

// UpdateSettings проверяет и сохраняет настройки программы.
func (s *Service) UpdateSettings(ctx context.Context, settings model.ProgramSettings) error {
	if err := validateSettings(settings); err != nil {
		return err
	}

	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	s.logger.Info("program settings updated",
		zap.Bool("allowDuplicateEmail", settings.Policy.AllowDuplicateEmail),
		zap.Bool("allowDuplicatePhone", settings.Policy.AllowDuplicatePhone),
		zap.String("pointsPerReal", settings.PointsPerReal.String()),
		zap.Bool("expirationEnabled", settings.Expiration.Enabled),
	)
	return nil
}

func validateSettings(s model.ProgramSettings) error {
	if !s.PointsPerReal.IsPositive() {
		return fmt.Errorf("%w: points per real must be positive", ErrInvalidSettings)
	}
	if s.MinPurchaseValue.IsNegative() {
		return fmt.Errorf("%w: minimum purchase value must not be negative", ErrInvalidSettings)
	}
	if s.Expiration.Days < 0 || (s.Expiration.Enabled && s.Expiration.Days == 0) {
		return fmt.Errorf("%w: expiration days must be positive when enabled", ErrInvalidSettings)
	}
	return nil
}
