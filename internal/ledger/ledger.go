// Package ledger ведёт журнал движений баллов и поддерживает баланс клиента в согласованном состоянии.
//
// Журнал только дополняется: каждое изменение баланса сопровождается ровно одной записью,
// а запись и изменение баланса сохраняются хранилищем атомарно.
package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mmeshcher/cashback-core/internal/model"
)

var (
	// ErrBranchRequired возвращается, если у движения не указан филиал.
	ErrBranchRequired = errors.New("branch id is required")
	// ErrUnknownMovementType возвращается для неизвестного типа движения.
	ErrUnknownMovementType = errors.New("unknown movement type")
	// ErrZeroPoints возвращается для движения без баллов.
	ErrZeroPoints = errors.New("movement points must not be zero")
	// ErrCouponRequired возвращается, если списание не привязано к купону.
	ErrCouponRequired = errors.New("redeem movement requires a coupon code")
	// ErrCustomerRequired возвращается, если не указан клиент.
	ErrCustomerRequired = errors.New("customer id is required")
	// ErrNegativeCredit возвращается для отрицательного начисления. Списывать баллы вручную
	// можно только корректировкой.
	ErrNegativeCredit = errors.New("credit movement points must be positive")
)

// Store описывает хранилище, в котором движение и баланс изменяются в одной транзакции.
type Store interface {
	AppendMovement(ctx context.Context, m model.PointMovement) (int64, error)
	GetBalance(ctx context.Context, customerID string) (int64, error)
	SumMovements(ctx context.Context, customerID string) (int64, error)
	GetMovementsByCustomer(ctx context.Context, customerID string) ([]model.PointMovement, error)
}

// Ledger записывает движения баллов.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New создаёт журнал поверх хранилища.
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Record проверяет запрос, приводит знак баллов к типу движения и сохраняет движение.
// Все проверки выполняются до обращения к хранилищу.
func (l *Ledger) Record(ctx context.Context, req model.MovementRequest) (string, error) {
	mv, err := l.prepare(req)
	if err != nil {
		return "", err
	}

	if _, err := l.store.AppendMovement(ctx, mv); err != nil {
		return "", fmt.Errorf("append movement: %w", err)
	}

	return mv.ID, nil
}

func (l *Ledger) prepare(req model.MovementRequest) (model.PointMovement, error) {
	branch := strings.TrimSpace(req.BranchID)
	if branch == "" {
		return model.PointMovement{}, ErrBranchRequired
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		return model.PointMovement{}, ErrCustomerRequired
	}
	if !req.Type.Valid() {
		return model.PointMovement{}, fmt.Errorf("%w: %q", ErrUnknownMovementType, req.Type)
	}
	if req.Points == 0 {
		return model.PointMovement{}, ErrZeroPoints
	}
	if req.Points < 0 && req.Type.AlwaysCredit() {
		return model.PointMovement{}, fmt.Errorf("%w: %s %d", ErrNegativeCredit, req.Type, req.Points)
	}

	coupon := strings.TrimSpace(req.CouponCode)
	if req.Type == model.MovementRedeem && coupon == "" {
		return model.PointMovement{}, ErrCouponRequired
	}

	points := req.Points
	if req.Type.AlwaysDebit() && points > 0 {
		points = -points
	}

	now := l.now()
	date := req.Date
	if date.IsZero() {
		date = now
	}

	return model.PointMovement{
		ID:          ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		CustomerID:  req.CustomerID,
		BranchID:    branch,
		Type:        req.Type,
		Points:      points,
		Description: req.Description,
		Date:        date,
		Reference:   req.Reference,
		CouponCode:  coupon,
		CreatedAt:   now,
	}, nil
}

// BalanceOf возвращает текущий баланс клиента.
func (l *Ledger) BalanceOf(ctx context.Context, customerID string) (int64, error) {
	return l.store.GetBalance(ctx, customerID)
}

// Movements возвращает движения клиента, начиная с последних.
func (l *Ledger) Movements(ctx context.Context, customerID string) ([]model.PointMovement, error) {
	return l.store.GetMovementsByCustomer(ctx, customerID)
}

// Reconcile сравнивает сохранённый баланс с суммой журнала.
func (l *Ledger) Reconcile(ctx context.Context, customerID string) (model.Reconciliation, error) {
	cached, err := l.store.GetBalance(ctx, customerID)
	if err != nil {
		return model.Reconciliation{}, fmt.Errorf("get balance: %w", err)
	}

	derived, err := l.store.SumMovements(ctx, customerID)
	if err != nil {
		return model.Reconciliation{}, fmt.Errorf("sum movements: %w", err)
	}

	return model.Reconciliation{
		CustomerID: customerID,
		Cached:     cached,
		Derived:    derived,
	}, nil
}
