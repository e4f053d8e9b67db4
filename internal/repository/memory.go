package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cashback-core/internal/model"
	"github.com/mmeshcher/cashback-core/internal/validation"
)

// DefaultLevels возвращает уровни, которыми программа заполняется при первом запуске.
func DefaultLevels() []model.CustomerLevel {
	return []model.CustomerLevel{
		{
			ID: "550e8400-e29b-41d4-a716-446655440000", Name: "Bronze", Order: 1, MinPoints: 0,
			PointsMultiplier: decimal.NewFromInt(1), ReferralBonus: decimal.NewFromInt(1),
		},
		{
			ID: "550e8400-e29b-41d4-a716-446655440001", Name: "Prata", Order: 2, MinPoints: 1000,
			PointsMultiplier: decimal.RequireFromString("1.2"), ReferralBonus: decimal.RequireFromString("1.5"),
		},
		{
			ID: "550e8400-e29b-41d4-a716-446655440002", Name: "Ouro", Order: 3, MinPoints: 5000,
			PointsMultiplier: decimal.RequireFromString("1.5"), ReferralBonus: decimal.NewFromInt(2),
		},
	}
}

// MemoryRepository хранит данные в памяти процесса. Семантика совпадает с PostgresRepository:
// движение и изменение баланса применяются под одной блокировкой либо не применяются вовсе.
type MemoryRepository struct {
	mu sync.RWMutex

	customers map[string]*model.Customer
	order     []string
	movements map[string][]model.PointMovement
	coupons   map[string]model.Coupon
	operators map[string]model.Operator
	levels    []model.CustomerLevel
	settings  *model.ProgramSettings

	operatorSeq int64
}

// NewMemoryRepository создаёт пустое хранилище с уровнями по умолчанию.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		customers: make(map[string]*model.Customer),
		movements: make(map[string][]model.PointMovement),
		coupons:   make(map[string]model.Coupon),
		operators: make(map[string]model.Operator),
		levels:    DefaultLevels(),
	}
}

// Close ничего не освобождает и нужен для совместимости с PostgresRepository.
func (m *MemoryRepository) Close() error {
	return nil
}

func (m *MemoryRepository) CreateCustomer(_ context.Context, c *model.Customer) error {
	if c.Level == nil {
		return fmt.Errorf("create customer: %w", ErrNoLevels)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.customers {
		if existing.Document == c.Document {
			return fmt.Errorf("%w: %s", ErrDocumentExists, c.Document)
		}
	}

	now := time.Now().UTC()
	c.Points = 0
	c.RegisteredAt = now
	c.UpdatedAt = now

	stored := *c
	m.customers[c.ID] = &stored
	m.order = append(m.order, c.ID)

	return nil
}

func (m *MemoryRepository) GetCustomer(_ context.Context, id string) (*model.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	cp := *c
	return &cp, nil
}

// findLocked возвращает копию первого по дате регистрации клиента, удовлетворяющего match.
func (m *MemoryRepository) findLocked(match func(c *model.Customer) bool) *model.Customer {
	for _, id := range m.order {
		c := m.customers[id]
		if match(c) {
			cp := *c
			return &cp
		}
	}
	return nil
}

func (m *MemoryRepository) FindCustomerByDocument(_ context.Context, document string) (*model.Customer, error) {
	document = validation.FormatCPF(document)

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.findLocked(func(c *model.Customer) bool {
		return c.Document == document
	}), nil
}

func (m *MemoryRepository) FindCustomerByEmail(_ context.Context, email, excludeDocument string) (*model.Customer, error) {
	email = validation.NormalizeEmail(email)
	excludeDocument = validation.FormatCPF(excludeDocument)

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.findLocked(func(c *model.Customer) bool {
		return c.Document != excludeDocument && validation.NormalizeEmail(c.Email) == email
	}), nil
}

func (m *MemoryRepository) FindCustomerByPhone(_ context.Context, phone, excludeDocument string) (*model.Customer, error) {
	phone = validation.NormalizePhone(phone)
	excludeDocument = validation.FormatCPF(excludeDocument)

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.findLocked(func(c *model.Customer) bool {
		return c.Document != excludeDocument && validation.NormalizePhone(c.Phone) == phone
	}), nil
}

func (m *MemoryRepository) UpdateCustomer(_ context.Context, id string, patch model.CustomerPatch) (*model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}

	if patch.Status != nil {
		c.Status = *patch.Status
	}
	if patch.DocumentVerified != nil {
		c.DocumentVerified = *patch.DocumentVerified
	}
	if patch.EmailVerified != nil {
		c.EmailVerified = *patch.EmailVerified
	}
	if patch.PhoneVerified != nil {
		c.PhoneVerified = *patch.PhoneVerified
	}
	c.UpdatedAt = time.Now().UTC()

	cp := *c
	return &cp, nil
}

func (m *MemoryRepository) GetLevels(_ context.Context) ([]model.CustomerLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]model.CustomerLevel, len(m.levels))
	copy(res, m.levels)
	return res, nil
}

// AppendMovement проверяет все условия до первой записи, поэтому при ошибке
// ни журнал, ни баланс, ни купон не меняются.
func (m *MemoryRepository) AppendMovement(_ context.Context, mv model.PointMovement) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.customers[mv.CustomerID]
	if !ok {
		return 0, ErrCustomerNotFound
	}

	var coupon model.Coupon
	if mv.CouponCode != "" {
		coupon, ok = m.coupons[mv.CouponCode]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrCouponNotFound, mv.CouponCode)
		}
		if coupon.Used() {
			return 0, fmt.Errorf("%w: %s", ErrCouponAlreadyUsed, mv.CouponCode)
		}
	}

	balance := c.Points + mv.Points
	if balance < 0 {
		return 0, ErrInsufficientPoints
	}

	m.movements[mv.CustomerID] = append(m.movements[mv.CustomerID], mv)

	if mv.CouponCode != "" {
		usedAt := mv.CreatedAt
		coupon.MovementID = mv.ID
		coupon.UsedAt = &usedAt
		m.coupons[mv.CouponCode] = coupon
	}

	c.Points = balance
	c.UpdatedAt = time.Now().UTC()

	return balance, nil
}

func (m *MemoryRepository) GetBalance(_ context.Context, customerID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.customers[customerID]
	if !ok {
		return 0, ErrCustomerNotFound
	}
	return c.Points, nil
}

func (m *MemoryRepository) SumMovements(_ context.Context, customerID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	for _, mv := range m.movements[customerID] {
		sum += mv.Points
	}
	return sum, nil
}

// GetMovementsByCustomer возвращает журнал клиента, начиная с последних движений.
func (m *MemoryRepository) GetMovementsByCustomer(_ context.Context, customerID string) ([]model.PointMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]model.PointMovement, len(m.movements[customerID]))
	copy(res, m.movements[customerID])

	sort.SliceStable(res, func(i, j int) bool {
		if !res[i].Date.Equal(res[j].Date) {
			return res[i].Date.After(res[j].Date)
		}
		return res[i].ID > res[j].ID
	})

	return res, nil
}

func (m *MemoryRepository) SaveCoupon(_ context.Context, c model.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.coupons[c.Code]; ok {
		return fmt.Errorf("%w: %s", ErrCouponExists, c.Code)
	}
	m.coupons[c.Code] = c
	return nil
}

// DiscardCoupon удаляет купон, ещё не привязанный к движению.
func (m *MemoryRepository) DiscardCoupon(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.coupons[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCouponNotFound, code)
	}
	if c.Used() {
		return fmt.Errorf("%w: %s", ErrCouponAlreadyUsed, code)
	}
	delete(m.coupons, code)
	return nil
}

func (m *MemoryRepository) GetCoupon(_ context.Context, code string) (*model.Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.coupons[code]
	if !ok {
		return nil, ErrCouponNotFound
	}
	return &c, nil
}

func (m *MemoryRepository) EnsureSettings(_ context.Context, defaults model.ProgramSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settings == nil {
		s := defaults
		m.settings = &s
	}
	return nil
}

func (m *MemoryRepository) GetSettings(_ context.Context) (model.ProgramSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.settings == nil {
		return model.ProgramSettings{}, ErrSettingsNotFound
	}
	return *m.settings, nil
}

func (m *MemoryRepository) SaveSettings(_ context.Context, s model.ProgramSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = &s
	return nil
}

func (m *MemoryRepository) CreateOperator(_ context.Context, login string, passwordHash []byte, branchID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.operators[login]; ok {
		return 0, fmt.Errorf("%w: %s", ErrOperatorExists, login)
	}

	m.operatorSeq++
	m.operators[login] = model.Operator{
		ID:           m.operatorSeq,
		Login:        login,
		PasswordHash: passwordHash,
		BranchID:     branchID,
		CreatedAt:    time.Now().UTC(),
	}
	return m.operatorSeq, nil
}

func (m *MemoryRepository) GetOperatorByLogin(_ context.Context, login string) (*model.Operator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.operators[login]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	return &o, nil
}

func (m *MemoryRepository) GetCustomersForExpiration(_ context.Context, cutoff time.Time, afterID string, limit int) ([]model.ExpirationCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.customers))
	for id := range m.customers {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var res []model.ExpirationCandidate
	for _, id := range ids {
		if len(res) >= limit {
			break
		}

		c := m.customers[id]
		if c.Points <= 0 || m.hasRecentCreditLocked(id, cutoff) {
			continue
		}
		res = append(res, model.ExpirationCandidate{CustomerID: id, Points: c.Points})
	}

	return res, nil
}

func (m *MemoryRepository) hasRecentCreditLocked(customerID string, cutoff time.Time) bool {
	for _, mv := range m.movements[customerID] {
		if mv.Points > 0 && !mv.Date.Before(cutoff) {
			return true
		}
	}
	return false
}
