// Package model содержит доменные сущности программы лояльности.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CustomerStatus описывает статус участника программы.
type CustomerStatus string

const (
	CustomerStatusActive   CustomerStatus = "active"
	CustomerStatusInactive CustomerStatus = "inactive"
)

// Valid сообщает, является ли статус допустимым.
func (s CustomerStatus) Valid() bool {
	return s == CustomerStatusActive || s == CustomerStatusInactive
}

// CustomerLevel описывает уровень (tier) программы лояльности.
type CustomerLevel struct {
	ID               string
	Name             string
	Order            int
	MinPoints        int64
	PointsMultiplier decimal.Decimal
	ReferralBonus    decimal.Decimal
}

// Customer представляет участника программы лояльности.
type Customer struct {
	ID               string
	Document         string
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	Points           int64
	Level            *CustomerLevel
	Status           CustomerStatus
	DocumentVerified bool
	EmailVerified    bool
	PhoneVerified    bool
	RegisteredAt     time.Time
	UpdatedAt        time.Time
}

// CustomerPatch описывает изменяемые вручную поля клиента. Nil означает «не менять».
type CustomerPatch struct {
	Status           *CustomerStatus
	DocumentVerified *bool
	EmailVerified    *bool
	PhoneVerified    *bool
}

// MovementType описывает причину изменения баланса баллов.
type MovementType string

const (
	MovementEarn        MovementType = "earn"
	MovementRedeem      MovementType = "redeem"
	MovementAdminAdjust MovementType = "admin_adjust"
	MovementReferral    MovementType = "referral"
	MovementExpire      MovementType = "expire"
	MovementRefund      MovementType = "refund"
)

// Valid сообщает, известен ли тип движения.
func (t MovementType) Valid() bool {
	switch t {
	case MovementEarn, MovementRedeem, MovementAdminAdjust, MovementReferral, MovementExpire, MovementRefund:
		return true
	}
	return false
}

// AlwaysDebit сообщает, что движение этого типа всегда уменьшает баланс.
func (t MovementType) AlwaysDebit() bool {
	return t == MovementRedeem || t == MovementExpire
}

// AlwaysCredit сообщает, что движение этого типа может только увеличивать баланс.
func (t MovementType) AlwaysCredit() bool {
	return t == MovementEarn || t == MovementReferral || t == MovementRefund
}

// PointMovement описывает одну запись журнала баллов. Записи неизменяемы.
type PointMovement struct {
	ID          string
	CustomerID  string
	BranchID    string
	Type        MovementType
	Points      int64
	Description string
	Date        time.Time
	Reference   string
	CouponCode  string
	CreatedAt   time.Time
}

// MovementRequest описывает запрос на запись движения баллов.
type MovementRequest struct {
	CustomerID  string
	BranchID    string
	Type        MovementType
	Points      int64
	Description string
	Date        time.Time
	Reference   string
	CouponCode  string
}

// DuplicatePolicy определяет, могут ли email и телефон повторяться у разных клиентов.
// Дублирование документа не допускается никогда.
type DuplicatePolicy struct {
	AllowDuplicateEmail bool `json:"allow_duplicate_email"`
	AllowDuplicatePhone bool `json:"allow_duplicate_phone"`
}

// ExpirationSettings описывает правила сгорания баллов.
type ExpirationSettings struct {
	Enabled bool
	Days    int
}

// ProgramSettings содержит изменяемые во время работы параметры программы.
type ProgramSettings struct {
	Policy           DuplicatePolicy
	PointsPerReal    decimal.Decimal
	MinPurchaseValue decimal.Decimal
	Expiration       ExpirationSettings
}

// Conflicts фиксирует найденные конфликты идентичности.
type Conflicts struct {
	DuplicateDocument bool
	DuplicateEmail    bool
	DuplicatePhone    bool
	ExistingCustomer  *Customer
}

// Any сообщает, найден ли хотя бы один конфликт.
func (c Conflicts) Any() bool {
	return c.DuplicateDocument || c.DuplicateEmail || c.DuplicatePhone
}

// ValidationResult содержит результат проверки идентичности кандидата.
type ValidationResult struct {
	Document  string
	Email     string
	Phone     string
	IsValid   bool
	Conflicts Conflicts
}

// CouponKind описывает канал погашения купона.
type CouponKind string

const (
	CouponOnline  CouponKind = "online"
	CouponOffline CouponKind = "offline"
)

// Valid сообщает, известен ли тип купона.
func (k CouponKind) Valid() bool {
	return k == CouponOnline || k == CouponOffline
}

// Coupon описывает выпущенный код погашения.
type Coupon struct {
	Code       string
	Kind       CouponKind
	IssuedAt   time.Time
	MovementID string
	UsedAt     *time.Time
}

// Used сообщает, привязан ли купон к движению.
func (c Coupon) Used() bool {
	return c.MovementID != ""
}

// Operator представляет сотрудника бэк-офиса.
type Operator struct {
	ID           int64
	Login        string
	PasswordHash []byte
	BranchID     string
	CreatedAt    time.Time
}

// ExpirationCandidate описывает клиента, баллы которого подлежат сгоранию.
type ExpirationCandidate struct {
	CustomerID string
	Points     int64
}

// Reconciliation сравнивает сохранённый баланс с суммой журнала.
type Reconciliation struct {
	CustomerID string
	Cached     int64
	Derived    int64
}

// Consistent сообщает, совпадает ли сохранённый баланс с журналом.
func (r Reconciliation) Consistent() bool {
	return r.Cached == r.Derived
}
