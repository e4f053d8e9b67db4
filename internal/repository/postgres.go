// Package repository содержит реализации хранилища клиентов, журнала баллов и купонов.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cashback-core/internal/model"
	"github.com/mmeshcher/cashback-core/internal/validation"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// isRetryable отбирает ошибки, после которых транзакцию можно безопасно повторить целиком.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const customerColumns = `c.id, c.document, c.first_name, c.last_name, c.email, c.phone, c.points,
	c.status, c.document_verified, c.email_verified, c.phone_verified, c.registered_at, c.updated_at,
	l.id, l.name, l.order_position, l.min_points, l.points_multiplier::text, l.referral_bonus::text`

const customerFrom = ` FROM customers c JOIN customer_levels l ON l.id = c.level_id `

func scanCustomer(row pgx.Row) (*model.Customer, error) {
	var (
		c          model.Customer
		level      model.CustomerLevel
		status     string
		multiplier string
		bonus      string
	)

	err := row.Scan(
		&c.ID, &c.Document, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Points,
		&status, &c.DocumentVerified, &c.EmailVerified, &c.PhoneVerified, &c.RegisteredAt, &c.UpdatedAt,
		&level.ID, &level.Name, &level.Order, &level.MinPoints, &multiplier, &bonus,
	)
	if err != nil {
		return nil, err
	}

	if level.PointsMultiplier, level.ReferralBonus, err = parseLevelFactors(multiplier, bonus); err != nil {
		return nil, err
	}

	c.Status = model.CustomerStatus(status)
	c.Level = &level

	return &c, nil
}

func parseLevelFactors(multiplier, bonus string) (decimal.Decimal, decimal.Decimal, error) {
	m, err := decimal.NewFromString(multiplier)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse points multiplier: %w", err)
	}
	b, err := decimal.NewFromString(bonus)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse referral bonus: %w", err)
	}
	return m, b, nil
}

// findCustomer возвращает первого клиента по условию или nil, если такого нет.
func (r *PostgresRepository) findCustomer(ctx context.Context, where string, args ...any) (*model.Customer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+customerColumns+customerFrom+where+` ORDER BY c.registered_at LIMIT 1`, args...)

	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select customer: %w", err)
	}

	return c, nil
}

// CreateCustomer сохраняет нового клиента. Уникальность документа обеспечивается ограничением БД.
func (r *PostgresRepository) CreateCustomer(ctx context.Context, c *model.Customer) error {
	if c.Level == nil {
		return fmt.Errorf("create customer: %w", ErrNoLevels)
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO customers (id, document, first_name, last_name, email, phone, phone_digits, points,
		                        level_id, status, document_verified, email_verified, phone_verified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11, $12)
		 RETURNING registered_at, updated_at`,
		c.ID, c.Document, c.FirstName, c.LastName, c.Email, c.Phone, validation.NormalizePhone(c.Phone),
		c.Level.ID, string(c.Status), c.DocumentVerified, c.EmailVerified, c.PhoneVerified,
	).Scan(&c.RegisteredAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDocumentExists, c.Document)
		}
		return fmt.Errorf("insert customer: %w", err)
	}

	c.Points = 0
	return nil
}

// GetCustomer возвращает клиента по идентификатору.
func (r *PostgresRepository) GetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	c, err := r.findCustomer(ctx, `WHERE c.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCustomerNotFound
	}
	return c, nil
}

// FindCustomerByDocument ищет клиента по CPF. Возвращает nil, если клиента нет.
func (r *PostgresRepository) FindCustomerByDocument(ctx context.Context, document string) (*model.Customer, error) {
	return r.findCustomer(ctx, `WHERE c.document = $1`, validation.FormatCPF(document))
}

// FindCustomerByEmail ищет клиента с таким же email без учёта регистра среди клиентов
// с документом, отличным от excludeDocument.
func (r *PostgresRepository) FindCustomerByEmail(ctx context.Context, email, excludeDocument string) (*model.Customer, error) {
	return r.findCustomer(ctx, `WHERE LOWER(c.email) = $1 AND c.document <> $2`,
		validation.NormalizeEmail(email), validation.FormatCPF(excludeDocument))
}

// FindCustomerByPhone ищет клиента с таким же номером (по цифрам) среди клиентов
// с документом, отличным от excludeDocument.
func (r *PostgresRepository) FindCustomerByPhone(ctx context.Context, phone, excludeDocument string) (*model.Customer, error) {
	return r.findCustomer(ctx, `WHERE c.phone_digits = $1 AND c.document <> $2`,
		validation.NormalizePhone(phone), validation.FormatCPF(excludeDocument))
}

// UpdateCustomer применяет ручные изменения статуса и флагов верификации.
func (r *PostgresRepository) UpdateCustomer(ctx context.Context, id string, patch model.CustomerPatch) (*model.Customer, error) {
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE customers SET
		     status            = COALESCE($2, status),
		     document_verified = COALESCE($3, document_verified),
		     email_verified    = COALESCE($4, email_verified),
		     phone_verified    = COALESCE($5, phone_verified),
		     updated_at        = NOW()
		 WHERE id = $1`,
		id, status, patch.DocumentVerified, patch.EmailVerified, patch.PhoneVerified,
	)
	if err != nil {
		return nil, fmt.Errorf("update customer: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return nil, ErrCustomerNotFound
	}

	return r.GetCustomer(ctx, id)
}

// GetLevels возвращает уровни программы по возрастанию порядка.
func (r *PostgresRepository) GetLevels(ctx context.Context) ([]model.CustomerLevel, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, order_position, min_points, points_multiplier::text, referral_bonus::text
		 FROM customer_levels
		 ORDER BY order_position`,
	)
	if err != nil {
		return nil, fmt.Errorf("select levels: %w", err)
	}
	defer rows.Close()

	var levels []model.CustomerLevel
	for rows.Next() {
		var (
			l          model.CustomerLevel
			multiplier string
			bonus      string
		)
		if err := rows.Scan(&l.ID, &l.Name, &l.Order, &l.MinPoints, &multiplier, &bonus); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		if l.PointsMultiplier, l.ReferralBonus, err = parseLevelFactors(multiplier, bonus); err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return levels, nil
}

// AppendMovement записывает движение и изменяет баланс клиента в одной транзакции.
// Строка клиента блокируется, поэтому движения одного клиента выполняются последовательно.
// Возвращает новый баланс.
func (r *PostgresRepository) AppendMovement(ctx context.Context, m model.PointMovement) (int64, error) {
	var balance int64
	err := r.withRetry(ctx, func() error {
		var err error
		balance, err = r.appendMovement(ctx, m)
		return err
	})
	return balance, err
}

func (r *PostgresRepository) appendMovement(ctx context.Context, m model.PointMovement) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current int64
	err = tx.QueryRow(ctx, `SELECT points FROM customers WHERE id = $1 FOR UPDATE`, m.CustomerID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCustomerNotFound
		}
		return 0, fmt.Errorf("lock customer for update: %w", err)
	}

	if m.CouponCode != "" {
		var movementID *string
		err = tx.QueryRow(ctx, `SELECT movement_id FROM coupons WHERE code = $1 FOR UPDATE`, m.CouponCode).Scan(&movementID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, fmt.Errorf("%w: %s", ErrCouponNotFound, m.CouponCode)
			}
			return 0, fmt.Errorf("lock coupon for update: %w", err)
		}
		if movementID != nil {
			return 0, fmt.Errorf("%w: %s", ErrCouponAlreadyUsed, m.CouponCode)
		}
	}

	balance := current + m.Points
	if balance < 0 {
		return 0, ErrInsufficientPoints
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO point_movements (id, customer_id, branch_id, type, points, description, date, reference, coupon_code, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.CustomerID, m.BranchID, string(m.Type), m.Points, m.Description, m.Date,
		nullString(m.Reference), nullString(m.CouponCode), m.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert movement: %w", err)
	}

	if m.CouponCode != "" {
		_, err = tx.Exec(ctx,
			`UPDATE coupons SET movement_id = $2, used_at = $3 WHERE code = $1`,
			m.CouponCode, m.ID, m.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("bind coupon: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE customers SET points = $2, updated_at = NOW() WHERE id = $1`,
		m.CustomerID, balance,
	)
	if err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return balance, nil
}

// GetBalance возвращает сохранённый баланс клиента.
func (r *PostgresRepository) GetBalance(ctx context.Context, customerID string) (int64, error) {
	var points int64
	err := r.pool.QueryRow(ctx, `SELECT points FROM customers WHERE id = $1`, customerID).Scan(&points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCustomerNotFound
		}
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return points, nil
}

// SumMovements возвращает сумму всех движений клиента.
func (r *PostgresRepository) SumMovements(ctx context.Context, customerID string) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM point_movements WHERE customer_id = $1`,
		customerID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum movements: %w", err)
	}
	return sum, nil
}

// GetMovementsByCustomer возвращает журнал клиента, начиная с последних движений.
func (r *PostgresRepository) GetMovementsByCustomer(ctx context.Context, customerID string) ([]model.PointMovement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, customer_id, branch_id, type, points, description, date,
		        COALESCE(reference, ''), COALESCE(coupon_code, ''), created_at
		 FROM point_movements
		 WHERE customer_id = $1
		 ORDER BY date DESC, id DESC`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	defer rows.Close()

	var res []model.PointMovement
	for rows.Next() {
		var (
			m            model.PointMovement
			movementType string
		)
		if err := rows.Scan(&m.ID, &m.CustomerID, &m.BranchID, &movementType, &m.Points, &m.Description, &m.Date,
			&m.Reference, &m.CouponCode, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		m.Type = model.MovementType(movementType)
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SaveCoupon сохраняет выпущенный купон. Повтор кода отклоняется ограничением уникальности.
func (r *PostgresRepository) SaveCoupon(ctx context.Context, c model.Coupon) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO coupons (code, kind, issued_at) VALUES ($1, $2, $3)`,
		c.Code, string(c.Kind), c.IssuedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrCouponExists, c.Code)
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// GetCoupon возвращает купон по коду.
func (r *PostgresRepository) GetCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	var (
		c          model.Coupon
		kind       string
		movementID *string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT code, kind, issued_at, movement_id, used_at FROM coupons WHERE code = $1`,
		code,
	).Scan(&c.Code, &kind, &c.IssuedAt, &movementID, &c.UsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("select coupon: %w", err)
	}

	c.Kind = model.CouponKind(kind)
	if movementID != nil {
		c.MovementID = *movementID
	}

	return &c, nil
}

// DiscardCoupon удаляет купон, ещё не привязанный к движению. Привязанные купоны
// остаются в журнале навсегда.
func (r *PostgresRepository) DiscardCoupon(ctx context.Context, code string) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM coupons WHERE code = $1 AND movement_id IS NULL`, code)
	if err != nil {
		return fmt.Errorf("delete coupon: %w", err)
	}
	if cmdTag.RowsAffected() > 0 {
		return nil
	}

	if _, err := r.GetCoupon(ctx, code); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrCouponAlreadyUsed, code)
}

// EnsureSettings сохраняет настройки по умолчанию, если настройки ещё не заданы.
func (r *PostgresRepository) EnsureSettings(ctx context.Context, defaults model.ProgramSettings) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO program_settings (id, allow_duplicate_email, allow_duplicate_phone, points_per_real,
		                               min_purchase_value, expiration_enabled, expiration_days)
		 VALUES (1, $1, $2, $3::text::numeric, $4::text::numeric, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		defaults.Policy.AllowDuplicateEmail, defaults.Policy.AllowDuplicatePhone,
		defaults.PointsPerReal.String(), defaults.MinPurchaseValue.String(),
		defaults.Expiration.Enabled, defaults.Expiration.Days,
	)
	if err != nil {
		return fmt.Errorf("insert default settings: %w", err)
	}
	return nil
}

// GetSettings возвращает текущие настройки программы.
func (r *PostgresRepository) GetSettings(ctx context.Context) (model.ProgramSettings, error) {
	var (
		s              model.ProgramSettings
		pointsPerReal  string
		minPurchaseVal string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT allow_duplicate_email, allow_duplicate_phone, points_per_real::text, min_purchase_value::text,
		        expiration_enabled, expiration_days
		 FROM program_settings WHERE id = 1`,
	).Scan(&s.Policy.AllowDuplicateEmail, &s.Policy.AllowDuplicatePhone, &pointsPerReal, &minPurchaseVal,
		&s.Expiration.Enabled, &s.Expiration.Days)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, ErrSettingsNotFound
		}
		return s, fmt.Errorf("select settings: %w", err)
	}

	if s.PointsPerReal, err = decimal.NewFromString(pointsPerReal); err != nil {
		return s, fmt.Errorf("parse points per real: %w", err)
	}
	if s.MinPurchaseValue, err = decimal.NewFromString(minPurchaseVal); err != nil {
		return s, fmt.Errorf("parse min purchase value: %w", err)
	}

	return s, nil
}

// SaveSettings перезаписывает настройки программы.
func (r *PostgresRepository) SaveSettings(ctx context.Context, s model.ProgramSettings) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO program_settings (id, allow_duplicate_email, allow_duplicate_phone, points_per_real,
		                               min_purchase_value, expiration_enabled, expiration_days)
		 VALUES (1, $1, $2, $3::text::numeric, $4::text::numeric, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		     allow_duplicate_email = EXCLUDED.allow_duplicate_email,
		     allow_duplicate_phone = EXCLUDED.allow_duplicate_phone,
		     points_per_real       = EXCLUDED.points_per_real,
		     min_purchase_value    = EXCLUDED.min_purchase_value,
		     expiration_enabled    = EXCLUDED.expiration_enabled,
		     expiration_days       = EXCLUDED.expiration_days`,
		s.Policy.AllowDuplicateEmail, s.Policy.AllowDuplicatePhone,
		s.PointsPerReal.String(), s.MinPurchaseValue.String(),
		s.Expiration.Enabled, s.Expiration.Days,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// CreateOperator создаёт нового оператора бэк-офиса.
func (r *PostgresRepository) CreateOperator(ctx context.Context, login string, passwordHash []byte, branchID string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO operators (login, password_hash, branch_id) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, branchID,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrOperatorExists, login)
		}
		return 0, fmt.Errorf("create operator: %w", err)
	}
	return id, nil
}

// GetOperatorByLogin возвращает оператора по логину.
func (r *PostgresRepository) GetOperatorByLogin(ctx context.Context, login string) (*model.Operator, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, branch_id, created_at FROM operators WHERE login = $1`,
		login,
	)

	var o model.Operator
	err := row.Scan(&o.ID, &o.Login, &o.PasswordHash, &o.BranchID, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOperatorNotFound
		}
		return nil, fmt.Errorf("get operator: %w", err)
	}

	return &o, nil
}

// GetCustomersForExpiration возвращает клиентов с положительным балансом, у которых не было
// начислений начиная с cutoff. Клиенты упорядочены по идентификатору, afterID задаёт
// начало страницы.
func (r *PostgresRepository) GetCustomersForExpiration(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]model.ExpirationCandidate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.points
		 FROM customers c
		 WHERE c.points > 0
		   AND c.id > $2
		   AND NOT EXISTS (
		       SELECT 1 FROM point_movements m
		       WHERE m.customer_id = c.id AND m.points > 0 AND m.date >= $1
		   )
		 ORDER BY c.id
		 LIMIT $3`,
		cutoff, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select customers for expiration: %w", err)
	}
	defer rows.Close()

	var res []model.ExpirationCandidate
	for rows.Next() {
		var c model.ExpirationCandidate
		if err := rows.Scan(&c.CustomerID, &c.Points); err != nil {
			return nil, fmt.Errorf("scan expiration candidate: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
