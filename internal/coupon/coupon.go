// Package coupon выпускает уникальные коды погашения баллов.
//
// Формат кода: PREFIX-TIMESTAMP-RANDOM, где PREFIX равен ON или OF, TIMESTAMP содержит время выпуска
// в миллисекундах в системе счисления 36, а RANDOM состоит из шести символов [A-Z0-9].
// Окончательную уникальность обеспечивает хранилище купонов.
package coupon

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/cashback-core/internal/model"
	"github.com/mmeshcher/cashback-core/internal/repository"
)

const (
	prefixOnline  = "ON"
	prefixOffline = "OF"

	alphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	randomLength = 6

	// maxAttempts ограничивает число перегенераций одного кода.
	maxAttempts = 16
	// MaxBatch задаёт наибольший размер пакета за один вызов.
	MaxBatch = 10000
)

var (
	// ErrIssueExhausted возвращается, если не удалось подобрать свободный код.
	ErrIssueExhausted = errors.New("coupon issue attempts exhausted")
	// ErrUnknownKind возвращается для неизвестного типа купона.
	ErrUnknownKind = errors.New("unknown coupon kind")
	// ErrInvalidCount возвращается для недопустимого размера пакета.
	ErrInvalidCount = errors.New("invalid coupon batch size")
)

var codePattern = regexp.MustCompile(`^(ON|OF)-([A-Z0-9]{8})-[A-Z0-9]{6}$`)

// Store сохраняет выпущенные купоны. SaveCoupon должен возвращать repository.ErrCouponExists
// для уже существующего кода.
type Store interface {
	SaveCoupon(ctx context.Context, c model.Coupon) error
	GetCoupon(ctx context.Context, code string) (*model.Coupon, error)
}

// Reserver предварительно резервирует код между экземплярами сервиса.
// Reserve возвращает false, если код уже кем-то зарезервирован.
type Reserver interface {
	Reserve(ctx context.Context, code string) (bool, error)
}

// Info описывает результат разбора кода купона.
type Info struct {
	Kind      model.CouponKind
	Timestamp time.Time
	Valid     bool
}

// Issuer выпускает купоны.
type Issuer struct {
	store    Store
	reserver Reserver
	now      func() time.Time
	random   func() (string, error)
}

// Option настраивает Issuer.
type Option func(*Issuer)

// WithReserver подключает распределённое резервирование кодов.
func WithReserver(r Reserver) Option {
	return func(i *Issuer) {
		i.reserver = r
	}
}

// NewIssuer создаёт эмитент купонов поверх хранилища.
func NewIssuer(store Store, opts ...Option) *Issuer {
	i := &Issuer{
		store:  store,
		now:    time.Now,
		random: randomPart,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue выпускает один купон.
func (i *Issuer) Issue(ctx context.Context, kind model.CouponKind) (string, error) {
	codes, err := i.IssueBatch(ctx, kind, 1)
	if err != nil {
		return "", err
	}
	return codes[0], nil
}

// IssueBatch выпускает count попарно различных купонов.
func (i *Issuer) IssueBatch(ctx context.Context, kind model.CouponKind, count int) ([]string, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if count <= 0 || count > MaxBatch {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}

	seen := make(map[string]struct{}, count)
	codes := make([]string, 0, count)

	for len(codes) < count {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		code, err := i.issueOne(ctx, kind, seen)
		if err != nil {
			return nil, err
		}

		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	return codes, nil
}

func (i *Issuer) issueOne(ctx context.Context, kind model.CouponKind, seen map[string]struct{}) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		issuedAt := i.now().UTC()

		code, err := i.generate(kind, issuedAt)
		if err != nil {
			return "", err
		}

		if _, dup := seen[code]; dup {
			continue
		}

		if i.reserver != nil {
			ok, err := i.reserver.Reserve(ctx, code)
			if err != nil {
				return "", fmt.Errorf("reserve coupon: %w", err)
			}
			if !ok {
				continue
			}
		}

		err = i.store.SaveCoupon(ctx, model.Coupon{Code: code, Kind: kind, IssuedAt: issuedAt})
		if errors.Is(err, repository.ErrCouponExists) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("save coupon: %w", err)
		}

		return code, nil
	}

	return "", ErrIssueExhausted
}

func (i *Issuer) generate(kind model.CouponKind, at time.Time) (string, error) {
	random, err := i.random()
	if err != nil {
		return "", fmt.Errorf("generate random part: %w", err)
	}

	prefix := prefixOffline
	if kind == model.CouponOnline {
		prefix = prefixOnline
	}

	ts := strings.ToUpper(strconv.FormatInt(at.UnixMilli(), 36))

	return prefix + "-" + ts + "-" + random, nil
}

// Get возвращает сохранённый купон.
func (i *Issuer) Get(ctx context.Context, code string) (*model.Coupon, error) {
	return i.store.GetCoupon(ctx, code)
}

// Parse разбирает код купона. Некорректный код возвращает Info с Valid == false.
func Parse(code string) Info {
	m := codePattern.FindStringSubmatch(code)
	if m == nil {
		return Info{}
	}

	ms, err := strconv.ParseInt(m[2], 36, 64)
	if err != nil {
		return Info{}
	}

	kind := model.CouponOffline
	if m[1] == prefixOnline {
		kind = model.CouponOnline
	}

	return Info{
		Kind:      kind,
		Timestamp: time.UnixMilli(ms).UTC(),
		Valid:     true,
	}
}

func randomPart() (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, randomLength)

	for j := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[j] = alphabet[n.Int64()]
	}

	return string(buf), nil
}
