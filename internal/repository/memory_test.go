package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/cashback-core/internal/model"
)

func newTestCustomer(t *testing.T, repo *MemoryRepository, id, document, email, phone string) *model.Customer {
	t.Helper()

	levels, err := repo.GetLevels(context.Background())
	require.NoError(t, err)

	c := &model.Customer{
		ID:       id,
		Document: document,
		Email:    email,
		Phone:    phone,
		Status:   model.CustomerStatusActive,
		Level:    &levels[0],
	}
	require.NoError(t, repo.CreateCustomer(context.Background(), c))
	return c
}

func movement(id, customerID string, points int64) model.PointMovement {
	now := time.Now().UTC()
	return model.PointMovement{
		ID:         id,
		CustomerID: customerID,
		BranchID:   "loja-01",
		Type:       model.MovementAdminAdjust,
		Points:     points,
		Date:       now,
		CreatedAt:  now,
	}
}

func TestMemoryRepository_CreateCustomerDuplicateDocument(t *testing.T) {
	repo := NewMemoryRepository()
	newTestCustomer(t, repo, "c1", "111.444.777-35", "ana@example.com", "")

	err := repo.CreateCustomer(context.Background(), &model.Customer{
		ID:       "c2",
		Document: "111.444.777-35",
		Level:    &DefaultLevels()[0],
	})
	require.ErrorIs(t, err, ErrDocumentExists)
}

func TestMemoryRepository_FindByEmailAndPhone(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	newTestCustomer(t, repo, "c1", "111.444.777-35", "Ana@Example.com", "(11) 98765-4321")

	tests := []struct {
		name    string
		find    func() (*model.Customer, error)
		wantHit bool
	}{
		{
			name: "email case insensitive",
			find: func() (*model.Customer, error) {
				return repo.FindCustomerByEmail(ctx, "ana@EXAMPLE.com", "529.982.247-25")
			},
			wantHit: true,
		},
		{
			name: "email excluded by own document",
			find: func() (*model.Customer, error) {
				return repo.FindCustomerByEmail(ctx, "ana@example.com", "11144477735")
			},
			wantHit: false,
		},
		{
			name: "phone by digits",
			find: func() (*model.Customer, error) {
				return repo.FindCustomerByPhone(ctx, "11987654321", "529.982.247-25")
			},
			wantHit: true,
		},
		{
			name: "phone not found",
			find: func() (*model.Customer, error) {
				return repo.FindCustomerByPhone(ctx, "11900000000", "")
			},
			wantHit: false,
		},
		{
			name: "document unformatted",
			find: func() (*model.Customer, error) {
				return repo.FindCustomerByDocument(ctx, "11144477735")
			},
			wantHit: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.find()
			require.NoError(t, err)
			if tt.wantHit {
				require.NotNil(t, c)
				assert.Equal(t, "c1", c.ID)
			} else {
				assert.Nil(t, c)
			}
		})
	}
}

func TestMemoryRepository_AppendMovementKeepsBalance(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	newTestCustomer(t, repo, "c1", "111.444.777-35", "", "")

	for i, p := range []int64{250, -100, 50} {
		_, err := repo.AppendMovement(ctx, movement(fmt.Sprintf("m%d", i), "c1", p))
		require.NoError(t, err)
	}

	balance, err := repo.GetBalance(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance)

	sum, err := repo.SumMovements(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, balance, sum)
}

func TestMemoryRepository_AppendMovementFailureLeavesStateUntouched(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	newTestCustomer(t, repo, "c1", "111.444.777-35", "", "")

	_, err := repo.AppendMovement(ctx, movement("m1", "c1", 100))
	require.NoError(t, err)

	require.NoError(t, repo.SaveCoupon(ctx, model.Coupon{Code: "ON-ABCDEFGH-123456", Kind: model.CouponOnline}))

	tests := []struct {
		name    string
		mv      model.PointMovement
		wantErr error
	}{
		{
			name:    "insufficient points",
			mv:      movement("m2", "c1", -101),
			wantErr: ErrInsufficientPoints,
		},
		{
			name: "unknown coupon",
			mv: func() model.PointMovement {
				m := movement("m3", "c1", -10)
				m.CouponCode = "ON-ZZZZZZZZ-ZZZZZZ"
				return m
			}(),
			wantErr: ErrCouponNotFound,
		},
		{
			name: "coupon with insufficient points",
			mv: func() model.PointMovement {
				m := movement("m4", "c1", -500)
				m.CouponCode = "ON-ABCDEFGH-123456"
				return m
			}(),
			wantErr: ErrInsufficientPoints,
		},
		{
			name:    "unknown customer",
			mv:      movement("m5", "nobody", 10),
			wantErr: ErrCustomerNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.AppendMovement(ctx, tt.mv)
			require.ErrorIs(t, err, tt.wantErr)

			balance, err := repo.GetBalance(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, int64(100), balance)

			movements, err := repo.GetMovementsByCustomer(ctx, "c1")
			require.NoError(t, err)
			assert.Len(t, movements, 1)

			coupon, err := repo.GetCoupon(ctx, "ON-ABCDEFGH-123456")
			require.NoError(t, err)
			assert.False(t, coupon.Used())
		})
	}
}

func TestMemoryRepository_CouponBoundOnce(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	newTestCustomer(t, repo, "c1", "111.444.777-35", "", "")

	_, err := repo.AppendMovement(ctx, movement("m1", "c1", 100))
	require.NoError(t, err)
	require.NoError(t, repo.SaveCoupon(ctx, model.Coupon{Code: "OF-ABCDEFGH-123456", Kind: model.CouponOffline}))

	redeem := movement("m2", "c1", -40)
	redeem.Type = model.MovementRedeem
	redeem.CouponCode = "OF-ABCDEFGH-123456"

	balance, err := repo.AppendMovement(ctx, redeem)
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)

	coupon, err := repo.GetCoupon(ctx, "OF-ABCDEFGH-123456")
	require.NoError(t, err)
	assert.Equal(t, "m2", coupon.MovementID)
	require.NotNil(t, coupon.UsedAt)

	redeem.ID = "m3"
	_, err = repo.AppendMovement(ctx, redeem)
	require.ErrorIs(t, err, ErrCouponAlreadyUsed)

	err = repo.SaveCoupon(ctx, model.Coupon{Code: "OF-ABCDEFGH-123456", Kind: model.CouponOffline})
	require.ErrorIs(t, err, ErrCouponExists)
}

func TestMemoryRepository_DiscardCoupon(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	newTestCustomer(t, repo, "c1", "111.444.777-35", "", "")

	_, err := repo.AppendMovement(ctx, movement("m1", "c1", 100))
	require.NoError(t, err)
	require.NoError(t, repo.SaveCoupon(ctx, model.Coupon{Code: "ON-AAAAAAAA-111111", Kind: model.CouponOnline}))
	require.NoError(t, repo.SaveCoupon(ctx, model.Coupon{Code: "ON-AAAAAAAA-222222", Kind: model.CouponOnline}))

	redeem := movement("m2", "c1", -10)
	redeem.Type = model.MovementRedeem
	redeem.CouponCode = "ON-AAAAAAAA-222222"
	_, err = repo.AppendMovement(ctx, redeem)
	require.NoError(t, err)

	require.NoError(t, repo.DiscardCoupon(ctx, "ON-AAAAAAAA-111111"))
	_, err = repo.GetCoupon(ctx, "ON-AAAAAAAA-111111")
	require.ErrorIs(t, err, ErrCouponNotFound)

	require.ErrorIs(t, repo.DiscardCoupon(ctx, "ON-AAAAAAAA-222222"), ErrCouponAlreadyUsed)
	require.ErrorIs(t, repo.DiscardCoupon(ctx, "ON-AAAAAAAA-333333"), ErrCouponNotFound)

	bound, err := repo.GetCoupon(ctx, "ON-AAAAAAAA-222222")
	require.NoError(t, err)
	assert.Equal(t, "m2", bound.MovementID)
}

func TestMemoryRepository_MovementsNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	newTestCustomer(t, repo, "c1", "111.444.777-35", "", "")

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		mv := movement(fmt.Sprintf("m%d", i), "c1", 10)
		mv.Date = base.Add(time.Duration(i) * time.Hour)
		_, err := repo.AppendMovement(ctx, mv)
		require.NoError(t, err)
	}

	movements, err := repo.GetMovementsByCustomer(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, movements, 3)
	assert.Equal(t, "m2", movements[0].ID)
	assert.Equal(t, "m0", movements[2].ID)
}

func TestMemoryRepository_ConcurrentAppends(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	newTestCustomer(t, repo, "c1", "111.444.777-35", "", "")

	_, err := repo.AppendMovement(ctx, movement("seed", "c1", 100))
	require.NoError(t, err)

	const workers = 50

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.AppendMovement(ctx, movement(fmt.Sprintf("w%d", i), "c1", -10))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientPoints):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, workers-10, insufficient)

	balance, err := repo.GetBalance(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	sum, err := repo.SumMovements(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, balance, sum)
}

func TestMemoryRepository_UpdateCustomer(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	newTestCustomer(t, repo, "c1", "111.444.777-35", "", "")

	inactive := model.CustomerStatusInactive
	verified := true

	c, err := repo.UpdateCustomer(ctx, "c1", model.CustomerPatch{Status: &inactive, EmailVerified: &verified})
	require.NoError(t, err)
	assert.Equal(t, model.CustomerStatusInactive, c.Status)
	assert.True(t, c.EmailVerified)
	assert.False(t, c.PhoneVerified)

	_, err = repo.UpdateCustomer(ctx, "missing", model.CustomerPatch{})
	require.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestMemoryRepository_CustomersForExpiration(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	newTestCustomer(t, repo, "old", "111.444.777-35", "", "")
	newTestCustomer(t, repo, "fresh", "529.982.247-25", "", "")
	newTestCustomer(t, repo, "empty", "390.533.447-05", "", "")

	now := time.Now().UTC()

	stale := movement("m1", "old", 100)
	stale.Date = now.AddDate(0, 0, -400)
	_, err := repo.AppendMovement(ctx, stale)
	require.NoError(t, err)

	_, err = repo.AppendMovement(ctx, movement("m2", "fresh", 100))
	require.NoError(t, err)

	candidates, err := repo.GetCustomersForExpiration(ctx, now.AddDate(0, 0, -365), "", 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, model.ExpirationCandidate{CustomerID: "old", Points: 100}, candidates[0])

	candidates, err = repo.GetCustomersForExpiration(ctx, now.AddDate(0, 0, -365), "old", 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestMemoryRepository_CustomersForExpirationPages(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	cutoff := time.Now().UTC().AddDate(0, 0, -30)

	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		newTestCustomer(t, repo, id, "doc-"+id, "", "")

		mv := movement("m-"+id, id, 10)
		mv.Date = cutoff.AddDate(0, 0, -1)
		_, err := repo.AppendMovement(ctx, mv)
		require.NoError(t, err)
	}

	var (
		seen    []string
		afterID string
	)
	for {
		page, err := repo.GetCustomersForExpiration(ctx, cutoff, afterID, 2)
		require.NoError(t, err)
		for _, c := range page {
			seen = append(seen, c.CustomerID)
		}
		if len(page) < 2 {
			break
		}
		afterID = page[len(page)-1].CustomerID
	}

	assert.Equal(t, []string{"c1", "c2", "c3", "c4", "c5"}, seen)
}

func TestMemoryRepository_Settings(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, err := repo.GetSettings(ctx)
	require.ErrorIs(t, err, ErrSettingsNotFound)

	defaults := model.ProgramSettings{Policy: model.DuplicatePolicy{AllowDuplicateEmail: true}}
	require.NoError(t, repo.EnsureSettings(ctx, defaults))
	require.NoError(t, repo.EnsureSettings(ctx, model.ProgramSettings{}))

	s, err := repo.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, s.Policy.AllowDuplicateEmail)
}
