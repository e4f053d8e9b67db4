package coupon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/cashback-core/internal/model"
	"github.com/mmeshcher/cashback-core/internal/repository"
)

type stubReserver struct {
	reserved map[string]bool
	err      error
}

func (s *stubReserver) Reserve(_ context.Context, code string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.reserved[code] {
		return false, nil
	}
	s.reserved[code] = true
	return true, nil
}

func sequence(parts ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		p := parts[i%len(parts)]
		i++
		return p, nil
	}
}

func TestIssueBatch_DistinctAndParseable(t *testing.T) {
	repo := repository.NewMemoryRepository()
	issuer := NewIssuer(repo)

	codes, err := issuer.IssueBatch(context.Background(), model.CouponOnline, 10000)
	require.NoError(t, err)
	require.Len(t, codes, 10000)

	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		_, dup := seen[code]
		require.False(t, dup, "duplicate code %s", code)
		seen[code] = struct{}{}

		info := Parse(code)
		require.True(t, info.Valid, code)
		assert.Equal(t, model.CouponOnline, info.Kind)
	}
}

func TestIssue_RoundTripTimestamp(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 10, 0, 0, 123_000_000, time.UTC)

	issuer := NewIssuer(repository.NewMemoryRepository())
	issuer.now = func() time.Time { return fixed }

	code, err := issuer.Issue(context.Background(), model.CouponOffline)
	require.NoError(t, err)
	assert.Regexp(t, `^OF-[A-Z0-9]{8}-[A-Z0-9]{6}$`, code)

	info := Parse(code)
	require.True(t, info.Valid)
	assert.Equal(t, model.CouponOffline, info.Kind)
	assert.True(t, info.Timestamp.Equal(fixed))

	stored, err := issuer.Get(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, model.CouponOffline, stored.Kind)
	assert.False(t, stored.Used())
}

func TestIssue_RegeneratesOnStoreCollision(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	repo := repository.NewMemoryRepository()

	first := NewIssuer(repo)
	first.now = func() time.Time { return fixed }
	first.random = sequence("AAAAAA")

	taken, err := first.Issue(context.Background(), model.CouponOnline)
	require.NoError(t, err)

	second := NewIssuer(repo)
	second.now = func() time.Time { return fixed }
	second.random = sequence("AAAAAA", "BBBBBB")

	code, err := second.Issue(context.Background(), model.CouponOnline)
	require.NoError(t, err)
	assert.NotEqual(t, taken, code)
	assert.Equal(t, "BBBBBB", code[len(code)-6:])
}

func TestIssueBatch_InBatchDuplicatesRegenerated(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	issuer := NewIssuer(repository.NewMemoryRepository())
	issuer.now = func() time.Time { return fixed }
	issuer.random = sequence("AAAAAA", "AAAAAA", "CCCCCC")

	codes, err := issuer.IssueBatch(context.Background(), model.CouponOffline, 2)
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.NotEqual(t, codes[0], codes[1])
}

func TestIssue_Exhausted(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	repo := repository.NewMemoryRepository()

	issuer := NewIssuer(repo)
	issuer.now = func() time.Time { return fixed }
	issuer.random = sequence("ZZZZZZ")

	_, err := issuer.Issue(context.Background(), model.CouponOnline)
	require.NoError(t, err)

	_, err = issuer.Issue(context.Background(), model.CouponOnline)
	require.ErrorIs(t, err, ErrIssueExhausted)
}

func TestIssue_Reserver(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	reserver := &stubReserver{reserved: map[string]bool{}}

	issuer := NewIssuer(repository.NewMemoryRepository(), WithReserver(reserver))
	issuer.now = func() time.Time { return fixed }
	issuer.random = sequence("AAAAAA", "DDDDDD")

	first, err := issuer.Issue(context.Background(), model.CouponOnline)
	require.NoError(t, err)
	assert.True(t, reserver.reserved[first])

	// второй эмитент с другим хранилищем видит резерв и перегенерирует код
	other := NewIssuer(repository.NewMemoryRepository(), WithReserver(reserver))
	other.now = func() time.Time { return fixed }
	other.random = sequence("AAAAAA", "EEEEEE")

	second, err := other.Issue(context.Background(), model.CouponOnline)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	reserver.err = errors.New("redis down")
	_, err = other.Issue(context.Background(), model.CouponOnline)
	require.Error(t, err)
}

func TestIssueBatch_InvalidArguments(t *testing.T) {
	issuer := NewIssuer(repository.NewMemoryRepository())

	_, err := issuer.IssueBatch(context.Background(), "paper", 1)
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = issuer.IssueBatch(context.Background(), model.CouponOnline, 0)
	require.ErrorIs(t, err, ErrInvalidCount)

	_, err = issuer.IssueBatch(context.Background(), model.CouponOnline, MaxBatch+1)
	require.ErrorIs(t, err, ErrInvalidCount)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		wantValid bool
		wantKind  model.CouponKind
	}{
		{name: "online", code: "ON-LX2K9ZQA-7H3KD2", wantValid: true, wantKind: model.CouponOnline},
		{name: "offline", code: "OF-LX2K9ZQA-AAAAAA", wantValid: true, wantKind: model.CouponOffline},
		{name: "lowercase", code: "on-lx2k9zqa-7h3kd2"},
		{name: "unknown prefix", code: "XX-LX2K9ZQA-7H3KD2"},
		{name: "short timestamp", code: "ON-LX2K9ZQ-7H3KD2"},
		{name: "long random", code: "ON-LX2K9ZQA-7H3KD22"},
		{name: "empty", code: ""},
		{name: "garbage", code: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Parse(tt.code)
			assert.Equal(t, tt.wantValid, info.Valid)
			if tt.wantValid {
				assert.Equal(t, tt.wantKind, info.Kind)
				assert.False(t, info.Timestamp.IsZero())
			}
		})
	}
}
