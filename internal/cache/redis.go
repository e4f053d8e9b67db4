// Package cache содержит клиент Redis и резервирование кодов купонов между экземплярами сервиса.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	couponKeyPrefix = "coupon:reserved:"
	// DefaultReservationTTL задаёт время жизни резерва кода купона.
	DefaultReservationTTL = 24 * time.Hour
)

// RedisConfig описывает подключение к Redis.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// NewRedisClient создаёт клиент Redis и проверяет соединение.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("no Redis address provided")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// CouponReserver резервирует коды купонов через SET NX.
type CouponReserver struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewCouponReserver создаёт резервирование кодов с указанным временем жизни.
func NewCouponReserver(client redis.Cmdable, ttl time.Duration) *CouponReserver {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &CouponReserver{client: client, ttl: ttl}
}

// Reserve возвращает true, если код зарезервирован этим вызовом.
func (r *CouponReserver) Reserve(ctx context.Context, code string) (bool, error) {
	ok, err := r.client.SetNX(ctx, reservationKey(code), time.Now().UTC().Format(time.RFC3339Nano), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx coupon reservation: %w", err)
	}
	return ok, nil
}

func reservationKey(code string) string {
	return couponKeyPrefix + code
}
