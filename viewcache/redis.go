package viewcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"petsoft/models"
)

const keyPrefix = "petsoft:pets:"

// NewRedisClient creates and pings a Redis client.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// Redis stores pet lists as JSON under one key per user.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func (c *Redis) Pets(ctx context.Context, userID string) ([]models.Pet, bool, error) {
	raw, err := c.rdb.Get(ctx, keyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached pets: %w", err)
	}

	var pets []models.Pet
	if err := json.Unmarshal(raw, &pets); err != nil {
		return nil, false, fmt.Errorf("decode cached pets: %w", err)
	}
	return pets, true, nil
}

func (c *Redis) StorePets(ctx context.Context, userID string, pets []models.Pet) error {
	if pets == nil {
		pets = []models.Pet{}
	}
	raw, err := json.Marshal(pets)
	if err != nil {
		return fmt.Errorf("encode pets: %w", err)
	}
	if err := c.rdb.Set(ctx, keyPrefix+userID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache pets: %w", err)
	}
	return nil
}

func (c *Redis) Invalidate(ctx context.Context, userID string) error {
	if err := c.rdb.Del(ctx, keyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("invalidate pets: %w", err)
	}
	return nil
}
