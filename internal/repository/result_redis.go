package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"novel-guard/internal/model"
)

// Compile-time check
var _ ResultCache = (*redisResultCache)(nil)

// redisResultCache кэширует записи сессий в Redis для быстрого чтения из API.
type redisResultCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisResultCache создает новый кэш результатов поверх Redis.
func NewRedisResultCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) ResultCache {
	return &redisResultCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("ResultCache"),
	}
}

func resultKey(id string) string {
	return fmt.Sprintf("guard_result:%s", id)
}

// Set кладет запись сессии в кэш с TTL.
func (c *redisResultCache) Set(ctx context.Context, record *model.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи '%s' для кэша: %w", record.ID, err)
	}
	if err := c.client.Set(ctx, resultKey(record.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Не удалось закэшировать результат сессии",
			zap.String("taskID", record.ID), zap.Error(err))
		return fmt.Errorf("ошибка записи результата '%s' в кэш: %w", record.ID, err)
	}
	return nil
}

// Get возвращает запись из кэша или model.ErrResultNotFound при промахе.
func (c *redisResultCache) Get(ctx context.Context, id string) (*model.SessionRecord, error) {
	data, err := c.client.Get(ctx, resultKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrResultNotFound
		}
		return nil, fmt.Errorf("ошибка чтения результата '%s' из кэша: %w", id, err)
	}
	var record model.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("ошибка десериализации записи '%s' из кэша: %w", id, err)
	}
	return &record, nil
}
