package repository

import (
	"context"

	"novel-guard/internal/model"
)

// ResultRepository определяет методы для работы с хранилищем результатов сессий.
type ResultRepository interface {
	Save(ctx context.Context, record *model.SessionRecord) error
	GetByID(ctx context.Context, id string) (*model.SessionRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.SessionRecord, error)
}

// ResultCache определяет кэш результатов для быстрого чтения из API.
type ResultCache interface {
	Set(ctx context.Context, record *model.SessionRecord) error
	Get(ctx context.Context, id string) (*model.SessionRecord, error)
}
