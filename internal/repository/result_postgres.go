package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"novel-guard/internal/model"
)

const (
	saveSessionQuery = `
        INSERT INTO guard_results
        (id, user_id, scene_id, policy, final_text, was_terminated, termination_reason,
         end_condition_reached, violations, error, prompt_tokens, completion_tokens,
         processing_time_ms, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        ON CONFLICT (id) DO UPDATE SET
            final_text = EXCLUDED.final_text,
            was_terminated = EXCLUDED.was_terminated,
            termination_reason = EXCLUDED.termination_reason,
            end_condition_reached = EXCLUDED.end_condition_reached,
            violations = EXCLUDED.violations,
            error = EXCLUDED.error,
            prompt_tokens = EXCLUDED.prompt_tokens,
            completion_tokens = EXCLUDED.completion_tokens,
            processing_time_ms = EXCLUDED.processing_time_ms,
            completed_at = EXCLUDED.completed_at
    `
	getSessionByIDQuery = `
        SELECT id, user_id, scene_id, policy, final_text, was_terminated, termination_reason,
               end_condition_reached, violations, error, prompt_tokens, completion_tokens,
               processing_time_ms, created_at, completed_at
        FROM guard_results WHERE id = $1
    `
	listSessionsByUserQuery = `
        SELECT id, user_id, scene_id, policy, final_text, was_terminated, termination_reason,
               end_condition_reached, violations, error, prompt_tokens, completion_tokens,
               processing_time_ms, created_at, completed_at
        FROM guard_results WHERE user_id = $1
        ORDER BY created_at DESC LIMIT $2
    `
)

// postgresResultRepository реализует ResultRepository для PostgreSQL.
type postgresResultRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresResultRepository создает новый экземпляр репозитория для PostgreSQL.
func NewPostgresResultRepository(db *pgxpool.Pool, logger *zap.Logger) ResultRepository {
	return &postgresResultRepository{
		db:     db,
		logger: logger.Named("ResultRepo"),
	}
}

// Save сохраняет запись сессии в базу данных. Нарушения сериализуются в JSONB.
func (r *postgresResultRepository) Save(ctx context.Context, record *model.SessionRecord) error {
	violationsJSON, err := json.Marshal(record.Violations)
	if err != nil {
		return fmt.Errorf("ошибка сериализации нарушений для записи '%s': %w", record.ID, err)
	}

	_, err = r.db.Exec(ctx, saveSessionQuery,
		record.ID,
		record.UserID,
		record.SceneID,
		record.Policy,
		record.Text,
		record.WasTerminated,
		record.TerminationReason,
		record.EndConditionReached,
		violationsJSON,
		record.Error,
		record.PromptTokens,
		record.CompletionTokens,
		record.ProcessingTimeMs,
		record.CreatedAt,
		record.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Ошибка сохранения результата сессии",
			zap.String("taskID", record.ID), zap.Error(err))
		return fmt.Errorf("ошибка сохранения результата '%s' в БД: %w", record.ID, err)
	}

	r.logger.Debug("Результат сессии сохранен", zap.String("taskID", record.ID))
	return nil
}

// GetByID возвращает запись сессии по ее идентификатору.
func (r *postgresResultRepository) GetByID(ctx context.Context, id string) (*model.SessionRecord, error) {
	var record model.SessionRecord
	err := pgxscan.Get(ctx, r.db, &record, getSessionByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrResultNotFound
		}
		return nil, fmt.Errorf("ошибка чтения результата '%s': %w", id, err)
	}
	if err := decodeViolations(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByUser возвращает последние записи сессий пользователя.
func (r *postgresResultRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []*model.SessionRecord
	err := pgxscan.Select(ctx, r.db, &records, listSessionsByUserQuery, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения результатов пользователя '%s': %w", userID, err)
	}
	for _, record := range records {
		if err := decodeViolations(record); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func decodeViolations(record *model.SessionRecord) error {
	if len(record.ViolationsJSON) == 0 {
		return nil
	}
	if err := json.Unmarshal(record.ViolationsJSON, &record.Violations); err != nil {
		return fmt.Errorf("ошибка десериализации нарушений записи '%s': %w", record.ID, err)
	}
	return nil
}
