package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-guard/internal/config"
	"novel-guard/internal/guard"
	"novel-guard/internal/messaging"
	"novel-guard/internal/model"
	"novel-guard/internal/repository"
	"novel-guard/internal/service"
	"novel-guard/internal/stream"
)

// Размер буфера между продюсером стрима и охранником. Небольшой буфер
// сглаживает неровный темп чанков, не позволяя модели убежать далеко
// вперед после решения "stop".
const sourceBuffer = 16

// TaskHandler обрабатывает задачи охраняемой генерации сцен.
type TaskHandler struct {
	cfg        *config.Config
	aiClient   service.AIClient
	resultRepo repository.ResultRepository
	cache      repository.ResultCache
	notifier   service.Notifier
	rules      *guard.RuleTable
	logger     *zap.Logger
}

// NewTaskHandler создает новый экземпляр обработчика задач.
// cache может быть nil - тогда результаты не кэшируются.
func NewTaskHandler(
	cfg *config.Config,
	aiClient service.AIClient,
	resultRepo repository.ResultRepository,
	cache repository.ResultCache,
	notifier service.Notifier,
	rules *guard.RuleTable,
	logger *zap.Logger,
) *TaskHandler {
	return &TaskHandler{
		cfg:        cfg,
		aiClient:   aiClient,
		resultRepo: resultRepo,
		cache:      cache,
		notifier:   notifier,
		rules:      rules,
		logger:     logger.Named("TaskHandler"),
	}
}

// Handle обрабатывает одну задачу охраняемой генерации: поднимает машину
// охраны, прокачивает через нее стрим AI и сохраняет итоговую запись.
func (h *TaskHandler) Handle(ctx context.Context, payload messaging.GuardTaskPayload) (err error) {
	MetricsIncrementTasksReceived()
	taskStartTime := time.Now()

	taskID := payload.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	log := h.logger.With(
		zap.String("taskID", taskID),
		zap.String("userID", payload.UserID),
		zap.String("sceneID", payload.SceneID),
	)
	log.Info("Обработка задачи охраняемой генерации",
		zap.String("policy", payload.Policy),
		zap.Int("targetLength", payload.Scene.TargetLength))

	defer func() {
		duration := time.Since(taskStartTime)
		MetricsRecordTaskProcessingDuration(duration)
		if pushErr := PushMetricsNow(); pushErr != nil {
			log.Warn("Не удалось отправить метрики в конце задачи", zap.Error(pushErr))
		}
		log.Info("Завершение обработки задачи",
			zap.Duration("duration", duration),
			zap.Bool("failed", err != nil))
	}()

	if payload.ScenePrompt == "" {
		MetricsIncrementTaskFailed("scene_prompt_empty")
		processingErr := fmt.Errorf("ошибка валидации: scenePrompt пуст")
		return h.saveAndNotify(ctx, taskID, payload, model.GuardResult{}, service.UsageInfo{}, processingErr, taskStartTime)
	}

	machine := guard.NewMachine(payload.Scene, h.resolvePolicy(payload.Policy),
		guard.WithRules(h.rules),
		guard.WithLogger(log),
	)

	sessionCtx, cancel := context.WithTimeout(ctx, h.cfg.SessionTimeout)
	defer cancel()

	// Продюсер: стрим AI пишет чанки в PushSource; возврат ошибки из
	// хендлера прерывает стрим на стороне клиента.
	source := stream.NewPushSource(sourceBuffer)
	usageCh := make(chan service.UsageInfo, 1)
	go func() {
		usage, streamErr := h.aiClient.GenerateTextStream(
			sessionCtx,
			payload.UserID,
			payload.SystemPrompt,
			payload.ScenePrompt,
			service.GenerationParams{},
			source.Handler(),
		)
		usageCh <- usage
		if streamErr != nil && !errors.Is(streamErr, model.ErrSessionTerminated) {
			source.Fail(streamErr)
			return
		}
		source.Close()
	}()

	adapter := stream.NewAdapter(machine, source, nil, log)
	result, runErr := adapter.Run(sessionCtx)

	// Дожидаемся продюсера: после Stop хендлер вернет ошибку и стрим
	// завершится, usage приходит всегда.
	usage := <-usageCh

	var processingErr error
	if runErr != nil {
		log.Error("Сессия генерации завершилась ошибкой источника", zap.Error(runErr))
		MetricsIncrementTaskFailed("ai_stream_error")
		processingErr = runErr
	}

	return h.saveAndNotify(ctx, taskID, payload, result, usage, processingErr, taskStartTime)
}

func (h *TaskHandler) resolvePolicy(policy string) model.GuardPolicy {
	if policy == "" {
		policy = h.cfg.DefaultPolicy
	}
	if policy == string(model.PolicyStrict) {
		return model.PolicyStrict
	}
	return model.PolicyLenient
}

// saveAndNotify сохраняет запись сессии в БД/кэш и отправляет уведомление.
func (h *TaskHandler) saveAndNotify(
	ctx context.Context,
	taskID string,
	payload messaging.GuardTaskPayload,
	result model.GuardResult,
	usage service.UsageInfo,
	processingErr error,
	createdAt time.Time,
) error {
	completedAt := time.Now()

	errorDetails := ""
	if processingErr != nil {
		errorDetails = processingErr.Error()
	}

	record := &model.SessionRecord{
		ID:                  taskID,
		UserID:              payload.UserID,
		SceneID:             payload.SceneID,
		Policy:              h.resolvePolicy(payload.Policy),
		Text:                result.Text,
		WasTerminated:       result.WasTerminated,
		TerminationReason:   result.TerminationReason,
		EndConditionReached: result.EndConditionReached,
		Violations:          result.Violations,
		Error:               errorDetails,
		PromptTokens:        usage.PromptTokens,
		CompletionTokens:    usage.CompletionTokens,
		ProcessingTimeMs:    completedAt.Sub(createdAt).Milliseconds(),
		CreatedAt:           createdAt,
		CompletedAt:         completedAt,
	}

	saveErr := h.resultRepo.Save(ctx, record)
	if saveErr != nil {
		MetricsIncrementTaskFailed("save_error")
		if errorDetails == "" {
			errorDetails = fmt.Sprintf("ошибка сохранения результата: %v", saveErr)
		} else {
			errorDetails = fmt.Sprintf("ошибка обработки: %s; ошибка сохранения: %v", errorDetails, saveErr)
		}
	} else if h.cache != nil {
		// Промах кэша не фатален: API дочитает из БД
		if cacheErr := h.cache.Set(ctx, record); cacheErr != nil {
			h.logger.Warn("Не удалось закэшировать результат",
				zap.String("taskID", taskID), zap.Error(cacheErr))
		}
	}

	status := messaging.NotificationStatusSuccess
	if processingErr != nil || saveErr != nil {
		status = messaging.NotificationStatusError
	}

	notification := messaging.NotificationPayload{
		TaskID:              taskID,
		UserID:              payload.UserID,
		SceneID:             payload.SceneID,
		Status:              status,
		GeneratedText:       result.Text,
		WasTerminated:       result.WasTerminated,
		TerminationReason:   result.TerminationReason,
		EndConditionReached: result.EndConditionReached,
		ViolationCount:      len(result.Violations),
		ErrorDetails:        errorDetails,
	}

	notifyErr := h.notifier.Notify(ctx, notification)
	if notifyErr != nil {
		MetricsIncrementTaskFailed("notify_error")
		if saveErr != nil {
			return fmt.Errorf("ошибка сохранения (%w) и отправки уведомления (%w)", saveErr, notifyErr)
		}
		return fmt.Errorf("ошибка отправки уведомления: %w", notifyErr)
	}

	if saveErr != nil {
		return fmt.Errorf("ошибка сохранения результата в БД: %w", saveErr)
	}
	if processingErr != nil {
		return processingErr
	}

	MetricsIncrementTaskSucceeded()
	return nil
}
