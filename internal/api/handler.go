package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-guard/internal/config"
	"novel-guard/internal/guard"
	"novel-guard/internal/model"
	"novel-guard/internal/repository"
	"novel-guard/internal/service"
	"novel-guard/internal/stream"
)

// APIHandler обрабатывает HTTP/WebSocket запросы охраняемой генерации.
type APIHandler struct {
	cfg        *config.Config
	aiClient   service.AIClient
	resultRepo repository.ResultRepository
	cache      repository.ResultCache
	rules      *guard.RuleTable
	logger     *zap.Logger
}

// NewAPIHandler создает новый экземпляр APIHandler.
func NewAPIHandler(
	cfg *config.Config,
	aiClient service.AIClient,
	resultRepo repository.ResultRepository,
	cache repository.ResultCache,
	rules *guard.RuleTable,
	logger *zap.Logger,
) *APIHandler {
	return &APIHandler{
		cfg:        cfg,
		aiClient:   aiClient,
		resultRepo: resultRepo,
		cache:      cache,
		rules:      rules,
		logger:     logger.Named("APIHandler"),
	}
}

// RegisterRoutes вешает маршруты API на роутер.
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/generate", h.handleGenerate)
		api.POST("/generate/stream", h.handleGenerateStream)
		api.GET("/generate/ws", h.handleGenerateWS)
		api.GET("/results/:id", h.handleGetResult)
		api.GET("/users/:id/results", h.handleListResults)
	}
}

// generateRequest - тело запроса на охраняемую генерацию.
type generateRequest struct {
	UserID       string                `json:"user_id"`
	SceneID      string                `json:"scene_id"`
	SystemPrompt string                `json:"system_prompt" binding:"required"`
	ScenePrompt  string                `json:"scene_prompt" binding:"required"`
	Scene        model.SceneDescriptor `json:"scene"`
	Policy       string                `json:"policy,omitempty"`
	Temperature  *float64              `json:"temperature,omitempty"`
	MaxTokens    *int                  `json:"max_tokens,omitempty"`
	TopP         *float64              `json:"top_p,omitempty"`
}

func (r *generateRequest) params() service.GenerationParams {
	return service.GenerationParams{
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
		TopP:        r.TopP,
	}
}

func (h *APIHandler) resolvePolicy(policy string) model.GuardPolicy {
	if policy == "" {
		policy = h.cfg.DefaultPolicy
	}
	if policy == string(model.PolicyStrict) {
		return model.PolicyStrict
	}
	return model.PolicyLenient
}

// runGuardSession прокачивает стрим AI через машину охраны; одобренные
// инкременты уходят в sink по мере поступления.
func (h *APIHandler) runGuardSession(ctx context.Context, req *generateRequest, sink stream.Sink, log *zap.Logger) (model.GuardResult, service.UsageInfo, error) {
	machine := guard.NewMachine(req.Scene, h.resolvePolicy(req.Policy),
		guard.WithRules(h.rules),
		guard.WithLogger(log),
	)

	sessionCtx, cancel := context.WithTimeout(ctx, h.cfg.SessionTimeout)
	defer cancel()

	source := stream.NewPushSource(16)
	usageCh := make(chan service.UsageInfo, 1)
	go func() {
		usage, streamErr := h.aiClient.GenerateTextStream(
			sessionCtx,
			req.UserID,
			req.SystemPrompt,
			req.ScenePrompt,
			req.params(),
			source.Handler(),
		)
		usageCh <- usage
		if streamErr != nil && !errors.Is(streamErr, model.ErrSessionTerminated) {
			source.Fail(streamErr)
			return
		}
		source.Close()
	}()

	adapter := stream.NewAdapter(machine, source, sink, log)
	result, err := adapter.Run(sessionCtx)
	usage := <-usageCh
	return result, usage, err
}

// persistResult сохраняет запись сессии в БД и кэш в фоне запроса.
func (h *APIHandler) persistResult(ctx context.Context, sessionID string, req *generateRequest, result model.GuardResult, usage service.UsageInfo, runErr error, startedAt time.Time) {
	errorDetails := ""
	if runErr != nil {
		errorDetails = runErr.Error()
	}
	completedAt := time.Now()
	record := &model.SessionRecord{
		ID:                  sessionID,
		UserID:              req.UserID,
		SceneID:             req.SceneID,
		Policy:              h.resolvePolicy(req.Policy),
		Text:                result.Text,
		WasTerminated:       result.WasTerminated,
		TerminationReason:   result.TerminationReason,
		EndConditionReached: result.EndConditionReached,
		Violations:          result.Violations,
		Error:               errorDetails,
		PromptTokens:        usage.PromptTokens,
		CompletionTokens:    usage.CompletionTokens,
		ProcessingTimeMs:    completedAt.Sub(startedAt).Milliseconds(),
		CreatedAt:           startedAt,
		CompletedAt:         completedAt,
	}
	if err := h.resultRepo.Save(ctx, record); err != nil {
		h.logger.Error("Не удалось сохранить результат сессии",
			zap.String("sessionID", sessionID), zap.Error(err))
		return
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, record); err != nil {
			h.logger.Warn("Не удалось закэшировать результат сессии",
				zap.String("sessionID", sessionID), zap.Error(err))
		}
	}
}

// handleGenerate обрабатывает POST /api/generate: сцена генерируется целиком
// (без стриминга), затем готовый текст прогоняется через машину охраны одним
// проходом. Обрезка и нарушения работают так же, как в потоковом режиме.
func (h *APIHandler) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректное тело запроса: " + err.Error()})
		return
	}
	if req.UserID == "" {
		req.UserID = "api_user"
	}

	sessionID := uuid.NewString()
	startedAt := time.Now()
	log := h.logger.With(zap.String("sessionID", sessionID), zap.String("userID", req.UserID))

	sessionCtx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.SessionTimeout)
	defer cancel()

	text, usage, err := h.aiClient.GenerateText(sessionCtx, req.UserID, req.SystemPrompt, req.ScenePrompt, req.params())
	if err != nil {
		log.Error("Генерация сцены не удалась", zap.Error(err))
		h.persistResult(context.WithoutCancel(c.Request.Context()), sessionID, &req, model.GuardResult{}, usage, err, startedAt)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":      "генерация сцены не удалась",
			"session_id": sessionID,
		})
		return
	}

	machine := guard.NewMachine(req.Scene, h.resolvePolicy(req.Policy),
		guard.WithRules(h.rules),
		guard.WithLogger(log),
	)
	machine.Feed(text)
	result := machine.Result()

	h.persistResult(context.WithoutCancel(c.Request.Context()), sessionID, &req, result, usage, nil, startedAt)

	c.JSON(http.StatusOK, gin.H{
		"session_id":            sessionID,
		"text":                  result.Text,
		"was_terminated":        result.WasTerminated,
		"termination_reason":    result.TerminationReason,
		"end_condition_reached": result.EndConditionReached,
		"violations":            result.Violations,
		"usage": gin.H{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
		},
	})
}

// handleGenerateStream обрабатывает POST /api/generate/stream.
// Одобренный охранником текст стримится клиенту chunked plain text;
// идентификатор сессии уходит в заголовке X-Session-ID до первого чанка.
func (h *APIHandler) handleGenerateStream(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректное тело запроса: " + err.Error()})
		return
	}
	if req.UserID == "" {
		req.UserID = "api_user"
	}

	sessionID := uuid.NewString()
	startedAt := time.Now()
	log := h.logger.With(zap.String("sessionID", sessionID), zap.String("userID", req.UserID))

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Session-ID", sessionID)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	sink := func(chunk string) error {
		if _, err := c.Writer.WriteString(chunk); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	result, usage, err := h.runGuardSession(c.Request.Context(), &req, sink, log)
	if err != nil {
		// Ответ мог частично уйти, HTTP статус уже не поменять
		log.Warn("Сессия генерации завершилась ошибкой", zap.Error(err))
	}

	h.persistResult(context.WithoutCancel(c.Request.Context()), sessionID, &req, result, usage, err, startedAt)
}

// handleGetResult обрабатывает GET /api/results/:id.
// Чтение сквозь кэш: промах в Redis добирается из PostgreSQL.
func (h *APIHandler) handleGetResult(c *gin.Context) {
	id := c.Param("id")

	if h.cache != nil {
		if record, err := h.cache.Get(c.Request.Context(), id); err == nil {
			c.JSON(http.StatusOK, record)
			return
		}
	}

	record, err := h.resultRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrResultNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "результат не найден"})
			return
		}
		h.logger.Error("Ошибка чтения результата", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка сервера"})
		return
	}

	if h.cache != nil {
		_ = h.cache.Set(c.Request.Context(), record)
	}
	c.JSON(http.StatusOK, record)
}

// handleListResults обрабатывает GET /api/users/:id/results.
func (h *APIHandler) handleListResults(c *gin.Context) {
	userID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	records, err := h.resultRepo.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("Ошибка чтения результатов пользователя",
			zap.String("userID", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка сервера"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": records})
}
