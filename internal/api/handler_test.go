package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"novel-guard/internal/api"
	"novel-guard/internal/config"
	"novel-guard/internal/guard"
	"novel-guard/internal/mocks"
	"novel-guard/internal/model"
	"novel-guard/internal/service"
)

func testConfig() *config.Config {
	return &config.Config{
		DefaultPolicy:  "lenient",
		SessionTimeout: 10 * time.Second,
	}
}

func setupRouter(mockAI *mocks.MockAIClient, mockRepo *mocks.MockResultRepository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := api.NewAPIHandler(testConfig(), mockAI, mockRepo, nil, guard.DefaultRuleTable(), zap.NewNop())
	router := gin.New()
	handler.RegisterRoutes(router)
	return router
}

func postGenerate(t *testing.T, router *gin.Engine, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type generateResponse struct {
	SessionID           string            `json:"session_id"`
	Text                string            `json:"text"`
	WasTerminated       bool              `json:"was_terminated"`
	TerminationReason   string            `json:"termination_reason"`
	EndConditionReached bool              `json:"end_condition_reached"`
	Violations          []model.Violation `json:"violations"`
}

func TestHandleGenerate_EndConditionCut(t *testing.T) {
	mockAI := mocks.NewMockAIClient(t)
	mockRepo := mocks.NewMockResultRepository(t)
	router := setupRouter(mockAI, mockRepo)

	generated := "Он вошел в дом. Он закрыл за собой дверь. Этот хвост лишний."
	usage := service.UsageInfo{PromptTokens: 120, CompletionTokens: 60}
	mockAI.On("GenerateText",
		mock.Anything, "user-1", "system prompt", "scene prompt", mock.Anything,
	).Return(generated, usage, nil).Once()

	mockRepo.On("Save", mock.Anything, mock.AnythingOfType("*model.SessionRecord")).
		Return(nil).Once().Run(func(args mock.Arguments) {
			record := args.Get(1).(*model.SessionRecord)
			assert.Equal(t, "user-1", record.UserID)
			assert.True(t, record.EndConditionReached)
			assert.Equal(t, 120, record.PromptTokens)
		})

	rec := postGenerate(t, router, map[string]any{
		"user_id":       "user-1",
		"system_prompt": "system prompt",
		"scene_prompt":  "scene prompt",
		"scene": map[string]any{
			"end_condition":      "Он закрыл за собой дверь.",
			"end_condition_type": "action",
			"target_length":      4000,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp generateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.True(t, resp.WasTerminated)
	assert.True(t, resp.EndConditionReached)
	assert.True(t, strings.HasSuffix(resp.Text, guard.EndMarker))
	assert.NotContains(t, resp.Text, "хвост лишний")

	mockAI.AssertExpectations(t)
	mockRepo.AssertExpectations(t)
}

func TestHandleGenerate_LenientRecordsAllViolations(t *testing.T) {
	mockAI := mocks.NewMockAIClient(t)
	mockRepo := mocks.NewMockResultRepository(t)
	router := setupRouter(mockAI, mockRepo)

	// Один временной скачок и два вхождения одной и той же фразы сжатия:
	// при lenient-политике фиксируются все три.
	generated := "A few days later he left. In the end he returned. In the end she stayed."
	mockAI.On("GenerateText", mock.Anything, "user-2", mock.Anything, mock.Anything, mock.Anything).
		Return(generated, service.UsageInfo{}, nil).Once()
	mockRepo.On("Save", mock.Anything, mock.AnythingOfType("*model.SessionRecord")).
		Return(nil).Once()

	rec := postGenerate(t, router, map[string]any{
		"user_id":       "user-2",
		"system_prompt": "system prompt",
		"scene_prompt":  "scene prompt",
		"scene":         map[string]any{"target_length": 4000},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp generateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.WasTerminated)
	assert.Equal(t, generated, resp.Text)
	require.Len(t, resp.Violations, 3)
	assert.Equal(t, model.ViolationTimeJump, resp.Violations[0].Category)
	assert.Equal(t, model.ViolationCompression, resp.Violations[1].Category)
	assert.Equal(t, model.ViolationCompression, resp.Violations[2].Category)
	assert.Greater(t, resp.Violations[2].Position, resp.Violations[1].Position)
}

func TestHandleGenerate_AIError(t *testing.T) {
	mockAI := mocks.NewMockAIClient(t)
	mockRepo := mocks.NewMockResultRepository(t)
	router := setupRouter(mockAI, mockRepo)

	mockAI.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", service.UsageInfo{}, errors.New("upstream unavailable")).Once()
	// Запись об ошибке все равно сохраняется.
	mockRepo.On("Save", mock.Anything, mock.AnythingOfType("*model.SessionRecord")).
		Return(nil).Once().Run(func(args mock.Arguments) {
			record := args.Get(1).(*model.SessionRecord)
			assert.NotEmpty(t, record.Error)
			assert.Empty(t, record.Text)
		})

	rec := postGenerate(t, router, map[string]any{
		"system_prompt": "system prompt",
		"scene_prompt":  "scene prompt",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	mockRepo.AssertExpectations(t)
}

func TestHandleGenerate_BadRequest(t *testing.T) {
	mockAI := mocks.NewMockAIClient(t)
	mockRepo := mocks.NewMockResultRepository(t)
	router := setupRouter(mockAI, mockRepo)

	rec := postGenerate(t, router, map[string]any{
		"system_prompt": "system prompt",
		// scene_prompt отсутствует
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	mockAI.AssertNotCalled(t, "GenerateText")
	mockRepo.AssertNotCalled(t, "Save")
}
