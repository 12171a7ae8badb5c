package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"novel-guard/internal/model"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Максимальный размер запроса от клиента.
	maxRequestSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: ограничить Origin списком из конфигурации
		return true
	},
}

// wsChunkMessage - инкремент текста, одобренный охранником.
type wsChunkMessage struct {
	Type  string `json:"type"` // "chunk"
	Chunk string `json:"chunk"`
}

// wsResultMessage - финальное сообщение сессии.
type wsResultMessage struct {
	Type                string            `json:"type"` // "result" | "error"
	SessionID           string            `json:"session_id"`
	WasTerminated       bool              `json:"was_terminated"`
	TerminationReason   string            `json:"termination_reason,omitempty"`
	EndConditionReached bool              `json:"end_condition_reached"`
	Violations          []model.Violation `json:"violations,omitempty"`
	Error               string            `json:"error,omitempty"`
}

// handleGenerateWS обрабатывает GET /api/generate/ws: клиент шлет один
// JSON-запрос, в ответ получает поток одобренных чанков и финальное
// сообщение с итогом сессии.
func (h *APIHandler) handleGenerateWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader уже ответил клиенту
		h.logger.Warn("Не удалось установить WebSocket соединение", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxRequestSize)

	var req generateRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.writeWS(conn, wsResultMessage{Type: "error", Error: "некорректный запрос: " + err.Error()})
		return
	}
	if req.SystemPrompt == "" || req.ScenePrompt == "" {
		h.writeWS(conn, wsResultMessage{Type: "error", Error: "system_prompt и scene_prompt обязательны"})
		return
	}
	if req.UserID == "" {
		req.UserID = "ws_user"
	}

	sessionID := uuid.NewString()
	startedAt := time.Now()
	log := h.logger.With(zap.String("sessionID", sessionID), zap.String("userID", req.UserID))
	log.Info("WebSocket сессия генерации начата")

	sink := func(chunk string) error {
		return h.writeWS(conn, wsChunkMessage{Type: "chunk", Chunk: chunk})
	}

	result, usage, runErr := h.runGuardSession(c.Request.Context(), &req, sink, log)

	final := wsResultMessage{
		Type:                "result",
		SessionID:           sessionID,
		WasTerminated:       result.WasTerminated,
		TerminationReason:   result.TerminationReason,
		EndConditionReached: result.EndConditionReached,
		Violations:          result.Violations,
	}
	if runErr != nil {
		final.Type = "error"
		final.Error = runErr.Error()
	}
	if err := h.writeWS(conn, final); err != nil {
		log.Warn("Не удалось отправить финальное сообщение", zap.Error(err))
	}

	h.persistResult(context.WithoutCancel(c.Request.Context()), sessionID, &req, result, usage, runErr, startedAt)
}

func (h *APIHandler) writeWS(conn *websocket.Conn, message interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(message)
}
