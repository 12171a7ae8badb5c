package model

import "time"

// GuardResult - терминальный снимок сессии охраны генерации.
// После перехода машины в терминальное состояние снимок стабилен:
// повторные чтения возвращают идентичные данные.
type GuardResult struct {
	// Text - финальный (возможно, обрезанный) текст сцены.
	Text string `json:"text"`
	// WasTerminated - true, если стрим был остановлен охранником
	// (условие завершения, бюджет длины или strict-нарушение).
	WasTerminated bool `json:"was_terminated"`
	// TerminationReason - человекочитаемая причина остановки.
	// Непустая тогда и только тогда, когда WasTerminated == true.
	TerminationReason string `json:"termination_reason,omitempty"`
	// Violations - все зафиксированные нарушения в порядке обнаружения.
	Violations []Violation `json:"violations,omitempty"`
	// EndConditionReached - true, если сработало условие завершения сцены.
	EndConditionReached bool `json:"end_condition_reached"`
}

// SessionRecord - запись завершенной сессии для хранения в БД.
type SessionRecord struct {
	ID                  string        `db:"id" json:"id"`
	UserID              string        `db:"user_id" json:"user_id"`
	SceneID             string        `db:"scene_id" json:"scene_id"`
	Policy              GuardPolicy   `db:"policy" json:"policy"`
	Text                string        `db:"final_text" json:"text"`
	WasTerminated       bool          `db:"was_terminated" json:"was_terminated"`
	TerminationReason   string        `db:"termination_reason" json:"termination_reason,omitempty"`
	EndConditionReached bool          `db:"end_condition_reached" json:"end_condition_reached"`
	ViolationsJSON      []byte        `db:"violations" json:"-"`
	Violations          []Violation   `db:"-" json:"violations,omitempty"`
	Error               string        `db:"error" json:"error,omitempty"`
	PromptTokens        int           `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens    int           `db:"completion_tokens" json:"completion_tokens"`
	ProcessingTimeMs    int64         `db:"processing_time_ms" json:"processing_time_ms"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	CompletedAt         time.Time     `db:"completed_at" json:"completed_at"`
}
