package model

// ViolationCategory - класс нарушения, обнаруженного в сгенерированном тексте.
type ViolationCategory string

const (
	ViolationTimeJump      ViolationCategory = "time_jump"
	ViolationCompression   ViolationCategory = "compression"
	ViolationUnauthorized  ViolationCategory = "unauthorized_character"
	ViolationNextSceneLeak ViolationCategory = "next_scene_keyword"
	ViolationScopeExceeded ViolationCategory = "scope_exceeded"
)

// ViolationSeverity - серьезность нарушения.
type ViolationSeverity string

const (
	SeverityWarning  ViolationSeverity = "warning"
	SeverityCritical ViolationSeverity = "critical"
)

// Violation - одно зафиксированное нарушение. Записи append-only:
// однажды добавленное нарушение не редактируется и не удаляется.
type Violation struct {
	Category ViolationCategory `json:"category"`
	Severity ViolationSeverity `json:"severity"`
	// Position - байтовое смещение в накопленном тексте на момент обнаружения.
	Position     int    `json:"position"`
	Description  string `json:"description"`
	DetectedText string `json:"detected_text"`
}

// IsCritical сообщает, является ли нарушение критическим.
func (v Violation) IsCritical() bool {
	return v.Severity == SeverityCritical
}
