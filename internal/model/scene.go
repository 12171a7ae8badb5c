package model

// EndConditionType определяет, в каком виде автор описал условие завершения сцены.
type EndConditionType string

const (
	EndConditionDialogue  EndConditionType = "dialogue"
	EndConditionAction    EndConditionType = "action"
	EndConditionNarration EndConditionType = "narration"
)

// GuardPolicy определяет реакцию на нарушение: жесткая обрезка или только запись.
type GuardPolicy string

const (
	// PolicyStrict - нарушение немедленно обрезает текст и завершает сессию.
	PolicyStrict GuardPolicy = "strict"
	// PolicyLenient - нарушение записывается, генерация продолжается.
	PolicyLenient GuardPolicy = "lenient"
)

// SceneDescriptor - неизменяемая конфигурация одной сессии генерации сцены.
// Передается охраннику при создании и больше не мутируется.
type SceneDescriptor struct {
	// EndCondition - авторское описание момента, на котором сцена должна закончиться.
	// Пустая строка означает "условие завершения не проверяется".
	EndCondition     string           `json:"end_condition"`
	EndConditionType EndConditionType `json:"end_condition_type"`

	// TargetLength - целевая длина сцены в символах (руны, не байты).
	TargetLength int `json:"target_length"`

	// AllowedCharacters - упорядоченный список персонажей, разрешенных в сцене.
	AllowedCharacters []string `json:"allowed_characters"`

	// ForbiddenKeywords - ключевые слова, зарезервированные за будущими сценами.
	ForbiddenKeywords []string `json:"forbidden_keywords,omitempty"`

	// CharacterRoster - полный список имен персонажей, известных проекту.
	// Пустой список отключает проверку посторонних персонажей.
	CharacterRoster []string `json:"character_roster,omitempty"`
}

// IsCharacterAllowed сообщает, входит ли имя в список разрешенных участников сцены.
func (s *SceneDescriptor) IsCharacterAllowed(name string) bool {
	for _, allowed := range s.AllowedCharacters {
		if allowed == name {
			return true
		}
	}
	return false
}
