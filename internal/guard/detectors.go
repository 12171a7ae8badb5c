package guard

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"novel-guard/internal/model"
)

const (
	// TrailingWindowRunes - размер скользящего окна детекторов в рунах.
	// Окно ограничивает стоимость одного вызова независимо от общей длины.
	TrailingWindowRunes = 1000

	// AbsoluteMaxRunes - жесткий потолок длины сцены в символах.
	// Не зависит от целевой длины сцены.
	AbsoluteMaxRunes = 6000

	// relativeBudgetRatio - доля от min(целевая длина, потолок), после
	// которой сессия завершается превентивно.
	relativeBudgetRatio = 0.6

	// minNameRunes - имена короче не проверяются (слишком неоднозначны).
	minNameRunes = 2
)

// tailWindow возвращает хвост текста длиной не более n рун и байтовое
// смещение его начала. Стоимость ограничена размером окна, не всего текста.
func tailWindow(text []byte, n int) (string, int) {
	start := len(text)
	for i := 0; i < n && start > 0; i++ {
		_, size := utf8.DecodeLastRune(text[:start])
		start -= size
	}
	return string(text[start:]), start
}

// detectRuleViolation проверяет окно по правилам указанной категории,
// начиная с байтового смещения from. base - байтовое смещение окна
// в накопленном тексте.
func detectRuleViolation(window string, base int, rules *RuleTable, category model.ViolationCategory, from int) *model.Violation {
	match, ok := rules.FindFirst(window, category, from)
	if !ok {
		return nil
	}
	desc := match.Rule.Description
	if desc == "" {
		desc = fmt.Sprintf("rule pattern %q matched", match.Rule.Pattern)
	}
	return &model.Violation{
		Category:     category,
		Severity:     match.Rule.Severity,
		Position:     base + match.Position,
		Description:  desc,
		DetectedText: match.Text,
	}
}

// detectUnauthorizedCharacter ищет в окне (начиная со смещения from) имя
// из полного реестра персонажей, не входящее в список разрешенных. Имена
// короче 2 рун и уже помеченные ранее в сессии пропускаются. Пустой реестр
// отключает проверку.
func detectUnauthorizedCharacter(window string, base int, scene *model.SceneDescriptor, flagged map[string]struct{}, from int) *model.Violation {
	if from < 0 {
		from = 0
	}
	if from >= len(window) {
		return nil
	}
	for _, name := range scene.CharacterRoster {
		if utf8.RuneCountInString(name) < minNameRunes {
			continue
		}
		if scene.IsCharacterAllowed(name) {
			continue
		}
		if _, ok := flagged[name]; ok {
			continue
		}
		idx := strings.Index(window[from:], name)
		if idx < 0 {
			continue
		}
		return &model.Violation{
			Category:     model.ViolationUnauthorized,
			Severity:     model.SeverityWarning,
			Position:     base + from + idx,
			Description:  fmt.Sprintf("character %q is not a participant of this scene", name),
			DetectedText: name,
		}
	}
	return nil
}

// detectForbiddenKeyword ищет в окне (начиная со смещения from) ключевое
// слово, зарезервированное за будущей сценой. Слова короче 2 рун пропускаются.
func detectForbiddenKeyword(window string, base int, keywords []string, from int) *model.Violation {
	if from < 0 {
		from = 0
	}
	if from >= len(window) {
		return nil
	}
	for _, kw := range keywords {
		if utf8.RuneCountInString(kw) < minNameRunes {
			continue
		}
		idx := strings.Index(window[from:], kw)
		if idx < 0 {
			continue
		}
		return &model.Violation{
			Category:     model.ViolationNextSceneLeak,
			Severity:     model.SeverityWarning,
			Position:     base + from + idx,
			Description:  fmt.Sprintf("keyword %q is reserved for a future scene", kw),
			DetectedText: kw,
		}
	}
	return nil
}

// checkLengthBudget проверяет оба лимита длины над ВСЕМ накопленным текстом
// (в рунах). Достижение любого лимита - критическое нарушение, завершающее
// сессию независимо от политики.
func checkLengthBudget(totalRunes, targetLength int) *model.Violation {
	if totalRunes >= AbsoluteMaxRunes {
		return &model.Violation{
			Category:    model.ViolationScopeExceeded,
			Severity:    model.SeverityCritical,
			Position:    0,
			Description: fmt.Sprintf("accumulated length %d reached the absolute ceiling of %d characters", totalRunes, AbsoluteMaxRunes),
		}
	}
	if targetLength > 0 {
		limit := targetLength
		if limit > AbsoluteMaxRunes {
			limit = AbsoluteMaxRunes
		}
		threshold := int(relativeBudgetRatio * float64(limit))
		if totalRunes >= threshold {
			return &model.Violation{
				Category:    model.ViolationScopeExceeded,
				Severity:    model.SeverityCritical,
				Position:    0,
				Description: fmt.Sprintf("accumulated length %d reached 60%% of the scene budget (%d of %d characters)", totalRunes, threshold, limit),
			}
		}
	}
	return nil
}
