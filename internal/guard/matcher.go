package guard

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"novel-guard/internal/model"
)

const (
	// minFuzzyTokens - минимальное число токенов условия для нечеткого матча.
	minFuzzyTokens = 3
	// fuzzyRatio - минимальная доля токенов условия, найденных в окне.
	fuzzyRatio = 0.7
	// terminatorSpan - в пределах скольких байт от позиции матча ищем
	// конец предложения.
	terminatorSpan = 200
	// fallbackMatchExtent - длина матча, если терминатор не найден.
	fallbackMatchExtent = 50
)

// sentenceTerminators - символы конца предложения (латиница + CJK).
var sentenceTerminators = []rune{'.', '!', '?', '…', '。', '！', '？'}

// quotedFragmentPatterns извлекают реплики из условия завершения типа "dialogue".
var quotedFragmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"([^"]+)"`),
	regexp.MustCompile(`“([^”]+)”`),
	regexp.MustCompile(`«([^»]+)»`),
	regexp.MustCompile(`「([^」]+)」`),
}

// MatchResult - результат проверки условия завершения над окном текста.
type MatchResult struct {
	Reached bool
	// Position - байтовое смещение начала матча в окне.
	Position int
	// Length - длина матча в байтах от Position.
	Length int
}

// MatchEndCondition решает, выполнено ли условие завершения сцены в окне текста.
// Стратегии применяются по порядку, первая успешная побеждает:
//  1. точное вхождение условия;
//  2. нечеткий матч по доле ключевых токенов;
//  3. для диалоговых условий - вхождение реплики в кавычках.
//
// Пустое условие никогда не считается выполненным.
func MatchEndCondition(window, endCondition string, condType model.EndConditionType) MatchResult {
	endCondition = strings.TrimSpace(endCondition)
	if endCondition == "" || window == "" {
		return MatchResult{}
	}

	// 1. Точное вхождение: позиция первого вхождения, длина условия.
	if idx := strings.Index(window, endCondition); idx >= 0 {
		return MatchResult{Reached: true, Position: idx, Length: len(endCondition)}
	}

	// 2. Нечеткий матч по токенам.
	if res, ok := fuzzyMatch(window, endCondition); ok {
		return res
	}

	// 3. Фолбэк для диалоговых условий: ищем реплику в кавычках.
	if condType == model.EndConditionDialogue {
		if res, ok := quotedFragmentMatch(window, endCondition); ok {
			return res
		}
	}

	return MatchResult{}
}

// fuzzyMatch проверяет долю токенов условия, встречающихся в окне.
// Срабатывает только при >= 3 токенах и доле найденных >= 70%.
// Позиция матча - последнее вхождение среди найденных токенов
// (именно последнее: от этого зависит корректность обрезки ниже по потоку).
func fuzzyMatch(window, endCondition string) (MatchResult, bool) {
	tokens := tokenize(endCondition)
	if len(tokens) < minFuzzyTokens {
		return MatchResult{}, false
	}

	found := 0
	lastPos := -1
	lastToken := ""
	for _, tok := range tokens {
		idx := strings.LastIndex(window, tok)
		if idx < 0 {
			continue
		}
		found++
		if idx > lastPos {
			lastPos = idx
			lastToken = tok
		}
	}

	if float64(found) < fuzzyRatio*float64(len(tokens)) {
		return MatchResult{}, false
	}

	end := extendToSentenceEnd(window, lastPos+len(lastToken))
	return MatchResult{Reached: true, Position: lastPos, Length: end - lastPos}, true
}

// extendToSentenceEnd возвращает байтовое смещение конца матча: позицию сразу
// за ближайшим терминатором предложения, либо from+50, если терминатор не
// найден в разумных пределах.
func extendToSentenceEnd(window string, from int) int {
	if from > len(window) {
		from = len(window)
	}
	span := window[from:]
	if len(span) > terminatorSpan {
		span = span[:terminatorSpan]
	}
	for i, r := range span {
		if isSentenceTerminator(r) {
			return from + i + utf8.RuneLen(r)
		}
	}
	end := from + fallbackMatchExtent
	if end > len(window) {
		end = len(window)
	}
	return end
}

func isSentenceTerminator(r rune) bool {
	for _, t := range sentenceTerminators {
		if r == t {
			return true
		}
	}
	return false
}

// quotedFragmentMatch извлекает фрагменты в кавычках из условия и ищет
// первый из них в окне.
func quotedFragmentMatch(window, endCondition string) (MatchResult, bool) {
	for _, re := range quotedFragmentPatterns {
		for _, m := range re.FindAllStringSubmatch(endCondition, -1) {
			fragment := strings.TrimSpace(m[1])
			if utf8.RuneCountInString(fragment) < 2 {
				continue
			}
			if idx := strings.Index(window, fragment); idx >= 0 {
				return MatchResult{Reached: true, Position: idx, Length: len(fragment)}, true
			}
		}
	}
	return MatchResult{}, false
}

// tokenize разбивает условие на уникальные токены: пунктуация отбрасывается,
// токены короче 2 рун пропускаются. Порядок первого вхождения сохраняется.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}
