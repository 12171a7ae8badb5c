package guard

import (
	"strings"
	"testing"

	"novel-guard/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// neutralText - текст без паттернов таблицы правил, для набивки длины.
// n задается в рунах.
func neutralText(n int) string {
	runes := []rune(strings.Repeat("он молча смотрел в окно ", n/24+1))
	return string(runes[:n])
}

func TestMachine_EndCondition(t *testing.T) {
	// Сценарий A: точное условие завершения появляется внутри стрима чанков.
	scene := model.SceneDescriptor{
		EndCondition:     "그는 문을 닫았다.",
		EndConditionType: model.EndConditionAction,
		TargetLength:     4000,
	}
	m := NewMachine(scene, model.PolicyLenient)

	d, fwd := m.Feed("비가 그쳤다. ")
	assert.Equal(t, DecisionContinue, d)
	assert.Equal(t, "비가 그쳤다. ", fwd)

	d, fwd = m.Feed("그는 문을 닫았다. 그리고 오랫동안 서 있었다.")
	assert.Equal(t, DecisionStop, d)
	assert.True(t, strings.HasSuffix(fwd, EndMarker))

	res := m.Result()
	assert.True(t, res.EndConditionReached)
	assert.True(t, res.WasTerminated)
	assert.Equal(t, "end condition reached", res.TerminationReason)
	// Текст обрывается сразу после условия плюс маркер; хвост чанка отброшен.
	assert.Equal(t, "비가 그쳤다. 그는 문을 닫았다."+EndMarker, res.Text)
	assert.NotContains(t, res.Text, "서 있었다")
}

func TestMachine_EndConditionHook(t *testing.T) {
	var hookPos int
	var hookCalls int
	m := NewMachine(model.SceneDescriptor{
		EndCondition:     "the door closed",
		EndConditionType: model.EndConditionAction,
	}, model.PolicyStrict, WithHooks(Hooks{
		OnEndCondition: func(pos int) { hookPos = pos; hookCalls++ },
	}))

	_, _ = m.Feed("and then the door closed quietly")
	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, len("and then the door closed"), hookPos)
}

func TestMachine_LengthBudget(t *testing.T) {
	t.Run("relative threshold", func(t *testing.T) {
		// Сценарий B: цель 1000, strict, паттерны не матчатся.
		// Завершение при накоплении >= 600 символов с причиной про 60%.
		m := NewMachine(model.SceneDescriptor{TargetLength: 1000}, model.PolicyStrict)

		total := 0
		var last Decision
		feeds := 0
		for last != DecisionStop {
			require.Less(t, feeds, 100, "machine never terminated")
			chunk := neutralText(100)
			last, _ = m.Feed(chunk)
			total += 100
			feeds++
		}
		assert.GreaterOrEqual(t, total, 600)

		res := m.Result()
		assert.True(t, res.WasTerminated)
		assert.Contains(t, res.TerminationReason, "60%")
		assert.False(t, res.EndConditionReached)
		require.Len(t, res.Violations, 1)
		assert.Equal(t, model.ViolationScopeExceeded, res.Violations[0].Category)
	})

	t.Run("budget violation recorded exactly once", func(t *testing.T) {
		m := NewMachine(model.SceneDescriptor{TargetLength: 100}, model.PolicyLenient)

		d, fwd := m.Feed(neutralText(70))
		assert.Equal(t, DecisionStop, d)
		// Бюджет не режет текст задним числом: инкремент уходит как есть.
		assert.Equal(t, neutralText(70), fwd)

		// Дальнейшие инкременты не обрабатываются.
		d, fwd = m.Feed(neutralText(70))
		assert.Equal(t, DecisionStop, d)
		assert.Empty(t, fwd)

		assert.Len(t, m.Result().Violations, 1)
	})

	t.Run("budget ignores policy", func(t *testing.T) {
		m := NewMachine(model.SceneDescriptor{TargetLength: 100}, model.PolicyLenient)
		d, _ := m.Feed(neutralText(60))
		assert.Equal(t, DecisionStop, d)
		assert.True(t, m.Result().WasTerminated)
	})
}

func TestMachine_UnauthorizedCharacter(t *testing.T) {
	scene := model.SceneDescriptor{
		TargetLength:      4000,
		AllowedCharacters: []string{"Arin", "Borin"},
		CharacterRoster:   []string{"Arin", "Borin", "Cedric"},
	}

	t.Run("strict terminates and cuts", func(t *testing.T) {
		m := NewMachine(scene, model.PolicyStrict)
		prefix := "Arin waited by the gate. "
		d, fwd := m.Feed(prefix + "Cedric appeared suddenly.")
		assert.Equal(t, DecisionStop, d)
		assert.Empty(t, fwd)

		res := m.Result()
		assert.True(t, res.WasTerminated)
		assert.Contains(t, res.TerminationReason, "unauthorized_character")
		require.Len(t, res.Violations, 1)
		// Обрезка не трогает текст до зафиксированной позиции нарушения.
		assert.Equal(t, prefix, res.Text)
	})

	t.Run("lenient records once and continues", func(t *testing.T) {
		m := NewMachine(scene, model.PolicyLenient)
		d, _ := m.Feed("Cedric entered. ")
		assert.Equal(t, DecisionContinue, d)

		// Имя встречается снова - дубликат не фиксируется.
		d, _ = m.Feed("Cedric smiled. ")
		assert.Equal(t, DecisionContinue, d)

		res := m.Result()
		assert.False(t, res.WasTerminated)
		require.Len(t, res.Violations, 1)
		assert.Equal(t, "Cedric", res.Violations[0].DetectedText)
	})
}

func TestMachine_StrictShortCircuit(t *testing.T) {
	// Два нарушения в одном инкременте: при strict побеждает первое
	// по фиксированному порядку проверок (time-jump раньше compression).
	m := NewMachine(model.SceneDescriptor{TargetLength: 4000}, model.PolicyStrict)
	d, _ := m.Feed("A few days later, in the end, nothing remained.")
	assert.Equal(t, DecisionStop, d)

	res := m.Result()
	require.Len(t, res.Violations, 1)
	assert.Equal(t, model.ViolationTimeJump, res.Violations[0].Category)
	assert.Contains(t, res.TerminationReason, "time_jump")
}

func TestMachine_LenientRecordsAllCategories(t *testing.T) {
	m := NewMachine(model.SceneDescriptor{TargetLength: 4000}, model.PolicyLenient)
	d, fwd := m.Feed("A few days later, in the end, nothing remained.")
	assert.Equal(t, DecisionContinue, d)
	assert.Equal(t, "A few days later, in the end, nothing remained.", fwd)

	res := m.Result()
	require.Len(t, res.Violations, 2)
	assert.Equal(t, model.ViolationTimeJump, res.Violations[0].Category)
	assert.Equal(t, model.ViolationCompression, res.Violations[1].Category)

	// Скользящее окно еще содержит те же совпадения - повторная фиксация
	// не происходит.
	_, _ = m.Feed(" he said.")
	assert.Len(t, m.Result().Violations, 2)
}

func TestMachine_LenientRepeatedOccurrences(t *testing.T) {
	m := NewMachine(model.SceneDescriptor{TargetLength: 4000}, model.PolicyLenient)

	d, _ := m.Feed("He slept. The next morning came. ")
	assert.Equal(t, DecisionContinue, d)
	require.Len(t, m.Result().Violations, 1)

	// Старое совпадение еще в окне, но новое вхождение той же категории
	// дальше по тексту фиксируется отдельно.
	d, _ = m.Feed("It rained. The next morning came again.")
	assert.Equal(t, DecisionContinue, d)

	res := m.Result()
	require.Len(t, res.Violations, 2)
	assert.Equal(t, model.ViolationTimeJump, res.Violations[0].Category)
	assert.Equal(t, model.ViolationTimeJump, res.Violations[1].Category)
	assert.Greater(t, res.Violations[1].Position, res.Violations[0].Position)

	t.Run("both occurrences in one increment", func(t *testing.T) {
		m := NewMachine(model.SceneDescriptor{TargetLength: 4000}, model.PolicyLenient)
		_, _ = m.Feed("In the end he left. In the end she stayed.")
		assert.Len(t, m.Result().Violations, 2)
	})
}

func TestMachine_ViolationHook(t *testing.T) {
	var seen []model.Violation
	m := NewMachine(model.SceneDescriptor{TargetLength: 4000}, model.PolicyLenient, WithHooks(Hooks{
		OnViolation: func(v model.Violation) { seen = append(seen, v) },
	}))
	_, _ = m.Feed("The next morning they were gone.")
	require.Len(t, seen, 1)
	assert.Equal(t, model.ViolationTimeJump, seen[0].Category)
}

func TestMachine_ResultIdempotent(t *testing.T) {
	m := NewMachine(model.SceneDescriptor{
		EndCondition:     "she fell asleep",
		EndConditionType: model.EndConditionNarration,
		TargetLength:     4000,
	}, model.PolicyStrict)

	_, _ = m.Feed("A few days later the city burned. ")
	_, _ = m.Feed("At last she fell asleep by the fire.")

	first := m.Result()
	second := m.Result()
	assert.Equal(t, first, second)
}

func TestMachine_Reset(t *testing.T) {
	m := NewMachine(model.SceneDescriptor{TargetLength: 100}, model.PolicyStrict)
	d, _ := m.Feed(neutralText(70))
	assert.Equal(t, DecisionStop, d)

	m.Reset()
	assert.False(t, m.Terminated())
	res := m.Result()
	assert.Empty(t, res.Text)
	assert.Empty(t, res.Violations)

	d, _ = m.Feed(neutralText(10))
	assert.Equal(t, DecisionContinue, d)
}

func TestMachine_GracefulOnEmptyConfig(t *testing.T) {
	// Пустое условие и пустой реестр - проверки просто не срабатывают.
	m := NewMachine(model.SceneDescriptor{}, model.PolicyStrict)
	d, fwd := m.Feed("He poured the tea and waited. ")
	assert.Equal(t, DecisionContinue, d)
	assert.Equal(t, "He poured the tea and waited. ", fwd)
	assert.False(t, m.Result().EndConditionReached)
}
