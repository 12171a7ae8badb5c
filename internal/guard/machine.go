package guard

import (
	"fmt"
	"unicode/utf8"

	"novel-guard/internal/model"

	"go.uber.org/zap"
)

// Decision - решение машины по одному инкременту.
type Decision int

const (
	// DecisionContinue - инкремент принят, генерацию можно продолжать.
	DecisionContinue Decision = iota
	// DecisionStop - сессия завершена, источник больше не опрашивается.
	DecisionStop
)

// EndMarker добавляется к тексту после срабатывания условия завершения.
const EndMarker = "\n\n[SCENE END]"

const reasonEndCondition = "end condition reached"

// Hooks - необязательные колбэки для телеметрии/UI.
// Вызываются синхронно в момент обнаружения.
type Hooks struct {
	OnViolation    func(model.Violation)
	OnEndCondition func(position int)
}

// Option настраивает машину при создании.
type Option func(*Machine)

// WithRules подменяет встроенную таблицу правил.
func WithRules(table *RuleTable) Option {
	return func(m *Machine) {
		if table != nil {
			m.rules = table
		}
	}
}

// WithLogger задает логгер машины.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithHooks задает колбэки уведомлений.
func WithHooks(hooks Hooks) Option {
	return func(m *Machine) { m.hooks = hooks }
}

// Machine - конечный автомат охраны одной сессии генерации:
// Running -> Terminated(reason), выхода из терминального состояния нет.
// Машина владеет накопленным текстом единолично; текст растет только
// аппендом и режется только по смещению - середина не редактируется.
//
// Машина НЕ потокобезопасна: Feed должен вызываться строго последовательно.
// Разные машины полностью независимы и могут работать параллельно.
type Machine struct {
	scene  model.SceneDescriptor
	policy model.GuardPolicy
	rules  *RuleTable
	logger *zap.Logger
	hooks  Hooks

	buf        []byte
	runeCount  int
	violations []model.Violation
	flagged    map[string]struct{}
	recorded   map[string]struct{}
	terminated bool
	reason     string
	endReached bool
}

// NewMachine создает машину для одной сессии генерации сцены.
func NewMachine(scene model.SceneDescriptor, policy model.GuardPolicy, opts ...Option) *Machine {
	if policy != model.PolicyStrict {
		policy = model.PolicyLenient
	}
	m := &Machine{
		scene:    scene,
		policy:   policy,
		rules:    DefaultRuleTable(),
		logger:   zap.NewNop(),
		flagged:  make(map[string]struct{}),
		recorded: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	sessionsStarted.Inc()
	return m
}

// Feed обрабатывает один инкремент текста и возвращает решение вместе
// с той частью инкремента, которую можно переслать дальше по потоку.
// Проверки выполняются в фиксированном порядке: условие завершения,
// бюджет длины, затем детекторы (time-jump, compression, unauthorized
// character, next-scene keyword). При strict-политике первое сработавшее
// нарушение побеждает, остальные проверки инкремента пропускаются.
func (m *Machine) Feed(chunk string) (Decision, string) {
	if m.terminated {
		return DecisionStop, ""
	}

	prevLen := len(m.buf)
	m.buf = append(m.buf, chunk...)
	m.runeCount += utf8.RuneCountInString(chunk)
	charsGuarded.Add(float64(utf8.RuneCountInString(chunk)))

	window, base := tailWindow(m.buf, TrailingWindowRunes)

	// 1. Условие завершения сцены: обрезаем ровно по концу матча
	// и добавляем явный маркер конца.
	if m.scene.EndCondition != "" {
		res := MatchEndCondition(window, m.scene.EndCondition, m.scene.EndConditionType)
		if res.Reached {
			cutAt := base + res.Position + res.Length
			m.cut(cutAt)
			m.buf = append(m.buf, EndMarker...)
			m.runeCount += utf8.RuneCountInString(EndMarker)
			m.endReached = true
			m.terminate(reasonEndCondition, "end_condition")
			if m.hooks.OnEndCondition != nil {
				m.hooks.OnEndCondition(cutAt)
			}
			forwarded := EndMarker
			if cutAt > prevLen {
				forwarded = string(m.buf[prevLen:])
			}
			return DecisionStop, forwarded
		}
	}

	// 2. Бюджет длины: единственная проверка, не зависящая от политики.
	// Превышение не режет текст задним числом - инкремент уходит как есть.
	if v := checkLengthBudget(m.runeCount, m.scene.TargetLength); v != nil {
		v.Position = len(m.buf)
		m.record(*v)
		m.terminate(v.Description, "budget")
		return DecisionStop, chunk
	}

	// 3. Детекторы нарушений в фиксированном порядке.
	detectors := []func(from int) *model.Violation{
		func(from int) *model.Violation {
			return detectRuleViolation(window, base, m.rules, model.ViolationTimeJump, from)
		},
		func(from int) *model.Violation {
			return detectRuleViolation(window, base, m.rules, model.ViolationCompression, from)
		},
		func(from int) *model.Violation {
			return detectUnauthorizedCharacter(window, base, &m.scene, m.flagged, from)
		},
		func(from int) *model.Violation {
			return detectForbiddenKeyword(window, base, m.scene.ForbiddenKeywords, from)
		},
	}

	for _, detect := range detectors {
		from := 0
		for {
			v := detect(from)
			if v == nil {
				break
			}
			// Окно скользит медленнее, чем приходят инкременты: одно и то же
			// совпадение не фиксируется повторно, но поиск продолжается за
			// ним - новое вхождение той же категории не теряется.
			key := fmt.Sprintf("%s|%d|%s", v.Category, v.Position, v.DetectedText)
			if _, ok := m.recorded[key]; !ok {
				m.recorded[key] = struct{}{}
				m.record(*v)
				if v.Category == model.ViolationUnauthorized {
					m.flagged[v.DetectedText] = struct{}{}
				}
				if m.policy == model.PolicyStrict {
					m.cut(v.Position)
					m.terminate(fmt.Sprintf("%s: %s", v.Category, v.Description), "violation")
					return DecisionStop, ""
				}
			}
			next := v.Position - base + len(v.DetectedText)
			if next <= from {
				next = from + 1
			}
			from = next
		}
	}

	return DecisionContinue, chunk
}

// Terminated сообщает, находится ли машина в терминальном состоянии.
func (m *Machine) Terminated() bool {
	return m.terminated
}

// Result возвращает снимок сессии. После терминального состояния снимок
// стабилен: повторные вызовы возвращают идентичные данные. До завершения
// возвращается частичный результат (WasTerminated == false).
func (m *Machine) Result() model.GuardResult {
	violations := make([]model.Violation, len(m.violations))
	copy(violations, m.violations)
	return model.GuardResult{
		Text:                string(m.buf),
		WasTerminated:       m.terminated,
		TerminationReason:   m.reason,
		Violations:          violations,
		EndConditionReached: m.endReached,
	}
}

// Reset возвращает машину в исходное состояние для повторного использования
// с тем же дескриптором сцены.
func (m *Machine) Reset() {
	m.buf = nil
	m.runeCount = 0
	m.violations = nil
	m.flagged = make(map[string]struct{})
	m.recorded = make(map[string]struct{})
	m.terminated = false
	m.reason = ""
	m.endReached = false
}

// cut обрезает накопленный текст по байтовому смещению.
// Текст до смещения никогда не затрагивается.
func (m *Machine) cut(pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos >= len(m.buf) {
		return
	}
	m.runeCount -= utf8.RuneCount(m.buf[pos:])
	m.buf = m.buf[:pos]
	textTruncations.Inc()
}

// record фиксирует нарушение и синхронно дергает колбэк.
func (m *Machine) record(v model.Violation) {
	m.violations = append(m.violations, v)
	violationsDetected.WithLabelValues(string(v.Category), string(v.Severity)).Inc()
	m.logger.Info("violation detected",
		zap.String("category", string(v.Category)),
		zap.String("severity", string(v.Severity)),
		zap.Int("position", v.Position),
		zap.String("detected_text", v.DetectedText),
	)
	if m.hooks.OnViolation != nil {
		m.hooks.OnViolation(v)
	}
}

// terminate переводит машину в терминальное состояние.
func (m *Machine) terminate(reason, outcome string) {
	m.terminated = true
	m.reason = reason
	sessionsTerminated.WithLabelValues(outcome).Inc()
	m.logger.Info("guard session terminated",
		zap.String("reason", reason),
		zap.String("outcome", outcome),
		zap.Int("text_length", m.runeCount),
		zap.Int("violations", len(m.violations)),
	)
}
