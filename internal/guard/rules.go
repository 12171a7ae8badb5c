package guard

import (
	"fmt"
	"regexp"

	"novel-guard/internal/model"

	"github.com/ilyakaznacheev/cleanenv"
)

// Rule - одна запись таблицы правил: паттерн, категория и серьезность.
// Таблица - чистые данные; новые классы нарушений добавляются записями,
// а не ветвлением кода.
type Rule struct {
	// Pattern - подстрока или регулярное выражение (если Regex == true).
	Pattern string `yaml:"pattern"`
	// Regex - интерпретировать Pattern как регулярное выражение.
	Regex       bool                    `yaml:"regex,omitempty"`
	Category    model.ViolationCategory `yaml:"category"`
	Severity    model.ViolationSeverity `yaml:"severity"`
	Description string                  `yaml:"description,omitempty"`
}

// RuleTable - декларативный список правил для детекторов нарушений.
type RuleTable struct {
	Rules []Rule `yaml:"rules"`

	compiled []*regexp.Regexp
}

// RuleMatch - результат срабатывания правила в окне текста.
type RuleMatch struct {
	Rule Rule
	// Position - байтовое смещение начала совпадения в окне.
	Position int
	Text     string
}

// Compile подготавливает правила к поиску. Подстроки матчатся
// регистронезависимо через QuoteMeta, чтобы позиция совпадения
// всегда указывала в исходный текст.
func (t *RuleTable) Compile() error {
	t.compiled = make([]*regexp.Regexp, len(t.Rules))
	for i, rule := range t.Rules {
		expr := rule.Pattern
		if !rule.Regex {
			expr = regexp.QuoteMeta(rule.Pattern)
		}
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return fmt.Errorf("rule %d (%q): %w", i, rule.Pattern, err)
		}
		t.compiled[i] = re
	}
	return nil
}

// FindFirst возвращает первое сработавшее правило указанной категории,
// начиная с байтового смещения from. Правила проверяются в порядке таблицы;
// первое совпадение побеждает.
func (t *RuleTable) FindFirst(window string, category model.ViolationCategory, from int) (RuleMatch, bool) {
	if from < 0 {
		from = 0
	}
	if from >= len(window) {
		return RuleMatch{}, false
	}
	for i, rule := range t.Rules {
		if rule.Category != category {
			continue
		}
		loc := t.compiled[i].FindStringIndex(window[from:])
		if loc == nil {
			continue
		}
		return RuleMatch{
			Rule:     rule,
			Position: from + loc[0],
			Text:     window[from+loc[0] : from+loc[1]],
		}, true
	}
	return RuleMatch{}, false
}

// LoadRuleTable читает таблицу правил из YAML файла и компилирует ее.
func LoadRuleTable(path string) (*RuleTable, error) {
	var table RuleTable
	if err := cleanenv.ReadConfig(path, &table); err != nil {
		return nil, fmt.Errorf("failed to read rule table %s: %w", path, err)
	}
	if err := table.Compile(); err != nil {
		return nil, fmt.Errorf("failed to compile rule table %s: %w", path, err)
	}
	return &table, nil
}

// DefaultRuleTable возвращает встроенную таблицу правил.
// Паттерны покрывают фразы временных скачков и нарративного сжатия.
func DefaultRuleTable() *RuleTable {
	table := &RuleTable{
		Rules: []Rule{
			// Временные скачки
			{Pattern: `\b\d+\s+(days?|weeks?|months?|years?)\s+later\b`, Regex: true, Category: model.ViolationTimeJump, Severity: model.SeverityWarning, Description: "explicit elapsed-time jump"},
			{Pattern: "a few days later", Category: model.ViolationTimeJump, Severity: model.SeverityWarning, Description: "elapsed-time phrase"},
			{Pattern: "the next morning", Category: model.ViolationTimeJump, Severity: model.SeverityWarning, Description: "elapsed-time phrase"},
			{Pattern: "the next day", Category: model.ViolationTimeJump, Severity: model.SeverityWarning, Description: "elapsed-time phrase"},
			{Pattern: "the following day", Category: model.ViolationTimeJump, Severity: model.SeverityWarning, Description: "elapsed-time phrase"},
			{Pattern: "some time later", Category: model.ViolationTimeJump, Severity: model.SeverityWarning, Description: "elapsed-time phrase"},
			{Pattern: "hours passed", Category: model.ViolationTimeJump, Severity: model.SeverityWarning, Description: "elapsed-time phrase"},
			{Pattern: "years passed", Category: model.ViolationTimeJump, Severity: model.SeverityWarning, Description: "elapsed-time phrase"},
			{Pattern: "time flew by", Category: model.ViolationTimeJump, Severity: model.SeverityWarning, Description: "elapsed-time phrase"},

			// Сжатие повествования и форшедоуинг
			{Pattern: "in the end", Category: model.ViolationCompression, Severity: model.SeverityWarning, Description: "narrative compression"},
			{Pattern: "thus it became legend", Category: model.ViolationCompression, Severity: model.SeverityWarning, Description: "narrative compression"},
			{Pattern: "meanwhile, elsewhere", Category: model.ViolationCompression, Severity: model.SeverityWarning, Description: "scene-break compression"},
			{Pattern: "little did they know", Category: model.ViolationCompression, Severity: model.SeverityWarning, Description: "foreshadowing"},
			{Pattern: "little did he know", Category: model.ViolationCompression, Severity: model.SeverityWarning, Description: "foreshadowing"},
			{Pattern: "little did she know", Category: model.ViolationCompression, Severity: model.SeverityWarning, Description: "foreshadowing"},
			{Pattern: "from that day on", Category: model.ViolationCompression, Severity: model.SeverityWarning, Description: "narrative compression"},
			{Pattern: "would never forget", Category: model.ViolationCompression, Severity: model.SeverityWarning, Description: "foreshadowing"},
			{Pattern: "and so it was that", Category: model.ViolationCompression, Severity: model.SeverityWarning, Description: "narrative compression"},
			{Pattern: "to make a long story short", Category: model.ViolationCompression, Severity: model.SeverityWarning, Description: "narrative compression"},
		},
	}
	// Встроенная таблица всегда валидна
	if err := table.Compile(); err != nil {
		panic(fmt.Sprintf("guard: default rule table does not compile: %v", err))
	}
	return table
}
