package guard

import (
	"os"
	"path/filepath"
	"testing"

	"novel-guard/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRuleTable(t *testing.T) {
	table := DefaultRuleTable()
	require.NotEmpty(t, table.Rules)

	// Обе категории представлены
	categories := map[model.ViolationCategory]bool{}
	for _, r := range table.Rules {
		categories[r.Category] = true
	}
	assert.True(t, categories[model.ViolationTimeJump])
	assert.True(t, categories[model.ViolationCompression])
}

func TestRuleTable_FindFirst(t *testing.T) {
	table := &RuleTable{Rules: []Rule{
		{Pattern: "much later", Category: model.ViolationTimeJump, Severity: model.SeverityWarning},
		{Pattern: "later", Category: model.ViolationTimeJump, Severity: model.SeverityWarning},
	}}
	require.NoError(t, table.Compile())

	// Первое правило таблицы побеждает, даже если второе матчится раньше в тексте.
	match, ok := table.FindFirst("later he came back much later", model.ViolationTimeJump, 0)
	require.True(t, ok)
	assert.Equal(t, "much later", match.Rule.Pattern)
	assert.Equal(t, 19, match.Position)

	_, ok = table.FindFirst("nothing here", model.ViolationTimeJump, 0)
	assert.False(t, ok)

	t.Run("offset skips earlier matches", func(t *testing.T) {
		window := "much later he slept, much later he woke"
		match, ok := table.FindFirst(window, model.ViolationTimeJump, 1)
		require.True(t, ok)
		assert.Equal(t, 21, match.Position)

		_, ok = table.FindFirst(window, model.ViolationTimeJump, len(window))
		assert.False(t, ok)
	})
}

func TestRuleTable_CaseInsensitive(t *testing.T) {
	table := DefaultRuleTable()
	match, ok := table.FindFirst("THE NEXT MORNING it was over", model.ViolationTimeJump, 0)
	require.True(t, ok)
	assert.Equal(t, "THE NEXT MORNING", match.Text)
}

func TestLoadRuleTable(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		content := `rules:
  - pattern: "세월이 흐른 뒤"
    category: time_jump
    severity: warning
    description: "korean elapsed-time phrase"
  - pattern: '\d+년 후'
    regex: true
    category: time_jump
    severity: warning
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		table, err := LoadRuleTable(path)
		require.NoError(t, err)
		require.Len(t, table.Rules, 2)

		match, ok := table.FindFirst("그리고 10년 후, 왕국은 무너졌다.", model.ViolationTimeJump, 0)
		require.True(t, ok)
		assert.Equal(t, "10년 후", match.Text)
	})

	t.Run("invalid regex", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		content := `rules:
  - pattern: "[unclosed"
    regex: true
    category: time_jump
    severity: warning
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		_, err := LoadRuleTable(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRuleTable("/nonexistent/rules.yaml")
		assert.Error(t, err)
	})
}
