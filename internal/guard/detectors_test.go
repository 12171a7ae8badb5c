package guard

import (
	"strings"
	"testing"

	"novel-guard/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailWindow(t *testing.T) {
	t.Run("short text returned whole", func(t *testing.T) {
		window, base := tailWindow([]byte("hello"), 1000)
		assert.Equal(t, "hello", window)
		assert.Equal(t, 0, base)
	})

	t.Run("long text cut to window", func(t *testing.T) {
		text := strings.Repeat("a", 1500)
		window, base := tailWindow([]byte(text), 1000)
		assert.Len(t, window, 1000)
		assert.Equal(t, 500, base)
	})

	t.Run("multibyte runes counted correctly", func(t *testing.T) {
		text := strings.Repeat("한", 10) // 3 байта на руну
		window, base := tailWindow([]byte(text), 4)
		assert.Equal(t, strings.Repeat("한", 4), window)
		assert.Equal(t, 18, base)
	})
}

func TestDetectRuleViolation(t *testing.T) {
	rules := DefaultRuleTable()

	t.Run("time jump phrase", func(t *testing.T) {
		window := "They talked for hours. The next morning, everything had changed."
		v := detectRuleViolation(window, 100, rules, model.ViolationTimeJump, 0)
		require.NotNil(t, v)
		assert.Equal(t, model.ViolationTimeJump, v.Category)
		assert.Equal(t, model.SeverityWarning, v.Severity)
		assert.Equal(t, 100+strings.Index(window, "The next morning"), v.Position)
	})

	t.Run("explicit elapsed time regex", func(t *testing.T) {
		v := detectRuleViolation("And then, 3 days later, the siege began.", 0, rules, model.ViolationTimeJump, 0)
		require.NotNil(t, v)
		assert.Equal(t, "3 days later", v.DetectedText)
	})

	t.Run("compression phrase", func(t *testing.T) {
		v := detectRuleViolation("In the end, none of it mattered.", 0, rules, model.ViolationCompression, 0)
		require.NotNil(t, v)
		assert.Equal(t, model.ViolationCompression, v.Category)
	})

	t.Run("clean window", func(t *testing.T) {
		assert.Nil(t, detectRuleViolation("He poured the tea and waited.", 0, rules, model.ViolationTimeJump, 0))
		assert.Nil(t, detectRuleViolation("He poured the tea and waited.", 0, rules, model.ViolationCompression, 0))
	})

	t.Run("offset resumes past earlier match", func(t *testing.T) {
		window := "The next morning it rained. The next morning it snowed."
		first := detectRuleViolation(window, 0, rules, model.ViolationTimeJump, 0)
		require.NotNil(t, first)
		assert.Equal(t, 0, first.Position)

		second := detectRuleViolation(window, 0, rules, model.ViolationTimeJump, first.Position+len(first.DetectedText))
		require.NotNil(t, second)
		assert.Equal(t, strings.LastIndex(window, "The next morning"), second.Position)

		assert.Nil(t, detectRuleViolation(window, 0, rules, model.ViolationTimeJump, second.Position+len(second.DetectedText)))
	})
}

func TestDetectUnauthorizedCharacter(t *testing.T) {
	scene := model.SceneDescriptor{
		AllowedCharacters: []string{"Arin", "Borin"},
		CharacterRoster:   []string{"Arin", "Borin", "Cedric", "X"},
	}

	t.Run("roster name outside scene", func(t *testing.T) {
		window := "Arin nodded. Then Cedric stepped out of the shadows."
		v := detectUnauthorizedCharacter(window, 0, &scene, map[string]struct{}{}, 0)
		require.NotNil(t, v)
		assert.Equal(t, "Cedric", v.DetectedText)
		assert.Equal(t, strings.Index(window, "Cedric"), v.Position)
	})

	t.Run("allowed characters do not fire", func(t *testing.T) {
		v := detectUnauthorizedCharacter("Arin and Borin kept arguing.", 0, &scene, map[string]struct{}{}, 0)
		assert.Nil(t, v)
	})

	t.Run("already flagged name skipped", func(t *testing.T) {
		flagged := map[string]struct{}{"Cedric": {}}
		v := detectUnauthorizedCharacter("Cedric again.", 0, &scene, flagged, 0)
		assert.Nil(t, v)
	})

	t.Run("single letter names too ambiguous", func(t *testing.T) {
		v := detectUnauthorizedCharacter("X marks the spot.", 0, &scene, map[string]struct{}{}, 0)
		assert.Nil(t, v)
	})

	t.Run("empty roster disables the check", func(t *testing.T) {
		empty := model.SceneDescriptor{AllowedCharacters: []string{"Arin"}}
		v := detectUnauthorizedCharacter("Cedric stepped in.", 0, &empty, map[string]struct{}{}, 0)
		assert.Nil(t, v)
	})
}

func TestDetectForbiddenKeyword(t *testing.T) {
	keywords := []string{"coronation", "the old mill", "i"}

	t.Run("keyword found", func(t *testing.T) {
		window := "She thought about the coronation to come."
		v := detectForbiddenKeyword(window, 50, keywords, 0)
		require.NotNil(t, v)
		assert.Equal(t, model.ViolationNextSceneLeak, v.Category)
		assert.Equal(t, "coronation", v.DetectedText)
		assert.Equal(t, 50+strings.Index(window, "coronation"), v.Position)
	})

	t.Run("short keywords skipped", func(t *testing.T) {
		assert.Nil(t, detectForbiddenKeyword("i was there", 0, []string{"i"}, 0))
	})

	t.Run("no keywords configured", func(t *testing.T) {
		assert.Nil(t, detectForbiddenKeyword("anything at all", 0, nil, 0))
	})
}

func TestCheckLengthBudget(t *testing.T) {
	t.Run("absolute ceiling", func(t *testing.T) {
		v := checkLengthBudget(AbsoluteMaxRunes, 0)
		require.NotNil(t, v)
		assert.Equal(t, model.ViolationScopeExceeded, v.Category)
		assert.Equal(t, model.SeverityCritical, v.Severity)
		assert.Contains(t, v.Description, "absolute ceiling")
	})

	t.Run("relative ceiling at 60 percent of target", func(t *testing.T) {
		// target 1000 -> порог 600
		assert.Nil(t, checkLengthBudget(599, 1000))
		v := checkLengthBudget(600, 1000)
		require.NotNil(t, v)
		assert.Contains(t, v.Description, "60%")
	})

	t.Run("target above ceiling clamps to ceiling", func(t *testing.T) {
		// min(10000, 6000) * 0.6 = 3600
		assert.Nil(t, checkLengthBudget(3599, 10000))
		assert.NotNil(t, checkLengthBudget(3600, 10000))
	})

	t.Run("zero target only enforces absolute ceiling", func(t *testing.T) {
		assert.Nil(t, checkLengthBudget(5999, 0))
		assert.NotNil(t, checkLengthBudget(6000, 0))
	})
}
