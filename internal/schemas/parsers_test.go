package schemas_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook-server/internal/domain"
	"storybook-server/internal/schemas"
)

func TestParseCharacterSheet(t *testing.T) {
	t.Run("valid json", func(t *testing.T) {
		raw := `{"name":"Pip","description":"A small fox","visual_traits":["orange fur","blue scarf"],"personality":"kind","fixed_outfit":"blue scarf","color_palette":["orange","blue"],"notes_for_illustrator":"always smiling"}`

		got := schemas.ParseCharacterSheet(raw)

		require.True(t, got.Parsed())
		assert.Equal(t, "Pip", got.Value.Name)
		assert.Equal(t, []string{"orange fur", "blue scarf"}, got.Value.VisualTraits)
		assert.Equal(t, raw, got.Raw)
	})

	t.Run("fenced json", func(t *testing.T) {
		got := schemas.ParseCharacterSheet("```json\n{\"name\":\"Pip\"}\n```")

		require.True(t, got.Parsed())
		assert.Equal(t, "Pip", got.Value.Name)
	})

	t.Run("malformed keeps raw text", func(t *testing.T) {
		raw := "Pip is a small fox with orange fur."

		got := schemas.ParseCharacterSheet(raw)

		assert.False(t, got.Parsed())
		assert.Nil(t, got.Value)
		assert.Equal(t, raw, got.Raw)
	})

	t.Run("null is not a sheet", func(t *testing.T) {
		assert.False(t, schemas.ParseCharacterSheet("null").Parsed())
	})
}

func TestParseOutline(t *testing.T) {
	t.Run("valid json", func(t *testing.T) {
		raw := `{"title":"Pip and the Moon","pages":[{"pageNumber":1,"summary":"Pip wakes"},{"pageNumber":2,"summary":"Pip sleeps"}]}`

		got := schemas.OutlineOrDefault(schemas.ParseOutline(raw))

		assert.Equal(t, "Pip and the Moon", got.Title)
		require.Len(t, got.Pages, 2)
		assert.Equal(t, 2, got.Pages[1].PageNumber)
	})

	t.Run("malformed falls back to default", func(t *testing.T) {
		parsed := schemas.ParseOutline("Once upon a time...")

		assert.False(t, parsed.Parsed())
		assert.Equal(t, "Once upon a time...", parsed.Raw)

		got := schemas.OutlineOrDefault(parsed)
		assert.Equal(t, schemas.DefaultOutlineTitle, got.Title)
		assert.Equal(t, "Your Cozy Story", got.Title)
		assert.NotNil(t, got.Pages)
		assert.Empty(t, got.Pages)
	})

	t.Run("default is idempotent", func(t *testing.T) {
		first := schemas.OutlineOrDefault(schemas.ParseOutline("nope"))
		second := schemas.OutlineOrDefault(schemas.ParseOutline("nope"))
		assert.Equal(t, first, second)
	})

	t.Run("missing title uses default", func(t *testing.T) {
		got := schemas.OutlineOrDefault(schemas.ParseOutline(`{"pages":[{"pageNumber":1,"summary":"x"}]}`))

		assert.Equal(t, schemas.DefaultOutlineTitle, got.Title)
		assert.Len(t, got.Pages, 1)
	})
}

func TestParsePage(t *testing.T) {
	t.Run("valid json", func(t *testing.T) {
		got, err := schemas.ParsePage(`{"pageNumber":3,"text":"Pip yawns.","imagePrompt":"Pip yawning under the moon"}`)

		require.NoError(t, err)
		assert.Equal(t, domain.GeneratedPage{PageNumber: 3, Text: "Pip yawns.", ImagePrompt: "Pip yawning under the moon"}, got)
	})

	t.Run("malformed is a parse error", func(t *testing.T) {
		_, err := schemas.ParsePage("Pip yawns under the moon.")

		require.Error(t, err)
		var parseErr *domain.ParseError
		require.True(t, errors.As(err, &parseErr))
		assert.Equal(t, "Could not parse generated page JSON", parseErr.Error())
		assert.Equal(t, "pages", parseErr.Stage)
	})

	t.Run("missing fields is a parse error", func(t *testing.T) {
		_, err := schemas.ParsePage(`{"pageNumber":1}`)

		var parseErr *domain.ParseError
		assert.True(t, errors.As(err, &parseErr))
	})
}
