package prompts_test

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook-server/internal/domain"
	"storybook-server/internal/prompts"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		prompts.StorySystemPromptFile:   {Data: []byte("STORY SYSTEM")},
		prompts.ImageSystemPromptFile:   {Data: []byte("IMAGE SYSTEM")},
		prompts.CharacterSheetTemplate:  {Data: []byte("theme={{theme}} name={{childName}} fav={{favoritesList}} lesson={{lessonOfTheDay}} tone={{tone}} style={{artStyle}}")},
		prompts.OutlineTemplate:         {Data: []byte("sheet={{characterSheet}} pages={{totalPages}} name={{childName}}")},
		prompts.PageTemplate:            {Data: []byte("page {{pageNumber}}/{{totalPages}} summary={{pageSummary}}\n{{outlineJson}}")},
		prompts.ImagePromptWrapperNotes: {Data: []byte("Scene:   {{imagePrompt}}\n\n\tStyle: {{mappedStyle}}\n Traits: {{characterVisualTraits}}  \n")},
	}
}

func newComposer(t *testing.T) *prompts.Composer {
	t.Helper()
	c, err := prompts.NewComposer(testFS())
	require.NoError(t, err)
	return c
}

func TestReplacePlaceholders(t *testing.T) {
	t.Run("substitutes every occurrence", func(t *testing.T) {
		got := prompts.ReplacePlaceholders("{{a}} and {{a}} and {{b}}", map[string]string{"a": "x", "b": "y"})
		assert.Equal(t, "x and x and y", got)
	})

	t.Run("unknown key becomes empty string", func(t *testing.T) {
		got := prompts.ReplacePlaceholders("hello {{missing}}!", map[string]string{})
		assert.Equal(t, "hello !", got)
	})

	t.Run("deterministic", func(t *testing.T) {
		values := map[string]string{"name": "Sam"}
		first := prompts.ReplacePlaceholders("hi {{name}} {{other}}", values)
		second := prompts.ReplacePlaceholders("hi {{name}} {{other}}", values)
		assert.Equal(t, first, second)
	})

	t.Run("non-word placeholders are left alone", func(t *testing.T) {
		got := prompts.ReplacePlaceholders("{{ spaced }} {{a-b}}", map[string]string{"spaced": "x"})
		assert.Equal(t, "{{ spaced }} {{a-b}}", got)
	})
}

func TestNewComposer_MissingTemplate(t *testing.T) {
	fsys := testFS()
	delete(fsys, prompts.PageTemplate)

	_, err := prompts.NewComposer(fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), prompts.PageTemplate)
}

func TestNewComposer_EmbeddedTemplates(t *testing.T) {
	c, err := prompts.NewComposer(nil)
	require.NoError(t, err)

	cfg := domain.StoryConfig{Theme: domain.ThemeSpace, Style: domain.ArtStyleCartoon, Tone: domain.ToneSilly, TotalPages: 8}
	assert.NotContains(t, c.BuildCharacterPrompt(cfg), "{{")
	assert.NotContains(t, c.BuildOutlinePrompt(cfg, "a brave little rocket"), "{{")
	assert.NotEmpty(t, c.StorySystemPrompt())
	assert.NotEmpty(t, c.ImageSystemPrompt())
}

func TestBuildCharacterPrompt_Defaults(t *testing.T) {
	c := newComposer(t)

	got := c.BuildCharacterPrompt(domain.StoryConfig{
		Theme: domain.ThemeAnimals,
		Style: domain.ArtStyleWatercolor,
		Tone:  domain.ToneGentle,
	})

	assert.Equal(t, "theme=animals name=the child fav=none provided lesson=a gentle bedtime lesson tone=gentle style=watercolor", got)
}

func TestBuildCharacterPrompt_Values(t *testing.T) {
	c := newComposer(t)

	got := c.BuildCharacterPrompt(domain.StoryConfig{
		Theme:          domain.ThemeDinosaurs,
		Style:          domain.ArtStyleCute,
		Tone:           domain.ToneSilly,
		ChildName:      "Sam",
		Favorites:      []string{"trains", "", "rain boots"},
		LessonOfTheDay: "sharing",
	})

	assert.Equal(t, "theme=dinosaurs name=Sam fav=trains, rain boots lesson=sharing tone=silly style=cute", got)
}

func TestBuildOutlinePrompt(t *testing.T) {
	c := newComposer(t)

	got := c.BuildOutlinePrompt(domain.StoryConfig{TotalPages: 6, ChildName: "Mia"}, `{"name":"Pip"}`)

	assert.Equal(t, `sheet={"name":"Pip"} pages=6 name=Mia`, got)
}

func TestBuildPagePrompt(t *testing.T) {
	c := newComposer(t)
	outline := []domain.OutlinePage{
		{PageNumber: 1, Summary: "Pip wakes up & stretches"},
		{PageNumber: 2, Summary: "Pip goes to sleep"},
	}

	got := c.BuildPagePrompt(domain.StoryConfig{TotalPages: 2}, "sheet", outline, 2, outline[1])

	expected := "page 2/2 summary=Pip goes to sleep\n" +
		"[\n" +
		"  {\n" +
		"    \"pageNumber\": 1,\n" +
		"    \"summary\": \"Pip wakes up & stretches\"\n" +
		"  },\n" +
		"  {\n" +
		"    \"pageNumber\": 2,\n" +
		"    \"summary\": \"Pip goes to sleep\"\n" +
		"  }\n" +
		"]"
	assert.Equal(t, expected, got)
}

func TestMapArtStyle(t *testing.T) {
	assert.Contains(t, prompts.MapArtStyle(domain.ArtStyleCute), "bright pastels")
	assert.Contains(t, prompts.MapArtStyle(domain.ArtStyleWatercolor), "soft watercolor textures")
	assert.Contains(t, prompts.MapArtStyle(domain.ArtStyleCartoon), "bold outlines, flat colors")
	assert.Equal(t, prompts.MapArtStyle(domain.ArtStyleCute), prompts.MapArtStyle("pixel-art"))
}

func TestBuildWrappedImagePrompt(t *testing.T) {
	c := newComposer(t)

	t.Run("visual traits from sheet", func(t *testing.T) {
		ref := domain.CharacterRef{Sheet: &domain.CharacterSheet{VisualTraits: []string{"red scarf", "round ears"}}}
		got := c.BuildWrappedImagePrompt("a  cozy\nden", domain.ArtStyleCartoon, ref)
		assert.Equal(t, "Scene: a cozy den Style: "+prompts.MapArtStyle(domain.ArtStyleCartoon)+" Traits: red scarf, round ears", got)
	})

	t.Run("raw string is used as is", func(t *testing.T) {
		got := c.BuildWrappedImagePrompt("moon", domain.ArtStyleCute, domain.CharacterRef{Raw: "a small fox"})
		assert.True(t, strings.HasSuffix(got, "Traits: a small fox"))
		assert.NotContains(t, got, "  ")
	})

	t.Run("structured value is serialized", func(t *testing.T) {
		ref := domain.CharacterRefFromJSON([]byte(`{"name": "Pip", "age": 3}`))
		got := c.BuildWrappedImagePrompt("moon", domain.ArtStyleCute, ref)
		assert.True(t, strings.HasSuffix(got, `Traits: {"name":"Pip","age":3}`))
	})

	t.Run("final prompt prefixes image system prompt", func(t *testing.T) {
		got := c.FinalImagePrompt("moon", domain.ArtStyleCute, domain.CharacterRef{Raw: "fox"})
		assert.True(t, strings.HasPrefix(got, "IMAGE SYSTEM\n\nScene: moon"))
	})
}
