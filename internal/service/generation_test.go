package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/gateway"
	"storybook-server/internal/mocks"
	"storybook-server/internal/prompts"
	"storybook-server/internal/schemas"
	"storybook-server/internal/service"
)

const characterJSON = `{"name":"Sam","description":"Sam is a brave little explorer who loves trains.","visual_traits":["curly red hair","yellow raincoat"],"personality":"curious and kind","fixed_outfit":"yellow raincoat and green boots","color_palette":["yellow","green"],"notes_for_illustrator":"always smiling"}`

func samConfig() domain.StoryConfig {
	return domain.StoryConfig{
		Theme:        domain.ThemeAnimals,
		Style:        domain.ArtStyleCute,
		Tone:         domain.ToneGentle,
		TotalPages:   6,
		ChildName:    "Sam",
		Favorites:    []string{"trains"},
		StrictSafety: true,
	}
}

func outlineJSON(title string, numbers ...int) string {
	pages := make([]domain.OutlinePage, 0, len(numbers))
	for _, n := range numbers {
		pages = append(pages, domain.OutlinePage{PageNumber: n, Summary: fmt.Sprintf("Summary of page %d", n)})
	}
	data, _ := json.Marshal(domain.Outline{Title: title, Pages: pages})
	return string(data)
}

func pageJSON(n int) string {
	return fmt.Sprintf(`{"pageNumber":%d,"text":"Page %d text about Sam and a train.","imagePrompt":"Sam waves at toy train stop #%d"}`, n, n, n)
}

func isCharacterPrompt(r gateway.TextRequest) bool {
	return strings.HasPrefix(r.UserPrompt, "Create the main character")
}

func isOutlinePrompt(r gateway.TextRequest) bool {
	return strings.HasPrefix(r.UserPrompt, "Plan a bedtime picture book")
}

func isPagePrompt(r gateway.TextRequest) bool {
	return strings.HasPrefix(r.UserPrompt, "Write page ")
}

func promptPageNumber(r gateway.TextRequest) int {
	var n, total int
	_, _ = fmt.Sscanf(r.UserPrompt, "Write page %d of %d", &n, &total)
	return n
}

func newGenerator(t *testing.T, ai gateway.AIClient) *service.Generator {
	t.Helper()
	composer, err := prompts.NewComposer(nil)
	require.NoError(t, err)
	return service.NewGenerator(ai, composer, zap.NewNop())
}

// recorder собирает снимки, полученные наблюдателем.
type recorder struct {
	mu        sync.Mutex
	snapshots []domain.RunSnapshot
}

func (r *recorder) observe(s domain.RunSnapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
	return true
}

func (r *recorder) details() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.snapshots {
		for _, st := range s.Steps {
			if st.ID == domain.StepPages && st.Detail != "" {
				out = append(out, st.Detail)
			}
		}
	}
	return out
}

func TestGenerator_Run_EndToEnd(t *testing.T) {
	ai := mocks.NewMockAIClient(t)

	ai.On("GenerateText", mock.Anything, mock.MatchedBy(func(r gateway.TextRequest) bool {
		return isCharacterPrompt(r) && r.Temperature == nil &&
			strings.HasSuffix(r.UserPrompt, prompts.SafetyNoteCharacter) &&
			strings.Contains(r.UserPrompt, "Sam") && strings.Contains(r.UserPrompt, "trains")
	})).Return(characterJSON, nil).Once()

	ai.On("GenerateText", mock.Anything, mock.MatchedBy(func(r gateway.TextRequest) bool {
		return isOutlinePrompt(r) && strings.Contains(r.UserPrompt, characterJSON) &&
			strings.HasSuffix(r.UserPrompt, prompts.SafetyNoteOutline)
	})).Return(outlineJSON("Sam and the Sleepy Train", 1, 2, 3, 4, 5, 6), nil).Once()

	ai.On("GenerateText", mock.Anything, mock.MatchedBy(func(r gateway.TextRequest) bool {
		return isPagePrompt(r) && r.Temperature != nil && *r.Temperature == service.PageTemperature &&
			strings.HasSuffix(r.UserPrompt, prompts.SafetyNotePage)
	})).Return(func(_ context.Context, r gateway.TextRequest) string {
		return pageJSON(promptPageNumber(r))
	}, nil).Times(6)

	ai.On("GenerateImage", mock.Anything, mock.MatchedBy(func(r gateway.ImageRequest) bool {
		return r.Size == "" && strings.Contains(r.Prompt, "curly red hair, yellow raincoat") &&
			strings.Contains(r.Prompt, prompts.MapArtStyle(domain.ArtStyleCute))
	})).Return(func(_ context.Context, r gateway.ImageRequest) string {
		idx := strings.Index(r.Prompt, "stop #") + len("stop #")
		return "https://images.example.com/" + r.Prompt[idx:idx+1] + ".png"
	}, nil).Times(6)

	rec := &recorder{}
	runID := uuid.New()
	snap, err := newGenerator(t, ai).Run(context.Background(), runID, samConfig(), rec.observe)

	require.NoError(t, err)
	assert.Equal(t, runID, snap.RunID)
	assert.True(t, snap.Complete)
	assert.True(t, snap.AllDone())
	assert.Empty(t, snap.Error)
	require.NotNil(t, snap.Character)
	assert.Equal(t, "Sam", snap.Character.Name)
	assert.Equal(t, characterJSON, snap.CharacterRaw)
	assert.Equal(t, "Sam and the Sleepy Train", snap.Title)
	require.Len(t, snap.Outline, 6)

	require.Len(t, snap.Pages, 6)
	for i, page := range snap.Pages {
		assert.Equal(t, i+1, page.PageNumber)
		assert.NotEmpty(t, page.Text)
		assert.Equal(t, fmt.Sprintf("https://images.example.com/%d.png", i+1), page.ImageURL)
	}

	details := rec.details()
	assert.Equal(t, "Writing pages...", details[0])
	assert.Contains(t, details, "Writing page 3 of 6")
	assert.Contains(t, details, "Drawing page 3 of 6")
	assert.Equal(t, "All pages generated", details[len(details)-1])

	// частичные результаты видны после каждой страницы
	seen := map[int]bool{}
	for _, s := range rec.snapshots {
		seen[len(s.Pages)] = true
	}
	for n := 0; n <= 6; n++ {
		assert.True(t, seen[n], "snapshot with %d pages", n)
	}
}

func TestGenerator_Run_OutlineParseFailure(t *testing.T) {
	ai := mocks.NewMockAIClient(t)
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(isCharacterPrompt)).Return(characterJSON, nil).Once()
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(isOutlinePrompt)).Return("Once upon a time, no JSON here", nil).Once()

	cfg := samConfig()
	cfg.StrictSafety = false
	snap, err := newGenerator(t, ai).Run(context.Background(), uuid.New(), cfg, nil)

	var parseErr *domain.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "Your Cozy Story", snap.Title)
	assert.Empty(t, snap.Outline)
	assert.NotNil(t, snap.Outline)
	assert.Equal(t, domain.StepDone, snap.StepState(domain.StepCharacter))
	assert.Equal(t, domain.StepDone, snap.StepState(domain.StepOutline))
	assert.Equal(t, domain.StepError, snap.StepState(domain.StepPages))
	assert.False(t, snap.Complete)
}

func TestGenerator_Run_PageParseFailure(t *testing.T) {
	ai := mocks.NewMockAIClient(t)
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(isCharacterPrompt)).Return(characterJSON, nil).Once()
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(isOutlinePrompt)).Return(outlineJSON("Trains", 1, 2, 3, 4, 5, 6), nil).Once()
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(func(r gateway.TextRequest) bool {
		return isPagePrompt(r) && promptPageNumber(r) == 1
	})).Return(pageJSON(1), nil).Once()
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(func(r gateway.TextRequest) bool {
		return isPagePrompt(r) && promptPageNumber(r) == 2
	})).Return("Sorry, I cannot write JSON today.", nil).Once()
	ai.On("GenerateImage", mock.Anything, mock.Anything).Return("https://images.example.com/1.png", nil).Once()

	snap, err := newGenerator(t, ai).Run(context.Background(), uuid.New(), samConfig(), nil)

	var parseErr *domain.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "Could not parse generated page JSON", snap.Error)
	assert.Equal(t, domain.StepDone, snap.StepState(domain.StepCharacter))
	assert.Equal(t, domain.StepDone, snap.StepState(domain.StepOutline))
	assert.Equal(t, domain.StepError, snap.StepState(domain.StepPages))
	require.NotNil(t, snap.Character)
	assert.Len(t, snap.Outline, 6)
	require.Len(t, snap.Pages, 1)
	assert.Equal(t, 1, snap.Pages[0].PageNumber)
}

func TestGenerator_Run_ProviderFailure(t *testing.T) {
	ai := mocks.NewMockAIClient(t)
	providerErr := domain.NewProviderError("generate text", "No content returned from OpenAI", domain.ErrEmptyCompletion)
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(isCharacterPrompt)).Return("", providerErr).Once()

	rec := &recorder{}
	snap, err := newGenerator(t, ai).Run(context.Background(), uuid.New(), samConfig(), rec.observe)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmptyCompletion)
	assert.Equal(t, domain.StepError, snap.StepState(domain.StepCharacter))
	assert.Equal(t, domain.StepPending, snap.StepState(domain.StepOutline))
	assert.Equal(t, domain.StepPending, snap.StepState(domain.StepPages))
	assert.Equal(t, providerErr.Error(), snap.Error)

	last := rec.snapshots[len(rec.snapshots)-1]
	assert.Equal(t, domain.StepError, last.StepState(domain.StepCharacter))
}

func TestGenerator_Run_ImageFailure(t *testing.T) {
	ai := mocks.NewMockAIClient(t)
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(isCharacterPrompt)).Return(characterJSON, nil).Once()
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(isOutlinePrompt)).Return(outlineJSON("Trains", 1, 2, 3, 4, 5, 6), nil).Once()
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(isPagePrompt)).Return(pageJSON(1), nil).Once()
	ai.On("GenerateImage", mock.Anything, mock.Anything).
		Return("", domain.NewProviderError("generate image", "no image URL or inline data returned", domain.ErrEmptyImage)).Once()

	snap, err := newGenerator(t, ai).Run(context.Background(), uuid.New(), samConfig(), nil)

	assert.ErrorIs(t, err, domain.ErrEmptyImage)
	assert.Equal(t, domain.StepError, snap.StepState(domain.StepPages))
	assert.Empty(t, snap.Pages)
}

func TestGenerator_Run_OutlineOrderAndCoverage(t *testing.T) {
	t.Run("entries are processed in ascending order", func(t *testing.T) {
		ai := mocks.NewMockAIClient(t)
		ai.On("GenerateText", mock.Anything, mock.MatchedBy(isCharacterPrompt)).Return(characterJSON, nil).Once()
		ai.On("GenerateText", mock.Anything, mock.MatchedBy(isOutlinePrompt)).Return(outlineJSON("Trains", 6, 5, 4, 3, 2, 1), nil).Once()

		var order []int
		ai.On("GenerateText", mock.Anything, mock.MatchedBy(isPagePrompt)).Return(func(_ context.Context, r gateway.TextRequest) string {
			n := promptPageNumber(r)
			order = append(order, n)
			return pageJSON(n)
		}, nil).Times(6)
		ai.On("GenerateImage", mock.Anything, mock.Anything).Return("data:image/png;base64,aGk=", nil).Times(6)

		snap, err := newGenerator(t, ai).Run(context.Background(), uuid.New(), samConfig(), nil)

		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, order)
		assert.Len(t, snap.Pages, 6)
	})

	tests := []struct {
		name    string
		numbers []int
		message string
	}{
		{"short outline", []int{1, 2, 3, 4, 5}, "Outline produced 5 pages, expected 6"},
		{"long outline", []int{1, 2, 3, 4, 5, 6, 7}, "Outline produced 7 pages, expected 6"},
		{"gap in numbering", []int{1, 2, 3, 4, 5, 7}, "Outline page numbers must run 1..6 without gaps, got 7 at position 6"},
		{"duplicate number", []int{1, 2, 2, 3, 4, 5}, "Outline page numbers must run 1..6 without gaps, got 2 at position 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name+" fails before any page is requested", func(t *testing.T) {
			ai := mocks.NewMockAIClient(t)
			ai.On("GenerateText", mock.Anything, mock.MatchedBy(isCharacterPrompt)).Return(characterJSON, nil).Once()
			ai.On("GenerateText", mock.Anything, mock.MatchedBy(isOutlinePrompt)).Return(outlineJSON("Trains", tt.numbers...), nil).Once()

			rec := &recorder{}
			snap, err := newGenerator(t, ai).Run(context.Background(), uuid.New(), samConfig(), rec.observe)

			var parseErr *domain.ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, string(domain.StepPages), parseErr.Stage)
			assert.Equal(t, tt.message, parseErr.Message)
			assert.Equal(t, domain.StepError, snap.StepState(domain.StepPages))
			assert.Empty(t, snap.Pages)
			assert.False(t, snap.Complete)
			assert.NotContains(t, rec.details(), "Writing page 1 of 6")
			ai.AssertNotCalled(t, "GenerateImage", mock.Anything, mock.Anything)
			ai.AssertNumberOfCalls(t, "GenerateText", 2)
		})
	}
}

func TestGenerator_Run_ObserverDetaches(t *testing.T) {
	ai := mocks.NewMockAIClient(t)
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(isCharacterPrompt)).Return(characterJSON, nil).Once()

	observe := func(s domain.RunSnapshot) bool {
		return s.StepState(domain.StepCharacter) != domain.StepDone
	}
	snap, err := newGenerator(t, ai).Run(context.Background(), uuid.New(), samConfig(), observe)

	assert.ErrorIs(t, err, domain.ErrRunDiscarded)
	assert.Equal(t, characterJSON, snap.CharacterRaw)
	assert.Equal(t, domain.StepPending, snap.StepState(domain.StepOutline))
}

func TestGenerator_Run_ObserverDetachesOnLastStep(t *testing.T) {
	ai := mocks.NewMockAIClient(t)
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(isCharacterPrompt)).Return(characterJSON, nil).Once()
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(isOutlinePrompt)).Return(outlineJSON("Trains", 1, 2, 3, 4, 5, 6), nil).Once()
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(isPagePrompt)).Return(func(_ context.Context, r gateway.TextRequest) string {
		return pageJSON(promptPageNumber(r))
	}, nil).Times(6)
	ai.On("GenerateImage", mock.Anything, mock.Anything).Return("https://images.example.com/x.png", nil).Times(6)

	observe := func(s domain.RunSnapshot) bool {
		return s.StepState(domain.StepPages) != domain.StepDone
	}
	snap, err := newGenerator(t, ai).Run(context.Background(), uuid.New(), samConfig(), observe)

	assert.ErrorIs(t, err, domain.ErrRunDiscarded)
	assert.False(t, snap.Complete)
	assert.Len(t, snap.Pages, 6)
}

func TestGenerator_GeneratePage_NumberFromOutlineEntry(t *testing.T) {
	ai := mocks.NewMockAIClient(t)
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(isPagePrompt)).
		Return(`{"pageNumber":99,"text":"Hello","imagePrompt":"A bunny in bed","imageUrl":"https://spoofed"}`, nil).Once()

	entry := domain.OutlinePage{PageNumber: 4, Summary: "The bunny yawns"}
	page, err := newGenerator(t, ai).GeneratePage(context.Background(), samConfig(), characterJSON, []domain.OutlinePage{entry}, entry)

	require.NoError(t, err)
	assert.Equal(t, 4, page.PageNumber)
	assert.Equal(t, "Hello", page.Text)
	assert.Empty(t, page.ImageURL)
}

func TestGenerator_GenerateCharacter_RawFallback(t *testing.T) {
	ai := mocks.NewMockAIClient(t)
	ai.On("GenerateText", mock.Anything, mock.MatchedBy(func(r gateway.TextRequest) bool {
		return isCharacterPrompt(r) && !strings.Contains(r.UserPrompt, "Reminder:")
	})).Return("A fluffy bunny named Pip.", nil).Once()

	cfg := samConfig()
	cfg.StrictSafety = false
	got, err := newGenerator(t, ai).GenerateCharacter(context.Background(), cfg)

	require.NoError(t, err)
	assert.Nil(t, got.Sheet)
	assert.Equal(t, "A fluffy bunny named Pip.", got.Raw)
	assert.Equal(t, "A fluffy bunny named Pip.", got.Ref().Raw)
}

func TestCharacterResult_Ref(t *testing.T) {
	t.Run("sheet without visual traits keeps the model JSON", func(t *testing.T) {
		raw := "```json\n{\"name\": \"Pip\", \"fur\": \"silver\", \"favorite_snack\": \"clover\"}\n```"
		parsed := schemas.ParseCharacterSheet(raw)
		require.True(t, parsed.Parsed())

		ref := service.CharacterResult{Raw: raw, Sheet: parsed.Value}.Ref()

		assert.Nil(t, ref.Sheet)
		assert.JSONEq(t, `{"name":"Pip","fur":"silver","favorite_snack":"clover"}`, string(ref.Structured))
		assert.NotContains(t, string(ref.Structured), "visual_traits")
		assert.NotContains(t, string(ref.Structured), "```")
	})

	t.Run("sheet with visual traits", func(t *testing.T) {
		parsed := schemas.ParseCharacterSheet(characterJSON)
		require.True(t, parsed.Parsed())

		ref := service.CharacterResult{Raw: characterJSON, Sheet: parsed.Value}.Ref()

		require.NotNil(t, ref.Sheet)
		assert.Empty(t, ref.Structured)
		assert.Contains(t, ref.VisualTraits(), "yellow raincoat")
	})
}

func TestGenerator_IllustratePage(t *testing.T) {
	ai := mocks.NewMockAIClient(t)
	ai.On("GenerateImage", mock.Anything, mock.MatchedBy(func(r gateway.ImageRequest) bool {
		return r.Size == "512x512" &&
			strings.Contains(r.Prompt, "A bunny waves goodnight") &&
			strings.Contains(r.Prompt, prompts.MapArtStyle(domain.ArtStyleWatercolor)) &&
			strings.Contains(r.Prompt, "long floppy ears")
	})).Return("https://images.example.com/p.png", nil).Once()

	ref := domain.CharacterRef{Raw: "long floppy ears"}
	got, err := newGenerator(t, ai).IllustratePage(context.Background(), domain.ArtStyleWatercolor, "A bunny waves goodnight", ref, "512x512")

	require.NoError(t, err)
	assert.Equal(t, "https://images.example.com/p.png", got)
}
