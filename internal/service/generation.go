package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/gateway"
	"storybook-server/internal/prompts"
	"storybook-server/internal/schemas"
)

// PageTemperature температура этапа страниц. Остальные этапы используют gateway.DefaultTemperature.
const PageTemperature = 0.9

// Observer получает копию снимка после каждого перехода.
// false означает, что наблюдатель отключился: запуск останавливается
// после уже отправленного запроса, его результат отбрасывается.
type Observer func(snapshot domain.RunSnapshot) bool

// CharacterResult результат этапа персонажа.
type CharacterResult struct {
	Raw   string
	Sheet *domain.CharacterSheet
}

// Ref ссылка на персонажа для этапа иллюстрации: разобранный лист, JSON модели или сырой текст.
func (r CharacterResult) Ref() domain.CharacterRef {
	if r.Sheet == nil {
		return domain.CharacterRefFromSheet(nil, r.Raw)
	}
	return domain.CharacterRefFromSheet(r.Sheet, schemas.StripCodeFence(r.Raw))
}

// OutlineResult результат этапа плана. Title и Pages уже с подставленными значениями по умолчанию.
type OutlineResult struct {
	Title  string
	Pages  []domain.OutlinePage
	Raw    string
	Parsed bool
}

// Generator выполняет этапы генерации книги и ведет машину состояний запуска.
type Generator struct {
	ai      gateway.AIClient
	prompts *prompts.Composer
	logger  *zap.Logger
}

// NewGenerator создает генератор. Клиент провайдера разделяется между всеми запусками.
func NewGenerator(ai gateway.AIClient, composer *prompts.Composer, logger *zap.Logger) *Generator {
	return &Generator{
		ai:      ai,
		prompts: composer,
		logger:  logger.Named("Generator"),
	}
}

// GenerateCharacter запрашивает лист персонажа. Неразбираемый ответ не ошибка.
func (g *Generator) GenerateCharacter(ctx context.Context, cfg domain.StoryConfig) (CharacterResult, error) {
	userPrompt := g.prompts.BuildCharacterPrompt(cfg)
	if cfg.StrictSafety {
		userPrompt += prompts.SafetyNoteCharacter
	}

	completion, err := g.ai.GenerateText(ctx, gateway.TextRequest{
		SystemPrompt: g.prompts.StorySystemPrompt(),
		UserPrompt:   userPrompt,
	})
	if err != nil {
		return CharacterResult{}, err
	}

	parsed := schemas.ParseCharacterSheet(completion)
	if !parsed.Parsed() {
		g.logger.Warn("Character sheet is not valid JSON, keeping raw text", zap.Int("length", len(completion)))
	}
	return CharacterResult{Raw: completion, Sheet: parsed.Value}, nil
}

// GenerateOutline запрашивает план книги по сырому листу персонажа.
func (g *Generator) GenerateOutline(ctx context.Context, cfg domain.StoryConfig, characterRaw string) (OutlineResult, error) {
	userPrompt := g.prompts.BuildOutlinePrompt(cfg, characterRaw)
	if cfg.StrictSafety {
		userPrompt += prompts.SafetyNoteOutline
	}

	completion, err := g.ai.GenerateText(ctx, gateway.TextRequest{
		SystemPrompt: g.prompts.StorySystemPrompt(),
		UserPrompt:   userPrompt,
	})
	if err != nil {
		return OutlineResult{}, err
	}

	parsed := schemas.ParseOutline(completion)
	if !parsed.Parsed() {
		g.logger.Warn("Outline is not valid JSON, using default title and empty outline", zap.Int("length", len(completion)))
	}
	outline := schemas.OutlineOrDefault(parsed)
	return OutlineResult{
		Title:  outline.Title,
		Pages:  outline.Pages,
		Raw:    completion,
		Parsed: parsed.Parsed(),
	}, nil
}

// GeneratePage пишет текст одной страницы. Номер страницы берется из записи плана.
func (g *Generator) GeneratePage(ctx context.Context, cfg domain.StoryConfig, characterRaw string, outline []domain.OutlinePage, entry domain.OutlinePage) (domain.GeneratedPage, error) {
	userPrompt := g.prompts.BuildPagePrompt(cfg, characterRaw, outline, entry.PageNumber, entry)
	if cfg.StrictSafety {
		userPrompt += prompts.SafetyNotePage
	}

	completion, err := g.ai.GenerateText(ctx, gateway.TextRequest{
		SystemPrompt: g.prompts.StorySystemPrompt(),
		UserPrompt:   userPrompt,
		Temperature:  gateway.Temperature(PageTemperature),
	})
	if err != nil {
		return domain.GeneratedPage{}, err
	}

	page, err := schemas.ParsePage(completion)
	if err != nil {
		g.logger.Error("Failed to parse generated page", zap.Int("page", entry.PageNumber), zap.Error(err))
		return domain.GeneratedPage{}, err
	}
	page.PageNumber = entry.PageNumber
	page.ImageURL = ""
	return page, nil
}

// IllustratePage рисует иллюстрацию страницы и возвращает ссылку на изображение.
// Пустой size означает размер по умолчанию.
func (g *Generator) IllustratePage(ctx context.Context, style domain.ArtStyle, imagePrompt string, character domain.CharacterRef, size string) (string, error) {
	return g.ai.GenerateImage(ctx, gateway.ImageRequest{
		Prompt: g.prompts.FinalImagePrompt(imagePrompt, style, character),
		Size:   size,
	})
}

// Run выполняет запуск целиком: персонаж, план, затем текст и иллюстрация каждой страницы.
// Этапы строго последовательны. При ошибке активный этап переводится в error,
// завершенные этапы и уже готовые страницы остаются в снимке.
func (g *Generator) Run(ctx context.Context, runID uuid.UUID, cfg domain.StoryConfig, observe Observer) (domain.RunSnapshot, error) {
	r := &runState{
		snap: domain.RunSnapshot{
			RunID:   runID,
			Config:  cfg,
			Steps:   domain.InitialSteps(),
			Outline: []domain.OutlinePage{},
			Pages:   []domain.GeneratedPage{},
		},
		observe: observe,
	}
	logger := g.logger.With(zap.String("run_id", runID.String()))
	startTime := time.Now()
	logger.Info("Generation run started",
		zap.String("theme", string(cfg.Theme)),
		zap.String("style", string(cfg.Style)),
		zap.Int("total_pages", cfg.TotalPages),
	)

	finish := func(err error) (domain.RunSnapshot, error) {
		duration := time.Since(startTime)
		switch {
		case err == nil:
			runsTotal.WithLabelValues(runStatusCompleted).Inc()
			runDuration.Observe(duration.Seconds())
			logger.Info("Generation run completed", zap.Duration("duration", duration), zap.Int("pages", len(r.snap.Pages)))
		case r.detached:
			runsTotal.WithLabelValues(runStatusDiscarded).Inc()
			logger.Info("Generation run discarded by observer", zap.Duration("duration", duration))
		default:
			runsTotal.WithLabelValues(runStatusFailed).Inc()
			logger.Error("Generation run failed", zap.Duration("duration", duration), zap.Error(err))
		}
		return r.snap.Clone(), err
	}

	// 1. Персонаж
	stageStart := time.Now()
	if !r.setStep(domain.StepCharacter, domain.StepActive, "") {
		return finish(domain.ErrRunDiscarded)
	}
	character, err := g.GenerateCharacter(ctx, cfg)
	if err != nil {
		return finish(r.fail(err))
	}
	r.snap.CharacterRaw = character.Raw
	r.snap.Character = character.Sheet
	stageDuration.WithLabelValues(string(domain.StepCharacter)).Observe(time.Since(stageStart).Seconds())
	if !r.setStep(domain.StepCharacter, domain.StepDone, "") {
		return finish(domain.ErrRunDiscarded)
	}

	// 2. План
	stageStart = time.Now()
	if !r.setStep(domain.StepOutline, domain.StepActive, "") {
		return finish(domain.ErrRunDiscarded)
	}
	outline, err := g.GenerateOutline(ctx, cfg, character.Raw)
	if err != nil {
		return finish(r.fail(err))
	}
	r.snap.Title = outline.Title
	r.snap.Outline = outline.Pages
	stageDuration.WithLabelValues(string(domain.StepOutline)).Observe(time.Since(stageStart).Seconds())
	if !r.setStep(domain.StepOutline, domain.StepDone, "") {
		return finish(domain.ErrRunDiscarded)
	}

	// 3. Страницы
	stageStart = time.Now()
	if !r.setStep(domain.StepPages, domain.StepActive, "Writing pages...") {
		return finish(domain.ErrRunDiscarded)
	}
	entries := slices.Clone(outline.Pages)
	slices.SortStableFunc(entries, func(a, b domain.OutlinePage) int {
		return cmp.Compare(a.PageNumber, b.PageNumber)
	})
	if err := checkOutline(entries, cfg.TotalPages); err != nil {
		return finish(r.fail(err))
	}
	characterRef := character.Ref()

	for _, entry := range entries {
		if !r.setStep(domain.StepPages, domain.StepActive, fmt.Sprintf("Writing page %d of %d", entry.PageNumber, cfg.TotalPages)) {
			return finish(domain.ErrRunDiscarded)
		}
		page, err := g.GeneratePage(ctx, cfg, character.Raw, outline.Pages, entry)
		if err != nil {
			return finish(r.fail(err))
		}

		if !r.setStep(domain.StepPages, domain.StepActive, fmt.Sprintf("Drawing page %d of %d", entry.PageNumber, cfg.TotalPages)) {
			return finish(domain.ErrRunDiscarded)
		}
		imageURL, err := g.IllustratePage(ctx, cfg.Style, page.ImagePrompt, characterRef, "")
		if err != nil {
			return finish(r.fail(err))
		}
		page.ImageURL = imageURL

		r.snap.Pages = append(r.snap.Pages, page)
		pagesGenerated.Inc()
		logger.Debug("Page generated", zap.Int("page", page.PageNumber))
		if !r.publish() {
			return finish(domain.ErrRunDiscarded)
		}
	}

	if err := checkPages(r.snap.Pages, cfg.TotalPages); err != nil {
		return finish(r.fail(err))
	}
	stageDuration.WithLabelValues(string(domain.StepPages)).Observe(time.Since(stageStart).Seconds())

	r.snap.Complete = true
	if !r.setStep(domain.StepPages, domain.StepDone, "All pages generated") {
		r.snap.Complete = false
		return finish(domain.ErrRunDiscarded)
	}
	return finish(nil)
}

// checkOutline проверяет отсортированный план до первого обращения к провайдеру.
func checkOutline(entries []domain.OutlinePage, total int) error {
	if len(entries) != total {
		return &domain.ParseError{
			Stage:   string(domain.StepPages),
			Message: fmt.Sprintf("Outline produced %d pages, expected %d", len(entries), total),
		}
	}
	for i, entry := range entries {
		if entry.PageNumber != i+1 {
			return &domain.ParseError{
				Stage:   string(domain.StepPages),
				Message: fmt.Sprintf("Outline page numbers must run 1..%d without gaps, got %d at position %d", total, entry.PageNumber, i+1),
			}
		}
	}
	return nil
}

// checkPages проверяет собранную книгу: страницы 1..total по порядку, у каждой текст и изображение.
func checkPages(pages []domain.GeneratedPage, total int) error {
	if len(pages) != total {
		return &domain.ParseError{
			Stage:   string(domain.StepPages),
			Message: fmt.Sprintf("Outline produced %d pages, expected %d", len(pages), total),
		}
	}
	for i, page := range pages {
		if page.PageNumber != i+1 {
			return &domain.ParseError{
				Stage:   string(domain.StepPages),
				Message: fmt.Sprintf("Outline page numbers must run 1..%d without gaps, got %d at position %d", total, page.PageNumber, i+1),
			}
		}
		if page.Text == "" || page.ImageURL == "" {
			return &domain.ParseError{
				Stage:   string(domain.StepPages),
				Message: fmt.Sprintf("Page %d is missing text or image", page.PageNumber),
			}
		}
	}
	return nil
}

// runState изменяемое состояние одного запуска. Принадлежит одной горутине.
type runState struct {
	snap     domain.RunSnapshot
	observe  Observer
	detached bool
}

func (r *runState) setStep(id domain.StepID, state domain.StepState, detail string) bool {
	for i := range r.snap.Steps {
		if r.snap.Steps[i].ID == id {
			r.snap.Steps[i].State = state
			r.snap.Steps[i].Detail = detail
		}
	}
	return r.publish()
}

// fail переводит активный этап в error и сохраняет сообщение об ошибке.
func (r *runState) fail(err error) error {
	for i := range r.snap.Steps {
		if r.snap.Steps[i].State == domain.StepActive {
			r.snap.Steps[i].State = domain.StepError
		}
	}
	r.snap.Error = err.Error()
	r.publish()
	return err
}

func (r *runState) publish() bool {
	if r.detached {
		return false
	}
	r.snap.UpdatedAt = time.Now().UTC()
	if r.observe != nil && !r.observe(r.snap.Clone()) {
		r.detached = true
	}
	return !r.detached
}
