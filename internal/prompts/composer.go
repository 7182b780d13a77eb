package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"storybook-server/internal/domain"
)

//go:embed templates/*.md
var embedded embed.FS

// Template file names.
const (
	StorySystemPromptFile   = "story_system_prompt.md"
	ImageSystemPromptFile   = "image_system_prompt.md"
	CharacterSheetTemplate  = "character_sheet_prompt_template.md"
	OutlineTemplate         = "outline_prompt_template.md"
	PageTemplate            = "page_prompt_template.md"
	ImagePromptWrapperNotes = "image_prompt_wrapper_notes.md"
)

// Safety reminders appended to the user prompt when strict safety is on.
const (
	SafetyNoteCharacter = "\n\nReminder: keep everything extra gentle, cozy, and safe for a 3-5 year old."
	SafetyNoteOutline   = "\n\nReminder: keep every event gentle, calm, and reassuring for a bedtime story."
	SafetyNotePage      = "\n\nKeep the page extra calm, friendly, and bedtime-safe."
)

const (
	defaultChildName = "the child"
	defaultLesson    = "a gentle bedtime lesson"
	noFavorites      = "none provided"
)

var allTemplates = []string{
	StorySystemPromptFile,
	ImageSystemPromptFile,
	CharacterSheetTemplate,
	OutlineTemplate,
	PageTemplate,
	ImagePromptWrapperNotes,
}

var (
	placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

var styleMapping = map[domain.ArtStyle]string{
	domain.ArtStyleCute:       "bright pastels, soft round shapes, simple details, cozy lighting, picture book style",
	domain.ArtStyleWatercolor: "soft watercolor textures, gentle gradients, light strokes, dreamy storybook atmosphere",
	domain.ArtStyleCartoon:    "bold outlines, flat colors, expressive characters, simple backgrounds, clean cartoon style",
}

// EmbeddedTemplates возвращает шаблоны, вшитые в бинарник.
func EmbeddedTemplates() fs.FS {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded templates: %v", err))
	}
	return sub
}

// Composer собирает промпты для каждого этапа из шаблонов.
// Шаблоны читаются один раз и кешируются.
type Composer struct {
	fsys  fs.FS
	mu    sync.RWMutex
	cache map[string]string
}

// NewComposer создает Composer и сразу загружает все шаблоны.
// Отсутствующий шаблон - фатальная ошибка.
func NewComposer(fsys fs.FS) (*Composer, error) {
	if fsys == nil {
		fsys = EmbeddedTemplates()
	}
	c := &Composer{
		fsys:  fsys,
		cache: make(map[string]string, len(allTemplates)),
	}
	for _, name := range allTemplates {
		if _, err := c.template(name); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Composer) template(name string) (string, error) {
	c.mu.RLock()
	content, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return content, nil
	}

	data, err := fs.ReadFile(c.fsys, name)
	if err != nil {
		return "", fmt.Errorf("prompt template %q: %w", name, err)
	}

	c.mu.Lock()
	c.cache[name] = string(data)
	c.mu.Unlock()
	return string(data), nil
}

// mustTemplate is only reached after NewComposer preloaded every template.
func (c *Composer) mustTemplate(name string) string {
	content, err := c.template(name)
	if err != nil {
		panic(err)
	}
	return content
}

// ReplacePlaceholders подставляет значения вместо {{name}}.
// Неизвестный ключ заменяется пустой строкой.
func ReplacePlaceholders(template string, values map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		return values[key]
	})
}

// MapArtStyle возвращает описание стиля. Неизвестный стиль дает описание cute.
func MapArtStyle(style domain.ArtStyle) string {
	if desc, ok := styleMapping[style]; ok {
		return desc
	}
	return styleMapping[domain.ArtStyleCute]
}

func favoritesList(favorites []string) string {
	if len(favorites) == 0 {
		return noFavorites
	}
	nonEmpty := make([]string, 0, len(favorites))
	for _, f := range favorites {
		if f != "" {
			nonEmpty = append(nonEmpty, f)
		}
	}
	return strings.Join(nonEmpty, ", ")
}

func childName(cfg domain.StoryConfig) string {
	if cfg.ChildName == "" {
		return defaultChildName
	}
	return cfg.ChildName
}

func lesson(cfg domain.StoryConfig) string {
	if cfg.LessonOfTheDay == "" {
		return defaultLesson
	}
	return cfg.LessonOfTheDay
}

// StorySystemPrompt системный промпт для текстовых этапов.
func (c *Composer) StorySystemPrompt() string {
	return c.mustTemplate(StorySystemPromptFile)
}

// ImageSystemPrompt системный промпт для иллюстраций.
func (c *Composer) ImageSystemPrompt() string {
	return c.mustTemplate(ImageSystemPromptFile)
}

// BuildCharacterPrompt промпт этапа персонажа.
func (c *Composer) BuildCharacterPrompt(cfg domain.StoryConfig) string {
	return ReplacePlaceholders(c.mustTemplate(CharacterSheetTemplate), map[string]string{
		"theme":          string(cfg.Theme),
		"childName":      childName(cfg),
		"favoritesList":  favoritesList(cfg.Favorites),
		"lessonOfTheDay": lesson(cfg),
		"tone":           string(cfg.Tone),
		"artStyle":       string(cfg.Style),
	})
}

// BuildOutlinePrompt промпт этапа плана.
func (c *Composer) BuildOutlinePrompt(cfg domain.StoryConfig, characterSheet string) string {
	return ReplacePlaceholders(c.mustTemplate(OutlineTemplate), map[string]string{
		"characterSheet": characterSheet,
		"theme":          string(cfg.Theme),
		"childName":      childName(cfg),
		"favoritesList":  favoritesList(cfg.Favorites),
		"lessonOfTheDay": lesson(cfg),
		"tone":           string(cfg.Tone),
		"totalPages":     strconv.Itoa(cfg.TotalPages),
	})
}

// BuildPagePrompt промпт страницы: лист персонажа, весь план и краткое содержание страницы.
func (c *Composer) BuildPagePrompt(cfg domain.StoryConfig, characterSheet string, outline []domain.OutlinePage, pageNumber int, entry domain.OutlinePage) string {
	return ReplacePlaceholders(c.mustTemplate(PageTemplate), map[string]string{
		"characterSheet": characterSheet,
		"outlineJson":    outlineJSON(outline),
		"pageNumber":     strconv.Itoa(pageNumber),
		"totalPages":     strconv.Itoa(cfg.TotalPages),
		"pageSummary":    entry.Summary,
		"theme":          string(cfg.Theme),
		"childName":      childName(cfg),
		"favoritesList":  favoritesList(cfg.Favorites),
		"lessonOfTheDay": lesson(cfg),
		"tone":           string(cfg.Tone),
		"artStyle":       string(cfg.Style),
	})
}

// BuildWrappedImagePrompt оборачивает описание иллюстрации стилем и чертами персонажа.
// Пробельные символы схлопываются в один пробел.
func (c *Composer) BuildWrappedImagePrompt(imagePrompt string, style domain.ArtStyle, character domain.CharacterRef) string {
	composed := ReplacePlaceholders(c.mustTemplate(ImagePromptWrapperNotes), map[string]string{
		"imagePrompt":           imagePrompt,
		"mappedStyle":           MapArtStyle(style),
		"characterVisualTraits": character.VisualTraits(),
	})
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(composed, " "))
}

// FinalImagePrompt системный промпт иллюстратора плюс обернутый промпт страницы.
func (c *Composer) FinalImagePrompt(imagePrompt string, style domain.ArtStyle, character domain.CharacterRef) string {
	return c.ImageSystemPrompt() + "\n\n" + c.BuildWrappedImagePrompt(imagePrompt, style, character)
}

func outlineJSON(outline []domain.OutlinePage) string {
	if outline == nil {
		outline = []domain.OutlinePage{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outline); err != nil {
		return "[]"
	}
	return strings.TrimRight(buf.String(), "\n")
}
