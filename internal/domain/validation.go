package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Allowed image sizes for the image stage.
var AllowedImageSizes = []string{"256x256", "512x512", "1024x1024", "1024x1792", "1792x1024", "auto"}

const DefaultImageSize = "1024x1024"

// OutlineRequest запрос этапа плана.
type OutlineRequest struct {
	StoryConfig
	CharacterSheet string `json:"characterSheet"`
}

// PageRequest запрос этапа страницы.
type PageRequest struct {
	StoryConfig
	PageNumber     int           `json:"pageNumber"`
	Outline        []OutlinePage `json:"outline"`
	OutlineEntry   *OutlinePage  `json:"outlineEntry"`
	CharacterSheet string        `json:"characterSheet"`
}

// ImageRequest запрос этапа иллюстрации.
type ImageRequest struct {
	ImagePrompt    string          `json:"imagePrompt"`
	ArtStyle       ArtStyle        `json:"artStyle"`
	CharacterSheet json.RawMessage `json:"characterSheet,omitempty"`
	Size           string          `json:"size,omitempty"`
}

// SaveBookPayload данные для сохранения книги.
type SaveBookPayload struct {
	Title          string          `json:"title"`
	Theme          string          `json:"theme"`
	Style          string          `json:"style"`
	Tone           string          `json:"tone"`
	TotalPages     int             `json:"totalPages"`
	ChildName      string          `json:"childName,omitempty"`
	Favorites      []string        `json:"favorites"`
	LessonOfTheDay string          `json:"lessonOfTheDay,omitempty"`
	CharacterSheet json.RawMessage `json:"characterSheet,omitempty"`
	Outline        json.RawMessage `json:"outline,omitempty"`
	Pages          []SavePage      `json:"pages"`
}

// SavePage страница в запросе на сохранение.
type SavePage struct {
	PageNumber  int    `json:"pageNumber"`
	Text        string `json:"text"`
	ImageURL    string `json:"imageUrl"`
	ImagePrompt string `json:"imagePrompt"`
}

func themeValues() []interface{} {
	out := make([]interface{}, 0, len(AllThemes))
	for _, t := range AllThemes {
		out = append(out, t)
	}
	return out
}

func styleValues() []interface{} {
	out := make([]interface{}, 0, len(AllArtStyles))
	for _, s := range AllArtStyles {
		out = append(out, s)
	}
	return out
}

func toneValues() []interface{} {
	out := make([]interface{}, 0, len(AllTones))
	for _, t := range AllTones {
		out = append(out, t)
	}
	return out
}

func sizeValues() []interface{} {
	out := make([]interface{}, 0, len(AllowedImageSizes))
	for _, s := range AllowedImageSizes {
		out = append(out, s)
	}
	return out
}

func (c StoryConfig) fieldErrors() validation.Errors {
	return validation.Errors{
		"theme":          validation.Validate(c.Theme, validation.Required, validation.In(themeValues()...)),
		"style":          validation.Validate(c.Style, validation.Required, validation.In(styleValues()...)),
		"tone":           validation.Validate(c.Tone, validation.Required, validation.In(toneValues()...)),
		"childName":      validation.Validate(c.ChildName, validation.RuneLength(0, 60)),
		"totalPages":     validation.Validate(c.TotalPages, validation.Required, validation.Min(6), validation.Max(12)),
		"favorites":      validation.Validate(c.Favorites, validation.Length(0, 3), validation.Each(validation.RuneLength(0, 60))),
		"lessonOfTheDay": validation.Validate(c.LessonOfTheDay, validation.RuneLength(0, 120)),
	}
}

func wrapValidation(op string, errs validation.Errors) error {
	if err := errs.Filter(); err != nil {
		return NewValidationError(op, err)
	}
	return nil
}

// Validate проверяет конфигурацию нового запуска.
func (c StoryConfig) Validate() error {
	return wrapValidation("story config", c.fieldErrors())
}

// Validate проверяет запрос этапа плана.
func (r OutlineRequest) Validate() error {
	errs := r.StoryConfig.fieldErrors()
	errs["characterSheet"] = validation.Validate(r.CharacterSheet, validation.Required, validation.RuneLength(10, 0))
	return wrapValidation("outline request", errs)
}

// Validate проверяет запрос этапа страницы.
func (r PageRequest) Validate() error {
	errs := r.StoryConfig.fieldErrors()
	errs["characterSheet"] = validation.Validate(r.CharacterSheet, validation.Required, validation.RuneLength(10, 0))
	errs["pageNumber"] = validation.Validate(r.PageNumber, validation.Required, validation.Min(1))
	errs["outlineEntry"] = validation.Validate(r.OutlineEntry, validation.NotNil)
	return wrapValidation("page request", errs)
}

// Validate проверяет запрос этапа иллюстрации.
func (r ImageRequest) Validate() error {
	return wrapValidation("image request", validation.Errors{
		"imagePrompt": validation.Validate(r.ImagePrompt, validation.Required, validation.RuneLength(10, 0)),
		"artStyle":    validation.Validate(r.ArtStyle, validation.Required, validation.In(styleValues()...)),
		"size":        validation.Validate(r.Size, validation.In(sizeValues()...)),
	})
}

// ValidateImageSize проверяет размер изображения. Пустой размер допустим.
func ValidateImageSize(size string) error {
	if err := validation.Validate(size, validation.In(sizeValues()...)); err != nil {
		return NewValidationError("image size", err)
	}
	return nil
}

// Validate проверяет запрос на сохранение книги.
func (p SaveBookPayload) Validate() error {
	return wrapValidation("save book", validation.Errors{
		"title":          validation.Validate(p.Title, validation.Required, validation.RuneLength(1, 120)),
		"totalPages":     validation.Validate(p.TotalPages, validation.Required, validation.Min(1), validation.Max(50)),
		"childName":      validation.Validate(p.ChildName, validation.RuneLength(0, 120)),
		"lessonOfTheDay": validation.Validate(p.LessonOfTheDay, validation.RuneLength(0, 240)),
		"favorites":      validation.Validate(p.Favorites, validation.Length(0, 3)),
		"pages":          validation.Validate(p.Pages, validation.Required, validation.Length(1, 0), validation.By(contiguousPageNumbers)),
	})
}

// Validate проверяет одну страницу запроса на сохранение.
func (p SavePage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.PageNumber, validation.Required, validation.Min(1)),
		validation.Field(&p.Text, validation.Required),
		validation.Field(&p.ImagePrompt, validation.Required),
		validation.Field(&p.ImageURL, validation.Required, validation.By(isImageReference)),
	)
}

// contiguousPageNumbers требует, чтобы номера страниц без повторов образовывали 1..len(pages).
func contiguousPageNumbers(value interface{}) error {
	pages, _ := value.([]SavePage)
	seen := make(map[int]bool, len(pages))
	for _, page := range pages {
		n := page.PageNumber
		if n < 1 || n > len(pages) {
			return fmt.Errorf("page number %d is out of range 1..%d", n, len(pages))
		}
		if seen[n] {
			return fmt.Errorf("duplicate page number %d", n)
		}
		seen[n] = true
	}
	return nil
}

// isImageReference accepts an absolute http(s) URL or a data: URI.
func isImageReference(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "data:") {
		if !strings.Contains(s, ",") {
			return errors.New("must be a valid data URI")
		}
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be a valid URL")
	}
	return nil
}
