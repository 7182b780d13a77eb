package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Theme тема истории.
type Theme string

const (
	ThemeAnimals        Theme = "animals"
	ThemeDinosaurs      Theme = "dinosaurs"
	ThemeSpace          Theme = "space"
	ThemePrincesses     Theme = "princesses"
	ThemeSillyBedtime   Theme = "silly_bedtime"
	ThemeEmotions       Theme = "emotions"
	ThemeAdventureChild Theme = "adventure_child"
)

// ArtStyle стиль иллюстраций.
type ArtStyle string

const (
	ArtStyleCute       ArtStyle = "cute"
	ArtStyleWatercolor ArtStyle = "watercolor"
	ArtStyleCartoon    ArtStyle = "cartoon"
)

// Tone тон повествования.
type Tone string

const (
	ToneGentle      Tone = "gentle"
	ToneSilly       Tone = "silly"
	ToneAdventurous Tone = "adventurous"
)

// Theme, style and tone values accepted for a fresh run.
var (
	AllThemes = []Theme{
		ThemeAnimals, ThemeDinosaurs, ThemeSpace, ThemePrincesses,
		ThemeSillyBedtime, ThemeEmotions, ThemeAdventureChild,
	}
	AllArtStyles = []ArtStyle{ArtStyleCute, ArtStyleWatercolor, ArtStyleCartoon}
	AllTones     = []Tone{ToneGentle, ToneSilly, ToneAdventurous}
)

// StoryConfig неизменяемые входные данные одного запуска генерации.
type StoryConfig struct {
	Theme          Theme    `json:"theme"`
	Style          ArtStyle `json:"style"`
	Tone           Tone     `json:"tone"`
	ChildName      string   `json:"childName,omitempty"`
	TotalPages     int      `json:"totalPages"`
	Favorites      []string `json:"favorites"`
	LessonOfTheDay string   `json:"lessonOfTheDay,omitempty"`
	StrictSafety   bool     `json:"strictSafety"`
}

// CharacterSheet описание главного героя, полученное на первом этапе.
type CharacterSheet struct {
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	VisualTraits        []string `json:"visual_traits"`
	Personality         string   `json:"personality"`
	FixedOutfit         string   `json:"fixed_outfit"`
	ColorPalette        []string `json:"color_palette"`
	NotesForIllustrator string   `json:"notes_for_illustrator"`
}

// OutlinePage одна запланированная страница.
type OutlinePage struct {
	PageNumber int    `json:"pageNumber"`
	Summary    string `json:"summary"`
}

// Outline план книги.
type Outline struct {
	Title string        `json:"title"`
	Pages []OutlinePage `json:"pages"`
}

// GeneratedPage страница книги. ImageURL заполняется после этапа иллюстрации.
type GeneratedPage struct {
	PageNumber  int    `json:"pageNumber"`
	Text        string `json:"text"`
	ImagePrompt string `json:"imagePrompt"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// Book сохраненная книга.
type Book struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Title          string          `json:"title" db:"title"`
	Theme          string          `json:"theme" db:"theme"`
	Style          string          `json:"style" db:"style"`
	Tone           string          `json:"tone" db:"tone"`
	ChildName      *string         `json:"childName" db:"child_name"`
	Favorites      []string        `json:"favorites" db:"favorites"`
	LessonOfTheDay *string         `json:"lessonOfTheDay" db:"lesson_of_the_day"`
	TotalPages     int             `json:"totalPages" db:"total_pages"`
	CharacterSheet json.RawMessage `json:"characterSheet" db:"character_sheet"`
	Outline        json.RawMessage `json:"outline" db:"outline"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

// BookPage сохраненная страница книги.
type BookPage struct {
	ID          uuid.UUID `json:"id" db:"id"`
	BookID      uuid.UUID `json:"bookId" db:"book_id"`
	PageNumber  int       `json:"pageNumber" db:"page_number"`
	Text        string    `json:"text" db:"text"`
	ImageURL    string    `json:"imageUrl" db:"image_url"`
	ImagePrompt string    `json:"imagePrompt" db:"image_prompt"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// BookWithPages книга вместе со страницами, упорядоченными по номеру.
type BookWithPages struct {
	Book  Book       `json:"book"`
	Pages []BookPage `json:"pages"`
}

// BookSummary краткая запись для списка книг.
type BookSummary struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Title      string    `json:"title" db:"title"`
	Theme      string    `json:"theme" db:"theme"`
	Style      string    `json:"style" db:"style"`
	Tone       string    `json:"tone" db:"tone"`
	TotalPages int       `json:"totalPages" db:"total_pages"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// NewBook данные для создания книги в хранилище. Уже провалидированы.
type NewBook struct {
	Title          string
	Theme          string
	Style          string
	Tone           string
	ChildName      *string
	Favorites      []string
	LessonOfTheDay *string
	TotalPages     int
	CharacterSheet json.RawMessage
	Outline        json.RawMessage
	Pages          []NewBookPage
}

// NewBookPage страница для создания.
type NewBookPage struct {
	PageNumber  int
	Text        string
	ImageURL    string
	ImagePrompt string
}
