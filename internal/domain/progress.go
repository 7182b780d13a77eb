package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// StepID идентификатор этапа генерации.
type StepID string

const (
	StepCharacter StepID = "character"
	StepOutline   StepID = "outline"
	StepPages     StepID = "pages"
)

// StepState состояние этапа.
type StepState string

const (
	StepPending StepState = "pending"
	StepActive  StepState = "active"
	StepDone    StepState = "done"
	StepError   StepState = "error"
)

// Step этап генерации с подписью для пользователя.
type Step struct {
	ID     StepID    `json:"id"`
	Label  string    `json:"label"`
	State  StepState `json:"state"`
	Detail string    `json:"detail,omitempty"`
}

// InitialSteps возвращает этапы в порядке выполнения, все в состоянии pending.
func InitialSteps() []Step {
	return []Step{
		{ID: StepCharacter, Label: "Creating your main character", State: StepPending},
		{ID: StepOutline, Label: "Planning the adventure", State: StepPending},
		{ID: StepPages, Label: "Writing pages & drawing pictures", State: StepPending},
	}
}

// RunSnapshot состояние запуска на момент последнего перехода.
// Частичные результаты остаются видимыми после ошибки.
type RunSnapshot struct {
	RunID        uuid.UUID       `json:"runId"`
	Config       StoryConfig     `json:"config"`
	Steps        []Step          `json:"steps"`
	CharacterRaw string          `json:"characterSheet,omitempty"`
	Character    *CharacterSheet `json:"character,omitempty"`
	Title        string          `json:"title,omitempty"`
	Outline      []OutlinePage   `json:"outline"`
	Pages        []GeneratedPage `json:"pages"`
	Error        string          `json:"error,omitempty"`
	Complete     bool            `json:"complete"`
	Discarded    bool            `json:"discarded,omitempty"`
	SavedBookID  *uuid.UUID      `json:"savedBookId,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Clone глубокая копия снимка для передачи наблюдателям.
func (s RunSnapshot) Clone() RunSnapshot {
	out := s
	out.Steps = slices.Clone(s.Steps)
	out.Outline = slices.Clone(s.Outline)
	out.Pages = slices.Clone(s.Pages)
	out.Config.Favorites = slices.Clone(s.Config.Favorites)
	if s.Character != nil {
		c := *s.Character
		c.VisualTraits = slices.Clone(s.Character.VisualTraits)
		c.ColorPalette = slices.Clone(s.Character.ColorPalette)
		out.Character = &c
	}
	if s.SavedBookID != nil {
		id := *s.SavedBookID
		out.SavedBookID = &id
	}
	return out
}

// StepState возвращает состояние этапа по идентификатору.
func (s RunSnapshot) StepState(id StepID) StepState {
	for _, st := range s.Steps {
		if st.ID == id {
			return st.State
		}
	}
	return ""
}

// AllDone true, когда все этапы завершены.
func (s RunSnapshot) AllDone() bool {
	if len(s.Steps) == 0 {
		return false
	}
	for _, st := range s.Steps {
		if st.State != StepDone {
			return false
		}
	}
	return true
}
