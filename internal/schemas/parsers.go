package schemas

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"storybook-server/internal/domain"
)

// DefaultOutlineTitle is used when the outline completion cannot be decoded.
const DefaultOutlineTitle = "Your Cozy Story"

// ParsedOrRaw holds either a decoded stage value or only the raw completion text.
// Raw is always kept.
type ParsedOrRaw[T any] struct {
	Value *T
	Raw   string
}

// Parsed reports whether the raw text was decoded into T.
func (p ParsedOrRaw[T]) Parsed() bool {
	return p.Value != nil
}

// StripCodeFence removes a surrounding Markdown code fence such as ```json ... ```.
func StripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	return strings.TrimSpace(s)
}

var errNullValue = errors.New("completion decoded to null")

func decode[T any](raw string) (*T, error) {
	body := StripCodeFence(raw)
	if body == "null" {
		return nil, errNullValue
	}
	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ParseCharacterSheet parses the character stage completion.
// A decode failure is not an error: Value stays nil and Raw is preserved.
func ParseCharacterSheet(raw string) ParsedOrRaw[domain.CharacterSheet] {
	sheet, err := decode[domain.CharacterSheet](raw)
	if err != nil {
		return ParsedOrRaw[domain.CharacterSheet]{Raw: raw}
	}
	return ParsedOrRaw[domain.CharacterSheet]{Value: sheet, Raw: raw}
}

// ParseOutline parses the outline stage completion.
// A decode failure is not an error: Value stays nil and Raw is preserved.
func ParseOutline(raw string) ParsedOrRaw[domain.Outline] {
	outline, err := decode[domain.Outline](raw)
	if err != nil {
		return ParsedOrRaw[domain.Outline]{Raw: raw}
	}
	return ParsedOrRaw[domain.Outline]{Value: outline, Raw: raw}
}

// OutlineOrDefault returns the decoded outline, or the default title and an
// empty page list when decoding failed.
func OutlineOrDefault(p ParsedOrRaw[domain.Outline]) domain.Outline {
	out := domain.Outline{Title: DefaultOutlineTitle, Pages: []domain.OutlinePage{}}
	if p.Value == nil {
		return out
	}
	if p.Value.Title != "" {
		out.Title = p.Value.Title
	}
	if p.Value.Pages != nil {
		out.Pages = p.Value.Pages
	}
	return out
}

// ParsePage parses the page stage completion. Unlike the character and outline
// stages, a page that cannot be decoded is a fatal ParseError.
func ParsePage(raw string) (domain.GeneratedPage, error) {
	page, err := decode[domain.GeneratedPage](raw)
	if err == nil && (strings.TrimSpace(page.Text) == "" || strings.TrimSpace(page.ImagePrompt) == "") {
		err = errors.New("page is missing text or imagePrompt")
	}
	if err != nil {
		return domain.GeneratedPage{}, &domain.ParseError{
			Stage:   string(domain.StepPages),
			Message: "Could not parse generated page JSON",
			Err:     fmt.Errorf("failed to parse generated page: %w", err),
		}
	}
	return *page, nil
}
