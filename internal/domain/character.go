package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// CharacterRef ссылка на персонажа для этапа иллюстрации.
// Заполнено ровно одно из полей: Sheet, Structured или Raw.
type CharacterRef struct {
	Sheet      *CharacterSheet
	Structured json.RawMessage
	Raw        string
}

// CharacterRefFromSheet строит ссылку из разобранного листа персонажа.
// Для листа без visual_traits в промпт идет JSON модели как есть (raw без code fence),
// со всеми полями, которых нет в CharacterSheet.
func CharacterRefFromSheet(sheet *CharacterSheet, raw string) CharacterRef {
	if sheet == nil {
		return CharacterRef{Raw: raw}
	}
	if sheet.VisualTraits == nil {
		var compact bytes.Buffer
		if err := json.Compact(&compact, []byte(strings.TrimSpace(raw))); err != nil {
			return CharacterRef{Raw: raw}
		}
		return CharacterRef{Structured: compact.Bytes()}
	}
	return CharacterRef{Sheet: sheet}
}

// CharacterRefFromJSON разбирает произвольное JSON значение из запроса:
// строку, объект с visual_traits или любой другой объект.
func CharacterRefFromJSON(data json.RawMessage) CharacterRef {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return CharacterRef{}
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return CharacterRef{Raw: s}
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err == nil {
		if _, ok := probe["visual_traits"]; ok {
			var sheet CharacterSheet
			if err := json.Unmarshal(trimmed, &sheet); err == nil {
				if sheet.VisualTraits == nil {
					sheet.VisualTraits = []string{}
				}
				return CharacterRef{Sheet: &sheet}
			}
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return CharacterRef{Raw: string(trimmed)}
	}
	return CharacterRef{Structured: compact.Bytes()}
}

// VisualTraits плоская строка визуальных черт для промпта изображения.
func (r CharacterRef) VisualTraits() string {
	switch {
	case r.Sheet != nil:
		return strings.Join(r.Sheet.VisualTraits, ", ")
	case len(r.Structured) > 0:
		return string(r.Structured)
	default:
		return r.Raw
	}
}
