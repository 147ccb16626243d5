package runtime

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jwalitptl/anamnesis-api/internal/fieldtype"
	"github.com/jwalitptl/anamnesis-api/internal/model"
)

// Serialize turns an answer map into the response list sent with every
// save: one entry per field of the template, in section then field order,
// empty answers as "". Multi choice selections become a JSON array; every
// other value is sent as text. Equal maps always serialize equally.
func Serialize(t model.TemplateSnapshot, answers map[uuid.UUID]any) []model.ResponseInput {
	fields := t.Fields()
	out := make([]model.ResponseInput, 0, len(fields))
	for _, f := range fields {
		out = append(out, model.ResponseInput{FieldID: f.ID, Value: encodeAnswer(f, answers[f.ID])})
	}
	return out
}

func encodeAnswer(f model.Field, v any) string {
	if isEmpty(v) {
		return ""
	}
	if fieldtype.Lookup(f.Type).Capability == fieldtype.CapMultiChoice {
		picked := selection(v)
		if len(picked) == 0 {
			return ""
		}
		raw, err := json.Marshal(picked)
		if err != nil {
			return strings.Join(picked, ", ")
		}
		return string(raw)
	}
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.Trim(string(raw), `"`)
}

// decodeAnswer is the inverse of encodeAnswer for a stored response.
func decodeAnswer(f model.Field, value string) any {
	if fieldtype.Lookup(f.Type).Capability != fieldtype.CapMultiChoice {
		return value
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return []string{}
	}
	if strings.HasPrefix(value, "[") {
		var picked []string
		if err := json.Unmarshal([]byte(value), &picked); err == nil {
			return picked
		}
	}
	return []string{value}
}

func selection(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{t}
	}
	return nil
}
