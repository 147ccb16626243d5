package render

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/anamnesis-api/internal/fieldtype"
	"github.com/jwalitptl/anamnesis-api/internal/model"
	apperrors "github.com/jwalitptl/anamnesis-api/pkg/errors"
)

func field(t model.FieldType, opts ...string) model.Field {
	f := model.Field{SectionID: uuid.New(), Type: t, Label: string(t)}
	f.ID = uuid.New()
	if len(opts) > 0 {
		f.Options = pq.StringArray(opts)
	}
	return f
}

type recorder struct {
	calls []any
	ids   []uuid.UUID
}

func (r *recorder) onChange(id uuid.UUID, v any) {
	r.ids = append(r.ids, id)
	r.calls = append(r.calls, v)
}

func TestDispatchByType(t *testing.T) {
	tests := []struct {
		typ model.FieldType
		cap fieldtype.Capability
	}{
		{model.FieldTypeShortText, fieldtype.CapText},
		{model.FieldTypeEmail, fieldtype.CapText},
		{model.FieldTypeLongText, fieldtype.CapLongText},
		{model.FieldTypeNumber, fieldtype.CapNumber},
		{model.FieldTypeDate, fieldtype.CapDate},
		{model.FieldTypeSingleChoice, fieldtype.CapSingleChoice},
		{model.FieldTypeMultiChoice, fieldtype.CapMultiChoice},
		{model.FieldTypeSignature, fieldtype.CapSignature},
		{"unknown_widget", fieldtype.CapText},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			c := Render(field(tt.typ), nil, nil)
			assert.Equal(t, tt.cap, c.Capability)
			assert.Equal(t, model.WidthFull, c.Width)
		})
	}
}

func TestUnknownTypeIsEditableAsText(t *testing.T) {
	rec := &recorder{}
	f := field("slider")
	c := Render(f, "3", rec.onChange)
	assert.Equal(t, "3", c.Text())
	require.NoError(t, c.Change("4"))
	assert.Equal(t, []any{"4"}, rec.calls)
	assert.Equal(t, []uuid.UUID{f.ID}, rec.ids)
}

func TestNumberRejectsNonNumeric(t *testing.T) {
	rec := &recorder{}
	c := Render(field(model.FieldTypeNumber), "", rec.onChange)

	err := c.Change("abc")
	assert.True(t, apperrors.IsValidation(err))
	assert.Empty(t, rec.calls)

	require.NoError(t, c.Change(" 12,5 "))
	require.NoError(t, c.Change(""))
	assert.Equal(t, []any{"12,5", ""}, rec.calls)
}

func TestDateLayout(t *testing.T) {
	rec := &recorder{}
	c := Render(field(model.FieldTypeDate), nil, rec.onChange)
	assert.Error(t, c.Change("16/10/2026"))
	require.NoError(t, c.Change("2026-10-16"))
	assert.Equal(t, []any{"2026-10-16"}, rec.calls)
}

func TestSingleChoiceMustBeAnOption(t *testing.T) {
	rec := &recorder{}
	c := Render(field(model.FieldTypeSingleChoice, "Yes", "No"), "Yes", rec.onChange)
	assert.Equal(t, []string{"Yes", "No"}, c.Options)
	assert.Error(t, c.Change("Maybe"))
	require.NoError(t, c.Change("No"))
	assert.Equal(t, []any{"No"}, rec.calls)
}

func TestMultiChoiceToggleKeepsOptionOrder(t *testing.T) {
	var value any = []string{}
	f := field(model.FieldTypeMultiChoice, "Dust", "Pollen", "Latex")
	onChange := func(_ uuid.UUID, v any) { value = v }

	require.NoError(t, Render(f, value, onChange).Toggle("Latex"))
	require.NoError(t, Render(f, value, onChange).Toggle("Dust"))
	assert.Equal(t, []string{"Dust", "Latex"}, value)

	require.NoError(t, Render(f, value, onChange).Toggle("Latex"))
	assert.Equal(t, []string{"Dust"}, value)

	assert.Error(t, Render(f, value, onChange).Toggle("Peanut"))
}

func TestToggleOnlyOnMultiChoice(t *testing.T) {
	c := Render(field(model.FieldTypeShortText), nil, nil)
	assert.Error(t, c.Toggle("x"))
	assert.Error(t, c.Sign("x"))
}

func TestSignatureProducesDataURI(t *testing.T) {
	rec := &recorder{}
	c := Render(field(model.FieldTypeSignature), nil, rec.onChange)
	require.NoError(t, c.Sign("Ana <Souza>"))

	require.Len(t, rec.calls, 1)
	uri := rec.calls[0].(string)
	require.True(t, strings.HasPrefix(uri, "data:image/svg+xml;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:image/svg+xml;base64,"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Ana &lt;Souza&gt;")

	require.NoError(t, c.Sign("   "))
	assert.Equal(t, "", rec.calls[1])
	assert.Error(t, c.Change("not-a-uri"))
}

func TestRenderAllAttachesErrors(t *testing.T) {
	a, b := field(model.FieldTypeShortText), field(model.FieldTypePhone)
	answers := map[uuid.UUID]any{a.ID: "Ana"}
	errs := map[uuid.UUID]string{b.ID: "required"}

	controls := NewDispatcher().RenderAll([]model.Field{a, b}, answers, errs, nil)
	require.Len(t, controls, 2)
	assert.Equal(t, "Ana", controls[0].Text())
	assert.Empty(t, controls[0].Error)
	assert.Equal(t, "required", controls[1].Error)
}

func TestRegisterOverridesCapability(t *testing.T) {
	d := NewDispatcher()
	d.Register(fieldtype.CapDate, func(f model.Field, v any, cb OnChange) Control {
		return Control{FieldID: f.ID, Capability: fieldtype.CapDate, Label: "custom"}
	})
	assert.Equal(t, "custom", d.Render(field(model.FieldTypeDate), nil, nil).Label)
}
