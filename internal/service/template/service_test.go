package template

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/internal/repository/memory"
	apperrors "github.com/jwalitptl/anamnesis-api/pkg/errors"
	"github.com/jwalitptl/anamnesis-api/pkg/logger"
	"github.com/jwalitptl/anamnesis-api/pkg/metrics"
)

type fixture struct {
	svc *Service
	db  *memory.DB
	m   *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.New()
	m := metrics.NewMetrics(prometheus.NewRegistry(), "test", "templates")
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	svc := NewService(
		memory.NewTemplateRepository(db),
		memory.NewSectionRepository(db),
		memory.NewFieldRepository(db),
		memory.NewAnamnesisRepository(db),
		m,
		log,
	)
	return &fixture{svc: svc, db: db, m: m}
}

func intPtr(i int) *int { return &i }

func assertCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code, appErr.Message)
}

func (f *fixture) template(t *testing.T) *model.Template {
	t.Helper()
	tmpl, err := f.svc.CreateTemplate(context.Background(), &model.CreateTemplateRequest{Name: "Facial", Category: "estetica"})
	require.NoError(t, err)
	return tmpl
}

func (f *fixture) section(t *testing.T, templateID uuid.UUID, title string, order *int) *model.Section {
	t.Helper()
	s, err := f.svc.CreateSection(context.Background(), templateID, &model.CreateSectionRequest{Title: title, Order: order})
	require.NoError(t, err)
	return s
}

func (f *fixture) field(t *testing.T, sectionID uuid.UUID, req model.CreateFieldRequest) *model.Field {
	t.Helper()
	fld, err := f.svc.CreateField(context.Background(), sectionID, &req)
	require.NoError(t, err)
	return fld
}

func sectionTitles(t *testing.T, svc *Service, templateID uuid.UUID) []string {
	t.Helper()
	doc, err := svc.GetTemplate(context.Background(), templateID)
	require.NoError(t, err)
	var out []string
	for i, s := range doc.Sections {
		assert.Equal(t, i, s.Section.Order)
		out = append(out, s.Section.Title)
	}
	return out
}

func TestCreateTemplateDefaults(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t)

	assert.True(t, tmpl.Active)
	assert.Equal(t, 1, tmpl.Version)

	_, err := f.svc.CreateTemplate(context.Background(), &model.CreateTemplateRequest{Name: "   "})
	assertCode(t, err, apperrors.ErrBadRequest)
}

func TestSectionInsertKeepsDenseOrder(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t)

	f.section(t, tmpl.ID, "A", nil)
	f.section(t, tmpl.ID, "C", nil)
	f.section(t, tmpl.ID, "B", intPtr(1))
	f.section(t, tmpl.ID, "Start", intPtr(0))
	f.section(t, tmpl.ID, "End", intPtr(99))

	assert.Equal(t, []string{"Start", "A", "B", "C", "End"}, sectionTitles(t, f.svc, tmpl.ID))
}

func TestDeleteSectionCompactsOrder(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t)
	f.section(t, tmpl.ID, "A", nil)
	b := f.section(t, tmpl.ID, "B", nil)
	f.section(t, tmpl.ID, "C", nil)

	require.NoError(t, f.svc.DeleteSection(context.Background(), b.ID))
	assert.Equal(t, []string{"A", "C"}, sectionTitles(t, f.svc, tmpl.ID))
}

func TestDeleteSectionWithFieldsConflicts(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t)
	s := f.section(t, tmpl.ID, "A", nil)
	f.field(t, s.ID, model.CreateFieldRequest{Type: model.FieldTypeShortText})

	assertCode(t, f.svc.DeleteSection(context.Background(), s.ID), apperrors.ErrConflict)
}

func TestReorderSections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t)
	a := f.section(t, tmpl.ID, "A", nil)
	b := f.section(t, tmpl.ID, "B", nil)
	c := f.section(t, tmpl.ID, "C", nil)

	sections, err := f.svc.ReorderSections(ctx, tmpl.ID, []model.OrderItem{
		{ID: c.ID, Order: 0}, {ID: a.ID, Order: 1}, {ID: b.ID, Order: 2},
	})
	require.NoError(t, err)
	require.Len(t, sections, 3)
	assert.Equal(t, c.ID, sections[0].ID)
	assert.Equal(t, []string{"C", "A", "B"}, sectionTitles(t, f.svc, tmpl.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.Reorders.WithLabelValues("sections", "ok")))
}

func TestReorderRejectsNonPermutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t)
	a := f.section(t, tmpl.ID, "A", nil)
	b := f.section(t, tmpl.ID, "B", nil)

	cases := map[string][]model.OrderItem{
		"missing item":   {{ID: a.ID, Order: 0}},
		"duplicate id":   {{ID: a.ID, Order: 0}, {ID: a.ID, Order: 1}},
		"unknown id":     {{ID: a.ID, Order: 0}, {ID: uuid.New(), Order: 1}},
		"repeated order": {{ID: a.ID, Order: 0}, {ID: b.ID, Order: 0}},
		"out of range":   {{ID: a.ID, Order: 0}, {ID: b.ID, Order: 2}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.ReorderSections(ctx, tmpl.ID, items)
			assertCode(t, err, apperrors.ErrBadRequest)
		})
	}
	assert.Equal(t, []string{"A", "B"}, sectionTitles(t, f.svc, tmpl.ID))
}

func TestStructuralChangesBumpVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t)

	s := f.section(t, tmpl.ID, "A", nil)
	fld := f.field(t, s.ID, model.CreateFieldRequest{Type: model.FieldTypeShortText})
	title := "Renamed"
	_, err := f.svc.UpdateSection(ctx, s.ID, &model.SectionPatch{Title: &title})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteField(ctx, fld.ID))

	doc, err := f.svc.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, doc.Template.Version)
}

func TestUpdateTemplateKeepsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t)

	inactive := false
	updated, err := f.svc.UpdateTemplate(ctx, tmpl.ID, &model.UpdateTemplateRequest{Active: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, 1, updated.Version)

	active, err := f.svc.ListTemplates(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := f.svc.ListTemplates(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateFieldDefaults(t *testing.T) {
	f := newFixture(t)
	tmpl := f.template(t)
	s := f.section(t, tmpl.ID, "A", nil)

	first := f.field(t, s.ID, model.CreateFieldRequest{Type: model.FieldTypeShortText})
	second := f.field(t, s.ID, model.CreateFieldRequest{Type: model.FieldTypeShortText})

	assert.Equal(t, model.WidthFull, first.Width)
	assert.NotEmpty(t, first.Label)
	assert.NotEqual(t, first.Label, second.Label)
	assert.Equal(t, 0, first.Order)
	assert.Equal(t, 1, second.Order)
}

func TestChoiceFieldsRequireOptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t)
	s := f.section(t, tmpl.ID, "A", nil)

	_, err := f.svc.CreateField(ctx, s.ID, &model.CreateFieldRequest{Type: model.FieldTypeSingleChoice, Label: "Pele"})
	assertCode(t, err, apperrors.ErrBadRequest)

	_, err = f.svc.CreateField(ctx, s.ID, &model.CreateFieldRequest{
		Type: model.FieldTypeMultiChoice, Label: "Alergias", Options: []string{" ", ""},
	})
	assertCode(t, err, apperrors.ErrBadRequest)

	fld := f.field(t, s.ID, model.CreateFieldRequest{
		Type: model.FieldTypeSingleChoice, Label: "Pele", Options: []string{"Oleosa", "", "Seca"},
	})
	assert.Equal(t, []string{"Oleosa", "Seca"}, []string(fld.Options))

	empty := []string{}
	_, err = f.svc.UpdateField(ctx, fld.ID, &model.FieldPatch{Options: &empty})
	assertCode(t, err, apperrors.ErrBadRequest)
}

func TestCreateFieldRejectsUnknownValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t)
	s := f.section(t, tmpl.ID, "A", nil)

	_, err := f.svc.CreateField(ctx, s.ID, &model.CreateFieldRequest{Type: "slider", Label: "X"})
	assertCode(t, err, apperrors.ErrBadRequest)

	_, err = f.svc.CreateField(ctx, s.ID, &model.CreateFieldRequest{Type: model.FieldTypeShortText, Label: "X", Width: "quarter"})
	assertCode(t, err, apperrors.ErrBadRequest)

	bogus := model.SystemField("cor_favorita")
	_, err = f.svc.CreateField(ctx, s.ID, &model.CreateFieldRequest{Type: model.FieldTypeShortText, Label: "X", SystemField: &bogus})
	assertCode(t, err, apperrors.ErrBadRequest)

	_, err = f.svc.CreateField(ctx, uuid.New(), &model.CreateFieldRequest{Type: model.FieldTypeShortText, Label: "X"})
	assertCode(t, err, apperrors.ErrNotFound)
}

func TestDuplicateFieldAppends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t)
	s := f.section(t, tmpl.ID, "A", nil)
	src := f.field(t, s.ID, model.CreateFieldRequest{
		Type: model.FieldTypeMultiChoice, Label: "Alergias", Options: []string{"Látex", "Iodo"},
	})
	f.field(t, s.ID, model.CreateFieldRequest{Type: model.FieldTypeDate, Label: "Nascimento"})

	dup, err := f.svc.DuplicateField(ctx, src.ID)
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, 2, dup.Order)
	assert.Equal(t, src.Label, dup.Label)
	assert.Equal(t, src.Options, dup.Options)
}

func TestReorderFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t)
	s := f.section(t, tmpl.ID, "A", nil)
	a := f.field(t, s.ID, model.CreateFieldRequest{Type: model.FieldTypeShortText, Label: "a"})
	b := f.field(t, s.ID, model.CreateFieldRequest{Type: model.FieldTypeShortText, Label: "b"})

	fields, err := f.svc.ReorderFields(ctx, s.ID, []model.OrderItem{{ID: a.ID, Order: 1}, {ID: b.ID, Order: 0}})
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "b", fields[0].Label)
	assert.Equal(t, 0, fields[0].Order)
	assert.Equal(t, "a", fields[1].Label)
	assert.Equal(t, 1, fields[1].Order)
}

func TestDeleteTemplateWithAnamnesesConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t)

	_, snapshot, err := f.svc.Snapshot(ctx, tmpl.ID)
	require.NoError(t, err)
	a := &model.Anamnesis{TemplateID: tmpl.ID, PatientID: uuid.New(), Token: "t", Status: model.AnamnesisInProgress, Snapshot: snapshot}
	require.NoError(t, memory.NewAnamnesisRepository(f.db).Create(ctx, a, nil))

	assertCode(t, f.svc.DeleteTemplate(ctx, tmpl.ID), apperrors.ErrConflict)
}

func TestDeleteTemplateCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t)
	s := f.section(t, tmpl.ID, "A", nil)
	fld := f.field(t, s.ID, model.CreateFieldRequest{Type: model.FieldTypeShortText})

	require.NoError(t, f.svc.DeleteTemplate(ctx, tmpl.ID))

	_, err := f.svc.GetTemplate(ctx, tmpl.ID)
	assertCode(t, err, apperrors.ErrNotFound)
	_, err = f.svc.UpdateField(ctx, fld.ID, &model.FieldPatch{})
	assertCode(t, err, apperrors.ErrNotFound)
}
