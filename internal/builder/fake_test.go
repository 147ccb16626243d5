package builder

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	apperrors "github.com/jwalitptl/anamnesis-api/pkg/errors"
)

var errRefused = errors.New("refused")

// fakeBackend keeps a template in memory the way the server does.
type fakeBackend struct {
	mu sync.Mutex

	template model.Template
	sections map[uuid.UUID]model.Section
	fields   map[uuid.UUID]model.Field

	failReorder bool
	failUpdate  bool
	// rejectLabel fails field updates that set this label.
	rejectLabel string
	// gate, when set, blocks reorders until it is closed.
	gate chan struct{}
	// updateGate, when set, blocks field updates until it is closed.
	updateGate chan struct{}

	calls []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		template: model.Template{Base: model.Base{ID: uuid.New()}, Name: "Skin Intake", Active: true, Version: 1},
		sections: make(map[uuid.UUID]model.Section),
		fields:   make(map[uuid.UUID]model.Field),
	}
}

func (b *fakeBackend) record(call string) {
	b.calls = append(b.calls, call)
}

func (b *fakeBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBackend) GetTemplate(ctx context.Context, templateID uuid.UUID) (*model.TemplateDocument, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("get")
	doc := &model.TemplateDocument{Template: b.template}
	for _, s := range b.sortedSections() {
		doc.Sections = append(doc.Sections, model.SectionWithFields{Section: s, Fields: b.sortedFields(s.ID)})
	}
	return doc, nil
}

func (b *fakeBackend) CreateSection(ctx context.Context, templateID uuid.UUID, req model.CreateSectionRequest) (*model.Section, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("create section")
	s := model.Section{Base: model.Base{ID: uuid.New()}, TemplateID: templateID, Title: req.Title, Required: req.Required, Order: len(b.sections)}
	b.sections[s.ID] = s
	return &s, nil
}

func (b *fakeBackend) UpdateSection(ctx context.Context, sectionID uuid.UUID, patch model.SectionPatch) (*model.Section, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("update section")
	s := b.sections[sectionID]
	patch.Apply(&s)
	b.sections[sectionID] = s
	return &s, nil
}

func (b *fakeBackend) DeleteSection(ctx context.Context, sectionID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("delete section")
	delete(b.sections, sectionID)
	for i, s := range b.sortedSections() {
		s.Order = i
		b.sections[s.ID] = s
	}
	return nil
}

func (b *fakeBackend) ReorderSections(ctx context.Context, templateID uuid.UUID, items []model.OrderItem) ([]model.Section, error) {
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("reorder sections")
	if b.failReorder {
		return nil, &apperrors.PersistenceError{Op: "reorder", Status: 500, Err: errRefused}
	}
	for _, it := range items {
		s := b.sections[it.ID]
		s.Order = it.Order
		b.sections[it.ID] = s
	}
	return b.sortedSections(), nil
}

func (b *fakeBackend) CreateField(ctx context.Context, sectionID uuid.UUID, req model.CreateFieldRequest) (*model.Field, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("create field")
	f := model.Field{
		Base:      model.Base{ID: uuid.New()},
		SectionID: sectionID,
		Type:      req.Type,
		Label:     req.Label,
		Required:  req.Required,
		Width:     req.Width,
		Order:     len(b.sortedFields(sectionID)),
		Options:   req.Options,
	}
	b.fields[f.ID] = f
	return &f, nil
}

func (b *fakeBackend) UpdateField(ctx context.Context, fieldID uuid.UUID, patch model.FieldPatch) (*model.Field, error) {
	if b.updateGate != nil {
		<-b.updateGate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("update field")
	if b.failUpdate {
		return nil, errRefused
	}
	if b.rejectLabel != "" && patch.Label != nil && *patch.Label == b.rejectLabel {
		return nil, errRefused
	}
	f := b.fields[fieldID]
	patch.Apply(&f)
	b.fields[fieldID] = f
	return &f, nil
}

func (b *fakeBackend) DeleteField(ctx context.Context, fieldID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("delete field")
	f := b.fields[fieldID]
	delete(b.fields, fieldID)
	for i, other := range b.sortedFields(f.SectionID) {
		other.Order = i
		b.fields[other.ID] = other
	}
	return nil
}

func (b *fakeBackend) DuplicateField(ctx context.Context, fieldID uuid.UUID) (*model.Field, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("duplicate field")
	f := b.fields[fieldID]
	f.ID = uuid.New()
	f.Order = len(b.sortedFields(f.SectionID))
	b.fields[f.ID] = f
	return &f, nil
}

func (b *fakeBackend) ReorderFields(ctx context.Context, sectionID uuid.UUID, items []model.OrderItem) ([]model.Field, error) {
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("reorder fields")
	if b.failReorder {
		return nil, errRefused
	}
	for _, it := range items {
		f := b.fields[it.ID]
		f.Order = it.Order
		b.fields[it.ID] = f
	}
	return b.sortedFields(sectionID), nil
}

func (b *fakeBackend) sortedSections() []model.Section {
	out := make([]model.Section, 0, len(b.sections))
	for _, s := range b.sections {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (b *fakeBackend) sortedFields(sectionID uuid.UUID) []model.Field {
	var out []model.Field
	for _, f := range b.fields {
		if f.SectionID == sectionID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
