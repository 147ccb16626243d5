package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/internal/repository"
)

type sectionRepository struct {
	db *DB
}

func NewSectionRepository(db *DB) repository.SectionRepository {
	return &sectionRepository{db: db}
}

func (r *sectionRepository) Insert(ctx context.Context, section *model.Section) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.templates[section.TemplateID]; !ok {
		return repository.ErrNotFound
	}
	for id, s := range r.db.sections {
		if s.TemplateID == section.TemplateID && s.Order >= section.Order {
			s.Order++
			r.db.sections[id] = s
		}
	}
	r.db.stamp(&section.Base)
	r.db.sections[section.ID] = *section
	return nil
}

func (r *sectionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Section, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	s, ok := r.db.sections[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

// Update writes the section attributes; the stored order is kept.
func (r *sectionRepository) Update(ctx context.Context, section *model.Section) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.sections[section.ID]
	if !ok {
		return repository.ErrNotFound
	}
	section.Order = cur.Order
	section.TemplateID = cur.TemplateID
	r.db.stamp(&section.Base)
	r.db.sections[section.ID] = *section
	return nil
}

func (r *sectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sections[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(r.db.sections, id)
	for i, sib := range r.db.sectionsOf(s.TemplateID) {
		sib.Order = i
		r.db.sections[sib.ID] = sib
	}
	return nil
}

func (r *sectionRepository) ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]*model.Section, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	secs := r.db.sectionsOf(templateID)
	out := make([]*model.Section, len(secs))
	for i := range secs {
		out[i] = &secs[i]
	}
	return out, nil
}

func (r *sectionRepository) Reorder(ctx context.Context, templateID uuid.UUID, items []model.OrderItem) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, it := range items {
		s, ok := r.db.sections[it.ID]
		if !ok || s.TemplateID != templateID {
			return fmt.Errorf("section %s: %w", it.ID, repository.ErrNotFound)
		}
	}
	now := r.db.now()
	for _, it := range items {
		s := r.db.sections[it.ID]
		s.Order = it.Order
		s.UpdatedAt = now
		r.db.sections[it.ID] = s
	}
	return nil
}

type fieldRepository struct {
	db *DB
}

func NewFieldRepository(db *DB) repository.FieldRepository {
	return &fieldRepository{db: db}
}

func (r *fieldRepository) Insert(ctx context.Context, field *model.Field) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.sections[field.SectionID]; !ok {
		return repository.ErrNotFound
	}
	for id, f := range r.db.fields {
		if f.SectionID == field.SectionID && f.Order >= field.Order {
			f.Order++
			r.db.fields[id] = f
		}
	}
	r.db.stamp(&field.Base)
	r.db.fields[field.ID] = cloneField(*field)
	return nil
}

func (r *fieldRepository) Get(ctx context.Context, id uuid.UUID) (*model.Field, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	f, ok := r.db.fields[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	f = cloneField(f)
	return &f, nil
}

// Update writes the field attributes; the stored section and order are kept.
func (r *fieldRepository) Update(ctx context.Context, field *model.Field) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.fields[field.ID]
	if !ok {
		return repository.ErrNotFound
	}
	field.Order = cur.Order
	field.SectionID = cur.SectionID
	r.db.stamp(&field.Base)
	r.db.fields[field.ID] = cloneField(*field)
	return nil
}

func (r *fieldRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	f, ok := r.db.fields[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(r.db.fields, id)
	for i, sib := range r.db.fieldsOf(f.SectionID) {
		sib.Order = i
		r.db.fields[sib.ID] = sib
	}
	return nil
}

func (r *fieldRepository) ListBySection(ctx context.Context, sectionID uuid.UUID) ([]*model.Field, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	fields := r.db.fieldsOf(sectionID)
	out := make([]*model.Field, len(fields))
	for i := range fields {
		out[i] = &fields[i]
	}
	return out, nil
}

func (r *fieldRepository) ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]*model.Field, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*model.Field
	for _, s := range r.db.sectionsOf(templateID) {
		fields := r.db.fieldsOf(s.ID)
		for i := range fields {
			out = append(out, &fields[i])
		}
	}
	return out, nil
}

func (r *fieldRepository) CountBySection(ctx context.Context, sectionID uuid.UUID) (int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	n := 0
	for _, f := range r.db.fields {
		if f.SectionID == sectionID {
			n++
		}
	}
	return n, nil
}

func (r *fieldRepository) Reorder(ctx context.Context, sectionID uuid.UUID, items []model.OrderItem) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, it := range items {
		f, ok := r.db.fields[it.ID]
		if !ok || f.SectionID != sectionID {
			return fmt.Errorf("field %s: %w", it.ID, repository.ErrNotFound)
		}
	}
	now := r.db.now()
	for _, it := range items {
		f := r.db.fields[it.ID]
		f.Order = it.Order
		f.UpdatedAt = now
		r.db.fields[it.ID] = f
	}
	return nil
}
