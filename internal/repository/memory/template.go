package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/internal/repository"
)

type templateRepository struct {
	db *DB
}

func NewTemplateRepository(db *DB) repository.TemplateRepository {
	return &templateRepository{db: db}
}

func (r *templateRepository) Create(ctx context.Context, template *model.Template) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.stamp(&template.Base)
	r.db.templates[template.ID] = *template
	return nil
}

func (r *templateRepository) Get(ctx context.Context, id uuid.UUID) (*model.Template, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	t, ok := r.db.templates[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r *templateRepository) Update(ctx context.Context, template *model.Template) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.templates[template.ID]; !ok {
		return repository.ErrNotFound
	}
	r.db.stamp(&template.Base)
	r.db.templates[template.ID] = *template
	return nil
}

func (r *templateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.templates[id]; !ok {
		return repository.ErrNotFound
	}
	for sid, s := range r.db.sections {
		if s.TemplateID != id {
			continue
		}
		for fid, f := range r.db.fields {
			if f.SectionID == sid {
				delete(r.db.fields, fid)
			}
		}
		delete(r.db.sections, sid)
	}
	delete(r.db.templates, id)
	return nil
}

func (r *templateRepository) List(ctx context.Context, activeOnly bool) ([]*model.Template, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]*model.Template, 0, len(r.db.templates))
	for _, t := range r.db.templates {
		if activeOnly && !t.Active {
			continue
		}
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *templateRepository) BumpVersion(ctx context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.templates[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.Version++
	t.UpdatedAt = r.db.now()
	r.db.templates[id] = t
	return nil
}
