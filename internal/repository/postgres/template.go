package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/internal/repository"
)

type templateRepository struct {
	BaseRepository
}

func NewTemplateRepository(base BaseRepository) repository.TemplateRepository {
	return &templateRepository{base}
}

func (r *templateRepository) Create(ctx context.Context, t *model.Template) error {
	query := `
		INSERT INTO templates (id, nome, tipo, ativo, versao, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.Name, t.Category, t.Active, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (r *templateRepository) Get(ctx context.Context, id uuid.UUID) (*model.Template, error) {
	query := `SELECT id, nome, tipo, ativo, versao, created_at, updated_at FROM templates WHERE id = $1`
	var t model.Template
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *templateRepository) Update(ctx context.Context, t *model.Template) error {
	query := `UPDATE templates SET nome = $1, tipo = $2, ativo = $3, updated_at = $4 WHERE id = $5`
	t.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, query, t.Name, t.Category, t.Active, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return expectRow(res)
}

// Delete relies on ON DELETE CASCADE for sections and fields.
func (r *templateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return expectRow(res)
}

func (r *templateRepository) List(ctx context.Context, activeOnly bool) ([]*model.Template, error) {
	query := `
		SELECT id, nome, tipo, ativo, versao, created_at, updated_at
		FROM templates
		WHERE ($1 = FALSE OR ativo = TRUE)
		ORDER BY nome, id
	`
	var templates []*model.Template
	if err := r.db.SelectContext(ctx, &templates, query, activeOnly); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

func (r *templateRepository) BumpVersion(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE templates SET versao = versao + 1, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to bump template version: %w", err)
	}
	return expectRow(res)
}
