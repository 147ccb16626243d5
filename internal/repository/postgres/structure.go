package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/internal/repository"
)

// Sibling order changes run inside one transaction; the unique (parent, ordem)
// constraints are deferred to commit so intermediate states may collide.

const sectionColumns = `id, template_id, titulo, descricao, obrigatorio, ordem, created_at, updated_at`

const fieldColumns = `id, secao_id, tipo_campo, label, placeholder, texto_ajuda, obrigatorio,
	largura, ordem, opcoes, campo_sistema, created_at, updated_at`

type sectionRepository struct {
	BaseRepository
}

func NewSectionRepository(base BaseRepository) repository.SectionRepository {
	return &sectionRepository{base}
}

func (r *sectionRepository) Insert(ctx context.Context, s *model.Section) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockRow(ctx, tx, `SELECT id FROM templates WHERE id = $1 FOR UPDATE`, s.TemplateID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE secoes SET ordem = ordem + 1 WHERE template_id = $1 AND ordem >= $2`,
			s.TemplateID, s.Order); err != nil {
			return fmt.Errorf("failed to shift sections: %w", err)
		}

		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.CreatedAt = time.Now()
		s.UpdatedAt = s.CreatedAt
		query := `
			INSERT INTO secoes (id, template_id, titulo, descricao, obrigatorio, ordem, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		if _, err := tx.ExecContext(ctx, query,
			s.ID, s.TemplateID, s.Title, s.Description, s.Required, s.Order, s.CreatedAt, s.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to create section: %w", err)
		}
		return nil
	})
}

func (r *sectionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Section, error) {
	var s model.Section
	if err := r.db.GetContext(ctx, &s, `SELECT `+sectionColumns+` FROM secoes WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *sectionRepository) Update(ctx context.Context, s *model.Section) error {
	query := `
		UPDATE secoes SET titulo = $1, descricao = $2, obrigatorio = $3, updated_at = $4
		WHERE id = $5
		RETURNING template_id, ordem, created_at
	`
	s.UpdatedAt = time.Now()
	row := r.db.QueryRowxContext(ctx, query, s.Title, s.Description, s.Required, s.UpdatedAt, s.ID)
	if err := row.Scan(&s.TemplateID, &s.Order, &s.CreatedAt); err != nil {
		return notFound(err)
	}
	return nil
}

func (r *sectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var templateID uuid.UUID
		err := tx.QueryRowxContext(ctx, `DELETE FROM secoes WHERE id = $1 RETURNING template_id`, id).Scan(&templateID)
		if err != nil {
			return notFound(err)
		}
		return compact(ctx, tx, "secoes", "template_id", templateID)
	})
}

func (r *sectionRepository) ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]*model.Section, error) {
	var sections []*model.Section
	query := `SELECT ` + sectionColumns + ` FROM secoes WHERE template_id = $1 ORDER BY ordem`
	if err := r.db.SelectContext(ctx, &sections, query, templateID); err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	return sections, nil
}

func (r *sectionRepository) Reorder(ctx context.Context, templateID uuid.UUID, items []model.OrderItem) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		return reorder(ctx, tx, "secoes", "template_id", templateID, items)
	})
}

type fieldRepository struct {
	BaseRepository
}

func NewFieldRepository(base BaseRepository) repository.FieldRepository {
	return &fieldRepository{base}
}

func (r *fieldRepository) Insert(ctx context.Context, f *model.Field) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockRow(ctx, tx, `SELECT id FROM secoes WHERE id = $1 FOR UPDATE`, f.SectionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE campos SET ordem = ordem + 1 WHERE secao_id = $1 AND ordem >= $2`,
			f.SectionID, f.Order); err != nil {
			return fmt.Errorf("failed to shift fields: %w", err)
		}

		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		f.CreatedAt = time.Now()
		f.UpdatedAt = f.CreatedAt
		query := `
			INSERT INTO campos (` + fieldColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`
		if _, err := tx.ExecContext(ctx, query,
			f.ID, f.SectionID, f.Type, f.Label, f.Placeholder, f.HelpText, f.Required,
			f.Width, f.Order, f.Options, f.SystemField, f.CreatedAt, f.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to create field: %w", err)
		}
		return nil
	})
}

func (r *fieldRepository) Get(ctx context.Context, id uuid.UUID) (*model.Field, error) {
	var f model.Field
	if err := r.db.GetContext(ctx, &f, `SELECT `+fieldColumns+` FROM campos WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (r *fieldRepository) Update(ctx context.Context, f *model.Field) error {
	query := `
		UPDATE campos SET tipo_campo = $1, label = $2, placeholder = $3, texto_ajuda = $4,
			obrigatorio = $5, largura = $6, opcoes = $7, campo_sistema = $8, updated_at = $9
		WHERE id = $10
		RETURNING secao_id, ordem, created_at
	`
	f.UpdatedAt = time.Now()
	row := r.db.QueryRowxContext(ctx, query,
		f.Type, f.Label, f.Placeholder, f.HelpText, f.Required, f.Width, f.Options, f.SystemField,
		f.UpdatedAt, f.ID,
	)
	if err := row.Scan(&f.SectionID, &f.Order, &f.CreatedAt); err != nil {
		return notFound(err)
	}
	return nil
}

func (r *fieldRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var sectionID uuid.UUID
		err := tx.QueryRowxContext(ctx, `DELETE FROM campos WHERE id = $1 RETURNING secao_id`, id).Scan(&sectionID)
		if err != nil {
			return notFound(err)
		}
		return compact(ctx, tx, "campos", "secao_id", sectionID)
	})
}

func (r *fieldRepository) ListBySection(ctx context.Context, sectionID uuid.UUID) ([]*model.Field, error) {
	var fields []*model.Field
	query := `SELECT ` + fieldColumns + ` FROM campos WHERE secao_id = $1 ORDER BY ordem`
	if err := r.db.SelectContext(ctx, &fields, query, sectionID); err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	return fields, nil
}

func (r *fieldRepository) ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]*model.Field, error) {
	query := `
		SELECT c.id, c.secao_id, c.tipo_campo, c.label, c.placeholder, c.texto_ajuda, c.obrigatorio,
			c.largura, c.ordem, c.opcoes, c.campo_sistema, c.created_at, c.updated_at
		FROM campos c
		JOIN secoes s ON s.id = c.secao_id
		WHERE s.template_id = $1
		ORDER BY s.ordem, c.ordem
	`
	var fields []*model.Field
	if err := r.db.SelectContext(ctx, &fields, query, templateID); err != nil {
		return nil, fmt.Errorf("failed to list template fields: %w", err)
	}
	return fields, nil
}

func (r *fieldRepository) CountBySection(ctx context.Context, sectionID uuid.UUID) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM campos WHERE secao_id = $1`, sectionID); err != nil {
		return 0, fmt.Errorf("failed to count fields: %w", err)
	}
	return n, nil
}

func (r *fieldRepository) Reorder(ctx context.Context, sectionID uuid.UUID, items []model.OrderItem) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		return reorder(ctx, tx, "campos", "secao_id", sectionID, items)
	})
}

func lockRow(ctx context.Context, tx *sqlx.Tx, query string, id uuid.UUID) error {
	var locked uuid.UUID
	if err := tx.QueryRowxContext(ctx, query, id).Scan(&locked); err != nil {
		return notFound(err)
	}
	return nil
}

// compact renumbers the children of parent to 0..N-1 keeping their order.
func compact(ctx context.Context, tx *sqlx.Tx, table, parentColumn string, parent uuid.UUID) error {
	query := fmt.Sprintf(`
		UPDATE %[1]s t SET ordem = x.rn - 1
		FROM (SELECT id, ROW_NUMBER() OVER (ORDER BY ordem) AS rn FROM %[1]s WHERE %[2]s = $1) x
		WHERE t.id = x.id AND t.ordem <> x.rn - 1
	`, table, parentColumn)
	if _, err := tx.ExecContext(ctx, query, parent); err != nil {
		return fmt.Errorf("failed to compact %s: %w", table, err)
	}
	return nil
}

func reorder(ctx context.Context, tx *sqlx.Tx, table, parentColumn string, parent uuid.UUID, items []model.OrderItem) error {
	query := fmt.Sprintf(`UPDATE %s SET ordem = $1, updated_at = NOW() WHERE id = $2 AND %s = $3`, table, parentColumn)
	for _, it := range items {
		res, err := tx.ExecContext(ctx, query, it.Order, it.ID, parent)
		if err != nil {
			return fmt.Errorf("failed to reorder %s: %w", table, err)
		}
		if err := expectRow(res); err != nil {
			return fmt.Errorf("%s %s: %w", table, it.ID, err)
		}
	}
	return nil
}
