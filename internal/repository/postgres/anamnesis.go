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

const anamnesisColumns = `id, template_id, paciente_id, token, link_expira_em, status, progresso,
	consentimento_lgpd, consentimento_fotos, consentimento_tratamento, snapshot, completed_at,
	created_at, updated_at`

type anamnesisRepository struct {
	BaseRepository
}

func NewAnamnesisRepository(base BaseRepository) repository.AnamnesisRepository {
	return &anamnesisRepository{base}
}

func (r *anamnesisRepository) Create(ctx context.Context, a *model.Anamnesis, event *model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.CreatedAt = time.Now()
		a.UpdatedAt = a.CreatedAt
		query := `
			INSERT INTO anamneses (` + anamnesisColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		if _, err := tx.ExecContext(ctx, query,
			a.ID, a.TemplateID, a.PatientID, a.Token, a.ExpiresAt, a.Status, a.Progress,
			a.ConsentLGPD, a.ConsentPhotos, a.ConsentTreatment, a.Snapshot, a.CompletedAt,
			a.CreatedAt, a.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to create anamnesis: %w", err)
		}
		if event != nil {
			return insertEvent(ctx, tx, event)
		}
		return nil
	})
}

func (r *anamnesisRepository) Get(ctx context.Context, id uuid.UUID) (*model.Anamnesis, error) {
	var a model.Anamnesis
	if err := r.db.GetContext(ctx, &a, `SELECT `+anamnesisColumns+` FROM anamneses WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *anamnesisRepository) GetByToken(ctx context.Context, token string) (*model.Anamnesis, error) {
	var a model.Anamnesis
	if err := r.db.GetContext(ctx, &a, `SELECT `+anamnesisColumns+` FROM anamneses WHERE token = $1`, token); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *anamnesisRepository) CountByTemplate(ctx context.Context, templateID uuid.UUID) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM anamneses WHERE template_id = $1`, templateID); err != nil {
		return 0, fmt.Errorf("failed to count anamneses: %w", err)
	}
	return n, nil
}

func (r *anamnesisRepository) ListResponses(ctx context.Context, anamnesisID uuid.UUID) ([]model.Response, error) {
	query := `SELECT anamnese_id, campo_id, resposta, updated_at FROM respostas WHERE anamnese_id = $1 ORDER BY campo_id`
	responses := []model.Response{}
	if err := r.db.SelectContext(ctx, &responses, query, anamnesisID); err != nil {
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}
	return responses, nil
}

func (r *anamnesisRepository) SaveDraft(ctx context.Context, id uuid.UUID, responses []model.ResponseInput, progress int) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE anamneses SET progresso = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
			progress, id, model.AnamnesisInProgress)
		if err != nil {
			return fmt.Errorf("failed to save progress: %w", err)
		}
		if err := expectRow(res); err != nil {
			return err
		}
		return upsertResponses(ctx, tx, id, responses)
	})
}

func (r *anamnesisRepository) Complete(ctx context.Context, a *model.Anamnesis, responses []model.ResponseInput, patient *model.Patient, event *model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		a.UpdatedAt = time.Now()
		query := `
			UPDATE anamneses SET status = $1, progresso = $2, consentimento_lgpd = $3,
				consentimento_fotos = $4, consentimento_tratamento = $5, completed_at = $6, updated_at = $7
			WHERE id = $8 AND status = $9
		`
		res, err := tx.ExecContext(ctx, query,
			a.Status, a.Progress, a.ConsentLGPD, a.ConsentPhotos, a.ConsentTreatment, a.CompletedAt,
			a.UpdatedAt, a.ID, model.AnamnesisInProgress,
		)
		if err != nil {
			return fmt.Errorf("failed to complete anamnesis: %w", err)
		}
		if err := expectRow(res); err != nil {
			return err
		}
		if err := upsertResponses(ctx, tx, a.ID, responses); err != nil {
			return err
		}
		if patient != nil {
			if err := updatePatient(ctx, tx, patient); err != nil {
				return err
			}
		}
		if event != nil {
			return insertEvent(ctx, tx, event)
		}
		return nil
	})
}

func (r *anamnesisRepository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE anamneses SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		model.AnamnesisExpired, id, model.AnamnesisInProgress)
	if err != nil {
		return fmt.Errorf("failed to expire anamnesis: %w", err)
	}
	return nil
}

func upsertResponses(ctx context.Context, ext sqlx.ExecerContext, anamnesisID uuid.UUID, responses []model.ResponseInput) error {
	query := `
		INSERT INTO respostas (anamnese_id, campo_id, resposta, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (anamnese_id, campo_id) DO UPDATE SET resposta = EXCLUDED.resposta, updated_at = NOW()
	`
	for _, resp := range responses {
		if _, err := ext.ExecContext(ctx, query, anamnesisID, resp.FieldID, resp.Value); err != nil {
			return fmt.Errorf("failed to upsert response: %w", err)
		}
	}
	return nil
}
