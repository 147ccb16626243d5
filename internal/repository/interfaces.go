package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/anamnesis-api/internal/model"
)

// ErrNotFound is returned by every repository when the addressed row does not exist.
var ErrNotFound = errors.New("not found")

// All repository interfaces in one file
type (
	TemplateRepository interface {
		Create(ctx context.Context, template *model.Template) error
		Get(ctx context.Context, id uuid.UUID) (*model.Template, error)
		Update(ctx context.Context, template *model.Template) error
		// Delete removes the template with its sections and fields.
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, activeOnly bool) ([]*model.Template, error)
		// BumpVersion increments versao after a structural change.
		BumpVersion(ctx context.Context, id uuid.UUID) error
	}

	// SectionRepository keeps the ordem of a template's sections dense.
	SectionRepository interface {
		// Insert places the section at section.Order, shifting the siblings at
		// or after it by one.
		Insert(ctx context.Context, section *model.Section) error
		Get(ctx context.Context, id uuid.UUID) (*model.Section, error)
		Update(ctx context.Context, section *model.Section) error
		// Delete removes the section and closes the gap it leaves.
		Delete(ctx context.Context, id uuid.UUID) error
		ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]*model.Section, error)
		// Reorder writes a full permutation of the template's sections atomically.
		Reorder(ctx context.Context, templateID uuid.UUID, items []model.OrderItem) error
	}

	// FieldRepository keeps the ordem of a section's fields dense.
	FieldRepository interface {
		Insert(ctx context.Context, field *model.Field) error
		Get(ctx context.Context, id uuid.UUID) (*model.Field, error)
		Update(ctx context.Context, field *model.Field) error
		Delete(ctx context.Context, id uuid.UUID) error
		ListBySection(ctx context.Context, sectionID uuid.UUID) ([]*model.Field, error)
		ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]*model.Field, error)
		CountBySection(ctx context.Context, sectionID uuid.UUID) (int, error)
		Reorder(ctx context.Context, sectionID uuid.UUID, items []model.OrderItem) error
	}

	AnamnesisRepository interface {
		// Create stores a dispatched instance together with its outbox event.
		Create(ctx context.Context, anamnesis *model.Anamnesis, event *model.OutboxEvent) error
		Get(ctx context.Context, id uuid.UUID) (*model.Anamnesis, error)
		GetByToken(ctx context.Context, token string) (*model.Anamnesis, error)
		CountByTemplate(ctx context.Context, templateID uuid.UUID) (int, error)
		ListResponses(ctx context.Context, anamnesisID uuid.UUID) ([]model.Response, error)
		// SaveDraft upserts responses per (anamnese_id, campo_id) and stores
		// the progress of an in-progress instance.
		SaveDraft(ctx context.Context, id uuid.UUID, responses []model.ResponseInput, progress int) error
		// Complete upserts the final responses, stores the completed instance,
		// the updated patient record and the outbox event in one transaction.
		Complete(ctx context.Context, anamnesis *model.Anamnesis, responses []model.ResponseInput, patient *model.Patient, event *model.OutboxEvent) error
		MarkExpired(ctx context.Context, id uuid.UUID) error
	}

	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		Update(ctx context.Context, patient *model.Patient) error
		List(ctx context.Context) ([]*model.Patient, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
