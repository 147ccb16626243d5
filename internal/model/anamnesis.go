package model

import (
	"time"

	"github.com/google/uuid"
)

type AnamnesisStatus string

const (
	AnamnesisInProgress AnamnesisStatus = "in_progress"
	AnamnesisCompleted  AnamnesisStatus = "completed"
	AnamnesisExpired    AnamnesisStatus = "expired"
)

// Anamnesis is one dispatched, fillable copy of a Template.
type Anamnesis struct {
	Base
	TemplateID       uuid.UUID        `db:"template_id" json:"template_id"`
	PatientID        uuid.UUID        `db:"paciente_id" json:"paciente_id"`
	Token            string           `db:"token" json:"-"`
	ExpiresAt        time.Time        `db:"link_expira_em" json:"link_expira_em"`
	Status           AnamnesisStatus  `db:"status" json:"status"`
	Progress         int              `db:"progresso" json:"progresso"`
	ConsentLGPD      bool             `db:"consentimento_lgpd" json:"consentimento_lgpd"`
	ConsentPhotos    bool             `db:"consentimento_fotos" json:"consentimento_fotos"`
	ConsentTreatment bool             `db:"consentimento_tratamento" json:"consentimento_tratamento"`
	Snapshot         TemplateSnapshot `db:"snapshot" json:"-"`
	CompletedAt      *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

func (a *Anamnesis) Expired(now time.Time) bool {
	return a.Status == AnamnesisExpired || !now.Before(a.ExpiresAt)
}

// Response is one stored answer. Values are always text.
type Response struct {
	AnamnesisID uuid.UUID `db:"anamnese_id" json:"anamnese_id"`
	FieldID     uuid.UUID `db:"campo_id" json:"campo_id"`
	Value       string    `db:"resposta" json:"resposta"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type ResponseInput struct {
	FieldID uuid.UUID `json:"campo_id" binding:"required"`
	Value   string    `json:"resposta"`
}

type DraftRequest struct {
	Responses []ResponseInput `json:"respostas" binding:"dive"`
	Progress  int             `json:"progresso"`
}

type FinalizeRequest struct {
	Responses        []ResponseInput `json:"respostas" binding:"dive"`
	ConsentLGPD      bool            `json:"consentimento_lgpd"`
	ConsentPhotos    bool            `json:"consentimento_fotos"`
	ConsentTreatment bool            `json:"consentimento_tratamento"`
}

type DispatchRequest struct {
	PatientID      uuid.UUID `json:"paciente_id" binding:"required"`
	ExpiresInHours int       `json:"expira_em_horas" binding:"omitempty,min=1"`
}

// DispatchResult is what staff receive after sending a form to a patient.
type DispatchResult struct {
	Anamnesis *Anamnesis `json:"anamnese"`
	Token     string     `json:"token"`
	Link      string     `json:"link"`
}

type PatientSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"nome"`
}

// PublicAnamnesis is the document the public filling page loads by token.
type PublicAnamnesis struct {
	Anamnesis      Anamnesis        `json:"anamnese"`
	Template       TemplateSnapshot `json:"template"`
	Patient        *PatientSummary  `json:"paciente,omitempty"`
	SavedResponses []Response       `json:"respostas_salvas"`
}

// AnamnesisDetail is the staff view of one instance and its answers.
type AnamnesisDetail struct {
	Anamnesis Anamnesis        `json:"anamnese"`
	Template  TemplateSnapshot `json:"template"`
	Responses []Response       `json:"respostas"`
}
