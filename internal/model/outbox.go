package model

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusProcessed OutboxStatus = "PROCESSED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

const (
	EventAnamnesisDispatched = "ANAMNESIS_DISPATCHED"
	EventAnamnesisCompleted  = "ANAMNESIS_COMPLETED"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// DispatchedEvent is the payload of EventAnamnesisDispatched.
type DispatchedEvent struct {
	AnamnesisID  uuid.UUID `json:"anamnese_id"`
	PatientName  string    `json:"paciente_nome"`
	PatientEmail string    `json:"paciente_email"`
	TemplateName string    `json:"template_nome"`
	Link         string    `json:"link"`
	ExpiresAt    time.Time `json:"link_expira_em"`
}

// CompletedEvent is the payload of EventAnamnesisCompleted.
type CompletedEvent struct {
	AnamnesisID uuid.UUID `json:"anamnese_id"`
	TemplateID  uuid.UUID `json:"template_id"`
	PatientID   uuid.UUID `json:"paciente_id"`
	CompletedAt time.Time `json:"completed_at"`
}
