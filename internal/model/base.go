package model

import (
	"time"

	"github.com/google/uuid"
)

// Base contains common fields for all models
type Base struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OrderItem is one entry of a reorder payload.
type OrderItem struct {
	ID    uuid.UUID `json:"id" binding:"required"`
	Order int       `json:"ordem" binding:"min=0"`
}
