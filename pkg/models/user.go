package models

import (
	"time"

	"github.com/google/uuid"
)

// User owns jobs and the lectures derived from them.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Email     string    `db:"email"      json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
