package models

import (
	"time"

	"github.com/google/uuid"
)

// Exchange is one question/answer turn in a Lecture's conversation.
// Exchanges are append-only: never mutated or reordered after creation.
// Position is assigned by the store in creation order and is the order the
// conversation history is replayed to the query service.
type Exchange struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	LectureID uuid.UUID `db:"lecture_id" json:"lecture_id"`
	Position  int       `db:"position"   json:"position"`
	Question  string    `db:"question"   json:"question"`
	Answer    string    `db:"answer"     json:"answer"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
