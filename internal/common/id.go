package common

import (
	"github.com/google/uuid"
)

// NewID generates a UUID v7 identifier. v7 keys are time-ordered, which keeps
// badger iteration close to insertion order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4.
		return uuid.New().String()
	}
	return id.String()
}
