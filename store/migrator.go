package store

import (
	"context"

	"github.com/pkg/errors"
)

// Migrate initializes the schema idempotently and guarantees a usable
// baseline: if no conversation exists one titled "Legacy" is created, and
// any messages without a conversation membership are back-filled into the
// oldest conversation.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.driver.Migrate(ctx); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}
	return nil
}
