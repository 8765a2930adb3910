// Package admin provides administrative operations on the subscribers table.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/subimport/internal/backend"
)

// Timeout is the maximum duration for an administrative operation.
const Timeout = 30 * time.Second

// Migrate creates the subscribers table if needed.
func Migrate(ctx context.Context, db backend.Execer) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()
	return backend.EnsureSchema(ctx, db)
}

// Reset deletes every subscriber and returns how many were removed.
// This is a destructive operation.
func Reset(ctx context.Context, db backend.Execer) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	tag, err := db.Exec(ctx, "DELETE FROM subscribers")
	if err != nil {
		return 0, fmt.Errorf("reset subscribers: %w", err)
	}
	return tag.RowsAffected(), nil
}
