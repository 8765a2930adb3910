package backend

import (
	"context"
	"log/slog"

	"github.com/JonMunkholm/subimport/internal/core"
)

// NewLog returns a dry-run submitter that accepts every record and logs
// it. Records within a batch are handled concurrency at a time.
func NewLog(logger *slog.Logger, concurrency int) core.BatchSubmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return core.PerRecord(func(ctx context.Context, rec core.Record) error {
		logger.Info("dry run: subscriber accepted",
			"row", rec.RowIndex,
			"email", rec.Email,
			"tags", len(rec.Tags),
		)
		return nil
	}, concurrency)
}
