package repositories

import (
	"context"

	"resqtail/internal/models"
)

// ReportRepository defines the interface for report data access.
type ReportRepository interface {
	Create(ctx context.Context, report *models.Report) error
	GetAll(ctx context.Context) ([]models.Report, error)
	GetByID(ctx context.Context, id string) (*models.Report, error)
	// MarkCared moves a pending report to Cared. It reports false when no
	// pending row matched.
	MarkCared(ctx context.Context, id string) (bool, error)
	// Delete removes the report only if it belongs to reporterID.
	Delete(ctx context.Context, id, reporterID string) (bool, error)
}
