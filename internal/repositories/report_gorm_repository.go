package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resqtail/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMReportRepository is a GORM implementation of ReportRepository.
type GORMReportRepository struct {
	db *gorm.DB
}

// NewGORMReportRepository creates a new instance of GORMReportRepository.
func NewGORMReportRepository(db *gorm.DB) *GORMReportRepository {
	return &GORMReportRepository{
		db: db,
	}
}

// Create persists a new report inside its own transaction.
func (r *GORMReportRepository) Create(ctx context.Context, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.Status == "" {
		report.Status = models.StatusPending
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reporters int64
		if err := tx.Model(&models.User{}).Where("id = ?", report.ReporterID).Count(&reporters).Error; err != nil {
			return err
		}
		if reporters == 0 {
			return fmt.Errorf("reporter %s: %w", report.ReporterID, ErrNotFound)
		}
		return tx.Omit("Reporter").Create(report).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

// GetAll returns every report, newest first.
func (r *GORMReportRepository) GetAll(ctx context.Context) ([]models.Report, error) {
	var reports []models.Report
	err := r.db.WithContext(ctx).
		Preload("Reporter").
		Order("created_at DESC").
		Order("id DESC").
		Find(&reports).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get all reports: %w", err)
	}
	for i := range reports {
		fillReporterName(&reports[i])
	}
	return reports, nil
}

// GetByID retrieves a single report by its ID.
func (r *GORMReportRepository) GetByID(ctx context.Context, id string) (*models.Report, error) {
	var report models.Report
	if err := r.db.WithContext(ctx).Preload("Reporter").First(&report, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("report with ID %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get report by ID %s: %w", id, err)
	}
	fillReporterName(&report)
	return &report, nil
}

// MarkCared is a single conditional UPDATE, so a Cared row is never rewritten.
func (r *GORMReportRepository) MarkCared(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Report{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]interface{}{
			"status":     models.StatusCared,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark report %s as cared: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Delete hard-deletes the report when reporterID owns it.
func (r *GORMReportRepository) Delete(ctx context.Context, id, reporterID string) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&models.Report{}, "id = ? AND reporter_id = ?", id, reporterID)
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete report: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func fillReporterName(report *models.Report) {
	if report.Reporter != nil {
		report.ReporterName = report.Reporter.Name
	}
}
