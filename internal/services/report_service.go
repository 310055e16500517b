package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"resqtail/internal/metrics"
	"resqtail/internal/models"
	"resqtail/internal/notify"
	"resqtail/internal/repositories"
	"resqtail/internal/storage"

	"github.com/sirupsen/logrus"
)

// SubmitInput is the content of a new report.
type SubmitInput struct {
	Description string   `json:"description" validate:"required,max=2000"`
	ImageURL    string   `json:"image_url" validate:"required,max=1024"`
	Latitude    *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Longitude   *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

// ReportService implements the report workflow.
type ReportService struct {
	reportRepo repositories.ReportRepository
	uploader   storage.ImageUploader
	dispatcher notify.Dispatcher
	metrics    *metrics.Metrics
	log        *logrus.Entry
	now        func() time.Time
}

// NewReportService creates a new ReportService. dispatcher may be nil, in
// which case no one is notified.
func NewReportService(reportRepo repositories.ReportRepository, uploader storage.ImageUploader, dispatcher notify.Dispatcher, m *metrics.Metrics, log *logrus.Entry) *ReportService {
	return &ReportService{
		reportRepo: reportRepo,
		uploader:   uploader,
		dispatcher: dispatcher,
		metrics:    m,
		log:        log.WithField("component", "reports"),
		now:        time.Now,
	}
}

// WithClock replaces the creation timestamp source.
func (s *ReportService) WithClock(now func() time.Time) *ReportService {
	s.now = now
	return s
}

// Submit persists a Pending report whose photo is already hosted, then hands
// it to the dispatcher without waiting for notifications.
func (s *ReportService) Submit(ctx context.Context, actor *Identity, in SubmitInput) (*models.Report, error) {
	if actor == nil || actor.UserID == "" {
		return nil, ErrUnauthenticated
	}
	in.Description = strings.TrimSpace(in.Description)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	report := &models.Report{
		ReporterID:  actor.UserID,
		Description: in.Description,
		ImageURL:    in.ImageURL,
		Latitude:    *in.Latitude,
		Longitude:   *in.Longitude,
		Status:      models.StatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.reportRepo.Create(ctx, report); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("reporter %s: %w", actor.UserID, ErrUnauthenticated)
		}
		return nil, err
	}
	report.ReporterName = actor.Name

	s.metrics.ReportSubmitted()
	s.log.WithFields(logrus.Fields{"report_id": report.ID, "reporter_id": report.ReporterID}).Info("report submitted")

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(notify.NewReportCreated(report))
	}
	return report, nil
}

// SubmitWithImage uploads image first and submits only once the upload
// succeeded. A missing image or a failed upload writes nothing.
func (s *ReportService) SubmitWithImage(ctx context.Context, actor *Identity, in SubmitInput, image *storage.ImageFile) (*models.Report, error) {
	if actor == nil || actor.UserID == "" {
		return nil, ErrUnauthenticated
	}
	in.Description = strings.TrimSpace(in.Description)
	if err := validateStruct(in, "ImageURL"); err != nil {
		return nil, err
	}
	if image == nil || image.Body == nil {
		return nil, newValidationError("image", "an image file is required")
	}
	if err := image.Validate(); err != nil {
		return nil, newValidationError("image", err.Error())
	}
	if s.uploader == nil {
		return nil, fmt.Errorf("%w: image hosting is not configured", ErrUpstream)
	}

	image.OwnerID = actor.UserID
	url, err := s.uploader.Upload(ctx, image)
	if err != nil {
		s.log.WithError(err).WithField("reporter_id", actor.UserID).Error("image upload failed")
		return nil, fmt.Errorf("%w: image upload: %v", ErrUpstream, err)
	}

	in.ImageURL = url
	return s.Submit(ctx, actor, in)
}

// List returns every report, newest first.
func (s *ReportService) List(ctx context.Context) ([]models.Report, error) {
	reports, err := s.reportRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// MarkCared moves a report to Cared. Only volunteers may do so. The bool is
// false when the report was already cared, in which case nothing changed.
func (s *ReportService) MarkCared(ctx context.Context, reportID string, actor *Identity) (*models.Report, bool, error) {
	if actor == nil || actor.UserID == "" {
		return nil, false, ErrUnauthenticated
	}
	if !actor.IsVolunteer() {
		return nil, false, ErrForbidden
	}

	changed, err := s.reportRepo.MarkCared(ctx, reportID)
	if err != nil {
		return nil, false, err
	}
	report, err := s.reportRepo.GetByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}

	if changed {
		s.metrics.ReportCared()
		s.log.WithFields(logrus.Fields{"report_id": reportID, "volunteer_id": actor.UserID}).Info("report marked as cared")
	}
	return report, changed, nil
}

// Delete permanently removes a report. Only its reporter may do so.
func (s *ReportService) Delete(ctx context.Context, reportID string, actor *Identity) error {
	if actor == nil || actor.UserID == "" {
		return ErrUnauthenticated
	}

	report, err := s.reportRepo.GetByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if report.ReporterID != actor.UserID {
		return ErrForbidden
	}

	deleted, err := s.reportRepo.Delete(ctx, reportID, actor.UserID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}

	s.metrics.ReportDeleted()
	s.log.WithFields(logrus.Fields{"report_id": reportID, "reporter_id": actor.UserID}).Info("report deleted")
	return nil
}
