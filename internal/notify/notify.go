// Package notify alerts volunteers about new reports by email and by a
// real-time broadcast. Nothing here ever fails a report submission.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"resqtail/internal/models"
)

// EventNewReport is the real-time event name listeners subscribe to.
const EventNewReport = "new_report"

// ReportCreated is the summary of a freshly persisted report.
type ReportCreated struct {
	ReportID    string    `json:"report_id"`
	ReporterID  string    `json:"reporter_id"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url"`
	Latitude    float64   `json:"lat"`
	Longitude   float64   `json:"lon"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewReportCreated summarizes report.
func NewReportCreated(report *models.Report) ReportCreated {
	return ReportCreated{
		ReportID:    report.ID,
		ReporterID:  report.ReporterID,
		Description: report.Description,
		ImageURL:    report.ImageURL,
		Latitude:    report.Latitude,
		Longitude:   report.Longitude,
		CreatedAt:   report.CreatedAt,
	}
}

// MapLink points at the report location on Google Maps.
func (e ReportCreated) MapLink() string {
	query := strconv.FormatFloat(e.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(e.Longitude, 'f', -1, 64)
	return fmt.Sprintf("https://www.google.com/maps/search/?api=1&query=%s", query)
}

// Mailer delivers one HTML message.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Broadcaster pushes a named event to connected listeners, best effort.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, payload interface{}) error
}

// VolunteerDirectory lists the accounts to alert.
type VolunteerDirectory interface {
	ListByRole(ctx context.Context, role models.Role) ([]models.User, error)
}

// Dispatcher hands a ReportCreated off without blocking the caller.
type Dispatcher interface {
	Dispatch(event ReportCreated)
}
