package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"resqtail/internal/metrics"
	"resqtail/internal/models"

	"github.com/sirupsen/logrus"
)

const emailSubject = "🐾 New Animal Reported!"

var emailTemplate = template.Must(template.New("new_report").Parse(`<p>A new injured animal has been reported.</p>
<p><strong>Description:</strong> {{.Description}}</p>
<p><strong>Location:</strong> <a href="{{.MapLink}}">View on Google Maps</a></p>
<p><strong>Image:</strong> <a href="{{.ImageURL}}">{{.ImageURL}}</a></p>
`))

// Result counts the emails of one fan-out.
type Result struct {
	Sent   int
	Failed int
}

// Notifier fans a new report out to every volunteer.
type Notifier struct {
	directory   VolunteerDirectory
	mailer      Mailer
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	log         *logrus.Entry
}

// NewNotifier creates a Notifier. mailer and broadcaster may be nil, which
// disables that channel.
func NewNotifier(directory VolunteerDirectory, mailer Mailer, broadcaster Broadcaster, m *metrics.Metrics, log *logrus.Entry) *Notifier {
	return &Notifier{
		directory:   directory,
		mailer:      mailer,
		broadcaster: broadcaster,
		metrics:     m,
		log:         log.WithField("component", "notifier"),
	}
}

// NotifyVolunteers emails each volunteer and broadcasts EventNewReport. One
// recipient failing does not stop the others; those failures are only logged
// and counted. The error is non-nil only when the volunteers could not be
// listed or the email could not be rendered.
func (n *Notifier) NotifyVolunteers(ctx context.Context, event ReportCreated) (Result, error) {
	log := n.log.WithField("report_id", event.ReportID)

	n.broadcast(ctx, event, log)

	var result Result
	if n.mailer == nil {
		log.Warn("mailer not configured, skipping volunteer emails")
		n.metrics.Notification("email", "skipped")
		return result, nil
	}

	volunteers, err := n.directory.ListByRole(ctx, models.RoleVolunteer)
	if err != nil {
		log.WithError(err).Error("failed to list volunteers")
		return result, fmt.Errorf("list volunteers: %w", err)
	}

	body, err := renderEmail(event)
	if err != nil {
		log.WithError(err).Error("failed to render notification email")
		return result, err
	}

	for _, v := range volunteers {
		if err := n.mailer.Send(ctx, v.Email, emailSubject, body); err != nil {
			result.Failed++
			n.metrics.Notification("email", "failed")
			log.WithError(err).WithField("volunteer_id", v.ID).Error("failed to email volunteer")
			continue
		}
		result.Sent++
		n.metrics.Notification("email", "sent")
	}

	log.WithFields(logrus.Fields{
		"sent":   result.Sent,
		"failed": result.Failed,
	}).Info("volunteers notified")
	return result, nil
}

func (n *Notifier) broadcast(ctx context.Context, event ReportCreated, log *logrus.Entry) {
	if n.broadcaster == nil {
		return
	}
	payload := map[string]string{
		"report_id":   event.ReportID,
		"description": event.Description,
	}
	if err := n.broadcaster.Broadcast(ctx, EventNewReport, payload); err != nil {
		n.metrics.Notification("realtime", "failed")
		log.WithError(err).Warn("failed to broadcast new report")
		return
	}
	n.metrics.Notification("realtime", "sent")
}

func renderEmail(event ReportCreated) (string, error) {
	var buf bytes.Buffer
	data := struct {
		Description string
		MapLink     string
		ImageURL    string
	}{
		Description: event.Description,
		MapLink:     event.MapLink(),
		ImageURL:    event.ImageURL,
	}
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}
