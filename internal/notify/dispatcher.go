package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler runs the fan-out for one event.
type Handler interface {
	NotifyVolunteers(ctx context.Context, event ReportCreated) (Result, error)
}

// AsyncDispatcher runs the handler on its own goroutine per event.
type AsyncDispatcher struct {
	handler Handler
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsyncDispatcher creates an in-process dispatcher. Each fan-out gets at
// most timeout to finish.
func NewAsyncDispatcher(handler Handler, timeout time.Duration) *AsyncDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AsyncDispatcher{handler: handler, timeout: timeout}
}

func (d *AsyncDispatcher) Dispatch(event ReportCreated) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		_, _ = d.handler.NotifyVolunteers(ctx, event)
	}()
}

// Wait blocks until every dispatched fan-out returned.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

// EventPublisher sends a report-created event to a broker.
type EventPublisher interface {
	PublishReportCreated(event interface{}) error
}

// QueueDispatcher publishes events to a broker. When publishing fails the
// event is handed to fallback so volunteers still hear about it.
type QueueDispatcher struct {
	publisher EventPublisher
	fallback  *AsyncDispatcher
	log       *logrus.Entry
	wg        sync.WaitGroup
}

// NewQueueDispatcher creates a broker-backed dispatcher.
func NewQueueDispatcher(publisher EventPublisher, fallback *AsyncDispatcher, log *logrus.Entry) *QueueDispatcher {
	return &QueueDispatcher{
		publisher: publisher,
		fallback:  fallback,
		log:       log.WithField("component", "queue_dispatcher"),
	}
}

func (d *QueueDispatcher) Dispatch(event ReportCreated) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.publisher.PublishReportCreated(event); err != nil {
			d.log.WithError(err).WithField("report_id", event.ReportID).Warn("failed to publish report event, notifying in process")
			if d.fallback != nil {
				d.fallback.Dispatch(event)
			}
		}
	}()
}

// Wait blocks until pending publishes and fallbacks returned.
func (d *QueueDispatcher) Wait() {
	d.wg.Wait()
	if d.fallback != nil {
		d.fallback.Wait()
	}
}

// MessageHandler decodes a queued ReportCreated and runs handler on it. An
// undecodable body is logged and dropped so it does not loop in the queue; a
// fan-out that could not start is returned so the broker redelivers it.
func MessageHandler(handler Handler, timeout time.Duration, log *logrus.Entry) func(body []byte) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return func(body []byte) error {
		var event ReportCreated
		if err := json.Unmarshal(body, &event); err != nil {
			log.WithError(err).Error("dropping malformed report event")
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := handler.NotifyVolunteers(ctx, event); err != nil {
			return fmt.Errorf("notify volunteers of report %s: %w", event.ReportID, err)
		}
		return nil
	}
}
