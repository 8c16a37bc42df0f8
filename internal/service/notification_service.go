package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/museum-admin-api/internal/models"
	"github.com/noah-isme/museum-admin-api/pkg/jobs"
)

// NotificationJobType tags donor email jobs on the shared queue.
const NotificationJobType = "donation_email"

type notificationQueue interface {
	Enqueue(job jobs.Job) error
}

type notificationMailer interface {
	Send(ctx context.Context, template, recipient string, data map[string]interface{}) error
}

// NotificationServiceConfig tunes donor email dispatch.
type NotificationServiceConfig struct {
	Enabled     bool
	MuseumName  string
	SendTimeout time.Duration
}

// NotificationService turns committed workflow events into donor emails.
// Delivery runs on the job queue so a slow or failing mail server never blocks
// or reverts a transition.
type NotificationService struct {
	queue   notificationQueue
	mailer  notificationMailer
	metrics *MetricsService
	logger  *zap.Logger
	cfg     NotificationServiceConfig
}

type notificationPayload struct {
	Event     models.DonationEvent
	Recipient string
	Data      map[string]interface{}

	once   sync.Once
	result chan error
}

func (p *notificationPayload) report(err error) {
	p.once.Do(func() {
		p.result <- err
		close(p.result)
	})
}

// NewNotificationService constructs the dispatcher. A nil queue delivers on a goroutine without retries.
func NewNotificationService(queue notificationQueue, mailer notificationMailer, metrics *MetricsService, logger *zap.Logger, cfg NotificationServiceConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.MuseumName == "" {
		cfg.MuseumName = "City Museum"
	}
	return &NotificationService{queue: queue, mailer: mailer, metrics: metrics, logger: logger, cfg: cfg}
}

// AttachQueue sets the dispatcher once the queue has been built around Handle.
func (s *NotificationService) AttachQueue(queue notificationQueue) {
	s.queue = queue
}

// Notify schedules the donor email for event. The returned channel yields the
// outcome of the first delivery attempt exactly once; skipped notifications
// yield nil immediately.
func (s *NotificationService) Notify(ctx context.Context, event models.DonationEvent, donation *models.Donation) <-chan error {
	result := make(chan error, 1)
	if s == nil || !s.cfg.Enabled || s.mailer == nil || donation == nil || strings.TrimSpace(donation.DonorEmail) == "" {
		result <- nil
		close(result)
		return result
	}

	payload := &notificationPayload{
		Event:     event,
		Recipient: strings.TrimSpace(donation.DonorEmail),
		Data:      s.templateData(event, donation),
		result:    result,
	}
	job := jobs.Job{ID: uuid.NewString(), Type: NotificationJobType, Payload: payload}

	if s.queue == nil {
		go func() {
			payload.report(s.deliver(context.Background(), payload))
		}()
		return result
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue donor notification", zap.String("event", string(event)), zap.String("donation_id", donation.ID), zap.Error(err))
		payload.report(fmt.Errorf("enqueue notification: %w", err))
	}
	return result
}

// Handle is the queue handler delivering one notification job.
func (s *NotificationService) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(*notificationPayload)
	if !ok {
		return fmt.Errorf("unexpected notification payload %T", job.Payload)
	}
	err := s.deliver(ctx, payload)
	payload.report(err)
	return err
}

// Exhausted logs a notification that failed every retry.
func (s *NotificationService) Exhausted(job jobs.Job, err error) {
	payload, _ := job.Payload.(*notificationPayload)
	if payload == nil {
		return
	}
	s.logger.Error("donor notification abandoned",
		zap.String("event", string(payload.Event)),
		zap.String("recipient", payload.Recipient),
		zap.Int("attempts", job.Attempt),
		zap.Error(err),
	)
}

func (s *NotificationService) deliver(ctx context.Context, payload *notificationPayload) error {
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	err := s.mailer.Send(sendCtx, string(payload.Event), payload.Recipient, payload.Data)
	s.metrics.ObserveNotification(payload.Event, err == nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		s.logger.Warn("donor notification failed", zap.String("event", string(payload.Event)), zap.String("recipient", payload.Recipient), zap.Error(err))
		return err
	}
	s.logger.Info("donor notification sent", zap.String("event", string(payload.Event)), zap.String("recipient", payload.Recipient))
	return nil
}

func (s *NotificationService) templateData(event models.DonationEvent, d *models.Donation) map[string]interface{} {
	data := map[string]interface{}{
		"Event":             string(event),
		"DonationID":        d.ID,
		"DonationType":      string(d.Type),
		"DonorName":         d.DonorName,
		"MuseumName":        s.cfg.MuseumName,
		"ScheduledDate":     "",
		"ScheduledTime":     deref(d.ScheduledTime),
		"Location":          deref(d.Location),
		"StaffMember":       deref(d.StaffMember),
		"AlternativeDates":  strings.Join(d.AlternativeDates, ", "),
		"CityHallReference": deref(d.CityHallReference),
		"ApprovedBy":        deref(d.FinalApprovedBy),
		"Reason":            deref(d.RejectionReason),
	}
	if d.ScheduledDate != nil {
		data["ScheduledDate"] = d.ScheduledDate.Format(dateLayout)
	}
	return data
}
