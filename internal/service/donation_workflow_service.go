package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/museum-admin-api/internal/dto"
	"github.com/noah-isme/museum-admin-api/internal/models"
	"github.com/noah-isme/museum-admin-api/internal/repository"
	appErrors "github.com/noah-isme/museum-admin-api/pkg/errors"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

type donationStore interface {
	CreateWithAttachments(ctx context.Context, donation *models.Donation, attachments []models.Attachment) error
	GetByID(ctx context.Context, id string) (*models.Donation, error)
	ApplyTransition(ctx context.Context, params repository.TransitionParams, attachments []models.Attachment) (*models.Donation, error)
	Delete(ctx context.Context, id string) ([]string, error)
}

type evidenceManager interface {
	Stage(ctx context.Context, donationID string, category models.AttachmentCategory, upload FileUpload) (*models.Attachment, error)
	Discard(attachments []models.Attachment)
	Upload(ctx context.Context, donationID string, category models.AttachmentCategory, upload FileUpload) (*models.Attachment, error)
	PurgeFiles(donationID string, paths []string)
}

type donationNotifier interface {
	Notify(ctx context.Context, event models.DonationEvent, donation *models.Donation) <-chan error
}

type donationAuditor interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SubmissionFiles groups the evidence uploaded with a new donation.
type SubmissionFiles struct {
	PaymentProofs  []FileUpload
	LegalDocuments []FileUpload
}

// DonationWorkflowConfig tunes the workflow engine.
type DonationWorkflowConfig struct {
	NotificationWait time.Duration
}

// DonationWorkflowService moves donations through the approval stages.
// Every transition re-checks the shared transition table against a fresh
// snapshot and commits with an optimistic version guard.
type DonationWorkflowService struct {
	repo        donationStore
	attachments evidenceManager
	notifier    donationNotifier
	cache       *CacheService
	audit       donationAuditor
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         DonationWorkflowConfig
	now         func() time.Time
}

// NewDonationWorkflowService wires the engine dependencies.
func NewDonationWorkflowService(repo donationStore, attachments evidenceManager, notifier donationNotifier, cache *CacheService, audit donationAuditor, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg DonationWorkflowConfig) *DonationWorkflowService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NotificationWait <= 0 {
		cfg.NotificationWait = 3 * time.Second
	}
	return &DonationWorkflowService{
		repo:        repo,
		attachments: attachments,
		notifier:    notifier,
		cache:       cache,
		audit:       audit,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates a new donation, stores its evidence and creates the record.
func (s *DonationWorkflowService) Submit(ctx context.Context, req dto.SubmitDonationRequest, files SubmissionFiles, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid donation payload")
	}
	donation, err := s.buildDonation(req, files)
	if err != nil {
		return nil, err
	}

	uploads := make([]stagedUpload, 0, len(files.PaymentProofs)+len(files.LegalDocuments))
	for _, upload := range files.PaymentProofs {
		uploads = append(uploads, stagedUpload{category: models.AttachmentPaymentProof, file: upload})
	}
	for _, upload := range files.LegalDocuments {
		uploads = append(uploads, stagedUpload{category: models.AttachmentLegalDocument, file: upload})
	}
	staged, err := s.stageAll(ctx, donation.ID, uploads)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateWithAttachments(ctx, donation, staged); err != nil {
		s.attachments.Discard(staged)
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to create donation")
	}

	s.emitAudit(ctx, actor, models.AuditActionDonationSubmit, donation.ID, nil, stateSnapshot(donation))
	s.logger.Info("donation submitted", zap.String("donation_id", donation.ID), zap.String("type", string(donation.Type)), zap.Int("attachments", len(staged)))
	return &dto.TransitionResult{Success: true, Donation: donation}, nil
}

// ScheduleMeeting books the donor meeting.
func (s *DonationWorkflowService) ScheduleMeeting(ctx context.Context, id string, req dto.ScheduleMeetingRequest, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid meeting payload")
	}
	date, err := time.Parse(dateLayout, strings.TrimSpace(req.Date))
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must use YYYY-MM-DD")
	}
	clock := strings.TrimSpace(req.Time)
	if _, err := time.Parse(timeLayout, clock); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "time must use HH:MM")
	}
	alternatives := pq.StringArray{}
	for _, raw := range req.AlternativeDates {
		alt := strings.TrimSpace(raw)
		if alt == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, alt); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("alternative date %q must use YYYY-MM-DD", alt))
		}
		alternatives = append(alternatives, alt)
	}

	set := map[string]interface{}{
		"scheduled_date":    date,
		"scheduled_time":    clock,
		"location":          strings.TrimSpace(req.Location),
		"alternative_dates": alternatives,
	}
	if staff := optionalString(req.StaffMember); staff != nil {
		set["staff_member"] = *staff
	}
	if notes := optionalString(req.Notes); notes != nil {
		set["meeting_notes"] = *notes
	}
	return s.transition(ctx, id, models.ActionScheduleMeeting, actor, set, nil)
}

// CompleteMeeting records that the meeting took place and the handover happened.
func (s *DonationWorkflowService) CompleteMeeting(ctx context.Context, id string, req dto.CompleteMeetingRequest, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	if !req.HandoverCompleted {
		return nil, appErrors.Clone(appErrors.ErrValidation, "handover must be confirmed to complete the meeting")
	}
	set := map[string]interface{}{
		"meeting_completed_date": s.now(),
		"handover_completed":     true,
	}
	if notes := optionalString(req.Notes); notes != nil {
		set["meeting_notes"] = *notes
	}
	return s.transition(ctx, id, models.ActionCompleteMeeting, actor, set, nil)
}

// SubmitToCityHall stores the submission files and moves the donation to CityHall
// in one transaction.
func (s *DonationWorkflowService) SubmitToCityHall(ctx context.Context, id string, req dto.CityHallSubmissionRequest, files []FileUpload, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid city hall payload")
	}
	if len(files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one submission document file is required")
	}
	documents := pq.StringArray{}
	for _, doc := range req.Documents {
		if trimmed := strings.TrimSpace(doc); trimmed != "" {
			documents = append(documents, trimmed)
		}
	}
	for _, file := range files {
		documents = append(documents, file.displayName())
	}
	set := map[string]interface{}{
		"city_hall_reference":       strings.TrimSpace(req.Reference),
		"submission_documents":      documents,
		"city_hall_submission_date": s.now(),
	}
	uploads := make([]stagedUpload, 0, len(files))
	for _, file := range files {
		uploads = append(uploads, stagedUpload{category: models.AttachmentCityHallSubmission, file: file})
	}
	return s.transition(ctx, id, models.ActionSubmitCityHall, actor, set, uploads)
}

// AdvanceOrApprove records the city hall approval and completes the workflow.
func (s *DonationWorkflowService) AdvanceOrApprove(ctx context.Context, id string, req dto.AdvanceRequest, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	set := map[string]interface{}{
		"city_hall_approval_date": s.now(),
	}
	if notes := optionalString(req.Notes); notes != nil {
		set["city_hall_notes"] = *notes
	}
	return s.transition(ctx, id, models.ActionAdvance, actor, set, nil)
}

// FinalApprove records the administrator sign-off.
func (s *DonationWorkflowService) FinalApprove(ctx context.Context, id string, req dto.FinalApproveRequest, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	admin := strings.TrimSpace(req.AdminName)
	if admin == "" {
		admin = strings.TrimSpace(actor.DisplayName())
	}
	if admin == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "adminName is required")
	}
	set := map[string]interface{}{
		"final_approval_date": s.now(),
		"final_approved_by":   admin,
	}
	if notes := optionalString(req.Notes); notes != nil {
		set["final_approval_notes"] = *notes
	}
	return s.transition(ctx, id, models.ActionFinalApprove, actor, set, nil)
}

// Reject terminates the donation before handover.
func (s *DonationWorkflowService) Reject(ctx context.Context, id string, req dto.RejectDonationRequest, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	set := map[string]interface{}{
		"rejected_at": s.now(),
	}
	if reason := optionalString(req.Reason); reason != nil {
		set["rejection_reason"] = *reason
	}
	return s.transition(ctx, id, models.ActionReject, actor, set, nil)
}

// Delete removes a donation in any state together with its stored files.
func (s *DonationWorkflowService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	paths, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "donation not found")
		}
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to delete donation")
	}
	s.attachments.PurgeFiles(id, paths)
	s.evict(ctx, id)
	s.emitAudit(ctx, actor, models.AuditActionDonationDelete, id, nil, nil)
	s.logger.Info("donation deleted", zap.String("donation_id", id), zap.Int("files", len(paths)))
	return nil
}

// AddAttachment stores additional evidence on an existing, non-rejected donation.
func (s *DonationWorkflowService) AddAttachment(ctx context.Context, id string, category models.AttachmentCategory, upload FileUpload, actor *models.JWTClaims) (*models.Attachment, error) {
	donation, err := loadDonation(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if donation.Status == models.DonationStatusRejected {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "cannot attach files to a rejected donation")
	}
	attachment, err := s.attachments.Upload(ctx, id, category, upload)
	if err != nil {
		return nil, err
	}
	s.evict(ctx, id)
	newValues, _ := json.Marshal(map[string]interface{}{
		"attachmentId": attachment.ID,
		"category":     attachment.Category,
		"displayName":  attachment.DisplayName,
	})
	s.emitAudit(ctx, actor, models.AuditActionAttachmentUpload, id, nil, newValues)
	return attachment, nil
}

type stagedUpload struct {
	category models.AttachmentCategory
	file     FileUpload
}

func (s *DonationWorkflowService) transition(ctx context.Context, id string, action models.DonationAction, actor *models.JWTClaims, set map[string]interface{}, uploads []stagedUpload) (*dto.TransitionResult, error) {
	current, err := loadDonation(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	stage, status, err := models.CheckTransition(current, action)
	if err != nil {
		s.metrics.ObserveTransition(action, OutcomeRejected)
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidTransition.Code, appErrors.ErrInvalidTransition.Status, err.Error())
	}
	set["processing_stage"] = stage
	set["status"] = status

	staged, err := s.stageAll(ctx, id, uploads)
	if err != nil {
		s.metrics.ObserveTransition(action, OutcomeFailed)
		return nil, err
	}

	updated, err := s.repo.ApplyTransition(ctx, repository.TransitionParams{
		ID:              id,
		ExpectedVersion: current.Version,
		Set:             set,
	}, staged)
	if err != nil {
		s.attachments.Discard(staged)
		switch {
		case errors.Is(err, repository.ErrStaleVersion):
			s.metrics.ObserveTransition(action, OutcomeConflict)
			s.logger.Info("donation transition lost version race", zap.String("donation_id", id), zap.String("action", string(action)), zap.Int64("version", current.Version))
			return nil, appErrors.Clone(appErrors.ErrConflict, "donation was modified concurrently, reload and retry")
		case errors.Is(err, sql.ErrNoRows):
			s.metrics.ObserveTransition(action, OutcomeFailed)
			return nil, appErrors.Clone(appErrors.ErrNotFound, "donation not found")
		default:
			s.metrics.ObserveTransition(action, OutcomeFailed)
			return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to apply donation transition")
		}
	}

	s.metrics.ObserveTransition(action, OutcomeSuccess)
	s.evict(ctx, id)
	s.emitAudit(ctx, actor, models.AuditActionDonationTransition, id, stateSnapshot(current), transitionSnapshot(action, updated))
	s.logger.Info("donation transitioned",
		zap.String("donation_id", id),
		zap.String("action", string(action)),
		zap.String("from", string(current.Stage)),
		zap.String("to", string(updated.Stage)),
		zap.String("status", string(updated.Status)),
	)

	result := &dto.TransitionResult{Success: true, Donation: updated}
	if rule, ok := models.RuleFor(action); ok && rule.Event != "" {
		result.EmailError = s.awaitNotification(ctx, rule.Event, updated)
	}
	return result, nil
}

func (s *DonationWorkflowService) stageAll(ctx context.Context, donationID string, uploads []stagedUpload) ([]models.Attachment, error) {
	staged := make([]models.Attachment, 0, len(uploads))
	for _, upload := range uploads {
		attachment, err := s.attachments.Stage(ctx, donationID, upload.category, upload.file)
		if err != nil {
			s.attachments.Discard(staged)
			return nil, err
		}
		staged = append(staged, *attachment)
	}
	return staged, nil
}

// awaitNotification waits briefly for the first delivery attempt and returns
// the failure as a NOTIFICATION_FAILURE message. Slow outcomes are left to the
// queue and only logged.
func (s *DonationWorkflowService) awaitNotification(ctx context.Context, event models.DonationEvent, donation *models.Donation) string {
	if s.notifier == nil {
		return ""
	}
	outcome := s.notifier.Notify(ctx, event, donation)
	timer := time.NewTimer(s.cfg.NotificationWait)
	defer timer.Stop()
	select {
	case err := <-outcome:
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrNotification.Code, appErrors.ErrNotification.Status, appErrors.ErrNotification.Message).Error()
		}
		return ""
	case <-timer.C:
		s.logger.Info("donor notification still pending", zap.String("donation_id", donation.ID), zap.String("event", string(event)))
		return ""
	case <-ctx.Done():
		return ""
	}
}

func (s *DonationWorkflowService) buildDonation(req dto.SubmitDonationRequest, files SubmissionFiles) (*models.Donation, error) {
	donation := &models.Donation{
		ID:           uuid.NewString(),
		DonorName:    strings.TrimSpace(req.DonorName),
		DonorEmail:   strings.TrimSpace(req.DonorEmail),
		DonorContact: strings.TrimSpace(req.DonorContact),
		Type:         req.Type,
		Stage:        models.StageRequestMeeting,
		Status:       models.DonationStatusPending,
		RequestDate:  s.now(),
	}

	switch {
	case req.Type == models.DonationTypeMonetary:
		if req.Amount == nil || *req.Amount <= 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be greater than zero for monetary donations")
		}
		if len(files.PaymentProofs) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "payment proof is required for monetary donations")
		}
		donation.Amount = req.Amount
	case req.Type.RequiresItem():
		item := optionalString(req.ItemDescription)
		if item == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "itemDescription is required for artifact and loan donations")
		}
		if len(files.LegalDocuments) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "legal documents are required for artifact and loan donations")
		}
		donation.ItemDescription = item
		donation.EstimatedValue = req.EstimatedValue
		donation.Condition = optionalString(req.Condition)
		if req.Type == models.DonationTypeLoan {
			start, end, err := parseLoanPeriod(req.LoanStartDate, req.LoanEndDate)
			if err != nil {
				return nil, err
			}
			donation.LoanStartDate = &start
			donation.LoanEndDate = &end
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported donation type")
	}
	return donation, nil
}

func parseLoanPeriod(rawStart, rawEnd string) (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, strings.TrimSpace(rawStart))
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "loanStartDate must use YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(rawEnd))
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "loanEndDate must use YYYY-MM-DD")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "loanEndDate must not be before loanStartDate")
	}
	return start, end, nil
}

func (s *DonationWorkflowService) evict(ctx context.Context, id string) {
	_ = s.cache.Evict(ctx, donationDetailCacheKey(id))
}

func (s *DonationWorkflowService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, donationID string, oldValues, newValues []byte) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   "donation",
		ResourceID: &donationID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  "system",
		UserAgent:  "donation-workflow",
	}
	if actor != nil && actor.UserID != "" {
		userID := actor.UserID
		log.UserID = &userID
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.String("donation_id", donationID), zap.Error(err))
	}
}

func stateSnapshot(d *models.Donation) []byte {
	if d == nil {
		return nil
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"stage":   d.Stage,
		"status":  d.Status,
		"version": d.Version,
	})
	return raw
}

func transitionSnapshot(action models.DonationAction, d *models.Donation) []byte {
	raw, _ := json.Marshal(map[string]interface{}{
		"action":  action,
		"stage":   d.Stage,
		"status":  d.Status,
		"version": d.Version,
	})
	return raw
}

// DonationDetailCachePattern matches every cached donation detail.
const DonationDetailCachePattern = donationDetailCachePrefix + "*"

const donationDetailCachePrefix = "donations:detail:"

func donationDetailCacheKey(id string) string {
	return donationDetailCachePrefix + id
}

func optionalString(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}
