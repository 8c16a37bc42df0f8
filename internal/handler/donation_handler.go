package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/museum-admin-api/internal/dto"
	"github.com/noah-isme/museum-admin-api/internal/middleware"
	"github.com/noah-isme/museum-admin-api/internal/models"
	"github.com/noah-isme/museum-admin-api/internal/service"
	appErrors "github.com/noah-isme/museum-admin-api/pkg/errors"
	"github.com/noah-isme/museum-admin-api/pkg/response"
)

type donationWorkflow interface {
	Submit(ctx context.Context, req dto.SubmitDonationRequest, files service.SubmissionFiles, actor *models.JWTClaims) (*dto.TransitionResult, error)
	ScheduleMeeting(ctx context.Context, id string, req dto.ScheduleMeetingRequest, actor *models.JWTClaims) (*dto.TransitionResult, error)
	CompleteMeeting(ctx context.Context, id string, req dto.CompleteMeetingRequest, actor *models.JWTClaims) (*dto.TransitionResult, error)
	SubmitToCityHall(ctx context.Context, id string, req dto.CityHallSubmissionRequest, files []service.FileUpload, actor *models.JWTClaims) (*dto.TransitionResult, error)
	AdvanceOrApprove(ctx context.Context, id string, req dto.AdvanceRequest, actor *models.JWTClaims) (*dto.TransitionResult, error)
	FinalApprove(ctx context.Context, id string, req dto.FinalApproveRequest, actor *models.JWTClaims) (*dto.TransitionResult, error)
	Reject(ctx context.Context, id string, req dto.RejectDonationRequest, actor *models.JWTClaims) (*dto.TransitionResult, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
}

type donationQueries interface {
	Get(ctx context.Context, id string) (*dto.DonationDetail, bool, error)
	Timeline(ctx context.Context, id string) ([]models.TimelineEntry, error)
	History(ctx context.Context, id string, limit int) ([]dto.AuditEntry, error)
	List(ctx context.Context, query dto.DonationQuery) ([]models.Donation, *models.Pagination, error)
	ExportCSV(ctx context.Context, query dto.DonationQuery) ([]byte, error)
}

type letterGenerator interface {
	Generate(ctx context.Context, id string) (*service.AppreciationLetter, error)
}

// DonationHandler exposes the donation workflow over HTTP.
type DonationHandler struct {
	workflow donationWorkflow
	queries  donationQueries
	letters  letterGenerator
}

// NewDonationHandler constructs the handler.
func NewDonationHandler(workflow donationWorkflow, queries donationQueries, letters letterGenerator) *DonationHandler {
	return &DonationHandler{workflow: workflow, queries: queries, letters: letters}
}

// Submit godoc
// @Summary Submit a donation offer
// @Tags Donations
// @Accept multipart/form-data
// @Produce json
// @Param donorName formData string true "Donor name"
// @Param donorEmail formData string false "Donor email"
// @Param donorContact formData string false "Donor phone or address"
// @Param type formData string true "monetary, artifact or loan"
// @Param amount formData number false "Amount for monetary donations"
// @Param itemDescription formData string false "Item description for artifact and loan donations"
// @Param estimatedValue formData number false "Estimated value"
// @Param condition formData string false "Item condition"
// @Param loanStartDate formData string false "Loan start (YYYY-MM-DD)"
// @Param loanEndDate formData string false "Loan end (YYYY-MM-DD)"
// @Param payment_proof formData file false "Payment proof"
// @Param legal_documents formData file false "Legal documents"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /donations [post]
func (h *DonationHandler) Submit(c *gin.Context) {
	var req dto.SubmitDonationRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid donation payload"))
		return
	}
	proofs, closeProofs, err := formUploads(c, "payment_proof", "payment_proofs")
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeProofs()
	legal, closeLegal, err := formUploads(c, "legal_documents", "legal_document")
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeLegal()

	result, err := h.workflow.Submit(c.Request.Context(), req, service.SubmissionFiles{PaymentProofs: proofs, LegalDocuments: legal}, middleware.CurrentUser(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary List donations
// @Tags Donations
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param stage query string false "Comma separated stages"
// @Param type query string false "Donation type"
// @Param search query string false "Search donor, email, item or reference"
// @Param sort query string false "requestDate, updatedAt, donorName, stage, status, type or amount"
// @Param order query string false "asc or desc"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /donations [get]
func (h *DonationHandler) List(c *gin.Context) {
	query, err := donationQueryFromRequest(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	donations, pagination, err := h.queries.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, donations, pagination)
}

// Export godoc
// @Summary Export donations as CSV
// @Tags Donations
// @Produce text/csv
// @Param status query string false "Comma separated statuses"
// @Param stage query string false "Comma separated stages"
// @Param type query string false "Donation type"
// @Param search query string false "Search term"
// @Success 200 {file} binary
// @Router /donations/export [get]
func (h *DonationHandler) Export(c *gin.Context) {
	query, err := donationQueryFromRequest(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	content, err := h.queries.ExportCSV(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("donations-%s.csv", time.Now().UTC().Format("20060102-150405"))
	response.Attachment(c, filename, "text/csv; charset=utf-8", content)
}

// Get godoc
// @Summary Get donation detail with attachments and timeline
// @Tags Donations
// @Produce json
// @Param id path string true "Donation ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /donations/{id} [get]
func (h *DonationHandler) Get(c *gin.Context) {
	detail, cacheHit, err := h.queries.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, detail, nil, middleware.ExtractMeta(c))
}

// Timeline godoc
// @Summary Get donation timeline
// @Tags Donations
// @Produce json
// @Param id path string true "Donation ID"
// @Success 200 {object} response.Envelope
// @Router /donations/{id}/timeline [get]
func (h *DonationHandler) Timeline(c *gin.Context) {
	entries, err := h.queries.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// History godoc
// @Summary Get the audit trail of a donation
// @Tags Donations
// @Produce json
// @Param id path string true "Donation ID"
// @Param limit query int false "Maximum entries (default 50)"
// @Success 200 {object} response.Envelope
// @Router /donations/{id}/history [get]
func (h *DonationHandler) History(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, err := h.queries.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// ScheduleMeeting godoc
// @Summary Schedule the donor meeting
// @Tags Donations
// @Accept json
// @Produce json
// @Param id path string true "Donation ID"
// @Param payload body dto.ScheduleMeetingRequest true "Meeting details"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /donations/{id}/schedule-meeting [post]
func (h *DonationHandler) ScheduleMeeting(c *gin.Context) {
	var req dto.ScheduleMeetingRequest
	if err := bindJSON(c, &req, true); err != nil {
		response.Error(c, err)
		return
	}
	h.respond(c)(h.workflow.ScheduleMeeting(c.Request.Context(), c.Param("id"), req, middleware.CurrentUser(c)))
}

// CompleteMeeting godoc
// @Summary Mark the donor meeting as completed
// @Tags Donations
// @Accept json
// @Produce json
// @Param id path string true "Donation ID"
// @Param payload body dto.CompleteMeetingRequest true "Meeting outcome"
// @Success 200 {object} response.Envelope
// @Router /donations/{id}/complete-meeting [post]
func (h *DonationHandler) CompleteMeeting(c *gin.Context) {
	var req dto.CompleteMeetingRequest
	if err := bindJSON(c, &req, true); err != nil {
		response.Error(c, err)
		return
	}
	h.respond(c)(h.workflow.CompleteMeeting(c.Request.Context(), c.Param("id"), req, middleware.CurrentUser(c)))
}

// SubmitToCityHall godoc
// @Summary Submit the donation dossier to city hall
// @Tags Donations
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Donation ID"
// @Param reference formData string true "City hall reference"
// @Param documents formData []string false "Document names"
// @Param files formData file true "Submission documents"
// @Success 200 {object} response.Envelope
// @Router /donations/{id}/city-hall [post]
func (h *DonationHandler) SubmitToCityHall(c *gin.Context) {
	var req dto.CityHallSubmissionRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid city hall payload"))
		return
	}
	files, closeFiles, err := formUploads(c, "files", "file")
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeFiles()
	h.respond(c)(h.workflow.SubmitToCityHall(c.Request.Context(), c.Param("id"), req, files, middleware.CurrentUser(c)))
}

// Advance godoc
// @Summary Record city hall approval
// @Tags Donations
// @Accept json
// @Produce json
// @Param id path string true "Donation ID"
// @Param payload body dto.AdvanceRequest false "Approval notes"
// @Success 200 {object} response.Envelope
// @Router /donations/{id}/advance [post]
func (h *DonationHandler) Advance(c *gin.Context) {
	var req dto.AdvanceRequest
	if err := bindJSON(c, &req, false); err != nil {
		response.Error(c, err)
		return
	}
	h.respond(c)(h.workflow.AdvanceOrApprove(c.Request.Context(), c.Param("id"), req, middleware.CurrentUser(c)))
}

// FinalApprove godoc
// @Summary Record the final administrative approval
// @Tags Donations
// @Accept json
// @Produce json
// @Param id path string true "Donation ID"
// @Param payload body dto.FinalApproveRequest false "Approving administrator"
// @Success 200 {object} response.Envelope
// @Router /donations/{id}/final-approve [post]
func (h *DonationHandler) FinalApprove(c *gin.Context) {
	var req dto.FinalApproveRequest
	if err := bindJSON(c, &req, false); err != nil {
		response.Error(c, err)
		return
	}
	h.respond(c)(h.workflow.FinalApprove(c.Request.Context(), c.Param("id"), req, middleware.CurrentUser(c)))
}

// Reject godoc
// @Summary Reject a donation before handover
// @Tags Donations
// @Accept json
// @Produce json
// @Param id path string true "Donation ID"
// @Param payload body dto.RejectDonationRequest false "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /donations/{id}/reject [post]
func (h *DonationHandler) Reject(c *gin.Context) {
	var req dto.RejectDonationRequest
	if err := bindJSON(c, &req, false); err != nil {
		response.Error(c, err)
		return
	}
	h.respond(c)(h.workflow.Reject(c.Request.Context(), c.Param("id"), req, middleware.CurrentUser(c)))
}

// Delete godoc
// @Summary Delete a donation and its files
// @Tags Donations
// @Produce json
// @Param id path string true "Donation ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /donations/{id} [delete]
func (h *DonationHandler) Delete(c *gin.Context) {
	if err := h.workflow.Delete(c.Request.Context(), c.Param("id"), middleware.CurrentUser(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.TransitionResult{Success: true}, nil)
}

// AppreciationLetter godoc
// @Summary Download the appreciation letter of an approved donation
// @Tags Donations
// @Produce application/pdf
// @Param id path string true "Donation ID"
// @Success 200 {file} binary
// @Failure 409 {object} response.Envelope
// @Router /donations/{id}/appreciation-letter [get]
func (h *DonationHandler) AppreciationLetter(c *gin.Context) {
	letter, err := h.letters.Generate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, letter.Filename, "application/pdf", letter.Content)
}

func (h *DonationHandler) respond(c *gin.Context) func(*dto.TransitionResult, error) {
	return func(result *dto.TransitionResult, err error) {
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, result, nil)
	}
}

func bindJSON(c *gin.Context, dest interface{}, required bool) error {
	if err := c.ShouldBindJSON(dest); err != nil {
		if !required && errors.Is(err, io.EOF) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body")
	}
	return nil
}

func donationQueryFromRequest(c *gin.Context) (dto.DonationQuery, error) {
	query := dto.DonationQuery{
		Type:   models.DonationType(strings.ToLower(strings.TrimSpace(c.Query("type")))),
		Search: c.Query("search"),
		Sort:   c.Query("sort"),
		Order:  c.Query("order"),
	}
	for _, status := range splitQueryList(c.QueryArray("status")) {
		query.Status = append(query.Status, models.DonationStatus(strings.ToLower(status)))
	}
	for _, stage := range splitQueryList(c.QueryArray("stage")) {
		query.Stage = append(query.Stage, models.DonationStage(stage))
	}
	var err error
	if query.Page, err = intQuery(c, "page"); err != nil {
		return query, err
	}
	if query.Limit, err = intQuery(c, "limit"); err != nil {
		return query, err
	}
	return query, nil
}

func splitQueryList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be a positive integer", key))
	}
	return value, nil
}

// formUploads opens every file sent under the given multipart field names.
// The returned func closes them once the service call finished.
func formUploads(c *gin.Context, fields ...string) ([]service.FileUpload, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close() //nolint:errcheck
		}
	}
	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, closeAll, nil
		}
		return nil, closeAll, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid multipart payload")
	}

	var uploads []service.FileUpload
	for _, field := range fields {
		for _, header := range form.File[field] {
			file, err := header.Open()
			if err != nil {
				closeAll()
				return nil, func() {}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
			}
			opened = append(opened, file)
			uploads = append(uploads, service.FileUpload{
				Filename: header.Filename,
				Size:     header.Size,
				Content:  file,
			})
		}
	}
	return uploads, closeAll, nil
}
