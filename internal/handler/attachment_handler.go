package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/museum-admin-api/internal/dto"
	"github.com/noah-isme/museum-admin-api/internal/middleware"
	"github.com/noah-isme/museum-admin-api/internal/models"
	"github.com/noah-isme/museum-admin-api/internal/service"
	appErrors "github.com/noah-isme/museum-admin-api/pkg/errors"
	"github.com/noah-isme/museum-admin-api/pkg/response"
)

type attachmentUploader interface {
	AddAttachment(ctx context.Context, id string, category models.AttachmentCategory, upload service.FileUpload, actor *models.JWTClaims) (*models.Attachment, error)
}

type attachmentQueries interface {
	Attachments(ctx context.Context, id string) ([]dto.AttachmentResponse, error)
}

type attachmentFiles interface {
	WithDownloadURL(attachment models.Attachment) (dto.AttachmentResponse, error)
	Open(ctx context.Context, donationID, attachmentID, token string) (*service.AttachmentDownload, error)
}

// AttachmentHandler manages donation evidence endpoints.
type AttachmentHandler struct {
	uploader attachmentUploader
	queries  attachmentQueries
	files    attachmentFiles
}

// NewAttachmentHandler constructs the handler.
func NewAttachmentHandler(uploader attachmentUploader, queries attachmentQueries, files attachmentFiles) *AttachmentHandler {
	return &AttachmentHandler{uploader: uploader, queries: queries, files: files}
}

// Upload godoc
// @Summary Attach an evidence file to a donation
// @Tags Attachments
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Donation ID"
// @Param category formData string true "payment_proof, legal_document or city_hall_submission"
// @Param file formData file true "Document"
// @Success 201 {object} response.Envelope
// @Router /donations/{id}/attachments [post]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	category := models.AttachmentCategory(strings.ToLower(strings.TrimSpace(c.PostForm("category"))))
	if !category.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "category must be payment_proof, legal_document or city_hall_submission"))
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	upload := service.FileUpload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		Content:  src,
	}
	attachment, err := h.uploader.AddAttachment(c.Request.Context(), c.Param("id"), category, upload, middleware.CurrentUser(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	view, err := h.files.WithDownloadURL(*attachment)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, view, nil)
}

// List godoc
// @Summary List donation attachments with signed download URLs
// @Tags Attachments
// @Produce json
// @Param id path string true "Donation ID"
// @Success 200 {object} response.Envelope
// @Router /donations/{id}/attachments [get]
func (h *AttachmentHandler) List(c *gin.Context) {
	items, err := h.queries.Attachments(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Download godoc
// @Summary Download an attachment via signed token
// @Tags Attachments
// @Produce octet-stream
// @Param id path string true "Donation ID"
// @Param attachmentId path string true "Attachment ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /donations/{id}/attachments/{attachmentId}/download [get]
func (h *AttachmentHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if strings.TrimSpace(token) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.files.Open(c.Request.Context(), c.Param("id"), c.Param("attachmentId"), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	response.AttachmentStream(c, result.Filename, result.MimeType, result.SizeBytes, result.File)
}
