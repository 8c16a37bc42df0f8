package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/museum-admin-api/internal/dto"
	"github.com/noah-isme/museum-admin-api/internal/models"
	"github.com/noah-isme/museum-admin-api/internal/service"
	appErrors "github.com/noah-isme/museum-admin-api/pkg/errors"
)

type uploaderStub struct {
	category models.AttachmentCategory
	filename string
	content  []byte
	err      error
}

func (s *uploaderStub) AddAttachment(ctx context.Context, id string, category models.AttachmentCategory, upload service.FileUpload, actor *models.JWTClaims) (*models.Attachment, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.category = category
	s.filename = upload.Filename
	s.content, _ = io.ReadAll(upload.Content)
	return &models.Attachment{ID: "att-1", DonationID: id, Category: category, DisplayName: upload.Filename}, nil
}

type attachmentQueriesStub struct {
	items []dto.AttachmentResponse
	err   error
}

func (s *attachmentQueriesStub) Attachments(ctx context.Context, id string) ([]dto.AttachmentResponse, error) {
	return s.items, s.err
}

type attachmentFilesStub struct {
	download *service.AttachmentDownload
	err      error
	token    string
}

func (s *attachmentFilesStub) WithDownloadURL(attachment models.Attachment) (dto.AttachmentResponse, error) {
	return dto.AttachmentResponse{Attachment: attachment, DownloadURL: "/api/v1/donations/" + attachment.DonationID + "/attachments/" + attachment.ID + "/download?token=t"}, nil
}

func (s *attachmentFilesStub) Open(ctx context.Context, donationID, attachmentID, token string) (*service.AttachmentDownload, error) {
	s.token = token
	return s.download, s.err
}

func newAttachmentRouter(uploader *uploaderStub, queries *attachmentQueriesStub, files *attachmentFilesStub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAttachmentHandler(uploader, queries, files)
	r := gin.New()
	r.GET("/donations/:id/attachments", h.List)
	r.POST("/donations/:id/attachments", h.Upload)
	r.GET("/donations/:id/attachments/:attachmentId/download", h.Download)
	return r
}

func TestAttachmentHandlerUpload(t *testing.T) {
	uploader := &uploaderStub{}
	r := newAttachmentRouter(uploader, &attachmentQueriesStub{}, &attachmentFilesStub{})
	body, contentType := multipartBody(t, map[string]string{"category": "Legal_Document"}, map[string][]byte{"file": []byte("%PDF-1.4 deed")})

	req := httptest.NewRequest(http.MethodPost, "/donations/don-1/attachments", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.AttachmentLegalDocument, uploader.category)
	assert.Equal(t, "file.pdf", uploader.filename)
	assert.Equal(t, []byte("%PDF-1.4 deed"), uploader.content)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Contains(t, data["downloadUrl"], "/donations/don-1/attachments/att-1/download")
}

func TestAttachmentHandlerUploadRejectsUnknownCategory(t *testing.T) {
	r := newAttachmentRouter(&uploaderStub{}, &attachmentQueriesStub{}, &attachmentFilesStub{})
	body, contentType := multipartBody(t, map[string]string{"category": "photo"}, map[string][]byte{"file": []byte("x")})

	req := httptest.NewRequest(http.MethodPost, "/donations/don-1/attachments", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttachmentHandlerUploadRequiresFile(t *testing.T) {
	r := newAttachmentRouter(&uploaderStub{}, &attachmentQueriesStub{}, &attachmentFilesStub{})
	body, contentType := multipartBody(t, map[string]string{"category": "payment_proof"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/donations/don-1/attachments", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttachmentHandlerList(t *testing.T) {
	queries := &attachmentQueriesStub{items: []dto.AttachmentResponse{{Attachment: models.Attachment{ID: "att-1"}, DownloadURL: "/x"}}}
	r := newAttachmentRouter(&uploaderStub{}, queries, &attachmentFilesStub{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/donations/don-1/attachments", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeEnvelope(t, w)["data"], 1)
}

func TestAttachmentHandlerDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deed.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 deed"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	files := &attachmentFilesStub{download: &service.AttachmentDownload{File: file, Filename: "deed.pdf", MimeType: "application/pdf", SizeBytes: 13}}
	r := newAttachmentRouter(&uploaderStub{}, &attachmentQueriesStub{}, files)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/donations/don-1/attachments/att-1/download?token=signed", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "signed", files.token)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "deed.pdf")
	assert.Equal(t, "%PDF-1.4 deed", w.Body.String())
}

func TestAttachmentHandlerDownloadErrors(t *testing.T) {
	files := &attachmentFilesStub{err: appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")}
	r := newAttachmentRouter(&uploaderStub{}, &attachmentQueriesStub{}, files)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/donations/don-1/attachments/att-1/download", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/donations/don-1/attachments/att-1/download?token=forged", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := NewMetricsHandler(service.NewMetricsService(), map[string]Pinger{
		"postgres": PingerFunc(func(ctx context.Context) error { return nil }),
	})
	degraded := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": PingerFunc(func(ctx context.Context) error { return nil }),
		"redis":    PingerFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	})

	r := gin.New()
	r.GET("/ready", healthy.Ready)
	r.GET("/ready-degraded", degraded.Ready)
	r.GET("/health", healthy.Health)
	r.GET("/metrics/summary", healthy.Summary)
	r.GET("/metrics", degraded.Prometheus)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready-degraded", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	checks := decodeEnvelope(t, w)["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["postgres"])
	assert.Equal(t, "connection refused", checks["redis"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics/summary", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decodeEnvelope(t, w)["data"], "transitionsTotal")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
