package router

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/museum-admin-api/internal/dto"
	"github.com/noah-isme/museum-admin-api/internal/handler"
	"github.com/noah-isme/museum-admin-api/internal/models"
	"github.com/noah-isme/museum-admin-api/internal/service"
	appErrors "github.com/noah-isme/museum-admin-api/pkg/errors"
)

type tokensStub map[string]*models.JWTClaims

func (t tokensStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := t[token]; ok {
		return claims, nil
	}
	return nil, appErrors.ErrUnauthorized
}

type auditStub struct{ actions []string }

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

type donationsStub struct{ submitActor *models.JWTClaims }

func (d *donationsStub) ok() (*dto.TransitionResult, error) {
	return &dto.TransitionResult{Success: true}, nil
}

func (d *donationsStub) Submit(ctx context.Context, req dto.SubmitDonationRequest, files service.SubmissionFiles, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	d.submitActor = actor
	return d.ok()
}

func (d *donationsStub) ScheduleMeeting(ctx context.Context, id string, req dto.ScheduleMeetingRequest, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	return d.ok()
}

func (d *donationsStub) CompleteMeeting(ctx context.Context, id string, req dto.CompleteMeetingRequest, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	return d.ok()
}

func (d *donationsStub) SubmitToCityHall(ctx context.Context, id string, req dto.CityHallSubmissionRequest, files []service.FileUpload, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	return d.ok()
}

func (d *donationsStub) AdvanceOrApprove(ctx context.Context, id string, req dto.AdvanceRequest, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	return d.ok()
}

func (d *donationsStub) FinalApprove(ctx context.Context, id string, req dto.FinalApproveRequest, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	return d.ok()
}

func (d *donationsStub) Reject(ctx context.Context, id string, req dto.RejectDonationRequest, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	return d.ok()
}

func (d *donationsStub) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	return nil
}

func (d *donationsStub) Get(ctx context.Context, id string) (*dto.DonationDetail, bool, error) {
	return &dto.DonationDetail{Donation: &models.Donation{ID: id}}, false, nil
}

func (d *donationsStub) Timeline(ctx context.Context, id string) ([]models.TimelineEntry, error) {
	return nil, nil
}

func (d *donationsStub) History(ctx context.Context, id string, limit int) ([]dto.AuditEntry, error) {
	return []dto.AuditEntry{}, nil
}

func (d *donationsStub) List(ctx context.Context, query dto.DonationQuery) ([]models.Donation, *models.Pagination, error) {
	return []models.Donation{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (d *donationsStub) ExportCSV(ctx context.Context, query dto.DonationQuery) ([]byte, error) {
	return []byte("id\n"), nil
}

func (d *donationsStub) Generate(ctx context.Context, id string) (*service.AppreciationLetter, error) {
	return &service.AppreciationLetter{Filename: "letter.pdf", Content: []byte("%PDF")}, nil
}

func (d *donationsStub) AddAttachment(ctx context.Context, id string, category models.AttachmentCategory, upload service.FileUpload, actor *models.JWTClaims) (*models.Attachment, error) {
	return &models.Attachment{ID: "att-1", DonationID: id}, nil
}

func (d *donationsStub) Attachments(ctx context.Context, id string) ([]dto.AttachmentResponse, error) {
	return []dto.AttachmentResponse{}, nil
}

func (d *donationsStub) WithDownloadURL(attachment models.Attachment) (dto.AttachmentResponse, error) {
	return dto.AttachmentResponse{Attachment: attachment}, nil
}

func (d *donationsStub) Open(ctx context.Context, donationID, attachmentID, token string) (*service.AttachmentDownload, error) {
	return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
}

func newTestEngine(t *testing.T) (*gin.Engine, *donationsStub, *auditStub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	stub := &donationsStub{}
	audit := &auditStub{}
	engine := New(Options{
		APIPrefix: "/api/v1",
		Tokens: tokensStub{
			"admin": {UserID: "u-1", Role: models.RoleAdmin},
			"staff": {UserID: "u-2", Role: models.RoleStaff},
		},
		Audit:   audit,
		Metrics: service.NewMetricsService(),
	}, Handlers{
		Donations:   handler.NewDonationHandler(stub, stub, stub),
		Attachments: handler.NewAttachmentHandler(stub, stub, stub),
		Metrics:     handler.NewMetricsHandler(service.NewMetricsService(), nil),
	})
	return engine, stub, audit
}

func request(engine *gin.Engine, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRouterPublicSubmission(t *testing.T) {
	engine, stub, _ := newTestEngine(t)

	w := request(engine, http.MethodPost, "/api/v1/donations", "", []byte(`{"donorName":"Jane","type":"monetary","amount":5}`))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Nil(t, stub.submitActor)

	w = request(engine, http.MethodPost, "/api/v1/donations", "admin", []byte(`{"donorName":"Jane","type":"monetary","amount":5}`))
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, stub.submitActor)
	assert.Equal(t, "u-1", stub.submitActor.UserID)
}

func TestRouterAdminRoutesRequireRole(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	assert.Equal(t, http.StatusUnauthorized, request(engine, http.MethodGet, "/api/v1/donations", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, request(engine, http.MethodGet, "/api/v1/donations", "forged", nil).Code)
	assert.Equal(t, http.StatusForbidden, request(engine, http.MethodGet, "/api/v1/donations", "staff", nil).Code)
	assert.Equal(t, http.StatusOK, request(engine, http.MethodGet, "/api/v1/donations", "admin", nil).Code)
	assert.Equal(t, http.StatusOK, request(engine, http.MethodGet, "/api/v1/donations/don-1", "admin", nil).Code)
	assert.Equal(t, http.StatusOK, request(engine, http.MethodPost, "/api/v1/donations/don-1/advance", "admin", nil).Code)
	assert.Equal(t, http.StatusForbidden, request(engine, http.MethodDelete, "/api/v1/donations/don-1", "staff", nil).Code)
}

func TestRouterAuditsExportAndLetter(t *testing.T) {
	engine, _, audit := newTestEngine(t)

	require.Equal(t, http.StatusOK, request(engine, http.MethodGet, "/api/v1/donations/export", "admin", nil).Code)
	require.Equal(t, http.StatusOK, request(engine, http.MethodGet, "/api/v1/donations/don-1/appreciation-letter", "admin", nil).Code)
	assert.Equal(t, []string{models.AuditActionDonationExport, models.AuditActionLetterDownload}, audit.actions)
}

func TestRouterSignedDownloadSkipsJWT(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	w := request(engine, http.MethodGet, "/api/v1/donations/don-1/attachments/att-1/download?token=bad", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRouterOpsEndpoints(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	assert.Equal(t, http.StatusOK, request(engine, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, request(engine, http.MethodGet, "/ready", "", nil).Code)
	assert.Equal(t, http.StatusOK, request(engine, http.MethodGet, "/metrics", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, request(engine, http.MethodGet, "/docs/index.html", "", nil).Code)
}
