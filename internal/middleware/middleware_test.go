package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/museum-admin-api/internal/models"
	"github.com/noah-isme/museum-admin-api/internal/service"
	appErrors "github.com/noah-isme/museum-admin-api/pkg/errors"
	"github.com/noah-isme/museum-admin-api/pkg/middleware/requestid"
)

type validatorStub struct {
	claims map[string]*models.JWTClaims
}

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := v.claims[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type auditWriterStub struct {
	logs []models.AuditLog
	err  error
}

func (a *auditWriterStub) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, *log)
	return a.err
}

var testValidator = validatorStub{claims: map[string]*models.JWTClaims{
	"admin": {UserID: "u-1", Role: models.RoleAdmin},
	"staff": {UserID: "u-2", Role: models.RoleStaff},
}}

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		if claims, ok := c.Get(ContextUserKey); ok {
			c.String(http.StatusOK, claims.(*models.JWTClaims).UserID)
			return
		}
		c.String(http.StatusOK, "anonymous")
	})
	router.GET("/donations/:id", handlers...)
	return router
}

func serve(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/donations/don-1?format=csv", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestJWTMiddleware(t *testing.T) {
	router := newTestRouter(JWT(testValidator))

	assert.Equal(t, http.StatusUnauthorized, serve(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "Token admin").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "Bearer nope").Code)

	rec := serve(router, "Bearer admin")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", rec.Body.String())
}

func TestOptionalJWTMiddleware(t *testing.T) {
	router := newTestRouter(OptionalJWT(testValidator))

	assert.Equal(t, "anonymous", serve(router, "").Body.String())
	assert.Equal(t, "anonymous", serve(router, "Bearer nope").Body.String())
	assert.Equal(t, "u-2", serve(router, "bearer staff").Body.String())
}

func TestRequireRoles(t *testing.T) {
	router := newTestRouter(JWT(testValidator), RequireRoles(models.RoleSuperAdmin, models.RoleAdmin))

	assert.Equal(t, http.StatusOK, serve(router, "Bearer admin").Code)
	assert.Equal(t, http.StatusForbidden, serve(router, "Bearer staff").Code)

	bare := newTestRouter(RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, serve(bare, "").Code)
}

func TestAuditMiddleware(t *testing.T) {
	writer := &auditWriterStub{}
	router := newTestRouter(JWT(testValidator), Audit(writer, nil, models.AuditActionDonationExport, "donation"))

	require.Equal(t, http.StatusOK, serve(router, "Bearer admin").Code)
	require.Len(t, writer.logs, 1)
	log := writer.logs[0]
	assert.Equal(t, models.AuditActionDonationExport, log.Action)
	require.NotNil(t, log.UserID)
	assert.Equal(t, "u-1", *log.UserID)
	require.NotNil(t, log.ResourceID)
	assert.Equal(t, "don-1", *log.ResourceID)
	assert.Contains(t, string(log.NewValues), "format=csv")

	serve(router, "Bearer nope")
	assert.Len(t, writer.logs, 1)

	writer.err = errors.New("db down")
	assert.Equal(t, http.StatusOK, serve(router, "Bearer admin").Code)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var captured map[string]interface{}
	router.Use(WithResponseMeta())
	router.GET("/", func(c *gin.Context) {
		SetCacheHit(c, true)
		captured = ExtractMeta(c)
		c.Status(http.StatusNoContent)
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, true, captured["cache_hit"])
	assert.Contains(t, captured, "processing_time_ms")
}

func TestResponseMetaCarriesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var captured map[string]interface{}
	router.Use(requestid.Middleware(), WithResponseMeta())
	router.GET("/", func(c *gin.Context) {
		captured = ExtractMeta(c)
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestid.Header, "trace-1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "trace-1", captured["request_id"])
	assert.NotContains(t, captured, "cache_hit")
}

func TestCurrentUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, CurrentUser(c))

	c.Set(ContextUserKey, "not-claims")
	assert.Nil(t, CurrentUser(c))

	c.Set(ContextUserKey, &models.JWTClaims{UserID: "u-9"})
	require.NotNil(t, CurrentUser(c))
	assert.Equal(t, "u-9", CurrentUser(c).UserID)
}

func TestMetricsLabelsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	router := gin.New()
	router.Use(Metrics(metrics))
	router.GET("/donations/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/donations/don-1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere/42", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, uint64(2), metrics.Snapshot().RequestsTotal)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `path="/donations/:id"`)
	assert.Contains(t, body, `path="unmatched"`)
	assert.NotContains(t, body, "don-1")
}
