package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/museum-admin-api/pkg/errors"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, rec
}

func TestJSONOmitsEmptyMeta(t *testing.T) {
	c, rec := newContext()
	JSON(c, http.StatusOK, map[string]string{"id": "don-1"}, nil, map[string]interface{}{})

	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "data")
	assert.NotContains(t, body, "meta")
}

func TestErrorRecordsInternalCause(t *testing.T) {
	c, rec := newContext()
	Error(c, errors.New("connection reset"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Len(t, c.Errors, 1)
	assert.NotContains(t, rec.Body.String(), "connection reset")

	c, rec = newContext()
	Error(c, appErrors.Clone(appErrors.ErrNotFound, "donation not found"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, c.Errors)
}

func TestAttachmentSanitizesFilename(t *testing.T) {
	c, rec := newContext()
	Attachment(c, "../../etc/deed of gift.pdf", "application/pdf", []byte("%PDF"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="deed of gift.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF", rec.Body.String())
}

func TestAttachmentStreamDefaultsContentType(t *testing.T) {
	c, rec := newContext()
	AttachmentStream(c, "", "", 5, strings.NewReader("bytes"))

	assert.Equal(t, defaultContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=download", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "bytes", rec.Body.String())
}
