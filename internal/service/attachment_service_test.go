package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/museum-admin-api/internal/models"
	"github.com/noah-isme/museum-admin-api/internal/repository"
	appErrors "github.com/noah-isme/museum-admin-api/pkg/errors"
	"github.com/noah-isme/museum-admin-api/pkg/storage"
)

var (
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
)

type attachmentRepoStub struct {
	mu        sync.Mutex
	items     map[string][]models.Attachment
	createErr error
	seq       int
}

func newAttachmentRepoStub() *attachmentRepoStub {
	return &attachmentRepoStub{items: map[string][]models.Attachment{}}
}

func (s *attachmentRepoStub) Create(_ context.Context, a *models.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if a.ID == "" {
		s.seq++
		a.ID = fmt.Sprintf("att-%d", s.seq)
	}
	s.items[a.DonationID] = append(s.items[a.DonationID], *a)
	return nil
}

func (s *attachmentRepoStub) GetByID(_ context.Context, donationID, id string) (*models.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.items[donationID] {
		if a.ID == id {
			cp := a
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *attachmentRepoStub) ListByDonation(_ context.Context, donationID string) ([]models.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Attachment{}, s.items[donationID]...), nil
}

func (s *attachmentRepoStub) add(a models.Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[a.DonationID] = append(s.items[a.DonationID], a)
}

func newTestAttachmentService(t *testing.T, repo attachmentStore, maxSize int64) (*AttachmentService, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	svc := NewAttachmentService(repo, store, signer, nil, nil, AttachmentServiceConfig{MaxFileSize: maxSize})
	return svc, store
}

func fileUpload(name string, data []byte) FileUpload {
	return FileUpload{Filename: name, Size: int64(len(data)), Content: bytes.NewReader(data)}
}

func fileExists(store *storage.LocalStorage, rel string) bool {
	_, err := os.Stat(store.Path(rel))
	return err == nil
}

func TestAttachmentServiceUploadPDF(t *testing.T) {
	repo := newAttachmentRepoStub()
	svc, store := newTestAttachmentService(t, repo, 0)

	attachment, err := svc.Upload(context.Background(), "don-1", models.AttachmentPaymentProof, fileUpload("receipt.pdf", pdfBytes))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", attachment.MimeType)
	assert.Equal(t, "receipt.pdf", attachment.DisplayName)
	assert.Equal(t, int64(len(pdfBytes)), attachment.SizeBytes)
	assert.True(t, strings.HasPrefix(attachment.FilePath, "donations/don-1/payment_proof_"))
	assert.True(t, strings.HasSuffix(attachment.FilePath, ".pdf"))
	assert.True(t, fileExists(store, attachment.FilePath))

	items, err := svc.ListFor(context.Background(), "don-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestAttachmentServiceSniffsContentNotExtension(t *testing.T) {
	svc, _ := newTestAttachmentService(t, newAttachmentRepoStub(), 0)

	attachment, err := svc.Upload(context.Background(), "don-1", models.AttachmentLegalDocument, fileUpload("scan.pdf", pngBytes))
	require.NoError(t, err)
	assert.Equal(t, "image/png", attachment.MimeType)
	assert.True(t, strings.HasSuffix(attachment.FilePath, ".png"))

	_, err = svc.Upload(context.Background(), "don-1", models.AttachmentLegalDocument, fileUpload("notes.pdf", []byte("just some plain text")))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestAttachmentServiceRejectsOversizeAndEmpty(t *testing.T) {
	svc, store := newTestAttachmentService(t, newAttachmentRepoStub(), 16)

	_, err := svc.Upload(context.Background(), "don-1", models.AttachmentPaymentProof, fileUpload("big.pdf", pdfBytes))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	lying := FileUpload{Filename: "small.pdf", Size: 10, Content: bytes.NewReader(pdfBytes)}
	_, err = svc.Upload(context.Background(), "don-1", models.AttachmentPaymentProof, lying)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	entries, _ := os.ReadDir(store.Path("donations/don-1"))
	assert.Empty(t, entries)

	_, err = svc.Upload(context.Background(), "don-1", models.AttachmentPaymentProof, FileUpload{Filename: "empty.pdf"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.Upload(context.Background(), "don-1", models.AttachmentCategory("selfie"), fileUpload("a.pdf", pdfBytes))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestAttachmentServiceRemovesFileWhenRowFails(t *testing.T) {
	repo := newAttachmentRepoStub()
	repo.createErr = errors.New("insert failed")
	svc, store := newTestAttachmentService(t, repo, 0)

	_, err := svc.Upload(context.Background(), "don-1", models.AttachmentPaymentProof, fileUpload("receipt.pdf", pdfBytes))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrStorage))
	entries, _ := os.ReadDir(store.Path("donations/don-1"))
	assert.Empty(t, entries)
}

func TestAttachmentServiceStageAndDiscard(t *testing.T) {
	repo := newAttachmentRepoStub()
	svc, store := newTestAttachmentService(t, repo, 0)

	staged, err := svc.Stage(context.Background(), "don-2", models.AttachmentCityHallSubmission, fileUpload("dossier.pdf", pdfBytes))
	require.NoError(t, err)
	assert.True(t, fileExists(store, staged.FilePath))
	items, _ := repo.ListByDonation(context.Background(), "don-2")
	assert.Empty(t, items)

	svc.Discard([]models.Attachment{*staged})
	assert.False(t, fileExists(store, staged.FilePath))
}

func TestAttachmentServiceSignedDownload(t *testing.T) {
	repo := newAttachmentRepoStub()
	svc, _ := newTestAttachmentService(t, repo, 0)

	attachment, err := svc.Upload(context.Background(), "don-4", models.AttachmentPaymentProof, fileUpload("receipt.pdf", pdfBytes))
	require.NoError(t, err)

	view, err := svc.WithDownloadURL(*attachment)
	require.NoError(t, err)
	parsed, err := url.Parse(view.DownloadURL)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/donations/don-4/attachments/"+attachment.ID+"/download", parsed.Path)
	token := parsed.Query().Get("token")

	download, err := svc.Open(context.Background(), "don-4", attachment.ID, token)
	require.NoError(t, err)
	defer download.File.Close()
	data, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Equal(t, pdfBytes, data)
	assert.Equal(t, "receipt.pdf", download.Filename)

	_, err = svc.Open(context.Background(), "don-4", attachment.ID, "bogus")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Open(context.Background(), "don-4", "missing", token)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestAttachmentServiceOpenMalformedIDIsNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	svc, _ := newTestAttachmentService(t, repository.NewAttachmentRepository(db), 0)

	_, err := svc.Open(context.Background(), "123", "456", "token")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileUploadDisplayName(t *testing.T) {
	assert.Equal(t, "passwd", FileUpload{Filename: "../../etc/passwd"}.displayName())
	assert.Equal(t, "deed.pdf", FileUpload{Filename: `C:\docs\deed.pdf`}.displayName())
	assert.Equal(t, "file", FileUpload{}.displayName())
	assert.Equal(t, filepath.Base("x.pdf"), FileUpload{Filename: "x.pdf"}.displayName())
}
