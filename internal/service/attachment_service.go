package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/noah-isme/museum-admin-api/internal/dto"
	"github.com/noah-isme/museum-admin-api/internal/models"
	appErrors "github.com/noah-isme/museum-admin-api/pkg/errors"
	"github.com/noah-isme/museum-admin-api/pkg/storage"
)

type attachmentStore interface {
	Create(ctx context.Context, attachment *models.Attachment) error
	GetByID(ctx context.Context, donationID, id string) (*models.Attachment, error)
	ListByDonation(ctx context.Context, donationID string) ([]models.Attachment, error)
}

type attachmentFileStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	DeleteDir(dir string) error
}

type attachmentSignedURLSigner interface {
	Sign(donationID, attachmentID, path string) (string, time.Time, error)
	Verify(token string) (storage.DownloadClaims, error)
}

// FileUpload carries an uploaded file's name, declared size and content.
type FileUpload struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

// AttachmentDownload bundles file reader metadata for streaming.
type AttachmentDownload struct {
	File      *os.File
	Filename  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// AttachmentServiceConfig holds validation parameters.
type AttachmentServiceConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
	APIPrefix    string
}

// AttachmentService validates, stores and indexes donation evidence files.
type AttachmentService struct {
	repo    attachmentStore
	storage attachmentFileStorage
	signer  attachmentSignedURLSigner
	metrics *MetricsService
	logger  *zap.Logger
	cfg     AttachmentServiceConfig
}

// NewAttachmentService constructs the service with defaults.
func NewAttachmentService(repo attachmentStore, files attachmentFileStorage, signer attachmentSignedURLSigner, metrics *MetricsService, logger *zap.Logger, cfg AttachmentServiceConfig) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"image/*", "application/pdf"}
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	for i, pattern := range cfg.AllowedMIMEs {
		cfg.AllowedMIMEs[i] = strings.ToLower(strings.TrimSpace(pattern))
	}
	return &AttachmentService{
		repo:    repo,
		storage: files,
		signer:  signer,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// Stage validates the file and writes it to storage without creating a row.
// The returned record is ready to be inserted alongside a donation write.
func (s *AttachmentService) Stage(ctx context.Context, donationID string, category models.AttachmentCategory, upload FileUpload) (*models.Attachment, error) {
	if strings.TrimSpace(donationID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "donation id is required")
	}
	if !category.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid attachment category")
	}
	if upload.Content == nil || upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s file is empty", upload.displayName()))
	}
	if upload.Size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s exceeds %d bytes limit", upload.displayName(), s.cfg.MaxFileSize))
	}
	mimeType, ext, err := s.detectMime(upload)
	if err != nil {
		return nil, err
	}
	if !s.mimeAllowed(mimeType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s has unsupported type %s", upload.displayName(), mimeType))
	}

	filename := s.generateFilename(donationID, category, upload.Filename, ext)
	limited := &io.LimitedReader{R: upload.Content, N: s.cfg.MaxFileSize + 1}
	stored, err := s.storage.SaveStream(filename, limited)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to persist attachment file")
	}
	written := s.cfg.MaxFileSize + 1 - limited.N
	if written > s.cfg.MaxFileSize {
		_ = s.storage.Delete(stored)
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s exceeds %d bytes limit", upload.displayName(), s.cfg.MaxFileSize))
	}
	s.metrics.ObserveAttachment(written)

	return &models.Attachment{
		DonationID:  donationID,
		Category:    category,
		FilePath:    stored,
		DisplayName: upload.displayName(),
		MimeType:    mimeType,
		SizeBytes:   written,
		UploadedAt:  time.Now().UTC(),
	}, nil
}

// Discard removes staged files whose rows were never committed.
func (s *AttachmentService) Discard(attachments []models.Attachment) {
	for _, attachment := range attachments {
		if attachment.FilePath == "" {
			continue
		}
		if err := s.storage.Delete(attachment.FilePath); err != nil {
			s.logger.Warn("failed to discard staged attachment", zap.String("path", attachment.FilePath), zap.Error(err))
		}
	}
}

// Upload stores the file and inserts its row. The file is removed if the insert fails.
func (s *AttachmentService) Upload(ctx context.Context, donationID string, category models.AttachmentCategory, upload FileUpload) (*models.Attachment, error) {
	attachment, err := s.Stage(ctx, donationID, category, upload)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, attachment); err != nil {
		s.Discard([]models.Attachment{*attachment})
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to record attachment")
	}
	return attachment, nil
}

// ListFor returns a donation's attachments in upload order.
func (s *AttachmentService) ListFor(ctx context.Context, donationID string) ([]models.Attachment, error) {
	attachments, err := s.repo.ListByDonation(ctx, donationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attachments")
	}
	return attachments, nil
}

// PurgeFiles removes stored files already detached from the database.
func (s *AttachmentService) PurgeFiles(donationID string, paths []string) {
	for _, p := range paths {
		if err := s.storage.Delete(p); err != nil {
			s.logger.Warn("failed to delete attachment file", zap.String("path", p), zap.Error(err))
		}
	}
	if donationID == "" {
		return
	}
	if err := s.storage.DeleteDir(donationDir(donationID)); err != nil {
		s.logger.Warn("failed to delete donation directory", zap.String("donation_id", donationID), zap.Error(err))
	}
}

// WithDownloadURL attaches a signed download URL to the attachment.
func (s *AttachmentService) WithDownloadURL(attachment models.Attachment) (dto.AttachmentResponse, error) {
	view := dto.AttachmentResponse{Attachment: attachment}
	if s.signer == nil {
		return view, nil
	}
	token, _, err := s.signer.Sign(attachment.DonationID, attachment.ID, attachment.FilePath)
	if err != nil {
		return view, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	view.DownloadURL = fmt.Sprintf("%s/donations/%s/attachments/%s/download?token=%s", base, attachment.DonationID, attachment.ID, token)
	return view, nil
}

// Open validates the download token and opens the stored file.
func (s *AttachmentService) Open(ctx context.Context, donationID, attachmentID, token string) (*AttachmentDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	attachment, err := s.repo.GetByID(ctx, donationID, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attachment")
	}
	claims, err := s.signer.Verify(token)
	if errors.Is(err, storage.ErrTokenExpired) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
	}
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	if claims.DonationID != attachment.DonationID || claims.AttachmentID != attachment.ID || claims.Path != attachment.FilePath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.storage.Open(claims.Path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to open attachment file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to read attachment metadata")
	}
	return &AttachmentDownload{
		File:      file,
		Filename:  attachment.DisplayName,
		MimeType:  attachment.MimeType,
		SizeBytes: info.Size(),
		ExpiresAt: claims.Expiry(),
	}, nil
}

func (s *AttachmentService) detectMime(upload FileUpload) (string, string, error) {
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	detected, err := mimetype.DetectReader(upload.Content)
	if err != nil {
		return "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	mimeType := strings.ToLower(strings.TrimSpace(strings.SplitN(detected.String(), ";", 2)[0]))
	return mimeType, detected.Extension(), nil
}

func (s *AttachmentService) mimeAllowed(mimeType string) bool {
	for _, pattern := range s.cfg.AllowedMIMEs {
		if pattern == mimeType {
			return true
		}
		if strings.HasSuffix(pattern, "/*") && strings.HasPrefix(mimeType, strings.TrimSuffix(pattern, "*")) {
			return true
		}
	}
	return false
}

func (s *AttachmentService) generateFilename(donationID string, category models.AttachmentCategory, original, detectedExt string) string {
	ext := detectedExt
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(original))
	}
	if ext == "" {
		ext = ".bin"
	}
	name := fmt.Sprintf("%s_%d_%s%s", category, time.Now().UnixNano(), randomSuffix(), ext)
	return path.Join(donationDir(donationID), name)
}

func (u FileUpload) displayName() string {
	name := strings.TrimSpace(filepath.Base(strings.ReplaceAll(u.Filename, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	if len(name) > 200 {
		name = name[len(name)-200:]
	}
	return name
}

func donationDir(donationID string) string {
	return path.Join("donations", sanitize(donationID))
}

func sanitize(raw string) string {
	raw = strings.ToLower(raw)
	var b strings.Builder
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
