package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/museum-admin-api/internal/models"
)

const attachmentColumns = `id, donation_id, category, file_path, display_name, mime_type, size_bytes, uploaded_at`

// AttachmentRepository handles donation attachment metadata persistence.
type AttachmentRepository struct {
	db *sqlx.DB
}

// NewAttachmentRepository constructs the repository.
func NewAttachmentRepository(db *sqlx.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Create stores metadata for one uploaded file.
func (r *AttachmentRepository) Create(ctx context.Context, attachment *models.Attachment) error {
	return insertAttachment(ctx, r.db, attachment)
}

// GetByID retrieves one attachment scoped to its donation.
func (r *AttachmentRepository) GetByID(ctx context.Context, donationID, id string) (*models.Attachment, error) {
	if !validID(donationID, id) {
		return nil, sql.ErrNoRows
	}
	query := fmt.Sprintf(`SELECT %s FROM donation_attachments WHERE id = $1 AND donation_id = $2`, attachmentColumns)
	var attachment models.Attachment
	if err := r.db.GetContext(ctx, &attachment, query, id, donationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return &attachment, nil
}

// ListByDonation returns attachments in upload order.
func (r *AttachmentRepository) ListByDonation(ctx context.Context, donationID string) ([]models.Attachment, error) {
	query := fmt.Sprintf(`SELECT %s FROM donation_attachments WHERE donation_id = $1 ORDER BY seq ASC`, attachmentColumns)
	attachments := make([]models.Attachment, 0)
	if err := r.db.SelectContext(ctx, &attachments, query, donationID); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return attachments, nil
}

func insertAttachment(ctx context.Context, exec sqlx.ExtContext, attachment *models.Attachment) error {
	if attachment.ID == "" {
		attachment.ID = uuid.NewString()
	}
	if attachment.UploadedAt.IsZero() {
		attachment.UploadedAt = time.Now().UTC()
	}
	const query = `INSERT INTO donation_attachments
	(id, donation_id, category, file_path, display_name, mime_type, size_bytes, uploaded_at)
	VALUES (:id, :donation_id, :category, :file_path, :display_name, :mime_type, :size_bytes, :uploaded_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, attachment); err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}
