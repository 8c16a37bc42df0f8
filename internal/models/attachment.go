package models

import "time"

// AttachmentCategory classifies evidence files attached to a donation.
type AttachmentCategory string

const (
	AttachmentPaymentProof       AttachmentCategory = "payment_proof"
	AttachmentLegalDocument      AttachmentCategory = "legal_document"
	AttachmentCityHallSubmission AttachmentCategory = "city_hall_submission"
)

// Valid reports whether c is a known category.
func (c AttachmentCategory) Valid() bool {
	switch c {
	case AttachmentPaymentProof, AttachmentLegalDocument, AttachmentCityHallSubmission:
		return true
	default:
		return false
	}
}

// Attachment is one stored file belonging to a donation.
type Attachment struct {
	ID          string             `db:"id" json:"id"`
	DonationID  string             `db:"donation_id" json:"donationId"`
	Category    AttachmentCategory `db:"category" json:"category"`
	FilePath    string             `db:"file_path" json:"filePath"`
	DisplayName string             `db:"display_name" json:"displayName"`
	MimeType    string             `db:"mime_type" json:"mimeType"`
	SizeBytes   int64              `db:"size_bytes" json:"sizeBytes"`
	UploadedAt  time.Time          `db:"uploaded_at" json:"uploadedAt"`
}
