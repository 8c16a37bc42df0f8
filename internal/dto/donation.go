package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/museum-admin-api/internal/models"
)

// SubmitDonationRequest captures the donor supplied fields of a new donation.
// Files travel alongside as multipart parts.
type SubmitDonationRequest struct {
	DonorName       string              `form:"donorName" json:"donorName" validate:"required,max=200"`
	DonorEmail      string              `form:"donorEmail" json:"donorEmail" validate:"omitempty,email"`
	DonorContact    string              `form:"donorContact" json:"donorContact" validate:"omitempty,max=100"`
	Type            models.DonationType `form:"type" json:"type" validate:"required,oneof=monetary artifact loan"`
	Amount          *float64            `form:"amount" json:"amount" validate:"omitempty,gt=0"`
	ItemDescription string              `form:"itemDescription" json:"itemDescription"`
	EstimatedValue  *float64            `form:"estimatedValue" json:"estimatedValue" validate:"omitempty,gte=0"`
	Condition       string              `form:"condition" json:"condition"`
	LoanStartDate   string              `form:"loanStartDate" json:"loanStartDate"`
	LoanEndDate     string              `form:"loanEndDate" json:"loanEndDate"`
}

// ScheduleMeetingRequest books the donor meeting.
type ScheduleMeetingRequest struct {
	Date             string   `json:"date" validate:"required"`
	Time             string   `json:"time" validate:"required"`
	Location         string   `json:"location" validate:"required"`
	StaffMember      string   `json:"staffMember"`
	Notes            string   `json:"notes"`
	AlternativeDates []string `json:"alternativeDates"`
}

// CompleteMeetingRequest records the outcome of the donor meeting.
type CompleteMeetingRequest struct {
	HandoverCompleted bool   `json:"handoverCompleted"`
	Notes             string `json:"notes"`
}

// CityHallSubmissionRequest holds the non-file fields of a city hall submission.
type CityHallSubmissionRequest struct {
	Reference string   `form:"reference" json:"reference" validate:"required"`
	Documents []string `form:"documents" json:"documents"`
}

// AdvanceRequest carries optional notes for the city hall approval.
type AdvanceRequest struct {
	Notes string `json:"notes"`
}

// FinalApproveRequest names the approving administrator.
type FinalApproveRequest struct {
	AdminName string `json:"adminName"`
	Notes     string `json:"notes"`
}

// RejectDonationRequest carries an optional rejection reason.
type RejectDonationRequest struct {
	Reason string `json:"reason"`
}

// DonationQuery mirrors supported listing filters.
type DonationQuery struct {
	Status []models.DonationStatus
	Stage  []models.DonationStage
	Type   models.DonationType
	Search string
	Sort   string
	Order  string
	Page   int
	Limit  int
}

// TransitionResult is returned by every mutating donation command.
type TransitionResult struct {
	Success    bool             `json:"success"`
	Donation   *models.Donation `json:"donation,omitempty"`
	EmailError string           `json:"emailError,omitempty"`
}

// AttachmentResponse enriches attachment metadata with a signed download URL.
type AttachmentResponse struct {
	models.Attachment
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// DonationDetail bundles a donation with its evidence and history.
type DonationDetail struct {
	Donation         *models.Donation        `json:"donation"`
	Attachments      []AttachmentResponse    `json:"attachments"`
	Timeline         []models.TimelineEntry  `json:"timeline"`
	AvailableActions []models.DonationAction `json:"availableActions"`
}

// AuditEntry is an audit log row with its JSON snapshots left unescaped.
type AuditEntry struct {
	ID        string          `json:"id"`
	UserID    *string         `json:"userId,omitempty"`
	Action    string          `json:"action"`
	OldValues json.RawMessage `json:"oldValues,omitempty"`
	NewValues json.RawMessage `json:"newValues,omitempty"`
	IPAddress string          `json:"ipAddress"`
	UserAgent string          `json:"userAgent"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewAuditEntry converts a stored audit log.
func NewAuditEntry(log models.AuditLog) AuditEntry {
	entry := AuditEntry{
		ID:        log.ID,
		UserID:    log.UserID,
		Action:    log.Action,
		IPAddress: log.IPAddress,
		UserAgent: log.UserAgent,
		CreatedAt: log.CreatedAt,
	}
	if json.Valid(log.OldValues) {
		entry.OldValues = json.RawMessage(log.OldValues)
	}
	if json.Valid(log.NewValues) {
		entry.NewValues = json.RawMessage(log.NewValues)
	}
	return entry
}
