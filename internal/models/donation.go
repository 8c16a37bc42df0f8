package models

import (
	"time"

	"github.com/lib/pq"
)

// DonationType enumerates the kinds of donation a donor can offer.
type DonationType string

const (
	DonationTypeMonetary DonationType = "monetary"
	DonationTypeArtifact DonationType = "artifact"
	DonationTypeLoan     DonationType = "loan"
)

// Valid reports whether t is one of the canonical donation types.
func (t DonationType) Valid() bool {
	switch t {
	case DonationTypeMonetary, DonationTypeArtifact, DonationTypeLoan:
		return true
	default:
		return false
	}
}

// RequiresItem reports whether the type describes a physical object.
func (t DonationType) RequiresItem() bool {
	return t == DonationTypeArtifact || t == DonationTypeLoan
}

// DonationStage is the position of a donation in the processing workflow.
type DonationStage string

const (
	StageRequestMeeting  DonationStage = "RequestMeeting"
	StageScheduleMeeting DonationStage = "ScheduleMeeting"
	StageFinishedMeeting DonationStage = "FinishedMeeting"
	StageCityHall        DonationStage = "CityHall"
	StageComplete        DonationStage = "Complete"
)

// DonationStages lists every stage in workflow order.
var DonationStages = []DonationStage{
	StageRequestMeeting,
	StageScheduleMeeting,
	StageFinishedMeeting,
	StageCityHall,
	StageComplete,
}

// Valid reports whether s is a known stage.
func (s DonationStage) Valid() bool {
	return s.Ordinal() >= 0
}

// Ordinal returns the zero-based position of the stage, or -1 if unknown.
func (s DonationStage) Ordinal() int {
	for i, stage := range DonationStages {
		if stage == s {
			return i
		}
	}
	return -1
}

// Reached reports whether the receiver is at or beyond target.
func (s DonationStage) Reached(target DonationStage) bool {
	return s.Ordinal() >= target.Ordinal() && target.Ordinal() >= 0
}

// DonationStatus is the decision state of a donation.
type DonationStatus string

const (
	DonationStatusPending  DonationStatus = "pending"
	DonationStatusApproved DonationStatus = "approved"
	DonationStatusRejected DonationStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s DonationStatus) Valid() bool {
	switch s {
	case DonationStatusPending, DonationStatusApproved, DonationStatusRejected:
		return true
	default:
		return false
	}
}

// Donation is the aggregate tracked through the approval workflow.
type Donation struct {
	ID           string         `db:"id" json:"id"`
	DonorName    string         `db:"donor_name" json:"donorName"`
	DonorEmail   string         `db:"donor_email" json:"donorEmail"`
	DonorContact string         `db:"donor_contact" json:"donorContact"`
	Type         DonationType   `db:"type" json:"type"`
	Stage        DonationStage  `db:"processing_stage" json:"processingStage"`
	Status       DonationStatus `db:"status" json:"status"`

	Amount          *float64   `db:"amount" json:"amount,omitempty"`
	ItemDescription *string    `db:"item_description" json:"itemDescription,omitempty"`
	EstimatedValue  *float64   `db:"estimated_value" json:"estimatedValue,omitempty"`
	Condition       *string    `db:"condition" json:"condition,omitempty"`
	LoanStartDate   *time.Time `db:"loan_start_date" json:"loanStartDate,omitempty"`
	LoanEndDate     *time.Time `db:"loan_end_date" json:"loanEndDate,omitempty"`

	ScheduledDate        *time.Time     `db:"scheduled_date" json:"scheduledDate,omitempty"`
	ScheduledTime        *string        `db:"scheduled_time" json:"scheduledTime,omitempty"`
	Location             *string        `db:"location" json:"location,omitempty"`
	StaffMember          *string        `db:"staff_member" json:"staffMember,omitempty"`
	AlternativeDates     pq.StringArray `db:"alternative_dates" json:"alternativeDates"`
	MeetingNotes         *string        `db:"meeting_notes" json:"meetingNotes,omitempty"`
	MeetingCompletedDate *time.Time     `db:"meeting_completed_date" json:"meetingCompletedDate,omitempty"`
	HandoverCompleted    bool           `db:"handover_completed" json:"handoverCompleted"`

	CityHallReference      *string        `db:"city_hall_reference" json:"cityHallReference,omitempty"`
	SubmissionDocuments    pq.StringArray `db:"submission_documents" json:"submissionDocuments"`
	CityHallSubmissionDate *time.Time     `db:"city_hall_submission_date" json:"cityHallSubmissionDate,omitempty"`
	CityHallApprovalDate   *time.Time     `db:"city_hall_approval_date" json:"cityHallApprovalDate,omitempty"`
	CityHallNotes          *string        `db:"city_hall_notes" json:"cityHallNotes,omitempty"`

	FinalApprovalDate  *time.Time `db:"final_approval_date" json:"finalApprovalDate,omitempty"`
	FinalApprovedBy    *string    `db:"final_approved_by" json:"finalApprovedBy,omitempty"`
	FinalApprovalNotes *string    `db:"final_approval_notes" json:"finalApprovalNotes,omitempty"`
	RejectionReason    *string    `db:"rejection_reason" json:"rejectionReason,omitempty"`
	RejectedAt         *time.Time `db:"rejected_at" json:"rejectedAt,omitempty"`

	RequestDate time.Time `db:"request_date" json:"requestDate"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
	Version     int64     `db:"version" json:"version"`
}

// Clone returns a copy safe to mutate without affecting the receiver's slices.
func (d *Donation) Clone() *Donation {
	if d == nil {
		return nil
	}
	cp := *d
	if d.AlternativeDates != nil {
		cp.AlternativeDates = append(pq.StringArray{}, d.AlternativeDates...)
	}
	if d.SubmissionDocuments != nil {
		cp.SubmissionDocuments = append(pq.StringArray{}, d.SubmissionDocuments...)
	}
	return &cp
}

// DonationFilter constrains listing queries.
type DonationFilter struct {
	Status    []DonationStatus
	Stage     []DonationStage
	Type      DonationType
	Search    string
	SortBy    string
	SortOrder string
	Page      int
	PageSize  int
}
