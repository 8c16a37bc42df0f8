package service

import (
	"fmt"
	"time"

	"github.com/noah-isme/museum-admin-api/internal/models"
)

// BuildTimeline derives the ordered milestone list of a donation. Milestones the
// donation has passed without a recorded timestamp are kept and flagged TimeUnknown.
func BuildTimeline(d *models.Donation) []models.TimelineEntry {
	if d == nil {
		return nil
	}
	entries := make([]models.TimelineEntry, 0, 7)
	add := func(entry models.TimelineEntry, at *time.Time) {
		if at != nil && !at.IsZero() {
			ts := at.UTC()
			entry.At = &ts
		} else {
			entry.TimeUnknown = true
		}
		entries = append(entries, entry)
	}

	requested := d.RequestDate
	add(models.TimelineEntry{
		Key:   "requested",
		Label: "Donation requested",
		Stage: models.StageRequestMeeting,
		Actor: d.DonorName,
	}, &requested)

	if d.Stage.Reached(models.StageScheduleMeeting) || d.ScheduledDate != nil {
		entry := models.TimelineEntry{
			Key:   "meeting_scheduled",
			Label: "Meeting scheduled",
			Stage: models.StageScheduleMeeting,
			Actor: deref(d.StaffMember),
		}
		if d.ScheduledTime != nil {
			entry.Time = *d.ScheduledTime
		}
		if loc := deref(d.Location); loc != "" {
			entry.Notes = fmt.Sprintf("Location: %s", loc)
		}
		if d.MeetingCompletedDate == nil && !d.Stage.Reached(models.StageFinishedMeeting) {
			entry.Notes = joinNotes(entry.Notes, deref(d.MeetingNotes))
		}
		add(entry, d.ScheduledDate)
	}

	if d.Stage.Reached(models.StageFinishedMeeting) || d.MeetingCompletedDate != nil {
		entry := models.TimelineEntry{
			Key:   "meeting_completed",
			Label: "Meeting completed",
			Stage: models.StageFinishedMeeting,
			Notes: deref(d.MeetingNotes),
		}
		if d.HandoverCompleted {
			entry.Notes = joinNotes("Handover completed", entry.Notes)
		}
		add(entry, d.MeetingCompletedDate)
	}

	if d.Stage.Reached(models.StageCityHall) || d.CityHallSubmissionDate != nil {
		entry := models.TimelineEntry{
			Key:   "city_hall_submitted",
			Label: "Submitted to city hall",
			Stage: models.StageCityHall,
		}
		if ref := deref(d.CityHallReference); ref != "" {
			entry.Notes = fmt.Sprintf("Reference: %s", ref)
		}
		add(entry, d.CityHallSubmissionDate)
	}

	if d.Stage.Reached(models.StageComplete) || d.CityHallApprovalDate != nil {
		add(models.TimelineEntry{
			Key:   "city_hall_approved",
			Label: "Approved by city hall",
			Stage: models.StageComplete,
			Notes: deref(d.CityHallNotes),
		}, d.CityHallApprovalDate)
	}

	if d.FinalApprovalDate != nil {
		add(models.TimelineEntry{
			Key:   "final_approved",
			Label: "Final approval",
			Stage: models.StageComplete,
			Actor: deref(d.FinalApprovedBy),
			Notes: deref(d.FinalApprovalNotes),
		}, d.FinalApprovalDate)
	}

	if d.Status == models.DonationStatusRejected || d.RejectedAt != nil {
		add(models.TimelineEntry{
			Key:   "rejected",
			Label: "Donation rejected",
			Stage: d.Stage,
			Notes: deref(d.RejectionReason),
		}, d.RejectedAt)
	}

	return entries
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func joinNotes(parts ...string) string {
	out := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		if out != "" {
			out += ". "
		}
		out += part
	}
	return out
}
