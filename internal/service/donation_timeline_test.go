package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/museum-admin-api/internal/models"
)

func strPtr(v string) *string { return &v }

func timePtr(v time.Time) *time.Time { return &v }

func timelineKeys(entries []models.TimelineEntry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

func TestBuildTimelineNewDonation(t *testing.T) {
	requested := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	entries := BuildTimeline(&models.Donation{
		DonorName:   "Jane Doe",
		Stage:       models.StageRequestMeeting,
		Status:      models.DonationStatusPending,
		RequestDate: requested,
	})
	require.Len(t, entries, 1)
	assert.Equal(t, "requested", entries[0].Key)
	assert.Equal(t, requested, *entries[0].At)
	assert.False(t, entries[0].TimeUnknown)
}

func TestBuildTimelineFullHistoryInOrder(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	d := &models.Donation{
		Stage:                  models.StageComplete,
		Status:                 models.DonationStatusApproved,
		RequestDate:            base,
		ScheduledDate:          timePtr(base.AddDate(0, 0, 3)),
		ScheduledTime:          strPtr("10:30"),
		Location:               strPtr("Main hall"),
		StaffMember:            strPtr("Curator Lee"),
		MeetingNotes:           strPtr("Vase inspected"),
		MeetingCompletedDate:   timePtr(base.AddDate(0, 0, 3)),
		HandoverCompleted:      true,
		CityHallReference:      strPtr("CH-2024-17"),
		CityHallSubmissionDate: timePtr(base.AddDate(0, 0, 5)),
		CityHallApprovalDate:   timePtr(base.AddDate(0, 0, 20)),
		FinalApprovalDate:      timePtr(base.AddDate(0, 0, 21)),
		FinalApprovedBy:        strPtr("Director Kim"),
	}
	entries := BuildTimeline(d)
	assert.Equal(t, []string{"requested", "meeting_scheduled", "meeting_completed", "city_hall_submitted", "city_hall_approved", "final_approved"}, timelineKeys(entries))
	for _, e := range entries {
		assert.False(t, e.TimeUnknown, e.Key)
	}
	assert.Equal(t, "10:30", entries[1].Time)
	assert.Equal(t, "Curator Lee", entries[1].Actor)
	assert.Equal(t, "Handover completed. Vase inspected", entries[2].Notes)
	assert.Equal(t, "Reference: CH-2024-17", entries[3].Notes)
	assert.Equal(t, "Director Kim", entries[5].Actor)
}

func TestBuildTimelineMissingTimestampsAreFlagged(t *testing.T) {
	d := &models.Donation{
		Stage:             models.StageComplete,
		Status:            models.DonationStatusApproved,
		RequestDate:       time.Now(),
		FinalApprovalDate: timePtr(time.Now()),
	}
	entries := BuildTimeline(d)
	assert.Equal(t, []string{"requested", "meeting_scheduled", "meeting_completed", "city_hall_submitted", "city_hall_approved", "final_approved"}, timelineKeys(entries))
	for _, e := range entries[1:5] {
		assert.True(t, e.TimeUnknown, e.Key)
		assert.Nil(t, e.At, e.Key)
	}
	assert.False(t, entries[5].TimeUnknown)
}

func TestBuildTimelineRejected(t *testing.T) {
	rejected := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	d := &models.Donation{
		Stage:           models.StageScheduleMeeting,
		Status:          models.DonationStatusRejected,
		RequestDate:     rejected.AddDate(0, 0, -3),
		ScheduledDate:   timePtr(rejected.AddDate(0, 0, 2)),
		ScheduledTime:   strPtr("14:00"),
		MeetingNotes:    strPtr("Bring provenance papers"),
		RejectedAt:      &rejected,
		RejectionReason: strPtr("Insufficient provenance"),
	}
	entries := BuildTimeline(d)
	assert.Equal(t, []string{"requested", "meeting_scheduled", "rejected"}, timelineKeys(entries))
	assert.Equal(t, "Bring provenance papers", entries[1].Notes)
	assert.Equal(t, "Insufficient provenance", entries[2].Notes)
	assert.Equal(t, models.StageScheduleMeeting, entries[2].Stage)
}

func TestBuildTimelineNil(t *testing.T) {
	assert.Nil(t, BuildTimeline(nil))
}
