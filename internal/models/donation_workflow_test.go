package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransitionTable(t *testing.T) {
	allowed := map[DonationAction]map[DonationStage]DonationStage{
		ActionScheduleMeeting: {StageRequestMeeting: StageScheduleMeeting},
		ActionCompleteMeeting: {StageScheduleMeeting: StageFinishedMeeting},
		ActionSubmitCityHall:  {StageFinishedMeeting: StageCityHall},
		ActionAdvance:         {StageCityHall: StageComplete},
		ActionFinalApprove:    {StageCityHall: StageComplete, StageComplete: StageComplete},
		ActionReject:          {StageRequestMeeting: StageRequestMeeting, StageScheduleMeeting: StageScheduleMeeting},
	}

	for _, action := range DonationActions {
		for _, stage := range DonationStages {
			d := &Donation{Stage: stage, Status: DonationStatusPending}
			next, _, err := CheckTransition(d, action)
			want, ok := allowed[action][stage]
			if ok {
				require.NoError(t, err, "%s from %s", action, stage)
				assert.Equal(t, want, next, "%s from %s", action, stage)
				continue
			}
			var transitionErr *TransitionError
			require.True(t, errors.As(err, &transitionErr), "%s from %s should fail", action, stage)
		}
	}
}

func TestCheckTransitionRejectedIsTerminal(t *testing.T) {
	for _, stage := range DonationStages {
		d := &Donation{Stage: stage, Status: DonationStatusRejected}
		for _, action := range DonationActions {
			_, _, err := CheckTransition(d, action)
			assert.Error(t, err, "%s from rejected %s", action, stage)
		}
		assert.Empty(t, AvailableActions(d))
	}
}

func TestCheckTransitionStatusEffects(t *testing.T) {
	_, status, err := CheckTransition(&Donation{Stage: StageCityHall, Status: DonationStatusPending}, ActionAdvance)
	require.NoError(t, err)
	assert.Equal(t, DonationStatusApproved, status)

	stage, status, err := CheckTransition(&Donation{Stage: StageScheduleMeeting, Status: DonationStatusPending}, ActionReject)
	require.NoError(t, err)
	assert.Equal(t, StageScheduleMeeting, stage)
	assert.Equal(t, DonationStatusRejected, status)
}

func TestFinalApproveOnlyOnce(t *testing.T) {
	now := time.Now()
	d := &Donation{Stage: StageComplete, Status: DonationStatusApproved}
	_, _, err := CheckTransition(d, ActionFinalApprove)
	require.NoError(t, err)

	d.FinalApprovalDate = &now
	_, _, err = CheckTransition(d, ActionFinalApprove)
	require.Error(t, err)
}

func TestAvailableActions(t *testing.T) {
	d := &Donation{Stage: StageRequestMeeting, Status: DonationStatusPending}
	assert.Equal(t, []DonationAction{ActionScheduleMeeting, ActionReject}, AvailableActions(d))

	d.Stage = StageCityHall
	assert.Equal(t, []DonationAction{ActionAdvance, ActionFinalApprove}, AvailableActions(d))
}

func TestDonationEnums(t *testing.T) {
	assert.True(t, DonationTypeArtifact.Valid())
	assert.False(t, DonationType("object").Valid())
	assert.True(t, DonationTypeLoan.RequiresItem())
	assert.False(t, DonationTypeMonetary.RequiresItem())
	assert.True(t, StageComplete.Reached(StageCityHall))
	assert.False(t, StageScheduleMeeting.Reached(StageFinishedMeeting))
	assert.False(t, DonationStage("Bogus").Valid())
}

func TestDonationEventsHaveUniqueNames(t *testing.T) {
	seen := map[DonationEvent]bool{}
	for _, event := range DonationEvents {
		assert.False(t, seen[event], string(event))
		seen[event] = true
	}
	assert.Len(t, seen, 6)
}
