package models

import "fmt"

// DonationAction names an admin command that moves a donation through the workflow.
type DonationAction string

const (
	ActionScheduleMeeting DonationAction = "schedule_meeting"
	ActionCompleteMeeting DonationAction = "complete_meeting"
	ActionSubmitCityHall  DonationAction = "submit_city_hall"
	ActionAdvance         DonationAction = "advance"
	ActionFinalApprove    DonationAction = "final_approve"
	ActionReject          DonationAction = "reject"
)

// DonationEvent is emitted after a transition commits.
type DonationEvent string

const (
	EventMeetingScheduled  DonationEvent = "meeting_scheduled"
	EventMeetingCompleted  DonationEvent = "meeting_completed"
	EventCityHallSubmitted DonationEvent = "city_hall_submitted"
	EventApproved          DonationEvent = "approved"
	EventFinalApproved     DonationEvent = "final_approved"
	EventRejected          DonationEvent = "rejected"
)

// DonationEvents lists every event that sends a donor email.
var DonationEvents = []DonationEvent{
	EventMeetingScheduled,
	EventMeetingCompleted,
	EventCityHallSubmitted,
	EventApproved,
	EventFinalApproved,
	EventRejected,
}

// TransitionRule describes where an action may start and where it leads.
// An empty To keeps the current stage.
type TransitionRule struct {
	From     []DonationStage
	Statuses []DonationStatus
	To       DonationStage
	Status   DonationStatus
	Event    DonationEvent
}

var transitionRules = map[DonationAction]TransitionRule{
	ActionScheduleMeeting: {
		From:     []DonationStage{StageRequestMeeting},
		Statuses: []DonationStatus{DonationStatusPending},
		To:       StageScheduleMeeting,
		Event:    EventMeetingScheduled,
	},
	ActionCompleteMeeting: {
		From:     []DonationStage{StageScheduleMeeting},
		Statuses: []DonationStatus{DonationStatusPending},
		To:       StageFinishedMeeting,
		Event:    EventMeetingCompleted,
	},
	ActionSubmitCityHall: {
		From:     []DonationStage{StageFinishedMeeting},
		Statuses: []DonationStatus{DonationStatusPending},
		To:       StageCityHall,
		Event:    EventCityHallSubmitted,
	},
	ActionAdvance: {
		From:     []DonationStage{StageCityHall},
		Statuses: []DonationStatus{DonationStatusPending},
		To:       StageComplete,
		Status:   DonationStatusApproved,
		Event:    EventApproved,
	},
	ActionFinalApprove: {
		From:     []DonationStage{StageCityHall, StageComplete},
		Statuses: []DonationStatus{DonationStatusPending, DonationStatusApproved},
		To:       StageComplete,
		Status:   DonationStatusApproved,
		Event:    EventFinalApproved,
	},
	ActionReject: {
		From:     []DonationStage{StageRequestMeeting, StageScheduleMeeting},
		Statuses: []DonationStatus{DonationStatusPending},
		Status:   DonationStatusRejected,
		Event:    EventRejected,
	},
}

// DonationActions lists every action in workflow order.
var DonationActions = []DonationAction{
	ActionScheduleMeeting,
	ActionCompleteMeeting,
	ActionSubmitCityHall,
	ActionAdvance,
	ActionFinalApprove,
	ActionReject,
}

// RuleFor returns the transition rule for action.
func RuleFor(action DonationAction) (TransitionRule, bool) {
	rule, ok := transitionRules[action]
	return rule, ok
}

// TransitionError reports an action that the donation's current state does not permit.
type TransitionError struct {
	Action DonationAction
	Stage  DonationStage
	Status DonationStatus
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s donation in stage %s with status %s: %s", e.Action, e.Stage, e.Status, e.Reason)
}

// CheckTransition validates action against the donation snapshot and returns the
// resulting stage and status.
func CheckTransition(d *Donation, action DonationAction) (DonationStage, DonationStatus, error) {
	rule, ok := transitionRules[action]
	if !ok {
		return "", "", &TransitionError{Action: action, Reason: "unknown action"}
	}
	if d == nil {
		return "", "", &TransitionError{Action: action, Reason: "donation missing"}
	}
	fail := func(reason string) (DonationStage, DonationStatus, error) {
		return "", "", &TransitionError{Action: action, Stage: d.Stage, Status: d.Status, Reason: reason}
	}
	if d.Status == DonationStatusRejected {
		return fail("donation was rejected")
	}
	if !containsStage(rule.From, d.Stage) {
		return fail(fmt.Sprintf("allowed only from %v", rule.From))
	}
	if !containsStatus(rule.Statuses, d.Status) {
		return fail(fmt.Sprintf("allowed only with status %v", rule.Statuses))
	}
	if action == ActionFinalApprove && d.FinalApprovalDate != nil {
		return fail("donation already has final approval")
	}

	stage := rule.To
	if stage == "" {
		stage = d.Stage
	}
	status := rule.Status
	if status == "" {
		status = d.Status
	}
	return stage, status, nil
}

// AvailableActions lists the actions the donation currently accepts.
func AvailableActions(d *Donation) []DonationAction {
	actions := make([]DonationAction, 0, 2)
	for _, action := range DonationActions {
		if _, _, err := CheckTransition(d, action); err == nil {
			actions = append(actions, action)
		}
	}
	return actions
}

func containsStage(stages []DonationStage, target DonationStage) bool {
	for _, s := range stages {
		if s == target {
			return true
		}
	}
	return false
}

func containsStatus(statuses []DonationStatus, target DonationStatus) bool {
	for _, s := range statuses {
		if s == target {
			return true
		}
	}
	return false
}
