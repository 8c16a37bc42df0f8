package models

import "time"

// TimelineEntry is one milestone in a donation's history.
type TimelineEntry struct {
	Key         string        `json:"key"`
	Label       string        `json:"label"`
	Stage       DonationStage `json:"stage"`
	At          *time.Time    `json:"at,omitempty"`
	Time        string        `json:"time,omitempty"`
	TimeUnknown bool          `json:"timeUnknown"`
	Notes       string        `json:"notes,omitempty"`
	Actor       string        `json:"actor,omitempty"`
}
