package models

import "time"

// MetricsSnapshot summarises in-process counters for the admin dashboard.
type MetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	TransitionsTotal         uint64    `json:"transitionsTotal"`
	TransitionConflicts      uint64    `json:"transitionConflicts"`
	NotificationsSent        uint64    `json:"notificationsSent"`
	NotificationsFailed      uint64    `json:"notificationsFailed"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
