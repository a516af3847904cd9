package models

import "time"

type AlertStatus string

const (
	AlertStatusActive   AlertStatus = "active"
	AlertStatusResolved AlertStatus = "resolved"
)

type Alert struct {
	ID         string      `json:"id"`
	UserID     string      `json:"userId"`
	Location   Location    `json:"location"`
	Status     AlertStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	ResolvedAt *time.Time  `json:"resolvedAt,omitempty"`

	// Notifications has one record per contact known at trigger time.
	Notifications []NotificationRecord `json:"notifications"`
	// ResolutionNotices keeps the outcome of the "alert resolved" notice.
	ResolutionNotices []NotificationRecord `json:"resolutionNotices,omitempty"`

	Version int64 `json:"version"`
}

func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	out := *a
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	out.Notifications = append([]NotificationRecord(nil), a.Notifications...)
	out.ResolutionNotices = append([]NotificationRecord(nil), a.ResolutionNotices...)
	return &out
}
