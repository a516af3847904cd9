package models

import "time"

type NoticeKind string

const (
	NoticeSOS           NoticeKind = "sos"
	NoticeSOSResolved   NoticeKind = "sos_resolved"
	NoticeTripStarted   NoticeKind = "trip_started"
	NoticeTripDelayed   NoticeKind = "trip_delayed"
	NoticeTripCompleted NoticeKind = "trip_completed"
)

type NotificationOutcome string

const (
	OutcomeSent   NotificationOutcome = "sent"
	OutcomeFailed NotificationOutcome = "failed"
)

// Failure reasons set by the dispatcher itself. Gateway errors are stored verbatim.
const (
	FailureTimeout   = "timeout"
	FailureNoAddress = "no_address"
)

// NotificationRecord is immutable once written.
type NotificationRecord struct {
	ContactID     string              `json:"contactId"`
	Channel       Channel             `json:"channel"`
	Notice        NoticeKind          `json:"notice"`
	Address       string              `json:"address,omitempty"`
	AttemptedAt   time.Time           `json:"attemptedAt"`
	Outcome       NotificationOutcome `json:"outcome"`
	FailureReason string              `json:"failureReason,omitempty"`
	MessageID     string              `json:"messageId,omitempty"`
	Transient     bool                `json:"transient,omitempty"`
}
