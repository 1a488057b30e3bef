package model

import (
	"time"

	"github.com/google/uuid"
)

// Notification kind constants
const (
	NotificationAwaitingApproval = "AWAITING_APPROVAL"
	NotificationRequestSentBack  = "REQUEST_SENT_BACK"
	NotificationRequestRejected  = "REQUEST_REJECTED"
	NotificationRequestCompleted = "REQUEST_COMPLETED"
	NotificationNewComment       = "NEW_COMMENT"
)

// Notification is a derived view item, recomputed from the request
// collection on every refresh. It is never persisted: the ID is
// deterministic for a given request state, so an alert de-duplicates
// naturally and disappears once the request moves on. Read state is the
// viewer's seen set, not a field of the event itself.
type Notification struct {
	ID          string    `json:"id"`
	RequestID   uuid.UUID `json:"request_id"`
	RequestType string    `json:"request_type"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	IsRead      bool      `json:"is_read"`
}

// NotificationSeen records that a viewer acknowledged a derived notification
// id. This is the only notification state that survives a refresh.
type NotificationSeen struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ViewerID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_seen_viewer_notification" json:"viewer_id"`
	NotificationID string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_seen_viewer_notification" json:"notification_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
