// Package notification recomputes per-viewer alerts from the current request
// collection. Nothing here is persisted: notification ids are deterministic
// functions of request state, so a fresh derivation can never drift out of
// sync with the source of truth.
package notification

import (
	"fmt"
	"sort"

	"portal/internal/model"

	"github.com/google/uuid"
)

// SeenSet answers whether a viewer already acknowledged a notification id.
type SeenSet interface {
	Contains(notificationID string) bool
}

// SeenIDs is a map-backed SeenSet
type SeenIDs map[string]bool

func (s SeenIDs) Contains(id string) bool { return s[id] }

// Derive scans requests and returns the viewer's notifications, newest
// first. Calling it twice with unchanged inputs yields identical output.
func Derive(requests []model.Request, viewerID uuid.UUID, viewerRole string, seen SeenSet) []model.Notification {
	var out []model.Notification

	for i := range requests {
		req := &requests[i]

		if viewerRole == model.RoleApprover || viewerRole == model.RoleAdmin {
			if n, ok := awaitingApproval(req, viewerID); ok {
				out = append(out, n)
			}
		}

		if viewerRole == model.RoleAdmin {
			if n, ok := terminalStatus(req); ok {
				out = append(out, n)
			}
			out = append(out, commentNotifications(req, viewerID)...)
		}
	}

	for i := range out {
		out[i].IsRead = seen.Contains(out[i].ID)
	}

	// Newest first; id tie-break keeps the order stable across derivations.
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})

	return out
}

// statusID derives the id for status-scoped notifications. Keyed on
// (requestId, status) so the alert disappears once the request moves on.
func statusID(requestID uuid.UUID, status string) string {
	return fmt.Sprintf("%s:%s", requestID, status)
}

// commentID is keyed on the comment's timestamp so distinct comments never
// collide or get silently dropped.
func commentID(requestID uuid.UUID, entry *model.ApproverEntry) string {
	return fmt.Sprintf("%s:%d", requestID, entry.ApprovedAt.UnixNano())
}

func awaitingApproval(req *model.Request, viewerID uuid.UUID) (model.Notification, bool) {
	if req.Status != model.StatusPending {
		return model.Notification{}, false
	}
	current := req.CurrentApprover()
	if current == nil || current.UserID != viewerID {
		return model.Notification{}, false
	}
	return model.Notification{
		ID:          statusID(req.ID, req.Status),
		RequestID:   req.ID,
		RequestType: req.RequestType,
		Kind:        model.NotificationAwaitingApproval,
		Message:     fmt.Sprintf("%s request from %s is awaiting your approval", req.RequestType, req.RequesterName),
		Timestamp:   req.UpdatedAt,
	}, true
}

func terminalStatus(req *model.Request) (model.Notification, bool) {
	var kind string
	switch req.Status {
	case model.StatusSentBack:
		kind = model.NotificationRequestSentBack
	case model.StatusRejected:
		kind = model.NotificationRequestRejected
	case model.StatusCompleted:
		kind = model.NotificationRequestCompleted
	default:
		return model.Notification{}, false
	}
	return model.Notification{
		ID:          statusID(req.ID, req.Status),
		RequestID:   req.ID,
		RequestType: req.RequestType,
		Kind:        kind,
		Message:     fmt.Sprintf("%s request from %s is %s", req.RequestType, req.RequesterName, req.Status),
		Timestamp:   req.UpdatedAt,
	}, true
}

// commentNotifications emits one notification per queue entry holding a
// comment authored by someone other than the viewer.
func commentNotifications(req *model.Request, viewerID uuid.UUID) []model.Notification {
	var out []model.Notification
	for i := range req.ApprovalQueue {
		entry := &req.ApprovalQueue[i]
		if entry.UserID == viewerID || entry.ApprovedAt == nil {
			continue
		}
		if entry.Comments == "" && entry.HODComments == "" && entry.InternalAuditComments == "" {
			continue
		}
		out = append(out, model.Notification{
			ID:          commentID(req.ID, entry),
			RequestID:   req.ID,
			RequestType: req.RequestType,
			Kind:        model.NotificationNewComment,
			Message:     fmt.Sprintf("%s commented on a %s request from %s", entry.UserName, req.RequestType, req.RequesterName),
			Timestamp:   *entry.ApprovedAt,
		})
	}
	return out
}
