package service

import (
	"context"

	"portal/internal/model"
	"portal/internal/notification"
	"portal/internal/repository"
	"portal/pkg/apperr"

	"github.com/google/uuid"
)

// NotificationService recomputes a viewer's notifications from the current
// request collection on every call. Only the seen-id set is persisted.
type NotificationService interface {
	ListForViewer(ctx context.Context, viewerID, viewerRole string) ([]model.Notification, error)
	MarkSeen(ctx context.Context, viewerID, notificationID string) error
}

type notificationService struct {
	requests repository.RequestRepository
	seen     repository.SeenRepository
}

func NewNotificationService(requests repository.RequestRepository, seen repository.SeenRepository) NotificationService {
	return &notificationService{requests: requests, seen: seen}
}

func (s *notificationService) ListForViewer(ctx context.Context, viewerID, viewerRole string) ([]model.Notification, error) {
	viewer, err := uuid.Parse(viewerID)
	if err != nil {
		return nil, apperr.NotAuthorized("invalid viewer id")
	}

	requests, err := s.requests.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	seenIDs, err := s.seen.ListSeen(ctx, viewer)
	if err != nil {
		return nil, err
	}

	return notification.Derive(requests, viewer, viewerRole, notification.SeenIDs(seenIDs)), nil
}

func (s *notificationService) MarkSeen(ctx context.Context, viewerID, notificationID string) error {
	viewer, err := uuid.Parse(viewerID)
	if err != nil {
		return apperr.NotAuthorized("invalid viewer id")
	}
	if notificationID == "" {
		return apperr.InvalidTransition("notification id is required")
	}
	return s.seen.MarkSeen(ctx, viewer, notificationID)
}
