package repository

import (
	"context"

	"portal/internal/model"
	"portal/pkg/apperr"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeenRepository persists which derived notification ids a viewer has
// acknowledged. It is the only notification state that is ever stored.
type SeenRepository interface {
	MarkSeen(ctx context.Context, viewerID uuid.UUID, notificationID string) error
	ListSeen(ctx context.Context, viewerID uuid.UUID) (map[string]bool, error)
	IsSeen(ctx context.Context, viewerID uuid.UUID, notificationID string) (bool, error)
}

type seenRepository struct {
	db *gorm.DB
}

func NewSeenRepository(db *gorm.DB) SeenRepository {
	return &seenRepository{db: db}
}

func (r *seenRepository) MarkSeen(ctx context.Context, viewerID uuid.UUID, notificationID string) error {
	seen := model.NotificationSeen{ViewerID: viewerID, NotificationID: notificationID}
	// Marking twice is a no-op, not an error.
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "viewer_id"}, {Name: "notification_id"}},
			DoNothing: true,
		}).
		Create(&seen).Error
	if err != nil {
		return apperr.Unavailable(err, "failed to mark notification seen")
	}
	return nil
}

func (r *seenRepository) ListSeen(ctx context.Context, viewerID uuid.UUID) (map[string]bool, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.NotificationSeen{}).
		Where("viewer_id = ?", viewerID).
		Pluck("notification_id", &ids).Error
	if err != nil {
		return nil, apperr.Unavailable(err, "failed to load seen notifications")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	return seen, nil
}

func (r *seenRepository) IsSeen(ctx context.Context, viewerID uuid.UUID, notificationID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.NotificationSeen{}).
		Where("viewer_id = ? AND notification_id = ?", viewerID, notificationID).
		Count(&count).Error
	if err != nil {
		return false, apperr.Unavailable(err, "failed to check notification seen state")
	}
	return count > 0, nil
}
