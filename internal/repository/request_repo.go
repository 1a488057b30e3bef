package repository

import (
	"context"
	"errors"
	"time"

	"portal/internal/model"
	"portal/pkg/apperr"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestFilter narrows List results
type RequestFilter struct {
	Status      string
	RequestType string
	RequesterID *uuid.UUID
	Page        int
	Limit       int
}

// RequestRepository is the durable store of requests and their embedded
// approval queues. Every mutation after creation goes through
// ConditionalUpdate: a single write guarded by the state the caller computed
// against, so two actors racing on the same queue position can never both
// win.
type RequestRepository interface {
	Create(ctx context.Context, req *model.Request) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error)
	ListAll(ctx context.Context) ([]model.Request, error)
	List(ctx context.Context, filter RequestFilter) ([]model.Request, int64, error)
	ConditionalUpdate(ctx context.Context, expectedIndex int, expectedStatus string, updated *model.Request) (*model.Request, error)
}

type requestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *model.Request) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return apperr.Unavailable(err, "failed to create request")
	}
	return nil
}

func (r *requestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	var req model.Request
	if err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("request %s not found", id)
		}
		return nil, apperr.Unavailable(err, "failed to load request %s", id)
	}
	return &req, nil
}

func (r *requestRepository) ListAll(ctx context.Context) ([]model.Request, error) {
	var requests []model.Request
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&requests).Error; err != nil {
		return nil, apperr.Unavailable(err, "failed to list requests")
	}
	return requests, nil
}

func (r *requestRepository) List(ctx context.Context, filter RequestFilter) ([]model.Request, int64, error) {
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Request{})
	query = applyRequestFilter(query, filter)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperr.Unavailable(err, "failed to count requests")
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	offset := (filter.Page - 1) * filter.Limit

	var requests []model.Request
	fetch := applyRequestFilter(r.db.WithContext(ctx), filter)
	if err := fetch.Order("created_at DESC").Offset(offset).Limit(filter.Limit).Find(&requests).Error; err != nil {
		return nil, 0, apperr.Unavailable(err, "failed to fetch requests")
	}

	return requests, total, nil
}

func applyRequestFilter(db *gorm.DB, filter RequestFilter) *gorm.DB {
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.RequestType != "" {
		db = db.Where("request_type = ?", filter.RequestType)
	}
	if filter.RequesterID != nil {
		db = db.Where("requester_id = ?", *filter.RequesterID)
	}
	return db
}

// ConditionalUpdate persists updated in one UPDATE guarded by the state the
// caller read before computing the mutation. A guard miss on an existing row
// means another actor won the race at this queue position: the caller gets
// StaleState and must reload.
func (r *requestRepository) ConditionalUpdate(ctx context.Context, expectedIndex int, expectedStatus string, updated *model.Request) (*model.Request, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.Request{}).
		Where("id = ? AND current_approver_index = ? AND status = ?", updated.ID, expectedIndex, expectedStatus).
		Updates(map[string]interface{}{
			"status":                 updated.Status,
			"current_approver_index": updated.CurrentApproverIndex,
			"approval_queue":         updated.ApprovalQueue,
			"details":                updated.Details,
			"requester_signature":    updated.RequesterSignature,
			"attachment_url":         updated.AttachmentURL,
			"updated_at":             now,
		})
	if res.Error != nil {
		return nil, apperr.Unavailable(res.Error, "failed to update request %s", updated.ID)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&model.Request{}).
			Where("id = ?", updated.ID).Count(&count).Error; err != nil {
			return nil, apperr.Unavailable(err, "failed to re-check request %s", updated.ID)
		}
		if count == 0 {
			return nil, apperr.NotFound("request %s not found", updated.ID)
		}
		return nil, apperr.StaleState(
			"request %s changed since it was read (expected index %d, status %s); reload and retry",
			updated.ID, expectedIndex, expectedStatus)
	}

	return r.FindByID(ctx, updated.ID)
}
