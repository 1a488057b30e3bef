package service

import (
	"context"
	"sync"
	"time"

	"portal/internal/engine"
	"portal/internal/model"
	"portal/internal/repository"
	"portal/internal/storage"
	"portal/pkg/apperr"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- DTOs ---

type SubmitRequestDTO struct {
	RequestType        string               `json:"request_type" binding:"required,oneof=FUEL PROCUREMENT LEAVE AD_HOC_ITEM STORE_REQUISITION"`
	Details            model.RequestDetails `json:"details" binding:"required"`
	ApproverIDs        []string             `json:"approver_ids"`
	RequesterSignature string               `json:"requester_signature" binding:"required"`
	VendorID           string               `json:"vendor_id"`
}

type ActionDTO struct {
	Action                string           `json:"action" binding:"required,oneof=APPROVE REJECT SEND_BACK"`
	Comments              string           `json:"comments"`
	Signature             string           `json:"signature" binding:"required"`
	HODComments           string           `json:"hod_comments"`
	InternalAuditComments string           `json:"internal_audit_comments"`
	FinalAmount           *decimal.Decimal `json:"final_amount"`
}

type ResubmitRequestDTO struct {
	Details            model.RequestDetails `json:"details" binding:"required"`
	ApproverIDs        []string             `json:"approver_ids"`
	RequesterSignature string               `json:"requester_signature" binding:"required"`
}

type ResolveDTO struct {
	NewStatus string `json:"new_status" binding:"required"`
}

type RequestListFilter struct {
	Status      string
	RequestType string
	RequesterID string
	Page        int
	Limit       int
}

// Attachment carries uploaded bytes from the handler to the store
type Attachment struct {
	Filename string
	Data     []byte
}

type ApproverEntryResponse struct {
	UserID                string  `json:"user_id"`
	UserName              string  `json:"user_name"`
	Status                string  `json:"status"`
	Comments              string  `json:"comments,omitempty"`
	HODComments           string  `json:"hod_comments,omitempty"`
	InternalAuditComments string  `json:"internal_audit_comments,omitempty"`
	FinalAmount           *string `json:"final_amount,omitempty"`
	ApprovedAt            *string `json:"approved_at,omitempty"`
}

type RequestResponse struct {
	ID                   string                  `json:"id"`
	RequestType          string                  `json:"request_type"`
	RequesterID          string                  `json:"requester_id"`
	RequesterName        string                  `json:"requester_name"`
	Details              model.RequestDetails    `json:"details"`
	Status               string                  `json:"status"`
	ApprovalQueue        []ApproverEntryResponse `json:"approval_queue"`
	CurrentApproverIndex int                     `json:"current_approver_index"`
	AttachmentURL        string                  `json:"attachment_url,omitempty"`
	VendorID             *string                 `json:"vendor_id,omitempty"`
	CreatedAt            string                  `json:"created_at"`
	UpdatedAt            string                  `json:"updated_at"`
}

// Broadcaster pushes request-change events to connected clients. The
// websocket hub satisfies this; a nil hub disables push.
type Broadcaster interface {
	RequestChanged(event string, requestID uuid.UUID, status string)
}

// Event names mirrored from the websocket package to keep this service free
// of a transport dependency.
const (
	eventSubmitted   = "REQUEST_SUBMITTED"
	eventUpdated     = "REQUEST_UPDATED"
	eventResubmitted = "REQUEST_RESUBMITTED"
	eventResolved    = "REQUEST_RESOLVED"
)

// --- Interface ---

// WorkflowService orchestrates the approval engine against the request
// store. Actor identity always comes from the authenticated caller, never
// from the payload. Every mutation after submission is a single conditional
// write: at most one accepted transition per (request, queue position).
type WorkflowService interface {
	Submit(ctx context.Context, requesterID string, req SubmitRequestDTO, attachment *Attachment) (RequestResponse, error)
	Apply(ctx context.Context, requestID, actorID string, action ActionDTO) (RequestResponse, error)
	Resubmit(ctx context.Context, requestID, actorID, actorRole string, req ResubmitRequestDTO, attachment *Attachment) (RequestResponse, error)
	ResolveAdHocItem(ctx context.Context, requestID, actorID, actorRole string, req ResolveDTO) (RequestResponse, error)
	Get(ctx context.Context, requestID string) (RequestResponse, error)
	List(ctx context.Context, filter RequestListFilter) ([]RequestResponse, int64, error)
}

type workflowService struct {
	requests    repository.RequestRepository
	users       repository.UserRepository
	attachments storage.AttachmentStore
	hub         Broadcaster

	// Well-known auditor identity, configured by email and resolved through
	// the user directory once.
	auditorEmail string
	auditorOnce  sync.Once
	auditorID    uuid.UUID
}

func NewWorkflowService(
	requests repository.RequestRepository,
	users repository.UserRepository,
	attachments storage.AttachmentStore,
	hub Broadcaster,
	auditorEmail string,
) WorkflowService {
	return &workflowService{
		requests:     requests,
		users:        users,
		attachments:  attachments,
		hub:          hub,
		auditorEmail: auditorEmail,
	}
}

// --- Implementation ---

func (s *workflowService) Submit(ctx context.Context, requesterID string, req SubmitRequestDTO, attachment *Attachment) (RequestResponse, error) {
	requester, err := s.users.GetByID(ctx, requesterID)
	if err != nil {
		return RequestResponse{}, err
	}

	if req.RequesterSignature == "" {
		return RequestResponse{}, apperr.InvalidTransition("a requester signature is required at submission")
	}
	if err := req.Details.Validate(req.RequestType); err != nil {
		return RequestResponse{}, apperr.InvalidTransition("%s", err.Error())
	}

	details := req.Details
	if details.StoreRequisition != nil {
		recomputeGrandTotal(details.StoreRequisition)
	}

	var queue model.ApprovalQueue
	if req.RequestType == model.RequestTypeAdHocItem {
		// Ad-hoc item requests bypass the queue; an administrator resolves
		// them directly.
		queue = model.ApprovalQueue{}
	} else {
		if len(req.ApproverIDs) == 0 {
			return RequestResponse{}, apperr.InvalidTransition(
				"%s requests require at least one approver", req.RequestType)
		}
		queue, err = s.buildQueue(ctx, req.ApproverIDs)
		if err != nil {
			return RequestResponse{}, err
		}
	}

	var vendorID *uuid.UUID
	if req.VendorID != "" {
		parsed, parseErr := uuid.Parse(req.VendorID)
		if parseErr != nil {
			return RequestResponse{}, apperr.InvalidTransition("invalid vendor id: %s", req.VendorID)
		}
		vendorID = &parsed
	}

	attachmentURL := ""
	if attachment != nil {
		attachmentURL, err = s.attachments.Put(ctx, attachment.Filename, attachment.Data)
		if err != nil {
			return RequestResponse{}, err
		}
	}

	request := model.Request{
		RequestType:          req.RequestType,
		RequesterID:          requester.ID,
		RequesterName:        requester.DisplayName,
		Details:              details,
		Status:               model.StatusPending,
		ApprovalQueue:        queue,
		CurrentApproverIndex: 0,
		RequesterSignature:   req.RequesterSignature,
		AttachmentURL:        attachmentURL,
		VendorID:             vendorID,
	}

	if err := s.requests.Create(ctx, &request); err != nil {
		return RequestResponse{}, err
	}

	s.broadcast(eventSubmitted, &request)
	return toRequestResponse(request), nil
}

func (s *workflowService) Apply(ctx context.Context, requestID, actorID string, action ActionDTO) (RequestResponse, error) {
	id, actor, err := parseIDs(requestID, actorID)
	if err != nil {
		return RequestResponse{}, err
	}

	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return RequestResponse{}, err
	}

	in := engine.ActionInput{
		Action:                action.Action,
		Comments:              action.Comments,
		Signature:             action.Signature,
		HODComments:           action.HODComments,
		InternalAuditComments: action.InternalAuditComments,
		FinalAmount:           action.FinalAmount,
		At:                    time.Now(),
	}

	next, err := engine.Transition(*request, actor, in, s.resolveAuditor(ctx))
	if err != nil {
		return RequestResponse{}, err
	}

	// The mutation was computed entirely above; this is the single write,
	// keyed on the state we read. A concurrent winner leaves us StaleState.
	updated, err := s.requests.ConditionalUpdate(ctx, request.CurrentApproverIndex, request.Status, &next)
	if err != nil {
		return RequestResponse{}, err
	}

	s.broadcast(eventUpdated, updated)
	return toRequestResponse(*updated), nil
}

func (s *workflowService) Resubmit(ctx context.Context, requestID, actorID, actorRole string, req ResubmitRequestDTO, attachment *Attachment) (RequestResponse, error) {
	if actorRole != model.RoleAdmin {
		return RequestResponse{}, apperr.NotAuthorized("only administrators may resubmit a request")
	}

	id, _, err := parseIDs(requestID, actorID)
	if err != nil {
		return RequestResponse{}, err
	}

	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return RequestResponse{}, err
	}
	if request.Status != model.StatusSentBack {
		return RequestResponse{}, apperr.InvalidTransition(
			"request %s is %s; only sent-back requests may be resubmitted", request.ID, request.Status)
	}

	if req.RequesterSignature == "" {
		return RequestResponse{}, apperr.InvalidTransition("a requester signature is required at resubmission")
	}
	if err := req.Details.Validate(request.RequestType); err != nil {
		return RequestResponse{}, apperr.InvalidTransition("%s", err.Error())
	}

	details := req.Details
	if details.StoreRequisition != nil {
		recomputeGrandTotal(details.StoreRequisition)
	}

	if len(req.ApproverIDs) == 0 {
		return RequestResponse{}, apperr.InvalidTransition("resubmission requires at least one approver")
	}
	queue, err := s.buildQueue(ctx, req.ApproverIDs)
	if err != nil {
		return RequestResponse{}, err
	}

	// Restart the workflow from the beginning with the (possibly different)
	// approver list. The prior cycle's queue is discarded.
	next := request.Clone()
	next.Details = details
	next.ApprovalQueue = queue
	next.CurrentApproverIndex = 0
	next.Status = model.StatusPending
	next.RequesterSignature = req.RequesterSignature

	if attachment != nil {
		attachmentURL, putErr := s.attachments.Put(ctx, attachment.Filename, attachment.Data)
		if putErr != nil {
			return RequestResponse{}, putErr
		}
		next.AttachmentURL = attachmentURL
	}

	updated, err := s.requests.ConditionalUpdate(ctx, request.CurrentApproverIndex, request.Status, &next)
	if err != nil {
		return RequestResponse{}, err
	}

	s.broadcast(eventResubmitted, updated)
	return toRequestResponse(*updated), nil
}

func (s *workflowService) ResolveAdHocItem(ctx context.Context, requestID, actorID, actorRole string, req ResolveDTO) (RequestResponse, error) {
	if actorRole != model.RoleAdmin {
		return RequestResponse{}, apperr.NotAuthorized("only administrators may resolve ad-hoc item requests")
	}
	if req.NewStatus != model.StatusCompleted {
		return RequestResponse{}, apperr.InvalidTransition(
			"ad-hoc item requests can only be resolved to %s", model.StatusCompleted)
	}

	id, _, err := parseIDs(requestID, actorID)
	if err != nil {
		return RequestResponse{}, err
	}

	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return RequestResponse{}, err
	}
	if request.RequestType != model.RequestTypeAdHocItem {
		return RequestResponse{}, apperr.InvalidTransition(
			"request %s is a %s request, not an ad-hoc item", request.ID, request.RequestType)
	}
	if request.Status != model.StatusPending {
		return RequestResponse{}, apperr.InvalidTransition(
			"request %s is already %s", request.ID, request.Status)
	}

	next := request.Clone()
	next.Status = model.StatusCompleted

	updated, err := s.requests.ConditionalUpdate(ctx, request.CurrentApproverIndex, request.Status, &next)
	if err != nil {
		return RequestResponse{}, err
	}

	s.broadcast(eventResolved, updated)
	return toRequestResponse(*updated), nil
}

func (s *workflowService) Get(ctx context.Context, requestID string) (RequestResponse, error) {
	id, err := uuid.Parse(requestID)
	if err != nil {
		return RequestResponse{}, apperr.NotFound("invalid request id: %s", requestID)
	}
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return RequestResponse{}, err
	}
	return toRequestResponse(*request), nil
}

func (s *workflowService) List(ctx context.Context, filter RequestListFilter) ([]RequestResponse, int64, error) {
	repoFilter := repository.RequestFilter{
		Status:      filter.Status,
		RequestType: filter.RequestType,
		Page:        filter.Page,
		Limit:       filter.Limit,
	}
	if filter.RequesterID != "" {
		parsed, err := uuid.Parse(filter.RequesterID)
		if err != nil {
			return nil, 0, apperr.NotFound("invalid requester id: %s", filter.RequesterID)
		}
		repoFilter.RequesterID = &parsed
	}

	requests, total, err := s.requests.List(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}

	result := make([]RequestResponse, 0, len(requests))
	for _, r := range requests {
		result = append(result, toRequestResponse(r))
	}
	return result, total, nil
}

// --- Helpers ---

// resolveAuditor looks the configured auditor email up through the user
// directory once and caches the id. An unconfigured or unknown auditor
// resolves to uuid.Nil, which the engine treats as "no auditor".
func (s *workflowService) resolveAuditor(ctx context.Context) uuid.UUID {
	s.auditorOnce.Do(func() {
		if s.auditorEmail == "" {
			return
		}
		user, err := s.users.GetByEmail(ctx, s.auditorEmail)
		if err != nil {
			return
		}
		s.auditorID = user.ID
	})
	return s.auditorID
}

func (s *workflowService) buildQueue(ctx context.Context, approverIDs []string) (model.ApprovalQueue, error) {
	queue := make(model.ApprovalQueue, 0, len(approverIDs))
	seen := make(map[string]bool, len(approverIDs))
	for _, idStr := range approverIDs {
		if seen[idStr] {
			return nil, apperr.InvalidTransition("approver %s appears twice in the queue", idStr)
		}
		seen[idStr] = true

		user, err := s.users.GetByID(ctx, idStr)
		if err != nil {
			return nil, err
		}
		queue = append(queue, model.ApproverEntry{
			UserID:   user.ID,
			UserName: user.DisplayName,
			Status:   model.StatusPending,
		})
	}
	return queue, nil
}

func (s *workflowService) broadcast(event string, req *model.Request) {
	if s.hub != nil {
		s.hub.RequestChanged(event, req.ID, req.Status)
	}
}

func recomputeGrandTotal(details *model.StoreRequisitionDetails) {
	grand := decimal.Zero
	for i := range details.Items {
		item := &details.Items[i]
		item.Total = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		grand = grand.Add(item.Total)
	}
	details.GrandTotal = grand
}

func parseIDs(requestID, actorID string) (uuid.UUID, uuid.UUID, error) {
	id, err := uuid.Parse(requestID)
	if err != nil {
		return uuid.Nil, uuid.Nil, apperr.NotFound("invalid request id: %s", requestID)
	}
	actor, err := uuid.Parse(actorID)
	if err != nil {
		return uuid.Nil, uuid.Nil, apperr.NotAuthorized("invalid actor id")
	}
	return id, actor, nil
}

func toRequestResponse(r model.Request) RequestResponse {
	queue := make([]ApproverEntryResponse, 0, len(r.ApprovalQueue))
	for _, entry := range r.ApprovalQueue {
		e := ApproverEntryResponse{
			UserID:                entry.UserID.String(),
			UserName:              entry.UserName,
			Status:                entry.Status,
			Comments:              entry.Comments,
			HODComments:           entry.HODComments,
			InternalAuditComments: entry.InternalAuditComments,
		}
		if entry.FinalAmount != nil {
			amount := entry.FinalAmount.StringFixed(2)
			e.FinalAmount = &amount
		}
		if entry.ApprovedAt != nil {
			at := entry.ApprovedAt.Format(time.RFC3339)
			e.ApprovedAt = &at
		}
		queue = append(queue, e)
	}

	resp := RequestResponse{
		ID:                   r.ID.String(),
		RequestType:          r.RequestType,
		RequesterID:          r.RequesterID.String(),
		RequesterName:        r.RequesterName,
		Details:              r.Details,
		Status:               r.Status,
		ApprovalQueue:        queue,
		CurrentApproverIndex: r.CurrentApproverIndex,
		AttachmentURL:        r.AttachmentURL,
		CreatedAt:            r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            r.UpdatedAt.Format(time.RFC3339),
	}
	if r.VendorID != nil {
		v := r.VendorID.String()
		resp.VendorID = &v
	}
	return resp
}
