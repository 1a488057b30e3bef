// Package engine holds the pure approval-workflow transition logic. It
// performs no I/O: callers load a request, run Transition, and persist the
// returned copy with a conditional write.
package engine

import (
	"time"

	"portal/internal/model"
	"portal/pkg/apperr"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Action enum constants
const (
	ActionApprove  = "APPROVE"
	ActionReject   = "REJECT"
	ActionSendBack = "SEND_BACK"
)

// ActionInput is everything an approver may supply with a queue action. The
// role-conditioned fields are rejected outright when the actor is not the
// entitled identity.
type ActionInput struct {
	Action                string
	Comments              string
	Signature             string
	HODComments           string
	InternalAuditComments string
	FinalAmount           *decimal.Decimal
	At                    time.Time
}

// Transition applies one queue action to a request and returns the resulting
// state. The input request is never mutated: on any validation failure the
// typed error is returned and the caller's copy is untouched. auditorID is
// the directory-resolved well-known auditor identity (uuid.Nil when not
// configured).
func Transition(req model.Request, actorID uuid.UUID, in ActionInput, auditorID uuid.UUID) (model.Request, error) {
	if req.Status != model.StatusPending {
		return model.Request{}, apperr.InvalidTransition(
			"request %s is %s, no further action may be taken", req.ID, req.Status)
	}
	if len(req.ApprovalQueue) == 0 {
		return model.Request{}, apperr.InvalidTransition(
			"request %s has no approval queue", req.ID)
	}
	if req.CurrentApproverIndex < 0 || req.CurrentApproverIndex >= len(req.ApprovalQueue) {
		return model.Request{}, apperr.InvalidTransition(
			"request %s approver index %d out of bounds (queue length %d)",
			req.ID, req.CurrentApproverIndex, len(req.ApprovalQueue))
	}

	current := req.ApprovalQueue[req.CurrentApproverIndex]
	if actorID != current.UserID {
		return model.Request{}, apperr.NotAuthorized(
			"user %s is not the current approver of request %s", actorID, req.ID)
	}

	if in.Signature == "" {
		return model.Request{}, apperr.InvalidTransition("a signature is required")
	}
	if in.Action == ActionSendBack && in.Comments == "" {
		return model.Request{}, apperr.InvalidTransition(
			"send-back requires comments so the requester can act on the feedback")
	}

	if in.HODComments != "" && actorID != req.Details.HODUserID() {
		return model.Request{}, apperr.NotAuthorized(
			"only the designated head of department may supply HOD comments")
	}
	if (in.InternalAuditComments != "" || in.FinalAmount != nil) &&
		(auditorID == uuid.Nil || actorID != auditorID) {
		return model.Request{}, apperr.NotAuthorized(
			"only the internal auditor may supply audit comments or override the amount")
	}

	out := req.Clone()
	entry := &out.ApprovalQueue[out.CurrentApproverIndex]
	at := in.At
	entry.Comments = in.Comments
	entry.Signature = in.Signature
	entry.ApprovedAt = &at
	entry.HODComments = in.HODComments
	entry.InternalAuditComments = in.InternalAuditComments
	if in.FinalAmount != nil {
		amount := *in.FinalAmount
		entry.FinalAmount = &amount
	}

	switch in.Action {
	case ActionApprove:
		entry.Status = model.StatusApproved
		out.CurrentApproverIndex++
		if out.CurrentApproverIndex == len(out.ApprovalQueue) {
			out.Status = model.StatusApproved
		}
	case ActionReject:
		entry.Status = model.StatusRejected
		out.Status = model.StatusRejected
	case ActionSendBack:
		entry.Status = model.StatusSentBack
		out.Status = model.StatusSentBack
	default:
		return model.Request{}, apperr.InvalidTransition("unknown action: %s", in.Action)
	}

	return out, nil
}
