package engine

import (
	"testing"
	"time"

	"portal/internal/model"
	"portal/pkg/apperr"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	approverA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	approverB = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	approverC = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	auditorID = uuid.MustParse("99999999-9999-9999-9999-999999999999")
)

func procurementRequest(approvers ...uuid.UUID) model.Request {
	queue := make(model.ApprovalQueue, 0, len(approvers))
	for _, id := range approvers {
		queue = append(queue, model.ApproverEntry{UserID: id, Status: model.StatusPending})
	}
	return model.Request{
		ID:          uuid.New(),
		RequestType: model.RequestTypeProcurement,
		RequesterID: uuid.New(),
		Details: model.RequestDetails{
			Procurement: &model.ProcurementDetails{
				Description: "toner cartridges",
				Amount:      decimal.NewFromInt(120),
			},
		},
		Status:        model.StatusPending,
		ApprovalQueue: queue,
		CreatedAt:     time.Now(),
	}
}

func approveInput() ActionInput {
	return ActionInput{Action: ActionApprove, Signature: "sig-data", At: time.Now()}
}

func TestTransitionApproveAdvancesIndex(t *testing.T) {
	req := procurementRequest(approverA, approverB, approverC)

	out, err := Transition(req, approverA, approveInput(), auditorID)
	require.NoError(t, err)

	assert.Equal(t, model.StatusPending, out.Status)
	assert.Equal(t, 1, out.CurrentApproverIndex)
	assert.Equal(t, model.StatusApproved, out.ApprovalQueue[0].Status)
	assert.NotNil(t, out.ApprovalQueue[0].ApprovedAt)
	assert.Equal(t, model.StatusPending, out.ApprovalQueue[1].Status)
}

func TestTransitionApproveLastEntryCompletesRequest(t *testing.T) {
	req := procurementRequest(approverA, approverB)
	req.CurrentApproverIndex = 1

	out, err := Transition(req, approverB, approveInput(), auditorID)
	require.NoError(t, err)

	assert.Equal(t, model.StatusApproved, out.Status)
	assert.Equal(t, len(out.ApprovalQueue), out.CurrentApproverIndex)
}

func TestTransitionOnlyCurrentApproverMayAct(t *testing.T) {
	req := procurementRequest(approverA, approverB)

	for _, actor := range []uuid.UUID{approverB, auditorID, uuid.New()} {
		_, err := Transition(req, actor, approveInput(), auditorID)
		require.Error(t, err)
		assert.Equal(t, apperr.KindNotAuthorized, apperr.KindOf(err))
	}

	// The input request is untouched by rejected attempts.
	assert.Equal(t, 0, req.CurrentApproverIndex)
	assert.Equal(t, model.StatusPending, req.Status)
}

func TestTransitionRejectIsTerminalWithoutAdvancing(t *testing.T) {
	req := procurementRequest(approverA, approverB)

	in := approveInput()
	in.Action = ActionReject
	in.Comments = "budget code missing"

	out, err := Transition(req, approverA, in, auditorID)
	require.NoError(t, err)

	assert.Equal(t, model.StatusRejected, out.Status)
	assert.Equal(t, 0, out.CurrentApproverIndex)
	assert.Equal(t, model.StatusRejected, out.ApprovalQueue[0].Status)

	// Terminal: nobody can act anymore, including the next approver.
	_, err = Transition(out, approverB, approveInput(), auditorID)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestTransitionSendBackRequiresComments(t *testing.T) {
	req := procurementRequest(approverA, approverB)

	in := approveInput()
	in.Action = ActionSendBack

	_, err := Transition(req, approverA, in, auditorID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	in.Comments = "fix budget"
	out, err := Transition(req, approverA, in, auditorID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSentBack, out.Status)
	assert.Equal(t, 0, out.CurrentApproverIndex)
	assert.Equal(t, model.StatusSentBack, out.ApprovalQueue[0].Status)
	assert.Equal(t, "fix budget", out.ApprovalQueue[0].Comments)
}

func TestTransitionRequiresSignature(t *testing.T) {
	req := procurementRequest(approverA)

	in := approveInput()
	in.Signature = ""

	_, err := Transition(req, approverA, in, auditorID)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestTransitionRejectsActionsOnEmptyQueue(t *testing.T) {
	req := procurementRequest()
	req.RequestType = model.RequestTypeAdHocItem

	_, err := Transition(req, approverA, approveInput(), auditorID)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestTransitionRejectsUnknownAction(t *testing.T) {
	req := procurementRequest(approverA)

	in := approveInput()
	in.Action = "ESCALATE"

	_, err := Transition(req, approverA, in, auditorID)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestTransitionHODCommentsPolicy(t *testing.T) {
	hod := approverB
	leave := model.Request{
		ID:          uuid.New(),
		RequestType: model.RequestTypeLeave,
		RequesterID: uuid.New(),
		Details: model.RequestDetails{
			Leave: &model.LeaveDetails{
				HODUserID: hod,
				LeaveType: "ANNUAL",
				StartDate: "2026-09-01",
				EndDate:   "2026-09-05",
			},
		},
		Status: model.StatusPending,
		ApprovalQueue: model.ApprovalQueue{
			{UserID: approverA, Status: model.StatusPending},
			{UserID: hod, Status: model.StatusPending},
		},
	}

	// A non-HOD approver supplying HOD comments is rejected, not silently
	// stripped.
	in := approveInput()
	in.HODComments = "noted"
	_, err := Transition(leave, approverA, in, auditorID)
	assert.Equal(t, apperr.KindNotAuthorized, apperr.KindOf(err))

	// Advance to the HOD entry; the HOD may set them.
	out, err := Transition(leave, approverA, approveInput(), auditorID)
	require.NoError(t, err)

	out2, err := Transition(out, hod, in, auditorID)
	require.NoError(t, err)
	assert.Equal(t, "noted", out2.ApprovalQueue[1].HODComments)
	assert.Equal(t, model.StatusApproved, out2.Status)
}

func TestTransitionAuditorFieldsPolicy(t *testing.T) {
	req := procurementRequest(approverA, auditorID)

	finalAmount := decimal.NewFromInt(95)
	in := approveInput()
	in.InternalAuditComments = "amount revised down"
	in.FinalAmount = &finalAmount

	// A regular approver may not set audit fields.
	_, err := Transition(req, approverA, in, auditorID)
	assert.Equal(t, apperr.KindNotAuthorized, apperr.KindOf(err))

	// Audit fields are also refused when no auditor identity is configured.
	req.CurrentApproverIndex = 1
	_, err = Transition(req, auditorID, in, uuid.Nil)
	assert.Equal(t, apperr.KindNotAuthorized, apperr.KindOf(err))

	out, err := Transition(req, auditorID, in, auditorID)
	require.NoError(t, err)
	require.NotNil(t, out.ApprovalQueue[1].FinalAmount)
	assert.True(t, finalAmount.Equal(*out.ApprovalQueue[1].FinalAmount))
	assert.Equal(t, "amount revised down", out.ApprovalQueue[1].InternalAuditComments)
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	req := procurementRequest(approverA, approverB)

	_, err := Transition(req, approverA, approveInput(), auditorID)
	require.NoError(t, err)

	assert.Equal(t, 0, req.CurrentApproverIndex)
	assert.Equal(t, model.StatusPending, req.Status)
	assert.Equal(t, model.StatusPending, req.ApprovalQueue[0].Status)
	assert.Nil(t, req.ApprovalQueue[0].ApprovedAt)
}
