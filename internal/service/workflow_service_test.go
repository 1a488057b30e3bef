package service

import (
	"context"
	"sync"
	"testing"

	"portal/internal/engine"
	"portal/internal/model"
	"portal/internal/repository"
	"portal/pkg/apperr"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- in-memory fakes ---

type fakeRequestRepo struct {
	mu           sync.Mutex
	requests     map[uuid.UUID]model.Request
	beforeUpdate func() // test hook, runs before the guard check
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{requests: map[uuid.UUID]model.Request{}}
}

func (f *fakeRequestRepo) Create(_ context.Context, req *model.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	f.requests[req.ID] = req.Clone()
	return nil
}

func (f *fakeRequestRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, apperr.NotFound("request %s not found", id)
	}
	out := req.Clone()
	return &out, nil
}

func (f *fakeRequestRepo) ListAll(_ context.Context) ([]model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Request, 0, len(f.requests))
	for _, req := range f.requests {
		out = append(out, req.Clone())
	}
	return out, nil
}

func (f *fakeRequestRepo) List(_ context.Context, _ repository.RequestFilter) ([]model.Request, int64, error) {
	all, _ := f.ListAll(context.Background())
	return all, int64(len(all)), nil
}

func (f *fakeRequestRepo) ConditionalUpdate(_ context.Context, expectedIndex int, expectedStatus string, updated *model.Request) (*model.Request, error) {
	if f.beforeUpdate != nil {
		hook := f.beforeUpdate
		f.beforeUpdate = nil
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.requests[updated.ID]
	if !ok {
		return nil, apperr.NotFound("request %s not found", updated.ID)
	}
	if stored.CurrentApproverIndex != expectedIndex || stored.Status != expectedStatus {
		return nil, apperr.StaleState("request %s changed since it was read", updated.ID)
	}
	f.requests[updated.ID] = updated.Clone()
	out := updated.Clone()
	return &out, nil
}

type fakeUserRepo struct {
	byID    map[string]*model.User
	byEmail map[string]*model.User
}

func newFakeUserRepo(users ...*model.User) *fakeUserRepo {
	f := &fakeUserRepo{byID: map[string]*model.User{}, byEmail: map[string]*model.User{}}
	for _, u := range users {
		f.byID[u.ID.String()] = u
		f.byEmail[u.Email] = u
	}
	return f
}

func (f *fakeUserRepo) Create(_ context.Context, _ *model.User) error { return nil }

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, apperr.NotFound("user %s not found", id)
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, apperr.NotFound("user with email %s not found", email)
}

func (f *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return nil, apperr.NotFound("user %s not found", username)
}

func (f *fakeUserRepo) List(_ context.Context, _, _ int) ([]model.User, int64, error) {
	return nil, 0, nil
}

func (f *fakeUserRepo) Update(_ context.Context, _ *model.User) error { return nil }
func (f *fakeUserRepo) Delete(_ context.Context, _ string) error      { return nil }

type fakeAttachmentStore struct {
	puts int
}

func (f *fakeAttachmentStore) Put(_ context.Context, filename string, _ []byte) (string, error) {
	f.puts++
	return "http://localhost:8080/uploads/" + filename, nil
}

type fakeBroadcaster struct {
	events []string
}

func (f *fakeBroadcaster) RequestChanged(event string, _ uuid.UUID, _ string) {
	f.events = append(f.events, event)
}

// --- fixtures ---

const auditorEmail = "auditor@portal.local"

var (
	requester = &model.User{ID: uuid.New(), Username: "kmensah", DisplayName: "K. Mensah", Email: "kmensah@portal.local", Role: model.RoleRequester}
	userA     = &model.User{ID: uuid.New(), Username: "aboateng", DisplayName: "A. Boateng", Email: "aboateng@portal.local", Role: model.RoleApprover}
	userB     = &model.User{ID: uuid.New(), Username: "bosei", DisplayName: "B. Osei", Email: "bosei@portal.local", Role: model.RoleApprover}
	userC     = &model.User{ID: uuid.New(), Username: "cadjei", DisplayName: "C. Adjei", Email: "cadjei@portal.local", Role: model.RoleApprover}
	admin     = &model.User{ID: uuid.New(), Username: "admin", DisplayName: "Portal Admin", Email: "admin@portal.local", Role: model.RoleAdmin}
	auditor   = &model.User{ID: uuid.New(), Username: "auditor", DisplayName: "Internal Auditor", Email: auditorEmail, Role: model.RoleApprover}
)

func newTestService(t *testing.T) (WorkflowService, *fakeRequestRepo, *fakeBroadcaster) {
	t.Helper()
	requests := newFakeRequestRepo()
	users := newFakeUserRepo(requester, userA, userB, userC, admin, auditor)
	hub := &fakeBroadcaster{}
	svc := NewWorkflowService(requests, users, &fakeAttachmentStore{}, hub, auditorEmail)
	return svc, requests, hub
}

func procurementDraft(approvers ...*model.User) SubmitRequestDTO {
	ids := make([]string, 0, len(approvers))
	for _, u := range approvers {
		ids = append(ids, u.ID.String())
	}
	return SubmitRequestDTO{
		RequestType: model.RequestTypeProcurement,
		Details: model.RequestDetails{
			Procurement: &model.ProcurementDetails{
				Description: "laptops for the records office",
				Amount:      decimal.NewFromInt(4200),
			},
		},
		ApproverIDs:        ids,
		RequesterSignature: "sig-requester",
	}
}

func approveAction() ActionDTO {
	return ActionDTO{Action: engine.ActionApprove, Signature: "sig-approver"}
}

// --- tests ---

func TestSubmitInitializesWorkflowState(t *testing.T) {
	svc, _, hub := newTestService(t)

	resp, err := svc.Submit(context.Background(), requester.ID.String(), procurementDraft(userA, userB), nil)
	require.NoError(t, err)

	assert.Equal(t, model.StatusPending, resp.Status)
	assert.Equal(t, 0, resp.CurrentApproverIndex)
	require.Len(t, resp.ApprovalQueue, 2)
	for _, entry := range resp.ApprovalQueue {
		assert.Equal(t, model.StatusPending, entry.Status)
	}
	assert.Equal(t, requester.DisplayName, resp.RequesterName)
	assert.Equal(t, []string{"REQUEST_SUBMITTED"}, hub.events)
}

func TestSubmitRejectsMissingSignatureAndEmptyQueue(t *testing.T) {
	svc, _, _ := newTestService(t)

	draft := procurementDraft(userA)
	draft.RequesterSignature = ""
	_, err := svc.Submit(context.Background(), requester.ID.String(), draft, nil)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	draft = procurementDraft()
	_, err = svc.Submit(context.Background(), requester.ID.String(), draft, nil)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestSubmitAdHocItemForcesEmptyQueue(t *testing.T) {
	svc, _, _ := newTestService(t)

	draft := SubmitRequestDTO{
		RequestType: model.RequestTypeAdHocItem,
		Details: model.RequestDetails{
			AdHocItem: &model.AdHocItemDetails{ItemName: "projector bulb", Quantity: 2},
		},
		// Supplied approvers are ignored for ad-hoc items.
		ApproverIDs:        []string{userA.ID.String()},
		RequesterSignature: "sig-requester",
	}

	resp, err := svc.Submit(context.Background(), requester.ID.String(), draft, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, resp.Status)
	assert.Empty(t, resp.ApprovalQueue)
}

func TestSubmitRecomputesStoreRequisitionGrandTotal(t *testing.T) {
	svc, _, _ := newTestService(t)

	draft := SubmitRequestDTO{
		RequestType: model.RequestTypeStoreRequisition,
		Details: model.RequestDetails{
			StoreRequisition: &model.StoreRequisitionDetails{
				Items: []model.RequisitionItem{
					{Name: "A4 paper", Quantity: 10, UnitPrice: decimal.NewFromInt(5)},
					{Name: "staplers", Quantity: 3, UnitPrice: decimal.NewFromInt(7)},
				},
				// Client-sent figure is never trusted.
				GrandTotal: decimal.NewFromInt(9999),
			},
		},
		ApproverIDs:        []string{userA.ID.String()},
		RequesterSignature: "sig-requester",
	}

	resp, err := svc.Submit(context.Background(), requester.ID.String(), draft, nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Details.StoreRequisition)
	assert.True(t, decimal.NewFromInt(71).Equal(resp.Details.StoreRequisition.GrandTotal))
	assert.True(t, decimal.NewFromInt(50).Equal(resp.Details.StoreRequisition.Items[0].Total))
}

func TestApplyWalksQueueThroughSendBackAndResubmit(t *testing.T) {
	svc, _, hub := newTestService(t)
	ctx := context.Background()

	// 3-entry queue [A, B, C] on a procurement request.
	resp, err := svc.Submit(ctx, requester.ID.String(), procurementDraft(userA, userB, userC), nil)
	require.NoError(t, err)
	id := resp.ID

	// A approves: index 1, still pending.
	resp, err = svc.Apply(ctx, id, userA.ID.String(), approveAction())
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, resp.Status)
	assert.Equal(t, 1, resp.CurrentApproverIndex)
	assert.Contains(t, hub.events, "REQUEST_UPDATED")

	// B sends back with a comment.
	sendBack := ActionDTO{Action: engine.ActionSendBack, Signature: "sig-b", Comments: "fix budget"}
	resp, err = svc.Apply(ctx, id, userB.ID.String(), sendBack)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSentBack, resp.Status)
	assert.Equal(t, 1, resp.CurrentApproverIndex)

	// Administrator resubmits with queue [A, C].
	resubmit := ResubmitRequestDTO{
		Details:            procurementDraft().Details,
		ApproverIDs:        []string{userA.ID.String(), userC.ID.String()},
		RequesterSignature: "sig-requester-2",
	}
	resp, err = svc.Resubmit(ctx, id, admin.ID.String(), model.RoleAdmin, resubmit, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, resp.Status)
	assert.Equal(t, 0, resp.CurrentApproverIndex)
	require.Len(t, resp.ApprovalQueue, 2)
	assert.Equal(t, model.StatusPending, resp.ApprovalQueue[0].Status)
	assert.Equal(t, model.StatusPending, resp.ApprovalQueue[1].Status)

	// A approves, then C approves: request fully approved.
	resp, err = svc.Apply(ctx, id, userA.ID.String(), approveAction())
	require.NoError(t, err)
	assert.Equal(t, 1, resp.CurrentApproverIndex)
	assert.Equal(t, model.StatusPending, resp.Status)

	resp, err = svc.Apply(ctx, id, userC.ID.String(), approveAction())
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, resp.Status)
	assert.Equal(t, 2, resp.CurrentApproverIndex)
}

func TestApplyConcurrentApproversOneWinsOneStale(t *testing.T) {
	svc, requests, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, requester.ID.String(), procurementDraft(userA, userB), nil)
	require.NoError(t, err)
	id := resp.ID

	// The loser reads the request, then the winner's write lands before the
	// loser's conditional update reaches the store.
	requests.beforeUpdate = func() {
		reqID := uuid.MustParse(id)
		stored, findErr := requests.FindByID(ctx, reqID)
		require.NoError(t, findErr)
		next, trErr := engine.Transition(*stored, userA.ID, engine.ActionInput{
			Action:    engine.ActionApprove,
			Signature: "sig-winner",
		}, uuid.Nil)
		require.NoError(t, trErr)
		_, upErr := requests.ConditionalUpdate(ctx, stored.CurrentApproverIndex, stored.Status, &next)
		require.NoError(t, upErr)
	}

	_, err = svc.Apply(ctx, id, userA.ID.String(), approveAction())
	require.Error(t, err)
	assert.Equal(t, apperr.KindStaleState, apperr.KindOf(err))

	// Exactly one transition was accepted: the index advanced by 1, not 2.
	final, err := requests.FindByID(ctx, uuid.MustParse(id))
	require.NoError(t, err)
	assert.Equal(t, 1, final.CurrentApproverIndex)
	assert.Equal(t, model.StatusPending, final.Status)
}

func TestApplyAuditorFieldsRequireResolvedAuditor(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, requester.ID.String(), procurementDraft(auditor), nil)
	require.NoError(t, err)

	finalAmount := decimal.NewFromInt(4000)
	action := approveAction()
	action.InternalAuditComments = "reduced to fit quarter budget"
	action.FinalAmount = &finalAmount

	out, err := svc.Apply(ctx, resp.ID, auditor.ID.String(), action)
	require.NoError(t, err)
	require.NotNil(t, out.ApprovalQueue[0].FinalAmount)
	assert.Equal(t, "4000.00", *out.ApprovalQueue[0].FinalAmount)
}

func TestResubmitGuards(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, requester.ID.String(), procurementDraft(userA), nil)
	require.NoError(t, err)

	resubmit := ResubmitRequestDTO{
		Details:            procurementDraft().Details,
		ApproverIDs:        []string{userA.ID.String()},
		RequesterSignature: "sig",
	}

	// Non-admin actors are rejected outright.
	_, err = svc.Resubmit(ctx, resp.ID, userA.ID.String(), model.RoleApprover, resubmit, nil)
	assert.Equal(t, apperr.KindNotAuthorized, apperr.KindOf(err))

	// A pending request cannot be resubmitted.
	_, err = svc.Resubmit(ctx, resp.ID, admin.ID.String(), model.RoleAdmin, resubmit, nil)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestResolveAdHocItem(t *testing.T) {
	svc, _, hub := newTestService(t)
	ctx := context.Background()

	draft := SubmitRequestDTO{
		RequestType: model.RequestTypeAdHocItem,
		Details: model.RequestDetails{
			AdHocItem: &model.AdHocItemDetails{ItemName: "whiteboard", Quantity: 1},
		},
		RequesterSignature: "sig-requester",
	}
	resp, err := svc.Submit(ctx, requester.ID.String(), draft, nil)
	require.NoError(t, err)

	// Only COMPLETED is a valid resolution.
	_, err = svc.ResolveAdHocItem(ctx, resp.ID, admin.ID.String(), model.RoleAdmin, ResolveDTO{NewStatus: model.StatusApproved})
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	// Only admins may resolve.
	_, err = svc.ResolveAdHocItem(ctx, resp.ID, userA.ID.String(), model.RoleApprover, ResolveDTO{NewStatus: model.StatusCompleted})
	assert.Equal(t, apperr.KindNotAuthorized, apperr.KindOf(err))

	out, err := svc.ResolveAdHocItem(ctx, resp.ID, admin.ID.String(), model.RoleAdmin, ResolveDTO{NewStatus: model.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, out.Status)
	assert.Contains(t, hub.events, "REQUEST_RESOLVED")

	// Resolving twice is rejected.
	_, err = svc.ResolveAdHocItem(ctx, resp.ID, admin.ID.String(), model.RoleAdmin, ResolveDTO{NewStatus: model.StatusCompleted})
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestResolveRejectsNonAdHocRequests(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, requester.ID.String(), procurementDraft(userA), nil)
	require.NoError(t, err)

	_, err = svc.ResolveAdHocItem(ctx, resp.ID, admin.ID.String(), model.RoleAdmin, ResolveDTO{NewStatus: model.StatusCompleted})
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}
