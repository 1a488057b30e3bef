package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"portal/internal/middleware"
	"portal/internal/model"
	"portal/internal/service"
	"portal/pkg/pagination"
	"portal/pkg/response"

	"github.com/gin-gonic/gin"
)

type RequestHandler struct {
	workflowService service.WorkflowService
}

func NewRequestHandler(workflowService service.WorkflowService) *RequestHandler {
	return &RequestHandler{workflowService: workflowService}
}

func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	anyRole := middleware.RequireRole(model.RoleAdmin, model.RoleApprover, model.RoleRequester)
	adminOnly := middleware.RequireRole(model.RoleAdmin)

	requests := router.Group("/api/requests")
	{
		requests.POST("", anyRole, h.Submit)
		requests.GET("", anyRole, h.ListRequests)
		requests.GET("/:id", anyRole, h.GetRequest)
		requests.POST("/:id/actions", anyRole, h.ApplyAction)
		requests.PUT("/:id/resubmit", adminOnly, h.Resubmit)
		requests.PUT("/:id/resolve", adminOnly, h.Resolve)
	}
}

// Submit creates a new request and starts its approval workflow
// @Summary      Submit request
// @Description  Creates a request with its approval queue; accepts JSON or multipart form with an optional attachment
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.SubmitRequestDTO  true  "Request draft"
// @Success      201      {object}  response.Response{data=service.RequestResponse}
// @Failure      422      {object}  response.Response
// @Router       /api/requests [post]
func (h *RequestHandler) Submit(c *gin.Context) {
	req, attachment, err := h.parseDraft(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.workflowService.Submit(c.Request.Context(), middleware.ActorID(c), req, attachment)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListRequests returns requests, optionally filtered by status and type
// @Summary      List requests
// @Description  Retrieves a paginated request list, newest first. Requesters only see their own requests.
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        status  query     string  false  "Filter by status"
// @Param        type    query     string  false  "Filter by request type"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Items per page (default 20)"
// @Success      200     {object}  response.Response{data=object}
// @Router       /api/requests [get]
func (h *RequestHandler) ListRequests(c *gin.Context) {
	params := pagination.Parse(c)

	filter := service.RequestListFilter{
		Status:      c.Query("status"),
		RequestType: c.Query("type"),
		Page:        params.Page,
		Limit:       params.Limit,
	}
	if middleware.ActorRole(c) == model.RoleRequester {
		filter.RequesterID = middleware.ActorID(c)
	}

	requests, total, err := h.workflowService.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"requests":   requests,
		"pagination": pagination.NewMeta(params, total),
	}))
}

// GetRequest returns one request with its full approval queue
// @Summary      Get request
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.RequestResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id} [get]
func (h *RequestHandler) GetRequest(c *gin.Context) {
	result, err := h.workflowService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ApplyAction applies an approve/reject/send-back action from the current approver
// @Summary      Apply queue action
// @Description  The acting identity comes from the token; only the current approver's action is accepted. A 409 means another approver acted first; reload and retry.
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string             true  "Request ID"
// @Param        payload  body      service.ActionDTO  true  "Action"
// @Success      200      {object}  response.Response{data=service.RequestResponse}
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/requests/{id}/actions [post]
func (h *RequestHandler) ApplyAction(c *gin.Context) {
	var req service.ActionDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.workflowService.Apply(c.Request.Context(), c.Param("id"), middleware.ActorID(c), req)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Resubmit restarts a sent-back request with fresh details and approvers
// @Summary      Resubmit request
// @Description  Administrator-only. Replaces details, attachment and queue membership, and restarts the workflow from the first approver.
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                      true  "Request ID"
// @Param        payload  body      service.ResubmitRequestDTO  true  "Updated draft"
// @Success      200      {object}  response.Response{data=service.RequestResponse}
// @Failure      403      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/requests/{id}/resubmit [put]
func (h *RequestHandler) Resubmit(c *gin.Context) {
	var req service.ResubmitRequestDTO
	var attachment *service.Attachment
	var err error

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if err = json.Unmarshal([]byte(c.PostForm("payload")), &req); err == nil {
			attachment, err = h.readAttachment(c)
		}
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.workflowService.Resubmit(c.Request.Context(), c.Param("id"), middleware.ActorID(c), middleware.ActorRole(c), req, attachment)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Resolve completes an ad-hoc item request directly
// @Summary      Resolve ad-hoc item request
// @Description  Administrator-only. Marks an ad-hoc item request COMPLETED without queue interaction.
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string              true  "Request ID"
// @Param        payload  body      service.ResolveDTO  true  "New status"
// @Success      200      {object}  response.Response{data=service.RequestResponse}
// @Failure      403      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/requests/{id}/resolve [put]
func (h *RequestHandler) Resolve(c *gin.Context) {
	var req service.ResolveDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.workflowService.ResolveAdHocItem(c.Request.Context(), c.Param("id"), middleware.ActorID(c), middleware.ActorRole(c), req)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// parseDraft accepts either a JSON body or a multipart form carrying a
// "payload" JSON field plus an optional "attachment" file.
func (h *RequestHandler) parseDraft(c *gin.Context) (service.SubmitRequestDTO, *service.Attachment, error) {
	var req service.SubmitRequestDTO

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if err := json.Unmarshal([]byte(c.PostForm("payload")), &req); err != nil {
			return req, nil, err
		}
		attachment, err := h.readAttachment(c)
		return req, attachment, err
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		return req, nil, err
	}
	return req, nil, nil
}

func (h *RequestHandler) readAttachment(c *gin.Context) (*service.Attachment, error) {
	fileHeader, err := c.FormFile("attachment")
	if err != nil {
		// Attachment is optional
		return nil, nil
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return &service.Attachment{Filename: fileHeader.Filename, Data: data}, nil
}
