package handler

import (
	"net/http"

	"receivables/internal/middleware"
	"receivables/internal/service"
	"receivables/pkg/pagination"
	"receivables/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ApprovalHandler struct {
	approvalService service.ApprovalService
}

func NewApprovalHandler(approvalService service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvalService: approvalService}
}

func (h *ApprovalHandler) RegisterRoutes(router *gin.RouterGroup) {
	approvals := router.Group("/api/approvals")
	{
		approvals.POST("", middleware.RequireRole("admin", "operator"), h.SubmitForApproval)
		approvals.POST("/:id/actions", middleware.RequireRole("approver"), h.RecordAction)
		approvals.POST("/:id/withdraw", middleware.RequireRole("admin", "operator"), h.Withdraw)
		approvals.GET("", middleware.RequireRole("admin", "operator", "approver"), h.List)
		approvals.GET("/:id", middleware.RequireRole("admin", "operator", "approver"), h.Get)
	}
}

// SubmitForApproval opens an approval chain for an invoice
// @Summary      Submit invoice for approval
// @Description  Resolves the payor's tier for the amount, snapshots the chain definition and opens the chain at slot 0. Resubmitting the same invoice returns the existing chain.
// @Tags         approvals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.SubmitForApprovalDTO  true  "Submission payload"
// @Success      201      {object}  response.Response{data=service.ApprovalResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/approvals [post]
func (h *ApprovalHandler) SubmitForApproval(c *gin.Context) {
	var req service.SubmitForApprovalDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	approval, err := h.approvalService.SubmitForApproval(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, approval))
}

// RecordAction records the calling approver's decision on the current slot
// @Summary      Approve or reject the current slot
// @Description  The approver is taken from the bearer token. An approve on the last slot completes the chain; a reject is terminal from any slot.
// @Tags         approvals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                   true  "Approval ID"
// @Param        payload  body      service.RecordActionDTO  true  "Decision payload"
// @Success      200      {object}  response.Response{data=service.ApprovalResponse}
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/approvals/{id}/actions [post]
func (h *ApprovalHandler) RecordAction(c *gin.Context) {
	approvalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid approval id"))
		return
	}

	approverID := middleware.ActorID(c)
	if approverID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Token subject is not a valid approver id"))
		return
	}

	var req service.RecordActionDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	approval, err := h.approvalService.RecordAction(c.Request.Context(), approvalID, approverID, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, approval))
}

// Withdraw cancels a pending approval chain
// @Summary      Withdraw an approval chain
// @Description  Terminal state for invoices cancelled outside the engine. Pending chains only.
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Approval ID"
// @Success      200  {object}  response.Response{data=service.ApprovalResponse}
// @Failure      409  {object}  response.Response
// @Router       /api/approvals/{id}/withdraw [post]
func (h *ApprovalHandler) Withdraw(c *gin.Context) {
	approvalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid approval id"))
		return
	}

	actorID := middleware.ActorID(c)
	approval, err := h.approvalService.Withdraw(c.Request.Context(), approvalID, &actorID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, approval))
}

// List returns approval chains, optionally filtered by status
// @Summary      List approval chains
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        status  query     string  false  "Filter by status (AWAITING_SLOT_n, APPROVED, REJECTED, WITHDRAWN)"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Number of items per page (default 20)"
// @Success      200     {object}  response.Response{data=object}
// @Router       /api/approvals [get]
func (h *ApprovalHandler) List(c *gin.Context) {
	params := pagination.Parse(c)

	filter := service.ApprovalFilter{
		Status: c.Query("status"),
		Page:   params.Page,
		Limit:  params.Limit,
	}

	approvals, total, err := h.approvalService.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paged(http.StatusOK, approvals, params.Meta(total)))
}

// Get returns one approval chain with its action history
// @Summary      Get approval chain
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Approval ID"
// @Success      200  {object}  response.Response{data=service.ApprovalResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/approvals/{id} [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	approvalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid approval id"))
		return
	}

	approval, err := h.approvalService.Get(c.Request.Context(), approvalID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, approval))
}
