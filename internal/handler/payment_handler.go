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

// ResubmitRequest carries the corrected bank account reference for a returned payment.
type ResubmitRequest struct {
	BankAccountRef string `json:"bank_account_ref" binding:"required"`
}

// FailRequest closes out a returned payment that will not be retried.
type FailRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type PaymentHandler struct {
	lifecycleService   service.LifecycleService
	originationService service.OriginationService
}

func NewPaymentHandler(lifecycleService service.LifecycleService, originationService service.OriginationService) *PaymentHandler {
	return &PaymentHandler{
		lifecycleService:   lifecycleService,
		originationService: originationService,
	}
}

func (h *PaymentHandler) RegisterRoutes(router *gin.RouterGroup) {
	payments := router.Group("/api/payments")
	{
		payments.GET("", middleware.RequireRole("admin", "operator"), h.List)
		payments.GET("/:id", middleware.RequireRole("admin", "operator"), h.Get)
		payments.POST("/:id/resubmit", middleware.RequireRole("admin", "operator"), h.Resubmit)
		payments.POST("/:id/fail", middleware.RequireRole("admin", "operator"), h.Fail)
	}
}

// List returns payments, optionally filtered by status
// @Summary      List payments
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        status  query     string  false  "Filter by status (ORIGINATED, SUBMITTED, PROCESSING, SETTLED, RETURNED, FAILED)"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Number of items per page (default 20)"
// @Success      200     {object}  response.Response{data=object}
// @Router       /api/payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	params := pagination.Parse(c)

	payments, total, err := h.lifecycleService.List(c.Request.Context(), c.Query("status"), params.Page, params.Limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paged(http.StatusOK, payments, params.Meta(total)))
}

// Get returns one payment with its full event history
// @Summary      Get payment
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Payment ID"
// @Success      200  {object}  response.Response{data=service.PaymentResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/payments/{id} [get]
func (h *PaymentHandler) Get(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid payment id"))
		return
	}

	payment, err := h.lifecycleService.Get(c.Request.Context(), paymentID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, payment))
}

// Resubmit originates a replacement for a returned payment
// @Summary      Resubmit a returned payment
// @Description  Creates a new payment against the same invoice with a corrected bank account reference. The original stays returned; the replacement links back via supersedes_id and re-enters batching.
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string           true  "Returned payment ID"
// @Param        payload  body      ResubmitRequest  true  "Replacement bank account reference"
// @Success      201      {object}  response.Response{data=service.PaymentResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/payments/{id}/resubmit [post]
func (h *PaymentHandler) Resubmit(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid payment id"))
		return
	}

	var req ResubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	actorID := middleware.ActorID(c)
	payment, err := h.originationService.Resubmit(c.Request.Context(), paymentID, req.BankAccountRef, &actorID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, payment))
}

// Fail marks a returned payment as permanently failed
// @Summary      Fail a returned payment
// @Description  Operator decision that the payment will not be retried. Only returned payments can be failed.
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string       true  "Returned payment ID"
// @Param        payload  body      FailRequest  true  "Failure reason"
// @Success      200      {object}  response.Response{data=service.PaymentResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/payments/{id}/fail [post]
func (h *PaymentHandler) Fail(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid payment id"))
		return
	}

	var req FailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	actorID := middleware.ActorID(c)
	payment, err := h.lifecycleService.Fail(c.Request.Context(), paymentID, req.Reason, &actorID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, payment))
}
