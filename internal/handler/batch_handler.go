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

type BatchHandler struct {
	originationService service.OriginationService
}

func NewBatchHandler(originationService service.OriginationService) *BatchHandler {
	return &BatchHandler{originationService: originationService}
}

func (h *BatchHandler) RegisterRoutes(router *gin.RouterGroup) {
	batches := router.Group("/api/batches")
	{
		batches.GET("", middleware.RequireRole("admin", "operator"), h.List)
		batches.GET("/:id", middleware.RequireRole("admin", "operator"), h.Get)
		batches.POST("/:id/close", middleware.RequireRole("admin", "operator"), h.Close)
		batches.POST("/:id/submit", middleware.RequireRole("admin", "operator"), h.Submit)
	}
}

// List returns payment batches, optionally filtered by status
// @Summary      List payment batches
// @Tags         batches
// @Security     BearerAuth
// @Produce      json
// @Param        status  query     string  false  "Filter by status (OPEN, CLOSED, SUBMITTED)"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Number of items per page (default 20)"
// @Success      200     {object}  response.Response{data=object}
// @Router       /api/batches [get]
func (h *BatchHandler) List(c *gin.Context) {
	params := pagination.Parse(c)

	batches, total, err := h.originationService.ListBatches(c.Request.Context(), c.Query("status"), params.Page, params.Limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paged(http.StatusOK, batches, params.Meta(total)))
}

// Get returns one batch with its member payments
// @Summary      Get payment batch
// @Tags         batches
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Batch ID"
// @Success      200  {object}  response.Response{data=service.BatchResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/batches/{id} [get]
func (h *BatchHandler) Get(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid batch id"))
		return
	}

	batch, err := h.originationService.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, batch))
}

// Close freezes the batch's membership ahead of submission
// @Summary      Close a payment batch
// @Description  No payments can be added after close. Closing an empty batch is rejected.
// @Tags         batches
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Batch ID"
// @Success      200  {object}  response.Response{data=gateway.BatchPayload}
// @Failure      409  {object}  response.Response
// @Failure      422  {object}  response.Response
// @Router       /api/batches/{id}/close [post]
func (h *BatchHandler) Close(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid batch id"))
		return
	}

	actorID := middleware.ActorID(c)
	payload, err := h.originationService.CloseBatch(c.Request.Context(), batchID, &actorID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, payload))
}

// Submit hands the closed batch to the payment gateway
// @Summary      Submit a payment batch
// @Description  On gateway acceptance the batch and all member payments move to submitted in one step. On gateway failure nothing changes and the batch stays retryable. Submitting an already-submitted batch returns the existing outcome.
// @Tags         batches
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Batch ID"
// @Success      200  {object}  response.Response{data=service.BatchResponse}
// @Failure      409  {object}  response.Response
// @Failure      502  {object}  response.Response
// @Router       /api/batches/{id}/submit [post]
func (h *BatchHandler) Submit(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid batch id"))
		return
	}

	actorID := middleware.ActorID(c)
	batch, err := h.originationService.SubmitBatch(c.Request.Context(), batchID, &actorID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, batch))
}
