package handler

import (
	"net/http"

	"receivables/internal/gateway"
	"receivables/internal/service"
	"receivables/pkg/response"

	"github.com/gin-gonic/gin"
)

// GatewayHandler receives webhook callbacks from the payment processor.
// These routes are not behind the bearer-token middleware; the processor
// authenticates at the network edge (mTLS / allowlist).
type GatewayHandler struct {
	lifecycleService service.LifecycleService
}

func NewGatewayHandler(lifecycleService service.LifecycleService) *GatewayHandler {
	return &GatewayHandler{lifecycleService: lifecycleService}
}

func (h *GatewayHandler) RegisterRoutes(router *gin.RouterGroup) {
	hooks := router.Group("/api/gateway")
	{
		hooks.POST("/notifications", h.StatusNotification)
		hooks.POST("/returns", h.Return)
	}
}

// StatusNotification applies a processing/settled status callback
// @Summary      Gateway status notification
// @Description  Applies processing and settled transitions. Duplicates, out-of-order deliveries and unknown payment ids are acknowledged without effect.
// @Tags         gateway
// @Accept       json
// @Produce      json
// @Param        payload  body      gateway.StatusNotification  true  "Status callback"
// @Success      200      {object}  response.Response
// @Failure      400      {object}  response.Response
// @Router       /api/gateway/notifications [post]
func (h *GatewayHandler) StatusNotification(c *gin.Context) {
	var n gateway.StatusNotification
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid notification payload: "+err.Error()))
		return
	}

	if err := h.lifecycleService.HandleStatusNotification(c.Request.Context(), n); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"acknowledged": true}))
}

// Return applies an ACH return callback
// @Summary      Gateway return notification
// @Description  Moves submitted/processing payments to returned. A return arriving after settlement is recorded as an event without changing the settled status.
// @Tags         gateway
// @Accept       json
// @Produce      json
// @Param        payload  body      gateway.ReturnNotification  true  "Return callback"
// @Success      200      {object}  response.Response
// @Failure      400      {object}  response.Response
// @Router       /api/gateway/returns [post]
func (h *GatewayHandler) Return(c *gin.Context) {
	var n gateway.ReturnNotification
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid return payload: "+err.Error()))
		return
	}

	if err := h.lifecycleService.HandleReturn(c.Request.Context(), n); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"acknowledged": true}))
}
