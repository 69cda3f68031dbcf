package handler

import (
	"net/http"
	"strconv"

	"receivables/internal/middleware"
	"receivables/internal/service"
	"receivables/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type RuleHandler struct {
	ruleService service.RuleService
}

func NewRuleHandler(ruleService service.RuleService) *RuleHandler {
	return &RuleHandler{ruleService: ruleService}
}

func (h *RuleHandler) RegisterRoutes(router *gin.RouterGroup) {
	rules := router.Group("/api/payors/:payorId/approval-rule")
	{
		rules.PUT("", middleware.RequireRole("admin"), h.CreateVersion)
		rules.GET("", middleware.RequireRole("admin", "operator", "approver"), h.GetActive)
		rules.GET("/versions/:version", middleware.RequireRole("admin", "operator", "approver"), h.GetVersion)
	}
}

// CreateVersion installs the next approval rule version for a payor.
// @Summary      Create approval rule version
// @Description  Validates the tier table (contiguous coverage of [0, inf), distinct eligible approvers) and installs it as the next active version
// @Tags         approval-rules
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payorId  path      string                 true  "Payor ID"
// @Param        payload  body      service.CreateRuleDTO  true  "Tier table"
// @Success      201      {object}  response.Response{data=service.RuleResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/payors/{payorId}/approval-rule [put]
func (h *RuleHandler) CreateVersion(c *gin.Context) {
	payorID, err := uuid.Parse(c.Param("payorId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid payor id"))
		return
	}

	var req service.CreateRuleDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	actorID := middleware.ActorID(c)
	rule, err := h.ruleService.CreateVersion(c.Request.Context(), payorID, req, &actorID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, rule))
}

// GetActive returns the payor's currently active rule version
// @Summary      Get active approval rule
// @Tags         approval-rules
// @Security     BearerAuth
// @Produce      json
// @Param        payorId  path      string  true  "Payor ID"
// @Success      200      {object}  response.Response{data=service.RuleResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/payors/{payorId}/approval-rule [get]
func (h *RuleHandler) GetActive(c *gin.Context) {
	payorID, err := uuid.Parse(c.Param("payorId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid payor id"))
		return
	}

	rule, err := h.ruleService.GetActive(c.Request.Context(), payorID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, rule))
}

// GetVersion returns a specific historical rule version
// @Summary      Get approval rule by version
// @Tags         approval-rules
// @Security     BearerAuth
// @Produce      json
// @Param        payorId  path      string  true  "Payor ID"
// @Param        version  path      int     true  "Rule version"
// @Success      200      {object}  response.Response{data=service.RuleResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/payors/{payorId}/approval-rule/versions/{version} [get]
func (h *RuleHandler) GetVersion(c *gin.Context) {
	payorID, err := uuid.Parse(c.Param("payorId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid payor id"))
		return
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid rule version"))
		return
	}

	rule, err := h.ruleService.GetVersion(c.Request.Context(), payorID, version)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, rule))
}
