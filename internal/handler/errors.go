package handler

import (
	"errors"
	"net/http"

	"receivables/internal/model"
	"receivables/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// writeError maps domain errors onto HTTP status codes. Policy violations are
// client errors; optimistic-version conflicts are 409 so callers re-read and
// retry; anything unrecognized is internal.
func writeError(c *gin.Context, err error) {
	var (
		notFound     *model.NotFoundError
		ruleNotFound *model.RuleNotFoundError
		ineligible   *model.IneligibleApproverError
		duplicate    *model.DuplicateApproverError
		terminal     *model.ChainAlreadyTerminalError
		notApproved  *model.NotApprovedError
		badTrans     *model.InvalidTransitionError
		emptyBatch   *model.EmptyBatchError
		notOpen      *model.BatchNotOpenError
		conflict     *model.ConcurrentModificationError
		gatewayErr   *model.GatewaySubmissionError
		unknownPay   *model.UnknownPaymentError
	)

	switch {
	case errors.As(err, &notFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
	case errors.As(err, &ruleNotFound):
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
	case errors.As(err, &unknownPay):
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
	case errors.As(err, &ineligible):
		c.JSON(http.StatusForbidden, response.Error(http.StatusForbidden, err.Error()))
	case errors.As(err, &duplicate),
		errors.As(err, &terminal),
		errors.As(err, &notApproved),
		errors.As(err, &badTrans),
		errors.As(err, &notOpen),
		errors.As(err, &conflict):
		c.JSON(http.StatusConflict, response.Error(http.StatusConflict, err.Error()))
	case errors.As(err, &emptyBatch):
		c.JSON(http.StatusUnprocessableEntity, response.Error(http.StatusUnprocessableEntity, err.Error()))
	case errors.As(err, &gatewayErr):
		c.JSON(http.StatusBadGateway, response.Error(http.StatusBadGateway, err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
	}
}
