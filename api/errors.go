package api

import (
	"errors"

	"github.com/blnkfinance/disburse"
	"github.com/blnkfinance/disburse/api/model"
	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/gin-gonic/gin"
)

// respondError writes the {error_code, message} body for err with the status its code maps to.
// Duplicates carry the original disbursement; persistence incidents carry the provider conversation id.
func respondError(c *gin.Context, err error) {
	resp := model.ErrorResponse{
		ErrorCode: string(apierror.ErrInternalServer),
		Message:   "internal server error",
	}

	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		resp.ErrorCode = string(apiErr.Code)
		resp.Message = apiErr.Message
	}
	if existing, ok := disburse.ExistingDisbursement(err); ok {
		resp.Disbursement = existing
	}
	var incident *disburse.PersistenceIncident
	if errors.As(err, &incident) {
		resp.ConversationID = incident.ConversationID
	}

	c.JSON(apierror.MapErrorToHTTPStatus(err), resp)
}

func validationFailure(c *gin.Context, err error) {
	respondError(c, apierror.NewAPIError(apierror.ErrValidation, err.Error(), nil))
}
