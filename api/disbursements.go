/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"net/http"

	"github.com/blnkfinance/disburse/api/middleware"
	"github.com/blnkfinance/disburse/api/model"
	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/gin-gonic/gin"
)

// CreateDisbursement handles a partner's request to pay a customer.
// It binds and validates the request, then hands it to the engine on behalf of the authenticated partner.
//
// Parameters:
// - c: The Gin context containing the request and response.
//
// Responses:
// - 200 OK: The provider accepted the payment; the final result arrives by callback.
// - 202 Accepted: The partner lacks funds and the disbursement was queued for retry.
// - 400/401/402/409/500/502: An {error_code, message} body.
func (a Api) CreateDisbursement(c *gin.Context) {
	partner, ok := middleware.PartnerFromContext(c)
	if !ok {
		respondError(c, apierror.NewAPIError(apierror.ErrAuthentication, "partner authentication required", nil))
		return
	}

	var req model.CreateDisbursement
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailure(c, err)
		return
	}
	if err := req.ValidateCreateDisbursement(partner.PartnerID); err != nil {
		validationFailure(c, err)
		return
	}

	result, err := a.disburse.Disburse(c.Request.Context(), req.ToInput(partner.PartnerID, c.ClientIP()))
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	c.JSON(status, model.NewDisbursementResponse(result))
}

// GetDisbursement returns one of the authenticated partner's disbursements.
//
// Responses:
// - 200 OK: The disbursement.
// - 404 Not Found: No such disbursement for this partner.
func (a Api) GetDisbursement(c *gin.Context) {
	partner, ok := middleware.PartnerFromContext(c)
	if !ok {
		respondError(c, apierror.NewAPIError(apierror.ErrAuthentication, "partner authentication required", nil))
		return
	}

	disbursement, err := a.disburse.GetDisbursement(c.Request.Context(), partner.PartnerID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, disbursement)
}
