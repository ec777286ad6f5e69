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

package disburse

import (
	"errors"
	"fmt"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/internal/provider"
	"github.com/blnkfinance/disburse/model"
)

// PersistenceIncident describes a disbursement the provider accepted but that could not be recorded.
// It requires manual reconciliation against the provider using the conversation ids.
type PersistenceIncident struct {
	DisbursementID           string
	PartnerID                string
	ClientRequestID          string
	ConversationID           string
	OriginatorConversationID string
	Err                      error
}

func (p *PersistenceIncident) Error() string {
	return fmt.Sprintf("disbursement %s accepted by provider (conversation %s) but not persisted: %v",
		p.DisbursementID, p.ConversationID, p.Err)
}

func (p *PersistenceIncident) Unwrap() error { return p.Err }

func duplicateError(message string, existing *model.Disbursement) error {
	if existing == nil {
		return apierror.NewAPIError(apierror.ErrDuplicateRequest, message, nil)
	}
	return apierror.NewAPIError(apierror.ErrDuplicateRequest, message, existing)
}

func validationError(err error) error {
	return apierror.NewAPIError(apierror.ErrValidation, err.Error(), nil)
}

// providerError maps gateway failures onto PROVIDER_ERROR with a message that says whether a retry is safe.
func providerError(stage string, err error) error {
	var rejection *provider.RejectionError
	switch {
	case errors.As(err, &rejection):
		return apierror.NewAPIError(apierror.ErrProvider, fmt.Sprintf("%s rejected by provider: %s", stage, rejection.Description), err)
	case errors.Is(err, provider.ErrMalformedResponse):
		return apierror.NewAPIError(apierror.ErrProvider, fmt.Sprintf("%s failed: unreadable provider response", stage), err)
	case errors.Is(err, provider.ErrNetwork):
		return apierror.NewAPIError(apierror.ErrProvider, fmt.Sprintf("%s failed: provider unreachable, retry with the same client_request_id", stage), err)
	default:
		return apierror.NewAPIError(apierror.ErrProvider, fmt.Sprintf("%s failed", stage), err)
	}
}

// ExistingDisbursement returns the original record carried by a DUPLICATE_REQUEST error.
func ExistingDisbursement(err error) (*model.Disbursement, bool) {
	var apiErr apierror.APIError
	if !errors.As(err, &apiErr) {
		return nil, false
	}
	existing, ok := apiErr.Details.(*model.Disbursement)
	return existing, ok && existing != nil
}
