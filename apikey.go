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
	"context"
	"time"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
)

// AuthenticatePartner resolves the partner owning an API key. Only the key digest is ever looked up.
//
// Parameters:
// - ctx: The context for the operation
// - key: The raw API key presented by the caller
//
// Returns:
// - *model.Partner: The partner the key belongs to
// - error: AUTHENTICATION_ERROR when the key is empty or unknown
func (d *Disburse) AuthenticatePartner(ctx context.Context, key string) (*model.Partner, error) {
	if key == "" {
		return nil, apierror.NewAPIError(apierror.ErrAuthentication, "API key is required", nil)
	}
	partner, err := d.datasource.GetPartnerByAPIKeyHash(ctx, model.HashAPIKey(key))
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, apierror.NewAPIError(apierror.ErrAuthentication, "Invalid API key", nil)
		}
		return nil, err
	}
	return partner, nil
}

// GetDisbursement returns a disbursement owned by the partner. Records of other partners are reported as missing.
func (d *Disburse) GetDisbursement(ctx context.Context, partnerID, id string) (*model.Disbursement, error) {
	disbursement, err := d.datasource.GetDisbursement(ctx, id)
	if err != nil {
		return nil, err
	}
	if disbursement.PartnerID != partnerID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Disbursement not found", nil)
	}
	return disbursement, nil
}

// CreateBlock stores a customer or IP block that the guard enforces for every later request, trusted or not.
//
// Parameters:
// - ctx: The context for the operation
// - block: The block to create; BlockID and CreatedAt are assigned here
//
// Returns:
// - *model.Block: The stored block
// - error: VALIDATION_ERROR for an incomplete or already expired block
func (d *Disburse) CreateBlock(ctx context.Context, block model.Block) (*model.Block, error) {
	now := d.now()
	err := validation.ValidateStruct(&block,
		validation.Field(&block.PartnerID, validation.Required),
		validation.Field(&block.BlockType, validation.Required, validation.In(model.BlockCustomer, model.BlockIP)),
		validation.Field(&block.Value, validation.Required),
		validation.Field(&block.ExpiresAt, validation.By(func(value interface{}) error {
			expiresAt, _ := value.(*time.Time)
			if expiresAt != nil && !expiresAt.After(now) {
				return validation.NewError("validation_expired", "must be in the future")
			}
			return nil
		})),
	)
	if err != nil {
		return nil, validationError(err)
	}

	block.BlockID = model.GenerateUUIDWithSuffix("blk")
	block.CreatedAt = now
	if err := d.datasource.CreateBlock(ctx, &block); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"partner_id": block.PartnerID,
		"block_type": block.BlockType,
		"block_id":   block.BlockID,
	}).Info("block created")
	return &block, nil
}
