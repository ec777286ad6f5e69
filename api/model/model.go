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
package model

import (
	"errors"

	"github.com/blnkfinance/disburse"
	"github.com/blnkfinance/disburse/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// tenantMatches rejects requests made on behalf of a partner other than the authenticated one.
func tenantMatches(partnerID string) validation.RuleFunc {
	return func(value interface{}) error {
		tenant, _ := value.(string)
		if tenant != partnerID {
			return errors.New("must match the authenticated partner")
		}
		return nil
	}
}

func positiveAmount(value interface{}) error {
	amount, _ := value.(decimal.Decimal)
	if !amount.IsPositive() {
		return errors.New("must be greater than zero")
	}
	return nil
}

// ValidateCreateDisbursement checks the request shape. Amount bounds are enforced by the engine from configuration.
func (d *CreateDisbursement) ValidateCreateDisbursement(partnerID string) error {
	return validation.ValidateStruct(d,
		validation.Field(&d.TenantID, validation.Required, validation.By(tenantMatches(partnerID))),
		validation.Field(&d.CustomerID, validation.Required),
		validation.Field(&d.MSISDN, validation.Required, validation.Match(disburse.MSISDNPattern).Error("must be in the format 254XXXXXXXXX")),
		validation.Field(&d.Amount, validation.By(positiveAmount)),
		validation.Field(&d.ClientRequestID, validation.Required, validation.Length(1, 128)),
		validation.Field(&d.Priority, validation.Min(0), validation.Max(10)),
	)
}

func (s *StoreCredentials) ValidateStoreCredentials() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.ConsumerKey, validation.Required),
		validation.Field(&s.ConsumerSecret, validation.Required),
		validation.Field(&s.SecurityCredential, validation.Required),
	)
}

func (b *CreateBlock) ValidateCreateBlock() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.PartnerID, validation.Required),
		validation.Field(&b.BlockType, validation.Required, validation.In(model.BlockCustomer, model.BlockIP)),
		validation.Field(&b.Value, validation.Required),
	)
}
