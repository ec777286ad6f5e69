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
	"time"

	"github.com/blnkfinance/disburse"
	"github.com/blnkfinance/disburse/model"
	"github.com/shopspring/decimal"
)

type CreateDisbursement struct {
	TenantID        string                  `json:"tenant_id"`
	CustomerID      string                  `json:"customer_id"`
	MSISDN          string                  `json:"msisdn"`
	Amount          decimal.Decimal         `json:"amount"`
	ClientRequestID string                  `json:"client_request_id"`
	Channel         string                  `json:"channel,omitempty"`
	Priority        int                     `json:"priority,omitempty"`
	Remarks         string                  `json:"remarks,omitempty"`
	MetaData        *model.MetadataEnvelope `json:"meta_data,omitempty"`
}

// DisbursementResponse is returned for accepted (200) and queued (202) disbursements.
type DisbursementResponse struct {
	DisbursementID           string                   `json:"disbursement_id"`
	ClientRequestID          string                   `json:"client_request_id"`
	Status                   model.DisbursementStatus `json:"status"`
	Amount                   decimal.Decimal          `json:"amount"`
	ConversationID           string                   `json:"conversation_id,omitempty"`
	OriginatorConversationID string                   `json:"originator_conversation_id,omitempty"`
	QueueItemID              string                   `json:"queue_item_id,omitempty"`
	NextRetryAt              *time.Time               `json:"next_retry_at,omitempty"`
	Shortfall                *decimal.Decimal         `json:"shortfall,omitempty"`
	CreatedAt                time.Time                `json:"created_at"`
}

type StoreCredentials struct {
	ConsumerKey        string `json:"consumer_key"`
	ConsumerSecret     string `json:"consumer_secret"`
	SecurityCredential string `json:"security_credential"`
	InitiatorName      string `json:"initiator_name,omitempty"`
	ShortCode          string `json:"short_code,omitempty"`
}

type CreateBlock struct {
	PartnerID string           `json:"partner_id"`
	BlockType model.BlockType  `json:"block_type"`
	Value     string           `json:"value"`
	Reason    string           `json:"reason"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	ErrorCode      string              `json:"error_code"`
	Message        string              `json:"message"`
	Disbursement   *model.Disbursement `json:"disbursement,omitempty"`
	ConversationID string              `json:"conversation_id,omitempty"`
}

func (d *CreateDisbursement) ToInput(partnerID, clientIP string) disburse.DisbursementInput {
	return disburse.DisbursementInput{
		PartnerID:       partnerID,
		CustomerID:      d.CustomerID,
		MSISDN:          d.MSISDN,
		Amount:          d.Amount,
		ClientIP:        clientIP,
		ClientRequestID: d.ClientRequestID,
		Channel:         d.Channel,
		Priority:        d.Priority,
		Remarks:         d.Remarks,
		MetaData:        d.MetaData,
	}
}

// NewDisbursementResponse flattens an engine result for the wire.
func NewDisbursementResponse(result *disburse.DisbursementResult) DisbursementResponse {
	d := result.Disbursement
	resp := DisbursementResponse{
		DisbursementID:           d.DisbursementID,
		ClientRequestID:          d.ClientRequestID,
		Status:                   d.Status,
		Amount:                   d.Amount,
		ConversationID:           d.ConversationID,
		OriginatorConversationID: d.OriginatorConversationID,
		CreatedAt:                d.CreatedAt,
	}
	if result.QueueItem != nil {
		next := result.QueueItem.NextRetryAt
		resp.QueueItemID = result.QueueItem.QueueItemID
		resp.NextRetryAt = &next
	}
	if result.Funds != nil && result.Funds.Known {
		shortfall := result.Funds.Shortfall
		resp.Shortfall = &shortfall
	}
	return resp
}

func (s *StoreCredentials) ToCredentials() model.PartnerCredentials {
	return model.PartnerCredentials{
		ConsumerKey:        s.ConsumerKey,
		ConsumerSecret:     s.ConsumerSecret,
		SecurityCredential: s.SecurityCredential,
		InitiatorName:      s.InitiatorName,
		ShortCode:          s.ShortCode,
	}
}

func (b *CreateBlock) ToBlock() model.Block {
	return model.Block{
		PartnerID: b.PartnerID,
		BlockType: b.BlockType,
		Value:     b.Value,
		Reason:    b.Reason,
		Amount:    b.Amount,
		ExpiresAt: b.ExpiresAt,
	}
}
