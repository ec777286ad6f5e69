package model

import (
	"testing"
	"time"

	"github.com/blnkfinance/disburse"
	"github.com/blnkfinance/disburse/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validDisbursement() CreateDisbursement {
	return CreateDisbursement{
		TenantID:        "partner_1",
		CustomerID:      "cust_1",
		MSISDN:          "254712345678",
		Amount:          decimal.NewFromInt(1500),
		ClientRequestID: "req-1",
	}
}

func TestValidateCreateDisbursement(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CreateDisbursement)
		wantErr string
	}{
		{name: "Valid request", mutate: func(*CreateDisbursement) {}},
		{name: "Tenant mismatch", mutate: func(d *CreateDisbursement) { d.TenantID = "partner_2" }, wantErr: "tenant_id"},
		{name: "Missing customer", mutate: func(d *CreateDisbursement) { d.CustomerID = "" }, wantErr: "customer_id"},
		{name: "Bad msisdn", mutate: func(d *CreateDisbursement) { d.MSISDN = "0712345678" }, wantErr: "msisdn"},
		{name: "Zero amount", mutate: func(d *CreateDisbursement) { d.Amount = decimal.Zero }, wantErr: "amount"},
		{name: "Missing client request id", mutate: func(d *CreateDisbursement) { d.ClientRequestID = "" }, wantErr: "client_request_id"},
		{name: "Priority out of range", mutate: func(d *CreateDisbursement) { d.Priority = 11 }, wantErr: "priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validDisbursement()
			tt.mutate(&req)
			err := req.ValidateCreateDisbursement("partner_1")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestToInputUsesAuthenticatedPartner(t *testing.T) {
	req := validDisbursement()
	req.Channel = "ussd"
	req.MetaData = &model.MetadataEnvelope{Value: model.ChargeMetadata{ChargeAmount: decimal.NewFromInt(30), ChargeType: "withdrawal"}}

	in := req.ToInput("partner_1", "10.0.0.7")
	assert.Equal(t, "partner_1", in.PartnerID)
	assert.Equal(t, "10.0.0.7", in.ClientIP)
	assert.Equal(t, "ussd", in.Channel)
	assert.True(t, in.Amount.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, model.MetadataCharge, in.MetaData.Value.MetadataType())
}

func TestNewDisbursementResponse(t *testing.T) {
	next := time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC)
	result := &disburse.DisbursementResult{
		Disbursement: &model.Disbursement{DisbursementID: "dsb_1", ClientRequestID: "req-1", Status: model.StatusQueued, Amount: decimal.NewFromInt(900)},
		Queued:       true,
		QueueItem:    &model.QueueItem{QueueItemID: "qi_1", NextRetryAt: next},
		Funds:        &disburse.FundsCheck{Known: true, Shortfall: decimal.NewFromInt(400)},
	}

	resp := NewDisbursementResponse(result)
	assert.Equal(t, model.StatusQueued, resp.Status)
	assert.Equal(t, "qi_1", resp.QueueItemID)
	assert.Equal(t, next, *resp.NextRetryAt)
	assert.True(t, resp.Shortfall.Equal(decimal.NewFromInt(400)))
}

func TestValidateStoreCredentials(t *testing.T) {
	creds := StoreCredentials{ConsumerKey: "ck", ConsumerSecret: "cs"}
	assert.ErrorContains(t, creds.ValidateStoreCredentials(), "security_credential")

	creds.SecurityCredential = "sec"
	assert.NoError(t, creds.ValidateStoreCredentials())
	assert.Equal(t, "sec", creds.ToCredentials().SecurityCredential)
}

func TestValidateCreateBlock(t *testing.T) {
	block := CreateBlock{PartnerID: "partner_1", BlockType: "msisdn", Value: "254712345678"}
	assert.ErrorContains(t, block.ValidateCreateBlock(), "block_type")

	block.BlockType = model.BlockCustomer
	assert.NoError(t, block.ValidateCreateBlock())
	assert.Equal(t, model.BlockCustomer, block.ToBlock().BlockType)
}
