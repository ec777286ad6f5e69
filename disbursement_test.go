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
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/internal/notification"
	"github.com/blnkfinance/disburse/model"
	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// expectAllowedPath wires the datasource for a fresh, rule-free, funded request.
func expectAllowedPath(env *testEngine, partner *model.Partner) {
	env.ds.On("GetPartner", mock.Anything, partner.PartnerID).Return(partner, nil)
	env.ds.On("GetEnabledRules", mock.Anything, partner.PartnerID).Return([]model.DuplicatePreventionRule{}, nil)
	env.ds.On("GetActiveBlocks", mock.Anything, partner.PartnerID, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	env.ds.On("GetLatestCompletedSample", mock.Anything, partner.PartnerID).Return(nil, notFound())
}

func TestDisburse_Accepted(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()
	in := testInput(partner, 1500)
	expectAllowedPath(env, partner)
	env.ds.On("GetDisbursementByClientRequestID", mock.Anything, partner.PartnerID, in.ClientRequestID).Return(nil, notFound())

	mockProviderToken()
	var occasion string
	httpmock.RegisterResponder(http.MethodPost, testPaymentURL, func(req *http.Request) (*http.Response, error) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		occasion = body["Occasion"]
		assert.Equal(t, "1500", body["Amount"])
		assert.Equal(t, "254712345678", body["PartyB"])
		assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
		return httpmock.NewJsonResponse(http.StatusOK, map[string]string{
			"ConversationID":           "AG_20260310_1",
			"OriginatorConversationID": body["OriginatorConversationID"],
			"ResponseCode":             "0",
			"ResponseDescription":      "Accept the service request successfully.",
		})
	})

	env.ds.On("CreateDisbursement", mock.Anything, mock.MatchedBy(func(d *model.Disbursement) bool {
		return d.Status == model.StatusAccepted && d.ConversationID == "AG_20260310_1" && d.ClientRequestID == in.ClientRequestID
	})).Return(nil)

	result, err := env.d.Disburse(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, result.Queued)
	assert.Equal(t, model.StatusAccepted, result.Disbursement.Status)
	assert.Equal(t, result.Disbursement.DisbursementID, occasion)
	assert.Equal(t, result.Disbursement.DisbursementID, result.Disbursement.OriginatorConversationID)
	env.ds.AssertExpectations(t)
}

func TestDisburse_ValidationFailures(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()

	tests := []struct {
		name   string
		mutate func(*DisbursementInput)
	}{
		{"local msisdn", func(in *DisbursementInput) { in.MSISDN = "0712345678" }},
		{"short msisdn", func(in *DisbursementInput) { in.MSISDN = "25471234567" }},
		{"below minimum", func(in *DisbursementInput) { in.Amount = decimal.NewFromInt(5) }},
		{"above maximum", func(in *DisbursementInput) { in.Amount = decimal.NewFromInt(150001) }},
		{"fractional amount", func(in *DisbursementInput) { in.Amount = decimal.RequireFromString("100.50") }},
		{"missing customer", func(in *DisbursementInput) { in.CustomerID = "" }},
		{"missing client request id", func(in *DisbursementInput) { in.ClientRequestID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testInput(partner, 100)
			tt.mutate(&in)
			_, err := env.d.Disburse(context.Background(), in)
			require.Error(t, err)
			assert.True(t, apierror.HasCode(err, apierror.ErrValidation))
		})
	}
	env.ds.AssertNotCalled(t, "GetPartner", mock.Anything, mock.Anything)
}

func TestDisburse_MalformedProviderResponseLeavesNoRecord(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()
	in := testInput(partner, 100)
	expectAllowedPath(env, partner)
	env.ds.On("GetDisbursementByClientRequestID", mock.Anything, partner.PartnerID, in.ClientRequestID).Return(nil, notFound())

	mockProviderToken()
	httpmock.RegisterResponder(http.MethodPost, testPaymentURL, httpmock.NewStringResponder(http.StatusOK, "<html>gateway</html>"))

	_, err := env.d.Disburse(context.Background(), in)
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrProvider))
	env.ds.AssertNotCalled(t, "CreateDisbursement", mock.Anything, mock.Anything)
}

func TestDisburse_ProviderRejectionLeavesNoRecord(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()
	in := testInput(partner, 100)
	expectAllowedPath(env, partner)
	env.ds.On("GetDisbursementByClientRequestID", mock.Anything, partner.PartnerID, in.ClientRequestID).Return(nil, notFound())

	mockProviderToken()
	httpmock.RegisterResponder(http.MethodPost, testPaymentURL, httpmock.NewStringResponder(http.StatusOK,
		`{"ConversationID":"AG_1","OriginatorConversationID":"x","ResponseCode":"2001","ResponseDescription":"The initiator information is invalid."}`))

	_, err := env.d.Disburse(context.Background(), in)
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrProvider))
	assert.Contains(t, err.Error(), "initiator information is invalid")
	env.ds.AssertNotCalled(t, "CreateDisbursement", mock.Anything, mock.Anything)
}

func TestDisburse_TokenFailure(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()
	in := testInput(partner, 100)
	expectAllowedPath(env, partner)
	env.ds.On("GetDisbursementByClientRequestID", mock.Anything, partner.PartnerID, in.ClientRequestID).Return(nil, notFound())

	httpmock.RegisterResponder(http.MethodGet, testTokenURL, httpmock.NewStringResponder(http.StatusBadRequest,
		`{"errorCode":"400.008.01","errorMessage":"Invalid Authentication passed"}`))

	_, err := env.d.Disburse(context.Background(), in)
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrProvider))
	assert.Contains(t, err.Error(), "authentication")
	assert.Zero(t, httpmock.GetCallCountInfo()["POST "+testPaymentURL])
}

func TestDisburse_SequentialIdempotency(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()
	in := testInput(partner, 100)
	expectAllowedPath(env, partner)

	var submissions int32
	mockProviderToken()
	mockProviderPayments(&submissions)

	var stored *model.Disbursement
	env.ds.On("GetDisbursementByClientRequestID", mock.Anything, partner.PartnerID, in.ClientRequestID).Return(nil, notFound()).Once()
	env.ds.On("CreateDisbursement", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*model.Disbursement)
	}).Return(nil).Once()

	first, err := env.d.Disburse(context.Background(), in)
	require.NoError(t, err)

	env.ds.On("GetDisbursementByClientRequestID", mock.Anything, partner.PartnerID, in.ClientRequestID).Return(stored, nil)
	env.ds.On("RecordDetection", mock.Anything, mock.Anything).Return(nil)

	_, err = env.d.Disburse(context.Background(), in)
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrDuplicateRequest))
	existing, ok := ExistingDisbursement(err)
	require.True(t, ok)
	assert.Equal(t, first.Disbursement.DisbursementID, existing.DisbursementID)
	assert.Equal(t, int32(1), submissions)
}

func TestDisburse_ConcurrentIdempotency(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()
	in := testInput(partner, 100)
	expectAllowedPath(env, partner)
	env.ds.On("GetDisbursementByClientRequestID", mock.Anything, partner.PartnerID, in.ClientRequestID).Return(nil, notFound())
	env.ds.On("CreateDisbursement", mock.Anything, mock.Anything).Return(nil).Once()

	release := make(chan struct{})
	var submissions int32
	var mu sync.Mutex
	mockProviderToken()
	httpmock.RegisterResponder(http.MethodPost, testPaymentURL, func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		submissions++
		mu.Unlock()
		<-release
		return httpmock.NewStringResponse(http.StatusOK,
			`{"ConversationID":"AG_1","OriginatorConversationID":"o1","ResponseCode":"0","ResponseDescription":"ok"}`), nil
	})

	type outcome struct {
		result *DisbursementResult
		err    error
	}
	outcomes := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			result, err := env.d.Disburse(context.Background(), in)
			outcomes <- outcome{result, err}
		}()
	}

	loser := <-outcomes
	close(release)
	winner := <-outcomes

	require.Error(t, loser.err)
	assert.True(t, apierror.HasCode(loser.err, apierror.ErrDuplicateRequest))
	require.NoError(t, winner.err)
	assert.Equal(t, model.StatusAccepted, winner.result.Disbursement.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), submissions)
}

func TestDisburse_InflightLockHeld(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()
	in := testInput(partner, 100)
	env.ds.On("GetPartner", mock.Anything, partner.PartnerID).Return(partner, nil)
	require.NoError(t, env.redis.Set("disburse:inflight:"+partner.PartnerID+":"+in.ClientRequestID, "other-request"))

	_, err := env.d.Disburse(context.Background(), in)
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrDuplicateRequest))
	env.ds.AssertNotCalled(t, "GetDisbursementByClientRequestID", mock.Anything, mock.Anything, mock.Anything)
}

func TestDisburse_UniqueViolationIsDuplicate(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()
	in := testInput(partner, 100)
	expectAllowedPath(env, partner)

	var submissions int32
	mockProviderToken()
	mockProviderPayments(&submissions)

	existing := &model.Disbursement{DisbursementID: "dsb_first", PartnerID: partner.PartnerID, ClientRequestID: in.ClientRequestID, Status: model.StatusAccepted}
	env.ds.On("GetDisbursementByClientRequestID", mock.Anything, partner.PartnerID, in.ClientRequestID).Return(nil, notFound()).Once()
	env.ds.On("CreateDisbursement", mock.Anything, mock.Anything).
		Return(apierror.NewAPIError(apierror.ErrConflict, "Disbursement already exists", errors.New("pq: duplicate key")))
	env.ds.On("GetDisbursementByClientRequestID", mock.Anything, partner.PartnerID, in.ClientRequestID).Return(existing, nil)

	_, err := env.d.Disburse(context.Background(), in)
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrDuplicateRequest))
	got, ok := ExistingDisbursement(err)
	require.True(t, ok)
	assert.Equal(t, "dsb_first", got.DisbursementID)
	require.Len(t, env.notifier.Messages(), 1)
	assert.Equal(t, notification.SeverityCritical, env.notifier.Messages()[0].Severity)
}

func TestDisburse_PersistenceIncident(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()
	in := testInput(partner, 100)
	expectAllowedPath(env, partner)
	env.ds.On("GetDisbursementByClientRequestID", mock.Anything, partner.PartnerID, in.ClientRequestID).Return(nil, notFound())

	mockProviderToken()
	httpmock.RegisterResponder(http.MethodPost, testPaymentURL, httpmock.NewStringResponder(http.StatusOK,
		`{"ConversationID":"AG_lost","OriginatorConversationID":"o1","ResponseCode":"0","ResponseDescription":"ok"}`))
	env.ds.On("CreateDisbursement", mock.Anything, mock.Anything).
		Return(apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create disbursement", errors.New("connection reset"))).Once()

	_, err := env.d.Disburse(context.Background(), in)
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrPersistence))

	var apiErr apierror.APIError
	require.True(t, errors.As(err, &apiErr))
	incident, ok := apiErr.Details.(*PersistenceIncident)
	require.True(t, ok)
	assert.Equal(t, "AG_lost", incident.ConversationID)
	assert.Equal(t, in.ClientRequestID, incident.ClientRequestID)

	messages := env.notifier.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, notification.SeverityCritical, messages[0].Severity)
	env.ds.AssertNumberOfCalls(t, "CreateDisbursement", 1)
}

func TestDisburse_QueuesWhenUnderfunded(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()
	partner.QueueOnInsufficientFunds = true
	in := testInput(partner, 1000)
	in.Priority = 3

	env.ds.On("GetPartner", mock.Anything, partner.PartnerID).Return(partner, nil)
	env.ds.On("GetDisbursementByClientRequestID", mock.Anything, partner.PartnerID, in.ClientRequestID).Return(nil, notFound())
	env.ds.On("GetEnabledRules", mock.Anything, partner.PartnerID).Return([]model.DuplicatePreventionRule{}, nil)
	env.ds.On("GetActiveBlocks", mock.Anything, partner.PartnerID, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	env.ds.On("GetLatestCompletedSample", mock.Anything, partner.PartnerID).Return(balanceSample(partner.PartnerID, 200), nil)
	env.ds.On("CreateDisbursement", mock.Anything, mock.MatchedBy(func(d *model.Disbursement) bool {
		return d.Status == model.StatusQueued && d.ConversationID == ""
	})).Return(nil)
	env.ds.On("EnqueueItem", mock.Anything, mock.MatchedBy(func(item *model.QueueItem) bool {
		return item.Priority == 3
	})).Return(nil)

	result, err := env.d.Disburse(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, result.Queued)
	assert.Equal(t, model.StatusQueued, result.Disbursement.Status)
	assert.True(t, result.Funds.Shortfall.Equal(decimal.NewFromInt(800)))
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestDisburse_InsufficientFundsWithoutQueue(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()
	in := testInput(partner, 1000)

	env.ds.On("GetPartner", mock.Anything, partner.PartnerID).Return(partner, nil)
	env.ds.On("GetDisbursementByClientRequestID", mock.Anything, partner.PartnerID, in.ClientRequestID).Return(nil, notFound())
	env.ds.On("GetEnabledRules", mock.Anything, partner.PartnerID).Return([]model.DuplicatePreventionRule{}, nil)
	env.ds.On("GetActiveBlocks", mock.Anything, partner.PartnerID, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	env.ds.On("GetLatestCompletedSample", mock.Anything, partner.PartnerID).Return(balanceSample(partner.PartnerID, 200), nil)

	_, err := env.d.Disburse(context.Background(), in)
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrInsufficientFunds))
	env.ds.AssertNotCalled(t, "CreateDisbursement", mock.Anything, mock.Anything)
}

func TestDisburse_QueueFailureReleasesKey(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()
	partner.QueueOnInsufficientFunds = true
	in := testInput(partner, 1000)

	env.ds.On("GetPartner", mock.Anything, partner.PartnerID).Return(partner, nil)
	env.ds.On("GetDisbursementByClientRequestID", mock.Anything, partner.PartnerID, in.ClientRequestID).Return(nil, notFound())
	env.ds.On("GetEnabledRules", mock.Anything, partner.PartnerID).Return([]model.DuplicatePreventionRule{}, nil)
	env.ds.On("GetActiveBlocks", mock.Anything, partner.PartnerID, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	env.ds.On("GetLatestCompletedSample", mock.Anything, partner.PartnerID).Return(balanceSample(partner.PartnerID, 200), nil)
	env.ds.On("CreateDisbursement", mock.Anything, mock.Anything).Return(nil)
	env.ds.On("EnqueueItem", mock.Anything, mock.Anything).Return(apierror.NewAPIError(apierror.ErrInternalServer, "Failed to enqueue item", errors.New("boom")))
	env.ds.On("TransitionDisbursement", mock.Anything, mock.Anything, model.StatusQueued, model.StatusRejected).Return(true, nil)

	_, err := env.d.Disburse(context.Background(), in)
	require.Error(t, err)
	env.ds.AssertCalled(t, "TransitionDisbursement", mock.Anything, mock.Anything, model.StatusQueued, model.StatusRejected)
}
