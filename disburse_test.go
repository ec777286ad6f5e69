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
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/database/mocks"
	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/internal/notification"
	"github.com/blnkfinance/disburse/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testProviderURL = "https://sandbox.provider.test"
	testTokenURL    = testProviderURL + "/oauth/v1/generate?grant_type=client_credentials"
	testPaymentURL  = testProviderURL + "/mpesa/b2c/v3/paymentrequest"
	testBalanceURL  = testProviderURL + "/mpesa/accountbalance/v1/query"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (r *recordingNotifier) Notify(_ context.Context, msg notification.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingNotifier) Messages() []notification.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Message(nil), r.messages...)
}

type testEngine struct {
	d        *Disburse
	ds       *mocks.MockDataSource
	redis    *miniredis.Miniredis
	notifier *recordingNotifier
	now      time.Time
}

func (e *testEngine) clock() time.Time {
	return e.now
}

func (e *testEngine) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

// newTestEngine builds a Disburse backed by a mock datasource, miniredis and an httpmock'd provider.
func newTestEngine(t *testing.T, configure ...func(*config.Configuration)) *testEngine {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cnf := &config.Configuration{
		Redis:    config.RedisConfig{Dns: mr.Addr()},
		Vault:    config.VaultConfig{Passphrase: "test-passphrase", Iterations: 1000},
		Provider: config.ProviderConfig{SandboxURL: testProviderURL},
		Guard:    config.GuardConfig{Timezone: "UTC"},
	}
	for _, fn := range configure {
		fn(cnf)
	}
	config.MockConfig(cnf)

	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	env := &testEngine{
		ds:       new(mocks.MockDataSource),
		redis:    mr,
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	d, err := NewDisburse(env.ds, WithHTTPClient(httpClient), WithNotifier(env.notifier), WithClock(env.clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	env.d = d
	return env
}

func testPartner() *model.Partner {
	return &model.Partner{
		PartnerID:          "partner_" + gofakeit.LetterN(6),
		Name:               gofakeit.Company(),
		ShortCode:          "600000",
		InitiatorName:      "apiop",
		ConsumerKey:        "ck-" + gofakeit.LetterN(8),
		ConsumerSecret:     "cs-" + gofakeit.LetterN(8),
		SecurityCredential: "sec",
		CreatedAt:          time.Now(),
	}
}

func testInput(partner *model.Partner, amount int64) DisbursementInput {
	return DisbursementInput{
		PartnerID:       partner.PartnerID,
		CustomerID:      "cust_" + gofakeit.LetterN(6),
		MSISDN:          "254712345678",
		Amount:          decimal.NewFromInt(amount),
		ClientIP:        gofakeit.IPv4Address(),
		ClientRequestID: gofakeit.UUID(),
	}
}

func notFound() error {
	return apierror.NewAPIError(apierror.ErrNotFound, "not found", nil)
}

// mockProviderToken answers token requests with a fixed bearer token.
func mockProviderToken() {
	httpmock.RegisterResponder(http.MethodGet, testTokenURL,
		httpmock.NewStringResponder(http.StatusOK, `{"access_token":"tok","expires_in":"3599"}`))
}

// mockProviderPayments accepts every payment, echoing the originator conversation id, and counts submissions.
func mockProviderPayments(counter *int32) {
	httpmock.RegisterResponder(http.MethodPost, testPaymentURL, func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(counter, 1)
		var body map[string]interface{}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, `{}`), nil
		}
		return httpmock.NewJsonResponse(http.StatusOK, map[string]string{
			"ConversationID":           "AG_" + gofakeit.LetterN(10),
			"OriginatorConversationID": body["OriginatorConversationID"].(string),
			"ResponseCode":             "0",
			"ResponseDescription":      "Accept the service request successfully.",
		})
	})
}

func httpmockCallCount() int {
	return httpmock.GetTotalCallCount()
}
