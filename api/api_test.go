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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/disburse"
	"github.com/blnkfinance/disburse/api/middleware"
	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/database/mocks"
	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/internal/notification"
	"github.com/blnkfinance/disburse/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testProviderURL = "https://sandbox.provider.test"
	testMasterKey   = "master-key"
	testPartnerKey  = "partner-key"
)

type silentNotifier struct{}

func (silentNotifier) Notify(context.Context, notification.Message) error { return nil }

type testServer struct {
	router  *gin.Engine
	ds      *mocks.MockDataSource
	partner *model.Partner
}

func setupServer(t *testing.T, overrides ...func(*config.Configuration)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cnf := &config.Configuration{
		Server:   config.ServerConfig{SecretKey: testMasterKey},
		Redis:    config.RedisConfig{Dns: mr.Addr()},
		Vault:    config.VaultConfig{Passphrase: "test-passphrase", Iterations: 1000},
		Provider: config.ProviderConfig{SandboxURL: testProviderURL},
		Guard:    config.GuardConfig{Timezone: "UTC"},
	}
	for _, override := range overrides {
		override(cnf)
	}
	config.MockConfig(cnf)

	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	ds := new(mocks.MockDataSource)
	d, err := disburse.NewDisburse(ds, disburse.WithHTTPClient(httpClient), disburse.WithNotifier(silentNotifier{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	partner := &model.Partner{
		PartnerID:          "partner_" + gofakeit.LetterN(6),
		Name:               gofakeit.Company(),
		ShortCode:          "600000",
		InitiatorName:      "apiop",
		ConsumerKey:        "ck",
		ConsumerSecret:     "cs",
		SecurityCredential: "sec",
	}
	ds.On("GetPartnerByAPIKeyHash", mock.Anything, model.HashAPIKey(testPartnerKey)).Return(partner, nil)
	ds.On("GetPartnerByAPIKeyHash", mock.Anything, mock.Anything).Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Partner not found for API key", nil))

	a := NewAPI(d)
	require.NotNil(t, a)
	return &testServer{router: a.Router(), ds: ds, partner: partner}
}

func (s *testServer) do(t *testing.T, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return s.doFrom(t, "", nil, method, path, key, body)
}

// doFrom sends a request from remoteAddr (httptest's default when empty) with extra headers.
func (s *testServer) doFrom(t *testing.T, remoteAddr string, headers map[string]string, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		payload = b
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(middleware.KeyHeader, key)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func notFound() error {
	return apierror.NewAPIError(apierror.ErrNotFound, "not found", nil)
}

func (s *testServer) disbursementRequest() map[string]interface{} {
	return map[string]interface{}{
		"tenant_id":         s.partner.PartnerID,
		"customer_id":       "cust_" + gofakeit.LetterN(6),
		"msisdn":            "254712345678",
		"amount":            1500,
		"client_request_id": gofakeit.UUID(),
	}
}

// expectFundedPath wires a fresh, rule-free request for a partner without a balance sample.
func (s *testServer) expectFundedPath(clientRequestID string) {
	id := s.partner.PartnerID
	s.ds.On("GetPartner", mock.Anything, id).Return(s.partner, nil)
	s.ds.On("GetDisbursementByClientRequestID", mock.Anything, id, clientRequestID).Return(nil, notFound())
	s.ds.On("GetEnabledRules", mock.Anything, id).Return([]model.DuplicatePreventionRule{}, nil)
	s.ds.On("GetActiveBlocks", mock.Anything, id, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	s.ds.On("GetLatestCompletedSample", mock.Anything, id).Return(nil, notFound())
}

func mockProviderAccepts() {
	httpmock.RegisterResponder(http.MethodGet, testProviderURL+"/oauth/v1/generate?grant_type=client_credentials",
		httpmock.NewStringResponder(http.StatusOK, `{"access_token":"tok","expires_in":"3599"}`))
	httpmock.RegisterResponder(http.MethodPost, testProviderURL+"/mpesa/b2c/v3/paymentrequest", func(req *http.Request) (*http.Response, error) {
		var body map[string]string
		_ = json.NewDecoder(req.Body).Decode(&body)
		return httpmock.NewJsonResponse(http.StatusOK, map[string]string{
			"ConversationID":           "AG_20260310_api",
			"OriginatorConversationID": body["OriginatorConversationID"],
			"ResponseCode":             "0",
			"ResponseDescription":      "Accept the service request successfully.",
		})
	})
}

func recentCheck() *time.Time {
	at := time.Now().Add(-time.Minute)
	return &at
}
