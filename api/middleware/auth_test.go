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

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakePartners map[string]*model.Partner

func (f fakePartners) AuthenticatePartner(_ context.Context, key string) (*model.Partner, error) {
	if key == "boom" {
		return nil, errors.New("connection refused")
	}
	partner, ok := f[key]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrAuthentication, "Invalid API key", nil)
	}
	return partner, nil
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	partners := fakePartners{"partner-key": {PartnerID: "partner_1"}}

	router := gin.New()
	router.Use(NewAuthMiddleware(partners).Authenticate())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/callbacks/b2c/result", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/disbursements", func(c *gin.Context) {
		partner, ok := PartnerFromContext(c)
		if !ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.String(http.StatusOK, partner.PartnerID)
	})
	router.POST("/blocks", func(c *gin.Context) { c.Status(http.StatusCreated) })
	return router
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		path         string
		key          string
		secretKey    string
		expectedCode int
		expectedBody string
	}{
		{name: "Health is public", method: http.MethodGet, path: "/", expectedCode: http.StatusOK},
		{name: "Callbacks are public", method: http.MethodPost, path: "/callbacks/b2c/result", expectedCode: http.StatusOK},
		{name: "Missing key", method: http.MethodPost, path: "/disbursements", expectedCode: http.StatusUnauthorized, expectedBody: "AUTHENTICATION_ERROR"},
		{name: "Valid partner key", method: http.MethodPost, path: "/disbursements", key: "partner-key", expectedCode: http.StatusOK, expectedBody: "partner_1"},
		{name: "Unknown partner key", method: http.MethodPost, path: "/disbursements", key: "nope", expectedCode: http.StatusUnauthorized, expectedBody: "Invalid API key"},
		{name: "Partner lookup failure", method: http.MethodPost, path: "/disbursements", key: "boom", expectedCode: http.StatusInternalServerError},
		{name: "Master key on admin route", method: http.MethodPost, path: "/blocks", key: "master", secretKey: "master", expectedCode: http.StatusCreated},
		{name: "Partner key on admin route", method: http.MethodPost, path: "/blocks", key: "partner-key", secretKey: "master", expectedCode: http.StatusForbidden},
		{name: "Admin route without master key configured", method: http.MethodPost, path: "/blocks", key: "anything", expectedCode: http.StatusInternalServerError, expectedBody: "Master key is not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config.MockConfig(&config.Configuration{Server: config.ServerConfig{SecretKey: tt.secretKey}})
			router := setupRouter()

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key != "" {
				req.Header.Set(KeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedCode, w.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, w.Body.String(), tt.expectedBody)
			}
		})
	}
}

func TestScopeFromPath(t *testing.T) {
	assert.Equal(t, ScopePublic, scopeFromPath("/"))
	assert.Equal(t, ScopePublic, scopeFromPath("/metrics"))
	assert.Equal(t, ScopePartner, scopeFromPath("/disbursements/dsb_1"))
	assert.Equal(t, ScopeAdmin, scopeFromPath("/partners/partner_1/credentials"))
	assert.Equal(t, ScopeAdmin, scopeFromPath("/unknown"))
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rps := 1.0
	burst := 1
	cleanup := 60
	conf := &config.Configuration{RateLimit: config.RateLimitConfig{RequestsPerSecond: &rps, Burst: &burst, CleanupIntervalSec: &cleanup}}

	router := gin.New()
	router.Use(RateLimitMiddleware(conf))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(&config.Configuration{}))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
