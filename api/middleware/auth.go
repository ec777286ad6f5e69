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
	"net/http"

	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	"github.com/gin-gonic/gin"
)

const (
	KeyHeader = "X-Api-Key"

	partnerContextKey = "partner"
	masterContextKey  = "isMasterKey"
)

// PartnerAuthenticator resolves the partner owning an API key.
type PartnerAuthenticator interface {
	AuthenticatePartner(ctx context.Context, key string) (*model.Partner, error)
}

// AuthMiddleware authenticates every route according to its scope.
// The master key unlocks admin routes; a partner API key unlocks partner routes for that partner only.
type AuthMiddleware struct {
	partners PartnerAuthenticator
}

// NewAuthMiddleware creates a new instance of AuthMiddleware.
func NewAuthMiddleware(partners PartnerAuthenticator) *AuthMiddleware {
	return &AuthMiddleware{partners: partners}
}

// Authenticate returns a middleware function that handles authentication for all routes.
//
// Responses:
// - 401 Unauthorized: When the key is missing or unknown.
// - 403 Forbidden: When the key does not grant the route's scope.
// - 500 Internal Server Error: When an admin route is hit and no master key is configured.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := scopeFromPath(c.Request.URL.Path)
		if scope == ScopePublic {
			c.Next()
			return
		}

		key := extractKey(c)
		if key == "" {
			abort(c, http.StatusUnauthorized, apierror.ErrAuthentication, "Authentication required. Use "+KeyHeader+" header")
			return
		}

		if scope == ScopeAdmin {
			conf, err := config.Fetch()
			if err != nil || conf.Server.SecretKey == "" {
				abort(c, http.StatusInternalServerError, apierror.ErrInternalServer, "Master key is not configured")
				return
			}
			if !secureCompare(conf.Server.SecretKey, key) {
				abort(c, http.StatusForbidden, apierror.ErrAuthentication, "Master key required")
				return
			}
			c.Set(masterContextKey, true)
			c.Next()
			return
		}

		partner, err := m.partners.AuthenticatePartner(c.Request.Context(), key)
		if err != nil {
			status := apierror.MapErrorToHTTPStatus(err)
			if apierror.HasCode(err, apierror.ErrAuthentication) {
				abort(c, status, apierror.ErrAuthentication, "Invalid API key")
				return
			}
			abort(c, status, apierror.ErrInternalServer, "Unable to authenticate partner")
			return
		}

		c.Set(partnerContextKey, partner)
		c.Next()
	}
}

// PartnerFromContext returns the partner set by Authenticate.
func PartnerFromContext(c *gin.Context) (*model.Partner, bool) {
	value, ok := c.Get(partnerContextKey)
	if !ok {
		return nil, false
	}
	partner, ok := value.(*model.Partner)
	return partner, ok && partner != nil
}

func abort(c *gin.Context, status int, code apierror.ErrorCode, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error_code": code, "message": message})
}

// extractKey retrieves the authentication key from the X-Api-Key header.
func extractKey(c *gin.Context) string {
	return c.GetHeader(KeyHeader)
}
