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
	"net/http"

	"github.com/blnkfinance/disburse"
	"github.com/blnkfinance/disburse/api/middleware"
	"github.com/blnkfinance/disburse/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Api struct {
	disburse *disburse.Disburse
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/disbursements", a.CreateDisbursement)
	router.GET("/disbursements/:id", a.GetDisbursement)

	callbacks := router.Group("/callbacks")
	callbacks.POST("/b2c/result", a.B2CResultCallback)
	callbacks.POST("/b2c/timeout", a.B2CTimeoutCallback)
	callbacks.POST("/balance/result", a.BalanceResultCallback)
	callbacks.POST("/balance/timeout", a.BalanceTimeoutCallback)

	router.POST("/balance-monitor/check", a.CheckBalances)
	router.PUT("/partners/:id/credentials", a.StoreCredentials)
	router.POST("/blocks", a.CreateBlock)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return a.router
}

func NewAPI(d *disburse.Disburse) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.New()
	// The client IP feeds the fraud guard, so forwarding headers only count from configured proxies.
	if err := r.SetTrustedProxies(conf.Server.TrustedProxies); err != nil {
		logrus.WithError(err).Error("invalid trusted proxies, forwarding headers are ignored")
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.RateLimitMiddleware(conf))
	r.Use(middleware.NewAuthMiddleware(d).Authenticate())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{disburse: d, router: r}
}
