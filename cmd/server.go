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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/blnkfinance/disburse/api"
	"github.com/blnkfinance/disburse/config"
	trace "github.com/blnkfinance/disburse/internal/traces"
	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

/*
serveTLS starts an HTTPS server with TLS enabled using CertMagic for automatic certificate management.
If no domain is specified, the server will default to running on localhost.
*/
func serveTLS(r *gin.Engine, conf config.ServerConfig) error {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "certmagic"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(context.Background(), domains); err != nil {
		return err
	}

	server := &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}

	log.Printf("Starting HTTPS server on %s\n", conf.Port)
	if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start HTTPS server: %v", err)
	}

	return nil
}

func initializeRouter(app *disburseInstance) (*gin.Engine, error) {
	a := api.NewAPI(app.disburse)
	if a == nil {
		return nil, fmt.Errorf("configuration is not loaded")
	}
	return a.Router(), nil
}

func initializeTracing(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := trace.SetupOTelSDK(ctx, "DISBURSE")
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	if cfg.SSL {
		return serveTLS(router, cfg)
	}
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	return router.Run(":" + cfg.Port)
}

/*
serverCommands returns the Cobra command responsible for starting the API server.
It sets up tracing and the routes before launching the server.
*/
func serverCommands(app *disburseInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start disburse server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			shutdown, err := initializeTracing(ctx, app.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()
			defer func() {
				if err := app.disburse.Close(); err != nil {
					log.Printf("Error closing queue client: %v", err)
				}
			}()

			router, err := initializeRouter(app)
			if err != nil {
				log.Fatal(err)
			}

			if err := startServer(router, app.cnf.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
