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
	"fmt"
	"log"
	"os"

	"github.com/blnkfinance/disburse"
	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/database"
	"github.com/blnkfinance/disburse/internal/notification"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CLI wraps the root Cobra command.
type CLI struct {
	cmd *cobra.Command
}

// disburseInstance holds the engine and configuration shared by every subcommand.
type disburseInstance struct {
	disburse *disburse.Disburse
	cnf      *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads .env and the configuration file, then builds the engine.
func preRun(app *disburseInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			logrus.Warnf("could not load .env: %v", err)
		}

		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		engine, err := setupDisburse(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.disburse = engine
		app.cnf = cnf
		return nil
	}
}

func setupDisburse(cfg *config.Configuration) (*disburse.Disburse, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	engine, err := disburse.NewDisburse(db)
	if err != nil {
		return nil, fmt.Errorf("error creating disbursement engine: %v", err)
	}
	return engine, nil
}

func NewCLI() *CLI {
	var configFile string
	app := &disburseInstance{}

	rootCmd := &cobra.Command{
		Use:   "disburse",
		Short: "B2C disbursement safety and orchestration engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./disburse.json", "Configuration file")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands())

	return &CLI{cmd: rootCmd}
}

func (c CLI) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
