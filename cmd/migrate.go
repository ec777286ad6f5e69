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

/*
Package main provides the CLI commands for managing database migrations of the disbursement engine.
This includes commands for applying and rolling back migrations.
*/

package main

import (
	"fmt"
	"log"

	"github.com/blnkfinance/disburse"
	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/database"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
)

func migrationSource() migrate.EmbedFileSystemMigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: disburse.SQLFiles,
		Root:       "sql",
	}
}

// runMigrations connects with the configured DSN and applies the embedded migrations in the given direction.
func runMigrations(direction migrate.MigrationDirection) (int, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return 0, fmt.Errorf("error fetching config: %w", err)
	}

	db, err := database.ConnectDB(cnf.DataSource.Dns)
	if err != nil {
		return 0, fmt.Errorf("error connecting to database: %w", err)
	}
	defer db.Close()

	migrate.SetSchema("disburse")
	return migrate.Exec(db, "postgres", migrationSource(), direction)
}

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(_ *disburseInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run disburse migrations",
	}

	cmd.AddCommand(migrateUpCommands())
	cmd.AddCommand(migrateDownCommands())

	return cmd
}

func migrateUpCommands() *cobra.Command {
	return &cobra.Command{
		Use: "up",
		Run: func(cmd *cobra.Command, args []string) {
			n, err := runMigrations(migrate.Up)
			if err != nil {
				log.Printf("Error migrating up: %v", err)
				return
			}
			fmt.Printf("Applied %d migrations!\n", n)
		},
	}
}

func migrateDownCommands() *cobra.Command {
	return &cobra.Command{
		Use: "down",
		Run: func(cmd *cobra.Command, args []string) {
			n, err := runMigrations(migrate.Down)
			if err != nil {
				log.Printf("Error migrating down: %v", err)
				return
			}
			fmt.Printf("Rolled back %d migrations!\n", n)
		},
	}
}
