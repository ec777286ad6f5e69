package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/blnkfinance/disburse/config"
	"github.com/spf13/cobra"
)

const redacted = "[redacted]"

// redact blanks every secret so the computed configuration can be shared safely.
func redact(cfg config.Configuration) config.Configuration {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&cfg.Server.SecretKey)
	mask(&cfg.DataSource.Dns)
	mask(&cfg.Redis.Dns)
	mask(&cfg.Vault.Passphrase)
	mask(&cfg.Vault.Salt)
	mask(&cfg.SharedCredentials.ConsumerKey)
	mask(&cfg.SharedCredentials.ConsumerSecret)
	mask(&cfg.SharedCredentials.SecurityCredential)
	mask(&cfg.Notification.Slack.WebhookUrl)
	return cfg
}

func configCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your instance's computed configuration with secrets redacted",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error getting config: %v\n", err)
			}

			data, err := json.MarshalIndent(redact(*cfg), "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}
