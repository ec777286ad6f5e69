package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Partner is an organization disbursing through the engine.
type Partner struct {
	PartnerID                string           `json:"partner_id"`
	Name                     string           `json:"name"`
	ShortCode                string           `json:"short_code"`
	InitiatorName            string           `json:"initiator_name"`
	APIKeyHash               string           `json:"-"`
	EncryptedCredentials     string           `json:"-"`
	ConsumerKey              string           `json:"-"`
	ConsumerSecret           string           `json:"-"`
	SecurityCredential       string           `json:"-"`
	UseSharedCredentials     bool             `json:"use_shared_credentials"`
	QueueOnInsufficientFunds bool             `json:"queue_on_insufficient_funds"`
	WebhookURL               string           `json:"webhook_url,omitempty"`
	BalanceAlertThreshold    *decimal.Decimal `json:"balance_alert_threshold,omitempty"`
	BalanceCheckInterval     int              `json:"balance_check_interval_minutes"`
	LastBalanceCheckAt       *time.Time       `json:"last_balance_check_at,omitempty"`
	CreatedAt                time.Time        `json:"created_at"`
}

// PartnerCredentials is the plaintext credential set used to talk to the provider on a partner's behalf.
type PartnerCredentials struct {
	ConsumerKey        string `json:"consumer_key"`
	ConsumerSecret     string `json:"consumer_secret"`
	SecurityCredential string `json:"security_credential"`
	InitiatorName      string `json:"initiator_name,omitempty"`
	ShortCode          string `json:"short_code,omitempty"`
}

// Usable reports whether the credential set can authenticate against the provider and sign a payment.
func (c *PartnerCredentials) Usable() bool {
	return c != nil && c.ConsumerKey != "" && c.ConsumerSecret != "" && c.SecurityCredential != ""
}

// PlaintextCredentials returns the legacy credential columns stored on the partner row.
func (p *Partner) PlaintextCredentials() *PartnerCredentials {
	return &PartnerCredentials{
		ConsumerKey:        p.ConsumerKey,
		ConsumerSecret:     p.ConsumerSecret,
		SecurityCredential: p.SecurityCredential,
		InitiatorName:      p.InitiatorName,
		ShortCode:          p.ShortCode,
	}
}
