package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type BalanceSampleStatus string

const (
	SamplePending   BalanceSampleStatus = "pending"
	SampleCompleted BalanceSampleStatus = "completed"
	SampleFailed    BalanceSampleStatus = "failed"
)

type BalanceSource string

const (
	SourceQuery    BalanceSource = "query"
	SourceCallback BalanceSource = "callback"
)

// BalanceSample is a point-in-time reading of a partner's provider accounts.
type BalanceSample struct {
	SampleID                 string              `json:"sample_id"`
	PartnerID                string              `json:"partner_id"`
	WorkingBalance           *decimal.Decimal    `json:"working_balance,omitempty"`
	UtilityBalance           *decimal.Decimal    `json:"utility_balance,omitempty"`
	ChargesBalance           *decimal.Decimal    `json:"charges_balance,omitempty"`
	Currency                 string              `json:"currency"`
	Status                   BalanceSampleStatus `json:"status"`
	Source                   BalanceSource       `json:"source"`
	OriginatorConversationID string              `json:"originator_conversation_id,omitempty"`
	ConversationID           string              `json:"conversation_id,omitempty"`
	SourceTimestamp          *time.Time          `json:"source_timestamp,omitempty"`
	CreatedAt                time.Time           `json:"created_at"`
}

// AvailableFunds is the utility balance, which is the account B2C payments are drawn from.
func (s *BalanceSample) AvailableFunds() (decimal.Decimal, bool) {
	if s == nil || s.UtilityBalance == nil {
		return decimal.Zero, false
	}
	return *s.UtilityBalance, true
}

// BalanceAlert records a threshold breach that was pushed to the notifier.
type BalanceAlert struct {
	AlertID   string          `json:"alert_id"`
	PartnerID string          `json:"partner_id"`
	Threshold decimal.Decimal `json:"threshold"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// AccountReading is one account segment of a provider balance string.
type AccountReading struct {
	Name      string
	Currency  string
	Available decimal.Decimal
}

// ParseAccountBalance parses the provider balance string, a list of
// "Name|Currency|Amount|Available|Reserved|Uncleared" segments joined by '&'.
func ParseAccountBalance(raw string) ([]AccountReading, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty account balance")
	}

	var readings []AccountReading
	for _, segment := range strings.Split(raw, "&") {
		parts := strings.Split(segment, "|")
		if len(parts) < 3 {
			return nil, fmt.Errorf("malformed account segment %q", segment)
		}
		amountField := parts[2]
		if len(parts) > 3 && parts[3] != "" {
			amountField = parts[3]
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(amountField))
		if err != nil {
			return nil, fmt.Errorf("invalid amount in segment %q: %w", segment, err)
		}
		readings = append(readings, AccountReading{
			Name:      strings.TrimSpace(parts[0]),
			Currency:  strings.TrimSpace(parts[1]),
			Available: amount,
		})
	}
	return readings, nil
}

// ApplyReadings copies working, utility and charges balances from parsed readings onto the sample.
func (s *BalanceSample) ApplyReadings(readings []AccountReading) {
	for _, r := range readings {
		amount := r.Available
		name := strings.ToLower(r.Name)
		switch {
		case strings.HasPrefix(name, "working"):
			s.WorkingBalance = &amount
		case strings.HasPrefix(name, "utility"):
			s.UtilityBalance = &amount
		case strings.HasPrefix(name, "charges"):
			s.ChargesBalance = &amount
		default:
			continue
		}
		if s.Currency == "" {
			s.Currency = r.Currency
		}
	}
}
