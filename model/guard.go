package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type RuleType string

const (
	RuleExactAmount   RuleType = "exact_amount"
	RuleSimilarAmount RuleType = "similar_amount"
	RuleIPRate        RuleType = "ip_rate"
	RuleDailyLimit    RuleType = "daily_limit"
)

type RuleAction string

const (
	ActionBlock RuleAction = "block"
	ActionLog   RuleAction = "log"
	ActionAllow RuleAction = "allow"
)

// DuplicatePreventionRule is partner configuration read by the guard.
type DuplicatePreventionRule struct {
	RuleID                 string           `json:"rule_id"`
	PartnerID              string           `json:"partner_id"`
	RuleType               RuleType         `json:"rule_type"`
	TimeWindowMinutes      int              `json:"time_window_minutes"`
	AmountTolerancePercent decimal.Decimal  `json:"amount_tolerance_percent"`
	Action                 RuleAction       `json:"action"`
	DailyCountLimit        int              `json:"daily_count_limit"`
	DailyAmountLimit       *decimal.Decimal `json:"daily_amount_limit,omitempty"`
	IPDailyCountLimit      int              `json:"ip_daily_count_limit"`
	IPDailyAmountLimit     *decimal.Decimal `json:"ip_daily_amount_limit,omitempty"`
	Enabled                bool             `json:"enabled"`
	CreatedAt              time.Time        `json:"created_at"`
}

// Window returns the rule's time window as a duration.
func (r DuplicatePreventionRule) Window() time.Duration {
	return time.Duration(r.TimeWindowMinutes) * time.Minute
}

type BlockType string

const (
	BlockCustomer BlockType = "customer"
	BlockIP       BlockType = "ip"
)

// Block is a customer or IP level denylist entry. A nil ExpiresAt means the block is permanent.
type Block struct {
	BlockID   string           `json:"block_id"`
	PartnerID string           `json:"partner_id"`
	BlockType BlockType        `json:"block_type"`
	Value     string           `json:"value"`
	Reason    string           `json:"reason"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// ActiveAt reports whether the block applies at the given instant.
func (b Block) ActiveAt(now time.Time) bool {
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

type DetectionType string

const (
	DetectionIdempotency   DetectionType = "idempotency"
	DetectionBypass        DetectionType = "trusted_origin_bypass"
	DetectionExactAmount   DetectionType = "exact_duplicate"
	DetectionSimilarAmount DetectionType = "similar_amount"
	DetectionIPRate        DetectionType = "ip_rate_limit"
	DetectionDailyLimit    DetectionType = "daily_limit"
	DetectionActiveBlock   DetectionType = "active_block"
)

// DuplicateDetection is an audit row describing one guard detection and the action taken.
type DuplicateDetection struct {
	DetectionID           string           `json:"detection_id"`
	PartnerID             string           `json:"partner_id"`
	CustomerID            string           `json:"customer_id"`
	ClientIP              string           `json:"client_ip"`
	ClientRequestID       string           `json:"client_request_id"`
	DetectionType         DetectionType    `json:"detection_type"`
	RuleType              RuleType         `json:"rule_type,omitempty"`
	TimeWindowMinutes     int              `json:"time_window_minutes"`
	Amount                decimal.Decimal  `json:"amount"`
	MatchedAmount         *decimal.Decimal `json:"matched_amount,omitempty"`
	AmountDifference      *decimal.Decimal `json:"amount_difference,omitempty"`
	PercentageDifference  *decimal.Decimal `json:"percentage_difference,omitempty"`
	MatchedDisbursementID string           `json:"matched_disbursement_id,omitempty"`
	ActionTaken           RuleAction       `json:"action_taken"`
	Reason                string           `json:"reason"`
	CreatedAt             time.Time        `json:"created_at"`
}

// DailyUsage is the cumulative activity of one scope since local midnight.
type DailyUsage struct {
	Count  int
	Amount decimal.Decimal
}
