package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type DisbursementStatus string

const (
	StatusQueued   DisbursementStatus = "queued"
	StatusAccepted DisbursementStatus = "accepted"
	StatusSuccess  DisbursementStatus = "success"
	StatusFailed   DisbursementStatus = "failed"
	StatusTimeout  DisbursementStatus = "timeout"
	StatusRejected DisbursementStatus = "rejected"
)

// ActiveStatuses are the statuses that count towards duplicate windows and daily limits.
var ActiveStatuses = []DisbursementStatus{StatusQueued, StatusAccepted, StatusSuccess}

// IsActive reports whether a disbursement in this status may still move, or has moved, money.
func (s DisbursementStatus) IsActive() bool {
	for _, active := range ActiveStatuses {
		if s == active {
			return true
		}
	}
	return false
}

// IsFinal reports whether no further transition is allowed.
func (s DisbursementStatus) IsFinal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout, StatusRejected:
		return true
	}
	return false
}

// Disbursement is a B2C payout request. Rows in status accepted exist only once the provider acknowledged them.
type Disbursement struct {
	DisbursementID           string             `json:"disbursement_id"`
	ClientRequestID          string             `json:"client_request_id"`
	PartnerID                string             `json:"partner_id"`
	CustomerID               string             `json:"customer_id"`
	MSISDN                   string             `json:"msisdn"`
	Amount                   decimal.Decimal    `json:"amount"`
	ClientIP                 string             `json:"client_ip,omitempty"`
	Channel                  string             `json:"channel,omitempty"`
	Status                   DisbursementStatus `json:"status"`
	ConversationID           string             `json:"conversation_id,omitempty"`
	OriginatorConversationID string             `json:"originator_conversation_id,omitempty"`
	TransactionID            string             `json:"transaction_id,omitempty"`
	ReceiptNumber            string             `json:"receipt_number,omitempty"`
	ResultCode               *int               `json:"result_code,omitempty"`
	ResultDesc               string             `json:"result_desc,omitempty"`
	MetaData                 *MetadataEnvelope  `json:"meta_data,omitempty"`
	CreatedAt                time.Time          `json:"created_at"`
	UpdatedAt                time.Time          `json:"updated_at"`
	CompletedAt              *time.Time         `json:"completed_at,omitempty"`
}

// DisbursementResult captures the outcome recorded when a provider callback finalizes a disbursement.
type DisbursementResult struct {
	Status        DisbursementStatus
	ResultCode    int
	ResultDesc    string
	TransactionID string
	ReceiptNumber string
	CompletedAt   time.Time
}
