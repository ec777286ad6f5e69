package provider

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNetwork means the provider could not be reached or did not answer in time.
	// For submissions the outcome is unknown to us, so no record is written and the caller may retry.
	ErrNetwork = errors.New("provider unreachable")

	// ErrMalformedResponse means the provider answered with something we cannot parse.
	// It is never treated as an acceptance.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// RejectionError is an explicit refusal: a non-zero response code or a provider error body.
type RejectionError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("provider rejected request (status %d, code %s): %s", e.StatusCode, e.Code, e.Description)
}

// PaymentRequest is a single B2C payment instruction.
type PaymentRequest struct {
	OriginatorConversationID string
	InitiatorName            string
	SecurityCredential       string
	CommandID                string
	Amount                   decimal.Decimal
	ShortCode                string
	MSISDN                   string
	Remarks                  string
	Occasion                 string
}

// PaymentResponse is the synchronous acknowledgement. The final outcome arrives later by callback.
type PaymentResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// Accepted reports whether the provider took the request for processing.
func (r PaymentResponse) Accepted() bool {
	return r.ResponseCode == "0"
}

// BalanceQuery asks the provider to post the account balance to the balance result URL.
type BalanceQuery struct {
	OriginatorConversationID string
	InitiatorName            string
	SecurityCredential       string
	ShortCode                string
	Remarks                  string
}

type b2cRequest struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	InitiatorName            string `json:"InitiatorName"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	Amount                   string `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
	Occasion                 string `json:"Occasion,omitempty"`
}

type balanceRequest struct {
	OriginatorConversationID string `json:"OriginatorConversationID,omitempty"`
	Initiator                string `json:"Initiator"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	PartyA                   string `json:"PartyA"`
	IdentifierType           string `json:"IdentifierType"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type cachedToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}
