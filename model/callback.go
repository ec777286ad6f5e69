package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type CallbackType string

const (
	CallbackB2CResult      CallbackType = "b2c_result"
	CallbackB2CTimeout     CallbackType = "b2c_timeout"
	CallbackBalanceResult  CallbackType = "balance_result"
	CallbackBalanceTimeout CallbackType = "balance_timeout"
)

// CallbackLog is the append-only record of every provider callback received.
type CallbackLog struct {
	CallbackID               string          `json:"callback_id"`
	CallbackType             CallbackType    `json:"callback_type"`
	ConversationID           string          `json:"conversation_id"`
	OriginatorConversationID string          `json:"originator_conversation_id"`
	DisbursementID           string          `json:"disbursement_id,omitempty"`
	Matched                  bool            `json:"matched"`
	Outcome                  string          `json:"outcome"`
	Payload                  json.RawMessage `json:"payload"`
	CreatedAt                time.Time       `json:"created_at"`
}

// ProviderCallback is the envelope the provider posts to result and timeout URLs.
type ProviderCallback struct {
	Result CallbackResult `json:"Result"`
}

type CallbackResult struct {
	ResultType               int               `json:"ResultType"`
	ResultCode               json.RawMessage   `json:"ResultCode"`
	ResultDesc               string            `json:"ResultDesc"`
	OriginatorConversationID string            `json:"OriginatorConversationID"`
	ConversationID           string            `json:"ConversationID"`
	TransactionID            string            `json:"TransactionID"`
	ResultParameters         *ResultParameters `json:"ResultParameters,omitempty"`
	ReferenceData            *ReferenceData    `json:"ReferenceData,omitempty"`
}

type ResultParameters struct {
	ResultParameter KeyValues `json:"ResultParameter"`
}

type ReferenceData struct {
	ReferenceItem KeyValues `json:"ReferenceItem"`
}

type KeyValue struct {
	Key   string      `json:"Key"`
	Value interface{} `json:"Value"`
}

// KeyValues accepts both a single object and an array, since the provider sends either.
type KeyValues []KeyValue

func (kv *KeyValues) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '{' {
		var single KeyValue
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*kv = KeyValues{single}
		return nil
	}
	var many []KeyValue
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*kv = many
	return nil
}

// Lookup returns the string form of the value stored under key.
func (kv KeyValues) Lookup(key string) (string, bool) {
	for _, item := range kv {
		if item.Key != key {
			continue
		}
		switch v := item.Value.(type) {
		case string:
			return v, true
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		case nil:
			return "", true
		default:
			return fmt.Sprint(v), true
		}
	}
	return "", false
}

// Code returns the numeric result code. The provider sends it as a number or a numeric string.
func (r CallbackResult) Code() (int, error) {
	if len(r.ResultCode) == 0 {
		return 0, fmt.Errorf("missing result code")
	}
	var n int
	if err := json.Unmarshal(r.ResultCode, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(r.ResultCode, &s); err != nil {
		return 0, fmt.Errorf("invalid result code %s", string(r.ResultCode))
	}
	return strconv.Atoi(s)
}

// Param returns a result parameter by key.
func (r CallbackResult) Param(key string) (string, bool) {
	if r.ResultParameters == nil {
		return "", false
	}
	return r.ResultParameters.ResultParameter.Lookup(key)
}

// Occasion returns the reference item carrying the internal disbursement id, if present.
func (r CallbackResult) Occasion() string {
	if r.ReferenceData == nil {
		return ""
	}
	v, _ := r.ReferenceData.ReferenceItem.Lookup("Occasion")
	return v
}

// ParseProviderCallback decodes a raw provider callback body.
func ParseProviderCallback(raw []byte) (*ProviderCallback, error) {
	var cb ProviderCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, fmt.Errorf("invalid callback payload: %w", err)
	}
	if cb.Result.ConversationID == "" && cb.Result.OriginatorConversationID == "" {
		return nil, fmt.Errorf("callback carries no conversation identifiers")
	}
	return &cb, nil
}
