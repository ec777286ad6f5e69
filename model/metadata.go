package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type MetadataType string

const (
	MetadataCharge        MetadataType = "charge"
	MetadataFloatPurchase MetadataType = "float_purchase"
	MetadataSMSCharge     MetadataType = "sms_charge"
)

// TransactionMetadata is implemented by the closed set of metadata variants a disbursement may carry.
type TransactionMetadata interface {
	MetadataType() MetadataType
}

type ChargeMetadata struct {
	ChargeAmount decimal.Decimal `json:"charge_amount"`
	ChargeType   string          `json:"charge_type"`
}

func (ChargeMetadata) MetadataType() MetadataType { return MetadataCharge }

type FloatPurchaseMetadata struct {
	FloatAmount decimal.Decimal `json:"float_amount"`
	Reference   string          `json:"reference"`
}

func (FloatPurchaseMetadata) MetadataType() MetadataType { return MetadataFloatPurchase }

type SMSChargeMetadata struct {
	MessageCount int             `json:"message_count"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
}

func (SMSChargeMetadata) MetadataType() MetadataType { return MetadataSMSCharge }

// MetadataEnvelope is the persisted form of TransactionMetadata: a type tag plus its payload.
type MetadataEnvelope struct {
	Value TransactionMetadata
}

type rawEnvelope struct {
	Type    MetadataType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e MetadataEnvelope) MarshalJSON() ([]byte, error) {
	if e.Value == nil {
		return []byte("null"), nil
	}
	payload, err := json.Marshal(e.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rawEnvelope{Type: e.Value.MetadataType(), Payload: payload})
}

func (e *MetadataEnvelope) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		e.Value = nil
		return nil
	}
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var value TransactionMetadata
	switch raw.Type {
	case MetadataCharge:
		var m ChargeMetadata
		if err := json.Unmarshal(raw.Payload, &m); err != nil {
			return err
		}
		value = m
	case MetadataFloatPurchase:
		var m FloatPurchaseMetadata
		if err := json.Unmarshal(raw.Payload, &m); err != nil {
			return err
		}
		value = m
	case MetadataSMSCharge:
		var m SMSChargeMetadata
		if err := json.Unmarshal(raw.Payload, &m); err != nil {
			return err
		}
		value = m
	default:
		return fmt.Errorf("unknown metadata type %q", raw.Type)
	}
	e.Value = value
	return nil
}
