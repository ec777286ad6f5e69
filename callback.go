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

package disburse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type CallbackOutcome string

const (
	OutcomeFinalized    CallbackOutcome = "finalized"
	OutcomeAlreadyFinal CallbackOutcome = "already_final"
	OutcomeUnmatched    CallbackOutcome = "unmatched"
	OutcomeInvalid      CallbackOutcome = "invalid"
	OutcomeRecorded     CallbackOutcome = "recorded"
	OutcomeError        CallbackOutcome = "error"
)

// Provider timeouts may arrive without a result code.
const timeoutResultCode = -1

// BOCompletedTime layout, e.g. 20240109125710.
const providerTimeLayout = "20060102150405"

// CallbackAck describes what a provider callback did. Callers always acknowledge the provider, whatever the outcome.
type CallbackAck struct {
	Outcome        CallbackOutcome          `json:"outcome"`
	DisbursementID string                   `json:"disbursement_id,omitempty"`
	Status         model.DisbursementStatus `json:"status,omitempty"`
}

// HandleResultCallback finalizes an accepted disbursement from a provider result: success when the result code is 0,
// failed otherwise. Replays and late callbacks for finalized records are logged without mutation.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - raw []byte: The callback body exactly as received.
//
// Returns:
// - *CallbackAck: The reconciliation outcome.
// - error: An error if the payload is invalid or storage failed.
func (d *Disburse) HandleResultCallback(ctx context.Context, raw []byte) (*CallbackAck, error) {
	ctx, span := tracer.Start(ctx, "Handling result callback")
	defer span.End()
	return d.handleDisbursementCallback(ctx, model.CallbackB2CResult, raw)
}

// HandleTimeoutCallback moves an accepted disbursement to timeout.
func (d *Disburse) HandleTimeoutCallback(ctx context.Context, raw []byte) (*CallbackAck, error) {
	ctx, span := tracer.Start(ctx, "Handling timeout callback")
	defer span.End()
	return d.handleDisbursementCallback(ctx, model.CallbackB2CTimeout, raw)
}

func (d *Disburse) handleDisbursementCallback(ctx context.Context, typ model.CallbackType, raw []byte) (*CallbackAck, error) {
	entry := d.newCallbackLog(typ, raw)
	ack, err := d.reconcileDisbursement(ctx, typ, raw, entry)
	d.logCallback(ctx, entry, ack.Outcome)
	return ack, err
}

func (d *Disburse) reconcileDisbursement(ctx context.Context, typ model.CallbackType, raw []byte, entry *model.CallbackLog) (*CallbackAck, error) {
	cb, err := model.ParseProviderCallback(raw)
	if err != nil {
		return &CallbackAck{Outcome: OutcomeInvalid}, validationError(err)
	}
	result := cb.Result
	entry.ConversationID = result.ConversationID
	entry.OriginatorConversationID = result.OriginatorConversationID

	code, codeErr := result.Code()
	if typ == model.CallbackB2CResult && codeErr != nil {
		return &CallbackAck{Outcome: OutcomeInvalid}, validationError(codeErr)
	}

	disbursement, err := d.matchDisbursement(ctx, result)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			logrus.WithFields(logrus.Fields{
				"conversation_id":            result.ConversationID,
				"originator_conversation_id": result.OriginatorConversationID,
			}).Warn("callback matched no disbursement")
			return &CallbackAck{Outcome: OutcomeUnmatched}, nil
		}
		return &CallbackAck{Outcome: OutcomeError}, err
	}
	entry.DisbursementID = disbursement.DisbursementID
	entry.Matched = true
	ack := &CallbackAck{DisbursementID: disbursement.DisbursementID, Status: disbursement.Status}

	if disbursement.Status != model.StatusAccepted {
		logrus.WithFields(logrus.Fields{
			"disbursement_id": disbursement.DisbursementID,
			"status":          disbursement.Status,
			"callback_type":   typ,
		}).Info("callback for a disbursement that is not awaiting a result, ignoring")
		ack.Outcome = OutcomeAlreadyFinal
		return ack, nil
	}

	outcome := model.DisbursementResult{
		ResultDesc:    result.ResultDesc,
		TransactionID: result.TransactionID,
		CompletedAt:   d.now(),
	}
	switch {
	case typ == model.CallbackB2CTimeout:
		outcome.Status = model.StatusTimeout
		outcome.ResultCode = timeoutResultCode
		if codeErr == nil {
			outcome.ResultCode = code
		}
	case code == 0:
		outcome.Status = model.StatusSuccess
		outcome.ResultCode = code
	default:
		outcome.Status = model.StatusFailed
		outcome.ResultCode = code
	}
	if receipt, ok := result.Param("TransactionReceipt"); ok && receipt != "" {
		outcome.ReceiptNumber = receipt
	} else {
		outcome.ReceiptNumber = result.TransactionID
	}

	applied, err := d.datasource.FinalizeDisbursement(ctx, disbursement.DisbursementID, model.StatusAccepted, outcome)
	if err != nil {
		ack.Outcome = OutcomeError
		return ack, err
	}
	if !applied {
		ack.Outcome = OutcomeAlreadyFinal
		return ack, nil
	}

	disbursement.Status = outcome.Status
	disbursement.ResultCode = &outcome.ResultCode
	disbursement.ResultDesc = outcome.ResultDesc
	disbursement.TransactionID = outcome.TransactionID
	disbursement.ReceiptNumber = outcome.ReceiptNumber
	disbursement.CompletedAt = &outcome.CompletedAt
	disbursement.UpdatedAt = outcome.CompletedAt

	logrus.WithFields(logrus.Fields{
		"disbursement_id": disbursement.DisbursementID,
		"status":          disbursement.Status,
		"result_code":     outcome.ResultCode,
	}).Info("disbursement finalized")

	if typ == model.CallbackB2CResult {
		d.captureCallbackBalance(ctx, disbursement.PartnerID, result)
	}
	d.notifyPartner(ctx, nil, disbursement)

	ack.Status = disbursement.Status
	ack.Outcome = OutcomeFinalized
	return ack, nil
}

// matchDisbursement looks a callback up by conversation id, falling back to the Occasion reference item.
func (d *Disburse) matchDisbursement(ctx context.Context, result model.CallbackResult) (*model.Disbursement, error) {
	if result.ConversationID != "" {
		disbursement, err := d.datasource.GetDisbursementByConversationID(ctx, result.ConversationID)
		if err == nil {
			return disbursement, nil
		}
		if !apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, err
		}
	}

	if occasion := result.Occasion(); occasion != "" {
		return d.datasource.GetDisbursement(ctx, occasion)
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound, "no disbursement for callback", nil)
}

// captureCallbackBalance stores the account balances a result callback reports as a completed sample.
func (d *Disburse) captureCallbackBalance(ctx context.Context, partnerID string, result model.CallbackResult) {
	sample := &model.BalanceSample{
		SampleID:                 model.GenerateUUIDWithSuffix("bal"),
		PartnerID:                partnerID,
		Status:                   model.SampleCompleted,
		Source:                   model.SourceCallback,
		OriginatorConversationID: result.OriginatorConversationID,
		ConversationID:           result.ConversationID,
		CreatedAt:                d.now(),
	}
	sample.UtilityBalance = paramDecimal(result, "B2CUtilityAccountAvailableFunds")
	sample.WorkingBalance = paramDecimal(result, "B2CWorkingAccountAvailableFunds")
	sample.ChargesBalance = paramDecimal(result, "B2CChargesPaidAccountAvailableFunds")
	if sample.UtilityBalance == nil {
		return
	}
	if completed, ok := result.Param("TransactionCompletedDateTime"); ok {
		if ts, err := time.ParseInLocation("02.01.2006 15:04:05", completed, d.location); err == nil {
			sample.SourceTimestamp = &ts
		}
	}
	if err := d.datasource.RecordBalanceSample(ctx, sample); err != nil {
		logrus.WithError(err).WithField("partner_id", partnerID).Error("failed to record callback balance sample")
	}
}

func paramDecimal(result model.CallbackResult, key string) *decimal.Decimal {
	v, ok := result.Param(key)
	if !ok || v == "" {
		return nil
	}
	amount, err := decimal.NewFromString(v)
	if err != nil {
		return nil
	}
	return &amount
}

// HandleBalanceCallback completes the pending balance sample opened by a balance query.
func (d *Disburse) HandleBalanceCallback(ctx context.Context, raw []byte) (*CallbackAck, error) {
	ctx, span := tracer.Start(ctx, "Handling balance callback")
	defer span.End()
	return d.handleBalanceCallback(ctx, model.CallbackBalanceResult, raw)
}

// HandleBalanceTimeoutCallback marks the pending balance sample as failed.
func (d *Disburse) HandleBalanceTimeoutCallback(ctx context.Context, raw []byte) (*CallbackAck, error) {
	ctx, span := tracer.Start(ctx, "Handling balance timeout callback")
	defer span.End()
	return d.handleBalanceCallback(ctx, model.CallbackBalanceTimeout, raw)
}

func (d *Disburse) handleBalanceCallback(ctx context.Context, typ model.CallbackType, raw []byte) (*CallbackAck, error) {
	entry := d.newCallbackLog(typ, raw)
	ack, err := d.completeBalanceSample(ctx, typ, raw, entry)
	d.logCallback(ctx, entry, ack.Outcome)
	return ack, err
}

func (d *Disburse) completeBalanceSample(ctx context.Context, typ model.CallbackType, raw []byte, entry *model.CallbackLog) (*CallbackAck, error) {
	cb, err := model.ParseProviderCallback(raw)
	if err != nil {
		return &CallbackAck{Outcome: OutcomeInvalid}, validationError(err)
	}
	result := cb.Result
	entry.ConversationID = result.ConversationID
	entry.OriginatorConversationID = result.OriginatorConversationID

	sample := &model.BalanceSample{
		OriginatorConversationID: result.OriginatorConversationID,
		ConversationID:           result.ConversationID,
		Status:                   model.SampleFailed,
	}
	code, codeErr := result.Code()
	if typ == model.CallbackBalanceResult && codeErr == nil && code == 0 {
		accountBalance, _ := result.Param("AccountBalance")
		readings, err := model.ParseAccountBalance(accountBalance)
		if err != nil {
			logrus.WithError(err).WithField("originator_conversation_id", result.OriginatorConversationID).Warn("unreadable account balance")
		} else {
			sample.ApplyReadings(readings)
			sample.Status = model.SampleCompleted
		}
		if completed, ok := result.Param("BOCompletedTime"); ok {
			if ts, err := time.ParseInLocation(providerTimeLayout, completed, d.location); err == nil {
				sample.SourceTimestamp = &ts
			}
		}
	}

	applied, err := d.datasource.CompleteBalanceSample(ctx, sample)
	if err != nil {
		return &CallbackAck{Outcome: OutcomeError}, err
	}
	if !applied {
		logrus.WithField("originator_conversation_id", result.OriginatorConversationID).Warn("balance callback matched no pending sample")
		return &CallbackAck{Outcome: OutcomeUnmatched}, nil
	}
	entry.Matched = true
	return &CallbackAck{Outcome: OutcomeRecorded}, nil
}

func (d *Disburse) newCallbackLog(typ model.CallbackType, raw []byte) *model.CallbackLog {
	return &model.CallbackLog{
		CallbackID:   model.GenerateUUIDWithSuffix("cbk"),
		CallbackType: typ,
		Payload:      json.RawMessage(raw),
		CreatedAt:    d.now(),
	}
}

// logCallback appends the callback to the audit log. Failures are logged; the provider is acknowledged regardless.
func (d *Disburse) logCallback(ctx context.Context, entry *model.CallbackLog, outcome CallbackOutcome) {
	entry.Outcome = string(outcome)
	callbacksTotal.WithLabelValues(string(entry.CallbackType), string(outcome)).Inc()
	if err := d.datasource.RecordCallback(context.WithoutCancel(ctx), entry); err != nil {
		logrus.WithError(err).WithField("callback_id", entry.CallbackID).Error(fmt.Sprintf("failed to log %s callback", entry.CallbackType))
	}
}
