package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	"github.com/shopspring/decimal"
)

const sampleColumns = `sample_id, partner_id, working_balance, utility_balance, charges_balance, currency, status, source,
	originator_conversation_id, conversation_id, source_timestamp, created_at`

func (d Datasource) RecordBalanceSample(ctx context.Context, sample *model.BalanceSample) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO disburse.balance_samples (`+sampleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sample.SampleID, sample.PartnerID, nullDecimal(sample.WorkingBalance), nullDecimal(sample.UtilityBalance),
		nullDecimal(sample.ChargesBalance), sample.Currency, sample.Status, sample.Source,
		nullString(sample.OriginatorConversationID), nullString(sample.ConversationID), sample.SourceTimestamp, sample.CreatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record balance sample", err)
	}
	return nil
}

func (d Datasource) GetLatestCompletedSample(ctx context.Context, partnerID string) (*model.BalanceSample, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+sampleColumns+`
		FROM disburse.balance_samples
		WHERE partner_id = $1 AND status = 'completed'
		ORDER BY created_at DESC
		LIMIT 1`, partnerID)

	var (
		sample                     model.BalanceSample
		working, utility, charges  decimal.NullDecimal
		originatorID, conversation sql.NullString
		sourceTimestamp            sql.NullTime
	)
	err := row.Scan(&sample.SampleID, &sample.PartnerID, &working, &utility, &charges, &sample.Currency, &sample.Status,
		&sample.Source, &originatorID, &conversation, &sourceTimestamp, &sample.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No completed balance sample for partner '%s'", partnerID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve balance sample", err)
	}
	sample.WorkingBalance = decimalPtr(working)
	sample.UtilityBalance = decimalPtr(utility)
	sample.ChargesBalance = decimalPtr(charges)
	sample.OriginatorConversationID = originatorID.String
	sample.ConversationID = conversation.String
	sample.SourceTimestamp = timePtr(sourceTimestamp)
	return &sample, nil
}

// AttachBalanceSampleConversation stores the conversation ID the provider assigned to a pending balance query.
func (d Datasource) AttachBalanceSampleConversation(ctx context.Context, sampleID, conversationID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE disburse.balance_samples
		SET conversation_id = $2
		WHERE sample_id = $1 AND status = 'pending'`,
		sampleID, conversationID,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to attach balance sample conversation", err)
	}
	return nil
}

// CompleteBalanceSample finalizes the pending query sample matching either the originator conversation ID we sent
// or the conversation ID the provider returned.
func (d Datasource) CompleteBalanceSample(ctx context.Context, sample *model.BalanceSample) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE disburse.balance_samples
		SET working_balance = $2, utility_balance = $3, charges_balance = $4, currency = COALESCE(NULLIF($5, ''), currency),
			status = $6, conversation_id = COALESCE($7, conversation_id), source_timestamp = $8
		WHERE status = 'pending'
			AND (originator_conversation_id = $1 OR ($9 <> '' AND conversation_id = $9))`,
		sample.OriginatorConversationID, nullDecimal(sample.WorkingBalance), nullDecimal(sample.UtilityBalance),
		nullDecimal(sample.ChargesBalance), sample.Currency, sample.Status, nullString(sample.ConversationID), sample.SourceTimestamp,
		sample.ConversationID,
	)
	return applied(result, err, "Failed to complete balance sample")
}

func (d Datasource) RecordBalanceAlert(ctx context.Context, alert *model.BalanceAlert) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO disburse.balance_alerts (alert_id, partner_id, threshold, balance, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		alert.AlertID, alert.PartnerID, alert.Threshold, alert.Balance, alert.CreatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record balance alert", err)
	}
	return nil
}

func (d Datasource) GetLatestBalanceAlert(ctx context.Context, partnerID string) (*model.BalanceAlert, error) {
	alert := &model.BalanceAlert{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT alert_id, partner_id, threshold, balance, created_at
		FROM disburse.balance_alerts
		WHERE partner_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, partnerID,
	).Scan(&alert.AlertID, &alert.PartnerID, &alert.Threshold, &alert.Balance, &alert.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No balance alert for partner '%s'", partnerID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve balance alert", err)
	}
	return alert, nil
}
