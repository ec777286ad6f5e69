package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	"github.com/shopspring/decimal"
)

func (d Datasource) GetEnabledRules(ctx context.Context, partnerID string) ([]model.DuplicatePreventionRule, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT rule_id, partner_id, rule_type, time_window_minutes, amount_tolerance_percent, action,
			daily_count_limit, daily_amount_limit, ip_daily_count_limit, ip_daily_amount_limit, enabled, created_at
		FROM disburse.duplicate_prevention_rules
		WHERE partner_id = $1 AND enabled = TRUE
		ORDER BY created_at`, partnerID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve duplicate prevention rules", err)
	}
	defer rows.Close()

	var rules []model.DuplicatePreventionRule
	for rows.Next() {
		var (
			rule                    model.DuplicatePreventionRule
			dailyAmount, ipDailyAmt decimal.NullDecimal
		)
		err := rows.Scan(&rule.RuleID, &rule.PartnerID, &rule.RuleType, &rule.TimeWindowMinutes, &rule.AmountTolerancePercent,
			&rule.Action, &rule.DailyCountLimit, &dailyAmount, &rule.IPDailyCountLimit, &ipDailyAmt, &rule.Enabled, &rule.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan duplicate prevention rule", err)
		}
		rule.DailyAmountLimit = decimalPtr(dailyAmount)
		rule.IPDailyAmountLimit = decimalPtr(ipDailyAmt)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate duplicate prevention rules", err)
	}
	return rules, nil
}

// GetActiveBlocks returns unexpired blocks on the customer or the client IP.
func (d Datasource) GetActiveBlocks(ctx context.Context, partnerID, customerID, clientIP string, at time.Time) ([]model.Block, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT block_id, partner_id, block_type, value, reason, amount, expires_at, created_at
		FROM disburse.blocks
		WHERE partner_id = $1
			AND ((block_type = 'customer' AND value = $2) OR (block_type = 'ip' AND value = $3))
			AND (expires_at IS NULL OR expires_at > $4)
		ORDER BY created_at DESC`, partnerID, customerID, clientIP, at)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve blocks", err)
	}
	defer rows.Close()

	var blocks []model.Block
	for rows.Next() {
		var (
			block     model.Block
			amount    decimal.NullDecimal
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&block.BlockID, &block.PartnerID, &block.BlockType, &block.Value, &block.Reason, &amount, &expiresAt, &block.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan block", err)
		}
		block.Amount = decimalPtr(amount)
		block.ExpiresAt = timePtr(expiresAt)
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate blocks", err)
	}
	return blocks, nil
}

func (d Datasource) CreateBlock(ctx context.Context, block *model.Block) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO disburse.blocks (block_id, partner_id, block_type, value, reason, amount, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		block.BlockID, block.PartnerID, block.BlockType, block.Value, block.Reason, nullDecimal(block.Amount), block.ExpiresAt, block.CreatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create block", err)
	}
	return nil
}

func (d Datasource) RecordDetection(ctx context.Context, detection *model.DuplicateDetection) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO disburse.duplicate_detections (detection_id, partner_id, customer_id, client_ip, client_request_id,
			detection_type, rule_type, time_window_minutes, amount, matched_amount, amount_difference, percentage_difference,
			matched_disbursement_id, action_taken, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		detection.DetectionID, detection.PartnerID, nullString(detection.CustomerID), nullString(detection.ClientIP),
		nullString(detection.ClientRequestID), detection.DetectionType, nullString(string(detection.RuleType)),
		detection.TimeWindowMinutes, detection.Amount, nullDecimal(detection.MatchedAmount), nullDecimal(detection.AmountDifference),
		nullDecimal(detection.PercentageDifference), nullString(detection.MatchedDisbursementID), detection.ActionTaken,
		detection.Reason, detection.CreatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record duplicate detection", err)
	}
	return nil
}
