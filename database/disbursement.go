package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

const disbursementColumns = `disbursement_id, client_request_id, partner_id, customer_id, msisdn, amount, client_ip, channel, status,
	conversation_id, originator_conversation_id, transaction_id, receipt_number, result_code, result_desc, meta_data,
	created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func activeStatuses() interface{} {
	statuses := make([]string, 0, len(model.ActiveStatuses))
	for _, s := range model.ActiveStatuses {
		statuses = append(statuses, string(s))
	}
	return pq.Array(statuses)
}

func scanDisbursement(row rowScanner) (*model.Disbursement, error) {
	d := &model.Disbursement{}
	var (
		clientIP, channel, conversationID, originatorID sql.NullString
		transactionID, receipt, resultDesc              sql.NullString
		resultCode                                      sql.NullInt64
		metaData                                        []byte
		completedAt                                     sql.NullTime
	)
	err := row.Scan(
		&d.DisbursementID, &d.ClientRequestID, &d.PartnerID, &d.CustomerID, &d.MSISDN, &d.Amount,
		&clientIP, &channel, &d.Status, &conversationID, &originatorID, &transactionID, &receipt,
		&resultCode, &resultDesc, &metaData, &d.CreatedAt, &d.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	d.ClientIP = clientIP.String
	d.Channel = channel.String
	d.ConversationID = conversationID.String
	d.OriginatorConversationID = originatorID.String
	d.TransactionID = transactionID.String
	d.ReceiptNumber = receipt.String
	d.ResultDesc = resultDesc.String
	d.CompletedAt = timePtr(completedAt)
	if resultCode.Valid {
		code := int(resultCode.Int64)
		d.ResultCode = &code
	}
	if len(metaData) > 0 && string(metaData) != "null" {
		var envelope model.MetadataEnvelope
		if err := json.Unmarshal(metaData, &envelope); err != nil {
			return nil, fmt.Errorf("decode meta_data: %w", err)
		}
		d.MetaData = &envelope
	}
	return d, nil
}

func (d Datasource) CreateDisbursement(ctx context.Context, disbursement *model.Disbursement) error {
	ctx, span := otel.Tracer("disburse.database").Start(ctx, "Saving disbursement to db")
	defer span.End()

	var metaData []byte
	if disbursement.MetaData != nil {
		var err error
		metaData, err = json.Marshal(disbursement.MetaData)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
		}
	}

	var resultCode sql.NullInt64
	if disbursement.ResultCode != nil {
		resultCode = sql.NullInt64{Int64: int64(*disbursement.ResultCode), Valid: true}
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO disburse.disbursements (`+disbursementColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		disbursement.DisbursementID, disbursement.ClientRequestID, disbursement.PartnerID, disbursement.CustomerID,
		disbursement.MSISDN, disbursement.Amount, nullString(disbursement.ClientIP), nullString(disbursement.Channel),
		disbursement.Status, nullString(disbursement.ConversationID), nullString(disbursement.OriginatorConversationID),
		nullString(disbursement.TransactionID), nullString(disbursement.ReceiptNumber), resultCode,
		nullString(disbursement.ResultDesc), metaData, disbursement.CreatedAt, disbursement.UpdatedAt, disbursement.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Disbursement for request '%s' already exists", disbursement.ClientRequestID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record disbursement", err)
	}
	return nil
}

func (d Datasource) getDisbursement(ctx context.Context, notFound string, where string, args ...interface{}) (*model.Disbursement, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+disbursementColumns+` FROM disburse.disbursements WHERE `+where, args...)
	disbursement, err := scanDisbursement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, notFound, err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve disbursement", err)
	}
	return disbursement, nil
}

func (d Datasource) GetDisbursement(ctx context.Context, id string) (*model.Disbursement, error) {
	return d.getDisbursement(ctx, fmt.Sprintf("Disbursement with ID '%s' not found", id), `disbursement_id = $1`, id)
}

func (d Datasource) GetDisbursementByClientRequestID(ctx context.Context, partnerID, clientRequestID string) (*model.Disbursement, error) {
	return d.getDisbursement(ctx,
		fmt.Sprintf("Disbursement with client request ID '%s' not found", clientRequestID),
		`partner_id = $1 AND client_request_id = $2 AND status <> 'rejected' ORDER BY created_at DESC LIMIT 1`,
		partnerID, clientRequestID)
}

func (d Datasource) GetDisbursementByConversationID(ctx context.Context, conversationID string) (*model.Disbursement, error) {
	return d.getDisbursement(ctx,
		fmt.Sprintf("Disbursement with conversation ID '%s' not found", conversationID),
		`conversation_id = $1`, conversationID)
}

func (d Datasource) listDisbursements(ctx context.Context, column, partnerID, value string, since time.Time) ([]model.Disbursement, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+disbursementColumns+`
		FROM disburse.disbursements
		WHERE partner_id = $1 AND `+column+` = $2 AND created_at >= $3 AND status = ANY($4)
		ORDER BY created_at DESC`,
		partnerID, value, since, activeStatuses(),
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve recent disbursements", err)
	}
	defer rows.Close()

	var disbursements []model.Disbursement
	for rows.Next() {
		disbursement, err := scanDisbursement(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan disbursement", err)
		}
		disbursements = append(disbursements, *disbursement)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate disbursements", err)
	}
	return disbursements, nil
}

func (d Datasource) GetCustomerDisbursementsSince(ctx context.Context, partnerID, customerID string, since time.Time) ([]model.Disbursement, error) {
	return d.listDisbursements(ctx, "customer_id", partnerID, customerID, since)
}

func (d Datasource) GetIPDisbursementsSince(ctx context.Context, partnerID, clientIP string, since time.Time) ([]model.Disbursement, error) {
	return d.listDisbursements(ctx, "client_ip", partnerID, clientIP, since)
}

func (d Datasource) dailyUsage(ctx context.Context, column, partnerID, value string, since time.Time) (model.DailyUsage, error) {
	usage := model.DailyUsage{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM disburse.disbursements
		WHERE partner_id = $1 AND `+column+` = $2 AND created_at >= $3 AND status = ANY($4)`,
		partnerID, value, since, activeStatuses(),
	).Scan(&usage.Count, &usage.Amount)
	if err != nil {
		return usage, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute daily usage", err)
	}
	return usage, nil
}

func (d Datasource) GetCustomerDailyUsage(ctx context.Context, partnerID, customerID string, since time.Time) (model.DailyUsage, error) {
	return d.dailyUsage(ctx, "customer_id", partnerID, customerID, since)
}

func (d Datasource) GetIPDailyUsage(ctx context.Context, partnerID, clientIP string, since time.Time) (model.DailyUsage, error) {
	return d.dailyUsage(ctx, "client_ip", partnerID, clientIP, since)
}

func applied(result sql.Result, err error, message string) (bool, error) {
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, message, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected == 1, nil
}

func (d Datasource) TransitionDisbursement(ctx context.Context, id string, from, to model.DisbursementStatus) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE disburse.disbursements
		SET status = $3, updated_at = NOW()
		WHERE disbursement_id = $1 AND status = $2`,
		id, from, to,
	)
	return applied(result, err, "Failed to update disbursement status")
}

func (d Datasource) AcceptQueuedDisbursement(ctx context.Context, id, conversationID, originatorConversationID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE disburse.disbursements
		SET status = 'accepted', conversation_id = $2, originator_conversation_id = $3, updated_at = NOW()
		WHERE disbursement_id = $1 AND status = 'queued'`,
		id, conversationID, originatorConversationID,
	)
	return applied(result, err, "Failed to accept queued disbursement")
}

func (d Datasource) FinalizeDisbursement(ctx context.Context, id string, from model.DisbursementStatus, res model.DisbursementResult) (bool, error) {
	ctx, span := otel.Tracer("disburse.database").Start(ctx, "Finalizing disbursement")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE disburse.disbursements
		SET status = $3,
			result_code = $4,
			result_desc = $5,
			transaction_id = COALESCE(NULLIF($6, ''), transaction_id),
			receipt_number = COALESCE(NULLIF($7, ''), receipt_number),
			completed_at = $8,
			updated_at = NOW()
		WHERE disbursement_id = $1 AND status = $2`,
		id, from, res.Status, res.ResultCode, res.ResultDesc, res.TransactionID, res.ReceiptNumber, res.CompletedAt,
	)
	return applied(result, err, "Failed to finalize disbursement")
}
