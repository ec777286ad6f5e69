package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
)

const queueColumns = `queue_item_id, disbursement_id, partner_id, priority, retry_count, max_retries, next_retry_at,
	status, last_error, created_at, updated_at`

func (d Datasource) EnqueueItem(ctx context.Context, item *model.QueueItem) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO disburse.insufficient_funds_queue (`+queueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		item.QueueItemID, item.DisbursementID, item.PartnerID, item.Priority, item.RetryCount, item.MaxRetries,
		item.NextRetryAt, item.Status, nullString(item.LastError), item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrConflict, "Disbursement is already queued", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to enqueue disbursement", err)
	}
	return nil
}

func (d Datasource) queryQueueItems(ctx context.Context, condition string, at time.Time, limit int) ([]model.QueueItem, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM disburse.insufficient_funds_queue
		WHERE status = 'queued' AND next_retry_at <= $1 AND `+condition+`
		ORDER BY priority DESC, created_at ASC
		LIMIT $2`, at, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve queue items", err)
	}
	defer rows.Close()

	var items []model.QueueItem
	for rows.Next() {
		var (
			item      model.QueueItem
			lastError sql.NullString
		)
		err := rows.Scan(&item.QueueItemID, &item.DisbursementID, &item.PartnerID, &item.Priority, &item.RetryCount,
			&item.MaxRetries, &item.NextRetryAt, &item.Status, &lastError, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan queue item", err)
		}
		item.LastError = lastError.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate queue items", err)
	}
	return items, nil
}

func (d Datasource) GetDueQueueItems(ctx context.Context, at time.Time, limit int) ([]model.QueueItem, error) {
	return d.queryQueueItems(ctx, "retry_count < max_retries", at, limit)
}

func (d Datasource) GetExhaustedQueueItems(ctx context.Context, at time.Time, limit int) ([]model.QueueItem, error) {
	return d.queryQueueItems(ctx, "retry_count >= max_retries", at, limit)
}

func (d Datasource) TransitionQueueItem(ctx context.Context, id string, from, to model.QueueItemStatus, lastError string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE disburse.insufficient_funds_queue
		SET status = $3, last_error = COALESCE(NULLIF($4, ''), last_error), updated_at = NOW()
		WHERE queue_item_id = $1 AND status = $2`,
		id, from, to, lastError,
	)
	return applied(result, err, "Failed to update queue item status")
}

// RescheduleQueueItem bumps the retry count only if nobody else moved the item since retryCount was read.
func (d Datasource) RescheduleQueueItem(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE disburse.insufficient_funds_queue
		SET retry_count = retry_count + 1, next_retry_at = $3, last_error = $4, updated_at = NOW()
		WHERE queue_item_id = $1 AND status = 'queued' AND retry_count = $2`,
		id, retryCount, nextRetryAt, lastError,
	)
	return applied(result, err, "Failed to reschedule queue item")
}
