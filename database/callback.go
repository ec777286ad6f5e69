package database

import (
	"context"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
)

func (d Datasource) RecordCallback(ctx context.Context, entry *model.CallbackLog) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO disburse.callback_logs (callback_id, callback_type, conversation_id, originator_conversation_id,
			disbursement_id, matched, outcome, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.CallbackID, entry.CallbackType, nullString(entry.ConversationID), nullString(entry.OriginatorConversationID),
		nullString(entry.DisbursementID), entry.Matched, entry.Outcome, string(entry.Payload), entry.CreatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record callback", err)
	}
	return nil
}
