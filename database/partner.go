package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	"github.com/shopspring/decimal"
)

const partnerColumns = `partner_id, name, short_code, initiator_name, api_key_hash, encrypted_credentials, consumer_key,
	consumer_secret, security_credential, use_shared_credentials, queue_on_insufficient_funds, webhook_url,
	balance_alert_threshold, balance_check_interval_minutes, last_balance_check_at, created_at`

func scanPartner(row rowScanner) (*model.Partner, error) {
	p := &model.Partner{}
	var (
		encrypted, consumerKey, consumerSecret, securityCredential, webhookURL sql.NullString
		threshold                                                              decimal.NullDecimal
		lastCheck                                                              sql.NullTime
	)
	err := row.Scan(
		&p.PartnerID, &p.Name, &p.ShortCode, &p.InitiatorName, &p.APIKeyHash, &encrypted, &consumerKey,
		&consumerSecret, &securityCredential, &p.UseSharedCredentials, &p.QueueOnInsufficientFunds, &webhookURL,
		&threshold, &p.BalanceCheckInterval, &lastCheck, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.EncryptedCredentials = encrypted.String
	p.ConsumerKey = consumerKey.String
	p.ConsumerSecret = consumerSecret.String
	p.SecurityCredential = securityCredential.String
	p.WebhookURL = webhookURL.String
	p.BalanceAlertThreshold = decimalPtr(threshold)
	p.LastBalanceCheckAt = timePtr(lastCheck)
	return p, nil
}

func (d Datasource) getPartner(ctx context.Context, notFound, where string, arg string) (*model.Partner, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+partnerColumns+` FROM disburse.partners WHERE `+where, arg)
	p, err := scanPartner(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, notFound, err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve partner", err)
	}
	return p, nil
}

func (d Datasource) GetPartner(ctx context.Context, id string) (*model.Partner, error) {
	return d.getPartner(ctx, fmt.Sprintf("Partner with ID '%s' not found", id), `partner_id = $1`, id)
}

func (d Datasource) GetPartnerByAPIKeyHash(ctx context.Context, hash string) (*model.Partner, error) {
	return d.getPartner(ctx, "Partner not found for API key", `api_key_hash = $1`, hash)
}

func (d Datasource) GetPartners(ctx context.Context) ([]model.Partner, error) {
	rows, err := d.Conn.QueryContext(ctx, `SELECT `+partnerColumns+` FROM disburse.partners ORDER BY created_at`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve partners", err)
	}
	defer rows.Close()

	var partners []model.Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan partner", err)
		}
		partners = append(partners, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate partners", err)
	}
	return partners, nil
}

// UpdatePartnerCredentials replaces the credential ciphertext inside a transaction that locks the partner row.
func (d Datasource) UpdatePartnerCredentials(ctx context.Context, partnerID, ciphertext string) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT partner_id FROM disburse.partners WHERE partner_id = $1 FOR UPDATE`, partnerID).Scan(&existing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Partner with ID '%s' not found", partnerID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock partner", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE disburse.partners SET encrypted_credentials = $2 WHERE partner_id = $1`, partnerID, ciphertext)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to store partner credentials", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return nil
}

func (d Datasource) UpdateLastBalanceCheck(ctx context.Context, partnerID string, at time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `UPDATE disburse.partners SET last_balance_check_at = $2 WHERE partner_id = $1`, partnerID, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update last balance check", err)
	}
	return nil
}
