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
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/internal/apierror"
	redlock "github.com/blnkfinance/disburse/internal/lock"
	"github.com/blnkfinance/disburse/internal/notification"
	"github.com/blnkfinance/disburse/internal/provider"
	"github.com/blnkfinance/disburse/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MSISDNPattern is the accepted payee number format.
var MSISDNPattern = regexp.MustCompile(`^254\d{9}$`)

const defaultRemarks = "Disbursement"

// DisbursementInput is a validated request to pay a customer.
type DisbursementInput struct {
	PartnerID       string
	CustomerID      string
	MSISDN          string
	Amount          decimal.Decimal
	ClientIP        string
	ClientRequestID string
	Channel         string
	Priority        int
	Remarks         string
	MetaData        *model.MetadataEnvelope
}

// DisbursementResult is the synchronous outcome of Disburse. Queued results are pending, not failed.
type DisbursementResult struct {
	Disbursement *model.Disbursement
	Queued       bool
	QueueItem    *model.QueueItem
	Funds        *FundsCheck
}

// Validate checks required fields, the payee format and the configured amount bounds.
func (in DisbursementInput) Validate(limits config.LimitsConfig) error {
	minAmount := decimal.NewFromInt(limits.MinAmount)
	maxAmount := decimal.NewFromInt(limits.MaxAmount)
	return validation.ValidateStruct(&in,
		validation.Field(&in.PartnerID, validation.Required),
		validation.Field(&in.CustomerID, validation.Required),
		validation.Field(&in.ClientRequestID, validation.Required, validation.Length(1, 128)),
		validation.Field(&in.MSISDN, validation.Required, validation.Match(MSISDNPattern).Error("must be in the format 254XXXXXXXXX")),
		validation.Field(&in.Amount, validation.By(func(value interface{}) error {
			amount, _ := value.(decimal.Decimal)
			if amount.LessThan(minAmount) || amount.GreaterThan(maxAmount) {
				return fmt.Errorf("must be between %s and %s", minAmount, maxAmount)
			}
			if !amount.Equal(amount.Truncate(0)) {
				return errors.New("must be a whole amount")
			}
			return nil
		})),
		validation.Field(&in.Remarks, validation.Length(0, 100)),
	)
}

func (in DisbursementInput) guardInput() GuardInput {
	return GuardInput{
		PartnerID:       in.PartnerID,
		CustomerID:      in.CustomerID,
		MSISDN:          in.MSISDN,
		Amount:          in.Amount,
		ClientIP:        in.ClientIP,
		ClientRequestID: in.ClientRequestID,
		Channel:         in.Channel,
	}
}

func (in DisbursementInput) newDisbursement(status model.DisbursementStatus, now time.Time) *model.Disbursement {
	return &model.Disbursement{
		DisbursementID:  model.GenerateUUIDWithSuffix("dsb"),
		ClientRequestID: in.ClientRequestID,
		PartnerID:       in.PartnerID,
		CustomerID:      in.CustomerID,
		MSISDN:          in.MSISDN,
		Amount:          in.Amount,
		ClientIP:        in.ClientIP,
		Channel:         in.Channel,
		Status:          status,
		MetaData:        in.MetaData,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Disburse validates, guards, funds-checks and submits a disbursement.
// A row in status accepted is written only after the provider acknowledged the payment; any provider failure
// leaves no row behind, so the caller may retry with the same client_request_id.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - in DisbursementInput: The disbursement request.
//
// Returns:
// - *DisbursementResult: The accepted or queued disbursement.
// - error: An apierror.APIError carrying the rejection code.
func (d *Disburse) Disburse(ctx context.Context, in DisbursementInput) (*DisbursementResult, error) {
	ctx, span := tracer.Start(ctx, "Disburse", trace.WithAttributes(
		attribute.String("partner.id", in.PartnerID),
		attribute.String("disbursement.client_request_id", in.ClientRequestID),
	))
	defer span.End()

	if err := in.Validate(d.cnf.Limits); err != nil {
		disbursementsTotal.WithLabelValues("invalid").Inc()
		return nil, validationError(err)
	}
	if in.Remarks == "" {
		in.Remarks = defaultRemarks
	}

	partner, err := d.datasource.GetPartner(ctx, in.PartnerID)
	if err != nil {
		return nil, err
	}

	release, err := d.acquireInflight(ctx, in)
	if err != nil {
		disbursementsTotal.WithLabelValues("duplicate").Inc()
		return nil, err
	}
	defer release()

	guard, err := d.CheckForDuplicates(ctx, in.guardInput())
	if err != nil {
		return nil, err
	}
	if !guard.Allowed {
		disbursementsTotal.WithLabelValues("blocked").Inc()
		return nil, guard.Err()
	}

	funds, err := d.CheckInsufficientFunds(ctx, partner, in.Amount)
	if err != nil {
		return nil, err
	}
	if !funds.Sufficient {
		if funds.ShouldQueue {
			return d.queueDisbursement(ctx, partner, in, funds)
		}
		disbursementsTotal.WithLabelValues("insufficient_funds").Inc()
		return nil, apierror.NewAPIError(apierror.ErrInsufficientFunds,
			fmt.Sprintf("insufficient funds: available %s, shortfall %s", funds.CurrentBalance, funds.Shortfall), nil)
	}

	creds, _, err := d.resolveCredentials(partner)
	if err != nil {
		return nil, err
	}

	// A client disconnect must not abandon a payment the provider may already be executing.
	ctx = context.WithoutCancel(ctx)
	disbursement := in.newDisbursement(model.StatusAccepted, d.now())
	resp, err := d.submit(ctx, creds, disbursement, in.Remarks)
	if err != nil {
		disbursementsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	disbursement.ConversationID = resp.ConversationID
	disbursement.OriginatorConversationID = resp.OriginatorConversationID
	if disbursement.OriginatorConversationID == "" {
		disbursement.OriginatorConversationID = disbursement.DisbursementID
	}

	if err := d.persistAccepted(ctx, disbursement); err != nil {
		return nil, err
	}

	disbursementsTotal.WithLabelValues(string(model.StatusAccepted)).Inc()
	d.notifyPartner(ctx, partner, disbursement)
	return &DisbursementResult{Disbursement: disbursement, Funds: funds}, nil
}

// acquireInflight takes the redis lock for the idempotency key. Only a held lock is an error:
// if redis is unavailable the request proceeds and the unique constraint arbitrates.
func (d *Disburse) acquireInflight(ctx context.Context, in DisbursementInput) (func(), error) {
	noop := func() {}
	if d.locks == nil {
		return noop, nil
	}
	ttl := time.Duration(d.cnf.Queue.InflightLockSecs) * time.Second
	unlock, err := d.locks.Acquire(ctx, in.PartnerID, in.ClientRequestID, ttl)
	if err != nil {
		if errors.Is(err, redlock.ErrLockHeld) {
			return nil, duplicateError(fmt.Sprintf("request %s is already being processed", in.ClientRequestID), nil)
		}
		logrus.WithError(err).Warn("in-flight lock unavailable, relying on the unique constraint")
		return noop, nil
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.WithError(err).Warn("failed to release in-flight lock")
		}
	}, nil
}

// submit obtains an access token and sends the payment. The internal disbursement id travels as the
// originator conversation id and as the Occasion so callbacks can be matched either way.
func (d *Disburse) submit(ctx context.Context, creds *model.PartnerCredentials, disbursement *model.Disbursement, remarks string) (*provider.PaymentResponse, error) {
	ctx, span := tracer.Start(ctx, "Submitting payment to provider",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("disbursement.id", disbursement.DisbursementID)),
	)
	defer span.End()

	token, err := d.gateway.GetAccessToken(ctx, *creds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
		return nil, providerError("authentication", err)
	}

	timer := prometheus.NewTimer(providerLatency.WithLabelValues("payment"))
	resp, err := d.gateway.SubmitPayment(ctx, token, provider.PaymentRequest{
		OriginatorConversationID: disbursement.DisbursementID,
		InitiatorName:            creds.InitiatorName,
		SecurityCredential:       creds.SecurityCredential,
		CommandID:                d.cnf.Provider.CommandID,
		Amount:                   disbursement.Amount,
		ShortCode:                creds.ShortCode,
		MSISDN:                   disbursement.MSISDN,
		Remarks:                  remarks,
		Occasion:                 disbursement.DisbursementID,
	})
	timer.ObserveDuration()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment submission failed")
		return nil, providerError("payment submission", err)
	}
	if !resp.Accepted() || resp.ConversationID == "" {
		return nil, providerError("payment submission", &provider.RejectionError{Code: resp.ResponseCode, Description: resp.ResponseDescription})
	}
	return resp, nil
}

// persistAccepted records a provider-accepted disbursement. It never retries: a second attempt could only
// come from a second provider submission.
func (d *Disburse) persistAccepted(ctx context.Context, disbursement *model.Disbursement) error {
	err := d.datasource.CreateDisbursement(ctx, disbursement)
	if err == nil {
		return nil
	}

	if apierror.HasCode(err, apierror.ErrConflict) {
		existing, lookupErr := d.datasource.GetDisbursementByClientRequestID(ctx, disbursement.PartnerID, disbursement.ClientRequestID)
		if lookupErr != nil {
			existing = nil
		}
		d.reportIncident(ctx, "Concurrent duplicate reached the provider", &PersistenceIncident{
			DisbursementID:           disbursement.DisbursementID,
			PartnerID:                disbursement.PartnerID,
			ClientRequestID:          disbursement.ClientRequestID,
			ConversationID:           disbursement.ConversationID,
			OriginatorConversationID: disbursement.OriginatorConversationID,
			Err:                      err,
		})
		disbursementsTotal.WithLabelValues("duplicate").Inc()
		return duplicateError(fmt.Sprintf("request %s was already processed", disbursement.ClientRequestID), existing)
	}

	incident := &PersistenceIncident{
		DisbursementID:           disbursement.DisbursementID,
		PartnerID:                disbursement.PartnerID,
		ClientRequestID:          disbursement.ClientRequestID,
		ConversationID:           disbursement.ConversationID,
		OriginatorConversationID: disbursement.OriginatorConversationID,
		Err:                      err,
	}
	d.reportIncident(ctx, "Disbursement accepted but not recorded", incident)
	return apierror.NewAPIError(apierror.ErrPersistence,
		fmt.Sprintf("disbursement accepted by provider (conversation %s) but could not be recorded", disbursement.ConversationID), incident)
}

// reportIncident raises a critical operator alert for money that may be moving without a local record.
func (d *Disburse) reportIncident(ctx context.Context, title string, incident *PersistenceIncident) {
	persistenceIncidents.Inc()
	logrus.WithFields(logrus.Fields{
		"severity":                   "critical",
		"disbursement_id":            incident.DisbursementID,
		"partner_id":                 incident.PartnerID,
		"client_request_id":          incident.ClientRequestID,
		"conversation_id":            incident.ConversationID,
		"originator_conversation_id": incident.OriginatorConversationID,
	}).WithError(incident.Err).Error(title)

	if d.notifier == nil {
		return
	}
	msg := notification.Message{
		Title:    title,
		Severity: notification.SeverityCritical,
		Fields: []notification.Field{
			{Name: "Disbursement", Value: incident.DisbursementID},
			{Name: "Partner", Value: incident.PartnerID},
			{Name: "Client request", Value: incident.ClientRequestID},
			{Name: "Conversation", Value: incident.ConversationID},
			{Name: "Error", Value: incident.Err.Error()},
		},
		Time: d.now(),
	}
	if err := d.notifier.Notify(context.WithoutCancel(ctx), msg); err != nil {
		logrus.WithError(err).Error("failed to deliver persistence incident alert")
	}
}

// queueDisbursement records a queued row, which holds the idempotency key, and defers it on the funds queue.
func (d *Disburse) queueDisbursement(ctx context.Context, partner *model.Partner, in DisbursementInput, funds *FundsCheck) (*DisbursementResult, error) {
	disbursement := in.newDisbursement(model.StatusQueued, d.now())
	if err := d.datasource.CreateDisbursement(ctx, disbursement); err != nil {
		if apierror.HasCode(err, apierror.ErrConflict) {
			existing, _ := d.datasource.GetDisbursementByClientRequestID(ctx, in.PartnerID, in.ClientRequestID)
			return nil, duplicateError(fmt.Sprintf("request %s was already processed", in.ClientRequestID), existing)
		}
		return nil, err
	}

	item, err := d.Enqueue(ctx, disbursement, in.Priority)
	if err != nil {
		if _, terr := d.datasource.TransitionDisbursement(ctx, disbursement.DisbursementID, model.StatusQueued, model.StatusRejected); terr != nil {
			logrus.WithError(terr).WithField("disbursement_id", disbursement.DisbursementID).Error("failed to release queued disbursement")
		}
		return nil, err
	}

	disbursementsTotal.WithLabelValues(string(model.StatusQueued)).Inc()
	logrus.WithFields(logrus.Fields{
		"disbursement_id": disbursement.DisbursementID,
		"shortfall":       funds.Shortfall.String(),
		"next_retry_at":   item.NextRetryAt,
	}).Info("disbursement queued for insufficient funds")
	d.notifyPartner(ctx, partner, disbursement)
	return &DisbursementResult{Disbursement: disbursement, Queued: true, QueueItem: item, Funds: funds}, nil
}

// ProcessQueuedDisbursement submits a disbursement claimed from the funds queue and moves it
// queued -> accepted, or queued -> rejected when an active block matches or the submission fails.
func (d *Disburse) ProcessQueuedDisbursement(ctx context.Context, item model.QueueItem) error {
	ctx, span := tracer.Start(ctx, "Processing queued disbursement")
	defer span.End()

	disbursement, err := d.datasource.GetDisbursement(ctx, item.DisbursementID)
	if err != nil {
		return err
	}
	if disbursement.Status != model.StatusQueued {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("disbursement %s is %s, not queued", disbursement.DisbursementID, disbursement.Status), nil)
	}
	partner, err := d.datasource.GetPartner(ctx, disbursement.PartnerID)
	if err != nil {
		return err
	}

	// A block created while the item waited applies to the retry as well.
	check, err := d.checkActiveBlocks(ctx, GuardInput{
		PartnerID:       disbursement.PartnerID,
		CustomerID:      disbursement.CustomerID,
		MSISDN:          disbursement.MSISDN,
		Amount:          disbursement.Amount,
		ClientIP:        disbursement.ClientIP,
		ClientRequestID: disbursement.ClientRequestID,
		Channel:         disbursement.Channel,
	}, d.now())
	if err != nil {
		return err
	}
	if !check.Allowed {
		logrus.WithFields(logrus.Fields{
			"disbursement_id": disbursement.DisbursementID,
			"reason":          check.Reason,
		}).Warn("queued disbursement blocked before submission")
		d.rejectQueued(ctx, partner, disbursement)
		return check.Err()
	}

	creds, _, err := d.resolveCredentials(partner)
	if err != nil {
		d.rejectQueued(ctx, partner, disbursement)
		return err
	}

	resp, err := d.submit(ctx, creds, disbursement, defaultRemarks)
	if err != nil {
		d.rejectQueued(ctx, partner, disbursement)
		return err
	}

	disbursement.ConversationID = resp.ConversationID
	disbursement.OriginatorConversationID = resp.OriginatorConversationID
	if disbursement.OriginatorConversationID == "" {
		disbursement.OriginatorConversationID = disbursement.DisbursementID
	}

	accepted, err := d.datasource.AcceptQueuedDisbursement(ctx, disbursement.DisbursementID, disbursement.ConversationID, disbursement.OriginatorConversationID)
	if err != nil || !accepted {
		if err == nil {
			err = errors.New("queued disbursement changed state during submission")
		}
		incident := &PersistenceIncident{
			DisbursementID:           disbursement.DisbursementID,
			PartnerID:                disbursement.PartnerID,
			ClientRequestID:          disbursement.ClientRequestID,
			ConversationID:           disbursement.ConversationID,
			OriginatorConversationID: disbursement.OriginatorConversationID,
			Err:                      err,
		}
		d.reportIncident(ctx, "Queued disbursement accepted but not recorded", incident)
		return apierror.NewAPIError(apierror.ErrPersistence, "queued disbursement accepted by provider but could not be recorded", incident)
	}

	disbursement.Status = model.StatusAccepted
	disbursement.UpdatedAt = d.now()
	disbursementsTotal.WithLabelValues(string(model.StatusAccepted)).Inc()
	d.notifyPartner(ctx, partner, disbursement)
	return nil
}

func (d *Disburse) rejectQueued(ctx context.Context, partner *model.Partner, disbursement *model.Disbursement) {
	ok, err := d.datasource.TransitionDisbursement(ctx, disbursement.DisbursementID, model.StatusQueued, model.StatusRejected)
	if err != nil || !ok {
		logrus.WithField("disbursement_id", disbursement.DisbursementID).Warn("queued disbursement could not be rejected")
		return
	}
	disbursement.Status = model.StatusRejected
	disbursementsTotal.WithLabelValues(string(model.StatusRejected)).Inc()
	d.notifyPartner(ctx, partner, disbursement)
}
