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
	"fmt"
	"time"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/internal/notification"
	"github.com/blnkfinance/disburse/internal/provider"
	"github.com/blnkfinance/disburse/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MonitorTrigger selects which partners a balance check covers. An empty PartnerID means all partners.
type MonitorTrigger struct {
	PartnerID  string `json:"partner_id,omitempty"`
	ForceCheck bool   `json:"force_check"`
}

// BalanceCheckResult reports what the monitor did for one partner.
type BalanceCheckResult struct {
	PartnerID      string           `json:"partner_id"`
	Checked        bool             `json:"checked"`
	Skipped        string           `json:"skipped,omitempty"`
	QueryID        string           `json:"query_id,omitempty"`
	Balance        *decimal.Decimal `json:"balance,omitempty"`
	Threshold      *decimal.Decimal `json:"threshold,omitempty"`
	BelowThreshold bool             `json:"below_threshold"`
	AlertRaised    bool             `json:"alert_raised"`
	Error          string           `json:"error,omitempty"`
}

// CheckBalances queries provider balances and raises low-balance alerts.
// Without ForceCheck, partners checked within their interval are skipped.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - trigger MonitorTrigger: The partner selection and force flag.
//
// Returns:
// - []BalanceCheckResult: One entry per partner considered.
// - error: An error if the partners could not be loaded.
func (d *Disburse) CheckBalances(ctx context.Context, trigger MonitorTrigger) ([]BalanceCheckResult, error) {
	ctx, span := tracer.Start(ctx, "Checking balances")
	defer span.End()

	var partners []model.Partner
	if trigger.PartnerID != "" {
		partner, err := d.datasource.GetPartner(ctx, trigger.PartnerID)
		if err != nil {
			return nil, err
		}
		partners = []model.Partner{*partner}
	} else {
		all, err := d.datasource.GetPartners(ctx)
		if err != nil {
			return nil, err
		}
		partners = all
	}

	results := make([]BalanceCheckResult, 0, len(partners))
	for i := range partners {
		results = append(results, d.checkPartnerBalance(ctx, &partners[i], trigger.ForceCheck))
	}
	return results, nil
}

func (d *Disburse) checkPartnerBalance(ctx context.Context, partner *model.Partner, force bool) BalanceCheckResult {
	now := d.now()
	res := BalanceCheckResult{PartnerID: partner.PartnerID, Threshold: partner.BalanceAlertThreshold}

	interval := partner.BalanceCheckInterval
	if interval <= 0 {
		interval = d.cnf.BalanceMonitor.DefaultIntervalMin
	}
	if !force && partner.LastBalanceCheckAt != nil && now.Sub(*partner.LastBalanceCheckAt) < time.Duration(interval)*time.Minute {
		res.Skipped = "checked within interval"
		return res
	}

	queryID, err := d.requestBalance(ctx, partner)
	if err != nil {
		logrus.WithError(err).WithField("partner_id", partner.PartnerID).Warn("balance query failed")
		res.Error = err.Error()
	} else {
		res.QueryID = queryID
	}
	res.Checked = true
	if err := d.datasource.UpdateLastBalanceCheck(ctx, partner.PartnerID, now); err != nil {
		logrus.WithError(err).WithField("partner_id", partner.PartnerID).Error("failed to record balance check time")
	}

	if err := d.evaluateThreshold(ctx, partner, &res, now); err != nil {
		logrus.WithError(err).WithField("partner_id", partner.PartnerID).Error("balance threshold evaluation failed")
		if res.Error == "" {
			res.Error = err.Error()
		}
	}
	return res
}

// requestBalance opens a pending sample and asks the provider to post the balance to the balance result URL.
func (d *Disburse) requestBalance(ctx context.Context, partner *model.Partner) (string, error) {
	creds, _, err := d.resolveCredentials(partner)
	if err != nil {
		return "", err
	}
	token, err := d.gateway.GetAccessToken(ctx, *creds)
	if err != nil {
		return "", providerError("authentication", err)
	}

	sample := &model.BalanceSample{
		SampleID:                 model.GenerateUUIDWithSuffix("bal"),
		PartnerID:                partner.PartnerID,
		Status:                   model.SamplePending,
		Source:                   model.SourceQuery,
		OriginatorConversationID: model.GenerateUUIDWithSuffix("bq"),
		CreatedAt:                d.now(),
	}
	if err := d.datasource.RecordBalanceSample(ctx, sample); err != nil {
		return "", err
	}

	timer := prometheus.NewTimer(providerLatency.WithLabelValues("balance"))
	resp, err := d.gateway.QueryBalance(ctx, token, provider.BalanceQuery{
		OriginatorConversationID: sample.OriginatorConversationID,
		InitiatorName:            creds.InitiatorName,
		SecurityCredential:       creds.SecurityCredential,
		ShortCode:                creds.ShortCode,
		Remarks:                  "Balance check",
	})
	timer.ObserveDuration()
	if err != nil {
		sample.Status = model.SampleFailed
		if _, cerr := d.datasource.CompleteBalanceSample(ctx, sample); cerr != nil {
			logrus.WithError(cerr).WithField("sample_id", sample.SampleID).Error("failed to close balance sample")
		}
		return "", providerError("balance query", err)
	}
	logger := logrus.WithFields(logrus.Fields{
		"partner_id":      partner.PartnerID,
		"sample_id":       sample.SampleID,
		"conversation_id": resp.ConversationID,
	})
	if resp.ConversationID != "" {
		if err := d.datasource.AttachBalanceSampleConversation(ctx, sample.SampleID, resp.ConversationID); err != nil {
			logger.WithError(err).Warn("balance sample will only match on originator conversation id")
		}
	}
	if resp.OriginatorConversationID != "" && resp.OriginatorConversationID != sample.OriginatorConversationID {
		logger.WithField("provider_originator_conversation_id", resp.OriginatorConversationID).
			Info("provider issued its own originator conversation id")
	}
	logger.Info("balance query accepted")
	return sample.OriginatorConversationID, nil
}

// evaluateThreshold compares the latest completed sample with the partner threshold and alerts at most once per cool-down.
func (d *Disburse) evaluateThreshold(ctx context.Context, partner *model.Partner, res *BalanceCheckResult, now time.Time) error {
	if partner.BalanceAlertThreshold == nil {
		return nil
	}
	sample, err := d.datasource.GetLatestCompletedSample(ctx, partner.PartnerID)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return nil
		}
		return err
	}
	balance, ok := sample.AvailableFunds()
	if !ok {
		return nil
	}
	res.Balance = &balance
	threshold := *partner.BalanceAlertThreshold
	if balance.GreaterThanOrEqual(threshold) {
		return nil
	}
	res.BelowThreshold = true

	cooldown := time.Duration(d.cnf.BalanceMonitor.AlertCooldownMinutes) * time.Minute
	last, err := d.datasource.GetLatestBalanceAlert(ctx, partner.PartnerID)
	if err != nil && !apierror.HasCode(err, apierror.ErrNotFound) {
		return err
	}
	if last != nil && now.Sub(last.CreatedAt) < cooldown {
		return nil
	}

	alert := &model.BalanceAlert{
		AlertID:   model.GenerateUUIDWithSuffix("alert"),
		PartnerID: partner.PartnerID,
		Threshold: threshold,
		Balance:   balance,
		CreatedAt: now,
	}
	if err := d.datasource.RecordBalanceAlert(ctx, alert); err != nil {
		return err
	}
	balanceAlerts.Inc()
	res.AlertRaised = true

	logrus.WithFields(logrus.Fields{
		"partner_id": partner.PartnerID,
		"balance":    balance.String(),
		"threshold":  threshold.String(),
	}).Warn("partner balance below threshold")

	if d.notifier != nil {
		msg := notification.Message{
			Title:    fmt.Sprintf("Low balance for %s", partner.Name),
			Severity: notification.SeverityWarning,
			Fields: []notification.Field{
				{Name: "Partner", Value: partner.PartnerID},
				{Name: "Balance", Value: balance.String()},
				{Name: "Threshold", Value: threshold.String()},
			},
			Time: now,
		}
		if err := d.notifier.Notify(ctx, msg); err != nil {
			logrus.WithError(err).Error("failed to deliver low balance alert")
		}
	}
	return nil
}
