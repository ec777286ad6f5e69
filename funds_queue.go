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
	"github.com/blnkfinance/disburse/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	initialQueueDelay   = 5 * time.Minute
	maxQueueDelayMins   = 60
	queueBatchSize      = 50
	insufficientFundsRC = 1
	errInsufficientMsg  = "insufficient funds"
)

// FundsCheck is the outcome of comparing a disbursement amount to the latest completed balance sample.
type FundsCheck struct {
	Sufficient     bool
	Known          bool
	Shortfall      decimal.Decimal
	CurrentBalance decimal.Decimal
	ShouldQueue    bool
}

// QueueRunSummary counts what one ProcessDueItems pass did.
type QueueRunSummary struct {
	Processed   int
	Rescheduled int
	Exhausted   int
	Failed      int
}

// CheckInsufficientFunds compares amount with the partner's latest completed utility balance.
// A partner with no completed sample is treated as funded.
func (d *Disburse) CheckInsufficientFunds(ctx context.Context, partner *model.Partner, amount decimal.Decimal) (*FundsCheck, error) {
	sample, err := d.datasource.GetLatestCompletedSample(ctx, partner.PartnerID)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			logrus.WithField("partner_id", partner.PartnerID).Info("no balance sample yet, assuming sufficient funds")
			return &FundsCheck{Sufficient: true}, nil
		}
		return nil, err
	}

	balance, ok := sample.AvailableFunds()
	if !ok {
		logrus.WithField("partner_id", partner.PartnerID).Info("balance sample has no utility balance, assuming sufficient funds")
		return &FundsCheck{Sufficient: true}, nil
	}

	check := &FundsCheck{Known: true, CurrentBalance: balance, Sufficient: balance.GreaterThanOrEqual(amount)}
	if !check.Sufficient {
		check.Shortfall = amount.Sub(balance)
		check.ShouldQueue = partner.QueueOnInsufficientFunds
	}
	return check, nil
}

// Enqueue defers a queued disbursement for a first retry five minutes from now.
func (d *Disburse) Enqueue(ctx context.Context, disbursement *model.Disbursement, priority int) (*model.QueueItem, error) {
	now := d.now()
	item := &model.QueueItem{
		QueueItemID:    model.GenerateUUIDWithSuffix("qi"),
		DisbursementID: disbursement.DisbursementID,
		PartnerID:      disbursement.PartnerID,
		Priority:       priority,
		RetryCount:     0,
		MaxRetries:     d.cnf.Queue.MaxRetries,
		NextRetryAt:    now.Add(initialQueueDelay),
		Status:         model.QueueItemQueued,
		LastError:      errInsufficientMsg,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := d.datasource.EnqueueItem(ctx, item); err != nil {
		return nil, err
	}
	fundsQueueItems.WithLabelValues("enqueued").Inc()
	return item, nil
}

// retryDelay is the backoff applied after retryCount unsuccessful funds checks: min(60, 5*2^retryCount) minutes.
func retryDelay(retryCount int) time.Duration {
	minutes := maxQueueDelayMins
	if retryCount < 4 {
		minutes = 5 << retryCount
		if minutes > maxQueueDelayMins {
			minutes = maxQueueDelayMins
		}
	}
	return time.Duration(minutes) * time.Minute
}

// ProcessDueItems runs one pass over the insufficient-funds queue.
// Exhausted items are failed and surfaced first, then due items are re-checked for funds and either
// claimed and submitted or rescheduled with backoff. Every transition is compare-and-set, so concurrent
// workers never claim the same item twice.
func (d *Disburse) ProcessDueItems(ctx context.Context) (*QueueRunSummary, error) {
	ctx, span := tracer.Start(ctx, "Processing funds queue")
	defer span.End()

	summary := &QueueRunSummary{}
	now := d.now()

	exhausted, err := d.datasource.GetExhaustedQueueItems(ctx, now, queueBatchSize)
	if err != nil {
		return summary, err
	}
	for _, item := range exhausted {
		if d.failExhausted(ctx, item) {
			summary.Exhausted++
		}
	}

	due, err := d.datasource.GetDueQueueItems(ctx, now, queueBatchSize)
	if err != nil {
		return summary, err
	}
	for _, item := range due {
		switch d.processItem(ctx, item) {
		case itemProcessed:
			summary.Processed++
		case itemRescheduled:
			summary.Rescheduled++
		case itemFailed:
			summary.Failed++
		}
	}
	return summary, nil
}

type itemResult int

const (
	itemSkipped itemResult = iota
	itemProcessed
	itemRescheduled
	itemFailed
)

func (d *Disburse) processItem(ctx context.Context, item model.QueueItem) itemResult {
	logger := logrus.WithFields(logrus.Fields{"queue_item_id": item.QueueItemID, "disbursement_id": item.DisbursementID})

	partner, err := d.datasource.GetPartner(ctx, item.PartnerID)
	if err != nil {
		logger.WithError(err).Error("queue item skipped: partner lookup failed")
		return itemSkipped
	}
	disbursement, err := d.datasource.GetDisbursement(ctx, item.DisbursementID)
	if err != nil {
		logger.WithError(err).Error("queue item skipped: disbursement lookup failed")
		return itemSkipped
	}
	if disbursement.Status != model.StatusQueued {
		if ok, _ := d.datasource.TransitionQueueItem(ctx, item.QueueItemID, model.QueueItemQueued, model.QueueItemFailed,
			fmt.Sprintf("disbursement is %s", disbursement.Status)); ok {
			return itemFailed
		}
		return itemSkipped
	}

	funds, err := d.CheckInsufficientFunds(ctx, partner, disbursement.Amount)
	if err != nil {
		logger.WithError(err).Error("queue item skipped: funds check failed")
		return itemSkipped
	}
	if !funds.Sufficient {
		next := d.now().Add(retryDelay(item.RetryCount))
		ok, err := d.datasource.RescheduleQueueItem(ctx, item.QueueItemID, item.RetryCount, next,
			fmt.Sprintf("%s: shortfall %s", errInsufficientMsg, funds.Shortfall))
		if err != nil || !ok {
			return itemSkipped
		}
		fundsQueueItems.WithLabelValues("rescheduled").Inc()
		logger.WithFields(logrus.Fields{"retry_count": item.RetryCount + 1, "next_retry_at": next}).Info("queue item rescheduled")
		return itemRescheduled
	}

	claimed, err := d.datasource.TransitionQueueItem(ctx, item.QueueItemID, model.QueueItemQueued, model.QueueItemProcessing, "")
	if err != nil || !claimed {
		return itemSkipped
	}

	if err := d.ProcessQueuedDisbursement(ctx, item); err != nil {
		if _, terr := d.datasource.TransitionQueueItem(ctx, item.QueueItemID, model.QueueItemProcessing, model.QueueItemFailed, err.Error()); terr != nil {
			logger.WithError(terr).Error("failed to mark queue item failed")
		}
		fundsQueueItems.WithLabelValues("failed").Inc()
		return itemFailed
	}

	if _, err := d.datasource.TransitionQueueItem(ctx, item.QueueItemID, model.QueueItemProcessing, model.QueueItemCompleted, ""); err != nil {
		logger.WithError(err).Error("failed to mark queue item completed")
	}
	fundsQueueItems.WithLabelValues("completed").Inc()
	return itemProcessed
}

// failExhausted terminally fails an item that used up its retries and tells the partner.
func (d *Disburse) failExhausted(ctx context.Context, item model.QueueItem) bool {
	reason := fmt.Sprintf("%s after %d retries", errInsufficientMsg, item.RetryCount)
	ok, err := d.datasource.TransitionQueueItem(ctx, item.QueueItemID, model.QueueItemQueued, model.QueueItemFailed, reason)
	if err != nil || !ok {
		return false
	}
	fundsQueueItems.WithLabelValues("exhausted").Inc()

	now := d.now()
	result := model.DisbursementResult{
		Status:      model.StatusFailed,
		ResultCode:  insufficientFundsRC,
		ResultDesc:  reason,
		CompletedAt: now,
	}
	finalized, err := d.datasource.FinalizeDisbursement(ctx, item.DisbursementID, model.StatusQueued, result)
	if err != nil || !finalized {
		logrus.WithField("disbursement_id", item.DisbursementID).Warn("exhausted queue item: disbursement was not queued")
		return true
	}

	disbursement, err := d.datasource.GetDisbursement(ctx, item.DisbursementID)
	if err != nil {
		logrus.WithError(err).Error("exhausted queue item: could not reload disbursement for webhook")
		return true
	}
	disbursementsTotal.WithLabelValues(string(model.StatusFailed)).Inc()
	d.notifyPartner(ctx, nil, disbursement)
	return true
}
