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
	"strings"
	"time"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var hundred = decimal.NewFromInt(100)

// GuardInput is the request context the duplicate and fraud guard decides on.
type GuardInput struct {
	PartnerID       string
	CustomerID      string
	MSISDN          string
	Amount          decimal.Decimal
	ClientIP        string
	ClientRequestID string
	Channel         string
}

// GuardResult is the guard decision. Existing is set for idempotent replays.
type GuardResult struct {
	Allowed  bool
	Reason   string
	Kind     model.DetectionType
	Existing *model.Disbursement
}

func allowed() *GuardResult {
	return &GuardResult{Allowed: true}
}

func blocked(kind model.DetectionType, reason string, existing *model.Disbursement) *GuardResult {
	return &GuardResult{Kind: kind, Reason: reason, Existing: existing}
}

// Err converts a blocked result into the error returned to the caller.
func (r *GuardResult) Err() error {
	if r == nil || r.Allowed {
		return nil
	}
	if r.Kind == model.DetectionDailyLimit {
		return apierror.NewAPIError(apierror.ErrDailyLimitExceeded, r.Reason, nil)
	}
	return duplicateError(r.Reason, r.Existing)
}

// CheckForDuplicates runs the guard layers in order and stops at the first block:
// idempotency, trusted-origin bypass, rule short-circuit, time windows, daily limits, active blocks.
// Read failures are returned as errors; audit write failures are only logged.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - in GuardInput: The request being checked.
//
// Returns:
// - *GuardResult: Allowed, or the block reason and kind.
// - error: An error if the guard could not read its inputs.
func (d *Disburse) CheckForDuplicates(ctx context.Context, in GuardInput) (*GuardResult, error) {
	ctx, span := tracer.Start(ctx, "Checking for duplicates")
	defer span.End()

	now := d.now()

	existing, err := d.datasource.GetDisbursementByClientRequestID(ctx, in.PartnerID, in.ClientRequestID)
	if err != nil && !apierror.HasCode(err, apierror.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		d.audit(ctx, in, detection{kind: model.DetectionIdempotency, action: model.ActionBlock, matched: existing,
			reason: "client_request_id already used"})
		return blocked(model.DetectionIdempotency,
			fmt.Sprintf("request %s was already processed as %s", in.ClientRequestID, existing.DisbursementID), existing), nil
	}

	if d.isTrustedOrigin(in.PartnerID, in.Channel) {
		d.audit(ctx, in, detection{kind: model.DetectionBypass, action: model.ActionAllow,
			reason: fmt.Sprintf("trusted origin %s:%s skips window and daily checks", in.PartnerID, in.Channel)})
		return d.checkActiveBlocks(ctx, in, now)
	}

	rules, err := d.datasource.GetEnabledRules(ctx, in.PartnerID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return d.checkActiveBlocks(ctx, in, now)
	}

	if result, err := d.checkWindows(ctx, in, rules, now); err != nil || result != nil {
		return result, err
	}

	if result, err := d.checkDailyLimits(ctx, in, rules, now); err != nil || result != nil {
		return result, err
	}

	return d.checkActiveBlocks(ctx, in, now)
}

func (d *Disburse) isTrustedOrigin(partnerID, channel string) bool {
	if channel == "" {
		return false
	}
	origin := partnerID + ":" + channel
	for _, trusted := range d.cnf.Guard.TrustedOrigins {
		if strings.TrimSpace(trusted) == origin {
			return true
		}
	}
	return false
}

// checkWindows evaluates exact-amount, similar-amount and ip-rate rules. A nil result means no block.
func (d *Disburse) checkWindows(ctx context.Context, in GuardInput, rules []model.DuplicatePreventionRule, now time.Time) (*GuardResult, error) {
	for _, rule := range rules {
		switch rule.RuleType {
		case model.RuleExactAmount:
			recent, err := d.customerWindow(ctx, in, rule, now)
			if err != nil {
				return nil, err
			}
			for i := range recent {
				prior := &recent[i]
				if !prior.Amount.Equal(in.Amount) {
					continue
				}
				reason := fmt.Sprintf("identical amount %s sent to customer %s within %d minutes", in.Amount, in.CustomerID, rule.TimeWindowMinutes)
				d.audit(ctx, in, detection{kind: model.DetectionExactAmount, rule: rule, action: model.ActionBlock, matched: prior, reason: reason})
				return blocked(model.DetectionExactAmount, reason, nil), nil
			}

		case model.RuleSimilarAmount:
			recent, err := d.customerWindow(ctx, in, rule, now)
			if err != nil {
				return nil, err
			}
			for i := range recent {
				prior := &recent[i]
				diff, pct, ok := amountDifference(in.Amount, prior.Amount)
				if !ok || pct.GreaterThan(rule.AmountTolerancePercent) {
					continue
				}
				action := rule.Action
				if action != model.ActionBlock {
					action = model.ActionLog
				}
				reason := fmt.Sprintf("amount %s is within %s%% of %s sent %s", in.Amount, rule.AmountTolerancePercent,
					prior.Amount, prior.CreatedAt.Format(time.RFC3339))
				d.audit(ctx, in, detection{kind: model.DetectionSimilarAmount, rule: rule, action: action, matched: prior,
					diff: &diff, pct: &pct, reason: reason})
				if action == model.ActionBlock {
					return blocked(model.DetectionSimilarAmount, reason, nil), nil
				}
			}

		case model.RuleIPRate:
			if in.ClientIP == "" {
				continue
			}
			since := now.Add(-rule.Window())
			recent, err := d.datasource.GetIPDisbursementsSince(ctx, in.PartnerID, in.ClientIP, since)
			if err != nil {
				return nil, err
			}
			recent = withinWindow(recent, since, now)
			if len(recent) == 0 {
				continue
			}
			reason := fmt.Sprintf("client ip %s already submitted a disbursement within %d minutes", in.ClientIP, rule.TimeWindowMinutes)
			d.audit(ctx, in, detection{kind: model.DetectionIPRate, rule: rule, action: model.ActionBlock, matched: &recent[0], reason: reason})
			return blocked(model.DetectionIPRate, reason, nil), nil
		}
	}
	return nil, nil
}

func (d *Disburse) customerWindow(ctx context.Context, in GuardInput, rule model.DuplicatePreventionRule, now time.Time) ([]model.Disbursement, error) {
	since := now.Add(-rule.Window())
	recent, err := d.datasource.GetCustomerDisbursementsSince(ctx, in.PartnerID, in.CustomerID, since)
	if err != nil {
		return nil, err
	}
	return withinWindow(recent, since, now), nil
}

// withinWindow keeps active disbursements created in [since, now].
func withinWindow(list []model.Disbursement, since, now time.Time) []model.Disbursement {
	kept := list[:0:0]
	for _, item := range list {
		if !item.Status.IsActive() || item.CreatedAt.Before(since) || item.CreatedAt.After(now) {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// amountDifference returns |amount-prior| and that difference as a percentage of prior.
func amountDifference(amount, prior decimal.Decimal) (decimal.Decimal, decimal.Decimal, bool) {
	if !prior.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	diff := amount.Sub(prior).Abs()
	return diff, diff.Div(prior).Mul(hundred), true
}

// checkDailyLimits blocks a request that would push the customer or client ip over a daily cap.
func (d *Disburse) checkDailyLimits(ctx context.Context, in GuardInput, rules []model.DuplicatePreventionRule, now time.Time) (*GuardResult, error) {
	since := d.startOfDay(now)
	for _, rule := range rules {
		if rule.RuleType != model.RuleDailyLimit {
			continue
		}

		usage, err := d.datasource.GetCustomerDailyUsage(ctx, in.PartnerID, in.CustomerID, since)
		if err != nil {
			return nil, err
		}
		if reason := exceeds("customer "+in.CustomerID, usage, in.Amount, rule.DailyCountLimit, rule.DailyAmountLimit); reason != "" {
			d.audit(ctx, in, detection{kind: model.DetectionDailyLimit, rule: rule, action: model.ActionBlock, reason: reason})
			return blocked(model.DetectionDailyLimit, reason, nil), nil
		}

		if in.ClientIP == "" || (rule.IPDailyCountLimit <= 0 && rule.IPDailyAmountLimit == nil) {
			continue
		}
		ipUsage, err := d.datasource.GetIPDailyUsage(ctx, in.PartnerID, in.ClientIP, since)
		if err != nil {
			return nil, err
		}
		if reason := exceeds("client ip "+in.ClientIP, ipUsage, in.Amount, rule.IPDailyCountLimit, rule.IPDailyAmountLimit); reason != "" {
			d.audit(ctx, in, detection{kind: model.DetectionDailyLimit, rule: rule, action: model.ActionBlock, reason: reason})
			return blocked(model.DetectionDailyLimit, reason, nil), nil
		}
	}
	return nil, nil
}

func exceeds(scope string, usage model.DailyUsage, amount decimal.Decimal, countLimit int, amountLimit *decimal.Decimal) string {
	if countLimit > 0 && usage.Count+1 > countLimit {
		return fmt.Sprintf("daily request limit of %d reached for %s", countLimit, scope)
	}
	if amountLimit != nil && usage.Amount.Add(amount).GreaterThan(*amountLimit) {
		return fmt.Sprintf("daily amount limit of %s would be exceeded for %s (used %s)", amountLimit, scope, usage.Amount)
	}
	return ""
}

func (d *Disburse) checkActiveBlocks(ctx context.Context, in GuardInput, now time.Time) (*GuardResult, error) {
	blocks, err := d.datasource.GetActiveBlocks(ctx, in.PartnerID, in.CustomerID, in.ClientIP, now)
	if err != nil {
		return nil, err
	}
	for _, block := range blocks {
		if !block.ActiveAt(now) {
			continue
		}
		reason := block.Reason
		if reason == "" {
			reason = fmt.Sprintf("%s %s is blocked", block.BlockType, block.Value)
		}
		d.audit(ctx, in, detection{kind: model.DetectionActiveBlock, action: model.ActionBlock, reason: reason})
		return blocked(model.DetectionActiveBlock, reason, nil), nil
	}
	return allowed(), nil
}

type detection struct {
	kind    model.DetectionType
	rule    model.DuplicatePreventionRule
	action  model.RuleAction
	matched *model.Disbursement
	diff    *decimal.Decimal
	pct     *decimal.Decimal
	reason  string
}

// audit writes a detection row. Failures are logged and never change the decision.
func (d *Disburse) audit(ctx context.Context, in GuardInput, det detection) {
	row := &model.DuplicateDetection{
		DetectionID:          model.GenerateUUIDWithSuffix("det"),
		PartnerID:            in.PartnerID,
		CustomerID:           in.CustomerID,
		ClientIP:             in.ClientIP,
		ClientRequestID:      in.ClientRequestID,
		DetectionType:        det.kind,
		RuleType:             det.rule.RuleType,
		TimeWindowMinutes:    det.rule.TimeWindowMinutes,
		Amount:               in.Amount,
		AmountDifference:     det.diff,
		PercentageDifference: det.pct,
		ActionTaken:          det.action,
		Reason:               det.reason,
		CreatedAt:            d.now(),
	}
	if det.matched != nil {
		matched := det.matched.Amount
		row.MatchedAmount = &matched
		row.MatchedDisbursementID = det.matched.DisbursementID
	}

	guardDetections.WithLabelValues(string(det.kind), string(det.action)).Inc()
	logrus.WithFields(logrus.Fields{
		"partner_id":        in.PartnerID,
		"customer_id":       in.CustomerID,
		"client_request_id": in.ClientRequestID,
		"detection":         det.kind,
		"action":            det.action,
	}).Info(det.reason)

	if err := d.datasource.RecordDetection(ctx, row); err != nil {
		logrus.WithError(err).Error("failed to record duplicate detection")
	}
}
