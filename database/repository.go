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

package database

import (
	"context"
	"time"

	"github.com/blnkfinance/disburse/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	disbursement
	partner
	guard
	fundsQueue
	balance
	callback
}

// disbursement defines methods for disbursement records. Status changes are compare-and-set on the current status.
type disbursement interface {
	CreateDisbursement(ctx context.Context, d *model.Disbursement) error                                                           // Inserts a disbursement; a unique violation is a CONFLICT
	GetDisbursement(ctx context.Context, id string) (*model.Disbursement, error)                                                   // Retrieves a disbursement by ID
	GetDisbursementByClientRequestID(ctx context.Context, partnerID, clientRequestID string) (*model.Disbursement, error)          // Retrieves the non-rejected record for an idempotency key
	GetDisbursementByConversationID(ctx context.Context, conversationID string) (*model.Disbursement, error)                       // Retrieves a disbursement by provider conversation ID
	GetCustomerDisbursementsSince(ctx context.Context, partnerID, customerID string, since time.Time) ([]model.Disbursement, error) // Active disbursements for a customer inside a window
	GetIPDisbursementsSince(ctx context.Context, partnerID, clientIP string, since time.Time) ([]model.Disbursement, error)         // Active disbursements from a client IP inside a window
	GetCustomerDailyUsage(ctx context.Context, partnerID, customerID string, since time.Time) (model.DailyUsage, error)            // Count and total of active disbursements for a customer
	GetIPDailyUsage(ctx context.Context, partnerID, clientIP string, since time.Time) (model.DailyUsage, error)                    // Count and total of active disbursements for a client IP
	TransitionDisbursement(ctx context.Context, id string, from, to model.DisbursementStatus) (bool, error)                         // CAS status change
	AcceptQueuedDisbursement(ctx context.Context, id, conversationID, originatorConversationID string) (bool, error)               // CAS queued -> accepted recording provider identifiers
	FinalizeDisbursement(ctx context.Context, id string, from model.DisbursementStatus, result model.DisbursementResult) (bool, error)
}

// partner defines methods for partner configuration.
type partner interface {
	GetPartner(ctx context.Context, id string) (*model.Partner, error)
	GetPartnerByAPIKeyHash(ctx context.Context, hash string) (*model.Partner, error)
	GetPartners(ctx context.Context) ([]model.Partner, error)
	UpdatePartnerCredentials(ctx context.Context, partnerID, ciphertext string) error
	UpdateLastBalanceCheck(ctx context.Context, partnerID string, at time.Time) error
}

// guard defines methods used by the duplicate and fraud guard.
type guard interface {
	GetEnabledRules(ctx context.Context, partnerID string) ([]model.DuplicatePreventionRule, error)
	GetActiveBlocks(ctx context.Context, partnerID, customerID, clientIP string, at time.Time) ([]model.Block, error)
	CreateBlock(ctx context.Context, block *model.Block) error
	RecordDetection(ctx context.Context, detection *model.DuplicateDetection) error
}

// fundsQueue defines methods for the insufficient-funds retry queue.
type fundsQueue interface {
	EnqueueItem(ctx context.Context, item *model.QueueItem) error
	GetDueQueueItems(ctx context.Context, at time.Time, limit int) ([]model.QueueItem, error)       // Queued, due, retry_count < max_retries; priority desc then age
	GetExhaustedQueueItems(ctx context.Context, at time.Time, limit int) ([]model.QueueItem, error) // Queued, due, retry_count >= max_retries
	TransitionQueueItem(ctx context.Context, id string, from, to model.QueueItemStatus, lastError string) (bool, error)
	RescheduleQueueItem(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) (bool, error)
}

// balance defines methods for balance samples and alerts.
type balance interface {
	RecordBalanceSample(ctx context.Context, sample *model.BalanceSample) error
	GetLatestCompletedSample(ctx context.Context, partnerID string) (*model.BalanceSample, error)
	AttachBalanceSampleConversation(ctx context.Context, sampleID, conversationID string) error
	CompleteBalanceSample(ctx context.Context, sample *model.BalanceSample) (bool, error) // Moves the pending sample matching the originator or provider conversation ID to its final state
	RecordBalanceAlert(ctx context.Context, alert *model.BalanceAlert) error
	GetLatestBalanceAlert(ctx context.Context, partnerID string) (*model.BalanceAlert, error)
}

// callback defines the append-only provider callback log.
type callback interface {
	RecordCallback(ctx context.Context, entry *model.CallbackLog) error
}
