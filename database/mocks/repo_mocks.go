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
package mocks

import (
	"context"
	"time"

	"github.com/blnkfinance/disburse/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Disbursement methods

func (m *MockDataSource) CreateDisbursement(ctx context.Context, d *model.Disbursement) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDataSource) GetDisbursement(ctx context.Context, id string) (*model.Disbursement, error) {
	args := m.Called(ctx, id)
	d, _ := args.Get(0).(*model.Disbursement)
	return d, args.Error(1)
}

func (m *MockDataSource) GetDisbursementByClientRequestID(ctx context.Context, partnerID, clientRequestID string) (*model.Disbursement, error) {
	args := m.Called(ctx, partnerID, clientRequestID)
	d, _ := args.Get(0).(*model.Disbursement)
	return d, args.Error(1)
}

func (m *MockDataSource) GetDisbursementByConversationID(ctx context.Context, conversationID string) (*model.Disbursement, error) {
	args := m.Called(ctx, conversationID)
	d, _ := args.Get(0).(*model.Disbursement)
	return d, args.Error(1)
}

func (m *MockDataSource) GetCustomerDisbursementsSince(ctx context.Context, partnerID, customerID string, since time.Time) ([]model.Disbursement, error) {
	args := m.Called(ctx, partnerID, customerID, since)
	d, _ := args.Get(0).([]model.Disbursement)
	return d, args.Error(1)
}

func (m *MockDataSource) GetIPDisbursementsSince(ctx context.Context, partnerID, clientIP string, since time.Time) ([]model.Disbursement, error) {
	args := m.Called(ctx, partnerID, clientIP, since)
	d, _ := args.Get(0).([]model.Disbursement)
	return d, args.Error(1)
}

func (m *MockDataSource) GetCustomerDailyUsage(ctx context.Context, partnerID, customerID string, since time.Time) (model.DailyUsage, error) {
	args := m.Called(ctx, partnerID, customerID, since)
	return args.Get(0).(model.DailyUsage), args.Error(1)
}

func (m *MockDataSource) GetIPDailyUsage(ctx context.Context, partnerID, clientIP string, since time.Time) (model.DailyUsage, error) {
	args := m.Called(ctx, partnerID, clientIP, since)
	return args.Get(0).(model.DailyUsage), args.Error(1)
}

func (m *MockDataSource) TransitionDisbursement(ctx context.Context, id string, from, to model.DisbursementStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) AcceptQueuedDisbursement(ctx context.Context, id, conversationID, originatorConversationID string) (bool, error) {
	args := m.Called(ctx, id, conversationID, originatorConversationID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) FinalizeDisbursement(ctx context.Context, id string, from model.DisbursementStatus, result model.DisbursementResult) (bool, error) {
	args := m.Called(ctx, id, from, result)
	return args.Bool(0), args.Error(1)
}

// Partner methods

func (m *MockDataSource) GetPartner(ctx context.Context, id string) (*model.Partner, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*model.Partner)
	return p, args.Error(1)
}

func (m *MockDataSource) GetPartnerByAPIKeyHash(ctx context.Context, hash string) (*model.Partner, error) {
	args := m.Called(ctx, hash)
	p, _ := args.Get(0).(*model.Partner)
	return p, args.Error(1)
}

func (m *MockDataSource) GetPartners(ctx context.Context) ([]model.Partner, error) {
	args := m.Called(ctx)
	p, _ := args.Get(0).([]model.Partner)
	return p, args.Error(1)
}

func (m *MockDataSource) UpdatePartnerCredentials(ctx context.Context, partnerID, ciphertext string) error {
	args := m.Called(ctx, partnerID, ciphertext)
	return args.Error(0)
}

func (m *MockDataSource) UpdateLastBalanceCheck(ctx context.Context, partnerID string, at time.Time) error {
	args := m.Called(ctx, partnerID, at)
	return args.Error(0)
}

// Guard methods

func (m *MockDataSource) GetEnabledRules(ctx context.Context, partnerID string) ([]model.DuplicatePreventionRule, error) {
	args := m.Called(ctx, partnerID)
	r, _ := args.Get(0).([]model.DuplicatePreventionRule)
	return r, args.Error(1)
}

func (m *MockDataSource) GetActiveBlocks(ctx context.Context, partnerID, customerID, clientIP string, at time.Time) ([]model.Block, error) {
	args := m.Called(ctx, partnerID, customerID, clientIP, at)
	b, _ := args.Get(0).([]model.Block)
	return b, args.Error(1)
}

func (m *MockDataSource) CreateBlock(ctx context.Context, block *model.Block) error {
	args := m.Called(ctx, block)
	return args.Error(0)
}

func (m *MockDataSource) RecordDetection(ctx context.Context, detection *model.DuplicateDetection) error {
	args := m.Called(ctx, detection)
	return args.Error(0)
}

// Funds queue methods

func (m *MockDataSource) EnqueueItem(ctx context.Context, item *model.QueueItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockDataSource) GetDueQueueItems(ctx context.Context, at time.Time, limit int) ([]model.QueueItem, error) {
	args := m.Called(ctx, at, limit)
	items, _ := args.Get(0).([]model.QueueItem)
	return items, args.Error(1)
}

func (m *MockDataSource) GetExhaustedQueueItems(ctx context.Context, at time.Time, limit int) ([]model.QueueItem, error) {
	args := m.Called(ctx, at, limit)
	items, _ := args.Get(0).([]model.QueueItem)
	return items, args.Error(1)
}

func (m *MockDataSource) TransitionQueueItem(ctx context.Context, id string, from, to model.QueueItemStatus, lastError string) (bool, error) {
	args := m.Called(ctx, id, from, to, lastError)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) RescheduleQueueItem(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) (bool, error) {
	args := m.Called(ctx, id, retryCount, nextRetryAt, lastError)
	return args.Bool(0), args.Error(1)
}

// Balance methods

func (m *MockDataSource) RecordBalanceSample(ctx context.Context, sample *model.BalanceSample) error {
	args := m.Called(ctx, sample)
	return args.Error(0)
}

func (m *MockDataSource) GetLatestCompletedSample(ctx context.Context, partnerID string) (*model.BalanceSample, error) {
	args := m.Called(ctx, partnerID)
	s, _ := args.Get(0).(*model.BalanceSample)
	return s, args.Error(1)
}

func (m *MockDataSource) AttachBalanceSampleConversation(ctx context.Context, sampleID, conversationID string) error {
	args := m.Called(ctx, sampleID, conversationID)
	return args.Error(0)
}

func (m *MockDataSource) CompleteBalanceSample(ctx context.Context, sample *model.BalanceSample) (bool, error) {
	args := m.Called(ctx, sample)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) RecordBalanceAlert(ctx context.Context, alert *model.BalanceAlert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *MockDataSource) GetLatestBalanceAlert(ctx context.Context, partnerID string) (*model.BalanceAlert, error) {
	args := m.Called(ctx, partnerID)
	a, _ := args.Get(0).(*model.BalanceAlert)
	return a, args.Error(1)
}

// Callback methods

func (m *MockDataSource) RecordCallback(ctx context.Context, entry *model.CallbackLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}
