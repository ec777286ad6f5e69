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
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLatestCompletedSample(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	now := time.Now()
	rows := sqlmock.NewRows([]string{"sample_id", "partner_id", "working_balance", "utility_balance", "charges_balance",
		"currency", "status", "source", "originator_conversation_id", "conversation_id", "source_timestamp", "created_at"}).
		AddRow("smp_1", "partner_1", "100", "25000.50", nil, "KES", "completed", "query", "orig_1", "AG_1", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE partner_id = $1 AND status = 'completed'")).
		WithArgs("partner_1").
		WillReturnRows(rows)

	sample, err := ds.GetLatestCompletedSample(context.Background(), "partner_1")
	require.NoError(t, err)
	funds, ok := sample.AvailableFunds()
	assert.True(t, ok)
	assert.True(t, decimal.RequireFromString("25000.50").Equal(funds))
	assert.Nil(t, sample.ChargesBalance)
	assert.Equal(t, model.SourceQuery, sample.Source)
}

func TestGetLatestCompletedSample_None(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	mock.ExpectQuery(regexp.QuoteMeta("FROM disburse.balance_samples")).
		WithArgs("partner_1").
		WillReturnRows(sqlmock.NewRows([]string{"sample_id"}))

	_, err = ds.GetLatestCompletedSample(context.Background(), "partner_1")
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}

func TestCompleteBalanceSample_OnlyPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	utility := decimal.NewFromInt(500)
	sample := &model.BalanceSample{OriginatorConversationID: "orig_1", UtilityBalance: &utility, Status: model.SampleCompleted}
	mock.ExpectExec(regexp.QuoteMeta("AND (originator_conversation_id = $1 OR ($9 <> '' AND conversation_id = $9))")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := ds.CompleteBalanceSample(context.Background(), sample)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompleteBalanceSample_MatchesProviderConversationID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	utility := decimal.NewFromInt(500)
	sample := &model.BalanceSample{OriginatorConversationID: "provider-orig-9", ConversationID: "AG_bal",
		UtilityBalance: &utility, Status: model.SampleCompleted}
	mock.ExpectExec(regexp.QuoteMeta("UPDATE disburse.balance_samples")).
		WithArgs("provider-orig-9", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "", model.SampleCompleted,
			sqlmock.AnyArg(), sqlmock.AnyArg(), "AG_bal").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := ds.CompleteBalanceSample(context.Background(), sample)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachBalanceSampleConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	mock.ExpectExec(regexp.QuoteMeta("SET conversation_id = $2")).
		WithArgs("bal_1", "AG_bal").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ds.AttachBalanceSampleConversation(context.Background(), "bal_1", "AG_bal"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatestBalanceAlert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM disburse.balance_alerts")).
		WithArgs("partner_1").
		WillReturnRows(sqlmock.NewRows([]string{"alert_id", "partner_id", "threshold", "balance", "created_at"}).
			AddRow("alr_1", "partner_1", "50000", "1200", now))

	alert, err := ds.GetLatestBalanceAlert(context.Background(), "partner_1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1200).Equal(alert.Balance))
	assert.Equal(t, now, alert.CreatedAt)
}

func TestRecordCallback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	payload := json.RawMessage(`{"Result":{"ResultCode":0}}`)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO disburse.callback_logs")).
		WithArgs("cb_1", model.CallbackB2CResult, "AG_1", nil, nil, false, "unmatched", string(payload), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.RecordCallback(context.Background(), &model.CallbackLog{
		CallbackID:     "cb_1",
		CallbackType:   model.CallbackB2CResult,
		ConversationID: "AG_1",
		Outcome:        "unmatched",
		Payload:        payload,
		CreatedAt:      time.Now(),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
